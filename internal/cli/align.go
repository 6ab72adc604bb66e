package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mgpai22/subsync/internal/timebase"
)

var alignCmd = &cobra.Command{
	Use:   "align [video_file] [pts]",
	Short: "Snap a time to the frame grid of a video",
	Long: `Align a time to the frames of a video. The time is either plain
milliseconds or a clock such as 0:01:02.345 or 01:02.345.

With --delta the time is moved by whole frames (or whole keyframes with
--keyframes) before printing.

Examples:
  subsync align episode.mkv 62345
  subsync align episode.mkv 01:02.345 --delta 3
  subsync align episode.mkv 01:02.345 --delta -1 --keyframes`,
	Args: cobra.ExactArgs(2),
	RunE: runAlign,
}

func init() {
	rootCmd.AddCommand(alignCmd)

	alignCmd.Flags().IntP("delta", "d", 0, "Move by this many frames")
	alignCmd.Flags().BoolP("keyframes", "k", false, "Count --delta in keyframes instead of frames")
}

func runAlign(cmd *cobra.Command, args []string) error {
	videoPath := args[0]
	pts, err := parsePTSArg("pts", args[1])
	if err != nil {
		return err
	}
	delta, _ := cmd.Flags().GetInt("delta")
	keyframes, _ := cmd.Flags().GetBool("keyframes")

	session, err := openSession(nil)
	if err != nil {
		return err
	}
	defer session.Close()

	video, err := session.LoadVideo(videoPath)
	if err != nil {
		return fmt.Errorf("alignment failed: %w", err)
	}
	if err := video.WaitReady(context.Background()); err != nil {
		return fmt.Errorf("alignment failed: %w", err)
	}

	logger.Infow("Aligning", "video", videoPath, "pts", pts, "delta", delta, "keyframes", keyframes)

	fmt.Printf("Input:    %s\n", timebase.FormatPTS(pts))
	fmt.Printf("Frame:    %d\n", video.FrameIndexFromPTS(pts))
	fmt.Printf("Previous: %s\n", timebase.FormatPTS(video.AlignToPrevFrame(pts)))
	fmt.Printf("Next:     %s\n", timebase.FormatPTS(video.AlignToNextFrame(pts)))
	fmt.Printf("Nearest:  %s\n", timebase.FormatPTS(video.AlignToNearFrame(pts)))

	if !cmd.Flags().Changed("delta") {
		return nil
	}
	var moved int64
	if keyframes {
		moved, err = timebase.ApplyKeyframeDelta(video.Timecodes(), video.Keyframes(), pts, delta)
	} else {
		moved, err = timebase.ApplyFrameDelta(video.Timecodes(), pts, delta)
	}
	if err != nil {
		return fmt.Errorf("alignment failed: %w", err)
	}
	fmt.Printf("Moved:    %s\n", timebase.FormatPTS(moved))
	return nil
}
