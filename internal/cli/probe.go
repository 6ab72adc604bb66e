package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mgpai22/subsync/internal/timebase"
)

var probeCmd = &cobra.Command{
	Use:   "probe [media_file]",
	Short: "Show audio and video properties of a media file",
	Long: `Open the audio and video tracks of a media file and print what the
editor would see: sample layout, duration, frame rate, frame count,
keyframes and dimensions. Indexes are cached so a second probe is fast.

Examples:
  subsync probe episode.mkv
  subsync probe episode.mkv --timecodes`,
	Args: cobra.ExactArgs(1),
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)

	probeCmd.Flags().Bool("timecodes", false, "Print every frame timecode")
	probeCmd.Flags().Bool("keyframes", false, "Print every keyframe index")
}

func runProbe(cmd *cobra.Command, args []string) error {
	mediaPath := args[0]
	printTimecodes, _ := cmd.Flags().GetBool("timecodes")
	printKeyframes, _ := cmd.Flags().GetBool("keyframes")

	session, err := openSession(nil)
	if err != nil {
		return err
	}
	defer session.Close()

	logger.Infow("Probing media", "path", mediaPath)

	ctx := context.Background()
	audio, err := session.LoadAudio(mediaPath)
	if err != nil {
		return fmt.Errorf("probe failed: %w", err)
	}
	video, err := session.LoadVideo(mediaPath)
	if err != nil {
		return fmt.Errorf("probe failed: %w", err)
	}

	audioErr := audio.WaitReady(ctx)
	videoErr := video.WaitReady(ctx)
	if audioErr != nil && videoErr != nil {
		return fmt.Errorf("probe failed: %w", audioErr)
	}

	fmt.Printf("File: %s\n", mediaPath)
	if audioErr != nil {
		fmt.Printf("Audio: unavailable (%v)\n", audioErr)
	} else {
		fmt.Printf("Audio:\n")
		fmt.Printf("  Sample rate:   %d Hz\n", audio.SampleRate())
		fmt.Printf("  Channels:      %d\n", audio.ChannelCount())
		fmt.Printf("  Sample format: %s (%d bits)\n", audio.SampleFormat(), audio.BitsPerSample())
		fmt.Printf("  Samples:       %d\n", audio.SampleCount())
		fmt.Printf("  Range:         %s - %s\n",
			timebase.FormatPTS(audio.MinTime()), timebase.FormatPTS(audio.MaxTime()))
	}

	if videoErr != nil {
		fmt.Printf("Video: unavailable (%v)\n", videoErr)
		return nil
	}
	fmt.Printf("Video:\n")
	fmt.Printf("  Dimensions:    %dx%d\n", video.Width(), video.Height())
	fmt.Printf("  Aspect ratio:  %s\n", video.AspectRatio().RatString())
	fmt.Printf("  Frame rate:    %s\n", video.FrameRate().FloatString(3))
	fmt.Printf("  Frames:        %d\n", video.FrameCount())
	fmt.Printf("  Keyframes:     %d\n", len(video.Keyframes()))
	fmt.Printf("  Range:         %s - %s\n",
		timebase.FormatPTS(video.MinPTS()), timebase.FormatPTS(video.MaxPTS()))

	if printTimecodes {
		fmt.Printf("Timecodes:\n")
		for i, tc := range video.Timecodes() {
			fmt.Printf("  %6d  %s\n", i, timebase.FormatPTS(tc))
		}
	}
	if printKeyframes {
		fmt.Printf("Keyframes:\n")
		timecodes := video.Timecodes()
		for _, kf := range video.Keyframes() {
			fmt.Printf("  %6d  %s\n", kf, timebase.FormatPTS(timecodes[kf]))
		}
	}
	return nil
}
