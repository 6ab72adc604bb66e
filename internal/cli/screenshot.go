package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mgpai22/subsync/internal/stream"
)

var screenshotCmd = &cobra.Command{
	Use:   "screenshot [video_file] [pts]",
	Short: "Save the frame shown at a given time",
	Long: `Decode the frame displayed at a time and save it as PNG or JPEG.
The output format follows the file extension.

Leave --width and --height at zero to keep the display size, or set one of
them to scale while keeping the aspect ratio. With --subs the subtitles are
burned into the picture.

Examples:
  subsync screenshot episode.mkv 01:02.345
  subsync screenshot episode.mkv 62345 -o shot.jpg --width 640
  subsync screenshot episode.mkv 01:02.345 --subs episode.ass`,
	Args: cobra.ExactArgs(2),
	RunE: runScreenshot,
}

func init() {
	rootCmd.AddCommand(screenshotCmd)

	screenshotCmd.Flags().Int("width", 0, "Output width in pixels (0 = keep)")
	screenshotCmd.Flags().Int("height", 0, "Output height in pixels (0 = keep)")
	screenshotCmd.Flags().StringP("subs", "s", "", "Subtitle file to burn in")
}

func runScreenshot(cmd *cobra.Command, args []string) error {
	videoPath := args[0]
	pts, err := parsePTSArg("pts", args[1])
	if err != nil {
		return err
	}
	width, _ := cmd.Flags().GetInt("width")
	height, _ := cmd.Flags().GetInt("height")
	subsPath, _ := cmd.Flags().GetString("subs")
	outputPath, _ := cmd.Flags().GetString("output")

	if outputPath == "" {
		base := strings.TrimSuffix(filepath.Base(videoPath), filepath.Ext(videoPath))
		outputPath = fmt.Sprintf("%s_%d.png", base, pts)
	}

	session, err := openSession(nil)
	if err != nil {
		return err
	}
	defer session.Close()

	ctx := context.Background()
	opts := stream.ScreenshotOptions{Width: width, Height: height}
	if subsPath != "" {
		if err := session.LoadSubtitles(subsPath); err != nil {
			return err
		}
		opts.BurnIn = session.Overlay(ctx)
	}

	video, err := session.LoadVideo(videoPath)
	if err != nil {
		return fmt.Errorf("screenshot failed: %w", err)
	}
	if err := video.WaitReady(ctx); err != nil {
		return fmt.Errorf("screenshot failed: %w", err)
	}

	logger.Infow("Taking screenshot",
		"video", videoPath,
		"pts", pts,
		"output", outputPath,
		"subtitles", subsPath,
	)

	if err := video.Screenshot(pts, outputPath, opts); err != nil {
		return fmt.Errorf("screenshot failed: %w", err)
	}

	absOutput, _ := filepath.Abs(outputPath)
	fmt.Printf("Screenshot saved: %s\n", absOutput)
	return nil
}
