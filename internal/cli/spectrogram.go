package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mgpai22/subsync/internal/render"
	"github.com/mgpai22/subsync/internal/spectrogram"
)

var spectrogramCmd = &cobra.Command{
	Use:   "spectrogram [media_file] [start] [end]",
	Short: "Render the spectrogram of an audio range",
	Long: `Compute the spectrogram columns covering a range of audio and save
them as a grey PNG image. The image is as tall as the FFT has bins.

Examples:
  subsync spectrogram episode.mkv 01:00.000 01:10.000
  subsync spectrogram episode.mkv 60000 70000 --width 1600 --volume 150 -o spectrogram.png`,
	Args: cobra.ExactArgs(3),
	RunE: runSpectrogram,
}

func init() {
	rootCmd.AddCommand(spectrogramCmd)

	spectrogramCmd.Flags().IntP("width", "w", 1000, "Image width in columns")
	spectrogramCmd.Flags().Int("volume", 0, "Brightness in percent (default: playback volume from config)")
}

func runSpectrogram(cmd *cobra.Command, args []string) error {
	mediaPath := args[0]
	start, err := parsePTSArg("start", args[1])
	if err != nil {
		return err
	}
	end, err := parsePTSArg("end", args[2])
	if err != nil {
		return err
	}
	if end <= start {
		return fmt.Errorf("end (%d) must be after start (%d)", end, start)
	}
	width, _ := cmd.Flags().GetInt("width")
	if width <= 0 {
		return fmt.Errorf("invalid width %d: must be positive", width)
	}
	outputPath, _ := cmd.Flags().GetString("output")
	if outputPath == "" {
		base := strings.TrimSuffix(filepath.Base(mediaPath), filepath.Ext(mediaPath))
		outputPath = fmt.Sprintf("%s_spectrogram_%d-%d.png", base, start, end)
	}

	session, err := openSession(nil)
	if err != nil {
		return err
	}
	defer session.Close()

	if cmd.Flags().Changed("volume") {
		volume, _ := cmd.Flags().GetInt("volume")
		session.Playback.SetVolume(volume)
	}

	ctx := context.Background()
	audio, err := session.LoadAudio(mediaPath)
	if err != nil {
		return fmt.Errorf("spectrogram failed: %w", err)
	}
	if err := audio.WaitReady(ctx); err != nil {
		return fmt.Errorf("spectrogram failed: %w", err)
	}

	logger.Infow("Rendering spectrogram",
		"media", mediaPath,
		"start", start,
		"end", end,
		"width", width,
		"bins", spectrogram.Bins,
		"output", outputPath,
	)

	if err := session.Spectrogram.Fill(ctx, start, end, width); err != nil {
		return fmt.Errorf("spectrogram failed: %w", err)
	}
	img := session.Spectrogram.RenderImage(start, end, width)
	if err := render.SaveImage(outputPath, img); err != nil {
		return fmt.Errorf("failed to save spectrogram: %w", err)
	}

	absOutput, _ := filepath.Abs(outputPath)
	fmt.Printf("Spectrogram saved: %s (%d blocks cached)\n", absOutput, session.Spectrogram.Cached())
	return nil
}
