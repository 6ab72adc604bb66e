package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mgpai22/subsync/internal/wav"
)

var wavCmd = &cobra.Command{
	Use:   "wav [media_file] [start] [end]",
	Short: "Cut a range of audio into a WAV file",
	Long: `Save the audio between two times as a PCM WAV file. Integer tracks keep
their sample format; float tracks are stored as 32-bit integers. Ranges
reaching past either end of the track are padded with silence.

Examples:
  subsync wav episode.mkv 01:00.000 01:05.000
  subsync wav episode.mkv 60000 65000 -o line.wav`,
	Args: cobra.ExactArgs(3),
	RunE: runWav,
}

func init() {
	rootCmd.AddCommand(wavCmd)

	wavCmd.Flags().Int64("delay", 0, "Audio delay in milliseconds")
}

func runWav(cmd *cobra.Command, args []string) error {
	mediaPath := args[0]
	start, err := parsePTSArg("start", args[1])
	if err != nil {
		return err
	}
	end, err := parsePTSArg("end", args[2])
	if err != nil {
		return err
	}
	delay, _ := cmd.Flags().GetInt64("delay")
	outputPath, _ := cmd.Flags().GetString("output")

	if outputPath == "" {
		base := strings.TrimSuffix(filepath.Base(mediaPath), filepath.Ext(mediaPath))
		outputPath = fmt.Sprintf("%s_%d-%d.wav", base, start, end)
	}

	session, err := openSession(nil)
	if err != nil {
		return err
	}
	defer session.Close()

	audio, err := session.LoadAudio(mediaPath)
	if err != nil {
		return fmt.Errorf("wav export failed: %w", err)
	}
	if err := audio.WaitReady(context.Background()); err != nil {
		return fmt.Errorf("wav export failed: %w", err)
	}
	audio.SetDelay(delay)

	logger.Infow("Saving audio range",
		"media", mediaPath,
		"start", start,
		"end", end,
		"delay", delay,
		"output", outputPath,
	)

	if err := audio.SaveWavFile(outputPath, start, end); err != nil {
		return fmt.Errorf("wav export failed: %w", err)
	}

	f, err := os.Open(outputPath)
	if err != nil {
		return fmt.Errorf("failed to reopen wav file: %w", err)
	}
	defer f.Close()
	header, err := wav.ReadHeader(f)
	if err != nil {
		return fmt.Errorf("wrote an unreadable wav file: %w", err)
	}

	absOutput, _ := filepath.Abs(outputPath)
	frames := int64(0)
	if frameSize := header.Channels * header.Bits / 8; frameSize > 0 {
		frames = int64(header.DataSize) / int64(frameSize)
	}
	fmt.Printf("Audio saved: %s (%d Hz, %d ch, %d bit, %d frames)\n",
		absOutput, header.SampleRate, header.Channels, header.Bits, frames)
	return nil
}
