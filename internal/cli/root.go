package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mgpai22/subsync/internal/app"
	"github.com/mgpai22/subsync/internal/config"
	"github.com/mgpai22/subsync/internal/logging"
	"github.com/mgpai22/subsync/internal/metrics"
	"github.com/mgpai22/subsync/internal/timebase"
)

var (
	verbose    bool
	configPath string
	logger     *logging.Logger
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "subsync",
	Short: "Audio/video sync toolkit for subtitle timing",
	Long: `Subsync loads audio and video tracks the way a subtitle editor does:
frame-accurate timecodes, keyframes, sample access, spectrograms and
thumbnail bands, all computed in the background and cached on disk.

Use it to inspect media, snap times to frames, cut WAV excerpts, render
spectrograms and screenshots, or serve the whole session over HTTP.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadEnv(); err != nil {
			return fmt.Errorf("failed to load .env: %w", err)
		}
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		if err := applyRootFlags(cmd); err != nil {
			return err
		}
		logger = logging.NewLoggerWithLevel(verbose, cfg.LogLevel)
		return nil
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().
		BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().
		StringVarP(&configPath, "config", "c", "", "Config file (default: ./subsync.yaml, ~/.config/subsync/config.yaml)")
	rootCmd.PersistentFlags().StringP("output", "o", "", "Output file path")
	rootCmd.PersistentFlags().String("ffmpeg", "", "Path to the ffmpeg binary")
	rootCmd.PersistentFlags().String("ffprobe", "", "Path to the ffprobe binary")
	rootCmd.PersistentFlags().String("cache-dir", "", "Cache directory for indexes, PCM and video bands")
	rootCmd.PersistentFlags().Bool("no-cache", false, "Do not read or write the disk cache")
}

// applyRootFlags lets explicit flags win over the config file.
func applyRootFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()
	if flags.Changed("ffmpeg") {
		cfg.FFmpeg.FFmpegPath, _ = flags.GetString("ffmpeg")
	}
	if flags.Changed("ffprobe") {
		cfg.FFmpeg.FFprobePath, _ = flags.GetString("ffprobe")
	}
	if flags.Changed("cache-dir") {
		cfg.Cache.Dir, _ = flags.GetString("cache-dir")
	}
	if noCache, _ := flags.GetBool("no-cache"); noCache {
		cfg.Cache.Enabled = false
	}
	return cfg.Validate()
}

func openSession(m *metrics.Metrics) (*app.Session, error) {
	s, err := app.Open(app.Options{Config: cfg, Logger: logger, Metrics: m})
	if err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}
	return s, nil
}

func parsePTSArg(name, text string) (int64, error) {
	pts, err := timebase.ParsePTS(text)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return pts, nil
}
