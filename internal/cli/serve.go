package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mgpai22/subsync/internal/metrics"
	"github.com/mgpai22/subsync/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve [media_file...]",
	Short: "Serve a sync session over HTTP",
	Long: `Start a session and expose it over HTTP: stream registries, the
timeline view and selection, frame alignment, spectrogram and band
images, playback state and Prometheus metrics.

Media files given on the command line are loaded before serving.

Examples:
  subsync serve
  subsync serve episode.mkv --subs episode.ass
  subsync serve episode.mkv --addr 0.0.0.0:9000`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("addr", "a", "", "Listen address (default from config)")
	serveCmd.Flags().StringP("subs", "s", "", "Subtitle file to load")
}

func runServe(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = cfg.Server.Addr
	}
	subsPath, _ := cmd.Flags().GetString("subs")

	m := metrics.New()
	session, err := openSession(m)
	if err != nil {
		return err
	}
	defer session.Close()

	if subsPath != "" {
		if err := session.LoadSubtitles(subsPath); err != nil {
			return err
		}
	}
	for _, path := range args {
		if _, err := session.LoadAudio(path); err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
		if _, err := session.LoadVideo(path); err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Infow("Starting server", "addr", addr, "media", len(args), "subtitles", subsPath)
	fmt.Printf("Listening on http://%s\n", addr)

	if err := server.Serve(ctx, addr, server.NewRouter(session, logger, m), logger); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}
