package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/mgpai22/subsync/internal/render"
)

var bandCmd = &cobra.Command{
	Use:   "band [video_file]",
	Short: "Decode the thumbnail band of a video",
	Long: `Decode one thin strip per frame of a video and store the result in the
cache, so the editor's timeline thumbnails show up immediately. Progress
already made by earlier runs is kept.

With -o the whole band is also saved as an image.

Examples:
  subsync band episode.mkv
  subsync band episode.mkv -o band.png --width 1920`,
	Args: cobra.ExactArgs(1),
	RunE: runBand,
}

func init() {
	rootCmd.AddCommand(bandCmd)

	bandCmd.Flags().IntP("width", "w", 1600, "Width of the saved band image")
	bandCmd.Flags().Bool("quiet", false, "Do not show a progress bar")
}

func runBand(cmd *cobra.Command, args []string) error {
	videoPath := args[0]
	width, _ := cmd.Flags().GetInt("width")
	quiet, _ := cmd.Flags().GetBool("quiet")
	outputPath, _ := cmd.Flags().GetString("output")

	if !cfg.Cache.Enabled && outputPath == "" {
		logger.Warnw("Cache is disabled; the decoded band will be discarded")
	}

	session, err := openSession(nil)
	if err != nil {
		return err
	}
	defer session.Close()

	ctx := context.Background()
	video, err := session.LoadVideo(videoPath)
	if err != nil {
		return fmt.Errorf("band decoding failed: %w", err)
	}
	if err := video.WaitReady(ctx); err != nil {
		return fmt.Errorf("band decoding failed: %w", err)
	}
	uid := video.UID()

	logger.Infow("Decoding video band",
		"video", videoPath,
		"frames", video.FrameCount(),
		"strip_height", session.Band.StripHeight(),
	)

	var (
		p    *mpb.Progress
		bar  *mpb.Bar
		mu   sync.Mutex
		last = time.Now()
	)
	if !quiet {
		done, total := session.Band.Progress(uid)
		p = mpb.New(mpb.WithWidth(64))
		bar = p.AddBar(int64(total),
			mpb.PrependDecorators(
				decor.Name("Decoding: "),
				decor.CountersNoUnit("%d / %d"),
			),
			mpb.AppendDecorators(
				decor.Percentage(),
				decor.EwmaETA(decor.ET_STYLE_GO, 60),
			),
		)
		bar.SetCurrent(int64(done))
		disconnect := session.Band.Updated.Connect(func(updated uuid.UUID) {
			if updated != uid {
				return
			}
			done, _ := session.Band.Progress(uid)
			mu.Lock()
			bar.EwmaSetCurrent(int64(done), time.Since(last))
			last = time.Now()
			mu.Unlock()
		})
		defer disconnect()
	}

	if err := session.WaitIdle(ctx); err != nil {
		return fmt.Errorf("band decoding failed: %w", err)
	}
	if err := session.Band.Flush(); err != nil {
		return fmt.Errorf("failed to store band: %w", err)
	}

	done, total := session.Band.Progress(uid)
	if bar != nil {
		mu.Lock()
		bar.SetCurrent(int64(done))
		bar.SetTotal(-1, true)
		mu.Unlock()
		p.Wait()
	}
	fmt.Printf("Band decoded: %d / %d frames\n", done, total)

	if outputPath == "" {
		return nil
	}
	img, err := session.Band.RenderImage(uid, video.MinPTS(), video.MaxPTS(), width)
	if err != nil {
		return fmt.Errorf("failed to render band: %w", err)
	}
	if err := render.SaveImage(outputPath, img); err != nil {
		return fmt.Errorf("failed to save band: %w", err)
	}
	absOutput, _ := filepath.Abs(outputPath)
	fmt.Printf("Band image saved: %s\n", absOutput)
	return nil
}
