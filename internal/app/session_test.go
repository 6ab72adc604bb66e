package app

import (
	"context"
	"image"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mgpai22/subsync/internal/config"
	"github.com/mgpai22/subsync/internal/media"
	"github.com/mgpai22/subsync/internal/media/mediatest"
	"github.com/mgpai22/subsync/internal/stream"
	"github.com/mgpai22/subsync/internal/subtitle"
)

type nopRenderer struct{}

func (nopRenderer) Render(_ context.Context, _ *subtitle.Document, width, height int, _ int64, _ *big.Rat) (*image.NRGBA, error) {
	return image.NewNRGBA(image.Rect(0, 0, width, height)), nil
}

func testSession(t *testing.T) (*Session, string) {
	t.Helper()
	s, path, _ := testSessionWithBackend(t)
	return s, path
}

func testSessionWithBackend(t *testing.T) (*Session, string, *mediatest.Backend) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "episode.mkv")
	if err := os.WriteFile(path, []byte("media"), 0644); err != nil {
		t.Fatal(err)
	}

	backend := mediatest.NewBackend()
	backend.AddAudio(path, mediatest.Audio{Props: media.AudioProperties{
		Channels:      2,
		BitsPerSample: 16,
		SampleRate:    8000,
		Format:        media.SampleFormatS16,
		SampleCount:   8000 * 12,
		LastTime:      12,
	}})
	tc := make([]float64, 250)
	for i := range tc {
		tc[i] = float64(i * 40)
	}
	backend.AddVideo(path, mediatest.Video{
		Props:     media.VideoProperties{FPSNum: 25, FPSDen: 1, SARNum: 1, SARDen: 1, EncodedWidth: 64, EncodedHeight: 36},
		Timecodes: tc,
		Keyframes: []int{0, 125},
	})

	cfg := config.DefaultConfig()
	cfg.Cache.Dir = filepath.Join(dir, "cache")
	s, err := Open(Options{Config: cfg, Backend: backend, Renderer: nopRenderer{}})
	if err != nil {
		t.Fatalf("failed to open session: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, path, backend
}

func TestSessionLoadMedia(t *testing.T) {
	s, path := testSession(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a, v, err := s.LoadMedia(ctx, path)
	if err != nil {
		t.Fatalf("failed to load media: %v", err)
	}
	if a.SampleRate() != 8000 || v.FrameCount() != 250 {
		t.Errorf("unexpected metadata: rate %d, frames %d", a.SampleRate(), v.FrameCount())
	}

	if got := s.Playback.MaxPTS(); got != 12000 {
		t.Errorf("expected max pts 12000, got %d", got)
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.Timeline.Max() != 12000 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.Timeline.Max() != 12000 || s.Timeline.ViewEnd() != 12000 {
		t.Errorf("expected timeline refit to 12000, got %+v", s.Timeline.State())
	}
}

func TestSessionVolumeReachesSpectrogram(t *testing.T) {
	s, _ := testSession(t)

	s.Playback.SetVolume(40)
	if got := s.Spectrogram.Volume(); got != 40 {
		t.Errorf("expected spectrogram volume 40, got %d", got)
	}
}

func TestSessionSubtitles(t *testing.T) {
	s, _ := testSession(t)
	path := filepath.Join(t.TempDir(), "subs.srt")
	data := "1\n00:00:01,000 --> 00:00:02,500\nhello\n\n2\n00:00:20,000 --> 00:00:21,000\nworld\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	if err := s.LoadSubtitles(path); err != nil {
		t.Fatalf("failed to load subtitles: %v", err)
	}
	if s.Subtitles.Len() != 2 {
		t.Fatalf("expected 2 events, got %d", s.Subtitles.Len())
	}
	if got := s.Timeline.Max(); got != 21000 {
		t.Errorf("expected timeline max 21000, got %d", got)
	}

	out := filepath.Join(t.TempDir(), "out.ass")
	if err := s.SaveSubtitles(out); err != nil {
		t.Fatalf("failed to save: %v", err)
	}
	doc, err := subtitle.Open(out)
	if err != nil {
		t.Fatalf("failed to reopen: %v", err)
	}
	if len(doc.Events) != 2 || doc.Events[1].Text != "world" {
		t.Errorf("unexpected events after save: %+v", doc.Events)
	}
}

func TestSessionScreenshotWithOverlay(t *testing.T) {
	s, path := testSession(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, v, err := s.LoadMedia(ctx, path)
	if err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(t.TempDir(), "shot.png")
	err = v.Screenshot(1000, out, stream.ScreenshotOptions{Width: 32, BurnIn: s.Overlay(ctx)})
	if err != nil {
		t.Fatalf("failed to take screenshot: %v", err)
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("expected screenshot on disk: %v", err)
	}
}

func TestSessionCloseTwice(t *testing.T) {
	s, _ := testSession(t)
	if err := s.Close(); err != nil {
		t.Fatalf("first close failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second close failed: %v", err)
	}
}

func TestSessionCloseAbortsPendingOpen(t *testing.T) {
	s, path, backend := testSessionWithBackend(t)
	// never released: the open only ends when its context is cancelled
	backend.Hold(path)

	a, err := s.LoadAudio(path)
	if err != nil {
		t.Fatalf("failed to load audio: %v", err)
	}
	for backend.AudioOpens.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	closed := make(chan error, 1)
	go func() { closed <- s.Close() }()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatalf("Close blocked on a running open")
	}
	if a.IsReady() {
		t.Errorf("expected the held stream not to become ready")
	}
}
