// Package app assembles a working session: decode queues, stream
// registries, the subtitle list, the timeline, playback state and the
// background spectrogram and band caches.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/multierr"

	"github.com/mgpai22/subsync/internal/band"
	"github.com/mgpai22/subsync/internal/cache"
	"github.com/mgpai22/subsync/internal/config"
	"github.com/mgpai22/subsync/internal/ffmpeg"
	"github.com/mgpai22/subsync/internal/logging"
	"github.com/mgpai22/subsync/internal/media"
	"github.com/mgpai22/subsync/internal/metrics"
	"github.com/mgpai22/subsync/internal/playback"
	"github.com/mgpai22/subsync/internal/render"
	"github.com/mgpai22/subsync/internal/spectrogram"
	"github.com/mgpai22/subsync/internal/stream"
	"github.com/mgpai22/subsync/internal/subtitle"
	"github.com/mgpai22/subsync/internal/taskqueue"
	"github.com/mgpai22/subsync/internal/timeline"
)

// Options for Open. Backend and Renderer default to the ffmpeg
// implementations; tests pass fakes.
type Options struct {
	Config   *config.Config
	Logger   *logging.Logger
	Metrics  *metrics.Metrics
	Backend  media.Backend
	Renderer render.Renderer
}

type Session struct {
	cfg     *config.Config
	log     *logging.Logger
	metrics *metrics.Metrics
	store   *cache.Store
	cancel  context.CancelFunc

	audioOpen *taskqueue.Queue
	videoOpen *taskqueue.Queue
	spectro   *taskqueue.Queue
	bandQueue *taskqueue.Queue

	Audio       *stream.AudioRegistry
	Video       *stream.VideoRegistry
	Subtitles   *subtitle.EventList
	Timeline    *timeline.View
	Playback    *playback.Controller
	Spectrogram *spectrogram.Engine
	Band        *band.Cache
	Renderer    render.Renderer

	mu          sync.Mutex
	meta        subtitle.Meta
	styleFormat string
	styles      []string

	disconnect []func()
	closeOnce  sync.Once
	closeErr   error
}

func Open(opts Options) (*Session, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	log := logging.OrNop(opts.Logger)

	store := &cache.Store{}
	if cfg.Cache.Enabled {
		var err error
		store, err = cache.New(cfg.Cache.Dir)
		if err != nil {
			return nil, err
		}
	}

	backend, renderer := opts.Backend, opts.Renderer
	if backend == nil || renderer == nil {
		ffmpeg.Configure(ffmpeg.BinaryPaths{FFmpeg: cfg.FFmpeg.FFmpegPath, FFprobe: cfg.FFmpeg.FFprobePath})
		runner, err := ffmpeg.NewRunner(log)
		if err != nil {
			return nil, fmt.Errorf("failed to locate ffmpeg: %w", err)
		}
		workDir := filepath.Join(os.TempDir(), "subsync")
		if store.Enabled() {
			workDir = store.Dir()
		}
		if backend == nil {
			backend = media.NewFFmpegBackend(runner, store, filepath.Join(workDir, "pcm"), log)
		}
		if renderer == nil {
			renderer = render.NewFFmpegRenderer(runner, filepath.Join(workDir, "render"), log)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	newQueue := func(name string) *taskqueue.Queue {
		return taskqueue.New(ctx, taskqueue.Options{Name: name, Logger: log, Metrics: opts.Metrics})
	}

	s := &Session{
		cfg:       cfg,
		log:       log,
		metrics:   opts.Metrics,
		store:     store,
		cancel:    cancel,
		audioOpen: newQueue("audio-open"),
		videoOpen: newQueue("video-open"),
		spectro:   newQueue("spectrogram"),
		bandQueue: newQueue("band"),
		Subtitles: subtitle.NewEventList(),
		Renderer:  renderer,
	}

	s.Audio = stream.NewAudioRegistry(backend, stream.RegistryOptions{
		Options: stream.Options{Queue: s.audioOpen, Logger: log},
		Metrics: opts.Metrics,
	})
	s.Video = stream.NewVideoRegistry(backend, stream.RegistryOptions{
		Options: stream.Options{Queue: s.videoOpen, Logger: log},
		Metrics: opts.Metrics,
	})

	s.Timeline = timeline.New(cfg.Timeline.Follow,
		timeline.AudioExtent(s.Audio),
		timeline.VideoExtent(s.Video),
		timeline.SubtitleExtent(s.Subtitles),
	)
	s.disconnect = append(s.disconnect, timeline.Bind(s.Timeline, s.Audio, s.Video, s.Subtitles))

	s.Playback = playback.New(s.Audio, s.Video)

	s.Spectrogram = spectrogram.New(spectrogram.Options{
		Audio:        s.Audio,
		Video:        s.Video,
		Queue:        s.spectro,
		Logger:       log,
		Metrics:      opts.Metrics,
		ChunkSize:    cfg.Spectrogram.ChunkSize,
		MarginFactor: cfg.Spectrogram.MarginFactor,
	})
	s.disconnect = append(s.disconnect,
		s.Playback.VolumeChanged.Connect(s.Spectrogram.SetVolume),
	)
	s.Playback.SetVolume(cfg.Playback.Volume)
	s.Spectrogram.SetVolume(s.Playback.Volume())

	s.Band = band.New(band.Options{
		Video:       s.Video,
		Queue:       s.bandQueue,
		Store:       store,
		Logger:      log,
		Metrics:     opts.Metrics,
		StripHeight: cfg.Band.StripHeight,
		ChunkSize:   cfg.Band.ChunkSize,
	})

	return s, nil
}

func (s *Session) Config() *config.Config {
	return s.cfg
}

func (s *Session) Store() *cache.Store {
	return s.store
}

func (s *Session) LoadAudio(path string) (*stream.AudioStream, error) {
	a, _, err := s.Audio.Load(path, true)
	return a, err
}

func (s *Session) LoadVideo(path string) (*stream.VideoStream, error) {
	v, _, err := s.Video.Load(path, true)
	return v, err
}

// LoadMedia opens both the audio and the video track of path and waits
// until both have settled. A file without video still yields its audio.
func (s *Session) LoadMedia(ctx context.Context, path string) (*stream.AudioStream, *stream.VideoStream, error) {
	a, err := s.LoadAudio(path)
	if err != nil {
		return nil, nil, err
	}
	v, err := s.LoadVideo(path)
	if err != nil {
		return nil, nil, err
	}
	if err := s.WaitReady(ctx, a, v); err != nil {
		return a, v, err
	}
	return a, v, nil
}

// WaitReady blocks until every stream is ready, errored or unloaded, and
// returns their load errors combined.
func (s *Session) WaitReady(ctx context.Context, streams ...stream.Stream) error {
	var errs error
	for _, st := range streams {
		errs = multierr.Append(errs, st.WaitReady(ctx))
	}
	return errs
}

// WaitIdle blocks until the spectrogram and band queues have drained.
func (s *Session) WaitIdle(ctx context.Context) error {
	return multierr.Combine(s.spectro.WaitIdle(ctx), s.bandQueue.WaitIdle(ctx))
}

// LoadSubtitles replaces the event list with the contents of path.
func (s *Session) LoadSubtitles(path string) error {
	doc, err := subtitle.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open subtitles: %w", err)
	}
	s.mu.Lock()
	s.meta = doc.Meta
	s.styleFormat = doc.StyleFormat
	s.styles = doc.Styles
	s.mu.Unlock()

	s.Subtitles.Replace(doc.Events)
	s.log.Infow("subtitles loaded", "path", path, "events", len(doc.Events))
	return nil
}

// Document snapshots the subtitle list along with the script metadata of
// the last loaded file.
func (s *Session) Document() *subtitle.Document {
	s.mu.Lock()
	meta, format, styles := s.meta, s.styleFormat, s.styles
	s.mu.Unlock()
	return s.Subtitles.Document(meta, format, styles)
}

func (s *Session) SaveSubtitles(path string) error {
	return subtitle.WriteFile(path, s.Document())
}

// Overlay burns the current subtitles into screenshots.
func (s *Session) Overlay(ctx context.Context) stream.Overlay {
	if s.Renderer == nil {
		return nil
	}
	return render.SubtitleOverlay{Renderer: s.Renderer, Document: s.Document, Context: ctx}
}

// Close stops background work, flushes the band cache and unloads every
// stream. The session context is cancelled first so running tasks, and any
// ffmpeg they started, abort instead of being waited out.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		for _, fn := range s.disconnect {
			fn()
		}
		s.cancel()
		s.Spectrogram.Close()
		s.spectro.Stop()
		s.bandQueue.Stop()

		var errs error
		errs = multierr.Append(errs, s.Band.Close())
		errs = multierr.Append(errs, s.Audio.UnloadAll())
		errs = multierr.Append(errs, s.Video.UnloadAll())

		s.audioOpen.Stop()
		s.videoOpen.Stop()
		s.closeErr = errs
	})
	return s.closeErr
}
