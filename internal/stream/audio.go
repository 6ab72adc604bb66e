package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"

	"github.com/mgpai22/subsync/internal/media"
	"github.com/mgpai22/subsync/internal/mediaerr"
	"github.com/mgpai22/subsync/internal/taskqueue"
	"github.com/mgpai22/subsync/internal/wav"
)

// audio decode handles are not reentrant; every sample read goes through here
var audioSamplerMu sync.Mutex

// AudioStream is an audio track opened in the background. Until it is
// ready every accessor returns zero values.
type AudioStream struct {
	base
	backend media.Backend

	mu      sync.RWMutex
	source  media.AudioSource
	props   media.AudioProperties
	minTime int64
	maxTime int64
	delay   int64
}

func NewAudioStream(backend media.Backend, path string, opts Options) *AudioStream {
	return &AudioStream{
		base:    newBase(KindAudio, path, opts),
		backend: backend,
	}
}

func (s *AudioStream) start() {
	s.log.Infow("audio started loading", "uid", s.uid, "path", s.path)
	taskqueue.Submit(s.queue, s.open, s.gotSource)
}

func (s *AudioStream) open(ctx context.Context) (media.AudioSource, error) {
	if _, err := os.Stat(s.path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, mediaerr.Newf(mediaerr.CodeSourceNotFound, "open audio", "file %s not found", s.path)
		}
		return nil, mediaerr.Wrap(mediaerr.CodeSourceNotFound, "open audio", err)
	}
	src, err := s.backend.OpenAudio(ctx, s.path)
	if err != nil {
		if mediaerr.CodeOf(err) != "" {
			return nil, err
		}
		return nil, mediaerr.Wrap(mediaerr.CodeDecode, "open audio", err)
	}
	return src, nil
}

func (s *AudioStream) gotSource(src media.AudioSource, err error) {
	if err == nil && src == nil {
		err = mediaerr.New(mediaerr.CodeDecode, "open audio", "backend returned no source")
	}
	if err != nil {
		s.fail(err)
		return
	}

	props := src.Properties()
	s.mu.Lock()
	if !s.settle(StateReady, nil) {
		// unloaded while opening
		s.mu.Unlock()
		_ = src.Close()
		return
	}
	s.source = src
	s.props = props
	s.minTime = int64(math.Round(props.FirstTime * 1000))
	s.maxTime = int64(math.Round(props.LastTime * 1000))
	s.mu.Unlock()

	s.log.Infow("audio finished loading", "uid", s.uid, "samples", props.SampleCount,
		"rate", props.SampleRate, "channels", props.Channels)
	s.signals.Loaded.Emit(struct{}{})
	s.announced()
}

func (s *AudioStream) close() error {
	s.markUnloaded()
	s.mu.Lock()
	src := s.source
	s.source = nil
	s.mu.Unlock()
	if src == nil {
		return nil
	}
	audioSamplerMu.Lock()
	defer audioSamplerMu.Unlock()
	return src.Close()
}

func (s *AudioStream) ChannelCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.props.Channels
}

func (s *AudioStream) BitsPerSample() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.props.BitsPerSample
}

func (s *AudioStream) SampleRate() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.props.SampleRate
}

func (s *AudioStream) SampleFormat() media.SampleFormat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.props.Format
}

func (s *AudioStream) SampleCount() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.props.SampleCount
}

// MinTime is the first sample's pts in ms, generally 0.
func (s *AudioStream) MinTime() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.minTime
}

func (s *AudioStream) MaxTime() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxTime
}

// Delay is the user-configured offset of this track, in ms.
func (s *AudioStream) Delay() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.delay
}

func (s *AudioStream) SetDelay(ms int64) {
	s.mu.Lock()
	s.delay = ms
	s.mu.Unlock()
	s.signals.Changed.Emit(struct{}{})
}

// GetSamples reads count frames starting at startFrame, ignoring delay.
// While the stream is still opening it waits. A stream with no source
// yields silence of the requested shape; reads are clamped at the end of
// the track and frames before 0 read as silence.
func (s *AudioStream) GetSamples(startFrame, count int64) (media.Samples, error) {
	if count < 0 {
		return media.Samples{}, mediaerr.Newf(mediaerr.CodeInvalidRange, "get samples", "count=%d", count)
	}

	audioSamplerMu.Lock()
	defer audioSamplerMu.Unlock()

	s.waitForSource()

	s.mu.RLock()
	src := s.source
	props := s.props
	s.mu.RUnlock()

	if src == nil {
		return media.Silence(props.Format, props.Channels, count), nil
	}

	if startFrame+count > props.SampleCount {
		count = max(0, props.SampleCount-startFrame)
	}
	out := media.Samples{Format: props.Format, Channels: props.Channels}
	if count == 0 {
		return out, nil
	}

	var lead int64
	if startFrame < 0 {
		lead = min(-startFrame, count)
		startFrame, count = 0, count-lead
	}
	frameSize := int64(props.Channels * props.Format.BytesPerSample())
	out.Data = make([]byte, lead*frameSize, (lead+count)*frameSize)
	if count > 0 {
		data, err := src.ReadSamples(startFrame, count)
		if err != nil {
			return media.Samples{}, fmt.Errorf("failed to read samples: %w", err)
		}
		out.Data = append(out.Data, data...)
	}
	return out, nil
}

// SaveWav writes the samples between two pts as a WAV file, honouring the
// stream delay. Float tracks are stored as 32-bit integer PCM.
func (s *AudioStream) SaveWav(w io.WriteSeeker, startPTS, endPTS int64) error {
	s.waitForSource()
	rate := s.SampleRate()
	if rate <= 0 {
		return mediaerr.Newf(mediaerr.CodeUnavailable, "save wav", "audio %s is not loaded", s.uid)
	}

	delay := s.Delay()
	startPTS -= delay
	endPTS -= delay
	startFrame := int64(float64(startPTS) * float64(rate) / 1000)
	endFrame := int64(float64(endPTS) * float64(rate) / 1000)
	count := endFrame - startFrame
	if count < 0 {
		return mediaerr.Newf(mediaerr.CodeInvalidRange, "save wav",
			"negative number of frames (%d)", count)
	}

	samples, err := s.GetSamples(startFrame, count)
	if err != nil {
		return err
	}
	return wav.Write(w, rate, samples.ToInt32PCM())
}

// SaveWavFile is SaveWav into a new file at path.
func (s *AudioStream) SaveWavFile(path string, startPTS, endPTS int64) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create wav file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(path)
		}
	}()
	return s.SaveWav(f, startPTS, endPTS)
}
