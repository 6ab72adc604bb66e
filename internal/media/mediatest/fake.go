// Package mediatest provides an in-memory media.Backend for tests.
package mediatest

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sync"
	"sync/atomic"

	"github.com/mgpai22/subsync/internal/media"
	"github.com/mgpai22/subsync/internal/mediaerr"
)

// Audio describes a synthetic track. Generate maps frame index and channel
// to a raw sample value; nil means silence.
type Audio struct {
	Props    media.AudioProperties
	Generate func(frame int64, ch int) float64
}

// Video describes a synthetic track. Pixel maps frame index and output
// coordinates to an RGB triple; nil means a flat grey derived from the
// frame index.
type Video struct {
	Props     media.VideoProperties
	Timecodes []float64
	Keyframes []int
	Pixel     func(frame, x, y int) [3]byte
}

// Backend serves registered tracks by path. Paths must exist on disk
// unless SkipStat is set, so missing-file handling can be exercised.
type Backend struct {
	mu       sync.Mutex
	audio    map[string]Audio
	video    map[string]Video
	errs     map[string]error
	gates    map[string]chan struct{}
	frames   []int
	SkipStat bool

	AudioOpens   atomic.Int32
	VideoOpens   atomic.Int32
	FramesServed atomic.Int32
	FormatSets   atomic.Int32
}

func NewBackend() *Backend {
	return &Backend{
		audio: map[string]Audio{},
		video: map[string]Video{},
		errs:  map[string]error{},
		gates: map[string]chan struct{}{},
	}
}

func (b *Backend) AddAudio(path string, a Audio) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.audio[path] = a
}

func (b *Backend) AddVideo(path string, v Video) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.video[path] = v
}

// Fail makes every open of path return err.
func (b *Backend) Fail(path string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errs[path] = err
}

// Hold blocks opens of path until the returned func is called.
func (b *Backend) Hold(path string) (release func()) {
	ch := make(chan struct{})
	b.mu.Lock()
	b.gates[path] = ch
	b.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// FrameLog lists every frame index decoded so far, in order.
func (b *Backend) FrameLog() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]int(nil), b.frames...)
}

func (b *Backend) prepare(ctx context.Context, path string) error {
	b.mu.Lock()
	gate := b.gates[path]
	err := b.errs[path]
	b.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if !b.SkipStat {
		if _, statErr := os.Stat(path); statErr != nil {
			return mediaerr.Wrap(mediaerr.CodeSourceNotFound, "open", statErr)
		}
	}
	return err
}

func (b *Backend) OpenAudio(ctx context.Context, path string) (media.AudioSource, error) {
	b.AudioOpens.Add(1)
	if err := b.prepare(ctx, path); err != nil {
		return nil, err
	}
	b.mu.Lock()
	a, ok := b.audio[path]
	b.mu.Unlock()
	if !ok {
		return nil, mediaerr.Newf(mediaerr.CodeDecode, "open audio", "no audio track in %s", path)
	}
	return &audioSource{track: a}, nil
}

func (b *Backend) OpenVideo(ctx context.Context, path string) (media.VideoSource, error) {
	b.VideoOpens.Add(1)
	if err := b.prepare(ctx, path); err != nil {
		return nil, err
	}
	b.mu.Lock()
	v, ok := b.video[path]
	b.mu.Unlock()
	if !ok {
		return nil, mediaerr.Newf(mediaerr.CodeDecode, "open video", "no video track in %s", path)
	}
	return &videoSource{backend: b, track: v}, nil
}

type audioSource struct {
	track Audio
}

func (s *audioSource) Properties() media.AudioProperties {
	return s.track.Props
}

func (s *audioSource) ReadSamples(start, count int64) ([]byte, error) {
	p := s.track.Props
	bps := p.Format.BytesPerSample()
	buf := make([]byte, count*int64(p.Channels*bps))
	if s.track.Generate == nil {
		return buf, nil
	}
	for i := int64(0); i < count; i++ {
		frame := start + i
		if frame >= p.SampleCount {
			break
		}
		for ch := 0; ch < p.Channels; ch++ {
			off := (i*int64(p.Channels) + int64(ch)) * int64(bps)
			put(buf[off:], p.Format, s.track.Generate(frame, ch))
		}
	}
	return buf, nil
}

func (s *audioSource) Close() error { return nil }

func put(b []byte, f media.SampleFormat, v float64) {
	switch f {
	case media.SampleFormatU8:
		b[0] = byte(v)
	case media.SampleFormatS16:
		binary.LittleEndian.PutUint16(b, uint16(int16(v)))
	case media.SampleFormatS32:
		binary.LittleEndian.PutUint32(b, uint32(int32(v)))
	case media.SampleFormatFloat:
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
	case media.SampleFormatDouble:
		binary.LittleEndian.PutUint64(b, math.Float64bits(v))
	}
}

type videoSource struct {
	backend *Backend
	track   Video
	format  media.OutputFormat
}

func (s *videoSource) Properties() media.VideoProperties { return s.track.Props }
func (s *videoSource) Timecodes() []float64 { return s.track.Timecodes }
func (s *videoSource) Keyframes() []int { return s.track.Keyframes }
func (s *videoSource) FrameCount() int { return len(s.track.Timecodes) }
func (s *videoSource) Close() error { return nil }

func (s *videoSource) SetOutputFormat(format media.OutputFormat) error {
	s.backend.FormatSets.Add(1)
	s.format = format
	return nil
}

func (s *videoSource) Frame(index int) ([]byte, error) {
	if index < 0 || index >= len(s.track.Timecodes) {
		return nil, fmt.Errorf("frame %d out of range", index)
	}
	s.backend.FramesServed.Add(1)
	s.backend.mu.Lock()
	s.backend.frames = append(s.backend.frames, index)
	s.backend.mu.Unlock()
	w, h := s.format.Width, s.format.Height
	out := make([]byte, w*h*3)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var px [3]byte
			if s.track.Pixel != nil {
				px = s.track.Pixel(index, x, y)
			} else {
				g := byte(10 + index%200)
				px = [3]byte{g, g, g}
			}
			copy(out[(y*w+x)*3:], px[:])
		}
	}
	return out, nil
}
