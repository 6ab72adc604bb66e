// Package media defines the decode backend contract used by streams and
// ships an ffmpeg/ffprobe implementation of it.
package media

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
)

// SampleFormat of decoded audio, always little-endian and interleaved
type SampleFormat int

const (
	SampleFormatUnknown SampleFormat = iota
	SampleFormatU8
	SampleFormatS16
	SampleFormatS32
	SampleFormatFloat
	SampleFormatDouble
)

func (f SampleFormat) String() string {
	switch f {
	case SampleFormatU8:
		return "u8"
	case SampleFormatS16:
		return "s16"
	case SampleFormatS32:
		return "s32"
	case SampleFormatFloat:
		return "flt"
	case SampleFormatDouble:
		return "dbl"
	default:
		return "unknown"
	}
}

func (f SampleFormat) BytesPerSample() int {
	switch f {
	case SampleFormatU8:
		return 1
	case SampleFormatS16:
		return 2
	case SampleFormatS32, SampleFormatFloat:
		return 4
	case SampleFormatDouble:
		return 8
	default:
		return 0
	}
}

func (f SampleFormat) IsFloat() bool {
	return f == SampleFormatFloat || f == SampleFormatDouble
}

// audio track metadata as reported by the backend
type AudioProperties struct {
	Channels      int
	BitsPerSample int
	SampleRate    int
	Format        SampleFormat
	SampleCount   int64
	// seconds
	FirstTime float64
	LastTime  float64
}

// video track metadata as reported by the backend
type VideoProperties struct {
	FPSNum        int64
	FPSDen        int64
	SARNum        int64
	SARDen        int64
	EncodedWidth  int
	EncodedHeight int
}

// pixel layout requested from a VideoSource
type OutputFormat struct {
	PixelFormat string
	Width       int
	Height      int
	Resizer     string
}

const (
	PixelFormatRGB24 = "rgb24"
	ResizerArea      = "area"
)

// Backend opens decode handles. Handles are not safe for concurrent use.
type Backend interface {
	OpenAudio(ctx context.Context, path string) (AudioSource, error)
	OpenVideo(ctx context.Context, path string) (VideoSource, error)
}

type AudioSource interface {
	Properties() AudioProperties
	// ReadSamples returns count interleaved frames starting at frame start.
	ReadSamples(start, count int64) ([]byte, error)
	Close() error
}

type VideoSource interface {
	Properties() VideoProperties
	// Timecodes in milliseconds, in decode order.
	Timecodes() []float64
	Keyframes() []int
	FrameCount() int
	SetOutputFormat(format OutputFormat) error
	// Frame returns packed pixels in the last configured output format.
	Frame(index int) ([]byte, error)
	Close() error
}

// Samples is a block of interleaved little-endian audio frames.
type Samples struct {
	Format   SampleFormat
	Channels int
	Data     []byte
}

// Silence allocates count zeroed frames. Unknown channel counts default to
// one so callers always get the shape they asked for.
func Silence(format SampleFormat, channels int, count int64) Samples {
	if channels < 1 {
		channels = 1
	}
	if format == SampleFormatUnknown {
		format = SampleFormatS16
	}
	if count < 0 {
		count = 0
	}
	return Samples{
		Format:   format,
		Channels: channels,
		Data:     make([]byte, int(count)*channels*format.BytesPerSample()),
	}
}

func (s Samples) frameSize() int {
	return s.Channels * s.Format.BytesPerSample()
}

// Frames is the number of complete frames held.
func (s Samples) Frames() int {
	fs := s.frameSize()
	if fs == 0 {
		return 0
	}
	return len(s.Data) / fs
}

// Value returns the raw sample value for frame i and channel ch, unscaled.
func (s Samples) Value(i, ch int) float64 {
	bps := s.Format.BytesPerSample()
	off := (i*s.Channels + ch) * bps
	b := s.Data[off : off+bps]
	switch s.Format {
	case SampleFormatU8:
		return float64(b[0])
	case SampleFormatS16:
		return float64(int16(binary.LittleEndian.Uint16(b)))
	case SampleFormatS32:
		return float64(int32(binary.LittleEndian.Uint32(b)))
	case SampleFormatFloat:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case SampleFormatDouble:
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	default:
		return 0
	}
}

// Mono averages all channels of every frame.
func (s Samples) Mono() []float64 {
	n := s.Frames()
	out := make([]float64, n)
	if s.Channels == 0 {
		return out
	}
	for i := 0; i < n; i++ {
		var sum float64
		for ch := 0; ch < s.Channels; ch++ {
			sum += s.Value(i, ch)
		}
		out[i] = sum / float64(s.Channels)
	}
	return out
}

// ToInt32PCM rescales floating point samples into signed 32-bit PCM.
// Integer formats are returned unchanged.
func (s Samples) ToInt32PCM() Samples {
	if !s.Format.IsFloat() {
		return s
	}
	n := s.Frames() * s.Channels
	out := make([]byte, n*4)
	for i := 0; i < n; i++ {
		v := s.Value(i/s.Channels, i%s.Channels) * (1 << 31)
		v = math.Max(math.MinInt32, math.Min(math.MaxInt32, v))
		binary.LittleEndian.PutUint32(out[i*4:], uint32(int32(v)))
	}
	return Samples{Format: SampleFormatS32, Channels: s.Channels, Data: out}
}

// FullScale is the divisor mapping raw values of f into [-1, 1].
func FullScale(f SampleFormat) (float64, error) {
	switch f {
	case SampleFormatS16:
		return 32768, nil
	case SampleFormatS32:
		return 4294967296, nil
	case SampleFormatFloat, SampleFormatDouble:
		return 1, nil
	default:
		return 0, fmt.Errorf("unsupported sample format: %s", f)
	}
}
