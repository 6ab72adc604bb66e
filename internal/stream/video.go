package stream

import (
	"context"
	"errors"
	"image"
	"math/big"
	"os"
	"sort"
	"sync"

	"github.com/mgpai22/subsync/internal/media"
	"github.com/mgpai22/subsync/internal/mediaerr"
	"github.com/mgpai22/subsync/internal/render"
	"github.com/mgpai22/subsync/internal/taskqueue"
	"github.com/mgpai22/subsync/internal/timebase"
)

var videoSamplerMu sync.Mutex

// Overlay draws something (usually subtitles) over a decoded frame.
type Overlay interface {
	Render(width, height int, pts int64, aspect *big.Rat) (*image.NRGBA, error)
}

// ScreenshotOptions control Screenshot. A zero Width or Height is derived
// from the other one, keeping the display aspect ratio.
type ScreenshotOptions struct {
	Width  int
	Height int
	// BurnIn, when set, is composited over the frame.
	BurnIn Overlay
}

// VideoStream is a video track opened in the background.
type VideoStream struct {
	base
	backend media.Backend

	mu        sync.RWMutex
	source    media.VideoSource
	timecodes []int64
	keyframes []int
	frameRate *big.Rat
	aspect    *big.Rat
	width     int
	height    int

	// guarded by videoSamplerMu
	lastFormat media.OutputFormat
}

func NewVideoStream(backend media.Backend, path string, opts Options) *VideoStream {
	return &VideoStream{
		base:    newBase(KindVideo, path, opts),
		backend: backend,
	}
}

func (s *VideoStream) start() {
	s.log.Infow("video started loading", "uid", s.uid, "path", s.path)
	taskqueue.Submit(s.queue, s.open, s.gotSource)
}

func (s *VideoStream) open(ctx context.Context) (media.VideoSource, error) {
	if _, err := os.Stat(s.path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, mediaerr.Newf(mediaerr.CodeSourceNotFound, "open video", "file %s not found", s.path)
		}
		return nil, mediaerr.Wrap(mediaerr.CodeSourceNotFound, "open video", err)
	}
	src, err := s.backend.OpenVideo(ctx, s.path)
	if err != nil {
		if mediaerr.CodeOf(err) != "" {
			return nil, err
		}
		return nil, mediaerr.Wrap(mediaerr.CodeDecode, "open video", err)
	}
	return src, nil
}

func (s *VideoStream) gotSource(src media.VideoSource, err error) {
	if err == nil && src == nil {
		err = mediaerr.New(mediaerr.CodeDecode, "open video", "backend returned no source")
	}
	if err != nil {
		s.fail(err)
		return
	}

	raw := src.Timecodes()
	timecodes := make([]int64, len(raw))
	for i, tc := range raw {
		timecodes[i] = timebase.RoundMS(tc)
	}
	sort.Slice(timecodes, func(i, j int) bool { return timecodes[i] < timecodes[j] })

	keyframes := append([]int(nil), src.Keyframes()...)
	sort.Ints(keyframes)

	props := src.Properties()
	aspect := timebase.Rational(props.SARNum, props.SARDen)
	if aspect == nil {
		aspect = big.NewRat(1, 1)
	}
	frameRate := timebase.Rational(props.FPSNum, props.FPSDen)
	if frameRate == nil {
		frameRate = new(big.Rat)
	}

	// encoded height / aspect, truncated
	height := new(big.Int).Mul(big.NewInt(int64(props.EncodedHeight)), aspect.Denom())
	height.Quo(height, aspect.Num())

	s.mu.Lock()
	if !s.settle(StateReady, nil) {
		s.mu.Unlock()
		_ = src.Close()
		return
	}
	s.source = src
	s.timecodes = timecodes
	s.keyframes = keyframes
	s.frameRate = frameRate
	s.aspect = aspect
	s.width = props.EncodedWidth
	s.height = int(height.Int64())
	s.mu.Unlock()

	s.log.Infow("video finished loading", "uid", s.uid, "frames", len(timecodes),
		"keyframes", len(keyframes), "width", props.EncodedWidth, "height", s.height)
	s.signals.Loaded.Emit(struct{}{})
	s.announced()
}

func (s *VideoStream) close() error {
	s.markUnloaded()
	s.mu.Lock()
	src := s.source
	s.source = nil
	s.mu.Unlock()
	if src == nil {
		return nil
	}
	videoSamplerMu.Lock()
	defer videoSamplerMu.Unlock()
	return src.Close()
}

// Timecodes are the frame pts in ms, sorted. The slice is shared and must
// not be modified.
func (s *VideoStream) Timecodes() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.timecodes
}

// Keyframes are sorted indices into Timecodes. Shared, do not modify.
func (s *VideoStream) Keyframes() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keyframes
}

func (s *VideoStream) FrameCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.timecodes)
}

// FrameRate is zero until the stream is ready.
func (s *VideoStream) FrameRate() *big.Rat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.frameRate == nil {
		return new(big.Rat)
	}
	return new(big.Rat).Set(s.frameRate)
}

// AspectRatio is the sample aspect ratio, 1:1 unless the container says
// otherwise.
func (s *VideoStream) AspectRatio() *big.Rat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.aspect == nil {
		return big.NewRat(1, 1)
	}
	return new(big.Rat).Set(s.aspect)
}

func (s *VideoStream) Width() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.width
}

// Height is the display height, corrected for anisotropic pixels.
func (s *VideoStream) Height() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.height
}

func (s *VideoStream) MinPTS() int64 {
	tc := s.Timecodes()
	if len(tc) == 0 {
		return 0
	}
	return tc[0]
}

func (s *VideoStream) MaxPTS() int64 {
	tc := s.Timecodes()
	if len(tc) == 0 {
		return 0
	}
	return tc[len(tc)-1]
}

func (s *VideoStream) AlignToPrevFrame(pts int64) int64 {
	return timebase.AlignToPrevFrame(s.Timecodes(), pts)
}

func (s *VideoStream) AlignToNextFrame(pts int64) int64 {
	return timebase.AlignToNextFrame(s.Timecodes(), pts)
}

func (s *VideoStream) AlignToNearFrame(pts int64) int64 {
	return timebase.AlignToNearFrame(s.Timecodes(), pts)
}

func (s *VideoStream) FrameIndexFromPTS(pts int64) int {
	return timebase.FrameIndexFromPTS(s.Timecodes(), pts)
}

// GetFrame decodes frame idx scaled to width x height as packed RGB24. The
// scaler is only reconfigured when the requested size changes.
func (s *VideoStream) GetFrame(idx, width, height int) ([]byte, error) {
	videoSamplerMu.Lock()
	defer videoSamplerMu.Unlock()

	s.mu.RLock()
	src := s.source
	n := len(s.timecodes)
	s.mu.RUnlock()

	if src == nil {
		return nil, mediaerr.Newf(mediaerr.CodeUnavailable, "get frame", "video %s is not ready", s.uid)
	}
	if idx < 0 || idx >= n {
		return nil, mediaerr.Newf(mediaerr.CodeInvalidRange, "get frame", "bad frame %d (have %d)", idx, n)
	}
	if width <= 0 || height <= 0 {
		return nil, mediaerr.Newf(mediaerr.CodeInvalidDimensions, "get frame", "%dx%d", width, height)
	}

	format := media.OutputFormat{
		PixelFormat: media.PixelFormatRGB24,
		Width:       width,
		Height:      height,
		Resizer:     media.ResizerArea,
	}
	if format != s.lastFormat {
		if err := src.SetOutputFormat(format); err != nil {
			return nil, mediaerr.Wrap(mediaerr.CodeDecode, "set output format", err)
		}
		s.lastFormat = format
	}

	data, err := src.Frame(idx)
	if err != nil {
		return nil, mediaerr.Wrap(mediaerr.CodeDecode, "get frame", err)
	}
	if len(data) != width*height*3 {
		return nil, mediaerr.Newf(mediaerr.CodeDecode, "get frame",
			"frame %d has %d bytes, expected %d", idx, len(data), width*height*3)
	}
	return data, nil
}

// screenshotSize resolves the grab size from optional width and height.
func (s *VideoStream) screenshotSize(width, height int) (int, int, error) {
	if width < 0 || height < 0 {
		return 0, 0, mediaerr.Newf(mediaerr.CodeInvalidDimensions, "screenshot",
			"cannot take a screenshot at negative resolution (%dx%d)", width, height)
	}
	fullW, fullH := s.Width(), s.Height()
	switch {
	case width > 0 && height > 0:
	case height > 0:
		if fullH > 0 {
			width = int(int64(fullW) * int64(height) / int64(fullH))
		}
	case width > 0:
		if fullW > 0 {
			height = int(int64(fullH) * int64(width) / int64(fullW))
		}
	default:
		width, height = fullW, fullH
	}
	if width <= 0 || height <= 0 {
		return 0, 0, mediaerr.Newf(mediaerr.CodeInvalidDimensions, "screenshot",
			"cannot take a screenshot at %dx%d", width, height)
	}
	return width, height, nil
}

// Snapshot decodes the frame shown at pts (aligned to the previous frame
// boundary) and optionally burns in the overlay.
func (s *VideoStream) Snapshot(pts int64, opts ScreenshotOptions) (*image.RGBA, error) {
	if !s.IsReady() {
		return nil, mediaerr.Newf(mediaerr.CodeUnavailable, "screenshot", "video %s is not ready", s.uid)
	}
	width, height, err := s.screenshotSize(opts.Width, opts.Height)
	if err != nil {
		return nil, err
	}

	pts = s.AlignToPrevFrame(pts)
	idx := s.FrameIndexFromPTS(pts)
	data, err := s.GetFrame(idx, width, height)
	if err != nil {
		return nil, err
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i, j := 0, 0; i < len(data); i, j = i+3, j+4 {
		img.Pix[j] = data[i]
		img.Pix[j+1] = data[i+1]
		img.Pix[j+2] = data[i+2]
		img.Pix[j+3] = 0xff
	}

	if opts.BurnIn != nil {
		overlay, err := opts.BurnIn.Render(width, height, pts, s.AspectRatio())
		if err != nil {
			return nil, err
		}
		render.Composite(img, overlay)
	}
	return img, nil
}

// Screenshot saves Snapshot to path; the format follows the extension.
func (s *VideoStream) Screenshot(pts int64, path string, opts ScreenshotOptions) error {
	img, err := s.Snapshot(pts, opts)
	if err != nil {
		return err
	}
	s.log.Debugw("saving screenshot", "uid", s.uid, "pts", pts, "path", path)
	return render.SaveImage(path, img)
}
