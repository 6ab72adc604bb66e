package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	ffmpeggo "github.com/u2takey/ffmpeg-go"

	"github.com/mgpai22/subsync/internal/cache"
	"github.com/mgpai22/subsync/internal/ffmpeg"
	"github.com/mgpai22/subsync/internal/logging"
	"github.com/mgpai22/subsync/internal/mediaerr"
)

// FFmpegBackend decodes through ffmpeg subprocesses. Audio is decoded once
// into a raw PCM file next to the cache so samples can be read at random
// offsets; video frames are decoded one seek at a time.
type FFmpegBackend struct {
	runner  *ffmpeg.Runner
	store   *cache.Store
	workDir string
	log     *logging.Logger
}

// NewFFmpegBackend keeps decoded PCM under workDir (a temp dir when empty)
// and video indexes in store.
func NewFFmpegBackend(runner *ffmpeg.Runner, store *cache.Store, workDir string, log *logging.Logger) *FFmpegBackend {
	if workDir == "" {
		workDir = filepath.Join(os.TempDir(), "subsync-pcm")
	}
	return &FFmpegBackend{
		runner:  runner,
		store:   store,
		workDir: workDir,
		log:     logging.OrNop(log).Named("decoder"),
	}
}

func statSource(op, path string) (os.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, mediaerr.Newf(mediaerr.CodeSourceNotFound, op, "file not found: %s", path)
		}
		return nil, mediaerr.Wrap(mediaerr.CodeSourceNotFound, op, err)
	}
	return info, nil
}

func (b *FFmpegBackend) OpenAudio(ctx context.Context, path string) (AudioSource, error) {
	info, err := statSource("open audio", path)
	if err != nil {
		return nil, err
	}

	data, err := b.runner.Probe(ctx, "-show_streams", "-show_format", "-select_streams", "a:0", path)
	if err != nil {
		return nil, mediaerr.Wrap(mediaerr.CodeDecode, "probe audio", err)
	}
	probe, err := parseProbe(data)
	if err != nil {
		return nil, mediaerr.Wrap(mediaerr.CodeDecode, "probe audio", err)
	}
	stream, ok := probe.firstStream("audio")
	if !ok {
		return nil, mediaerr.Newf(mediaerr.CodeDecode, "open audio", "no audio track in %s", path)
	}

	raw := rawFormatFor(stream.SampleFmt)
	rate := int(parseSeconds(stream.SampleRate))
	if rate <= 0 || stream.Channels <= 0 {
		return nil, mediaerr.Newf(mediaerr.CodeDecode, "open audio",
			"invalid audio track (rate=%d channels=%d)", rate, stream.Channels)
	}

	pcmPath := filepath.Join(b.workDir,
		cache.Key(path, info.Size(), "pcm-"+raw.muxer)+".raw")
	if err := b.decodePCM(ctx, path, pcmPath, raw); err != nil {
		return nil, err
	}

	f, err := os.Open(pcmPath)
	if err != nil {
		return nil, mediaerr.Wrap(mediaerr.CodeDecode, "open audio", err)
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, mediaerr.Wrap(mediaerr.CodeDecode, "open audio", err)
	}

	frameSize := int64(stream.Channels * raw.format.BytesPerSample())
	count := fi.Size() / frameSize
	start := parseSeconds(stream.StartTime)

	props := AudioProperties{
		Channels:      stream.Channels,
		BitsPerSample: raw.format.BytesPerSample() * 8,
		SampleRate:    rate,
		Format:        raw.format,
		SampleCount:   count,
		FirstTime:     start,
		LastTime:      start + float64(count)/float64(rate),
	}
	b.log.Debugw("audio decoded", "path", path, "samples", count, "format", raw.format)
	return &pcmSource{file: f, props: props, frameSize: frameSize}, nil
}

func (b *FFmpegBackend) decodePCM(ctx context.Context, src, dst string, raw rawFormat) error {
	if fi, err := os.Stat(dst); err == nil && fi.Size() > 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create pcm directory: %w", err)
	}

	tmp := dst + ".part"
	stream := ffmpeggo.Input(src).
		Output(tmp, ffmpeggo.KwArgs{
			"map":    "0:a:0",
			"vn":     nil,
			"acodec": raw.codec,
			"f":      raw.muxer,
		}).
		OverWriteOutput()
	if err := b.runner.Run(ctx, stream, nil); err != nil {
		_ = os.Remove(tmp)
		return mediaerr.Wrap(mediaerr.CodeDecode, "decode audio", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		return mediaerr.Wrap(mediaerr.CodeDecode, "decode audio", err)
	}
	return nil
}

// raw interleaved PCM on disk
type pcmSource struct {
	file      *os.File
	props     AudioProperties
	frameSize int64
}

func (s *pcmSource) Properties() AudioProperties {
	return s.props
}

func (s *pcmSource) ReadSamples(start, count int64) ([]byte, error) {
	if start < 0 || count < 0 {
		return nil, mediaerr.Newf(mediaerr.CodeInvalidRange, "read samples",
			"start=%d count=%d", start, count)
	}
	buf := make([]byte, count*s.frameSize)
	// short reads past the end stay zeroed
	if _, err := s.file.ReadAt(buf, start*s.frameSize); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read samples: %w", err)
	}
	return buf, nil
}

func (s *pcmSource) Close() error {
	return s.file.Close()
}

// video index persisted through the cache
type videoIndex struct {
	Timecodes []float64
	Keyframes []int
}

func (b *FFmpegBackend) OpenVideo(ctx context.Context, path string) (VideoSource, error) {
	info, err := statSource("open video", path)
	if err != nil {
		return nil, err
	}

	data, err := b.runner.Probe(ctx, "-show_streams", "-show_format", "-select_streams", "v:0", path)
	if err != nil {
		return nil, mediaerr.Wrap(mediaerr.CodeDecode, "probe video", err)
	}
	probe, err := parseProbe(data)
	if err != nil {
		return nil, mediaerr.Wrap(mediaerr.CodeDecode, "probe video", err)
	}
	stream, ok := probe.firstStream("video")
	if !ok {
		return nil, mediaerr.Newf(mediaerr.CodeDecode, "open video", "no video track in %s", path)
	}

	index, err := b.loadIndex(ctx, path, info.Size())
	if err != nil {
		return nil, err
	}

	fpsNum, fpsDen := parseRatio(stream.RFrameRate)
	if fpsNum == 0 || fpsDen == 0 {
		fpsNum, fpsDen = parseRatio(stream.AvgFrameRate)
	}
	sarNum, sarDen := parseRatio(stream.SampleAspectRatio)

	start := parseSeconds(stream.StartTime) * 1000
	if len(index.Timecodes) > 0 {
		start = index.Timecodes[0]
	}

	src := &ffmpegVideo{
		runner: b.runner,
		ctx:    ctx,
		path:   path,
		start:  start,
		index:  index,
		props: VideoProperties{
			FPSNum:        fpsNum,
			FPSDen:        fpsDen,
			SARNum:        sarNum,
			SARDen:        sarDen,
			EncodedWidth:  stream.Width,
			EncodedHeight: stream.Height,
		},
	}
	src.format = OutputFormat{
		PixelFormat: PixelFormatRGB24,
		Width:       stream.Width,
		Height:      stream.Height,
		Resizer:     ResizerArea,
	}
	return src, nil
}

func (b *FFmpegBackend) loadIndex(ctx context.Context, path string, size int64) (videoIndex, error) {
	key := cache.Key(path, size, "index")

	var index videoIndex
	if ok, err := b.store.Get(key, &index); err != nil {
		b.log.Warnw("discarding unreadable video index", "path", path, "error", err)
	} else if ok && len(index.Timecodes) > 0 {
		return index, nil
	}

	data, err := b.runner.Probe(ctx,
		"-select_streams", "v:0",
		"-show_entries", "packet=pts_time,flags",
		path,
	)
	if err != nil {
		return videoIndex{}, mediaerr.Wrap(mediaerr.CodeDecode, "index video", err)
	}
	timecodes, keyframes, err := parsePackets(data)
	if err != nil {
		return videoIndex{}, mediaerr.Wrap(mediaerr.CodeDecode, "index video", err)
	}
	if len(timecodes) == 0 {
		return videoIndex{}, mediaerr.Newf(mediaerr.CodeDecode, "index video",
			"no frames in %s", path)
	}

	index = videoIndex{Timecodes: timecodes, Keyframes: keyframes}
	if err := b.store.Put(key, index); err != nil {
		b.log.Warnw("failed to cache video index", "path", path, "error", err)
	}
	return index, nil
}

type ffmpegVideo struct {
	runner *ffmpeg.Runner
	ctx    context.Context
	path   string
	// pts of the first frame, ms
	start  float64
	index  videoIndex
	props  VideoProperties
	format OutputFormat
	filter string
}

func (v *ffmpegVideo) Properties() VideoProperties {
	return v.props
}

func (v *ffmpegVideo) Timecodes() []float64 {
	return v.index.Timecodes
}

func (v *ffmpegVideo) Keyframes() []int {
	return v.index.Keyframes
}

func (v *ffmpegVideo) FrameCount() int {
	return len(v.index.Timecodes)
}

func (v *ffmpegVideo) SetOutputFormat(format OutputFormat) error {
	if format.Width <= 0 || format.Height <= 0 {
		return mediaerr.Newf(mediaerr.CodeInvalidDimensions, "set output format",
			"width=%d height=%d", format.Width, format.Height)
	}
	if format.PixelFormat != PixelFormatRGB24 {
		return fmt.Errorf("unsupported pixel format: %s", format.PixelFormat)
	}
	resizer := format.Resizer
	if resizer == "" {
		resizer = ResizerArea
	}
	v.format = format
	v.filter = fmt.Sprintf("scale=%d:%d:flags=%s", format.Width, format.Height, resizer)
	return nil
}

func (v *ffmpegVideo) Frame(index int) ([]byte, error) {
	if index < 0 || index >= len(v.index.Timecodes) {
		return nil, mediaerr.Newf(mediaerr.CodeInvalidRange, "decode frame",
			"frame %d out of range (0-%d)", index, len(v.index.Timecodes)-1)
	}
	if v.filter == "" {
		if err := v.SetOutputFormat(v.format); err != nil {
			return nil, err
		}
	}

	// half a millisecond early so rounding never skips to the next frame
	seek := (v.index.Timecodes[index] - v.start - 0.5) / 1000
	if seek < 0 {
		seek = 0
	}
	stream := ffmpeggo.Input(v.path, ffmpeggo.KwArgs{"ss": fmt.Sprintf("%.4f", seek)}).
		Output("pipe:", ffmpeggo.KwArgs{
			"an":       nil,
			"frames:v": 1,
			"vf":       v.filter,
			"pix_fmt":  v.format.PixelFormat,
			"f":        "rawvideo",
		})

	out, err := v.runner.Output(v.ctx, stream)
	if err != nil {
		return nil, mediaerr.Wrap(mediaerr.CodeDecode, "decode frame", err)
	}
	want := v.format.Width * v.format.Height * 3
	if len(out) < want {
		return nil, mediaerr.Newf(mediaerr.CodeDecode, "decode frame",
			"frame %d: got %d bytes, want %d", index, len(out), want)
	}
	return out[:want], nil
}

func (v *ffmpegVideo) Close() error {
	return nil
}
