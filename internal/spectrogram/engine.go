// Package spectrogram computes and caches log-magnitude FFT columns of the
// current audio stream, one column per block of audio frames.
package spectrogram

import (
	"context"
	"fmt"
	"image"
	"math"
	"math/cmplx"
	"sort"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/mgpai22/subsync/internal/event"
	"github.com/mgpai22/subsync/internal/logging"
	"github.com/mgpai22/subsync/internal/media"
	"github.com/mgpai22/subsync/internal/metrics"
	"github.com/mgpai22/subsync/internal/stream"
	"github.com/mgpai22/subsync/internal/taskqueue"
)

const (
	// log2 of half the FFT window
	DerivationSize = 10
	// log2 of the number of audio frames per block
	DerivationDistance = 6
	// blocks per scheduled task
	ChunkSize = 50
	// how many view widths ahead ScheduleView prefetches
	MarginFactor = 2

	WindowSize = 2 << DerivationSize
	// Bins is the height of one column.
	Bins = (1 << DerivationSize) + 1

	DefaultVolume = 100
)

// scale applied to magnitudes before the log
var magnitudeScale = 9 / math.Sqrt(2*WindowSize)

// Options for New. Video is optional; when set the first video timecode
// shifts audio sample addressing so both tracks start together.
type Options struct {
	Audio   *stream.AudioRegistry
	Video   *stream.VideoRegistry
	Queue   *taskqueue.Queue
	Logger  *logging.Logger
	Metrics *metrics.Metrics

	// zero means ChunkSize and MarginFactor
	ChunkSize    int
	MarginFactor int
}

// Engine owns the column cache for the current audio stream. A nil *Engine
// is valid and does nothing, for setups without a usable FFT.
type Engine struct {
	audio   *stream.AudioRegistry
	video   *stream.VideoRegistry
	queue   *taskqueue.Queue
	log     *logging.Logger
	metrics *metrics.Metrics
	chunk   int
	margin  int

	fftMu sync.Mutex
	fft   *fourier.FFT
	input []float64
	coefs []complex128

	mu         sync.Mutex
	cache      map[int][]byte
	inFlight   map[int]int // block -> generation of the chunk computing it
	generation int
	volume     int

	disconnect []func()

	// Updated fires after new columns land in the cache or the cache is
	// cleared.
	Updated event.Signal[struct{}]
}

func New(opts Options) *Engine {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = ChunkSize
	}
	if opts.MarginFactor <= 0 {
		opts.MarginFactor = MarginFactor
	}
	e := &Engine{
		chunk:    opts.ChunkSize,
		margin:   opts.MarginFactor,
		audio:    opts.Audio,
		video:    opts.Video,
		queue:    opts.Queue,
		log:      logging.OrNop(opts.Logger).Named("spectrogram"),
		metrics:  opts.Metrics,
		fft:      fourier.NewFFT(WindowSize),
		input:    make([]float64, WindowSize),
		coefs:    make([]complex128, WindowSize/2+1),
		cache:    map[int][]byte{},
		inFlight: map[int]int{},
		volume:   DefaultVolume,
	}

	if e.audio != nil {
		sig := e.audio.Signals()
		clearIfCurrent := func(s *stream.AudioStream) {
			if cur, ok := e.audio.Current(); ok && cur == s {
				e.Clear()
			}
		}
		e.disconnect = append(e.disconnect,
			sig.CurrentSwitched.Connect(func(*stream.AudioStream) { e.Clear() }),
			sig.Loaded.Connect(clearIfCurrent),
			sig.Unloaded.Connect(func(*stream.AudioStream) { e.Clear() }),
		)
	}
	return e
}

// Close disconnects from the registry. Pending work stays on the queue.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	for _, fn := range e.disconnect {
		fn()
	}
	e.disconnect = nil
}

// Column returns the cached column for block, highest frequency first.
func (e *Engine) Column(block int) ([]byte, bool) {
	if e == nil {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	col, ok := e.cache[block]
	return col, ok
}

// Nearest returns the cached column for block or, failing that, the first
// cached block after it (the last one when none follow).
func (e *Engine) Nearest(block int) ([]byte, bool) {
	if e == nil {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nearestLocked(block, nil)
}

func (e *Engine) nearestLocked(block int, sorted []int) ([]byte, bool) {
	if col, ok := e.cache[block]; ok {
		return col, true
	}
	if len(e.cache) == 0 {
		return nil, false
	}
	if sorted == nil {
		sorted = e.sortedBlocksLocked()
	}
	i := sort.SearchInts(sorted, block)
	if i == len(sorted) {
		i--
	}
	return e.cache[sorted[i]], true
}

func (e *Engine) sortedBlocksLocked() []int {
	keys := make([]int, 0, len(e.cache))
	for k := range e.cache {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// Cached reports how many blocks are cached.
func (e *Engine) Cached() int {
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.cache)
}

// Clear drops every cached column and queued chunk. Chunks already running
// finish but their results are discarded, and their blocks no longer count
// as in flight.
func (e *Engine) Clear() {
	if e == nil {
		return
	}
	e.mu.Lock()
	e.cache = map[int][]byte{}
	e.generation++
	e.mu.Unlock()
	if e.queue != nil {
		e.queue.ClearPending()
	}
	e.metrics.SetSpectrogramBlocks(0)
	e.Updated.Emit(struct{}{})
}

func (e *Engine) Volume() int {
	if e == nil {
		return DefaultVolume
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.volume
}

// SetVolume changes the brightness scale. Cached columns are invalidated.
func (e *Engine) SetVolume(volume int) {
	if e == nil {
		return
	}
	e.mu.Lock()
	changed := e.volume != volume
	e.volume = volume
	e.mu.Unlock()
	if changed {
		e.Clear()
	}
}

// currentAudio returns the ready current audio stream, if any.
func (e *Engine) currentAudio() (*stream.AudioStream, bool) {
	if e.audio == nil {
		return nil, false
	}
	s, ok := e.audio.Current()
	if !ok || !s.IsReady() {
		return nil, false
	}
	return s, true
}

func (e *Engine) viewParams() (delay int64, rate int) {
	if s, ok := e.currentAudio(); ok {
		return s.Delay(), s.SampleRate()
	}
	return 0, 0
}

// BlocksForRange maps columns evenly spaced over [startPTS, endPTS] to block
// indices. The stream delay is taken into account; consecutive duplicates
// are kept so the result lines up with the columns.
func (e *Engine) BlocksForRange(startPTS, endPTS int64, columns int) []int {
	if e == nil || columns <= 0 {
		return nil
	}
	delay, rate := e.viewParams()
	return blocksForRange(startPTS-delay, endPTS-delay, columns, rate)
}

func blocksForRange(startPTS, endPTS int64, columns, rate int) []int {
	out := make([]int, columns)
	for i := range out {
		pts := float64(startPTS)
		if columns > 1 {
			pts += float64(endPTS-startPTS) * float64(i) / float64(columns-1)
		}
		sample := int(math.RoundToEven(pts * float64(rate) / 1000))
		out[i] = floorDiv(sample, 1<<DerivationDistance)
	}
	return out
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// ScheduleView queues every uncached block visible in a view of the given
// pixel width, plus margin-1 views of lookahead. Stale queued chunks
// are dropped first. Blocks already cached or in flight are skipped.
func (e *Engine) ScheduleView(startPTS, endPTS int64, columns int) int {
	if e == nil || e.queue == nil || columns <= 0 {
		return 0
	}
	e.queue.ClearPending()

	lookahead := startPTS
	if columns > 1 {
		step := float64(endPTS-startPTS) / float64(columns-1)
		lookahead = startPTS + int64(math.Round(step*float64(e.margin*columns-1)))
	}
	return e.schedule(e.BlocksForRange(startPTS, lookahead, columns))
}

// Schedule queues the given blocks, skipping those cached or in flight. It
// returns the number of blocks queued.
func (e *Engine) Schedule(blocks []int) int {
	if e == nil || e.queue == nil {
		return 0
	}
	return e.schedule(blocks)
}

func (e *Engine) schedule(blocks []int) int {
	e.mu.Lock()
	gen := e.generation
	var todo []int
	for _, b := range blocks {
		if _, ok := e.cache[b]; ok {
			continue
		}
		if g, ok := e.inFlight[b]; ok && g == gen {
			continue
		}
		e.inFlight[b] = gen
		todo = append(todo, b)
	}
	e.mu.Unlock()

	for start := 0; start < len(todo); start += e.chunk {
		chunk := todo[start:min(start+e.chunk, len(todo))]
		reversed := make([]int, len(chunk))
		for i, b := range chunk {
			reversed[len(chunk)-1-i] = b
		}
		e.queue.ScheduleDroppable(
			func(ctx context.Context) error {
				defer e.release(gen, reversed)
				return e.runChunk(ctx, gen, reversed)
			},
			func() { e.release(gen, reversed) },
		)
	}
	return len(todo)
}

// release forgets blocks still tagged with gen; a newer chunk may own them.
func (e *Engine) release(gen int, blocks []int) {
	e.mu.Lock()
	for _, b := range blocks {
		if g, ok := e.inFlight[b]; ok && g == gen {
			delete(e.inFlight, b)
		}
	}
	e.mu.Unlock()
}

func (e *Engine) runChunk(ctx context.Context, gen int, blocks []int) error {
	computed := map[int][]byte{}
	for _, b := range blocks {
		if err := ctx.Err(); err != nil {
			return err
		}
		col, err := e.ComputeBlock(b)
		if err != nil {
			return err
		}
		if col != nil {
			computed[b] = col
		}
	}
	if len(computed) == 0 {
		return nil
	}

	e.mu.Lock()
	if gen != e.generation {
		e.mu.Unlock()
		return nil
	}
	for b, col := range computed {
		e.cache[b] = col
	}
	n := len(e.cache)
	e.mu.Unlock()

	e.metrics.SetSpectrogramBlocks(n)
	e.Updated.Emit(struct{}{})
	return nil
}

// Fill computes every missing block of the view synchronously on the
// calling goroutine.
func (e *Engine) Fill(ctx context.Context, startPTS, endPTS int64, columns int) error {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	gen := e.generation
	e.mu.Unlock()

	seen := map[int]bool{}
	var blocks []int
	for _, b := range e.BlocksForRange(startPTS, endPTS, columns) {
		if !seen[b] {
			seen[b] = true
			blocks = append(blocks, b)
		}
	}
	for start := 0; start < len(blocks); start += e.chunk {
		if err := e.runChunk(ctx, gen, blocks[start:min(start+e.chunk, len(blocks))]); err != nil {
			return err
		}
	}
	return nil
}

// ComputeBlock derives one column from the current audio stream. It returns
// nil without error when no audio is available.
func (e *Engine) ComputeBlock(block int) ([]byte, error) {
	if e == nil {
		return nil, nil
	}
	audio, ok := e.currentAudio()
	if !ok {
		return nil, nil
	}
	rate := audio.SampleRate()

	first := int64(block) << DerivationDistance
	if e.video != nil {
		if v, ok := e.video.Current(); ok {
			if tc := v.Timecodes(); len(tc) > 0 {
				first -= int64(floorDiv(int(tc[0]*int64(rate)), 1000))
			}
		}
	}
	first = max(first, 0)

	samples, err := audio.GetSamples(first, WindowSize)
	if err != nil {
		return nil, fmt.Errorf("failed to read samples for block %d: %w", block, err)
	}
	return e.column(samples, e.Volume())
}

// column runs the FFT over up to WindowSize frames, zero padded.
func (e *Engine) column(samples media.Samples, volume int) ([]byte, error) {
	fullScale, err := media.FullScale(samples.Format)
	if err != nil {
		return nil, err
	}
	mono := samples.Mono()

	e.fftMu.Lock()
	defer e.fftMu.Unlock()

	n := copy(e.input, mono)
	for i := range e.input[:n] {
		e.input[i] /= fullScale
	}
	clear(e.input[n:])
	e.coefs = e.fft.Coefficients(e.coefs, e.input)

	brightness := float64(255 * volume / 100)
	out := make([]byte, Bins)
	for i, c := range e.coefs {
		v := math.Log10(cmplx.Abs(c)*magnitudeScale+1) * brightness
		v = math.Max(0, math.Min(255, v))
		out[Bins-1-i] = byte(v)
	}
	return out, nil
}

// RenderImage paints width columns over [startPTS, endPTS] into a grey
// image Bins pixels tall. Missing blocks borrow the nearest cached column.
func (e *Engine) RenderImage(startPTS, endPTS int64, width int) *image.Gray {
	if width <= 0 {
		width = 1
	}
	img := image.NewGray(image.Rect(0, 0, width, Bins))
	if e == nil {
		return img
	}
	blocks := e.BlocksForRange(startPTS, endPTS, width)

	e.mu.Lock()
	defer e.mu.Unlock()
	sorted := e.sortedBlocksLocked()
	for x, b := range blocks {
		col, ok := e.nearestLocked(b, sorted)
		if !ok {
			continue
		}
		for y, v := range col {
			img.Pix[y*img.Stride+x] = v
		}
	}
	return img
}
