// Package band keeps a one pixel wide colour strip per video frame, used to
// draw a thumbnail ribbon under the timeline. Strips persist in the disk
// cache between sessions.
package band

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"slices"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/mgpai22/subsync/internal/cache"
	"github.com/mgpai22/subsync/internal/event"
	"github.com/mgpai22/subsync/internal/logging"
	"github.com/mgpai22/subsync/internal/mediaerr"
	"github.com/mgpai22/subsync/internal/metrics"
	"github.com/mgpai22/subsync/internal/stream"
	"github.com/mgpai22/subsync/internal/taskqueue"
)

const (
	DefaultStripHeight = 30
	DefaultChunkSize   = 50

	cacheSuffix = "video-band"
)

type Options struct {
	Video   *stream.VideoRegistry
	Queue   *taskqueue.Queue
	Store   *cache.Store
	Logger  *logging.Logger
	Metrics *metrics.Metrics

	StripHeight int
	ChunkSize   int
}

// blob is the on-disk layout: Strips[frame] holds StripHeight rgb24 pixels.
type blob struct {
	Frames int
	Height int
	Strips [][]byte
}

type entry struct {
	stream *stream.VideoStream
	key    string
	strips [][]byte
	done   int
	dirty  bool
}

// Cache tracks band strips for every loaded video stream.
type Cache struct {
	video   *stream.VideoRegistry
	queue   *taskqueue.Queue
	store   *cache.Store
	log     *logging.Logger
	metrics *metrics.Metrics
	height  int
	chunk   int

	mu      sync.Mutex
	entries map[uuid.UUID]*entry

	disconnect []func()

	// Updated carries the stream whose strips changed.
	Updated event.Signal[uuid.UUID]
}

func New(opts Options) *Cache {
	if opts.StripHeight <= 0 {
		opts.StripHeight = DefaultStripHeight
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	c := &Cache{
		video:   opts.Video,
		queue:   opts.Queue,
		store:   opts.Store,
		log:     logging.OrNop(opts.Logger).Named("band"),
		metrics: opts.Metrics,
		height:  opts.StripHeight,
		chunk:   opts.ChunkSize,
		entries: map[uuid.UUID]*entry{},
	}

	if c.video != nil {
		sig := c.video.Signals()
		c.disconnect = append(c.disconnect,
			sig.Loaded.Connect(c.onLoaded),
			sig.Unloaded.Connect(c.onUnloaded),
		)
		for _, s := range c.video.Streams() {
			if s.IsReady() {
				c.onLoaded(s)
			}
		}
	}
	return c
}

func (c *Cache) StripHeight() int {
	return c.height
}

// Close disconnects from the registry and flushes everything to disk.
func (c *Cache) Close() error {
	for _, fn := range c.disconnect {
		fn()
	}
	c.disconnect = nil
	return c.Flush()
}

func (c *Cache) onLoaded(s *stream.VideoStream) {
	e := &entry{stream: s}
	frames := s.FrameCount()

	key, err := cache.FileKey(s.Path(), cacheSuffix)
	if err != nil {
		c.log.Warnw("video band will not be persisted", "path", s.Path(), "error", err)
	} else {
		e.key = key
	}

	var b blob
	if e.key != "" {
		ok, err := c.store.Get(e.key, &b)
		if err != nil {
			c.log.Warnw("discarding unreadable video band cache", "path", s.Path(), "error", err)
		}
		if !ok || err != nil || !b.fits(frames, c.height) {
			b = blob{}
		}
	}
	if b.Strips == nil {
		b = newBlob(frames, c.height)
	}
	e.strips = b.Strips

	var missing []int
	for i, strip := range e.strips {
		if allZero(strip) {
			missing = append(missing, i)
		} else {
			e.done++
		}
	}

	c.mu.Lock()
	if _, dup := c.entries[s.UID()]; dup {
		c.mu.Unlock()
		return
	}
	c.entries[s.UID()] = e
	c.mu.Unlock()

	c.log.Debugw("video band loaded", "uid", s.UID(), "frames", frames, "missing", len(missing))
	c.Updated.Emit(s.UID())
	c.schedule(s.UID(), e, missing)
}

func (c *Cache) onUnloaded(s *stream.VideoStream) {
	c.mu.Lock()
	e, ok := c.entries[s.UID()]
	delete(c.entries, s.UID())
	c.mu.Unlock()
	if !ok {
		return
	}
	if err := c.persist(e); err != nil {
		c.log.Errorw("failed to flush video band", "path", s.Path(), "error", err)
	}
}

func newBlob(frames, height int) blob {
	strips := make([][]byte, frames)
	for i := range strips {
		strips[i] = make([]byte, height*3)
	}
	return blob{Frames: frames, Height: height, Strips: strips}
}

func (b blob) fits(frames, height int) bool {
	if b.Frames != frames || b.Height != height || len(b.Strips) != frames {
		return false
	}
	for _, s := range b.Strips {
		if len(s) != height*3 {
			return false
		}
	}
	return true
}

// allZero marks a strip as not decoded yet. A frame that really is black
// gets decoded again on every load.
func allZero(strip []byte) bool {
	for _, b := range strip {
		if b != 0 {
			return false
		}
	}
	return true
}

func (c *Cache) schedule(uid uuid.UUID, e *entry, missing []int) {
	if c.queue == nil || len(missing) == 0 {
		return
	}
	var chunks [][]int
	for start := 0; start < len(missing); start += c.chunk {
		chunks = append(chunks, missing[start:min(start+c.chunk, len(missing))])
	}
	// the first chunk must end on top of the stack
	for _, chunk := range slices.Backward(chunks) {
		c.queue.Schedule(func(ctx context.Context) error {
			return c.runChunk(ctx, uid, e, chunk)
		})
	}
}

func (c *Cache) alive(uid uuid.UUID, e *entry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[uid] == e
}

func (c *Cache) runChunk(ctx context.Context, uid uuid.UUID, e *entry, frames []int) error {
	if !c.alive(uid, e) {
		return nil
	}

	decoded := 0
	for _, idx := range frames {
		if err := ctx.Err(); err != nil {
			return err
		}
		pixels, err := e.stream.GetFrame(idx, 1, c.height)
		if err != nil {
			if errors.Is(err, mediaerr.ErrUnavailable) {
				// stream went away mid-chunk
				return nil
			}
			return fmt.Errorf("failed to decode band frame %d: %w", idx, err)
		}

		c.mu.Lock()
		if c.entries[uid] != e {
			c.mu.Unlock()
			return nil
		}
		if allZero(e.strips[idx]) && !allZero(pixels) {
			e.done++
		}
		e.strips[idx] = pixels
		e.dirty = true
		c.mu.Unlock()
		decoded++
	}

	c.metrics.AddBandFrames(decoded)
	if err := c.persist(e); err != nil {
		c.log.Warnw("failed to persist video band", "path", e.stream.Path(), "error", err)
	}
	c.Updated.Emit(uid)
	return nil
}

func (c *Cache) persist(e *entry) error {
	c.mu.Lock()
	if !e.dirty || e.key == "" {
		c.mu.Unlock()
		return nil
	}
	b := blob{Frames: len(e.strips), Height: c.height, Strips: make([][]byte, len(e.strips))}
	for i, s := range e.strips {
		b.Strips[i] = slices.Clone(s)
	}
	e.dirty = false
	c.mu.Unlock()

	if err := c.store.Put(e.key, b); err != nil {
		c.mu.Lock()
		e.dirty = true
		c.mu.Unlock()
		return err
	}
	return nil
}

// Flush writes every changed band to disk.
func (c *Cache) Flush() error {
	c.mu.Lock()
	entries := make([]*entry, 0, len(c.entries))
	for _, e := range c.entries {
		entries = append(entries, e)
	}
	c.mu.Unlock()

	var errs error
	for _, e := range entries {
		errs = multierr.Append(errs, c.persist(e))
	}
	return errs
}

// Strip returns a copy of the strip for frame. ok is false until the frame
// has been decoded.
func (c *Cache) Strip(uid uuid.UUID, frame int) (strip []byte, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, found := c.entries[uid]
	if !found || frame < 0 || frame >= len(e.strips) || allZero(e.strips[frame]) {
		return nil, false
	}
	return slices.Clone(e.strips[frame]), true
}

// Progress reports decoded and total frames for a stream.
func (c *Cache) Progress(uid uuid.UUID) (done, total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[uid]
	if !ok {
		return 0, 0
	}
	return e.done, len(e.strips)
}

// RenderImage lays out the band of a stream across width columns covering
// [startPTS, endPTS]. Columns whose frame is not decoded repeat the column
// to their left.
func (c *Cache) RenderImage(uid uuid.UUID, startPTS, endPTS int64, width int) (*image.RGBA, error) {
	if width <= 0 {
		return nil, mediaerr.Newf(mediaerr.CodeInvalidDimensions, "band.RenderImage", "invalid width %d", width)
	}
	c.mu.Lock()
	e, ok := c.entries[uid]
	c.mu.Unlock()
	if !ok {
		return nil, mediaerr.Newf(mediaerr.CodeNotFound, "band.RenderImage", "no band for stream %s", uid)
	}

	img := image.NewRGBA(image.Rect(0, 0, width, c.height))
	prev := make([]byte, c.height*3)
	for x := 0; x < width; x++ {
		pts := startPTS + (endPTS-startPTS)*int64(x)/int64(width)
		if strip, ok := c.Strip(uid, e.stream.FrameIndexFromPTS(pts)); ok {
			prev = strip
		}
		for y := 0; y < c.height; y++ {
			img.SetRGBA(x, y, color.RGBA{prev[y*3], prev[y*3+1], prev[y*3+2], 255})
		}
	}
	return img, nil
}
