package stream

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/mgpai22/subsync/internal/event"
	"github.com/mgpai22/subsync/internal/logging"
	"github.com/mgpai22/subsync/internal/media"
	"github.com/mgpai22/subsync/internal/mediaerr"
	"github.com/mgpai22/subsync/internal/metrics"
)

// RegistrySignals carry the affected stream. CurrentSwitched carries the
// zero value when nothing is current anymore.
type RegistrySignals[S Stream] struct {
	Created         event.Signal[S]
	Loaded          event.Signal[S]
	Errored         event.Signal[S]
	Changed         event.Signal[S]
	Unloaded        event.Signal[S]
	CurrentSwitched event.Signal[S]
}

// Registry owns every loaded stream of one kind and tracks the current one.
//
// All mutations hold a single lock. Signals raised while it is held are
// queued and dispatched after unlocking, so handlers may call back into the
// registry.
type Registry[S Stream] struct {
	kind    Kind
	create  func(path string) S
	log     *logging.Logger
	metrics *metrics.Metrics

	mu         sync.Mutex
	streams    []S
	current    S
	hasCurrent bool
	disconnect map[uuid.UUID][]func()

	signals RegistrySignals[S]
}

// RegistryOptions configure a registry. Options.Queue runs stream opens.
type RegistryOptions struct {
	Options
	Metrics *metrics.Metrics
}

func newRegistry[S Stream](kind Kind, opts RegistryOptions, create func(path string) S) *Registry[S] {
	return &Registry[S]{
		kind:       kind,
		create:     create,
		log:        logging.OrNop(opts.Logger).Named(kind.String() + "-registry"),
		metrics:    opts.Metrics,
		disconnect: map[uuid.UUID][]func(){},
	}
}

type (
	AudioRegistry = Registry[*AudioStream]
	VideoRegistry = Registry[*VideoStream]
)

func NewAudioRegistry(backend media.Backend, opts RegistryOptions) *AudioRegistry {
	return newRegistry(KindAudio, opts, func(path string) *AudioStream {
		return NewAudioStream(backend, path, opts.Options)
	})
}

func NewVideoRegistry(backend media.Backend, opts RegistryOptions) *VideoRegistry {
	return newRegistry(KindVideo, opts, func(path string) *VideoStream {
		return NewVideoStream(backend, path, opts.Options)
	})
}

func (r *Registry[S]) Kind() Kind {
	return r.kind
}

func (r *Registry[S]) Signals() *RegistrySignals[S] {
	return &r.signals
}

// Load opens path unless a stream for the same file is already present.
// The returned bool is false in that case and the existing stream is
// returned (and made current when switchTo is set).
func (r *Registry[S]) Load(path string, switchTo bool) (S, bool, error) {
	var zero S
	if path == "" {
		return zero, false, mediaerr.New(mediaerr.CodeSourceNotFound, "load stream", "empty path")
	}

	var q event.Queue
	r.mu.Lock()
	for _, s := range r.streams {
		if sameFile(s.Path(), path) {
			if switchTo {
				r.setCurrentLocked(s, true, &q)
			}
			r.mu.Unlock()
			q.Flush()
			return s, false, nil
		}
	}

	s := r.create(path)
	r.watchLocked(s)
	r.streams = append(r.streams, s)
	r.metrics.SetStreams(r.kind.String(), len(r.streams))
	q.Add(func() { r.signals.Created.Emit(s) })
	if switchTo {
		r.setCurrentLocked(s, true, &q)
	}
	r.mu.Unlock()

	r.log.Debugw("stream created", "uid", s.UID(), "path", path)
	q.Flush()
	s.start()
	return s, true, nil
}

func (r *Registry[S]) watchLocked(s S) {
	sig := s.Signals()
	uid := s.UID()
	r.disconnect[uid] = []func(){
		sig.Loaded.Connect(func(struct{}) {
			if r.Contains(uid) {
				r.signals.Loaded.Emit(s)
			}
		}),
		sig.Errored.Connect(func(error) {
			if r.Contains(uid) {
				r.signals.Errored.Emit(s)
			}
		}),
		sig.Changed.Connect(func(struct{}) {
			if r.Contains(uid) {
				r.signals.Changed.Emit(s)
			}
		}),
	}
}

func (r *Registry[S]) unwatchLocked(uid uuid.UUID) {
	for _, fn := range r.disconnect[uid] {
		fn()
	}
	delete(r.disconnect, uid)
}

// Unload removes the stream. If it was current, the stream that takes its
// index becomes current, or none when it was the last one. Unknown uids are
// ignored.
func (r *Registry[S]) Unload(uid uuid.UUID) error {
	var q event.Queue
	r.mu.Lock()
	s, err := r.unloadLocked(uid, &q)
	r.mu.Unlock()
	q.Flush()
	if err != nil {
		r.log.Warnw("error closing stream", "uid", s.UID(), "error", err)
	}
	return err
}

func (r *Registry[S]) unloadLocked(uid uuid.UUID, q *event.Queue) (S, error) {
	idx := r.indexLocked(uid)
	if idx < 0 {
		var zero S
		return zero, nil
	}
	s := r.streams[idx]
	r.streams = append(r.streams[:idx:idx], r.streams[idx+1:]...)
	r.unwatchLocked(uid)
	r.metrics.SetStreams(r.kind.String(), len(r.streams))

	if r.hasCurrent && r.current.UID() == uid {
		if idx < len(r.streams) {
			r.setCurrentLocked(r.streams[idx], true, q)
		} else {
			var zero S
			r.setCurrentLocked(zero, false, q)
		}
	}
	err := s.close()
	q.Add(func() { r.signals.Unloaded.Emit(s) })
	return s, err
}

// UnloadCurrent is a no-op when nothing is current.
func (r *Registry[S]) UnloadCurrent() error {
	r.mu.Lock()
	if !r.hasCurrent {
		r.mu.Unlock()
		return nil
	}
	uid := r.current.UID()
	r.mu.Unlock()
	return r.Unload(uid)
}

// UnloadAll drops every stream and clears the current pointer.
func (r *Registry[S]) UnloadAll() error {
	var q event.Queue
	var err error

	r.mu.Lock()
	streams := r.streams
	r.streams = nil
	for _, s := range streams {
		r.unwatchLocked(s.UID())
		err = multierr.Append(err, s.close())
		q.Add(func() { r.signals.Unloaded.Emit(s) })
	}
	var zero S
	r.setCurrentLocked(zero, false, &q)
	r.metrics.SetStreams(r.kind.String(), 0)
	r.mu.Unlock()

	q.Flush()
	return err
}

// Switch makes uid current. uuid.Nil selects nothing.
func (r *Registry[S]) Switch(uid uuid.UUID) error {
	var q event.Queue
	r.mu.Lock()
	if uid == uuid.Nil {
		var zero S
		r.setCurrentLocked(zero, false, &q)
	} else {
		idx := r.indexLocked(uid)
		if idx < 0 {
			r.mu.Unlock()
			return mediaerr.Newf(mediaerr.CodeNotFound, "switch stream", "stream %s is not loaded", uid)
		}
		r.setCurrentLocked(r.streams[idx], true, &q)
	}
	r.mu.Unlock()
	q.Flush()
	return nil
}

// Cycle advances the current pointer to the next stream, wrapping around.
// Nothing happens when there is no current stream.
func (r *Registry[S]) Cycle() {
	var q event.Queue
	r.mu.Lock()
	if r.hasCurrent && len(r.streams) > 0 {
		idx := r.indexLocked(r.current.UID())
		next := r.streams[(idx+1)%len(r.streams)]
		r.setCurrentLocked(next, true, &q)
	}
	r.mu.Unlock()
	q.Flush()
}

// emits only when the current stream actually changes
func (r *Registry[S]) setCurrentLocked(s S, ok bool, q *event.Queue) {
	if ok == r.hasCurrent && (!ok || r.current.UID() == s.UID()) {
		return
	}
	r.current = s
	r.hasCurrent = ok
	q.Add(func() { r.signals.CurrentSwitched.Emit(s) })
}

// Current returns the current stream and whether there is one.
func (r *Registry[S]) Current() (S, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current, r.hasCurrent
}

// Streams returns a copy of the stream list in load order.
func (r *Registry[S]) Streams() []S {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]S(nil), r.streams...)
}

func (r *Registry[S]) Get(uid uuid.UUID) (S, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if idx := r.indexLocked(uid); idx >= 0 {
		return r.streams[idx], true
	}
	var zero S
	return zero, false
}

// Index is the load-order position of uid, or -1.
func (r *Registry[S]) Index(uid uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.indexLocked(uid)
}

func (r *Registry[S]) Contains(uid uuid.UUID) bool {
	return r.Index(uid) >= 0
}

func (r *Registry[S]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams)
}

func (r *Registry[S]) indexLocked(uid uuid.UUID) int {
	for i, s := range r.streams {
		if s.UID() == uid {
			return i
		}
	}
	return -1
}

// sameFile compares file identity, falling back to the cleaned absolute
// path when either side cannot be stat'ed.
func sameFile(a, b string) bool {
	ai, aerr := os.Stat(a)
	bi, berr := os.Stat(b)
	if aerr == nil && berr == nil {
		return os.SameFile(ai, bi)
	}
	aa, aerr := filepath.Abs(a)
	ba, berr := filepath.Abs(b)
	if aerr != nil || berr != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return aa == ba
}
