// Package stream manages decoded audio and video streams: asynchronous
// opening, metadata, sample and frame access, and the per-kind registry
// that tracks which stream is current.
package stream

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mgpai22/subsync/internal/event"
	"github.com/mgpai22/subsync/internal/logging"
	"github.com/mgpai22/subsync/internal/mediaerr"
	"github.com/mgpai22/subsync/internal/taskqueue"
)

// poll interval while waiting for a stream to finish opening
const loadPollInterval = 10 * time.Millisecond

type Kind int

const (
	KindAudio Kind = iota
	KindVideo
)

func (k Kind) String() string {
	if k == KindVideo {
		return "video"
	}
	return "audio"
}

type State int

const (
	StateLoading State = iota
	StateReady
	StateErrored
	StateUnloaded
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateErrored:
		return "errored"
	default:
		return "unloaded"
	}
}

// Signals raised by a single stream
type Signals struct {
	Loaded  event.Signal[struct{}]
	Errored event.Signal[error]
	Changed event.Signal[struct{}]
}

// Stream is implemented by *AudioStream and *VideoStream only.
type Stream interface {
	UID() uuid.UUID
	Path() string
	Kind() Kind
	State() State
	IsReady() bool
	// Err is the open failure of an errored stream.
	Err() error
	Signals() *Signals
	// WaitReady blocks until the stream has left the loading state and its
	// Loaded or Errored listeners have returned.
	WaitReady(ctx context.Context) error

	start()
	close() error
}

// Options shared by stream constructors
type Options struct {
	// Queue runs the asynchronous open. Required.
	Queue  *taskqueue.Queue
	Logger *logging.Logger
}

type base struct {
	uid     uuid.UUID
	path    string
	kind    Kind
	queue   *taskqueue.Queue
	log     *logging.Logger
	signals Signals

	stateMu sync.RWMutex
	state   State
	err     error

	// closed once the outcome of the open has been announced
	settled       chan struct{}
	settledClosed bool
}

func newBase(kind Kind, path string, opts Options) base {
	return base{
		uid:   uuid.New(),
		path:  path,
		kind:  kind,
		queue: opts.Queue,
		log:     logging.OrNop(opts.Logger).Named(kind.String()),
		state:   StateLoading,
		settled: make(chan struct{}),
	}
}

func (b *base) UID() uuid.UUID { return b.uid }
func (b *base) Path() string { return b.path }
func (b *base) Kind() Kind { return b.kind }
func (b *base) Signals() *Signals { return &b.signals }
func (b *base) IsReady() bool { return b.State() == StateReady }

func (b *base) State() State {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()
	return b.state
}

func (b *base) Err() error {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()
	return b.err
}

// moves out of loading; reports false if the stream was unloaded meanwhile
func (b *base) settle(state State, err error) bool {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	if b.state != StateLoading {
		return false
	}
	b.state = state
	b.err = err
	return true
}

func (b *base) markUnloaded() {
	b.stateMu.Lock()
	b.state = StateUnloaded
	b.stateMu.Unlock()
	b.announced()
}

// announced releases WaitReady callers. Streams call it after emitting
// Loaded or Errored so listeners such as cache resets run first.
func (b *base) announced() {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	if !b.settledClosed {
		b.settledClosed = true
		close(b.settled)
	}
}

func (b *base) waitForSource() {
	for b.State() == StateLoading {
		time.Sleep(loadPollInterval)
	}
}

func (b *base) WaitReady(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.settled:
	}
	switch b.State() {
	case StateReady:
		return nil
	case StateErrored:
		return b.Err()
	default:
		return mediaerr.Newf(mediaerr.CodeUnavailable, "wait", "%s %s was unloaded", b.kind, b.uid)
	}
}

// logs the open failure and flips the stream to errored
func (b *base) fail(err error) {
	b.log.Errorw("error loading "+b.kind.String(), "uid", b.uid, "path", b.path, "error", err)
	if b.settle(StateErrored, err) {
		b.signals.Errored.Emit(err)
	}
	b.announced()
}
