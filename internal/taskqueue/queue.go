// Package taskqueue runs background work on a single worker goroutine in
// stack order: the most recently scheduled task runs first.
package taskqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mgpai22/subsync/internal/logging"
	"github.com/mgpai22/subsync/internal/metrics"
)

// DefaultErrorPause is how long the worker sleeps after a failing task.
const DefaultErrorPause = 100 * time.Millisecond

// Task is a unit of background work. ctx is the queue's parent context.
type Task func(ctx context.Context) error

type entry struct {
	task     Task
	dropped  func()
	sentinel bool
}

// Options for New
type Options struct {
	Name       string
	Logger     *logging.Logger
	Metrics    *metrics.Metrics
	ErrorPause time.Duration
}

type Queue struct {
	name       string
	log        *logging.Logger
	metrics    *metrics.Metrics
	errorPause time.Duration
	ctx        context.Context

	mu      sync.Mutex
	cond    *sync.Cond
	stack   []entry
	running bool
	stopped bool
	done    chan struct{}
}

// New starts the worker goroutine.
func New(ctx context.Context, opts Options) *Queue {
	if opts.ErrorPause <= 0 {
		opts.ErrorPause = DefaultErrorPause
	}
	if opts.Name == "" {
		opts.Name = "queue"
	}
	q := &Queue{
		name:       opts.Name,
		log:        logging.OrNop(opts.Logger).Named(opts.Name),
		metrics:    opts.Metrics,
		errorPause: opts.ErrorPause,
		ctx:        ctx,
		done:       make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.loop()
	return q
}

func (q *Queue) Name() string {
	return q.name
}

// Schedule pushes task on top of the stack. Tasks scheduled after Stop are
// silently ignored.
func (q *Queue) Schedule(task Task) {
	q.push(entry{task: task})
}

// ScheduleDroppable is Schedule with a callback that fires if the task is
// discarded by ClearPending or Stop instead of being run.
func (q *Queue) ScheduleDroppable(task Task, dropped func()) {
	q.push(entry{task: task, dropped: dropped})
}

func (q *Queue) push(e entry) {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		if e.dropped != nil {
			e.dropped()
		}
		return
	}
	q.stack = append(q.stack, e)
	n := len(q.stack)
	q.cond.Broadcast()
	q.mu.Unlock()

	q.metrics.SetPending(q.name, n)
}

// ClearPending discards every queued task that has not started yet and
// returns how many were dropped. A task already running is not affected.
func (q *Queue) ClearPending() int {
	q.mu.Lock()
	dropped := q.takeLocked()
	q.cond.Broadcast()
	q.mu.Unlock()

	for _, e := range dropped {
		if e.dropped != nil {
			e.dropped()
		}
	}
	q.metrics.TasksDropped(q.name, len(dropped))
	q.metrics.SetPending(q.name, 0)
	return len(dropped)
}

func (q *Queue) takeLocked() []entry {
	var out []entry
	kept := q.stack[:0]
	for _, e := range q.stack {
		if e.sentinel {
			kept = append(kept, e)
			continue
		}
		out = append(out, e)
	}
	q.stack = kept
	return out
}

// Pending returns the number of queued tasks.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, e := range q.stack {
		if !e.sentinel {
			n++
		}
	}
	return n
}

// Stop pushes a sentinel and waits for the worker to exit. The task in
// progress, if any, runs to completion; tasks still pending are dropped.
// Calling Stop more than once is fine.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.stopped {
		q.stopped = true
		q.stack = append(q.stack, entry{sentinel: true})
		q.cond.Broadcast()
	}
	q.mu.Unlock()
	<-q.done
}

// WaitIdle blocks until the stack is empty and no task is running, or ctx
// is done.
func (q *Queue) WaitIdle(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.stack) > 0 || q.running {
		if q.stopped {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		q.cond.Wait()
	}
	return nil
}

func (q *Queue) loop() {
	defer close(q.done)

	for {
		q.mu.Lock()
		for len(q.stack) == 0 {
			q.cond.Wait()
		}
		e := q.stack[len(q.stack)-1]
		q.stack = q.stack[:len(q.stack)-1]
		if e.sentinel {
			rest := q.stack
			q.stack = nil
			q.cond.Broadcast()
			q.mu.Unlock()
			for _, r := range rest {
				if r.dropped != nil {
					r.dropped()
				}
			}
			q.metrics.SetPending(q.name, 0)
			return
		}
		q.running = true
		pending := len(q.stack)
		q.mu.Unlock()

		q.metrics.SetPending(q.name, pending)
		err := q.run(e.task)
		if err != nil {
			q.log.Errorw("task failed", "error", err)
			q.metrics.TaskFailed(q.name)
			time.Sleep(q.errorPause)
		} else {
			q.metrics.TaskExecuted(q.name)
		}

		q.mu.Lock()
		q.running = false
		q.cond.Broadcast()
		q.mu.Unlock()
	}
}

func (q *Queue) run(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task(q.ctx)
}

// Submit schedules fn and hands its result to done on the worker goroutine.
// A panic in fn is reported to done as an error.
func Submit[T any](q *Queue, fn func(ctx context.Context) (T, error), done func(T, error)) {
	q.Schedule(func(ctx context.Context) error {
		var (
			result T
			err    error
		)
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("task panicked: %v", r)
			}
			done(result, err)
		}()
		result, err = fn(ctx)
		return nil
	})
}
