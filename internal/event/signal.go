// Package event provides a small typed observer used for stream, timeline
// and cache notifications.
package event

import "sync"

// Signal fans a value out to every connected handler. Handlers run
// synchronously on the emitting goroutine, in connection order.
type Signal[T any] struct {
	mu       sync.RWMutex
	nextID   int
	handlers []handler[T]
}

type handler[T any] struct {
	id int
	fn func(T)
}

// Connect registers fn and returns a function that disconnects it.
func (s *Signal[T]) Connect(fn func(T)) (disconnect func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.handlers = append(s.handlers, handler[T]{id: id, fn: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, h := range s.handlers {
			if h.id == id {
				s.handlers = append(s.handlers[:i:i], s.handlers[i+1:]...)
				return
			}
		}
	}
}

// Emit calls every handler with v. The handler list is snapshotted first so
// handlers may connect or disconnect while running.
func (s *Signal[T]) Emit(v T) {
	s.mu.RLock()
	handlers := make([]handler[T], len(s.handlers))
	copy(handlers, s.handlers)
	s.mu.RUnlock()

	for _, h := range handlers {
		h.fn(v)
	}
}

func (s *Signal[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handlers)
}

// Queue collects deferred emissions so they can be dispatched after a lock
// is released.
type Queue struct {
	pending []func()
}

func (q *Queue) Add(fn func()) {
	q.pending = append(q.pending, fn)
}

// Flush runs and clears everything queued.
func (q *Queue) Flush() {
	pending := q.pending
	q.pending = nil
	for _, fn := range pending {
		fn()
	}
}
