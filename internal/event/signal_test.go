package event

import "testing"

func TestSignalEmitOrder(t *testing.T) {
	var s Signal[int]
	var got []int
	s.Connect(func(v int) { got = append(got, v*10) })
	s.Connect(func(v int) { got = append(got, v*100) })

	s.Emit(1)

	if len(got) != 2 || got[0] != 10 || got[1] != 100 {
		t.Errorf("expected [10 100], got %v", got)
	}
}

func TestSignalDisconnect(t *testing.T) {
	var s Signal[string]
	calls := 0
	disconnect := s.Connect(func(string) { calls++ })

	s.Emit("a")
	disconnect()
	s.Emit("b")
	disconnect()

	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if s.Len() != 0 {
		t.Errorf("expected no handlers, got %d", s.Len())
	}
}

func TestSignalHandlerMayConnect(t *testing.T) {
	var s Signal[int]
	inner := 0
	s.Connect(func(int) {
		s.Connect(func(int) { inner++ })
	})

	s.Emit(0)
	if inner != 0 {
		t.Errorf("handler added during emit should not run in the same emit")
	}
	s.Emit(0)
	if inner != 1 {
		t.Errorf("expected inner handler to run once, got %d", inner)
	}
}

func TestQueueFlush(t *testing.T) {
	var q Queue
	var order []int
	q.Add(func() { order = append(order, 1) })
	q.Add(func() { order = append(order, 2) })

	q.Flush()
	q.Flush()

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("expected [1 2], got %v", order)
	}
}
