// Package event provides a minimal callback registry used to fan out
// stream notifications. Registration hands back a cancel func; there is
// deliberately no buffering or replay, matching the fire-and-forget
// delivery of the upstream subscription streams.
package event

import "sync"

// Stream is a set of subscribers for one event type. The zero value is
// ready to use.
type Stream[T any] struct {
	mu   sync.Mutex
	next int
	subs map[int]func(T)
}

// Subscribe registers fn and returns a cancel func. Cancel is
// idempotent.
func (s *Stream[T]) Subscribe(fn func(T)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs == nil {
		s.subs = make(map[int]func(T))
	}
	id := s.next
	s.next++
	s.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// Emit calls every subscriber with v. Subscribers run on the caller's
// goroutine in unspecified order.
func (s *Stream[T]) Emit(v T) {
	s.mu.Lock()
	fns := make([]func(T), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
}

// Len returns the current subscriber count.
func (s *Stream[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}
