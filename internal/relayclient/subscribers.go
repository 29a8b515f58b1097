package relayclient

import (
	"log/slog"
	"sync"
)

// subscribers is a bounded callback list. Each callback runs in isolation:
// a panic is logged and the remaining callbacks still run.
type subscribers[T any] struct {
	name  string
	limit int

	mu     sync.Mutex
	nextID int
	subs   []subscriber[T]
}

type subscriber[T any] struct {
	id int
	fn func(T)
}

func newSubscribers[T any](name string, limit int) *subscribers[T] {
	return &subscribers[T]{name: name, limit: limit}
}

// add registers fn and returns its own remover. Registrations beyond the
// bound are refused and get a no-op remover.
func (s *subscribers[T]) add(fn func(T)) func() {
	if fn == nil {
		return func() {}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.subs) >= s.limit {
		slog.Warn("subscriber limit reached, ignoring registration", "list", s.name, "max", s.limit)
		return func() {}
	}

	s.nextID++
	id := s.nextID
	s.subs = append(s.subs, subscriber[T]{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { s.remove(id) })
	}
}

func (s *subscribers[T]) remove(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.subs {
		if sub.id == id {
			s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
			return
		}
	}
}

func (s *subscribers[T]) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// publish calls every subscriber registered at the time of the call.
func (s *subscribers[T]) publish(v T) {
	s.mu.Lock()
	subs := make([]subscriber[T], len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	for _, sub := range subs {
		s.call(sub, v)
	}
}

func (s *subscribers[T]) call(sub subscriber[T], v T) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("subscriber panicked", "list", s.name, "panic", r)
		}
	}()
	sub.fn(v)
}
