package observable

import "sync"

// Subject holds a value and notifies subscribers on every Set. New
// subscribers receive the current value immediately.
type Subject[T any] struct {
	mu     sync.Mutex
	value  T
	nextID int
	subs   map[int]func(T)
	order  []int
}

func NewSubject[T any](initial T) *Subject[T] {
	return &Subject[T]{value: initial, subs: make(map[int]func(T))}
}

func (s *Subject[T]) Get() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Set stores the value and calls subscribers in subscription order, outside
// the lock, so a subscriber may call back into the subject.
func (s *Subject[T]) Set(v T) {
	s.mu.Lock()
	s.value = v
	fns := s.snapshotLocked()
	s.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

func (s *Subject[T]) Subscribe(fn func(T)) func() {
	if fn == nil {
		return func() {}
	}
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.order = append(s.order, id)
	current := s.value
	s.mu.Unlock()

	fn(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			for i, v := range s.order {
				if v == id {
					s.order = append(s.order[:i], s.order[i+1:]...)
					break
				}
			}
		})
	}
}

func (s *Subject[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *Subject[T]) snapshotLocked() []func(T) {
	fns := make([]func(T), 0, len(s.order))
	for _, id := range s.order {
		fns = append(fns, s.subs[id])
	}
	return fns
}
