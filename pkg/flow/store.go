package flow

import "sync"

// Store holds the current flow state and notifies subscribers of changes.
type Store struct {
	mu     sync.RWMutex
	state  State
	subs   map[int]func(State)
	nextID int
}

// NewStore creates an idle store.
func NewStore() *Store {
	return &Store{
		state: State{Phase: PhaseIdle},
		subs:  make(map[int]func(State)),
	}
}

// State returns the current snapshot.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Dispatch applies ev and notifies subscribers when it was accepted.
func (s *Store) Dispatch(ev Event) (State, error) {
	s.mu.Lock()
	next, err := Reduce(s.state, ev)
	if err != nil {
		s.mu.Unlock()
		return next, err
	}
	s.state = next

	subs := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(next)
	}
	return next, nil
}

// Subscribe registers fn for state changes and returns its cancel func.
func (s *Store) Subscribe(fn func(State)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.subs[id] = fn

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}
