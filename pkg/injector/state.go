package injector

import "sync"

// State is the set of post ids handled this page lifetime. Ids are reserved
// before any asynchronous work starts for them.
type State struct {
	mu         sync.Mutex
	processed  map[string]struct{}
	generation uint64
}

func NewState() *State {
	return &State{processed: make(map[string]struct{})}
}

// MarkProcessed reserves id and reports whether the caller won it.
func (s *State) MarkProcessed(id string) bool {
	if id == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.processed[id]; ok {
		return false
	}
	s.processed[id] = struct{}{}
	return true
}

func (s *State) Processed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.processed[id]
	return ok
}

func (s *State) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.processed)
}

func (s *State) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Reset forgets every processed id and starts a new generation.
func (s *State) Reset() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed = make(map[string]struct{})
	s.generation++
	return s.generation
}
