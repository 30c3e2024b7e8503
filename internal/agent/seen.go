package agent

import "sync"

// seenSet remembers the last n intent ids so redeliveries are dropped.
type seenSet struct {
	mu    sync.Mutex
	ids   map[string]struct{}
	order []string
	next  int
}

func newSeenSet(n int) *seenSet {
	if n <= 0 {
		n = 256
	}
	return &seenSet{ids: make(map[string]struct{}, n), order: make([]string, n)}
}

// Add records id and reports whether it was new.
func (s *seenSet) Add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return false
	}
	if evicted := s.order[s.next]; evicted != "" {
		delete(s.ids, evicted)
	}
	s.order[s.next] = id
	s.next = (s.next + 1) % len(s.order)
	s.ids[id] = struct{}{}
	return true
}

func (s *seenSet) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = make(map[string]struct{}, len(s.order))
	s.order = make([]string, len(s.order))
	s.next = 0
}
