package links

import "sync"

// SeenSet remembers the absolute URLs one extraction session has already
// submitted to the registry.
type SeenSet struct {
	mu   sync.Mutex
	urls map[string]struct{}
}

// NewSeenSet returns an empty set.
func NewSeenSet() *SeenSet {
	return &SeenSet{urls: make(map[string]struct{})}
}

// Add records url and reports whether it was new.
func (s *SeenSet) Add(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.urls[url]; ok {
		return false
	}
	s.urls[url] = struct{}{}
	return true
}

// Len returns the number of remembered URLs.
func (s *SeenSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.urls)
}

// Reset forgets everything.
func (s *SeenSet) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.urls)
}
