// Package completion tracks which jobs have finished by consuming the completion queue.
package completion

import "sync"

// Set is the monotonic set of completed job ids. Once added, an id is never removed.
type Set struct {
	mu    sync.RWMutex
	ids   map[string]struct{}
	order []string
}

// NewSet returns an empty Set.
func NewSet() *Set {
	return &Set{ids: make(map[string]struct{})}
}

// Add records id and reports whether it was new.
func (s *Set) Add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	s.order = append(s.order, id)
	return true
}

// Contains reports whether id has completed.
func (s *Set) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

// List returns a snapshot of the completed ids in the order they were observed.
func (s *Set) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

// Len returns the number of completed ids.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}
