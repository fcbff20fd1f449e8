package router

import "sync"

// selections tracks, per source chat, the destination chat ids the
// operator toggled OUT of the next send. Keyed by destination identity
// rather than list position: the live destination list can change
// between menu render and confirmation, and ids stay stable.
type selections struct {
	mu sync.Mutex
	m  map[int64]map[int64]bool
}

func newSelections() *selections {
	return &selections{m: make(map[int64]map[int64]bool)}
}

// Toggle flips the excluded state of dest for chatID and reports the
// new state (true = excluded).
func (s *selections) Toggle(chatID, dest int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.m[chatID]
	if set == nil {
		set = make(map[int64]bool)
		s.m[chatID] = set
	}
	if set[dest] {
		delete(set, dest)
		return false
	}
	set[dest] = true
	return true
}

// Excluded returns a copy of the chat's excluded set.
func (s *selections) Excluded(chatID int64) map[int64]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]bool, len(s.m[chatID]))
	for id, v := range s.m[chatID] {
		if v {
			out[id] = true
		}
	}
	return out
}

// Reset drops the chat's excluded set.
func (s *selections) Reset(chatID int64) {
	s.mu.Lock()
	delete(s.m, chatID)
	s.mu.Unlock()
}
