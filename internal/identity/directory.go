package identity

import (
	"context"
	"sync"
)

// Directory answers whether a user id refers to a known user.
// User records are owned elsewhere; the core only checks existence.
type Directory interface {
	Exists(ctx context.Context, userID string) (bool, error)
}

type acceptAll struct{}

// AcceptAll treats every non-empty id as an existing user.
func AcceptAll() Directory {
	return acceptAll{}
}

func (acceptAll) Exists(_ context.Context, userID string) (bool, error) {
	return userID != "", nil
}

// Static is a fixed set of known users.
type Static struct {
	mu    sync.RWMutex
	users map[string]struct{}
}

func NewStatic(userIDs ...string) *Static {
	s := &Static{users: make(map[string]struct{}, len(userIDs))}
	for _, id := range userIDs {
		s.users[id] = struct{}{}
	}
	return s
}

// Add registers a user id.
func (s *Static) Add(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userID] = struct{}{}
}

func (s *Static) Exists(_ context.Context, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[userID]
	return ok, nil
}
