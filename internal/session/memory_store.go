package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps principals in process. Sessions do not survive a restart.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]Principal
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]Principal), now: time.Now}
}

func (s *MemoryStore) Save(_ context.Context, p Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	s.sessions[p.ID] = p
	return nil
}

func (s *MemoryStore) Lookup(_ context.Context, id string) (Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.sessions[id]
	if !ok {
		return Principal{}, ErrNotFound
	}
	if p.Expired(s.now()) {
		delete(s.sessions, id)
		return Principal{}, ErrNotFound
	}
	return p, nil
}

func (s *MemoryStore) Revoke(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// Sweep drops expired sessions and returns how many are left.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	return len(s.sessions)
}

func (s *MemoryStore) sweepLocked() {
	now := s.now()
	for id, p := range s.sessions {
		if p.Expired(now) {
			delete(s.sessions, id)
		}
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
