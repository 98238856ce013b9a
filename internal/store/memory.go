package store

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps usage balances in process memory. Used when no
// database is configured, and in tests.
type MemoryStore struct {
	mu    sync.Mutex
	users map[string]*Usage
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]*Usage)}
}

func (s *MemoryStore) ResolveUser(ctx context.Context, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[clientID]; !ok {
		s.users[clientID] = &Usage{}
	}
	return nil
}

func (s *MemoryStore) Usage(ctx context.Context, clientID string) (Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[clientID]
	if !ok {
		return Usage{}, fmt.Errorf("unknown client %q", clientID)
	}
	return snapshot(u), nil
}

func (s *MemoryStore) AddUsage(ctx context.Context, clientID string, session SessionRecord) (Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[clientID]
	if !ok {
		u = &Usage{}
		s.users[clientID] = u
	}
	u.TotalMs += session.Seconds * 1000
	rec := session
	u.LastSession = &rec
	return snapshot(u), nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func snapshot(u *Usage) Usage {
	out := Usage{TotalMs: u.TotalMs}
	if u.LastSession != nil {
		rec := *u.LastSession
		out.LastSession = &rec
	}
	return out
}
