package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

const inMemoryPerUserLimit = 200

// InMemoryStore is a simple in-process audit store for local/dev use.
type InMemoryStore struct {
	mu     sync.RWMutex
	events map[string][]Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{events: make(map[string][]Event)}
}

func (s *InMemoryStore) Record(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	arr := append(s.events[event.Username], event)
	if len(arr) > inMemoryPerUserLimit {
		arr = arr[len(arr)-inMemoryPerUserLimit:]
	}
	s.events[event.Username] = arr
	return nil
}

// RecentByUser returns up to limit events, newest first.
func (s *InMemoryStore) RecentByUser(_ context.Context, username string, limit int) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.events[username]
	if len(arr) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	out := make([]Event, 0, limit)
	for i := len(arr) - 1; i >= len(arr)-limit; i-- {
		out = append(out, arr[i])
	}
	return out, nil
}

func (s *InMemoryStore) Mode() string { return "in-memory" }

func (s *InMemoryStore) Close() error { return nil }
