package groupcheckout

import (
	"context"
	"sync"
	"time"

	id "splitpay/pkg/domain"
	"splitpay/pkg/platform/sentinel"
)

// DefaultCorrelationTTL bounds how long an abandoned flow is kept.
const DefaultCorrelationTTL = 15 * time.Minute

// CorrelationStore maps a nonce to pending-flow context. Put overwrites any
// prior entry. Take returns the entry and removes it atomically, so only the
// first of several concurrent callers with the same nonce observes it; the
// others get sentinel.ErrNotFound.
type CorrelationStore interface {
	Put(ctx context.Context, nonce id.Nonce, entry Entry) error
	Take(ctx context.Context, nonce id.Nonce) (*Entry, error)
}

type memoryEntry struct {
	entry     Entry
	expiresAt time.Time
}

// InMemoryStore is a process-local CorrelationStore with per-entry expiry.
type InMemoryStore struct {
	mu      sync.Mutex
	entries map[id.Nonce]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

func NewInMemoryStore(ttl time.Duration) *InMemoryStore {
	if ttl <= 0 {
		ttl = DefaultCorrelationTTL
	}
	return &InMemoryStore{
		entries: make(map[id.Nonce]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Put stores entry and evicts anything already expired.
func (s *InMemoryStore) Put(_ context.Context, nonce id.Nonce, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, k)
		}
	}
	s.entries[nonce] = memoryEntry{entry: entry, expiresAt: now.Add(s.ttl)}
	return nil
}

func (s *InMemoryStore) Take(_ context.Context, nonce id.Nonce) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[nonce]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	delete(s.entries, nonce)
	if !s.now().Before(e.expiresAt) {
		return nil, sentinel.ErrExpired
	}
	entry := e.entry
	return &entry, nil
}

// Len reports the number of stored entries, expired ones included.
func (s *InMemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
