package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. It serves tests and deployments
// without a shared cache; the lease then does not survive a restart.
type MemoryStore struct {
	mu        sync.Mutex
	secret    string
	present   bool
	expiresAt time.Time // zero when the lease has no expiry

	// now is swapped in tests.
	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

func (s *MemoryStore) Get(_ context.Context) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.present {
		return "", false, nil
	}
	if !s.expiresAt.IsZero() && s.now().After(s.expiresAt) {
		s.secret = ""
		s.present = false
		return "", false, nil
	}
	return s.secret, true, nil
}

func (s *MemoryStore) Set(_ context.Context, secret string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secret = secret
	s.present = true
	if ttl > 0 {
		s.expiresAt = s.now().Add(ttl)
	} else {
		s.expiresAt = time.Time{}
	}
	return nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secret = ""
	s.present = false
	s.expiresAt = time.Time{}
	return nil
}
