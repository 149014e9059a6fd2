package token

import (
	"context"
	"sync"
	"time"
)

// RevocationStore tracks revoked token identifiers (jti) until their
// natural expiry. Consume is the atomic check-and-revoke used by refresh
// rotation: the caller that newly revoked the jti gets true, everyone else
// false.
type RevocationStore interface {
	Consume(ctx context.Context, jti string, expiresAt time.Time) (bool, error)
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// MemoryRevocationStore keeps revoked jtis in a map keyed by jti with the
// token's expiry as the value, swept periodically. Entries become
// collectable the moment the token they guard would have expired anyway.
//
// Revocations do not survive a restart; use the Redis-backed store when
// replay protection must hold across processes.
type MemoryRevocationStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
	nowFunc func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

// defaultSweepInterval is how often expired entries are garbage collected.
const defaultSweepInterval = 5 * time.Minute

// NewMemoryRevocationStore creates an in-memory revocation store and starts
// its background sweep. Call Close to stop the sweep goroutine.
func NewMemoryRevocationStore() *MemoryRevocationStore {
	return newMemoryRevocationStore(defaultSweepInterval)
}

func newMemoryRevocationStore(sweepInterval time.Duration) *MemoryRevocationStore {
	s := &MemoryRevocationStore{
		entries: make(map[string]time.Time),
		nowFunc: time.Now,
		stop:    make(chan struct{}),
	}
	go s.sweepLoop(sweepInterval)
	return s
}

// Consume marks the jti revoked. Returns true if this call newly revoked
// it, false if it was already revoked.
func (s *MemoryRevocationStore) Consume(_ context.Context, jti string, expiresAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if expiry, ok := s.entries[jti]; ok && s.nowFunc().Before(expiry) {
		return false, nil
	}
	s.entries[jti] = expiresAt
	return true, nil
}

// IsRevoked reports whether the jti is currently revoked.
func (s *MemoryRevocationStore) IsRevoked(_ context.Context, jti string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiry, ok := s.entries[jti]
	if !ok {
		return false, nil
	}
	if !s.nowFunc().Before(expiry) {
		// Lazily drop entries the sweep has not reached yet.
		delete(s.entries, jti)
		return false, nil
	}
	return true, nil
}

// Close stops the background sweep. Safe to call multiple times.
func (s *MemoryRevocationStore) Close() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
}

func (s *MemoryRevocationStore) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *MemoryRevocationStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc()
	for jti, expiry := range s.entries {
		if !now.Before(expiry) {
			delete(s.entries, jti)
		}
	}
}

// len returns the number of tracked entries (used in tests).
func (s *MemoryRevocationStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
