package pairing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/skylinezone/skyctl/internal/skzerrors"
)

// memoryStore is the single-process fallback used in tests and deployments
// without redis. Expiry is handled by the cache's TTL eviction.
type memoryStore struct {
	cache *ttlcache.Cache[string, Session]
	ttl   time.Duration
	mu    sync.Mutex
}

func NewMemoryStore(ttl time.Duration) Store {
	cache := ttlcache.New[string, Session](
		ttlcache.WithTTL[string, Session](ttl),
		ttlcache.WithDisableTouchOnHit[string, Session](),
	)
	go cache.Start()
	return &memoryStore{cache: cache, ttl: ttl}
}

func (s *memoryStore) Put(_ context.Context, session Session) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session.ExpiresAt = time.Now().UTC().Add(s.ttl)
	for attempt := 0; attempt < 5; attempt++ {
		code, err := NewCode()
		if err != nil {
			return "", err
		}
		if s.cache.Get(code) != nil {
			continue
		}
		s.cache.Set(code, session, s.ttl)
		return code, nil
	}
	return "", fmt.Errorf("allocating pairing code: %w", skzerrors.ErrUnavailable)
}

func (s *memoryStore) Get(_ context.Context, code string) (*Session, error) {
	item := s.cache.Get(code)
	if item == nil {
		return nil, skzerrors.ErrPairingCodeInvalid
	}
	session := item.Value()
	return &session, nil
}

func (s *memoryStore) Take(_ context.Context, code string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.cache.Get(code)
	if item == nil {
		return nil, skzerrors.ErrPairingCodeInvalid
	}
	session := item.Value()
	s.cache.Delete(code)
	return &session, nil
}

func (s *memoryStore) Delete(_ context.Context, code string) error {
	s.cache.Delete(code)
	return nil
}
