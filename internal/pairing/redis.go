package pairing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/skylinezone/skyctl/internal/skzerrors"
)

const keyPrefix = "pairing:"

// redisStore keeps pairing sessions in redis so codes survive API restarts
// and stay valid across replicas.
type redisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) Store {
	return &redisStore{client: client, ttl: ttl}
}

func (s *redisStore) Put(ctx context.Context, session Session) (string, error) {
	session.ExpiresAt = time.Now().UTC().Add(s.ttl)
	payload, err := json.Marshal(session)
	if err != nil {
		return "", err
	}
	// retry on the rare code collision
	for attempt := 0; attempt < 5; attempt++ {
		code, err := NewCode()
		if err != nil {
			return "", err
		}
		ok, err := s.client.SetNX(ctx, keyPrefix+code, payload, s.ttl).Result()
		if err != nil {
			return "", fmt.Errorf("storing pairing code: %w", err)
		}
		if ok {
			return code, nil
		}
	}
	return "", fmt.Errorf("allocating pairing code: %w", skzerrors.ErrUnavailable)
}

func (s *redisStore) Get(ctx context.Context, code string) (*Session, error) {
	payload, err := s.client.Get(ctx, keyPrefix+code).Result()
	if errors.Is(err, redis.Nil) {
		return nil, skzerrors.ErrPairingCodeInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("reading pairing code: %w", err)
	}
	var session Session
	if err := json.Unmarshal([]byte(payload), &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *redisStore) Take(ctx context.Context, code string) (*Session, error) {
	payload, err := s.client.GetDel(ctx, keyPrefix+code).Result()
	if errors.Is(err, redis.Nil) {
		return nil, skzerrors.ErrPairingCodeInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("consuming pairing code: %w", err)
	}
	var session Session
	if err := json.Unmarshal([]byte(payload), &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *redisStore) Delete(ctx context.Context, code string) error {
	return s.client.Del(ctx, keyPrefix+code).Err()
}
