package redis

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultKeyPrefix = "safety:fanout:"
	defaultTTL       = 24 * time.Hour
)

// ClaimStore marks incidents as dispatched using SET NX with a TTL.
type ClaimStore struct {
	client goredis.UniversalClient
	prefix string
	ttl    time.Duration
}

// Option configures the claim store.
type Option func(*ClaimStore)

// WithTTL overrides how long a claim is held.
func WithTTL(ttl time.Duration) Option {
	return func(s *ClaimStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithKeyPrefix overrides the key namespace.
func WithKeyPrefix(prefix string) Option {
	return func(s *ClaimStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// NewClaimStore constructs a claim store.
func NewClaimStore(client goredis.UniversalClient, opts ...Option) (*ClaimStore, error) {
	if client == nil {
		return nil, errors.New("claim store: nil redis client")
	}
	store := &ClaimStore{client: client, prefix: defaultKeyPrefix, ttl: defaultTTL}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// Claim returns true when this caller is the first to claim the incident key.
func (s *ClaimStore) Claim(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, errors.New("claim store: empty key")
	}
	return s.client.SetNX(ctx, s.prefix+key, time.Now().UTC().Format(time.RFC3339Nano), s.ttl).Result()
}

// Release drops a claim so the incident can be dispatched again.
func (s *ClaimStore) Release(ctx context.Context, key string) error {
	if key == "" {
		return errors.New("claim store: empty key")
	}
	return s.client.Del(ctx, s.prefix+key).Err()
}
