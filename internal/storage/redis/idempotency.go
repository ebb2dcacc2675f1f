// Package redis keeps short-lived request state in Redis.
package redis

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/xenking/marketplace/internal/domain/fault"
)

const (
	idempotencyKeyPrefix = "idem:"
	// DefaultIdempotencyTTL is used when no TTL is configured.
	DefaultIdempotencyTTL = 24 * time.Hour

	pendingMarker = "-"
	claimAttempts = 2
)

// ErrInProgress is returned when a request with the same idempotency key
// is still running.
var ErrInProgress = fault.New(fault.Conflict, "a request with this idempotency key is in progress")

// IdempotencyStore remembers the outcome of requests by client key.
type IdempotencyStore struct {
	client goredis.UniversalClient
	ttl    time.Duration
}

// NewIdempotencyStore creates a store whose keys expire after ttl.
func NewIdempotencyStore(client goredis.UniversalClient, ttl time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &IdempotencyStore{client: client, ttl: ttl}
}

// Claim reserves key for the caller. When claimed is false, result holds
// the value stored by Complete for an earlier request with the same key.
// A claimed key that was never completed yields ErrInProgress.
func (s *IdempotencyStore) Claim(ctx context.Context, key string) (result string, claimed bool, err error) {
	k := idempotencyKeyPrefix + key
	for range claimAttempts {
		ok, err := s.client.SetNX(ctx, k, pendingMarker, s.ttl).Result()
		if err != nil {
			return "", false, errors.Wrap(err, "claim idempotency key")
		}
		if ok {
			return "", true, nil
		}

		v, err := s.client.Get(ctx, k).Result()
		switch {
		case errors.Is(err, goredis.Nil):
			// Expired between SETNX and GET.
			continue
		case err != nil:
			return "", false, errors.Wrap(err, "read idempotency key")
		case v == pendingMarker:
			return "", false, ErrInProgress
		default:
			return v, false, nil
		}
	}
	return "", false, ErrInProgress
}

// Complete stores the result of a claimed key, keeping its expiry.
func (s *IdempotencyStore) Complete(ctx context.Context, key, result string) error {
	if err := s.client.Set(ctx, idempotencyKeyPrefix+key, result, goredis.KeepTTL).Err(); err != nil {
		return errors.Wrap(err, "complete idempotency key")
	}
	return nil
}

// Release drops a claimed key so the request can be retried.
func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, idempotencyKeyPrefix+key).Err(); err != nil {
		return errors.Wrap(err, "release idempotency key")
	}
	return nil
}
