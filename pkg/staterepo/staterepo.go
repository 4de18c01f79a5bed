package staterepo

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// Config bundles the Redis and S3 configuration for a StateRepo.
type Config struct {
	Redis RedisConfig
	S3    S3Config
}

// StateRepo implements engine.WebhookStateRepo: reads prefer the Redis fast
// path and fall back to the S3 durable copy on a cache miss (repopulating
// the cache); writes go to S3 first, since it is the source of truth, then
// to Redis, guarded by a short-lived distributed lock so two writers never
// interleave.
type StateRepo struct {
	cache   *redisCache
	durable *s3Durable
}

// New connects the Redis cache and S3 client described by cfg.
func New(ctx context.Context, cfg Config) (*StateRepo, error) {
	cache, err := newRedisCache(cfg.Redis)
	if err != nil {
		return nil, err
	}
	durable, err := newS3Durable(ctx, cfg.S3)
	if err != nil {
		return nil, err
	}
	return &StateRepo{cache: cache, durable: durable}, nil
}

// RedisClient exposes the underlying Redis connection for health checks.
func (s *StateRepo) RedisClient() *redis.Client {
	return s.cache.client
}

// PingDurable checks that the S3 durable copy's bucket is reachable, for
// health checks.
func (s *StateRepo) PingDurable(ctx context.Context) error {
	return s.durable.ping(ctx)
}

// GetState implements engine.WebhookStateRepo.
func (s *StateRepo) GetState(ctx context.Context) ([]byte, bool, error) {
	if blob, ok, err := s.cache.get(ctx); err == nil && ok {
		return blob, true, nil
	}

	blob, ok, err := s.durable.get(ctx)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	// Best-effort cache repopulation; a failure here must not fail the read.
	_ = s.cache.set(ctx, blob)
	return blob, true, nil
}

// SetState implements engine.WebhookStateRepo.
func (s *StateRepo) SetState(ctx context.Context, blob []byte) error {
	acquired, err := s.cache.lock(ctx)
	if err != nil {
		// Redis being unreachable must not block the durable write; the
		// lock only protects against concurrent writers, which is moot if
		// Redis itself is down.
		acquired = true
	} else if !acquired {
		return fmt.Errorf("staterepo: checkpoint write already in progress")
	}
	if acquired {
		defer s.cache.unlock(ctx)
	}

	if err := s.durable.put(ctx, blob); err != nil {
		return err
	}
	return s.cache.set(ctx, blob)
}

// Close releases the Redis connection.
func (s *StateRepo) Close() error {
	return s.cache.close()
}
