package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis keys for shared rate limit state.
const (
	redisKeyRemaining  = "glbatch:rate_limit:remaining"
	redisKeyCeiling    = "glbatch:rate_limit:ceiling"
	redisKeyResetAt    = "glbatch:rate_limit:reset_timestamp"
	redisKeyLastUpdate = "glbatch:rate_limit:last_update"
)

// redisStateTTL bounds how long stale shared state survives. A window reset
// plus generous slack; callers sharing a token refresh it constantly anyway.
const redisStateTTL = 10 * time.Minute

// RedisStore persists rate limit state in Redis so that multiple processes
// sharing one credential see a single quota view.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed state store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Load retrieves the shared state. Returns ErrNoState when nothing has been
// stored yet.
func (s *RedisStore) Load(ctx context.Context) (*State, error) {
	remaining, err := s.client.Get(ctx, redisKeyRemaining).Int()
	if err == redis.Nil {
		return nil, ErrNoState
	}
	if err != nil {
		return nil, fmt.Errorf("get remaining quota: %w", err)
	}

	ceiling, err := s.client.Get(ctx, redisKeyCeiling).Int()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get quota ceiling: %w", err)
	}

	resetUnix, err := s.client.Get(ctx, redisKeyResetAt).Int64()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get reset timestamp: %w", err)
	}

	var updatedAt time.Time
	updateStr, err := s.client.Get(ctx, redisKeyLastUpdate).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get last update: %w", err)
	}
	if updateStr != "" {
		if err := json.Unmarshal([]byte(updateStr), &updatedAt); err != nil {
			return nil, fmt.Errorf("parse last update: %w", err)
		}
	}

	return &State{
		Remaining: remaining,
		Ceiling:   ceiling,
		ResetAt:   time.Unix(resetUnix, 0),
		UpdatedAt: updatedAt,
		Known:     true,
	}, nil
}

// Save stores the shared state atomically.
func (s *RedisStore) Save(ctx context.Context, state State) error {
	updateJSON, err := json.Marshal(state.UpdatedAt)
	if err != nil {
		return fmt.Errorf("marshal last update: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, redisKeyRemaining, state.Remaining, redisStateTTL)
	pipe.Set(ctx, redisKeyCeiling, state.Ceiling, redisStateTTL)
	pipe.Set(ctx, redisKeyResetAt, state.ResetAt.Unix(), redisStateTTL)
	pipe.Set(ctx, redisKeyLastUpdate, updateJSON, redisStateTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store rate limit state in redis: %w", err)
	}
	return nil
}
