//go:build integration

package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts a Redis container and returns a client
func setupRedis(t *testing.T) (*redis.Client, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: endpoint,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}

	cleanup := func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}

	return client, cleanup
}

func TestRedisStore_Integration_LoadEmpty(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	store := NewRedisStore(redisClient)

	_, err := store.Load(context.Background())
	if !errors.Is(err, ErrNoState) {
		t.Errorf("Load() on empty Redis error = %v, want ErrNoState", err)
	}
}

func TestRedisStore_Integration_SaveAndLoad(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	store := NewRedisStore(redisClient)
	ctx := context.Background()

	reset := time.Now().Add(time.Minute).Truncate(time.Second)
	saved := State{
		Remaining: 432,
		Ceiling:   2000,
		ResetAt:   reset,
		UpdatedAt: time.Now().Truncate(time.Second),
		Known:     true,
	}

	if err := store.Save(ctx, saved); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if loaded.Remaining != saved.Remaining {
		t.Errorf("Remaining = %d, want %d", loaded.Remaining, saved.Remaining)
	}
	if loaded.Ceiling != saved.Ceiling {
		t.Errorf("Ceiling = %d, want %d", loaded.Ceiling, saved.Ceiling)
	}
	if !loaded.ResetAt.Equal(reset) {
		t.Errorf("ResetAt = %v, want %v", loaded.ResetAt, reset)
	}
	if !loaded.Known {
		t.Error("loaded state should be known")
	}
}

func TestRedisStore_Integration_TwoLimitersShareState(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	store := NewRedisStore(redisClient)

	writer := NewLimiter(Options{MinSpacing: time.Millisecond, Store: store}, zerolog.Nop())
	reader := NewLimiter(Options{MinSpacing: time.Millisecond, Store: store, StoreMaxAge: time.Millisecond}, zerolog.Nop())

	ctx := context.Background()
	if err := writer.Observe(ctx, rateHeaders(321, 2000, time.Now().Add(time.Minute))); err != nil {
		t.Fatalf("Observe() error = %v", err)
	}

	if err := reader.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if got := reader.Snapshot().Remaining; got != 321 {
		t.Errorf("reader Remaining = %d, want 321 from shared store", got)
	}
}
