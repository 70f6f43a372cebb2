//go:build integration

package lock

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run with: TERMIT_TEST_REDIS_ADDR=localhost:6379 go test -tags integration ./pkg/lock/
func TestRedisLocker(t *testing.T) {
	addr := os.Getenv("TERMIT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TERMIT_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })

	l := NewRedisLocker(client, RedisConfig{TTL: 300 * time.Millisecond, RetryMin: 10 * time.Millisecond}, nil)
	key := "doc-" + uuid.NewString()
	ctx := context.Background()

	unlock, err := l.Lock(ctx, key)
	require.NoError(t, err)

	// Held past its TTL thanks to the keep-alive.
	time.Sleep(500 * time.Millisecond)
	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	_, err = l.Lock(short, key)
	cancel()
	assert.True(t, errors.Is(err, ErrLockTimeout))

	unlock()
	unlock()

	again, err := l.Lock(ctx, key)
	require.NoError(t, err)
	again()

	n, err := client.Exists(ctx, keyPrefixLock+key).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}
