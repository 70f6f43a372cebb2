package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/MichalMed/termit/pkg/logging"
)

// Redis key prefix for document locks
const keyPrefixLock = "termit:lock:"

// releaseScript deletes the lock only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript refreshes the TTL only if the lock still carries our token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisConfig tunes a RedisLocker.
type RedisConfig struct {
	// TTL bounds how long a crashed holder keeps the lock.
	TTL time.Duration
	// RetryMin and RetryMax bound the backoff between acquisition attempts.
	RetryMin time.Duration
	RetryMax time.Duration
}

// DefaultRedisConfig returns the default lock settings.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		TTL:      30 * time.Second,
		RetryMin: 50 * time.Millisecond,
		RetryMax: time.Second,
	}
}

// RedisLocker is a Locker shared by every termit process using the same
// Redis. While a lock is held its TTL is refreshed in the background.
type RedisLocker struct {
	client redis.Cmdable
	cfg    RedisConfig
	logger logging.Logger
}

// NewRedisLocker creates a RedisLocker. Zero config fields take defaults.
func NewRedisLocker(client redis.Cmdable, cfg RedisConfig, logger logging.Logger) *RedisLocker {
	def := DefaultRedisConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.RetryMin <= 0 {
		cfg.RetryMin = def.RetryMin
	}
	if cfg.RetryMax < cfg.RetryMin {
		cfg.RetryMax = max(def.RetryMax, cfg.RetryMin)
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &RedisLocker{client: client, cfg: cfg, logger: logger}
}

// Lock acquires key with SET NX PX, retrying with exponential backoff.
func (l *RedisLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	redisKey := keyPrefixLock + key
	token := uuid.New().String()
	wait := l.cfg.RetryMin

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.cfg.TTL).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrLockTimeout, key, ctx.Err())
			}
			return nil, fmt.Errorf("acquiring lock %s: %w", key, err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %s: %w", ErrLockTimeout, key, ctx.Err())
		case <-timer.C:
		}
		wait = min(wait*2, l.cfg.RetryMax)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(redisKey, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			// The caller's context may already be cancelled.
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(rctx, l.client, []string{redisKey}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
				l.logger.Warn("failed to release lock", logging.F("key", key), logging.Err(err))
			}
		})
	}, nil
}

func (l *RedisLocker) keepAlive(redisKey, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.cfg.TTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.cfg.TTL/3)
			n, err := extendScript.Run(ctx, l.client, []string{redisKey}, token, l.cfg.TTL.Milliseconds()).Int()
			cancel()
			if err != nil {
				l.logger.Warn("failed to extend lock", logging.F("key", redisKey), logging.Err(err))
				continue
			}
			if n == 0 {
				l.logger.Error("lock lost before release", logging.F("key", redisKey))
				return
			}
		}
	}
}
