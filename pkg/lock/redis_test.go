package lock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewRedisLocker_Defaults(t *testing.T) {
	l := NewRedisLocker(nil, RedisConfig{}, nil)
	assert.Equal(t, DefaultRedisConfig(), l.cfg)

	l = NewRedisLocker(nil, RedisConfig{TTL: time.Minute, RetryMin: 2 * time.Second}, nil)
	assert.Equal(t, time.Minute, l.cfg.TTL)
	assert.Equal(t, 2*time.Second, l.cfg.RetryMin)
	assert.Equal(t, 2*time.Second, l.cfg.RetryMax)
}
