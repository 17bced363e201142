package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/rfpstudio/internal/circuitbreaker"
	"github.com/Kocoro-lab/rfpstudio/internal/metrics"
)

// ErrLockLost is logged when a lease expired before release.
var ErrLockLost = errors.New("lock lease lost")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisConfig tunes RedisLocker.
type RedisConfig struct {
	Prefix     string        `mapstructure:"prefix"`
	TTL        time.Duration `mapstructure:"ttl"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
}

// RedisLocker is a lease-based Locker shared by every replica that talks to
// the same Redis. Leases expire after TTL so a crashed holder cannot wedge a
// record forever; TTL must exceed the longest commit.
type RedisLocker struct {
	rw     *circuitbreaker.RedisWrapper
	cfg    RedisConfig
	logger *zap.Logger
}

// NewRedisLocker builds a RedisLocker.
func NewRedisLocker(rw *circuitbreaker.RedisWrapper, cfg RedisConfig, logger *zap.Logger) *RedisLocker {
	if cfg.Prefix == "" {
		cfg.Prefix = "rfpstudio:lock:"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 20 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 500 * time.Millisecond
	}
	return &RedisLocker{rw: rw, cfg: cfg, logger: logger}
}

// Acquire spins with capped exponential backoff until the lease is taken or
// ctx is done.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	start := time.Now()
	redisKey := l.cfg.Prefix + key
	token := uuid.NewString()
	delay := l.cfg.RetryDelay

	for {
		var ok bool
		err := l.rw.Do(ctx, func(c redis.UniversalClient) error {
			var err error
			ok, err = c.SetNX(ctx, redisKey, token, l.cfg.TTL).Result()
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			break
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		if delay *= 2; delay > l.cfg.MaxDelay {
			delay = l.cfg.MaxDelay
		}
	}
	metrics.LockWait.WithLabelValues("redis").Observe(time.Since(start).Seconds())

	return func() {
		// release must run even when the caller's ctx was cancelled
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		var n int64
		err := l.rw.Do(rctx, func(c redis.UniversalClient) error {
			var err error
			n, err = releaseScript.Run(rctx, c, []string{redisKey}, token).Int64()
			return err
		})
		switch {
		case err != nil:
			l.logger.Warn("Failed to release record lock", zap.String("key", key), zap.Error(err))
		case n == 0:
			l.logger.Warn("Record lock expired before release", zap.String("key", key), zap.Error(ErrLockLost))
		}
	}, nil
}
