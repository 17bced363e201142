package circuitbreaker

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisWrapper wraps a Redis client with a circuit breaker. redis.Nil is a
// cache miss, not a failure.
type RedisWrapper struct {
	client  redis.UniversalClient
	cb      *CircuitBreaker
	service string
}

// NewRedisWrapper creates a Redis wrapper with circuit breaker
func NewRedisWrapper(client redis.UniversalClient, service string, settings Settings, logger *zap.Logger) *RedisWrapper {
	cfg := settings.Or(RedisDefaults()).ToConfig()
	cfg.IsSuccessful = func(err error) bool { return err == nil || errors.Is(err, redis.Nil) }
	cfg = instrument(cfg, "redis", service)
	return &RedisWrapper{
		client:  client,
		cb:      NewCircuitBreaker("redis", cfg, logger),
		service: service,
	}
}

// Do runs fn against the client through the breaker.
func (rw *RedisWrapper) Do(ctx context.Context, fn func(c redis.UniversalClient) error) error {
	err := rw.cb.Execute(ctx, func() error { return fn(rw.client) })
	recordRequest("redis", rw.service, rw.cb.State(), err == nil || errors.Is(err, redis.Nil))
	return err
}

// Ping wraps Redis Ping with circuit breaker
func (rw *RedisWrapper) Ping(ctx context.Context) error {
	return rw.Do(ctx, func(c redis.UniversalClient) error { return c.Ping(ctx).Err() })
}

// Get returns the value at key. A missing key returns redis.Nil.
func (rw *RedisWrapper) Get(ctx context.Context, key string) ([]byte, error) {
	var val []byte
	err := rw.Do(ctx, func(c redis.UniversalClient) error {
		var err error
		val, err = c.Get(ctx, key).Bytes()
		return err
	})
	return val, err
}

// Set wraps Redis Set with circuit breaker
func (rw *RedisWrapper) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return rw.Do(ctx, func(c redis.UniversalClient) error { return c.Set(ctx, key, value, expiration).Err() })
}

// Del wraps Redis Del with circuit breaker
func (rw *RedisWrapper) Del(ctx context.Context, keys ...string) error {
	return rw.Do(ctx, func(c redis.UniversalClient) error { return c.Del(ctx, keys...).Err() })
}

// Close closes the underlying client
func (rw *RedisWrapper) Close() error {
	return rw.client.Close()
}

// IsCircuitBreakerOpen returns true if the circuit breaker is open
func (rw *RedisWrapper) IsCircuitBreakerOpen() bool {
	return rw.cb.State() == StateOpen
}
