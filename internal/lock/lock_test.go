package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/rfpstudio/internal/circuitbreaker"
)

// exercise runs workers that each hold key while bumping a counter and
// fails if two ever overlap.
func exercise(t *testing.T, l Locker, workers int) {
	t.Helper()
	var inside, total int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(context.Background(), "record:1")
			if !assert.NoError(t, err) {
				return
			}
			if atomic.AddInt32(&inside, 1) != 1 {
				t.Errorf("two holders inside the critical section")
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			atomic.AddInt32(&total, 1)
			release()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(workers), total)
}

func TestKeyedMutexExclusive(t *testing.T) {
	km := NewKeyedMutex()
	exercise(t, km, 16)
	assert.Equal(t, 0, km.Len())
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	km := NewKeyedMutex()
	r1, err := km.Acquire(context.Background(), "a")
	require.NoError(t, err)
	r2, err := km.Acquire(context.Background(), "b")
	require.NoError(t, err)
	assert.Equal(t, 2, km.Len())
	r1()
	r2()
	r2() // second release is a no-op
	assert.Equal(t, 0, km.Len())
}

func TestKeyedMutexHonoursContext(t *testing.T) {
	km := NewKeyedMutex()
	release, err := km.Acquire(context.Background(), "a")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = km.Acquire(ctx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, km.Len())
}

func newRedisLocker(t *testing.T, mr *miniredis.Miniredis, cfg RedisConfig) *RedisLocker {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rw := circuitbreaker.NewRedisWrapper(client, "lock-test", circuitbreaker.Settings{}, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = rw.Close() })
	return NewRedisLocker(rw, cfg, zaptest.NewLogger(t))
}

func TestRedisLockerExclusive(t *testing.T) {
	mr := miniredis.RunT(t)
	l := newRedisLocker(t, mr, RedisConfig{RetryDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond})
	exercise(t, l, 8)
	assert.False(t, mr.Exists("rfpstudio:lock:record:1"))
}

func TestRedisLockerWaitsForHolder(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newRedisLocker(t, mr, RedisConfig{RetryDelay: time.Millisecond})
	b := newRedisLocker(t, mr, RedisConfig{RetryDelay: time.Millisecond})

	release, err := a.Acquire(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = b.Acquire(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release2, err := b.Acquire(context.Background(), "k")
	require.NoError(t, err)
	release2()
}

func TestRedisLockerReleaseKeepsForeignLease(t *testing.T) {
	mr := miniredis.RunT(t)
	l := newRedisLocker(t, mr, RedisConfig{TTL: time.Second})

	release, err := l.Acquire(context.Background(), "k")
	require.NoError(t, err)

	// lease expires and another holder takes over
	mr.FastForward(2 * time.Second)
	require.NoError(t, mr.Set("rfpstudio:lock:k", "someone-else"))

	release()
	got, err := mr.Get("rfpstudio:lock:k")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}
