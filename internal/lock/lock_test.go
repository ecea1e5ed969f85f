package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisLocker(t *testing.T, maxWait time.Duration) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := NewRedisClient(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = client.Close() })
	return &RedisLocker{Client: client, Prefix: "engquiz:", TTL: 10 * time.Second, MaxWait: maxWait}, mr
}

func TestRedisLockerExclusive(t *testing.T) {
	ctx := context.Background()
	locker, mr := newRedisLocker(t, 100*time.Millisecond)

	held, err := locker.Lock(ctx, "cache-storage")
	require.NoError(t, err)
	assert.True(t, mr.Exists("engquiz:lock:cache-storage"))

	_, err = locker.Lock(ctx, "cache-storage")
	assert.ErrorIs(t, err, ErrTimeout)

	require.NoError(t, held.Unlock(ctx))
	assert.False(t, mr.Exists("engquiz:lock:cache-storage"))

	again, err := locker.Lock(ctx, "cache-storage")
	require.NoError(t, err)
	require.NoError(t, again.Unlock(ctx))
}

func TestRedisUnlockKeepsForeignToken(t *testing.T) {
	ctx := context.Background()
	locker, mr := newRedisLocker(t, time.Second)

	held, err := locker.Lock(ctx, "k")
	require.NoError(t, err)

	// Simulate TTL expiry followed by another holder.
	require.NoError(t, mr.Set("engquiz:lock:k", "someone-else"))
	require.NoError(t, held.Unlock(ctx))

	got, err := mr.Get("engquiz:lock:k")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestRedisLockerWaitsForRelease(t *testing.T) {
	ctx := context.Background()
	locker, _ := newRedisLocker(t, 2*time.Second)

	held, err := locker.Lock(ctx, "k")
	require.NoError(t, err)

	go func() {
		time.Sleep(120 * time.Millisecond)
		_ = held.Unlock(ctx)
	}()

	next, err := locker.Lock(ctx, "k")
	require.NoError(t, err)
	require.NoError(t, next.Unlock(ctx))
}

func TestLocalLockerSerializes(t *testing.T) {
	ctx := context.Background()
	locker := NewLocalLocker()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u, err := locker.Lock(ctx, "cache-storage")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			_ = u.Unlock(ctx)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
}

func TestLocalLockerHonorsContext(t *testing.T) {
	locker := NewLocalLocker()
	held, err := locker.Lock(context.Background(), "k")
	require.NoError(t, err)
	defer held.Unlock(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// Other keys are independent.
	other, err := locker.Lock(context.Background(), "other")
	require.NoError(t, err)
	require.NoError(t, other.Unlock(context.Background()))
}
