package chat

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLockerSerializesSameKey(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	var inside, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(ctx, "session")
			require.NoError(t, err)
			n := atomic.AddInt32(&inside, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), peak)
	assert.Equal(t, 0, locker.size())
}

func TestLocalLockerIndependentKeys(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	unlockA, err := locker.Lock(ctx, "a")
	require.NoError(t, err)
	defer unlockA()

	timeout, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	unlockB, err := locker.Lock(timeout, "b")
	require.NoError(t, err)
	unlockB()
}

func TestLocalLockerHonorsContext(t *testing.T) {
	locker := NewLocalLocker()

	unlock, err := locker.Lock(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()
	assert.Equal(t, 0, locker.size())
}

// TestRedisLocker needs a scratch redis, e.g. REDIS_TEST_ADDR=localhost:6379.
func TestRedisLocker(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })
	locker := NewRedisLocker(client, time.Second, nil)
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "redis-test")
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 80*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(short, "redis-test")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()

	unlock2, err := locker.Lock(ctx, "redis-test")
	require.NoError(t, err)
	unlock2()
}
