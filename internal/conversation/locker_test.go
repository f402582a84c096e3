package conversation

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
)

func setupRedisLocker(t *testing.T, ttl time.Duration) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisLocker(rdb, ttl), mr
}

func TestLocalLocker_MutualExclusion(t *testing.T) {
	l := NewLocalLocker()

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "k")
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			n := inside.Add(1)
			for {
				m := maxInside.Load()
				if n <= m || maxInside.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside.Load())
	assert.Empty(t, l.locks, "idle keys are released")
}

func TestLocalLocker_IndependentKeys(t *testing.T) {
	l := NewLocalLocker()
	unlockA, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := l.Lock(ctx, "b")
	require.NoError(t, err)
	unlockB()
}

func TestLocalLocker_UnlockIsIdempotent(t *testing.T) {
	l := NewLocalLocker()
	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)
	unlock()
	unlock()

	again, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)
	again()
}

func TestRedisLocker_AcquireRelease(t *testing.T) {
	l, mr := setupRedisLocker(t, 5*time.Second)

	unlock, err := l.Lock(context.Background(), "u1:u2")
	require.NoError(t, err)
	assert.True(t, mr.Exists(LockPrefix+"u1:u2"))
	assert.Greater(t, mr.TTL(LockPrefix+"u1:u2"), time.Duration(0))

	unlock()
	assert.False(t, mr.Exists(LockPrefix+"u1:u2"))
}

func TestRedisLocker_BlocksUntilReleased(t *testing.T) {
	l, _ := setupRedisLocker(t, 5*time.Second)

	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		second, err := l.Lock(context.Background(), "k")
		if err != nil {
			t.Errorf("second lock: %v", err)
			close(acquired)
			return
		}
		close(acquired)
		second()
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired a held lock")
	case <-time.After(100 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("second holder never acquired the lock")
	}
}

func TestRedisLocker_ContextCancelled(t *testing.T) {
	l, _ := setupRedisLocker(t, 5*time.Second)
	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRedisLocker_StaleUnlockKeepsNewHolder(t *testing.T) {
	l, mr := setupRedisLocker(t, time.Second)

	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)

	// Lease expires; another holder takes over.
	mr.FastForward(2 * time.Second)
	second, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)

	unlock()
	assert.True(t, mr.Exists(LockPrefix+"k"), "stale holder must not release the new lease")
	second()
	assert.False(t, mr.Exists(LockPrefix+"k"))
}
