package conversation

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNilLimiterAllowsEverything(t *testing.T) {
	l := NewLimiter(LimitConfig{})
	require.Nil(t, l)
	for range 100 {
		require.True(t, l.Allow("1"))
	}
}

func TestLimiterPerUserBudget(t *testing.T) {
	l := NewLimiter(LimitConfig{Events: 3, Window: time.Minute})

	for range 3 {
		require.True(t, l.Allow("1"))
	}
	require.False(t, l.Allow("1"))
	require.True(t, l.Allow("2"), "users have separate buckets")
}

func TestLimiterReportsFirstRefusalOnly(t *testing.T) {
	l := NewLimiter(LimitConfig{Events: 1, Window: 50 * time.Millisecond, Burst: 1})

	allowed, first := l.Admit("1")
	require.True(t, allowed)
	require.False(t, first)

	allowed, first = l.Admit("1")
	require.False(t, allowed)
	require.True(t, first)

	for range 5 {
		allowed, first = l.Admit("1")
		require.False(t, allowed)
		require.False(t, first, "later refusals in the same run are silent")
	}

	// Once a token is back the next run warns again.
	require.Eventually(t, func() bool {
		ok, _ := l.Admit("1")
		return ok
	}, time.Second, 10*time.Millisecond)
	allowed, first = l.Admit("1")
	require.False(t, allowed)
	require.True(t, first)
}

func TestLimiterCleanupDropsIdleBuckets(t *testing.T) {
	l := NewLimiter(LimitConfig{Events: 10, Window: time.Millisecond, Burst: 1})

	require.True(t, l.Allow("idle"))
	time.Sleep(5 * time.Millisecond)

	l.lastCleanup = time.Now().Add(-2 * limiterCleanupInterval)
	require.True(t, l.Allow("fresh"))

	_, ok := l.limiters.Load("idle")
	require.False(t, ok, "refilled bucket is swept")
}

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	var k keyedMutex
	var (
		mu      sync.Mutex
		active  int
		maxSeen int
		wg      sync.WaitGroup
	)

	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("same")
			defer unlock()

			mu.Lock()
			active++
			maxSeen = max(maxSeen, active)
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Equal(t, 1, maxSeen)
	require.Zero(t, k.size())
}
