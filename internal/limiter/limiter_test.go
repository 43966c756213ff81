package limiter

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidation(t *testing.T) {
	_, err := New(0, 0)
	require.Error(t, err)

	_, err = New(10, 5)
	require.Error(t, err, "burst below sustained must be rejected")

	l, err := New(10, 0)
	require.NoError(t, err)
	assert.Equal(t, 10, l.BurstCap(), "zero burst defaults to sustained")
}

func TestSustainedCeilingHolds(t *testing.T) {
	l, err := New(4, 8)
	require.NoError(t, err)

	var current, peak int64
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, l.Acquire(context.Background()))
			defer l.Release()

			n := atomic.AddInt64(&current, 1)
			for {
				p := atomic.LoadInt64(&peak)
				if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt64(&current, -1)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak, int64(4), "sustained tier must never exceed its ceiling")
}

func TestBurstAdmitsMoreThanSustained(t *testing.T) {
	l, err := New(2, 6)
	require.NoError(t, err)

	ctx := context.Background()

	// Fill the sustained tier.
	require.NoError(t, l.Acquire(ctx))
	require.NoError(t, l.Acquire(ctx))

	// Burst callers still get in, up to the burst ceiling.
	for i := 0; i < 4; i++ {
		require.NoError(t, l.AcquireBurst(ctx))
	}

	// Ceiling reached: both tiers now block.
	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.Error(t, l.AcquireBurst(short), "burst ceiling must hold")

	short2, cancel2 := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel2()
	assert.Error(t, l.Acquire(short2), "sustained acquires count against burst too")
}

func TestReleaseOnFailedAcquire(t *testing.T) {
	l, err := New(1, 1)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, l.AcquireBurst(ctx))

	// Sustained acquire gets the sustained slot but fails on burst; the
	// sustained slot must be handed back.
	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Acquire(short))

	l.ReleaseBurst()

	// If the failed acquire leaked its sustained slot this would block.
	ok, cancelOK := context.WithTimeout(ctx, time.Second)
	defer cancelOK()
	require.NoError(t, l.Acquire(ok))
	l.Release()
}
