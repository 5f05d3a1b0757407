package match_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavemesh/dgram/match"
)

func matchAny(request, response interface{}) bool { return true }

func matchEqual(request, response interface{}) bool { return request == response }

func TestMatchResolvesExactlyOnce(t *testing.T) {
	t.Parallel()

	q := match.NewQueue()
	defer q.Close()

	owner := "session-1"
	handle := match.NewPending()

	require.NoError(t, q.Add(owner, "req", 5*time.Second, handle, "t"))
	assert.Equal(t, 1, q.Len())

	assert.True(t, q.Match(owner, "resp", "result", matchAny))

	result, err := handle.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "result", result)

	// The occupancy is spent; identical criteria no longer match.
	assert.False(t, q.Match(owner, "resp", "result", matchAny))
	assert.Equal(t, 0, q.Len())
}

func TestMatchRequiresOwner(t *testing.T) {
	t.Parallel()

	q := match.NewQueue()
	defer q.Close()

	handle := match.NewPending()
	require.NoError(t, q.Add("session-1", "req", 5*time.Second, handle, ""))

	assert.False(t, q.Match("session-2", "resp", nil, matchAny))
	assert.True(t, q.Match("session-1", "resp", nil, matchAny))
}

func TestMatchRequiresPredicate(t *testing.T) {
	t.Parallel()

	q := match.NewQueue()
	defer q.Close()

	handle := match.NewPending()
	require.NoError(t, q.Add("s", "req-7", 5*time.Second, handle, ""))

	assert.False(t, q.Match("s", "req-9", nil, matchEqual))
	assert.True(t, q.Match("s", "req-7", nil, matchEqual))
}

func TestLowestIndexSlotWinsTies(t *testing.T) {
	t.Parallel()

	q := match.NewQueue()
	defer q.Close()

	first := match.NewPending()
	second := match.NewPending()

	require.NoError(t, q.Add("s", "a", 5*time.Second, first, ""))
	require.NoError(t, q.Add("s", "b", 5*time.Second, second, ""))

	assert.True(t, q.Match("s", "resp", "one", matchAny))

	result, err := first.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "one", result)
	assert.False(t, second.Resolved())
}

func TestExpiry(t *testing.T) {
	t.Parallel()

	q := match.NewQueue()
	defer q.Close()

	handle := match.NewPending()
	start := time.Now()

	require.NoError(t, q.Add("s", "req", 50*time.Millisecond, handle, ""))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err := handle.Wait(ctx)
	assert.ErrorIs(t, err, match.ErrExpired)

	// Cooperative expiry: worst case is one sweep interval past the
	// deadline.
	assert.WithinDuration(t, start, time.Now(), match.SweepInterval+500*time.Millisecond)

	// The slot is reusable immediately.
	assert.Equal(t, 0, q.Len())
	require.NoError(t, q.Add("s", "req2", 5*time.Second, match.NewPending(), ""))
}

func TestTimeoutNormalization(t *testing.T) {
	t.Parallel()

	q := match.NewQueue()
	defer q.Close()

	// A non-positive timeout takes the 15 s default, so nothing expires
	// within a couple of sweeps.
	handle := match.NewPending()
	require.NoError(t, q.Add("s", "req", 0, handle, ""))

	time.Sleep(2*match.SweepInterval + 200*time.Millisecond)
	assert.False(t, handle.Resolved())
	assert.Equal(t, 1, q.Len())
}

func TestQueueFull(t *testing.T) {
	t.Parallel()

	q := match.NewQueue()
	defer q.Close()

	for i := 0; i < match.DefaultCapacity; i++ {
		require.NoError(t, q.Add("s", i, time.Minute, match.NewPending(), ""))
	}
	assert.Equal(t, match.DefaultCapacity, q.Len())

	err := q.Add("s", "overflow", time.Minute, match.NewPending(), "")
	assert.ErrorIs(t, err, match.ErrFull)
}

func TestClearCancelsEverything(t *testing.T) {
	t.Parallel()

	q := match.NewQueue()

	handles := make([]*match.Pending, 8)
	for i := range handles {
		handles[i] = match.NewPending()
		require.NoError(t, q.Add("s", i, time.Minute, handles[i], ""))
	}

	q.Close()

	for _, handle := range handles {
		_, err := handle.Wait(context.Background())
		assert.ErrorIs(t, err, match.ErrCleared)
	}
	assert.Equal(t, 0, q.Len())
}

func TestAddAfterCloseFails(t *testing.T) {
	t.Parallel()

	q := match.NewQueue()
	q.Close()

	handle := match.NewPending()
	err := q.Add("s", "req", 100*time.Millisecond, handle, "")
	assert.ErrorIs(t, err, match.ErrCleared)
	assert.Equal(t, 0, q.Len())

	// The failed registration must not leave a caller suspended: the error
	// is the signal, and nothing resolves later.
	time.Sleep(50 * time.Millisecond)
	assert.False(t, handle.Resolved())
}

func TestCloseRacingAddNeverStrandsAHandle(t *testing.T) {
	t.Parallel()

	for i := 0; i < 32; i++ {
		q := match.NewQueue()
		handle := match.NewPending()

		errs := make(chan error, 1)
		go func() {
			errs <- q.Add("s", "req", time.Minute, handle, "")
		}()
		q.Close()

		// Whichever way the race went, the caller either got an error from
		// Add or a cancellation through the handle. Never silence.
		if err := <-errs; err != nil {
			assert.ErrorIs(t, err, match.ErrCleared)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_, err := handle.Wait(ctx)
		cancel()
		assert.ErrorIs(t, err, match.ErrCleared)
	}
}

func TestOutcomesAreDistinguishable(t *testing.T) {
	t.Parallel()

	assert.NotErrorIs(t, match.ErrExpired, match.ErrCleared)
	assert.NotErrorIs(t, match.ErrCleared, match.ErrFull)
}

func TestConcurrentAddsNeverShareASlot(t *testing.T) {
	t.Parallel()

	q := match.NewQueue(match.WithCapacity(64))
	defer q.Close()

	var added int32
	var wg sync.WaitGroup

	for i := 0; i < 128; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if q.Add("s", i, time.Minute, match.NewPending(), "") == nil {
				atomic.AddInt32(&added, 1)
			}
		}(i)
	}
	wg.Wait()

	// Exactly the capacity worth of adds may win; every loser got ErrFull.
	assert.Equal(t, int32(64), atomic.LoadInt32(&added))
	assert.Equal(t, 64, q.Len())
}

func TestConcurrentMatchResolvesOnce(t *testing.T) {
	t.Parallel()

	q := match.NewQueue()
	defer q.Close()

	handle := match.NewPending()
	require.NoError(t, q.Add("s", "req", time.Minute, handle, ""))

	var hits int32
	var wg sync.WaitGroup

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if q.Match("s", "resp", "r", matchAny) {
				atomic.AddInt32(&hits, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))

	_, err := handle.Wait(context.Background())
	assert.NoError(t, err)
}

func TestSweeperRestartsAfterDrain(t *testing.T) {
	t.Parallel()

	q := match.NewQueue()
	defer q.Close()

	first := match.NewPending()
	require.NoError(t, q.Add("s", "a", 50*time.Millisecond, first, ""))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err := first.Wait(ctx)
	require.ErrorIs(t, err, match.ErrExpired)

	// Queue drained, sweeper gone. A new short-lived add must still expire.
	second := match.NewPending()
	require.NoError(t, q.Add("s", "b", 50*time.Millisecond, second, ""))

	_, err = second.Wait(ctx)
	assert.ErrorIs(t, err, match.ErrExpired)
}
