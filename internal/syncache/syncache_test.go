package syncache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/staffroom/staffroom/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countingFetcher(calls *atomic.Int32, payload any) Fetcher {
	return func(context.Context) (any, error) {
		calls.Add(1)
		return payload, nil
	}
}

func TestGet_freshEntryNoFetch(t *testing.T) {
	c := NewCache(testutil.TestLogger(t), time.Minute, time.Hour)
	c.Set("rooms", "cached", time.Minute, time.Hour)

	var calls atomic.Int32
	got, err := c.Get(context.Background(), "rooms", countingFetcher(&calls, "fetched"))
	require.NoError(t, err)
	assert.Equal(t, "cached", got, "expected the cached payload to be served")
	assert.Zero(t, calls.Load(), "expected no fetch for a fresh entry")
}

func TestGet_missFetchesSynchronously(t *testing.T) {
	c := NewCache(testutil.TestLogger(t), time.Minute, time.Hour)

	var calls atomic.Int32
	got, err := c.Get(context.Background(), "rooms", countingFetcher(&calls, "fetched"))
	require.NoError(t, err)
	assert.Equal(t, "fetched", got)
	assert.Equal(t, int32(1), calls.Load())

	// the fetched payload is now cached
	got, err = c.Get(context.Background(), "rooms", countingFetcher(&calls, "fetched-again"))
	require.NoError(t, err)
	assert.Equal(t, "fetched", got)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGet_fetchError(t *testing.T) {
	c := NewCache(testutil.TestLogger(t), time.Minute, time.Hour)

	_, err := c.Get(context.Background(), "rooms", func(context.Context) (any, error) {
		return nil, errors.New("upstream down")
	})
	assert.Error(t, err)

	_, ok := c.Peek("rooms")
	assert.False(t, ok, "expected no entry to be cached on fetch failure")
}

func TestGet_staleWhileRevalidate(t *testing.T) {
	c := NewCache(testutil.TestLogger(t), time.Minute, time.Hour)
	c.Set("messages:7", "stale-page", time.Minute, time.Hour)

	// age the entry past its stale window but before its gc deadline
	c.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	var calls atomic.Int32
	got, err := c.Get(context.Background(), "messages:7", countingFetcher(&calls, "fresh-page"))
	require.NoError(t, err)
	assert.Equal(t, "stale-page", got, "expected the stale payload to be served immediately")

	assert.Eventually(t, func() bool {
		payload, ok := c.Peek("messages:7")
		return ok && payload == "fresh-page"
	}, time.Second, 10*time.Millisecond, "expected the background refetch to replace the entry")
	assert.Equal(t, int32(1), calls.Load())
}

func TestGet_gcExpiredFetchesSynchronously(t *testing.T) {
	c := NewCache(testutil.TestLogger(t), time.Minute, time.Hour)
	c.Set("messages:7", "ancient-page", time.Minute, time.Hour)

	// age the entry past its gc deadline
	c.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	var calls atomic.Int32
	got, err := c.Get(context.Background(), "messages:7", countingFetcher(&calls, "fresh-page"))
	require.NoError(t, err)
	assert.Equal(t, "fresh-page", got, "expected the freshly fetched payload")
	assert.Equal(t, int32(1), calls.Load())
}

func TestInvalidate(t *testing.T) {
	c := NewCache(testutil.TestLogger(t), time.Minute, time.Hour)
	c.Set("rooms", "cached", time.Minute, time.Hour)
	c.Invalidate("rooms")

	var calls atomic.Int32
	got, err := c.Get(context.Background(), "rooms", countingFetcher(&calls, "refetched"))
	require.NoError(t, err)
	assert.Equal(t, "refetched", got, "expected an invalidated entry to be refetched regardless of freshness")
	assert.Equal(t, int32(1), calls.Load())
}

func TestUpdate(t *testing.T) {
	c := NewCache(testutil.TestLogger(t), time.Minute, time.Hour)
	c.Set("messages:7", []string{"a"}, time.Minute, time.Hour)

	c.Update("messages:7", func(payload any) any {
		return append(payload.([]string), "b")
	})

	payload, ok := c.Peek("messages:7")
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, payload)

	// freshness windows are preserved, so no fetch happens
	var calls atomic.Int32
	_, err := c.Get(context.Background(), "messages:7", countingFetcher(&calls, nil))
	require.NoError(t, err)
	assert.Zero(t, calls.Load())
}

func TestUpdate_missingKeyIsNoop(t *testing.T) {
	c := NewCache(testutil.TestLogger(t), time.Minute, time.Hour)
	c.Update("missing", func(payload any) any { return "whoops" })

	_, ok := c.Peek("missing")
	assert.False(t, ok)
}

func TestPrefetch(t *testing.T) {
	t.Run("warms a missing key", func(t *testing.T) {
		c := NewCache(testutil.TestLogger(t), time.Minute, time.Hour)

		var calls atomic.Int32
		c.Prefetch(context.Background(), "rooms", countingFetcher(&calls, "warmed"))

		assert.Eventually(t, func() bool {
			payload, ok := c.Peek("rooms")
			return ok && payload == "warmed"
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("leaves a fresh entry alone", func(t *testing.T) {
		c := NewCache(testutil.TestLogger(t), time.Minute, time.Hour)
		c.Set("rooms", "fresh", time.Minute, time.Hour)

		var calls atomic.Int32
		c.Prefetch(context.Background(), "rooms", countingFetcher(&calls, "warmed"))

		time.Sleep(50 * time.Millisecond)
		assert.Zero(t, calls.Load(), "expected no fetch for a fresh entry")
	})

	t.Run("swallows fetch errors", func(t *testing.T) {
		c := NewCache(testutil.TestLogger(t), time.Minute, time.Hour)
		c.Set("rooms", "stale", time.Minute, time.Hour)
		c.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

		c.Prefetch(context.Background(), "rooms", func(context.Context) (any, error) {
			return nil, errors.New("upstream down")
		})

		assert.Eventually(t, func() bool {
			payload, ok := c.Peek("rooms")
			return ok && payload == "stale"
		}, time.Second, 10*time.Millisecond, "expected the stale payload to remain servable")
	})
}

func TestGet_refetchNotDuplicated(t *testing.T) {
	c := NewCache(testutil.TestLogger(t), time.Minute, time.Hour)
	c.Set("messages:7", "stale-page", time.Minute, time.Hour)
	c.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	block := make(chan struct{})
	var calls atomic.Int32
	fetch := func(context.Context) (any, error) {
		calls.Add(1)
		<-block
		return "fresh-page", nil
	}

	for range 5 {
		_, err := c.Get(context.Background(), "messages:7", fetch)
		require.NoError(t, err)
	}
	close(block)

	assert.Eventually(t, func() bool {
		payload, ok := c.Peek("messages:7")
		return ok && payload == "fresh-page"
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), calls.Load(), "expected a single in-flight refetch")
}
