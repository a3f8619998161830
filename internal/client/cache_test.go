package client

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryCache_ConcurrentMissesShareOneFetch(t *testing.T) {
	c := NewQueryCache()
	var calls atomic.Int32
	release := make(chan struct{})

	fetch := func(context.Context) ([]int, error) {
		calls.Add(1)
		<-release
		return []int{1, 2, 3}, nil
	}

	var started, done sync.WaitGroup
	results := make([][]int, 8)
	for i := range results {
		started.Add(1)
		done.Add(1)
		go func(i int) {
			defer done.Done()
			started.Done()
			v, err := Fetch(context.Background(), c, ChatsKey, fetch)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	started.Wait()
	time.Sleep(50 * time.Millisecond)
	close(release)
	done.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Equal(t, []int{1, 2, 3}, r)
	}

	// served from cache now
	v, err := Fetch(context.Background(), c, ChatsKey, func(context.Context) ([]int, error) {
		t.Fatal("cached key fetched again")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, v)
}

func TestQueryCache_InvalidateRefetches(t *testing.T) {
	c := NewQueryCache()
	n := 0
	fetch := func(context.Context) (int, error) {
		n++
		return n, nil
	}

	v, _ := Fetch(context.Background(), c, MessagesKey(4), fetch)
	assert.Equal(t, 1, v)
	v, _ = Fetch(context.Background(), c, MessagesKey(4), fetch)
	assert.Equal(t, 1, v)

	c.Invalidate(MessagesKey(4))
	c.Invalidate(MessagesKey(4))
	v, _ = Fetch(context.Background(), c, MessagesKey(4), fetch)
	assert.Equal(t, 2, v, "double invalidation costs one fetch")
}

func TestQueryCache_ResultFetchedAcrossInvalidationIsNotStored(t *testing.T) {
	c := NewQueryCache()
	entered := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_, _ = Fetch(context.Background(), c, ChatsKey, func(context.Context) (string, error) {
			close(entered)
			<-release
			return "stale", nil
		})
	}()
	<-entered
	c.Invalidate(ChatsKey)
	close(release)

	v, err := Fetch(context.Background(), c, ChatsKey, func(context.Context) (string, error) {
		return "fresh", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "fresh", v)
}

func TestQueryCache_ErrorsAreNotCached(t *testing.T) {
	c := NewQueryCache()
	boom := errors.New("boom")

	_, err := Fetch(context.Background(), c, ChatsKey, func(context.Context) (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)
	_, ok := c.Peek(ChatsKey)
	assert.False(t, ok)

	v, err := Fetch(context.Background(), c, ChatsKey, func(context.Context) (int, error) { return 5, nil })
	require.NoError(t, err)
	assert.Equal(t, 5, v)
}

func TestQueryCache_InvalidatePrefix(t *testing.T) {
	c := NewQueryCache()
	for _, key := range []string{MessagesKey(1), MessagesKey(2), ChatsKey} {
		_, err := Fetch(context.Background(), c, key, func(context.Context) (string, error) { return key, nil })
		require.NoError(t, err)
	}

	c.InvalidatePrefix("messages:")
	_, ok := c.Peek(MessagesKey(1))
	assert.False(t, ok)
	_, ok = c.Peek(MessagesKey(2))
	assert.False(t, ok)
	_, ok = c.Peek(ChatsKey)
	assert.True(t, ok)
}
