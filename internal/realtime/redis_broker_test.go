package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisBroker_DeliversAcrossHubs(t *testing.T) {
	mr := miniredis.RunT(t)

	newInstance := func() *Hub {
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { rdb.Close() })
		h, err := NewHub(NewRedisBroker(rdb, ""), staticDirectory{}, Options{})
		require.NoError(t, err)
		go h.Run()
		t.Cleanup(func() { _ = h.Shutdown(time.Second) })
		return h
	}
	first := newInstance()
	second := newInstance()

	local := fakeClient(first, "local", 1, 8)
	remote := fakeClient(second, "remote", 2, 8)
	connect(t, first, local)
	connect(t, second, remote)

	// emitted on the first instance, identity 2 lives on the second
	require.NoError(t, first.Emit(context.Background(), EventRemoveChat, []int{1, 2}, map[string]int{"id": 9}, 1))
	f := nextFrame(t, remote)
	assert.Equal(t, EventRemoveChat, f.Event)
	assert.JSONEq(t, `{"id":9}`, string(f.Data))

	require.NoError(t, second.Emit(context.Background(), EventNewChat, []int{1}, nil, 0))
	assert.Equal(t, EventNewChat, nextFrame(t, local).Event, "actor must not have received removeChatEvent")
}

func TestRedisBroker_SubscribeFailsWithoutRedis(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	defer rdb.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := NewRedisBroker(rdb, "x").Subscribe(ctx)
	assert.Error(t, err)
}
