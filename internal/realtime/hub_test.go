package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticDirectory map[int][]int

func (d staticDirectory) IsParticipant(_ context.Context, chatID, userID int) (bool, error) {
	for _, id := range d[chatID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func (d staticDirectory) ParticipantIDs(_ context.Context, chatID int) ([]int, error) {
	return d[chatID], nil
}

func newTestHub(t *testing.T, opts Options) *Hub {
	t.Helper()
	h, err := NewHub(NewLocalBroker(), staticDirectory{}, opts)
	require.NoError(t, err)
	go h.Run()
	t.Cleanup(func() { _ = h.Shutdown(time.Second) })
	return h
}

// fakeClient has a send buffer but no socket; the hub never touches the conn.
func fakeClient(h *Hub, id string, userID int, buffer int) *Client {
	return &Client{hub: h, send: make(chan []byte, buffer), ID: id, UserID: userID}
}

func connect(t *testing.T, h *Hub, c *Client) {
	t.Helper()
	h.register <- c
	f := nextFrame(t, c)
	require.Equal(t, EventConnected, f.Event)
}

func nextFrame(t *testing.T, c *Client) Frame {
	t.Helper()
	select {
	case raw, ok := <-c.send:
		require.True(t, ok, "send channel closed")
		var f Frame
		require.NoError(t, json.Unmarshal(raw, &f))
		return f
	case <-time.After(time.Second):
		t.Fatalf("no frame for %s", c.ID)
		return Frame{}
	}
}

func TestHub_EmitSkipsActorAndOfflineIdentities(t *testing.T) {
	h := newTestHub(t, Options{})
	ctx := context.Background()

	actor := fakeClient(h, "a", 1, 8)
	phone := fakeClient(h, "b-phone", 2, 8)
	laptop := fakeClient(h, "b-laptop", 2, 8)
	for _, c := range []*Client{actor, phone, laptop} {
		connect(t, h, c)
	}

	// identity 3 has no connection and must not stop delivery to 2
	require.NoError(t, h.Emit(ctx, EventRenameGroup, []int{1, 2, 3}, map[string]string{"name": "x"}, 1))
	assert.Equal(t, EventRenameGroup, nextFrame(t, phone).Event)
	assert.Equal(t, EventRenameGroup, nextFrame(t, laptop).Event)

	require.NoError(t, h.Emit(ctx, EventNewChat, []int{1}, nil, 0))
	assert.Equal(t, EventNewChat, nextFrame(t, actor).Event, "actor must not have received the rename")
}

func TestHub_EmitWithNoRecipientsIsNoop(t *testing.T) {
	h := newTestHub(t, Options{})
	assert.NoError(t, h.Emit(context.Background(), EventNewChat, []int{4, 4}, nil, 4))
	assert.NoError(t, h.Emit(context.Background(), EventNewChat, nil, nil, 0))
}

func TestHub_JoinSwitchesRoom(t *testing.T) {
	h := newTestHub(t, Options{})
	ctx := context.Background()

	viewer := fakeClient(h, "v", 2, 8)
	connect(t, h, viewer)

	require.True(t, h.requestJoin(viewer, 10))
	require.True(t, h.requestJoin(viewer, 10))
	assert.Equal(t, 1, h.RoomSize(10))

	require.True(t, h.requestJoin(viewer, 11))
	assert.Equal(t, 0, h.RoomSize(10))
	assert.Equal(t, 1, h.RoomSize(11))

	require.NoError(t, h.EmitToChat(ctx, EventTyping, 10, TypingPayload{ChatID: 10}, ""))
	require.NoError(t, h.EmitToChat(ctx, EventTyping, 11, TypingPayload{ChatID: 11}, ""))

	f := nextFrame(t, viewer)
	var p TypingPayload
	require.NoError(t, json.Unmarshal(f.Data, &p))
	assert.Equal(t, 11, p.ChatID, "left chat 10, its typing must not arrive")
}

func TestHub_LeaveChatEvictsOnlyNamedIdentities(t *testing.T) {
	h := newTestHub(t, Options{})
	ctx := context.Background()

	removed := fakeClient(h, "r", 1, 8)
	removedOtherTab := fakeClient(h, "r2", 1, 8)
	stays := fakeClient(h, "s", 2, 8)
	for _, c := range []*Client{removed, removedOtherTab, stays} {
		connect(t, h, c)
	}
	h.requestJoin(removed, 7)
	h.requestJoin(removedOtherTab, 8)
	h.requestJoin(stays, 7)
	require.Equal(t, 2, h.RoomSize(7))

	require.NoError(t, h.LeaveChat(ctx, 7, []int{1}))
	require.Eventually(t, func() bool { return h.RoomSize(7) == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, h.viewing(removed, 7))
	assert.True(t, h.viewing(stays, 7))
	assert.True(t, h.viewing(removedOtherTab, 8), "other chats are untouched")
	assert.Equal(t, 2, h.Connections(1), "eviction keeps the session")

	require.NoError(t, h.LeaveChat(ctx, 7, nil))
}

func TestHub_EmitToChatExcludesSenderConnection(t *testing.T) {
	h := newTestHub(t, Options{})
	ctx := context.Background()

	typist := fakeClient(h, "t", 1, 8)
	viewer := fakeClient(h, "v", 2, 8)
	connect(t, h, typist)
	connect(t, h, viewer)
	h.requestJoin(typist, 5)
	h.requestJoin(viewer, 5)

	require.NoError(t, h.EmitToChat(ctx, EventTyping, 5, TypingPayload{ChatID: 5, SenderConnectionID: "t"}, "t"))
	assert.Equal(t, EventTyping, nextFrame(t, viewer).Event)

	require.NoError(t, h.Emit(ctx, EventNewChat, []int{1}, nil, 0))
	assert.Equal(t, EventNewChat, nextFrame(t, typist).Event)
}

func TestHub_DisconnectReleasesSessionAndRoom(t *testing.T) {
	h := newTestHub(t, Options{})
	c := fakeClient(h, "c", 7, 8)
	connect(t, h, c)
	h.requestJoin(c, 3)
	require.True(t, h.Online(7))

	h.detach(c)
	assert.False(t, h.Online(7))
	assert.Equal(t, 0, h.RoomSize(3))

	_, ok := <-c.send
	assert.False(t, ok, "send channel must be closed")

	// a second unregister of the same client is harmless
	h.detach(c)
}

func TestHub_SlowConsumerIsDropped(t *testing.T) {
	h := newTestHub(t, Options{})
	ctx := context.Background()

	slow := fakeClient(h, "slow", 1, 1)
	fast := fakeClient(h, "fast", 2, 8)
	h.register <- slow // connected frame fills the buffer
	connect(t, h, fast)

	require.NoError(t, h.Emit(ctx, EventNewChat, []int{1, 2}, nil, 0))
	assert.Equal(t, EventNewChat, nextFrame(t, fast).Event)

	require.Eventually(t, func() bool { return !h.Online(1) }, time.Second, 10*time.Millisecond)
	assert.True(t, h.Online(2))
}

func TestHub_ShutdownClosesSessions(t *testing.T) {
	h, err := NewHub(NewLocalBroker(), staticDirectory{}, Options{})
	require.NoError(t, err)
	go h.Run()

	c := fakeClient(h, "c", 1, 8)
	connect(t, h, c)

	require.NoError(t, h.Shutdown(time.Second))
	_, ok := <-c.send
	assert.False(t, ok)
	assert.False(t, h.attach(c))
}

func TestUniqueExcept(t *testing.T) {
	assert.Equal(t, []int{2, 3}, uniqueExcept([]int{1, 2, 2, 0, 3, 1}, 1))
	assert.Empty(t, uniqueExcept([]int{5}, 5))
}

func TestEncodeFrame(t *testing.T) {
	b, err := EncodeFrame(EventConnected, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"connected"}`, string(b))

	b, err = EncodeFrame(EventSocketError, "bad")
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"socketError","data":"bad"}`, string(b))

	b, err = EncodeFrame(EventMessageReceived, json.RawMessage(`{"id":1}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"messageReceived","data":{"id":1}}`, string(b))
}

func TestAuthErrorHidesCause(t *testing.T) {
	cause := assert.AnError
	err := &AuthError{Reason: "invalid token", Err: cause}
	assert.Equal(t, "Authentication error: invalid token", err.Error())
	assert.ErrorIs(t, err, cause)
}
