package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ChatDirectory is the storage view the hub needs to authorize room joins and
// relayed messages.
type ChatDirectory interface {
	IsParticipant(ctx context.Context, chatID, userID int) (bool, error)
	ParticipantIDs(ctx context.Context, chatID int) ([]int, error)
}

type Options struct {
	// ClientRelay re-enables fan-out of client sent newMessageEvent frames.
	// Messages are already dispatched by the server after every write.
	ClientRelay bool
	SendBuffer  int
}

type joinRequest struct {
	client *Client
	chatID int
}

type clientSet map[*Client]struct{}

// Hub owns every live session. All maps are touched by the Run goroutine only.
type Hub struct {
	sessions   clientSet
	identities map[int]clientSet
	rooms      map[int]clientSet

	register   chan *Client
	unregister chan *Client
	join       chan joinRequest
	inspect    chan func()
	deliveries <-chan Delivery

	broker    Broker
	directory ChatDirectory
	opts      Options

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub subscribes to broker right away, so deliveries published after it
// returns are never lost. Call Run to start routing.
func NewHub(broker Broker, directory ChatDirectory, opts Options) (*Hub, error) {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	deliveries, err := broker.Subscribe(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	return &Hub{
		sessions:   make(clientSet),
		identities: make(map[int]clientSet),
		rooms:      make(map[int]clientSet),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		join:       make(chan joinRequest),
		inspect:    make(chan func()),
		deliveries: deliveries,
		broker:     broker,
		directory:  directory,
		opts:       opts,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}, nil
}

func (h *Hub) Run() {
	defer close(h.done)

	deliveries := h.deliveries
	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			h.addSession(client)

		case client := <-h.unregister:
			h.removeSession(client)

		case req := <-h.join:
			h.joinRoom(req.client, req.chatID)

		case d, ok := <-deliveries:
			if !ok {
				log.Error().Msg("broker subscription closed, cross-instance events stopped")
				deliveries = nil
				continue
			}
			h.deliver(d)

		case fn := <-h.inspect:
			fn()
		}
	}
}

func (h *Hub) addSession(c *Client) {
	h.sessions[c] = struct{}{}
	conns, ok := h.identities[c.UserID]
	if !ok {
		conns = make(clientSet)
		h.identities[c.UserID] = conns
	}
	conns[c] = struct{}{}

	if frame, err := EncodeFrame(EventConnected, ConnectedPayload{ConnectionID: c.ID, UserID: c.UserID}); err == nil {
		c.trySend(frame)
	}
	log.Debug().Str("conn_id", c.ID).Int("user_id", c.UserID).Int("sessions", len(h.sessions)).Msg("session registered")
}

func (h *Hub) removeSession(c *Client) {
	if _, ok := h.sessions[c]; !ok {
		return
	}
	delete(h.sessions, c)
	if conns, ok := h.identities[c.UserID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.identities, c.UserID)
		}
	}
	h.leaveRoom(c)
	c.closeSend()
	log.Debug().Str("conn_id", c.ID).Int("user_id", c.UserID).Int("sessions", len(h.sessions)).Msg("session removed")
}

// joinRoom moves c into chatID's channel, leaving whatever chat it viewed before.
func (h *Hub) joinRoom(c *Client, chatID int) {
	if _, ok := h.sessions[c]; !ok || c.room == chatID {
		return
	}
	h.leaveRoom(c)
	members, ok := h.rooms[chatID]
	if !ok {
		members = make(clientSet)
		h.rooms[chatID] = members
	}
	members[c] = struct{}{}
	c.room = chatID
}

func (h *Hub) leaveRoom(c *Client) {
	if c.room == 0 {
		return
	}
	if members, ok := h.rooms[c.room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, c.room)
		}
	}
	c.room = 0
}

func (h *Hub) deliver(d Delivery) {
	if d.Scope == ScopeEvict {
		h.evict(d.ChatID, d.Targets)
		return
	}

	index := h.identities
	if d.Scope == ScopeChat {
		index = h.rooms
	}

	var slow []*Client
	seen := make(clientSet)
	for _, target := range d.Targets {
		if d.Scope == ScopeIdentity && target == d.ExcludeUser {
			continue
		}
		for c := range index[target] {
			if _, dup := seen[c]; dup || c.ID == d.ExcludeConn || c.UserID == d.ExcludeUser {
				continue
			}
			seen[c] = struct{}{}
			if !c.trySend(d.Frame) {
				slow = append(slow, c)
			}
		}
	}

	for _, c := range slow {
		log.Warn().Str("conn_id", c.ID).Int("user_id", c.UserID).Msg("send buffer full, dropping connection")
		h.removeSession(c)
	}
}

// evict takes every local connection of userIDs out of chatID's channel.
func (h *Hub) evict(chatID int, userIDs []int) {
	for _, id := range userIDs {
		for c := range h.identities[id] {
			if c.room == chatID {
				h.leaveRoom(c)
				log.Debug().Str("conn_id", c.ID).Int("user_id", id).Int("chat_id", chatID).Msg("connection evicted from chat")
			}
		}
	}
}

func (h *Hub) shutdownClients() {
	for c := range h.sessions {
		c.closeSend()
	}
	h.sessions = make(clientSet)
	h.identities = make(map[int]clientSet)
	h.rooms = make(map[int]clientSet)
}

// attach registers c and starts its pumps. It reports false once the hub is stopping.
func (h *Hub) attach(c *Client) bool {
	select {
	case <-h.ctx.Done():
		return false
	case h.register <- c:
	}

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		c.writePump()
	}()
	go func() {
		defer h.wg.Done()
		c.readPump()
	}()
	return true
}

func (h *Hub) requestJoin(c *Client, chatID int) bool {
	select {
	case h.join <- joinRequest{client: c, chatID: chatID}:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) detach(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Emit delivers payload to every connection of every participant except
// excludeID. Participants without a live connection are skipped silently.
func (h *Hub) Emit(ctx context.Context, event string, participantIDs []int, payload any, excludeID int) error {
	targets := uniqueExcept(participantIDs, excludeID)
	if len(targets) == 0 {
		return nil
	}
	frame, err := EncodeFrame(event, payload)
	if err != nil {
		return err
	}
	return h.broker.Publish(ctx, Delivery{
		Scope:       ScopeIdentity,
		Targets:     targets,
		ExcludeUser: excludeID,
		Frame:       frame,
	})
}

// EmitToChat delivers payload to the connections viewing chatID, except excludeConn.
func (h *Hub) EmitToChat(ctx context.Context, event string, chatID int, payload any, excludeConn string) error {
	frame, err := EncodeFrame(event, payload)
	if err != nil {
		return err
	}
	return h.broker.Publish(ctx, Delivery{
		Scope:       ScopeChat,
		Targets:     []int{chatID},
		ExcludeConn: excludeConn,
		Frame:       frame,
	})
}

// LeaveChat removes userIDs' connections from chatID's channel on every hub,
// after they were removed from the chat or the chat was deleted.
func (h *Hub) LeaveChat(ctx context.Context, chatID int, userIDs []int) error {
	targets := uniqueExcept(userIDs, 0)
	if len(targets) == 0 {
		return nil
	}
	return h.broker.Publish(ctx, Delivery{Scope: ScopeEvict, Targets: targets, ChatID: chatID})
}

func uniqueExcept(ids []int, exclude int) []int {
	out := make([]int, 0, len(ids))
	seen := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		if id == exclude || id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func (h *Hub) query(fn func()) bool {
	finished := make(chan struct{})
	select {
	case h.inspect <- func() { fn(); close(finished) }:
		<-finished
		return true
	case <-h.done:
		return false
	}
}

// Connections returns how many live connections identity userID has on this hub.
func (h *Hub) Connections(userID int) int {
	n := 0
	h.query(func() { n = len(h.identities[userID]) })
	return n
}

// Online reports whether userID has at least one connection on this hub.
func (h *Hub) Online(userID int) bool {
	return h.Connections(userID) > 0
}

// viewing reports whether c is currently in chatID's channel.
func (h *Hub) viewing(c *Client, chatID int) bool {
	in := false
	h.query(func() {
		_, live := h.sessions[c]
		in = live && c.room == chatID
	})
	return in
}

// RoomSize returns how many connections are viewing chatID on this hub.
func (h *Hub) RoomSize(chatID int) int {
	n := 0
	h.query(func() { n = len(h.rooms[chatID]) })
	return n
}

// Shutdown stops the hub, closes every connection and waits for their pumps.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.cancel()
	<-h.done

	finished := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-time.After(timeout):
		return errors.New("timed out waiting for connections to close")
	}
}
