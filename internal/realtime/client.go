package realtime

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Send pings to peer with this period. Must be less than pongWait.
	maxMessageSize = 16 * 1024           // Relayed messages carry the whole record.
	lookupTimeout  = 5 * time.Second
)

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	ID       string
	UserID   int
	Username string

	// chat channel this connection is in, owned by the hub loop
	room int

	mu     sync.RWMutex
	closed bool
}

func newClient(hub *Hub, conn *websocket.Conn, userID int, username string) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, hub.opts.SendBuffer),
		ID:       uuid.NewString(),
		UserID:   userID,
		Username: username,
	}
}

// trySend never blocks. It reports false when the buffer is full or the
// connection is already closing.
func (c *Client) trySend(message []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) sendError(msg string) {
	frame, err := EncodeFrame(EventSocketError, msg)
	if err != nil {
		return
	}
	c.trySend(frame)
}

// readPump pumps frames from the websocket connection to the hub, in the order
// the peer sent them.
func (c *Client) readPump() {
	defer func() {
		c.hub.detach(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("conn_id", c.ID).Msg("websocket read failed")
			}
			return
		}

		var f Frame
		if err := json.Unmarshal(message, &f); err != nil {
			c.sendError("malformed frame")
			continue
		}
		if f.Event == EventDisconnect {
			return
		}
		c.handleFrame(f)
	}
}

func (c *Client) handleFrame(f Frame) {
	ctx, cancel := context.WithTimeout(c.hub.ctx, lookupTimeout)
	defer cancel()

	switch f.Event {
	case EventJoinChat:
		var chatID int
		if err := json.Unmarshal(f.Data, &chatID); err != nil || chatID <= 0 {
			c.sendError("invalid chat id")
			return
		}
		ok, err := c.hub.directory.IsParticipant(ctx, chatID, c.UserID)
		if err != nil {
			log.Error().Err(err).Str("conn_id", c.ID).Int("chat_id", chatID).Msg("membership lookup failed")
			c.sendError("could not join chat")
			return
		}
		if !ok {
			c.sendError("you are not a participant of this chat")
			return
		}
		c.hub.requestJoin(c, chatID)

	case EventTyping, EventStopTyping:
		var p TypingPayload
		if err := json.Unmarshal(f.Data, &p); err != nil || p.ChatID == 0 {
			c.sendError("invalid typing payload")
			return
		}
		// the hub evicts removed members, and a removal may not have reached it yet
		if !c.hub.viewing(c, p.ChatID) {
			log.Debug().Str("conn_id", c.ID).Int("chat_id", p.ChatID).Str("event", f.Event).Msg("typing for a chat not joined, ignoring")
			return
		}
		ok, err := c.hub.directory.IsParticipant(ctx, p.ChatID, c.UserID)
		if err != nil || !ok {
			log.Debug().Err(err).Str("conn_id", c.ID).Int("chat_id", p.ChatID).Msg("typing from a non-member, ignoring")
			return
		}
		p.SenderConnectionID = c.ID
		if err := c.hub.EmitToChat(ctx, f.Event, p.ChatID, p, c.ID); err != nil {
			log.Warn().Err(err).Str("conn_id", c.ID).Str("event", f.Event).Msg("typing relay failed")
		}

	case EventNewMessage:
		if !c.hub.opts.ClientRelay {
			log.Debug().Str("conn_id", c.ID).Msg("client relay disabled, ignoring newMessageEvent")
			return
		}
		c.relayMessage(ctx, f.Data)

	default:
		c.sendError("unknown event: " + f.Event)
	}
}

func (c *Client) relayMessage(ctx context.Context, data json.RawMessage) {
	var msg struct {
		ChatID int `json:"chat_id"`
	}
	if err := json.Unmarshal(data, &msg); err != nil || msg.ChatID == 0 {
		c.sendError("invalid message payload")
		return
	}
	ids, err := c.hub.directory.ParticipantIDs(ctx, msg.ChatID)
	if err != nil {
		log.Error().Err(err).Int("chat_id", msg.ChatID).Msg("participant lookup failed")
		return
	}
	if !slices.Contains(ids, c.UserID) {
		c.sendError("you are not a participant of this chat")
		return
	}
	if err := c.hub.Emit(ctx, EventMessageReceived, ids, data, c.UserID); err != nil {
		log.Warn().Err(err).Int("chat_id", msg.ChatID).Msg("message relay failed")
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Batch whatever is already queued into the same frame.
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
