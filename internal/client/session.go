package client

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go-chat-live/internal/chat"
	"go-chat-live/internal/realtime"
)

// Session is one signed-in user: the REST API, the event connection and the
// local state a chat screen renders from.
type Session struct {
	API  *API
	Conn *Conn

	cache  *QueryCache
	ledger *Ledger
	peers  *PeerTyping

	// RelayMessages re-broadcasts sent messages over the event connection, for
	// servers running with client relay.
	RelayMessages bool

	mu       sync.Mutex
	selected *chat.Chat
	typing   *TypingDebouncer
	refetch  sync.WaitGroup
}

// NewSession dials the event connection for an API that is already logged in.
func NewSession(ctx context.Context, api *API, opts ...ConnOption) (*Session, error) {
	if api.Token == "" {
		return nil, errors.New("api has no token, login first")
	}
	s := &Session{
		API:    api,
		cache:  NewQueryCache(),
		ledger: NewLedger(),
		peers:  NewPeerTyping(),
	}

	s.Conn = newConn(wsURL(api.BaseURL), api.Token, opts...)
	s.registerHandlers()
	s.Conn.OnReconnect(s.resync)
	if err := s.Conn.Start(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func wsURL(baseURL string) string {
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(baseURL, "https://") + "/ws"
	case strings.HasPrefix(baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(baseURL, "http://") + "/ws"
	default:
		return baseURL + "/ws"
	}
}

func (s *Session) Chats(ctx context.Context) ([]chat.Chat, error) {
	return Fetch(ctx, s.cache, ChatsKey, s.API.ListChats)
}

func (s *Session) Messages(ctx context.Context, chatID int) ([]chat.Message, error) {
	return Fetch(ctx, s.cache, MessagesKey(chatID), func(ctx context.Context) ([]chat.Message, error) {
		return s.API.ListMessages(ctx, chatID)
	})
}

// OpenChat selects c, clears its unread state and joins its typing channel.
func (s *Session) OpenChat(c *chat.Chat) error {
	s.mu.Lock()
	prev := s.typing
	s.selected = c
	chatID := c.ID
	s.typing = NewTypingDebouncer(func(typing bool) { s.emitTyping(chatID, typing) })
	s.mu.Unlock()

	if prev != nil {
		prev.Stop()
	}
	s.ledger.OpenChat(chatID)
	return s.Conn.Emit(realtime.EventJoinChat, chatID)
}

// CloseChat deselects the current chat. The server keeps the connection in
// its typing channel until another chat is joined.
func (s *Session) CloseChat() {
	s.mu.Lock()
	prev := s.typing
	s.selected = nil
	s.typing = nil
	s.mu.Unlock()

	if prev != nil {
		prev.Stop()
	}
	s.ledger.CloseChat()
}

func (s *Session) SelectedChat() *chat.Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// Keystroke feeds the typing debouncer of the selected chat.
func (s *Session) Keystroke() {
	s.mu.Lock()
	d := s.typing
	s.mu.Unlock()
	if d != nil {
		d.Keystroke()
	}
}

func (s *Session) emitTyping(chatID int, typing bool) {
	event := realtime.EventStopTyping
	if typing {
		event = realtime.EventTyping
	}
	// a dropped signal is covered by the peer timeout on the other side
	_ = s.Conn.Emit(event, realtime.TypingPayload{ChatID: chatID})
}

// SendMessage posts content to the selected chat and ends typing.
func (s *Session) SendMessage(ctx context.Context, content string) (*chat.Message, error) {
	s.mu.Lock()
	c, d := s.selected, s.typing
	s.mu.Unlock()
	if c == nil {
		return nil, errors.New("no chat selected")
	}
	if d != nil {
		d.Stop()
	}

	m, err := s.API.SendMessage(ctx, c.ID, content)
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(MessagesKey(c.ID))
	s.cache.Invalidate(ChatsKey)

	if s.RelayMessages {
		if err := s.Conn.Emit(realtime.EventNewMessage, m); err != nil {
			return m, err
		}
	}
	return m, nil
}

// SelectNotification opens the chat a notification points at. The
// notification is only consumed once that chat is found.
func (s *Session) SelectNotification(ctx context.Context, messageID int) (*chat.Chat, error) {
	chatID, ok := s.ledger.NotificationChat(messageID)
	if !ok {
		return nil, errors.New("no such notification")
	}
	chats, err := s.Chats(ctx)
	if err != nil {
		return nil, err
	}
	for i := range chats {
		if chats[i].ID == chatID {
			c := chats[i]
			s.ledger.SelectNotification(messageID)
			return &c, s.OpenChat(&c)
		}
	}
	return nil, chat.ErrChatNotFound
}

func (s *Session) Ledger() *Ledger { return s.ledger }

// PeerTyping reports whether someone else is typing in the selected chat.
func (s *Session) PeerTyping() bool {
	c := s.SelectedChat()
	return c != nil && s.peers.Typing(c.ID)
}

// Close stops typing and the event connection.
func (s *Session) Close() error {
	s.CloseChat()
	err := s.Conn.Close()
	s.refetch.Wait()
	return err
}
