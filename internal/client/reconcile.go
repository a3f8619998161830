package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go-chat-live/internal/chat"
	"go-chat-live/internal/realtime"

	"github.com/rs/zerolog/log"
)

const refetchTimeout = 10 * time.Second

func (s *Session) registerHandlers() {
	s.Conn.On(realtime.EventMessageReceived, s.onMessageReceived)
	s.Conn.On(realtime.EventTyping, s.onTyping(true))
	s.Conn.On(realtime.EventStopTyping, s.onTyping(false))
	s.Conn.On(realtime.EventNewChat, s.onNewChat)
	s.Conn.On(realtime.EventRenameGroup, s.onChatChanged)
	s.Conn.On(realtime.EventLeaveChat, s.onChatChanged)
	s.Conn.On(realtime.EventRemoveChat, s.onRemoveChat)
	s.Conn.On(realtime.EventDeleteMessage, s.onDeleteMessage)
	s.Conn.On(realtime.EventSocketError, s.onSocketError)
	s.Conn.On(realtime.EventDisconnect, func(json.RawMessage) error {
		s.peers.Clear()
		return nil
	})
}

func decodeChat(data json.RawMessage) (*chat.Chat, error) {
	var c chat.Chat
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode chat: %w", err)
	}
	return &c, nil
}

func (s *Session) onMessageReceived(data json.RawMessage) error {
	var m chat.Message
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	s.cache.Invalidate(ChatsKey)
	if s.ledger.OnMessage(m) {
		s.reloadMessages(m.ChatID)
	} else {
		s.cache.Invalidate(MessagesKey(m.ChatID))
	}
	return nil
}

func (s *Session) onTyping(typing bool) Handler {
	return func(data json.RawMessage) error {
		var p realtime.TypingPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("decode typing: %w", err)
		}
		if p.SenderConnectionID == s.Conn.ID() {
			return nil
		}
		if typing {
			s.peers.Start(p.ChatID, p.SenderConnectionID)
		} else {
			s.peers.Stop(p.ChatID, p.SenderConnectionID)
		}
		return nil
	}
}

func (s *Session) onNewChat(json.RawMessage) error {
	s.cache.Invalidate(ChatsKey)
	return nil
}

// onChatChanged handles renames and departures of other participants.
func (s *Session) onChatChanged(data json.RawMessage) error {
	c, err := decodeChat(data)
	if err != nil {
		return err
	}
	s.cache.Invalidate(ChatsKey)

	s.mu.Lock()
	if s.selected != nil && s.selected.ID == c.ID {
		s.selected = c
	}
	s.mu.Unlock()
	return nil
}

// onRemoveChat: we were removed from the chat or it was deleted.
func (s *Session) onRemoveChat(data json.RawMessage) error {
	c, err := decodeChat(data)
	if err != nil {
		return err
	}
	s.cache.Invalidate(ChatsKey)
	s.cache.Invalidate(MessagesKey(c.ID))
	s.ledger.ForgetChat(c.ID)

	s.mu.Lock()
	var d *TypingDebouncer
	if s.selected != nil && s.selected.ID == c.ID {
		s.selected = nil
		d, s.typing = s.typing, nil
	}
	s.mu.Unlock()
	if d != nil {
		d.Stop()
	}
	return nil
}

func (s *Session) onDeleteMessage(data json.RawMessage) error {
	c, err := decodeChat(data)
	if err != nil {
		return err
	}
	s.cache.Invalidate(ChatsKey)
	if s.ledger.Active() == c.ID {
		s.reloadMessages(c.ID)
	} else {
		s.cache.Invalidate(MessagesKey(c.ID))
	}
	return nil
}

func (s *Session) onSocketError(data json.RawMessage) error {
	var msg string
	_ = json.Unmarshal(data, &msg)
	log.Warn().Str("error", msg).Msg("server rejected an event")
	return nil
}

// resync runs after a reconnect. The server forgot our room, and events
// sent while we were away are gone, so everything shown is refetched.
func (s *Session) resync() {
	s.peers.Clear()
	s.cache.InvalidatePrefix(ChatsKey)
	s.cache.InvalidatePrefix("messages:")

	c := s.SelectedChat()
	if c == nil {
		return
	}
	if err := s.Conn.Emit(realtime.EventJoinChat, c.ID); err != nil {
		log.Warn().Err(err).Int("chat_id", c.ID).Msg("rejoin after reconnect failed")
		return
	}
	s.reloadMessages(c.ID)
}

// reloadMessages invalidates the message list of chatID and fetches it again
// in the background so the next read is warm.
func (s *Session) reloadMessages(chatID int) {
	s.cache.Invalidate(MessagesKey(chatID))
	s.refetch.Add(1)
	go func() {
		defer s.refetch.Done()
		ctx, cancel := context.WithTimeout(context.Background(), refetchTimeout)
		defer cancel()
		if _, err := s.Messages(ctx, chatID); err != nil {
			log.Warn().Err(err).Int("chat_id", chatID).Msg("message refetch failed")
		}
	}()
}
