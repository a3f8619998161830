package client

import (
	"strconv"
	"sync"

	"go-chat-live/internal/chat"
)

// BadgeCap is the largest unread count shown as a number.
const BadgeCap = 9

type Notification struct {
	MessageID  int    `json:"message_id"`
	ChatID     int    `json:"chat_id"`
	SenderID   int    `json:"sender_id"`
	SenderName string `json:"sender_name"`
	Preview    string `json:"preview"`
}

// Ledger keeps notifications and unread counts for chats other than the
// active one. Both are keyed by message id, so a repeated delivery is a no-op.
// Nothing survives a restart.
type Ledger struct {
	mu            sync.Mutex
	active        int
	notifications []Notification
	unread        map[int]map[int]struct{} // chat id -> message ids
}

func NewLedger() *Ledger {
	return &Ledger{unread: make(map[int]map[int]struct{})}
}

// OnMessage records m and reports whether it belongs to the active chat, in
// which case nothing is recorded and the caller should refetch that chat.
func (l *Ledger) OnMessage(m chat.Message) (refetch bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if m.ChatID == l.active {
		return true
	}

	exists := false
	for _, n := range l.notifications {
		if n.MessageID == m.ID {
			exists = true
			break
		}
	}
	if !exists {
		n := Notification{MessageID: m.ID, ChatID: m.ChatID, SenderID: m.SenderID, Preview: m.Content}
		if m.Sender != nil {
			n.SenderName = m.Sender.Name
			if n.SenderName == "" {
				n.SenderName = m.Sender.Username
			}
		}
		l.notifications = append(l.notifications, n)
	}

	entries, ok := l.unread[m.ChatID]
	if !ok {
		entries = make(map[int]struct{})
		l.unread[m.ChatID] = entries
	}
	entries[m.ID] = struct{}{}
	return false
}

// OpenChat makes chatID active and clears its notifications and unread entries.
func (l *Ledger) OpenChat(chatID int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.active = chatID
	l.forget(chatID)
}

// CloseChat leaves no chat active.
func (l *Ledger) CloseChat() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.active = 0
}

func (l *Ledger) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// NotificationChat returns the chat a notification points at without removing it.
func (l *Ledger) NotificationChat(messageID int) (chatID int, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, n := range l.notifications {
		if n.MessageID == messageID {
			return n.ChatID, true
		}
	}
	return 0, false
}

// SelectNotification removes one notification and returns the chat it points at.
func (l *Ledger) SelectNotification(messageID int) (chatID int, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, n := range l.notifications {
		if n.MessageID == messageID {
			l.notifications = append(l.notifications[:i], l.notifications[i+1:]...)
			return n.ChatID, true
		}
	}
	return 0, false
}

func (l *Ledger) Dismiss(messageID int) {
	l.SelectNotification(messageID)
}

// ForgetChat drops everything recorded for a chat that no longer exists for us.
func (l *Ledger) ForgetChat(chatID int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.forget(chatID)
	if l.active == chatID {
		l.active = 0
	}
}

func (l *Ledger) forget(chatID int) {
	delete(l.unread, chatID)
	kept := l.notifications[:0]
	for _, n := range l.notifications {
		if n.ChatID != chatID {
			kept = append(kept, n)
		}
	}
	l.notifications = kept
}

func (l *Ledger) Notifications() []Notification {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Notification(nil), l.notifications...)
}

func (l *Ledger) NotificationCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.notifications)
}

func (l *Ledger) UnreadCount(chatID int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.unread[chatID])
}

// Badge is the unread label for chatID: empty, a count, or "9+".
func (l *Ledger) Badge(chatID int) string {
	n := l.UnreadCount(chatID)
	switch {
	case n == 0:
		return ""
	case n > BadgeCap:
		return strconv.Itoa(BadgeCap) + "+"
	default:
		return strconv.Itoa(n)
	}
}

func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.active = 0
	l.notifications = nil
	l.unread = make(map[int]map[int]struct{})
}
