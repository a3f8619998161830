// Package testhelpers provides in-memory stores and an in-process server for tests.
package testhelpers

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go-chat-live/internal/chat"
	"go-chat-live/internal/user"
)

// clock hands out strictly increasing timestamps so ordering by time is stable.
type clock struct {
	mu   sync.Mutex
	base time.Time
	n    int
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return c.base.Add(time.Duration(c.n) * time.Millisecond)
}

// Users is an in-memory user.Store.
type Users struct {
	mu      sync.RWMutex
	nextID  int
	byID    map[int]user.User
	blocked map[[2]int]bool
}

func NewUsers() *Users {
	return &Users{byID: make(map[int]user.User), blocked: make(map[[2]int]bool)}
}

func (s *Users) CreateUser(_ context.Context, u *user.User) (*user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.byID {
		if existing.Username == u.Username {
			return nil, user.ErrUsernameTaken
		}
	}
	s.nextID++
	u.ID = s.nextID
	s.byID[u.ID] = *u
	return u, nil
}

func (s *Users) GetUserByUsername(_ context.Context, username string) (*user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.byID {
		if u.Username == username {
			return &u, nil
		}
	}
	return nil, user.ErrUserNotFound
}

func (s *Users) GetUserByID(_ context.Context, id int) (*user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return nil, user.ErrUserNotFound
	}
	return &u, nil
}

func (s *Users) SearchUsers(_ context.Context, query string, excludeID int) ([]user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q := strings.ToLower(query)
	out := []user.User{}
	for _, u := range s.byID {
		if u.ID == excludeID {
			continue
		}
		if strings.Contains(strings.ToLower(u.Username), q) || strings.Contains(strings.ToLower(u.Name), q) {
			u.Password = ""
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	if len(out) > 10 {
		out = out[:10]
	}
	return out, nil
}

func (s *Users) UpdateProfile(_ context.Context, u *user.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[u.ID]; !ok {
		return user.ErrUserNotFound
	}
	s.byID[u.ID] = *u
	return nil
}

func (s *Users) Block(_ context.Context, blockerID, blockedID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := [2]int{blockerID, blockedID}
	if s.blocked[k] {
		return user.ErrAlreadyBlocked
	}
	s.blocked[k] = true
	return nil
}

func (s *Users) Unblock(_ context.Context, blockerID, blockedID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := [2]int{blockerID, blockedID}
	if !s.blocked[k] {
		return user.ErrNotBlocked
	}
	delete(s.blocked, k)
	return nil
}

func (s *Users) IsBlocked(_ context.Context, blockerID, blockedID int) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.blocked[[2]int{blockerID, blockedID}], nil
}

type chatRecord struct {
	chat.Chat
	members  []int
	latestID int
}

// Chats is an in-memory chat.Store backed by Users for participant details.
type Chats struct {
	mu       sync.RWMutex
	users    *Users
	clock    *clock
	nextChat int
	nextMsg  int
	chats    map[int]*chatRecord
	messages map[int]chat.Message
}

func NewChats(users *Users) *Chats {
	return &Chats{
		users:    users,
		clock:    &clock{base: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		chats:    make(map[int]*chatRecord),
		messages: make(map[int]chat.Message),
	}
}

// view builds the API shape of rec. Callers hold at least the read lock.
func (s *Chats) view(rec *chatRecord) chat.Chat {
	c := rec.Chat
	c.Participants = make([]user.User, 0, len(rec.members))
	for _, id := range rec.members {
		if u, err := s.users.GetUserByID(context.Background(), id); err == nil {
			u.Password = ""
			c.Participants = append(c.Participants, *u)
		}
	}
	if m, ok := s.messages[rec.latestID]; ok {
		c.LatestMessage = &m
	}
	return c
}

func (s *Chats) ListChats(_ context.Context, userID int) ([]chat.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []chat.Chat{}
	for _, rec := range s.chats {
		for _, id := range rec.members {
			if id == userID {
				out = append(out, s.view(rec))
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *Chats) GetChat(_ context.Context, chatID int) (*chat.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.chats[chatID]
	if !ok {
		return nil, chat.ErrChatNotFound
	}
	c := s.view(rec)
	return &c, nil
}

func (s *Chats) FindOneOnOne(ctx context.Context, a, b int) (*chat.Chat, error) {
	s.mu.RLock()
	var found int
	for id, rec := range s.chats {
		if !rec.IsGroup && contains(rec.members, a) && contains(rec.members, b) {
			found = id
			break
		}
	}
	s.mu.RUnlock()
	if found == 0 {
		return nil, chat.ErrChatNotFound
	}
	return s.GetChat(ctx, found)
}

func (s *Chats) CreateChat(ctx context.Context, name string, isGroup bool, adminID int, memberIDs []int) (*chat.Chat, error) {
	s.mu.Lock()
	s.nextChat++
	now := s.clock.now()
	rec := &chatRecord{
		Chat: chat.Chat{
			ID:        s.nextChat,
			Name:      name,
			IsGroup:   isGroup,
			AdminID:   adminID,
			CreatedAt: now,
			UpdatedAt: now,
		},
		members: append([]int(nil), memberIDs...),
	}
	s.chats[rec.ID] = rec
	s.mu.Unlock()
	return s.GetChat(ctx, rec.ID)
}

func (s *Chats) update(chatID int, fn func(rec *chatRecord) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.chats[chatID]
	if !ok {
		return chat.ErrChatNotFound
	}
	if err := fn(rec); err != nil {
		return err
	}
	rec.UpdatedAt = s.clock.now()
	return nil
}

func (s *Chats) RenameChat(_ context.Context, chatID int, name string) error {
	return s.update(chatID, func(rec *chatRecord) error {
		rec.Name = name
		return nil
	})
}

func (s *Chats) SetAdmin(_ context.Context, chatID, adminID int) error {
	return s.update(chatID, func(rec *chatRecord) error {
		rec.AdminID = adminID
		return nil
	})
}

func (s *Chats) AddParticipant(_ context.Context, chatID, userID int) error {
	return s.update(chatID, func(rec *chatRecord) error {
		if !contains(rec.members, userID) {
			rec.members = append(rec.members, userID)
		}
		return nil
	})
}

func (s *Chats) RemoveParticipant(_ context.Context, chatID, userID int) error {
	return s.update(chatID, func(rec *chatRecord) error {
		for i, id := range rec.members {
			if id == userID {
				rec.members = append(rec.members[:i:i], rec.members[i+1:]...)
				return nil
			}
		}
		return chat.ErrNotParticipant
	})
}

func (s *Chats) DeleteChat(_ context.Context, chatID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[chatID]; !ok {
		return chat.ErrChatNotFound
	}
	delete(s.chats, chatID)
	for id, m := range s.messages {
		if m.ChatID == chatID {
			delete(s.messages, id)
		}
	}
	return nil
}

func (s *Chats) IsParticipant(_ context.Context, chatID, userID int) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.chats[chatID]
	return ok && contains(rec.members, userID), nil
}

func (s *Chats) ParticipantIDs(_ context.Context, chatID int) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.chats[chatID]
	if !ok {
		return nil, chat.ErrChatNotFound
	}
	return append([]int(nil), rec.members...), nil
}

func (s *Chats) ListMessages(_ context.Context, chatID int) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []chat.Message{}
	for _, m := range s.messages {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Chats) GetMessage(_ context.Context, messageID int) (*chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[messageID]
	if !ok {
		return nil, chat.ErrMessageNotFound
	}
	return &m, nil
}

func (s *Chats) CreateMessage(ctx context.Context, chatID, senderID int, content string) (*chat.Message, error) {
	sender, err := s.users.GetUserByID(ctx, senderID)
	if err != nil {
		return nil, err
	}
	sender.Password = ""

	var m chat.Message
	err = s.update(chatID, func(rec *chatRecord) error {
		s.nextMsg++
		m = chat.Message{
			ID:        s.nextMsg,
			ChatID:    chatID,
			SenderID:  senderID,
			Sender:    sender,
			Content:   content,
			CreatedAt: s.clock.now(),
		}
		s.messages[m.ID] = m
		rec.latestID = m.ID
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Chats) DeleteMessage(_ context.Context, chatID, messageID int) error {
	return s.update(chatID, func(rec *chatRecord) error {
		m, ok := s.messages[messageID]
		if !ok || m.ChatID != chatID {
			return chat.ErrMessageNotFound
		}
		delete(s.messages, messageID)
		rec.latestID = 0
		for id, other := range s.messages {
			if other.ChatID == chatID && id > rec.latestID {
				rec.latestID = id
			}
		}
		return nil
	})
}

func contains(ids []int, id int) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
