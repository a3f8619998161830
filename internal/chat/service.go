package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go-chat-live/internal/realtime"
	"go-chat-live/internal/user"

	"github.com/rs/zerolog/log"
)

var (
	ErrChatNotFound       = errors.New("chat not found")
	ErrMessageNotFound    = errors.New("message not found")
	ErrNotAdmin           = errors.New("only the group admin can do this")
	ErrNotParticipant     = errors.New("user is not a participant of this chat")
	ErrAlreadyParticipant = errors.New("user is already a participant of this chat")
	ErrNotGroup           = errors.New("chat is not a group")
	ErrBlocked            = errors.New("messaging is blocked between these users")
	ErrForbidden          = errors.New("you are not allowed to do this")
	ErrInvalidInput       = errors.New("invalid input")
)

const minGroupSize = 3

// Store is the persistence the service needs. *Repository satisfies it.
type Store interface {
	ListChats(ctx context.Context, userID int) ([]Chat, error)
	GetChat(ctx context.Context, chatID int) (*Chat, error)
	FindOneOnOne(ctx context.Context, a, b int) (*Chat, error)
	CreateChat(ctx context.Context, name string, isGroup bool, adminID int, memberIDs []int) (*Chat, error)
	RenameChat(ctx context.Context, chatID int, name string) error
	SetAdmin(ctx context.Context, chatID, adminID int) error
	AddParticipant(ctx context.Context, chatID, userID int) error
	RemoveParticipant(ctx context.Context, chatID, userID int) error
	DeleteChat(ctx context.Context, chatID int) error
	IsParticipant(ctx context.Context, chatID, userID int) (bool, error)
	ParticipantIDs(ctx context.Context, chatID int) ([]int, error)
	ListMessages(ctx context.Context, chatID int) ([]Message, error)
	GetMessage(ctx context.Context, messageID int) (*Message, error)
	CreateMessage(ctx context.Context, chatID, senderID int, content string) (*Message, error)
	DeleteMessage(ctx context.Context, chatID, messageID int) error
}

// Users is what the service needs from the identity collaborator.
type Users interface {
	GetUser(ctx context.Context, id int) (*user.User, error)
	IsBlocked(ctx context.Context, blockerID, blockedID int) (bool, error)
}

// Emitter fans an event out to the live connections of participantIDs.
// LeaveChat stops typing traffic of a chat reaching identities no longer in it.
type Emitter interface {
	Emit(ctx context.Context, event string, participantIDs []int, payload any, excludeID int) error
	LeaveChat(ctx context.Context, chatID int, userIDs []int) error
}

type Service struct {
	store  Store
	users  Users
	events Emitter
}

func NewService(store Store, users Users, events Emitter) *Service {
	return &Service{store: store, users: users, events: events}
}

func (s *Service) evict(ctx context.Context, chatID int, userIDs []int) {
	if err := s.events.LeaveChat(ctx, chatID, userIDs); err != nil {
		log.Warn().Err(err).Int("chat_id", chatID).Msg("chat eviction failed")
	}
}

// emit runs after the write succeeded. Delivery is best effort.
func (s *Service) emit(ctx context.Context, event string, ids []int, payload any, excludeID int) {
	if err := s.events.Emit(ctx, event, ids, payload, excludeID); err != nil {
		log.Warn().Err(err).Str("event", event).Msg("event fan-out failed")
	}
}

func (s *Service) ListChats(ctx context.Context, userID int) ([]Chat, error) {
	return s.store.ListChats(ctx, userID)
}

// GetChat returns the chat if userID takes part in it.
func (s *Service) GetChat(ctx context.Context, chatID, userID int) (*Chat, error) {
	c, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !c.HasParticipant(userID) {
		return nil, ErrNotParticipant
	}
	return c, nil
}

// CreateOneOnOne returns the existing chat between the two users or creates it.
// The boolean reports whether a new chat was made.
func (s *Service) CreateOneOnOne(ctx context.Context, userID, receiverID int) (*Chat, bool, error) {
	if receiverID == 0 {
		return nil, false, fmt.Errorf("%w: receiver is required", ErrInvalidInput)
	}
	if receiverID == userID {
		return nil, false, fmt.Errorf("%w: you cannot chat with yourself", ErrInvalidInput)
	}
	if _, err := s.users.GetUser(ctx, receiverID); err != nil {
		return nil, false, err
	}

	existing, err := s.store.FindOneOnOne(ctx, userID, receiverID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrChatNotFound) {
		return nil, false, err
	}

	c, err := s.store.CreateChat(ctx, "One on one chat", false, 0, []int{userID, receiverID})
	if err != nil {
		return nil, false, err
	}
	s.emit(ctx, realtime.EventNewChat, c.ParticipantIDs(), c, userID)
	return c, true, nil
}

func (s *Service) CreateGroup(ctx context.Context, userID int, req *CreateGroupRequest) (*Chat, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" || len(req.UserIDs) == 0 {
		return nil, fmt.Errorf("%w: please add group name or group participants", ErrInvalidInput)
	}

	members := []int{userID}
	seen := map[int]bool{userID: true}
	for _, id := range req.UserIDs {
		if id == 0 || seen[id] {
			continue
		}
		seen[id] = true
		members = append(members, id)
	}
	if len(members) < minGroupSize {
		return nil, fmt.Errorf("%w: group should have %d members, add more members", ErrInvalidInput, minGroupSize)
	}
	for _, id := range members[1:] {
		if _, err := s.users.GetUser(ctx, id); err != nil {
			return nil, err
		}
	}

	c, err := s.store.CreateChat(ctx, name, true, userID, members)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, realtime.EventNewChat, c.ParticipantIDs(), c, userID)
	return c, nil
}

// adminGroup loads chatID and checks that it is a group administered by userID.
func (s *Service) adminGroup(ctx context.Context, chatID, userID int) (*Chat, error) {
	c, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !c.IsGroup {
		return nil, ErrNotGroup
	}
	if c.AdminID != userID {
		return nil, ErrNotAdmin
	}
	return c, nil
}

func (s *Service) RenameGroup(ctx context.Context, chatID, userID int, name string) (*Chat, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: group name is required", ErrInvalidInput)
	}
	if _, err := s.adminGroup(ctx, chatID, userID); err != nil {
		return nil, err
	}
	if err := s.store.RenameChat(ctx, chatID, name); err != nil {
		return nil, err
	}

	c, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, realtime.EventRenameGroup, c.ParticipantIDs(), c, userID)
	return c, nil
}

func (s *Service) AddParticipant(ctx context.Context, chatID, userID, participantID int) (*Chat, error) {
	c, err := s.adminGroup(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}
	if c.HasParticipant(participantID) {
		return nil, ErrAlreadyParticipant
	}
	if _, err := s.users.GetUser(ctx, participantID); err != nil {
		return nil, err
	}
	if err := s.store.AddParticipant(ctx, chatID, participantID); err != nil {
		return nil, err
	}

	c, err = s.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, realtime.EventNewChat, []int{participantID}, c, userID)
	return c, nil
}

// RemoveParticipant returns the chat after removal, or nil when the group was
// left empty and deleted.
func (s *Service) RemoveParticipant(ctx context.Context, chatID, userID, participantID int) (*Chat, error) {
	c, err := s.adminGroup(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}
	if !c.HasParticipant(participantID) {
		return nil, ErrNotParticipant
	}

	updated, err := s.dropParticipant(ctx, c, participantID)
	if err != nil {
		return nil, err
	}
	payload := updated
	if payload == nil {
		payload = c
	}
	s.emit(ctx, realtime.EventRemoveChat, []int{participantID}, payload, userID)
	return updated, nil
}

// LeaveGroup removes userID from the group and tells the remaining members.
func (s *Service) LeaveGroup(ctx context.Context, chatID, userID int) (*Chat, error) {
	c, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !c.IsGroup {
		return nil, ErrNotGroup
	}
	if !c.HasParticipant(userID) {
		return nil, ErrNotParticipant
	}

	updated, err := s.dropParticipant(ctx, c, userID)
	if err != nil {
		return nil, err
	}
	if updated != nil {
		s.emit(ctx, realtime.EventLeaveChat, updated.ParticipantIDs(), updated, userID)
	}
	return updated, nil
}

// dropParticipant hands the admin role to the first remaining member when the
// admin goes, and deletes a group nobody is left in.
func (s *Service) dropParticipant(ctx context.Context, c *Chat, participantID int) (*Chat, error) {
	if err := s.store.RemoveParticipant(ctx, c.ID, participantID); err != nil {
		return nil, err
	}
	s.evict(ctx, c.ID, []int{participantID})

	remaining := make([]int, 0, len(c.Participants))
	for _, id := range c.ParticipantIDs() {
		if id != participantID {
			remaining = append(remaining, id)
		}
	}
	if len(remaining) == 0 {
		if err := s.store.DeleteChat(ctx, c.ID); err != nil {
			return nil, err
		}
		return nil, nil
	}
	if c.AdminID == participantID {
		if err := s.store.SetAdmin(ctx, c.ID, remaining[0]); err != nil {
			return nil, err
		}
	}
	return s.store.GetChat(ctx, c.ID)
}

// DeleteChat deletes the chat with its messages. Groups can only be deleted by
// their admin; either side of a one on one chat may delete it.
func (s *Service) DeleteChat(ctx context.Context, chatID, userID int) (*Chat, error) {
	c, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !c.HasParticipant(userID) {
		return nil, ErrNotParticipant
	}
	if c.IsGroup && c.AdminID != userID {
		return nil, ErrNotAdmin
	}
	if err := s.store.DeleteChat(ctx, chatID); err != nil {
		return nil, err
	}
	s.evict(ctx, chatID, c.ParticipantIDs())
	s.emit(ctx, realtime.EventRemoveChat, c.ParticipantIDs(), c, userID)
	return c, nil
}

func (s *Service) ListMessages(ctx context.Context, chatID, userID int) ([]Message, error) {
	if err := s.requireParticipant(ctx, chatID, userID); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, chatID)
}

func (s *Service) requireParticipant(ctx context.Context, chatID, userID int) error {
	ok, err := s.store.IsParticipant(ctx, chatID, userID)
	if err != nil {
		return err
	}
	if !ok {
		if _, err := s.store.GetChat(ctx, chatID); err != nil {
			return err
		}
		return ErrNotParticipant
	}
	return nil
}

// SendMessage stores the message and pushes messageReceived to the other participants.
func (s *Service) SendMessage(ctx context.Context, chatID, senderID int, content string) (*Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: message content is required", ErrInvalidInput)
	}
	c, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !c.HasParticipant(senderID) {
		return nil, ErrNotParticipant
	}
	if !c.IsGroup {
		if err := s.checkBlocked(ctx, c, senderID); err != nil {
			return nil, err
		}
	}

	m, err := s.store.CreateMessage(ctx, chatID, senderID, content)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, realtime.EventMessageReceived, c.ParticipantIDs(), m, senderID)
	return m, nil
}

func (s *Service) checkBlocked(ctx context.Context, c *Chat, senderID int) error {
	for _, other := range c.ParticipantIDs() {
		if other == senderID {
			continue
		}
		for _, pair := range [][2]int{{senderID, other}, {other, senderID}} {
			blocked, err := s.users.IsBlocked(ctx, pair[0], pair[1])
			if err != nil {
				return err
			}
			if blocked {
				return ErrBlocked
			}
		}
	}
	return nil
}

// DeleteMessage lets a sender delete their own message and a group admin
// delete any message of the group. The updated chat goes to the others.
func (s *Service) DeleteMessage(ctx context.Context, chatID, messageID, userID int) (*Chat, error) {
	c, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !c.HasParticipant(userID) {
		return nil, ErrNotParticipant
	}
	m, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if m.ChatID != chatID {
		return nil, ErrMessageNotFound
	}
	if m.SenderID != userID && !(c.IsGroup && c.AdminID == userID) {
		return nil, ErrForbidden
	}

	if err := s.store.DeleteMessage(ctx, chatID, messageID); err != nil {
		return nil, err
	}
	updated, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, realtime.EventDeleteMessage, updated.ParticipantIDs(), updated, userID)
	return updated, nil
}

// IsParticipant and ParticipantIDs let the realtime hub authorize room joins.
func (s *Service) IsParticipant(ctx context.Context, chatID, userID int) (bool, error) {
	return s.store.IsParticipant(ctx, chatID, userID)
}

func (s *Service) ParticipantIDs(ctx context.Context, chatID int) ([]int, error) {
	return s.store.ParticipantIDs(ctx, chatID)
}
