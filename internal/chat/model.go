package chat

import (
	"time"

	"go-chat-live/internal/user"
)

// ---------------------------------------------
// 🗄️ Database & API Models
// ---------------------------------------------

type Chat struct {
	ID            int         `json:"id"`
	Name          string      `json:"name"`
	IsGroup       bool        `json:"is_group"`
	AdminID       int         `json:"admin_id,omitempty"` // groups only
	Participants  []user.User `json:"participants"`
	LatestMessage *Message    `json:"latest_message,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// ParticipantIDs returns the ids of everyone in the chat.
func (c *Chat) ParticipantIDs() []int {
	ids := make([]int, 0, len(c.Participants))
	for _, p := range c.Participants {
		ids = append(ids, p.ID)
	}
	return ids
}

func (c *Chat) HasParticipant(userID int) bool {
	for _, p := range c.Participants {
		if p.ID == userID {
			return true
		}
	}
	return false
}

type Message struct {
	ID        int        `json:"id"`
	ChatID    int        `json:"chat_id"`
	SenderID  int        `json:"sender_id"`
	Sender    *user.User `json:"sender,omitempty"` // 🟢 Denormalized for UI speed (Fetched via JOIN)
	Content   string     `json:"content"`
	CreatedAt time.Time  `json:"created_at"`
}

// ---------------------------------------------
// 📨 Request bodies
// ---------------------------------------------

type CreateChatRequest struct {
	UserID int `json:"user_id"`
}

type CreateGroupRequest struct {
	Name    string `json:"name"`
	UserIDs []int  `json:"user_ids"`
}

type RenameRequest struct {
	Name string `json:"name"`
}

type AddParticipantRequest struct {
	UserID int `json:"user_id"`
}

type SendMessageRequest struct {
	Content string `json:"content"`
}
