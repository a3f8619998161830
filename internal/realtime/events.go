// Package realtime routes chat events to live websocket connections.
//
// Every connection belongs to exactly one identity. Events addressed to an
// identity reach all of its connections; events addressed to a chat reach the
// connections currently viewing that chat (typing indicators only).
package realtime

import (
	"encoding/json"
	"fmt"
)

const (
	EventConnected       = "connected"
	EventDisconnect      = "disconnect"
	EventJoinChat        = "joinChatEvent"
	EventTyping          = "typingEvent"
	EventStopTyping      = "stopTypingEvent"
	EventNewMessage      = "newMessageEvent"
	EventMessageReceived = "messageReceived"
	EventRenameGroup     = "renameGroupEvent"
	EventNewChat         = "newChatEvent"
	EventRemoveChat      = "removeChatEvent"
	EventLeaveChat       = "leaveChatEvent"
	EventDeleteMessage   = "deleteMessageEvent"
	EventSocketError     = "socketError"
)

// Frame is the envelope of every websocket text message in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ConnectedPayload confirms registration to a new connection.
type ConnectedPayload struct {
	ConnectionID string `json:"connectionId"`
	UserID       int    `json:"userId"`
}

// TypingPayload is relayed on the chat channel. SenderConnectionID is stamped by
// the server so the sending connection can drop its own echo.
type TypingPayload struct {
	ChatID             int    `json:"chatId"`
	SenderConnectionID string `json:"senderConnectionId,omitempty"`
}

// EncodeFrame marshals payload under the given event name. A nil payload
// produces a frame without data.
func EncodeFrame(event string, payload any) ([]byte, error) {
	f := Frame{Event: event}
	if payload != nil {
		raw, ok := payload.(json.RawMessage)
		if !ok {
			b, err := json.Marshal(payload)
			if err != nil {
				return nil, fmt.Errorf("encode %s payload: %w", event, err)
			}
			raw = b
		}
		f.Data = raw
	}
	return json.Marshal(f)
}

// AuthError is returned by the handshake when the bearer token is missing,
// invalid, or names an identity that no longer exists.
type AuthError struct {
	Reason string
	Err    error
}

// Error is what the client sees in the socketError frame, so the cause stays out of it.
func (e *AuthError) Error() string {
	return "Authentication error: " + e.Reason
}

func (e *AuthError) Unwrap() error { return e.Err }
