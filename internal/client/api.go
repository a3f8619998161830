package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go-chat-live/internal/chat"
	"go-chat-live/internal/user"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// API calls the REST endpoints. Token and UserID are filled in by Login.
type API struct {
	BaseURL string
	Token   string
	UserID  int
	HTTP    *http.Client
}

func NewAPI(baseURL string) *API {
	return &API{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (a *API) do(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.BaseURL+path, r)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.Token != "" {
		req.Header.Set("Authorization", "Bearer "+a.Token)
	}

	resp, err := a.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		if json.Unmarshal(raw, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(raw))
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (a *API) Register(ctx context.Context, username, password string) (*user.User, error) {
	var u user.User
	if err := a.do(ctx, http.MethodPost, "/register", user.RegisterRequest{Username: username, Password: password}, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Login stores the returned token and identity on a.
func (a *API) Login(ctx context.Context, username, password string) (*user.LoginResponse, error) {
	var res user.LoginResponse
	if err := a.do(ctx, http.MethodPost, "/login", user.RegisterRequest{Username: username, Password: password}, &res); err != nil {
		return nil, err
	}
	a.Token = res.AccessToken
	a.UserID = res.ID
	return &res, nil
}

func (a *API) SearchUsers(ctx context.Context, query string) ([]user.User, error) {
	var users []user.User
	err := a.do(ctx, http.MethodGet, "/api/users/search?q="+url.QueryEscape(query), nil, &users)
	return users, err
}

func (a *API) GetUser(ctx context.Context, id int) (*user.User, error) {
	var u user.User
	if err := a.do(ctx, http.MethodGet, fmt.Sprintf("/api/users/%d", id), nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (a *API) UpdateProfile(ctx context.Context, req user.UpdateProfileRequest) (*user.User, error) {
	var u user.User
	if err := a.do(ctx, http.MethodPut, "/api/users/profile", req, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (a *API) Block(ctx context.Context, userID int) error {
	return a.do(ctx, http.MethodPost, "/api/users/block", user.BlockRequest{UserID: userID}, nil)
}

func (a *API) Unblock(ctx context.Context, userID int) error {
	return a.do(ctx, http.MethodPost, "/api/users/unblock", user.BlockRequest{UserID: userID}, nil)
}

func (a *API) ListChats(ctx context.Context) ([]chat.Chat, error) {
	var chats []chat.Chat
	err := a.do(ctx, http.MethodGet, "/api/chats", nil, &chats)
	return chats, err
}

func (a *API) CreateChat(ctx context.Context, receiverID int) (*chat.Chat, error) {
	var c chat.Chat
	if err := a.do(ctx, http.MethodPost, "/api/chats", chat.CreateChatRequest{UserID: receiverID}, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (a *API) CreateGroup(ctx context.Context, name string, memberIDs []int) (*chat.Chat, error) {
	var c chat.Chat
	if err := a.do(ctx, http.MethodPost, "/api/chats/group", chat.CreateGroupRequest{Name: name, UserIDs: memberIDs}, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (a *API) RenameGroup(ctx context.Context, chatID int, name string) (*chat.Chat, error) {
	var c chat.Chat
	if err := a.do(ctx, http.MethodPut, fmt.Sprintf("/api/chats/%d/name", chatID), chat.RenameRequest{Name: name}, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (a *API) AddParticipant(ctx context.Context, chatID, userID int) (*chat.Chat, error) {
	var c chat.Chat
	if err := a.do(ctx, http.MethodPost, fmt.Sprintf("/api/chats/%d/participants", chatID), chat.AddParticipantRequest{UserID: userID}, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (a *API) RemoveParticipant(ctx context.Context, chatID, userID int) error {
	return a.do(ctx, http.MethodDelete, fmt.Sprintf("/api/chats/%d/participants/%d", chatID, userID), nil, nil)
}

func (a *API) LeaveGroup(ctx context.Context, chatID int) error {
	return a.do(ctx, http.MethodPost, fmt.Sprintf("/api/chats/%d/leave", chatID), nil, nil)
}

func (a *API) DeleteChat(ctx context.Context, chatID int) error {
	return a.do(ctx, http.MethodDelete, fmt.Sprintf("/api/chats/%d", chatID), nil, nil)
}

func (a *API) ListMessages(ctx context.Context, chatID int) ([]chat.Message, error) {
	var messages []chat.Message
	err := a.do(ctx, http.MethodGet, fmt.Sprintf("/api/chats/%d/messages", chatID), nil, &messages)
	return messages, err
}

func (a *API) SendMessage(ctx context.Context, chatID int, content string) (*chat.Message, error) {
	var m chat.Message
	if err := a.do(ctx, http.MethodPost, fmt.Sprintf("/api/chats/%d/messages", chatID), chat.SendMessageRequest{Content: content}, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (a *API) DeleteMessage(ctx context.Context, chatID, messageID int) (*chat.Chat, error) {
	var c chat.Chat
	if err := a.do(ctx, http.MethodDelete, fmt.Sprintf("/api/chats/%d/messages/%d", chatID, messageID), nil, &c); err != nil {
		return nil, err
	}
	return &c, nil
}
