package server_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"go-chat-live/internal/chat"
	"go-chat-live/internal/testhelpers"
	"go-chat-live/internal/user"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthz(t *testing.T) {
	srv := testhelpers.NewServer(t, testhelpers.WithCheck("postgres", func(context.Context) error { return nil }))

	var body map[string]string
	srv.DoJSON(t, http.MethodGet, "/healthz", "", nil, http.StatusOK, &body)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "ok", body["postgres"])
}

func TestHealthz_Degraded(t *testing.T) {
	srv := testhelpers.NewServer(t,
		testhelpers.WithCheck("postgres", func(context.Context) error { return nil }),
		testhelpers.WithCheck("redis", func(context.Context) error { return errors.New("connection refused") }),
	)

	var body map[string]string
	srv.DoJSON(t, http.MethodGet, "/healthz", "", nil, http.StatusServiceUnavailable, &body)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "connection refused", body["redis"])
	assert.Equal(t, "ok", body["postgres"])
}

func TestRegisterLoginAndProtectedRoutes(t *testing.T) {
	srv := testhelpers.NewServer(t)
	creds := map[string]string{"username": "alice", "password": "password"}

	srv.DoJSON(t, http.MethodPost, "/register", "", creds, http.StatusCreated, nil)
	srv.DoJSON(t, http.MethodPost, "/register", "", creds, http.StatusConflict, nil)

	var login user.LoginResponse
	srv.DoJSON(t, http.MethodPost, "/login", "", creds, http.StatusOK, &login)
	require.NotEmpty(t, login.AccessToken)

	srv.DoJSON(t, http.MethodGet, "/api/chats", "", nil, http.StatusUnauthorized, nil)
	srv.DoJSON(t, http.MethodGet, "/api/chats", "nope", nil, http.StatusUnauthorized, nil)

	var chats []chat.Chat
	srv.DoJSON(t, http.MethodGet, "/api/chats", login.AccessToken, nil, http.StatusOK, &chats)
	assert.Empty(t, chats)
}

func TestChatRoutes(t *testing.T) {
	srv := testhelpers.NewServer(t)
	alice := srv.Register(t, "alice")
	bob := srv.Register(t, "bob")

	var c chat.Chat
	srv.DoJSON(t, http.MethodPost, "/api/chats", alice.Token, chat.CreateChatRequest{UserID: bob.ID}, http.StatusCreated, &c)
	srv.DoJSON(t, http.MethodPost, "/api/chats", alice.Token, chat.CreateChatRequest{UserID: bob.ID}, http.StatusOK, nil)
	srv.DoJSON(t, http.MethodPost, "/api/chats", alice.Token, chat.CreateChatRequest{UserID: alice.ID}, http.StatusUnprocessableEntity, nil)

	var m chat.Message
	srv.DoJSON(t, http.MethodPost, chatPath(c.ID, "/messages"), bob.Token, chat.SendMessageRequest{Content: "hey"}, http.StatusCreated, &m)
	assert.Equal(t, bob.ID, m.SenderID)

	var msgs []chat.Message
	srv.DoJSON(t, http.MethodGet, chatPath(c.ID, "/messages"), alice.Token, nil, http.StatusOK, &msgs)
	require.Len(t, msgs, 1)

	// strangers see nothing
	carol := srv.Register(t, "carol")
	srv.DoJSON(t, http.MethodGet, chatPath(c.ID, "/messages"), carol.Token, nil, http.StatusForbidden, nil)

	// only the sender may delete in a 1:1 chat
	srv.DoJSON(t, http.MethodDelete, chatPath(c.ID, "/messages/")+itoa(m.ID), alice.Token, nil, http.StatusForbidden, nil)
	srv.DoJSON(t, http.MethodDelete, chatPath(c.ID, "/messages/")+itoa(m.ID), bob.Token, nil, http.StatusOK, nil)

	srv.DoJSON(t, http.MethodGet, "/api/chats/abc/messages", alice.Token, nil, http.StatusBadRequest, nil)
}

func TestSendQuota(t *testing.T) {
	srv := testhelpers.NewServer(t, testhelpers.WithQuotas(2, 1))
	alice := srv.Register(t, "alice")
	bob := srv.Register(t, "bob")

	var c chat.Chat
	srv.DoJSON(t, http.MethodPost, "/api/chats", alice.Token, chat.CreateChatRequest{UserID: bob.ID}, http.StatusCreated, &c)

	for i := 0; i < 2; i++ {
		srv.DoJSON(t, http.MethodPost, chatPath(c.ID, "/messages"), alice.Token, chat.SendMessageRequest{Content: "hi"}, http.StatusCreated, nil)
	}
	resp := srv.Do(t, http.MethodPost, chatPath(c.ID, "/messages"), alice.Token, chat.SendMessageRequest{Content: "hi"})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "600", resp.Header.Get("Retry-After"))

	// quotas are per identity
	srv.DoJSON(t, http.MethodPost, chatPath(c.ID, "/messages"), bob.Token, chat.SendMessageRequest{Content: "hi"}, http.StatusCreated, nil)
}
