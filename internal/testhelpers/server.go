package testhelpers

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go-chat-live/internal/limiter"
	"go-chat-live/internal/realtime"
	"go-chat-live/internal/server"
	"go-chat-live/internal/user"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const TestSecret = "test-secret"

// Server is a complete in-process deployment on top of the in-memory stores.
type Server struct {
	*httptest.Server
	App   *server.App
	Users *Users
	Chats *Chats
}

type Option func(*server.Deps)

// WithBroker lets several servers share one broker, like instances sharing Redis.
func WithBroker(b realtime.Broker) Option {
	return func(d *server.Deps) { d.Broker = b }
}

func WithClientRelay() Option {
	return func(d *server.Deps) { d.ClientRelay = true }
}

func WithQuotas(send, del int) Option {
	return func(d *server.Deps) {
		d.SendLimit = send
		d.DeleteLimit = del
	}
}

// WithStores makes a second instance read the same data as the first.
func WithStores(users *Users, chats *Chats) Option {
	return func(d *server.Deps) {
		d.UserStore = users
		d.ChatStore = chats
	}
}

// WithCheck adds a named health check.
func WithCheck(name string, check server.HealthCheck) Option {
	return func(d *server.Deps) {
		if d.Checks == nil {
			d.Checks = make(map[string]server.HealthCheck)
		}
		d.Checks[name] = check
	}
}

func NewServer(t testing.TB, opts ...Option) *Server {
	t.Helper()

	users := NewUsers()
	deps := server.Deps{
		UserStore:   users,
		ChatStore:   NewChats(users),
		Broker:      realtime.NewLocalBroker(),
		Quotas:      limiter.NewMemoryFixedWindow(),
		JWTSecret:   TestSecret,
		TokenTTL:    time.Hour,
		SendLimit:   20,
		DeleteLimit: 5,
		QuotaWindow: 10 * time.Minute,
		HashCost:    bcrypt.MinCost,
	}
	for _, opt := range opts {
		opt(&deps)
	}

	app, err := server.New(deps)
	require.NoError(t, err)

	srv := httptest.NewServer(app.Router)
	t.Cleanup(func() {
		_ = app.Hub.Shutdown(2 * time.Second)
		srv.Close()
	})

	return &Server{
		Server: srv,
		App:    app,
		Users:  deps.UserStore.(*Users),
		Chats:  deps.ChatStore.(*Chats),
	}
}

// WSURL is the websocket endpoint of the server.
func (s *Server) WSURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"
}

// Identity is a registered user with a valid token.
type Identity struct {
	ID    int
	Name  string
	Token string
}

func (s *Server) Register(t testing.TB, username string) Identity {
	t.Helper()
	ctx := context.Background()
	u, err := s.App.Users.Register(ctx, &user.RegisterRequest{Username: username, Password: "password"})
	require.NoError(t, err)
	token, err := s.App.Users.IssueToken(u)
	require.NoError(t, err)
	return Identity{ID: u.ID, Name: username, Token: token}
}
