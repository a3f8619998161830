// Package server assembles the services, realtime hub and HTTP routes.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go-chat-live/internal/chat"
	"go-chat-live/internal/limiter"
	myMiddleware "go-chat-live/internal/middleware"
	"go-chat-live/internal/realtime"
	"go-chat-live/internal/user"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// HealthCheck reports whether a backing service is reachable.
type HealthCheck func(ctx context.Context) error

type Deps struct {
	UserStore user.Store
	ChatStore chat.Store
	Broker    realtime.Broker
	Quotas    limiter.Strategy

	JWTSecret      string
	TokenTTL       time.Duration
	AllowedOrigins []string
	SendLimit      int
	DeleteLimit    int
	QuotaWindow    time.Duration
	ClientRelay    bool
	// HashCost is the bcrypt cost for passwords; zero keeps the library default.
	HashCost       int

	Checks map[string]HealthCheck
}

type App struct {
	Hub    *realtime.Hub
	Users  *user.Service
	Chats  *chat.Service
	Router http.Handler
}

// New wires everything and starts the hub loop.
func New(d Deps) (*App, error) {
	hub, err := realtime.NewHub(d.Broker, d.ChatStore, realtime.Options{ClientRelay: d.ClientRelay})
	if err != nil {
		return nil, err
	}
	go hub.Run()

	var userOpts []user.Option
	if d.HashCost > 0 {
		userOpts = append(userOpts, user.WithHashCost(d.HashCost))
	}
	userService := user.NewService(d.UserStore, d.JWTSecret, d.TokenTTL, userOpts...)
	chatService := chat.NewService(d.ChatStore, userService, hub)

	app := &App{Hub: hub, Users: userService, Chats: chatService}
	app.Router = newRouter(d, app)
	return app, nil
}

func newRouter(d Deps, app *App) http.Handler {
	userHandler := user.NewHandler(app.Users)
	chatHandler := chat.NewHandler(app.Chats)
	wsHandler := realtime.NewHandler(app.Hub, app.Users, d.AllowedOrigins)
	authMiddleware := myMiddleware.NewAuthMiddleware(app.Users)
	quota := myMiddleware.NewQuotaMiddleware(d.Quotas)

	sendQuota := quota.Limit(myMiddleware.Quota{Name: "send", Limit: d.SendLimit, Window: d.QuotaWindow, Action: "send messages"})
	deleteQuota := quota.Limit(myMiddleware.Quota{Name: "delete", Limit: d.DeleteLimit, Window: d.QuotaWindow, Action: "delete messages"})

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Public Routes
	r.Post("/register", userHandler.Register)
	r.Post("/login", userHandler.Login)
	r.Get("/healthz", healthHandler(d.Checks))

	// WebSocket authenticates during its own handshake
	r.Get("/ws", wsHandler.ServeWs)

	// Protected Routes (Require JWT)
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)

		r.Route("/api/users", func(r chi.Router) {
			r.Get("/search", userHandler.SearchUsers)
			r.Put("/profile", userHandler.UpdateProfile)
			r.Post("/block", userHandler.Block)
			r.Post("/unblock", userHandler.Unblock)
			r.Get("/{userID}", userHandler.GetUser)
		})

		r.Route("/api/chats", func(r chi.Router) {
			r.Get("/", chatHandler.ListChats)
			r.Post("/", chatHandler.CreateChat)
			r.Post("/group", chatHandler.CreateGroup)

			r.Route("/{chatID}", func(r chi.Router) {
				r.Delete("/", chatHandler.DeleteChat)
				r.Put("/name", chatHandler.RenameGroup)
				r.Post("/participants", chatHandler.AddParticipant)
				r.Delete("/participants/{userID}", chatHandler.RemoveParticipant)
				r.Post("/leave", chatHandler.LeaveGroup)
				r.Get("/messages", chatHandler.ListMessages)
				r.With(sendQuota).Post("/messages", chatHandler.SendMessage)
				r.With(deleteQuota).Delete("/messages/{messageID}", chatHandler.DeleteMessage)
			})
		})
	})

	return r
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		result := map[string]string{"status": "ok"}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				log.Warn().Err(err).Str("check", name).Msg("health check failed")
				status = http.StatusServiceUnavailable
				result["status"] = "degraded"
				result[name] = err.Error()
				continue
			}
			result[name] = "ok"
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(result)
	}
}
