package realtime

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	myMiddleware "go-chat-live/internal/middleware"
	"go-chat-live/internal/user"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Authenticator resolves a bearer token to a live identity.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*user.User, error)
}

type Handler struct {
	hub      *Hub
	auth     Authenticator
	upgrader websocket.Upgrader
}

// NewHandler builds the websocket endpoint. An empty allowedOrigins list or a
// "*" entry accepts every origin.
func NewHandler(hub *Hub, auth Authenticator, allowedOrigins []string) *Handler {
	origins, allowAll := normalizeOrigins(allowedOrigins)
	return &Handler{
		hub:  hub,
		auth: auth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(origins, allowAll),
		},
	}
}

// ServeWs upgrades first and then authenticates, so a rejected client still
// receives a socketError frame explaining why.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	token := myMiddleware.TokenFromRequest(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	u, err := h.authenticate(r.Context(), token)
	if err != nil {
		log.Info().Err(err).Str("remote", r.RemoteAddr).Msg("websocket handshake rejected")
		reject(conn, err.Error())
		return
	}

	client := newClient(h.hub, conn, u.ID, u.Username)
	if !h.hub.attach(client) {
		reject(conn, "server is shutting down")
		return
	}
	log.Info().Str("conn_id", client.ID).Int("user_id", u.ID).Msg("websocket connected")
}

func (h *Handler) authenticate(ctx context.Context, token string) (*user.User, error) {
	if token == "" {
		return nil, &AuthError{Reason: "missing token"}
	}
	u, err := h.auth.Authenticate(ctx, token)
	if err != nil {
		return nil, &AuthError{Reason: "invalid token", Err: err}
	}
	return u, nil
}

func reject(conn *websocket.Conn, reason string) {
	defer conn.Close()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if frame, err := EncodeFrame(EventSocketError, reason); err == nil {
		_ = conn.WriteMessage(websocket.TextMessage, frame)
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unauthorized"))
}

func normalizeOrigins(origins []string) (map[string]struct{}, bool) {
	if len(origins) == 0 {
		return nil, true
	}
	normalized := make(map[string]struct{}, len(origins))
	allowAll := false
	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		switch {
		case trimmed == "":
			continue
		case trimmed == "*":
			allowAll = true
			continue
		}
		n, ok := normalizeOrigin(trimmed)
		if !ok {
			log.Warn().Str("origin", origin).Msg("ignoring invalid origin in configuration")
			continue
		}
		normalized[n] = struct{}{}
	}
	return normalized, allowAll || len(normalized) == 0
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

// Non-browser clients send no Origin header and are let through; they still
// need a token.
func originChecker(allowed map[string]struct{}, allowAll bool) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		header := r.Header.Get("Origin")
		if allowAll || header == "" {
			return true
		}
		n, ok := normalizeOrigin(header)
		if ok {
			if _, exists := allowed[n]; exists {
				return true
			}
		}
		log.Warn().Str("origin", header).Msg("blocked websocket connection from disallowed origin")
		return false
	}
}
