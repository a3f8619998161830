package myMiddleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go-chat-live/internal/limiter"

	"github.com/rs/zerolog/log"
)

// Quota is a per-identity write allowance on one operation.
type Quota struct {
	Name   string
	Limit  int
	Window time.Duration
	Action string // used in the rejection message, e.g. "send messages"
}

type QuotaMiddleware struct {
	strategy limiter.Strategy
}

func NewQuotaMiddleware(s limiter.Strategy) *QuotaMiddleware {
	return &QuotaMiddleware{strategy: s}
}

// Limit must run after AuthMiddleware.Handle so the identity is known.
func (qm *QuotaMiddleware) Limit(q Quota) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := UserID(r.Context())
			if !ok {
				writeJSONError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			key := q.Name + ":" + strconv.Itoa(userID)
			allowed, err := qm.strategy.Allow(r.Context(), key, q.Limit, q.Window)
			if err != nil {
				// quota store outage must not block writes
				log.Warn().Err(err).Str("quota", q.Name).Int("user_id", userID).Msg("quota check failed, allowing request")
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(q.Window.Seconds())))
				writeJSONError(w, http.StatusTooManyRequests, fmt.Sprintf(
					"Too many requests to %s. You are allowed %d requests per %d minutes.",
					q.Action, q.Limit, int(q.Window.Minutes())))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
