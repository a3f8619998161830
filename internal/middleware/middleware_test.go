package myMiddleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go-chat-live/internal/limiter"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubValidator struct{}

func (stubValidator) ValidateToken(token string) (int, string, error) {
	if token == "good" {
		return 5, "eve", nil
	}
	return 0, "", errors.New("bad token")
}

func whoAmI(w http.ResponseWriter, r *http.Request) {
	id, _ := UserID(r.Context())
	_ = json.NewEncoder(w).Encode(map[string]int{"id": id})
}

func TestTokenFromRequest(t *testing.T) {
	cases := []struct {
		name   string
		header string
		url    string
		want   string
	}{
		{"bearer", "Bearer abc", "/ws", "abc"},
		{"raw header", "abc", "/ws", "abc"},
		{"query fallback", "", "/ws?token=xyz", "xyz"},
		{"header wins", "Bearer abc", "/ws?token=xyz", "abc"},
		{"missing", "", "/ws", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tc.url, nil)
			if tc.header != "" {
				r.Header.Set("Authorization", tc.header)
			}
			assert.Equal(t, tc.want, TokenFromRequest(r))
		})
	}
}

func TestAuthMiddleware(t *testing.T) {
	h := NewAuthMiddleware(stubValidator{}).Handle(http.HandlerFunc(whoAmI))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer bad")
	h.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodGet, "/?token=good", nil)
	h.ServeHTTP(rec, r)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":5}`, rec.Body.String())
}

func TestQuotaMiddleware_RejectsOverLimit(t *testing.T) {
	qm := NewQuotaMiddleware(limiter.NewMemoryFixedWindow())
	h := qm.Limit(Quota{Name: "delete", Limit: 2, Window: 10 * time.Minute, Action: "delete messages"})(http.HandlerFunc(whoAmI))

	call := func(userID int) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodDelete, "/", nil)
		r = r.WithContext(WithIdentity(context.Background(), userID, "u"))
		h.ServeHTTP(rec, r)
		return rec
	}

	assert.Equal(t, http.StatusOK, call(1).Code)
	assert.Equal(t, http.StatusOK, call(1).Code)

	rec := call(1)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "allowed 2 requests per 10 minutes")
	assert.Equal(t, "600", rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, call(2).Code)
}

type brokenStrategy struct{}

func (brokenStrategy) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return false, errors.New("redis down")
}

func TestQuotaMiddleware_FailsOpen(t *testing.T) {
	h := NewQuotaMiddleware(brokenStrategy{}).
		Limit(Quota{Name: "send", Limit: 1, Window: time.Minute})(http.HandlerFunc(whoAmI))

	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", nil).WithContext(WithIdentity(context.Background(), 3, "u"))
	h.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusOK, rec.Code)
}
