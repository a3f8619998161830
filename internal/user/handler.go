package user

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	myMiddleware "go-chat-live/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

type Handler struct {
	Service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{Service: s}
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	res, err := h.Service.Register(r.Context(), &req)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	res, err := h.Service.Login(r.Context(), &req)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	callerID, _ := myMiddleware.UserID(r.Context())
	users, err := h.Service.SearchUsers(r.Context(), r.URL.Query().Get("q"), callerID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid user id"))
		return
	}
	u, err := h.Service.GetUser(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	callerID, _ := myMiddleware.UserID(r.Context())
	var req UpdateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	u, err := h.Service.UpdateProfile(r.Context(), callerID, &req)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *Handler) Block(w http.ResponseWriter, r *http.Request) {
	h.changeBlock(w, r, h.Service.Block, "This user is now blocked.")
}

func (h *Handler) Unblock(w http.ResponseWriter, r *http.Request) {
	h.changeBlock(w, r, h.Service.Unblock, "This user is now unblocked.")
}

func (h *Handler) changeBlock(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, blockerID, blockedID int) error, done string) {
	callerID, _ := myMiddleware.UserID(r.Context())
	var req BlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := apply(r.Context(), callerID, req.UserID); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": done})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrAlreadyBlocked), errors.Is(err, ErrNotBlocked):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrUsernameTaken):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, ErrUserNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("user request failed")
		err = errors.New("internal server error")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
