package chat

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	myMiddleware "go-chat-live/internal/middleware"
	"go-chat-live/internal/user"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

type Handler struct {
	service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{service: s}
}

// GET /api/chats
func (h *Handler) ListChats(w http.ResponseWriter, r *http.Request) {
	userID, _ := myMiddleware.UserID(r.Context())
	chats, err := h.service.ListChats(r.Context(), userID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, chats)
}

// POST /api/chats
func (h *Handler) CreateChat(w http.ResponseWriter, r *http.Request) {
	userID, _ := myMiddleware.UserID(r.Context())
	var req CreateChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	c, created, err := h.service.CreateOneOnOne(r.Context(), userID, req.UserID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, c)
}

// POST /api/chats/group
func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	userID, _ := myMiddleware.UserID(r.Context())
	var req CreateGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	c, err := h.service.CreateGroup(r.Context(), userID, &req)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// PUT /api/chats/{chatID}/name
func (h *Handler) RenameGroup(w http.ResponseWriter, r *http.Request) {
	userID, _ := myMiddleware.UserID(r.Context())
	chatID, ok := pathID(w, r, "chatID")
	if !ok {
		return
	}
	var req RenameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	c, err := h.service.RenameGroup(r.Context(), chatID, userID, req.Name)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// POST /api/chats/{chatID}/participants
func (h *Handler) AddParticipant(w http.ResponseWriter, r *http.Request) {
	userID, _ := myMiddleware.UserID(r.Context())
	chatID, ok := pathID(w, r, "chatID")
	if !ok {
		return
	}
	var req AddParticipantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	c, err := h.service.AddParticipant(r.Context(), chatID, userID, req.UserID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// DELETE /api/chats/{chatID}/participants/{userID}
func (h *Handler) RemoveParticipant(w http.ResponseWriter, r *http.Request) {
	userID, _ := myMiddleware.UserID(r.Context())
	chatID, ok := pathID(w, r, "chatID")
	if !ok {
		return
	}
	participantID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	c, err := h.service.RemoveParticipant(r.Context(), chatID, userID, participantID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if c == nil {
		writeJSON(w, http.StatusOK, map[string]string{"message": "Group is empty and was deleted."})
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// POST /api/chats/{chatID}/leave
func (h *Handler) LeaveGroup(w http.ResponseWriter, r *http.Request) {
	userID, _ := myMiddleware.UserID(r.Context())
	chatID, ok := pathID(w, r, "chatID")
	if !ok {
		return
	}
	if _, err := h.service.LeaveGroup(r.Context(), chatID, userID); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Left the group successfully."})
}

// DELETE /api/chats/{chatID}
func (h *Handler) DeleteChat(w http.ResponseWriter, r *http.Request) {
	userID, _ := myMiddleware.UserID(r.Context())
	chatID, ok := pathID(w, r, "chatID")
	if !ok {
		return
	}
	if _, err := h.service.DeleteChat(r.Context(), chatID, userID); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Chat deleted successfully."})
}

// GET /api/chats/{chatID}/messages
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID, _ := myMiddleware.UserID(r.Context())
	chatID, ok := pathID(w, r, "chatID")
	if !ok {
		return
	}
	messages, err := h.service.ListMessages(r.Context(), chatID, userID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

// POST /api/chats/{chatID}/messages
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, _ := myMiddleware.UserID(r.Context())
	chatID, ok := pathID(w, r, "chatID")
	if !ok {
		return
	}
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	m, err := h.service.SendMessage(r.Context(), chatID, userID, req.Content)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// DELETE /api/chats/{chatID}/messages/{messageID}
func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	userID, _ := myMiddleware.UserID(r.Context())
	chatID, ok := pathID(w, r, "chatID")
	if !ok {
		return
	}
	messageID, ok := pathID(w, r, "messageID")
	if !ok {
		return
	}
	c, err := h.service.DeleteMessage(r.Context(), chatID, messageID, userID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, param))
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, errors.New("invalid "+param))
		return 0, false
	}
	return id, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrAlreadyParticipant), errors.Is(err, ErrNotGroup):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrChatNotFound), errors.Is(err, ErrMessageNotFound), errors.Is(err, user.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNotAdmin), errors.Is(err, ErrNotParticipant), errors.Is(err, ErrForbidden), errors.Is(err, ErrBlocked):
		return http.StatusForbidden
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
		log.Error().Err(err).Msg("chat request failed")
		err = errors.New("internal server error")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
