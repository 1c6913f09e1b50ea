package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/dom/livechat/internal/api/middleware"
	"github.com/dom/livechat/internal/domain"
	applog "github.com/dom/livechat/internal/log"
	"github.com/dom/livechat/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type ChatHandler struct {
	chatService *service.ChatService
	logger      zerolog.Logger
}

func NewChatHandler(chatService *service.ChatService) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		logger:      applog.Component("handlers.chat"),
	}
}

type CreateChatRequest struct {
	Username string `json:"username"`
}

type ChatResponse struct {
	ID           uuid.UUID           `json:"id"`
	Participants []domain.PublicUser `json:"participants"`
	CreatedAt    time.Time           `json:"createdAt"`
	LastMessage  *domain.Message     `json:"lastMessage,omitempty"`
}

func toChatResponse(chat *domain.Chat, last *domain.Message) ChatResponse {
	participants := make([]domain.PublicUser, 0, len(chat.Participants))
	for i := range chat.Participants {
		participants = append(participants, chat.Participants[i].Public())
	}
	return ChatResponse{
		ID:           chat.ID,
		Participants: participants,
		CreatedAt:    chat.CreatedAt,
		LastMessage:  last,
	}
}

// List returns the caller's chats, most recently active first.
func (h *ChatHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	summaries, err := h.chatService.ListChats(r.Context(), userID)
	if err != nil {
		h.logger.Error().Err(err).Msg("list chats failed")
		http.Error(w, "Failed to fetch chats", http.StatusInternalServerError)
		return
	}

	resp := make([]ChatResponse, 0, len(summaries))
	for _, s := range summaries {
		resp = append(resp, toChatResponse(s.Chat, s.LastMessage))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *ChatHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req CreateChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Username) == "" {
		http.Error(w, "Username is required", http.StatusBadRequest)
		return
	}

	chat, err := h.chatService.StartChat(r.Context(), userID, req.Username)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUserNotFound):
			http.Error(w, "User not found", http.StatusNotFound)
		case errors.Is(err, domain.ErrChatExists):
			http.Error(w, "Chat already exists", http.StatusBadRequest)
		case errors.Is(err, domain.ErrInvalidParticipants):
			http.Error(w, "Cannot start a chat with yourself", http.StatusBadRequest)
		default:
			h.logger.Error().Err(err).Msg("create chat failed")
			http.Error(w, "Failed to create chat", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusCreated, toChatResponse(chat, nil))
}

// Messages returns up to the 50 most recent messages of a chat, newest first.
func (h *ChatHandler) Messages(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	chatID, err := uuid.Parse(chi.URLParam(r, "chatId"))
	if err != nil {
		http.Error(w, "Invalid chat ID", http.StatusBadRequest)
		return
	}

	msgs, err := h.chatService.RecentMessages(r.Context(), chatID, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotParticipant) {
			http.Error(w, "Not authorized to view this chat", http.StatusForbidden)
			return
		}
		h.logger.Error().Err(err).Str("chat", chatID.String()).Msg("fetch messages failed")
		http.Error(w, "Failed to fetch messages", http.StatusInternalServerError)
		return
	}

	if msgs == nil {
		msgs = []domain.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}
