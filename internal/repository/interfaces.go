package repository

import (
	"context"
	"time"

	"github.com/dom/livechat/internal/domain"
	"github.com/google/uuid"
)

type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
}

type RefreshSessionRepository interface {
	Create(ctx context.Context, session *domain.RefreshSession) error
	// Get returns domain.ErrUnauthorized when no session matches both ids.
	Get(ctx context.Context, id, userID uuid.UUID) (*domain.RefreshSession, error)
	UpdateExpiry(ctx context.Context, id uuid.UUID, expiresAt time.Time) error
	// Delete is idempotent.
	Delete(ctx context.Context, id uuid.UUID) error
}

type ChatRepository interface {
	// Create fails with domain.ErrChatExists when the participants already
	// share a chat. The check and the insert are not atomic.
	Create(ctx context.Context, participantIDs []uuid.UUID) (*domain.Chat, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Chat, error)
	// FindBetween returns nil, nil when the two users share no chat.
	FindBetween(ctx context.Context, userA, userB uuid.UUID) (*domain.Chat, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]domain.ChatSummary, error)
	IsParticipant(ctx context.Context, chatID, userID uuid.UUID) (bool, error)
	ParticipantIDs(ctx context.Context, chatID uuid.UUID) ([]uuid.UUID, error)
}

type MessageRepository interface {
	// Create persists msg atomically, assigning its ID and CreatedAt. It fails
	// with domain.ErrNotParticipant, writing nothing, when the sender is not a
	// member of the chat.
	Create(ctx context.Context, msg *domain.Message) error
	// ListRecent returns at most limit messages, newest first.
	ListRecent(ctx context.Context, chatID uuid.UUID, limit int) ([]domain.Message, error)
}

type Repositories struct {
	User           UserRepository
	RefreshSession RefreshSessionRepository
	Chat           ChatRepository
	Message        MessageRepository
}
