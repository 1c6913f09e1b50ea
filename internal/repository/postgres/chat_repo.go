package postgres

import (
	"context"
	"errors"
	"sort"

	"github.com/dom/livechat/internal/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type chatRepository struct {
	db *gorm.DB
}

func NewChatRepository(db *gorm.DB) *chatRepository {
	return &chatRepository{db: db}
}

func (r *chatRepository) Create(ctx context.Context, participantIDs []uuid.UUID) (*domain.Chat, error) {
	ids := distinct(participantIDs)
	if len(ids) < 2 {
		return nil, domain.ErrInvalidParticipants
	}

	var chat *domain.Chat
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var users []domain.User
		if err := tx.Where("id IN ?", ids).Find(&users).Error; err != nil {
			return storeErr("load participants", err)
		}
		if len(users) != len(ids) {
			return domain.ErrUserNotFound
		}

		existing, err := findExact(tx, ids)
		if err != nil {
			return err
		}
		if existing != uuid.Nil {
			return domain.ErrChatExists
		}

		chat = &domain.Chat{ID: uuid.New(), Participants: users}
		if err := tx.Omit("Participants.*").Create(chat).Error; err != nil {
			return storeErr("create chat", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return chat, nil
}

func (r *chatRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Chat, error) {
	var chat domain.Chat
	err := r.db.WithContext(ctx).Preload("Participants").First(&chat, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrChatNotFound
	}
	if err != nil {
		return nil, storeErr("get chat", err)
	}
	return &chat, nil
}

func (r *chatRepository) FindBetween(ctx context.Context, userA, userB uuid.UUID) (*domain.Chat, error) {
	id, err := findExact(r.db.WithContext(ctx), []uuid.UUID{userA, userB})
	if err != nil || id == uuid.Nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

func (r *chatRepository) ListForUser(ctx context.Context, userID uuid.UUID) ([]domain.ChatSummary, error) {
	db := r.db.WithContext(ctx)

	var chats []domain.Chat
	err := db.Preload("Participants").
		Joins("JOIN chat_participants cp ON cp.chat_id = chats.id AND cp.user_id = ?", userID).
		Find(&chats).Error
	if err != nil {
		return nil, storeErr("list chats", err)
	}
	if len(chats) == 0 {
		return []domain.ChatSummary{}, nil
	}

	chatIDs := make([]uuid.UUID, len(chats))
	for i := range chats {
		chatIDs[i] = chats[i].ID
	}

	var last []domain.Message
	err = db.Raw(`SELECT DISTINCT ON (chat_id) * FROM messages
		WHERE chat_id IN ?
		ORDER BY chat_id, created_at DESC, id DESC`, chatIDs).
		Scan(&last).Error
	if err != nil {
		return nil, storeErr("load last messages", err)
	}
	senders, err := resolveSenders(db, last)
	if err != nil {
		return nil, err
	}
	lastByChat := make(map[uuid.UUID]*domain.Message, len(last))
	for i := range last {
		last[i].CreatedAt = last[i].CreatedAt.UTC()
		if s, ok := senders[last[i].SenderID]; ok {
			last[i].Sender = &s
		}
		lastByChat[last[i].ChatID] = &last[i]
	}

	summaries := make([]domain.ChatSummary, len(chats))
	for i := range chats {
		summaries[i] = domain.ChatSummary{Chat: &chats[i], LastMessage: lastByChat[chats[i].ID]}
	}
	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].LastActivity().After(summaries[j].LastActivity())
	})
	return summaries, nil
}

func (r *chatRepository) IsParticipant(ctx context.Context, chatID, userID uuid.UUID) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Table("chat_participants").
		Where("chat_id = ? AND user_id = ?", chatID, userID).
		Count(&n).Error
	if err != nil {
		return false, storeErr("check participant", err)
	}
	return n > 0, nil
}

func (r *chatRepository) ParticipantIDs(ctx context.Context, chatID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Table("chat_participants").
		Where("chat_id = ?", chatID).
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, storeErr("list participants", err)
	}
	if len(ids) == 0 {
		return nil, domain.ErrChatNotFound
	}
	return ids, nil
}

// findExact returns the id of a chat whose participants are exactly ids,
// or uuid.Nil.
func findExact(db *gorm.DB, ids []uuid.UUID) (uuid.UUID, error) {
	var found []uuid.UUID
	err := db.Table("chat_participants").
		Group("chat_id").
		Having("COUNT(*) = ? AND COUNT(*) FILTER (WHERE user_id IN ?) = ?", len(ids), ids, len(ids)).
		Limit(1).
		Pluck("chat_id", &found).Error
	if err != nil {
		return uuid.Nil, storeErr("find chat", err)
	}
	if len(found) == 0 {
		return uuid.Nil, nil
	}
	return found[0], nil
}

func distinct(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
