package postgres

import (
	"context"
	"time"

	"github.com/dom/livechat/internal/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type messageRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewMessageRepository(db *gorm.DB) *messageRepository {
	return &messageRepository{db: db, now: time.Now}
}

func (r *messageRepository) Create(ctx context.Context, msg *domain.Message) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		err := tx.Table("chat_participants").
			Where("chat_id = ? AND user_id = ?", msg.ChatID, msg.SenderID).
			Count(&n).Error
		if err != nil {
			return storeErr("check participant", err)
		}
		if n == 0 {
			return domain.ErrNotParticipant
		}

		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		msg.ID = id
		// Postgres keeps microseconds; truncating here keeps the returned
		// message identical to what a later read sees.
		msg.CreatedAt = r.now().UTC().Truncate(time.Microsecond)

		if err := tx.Create(msg).Error; err != nil {
			return storeErr("create message", err)
		}
		return nil
	})
}

func (r *messageRepository) ListRecent(ctx context.Context, chatID uuid.UUID, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = domain.RecentMessageLimit
	}

	db := r.db.WithContext(ctx)
	var msgs []domain.Message
	err := db.Where("chat_id = ?", chatID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, storeErr("list messages", err)
	}

	senders, err := resolveSenders(db, msgs)
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		msgs[i].CreatedAt = msgs[i].CreatedAt.UTC()
		if s, ok := senders[msgs[i].SenderID]; ok {
			msgs[i].Sender = &s
		}
	}
	return msgs, nil
}

func resolveSenders(db *gorm.DB, msgs []domain.Message) (map[uuid.UUID]domain.PublicUser, error) {
	seen := make(map[uuid.UUID]struct{}, len(msgs))
	ids := make([]uuid.UUID, 0, len(msgs))
	for _, m := range msgs {
		if _, ok := seen[m.SenderID]; ok {
			continue
		}
		seen[m.SenderID] = struct{}{}
		ids = append(ids, m.SenderID)
	}

	out := make(map[uuid.UUID]domain.PublicUser, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var users []domain.User
	if err := db.Select("id", "username").Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, storeErr("resolve senders", err)
	}
	for i := range users {
		out[users[i].ID] = users[i].Public()
	}
	return out, nil
}
