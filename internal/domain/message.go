package domain

import (
	"bytes"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// RecentMessageLimit bounds both the history endpoint and the cache window.
const RecentMessageLimit = 50

type Message struct {
	ID        uuid.UUID   `json:"id" gorm:"type:uuid;primary_key"`
	ChatID    uuid.UUID   `json:"chatId" gorm:"type:uuid;not null;index:idx_messages_chat_recent,priority:1"`
	SenderID  uuid.UUID   `json:"senderId" gorm:"type:uuid;not null;index"`
	Sender    *PublicUser `json:"sender,omitempty" gorm:"-"`
	Content   string      `json:"content" gorm:"type:text;not null"`
	CreatedAt time.Time   `json:"createdAt" gorm:"not null;index:idx_messages_chat_recent,priority:2,sort:desc"`
}

// Before reports whether m sorts before o in a chat's history:
// by creation time, ties broken by id.
func (m *Message) Before(o *Message) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.Before(o.CreatedAt)
	}
	return bytes.Compare(m.ID[:], o.ID[:]) < 0
}

// ValidateContent rejects blank content and content longer than maxRunes.
// A maxRunes of zero disables the length check.
func ValidateContent(content string, maxRunes int) error {
	if strings.TrimSpace(content) == "" {
		return ErrInvalidMessage
	}
	if maxRunes > 0 && utf8.RuneCountInString(content) > maxRunes {
		return ErrInvalidMessage
	}
	return nil
}
