package domain

import (
	"time"

	"github.com/google/uuid"
)

type Chat struct {
	ID           uuid.UUID `json:"id" gorm:"type:uuid;primary_key"`
	Participants []User    `json:"participants" gorm:"many2many:chat_participants;"`
	CreatedAt    time.Time `json:"createdAt"`
}

// HasParticipant reports whether userID is one of the loaded participants.
func (c *Chat) HasParticipant(userID uuid.UUID) bool {
	for _, p := range c.Participants {
		if p.ID == userID {
			return true
		}
	}
	return false
}

func (c *Chat) ParticipantIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(c.Participants))
	for _, p := range c.Participants {
		ids = append(ids, p.ID)
	}
	return ids
}

// ChatSummary is a chat as seen from one participant's chat list.
type ChatSummary struct {
	Chat        *Chat
	LastMessage *Message
}

// LastActivity is the time of the latest message, or the chat's creation time
// when it has none.
func (s ChatSummary) LastActivity() time.Time {
	if s.LastMessage != nil {
		return s.LastMessage.CreatedAt
	}
	return s.Chat.CreatedAt
}
