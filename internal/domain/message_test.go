package domain_test

import (
	"strings"
	"testing"
	"time"

	"github.com/dom/livechat/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestValidateContent(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		maxRunes int
		wantErr  bool
	}{
		{name: "plain text", content: "hi", maxRunes: 10},
		{name: "empty", content: "", maxRunes: 10, wantErr: true},
		{name: "whitespace only", content: " \n\t ", maxRunes: 10, wantErr: true},
		{name: "at limit", content: strings.Repeat("é", 10), maxRunes: 10},
		{name: "over limit", content: strings.Repeat("a", 11), maxRunes: 10, wantErr: true},
		{name: "no limit", content: strings.Repeat("a", 5000), maxRunes: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := domain.ValidateContent(tt.content, tt.maxRunes)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrInvalidMessage)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestMessage_Before(t *testing.T) {
	now := time.Now()
	a := &domain.Message{ID: uuid.MustParse("00000000-0000-7000-8000-000000000001"), CreatedAt: now}
	b := &domain.Message{ID: uuid.MustParse("00000000-0000-7000-8000-000000000002"), CreatedAt: now}
	c := &domain.Message{ID: uuid.MustParse("00000000-0000-7000-8000-000000000000"), CreatedAt: now.Add(time.Millisecond)}

	assert.True(t, a.Before(b), "equal timestamps order by id")
	assert.False(t, b.Before(a))
	assert.True(t, b.Before(c), "earlier timestamp wins over id")
	assert.False(t, c.Before(a))
}

func TestChatSummary_LastActivity(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	chat := &domain.Chat{ID: uuid.New(), CreatedAt: created}

	assert.Equal(t, created, domain.ChatSummary{Chat: chat}.LastActivity())

	sent := created.Add(time.Hour)
	summary := domain.ChatSummary{Chat: chat, LastMessage: &domain.Message{CreatedAt: sent}}
	assert.Equal(t, sent, summary.LastActivity())
}
