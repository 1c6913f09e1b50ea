package service

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	"github.com/dom/livechat/internal/cache"
	"github.com/dom/livechat/internal/domain"
	applog "github.com/dom/livechat/internal/log"
	"github.com/dom/livechat/internal/metrics"
	"github.com/dom/livechat/internal/repository"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type ChatService struct {
	userRepo         repository.UserRepository
	chatRepo         repository.ChatRepository
	messageRepo      repository.MessageRepository
	cache            cache.MessageCache
	maxMessageLength int
	logger           zerolog.Logger

	// writes counts committed messages per chat, striped by chat id. A
	// populate is skipped when its slot moved while the store was read.
	writes [writeSlots]atomic.Uint64
}

const writeSlots = 64

func (s *ChatService) writeSlot(chatID uuid.UUID) *atomic.Uint64 {
	return &s.writes[int(chatID[len(chatID)-1])%writeSlots]
}

func NewChatService(
	userRepo repository.UserRepository,
	chatRepo repository.ChatRepository,
	messageRepo repository.MessageRepository,
	messageCache cache.MessageCache,
	maxMessageLength int,
) *ChatService {
	return &ChatService{
		userRepo:         userRepo,
		chatRepo:         chatRepo,
		messageRepo:      messageRepo,
		cache:            messageCache,
		maxMessageLength: maxMessageLength,
		logger:           applog.Component("chats"),
	}
}

// StartChat opens a chat between userID and the user called username.
//
// The existence check and the insert are separate statements, so two
// simultaneous requests for the same pair can both succeed. This is accepted:
// the duplicate is harmless and rare.
func (s *ChatService) StartChat(ctx context.Context, userID uuid.UUID, username string) (*domain.Chat, error) {
	other, err := s.userRepo.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, err
	}
	if other.ID == userID {
		return nil, domain.ErrInvalidParticipants
	}

	existing, err := s.chatRepo.FindBetween(ctx, userID, other.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, domain.ErrChatExists
	}

	return s.chatRepo.Create(ctx, []uuid.UUID{userID, other.ID})
}

func (s *ChatService) ListChats(ctx context.Context, userID uuid.UUID) ([]domain.ChatSummary, error) {
	return s.chatRepo.ListForUser(ctx, userID)
}

// RecentMessages returns up to domain.RecentMessageLimit messages, newest
// first, reading the cache before the store.
func (s *ChatService) RecentMessages(ctx context.Context, chatID, userID uuid.UUID) ([]domain.Message, error) {
	ok, err := s.chatRepo.IsParticipant(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrNotParticipant
	}

	msgs, err := s.cache.Get(ctx, chatID)
	switch {
	case err == nil:
		metrics.CacheLookupsTotal.WithLabelValues("hit").Inc()
		return msgs, nil
	case errors.Is(err, cache.ErrCacheMiss):
		metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()
	default:
		metrics.CacheLookupsTotal.WithLabelValues("error").Inc()
		s.logger.Warn().Err(err).Str("chat", chatID.String()).Msg("cache read failed, falling back to store")
	}

	slot := s.writeSlot(chatID)
	gen := slot.Load()
	msgs, err = s.messageRepo.ListRecent(ctx, chatID, domain.RecentMessageLimit)
	if err != nil {
		return nil, err
	}
	if slot.Load() != gen {
		// A message committed after the snapshot would be missing from the
		// cached window until it expired. The next read populates instead.
		s.logger.Debug().Str("chat", chatID.String()).Msg("concurrent write, cache populate skipped")
		return msgs, nil
	}
	if err := s.cache.PopulateFromStore(ctx, chatID, msgs); err != nil {
		s.logger.Warn().Err(err).Str("chat", chatID.String()).Msg("cache populate failed")
		return msgs, nil
	}
	// A send that committed during the populate found no entry to extend.
	if slot.Load() != gen {
		if err := s.cache.Invalidate(ctx, chatID); err != nil {
			s.logger.Warn().Err(err).Str("chat", chatID.String()).Msg("cache invalidate failed")
		}
	}
	return msgs, nil
}

// SendMessage validates and persists a message, then refreshes the cache.
// Cache failures are logged and otherwise ignored; the store has the message.
func (s *ChatService) SendMessage(ctx context.Context, chatID uuid.UUID, sender domain.PublicUser, content string) (*domain.Message, error) {
	if err := domain.ValidateContent(content, s.maxMessageLength); err != nil {
		return nil, err
	}

	msg := &domain.Message{
		ChatID:   chatID,
		SenderID: sender.ID,
		Content:  content,
	}
	if err := s.messageRepo.Create(ctx, msg); err != nil {
		return nil, err
	}
	msg.Sender = &sender
	s.writeSlot(chatID).Add(1)

	if err := s.cache.AppendAndRefresh(ctx, chatID, *msg); err != nil {
		s.logger.Warn().Err(err).Str("chat", chatID.String()).Msg("cache append failed")
	}
	return msg, nil
}

func (s *ChatService) Participants(ctx context.Context, chatID uuid.UUID) ([]uuid.UUID, error) {
	return s.chatRepo.ParticipantIDs(ctx, chatID)
}
