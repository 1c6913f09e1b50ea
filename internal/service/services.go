package service

import (
	"github.com/dom/livechat/internal/cache"
	"github.com/dom/livechat/internal/config"
	"github.com/dom/livechat/internal/repository"
)

type Services struct {
	Tokens *TokenService
	Auth   *AuthService
	Chat   *ChatService
}

func NewServices(repos *repository.Repositories, messageCache cache.MessageCache, cfg *config.Config, opts ...TokenOption) *Services {
	tokens := NewTokenService(repos.RefreshSession, cfg, opts...)
	return &Services{
		Tokens: tokens,
		Auth:   NewAuthService(repos.User, tokens),
		Chat:   NewChatService(repos.User, repos.Chat, repos.Message, messageCache, cfg.MaxMessageLength),
	}
}
