package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/dom/livechat/internal/config"
	"github.com/dom/livechat/internal/domain"
	applog "github.com/dom/livechat/internal/log"
	"github.com/dom/livechat/internal/repository"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

type accessClaims struct {
	Type string `json:"typ"`
	jwt.RegisteredClaims
}

// refreshClaims carry no expiry of their own: the server-side session decides
// how long a refresh token lives, which is what lets it slide.
type refreshClaims struct {
	Type    string `json:"typ"`
	TokenID string `json:"tid"`
	Secret  string `json:"sec"`
	jwt.RegisteredClaims
}

// TokenService issues short-lived access tokens and manages the refresh
// sessions that mint new ones.
type TokenService struct {
	sessions      repository.RefreshSessionRepository
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
	logger        zerolog.Logger
}

type TokenOption func(*TokenService)

// WithClock replaces time.Now for both issuing and verifying.
func WithClock(now func() time.Time) TokenOption {
	return func(s *TokenService) { s.now = now }
}

func NewTokenService(sessions repository.RefreshSessionRepository, cfg *config.Config, opts ...TokenOption) *TokenService {
	s := &TokenService{
		sessions:      sessions,
		accessSecret:  []byte(cfg.JWTSecret),
		refreshSecret: []byte(cfg.RefreshTokenSecret),
		accessTTL:     cfg.AccessTokenTTL,
		refreshTTL:    cfg.RefreshTokenTTL,
		now:           time.Now,
		logger:        applog.Component("tokens"),
	}
	if s.accessTTL <= 0 {
		s.accessTTL = 15 * time.Minute
	}
	if s.refreshTTL <= 0 {
		s.refreshTTL = 8 * time.Hour
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *TokenService) AccessTTL() time.Duration { return s.accessTTL }

func (s *TokenService) IssueAccessToken(userID uuid.UUID) (string, error) {
	now := s.now()
	claims := accessClaims{
		Type: tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.accessSecret)
}

// VerifyAccessToken checks signature and expiry only; access tokens are not
// tracked server-side.
func (s *TokenService) VerifyAccessToken(token string) (uuid.UUID, error) {
	var claims accessClaims
	_, err := jwt.ParseWithClaims(token, &claims, keyFunc(s.accessSecret),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		s.logger.Debug().Err(err).Msg("access token rejected")
		return uuid.Nil, domain.ErrUnauthorized
	}
	if claims.Type != tokenTypeAccess {
		s.logger.Debug().Str("typ", claims.Type).Msg("access token rejected: wrong type")
		return uuid.Nil, domain.ErrUnauthorized
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, domain.ErrUnauthorized
	}
	return userID, nil
}

// IssueRefreshSession stores a new refresh session for userID and returns it
// together with the signed claim handed to the client.
func (s *TokenService) IssueRefreshSession(ctx context.Context, userID uuid.UUID) (*domain.RefreshSession, string, error) {
	secret, err := randomSecret()
	if err != nil {
		return nil, "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", err
	}

	now := s.now()
	session := &domain.RefreshSession{
		ID:         uuid.New(),
		UserID:     userID,
		SecretHash: string(hash),
		ExpiresAt:  now.Add(s.refreshTTL),
		CreatedAt:  now,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, "", err
	}

	claims := refreshClaims{
		Type:    tokenTypeRefresh,
		TokenID: session.ID.String(),
		Secret:  secret,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  userID.String(),
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.refreshSecret)
	if err != nil {
		return nil, "", err
	}
	return session, signed, nil
}

// VerifyAndRotateRefresh validates a refresh claim against its session,
// pushes the session's expiry out by the refresh TTL, and returns a fresh
// access token. A session that fails verification is deleted.
func (s *TokenService) VerifyAndRotateRefresh(ctx context.Context, claim string) (uuid.UUID, string, error) {
	claims, err := s.parseRefresh(claim)
	if err != nil {
		s.logger.Debug().Err(err).Msg("refresh claim rejected")
		return uuid.Nil, "", domain.ErrUnauthorized
	}
	userID, tokenID, err := claims.ids()
	if err != nil {
		return uuid.Nil, "", domain.ErrUnauthorized
	}

	session, err := s.sessions.Get(ctx, tokenID, userID)
	if err != nil {
		return uuid.Nil, "", err
	}

	now := s.now()
	if session.Expired(now) || bcrypt.CompareHashAndPassword([]byte(session.SecretHash), []byte(claims.Secret)) != nil {
		s.logger.Info().Str("session", session.ID.String()).Msg("refresh session failed verification, revoking")
		if err := s.sessions.Delete(ctx, session.ID); err != nil {
			s.logger.Error().Err(err).Str("session", session.ID.String()).Msg("failed to delete refresh session")
		}
		return uuid.Nil, "", domain.ErrUnauthorized
	}

	if err := s.sessions.UpdateExpiry(ctx, session.ID, now.Add(s.refreshTTL)); err != nil {
		return uuid.Nil, "", err
	}

	access, err := s.IssueAccessToken(userID)
	if err != nil {
		return uuid.Nil, "", err
	}
	return userID, access, nil
}

// RevokeRefreshSession deletes the session. Revoking a missing session is not
// an error.
func (s *TokenService) RevokeRefreshSession(ctx context.Context, tokenID uuid.UUID) error {
	return s.sessions.Delete(ctx, tokenID)
}

// RefreshSessionID returns the session id named by a correctly signed refresh
// claim.
func (s *TokenService) RefreshSessionID(claim string) (uuid.UUID, error) {
	claims, err := s.parseRefresh(claim)
	if err != nil {
		return uuid.Nil, domain.ErrUnauthorized
	}
	_, tokenID, err := claims.ids()
	if err != nil {
		return uuid.Nil, domain.ErrUnauthorized
	}
	return tokenID, nil
}

func (s *TokenService) parseRefresh(claim string) (*refreshClaims, error) {
	var claims refreshClaims
	_, err := jwt.ParseWithClaims(claim, &claims, keyFunc(s.refreshSecret),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, err
	}
	if claims.Type != tokenTypeRefresh {
		return nil, errors.New("not a refresh token")
	}
	return &claims, nil
}

func (c *refreshClaims) ids() (userID, tokenID uuid.UUID, err error) {
	if userID, err = uuid.Parse(c.Subject); err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	if tokenID, err = uuid.Parse(c.TokenID); err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return userID, tokenID, nil
}

func keyFunc(secret []byte) jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return secret, nil
	}
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
