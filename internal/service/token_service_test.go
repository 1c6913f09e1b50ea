package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dom/livechat/internal/domain"
	"github.com/dom/livechat/internal/service"
	"github.com/dom/livechat/internal/testutil"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memorySessions struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]domain.RefreshSession
}

func newMemorySessions() *memorySessions {
	return &memorySessions{sessions: make(map[uuid.UUID]domain.RefreshSession)}
}

func (m *memorySessions) Create(_ context.Context, s *domain.RefreshSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = *s
	return nil
}

func (m *memorySessions) Get(_ context.Context, id, userID uuid.UUID) (*domain.RefreshSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.UserID != userID {
		return nil, domain.ErrUnauthorized
	}
	return &s, nil
}

func (m *memorySessions) UpdateExpiry(_ context.Context, id uuid.UUID, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return domain.ErrUnauthorized
	}
	s.ExpiresAt = expiresAt
	m.sessions[id] = s
	return nil
}

func (m *memorySessions) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *memorySessions) get(id uuid.UUID) (domain.RefreshSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

func (m *memorySessions) corrupt(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sessions[id]
	s.SecretHash = "$2a$10$invalidinvalidinvalidinvalidinvalidinvalidinvalidinva"
	m.sessions[id] = s
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTokenService(t *testing.T) (*service.TokenService, *memorySessions, *clock) {
	t.Helper()
	sessions := newMemorySessions()
	clk := &clock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	return service.NewTokenService(sessions, testutil.TestConfig(), service.WithClock(clk.Now)), sessions, clk
}

func TestTokenService_AccessToken(t *testing.T) {
	tokens, _, clk := newTokenService(t)
	userID := uuid.New()

	token, err := tokens.IssueAccessToken(userID)
	require.NoError(t, err)

	got, err := tokens.VerifyAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, got)

	clk.Advance(15*time.Minute - time.Second)
	_, err = tokens.VerifyAccessToken(token)
	assert.NoError(t, err, "still valid just before expiry")

	clk.Advance(2 * time.Second)
	_, err = tokens.VerifyAccessToken(token)
	assert.ErrorIs(t, err, domain.ErrUnauthorized, "expired after 15 minutes")
}

func TestTokenService_RejectsForeignTokens(t *testing.T) {
	tokens, _, _ := newTokenService(t)
	userID := uuid.New()

	forged := func(secret string, method jwt.SigningMethod, claims jwt.MapClaims) string {
		tok := jwt.NewWithClaims(method, claims)
		s, err := tok.SignedString([]byte(secret))
		require.NoError(t, err)
		return s
	}
	future := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC).Unix()

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-jwt"},
		{"wrong secret", forged("other-secret", jwt.SigningMethodHS256, jwt.MapClaims{"sub": userID.String(), "typ": "access", "exp": future})},
		{"no expiry", forged(testutil.TestConfig().JWTSecret, jwt.SigningMethodHS256, jwt.MapClaims{"sub": userID.String(), "typ": "access"})},
		{"wrong type", forged(testutil.TestConfig().JWTSecret, jwt.SigningMethodHS256, jwt.MapClaims{"sub": userID.String(), "typ": "refresh", "exp": future})},
		{"other algorithm", forged(testutil.TestConfig().JWTSecret, jwt.SigningMethodHS512, jwt.MapClaims{"sub": userID.String(), "typ": "access", "exp": future})},
		{"bad subject", forged(testutil.TestConfig().JWTSecret, jwt.SigningMethodHS256, jwt.MapClaims{"sub": "nope", "typ": "access", "exp": future})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tokens.VerifyAccessToken(tt.token)
			assert.ErrorIs(t, err, domain.ErrUnauthorized)
		})
	}
}

func TestTokenService_RefreshSlidesExpiry(t *testing.T) {
	tokens, sessions, clk := newTokenService(t)
	userID := uuid.New()

	session, claim, err := tokens.IssueRefreshSession(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, clk.Now().Add(8*time.Hour), session.ExpiresAt)

	stored, ok := sessions.get(session.ID)
	require.True(t, ok)
	assert.NotContains(t, stored.SecretHash, claim, "only a hash of the secret is stored")

	// Each refresh pushes the expiry a full TTL past the refresh time, so a
	// session in regular use outlives its first eight hours.
	for i := 0; i < 3; i++ {
		clk.Advance(7 * time.Hour)
		gotUser, access, err := tokens.VerifyAndRotateRefresh(context.Background(), claim)
		require.NoError(t, err, "refresh %d", i)
		assert.Equal(t, userID, gotUser)

		accessUser, err := tokens.VerifyAccessToken(access)
		require.NoError(t, err)
		assert.Equal(t, userID, accessUser)

		stored, _ := sessions.get(session.ID)
		assert.Equal(t, clk.Now().Add(8*time.Hour), stored.ExpiresAt)
	}
}

func TestTokenService_ExpiredSessionIsRevoked(t *testing.T) {
	tokens, sessions, clk := newTokenService(t)

	session, claim, err := tokens.IssueRefreshSession(context.Background(), uuid.New())
	require.NoError(t, err)

	clk.Advance(8 * time.Hour)
	_, _, err = tokens.VerifyAndRotateRefresh(context.Background(), claim)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, ok := sessions.get(session.ID)
	assert.False(t, ok, "failed verification deletes the session")
}

func TestTokenService_SecretMismatchRevokes(t *testing.T) {
	tokens, sessions, _ := newTokenService(t)

	session, claim, err := tokens.IssueRefreshSession(context.Background(), uuid.New())
	require.NoError(t, err)
	sessions.corrupt(session.ID)

	_, _, err = tokens.VerifyAndRotateRefresh(context.Background(), claim)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, ok := sessions.get(session.ID)
	assert.False(t, ok)
}

func TestTokenService_RevokedSessionCannotRefresh(t *testing.T) {
	tokens, _, _ := newTokenService(t)
	ctx := context.Background()

	_, claim, err := tokens.IssueRefreshSession(ctx, uuid.New())
	require.NoError(t, err)

	id, err := tokens.RefreshSessionID(claim)
	require.NoError(t, err)
	require.NoError(t, tokens.RevokeRefreshSession(ctx, id))
	require.NoError(t, tokens.RevokeRefreshSession(ctx, id), "revoking twice is harmless")

	_, _, err = tokens.VerifyAndRotateRefresh(ctx, claim)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestTokenService_TokenKindsAreNotInterchangeable(t *testing.T) {
	tokens, _, _ := newTokenService(t)
	userID := uuid.New()

	access, err := tokens.IssueAccessToken(userID)
	require.NoError(t, err)
	_, refresh, err := tokens.IssueRefreshSession(context.Background(), userID)
	require.NoError(t, err)

	_, err = tokens.VerifyAccessToken(refresh)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, _, err = tokens.VerifyAndRotateRefresh(context.Background(), access)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = tokens.RefreshSessionID(access)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}
