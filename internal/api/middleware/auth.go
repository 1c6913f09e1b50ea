package middleware

import (
	"context"
	"net/http"
	"strings"

	applog "github.com/dom/livechat/internal/log"
	"github.com/google/uuid"
)

type contextKey string

const (
	UserIDKey contextKey = "userID"

	// AccessTokenCookie holds the access token for browser clients.
	AccessTokenCookie = "token"
)

// TokenVerifier resolves an access token to the user it was issued to.
type TokenVerifier interface {
	Authenticate(token string) (uuid.UUID, error)
}

// Auth accepts the access token from an "Authorization: Bearer" header or,
// failing that, the token cookie.
func Auth(verifier TokenVerifier) func(http.Handler) http.Handler {
	logger := applog.Component("middleware.auth")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := extractToken(r)
			if !ok {
				logger.Debug().Str("path", r.URL.Path).Msg("missing access token")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			userID, err := verifier.Authenticate(token)
			if err != nil {
				logger.Debug().Err(err).Str("path", r.URL.Path).Msg("access token rejected")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractToken(r *http.Request) (string, bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			return "", false
		}
		return parts[1], true
	}
	if cookie, err := r.Cookie(AccessTokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value, true
	}
	return "", false
}

func GetUserID(ctx context.Context) (uuid.UUID, bool) {
	userID, ok := ctx.Value(UserIDKey).(uuid.UUID)
	return userID, ok
}
