package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/dom/livechat/internal/api/middleware"
	"github.com/dom/livechat/internal/domain"
	applog "github.com/dom/livechat/internal/log"
	"github.com/dom/livechat/internal/service"
	"github.com/rs/zerolog"
)

const (
	RefreshTokenCookie = "refreshToken"
	refreshCookiePath  = "/auth"
)

// CookieConfig controls the attributes of the auth cookies.
type CookieConfig struct {
	Domain     string
	Secure     bool
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

type AuthHandler struct {
	authService *service.AuthService
	cookies     CookieConfig
	logger      zerolog.Logger
}

func NewAuthHandler(authService *service.AuthService, cookies CookieConfig) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		cookies:     cookies,
		logger:      applog.Component("handlers.auth"),
	}
}

type CredentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type AuthResponse struct {
	User        domain.PublicUser `json:"user"`
	AccessToken string            `json:"accessToken"`
}

type RefreshResponse struct {
	Token string `json:"token"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.authService.Register(r.Context(), service.RegisterInput{
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidInput):
			http.Error(w, "Username and password are required", http.StatusBadRequest)
		case errors.Is(err, domain.ErrUsernameTaken):
			http.Error(w, "Username already exists", http.StatusConflict)
		default:
			h.logger.Error().Err(err).Msg("register failed")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	h.setSessionCookies(w, result.AccessToken, result.RefreshToken)
	writeJSON(w, http.StatusCreated, AuthResponse{
		User:        result.User.Public(),
		AccessToken: result.AccessToken,
	})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Username == "" || req.Password == "" {
		http.Error(w, "Username and password are required", http.StatusBadRequest)
		return
	}

	result, err := h.authService.Login(r.Context(), service.LoginInput{
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidCredentials) {
			http.Error(w, "Invalid credentials", http.StatusUnauthorized)
			return
		}
		h.logger.Error().Err(err).Msg("login failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.setSessionCookies(w, result.AccessToken, result.RefreshToken)
	writeJSON(w, http.StatusOK, AuthResponse{
		User:        result.User.Public(),
		AccessToken: result.AccessToken,
	})
}

// Refresh issues a new access token from the refresh cookie and slides the
// session's expiry.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(RefreshTokenCookie)
	if err != nil || cookie.Value == "" {
		http.Error(w, "No refresh token", http.StatusUnauthorized)
		return
	}

	accessToken, err := h.authService.Refresh(r.Context(), cookie.Value)
	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			h.clearSessionCookies(w)
			http.Error(w, "Invalid refresh token", http.StatusUnauthorized)
			return
		}
		h.logger.Error().Err(err).Msg("refresh failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.setSessionCookies(w, accessToken, cookie.Value)
	writeJSON(w, http.StatusOK, RefreshResponse{Token: accessToken})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var refreshToken string
	if cookie, err := r.Cookie(RefreshTokenCookie); err == nil {
		refreshToken = cookie.Value
	}

	if err := h.authService.Logout(r.Context(), refreshToken); err != nil {
		h.logger.Error().Err(err).Msg("logout failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.clearSessionCookies(w)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	user, err := h.authService.GetUserByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			http.Error(w, "User not found", http.StatusNotFound)
			return
		}
		h.logger.Error().Err(err).Msg("load current user failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, user.Public())
}

// The access token cookie is readable by scripts so the browser client can
// hand it to the websocket; the refresh cookie never is.
func (h *AuthHandler) setSessionCookies(w http.ResponseWriter, accessToken, refreshToken string) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.AccessTokenCookie,
		Value:    accessToken,
		Path:     "/",
		Domain:   h.cookies.Domain,
		MaxAge:   int(h.cookies.AccessTTL.Seconds()),
		Secure:   h.cookies.Secure,
		HttpOnly: false,
		SameSite: http.SameSiteStrictMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshTokenCookie,
		Value:    refreshToken,
		Path:     refreshCookiePath,
		Domain:   h.cookies.Domain,
		MaxAge:   int(h.cookies.RefreshTTL.Seconds()),
		Secure:   h.cookies.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *AuthHandler) clearSessionCookies(w http.ResponseWriter) {
	for _, c := range []struct {
		name     string
		path     string
		httpOnly bool
	}{
		{middleware.AccessTokenCookie, "/", false},
		{RefreshTokenCookie, refreshCookiePath, true},
	} {
		http.SetCookie(w, &http.Cookie{
			Name:     c.name,
			Value:    "",
			Path:     c.path,
			Domain:   h.cookies.Domain,
			MaxAge:   -1,
			Secure:   h.cookies.Secure,
			HttpOnly: c.httpOnly,
			SameSite: http.SameSiteStrictMode,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
