package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/dom/livechat/internal/domain"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// UserBuilder creates test users with a builder pattern
type UserBuilder struct {
	username string
	password string
}

// NewUserBuilder creates a new UserBuilder with default values
func NewUserBuilder() *UserBuilder {
	return &UserBuilder{
		username: fmt.Sprintf("testuser_%s", uuid.New().String()[:8]),
		password: "testpassword123",
	}
}

// WithUsername sets the username
func (b *UserBuilder) WithUsername(name string) *UserBuilder {
	b.username = name
	return b
}

// WithPassword sets the password
func (b *UserBuilder) WithPassword(password string) *UserBuilder {
	b.password = password
	return b
}

// Build creates the user in the database and returns the user with the raw password
func (b *UserBuilder) Build(t *testing.T, db *gorm.DB) (*domain.User, string) {
	t.Helper()

	// MinCost keeps fixture setup fast; login still verifies against it.
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(b.password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}

	user := &domain.User{
		ID:           uuid.New(),
		Username:     b.username,
		PasswordHash: string(hashedPassword),
		CreatedAt:    time.Now().UTC(),
	}

	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed to create user: %v", err)
	}

	return user, b.password
}

// AuthResponse matches the API auth response
type AuthResponse struct {
	User        domain.PublicUser `json:"user"`
	AccessToken string            `json:"accessToken"`
}

// Session is a registered user with the credentials the API handed out.
type Session struct {
	User         domain.PublicUser
	AccessToken  string
	RefreshToken string
}

// BuildAndAuthenticate registers the user through the API and returns the
// user, access token and refresh cookie value.
func (b *UserBuilder) BuildAndAuthenticate(t *testing.T, ts *TestServer) *Session {
	t.Helper()

	body, _ := json.Marshal(map[string]string{
		"username": b.username,
		"password": b.password,
	})

	resp, err := http.Post(ts.URL("/auth/register"), "application/json", bytes.NewBuffer(body))
	if err != nil {
		t.Fatalf("failed to register user: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected status code: %d", resp.StatusCode)
	}

	var authResp AuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&authResp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	session := &Session{User: authResp.User, AccessToken: authResp.AccessToken}
	if c := FindCookie(resp, "refreshToken"); c != nil {
		session.RefreshToken = c.Value
	}
	return session
}

// ChatBuilder creates chats directly in the store
type ChatBuilder struct {
	participants []uuid.UUID
}

func NewChatBuilder() *ChatBuilder {
	return &ChatBuilder{}
}

// Between sets the chat's participants
func (b *ChatBuilder) Between(users ...*domain.User) *ChatBuilder {
	for _, u := range users {
		b.participants = append(b.participants, u.ID)
	}
	return b
}

func (b *ChatBuilder) Build(t *testing.T, db *gorm.DB) *domain.Chat {
	t.Helper()

	users := make([]domain.User, 0, len(b.participants))
	for _, id := range b.participants {
		users = append(users, domain.User{ID: id})
	}
	chat := &domain.Chat{
		ID:           uuid.New(),
		Participants: users,
		CreatedAt:    time.Now().UTC(),
	}

	if err := db.Omit("Participants.*").Create(chat).Error; err != nil {
		t.Fatalf("failed to create chat: %v", err)
	}
	return chat
}

// FindCookie returns the named cookie set by resp, or nil.
func FindCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// CreateAuthenticatedRequest creates an HTTP request with auth token
func CreateAuthenticatedRequest(t *testing.T, method, url string, body interface{}, token string) *http.Request {
	t.Helper()

	var bodyReader *bytes.Buffer
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		bodyReader = bytes.NewBuffer(jsonBody)
	} else {
		bodyReader = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequestWithContext(context.Background(), method, url, bodyReader)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return req
}
