package domain

import "errors"

// Authentication errors. Callers never learn why a credential was rejected.
var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// User errors
var (
	ErrUserNotFound  = errors.New("user not found")
	ErrUsernameTaken = errors.New("username already exists")
)

// Chat and message errors
var (
	ErrChatNotFound        = errors.New("chat not found")
	ErrChatExists          = errors.New("chat already exists")
	ErrInvalidParticipants = errors.New("a chat needs at least two distinct participants")
	ErrNotParticipant      = errors.New("user is not a participant of this chat")
	ErrInvalidMessage      = errors.New("invalid message")
)

// ErrStoreUnavailable wraps transient failures of the durable store.
var ErrStoreUnavailable = errors.New("store unavailable")
