package auth

import (
	"time"

	"github.com/NordCoder/Studymate/internal/domain/user"
)

// Identity is what a verified access token asserts.
type Identity struct {
	UserID string
	Role   user.Role
}

// RefreshToken is the stored record of an issued refresh secret.
// Only the hash of the secret is ever persisted.
type RefreshToken struct {
	ID        int64
	UserID    string
	TokenHash string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type EventKind string

const (
	EventLogin   EventKind = "session.login"
	EventRefresh EventKind = "session.refresh"
	EventLogout  EventKind = "session.logout"
)

type SessionEvent struct {
	Kind   EventKind `json:"kind"`
	UserID string    `json:"user_id"`
	At     time.Time `json:"at"`
}
