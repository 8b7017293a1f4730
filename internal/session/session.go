package session

import (
	"context"
	"errors"
	"time"
)

// Domain errors
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
	ErrSessionInvalid  = errors.New("session invalid")
)

// Session represents an authenticated owner session. It is the only place
// handlers obtain an owner reference from; there is no ambient current user.
type Session struct {
	ID         string
	OwnerRef   string // Stable account id from the identity provider, never an email
	OwnerEmail string // Display only
	IPAddress  string
	UserAgent  string
	ExpiresAt  time.Time
	CreatedAt  time.Time
	LastSeenAt time.Time
}

// IsExpired checks if the session has expired
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// IsIdle checks if the session has been idle for too long
func (s *Session) IsIdle(idleTimeout time.Duration) bool {
	return time.Since(s.LastSeenAt) > idleTimeout
}

// Repository defines the interface for session persistence
type Repository interface {
	// Create creates a new session
	Create(ctx context.Context, session *Session) error

	// Get retrieves a session by ID
	Get(ctx context.Context, sessionID string) (*Session, error)

	// Update updates session last seen time
	Update(ctx context.Context, session *Session) error

	// Delete deletes a session
	Delete(ctx context.Context, sessionID string) error

	// DeleteByOwner deletes all sessions for an owner
	DeleteByOwner(ctx context.Context, ownerRef string) error

	// DeleteExpired deletes all expired sessions
	DeleteExpired(ctx context.Context) error
}
