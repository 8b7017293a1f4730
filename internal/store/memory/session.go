package memory

import (
	"context"
	"sync"
	"time"

	"github.com/safestay/safestay/internal/session"
)

// SessionRepository implements session.Repository
type SessionRepository struct {
	mu       sync.Mutex
	sessions map[string]session.Session
}

// NewSessionRepository creates an empty session repository
func NewSessionRepository() *SessionRepository {
	return &SessionRepository{sessions: make(map[string]session.Session)}
}

func (r *SessionRepository) Create(ctx context.Context, s *session.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = *s
	return nil
}

func (r *SessionRepository) Get(ctx context.Context, sessionID string) (*session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	return &s, nil
}

func (r *SessionRepository) Update(ctx context.Context, s *session.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[s.ID]; !ok {
		return session.ErrSessionNotFound
	}
	r.sessions[s.ID] = *s
	return nil
}

func (r *SessionRepository) Delete(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[sessionID]; !ok {
		return session.ErrSessionNotFound
	}
	delete(r.sessions, sessionID)
	return nil
}

func (r *SessionRepository) DeleteByOwner(ctx context.Context, ownerRef string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, s := range r.sessions {
		if s.OwnerRef == ownerRef {
			delete(r.sessions, id)
		}
	}
	return nil
}

func (r *SessionRepository) DeleteExpired(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for id, s := range r.sessions {
		if now.After(s.ExpiresAt) {
			delete(r.sessions, id)
		}
	}
	return nil
}
