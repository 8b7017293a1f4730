// Copyright 2026 The SafeStay Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Service manages the owner session lifecycle: established at login,
// refreshed on use, cleared at logout or expiry.
type Service struct {
	repo        Repository
	lifetime    time.Duration
	idleTimeout time.Duration
}

// NewService creates a new session service
func NewService(repo Repository, lifetime, idleTimeout time.Duration) *Service {
	return &Service{
		repo:        repo,
		lifetime:    lifetime,
		idleTimeout: idleTimeout,
	}
}

// Create establishes a session for an authenticated owner
func (s *Service) Create(ctx context.Context, ownerRef, ownerEmail, ipAddress, userAgent string) (*Session, error) {
	if ownerRef == "" {
		return nil, ErrSessionInvalid
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session id: %w", err)
	}

	now := time.Now()
	sess := &Session{
		ID:         id.String(),
		OwnerRef:   ownerRef,
		OwnerEmail: ownerEmail,
		IPAddress:  ipAddress,
		UserAgent:  userAgent,
		ExpiresAt:  now.Add(s.lifetime),
		CreatedAt:  now,
		LastSeenAt: now,
	}

	if err := s.repo.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return sess, nil
}

// Get returns a live session. Expired or idle sessions are deleted and
// reported as ErrSessionExpired.
func (s *Service) Get(ctx context.Context, sessionID string) (*Session, error) {
	sess, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if sess.IsExpired() || (s.idleTimeout > 0 && sess.IsIdle(s.idleTimeout)) {
		if err := s.repo.Delete(ctx, sessionID); err != nil {
			slog.WarnContext(ctx, "failed to delete stale session", "error", err)
		}
		return nil, ErrSessionExpired
	}

	return sess, nil
}

// Refresh bumps the last seen time of a session
func (s *Service) Refresh(ctx context.Context, sessionID string) error {
	sess, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	sess.LastSeenAt = time.Now()
	return s.repo.Update(ctx, sess)
}

// Destroy clears a session (logout). Destroying a missing session is not an error.
func (s *Service) Destroy(ctx context.Context, sessionID string) error {
	if err := s.repo.Delete(ctx, sessionID); err != nil && !errors.Is(err, ErrSessionNotFound) {
		return fmt.Errorf("failed to destroy session: %w", err)
	}
	return nil
}

// DestroyAllForOwner clears every session the owner holds, on any device
func (s *Service) DestroyAllForOwner(ctx context.Context, ownerRef string) error {
	if ownerRef == "" {
		return ErrSessionInvalid
	}
	if err := s.repo.DeleteByOwner(ctx, ownerRef); err != nil {
		return fmt.Errorf("failed to destroy owner sessions: %w", err)
	}
	return nil
}

// CleanupExpired removes expired sessions from the store
func (s *Service) CleanupExpired(ctx context.Context) error {
	return s.repo.DeleteExpired(ctx)
}
