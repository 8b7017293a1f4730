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

package agreement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/safestay/safestay/internal/audit"
	"github.com/safestay/safestay/internal/observability/logger"
	"github.com/safestay/safestay/internal/session"
)

// DefaultMaxKeyAttempts caps key regeneration on collision
const DefaultMaxKeyAttempts = 5

// Draft is the owner-supplied content of a new agreement
type Draft struct {
	PropertyLabel   string  `json:"property_label"`
	PropertyAddress string  `json:"property_address"`
	RentAmount      float64 `json:"rent_amount"`
	Terms           Terms   `json:"terms"`
}

// Validate checks the draft before any key is allocated
func (d Draft) Validate() error {
	if strings.TrimSpace(d.PropertyLabel) == "" {
		return fmt.Errorf("%w: property label is required", ErrInvalidDraft)
	}
	if d.RentAmount < 0 || math.IsNaN(d.RentAmount) || math.IsInf(d.RentAmount, 0) {
		return fmt.Errorf("%w: rent amount must be a non-negative number", ErrInvalidDraft)
	}
	return nil
}

// Service provides owner-side agreement issuance
type Service struct {
	repo           Repository
	keys           KeyGenerator
	auditLogger    audit.Logger
	maxKeyAttempts int
}

// NewService creates a new agreement service
func NewService(repo Repository, keys KeyGenerator, auditLogger audit.Logger, maxKeyAttempts int) *Service {
	if maxKeyAttempts <= 0 {
		maxKeyAttempts = DefaultMaxKeyAttempts
	}
	return &Service{
		repo:           repo,
		keys:           keys,
		auditLogger:    auditLogger,
		maxKeyAttempts: maxKeyAttempts,
	}
}

// Issue creates a pending agreement with a fresh access key for the
// session's owner. A key that already resolves to any agreement is treated
// as a collision and regenerated, up to maxKeyAttempts times.
func (s *Service) Issue(ctx context.Context, sess *session.Session, draft Draft) (*Agreement, error) {
	if sess == nil || sess.OwnerRef == "" {
		return nil, session.ErrSessionInvalid
	}
	if err := draft.Validate(); err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= s.maxKeyAttempts; attempt++ {
		key, err := s.keys.Generate()
		if err != nil {
			return nil, fmt.Errorf("failed to generate access key: %w", err)
		}

		_, err = s.repo.FindActiveByKey(ctx, key)
		switch {
		case err == nil, errors.Is(err, ErrAlreadyFulfilled):
			s.recordCollision(ctx, sess, attempt)
			continue
		case !errors.Is(err, ErrNotFound):
			return nil, err
		}

		id, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("failed to generate agreement id: %w", err)
		}

		a := &Agreement{
			ID:              id.String(),
			AccessKey:       key,
			OwnerRef:        sess.OwnerRef,
			PropertyLabel:   strings.TrimSpace(draft.PropertyLabel),
			PropertyAddress: strings.TrimSpace(draft.PropertyAddress),
			RentAmount:      draft.RentAmount,
			Terms:           append(Terms(nil), draft.Terms...),
			Status:          StatusPending,
			SchemaVersion:   SchemaVersion,
			CreatedAt:       time.Now().UTC(),
		}

		if err := s.repo.Create(ctx, a); err != nil {
			if errors.Is(err, ErrKeyConflict) {
				s.recordCollision(ctx, sess, attempt)
				continue
			}
			return nil, err
		}

		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeAgreementIssued,
			ActorID:  sess.OwnerRef,
			Resource: "agreement",
			Metadata: map[string]any{"agreement_id": a.ID, "attempts": attempt},
		})

		return a, nil
	}

	slog.ErrorContext(ctx, "access key allocation exhausted",
		logger.OwnerRef(sess.OwnerRef),
		slog.Int("attempts", s.maxKeyAttempts),
	)
	return nil, ErrKeySpaceExhausted
}

func (s *Service) recordCollision(ctx context.Context, sess *session.Session, attempt int) {
	slog.WarnContext(ctx, "access key collision, regenerating",
		logger.OwnerRef(sess.OwnerRef),
		slog.Int("attempt", attempt),
	)
	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeKeyCollision,
		ActorID:  sess.OwnerRef,
		Resource: "agreement",
		Metadata: map[string]any{"attempt": attempt},
	})
}

// ListForOwner lists the session owner's agreements
func (s *Service) ListForOwner(ctx context.Context, sess *session.Session, limit, offset int) ([]*Agreement, error) {
	if sess == nil || sess.OwnerRef == "" {
		return nil, session.ErrSessionInvalid
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListByOwner(ctx, sess.OwnerRef, limit, offset)
}

// GetForOwner retrieves one agreement owned by the session owner. Other
// owners' agreements are reported as ErrNotFound.
func (s *Service) GetForOwner(ctx context.Context, sess *session.Session, id string) (*Agreement, error) {
	if sess == nil || sess.OwnerRef == "" {
		return nil, session.ErrSessionInvalid
	}
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.OwnerRef != sess.OwnerRef {
		return nil, ErrNotFound
	}
	return a, nil
}
