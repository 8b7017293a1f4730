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

package tenant

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/safestay/safestay/internal/audit"
	"github.com/safestay/safestay/internal/observability/logger"
)

// DefaultOrphanGrace keeps in-flight submissions out of orphan reports
const DefaultOrphanGrace = 15 * time.Minute

// Service provides operator-side tenant record maintenance
type Service struct {
	repo        Repository
	auditLogger audit.Logger
	now         func() time.Time
}

// NewService creates a new tenant record service
func NewService(repo Repository, auditLogger audit.Logger) *Service {
	return &Service{
		repo:        repo,
		auditLogger: auditLogger,
		now:         time.Now,
	}
}

// Submissions lists every record written against an agreement, oldest
// first. More than one means concurrent submissions lost the fill race.
func (s *Service) Submissions(ctx context.Context, agreementID string) ([]*Record, error) {
	if agreementID == "" {
		return nil, fmt.Errorf("agreement id is required")
	}
	records, err := s.repo.ListByAgreement(ctx, agreementID)
	if err != nil {
		return nil, fmt.Errorf("failed to list records for agreement %s: %w", agreementID, err)
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].SubmittedAt.Before(records[j].SubmittedAt)
	})
	return records, nil
}

// Orphans lists records older than grace that no agreement points to
func (s *Service) Orphans(ctx context.Context, grace time.Duration) ([]*Record, error) {
	if grace < 0 {
		return nil, fmt.Errorf("grace period must not be negative")
	}
	records, err := s.repo.ListOrphaned(ctx, s.now().Add(-grace))
	if err != nil {
		return nil, fmt.Errorf("failed to list orphaned records: %w", err)
	}
	return records, nil
}

// PurgeOrphans deletes orphaned records and audits each deletion. It is
// operator-run, never automatic.
func (s *Service) PurgeOrphans(ctx context.Context, grace time.Duration, actor string) (int, error) {
	records, err := s.Orphans(ctx, grace)
	if err != nil {
		return 0, err
	}

	purged := 0
	for _, r := range records {
		if err := s.repo.Delete(ctx, r.ID); err != nil {
			return purged, fmt.Errorf("failed to delete orphaned record %s: %w", r.ID, err)
		}
		purged++

		slog.InfoContext(ctx, "orphaned tenant record purged",
			logger.TenantRef(r.ID),
			logger.AgreementID(r.AgreementRef),
		)
		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeOrphanPurged,
			ActorID:  actor,
			Resource: "tenant_record",
			Metadata: map[string]any{"tenant_ref": r.ID, "agreement_id": r.AgreementRef},
		})
	}
	return purged, nil
}
