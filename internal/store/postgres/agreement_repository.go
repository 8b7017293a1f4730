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

package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/safestay/safestay/internal/agreement"
)

const agreementColumns = `id, access_key, owner_ref, property_label, property_address, rent_amount,
	terms, status, tenant_ref, schema_version, created_at, filled_at`

// AgreementRepository implements agreement.Repository
type AgreementRepository struct {
	db *DB
}

// NewAgreementRepository creates a new agreement repository
func NewAgreementRepository(db *DB) *AgreementRepository {
	return &AgreementRepository{db: db}
}

func scanAgreement(row pgx.Row) (*agreement.Agreement, error) {
	var (
		a      agreement.Agreement
		terms  []string
		status string
	)
	err := row.Scan(
		&a.ID, &a.AccessKey, &a.OwnerRef, &a.PropertyLabel, &a.PropertyAddress, &a.RentAmount,
		&terms, &status, &a.TenantRef, &a.SchemaVersion, &a.CreatedAt, &a.FilledAt,
	)
	if err != nil {
		return nil, err
	}
	a.Terms = agreement.Terms(terms)
	a.Status = agreement.Status(status)
	if err := a.CheckInvariants(); err != nil {
		return nil, err
	}
	return &a, nil
}

// FindActiveByKey resolves an access key, preferring the pending agreement
func (r *AgreementRepository) FindActiveByKey(ctx context.Context, key string) (*agreement.Agreement, error) {
	a, err := scanAgreement(r.db.pool.QueryRow(ctx, `
		SELECT `+agreementColumns+`
		FROM agreements
		WHERE access_key = $1
		ORDER BY (status = 'pending') DESC, created_at DESC
		LIMIT 1
	`, agreement.NormalizeKey(key)))

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, agreement.ErrNotFound
		}
		return nil, unavailable(agreement.ErrStoreUnavailable, "find agreement by key", err)
	}

	if !a.IsPending() {
		return nil, agreement.ErrAlreadyFulfilled
	}
	return a, nil
}

// Create inserts a pending agreement
func (r *AgreementRepository) Create(ctx context.Context, a *agreement.Agreement) error {
	terms := []string(a.Terms)
	if terms == nil {
		terms = []string{}
	}

	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO agreements (id, access_key, owner_ref, property_label, property_address, rent_amount,
			terms, status, schema_version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', $8, $9)
	`,
		a.ID, a.AccessKey, a.OwnerRef, a.PropertyLabel, a.PropertyAddress, a.RentAmount,
		terms, a.SchemaVersion, a.CreatedAt,
	)

	if err != nil {
		if uniqueViolation(err, "agreements_pending_access_key") {
			return agreement.ErrKeyConflict
		}
		return unavailable(agreement.ErrStoreUnavailable, "create agreement", err)
	}
	return nil
}

// TransitionToFilled is a single conditional UPDATE; the row's pending
// status is the compare-and-set guard.
func (r *AgreementRepository) TransitionToFilled(ctx context.Context, agreementID, tenantRef string) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE agreements
		SET status = 'filled', tenant_ref = $2, filled_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, agreementID, tenantRef)

	if err != nil {
		return unavailable(agreement.ErrStoreUnavailable, "fill agreement", err)
	}
	if result.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := r.db.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM agreements WHERE id = $1)`, agreementID).Scan(&exists); err != nil {
		return unavailable(agreement.ErrStoreUnavailable, "check agreement", err)
	}
	if !exists {
		return agreement.ErrNotFound
	}
	return agreement.ErrAlreadyFulfilled
}

// GetByID retrieves an agreement by ID
func (r *AgreementRepository) GetByID(ctx context.Context, id string) (*agreement.Agreement, error) {
	a, err := scanAgreement(r.db.pool.QueryRow(ctx, `
		SELECT `+agreementColumns+`
		FROM agreements
		WHERE id = $1
	`, id))

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, agreement.ErrNotFound
		}
		return nil, unavailable(agreement.ErrStoreUnavailable, "get agreement", err)
	}
	return a, nil
}

// ListByOwner lists an owner's agreements, newest first
func (r *AgreementRepository) ListByOwner(ctx context.Context, ownerRef string, limit, offset int) ([]*agreement.Agreement, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT `+agreementColumns+`
		FROM agreements
		WHERE owner_ref = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, ownerRef, limit, offset)
	if err != nil {
		return nil, unavailable(agreement.ErrStoreUnavailable, "list agreements", err)
	}
	defer rows.Close()

	agreements := []*agreement.Agreement{}
	for rows.Next() {
		a, err := scanAgreement(rows)
		if err != nil {
			return nil, unavailable(agreement.ErrStoreUnavailable, "scan agreement", err)
		}
		agreements = append(agreements, a)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(agreement.ErrStoreUnavailable, "list agreements", err)
	}
	return agreements, nil
}
