package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/safestay/safestay/internal/capture"
	"github.com/safestay/safestay/internal/intake"
	"github.com/safestay/safestay/internal/tenant"
)

const tenantColumns = `t.id, t.agreement_ref, t.workflow_version, t.full_name, t.relation_name,
	t.permanent_address, t.mobile, t.national_id, t.secondary_id, t.documents, t.submitted_at`

// TenantRepository implements tenant.Repository
type TenantRepository struct {
	db *DB
}

// NewTenantRepository creates a new tenant repository
func NewTenantRepository(db *DB) *TenantRepository {
	return &TenantRepository{db: db}
}

func scanRecord(row pgx.Row) (*tenant.Record, error) {
	var (
		r    tenant.Record
		docs []byte
	)
	err := row.Scan(
		&r.ID, &r.AgreementRef, &r.WorkflowVersion, &r.Fields.FullName, &r.Fields.RelationName,
		&r.Fields.PermanentAddress, &r.Fields.Mobile, &r.Fields.NationalID, &r.Fields.SecondaryID,
		&docs, &r.SubmittedAt,
	)
	if err != nil {
		return nil, err
	}

	r.Documents = map[intake.Slot]capture.Artifact{}
	if len(docs) > 0 {
		if err := json.Unmarshal(docs, &r.Documents); err != nil {
			return nil, fmt.Errorf("failed to decode documents: %w", err)
		}
	}
	return &r, nil
}

// Create inserts a tenant record
func (r *TenantRepository) Create(ctx context.Context, rec *tenant.Record) error {
	docs, err := json.Marshal(rec.Documents)
	if err != nil {
		return fmt.Errorf("failed to encode documents: %w", err)
	}

	_, err = r.db.pool.Exec(ctx, `
		INSERT INTO tenant_records (id, agreement_ref, workflow_version, full_name, relation_name,
			permanent_address, mobile, national_id, secondary_id, documents, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		rec.ID, rec.AgreementRef, rec.WorkflowVersion, rec.Fields.FullName, rec.Fields.RelationName,
		rec.Fields.PermanentAddress, rec.Fields.Mobile, rec.Fields.NationalID, rec.Fields.SecondaryID,
		docs, rec.SubmittedAt,
	)
	if err != nil {
		return unavailable(tenant.ErrStoreUnavailable, "create tenant record", err)
	}
	return nil
}

// GetByID retrieves a tenant record by ID
func (r *TenantRepository) GetByID(ctx context.Context, id string) (*tenant.Record, error) {
	rec, err := scanRecord(r.db.pool.QueryRow(ctx, `
		SELECT `+tenantColumns+`
		FROM tenant_records t
		WHERE t.id = $1
	`, id))

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, tenant.ErrRecordNotFound
		}
		return nil, unavailable(tenant.ErrStoreUnavailable, "get tenant record", err)
	}
	return rec, nil
}

// ListByAgreement lists every record submitted against an agreement
func (r *TenantRepository) ListByAgreement(ctx context.Context, agreementRef string) ([]*tenant.Record, error) {
	return r.list(ctx, "list tenant records", `
		SELECT `+tenantColumns+`
		FROM tenant_records t
		WHERE t.agreement_ref = $1
		ORDER BY t.submitted_at
	`, agreementRef)
}

// ListOrphaned returns records older than cutoff that their agreement does
// not point back to.
func (r *TenantRepository) ListOrphaned(ctx context.Context, cutoff time.Time) ([]*tenant.Record, error) {
	return r.list(ctx, "list orphaned tenant records", `
		SELECT `+tenantColumns+`
		FROM tenant_records t
		LEFT JOIN agreements a ON a.id = t.agreement_ref
		WHERE t.submitted_at < $1
		  AND a.tenant_ref IS DISTINCT FROM t.id
		ORDER BY t.submitted_at
	`, cutoff)
}

func (r *TenantRepository) list(ctx context.Context, op, query string, args ...any) ([]*tenant.Record, error) {
	rows, err := r.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, unavailable(tenant.ErrStoreUnavailable, op, err)
	}
	defer rows.Close()

	records := []*tenant.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, unavailable(tenant.ErrStoreUnavailable, op, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(tenant.ErrStoreUnavailable, op, err)
	}
	return records, nil
}

// Delete removes a tenant record
func (r *TenantRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.pool.Exec(ctx, `DELETE FROM tenant_records WHERE id = $1`, id)
	if err != nil {
		return unavailable(tenant.ErrStoreUnavailable, "delete tenant record", err)
	}
	if result.RowsAffected() == 0 {
		return tenant.ErrRecordNotFound
	}
	return nil
}
