package memory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/safestay/safestay/internal/tenant"
)

// TenantRepository implements tenant.Repository
type TenantRepository struct {
	mu         sync.RWMutex
	records    map[string]*tenant.Record
	agreements *AgreementRepository
}

// NewTenantRepository creates a tenant repository. Orphan detection reads
// agreements from the given repository.
func NewTenantRepository(agreements *AgreementRepository) *TenantRepository {
	return &TenantRepository{
		records:    make(map[string]*tenant.Record),
		agreements: agreements,
	}
}

func cloneRecord(r *tenant.Record) *tenant.Record {
	c := *r
	c.Documents = maps.Clone(r.Documents)
	return &c
}

func (r *TenantRepository) Create(ctx context.Context, record *tenant.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[record.ID]; exists {
		return fmt.Errorf("tenant record %s already exists", record.ID)
	}
	r.records[record.ID] = cloneRecord(record)
	return nil
}

func (r *TenantRepository) GetByID(ctx context.Context, id string) (*tenant.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, tenant.ErrRecordNotFound
	}
	return cloneRecord(rec), nil
}

func (r *TenantRepository) ListByAgreement(ctx context.Context, agreementRef string) ([]*tenant.Record, error) {
	r.mu.RLock()
	var out []*tenant.Record
	for _, rec := range r.records {
		if rec.AgreementRef == agreementRef {
			out = append(out, cloneRecord(rec))
		}
	}
	r.mu.RUnlock()

	sortRecords(out)
	return out, nil
}

func (r *TenantRepository) ListOrphaned(ctx context.Context, cutoff time.Time) ([]*tenant.Record, error) {
	r.mu.RLock()
	var candidates []*tenant.Record
	for _, rec := range r.records {
		if rec.SubmittedAt.Before(cutoff) {
			candidates = append(candidates, cloneRecord(rec))
		}
	}
	r.mu.RUnlock()

	var out []*tenant.Record
	for _, rec := range candidates {
		if ref, ok := r.agreements.referencedTenant(rec.AgreementRef); !ok || ref != rec.ID {
			out = append(out, rec)
		}
	}
	sortRecords(out)
	return out, nil
}

func (r *TenantRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[id]; !ok {
		return tenant.ErrRecordNotFound
	}
	delete(r.records, id)
	return nil
}

func sortRecords(records []*tenant.Record) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].SubmittedAt.Before(records[j].SubmittedAt)
	})
}
