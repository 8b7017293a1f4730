// Package memory provides in-process repositories for development and tests.
// Every read returns a copy; no caller can mutate stored state.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/safestay/safestay/internal/agreement"
)

// AgreementRepository implements agreement.Repository
type AgreementRepository struct {
	mu   sync.RWMutex
	byID map[string]*agreement.Agreement
}

// NewAgreementRepository creates an empty agreement repository
func NewAgreementRepository() *AgreementRepository {
	return &AgreementRepository{byID: make(map[string]*agreement.Agreement)}
}

// FindActiveByKey resolves an access key case-insensitively
func (r *AgreementRepository) FindActiveByKey(ctx context.Context, key string) (*agreement.Agreement, error) {
	key = agreement.NormalizeKey(key)

	r.mu.RLock()
	defer r.mu.RUnlock()

	filled := false
	for _, a := range r.byID {
		if a.AccessKey != key {
			continue
		}
		if a.IsPending() {
			return a.Clone(), nil
		}
		filled = true
	}
	if filled {
		return nil, agreement.ErrAlreadyFulfilled
	}
	return nil, agreement.ErrNotFound
}

// Create stores a new pending agreement
func (r *AgreementRepository) Create(ctx context.Context, a *agreement.Agreement) error {
	if err := a.CheckInvariants(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[a.ID]; exists {
		return fmt.Errorf("agreement %s already exists", a.ID)
	}
	for _, other := range r.byID {
		if other.AccessKey == a.AccessKey && other.IsPending() {
			return agreement.ErrKeyConflict
		}
	}

	c := a.Clone()
	c.Status = agreement.StatusPending
	c.TenantRef = nil
	c.FilledAt = nil
	r.byID[c.ID] = c
	return nil
}

// TransitionToFilled performs the pending -> filled compare-and-set under the write lock
func (r *AgreementRepository) TransitionToFilled(ctx context.Context, agreementID, tenantRef string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.byID[agreementID]
	if !ok {
		return agreement.ErrNotFound
	}
	if !a.IsPending() {
		return agreement.ErrAlreadyFulfilled
	}

	now := time.Now().UTC()
	ref := tenantRef
	a.Status = agreement.StatusFilled
	a.TenantRef = &ref
	a.FilledAt = &now
	return nil
}

// GetByID retrieves an agreement by ID
func (r *AgreementRepository) GetByID(ctx context.Context, id string) (*agreement.Agreement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.byID[id]
	if !ok {
		return nil, agreement.ErrNotFound
	}
	return a.Clone(), nil
}

// ListByOwner lists an owner's agreements, newest first
func (r *AgreementRepository) ListByOwner(ctx context.Context, ownerRef string, limit, offset int) ([]*agreement.Agreement, error) {
	r.mu.RLock()
	var owned []*agreement.Agreement
	for _, a := range r.byID {
		if a.OwnerRef == ownerRef {
			owned = append(owned, a.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(owned, func(i, j int) bool {
		if owned[i].CreatedAt.Equal(owned[j].CreatedAt) {
			return owned[i].ID > owned[j].ID
		}
		return owned[i].CreatedAt.After(owned[j].CreatedAt)
	})

	if offset >= len(owned) {
		return []*agreement.Agreement{}, nil
	}
	owned = owned[offset:]
	if limit > 0 && limit < len(owned) {
		owned = owned[:limit]
	}
	return owned, nil
}

// referencedTenant returns the tenant ref of an agreement, if filled
func (r *AgreementRepository) referencedTenant(agreementID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.byID[agreementID]
	if !ok || a.TenantRef == nil {
		return "", false
	}
	return *a.TenantRef, true
}
