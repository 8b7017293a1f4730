package tenant

import (
	"context"
	"errors"
	"time"
)

var (
	ErrRecordNotFound   = errors.New("tenant record not found")
	ErrStoreUnavailable = errors.New("tenant store unavailable")
)

// Repository defines the interface for tenant record storage
type Repository interface {
	Create(ctx context.Context, record *Record) error
	GetByID(ctx context.Context, id string) (*Record, error)
	ListByAgreement(ctx context.Context, agreementRef string) ([]*Record, error)

	// ListOrphaned returns records submitted before cutoff whose agreement
	// does not reference them.
	ListOrphaned(ctx context.Context, cutoff time.Time) ([]*Record, error)

	Delete(ctx context.Context, id string) error
}
