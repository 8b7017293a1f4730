package agreement

import (
	"context"
	"errors"
)

// Domain errors
var (
	ErrNotFound          = errors.New("agreement not found")
	ErrAlreadyFulfilled  = errors.New("agreement already fulfilled")
	ErrKeyConflict       = errors.New("access key already in use")
	ErrKeySpaceExhausted = errors.New("could not allocate a unique access key")
	ErrStoreUnavailable  = errors.New("agreement store unavailable")
	ErrInvalidDraft      = errors.New("invalid agreement draft")
)

// Repository defines the interface for agreement persistence.
//
// Implementations must make TransitionToFilled an atomic compare-and-set on
// the pending status. Infrastructure failures are reported wrapped with
// ErrStoreUnavailable so callers never confuse them with ErrAlreadyFulfilled.
type Repository interface {
	// FindActiveByKey resolves a normalized access key. It returns
	// ErrAlreadyFulfilled when the key only matches filled agreements and
	// ErrNotFound when it matches nothing.
	FindActiveByKey(ctx context.Context, key string) (*Agreement, error)

	// Create stores a new pending agreement. A pending agreement already
	// holding the same key yields ErrKeyConflict.
	Create(ctx context.Context, agreement *Agreement) error

	// TransitionToFilled moves a pending agreement to filled and records the
	// tenant reference, or fails with ErrAlreadyFulfilled.
	TransitionToFilled(ctx context.Context, agreementID, tenantRef string) error

	// GetByID retrieves an agreement by ID
	GetByID(ctx context.Context, id string) (*Agreement, error)

	// ListByOwner lists an owner's agreements, newest first
	ListByOwner(ctx context.Context, ownerRef string, limit, offset int) ([]*Agreement, error)
}
