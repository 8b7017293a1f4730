package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/safestay/safestay/internal/agreement"
	"github.com/safestay/safestay/internal/session"
	"github.com/safestay/safestay/internal/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pending(id, key, owner string, created time.Time) *agreement.Agreement {
	return &agreement.Agreement{
		ID: id, AccessKey: key, OwnerRef: owner, PropertyLabel: "Flat",
		Status: agreement.StatusPending, SchemaVersion: agreement.SchemaVersion, CreatedAt: created,
	}
}

// TestPurpose: Validates case-insensitive access key lookup.
// Scope: Unit Test
// Expected: "ab12cd" resolves the agreement stored under "AB12CD".
// Test Case ID: MEM-01
func TestMemory_FindActiveByKey_CaseInsensitive(t *testing.T) {
	repo := NewAgreementRepository()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, pending("ag-1", "AB12CD", "owner-1", time.Now())))

	a, err := repo.FindActiveByKey(ctx, "ab12cd")
	require.NoError(t, err)
	assert.Equal(t, "ag-1", a.ID)

	_, err = repo.FindActiveByKey(ctx, "ZZZZZZ")
	assert.ErrorIs(t, err, agreement.ErrNotFound)
}

// TestPurpose: Validates that a filled agreement's key reports AlreadyFulfilled, distinct from NotFound.
// Scope: Unit Test
// Expected: After the transition, lookup fails with ErrAlreadyFulfilled and a second transition fails too.
// Test Case ID: MEM-02
func TestMemory_TransitionToFilled(t *testing.T) {
	repo := NewAgreementRepository()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, pending("ag-1", "AB12CD", "owner-1", time.Now())))

	require.NoError(t, repo.TransitionToFilled(ctx, "ag-1", "tr-1"))

	_, err := repo.FindActiveByKey(ctx, "AB12CD")
	assert.ErrorIs(t, err, agreement.ErrAlreadyFulfilled)

	assert.ErrorIs(t, repo.TransitionToFilled(ctx, "ag-1", "tr-2"), agreement.ErrAlreadyFulfilled)
	assert.ErrorIs(t, repo.TransitionToFilled(ctx, "missing", "tr-2"), agreement.ErrNotFound)

	a, err := repo.GetByID(ctx, "ag-1")
	require.NoError(t, err)
	assert.Equal(t, "tr-1", *a.TenantRef)
	assert.NoError(t, a.CheckInvariants())
}

// TestPurpose: Validates that concurrent transitions on one agreement succeed exactly once.
// Scope: Unit Test
// Expected: Of 50 racing transitions exactly one succeeds; the rest get ErrAlreadyFulfilled.
// Test Case ID: MEM-03
func TestMemory_TransitionToFilled_Concurrent(t *testing.T) {
	repo := NewAgreementRepository()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, pending("ag-1", "AB12CD", "owner-1", time.Now())))

	var wins, losses atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.TransitionToFilled(ctx, "ag-1", "tr")
			if err == nil {
				wins.Add(1)
			} else if assert.ErrorIs(t, err, agreement.ErrAlreadyFulfilled) {
				losses.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(49), losses.Load())
}

// TestPurpose: Validates the key uniqueness constraint among pending agreements.
// Scope: Unit Test
// Expected: A second pending agreement with the key conflicts; once the first is filled the key may be reissued.
// Test Case ID: MEM-04
func TestMemory_Create_KeyConflict(t *testing.T) {
	repo := NewAgreementRepository()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, pending("ag-1", "AB12CD", "owner-1", time.Now())))

	assert.ErrorIs(t, repo.Create(ctx, pending("ag-2", "AB12CD", "owner-2", time.Now())), agreement.ErrKeyConflict)

	require.NoError(t, repo.TransitionToFilled(ctx, "ag-1", "tr-1"))
	assert.NoError(t, repo.Create(ctx, pending("ag-2", "AB12CD", "owner-2", time.Now())))
}

// TestPurpose: Validates owner listing order and paging.
// Scope: Unit Test
// Expected: Only the owner's agreements, newest first, paged by limit and offset.
// Test Case ID: MEM-05
func TestMemory_ListByOwner(t *testing.T) {
	repo := NewAgreementRepository()
	ctx := context.Background()
	base := time.Now()
	require.NoError(t, repo.Create(ctx, pending("ag-1", "AAAAAA", "owner-1", base)))
	require.NoError(t, repo.Create(ctx, pending("ag-2", "BBBBBB", "owner-1", base.Add(time.Minute))))
	require.NoError(t, repo.Create(ctx, pending("ag-3", "CCCCCC", "owner-2", base.Add(2*time.Minute))))

	list, err := repo.ListByOwner(ctx, "owner-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "ag-2", list[0].ID)

	page, err := repo.ListByOwner(ctx, "owner-1", 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "ag-1", page[0].ID)

	empty, err := repo.ListByOwner(ctx, "owner-1", 10, 5)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

// TestPurpose: Validates orphan detection against agreement back-references.
// Scope: Unit Test
// Expected: Only old records not referenced by their agreement are reported.
// Test Case ID: MEM-06
func TestMemory_ListOrphaned(t *testing.T) {
	agreements := NewAgreementRepository()
	tenants := NewTenantRepository(agreements)
	ctx := context.Background()
	old := time.Now().Add(-time.Hour)

	require.NoError(t, agreements.Create(ctx, pending("ag-1", "AB12CD", "owner-1", old)))
	require.NoError(t, tenants.Create(ctx, &tenant.Record{ID: "winner", AgreementRef: "ag-1", SubmittedAt: old}))
	require.NoError(t, tenants.Create(ctx, &tenant.Record{ID: "loser", AgreementRef: "ag-1", SubmittedAt: old}))
	require.NoError(t, tenants.Create(ctx, &tenant.Record{ID: "inflight", AgreementRef: "ag-1", SubmittedAt: time.Now()}))
	require.NoError(t, agreements.TransitionToFilled(ctx, "ag-1", "winner"))

	orphans, err := tenants.ListOrphaned(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, "loser", orphans[0].ID)

	require.NoError(t, tenants.Delete(ctx, "loser"))
	assert.ErrorIs(t, tenants.Delete(ctx, "loser"), tenant.ErrRecordNotFound)

	byAgreement, err := tenants.ListByAgreement(ctx, "ag-1")
	require.NoError(t, err)
	assert.Len(t, byAgreement, 2)
}

// TestPurpose: Validates session storage and expiry cleanup.
// Scope: Unit Test
// Expected: Expired sessions are removed by DeleteExpired; owner-wide deletion clears the rest.
// Test Case ID: MEM-07
func TestMemory_Sessions(t *testing.T) {
	repo := NewSessionRepository()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, repo.Create(ctx, &session.Session{ID: "live", OwnerRef: "o", ExpiresAt: now.Add(time.Hour)}))
	require.NoError(t, repo.Create(ctx, &session.Session{ID: "dead", OwnerRef: "o", ExpiresAt: now.Add(-time.Hour)}))

	require.NoError(t, repo.DeleteExpired(ctx))
	_, err := repo.Get(ctx, "dead")
	assert.ErrorIs(t, err, session.ErrSessionNotFound)

	require.NoError(t, repo.DeleteByOwner(ctx, "o"))
	_, err = repo.Get(ctx, "live")
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

// TestPurpose: Validates that an agreement whose status and tenant reference disagree is never stored.
// Scope: Unit Test
// Expected: Create fails for an unknown status and for a filled agreement without a tenant reference; nothing is stored.
// Test Case ID: MEM-08
func TestMemory_Create_RejectsBrokenInvariants(t *testing.T) {
	repo := NewAgreementRepository()
	ctx := context.Background()

	unknown := pending("ag-1", "AB12CD", "owner-1", time.Now())
	unknown.Status = "archived"
	assert.Error(t, repo.Create(ctx, unknown))

	orphanFill := pending("ag-2", "EF34GH", "owner-1", time.Now())
	orphanFill.Status = agreement.StatusFilled
	assert.Error(t, repo.Create(ctx, orphanFill))

	_, err := repo.GetByID(ctx, "ag-1")
	assert.ErrorIs(t, err, agreement.ErrNotFound)
	_, err = repo.GetByID(ctx, "ag-2")
	assert.ErrorIs(t, err, agreement.ErrNotFound)
}
