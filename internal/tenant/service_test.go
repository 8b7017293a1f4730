package tenant

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/safestay/safestay/internal/audit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) Create(ctx context.Context, r *Record) error {
	args := m.Called(ctx, r)
	return args.Error(0)
}

func (m *mockRepo) GetByID(ctx context.Context, id string) (*Record, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Record), args.Error(1)
}

func (m *mockRepo) ListByAgreement(ctx context.Context, agreementRef string) ([]*Record, error) {
	args := m.Called(ctx, agreementRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Record), args.Error(1)
}

func (m *mockRepo) ListOrphaned(ctx context.Context, cutoff time.Time) ([]*Record, error) {
	args := m.Called(ctx, cutoff)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Record), args.Error(1)
}

func (m *mockRepo) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type mockAudit struct {
	mock.Mock
}

func (m *mockAudit) Log(ctx context.Context, event audit.Event) {
	m.Called(ctx, event)
}

// TestPurpose: Validates that orphan listing applies the grace period to keep in-flight submissions out.
// Scope: Unit Test
// Expected: The repository is queried with now minus the grace period.
// Test Case ID: TEN-01
func TestTenant_Service_Orphans_Cutoff(t *testing.T) {
	repo := new(mockRepo)
	svc := NewService(repo, new(mockAudit))
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	ctx := context.Background()

	repo.On("ListOrphaned", ctx, now.Add(-DefaultOrphanGrace)).Return([]*Record{{ID: "r-1"}}, nil)

	records, err := svc.Orphans(ctx, DefaultOrphanGrace)
	require.NoError(t, err)
	assert.Len(t, records, 1)

	_, err = svc.Orphans(ctx, -time.Second)
	assert.Error(t, err)
}

// TestPurpose: Validates that purging deletes each orphan and audits it.
// Scope: Unit Test
// Security: Operator actions on tenant data are traceable
// Expected: Two records are deleted and two orphan_purged events are logged.
// Test Case ID: TEN-02
func TestTenant_Service_PurgeOrphans(t *testing.T) {
	repo := new(mockRepo)
	auditLogger := new(mockAudit)
	svc := NewService(repo, auditLogger)
	ctx := context.Background()

	repo.On("ListOrphaned", ctx, mock.Anything).Return([]*Record{
		{ID: "r-1", AgreementRef: "ag-1"},
		{ID: "r-2", AgreementRef: "ag-1"},
	}, nil)
	repo.On("Delete", ctx, "r-1").Return(nil)
	repo.On("Delete", ctx, "r-2").Return(nil)
	auditLogger.On("Log", ctx, mock.MatchedBy(func(e audit.Event) bool {
		return e.Type == audit.TypeOrphanPurged && e.ActorID == "operator"
	})).Return().Twice()

	n, err := svc.PurgeOrphans(ctx, DefaultOrphanGrace, "operator")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	repo.AssertExpectations(t)
	auditLogger.AssertExpectations(t)
}

// TestPurpose: Validates that a failed deletion stops the purge and reports progress.
// Scope: Unit Test
// Expected: The first record is purged, the second fails and the error is returned with count 1.
// Test Case ID: TEN-03
func TestTenant_Service_PurgeOrphans_DeleteFailure(t *testing.T) {
	repo := new(mockRepo)
	auditLogger := new(mockAudit)
	svc := NewService(repo, auditLogger)
	ctx := context.Background()

	repo.On("ListOrphaned", ctx, mock.Anything).Return([]*Record{{ID: "r-1"}, {ID: "r-2"}}, nil)
	repo.On("Delete", ctx, "r-1").Return(nil)
	repo.On("Delete", ctx, "r-2").Return(errors.Join(ErrStoreUnavailable, errors.New("timeout")))
	auditLogger.On("Log", ctx, mock.Anything).Return()

	n, err := svc.PurgeOrphans(ctx, 0, "operator")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Equal(t, 1, n)
}

// TestPurpose: Validates listing every submission made against one agreement.
// Scope: Unit Test
// Expected: Records come back oldest first; store errors are wrapped; an empty agreement id is rejected without a store call.
// Test Case ID: TEN-04
func TestTenant_Service_Submissions(t *testing.T) {
	repo := new(mockRepo)
	svc := NewService(repo, new(mockAudit))
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	repo.On("ListByAgreement", ctx, "ag-1").Return([]*Record{
		{ID: "loser", AgreementRef: "ag-1", SubmittedAt: base.Add(time.Second)},
		{ID: "winner", AgreementRef: "ag-1", SubmittedAt: base},
	}, nil)
	repo.On("ListByAgreement", ctx, "ag-down").Return(nil, ErrStoreUnavailable)

	records, err := svc.Submissions(ctx, "ag-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "winner", records[0].ID)
	assert.Equal(t, "loser", records[1].ID)

	_, err = svc.Submissions(ctx, "ag-down")
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	_, err = svc.Submissions(ctx, "")
	assert.Error(t, err)
	repo.AssertNumberOfCalls(t, "ListByAgreement", 2)
}
