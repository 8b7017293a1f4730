package agreement

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/safestay/safestay/internal/audit"
	"github.com/safestay/safestay/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) FindActiveByKey(ctx context.Context, key string) (*Agreement, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Agreement), args.Error(1)
}

func (m *mockRepo) Create(ctx context.Context, a *Agreement) error {
	args := m.Called(ctx, a)
	return args.Error(0)
}

func (m *mockRepo) TransitionToFilled(ctx context.Context, agreementID, tenantRef string) error {
	args := m.Called(ctx, agreementID, tenantRef)
	return args.Error(0)
}

func (m *mockRepo) GetByID(ctx context.Context, id string) (*Agreement, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Agreement), args.Error(1)
}

func (m *mockRepo) ListByOwner(ctx context.Context, ownerRef string, limit, offset int) ([]*Agreement, error) {
	args := m.Called(ctx, ownerRef, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Agreement), args.Error(1)
}

type mockAudit struct {
	mock.Mock
}

func (m *mockAudit) Log(ctx context.Context, event audit.Event) {
	m.Called(ctx, event)
}

// sequenceKeys replays a fixed list of keys, standing in for a generator
// whose output collides.
type sequenceKeys struct {
	keys []string
	next int
}

func (s *sequenceKeys) Generate() (string, error) {
	k := s.keys[s.next%len(s.keys)]
	s.next++
	return k, nil
}

func ownerSession() *session.Session {
	return &session.Session{ID: "sess-1", OwnerRef: "owner-1", OwnerEmail: "owner@example.com"}
}

func validDraft() Draft {
	return Draft{PropertyLabel: "Flat 4B", PropertyAddress: "12 Lake Road", RentAmount: 1500, Terms: Terms{"No pets"}}
}

// TestPurpose: Validates that issuance stores a pending agreement bound to the session owner.
// Scope: Unit Test
// Security: Owner reference comes from the session, never from request content
// Expected: The stored agreement is pending, has a UUIDv7 id, no tenant ref and the generated key.
// Test Case ID: AGR-20
func TestAgreement_Service_Issue(t *testing.T) {
	repo := new(mockRepo)
	auditLogger := new(mockAudit)
	svc := NewService(repo, &sequenceKeys{keys: []string{"AB12CD"}}, auditLogger, 0)
	ctx := context.Background()

	repo.On("FindActiveByKey", ctx, "AB12CD").Return(nil, ErrNotFound)
	repo.On("Create", ctx, mock.MatchedBy(func(a *Agreement) bool {
		id, err := uuid.Parse(a.ID)
		return err == nil && id.Version() == 7 &&
			a.AccessKey == "AB12CD" && a.OwnerRef == "owner-1" &&
			a.Status == StatusPending && a.TenantRef == nil
	})).Return(nil)
	auditLogger.On("Log", ctx, mock.MatchedBy(func(e audit.Event) bool {
		return e.Type == audit.TypeAgreementIssued
	})).Return()

	a, err := svc.Issue(ctx, ownerSession(), validDraft())
	require.NoError(t, err)
	assert.Equal(t, "AB12CD", a.AccessKey)
	assert.Equal(t, SchemaVersion, a.SchemaVersion)
	assert.NoError(t, a.CheckInvariants())
	repo.AssertExpectations(t)
	auditLogger.AssertExpectations(t)
}

// TestPurpose: Validates that a key already held by a pending or filled agreement is regenerated.
// Scope: Unit Test
// Expected: The first two keys collide and the third is used; two collision events are audited.
// Test Case ID: AGR-21
func TestAgreement_Service_Issue_RegeneratesOnCollision(t *testing.T) {
	repo := new(mockRepo)
	auditLogger := new(mockAudit)
	svc := NewService(repo, &sequenceKeys{keys: []string{"AAAAAA", "BBBBBB", "CCCCCC"}}, auditLogger, 5)
	ctx := context.Background()

	repo.On("FindActiveByKey", ctx, "AAAAAA").Return(&Agreement{ID: "existing", Status: StatusPending}, nil)
	repo.On("FindActiveByKey", ctx, "BBBBBB").Return(nil, ErrAlreadyFulfilled)
	repo.On("FindActiveByKey", ctx, "CCCCCC").Return(nil, ErrNotFound)
	repo.On("Create", ctx, mock.Anything).Return(nil)
	auditLogger.On("Log", ctx, mock.MatchedBy(func(e audit.Event) bool {
		return e.Type == audit.TypeKeyCollision
	})).Return().Twice()
	auditLogger.On("Log", ctx, mock.MatchedBy(func(e audit.Event) bool {
		return e.Type == audit.TypeAgreementIssued
	})).Return().Once()

	a, err := svc.Issue(ctx, ownerSession(), validDraft())
	require.NoError(t, err)
	assert.Equal(t, "CCCCCC", a.AccessKey)
	auditLogger.AssertExpectations(t)
}

// TestPurpose: Validates that a unique-index conflict raised by the store also triggers regeneration.
// Scope: Unit Test
// Expected: Create fails once with ErrKeyConflict, the second key is stored.
// Test Case ID: AGR-22
func TestAgreement_Service_Issue_RetriesOnStoreConflict(t *testing.T) {
	repo := new(mockRepo)
	auditLogger := new(mockAudit)
	svc := NewService(repo, &sequenceKeys{keys: []string{"AAAAAA", "BBBBBB"}}, auditLogger, 5)
	ctx := context.Background()

	repo.On("FindActiveByKey", ctx, mock.Anything).Return(nil, ErrNotFound)
	repo.On("Create", ctx, mock.MatchedBy(func(a *Agreement) bool { return a.AccessKey == "AAAAAA" })).Return(ErrKeyConflict)
	repo.On("Create", ctx, mock.MatchedBy(func(a *Agreement) bool { return a.AccessKey == "BBBBBB" })).Return(nil)
	auditLogger.On("Log", ctx, mock.Anything).Return()

	a, err := svc.Issue(ctx, ownerSession(), validDraft())
	require.NoError(t, err)
	assert.Equal(t, "BBBBBB", a.AccessKey)
}

// TestPurpose: Validates that issuance gives up after the bounded number of collisions.
// Scope: Unit Test
// Expected: ErrKeySpaceExhausted after exactly maxKeyAttempts lookups and no Create call.
// Test Case ID: AGR-23
func TestAgreement_Service_Issue_Exhausted(t *testing.T) {
	repo := new(mockRepo)
	auditLogger := new(mockAudit)
	svc := NewService(repo, &sequenceKeys{keys: []string{"AAAAAA"}}, auditLogger, 3)
	ctx := context.Background()

	repo.On("FindActiveByKey", ctx, "AAAAAA").Return(&Agreement{ID: "existing"}, nil)
	auditLogger.On("Log", ctx, mock.Anything).Return()

	_, err := svc.Issue(ctx, ownerSession(), validDraft())
	assert.ErrorIs(t, err, ErrKeySpaceExhausted)
	repo.AssertNumberOfCalls(t, "FindActiveByKey", 3)
	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

// TestPurpose: Validates that store failures during issuance are surfaced, not treated as free keys.
// Scope: Unit Test
// Expected: ErrStoreUnavailable from lookup is returned and nothing is created.
// Test Case ID: AGR-24
func TestAgreement_Service_Issue_StoreUnavailable(t *testing.T) {
	repo := new(mockRepo)
	svc := NewService(repo, &sequenceKeys{keys: []string{"AAAAAA"}}, new(mockAudit), 3)
	ctx := context.Background()

	repo.On("FindActiveByKey", ctx, "AAAAAA").Return(nil, errors.Join(ErrStoreUnavailable, errors.New("connection refused")))

	_, err := svc.Issue(ctx, ownerSession(), validDraft())
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

// TestPurpose: Validates that issuance requires an explicit owner session and a valid draft.
// Scope: Unit Test
// Security: No ambient owner identity (CWE-862)
// Expected: A nil session and an empty label are rejected before any key is generated.
// Test Case ID: AGR-25
func TestAgreement_Service_Issue_Preconditions(t *testing.T) {
	repo := new(mockRepo)
	svc := NewService(repo, &sequenceKeys{keys: []string{"AAAAAA"}}, new(mockAudit), 3)
	ctx := context.Background()

	_, err := svc.Issue(ctx, nil, validDraft())
	assert.ErrorIs(t, err, session.ErrSessionInvalid)

	_, err = svc.Issue(ctx, ownerSession(), Draft{RentAmount: 10})
	assert.ErrorIs(t, err, ErrInvalidDraft)

	_, err = svc.Issue(ctx, ownerSession(), Draft{PropertyLabel: "Flat", RentAmount: -1})
	assert.ErrorIs(t, err, ErrInvalidDraft)

	repo.AssertNotCalled(t, "FindActiveByKey", mock.Anything, mock.Anything)
}

// TestPurpose: Validates that an owner cannot read another owner's agreement.
// Scope: Unit Test
// Security: Object-level authorization (CWE-639)
// Expected: A foreign agreement is reported as not found.
// Test Case ID: AGR-26
func TestAgreement_Service_GetForOwner(t *testing.T) {
	repo := new(mockRepo)
	svc := NewService(repo, &sequenceKeys{keys: []string{"AAAAAA"}}, new(mockAudit), 3)
	ctx := context.Background()

	repo.On("GetByID", ctx, "mine").Return(&Agreement{ID: "mine", OwnerRef: "owner-1"}, nil)
	repo.On("GetByID", ctx, "theirs").Return(&Agreement{ID: "theirs", OwnerRef: "owner-2"}, nil)

	a, err := svc.GetForOwner(ctx, ownerSession(), "mine")
	require.NoError(t, err)
	assert.Equal(t, "mine", a.ID)

	_, err = svc.GetForOwner(ctx, ownerSession(), "theirs")
	assert.ErrorIs(t, err, ErrNotFound)
}
