//go:build integration
// +build integration

package mongo

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/safestay/safestay/internal/agreement"
	"github.com/safestay/safestay/internal/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestMongo(t *testing.T) *Mongo {
	t.Helper()

	host := os.Getenv("MONGO_HOST")
	if host == "" {
		host = "localhost"
	}

	ctx := context.Background()
	m, err := NewConnection(ctx, ConnectionInfo{Host: host, Port: "27017", DB: "safestay_it"})
	if err != nil {
		t.Skipf("Skipping integration test: failed to connect to mongo: %v", err)
	}
	t.Cleanup(func() {
		_ = m.Database.Drop(context.Background())
		_ = m.Close(context.Background())
	})

	require.NoError(t, m.EnsureIndexes(ctx))
	return m
}

// TestPurpose: Validates pending key uniqueness and the compare-and-set fill against a live MongoDB.
// Scope: Database Integration Test
// Security: Compare-and-set on agreement status
// Expected: A duplicate pending key conflicts, the first fill wins, the second reports ErrAlreadyFulfilled, and the loser's record is an orphan.
// Test Case ID: MGO-10
func TestMongo_FulfillmentRace(t *testing.T) {
	m := openTestMongo(t)
	agreements := NewAgreementRepository(m)
	tenants := NewTenantRepository(m)
	ctx := context.Background()

	a := &agreement.Agreement{
		ID: uuid.NewString(), AccessKey: "AB12CD34", OwnerRef: "owner-it", PropertyLabel: "Flat 4B",
		Status: agreement.StatusPending, SchemaVersion: agreement.SchemaVersion, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, agreements.Create(ctx, a))

	dup := *a
	dup.ID = uuid.NewString()
	assert.ErrorIs(t, agreements.Create(ctx, &dup), agreement.ErrKeyConflict)

	submitted := time.Now().Add(-time.Hour).UTC()
	winner := &tenant.Record{ID: uuid.NewString(), AgreementRef: a.ID, SubmittedAt: submitted}
	loser := &tenant.Record{ID: uuid.NewString(), AgreementRef: a.ID, SubmittedAt: submitted}
	require.NoError(t, tenants.Create(ctx, winner))
	require.NoError(t, tenants.Create(ctx, loser))

	require.NoError(t, agreements.TransitionToFilled(ctx, a.ID, winner.ID))
	assert.ErrorIs(t, agreements.TransitionToFilled(ctx, a.ID, loser.ID), agreement.ErrAlreadyFulfilled)
	assert.ErrorIs(t, agreements.TransitionToFilled(ctx, "missing", loser.ID), agreement.ErrNotFound)

	_, err := agreements.FindActiveByKey(ctx, "ab12cd34")
	assert.ErrorIs(t, err, agreement.ErrAlreadyFulfilled)

	orphans, err := tenants.ListOrphaned(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, loser.ID, orphans[0].ID)
}
