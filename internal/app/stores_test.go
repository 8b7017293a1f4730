package app

import (
	"context"
	"testing"

	"github.com/safestay/safestay/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPurpose: Validates that the memory driver wires all repositories without external services.
// Scope: Unit Test
// Expected: Repositories are non-nil and Migrate is a no-op.
// Test Case ID: APP-01
func TestOpenStores_Memory(t *testing.T) {
	cfg := &config.Config{Store: config.StoreConfig{Driver: config.DriverMemory}}

	stores, err := OpenStores(context.Background(), cfg)
	require.NoError(t, err)
	defer stores.Close(context.Background())

	assert.NotNil(t, stores.Agreements)
	assert.NotNil(t, stores.Tenants)
	assert.NotNil(t, stores.Sessions)
	assert.NoError(t, stores.Migrate(context.Background()))
}

// TestPurpose: Validates that an unknown driver is refused.
// Scope: Unit Test
// Expected: OpenStores returns an error naming the driver.
// Test Case ID: APP-02
func TestOpenStores_UnknownDriver(t *testing.T) {
	_, err := OpenStores(context.Background(), &config.Config{Store: config.StoreConfig{Driver: "sqlite"}})
	assert.ErrorContains(t, err, "sqlite")
}
