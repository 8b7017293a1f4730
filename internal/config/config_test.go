package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// TestPurpose: Validates environment defaults for a memory-backed deployment.
// Scope: Unit Test
// Expected: Defaults apply and validation passes once a JWT secret is set.
// Test Case ID: CFG-01
func TestFromEnv_Defaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "Memory")
	t.Setenv("AUTH_JWT_SECRET", testSecret)

	cfg := FromEnv()
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, 6, cfg.Keys.Length)
	assert.Equal(t, 5, cfg.Keys.MaxAttempts)
	assert.Equal(t, 30*time.Minute, cfg.Intake.DraftTTL)
	assert.Equal(t, int64(5<<20), cfg.Intake.MaxUploadBytes)
	assert.False(t, cfg.Export.Enabled())
	require.NoError(t, cfg.Validate())
}

// TestPurpose: Validates that overrides are parsed and malformed values fall back to defaults.
// Scope: Unit Test
// Expected: Valid overrides win; an unparsable duration keeps the default.
// Test Case ID: CFG-02
func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("ACCESS_KEY_LENGTH", "8")
	t.Setenv("RATELIMIT_LOOKUP_PER_MINUTE", "2.5")
	t.Setenv("INTAKE_DRAFT_TTL", "not-a-duration")
	t.Setenv("EXPORT_S3_USE_SSL", "false")

	cfg := FromEnv()
	assert.Equal(t, 8, cfg.Keys.Length)
	assert.InDelta(t, 2.5, cfg.RateLimit.LookupPerMinute, 0.0001)
	assert.Equal(t, 30*time.Minute, cfg.Intake.DraftTTL)
	assert.False(t, cfg.Export.UseSSL)
}

// TestPurpose: Validates that validation is driver-aware and reports every problem at once.
// Scope: Unit Test
// Security: Weak token secrets are refused at startup
// Expected: Postgres without a password, a short secret and an out-of-range key length are all reported.
// Test Case ID: CFG-03
func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := FromEnv()
	cfg.Store.Driver = DriverPostgres
	cfg.Database.Password = ""
	cfg.Auth.JWTSecret = "short"
	cfg.Keys.Length = 4

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.True(t, strings.Contains(msg, "DB_PASSWORD"))
	assert.True(t, strings.Contains(msg, "AUTH_JWT_SECRET"))
	assert.True(t, strings.Contains(msg, "ACCESS_KEY_LENGTH"))

	cfg = FromEnv()
	cfg.Store.Driver = "sqlite"
	cfg.Auth.JWTSecret = testSecret
	assert.ErrorContains(t, cfg.Validate(), "STORE_DRIVER")

	cfg.Store.Driver = DriverMemory
	cfg.Export.Endpoint = "s3.local:9000"
	assert.ErrorContains(t, cfg.Validate(), "EXPORT_S3_ACCESS_KEY")
}
