package mongo

import (
	"testing"
	"time"

	"github.com/safestay/safestay/internal/agreement"
	"github.com/safestay/safestay/internal/capture"
	"github.com/safestay/safestay/internal/intake"
	"github.com/safestay/safestay/internal/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPurpose: Validates connection string assembly from discrete settings.
// Scope: Unit Test
// Expected: Credentials, port and authSource appear only when configured.
// Test Case ID: MGO-01
func TestConnectionInfo_URI(t *testing.T) {
	tests := []struct {
		name string
		info ConnectionInfo
		want string
	}{
		{
			name: "minimal",
			info: ConnectionInfo{Host: "localhost", DB: "safestay"},
			want: "mongodb://localhost/safestay",
		},
		{
			name: "full",
			info: ConnectionInfo{User: "app", Password: "pw", Host: "db", Port: "27017", DB: "safestay", AuthSource: "admin"},
			want: "mongodb://app:pw@db:27017/safestay?authSource=admin",
		},
		{
			name: "srv",
			info: ConnectionInfo{Scheme: "mongodb+srv", User: "app", Host: "cluster.example.net", DB: "safestay"},
			want: "mongodb+srv://app@cluster.example.net/safestay",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.info.URI())
		})
	}
}

// TestPurpose: Validates that tenant documents keep their slot keys and artifact metadata through the storage shape.
// Scope: Unit Test
// Expected: Slots, digests and sources survive conversion to and from the stored document.
// Test Case ID: MGO-02
func TestRecordDoc_PreservesSlots(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rec := &tenant.Record{
		ID:           "rec-1",
		AgreementRef: "ag-1",
		Fields:       intake.Fields{FullName: "Asha Rao", Mobile: "9876543210"},
		Documents: map[intake.Slot]capture.Artifact{
			intake.SlotSelfie: {DataURL: "data:image/png;base64,AA==", Digest: "abc", Source: capture.SourceCamera, CapturedAt: at},
		},
		SubmittedAt: at,
	}

	doc := toRecordDoc(rec)
	assert.Contains(t, doc.Documents, "selfie")

	back := doc.record()
	selfie, ok := back.Document(intake.SlotSelfie)
	assert.True(t, ok)
	assert.Equal(t, capture.SourceCamera, selfie.Source)
	assert.Equal(t, "abc", selfie.Digest)
	assert.Equal(t, "Asha Rao", back.DisplayName())
}

// TestPurpose: Validates that stored agreement documents are checked for the status/tenant reference pairing on read.
// Scope: Unit Test
// Expected: A consistent filled document converts; a filled document without tenant_ref and an unknown status are rejected.
// Test Case ID: MGO-03
func TestAgreementDoc_CheckedOnRead(t *testing.T) {
	ref := "rec-1"
	filled := agreementDoc{ID: "ag-1", AccessKey: "AB12CD", Status: string(agreement.StatusFilled), TenantRef: &ref}
	a, err := filled.agreement()
	require.NoError(t, err)
	assert.Equal(t, "rec-1", *a.TenantRef)

	broken := filled
	broken.TenantRef = nil
	_, err = broken.agreement()
	assert.Error(t, err)

	unknown := agreementDoc{ID: "ag-2", Status: "archived"}
	_, err = unknown.agreement()
	assert.Error(t, err)
}
