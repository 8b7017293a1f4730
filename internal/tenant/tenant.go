package tenant

import (
	"time"

	"github.com/safestay/safestay/internal/capture"
	"github.com/safestay/safestay/internal/intake"
)

// Record is a persisted tenant submission. AgreementRef is a weak
// reference: a record whose agreement never pointed back to it is an
// orphan left by a lost fulfillment race.
type Record struct {
	ID              string                           `json:"id"`
	AgreementRef    string                           `json:"agreement_ref"`
	WorkflowVersion string                           `json:"workflow_version"`
	Fields          intake.Fields                    `json:"fields"`
	Documents       map[intake.Slot]capture.Artifact `json:"documents"`
	SubmittedAt     time.Time                        `json:"submitted_at"`
}

// DisplayName returns the tenant's name as shown on the contract
func (r *Record) DisplayName() string {
	return r.Fields.FullName
}

// Document returns the artifact in slot, if present
func (r *Record) Document(slot intake.Slot) (capture.Artifact, bool) {
	a, ok := r.Documents[slot]
	return a, ok && a.DataURL != ""
}
