package intake

import (
	"github.com/safestay/safestay/internal/capture"
)

// Submission is the complete tenant intake record as handed to fulfillment
type Submission struct {
	WorkflowVersion string                    `json:"workflow_version"`
	Fields          Fields                    `json:"fields"`
	Documents       map[Slot]capture.Artifact `json:"documents"`
}

// Validate checks fields and documents against the workflow
func (s *Submission) Validate(w *WorkflowConfig) ValidationErrors {
	errs := s.Fields.Validate(w)

	for _, slot := range w.RequiredDocuments {
		if a, ok := s.Documents[slot]; !ok || a.DataURL == "" {
			errs[string(slot)] = "is required"
		}
	}
	for slot := range s.Documents {
		if !slot.Valid() {
			errs[string(slot)] = "is not a known document"
		}
	}
	if s.WorkflowVersion != "" && s.WorkflowVersion != w.Version {
		errs["workflow_version"] = "does not match the active workflow"
	}

	return errs
}

// CanSubmit reports whether the submission is complete and valid
func (s *Submission) CanSubmit(w *WorkflowConfig) bool {
	return len(s.Validate(w)) == 0
}
