package intake

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Slot identifies one document in a submission
type Slot string

// Document slots
const (
	SlotIDFront     Slot = "id_front"
	SlotIDBack      Slot = "id_back"
	SlotSecondaryID Slot = "secondary_id"
	SlotSignature   Slot = "signature"
	SlotSelfie      Slot = "selfie"
)

// AllSlots lists every slot in display order
var AllSlots = []Slot{SlotIDFront, SlotIDBack, SlotSecondaryID, SlotSignature, SlotSelfie}

// Valid reports whether s is a known slot
func (s Slot) Valid() bool {
	for _, known := range AllSlots {
		if s == known {
			return true
		}
	}
	return false
}

// Live reports whether the slot is filled by live capture rather than upload
func (s Slot) Live() bool {
	return s == SlotSelfie
}

// ErrInvalidWorkflow is returned for unusable workflow configuration
var ErrInvalidWorkflow = errors.New("invalid intake workflow configuration")

// DefaultWorkflowVersion names the built-in document set
const DefaultWorkflowVersion = "2024-portal"

// WorkflowConfig is the deployment-time, versioned definition of what a
// submission must contain.
type WorkflowConfig struct {
	Version            string `yaml:"version" json:"version"`
	RequiredDocuments  []Slot `yaml:"required_documents" json:"required_documents"`
	RequireNationalID  bool   `yaml:"require_national_id" json:"require_national_id"`
	RequireSecondaryID bool   `yaml:"require_secondary_id" json:"require_secondary_id"`
}

// DefaultWorkflow returns the built-in workflow. The secondary ID document
// is optional.
func DefaultWorkflow() *WorkflowConfig {
	return &WorkflowConfig{
		Version:           DefaultWorkflowVersion,
		RequiredDocuments: []Slot{SlotIDFront, SlotIDBack, SlotSignature, SlotSelfie},
	}
}

// LoadWorkflow reads a workflow from a YAML file. An empty path yields the
// default workflow.
func LoadWorkflow(path string) (*WorkflowConfig, error) {
	if path == "" {
		return DefaultWorkflow(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow config: %w", err)
	}
	return ParseWorkflow(data)
}

// ParseWorkflow decodes and validates a YAML workflow definition
func ParseWorkflow(data []byte) (*WorkflowConfig, error) {
	var cfg WorkflowConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWorkflow, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the workflow for unknown or duplicate slots
func (w *WorkflowConfig) Validate() error {
	if strings.TrimSpace(w.Version) == "" {
		return fmt.Errorf("%w: version is required", ErrInvalidWorkflow)
	}
	seen := make(map[Slot]bool, len(w.RequiredDocuments))
	for _, slot := range w.RequiredDocuments {
		if !slot.Valid() {
			return fmt.Errorf("%w: unknown document slot %q", ErrInvalidWorkflow, slot)
		}
		if seen[slot] {
			return fmt.Errorf("%w: duplicate document slot %q", ErrInvalidWorkflow, slot)
		}
		seen[slot] = true
	}
	return nil
}

// Requires reports whether slot is mandatory under this workflow
func (w *WorkflowConfig) Requires(slot Slot) bool {
	for _, s := range w.RequiredDocuments {
		if s == slot {
			return true
		}
	}
	return false
}
