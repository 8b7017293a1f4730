package intake

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// ErrValidationFailed is wrapped by every ValidationErrors
var ErrValidationFailed = errors.New("validation failed")

var (
	mobilePattern      = regexp.MustCompile(`^[0-9]{10}$`)
	nationalIDPattern  = regexp.MustCompile(`^[0-9]{12}$`)
	secondaryIDPattern = regexp.MustCompile(`^[A-Z]{5}[0-9]{4}[A-Z]$`)
)

// ValidationErrors maps a field or slot name to a user-facing message
type ValidationErrors map[string]string

func (v ValidationErrors) Error() string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, v[k]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (v ValidationErrors) Unwrap() error {
	return ErrValidationFailed
}

// Err returns v as an error, or nil when there are no entries
func (v ValidationErrors) Err() error {
	if len(v) == 0 {
		return nil
	}
	return v
}

// Fields are the tenant's typed identity details
type Fields struct {
	FullName         string `json:"full_name"`
	RelationName     string `json:"relation_name"` // Father's or guardian's name
	PermanentAddress string `json:"permanent_address"`
	Mobile           string `json:"mobile"`
	NationalID       string `json:"national_id,omitempty"`
	SecondaryID      string `json:"secondary_id,omitempty"`
}

// Normalize trims whitespace and canonicalizes identifier case
func (f Fields) Normalize() Fields {
	return Fields{
		FullName:         strings.TrimSpace(f.FullName),
		RelationName:     strings.TrimSpace(f.RelationName),
		PermanentAddress: strings.TrimSpace(f.PermanentAddress),
		Mobile:           strings.TrimSpace(f.Mobile),
		NationalID:       strings.ReplaceAll(strings.TrimSpace(f.NationalID), " ", ""),
		SecondaryID:      strings.ToUpper(strings.TrimSpace(f.SecondaryID)),
	}
}

// Validate checks the normalized fields against the workflow. An optional
// field that is present must still match its format.
func (f Fields) Validate(w *WorkflowConfig) ValidationErrors {
	errs := ValidationErrors{}
	n := f.Normalize()

	if n.FullName == "" {
		errs["full_name"] = "is required"
	}
	if n.RelationName == "" {
		errs["relation_name"] = "is required"
	}
	if n.PermanentAddress == "" {
		errs["permanent_address"] = "is required"
	}

	switch {
	case n.Mobile == "":
		errs["mobile"] = "is required"
	case !mobilePattern.MatchString(n.Mobile):
		errs["mobile"] = "must be exactly 10 digits"
	}

	switch {
	case n.NationalID == "" && w.RequireNationalID:
		errs["national_id"] = "is required"
	case n.NationalID != "" && !nationalIDPattern.MatchString(n.NationalID):
		errs["national_id"] = "must be exactly 12 digits"
	}

	switch {
	case n.SecondaryID == "" && w.RequireSecondaryID:
		errs["secondary_id"] = "is required"
	case n.SecondaryID != "" && !secondaryIDPattern.MatchString(n.SecondaryID):
		errs["secondary_id"] = "must be 5 letters, 4 digits and a letter"
	}

	return errs
}
