// Copyright 2026 The SafeStay Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package agreement

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SchemaVersion is the canonical agreement schema written by this service.
// Older shapes (key/ownerEmail) are not read.
const SchemaVersion = 1

// Status represents the fulfillment state of an agreement
type Status string

// Status constants
const (
	StatusPending Status = "pending"
	StatusFilled  Status = "filled"
)

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	return s == StatusPending || s == StatusFilled
}

// Agreement represents a rental agreement issued by an owner
type Agreement struct {
	ID              string     `json:"id"`
	AccessKey       string     `json:"access_key"`
	OwnerRef        string     `json:"owner_ref"`
	PropertyLabel   string     `json:"property_label"`
	PropertyAddress string     `json:"property_address,omitempty"`
	RentAmount      float64    `json:"rent_amount"`
	Terms           Terms      `json:"terms"`
	Status          Status     `json:"status"`
	TenantRef       *string    `json:"tenant_ref,omitempty"` // Set iff Status == StatusFilled
	SchemaVersion   int        `json:"schema_version"`
	CreatedAt       time.Time  `json:"created_at"`
	FilledAt        *time.Time `json:"filled_at,omitempty"`
}

// IsPending checks if the agreement can still be fulfilled
func (a *Agreement) IsPending() bool {
	return a.Status == StatusPending
}

// CheckInvariants verifies the status/tenant reference pairing
func (a *Agreement) CheckInvariants() error {
	if !a.Status.Valid() {
		return fmt.Errorf("agreement %s: unknown status %q", a.ID, a.Status)
	}
	if (a.Status == StatusFilled) != (a.TenantRef != nil) {
		return fmt.Errorf("agreement %s: tenant_ref must be set iff status is filled", a.ID)
	}
	return nil
}

// Clone returns a deep copy, so stores never hand out shared state
func (a *Agreement) Clone() *Agreement {
	c := *a
	c.Terms = append(Terms(nil), a.Terms...)
	if a.TenantRef != nil {
		ref := *a.TenantRef
		c.TenantRef = &ref
	}
	if a.FilledAt != nil {
		at := *a.FilledAt
		c.FilledAt = &at
	}
	return &c
}

// Terms is the ordered list of agreement clauses. Insertion order is
// display and print order.
type Terms []string

// ParseTerms splits free text into clauses, one per non-blank line.
// A single line yields a one-element sequence.
func ParseTerms(text string) Terms {
	var terms Terms
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			terms = append(terms, line)
		}
	}
	return terms
}

// UnmarshalJSON accepts either an array of strings or a single string
func (t *Terms) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		out := make(Terms, 0, len(list))
		for _, item := range list {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		*t = out
		return nil
	}

	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return fmt.Errorf("terms must be a string or an array of strings")
	}
	*t = ParseTerms(text)
	return nil
}

// NormalizeKey canonicalizes a user-transcribed access key for lookup
func NormalizeKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}

// ValidKeyFormat reports whether key looks like an issued access key.
// The key must already be normalized.
func ValidKeyFormat(key string) bool {
	if len(key) < MinKeyLength || len(key) > MaxKeyLength {
		return false
	}
	for _, c := range key {
		if !strings.ContainsRune(keyAlphabet, c) {
			return false
		}
	}
	return true
}
