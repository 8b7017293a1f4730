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

package audit

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"
)

// Event types
const (
	TypeSessionCreated       = "session_created"
	TypeLoginFailed          = "login_failed"
	TypeLogout               = "logout"
	TypeAgreementIssued      = "agreement_issued"
	TypeKeyCollision         = "access_key_collision"
	TypeKeyLookupFailed      = "access_key_lookup_failed"
	TypeIntakeOpened         = "intake_opened"
	TypeCapturePermission    = "capture_permission_denied"
	TypeFulfillmentSucceeded = "fulfillment_succeeded"
	TypeFulfillmentRejected  = "fulfillment_rejected"
	TypeFulfillmentOrphaned  = "fulfillment_orphaned"
	TypeContractExported     = "contract_exported"
	TypeOrphanPurged         = "orphan_purged"
)

// Event represents an auditable action
type Event struct {
	Type      string
	ActorID   string // Owner ref, or empty for anonymous tenants
	Resource  string
	Metadata  map[string]any
	Timestamp time.Time
	IPAddress string
	UserAgent string
}

// Logger defines the interface for audit logging
type Logger interface {
	Log(ctx context.Context, event Event)
}

// SlogLogger implements Logger using slog
type SlogLogger struct{}

// NewSlogLogger creates a new audit logger
func NewSlogLogger() *SlogLogger {
	return &SlogLogger{}
}

// Log records an audit event
func (l *SlogLogger) Log(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	attrs := []any{
		slog.String("audit_type", event.Type),
		slog.String("actor_id", event.ActorID),
		slog.String("resource", event.Resource),
		slog.Time("timestamp", event.Timestamp),
	}

	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}

	// Flatten metadata in a stable order
	if len(event.Metadata) > 0 {
		keys := make([]string, 0, len(event.Metadata))
		for k := range event.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		group := make([]any, 0, len(keys))
		for _, k := range keys {
			v := event.Metadata[k]
			if isSecret(k) {
				v = "[REDACTED]"
			}
			group = append(group, slog.Any(k, v))
		}
		attrs = append(attrs, slog.Group("metadata", group...))
	}

	slog.InfoContext(ctx, "AUDIT_EVENT", append(attrs, slog.String("component", "audit"))...)
}

var secretMarkers = []string{"password", "secret", "token", "key", "authorization", "hash", "credential", "data_url"}

// isSecret checks if a metadata key likely carries a secret or raw document data
func isSecret(key string) bool {
	k := strings.ToLower(key)
	for _, marker := range secretMarkers {
		if strings.Contains(k, marker) {
			return true
		}
	}
	return false
}
