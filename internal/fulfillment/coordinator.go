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

package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"
	"github.com/safestay/safestay/internal/agreement"
	"github.com/safestay/safestay/internal/audit"
	"github.com/safestay/safestay/internal/intake"
	"github.com/safestay/safestay/internal/observability/logger"
	"github.com/safestay/safestay/internal/observability/metrics"
	"github.com/safestay/safestay/internal/observability/tracing"
	"github.com/safestay/safestay/internal/tenant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ErrNotFilled is returned when a contract is requested for a pending agreement
var ErrNotFilled = errors.New("agreement has not been fulfilled")

// Attempt outcomes
const (
	OutcomeSuccess          = "success"
	OutcomeValidationFailed = "validation_failed"
	OutcomeNotFound         = "not_found"
	OutcomeAlreadyFulfilled = "already_fulfilled"
	OutcomeOrphaned         = "orphaned"
	OutcomeStoreUnavailable = "store_unavailable"
)

// RenderableContract is a filled agreement paired with its tenant record
type RenderableContract struct {
	Agreement *agreement.Agreement
	Tenant    *tenant.Record
}

// Coordinator performs the one-time submission that fills an agreement
type Coordinator struct {
	agreements  agreement.Repository
	tenants     tenant.Repository
	workflow    *intake.WorkflowConfig
	auditLogger audit.Logger
	tracer      trace.Tracer
	attempts    metric.Int64Counter
	duration    metric.Float64Histogram
	now         func() time.Time
}

// NewCoordinator creates a fulfillment coordinator
func NewCoordinator(
	agreements agreement.Repository,
	tenants tenant.Repository,
	workflow *intake.WorkflowConfig,
	auditLogger audit.Logger,
	meter *metrics.Meter,
) (*Coordinator, error) {
	attempts, err := meter.CreateCounter("fulfillment_attempts_total", "Tenant submission attempts by outcome")
	if err != nil {
		return nil, err
	}
	duration, err := meter.CreateDurationHistogram("fulfillment_submit_duration", "Tenant submission latency by outcome")
	if err != nil {
		return nil, err
	}
	return &Coordinator{
		agreements:  agreements,
		tenants:     tenants,
		workflow:    workflow,
		auditLogger: auditLogger,
		tracer:      otel.Tracer("safestay/fulfillment"),
		attempts:    attempts,
		duration:    duration,
		now:         time.Now,
	}, nil
}

// Lookup resolves a tenant-entered key to a pending agreement. Keys that
// cannot have been issued are rejected without a store round trip.
func (c *Coordinator) Lookup(ctx context.Context, key string) (*agreement.Agreement, error) {
	key = agreement.NormalizeKey(key)

	var (
		a   *agreement.Agreement
		err error
	)
	if agreement.ValidKeyFormat(key) {
		a, err = c.agreements.FindActiveByKey(ctx, key)
	} else {
		err = agreement.ErrNotFound
	}

	if err != nil {
		if errors.Is(err, agreement.ErrNotFound) || errors.Is(err, agreement.ErrAlreadyFulfilled) {
			c.auditLogger.Log(ctx, audit.Event{
				Type:     audit.TypeKeyLookupFailed,
				Resource: "agreement",
				Metadata: map[string]any{"reason": err.Error()},
			})
		}
		return nil, err
	}
	return a, nil
}

// Submit validates the submission, persists the tenant record and moves the
// agreement from pending to filled. agreementID is the agreement the draft
// was opened against; if the key now resolves elsewhere the submission is
// rejected as ErrAlreadyFulfilled. The transition is the only guard
// against concurrent submissions: a loser gets ErrAlreadyFulfilled and its
// already-written record is left orphaned.
func (c *Coordinator) Submit(ctx context.Context, key, agreementID string, sub *intake.Submission) (*RenderableContract, error) {
	ctx, span := c.tracer.Start(ctx, "fulfillment.submit")
	defer span.End()

	start := time.Now()
	rc, outcome, err := c.submit(ctx, key, agreementID, sub, span)
	c.attempts.Add(ctx, 1, metrics.Outcome(outcome))
	c.duration.Record(ctx, metrics.Since(start), metrics.Outcome(outcome))
	span.SetAttributes(attribute.String("fulfillment.outcome", outcome))
	if outcome != OutcomeValidationFailed {
		tracing.RecordError(span, err)
	}
	return rc, err
}

func (c *Coordinator) submit(ctx context.Context, key, agreementID string, sub *intake.Submission, span trace.Span) (*RenderableContract, string, error) {
	// 1. Validate locally before touching any store
	if sub == nil {
		return nil, OutcomeValidationFailed, intake.ValidationErrors{"submission": "is required"}
	}
	if errs := sub.Validate(c.workflow); len(errs) > 0 {
		return nil, OutcomeValidationFailed, errs
	}

	// 2-3. Re-resolve; the agreement may have been filled since the draft opened
	a, err := c.agreements.FindActiveByKey(ctx, agreement.NormalizeKey(key))
	if err != nil {
		c.reject(ctx, "", err)
		return nil, outcomeFor(err), err
	}
	if a.ID != agreementID || !a.IsPending() {
		c.reject(ctx, a.ID, agreement.ErrAlreadyFulfilled)
		return nil, OutcomeAlreadyFulfilled, agreement.ErrAlreadyFulfilled
	}
	span.SetAttributes(attribute.String("agreement.id", a.ID))

	// 4. Persist the tenant record
	id, err := uuid.NewV7()
	if err != nil {
		return nil, OutcomeStoreUnavailable, fmt.Errorf("failed to generate tenant record id: %w", err)
	}
	now := c.now().UTC()
	record := &tenant.Record{
		ID:              id.String(),
		AgreementRef:    a.ID,
		WorkflowVersion: c.workflow.Version,
		Fields:          sub.Fields.Normalize(),
		Documents:       maps.Clone(sub.Documents),
		SubmittedAt:     now,
	}
	if err := c.tenants.Create(ctx, record); err != nil {
		slog.ErrorContext(ctx, "failed to persist tenant record",
			logger.AgreementID(a.ID),
			logger.Error(err),
		)
		return nil, OutcomeStoreUnavailable, storeUnavailable("failed to persist tenant record", err)
	}

	// 5. Compare-and-set pending -> filled
	if err := c.agreements.TransitionToFilled(ctx, a.ID, record.ID); err != nil {
		if errors.Is(err, agreement.ErrAlreadyFulfilled) {
			slog.WarnContext(ctx, "lost fulfillment race, tenant record orphaned",
				logger.AgreementID(a.ID),
				logger.TenantRef(record.ID),
			)
			c.auditLogger.Log(ctx, audit.Event{
				Type:     audit.TypeFulfillmentOrphaned,
				Resource: "tenant_record",
				Metadata: map[string]any{"agreement_id": a.ID, "tenant_ref": record.ID},
			})
			return nil, OutcomeOrphaned, agreement.ErrAlreadyFulfilled
		}
		if errors.Is(err, agreement.ErrNotFound) {
			c.reject(ctx, a.ID, err)
			return nil, OutcomeNotFound, err
		}
		slog.ErrorContext(ctx, "failed to transition agreement, tenant record orphaned",
			logger.AgreementID(a.ID),
			logger.TenantRef(record.ID),
			logger.Error(err),
		)
		return nil, OutcomeStoreUnavailable, storeUnavailable("failed to fill agreement", err)
	}

	// 6. Hand back the filled agreement for rendering
	filled := a.Clone()
	filled.Status = agreement.StatusFilled
	filled.TenantRef = &record.ID
	filled.FilledAt = &now

	slog.InfoContext(ctx, "agreement fulfilled",
		logger.AgreementID(a.ID),
		logger.TenantRef(record.ID),
		logger.WorkflowVersion(record.WorkflowVersion),
	)
	c.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeFulfillmentSucceeded,
		Resource: "agreement",
		Metadata: map[string]any{"agreement_id": a.ID, "tenant_ref": record.ID},
	})

	return &RenderableContract{Agreement: filled, Tenant: record}, OutcomeSuccess, nil
}

// Contract loads a filled agreement and its tenant record for rendering
func (c *Coordinator) Contract(ctx context.Context, agreementID string) (*RenderableContract, error) {
	a, err := c.agreements.GetByID(ctx, agreementID)
	if err != nil {
		return nil, err
	}
	if a.Status != agreement.StatusFilled || a.TenantRef == nil {
		return nil, ErrNotFilled
	}

	record, err := c.tenants.GetByID(ctx, *a.TenantRef)
	if err != nil {
		return nil, fmt.Errorf("failed to load tenant record for agreement %s: %w", a.ID, err)
	}
	return &RenderableContract{Agreement: a, Tenant: record}, nil
}

func (c *Coordinator) reject(ctx context.Context, agreementID string, err error) {
	if errors.Is(err, agreement.ErrStoreUnavailable) {
		slog.ErrorContext(ctx, "agreement lookup failed", logger.Error(err))
		return
	}
	c.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeFulfillmentRejected,
		Resource: "agreement",
		Metadata: map[string]any{"agreement_id": agreementID, "reason": err.Error()},
	})
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, agreement.ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, agreement.ErrAlreadyFulfilled):
		return OutcomeAlreadyFulfilled
	default:
		return OutcomeStoreUnavailable
	}
}

// storeUnavailable guarantees the result matches agreement.ErrStoreUnavailable
func storeUnavailable(msg string, err error) error {
	if errors.Is(err, agreement.ErrStoreUnavailable) {
		return fmt.Errorf("%s: %w", msg, err)
	}
	return fmt.Errorf("%s: %w: %w", msg, agreement.ErrStoreUnavailable, err)
}
