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

package intake

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/safestay/safestay/internal/agreement"
	"github.com/safestay/safestay/internal/capture"
)

// Domain errors
var (
	ErrDraftNotFound  = errors.New("intake draft not found")
	ErrDraftSubmitted = errors.New("intake draft already submitted")
	ErrInvalidSlot    = errors.New("unknown document slot")
	ErrLiveOnly       = errors.New("document must be captured live")
)

// Receipt records a successful fulfillment for the draft that produced it
type Receipt struct {
	AgreementID string    `json:"agreement_id"`
	TenantRef   string    `json:"tenant_ref"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Draft is a tenant's in-progress submission for one agreement. Nothing in
// a draft touches the agreement store until it is submitted.
type Draft struct {
	ID        string
	Agreement *agreement.Agreement // Snapshot taken when the key was resolved
	CreatedAt time.Time

	workflow *WorkflowConfig
	adapter  *capture.Adapter
	camera   *capture.RelayCamera
	selfie   *capture.LiveSlot

	mu        sync.Mutex
	fields    Fields
	documents map[Slot]capture.Artifact
	receipt   *Receipt
	lastSeen  time.Time
}

func newDraft(id string, a *agreement.Agreement, workflow *WorkflowConfig, adapter *capture.Adapter, now time.Time) *Draft {
	camera := capture.NewRelayCamera()
	return &Draft{
		ID:        id,
		Agreement: a.Clone(),
		CreatedAt: now,
		workflow:  workflow,
		adapter:   adapter,
		camera:    camera,
		selfie:    capture.NewLiveSlot(camera),
		documents: make(map[Slot]capture.Artifact),
		lastSeen:  now,
	}
}

// Workflow returns the workflow the draft is validated against
func (d *Draft) Workflow() *WorkflowConfig {
	return d.workflow
}

// Camera returns the relay through which the client reports its camera
// permission decision and frames.
func (d *Draft) Camera() *capture.RelayCamera {
	return d.camera
}

// SelfieState returns the live capture state of the selfie slot
func (d *Draft) SelfieState() capture.State {
	return d.selfie.State()
}

// SetFields replaces the typed identity fields
func (d *Draft) SetFields(f Fields) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.receipt != nil {
		return ErrDraftSubmitted
	}
	d.fields = f.Normalize()
	return nil
}

// Fields returns the current identity fields
func (d *Draft) Fields() Fields {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fields
}

// AttachFile captures an uploaded file into slot, replacing any previous one
func (d *Draft) AttachFile(ctx context.Context, slot Slot, src capture.FileSource) (capture.Artifact, error) {
	if !slot.Valid() {
		return capture.Artifact{}, fmt.Errorf("%w: %q", ErrInvalidSlot, slot)
	}
	if slot.Live() {
		return capture.Artifact{}, fmt.Errorf("%w: %s", ErrLiveOnly, slot)
	}
	if err := d.checkOpen(); err != nil {
		return capture.Artifact{}, err
	}

	a, err := d.adapter.CaptureFile(ctx, src)
	if err != nil {
		return capture.Artifact{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.receipt != nil {
		return capture.Artifact{}, ErrDraftSubmitted
	}
	d.documents[slot] = a
	return a, nil
}

// RemoveDocument clears a slot. Clearing the selfie also releases the camera.
func (d *Draft) RemoveDocument(slot Slot) error {
	if !slot.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidSlot, slot)
	}
	if slot.Live() {
		d.selfie.Cancel()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.receipt != nil {
		return ErrDraftSubmitted
	}
	delete(d.documents, slot)
	return nil
}

// StartSelfie requests the camera for the selfie slot
func (d *Draft) StartSelfie(ctx context.Context) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	return d.selfie.Start(ctx)
}

// CaptureSelfie takes the selfie from the open stream
func (d *Draft) CaptureSelfie(ctx context.Context) (capture.Artifact, error) {
	if err := d.checkOpen(); err != nil {
		return capture.Artifact{}, err
	}

	a, err := d.selfie.Capture(ctx)
	if err != nil {
		return capture.Artifact{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.documents[SlotSelfie] = a
	return a, nil
}

// RetakeSelfie drops the captured selfie and requests the camera again
func (d *Draft) RetakeSelfie(ctx context.Context) error {
	if err := d.checkOpen(); err != nil {
		return err
	}

	d.mu.Lock()
	delete(d.documents, SlotSelfie)
	d.mu.Unlock()

	return d.selfie.Retake(ctx)
}

// CancelSelfie releases the camera and drops any captured selfie
func (d *Draft) CancelSelfie() {
	d.selfie.Cancel()

	d.mu.Lock()
	delete(d.documents, SlotSelfie)
	d.mu.Unlock()
}

// Submission snapshots the draft as a submission record
func (d *Draft) Submission() *Submission {
	d.mu.Lock()
	defer d.mu.Unlock()
	return &Submission{
		WorkflowVersion: d.workflow.Version,
		Fields:          d.fields,
		Documents:       maps.Clone(d.documents),
	}
}

// Validate checks the draft against its workflow
func (d *Draft) Validate() ValidationErrors {
	return d.Submission().Validate(d.workflow)
}

// CanSubmit reports whether the draft would pass validation
func (d *Draft) CanSubmit() bool {
	return len(d.Validate()) == 0
}

// Documents summarizes the attached documents without their payloads
func (d *Draft) Documents() map[Slot]capture.Summary {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[Slot]capture.Summary, len(d.documents))
	for slot, a := range d.documents {
		out[slot] = a.Summary()
	}
	return out
}

// MarkSubmitted records the fulfillment receipt and releases the camera
func (d *Draft) MarkSubmitted(r Receipt) {
	d.selfie.Cancel()

	d.mu.Lock()
	defer d.mu.Unlock()
	d.receipt = &r
}

// Receipt returns the fulfillment receipt, if the draft was submitted
func (d *Draft) Receipt() (Receipt, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.receipt == nil {
		return Receipt{}, false
	}
	return *d.receipt, true
}

// Discard releases the camera and drops all captured data
func (d *Draft) Discard() {
	d.selfie.Cancel()

	d.mu.Lock()
	defer d.mu.Unlock()
	d.fields = Fields{}
	d.documents = make(map[Slot]capture.Artifact)
}

func (d *Draft) checkOpen() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.receipt != nil {
		return ErrDraftSubmitted
	}
	return nil
}

func (d *Draft) touch(now time.Time) {
	d.mu.Lock()
	d.lastSeen = now
	d.mu.Unlock()
}

func (d *Draft) idleSince() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastSeen
}
