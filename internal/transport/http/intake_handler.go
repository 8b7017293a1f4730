package http

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/safestay/safestay/internal/agreement"
	"github.com/safestay/safestay/internal/audit"
	"github.com/safestay/safestay/internal/capture"
	"github.com/safestay/safestay/internal/fulfillment"
	"github.com/safestay/safestay/internal/intake"
)

// OpenIntakeRequest carries the key the tenant typed or followed
type OpenIntakeRequest struct {
	AccessKey string `json:"access_key"`
}

// intakeAgreementView is the part of an agreement a tenant may see
type intakeAgreementView struct {
	PropertyLabel   string          `json:"property_label"`
	PropertyAddress string          `json:"property_address,omitempty"`
	RentAmount      float64         `json:"rent_amount"`
	Terms           agreement.Terms `json:"terms"`
}

type draftView struct {
	ID          string                          `json:"id"`
	Agreement   intakeAgreementView             `json:"agreement"`
	Workflow    *intake.WorkflowConfig          `json:"workflow"`
	Fields      intake.Fields                   `json:"fields"`
	Documents   map[intake.Slot]capture.Summary `json:"documents"`
	SelfieState capture.State                   `json:"selfie_state"`
	CanSubmit   bool                            `json:"can_submit"`
	Missing     intake.ValidationErrors         `json:"missing,omitempty"`
	Receipt     *intake.Receipt                 `json:"receipt,omitempty"`
}

func newDraftView(d *intake.Draft) draftView {
	missing := d.Validate()
	v := draftView{
		ID: d.ID,
		Agreement: intakeAgreementView{
			PropertyLabel:   d.Agreement.PropertyLabel,
			PropertyAddress: d.Agreement.PropertyAddress,
			RentAmount:      d.Agreement.RentAmount,
			Terms:           d.Agreement.Terms,
		},
		Workflow:    d.Workflow(),
		Fields:      d.Fields(),
		Documents:   d.Documents(),
		SelfieState: d.SelfieState(),
		CanSubmit:   len(missing) == 0,
		Missing:     missing,
	}
	if receipt, ok := d.Receipt(); ok {
		v.Receipt = &receipt
		v.CanSubmit = false
		v.Missing = nil
	}
	return v
}

// draft resolves the {draftID} path parameter, replying on failure
func (h *Handler) draft(w http.ResponseWriter, r *http.Request) (*intake.Draft, bool) {
	d, err := h.drafts.Get(chi.URLParam(r, "draftID"))
	if err != nil {
		respondDomainError(w, r, err)
		return nil, false
	}
	return d, true
}

// OpenIntake resolves an access key and opens an intake draft for it
// @Summary Open intake
// @Tags Intake
// @Accept json
// @Produce json
// @Param request body OpenIntakeRequest true "Access key"
// @Success 201 {object} draftView
// @Failure 404 {object} errorResponse
// @Failure 409 {object} errorResponse
// @Failure 503 {object} errorResponse
// @Router /intake [post]
func (h *Handler) OpenIntake(w http.ResponseWriter, r *http.Request) {
	var req OpenIntakeRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	a, err := h.coordinator.Lookup(r.Context(), req.AccessKey)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	d := h.drafts.Open(a)
	h.auditLogger.Log(r.Context(), audit.Event{
		Type:      audit.TypeIntakeOpened,
		Resource:  "agreement",
		IPAddress: getClientIP(r),
		Metadata:  map[string]any{"agreement_id": a.ID},
	})

	respondJSON(w, http.StatusCreated, newDraftView(d))
}

// GetDraft returns the draft's progress
// @Summary Get draft
// @Tags Intake
// @Produce json
// @Param draftID path string true "Draft ID"
// @Router /intake/drafts/{draftID} [get]
func (h *Handler) GetDraft(w http.ResponseWriter, r *http.Request) {
	d, ok := h.draft(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, newDraftView(d))
}

// DiscardDraft drops the draft and everything captured in it
// @Summary Discard draft
// @Tags Intake
// @Param draftID path string true "Draft ID"
// @Success 204
// @Router /intake/drafts/{draftID} [delete]
func (h *Handler) DiscardDraft(w http.ResponseWriter, r *http.Request) {
	if err := h.drafts.Discard(chi.URLParam(r, "draftID")); err != nil {
		respondDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateFields replaces the typed identity fields
// @Summary Update fields
// @Tags Intake
// @Accept json
// @Produce json
// @Param draftID path string true "Draft ID"
// @Param request body intake.Fields true "Tenant fields"
// @Router /intake/drafts/{draftID}/fields [put]
func (h *Handler) UpdateFields(w http.ResponseWriter, r *http.Request) {
	d, ok := h.draft(w, r)
	if !ok {
		return
	}

	var fields intake.Fields
	if err := decodeJSON(r, &fields); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := d.SetFields(fields); err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newDraftView(d))
}

// AttachDocument stores an uploaded image in a document slot. The body is
// either multipart with a "file" part or a raw image.
// @Summary Attach document
// @Tags Intake
// @Accept multipart/form-data
// @Produce json
// @Param draftID path string true "Draft ID"
// @Param slot path string true "Document slot"
// @Failure 413 {object} errorResponse
// @Failure 422 {object} errorResponse
// @Router /intake/drafts/{draftID}/documents/{slot} [post]
func (h *Handler) AttachDocument(w http.ResponseWriter, r *http.Request) {
	d, ok := h.draft(w, r)
	if !ok {
		return
	}

	// Multipart framing gets some headroom; the adapter enforces the file limit
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+64<<10)

	var src capture.FileSource
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		file, header, err := r.FormFile("file")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				respondDomainError(w, r, capture.ErrFileTooLarge)
				return
			}
			respondDomainError(w, r, capture.ErrUnreadableFile)
			return
		}
		defer file.Close()
		src = capture.FileSource{Name: header.Filename, ContentType: header.Header.Get("Content-Type"), Reader: file}
	} else {
		src = capture.FileSource{ContentType: r.Header.Get("Content-Type"), Reader: r.Body}
	}

	if _, err := d.AttachFile(r.Context(), intake.Slot(chi.URLParam(r, "slot")), src); err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newDraftView(d))
}

// RemoveDocument clears a document slot
// @Summary Remove document
// @Tags Intake
// @Produce json
// @Param draftID path string true "Draft ID"
// @Param slot path string true "Document slot"
// @Router /intake/drafts/{draftID}/documents/{slot} [delete]
func (h *Handler) RemoveDocument(w http.ResponseWriter, r *http.Request) {
	d, ok := h.draft(w, r)
	if !ok {
		return
	}
	if err := d.RemoveDocument(intake.Slot(chi.URLParam(r, "slot"))); err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newDraftView(d))
}

// CameraDecision relays the tenant's answer to the camera prompt
type CameraDecision struct {
	Granted bool `json:"granted"`
}

// StartSelfie requests the camera for the selfie
// @Summary Start selfie capture
// @Tags Intake
// @Accept json
// @Produce json
// @Param draftID path string true "Draft ID"
// @Param request body CameraDecision true "Permission decision"
// @Failure 403 {object} errorResponse
// @Router /intake/drafts/{draftID}/selfie/start [post]
func (h *Handler) StartSelfie(w http.ResponseWriter, r *http.Request) {
	h.requestCamera(w, r, func(d *intake.Draft) error { return d.StartSelfie(r.Context()) })
}

// RetakeSelfie drops the captured selfie and requests the camera again
// @Summary Retake selfie
// @Tags Intake
// @Accept json
// @Produce json
// @Param draftID path string true "Draft ID"
// @Param request body CameraDecision true "Permission decision"
// @Router /intake/drafts/{draftID}/selfie/retake [post]
func (h *Handler) RetakeSelfie(w http.ResponseWriter, r *http.Request) {
	h.requestCamera(w, r, func(d *intake.Draft) error { return d.RetakeSelfie(r.Context()) })
}

func (h *Handler) requestCamera(w http.ResponseWriter, r *http.Request, start func(*intake.Draft) error) {
	d, ok := h.draft(w, r)
	if !ok {
		return
	}

	var req CameraDecision
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	d.Camera().Decide(req.Granted)
	if err := start(d); err != nil {
		if errors.Is(err, capture.ErrPermissionDenied) {
			h.auditLogger.Log(r.Context(), audit.Event{
				Type:      audit.TypeCapturePermission,
				Resource:  "intake_draft",
				IPAddress: getClientIP(r),
				Metadata:  map[string]any{"agreement_id": d.Agreement.ID},
			})
		}
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newDraftView(d))
}

// FrameRequest carries a frame as a data URL
type FrameRequest struct {
	DataURL string `json:"data_url"`
}

// CaptureSelfie takes the selfie from a relayed frame. The frame is a raw
// image body or JSON with a data URL.
// @Summary Capture selfie
// @Tags Intake
// @Produce json
// @Param draftID path string true "Draft ID"
// @Failure 409 {object} errorResponse
// @Failure 422 {object} errorResponse
// @Router /intake/drafts/{draftID}/selfie/frame [post]
func (h *Handler) CaptureSelfie(w http.ResponseWriter, r *http.Request) {
	d, ok := h.draft(w, r)
	if !ok {
		return
	}

	frame, err := h.readFrame(w, r)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	if err := d.Camera().PushFrame(frame); err != nil {
		respondDomainError(w, r, err)
		return
	}

	if _, err := d.CaptureSelfie(r.Context()); err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newDraftView(d))
}

func (h *Handler) readFrame(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body := http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req FrameRequest
		if err := json.NewDecoder(body).Decode(&req); err != nil {
			return nil, frameReadError(err)
		}
		_, data, err := capture.DecodeDataURL(req.DataURL)
		return data, err
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, frameReadError(err)
	}
	if len(data) == 0 {
		return nil, capture.ErrUnreadableFile
	}
	return data, nil
}

func frameReadError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return capture.ErrFileTooLarge
	}
	return capture.ErrUnreadableFile
}

// CancelSelfie releases the camera and drops any captured selfie
// @Summary Cancel selfie capture
// @Tags Intake
// @Produce json
// @Param draftID path string true "Draft ID"
// @Router /intake/drafts/{draftID}/selfie/cancel [post]
func (h *Handler) CancelSelfie(w http.ResponseWriter, r *http.Request) {
	d, ok := h.draft(w, r)
	if !ok {
		return
	}
	d.CancelSelfie()
	respondJSON(w, http.StatusOK, newDraftView(d))
}

// SubmitDraft fulfills the agreement with the draft's contents
// @Summary Submit draft
// @Tags Intake
// @Produce json
// @Param draftID path string true "Draft ID"
// @Success 201 {object} map[string]any
// @Failure 409 {object} errorResponse
// @Failure 422 {object} errorResponse
// @Failure 503 {object} errorResponse
// @Router /intake/drafts/{draftID}/submit [post]
func (h *Handler) SubmitDraft(w http.ResponseWriter, r *http.Request) {
	d, ok := h.draft(w, r)
	if !ok {
		return
	}
	if _, submitted := d.Receipt(); submitted {
		respondDomainError(w, r, intake.ErrDraftSubmitted)
		return
	}

	rc, err := h.coordinator.Submit(r.Context(), d.Agreement.AccessKey, d.Agreement.ID, d.Submission())
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	receipt := intake.Receipt{
		AgreementID: rc.Agreement.ID,
		TenantRef:   rc.Tenant.ID,
		SubmittedAt: rc.Tenant.SubmittedAt,
	}
	d.MarkSubmitted(receipt)

	respondJSON(w, http.StatusCreated, map[string]any{
		"receipt":      receipt,
		"contract_url": "/api/v1/intake/drafts/" + d.ID + "/contract.pdf",
	})
}

// ExportTenantContract renders the contract the draft just fulfilled
// @Summary Export tenant contract
// @Tags Intake
// @Produce application/pdf
// @Param draftID path string true "Draft ID"
// @Failure 409 {object} errorResponse
// @Router /intake/drafts/{draftID}/contract.pdf [get]
func (h *Handler) ExportTenantContract(w http.ResponseWriter, r *http.Request) {
	d, ok := h.draft(w, r)
	if !ok {
		return
	}

	receipt, submitted := d.Receipt()
	if !submitted {
		respondDomainError(w, r, fulfillment.ErrNotFilled)
		return
	}

	rc, err := h.coordinator.Contract(r.Context(), receipt.AgreementID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	if rc.Tenant.ID != receipt.TenantRef {
		respondDomainError(w, r, agreement.ErrAlreadyFulfilled)
		return
	}

	h.writeContract(w, r, rc, "")
}
