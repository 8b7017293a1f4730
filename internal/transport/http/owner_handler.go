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

package http

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/safestay/safestay/internal/agreement"
	"github.com/safestay/safestay/internal/audit"
	"github.com/safestay/safestay/internal/identity"
)

// LoginRequest carries an identity provider token
type LoginRequest struct {
	Token string `json:"token"`
}

// Login exchanges an identity token for an owner session cookie
// @Summary Owner login
// @Tags Owner
// @Accept json
// @Produce json
// @Param request body LoginRequest false "Token, or use the Authorization header"
// @Success 200 {object} map[string]any
// @Failure 401 {object} errorResponse
// @Router /owner/session [post]
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	raw := r.Header.Get("Authorization")
	if raw == "" {
		var req LoginRequest
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		raw = req.Token
	}

	owner, err := h.verifier.Verify(raw)
	if err != nil {
		h.auditLogger.Log(r.Context(), audit.Event{
			Type:      audit.TypeLoginFailed,
			Resource:  "session",
			IPAddress: getClientIP(r),
			UserAgent: r.UserAgent(),
			Metadata:  map[string]any{"reason": err.Error()},
		})
		respondError(w, http.StatusUnauthorized, "invalid identity token")
		return
	}

	sess, err := h.sessionService.Create(r.Context(), owner.Ref, owner.Email, getClientIP(r), r.UserAgent())
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	h.setSessionCookie(w, sess.ID, sess.ExpiresAt)
	h.auditLogger.Log(r.Context(), audit.Event{
		Type:      audit.TypeSessionCreated,
		ActorID:   owner.Ref,
		Resource:  "session",
		IPAddress: getClientIP(r),
		UserAgent: r.UserAgent(),
	})

	respondJSON(w, http.StatusOK, map[string]any{
		"owner_ref":  owner.Ref,
		"email":      owner.Email,
		"expires_at": sess.ExpiresAt,
	})
}

// Logout clears the owner session
// @Summary Owner logout
// @Tags Owner
// @Security CookieAuth
// @Success 204
// @Router /owner/session [delete]
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	sess := GetSession(r.Context())
	if err := h.sessionService.Destroy(r.Context(), sess.ID); err != nil {
		respondDomainError(w, r, err)
		return
	}

	h.clearSessionCookie(w)
	h.auditLogger.Log(r.Context(), audit.Event{
		Type:     audit.TypeLogout,
		ActorID:  sess.OwnerRef,
		Resource: "session",
	})
	w.WriteHeader(http.StatusNoContent)
}

// LogoutAll clears every session of the current owner, including this one
// @Summary Owner logout on all devices
// @Tags Owner
// @Security CookieAuth
// @Success 204
// @Router /owner/sessions [delete]
func (h *Handler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	sess := GetSession(r.Context())
	if err := h.sessionService.DestroyAllForOwner(r.Context(), sess.OwnerRef); err != nil {
		respondDomainError(w, r, err)
		return
	}

	h.clearSessionCookie(w)
	h.auditLogger.Log(r.Context(), audit.Event{
		Type:     audit.TypeLogout,
		ActorID:  sess.OwnerRef,
		Resource: "session",
		Metadata: map[string]any{"scope": "all"},
	})
	w.WriteHeader(http.StatusNoContent)
}

// GetCurrentOwner returns the session owner
// @Summary Current owner
// @Tags Owner
// @Security CookieAuth
// @Produce json
// @Router /owner/me [get]
func (h *Handler) GetCurrentOwner(w http.ResponseWriter, r *http.Request) {
	sess := GetSession(r.Context())
	respondJSON(w, http.StatusOK, identity.Owner{Ref: sess.OwnerRef, Email: sess.OwnerEmail})
}

// agreementView is an agreement as shown to its owner
type agreementView struct {
	*agreement.Agreement
	Link string `json:"link"`
}

func newAgreementView(a *agreement.Agreement) agreementView {
	return agreementView{Agreement: a, Link: "/fill-agreement/" + a.AccessKey}
}

// IssueAgreement creates a pending agreement and its access key
// @Summary Issue agreement
// @Tags Agreements
// @Security CookieAuth
// @Accept json
// @Produce json
// @Param request body agreement.Draft true "Agreement content"
// @Success 201 {object} agreementView
// @Failure 400 {object} errorResponse
// @Failure 503 {object} errorResponse
// @Router /agreements [post]
func (h *Handler) IssueAgreement(w http.ResponseWriter, r *http.Request) {
	var draft agreement.Draft
	if err := decodeJSON(r, &draft); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	a, err := h.agreementService.Issue(r.Context(), GetSession(r.Context()), draft)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, newAgreementView(a))
}

// ListAgreements lists the owner's agreements, newest first
// @Summary List agreements
// @Tags Agreements
// @Security CookieAuth
// @Produce json
// @Param limit query int false "Page size (max 100)"
// @Param offset query int false "Offset"
// @Router /agreements [get]
func (h *Handler) ListAgreements(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	agreements, err := h.agreementService.ListForOwner(r.Context(), GetSession(r.Context()), limit, offset)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	views := make([]agreementView, 0, len(agreements))
	for _, a := range agreements {
		views = append(views, newAgreementView(a))
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"agreements": views,
		"limit":      limit,
		"offset":     offset,
	})
}

// GetAgreement returns one of the owner's agreements
// @Summary Get agreement
// @Tags Agreements
// @Security CookieAuth
// @Produce json
// @Param agreementID path string true "Agreement ID"
// @Router /agreements/{agreementID} [get]
func (h *Handler) GetAgreement(w http.ResponseWriter, r *http.Request) {
	a, err := h.agreementService.GetForOwner(r.Context(), GetSession(r.Context()), chi.URLParam(r, "agreementID"))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newAgreementView(a))
}

// ExportOwnerContract renders a filled agreement as PDF for its owner
// @Summary Export contract
// @Tags Agreements
// @Security CookieAuth
// @Produce application/pdf
// @Param agreementID path string true "Agreement ID"
// @Failure 409 {object} errorResponse
// @Router /agreements/{agreementID}/contract.pdf [get]
func (h *Handler) ExportOwnerContract(w http.ResponseWriter, r *http.Request) {
	sess := GetSession(r.Context())

	// Ownership check before the tenant record is loaded
	a, err := h.agreementService.GetForOwner(r.Context(), sess, chi.URLParam(r, "agreementID"))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	rc, err := h.coordinator.Contract(r.Context(), a.ID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	h.writeContract(w, r, rc, sess.OwnerRef)
}
