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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/safestay/safestay/internal/agreement"
	"github.com/safestay/safestay/internal/audit"
	"github.com/safestay/safestay/internal/capture"
	"github.com/safestay/safestay/internal/contract"
	"github.com/safestay/safestay/internal/fulfillment"
	"github.com/safestay/safestay/internal/identity"
	"github.com/safestay/safestay/internal/intake"
	"github.com/safestay/safestay/internal/observability/metrics"
	"github.com/safestay/safestay/internal/session"
	"github.com/safestay/safestay/internal/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret   = "test-secret-that-is-at-least-32-bytes!"
	testAudience = "safestay"
)

type testServer struct {
	t      *testing.T
	router http.Handler
	drafts *intake.DraftStore
}

func newTestServer(t *testing.T, limiters Limiters) *testServer {
	t.Helper()

	agreements := memory.NewAgreementRepository()
	tenants := memory.NewTenantRepository(agreements)
	auditLogger := audit.NewSlogLogger()
	workflow := intake.DefaultWorkflow()

	keys, err := agreement.NewKeyGenerator(agreement.MinKeyLength)
	require.NoError(t, err)
	verifier, err := identity.NewTokenVerifier(testSecret, "", testAudience)
	require.NoError(t, err)
	coord, err := fulfillment.NewCoordinator(agreements, tenants, workflow, auditLogger, metrics.NewNoop())
	require.NoError(t, err)

	drafts := intake.NewDraftStore(workflow, capture.NewAdapter(0), time.Hour)

	h := NewHandler(
		session.NewService(memory.NewSessionRepository(), time.Hour, 30*time.Minute),
		verifier,
		agreement.NewService(agreements, keys, auditLogger, 0),
		coord,
		drafts,
		contract.NewRenderer(),
		nil,
		auditLogger,
		SessionConfig{CookieName: "safestay_session", CookiePath: "/", CookieHTTPOnly: true, CookieSameSite: http.SameSiteLaxMode},
		0,
	)

	if limiters.Global == nil {
		limiters.Global = NewRateLimiter(1000, 1000)
	}
	if limiters.Lookup == nil {
		limiters.Lookup = NewRateLimiter(1000, 1000)
	}

	return &testServer{t: t, router: NewRouter(h, limiters, nil), drafts: drafts}
}

func (s *testServer) do(method, path string, body io.Reader, headers map[string]string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) doJSON(method, path string, payload any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		require.NoError(s.t, err)
		body = bytes.NewReader(b)
	}
	return s.do(method, path, body, map[string]string{
		"Content-Type": "application/json",
		"X-CSRF-Token": "1",
	}, cookies...)
}

func (s *testServer) login(subject string) *http.Cookie {
	token, err := identity.SignToken(testSecret, "", testAudience, subject, subject+"@example.com", time.Hour)
	require.NoError(s.t, err)

	w := s.do(http.MethodPost, "/api/v1/owner/session", nil, map[string]string{"Authorization": "Bearer " + token})
	require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())

	for _, c := range w.Result().Cookies() {
		if c.Name == "safestay_session" {
			return c
		}
	}
	s.t.Fatal("no session cookie set")
	return nil
}

func (s *testServer) issue(cookie *http.Cookie) agreement.Agreement {
	w := s.doJSON(http.MethodPost, "/api/v1/agreements", map[string]any{
		"property_label": "Flat 4B",
		"rent_amount":    1500,
		"terms":          "No pets\nRent due on the 5th",
	}, cookie)
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())

	var a agreement.Agreement
	require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &a))
	return a
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: 40, G: 90, B: 160, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// TestPurpose: Validates that owner routes require a session and a CSRF header.
// Scope: Integration Test (HTTP, in-memory store)
// Security: Authentication and CSRF protection (CWE-352)
// Expected: No cookie yields 401, a missing CSRF header yields 403, and a valid request issues an agreement with its link.
// Test Case ID: HTTP-01
func TestHTTP_OwnerIssue_RequiresSessionAndCSRF(t *testing.T) {
	s := newTestServer(t, Limiters{})

	w := s.doJSON(http.MethodPost, "/api/v1/agreements", map[string]any{"property_label": "Flat"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	cookie := s.login("owner-1")

	w = s.do(http.MethodPost, "/api/v1/agreements", strings.NewReader(`{"property_label":"Flat"}`),
		map[string]string{"Content-Type": "application/json"}, cookie)
	assert.Equal(t, http.StatusForbidden, w.Code)

	a := s.issue(cookie)
	assert.Len(t, a.AccessKey, agreement.MinKeyLength)
	assert.Equal(t, agreement.StatusPending, a.Status)
	assert.Equal(t, agreement.Terms{"No pets", "Rent due on the 5th"}, a.Terms)

	w = s.doJSON(http.MethodGet, "/api/v1/agreements", nil, cookie)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/fill-agreement/"+a.AccessKey)
}

// TestPurpose: Validates that an invalid identity token does not create a session.
// Scope: Integration Test (HTTP)
// Security: Authentication (CWE-287)
// Expected: Returns 401 and sets no cookie.
// Test Case ID: HTTP-02
func TestHTTP_Login_InvalidToken(t *testing.T) {
	s := newTestServer(t, Limiters{})

	w := s.do(http.MethodPost, "/api/v1/owner/session", nil, map[string]string{"Authorization": "Bearer not-a-jwt"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, w.Result().Cookies())
}

// TestPurpose: Validates that owners cannot read each other's agreements.
// Scope: Integration Test (HTTP)
// Security: Horizontal access control (CWE-639)
// Expected: The second owner gets 404 for the first owner's agreement id.
// Test Case ID: HTTP-03
func TestHTTP_GetAgreement_OtherOwner(t *testing.T) {
	s := newTestServer(t, Limiters{})
	a := s.issue(s.login("owner-1"))

	w := s.doJSON(http.MethodGet, "/api/v1/agreements/"+a.ID, nil, s.login("owner-2"))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// TestPurpose: Validates the full tenant flow from key entry to contract download, including a denied camera prompt.
// Scope: Integration Test (HTTP, in-memory store)
// Expected: Lower-case key opens a draft; denial yields 403 with retry; the granted retry captures; submit fills the agreement exactly once; the PDF downloads with the tenant's filename.
// Test Case ID: HTTP-04
func TestHTTP_TenantFlow(t *testing.T) {
	s := newTestServer(t, Limiters{})
	owner := s.login("owner-1")
	a := s.issue(owner)

	w := s.doJSON(http.MethodPost, "/api/v1/intake", OpenIntakeRequest{AccessKey: strings.ToLower(a.AccessKey)})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	draft := decodeBody[draftView](t, w)
	assert.False(t, draft.CanSubmit)
	assert.Equal(t, "Flat 4B", draft.Agreement.PropertyLabel)
	base := "/api/v1/intake/drafts/" + draft.ID

	w = s.doJSON(http.MethodPut, base+"/fields", intake.Fields{
		FullName: "Asha Rao", RelationName: "K. Rao", PermanentAddress: "12 Lake Road", Mobile: "9876543210",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	img := pngBytes(t, 40, 30)
	for _, slot := range []string{"id_front", "id_back", "signature"} {
		w = s.do(http.MethodPost, base+"/documents/"+slot, bytes.NewReader(img), map[string]string{"Content-Type": "image/png"})
		require.Equal(t, http.StatusOK, w.Code, slot+": "+w.Body.String())
	}

	w = s.doJSON(http.MethodPost, base+"/selfie/start", CameraDecision{Granted: false})
	require.Equal(t, http.StatusForbidden, w.Code)
	denied := decodeBody[errorResponse](t, w)
	assert.True(t, denied.Retry)
	assert.Equal(t, "permission_denied", denied.Code)

	w = s.doJSON(http.MethodPost, base+"/selfie/start", CameraDecision{Granted: true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, capture.StateStreaming, decodeBody[draftView](t, w).SelfieState)

	w = s.do(http.MethodPost, base+"/selfie/frame", bytes.NewReader(pngBytes(t, 64, 48)), map[string]string{"Content-Type": "image/png"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	captured := decodeBody[draftView](t, w)
	assert.Equal(t, capture.StateCaptured, captured.SelfieState)
	assert.True(t, captured.CanSubmit)

	d, err := s.drafts.Get(draft.ID)
	require.NoError(t, err)
	assert.Zero(t, d.Camera().OpenStreams())

	w = s.doJSON(http.MethodPost, base+"/submit", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.doJSON(http.MethodPost, base+"/submit", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(http.MethodGet, base+"/contract.pdf", nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "Asha_Rao_Rental_Agreement.pdf")
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF")))

	w = s.doJSON(http.MethodPost, "/api/v1/intake", OpenIntakeRequest{AccessKey: a.AccessKey})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "already_fulfilled", decodeBody[errorResponse](t, w).Code)

	w = s.doJSON(http.MethodGet, "/api/v1/agreements/"+a.ID+"/contract.pdf", nil, owner)
	assert.Equal(t, http.StatusOK, w.Code)
}

// TestPurpose: Validates that an incomplete draft cannot be submitted and reports which fields are missing.
// Scope: Integration Test (HTTP)
// Expected: Returns 422 with a field map naming the invalid mobile number and missing documents.
// Test Case ID: HTTP-05
func TestHTTP_Submit_Incomplete(t *testing.T) {
	s := newTestServer(t, Limiters{})
	a := s.issue(s.login("owner-1"))

	w := s.doJSON(http.MethodPost, "/api/v1/intake", OpenIntakeRequest{AccessKey: a.AccessKey})
	require.Equal(t, http.StatusCreated, w.Code)
	base := "/api/v1/intake/drafts/" + decodeBody[draftView](t, w).ID

	w = s.doJSON(http.MethodPut, base+"/fields", intake.Fields{FullName: "Asha Rao", Mobile: "98765432"})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.doJSON(http.MethodPost, base+"/submit", nil)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	resp := decodeBody[errorResponse](t, w)
	assert.Equal(t, "validation_failed", resp.Code)
	assert.Contains(t, resp.Fields, "mobile")
	assert.Contains(t, resp.Fields, "selfie")
}

// TestPurpose: Validates key lookup failures and the selfie slot's live-only rule.
// Scope: Integration Test (HTTP)
// Expected: An unknown key is 404; uploading a file into the selfie slot is 400; a text upload is 422.
// Test Case ID: HTTP-06
func TestHTTP_IntakeRejections(t *testing.T) {
	s := newTestServer(t, Limiters{})
	a := s.issue(s.login("owner-1"))

	w := s.doJSON(http.MethodPost, "/api/v1/intake", OpenIntakeRequest{AccessKey: "ZZZZZZZZ"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.doJSON(http.MethodPost, "/api/v1/intake", OpenIntakeRequest{AccessKey: a.AccessKey})
	require.Equal(t, http.StatusCreated, w.Code)
	base := "/api/v1/intake/drafts/" + decodeBody[draftView](t, w).ID

	w = s.do(http.MethodPost, base+"/documents/selfie", bytes.NewReader(pngBytes(t, 8, 8)), map[string]string{"Content-Type": "image/png"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, base+"/documents/id_front", strings.NewReader("hello"), map[string]string{"Content-Type": "text/plain"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = s.do(http.MethodGet, base+"/contract.pdf", nil, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(http.MethodDelete, base, nil, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = s.do(http.MethodGet, base, nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// TestPurpose: Validates the shareable link canonicalizes key case.
// Scope: Unit Test
// Expected: A lower-case key redirects with 308 to the upper-case path; the canonical path is served; a malformed key is 404.
// Test Case ID: HTTP-07
func TestHTTP_FillAgreementLink(t *testing.T) {
	s := newTestServer(t, Limiters{})

	w := s.do(http.MethodGet, "/fill-agreement/ab12cd", nil, nil)
	assert.Equal(t, http.StatusPermanentRedirect, w.Code)
	assert.Equal(t, "/fill-agreement/AB12CD", w.Header().Get("Location"))

	w = s.do(http.MethodGet, "/fill-agreement/AB12CD", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "AB12CD")

	w = s.do(http.MethodGet, "/fill-agreement/not-a-key!", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// TestPurpose: Validates that key lookups are throttled per client IP.
// Scope: Integration Test (HTTP)
// Security: Brute-force protection for access keys (CWE-307)
// Expected: Requests past the lookup burst get 429 with Retry-After.
// Test Case ID: HTTP-08
func TestHTTP_LookupRateLimit(t *testing.T) {
	s := newTestServer(t, Limiters{Lookup: NewPerMinuteLimiter(1, 2)})

	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		last = s.doJSON(http.MethodPost, "/api/v1/intake", OpenIntakeRequest{AccessKey: "ZZZZZZ"})
	}
	assert.Equal(t, http.StatusTooManyRequests, last.Code)
	assert.NotEmpty(t, last.Header().Get("Retry-After"))
}

// TestPurpose: Validates the domain error to HTTP status mapping.
// Scope: Unit Test
// Expected: Each sentinel maps to its documented status, code and retry flag.
// Test Case ID: HTTP-09
func TestRespondDomainError_Mapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
		retry  bool
	}{
		{agreement.ErrNotFound, http.StatusNotFound, "not_found", false},
		{agreement.ErrAlreadyFulfilled, http.StatusConflict, "already_fulfilled", false},
		{capture.ErrPermissionDenied, http.StatusForbidden, "permission_denied", true},
		{capture.ErrUnreadableFile, http.StatusUnprocessableEntity, "unreadable_file", false},
		{fmt.Errorf("%w: failed to read frame: %w", capture.ErrUnreadableFile, context.DeadlineExceeded), http.StatusUnprocessableEntity, "unreadable_file", false},
		{errors.Join(agreement.ErrStoreUnavailable, errors.New("dial tcp")), http.StatusServiceUnavailable, "store_unavailable", true},
		{intake.ValidationErrors{"mobile": "must be 10 digits"}, http.StatusUnprocessableEntity, "validation_failed", false},
		{fulfillment.ErrNotFilled, http.StatusConflict, "not_filled", false},
		{errors.New("boom"), http.StatusInternalServerError, "internal", false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			w := httptest.NewRecorder()
			respondDomainError(w, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)

			assert.Equal(t, tt.status, w.Code)
			resp := decodeBody[errorResponse](t, w)
			assert.Equal(t, tt.code, resp.Code)
			assert.Equal(t, tt.retry, resp.Retry)
		})
	}
}

// TestPurpose: Validates that idle limiters are pruned.
// Scope: Unit Test
// Expected: Only the limiter not seen within the idle window is removed.
// Test Case ID: HTTP-10
func TestRateLimiter_Prune(t *testing.T) {
	now := time.Now()
	rl := NewRateLimiter(1, 1)
	rl.now = func() time.Time { return now.Add(-time.Hour) }
	rl.GetLimiter("10.0.0.1")
	rl.now = func() time.Time { return now }
	rl.GetLimiter("10.0.0.2")

	assert.Equal(t, 1, rl.Prune(time.Minute))
	assert.Len(t, rl.ips, 1)
}

// TestPurpose: Validates that request logs carry route patterns instead of raw paths.
// Scope: Unit Test
// Security: Access keys are bearer secrets and must not appear in logs (CWE-532)
// Expected: The log line names /fill-agreement/{key} and never the key itself.
// Test Case ID: HTTP-11
func TestLoggingMiddleware_RedactsPathParams(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	s := newTestServer(t, Limiters{})
	w := s.do(http.MethodGet, "/fill-agreement/QWERTY", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	logs := buf.String()
	assert.Contains(t, logs, "/fill-agreement/{key}")
	assert.NotContains(t, logs, "QWERTY")
}

// TestPurpose: Validates signing out of every device from one session.
// Scope: Integration Test (HTTP, in-memory store)
// Security: Session Management (CWE-613)
// Expected: Both of the owner's sessions stop working after 204; another owner's session is unaffected.
// Test Case ID: HTTP-12
func TestHTTP_LogoutAll(t *testing.T) {
	s := newTestServer(t, Limiters{})
	laptop := s.login("owner-1")
	phone := s.login("owner-1")
	other := s.login("owner-2")

	w := s.doJSON(http.MethodDelete, "/api/v1/owner/sessions", nil, laptop)
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	for _, c := range []*http.Cookie{laptop, phone} {
		w = s.doJSON(http.MethodGet, "/api/v1/owner/me", nil, c)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}
	w = s.doJSON(http.MethodGet, "/api/v1/owner/me", nil, other)
	assert.Equal(t, http.StatusOK, w.Code)
}
