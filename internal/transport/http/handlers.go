// @title SafeStay API
// @version 1.0.0
// @description Rental agreement issuance and tenant intake

// @BasePath /api/v1

// @securityDefinitions.apikey CookieAuth
// @in cookie
// @name safestay_session

package http

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/safestay/safestay/internal/agreement"
	"github.com/safestay/safestay/internal/audit"
	"github.com/safestay/safestay/internal/capture"
	"github.com/safestay/safestay/internal/contract"
	"github.com/safestay/safestay/internal/fulfillment"
	"github.com/safestay/safestay/internal/identity"
	"github.com/safestay/safestay/internal/intake"
	"github.com/safestay/safestay/internal/observability/logger"
	"github.com/safestay/safestay/internal/session"
	"github.com/safestay/safestay/internal/tenant"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Handler holds HTTP handlers and dependencies
type Handler struct {
	sessionService   *session.Service
	verifier         *identity.TokenVerifier
	agreementService *agreement.Service
	coordinator      *fulfillment.Coordinator
	drafts           *intake.DraftStore
	renderer         *contract.Renderer
	exports          *contract.ExportStore // nil when archiving is disabled
	auditLogger      audit.Logger
	sessionConfig    SessionConfig
	maxUploadBytes   int64
}

// SessionConfig holds session cookie configuration
type SessionConfig struct {
	CookieName     string
	CookieDomain   string
	CookiePath     string
	CookieSecure   bool
	CookieHTTPOnly bool
	CookieSameSite http.SameSite
}

// ParseSameSite maps a configured SameSite name to its cookie mode
func ParseSameSite(name string) http.SameSite {
	switch strings.ToLower(name) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

// NewHandler creates a new HTTP handler
func NewHandler(
	sessionService *session.Service,
	verifier *identity.TokenVerifier,
	agreementService *agreement.Service,
	coordinator *fulfillment.Coordinator,
	drafts *intake.DraftStore,
	renderer *contract.Renderer,
	exports *contract.ExportStore,
	auditLogger audit.Logger,
	sessionConfig SessionConfig,
	maxUploadBytes int64,
) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = capture.DefaultMaxFileBytes
	}
	return &Handler{
		sessionService:   sessionService,
		verifier:         verifier,
		agreementService: agreementService,
		coordinator:      coordinator,
		drafts:           drafts,
		renderer:         renderer,
		exports:          exports,
		auditLogger:      auditLogger,
		sessionConfig:    sessionConfig,
		maxUploadBytes:   maxUploadBytes,
	}
}

// Limiters groups the per-IP rate limiters
type Limiters struct {
	Global *RateLimiter
	Lookup *RateLimiter // Access key resolution only
}

// NewRouter creates a new HTTP router. static may be nil when no SPA bundle
// is deployed.
func NewRouter(h *Handler, limiters Limiters, static fs.FS) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RateLimitMiddleware(limiters.Global))
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", h.HealthCheck)

	// Link surface: the tenant opens the link and the SPA resolves the key
	r.With(RateLimitMiddleware(limiters.Lookup)).Get("/fill-agreement/{key}", h.FillAgreementLink(static))

	r.Route("/api/v1", func(r chi.Router) {
		// Owner session: exchange an identity token for a cookie session
		r.Post("/owner/session", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.AuthMiddleware)
			r.Use(h.CSRFMiddleware)

			r.Delete("/owner/session", h.Logout)
			r.Delete("/owner/sessions", h.LogoutAll)
			r.Get("/owner/me", h.GetCurrentOwner)

			r.Route("/agreements", func(r chi.Router) {
				r.Post("/", h.IssueAgreement)
				r.Get("/", h.ListAgreements)
				r.Get("/{agreementID}", h.GetAgreement)
				r.Get("/{agreementID}/contract.pdf", h.ExportOwnerContract)
			})
		})

		// Tenant intake is anonymous; the access key and then the draft id
		// are the only credentials.
		r.Route("/intake", func(r chi.Router) {
			r.With(RateLimitMiddleware(limiters.Lookup)).Post("/", h.OpenIntake)

			r.Route("/drafts/{draftID}", func(r chi.Router) {
				r.Get("/", h.GetDraft)
				r.Delete("/", h.DiscardDraft)
				r.Put("/fields", h.UpdateFields)
				r.Post("/documents/{slot}", h.AttachDocument)
				r.Delete("/documents/{slot}", h.RemoveDocument)
				r.Post("/selfie/start", h.StartSelfie)
				r.Post("/selfie/frame", h.CaptureSelfie)
				r.Post("/selfie/retake", h.RetakeSelfie)
				r.Post("/selfie/cancel", h.CancelSelfie)
				r.Post("/submit", h.SubmitDraft)
				r.Get("/contract.pdf", h.ExportTenantContract)
			})
		})
	})

	if static != nil {
		r.Handle("/*", SPAHandler{StaticFS: static})
	}

	return r
}

// HealthCheck returns the health status
// @Summary Health Check
// @Tags System
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "safestay",
	})
}

// errorResponse is the body of every error reply
type errorResponse struct {
	Error  string            `json:"error"`
	Code   string            `json:"code"`
	Retry  bool              `json:"retry"`
	Fields map[string]string `json:"fields,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{
		Error: message,
		Code:  codeForStatus(status),
	})
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthenticated"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusTooManyRequests:
		return "rate_limited"
	default:
		return "internal"
	}
}

// respondDomainError maps a domain error to its HTTP reply. Unmapped errors
// are logged and reported as 500.
func respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	resp := errorResponse{Error: err.Error()}
	status := http.StatusInternalServerError

	var verrs intake.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		status, resp.Code, resp.Error = http.StatusUnprocessableEntity, "validation_failed", "submission is incomplete or invalid"
		resp.Fields = verrs
	case errors.Is(err, agreement.ErrStoreUnavailable), errors.Is(err, tenant.ErrStoreUnavailable):
		status, resp.Code, resp.Retry = http.StatusServiceUnavailable, "store_unavailable", true
		resp.Error = "storage is temporarily unavailable, please try again"
	case errors.Is(err, agreement.ErrKeySpaceExhausted):
		status, resp.Code, resp.Retry = http.StatusServiceUnavailable, "key_space_exhausted", true
	case errors.Is(err, agreement.ErrNotFound):
		status, resp.Code = http.StatusNotFound, "not_found"
		resp.Error = "no agreement matches this key"
	case errors.Is(err, intake.ErrDraftNotFound), errors.Is(err, tenant.ErrRecordNotFound):
		status, resp.Code = http.StatusNotFound, "not_found"
	case errors.Is(err, agreement.ErrAlreadyFulfilled):
		status, resp.Code = http.StatusConflict, "already_fulfilled"
		resp.Error = "this agreement has already been completed"
	case errors.Is(err, intake.ErrDraftSubmitted):
		status, resp.Code = http.StatusConflict, "draft_submitted"
	case errors.Is(err, fulfillment.ErrNotFilled):
		status, resp.Code = http.StatusConflict, "not_filled"
	case errors.Is(err, capture.ErrPermissionDenied):
		status, resp.Code, resp.Retry = http.StatusForbidden, "permission_denied", true
		resp.Error = "camera permission was denied"
	case errors.Is(err, capture.ErrCaptureCancelled):
		status, resp.Code, resp.Retry = http.StatusConflict, "capture_cancelled", true
	case errors.Is(err, capture.ErrCaptureBusy), errors.Is(err, capture.ErrInvalidState):
		status, resp.Code = http.StatusConflict, "capture_state"
	case errors.Is(err, capture.ErrFileTooLarge):
		status, resp.Code = http.StatusRequestEntityTooLarge, "file_too_large"
	case errors.Is(err, capture.ErrUnreadableFile), errors.Is(err, capture.ErrNotAnImage), errors.Is(err, capture.ErrMalformedDataURL):
		status, resp.Code = http.StatusUnprocessableEntity, "unreadable_file"
	case errors.Is(err, intake.ErrInvalidSlot), errors.Is(err, intake.ErrLiveOnly), errors.Is(err, agreement.ErrInvalidDraft):
		status, resp.Code = http.StatusBadRequest, "bad_request"
	case errors.Is(err, session.ErrSessionInvalid), errors.Is(err, session.ErrSessionExpired):
		status, resp.Code = http.StatusUnauthorized, "unauthenticated"
	default:
		resp.Code, resp.Error = "internal", "internal error"
	}

	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed",
			logger.Path(r.URL.Path),
			logger.StatusCode(status),
			logger.Error(err),
		)
	}
	respondJSON(w, status, resp)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, sessionID string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.sessionConfig.CookieName,
		Value:    sessionID,
		Path:     h.sessionConfig.CookiePath,
		Domain:   h.sessionConfig.CookieDomain,
		Expires:  expires,
		Secure:   h.sessionConfig.CookieSecure,
		HttpOnly: h.sessionConfig.CookieHTTPOnly,
		SameSite: h.sessionConfig.CookieSameSite,
	})
}

func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:   h.sessionConfig.CookieName,
		Value:  "",
		Path:   h.sessionConfig.CookiePath,
		Domain: h.sessionConfig.CookieDomain,
		MaxAge: -1,
	})
}

func (h *Handler) getSessionFromCookie(r *http.Request) string {
	cookie, err := r.Cookie(h.sessionConfig.CookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// getClientIP returns the first X-Forwarded-For hop, else the peer address
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
