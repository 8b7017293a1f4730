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
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/safestay/safestay/internal/observability/logger"
)

// LoggingMiddleware logs one line per request. The path is the matched
// route pattern so access keys and draft ids never reach the logs.
func LoggingMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				attrs := []any{
					logger.RequestID(middleware.GetReqID(r.Context())),
					logger.Method(r.Method),
					logger.Path(routePattern(r)),
					logger.RemoteAddr(getClientIP(r)),
					logger.UserAgent(r.UserAgent()),
					logger.StatusCode(ww.Status()),
					logger.Duration(time.Since(start).Milliseconds()),
				}

				switch status := ww.Status(); {
				case status >= 500:
					slog.ErrorContext(r.Context(), "http_request", attrs...)
				case status == http.StatusTooManyRequests:
					slog.WarnContext(r.Context(), "http_request", attrs...)
				default:
					slog.InfoContext(r.Context(), "http_request", attrs...)
				}
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

// AuthMiddleware resolves the owner session cookie. Handlers read the owner
// from the session in context; there is no other source of identity.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID := h.getSessionFromCookie(r)
		if sessionID == "" {
			respondError(w, http.StatusUnauthorized, "not authenticated")
			return
		}

		sess, err := h.sessionService.Get(r.Context(), sessionID)
		if err != nil {
			h.clearSessionCookie(w)
			respondError(w, http.StatusUnauthorized, "invalid or expired session")
			return
		}

		if err := h.sessionService.Refresh(r.Context(), sessionID); err != nil {
			slog.ErrorContext(r.Context(), "failed to refresh session", logger.Error(err))
		}

		next.ServeHTTP(w, r.WithContext(withSession(r.Context(), sess)))
	})
}

// CSRFMiddleware protects cookie-authenticated state-changing requests by
// requiring the X-CSRF-Token header, which a cross-site form cannot set.
func (h *Handler) CSRFMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions || r.Method == http.MethodTrace {
			next.ServeHTTP(w, r)
			return
		}

		if r.Header.Get("X-CSRF-Token") == "" {
			slog.WarnContext(r.Context(), "missing CSRF token header", logger.Method(r.Method), logger.Path(r.URL.Path))
			respondError(w, http.StatusForbidden, "X-CSRF-Token header is required for state-changing operations")
			return
		}

		next.ServeHTTP(w, r)
	})
}
