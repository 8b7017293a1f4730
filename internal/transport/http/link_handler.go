package http

import (
	"io/fs"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/safestay/safestay/internal/agreement"
)

// FillAgreementLink serves the shareable intake link. Keys are
// case-insensitive, so any other spelling redirects to the upper-case
// canonical path before the form is served.
func (h *Handler) FillAgreementLink(static fs.FS) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := chi.URLParam(r, "key")
		key := agreement.NormalizeKey(raw)

		if !agreement.ValidKeyFormat(key) {
			respondError(w, http.StatusNotFound, "no agreement matches this key")
			return
		}
		if raw != key {
			http.Redirect(w, r, "/fill-agreement/"+key, http.StatusPermanentRedirect)
			return
		}

		if static != nil {
			SPAHandler{StaticFS: static}.serveIndex(w)
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{
			"access_key": key,
			"intake_url": "/api/v1/intake",
		})
	}
}
