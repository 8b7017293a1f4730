package http

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/safestay/safestay/internal/audit"
	"github.com/safestay/safestay/internal/contract"
	"github.com/safestay/safestay/internal/fulfillment"
	"github.com/safestay/safestay/internal/observability/logger"
)

// writeContract renders rc, archives the PDF when an export store is
// configured, and streams it as a download. actor is empty for tenants.
func (h *Handler) writeContract(w http.ResponseWriter, r *http.Request, rc *fulfillment.RenderableContract, actor string) {
	doc, err := h.renderer.Render(rc)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := contract.ExportPDF(doc, &buf); err != nil {
		respondDomainError(w, r, fmt.Errorf("failed to export contract: %w", err))
		return
	}

	filename := contract.ExportFilename(rc.Tenant.DisplayName())
	if h.exports != nil {
		if _, err := h.exports.Put(r.Context(), rc.Agreement.ID, filename, buf.Bytes()); err != nil {
			// The download still succeeds; the archive copy is best effort
			slog.ErrorContext(r.Context(), "failed to archive contract",
				logger.AgreementID(rc.Agreement.ID),
				logger.Error(err),
			)
		}
	}

	h.auditLogger.Log(r.Context(), audit.Event{
		Type:      audit.TypeContractExported,
		ActorID:   actor,
		Resource:  "agreement",
		IPAddress: getClientIP(r),
		Metadata:  map[string]any{"agreement_id": rc.Agreement.ID, "pages": contract.PageCount(doc)},
	})

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		slog.WarnContext(r.Context(), "failed to write contract download", logger.Error(err))
	}
}
