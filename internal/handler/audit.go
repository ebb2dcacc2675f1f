package handler

import (
	"net/http"

	"github.com/go-faster/errors"
)

const defaultAuditPage = 100

// ListAuditLog returns the newest system log entries.
func (h *Handler) ListAuditLog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, err := queryInt(r, "limit", defaultAuditPage)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	if limit == 0 || limit > 1000 {
		limit = defaultAuditPage
	}

	entries, err := h.Audit.List(ctx, limit)
	if err != nil {
		writeError(ctx, w, errors.Wrap(err, "list audit log"))
		return
	}
	writeData(w, http.StatusOK, list(entries, encodeAuditEntry))
}
