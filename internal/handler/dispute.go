package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/marketplace/internal/domain/dispute"
)

// OpenDispute opens a dispute on one of the caller's orders.
func (h *Handler) OpenDispute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req dispute.OpenRequest
	err := decodeBody(r, func(d *jx.Decoder, key string) (err error) {
		switch key {
		case "orderId":
			req.OrderID, err = readStr(d)
		case "reason":
			req.Reason, err = readStr(d)
		case "description":
			req.Description, err = readStr(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	dp, err := h.Disputes.Open(ctx, principal(r), req)
	if err != nil {
		writeError(ctx, w, errors.Wrap(err, "open dispute"))
		return
	}
	writeData(w, http.StatusCreated, one(*dp, encodeDispute))
}

// ListDisputes returns the caller's disputes; admins see all of them.
// ?status= narrows the list.
func (h *Handler) ListDisputes(w http.ResponseWriter, r *http.Request) {
	status := dispute.Status(r.URL.Query().Get("status"))
	disputes, err := h.Disputes.List(r.Context(), principal(r), status)
	if err != nil {
		writeError(r.Context(), w, errors.Wrap(err, "list disputes"))
		return
	}
	writeData(w, http.StatusOK, list(disputes, encodeDispute))
}

// GetDispute returns a dispute with its evidence.
func (h *Handler) GetDispute(w http.ResponseWriter, r *http.Request) {
	dp, err := h.Disputes.Get(r.Context(), principal(r), pathParam(r, "id"))
	if err != nil {
		writeError(r.Context(), w, errors.Wrap(err, "get dispute"))
		return
	}
	writeData(w, http.StatusOK, one(*dp, encodeDispute))
}

// AddEvidence attaches an evidence reference to a dispute.
func (h *Handler) AddEvidence(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req dispute.EvidenceRequest
	err := decodeBody(r, func(d *jx.Decoder, key string) (err error) {
		switch key {
		case "fileUrl":
			req.FileURL, err = readStr(d)
		case "description":
			req.Description, err = readStr(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	ev, err := h.Disputes.AddEvidence(ctx, principal(r), pathParam(r, "id"), req)
	if err != nil {
		writeError(ctx, w, errors.Wrap(err, "add evidence"))
		return
	}
	writeData(w, http.StatusCreated, one(*ev, encodeEvidence))
}

// ReviewDispute moves an open dispute under review.
func (h *Handler) ReviewDispute(w http.ResponseWriter, r *http.Request) {
	dp, err := h.Disputes.Review(r.Context(), principal(r), pathParam(r, "id"))
	if err != nil {
		writeError(r.Context(), w, errors.Wrap(err, "review dispute"))
		return
	}
	writeData(w, http.StatusOK, one(*dp, encodeDispute))
}

// ResolveDispute records the resolution of a dispute under review.
func (h *Handler) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resolution, err := decodeText(r, "resolution")
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	dp, err := h.Disputes.Resolve(ctx, principal(r), pathParam(r, "id"), resolution)
	if err != nil {
		writeError(ctx, w, errors.Wrap(err, "resolve dispute"))
		return
	}
	writeData(w, http.StatusOK, one(*dp, encodeDispute))
}

// CloseDispute closes a dispute. The body is optional.
func (h *Handler) CloseDispute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var note string
	if r.ContentLength != 0 {
		var err error
		if note, err = decodeText(r, "note"); err != nil {
			writeError(ctx, w, err)
			return
		}
	}

	dp, err := h.Disputes.Close(ctx, principal(r), pathParam(r, "id"), note)
	if err != nil {
		writeError(ctx, w, errors.Wrap(err, "close dispute"))
		return
	}
	writeData(w, http.StatusOK, one(*dp, encodeDispute))
}

// VerifyEvidence records the verdict on a piece of evidence.
func (h *Handler) VerifyEvidence(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var status string
	err := decodeBody(r, func(d *jx.Decoder, key string) (err error) {
		switch key {
		case "status", "verificationStatus":
			status, err = readStr(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	ev, err := h.Disputes.VerifyEvidence(ctx, principal(r),
		pathParam(r, "id"), pathParam(r, "eid"), dispute.EvidenceStatus(status))
	if err != nil {
		writeError(ctx, w, errors.Wrap(err, "verify evidence"))
		return
	}
	writeData(w, http.StatusOK, one(*ev, encodeEvidence))
}

// decodeText reads a single string field from the request body.
func decodeText(r *http.Request, field string) (string, error) {
	var v string
	err := decodeBody(r, func(d *jx.Decoder, key string) (err error) {
		if key != field {
			return d.Skip()
		}
		v, err = readStr(d)
		return err
	})
	return v, err
}
