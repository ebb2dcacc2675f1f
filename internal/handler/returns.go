package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/marketplace/internal/domain/returns"
)

// RequestReturn files a return for a delivered order of the caller.
func (h *Handler) RequestReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req returns.ReturnRequest
	err := decodeBody(r, func(d *jx.Decoder, key string) (err error) {
		switch key {
		case "orderId":
			req.OrderID, err = readStr(d)
		case "reason":
			req.Reason, err = readStr(d)
		case "amount":
			req.Amount, err = readDecimal(d, key)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	ret, err := h.Returns.RequestReturn(ctx, principal(r), req)
	if err != nil {
		writeError(ctx, w, errors.Wrap(err, "request return"))
		return
	}
	writeData(w, http.StatusCreated, one(*ret, encodeReturn))
}

// ListReturns returns the caller's return requests; admins see all of
// them. ?status= narrows the list.
func (h *Handler) ListReturns(w http.ResponseWriter, r *http.Request) {
	status := returns.Status(r.URL.Query().Get("status"))
	rets, err := h.Returns.List(r.Context(), principal(r), status)
	if err != nil {
		writeError(r.Context(), w, errors.Wrap(err, "list returns"))
		return
	}
	writeData(w, http.StatusOK, list(rets, encodeReturn))
}

// GetReturn returns a return request with its refunds.
func (h *Handler) GetReturn(w http.ResponseWriter, r *http.Request) {
	ret, err := h.Returns.Get(r.Context(), principal(r), pathParam(r, "id"))
	if err != nil {
		writeError(r.Context(), w, errors.Wrap(err, "get return"))
		return
	}
	writeData(w, http.StatusOK, one(*ret, encodeReturn))
}

// TransitionReturn approves, rejects or completes a return.
func (h *Handler) TransitionReturn(w http.ResponseWriter, r *http.Request) {
	action := returns.Action(pathParam(r, "action"))
	ret, err := h.Returns.Transition(r.Context(), principal(r), pathParam(r, "id"), action)
	if err != nil {
		writeError(r.Context(), w, errors.Wrapf(err, "%s return", action))
		return
	}
	writeData(w, http.StatusOK, one(*ret, encodeReturn))
}

// CreateRefund adds a refund to an approved return.
func (h *Handler) CreateRefund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req returns.RefundRequest
	err := decodeBody(r, func(d *jx.Decoder, key string) (err error) {
		switch key {
		case "amount":
			req.Amount, err = readDecimal(d, key)
		case "method":
			req.Method, err = readStr(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	ref, err := h.Returns.CreateRefund(ctx, principal(r), pathParam(r, "id"), req)
	if err != nil {
		writeError(ctx, w, errors.Wrap(err, "create refund"))
		return
	}
	writeData(w, http.StatusCreated, one(*ref, encodeRefund))
}

// TransitionRefund processes, completes or fails a refund.
func (h *Handler) TransitionRefund(w http.ResponseWriter, r *http.Request) {
	action := returns.RefundAction(pathParam(r, "action"))
	ref, err := h.Returns.TransitionRefund(r.Context(), principal(r), pathParam(r, "id"), action)
	if err != nil {
		writeError(r.Context(), w, errors.Wrapf(err, "%s refund", action))
		return
	}
	writeData(w, http.StatusOK, one(*ref, encodeRefund))
}
