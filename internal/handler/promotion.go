package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/marketplace/internal/domain/coupon"
	"github.com/xenking/marketplace/internal/domain/promotion"
)

// CreatePromotion adds a draft promotion.
func (h *Handler) CreatePromotion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req promotion.CreateRequest
	err := decodeBody(r, func(d *jx.Decoder, key string) (err error) {
		switch key {
		case "name":
			req.Name, err = readStr(d)
		case "discountType":
			var s string
			s, err = readStr(d)
			req.DiscountType = coupon.DiscountType(s)
		case "priority":
			req.Priority, err = readInt(d)
		case "startDate":
			req.StartDate, err = readTime(d, key)
		case "endDate":
			req.EndDate, err = readTime(d, key)
		case "condition":
			req.Condition, err = readStr(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	p, err := h.Promotions.Create(ctx, principal(r).SubjectID, req)
	if err != nil {
		writeError(ctx, w, errors.Wrap(err, "create promotion"))
		return
	}
	writeData(w, http.StatusCreated, one(*p, encodePromotion))
}

// ListPromotions returns all promotions.
func (h *Handler) ListPromotions(w http.ResponseWriter, r *http.Request) {
	promotions, err := h.Promotions.List(r.Context())
	if err != nil {
		writeError(r.Context(), w, errors.Wrap(err, "list promotions"))
		return
	}
	writeData(w, http.StatusOK, list(promotions, encodePromotion))
}

// GetPromotion returns a promotion by ID.
func (h *Handler) GetPromotion(w http.ResponseWriter, r *http.Request) {
	p, err := h.Promotions.Get(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeError(r.Context(), w, errors.Wrap(err, "get promotion"))
		return
	}
	writeData(w, http.StatusOK, one(*p, encodePromotion))
}

// LinkPromotionProduct attaches a product to a promotion with its own
// discount value and usage cap.
func (h *Handler) LinkPromotionProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req promotion.LinkRequest
	err := decodeBody(r, func(d *jx.Decoder, key string) (err error) {
		switch key {
		case "productId":
			req.ProductID, err = readStr(d)
		case "discountValue":
			req.DiscountValue, err = readDecimal(d, key)
		case "maxUsage":
			req.MaxUsage, err = readInt(d)
		case "startDate":
			req.StartDate, err = readTime(d, key)
		case "endDate":
			req.EndDate, err = readTime(d, key)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	l, err := h.Promotions.LinkProduct(ctx, principal(r).SubjectID, pathParam(r, "id"), req)
	if err != nil {
		writeError(ctx, w, errors.Wrap(err, "link promotion product"))
		return
	}
	writeData(w, http.StatusOK, one(*l, encodeLink))
}

// TransitionPromotion applies activate, pause, expire or cancel.
func (h *Handler) TransitionPromotion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	action := promotion.Action(pathParam(r, "action"))

	p, err := h.Promotions.Transition(ctx, principal(r).SubjectID, pathParam(r, "id"), action)
	if err != nil {
		writeError(ctx, w, errors.Wrapf(err, "%s promotion", action))
		return
	}
	writeData(w, http.StatusOK, one(*p, encodePromotion))
}
