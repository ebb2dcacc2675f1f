package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/marketplace/internal/domain/auth"
	"github.com/xenking/marketplace/internal/domain/coupon"
)

// ValidateCoupon reports the discount a coupon grants for an amount without
// consuming it.
func (h *Handler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req coupon.ValidateRequest
	err := decodeBody(r, func(d *jx.Decoder, key string) (err error) {
		switch key {
		case "code":
			req.Code, err = readStr(d)
		case "amount":
			req.Amount, err = readDecimal(d, key)
		case "userId":
			req.UserID, err = readStr(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	if p, ok := auth.FromContext(ctx); ok && p.Role == auth.RoleUser && req.UserID == "" {
		req.UserID = p.SubjectID
	}
	if req.Code == "" {
		writeError(ctx, w, coupon.ErrNotFound)
		return
	}

	res, err := h.Validator.Validate(ctx, req)
	if err != nil {
		writeError(ctx, w, errors.Wrap(err, "validate coupon"))
		return
	}

	writeData(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("valid", func(e *jx.Encoder) { e.Bool(true) })
			money(e, "discount", res.Discount)
			money(e, "finalAmount", req.Amount.Sub(res.Discount))
			e.Field("coupon", one(*res.Coupon, encodeCoupon))
		})
	})
}

// CreateCoupon adds a coupon.
func (h *Handler) CreateCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req coupon.CreateRequest
	err := decodeBody(r, func(d *jx.Decoder, key string) (err error) {
		switch key {
		case "code":
			req.Code, err = readStr(d)
		case "discountType":
			var s string
			s, err = readStr(d)
			req.DiscountType = coupon.DiscountType(s)
		case "value":
			req.Value, err = readDecimal(d, key)
		case "minPurchase":
			req.MinPurchase, err = readDecimal(d, key)
		case "maxDiscount":
			req.MaxDiscount, err = readDecimal(d, key)
		case "usageLimit":
			req.UsageLimit, err = readInt(d)
		case "perUserLimit":
			req.PerUserLimit, err = readInt(d)
		case "startDate":
			req.StartDate, err = readTime(d, key)
		case "endDate":
			req.EndDate, err = readTime(d, key)
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

	c, err := h.Coupons.Create(ctx, principal(r).SubjectID, req)
	if err != nil {
		writeError(ctx, w, errors.Wrap(err, "create coupon"))
		return
	}
	writeData(w, http.StatusCreated, one(*c, encodeCoupon))
}

// ListCoupons returns all coupons.
func (h *Handler) ListCoupons(w http.ResponseWriter, r *http.Request) {
	coupons, err := h.Coupons.List(r.Context())
	if err != nil {
		writeError(r.Context(), w, errors.Wrap(err, "list coupons"))
		return
	}
	writeData(w, http.StatusOK, list(coupons, encodeCoupon))
}

// SetCouponStatus activates or deactivates a coupon.
func (h *Handler) SetCouponStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var status coupon.Status
	err := decodeBody(r, func(d *jx.Decoder, key string) error {
		if key != "status" {
			return d.Skip()
		}
		s, err := readStr(d)
		status = coupon.Status(s)
		return err
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	code := pathParam(r, "code")
	if err := h.Coupons.SetStatus(ctx, principal(r).SubjectID, code, status); err != nil {
		writeError(ctx, w, errors.Wrap(err, "set coupon status"))
		return
	}
	writeMessage(w, http.StatusOK, "coupon "+coupon.NormalizeCode(code)+" is now "+string(status))
}
