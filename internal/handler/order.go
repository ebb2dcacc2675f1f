package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/marketplace/internal/domain/auth"
	"github.com/xenking/marketplace/internal/domain/fault"
	"github.com/xenking/marketplace/internal/domain/order"
)

const (
	// IdempotencyKeyHeader lets clients retry checkout safely.
	IdempotencyKeyHeader = "Idempotency-Key"
	// ReplayedHeader is set on responses served from an earlier request.
	ReplayedHeader = "Idempotent-Replayed"

	maxIdempotencyKeyLen     = 255
	idempotencySettleTimeout = 2 * time.Second
)

// PlaceOrder runs checkout for the calling user. With an Idempotency-Key
// header, a repeated request returns the order created by the first one.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p := principal(r)
	if err := p.Require(auth.RoleUser); err != nil {
		writeError(ctx, w, err)
		return
	}

	req := order.PlaceOrderRequest{UserID: p.SubjectID}
	err := decodeBody(r, func(d *jx.Decoder, key string) (err error) {
		switch key {
		case "items":
			return d.Arr(func(d *jx.Decoder) error {
				var item order.ItemRequest
				if err := d.Obj(func(d *jx.Decoder, key string) (err error) {
					switch key {
					case "productId":
						item.ProductID, err = readStr(d)
					case "quantity":
						item.Quantity, err = readInt(d)
					default:
						err = d.Skip()
					}
					return err
				}); err != nil {
					return err
				}
				req.Items = append(req.Items, item)
				return nil
			})
		case "couponCode":
			req.CouponCode, err = readStr(d)
		case "deliveryLocation":
			req.DeliveryLocation, err = readStr(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	key := r.Header.Get(IdempotencyKeyHeader)
	if key == "" || h.Idempotency == nil {
		h.placeOrder(ctx, w, req)
		return
	}
	if len(key) > maxIdempotencyKeyLen {
		writeError(ctx, w, fault.New(fault.Validation, "idempotency key is too long"))
		return
	}

	scoped := "order:" + p.SubjectID + ":" + key
	orderID, claimed, err := h.Idempotency.Claim(ctx, scoped)
	if err != nil {
		writeError(ctx, w, errors.Wrap(err, "claim idempotency key"))
		return
	}
	if !claimed {
		o, err := h.Orders.Get(ctx, p, orderID)
		if err != nil {
			writeError(ctx, w, errors.Wrap(err, "replay order"))
			return
		}
		w.Header().Set(ReplayedHeader, "true")
		writeData(w, http.StatusOK, func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("order", one(*o, encodeOrder))
			})
		})
		return
	}

	o := h.placeOrder(ctx, w, req)

	// The key must settle even when the client hung up mid-checkout,
	// otherwise its retries see a pending claim until the key expires.
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), idempotencySettleTimeout)
	defer cancel()
	if o == nil {
		if err := h.Idempotency.Release(settleCtx, scoped); err != nil {
			zctx.From(ctx).Warn("Release idempotency key", zap.Error(err))
		}
		return
	}
	if err := h.Idempotency.Complete(settleCtx, scoped, o.ID); err != nil {
		zctx.From(ctx).Warn("Complete idempotency key", zap.String("order_id", o.ID), zap.Error(err))
	}
}

// placeOrder writes the checkout response and returns the order on success.
func (h *Handler) placeOrder(ctx context.Context, w http.ResponseWriter, req order.PlaceOrderRequest) *order.Order {
	res, err := h.Orders.PlaceOrder(ctx, req)
	if err != nil {
		writeError(ctx, w, errors.Wrap(err, "place order"))
		return nil
	}
	writeData(w, http.StatusCreated, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("order", one(*res.Order, encodeOrder))
			e.Field("products", list(res.Products, h.encodeProduct))
		})
	})
	return res.Order
}

// GetOrder returns an order visible to the caller.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Orders.Get(r.Context(), principal(r), pathParam(r, "id"))
	if err != nil {
		writeError(r.Context(), w, errors.Wrap(err, "get order"))
		return
	}
	writeData(w, http.StatusOK, one(*o, encodeOrder))
}

// ListOrders returns the caller's orders, newest first.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	orders, err := h.Orders.List(ctx, principal(r), limit, offset)
	if err != nil {
		writeError(ctx, w, errors.Wrap(err, "list orders"))
		return
	}
	writeData(w, http.StatusOK, list(orders, encodeOrder))
}

// TransitionOrder applies {action} or moves the order to {status}.
func (h *Handler) TransitionOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req := order.TransitionRequest{OrderID: pathParam(r, "id")}
	var status string
	err := decodeBody(r, func(d *jx.Decoder, key string) (err error) {
		switch key {
		case "action":
			var s string
			s, err = readStr(d)
			req.Action = order.Action(s)
		case "status":
			status, err = readStr(d)
		case "reason":
			req.Reason, err = readStr(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	if req.Action == "" {
		target, err := order.ParseStatus(status)
		if err != nil {
			writeError(ctx, w, err)
			return
		}
		if req.Action, err = order.ActionFor(target); err != nil {
			writeError(ctx, w, err)
			return
		}
	}

	o, err := h.Orders.Transition(ctx, principal(r), req)
	if err != nil {
		writeError(ctx, w, errors.Wrap(err, "transition order"))
		return
	}
	writeData(w, http.StatusOK, one(*o, encodeOrder))
}

// UpdatePayment moves the order's payment status.
func (h *Handler) UpdatePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var status order.PaymentStatus
	err := decodeBody(r, func(d *jx.Decoder, key string) error {
		if key != "status" && key != "paymentStatus" {
			return d.Skip()
		}
		s, err := readStr(d)
		status = order.PaymentStatus(s)
		return err
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	o, err := h.Orders.UpdatePaymentStatus(ctx, principal(r), pathParam(r, "id"), status)
	if err != nil {
		writeError(ctx, w, errors.Wrap(err, "update payment"))
		return
	}
	writeData(w, http.StatusOK, one(*o, encodeOrder))
}
