package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/marketplace/internal/domain/delivery"
)

// GetCourier returns the calling delivery person.
func (h *Handler) GetCourier(w http.ResponseWriter, r *http.Request) {
	p, err := h.Delivery.Get(r.Context(), principal(r).SubjectID)
	if err != nil {
		writeError(r.Context(), w, errors.Wrap(err, "get delivery person"))
		return
	}
	writeData(w, http.StatusOK, one(*p, encodePerson))
}

// SetCourierStatus moves the calling delivery person online or offline.
func (h *Handler) SetCourierStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var (
		status   delivery.Status
		location string
	)
	err := decodeBody(r, func(d *jx.Decoder, key string) (err error) {
		switch key {
		case "status":
			var s string
			s, err = readStr(d)
			status = delivery.Status(s)
		case "currentLocation", "location":
			location, err = readStr(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	p, err := h.Delivery.SetStatus(ctx, principal(r).SubjectID, status, location)
	if err != nil {
		writeError(ctx, w, errors.Wrap(err, "set delivery status"))
		return
	}
	writeData(w, http.StatusOK, one(*p, encodePerson))
}

// AssignDelivery assigns a delivery person to an order.
func (h *Handler) AssignDelivery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req delivery.AssignRequest
	err := decodeBody(r, func(d *jx.Decoder, key string) (err error) {
		switch key {
		case "orderId":
			req.OrderID, err = readStr(d)
		case "deliveryPersonId":
			req.PersonID, err = readStr(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	o, err := h.Delivery.Assign(ctx, principal(r), req)
	if err != nil {
		writeError(ctx, w, errors.Wrap(err, "assign delivery"))
		return
	}
	writeData(w, http.StatusOK, one(*o, encodeOrder))
}

// UpdateDeliveryStatus lets the assigned delivery person dispatch or
// deliver an order and report their location.
func (h *Handler) UpdateDeliveryStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req delivery.OrderStatusRequest
	err := decodeBody(r, func(d *jx.Decoder, key string) (err error) {
		switch key {
		case "orderId":
			req.OrderID, err = readStr(d)
		case "status":
			req.Status, err = readStr(d)
		case "location", "currentLocation":
			req.Location, err = readStr(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	o, err := h.Delivery.UpdateOrderStatus(ctx, principal(r).SubjectID, req)
	if err != nil {
		writeError(ctx, w, errors.Wrap(err, "update delivery status"))
		return
	}
	writeData(w, http.StatusOK, one(*o, encodeOrder))
}
