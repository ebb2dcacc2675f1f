package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/marketplace/internal/domain/fault"
)

// writeData writes a success envelope. data encodes the payload; a nil
// data omits the field.
func writeData(w http.ResponseWriter, status int, data func(e *jx.Encoder)) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("success", func(e *jx.Encoder) { e.Bool(true) })
		if data != nil {
			e.Field("data", data)
		}
	})
	writeJSON(w, status, e.Bytes())
}

// writeMessage writes a success envelope with a message and no data.
func writeMessage(w http.ResponseWriter, status int, msg string) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("success", func(e *jx.Encoder) { e.Bool(true) })
		e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
	})
	writeJSON(w, status, e.Bytes())
}

// writeError classifies err and writes a failure envelope. Internal errors
// are logged and replaced with a generic message.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	kind := fault.KindOf(err)
	status := statusFor(kind)
	if kind == fault.Internal {
		zctx.From(ctx).Error("Request failed", zap.Error(err))
	}

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("success", func(e *jx.Encoder) { e.Bool(false) })
		e.Field("error", func(e *jx.Encoder) { e.Str(kind.String()) })
		e.Field("message", func(e *jx.Encoder) { e.Str(fault.Message(err)) })
	})
	writeJSON(w, status, e.Bytes())
}

func statusFor(kind fault.Kind) int {
	switch kind {
	case fault.NotFound:
		return http.StatusNotFound
	case fault.Validation:
		return http.StatusBadRequest
	case fault.Conflict:
		return http.StatusConflict
	case fault.LimitExceeded:
		return http.StatusUnprocessableEntity
	case fault.Unauthorized:
		return http.StatusUnauthorized
	case fault.Forbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// NotFound answers unknown routes with the error envelope.
func NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(r.Context(), w, fault.New(fault.NotFound, "route not found"))
}

// MethodNotAllowed answers known routes requested with the wrong method.
func MethodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("success", func(e *jx.Encoder) { e.Bool(false) })
		e.Field("error", func(e *jx.Encoder) { e.Str("method_not_allowed") })
		e.Field("message", func(e *jx.Encoder) { e.Str("method not allowed") })
	})
	writeJSON(w, http.StatusMethodNotAllowed, e.Bytes())
}
