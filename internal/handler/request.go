package handler

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace/internal/domain/fault"
)

const maxBodySize = 1 << 20

// decodeBody reads the request body as a JSON object, handing every key to
// field. Unknown keys must be skipped by field.
func decodeBody(r *http.Request, field func(d *jx.Decoder, key string) error) error {
	if r.Body == nil || r.Body == http.NoBody {
		return fault.New(fault.Validation, "request body is required")
	}
	d := jx.Decode(io.LimitReader(r.Body, maxBodySize), 4096)
	if err := d.Obj(field); err != nil {
		var ke fault.Kinded
		if errors.As(err, &ke) {
			return err
		}
		return fault.Errorf(fault.Validation, "invalid request body: %v", err)
	}
	return nil
}

func readStr(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

func readInt(d *jx.Decoder) (int, error) {
	if d.Next() == jx.Null {
		return 0, d.Null()
	}
	return d.Int()
}

// readDecimal accepts a JSON number or a numeric string.
func readDecimal(d *jx.Decoder, key string) (decimal.Decimal, error) {
	var s string
	switch d.Next() {
	case jx.Null:
		return decimal.Zero, d.Null()
	case jx.String:
		v, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		s = v
	default:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		s = n.String()
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fault.Errorf(fault.Validation, "%s must be a number", key)
	}
	return v, nil
}

// readTime parses an RFC 3339 timestamp. null yields the zero time.
func readTime(d *jx.Decoder, key string) (time.Time, error) {
	s, err := readStr(d)
	if err != nil || s == "" {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fault.Errorf(fault.Validation, "%s must be an RFC 3339 timestamp", key)
	}
	return t, nil
}

// queryInt reads a non-negative integer query parameter.
func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fault.Errorf(fault.Validation, "%s must be a non-negative integer", name)
	}
	return n, nil
}
