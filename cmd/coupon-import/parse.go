package main

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace/internal/domain/coupon"
)

// columns is the required header of an import file, in order.
var columns = []string{
	"code", "discount_type", "value", "min_purchase", "max_discount",
	"usage_limit", "per_user_limit", "start_date", "end_date", "description",
}

// rowError reports a malformed row without aborting the file.
type rowError struct {
	file string
	line int
	err  error
}

func (e *rowError) Error() string {
	return e.file + ":" + strconv.Itoa(e.line) + ": " + e.err.Error()
}

func (e *rowError) Unwrap() error { return e.err }

// parseRow converts one CSV record into a coupon request. Empty optional
// fields take their zero value; dates are RFC 3339 or YYYY-MM-DD.
func parseRow(rec []string) (coupon.CreateRequest, error) {
	if len(rec) != len(columns) {
		return coupon.CreateRequest{}, errors.Errorf("expected %d fields, got %d", len(columns), len(rec))
	}
	req := coupon.CreateRequest{
		Code:         strings.TrimSpace(rec[0]),
		DiscountType: coupon.DiscountType(strings.TrimSpace(rec[1])),
		Description:  strings.TrimSpace(rec[9]),
	}

	var err error
	if req.Value, err = parseDecimal(rec[2]); err != nil {
		return req, errors.Wrap(err, "value")
	}
	if req.MinPurchase, err = parseDecimal(rec[3]); err != nil {
		return req, errors.Wrap(err, "min_purchase")
	}
	if req.MaxDiscount, err = parseDecimal(rec[4]); err != nil {
		return req, errors.Wrap(err, "max_discount")
	}
	if req.UsageLimit, err = parseInt(rec[5]); err != nil {
		return req, errors.Wrap(err, "usage_limit")
	}
	if req.PerUserLimit, err = parseInt(rec[6]); err != nil {
		return req, errors.Wrap(err, "per_user_limit")
	}
	if req.StartDate, err = parseDate(rec[7]); err != nil {
		return req, errors.Wrap(err, "start_date")
	}
	if req.EndDate, err = parseDate(rec[8]); err != nil {
		return req, errors.Wrap(err, "end_date")
	}
	return req, nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func parseInt(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, errors.Errorf("invalid date %q", s)
	}
	return t.UTC(), nil
}

// readCoupons decodes every row of r. Malformed rows are passed to bad and
// skipped; a wrong header or an I/O error fails the whole file.
func readCoupons(ctx context.Context, name string, r io.Reader, now time.Time, bad func(error)) ([]*coupon.Coupon, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, errors.Wrapf(err, "read header of %s", name)
	}
	for i, col := range columns {
		if i >= len(header) || strings.TrimSpace(strings.ToLower(header[i])) != col {
			return nil, errors.Errorf("%s: header must be %s", name, strings.Join(columns, ","))
		}
	}

	var out []*coupon.Coupon
	for line := 2; ; line++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				bad(&rowError{file: name, line: line, err: err})
				continue
			}
			return nil, errors.Wrapf(err, "read %s", name)
		}
		req, err := parseRow(rec)
		if err == nil {
			var c *coupon.Coupon
			if c, err = coupon.Build(req, now); err == nil {
				out = append(out, c)
				continue
			}
		}
		bad(&rowError{file: name, line: line, err: err})
	}
}

// readFile opens path and decodes it, decompressing .gz files with pgzip.
func readFile(ctx context.Context, path string, now time.Time, bad func(error)) ([]*coupon.Coupon, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrapf(err, "create gzip reader for %s", path)
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}
	return readCoupons(ctx, path, r, now, bad)
}
