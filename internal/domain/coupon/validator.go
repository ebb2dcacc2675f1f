package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/xenking/marketplace/internal/domain/fault"
)

// ErrUserRequired is returned when a coupon with a per-user limit is
// checked without a user.
var ErrUserRequired = fault.New(fault.Validation, "userId is required for this coupon")

// ValidateRequest is the input of a coupon check.
type ValidateRequest struct {
	Code string
	// Amount is the pre-discount subtotal.
	Amount decimal.Decimal
	UserID string
}

// Result is the outcome of a successful coupon check.
type Result struct {
	Discount decimal.Decimal
	Coupon   *Coupon
}

// Validator checks coupon eligibility and computes discounts.
type Validator struct {
	repo        Repository
	now         func() time.Time
	validations metric.Int64Counter
}

// NewValidator creates a Validator backed by repo. Outcomes are counted on
// the given meter.
func NewValidator(repo Repository, meter metric.Meter) *Validator {
	counter, err := meter.Int64Counter("marketplace.coupon.checks",
		metric.WithDescription("Coupon checks by operation and outcome"),
	)
	if err != nil {
		counter = noop.Int64Counter{}
	}
	return &Validator{repo: repo, now: time.Now, validations: counter}
}

// Validate checks the coupon against the amount and user and returns the
// discount it would grant. Nothing is mutated.
func (v *Validator) Validate(ctx context.Context, req ValidateRequest) (*Result, error) {
	res, err := v.check(ctx, req, v.repo.FindActive)
	v.count(ctx, "validate", err)
	return res, err
}

// Redeem performs the same checks as Validate while holding a lock on the
// coupon row, then reserves one use with a conditional increment. It must
// run inside the transaction that persists the order so the reservation is
// released if the order is not created.
func (v *Validator) Redeem(ctx context.Context, req ValidateRequest) (*Result, error) {
	res, err := v.check(ctx, req, v.repo.FindActiveForUpdate)
	if err == nil {
		err = v.reserve(ctx, res.Coupon)
	}
	v.count(ctx, "redeem", err)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (v *Validator) reserve(ctx context.Context, c *Coupon) error {
	ok, err := v.repo.Reserve(ctx, c.ID)
	if err != nil {
		return errors.Wrap(err, "reserve coupon use")
	}
	if !ok {
		return ErrUsageLimitReached
	}
	c.UsageCount++
	return nil
}

type findFunc func(ctx context.Context, code string, at time.Time) (*Coupon, error)

func (v *Validator) check(ctx context.Context, req ValidateRequest, find findFunc) (*Result, error) {
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	c, err := find(ctx, NormalizeCode(req.Code), v.now())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	if req.Amount.LessThan(c.MinPurchase) {
		return nil, &MinPurchaseError{Min: c.MinPurchase}
	}
	if c.Exhausted() {
		return nil, ErrUsageLimitReached
	}

	if c.PerUserLimit > 0 {
		if req.UserID == "" {
			return nil, ErrUserRequired
		}
		used, err := v.repo.CountUserRedemptions(ctx, c.Code, req.UserID)
		if err != nil {
			return nil, errors.Wrap(err, "count user redemptions")
		}
		if used >= c.PerUserLimit {
			return nil, ErrPerUserLimitReached
		}
	}

	return &Result{
		Discount: Calculate(c, req.Amount),
		Coupon:   c,
	}, nil
}

func (v *Validator) count(ctx context.Context, op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = fault.KindOf(err).String()
	}
	v.validations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("outcome", outcome),
	))
}
