package coupon

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace/internal/domain/fault"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercentage takes a percentage of the purchase amount.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixedAmount takes a fixed monetary amount off the purchase.
	DiscountFixedAmount DiscountType = "fixed_amount"
)

// Valid reports whether t is a known discount type.
func (t DiscountType) Valid() bool {
	return t == DiscountPercentage || t == DiscountFixedAmount
}

// Status is the administrative state of a coupon.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Valid reports whether s is a known coupon status.
func (s Status) Valid() bool {
	return s == StatusActive || s == StatusInactive
}

var (
	// ErrNotFound is returned when no active coupon with the code is valid
	// at the current time. Unknown, inactive and expired codes are
	// deliberately indistinguishable to clients.
	ErrNotFound = fault.New(fault.NotFound, "coupon not found or no longer valid")
	// ErrInvalidAmount is returned for a non-positive purchase amount.
	ErrInvalidAmount = fault.New(fault.Validation, "amount must be greater than zero")
	// ErrUsageLimitReached is returned when the coupon has no uses left.
	ErrUsageLimitReached = fault.New(fault.LimitExceeded, "coupon usage limit reached")
	// ErrPerUserLimitReached is returned when the user already used the
	// coupon the maximum number of times.
	ErrPerUserLimitReached = fault.New(fault.LimitExceeded, "coupon usage limit per user reached")
	// ErrDuplicateCode is returned when creating a coupon whose code exists.
	ErrDuplicateCode = fault.New(fault.Conflict, "coupon code already exists")
)

// MinPurchaseError is returned when the purchase amount is below the
// coupon's minimum.
type MinPurchaseError struct {
	Min decimal.Decimal
}

func (e *MinPurchaseError) Error() string {
	return fmt.Sprintf("minimum purchase amount of %s required", e.Min.StringFixed(2))
}

// Kind marks the error as a validation failure.
func (e *MinPurchaseError) Kind() fault.Kind { return fault.Validation }

// Coupon is a discount code with eligibility constraints and usage counters.
type Coupon struct {
	ID           string
	Code         string
	DiscountType DiscountType
	Value        decimal.Decimal
	MinPurchase  decimal.Decimal
	// MaxDiscount caps the computed discount. Zero means no cap.
	MaxDiscount decimal.Decimal
	// UsageLimit is the global number of redemptions. Zero means unlimited.
	UsageLimit int
	UsageCount int
	// PerUserLimit is the number of redemptions per user. Zero means unlimited.
	PerUserLimit int
	StartDate    time.Time
	EndDate      time.Time
	Status       Status
	Description  string
	CreatedAt    time.Time
}

// ActiveAt reports whether the coupon is active and t is inside its window.
func (c *Coupon) ActiveAt(t time.Time) bool {
	return c.Status == StatusActive && !t.Before(c.StartDate) && !t.After(c.EndDate)
}

// Exhausted reports whether the global usage limit has been reached.
func (c *Coupon) Exhausted() bool {
	return c.UsageLimit > 0 && c.UsageCount >= c.UsageLimit
}

// NormalizeCode canonicalizes a user-supplied code for lookups.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Repository provides lookup and mutation of coupons.
type Repository interface {
	// FindActive returns the active coupon with the code whose window
	// contains at, or ErrNotFound.
	FindActive(ctx context.Context, code string, at time.Time) (*Coupon, error)
	// FindActiveForUpdate is FindActive that also locks the coupon row for
	// the rest of the surrounding transaction.
	FindActiveForUpdate(ctx context.Context, code string, at time.Time) (*Coupon, error)
	// CountUserRedemptions counts the user's non-cancelled orders that
	// used the code.
	CountUserRedemptions(ctx context.Context, code, userID string) (int, error)
	// Reserve increments the usage counter of the coupon unless the usage
	// limit is reached. It reports whether a use was reserved.
	Reserve(ctx context.Context, id string) (bool, error)
	Create(ctx context.Context, c *Coupon) error
	List(ctx context.Context) ([]Coupon, error)
	SetStatus(ctx context.Context, code string, status Status) error
}
