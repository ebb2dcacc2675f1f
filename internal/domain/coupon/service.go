package coupon

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace/internal/domain/audit"
	"github.com/xenking/marketplace/internal/domain/fault"
)

var codePattern = regexp.MustCompile(`^[A-Z0-9_-]{3,32}$`)

// Transactor runs fn inside a single database transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CreateRequest holds the fields of a new coupon.
type CreateRequest struct {
	Code         string
	DiscountType DiscountType
	Value        decimal.Decimal
	MinPurchase  decimal.Decimal
	MaxDiscount  decimal.Decimal
	UsageLimit   int
	PerUserLimit int
	StartDate    time.Time
	EndDate      time.Time
	Description  string
}

// Service implements coupon administration.
type Service struct {
	repo  Repository
	tx    Transactor
	audit audit.Recorder
	now   func() time.Time
}

// NewService creates a coupon admin Service.
func NewService(repo Repository, tx Transactor, rec audit.Recorder) *Service {
	return &Service{repo: repo, tx: tx, audit: rec, now: time.Now}
}

// Create validates and stores a new active coupon.
func (s *Service) Create(ctx context.Context, actorID string, req CreateRequest) (*Coupon, error) {
	c, err := Build(req, s.now())
	if err != nil {
		return nil, err
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, c); err != nil {
			return err
		}
		return s.audit.Record(ctx, audit.Entry{
			Action:     "coupon.create",
			ActorID:    actorID,
			EntityType: audit.EntityCoupon,
			EntityID:   c.ID,
			Details:    c.Code,
		})
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateCode) {
			return nil, ErrDuplicateCode
		}
		return nil, errors.Wrap(err, "create coupon")
	}
	return c, nil
}

// List returns all coupons.
func (s *Service) List(ctx context.Context) ([]Coupon, error) {
	coupons, err := s.repo.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list coupons")
	}
	return coupons, nil
}

// SetStatus activates or deactivates a coupon.
func (s *Service) SetStatus(ctx context.Context, actorID, code string, status Status) error {
	if !status.Valid() {
		return fault.Errorf(fault.Validation, "unknown coupon status %q", status)
	}
	code = NormalizeCode(code)
	return s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.SetStatus(ctx, code, status); err != nil {
			return err
		}
		return s.audit.Record(ctx, audit.Entry{
			Action:     "coupon.set_status",
			ActorID:    actorID,
			EntityType: audit.EntityCoupon,
			EntityID:   code,
			Details:    string(status),
		})
	})
}

// Build validates req and returns the active coupon it describes. The
// coupon starts at now unless req sets StartDate.
func Build(req CreateRequest, now time.Time) (*Coupon, error) {
	c := &Coupon{
		ID:           uuid.New().String(),
		Code:         NormalizeCode(req.Code),
		DiscountType: req.DiscountType,
		Value:        req.Value,
		MinPurchase:  req.MinPurchase,
		MaxDiscount:  req.MaxDiscount,
		UsageLimit:   req.UsageLimit,
		PerUserLimit: req.PerUserLimit,
		StartDate:    req.StartDate,
		EndDate:      req.EndDate,
		Status:       StatusActive,
		Description:  req.Description,
		CreatedAt:    now,
	}
	if c.StartDate.IsZero() {
		c.StartDate = now
	}
	if err := validateNew(c); err != nil {
		return nil, err
	}
	return c, nil
}

func validateNew(c *Coupon) error {
	switch {
	case !codePattern.MatchString(c.Code):
		return fault.New(fault.Validation, "code must be 3-32 characters of A-Z, 0-9, '-' or '_'")
	case !c.DiscountType.Valid():
		return fault.Errorf(fault.Validation, "unknown discount type %q", c.DiscountType)
	case !c.Value.IsPositive():
		return fault.New(fault.Validation, "value must be greater than zero")
	case c.DiscountType == DiscountPercentage && c.Value.GreaterThan(hundred):
		return fault.New(fault.Validation, "percentage value must not exceed 100")
	case c.MinPurchase.IsNegative():
		return fault.New(fault.Validation, "minPurchase must not be negative")
	case c.MaxDiscount.IsNegative():
		return fault.New(fault.Validation, "maxDiscount must not be negative")
	case c.UsageLimit < 0, c.PerUserLimit < 0:
		return fault.New(fault.Validation, "usage limits must not be negative")
	case !c.EndDate.After(c.StartDate):
		return fault.New(fault.Validation, "endDate must be after startDate")
	}
	return nil
}

// String is used in logs.
func (c *Coupon) String() string {
	return fmt.Sprintf("%s(%s %s)", c.Code, c.DiscountType, c.Value)
}
