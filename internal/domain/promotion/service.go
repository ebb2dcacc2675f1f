package promotion

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace/internal/domain/audit"
	"github.com/xenking/marketplace/internal/domain/coupon"
	"github.com/xenking/marketplace/internal/domain/fault"
	"github.com/xenking/marketplace/internal/domain/product"
)

// Transactor runs fn inside a single database transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ProductLookup resolves catalog products.
type ProductLookup interface {
	GetByID(ctx context.Context, id string) (*product.Product, error)
}

// CreateRequest holds the fields of a new promotion.
type CreateRequest struct {
	Name         string
	DiscountType coupon.DiscountType
	Priority     int
	StartDate    time.Time
	EndDate      time.Time
	Condition    string
}

// LinkRequest attaches a product to a promotion.
type LinkRequest struct {
	ProductID     string
	DiscountValue decimal.Decimal
	MaxUsage      int
	StartDate     time.Time
	EndDate       time.Time
}

// Service implements promotion administration.
type Service struct {
	repo     Repository
	products ProductLookup
	conds    *Conditions
	tx       Transactor
	audit    audit.Recorder
	now      func() time.Time
}

// NewService creates a promotion admin Service.
func NewService(repo Repository, products ProductLookup, conds *Conditions, tx Transactor, rec audit.Recorder) *Service {
	return &Service{
		repo:     repo,
		products: products,
		conds:    conds,
		tx:       tx,
		audit:    rec,
		now:      time.Now,
	}
}

// Create stores a new promotion in draft status.
func (s *Service) Create(ctx context.Context, actorID string, req CreateRequest) (*Promotion, error) {
	p := &Promotion{
		ID:           uuid.New().String(),
		Name:         req.Name,
		DiscountType: req.DiscountType,
		Status:       StatusDraft,
		Priority:     req.Priority,
		StartDate:    req.StartDate,
		EndDate:      req.EndDate,
		Condition:    req.Condition,
		CreatedAt:    s.now(),
	}
	if p.StartDate.IsZero() {
		p.StartDate = p.CreatedAt
	}

	switch {
	case p.Name == "":
		return nil, fault.New(fault.Validation, "name is required")
	case !p.DiscountType.Valid():
		return nil, fault.Errorf(fault.Validation, "unknown discount type %q", p.DiscountType)
	case !p.EndDate.After(p.StartDate):
		return nil, fault.New(fault.Validation, "endDate must be after startDate")
	}
	if err := s.conds.Check(p.Condition); err != nil {
		return nil, err
	}

	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, p); err != nil {
			return err
		}
		return s.audit.Record(ctx, audit.Entry{
			Action:     "promotion.create",
			ActorID:    actorID,
			EntityType: audit.EntityPromotion,
			EntityID:   p.ID,
			Details:    p.Name,
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "create promotion")
	}
	return p, nil
}

// Get returns a promotion by id.
func (s *Service) Get(ctx context.Context, id string) (*Promotion, error) {
	return s.repo.Get(ctx, id)
}

// List returns all promotions.
func (s *Service) List(ctx context.Context) ([]Promotion, error) {
	promos, err := s.repo.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list promotions")
	}
	return promos, nil
}

// LinkProduct attaches a product to a promotion that is not finished.
func (s *Service) LinkProduct(ctx context.Context, actorID, promotionID string, req LinkRequest) (*Link, error) {
	l := &Link{
		PromotionID:   promotionID,
		ProductID:     req.ProductID,
		DiscountValue: req.DiscountValue,
		MaxUsage:      req.MaxUsage,
		StartDate:     req.StartDate,
		EndDate:       req.EndDate,
	}
	switch {
	case l.ProductID == "":
		return nil, fault.New(fault.Validation, "productId is required")
	case !l.DiscountValue.IsPositive():
		return nil, fault.New(fault.Validation, "discountValue must be greater than zero")
	case l.MaxUsage < 0:
		return nil, fault.New(fault.Validation, "maxUsage must not be negative")
	case !l.StartDate.IsZero() && !l.EndDate.IsZero() && !l.EndDate.After(l.StartDate):
		return nil, fault.New(fault.Validation, "endDate must be after startDate")
	}

	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		p, err := s.repo.GetForUpdate(ctx, promotionID)
		if err != nil {
			return err
		}
		if Transitions.Terminal(p.Status) {
			return fault.Errorf(fault.Conflict, "promotion is %s", p.Status)
		}
		if p.DiscountType == coupon.DiscountPercentage && l.DiscountValue.GreaterThan(hundred) {
			return fault.New(fault.Validation, "percentage value must not exceed 100")
		}
		if _, err := s.products.GetByID(ctx, l.ProductID); err != nil {
			return err
		}
		if err := s.repo.UpsertLink(ctx, l); err != nil {
			return err
		}
		return s.audit.Record(ctx, audit.Entry{
			Action:     "promotion.link_product",
			ActorID:    actorID,
			EntityType: audit.EntityPromotion,
			EntityID:   promotionID,
			Details:    l.ProductID,
		})
	})
	if err != nil {
		return nil, err
	}
	return l, nil
}

// Transition applies a status action to a promotion.
func (s *Service) Transition(ctx context.Context, actorID, id string, action Action) (*Promotion, error) {
	var out *Promotion
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		p, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		next, err := Transitions.Next(p.Status, action)
		if err != nil {
			return err
		}
		if err := s.repo.SetStatus(ctx, id, next); err != nil {
			return err
		}
		p.Status = next
		out = p
		return s.audit.Record(ctx, audit.Entry{
			Action:     "promotion." + string(action),
			ActorID:    actorID,
			EntityType: audit.EntityPromotion,
			EntityID:   id,
			Details:    string(next),
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
