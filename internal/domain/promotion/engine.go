package promotion

import (
	"context"
	"sort"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace/internal/domain/coupon"
)

var hundred = decimal.NewFromInt(100)

// Line is a cart line at catalog price.
type Line struct {
	ProductID string
	UnitPrice decimal.Decimal
	Quantity  int
}

// Applied is the promotion chosen for a line. PromotionID is empty when no
// promotion applies.
type Applied struct {
	PromotionID  string
	UnitDiscount decimal.Decimal
	// Discount is UnitDiscount times quantity.
	Discount decimal.Decimal
}

// UnitDiscount returns the per-unit discount the candidate grants on price.
// It never exceeds price and is rounded to cents.
func UnitDiscount(c Candidate, price decimal.Decimal) decimal.Decimal {
	var d decimal.Decimal
	switch c.Promotion.DiscountType {
	case coupon.DiscountPercentage:
		d = price.Mul(c.Link.DiscountValue).Div(hundred)
	case coupon.DiscountFixedAmount:
		d = c.Link.DiscountValue
	default:
		return decimal.Zero
	}
	if d.GreaterThan(price) {
		d = price
	}
	if d.IsNegative() {
		return decimal.Zero
	}
	return d.Round(2)
}

// Available reports whether the candidate is active at t and has uses left.
// Conditions are not evaluated.
func Available(c Candidate, t time.Time) bool {
	p, l := c.Promotion, c.Link
	switch {
	case p.Status != StatusActive:
		return false
	case t.Before(p.StartDate), t.After(p.EndDate):
		return false
	case !l.StartDate.IsZero() && t.Before(l.StartDate):
		return false
	case !l.EndDate.IsZero() && t.After(l.EndDate):
		return false
	case l.MaxUsage > 0 && l.UsageCount >= l.MaxUsage:
		return false
	}
	return true
}

// Rank orders candidates for one product: higher priority first, then the
// larger unit discount, then the smaller promotion id.
func Rank(cands []Candidate, price decimal.Decimal) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.Promotion.Priority != b.Promotion.Priority {
			return a.Promotion.Priority > b.Promotion.Priority
		}
		da, db := UnitDiscount(a, price), UnitDiscount(b, price)
		if !da.Equal(db) {
			return da.GreaterThan(db)
		}
		return a.Promotion.ID < b.Promotion.ID
	})
}

// Engine picks the promotion for each cart line.
type Engine struct {
	repo  Repository
	conds *Conditions
	now   func() time.Time
}

// NewEngine creates an Engine.
func NewEngine(repo Repository, conds *Conditions) *Engine {
	return &Engine{repo: repo, conds: conds, now: time.Now}
}

// Quote returns the best promotion for every line without reserving uses.
// The result is parallel to lines.
func (e *Engine) Quote(ctx context.Context, lines []Line, userID string) ([]Applied, error) {
	if len(lines) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(lines))
	subtotal := decimal.Zero
	for _, l := range lines {
		ids = append(ids, l.ProductID)
		subtotal = subtotal.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}

	cands, err := e.repo.Candidates(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "load promotion candidates")
	}
	byProduct := make(map[string][]Candidate, len(ids))
	for _, c := range cands {
		byProduct[c.Link.ProductID] = append(byProduct[c.Link.ProductID], c)
	}

	now := e.now()
	out := make([]Applied, len(lines))
	// Lines repeating a product share the link's remaining uses.
	taken := make(map[linkKey]int)
	for i, l := range lines {
		facts := Facts{Subtotal: subtotal, Quantity: l.Quantity, UserID: userID}
		best, err := e.pick(byProduct[l.ProductID], l.UnitPrice, facts, now, taken)
		if err != nil {
			return nil, err
		}
		if best == nil {
			out[i] = Applied{UnitDiscount: decimal.Zero, Discount: decimal.Zero}
			continue
		}
		taken[keyOf(best.Link)]++
		unit := UnitDiscount(*best, l.UnitPrice)
		out[i] = Applied{
			PromotionID:  best.Promotion.ID,
			UnitDiscount: unit,
			Discount:     unit.Mul(decimal.NewFromInt(int64(l.Quantity))),
		}
	}
	return out, nil
}

// Redeem quotes the lines and reserves one use of every applied link. It
// must run inside the transaction that persists the order. A link that ran
// out between quote and reservation fails with ErrPromotionExhausted.
func (e *Engine) Redeem(ctx context.Context, lines []Line, userID string) ([]Applied, error) {
	applied, err := e.Quote(ctx, lines, userID)
	if err != nil {
		return nil, err
	}
	for i, a := range applied {
		if a.PromotionID == "" {
			continue
		}
		ok, err := e.repo.ReserveUse(ctx, a.PromotionID, lines[i].ProductID)
		if err != nil {
			return nil, errors.Wrap(err, "reserve promotion use")
		}
		if !ok {
			return nil, ErrPromotionExhausted
		}
	}
	return applied, nil
}

type linkKey struct{ promotionID, productID string }

func keyOf(l Link) linkKey { return linkKey{l.PromotionID, l.ProductID} }

func (e *Engine) pick(cands []Candidate, price decimal.Decimal, f Facts, now time.Time, taken map[linkKey]int) (*Candidate, error) {
	eligible := make([]Candidate, 0, len(cands))
	for _, c := range cands {
		c.Link.UsageCount += taken[keyOf(c.Link)]
		if !Available(c, now) {
			continue
		}
		ok, err := e.conds.Eval(c.Promotion.Condition, f)
		if err != nil {
			return nil, errors.Wrapf(err, "promotion %s", c.Promotion.ID)
		}
		if ok {
			eligible = append(eligible, c)
		}
	}
	if len(eligible) == 0 {
		return nil, nil
	}
	Rank(eligible, price)
	return &eligible[0], nil
}
