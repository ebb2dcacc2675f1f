package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/marketplace/internal/domain/coupon"
	"github.com/xenking/marketplace/internal/domain/promotion"
)

const promotionColumns = `id, name, discount_type, status, priority, start_date, end_date, condition, created_at`

const (
	insertPromotionSQL = `INSERT INTO promotions (` + promotionColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	getPromotionSQL          = `SELECT ` + promotionColumns + ` FROM promotions WHERE id = $1`
	getPromotionForUpdateSQL = getPromotionSQL + ` FOR UPDATE`

	listPromotionsSQL = `SELECT ` + promotionColumns + ` FROM promotions
	ORDER BY priority DESC, created_at DESC, id`

	setPromotionStatusSQL = `UPDATE promotions SET status = $2 WHERE id = $1`

	upsertPromotionLinkSQL = `INSERT INTO promotion_products
	(promotion_id, product_id, discount_value, max_usage, start_date, end_date)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (promotion_id, product_id) DO UPDATE SET
		discount_value = EXCLUDED.discount_value,
		max_usage = EXCLUDED.max_usage,
		start_date = EXCLUDED.start_date,
		end_date = EXCLUDED.end_date
	RETURNING usage_count`

	promotionCandidatesSQL = `SELECT p.id, p.name, p.discount_type, p.status, p.priority,
		p.start_date, p.end_date, p.condition, p.created_at,
		pp.product_id, pp.discount_value, pp.max_usage, pp.usage_count, pp.start_date, pp.end_date
	FROM promotion_products pp
	JOIN promotions p ON p.id = pp.promotion_id
	WHERE pp.product_id = ANY($1) AND p.status = 'active'
	ORDER BY p.id, pp.product_id`

	reservePromotionUseSQL = `UPDATE promotion_products SET usage_count = usage_count + 1
	WHERE promotion_id = $1 AND product_id = $2 AND (max_usage = 0 OR usage_count < max_usage)`
)

var _ promotion.Repository = (*PromotionRepository)(nil)

// PromotionRepository implements promotion.Repository.
type PromotionRepository struct {
	db *DB
}

// NewPromotionRepository creates a new PromotionRepository.
func NewPromotionRepository(db *DB) *PromotionRepository {
	return &PromotionRepository{db: db}
}

// Create inserts a promotion.
func (r *PromotionRepository) Create(ctx context.Context, p *promotion.Promotion) error {
	_, err := r.db.conn(ctx).Exec(ctx, insertPromotionSQL,
		p.ID, p.Name, string(p.DiscountType), string(p.Status), p.Priority,
		p.StartDate, p.EndDate, p.Condition, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting promotion %q: %w", p.Name, err)
	}
	return nil
}

// Get returns a promotion or promotion.ErrNotFound.
func (r *PromotionRepository) Get(ctx context.Context, id string) (*promotion.Promotion, error) {
	return r.get(ctx, getPromotionSQL, id)
}

// GetForUpdate locks the promotion row until the surrounding transaction ends.
func (r *PromotionRepository) GetForUpdate(ctx context.Context, id string) (*promotion.Promotion, error) {
	return r.get(ctx, getPromotionForUpdateSQL, id)
}

func (r *PromotionRepository) get(ctx context.Context, query, id string) (*promotion.Promotion, error) {
	rows, err := r.db.conn(ctx).Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("querying promotion %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanPromotion)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, promotion.ErrNotFound
		}
		return nil, fmt.Errorf("scanning promotion %q: %w", id, err)
	}

	return &p, nil
}

// List returns all promotions, highest priority first.
func (r *PromotionRepository) List(ctx context.Context) ([]promotion.Promotion, error) {
	rows, err := r.db.conn(ctx).Query(ctx, listPromotionsSQL)
	if err != nil {
		return nil, fmt.Errorf("querying promotions: %w", err)
	}

	out, err := pgx.CollectRows(rows, scanPromotion)
	if err != nil {
		return nil, fmt.Errorf("scanning promotions: %w", err)
	}
	return out, nil
}

// SetStatus stores a new promotion status.
func (r *PromotionRepository) SetStatus(ctx context.Context, id string, status promotion.Status) error {
	tag, err := r.db.conn(ctx).Exec(ctx, setPromotionStatusSQL, id, string(status))
	if err != nil {
		return fmt.Errorf("updating promotion %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return promotion.ErrNotFound
	}
	return nil
}

// UpsertLink creates or replaces a promotion/product link. The stored usage
// count is kept and written back into l.
func (r *PromotionRepository) UpsertLink(ctx context.Context, l *promotion.Link) error {
	err := r.db.conn(ctx).QueryRow(ctx, upsertPromotionLinkSQL,
		l.PromotionID, l.ProductID, l.DiscountValue, l.MaxUsage,
		nullTime(l.StartDate), nullTime(l.EndDate),
	).Scan(&l.UsageCount)
	if err != nil {
		return fmt.Errorf("linking promotion %q to product %q: %w", l.PromotionID, l.ProductID, err)
	}
	return nil
}

// Candidates returns the links of active promotions for the products.
func (r *PromotionRepository) Candidates(ctx context.Context, productIDs []string) ([]promotion.Candidate, error) {
	rows, err := r.db.conn(ctx).Query(ctx, promotionCandidatesSQL, productIDs)
	if err != nil {
		return nil, fmt.Errorf("querying promotion candidates: %w", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (promotion.Candidate, error) {
		var (
			c                  promotion.Candidate
			discountType       string
			status             string
			linkStart, linkEnd *time.Time
		)
		err := row.Scan(
			&c.Promotion.ID, &c.Promotion.Name, &discountType, &status, &c.Promotion.Priority,
			&c.Promotion.StartDate, &c.Promotion.EndDate, &c.Promotion.Condition, &c.Promotion.CreatedAt,
			&c.Link.ProductID, &c.Link.DiscountValue, &c.Link.MaxUsage, &c.Link.UsageCount,
			&linkStart, &linkEnd,
		)
		c.Promotion.DiscountType = coupon.DiscountType(discountType)
		c.Promotion.Status = promotion.Status(status)
		c.Link.PromotionID = c.Promotion.ID
		c.Link.StartDate = timeOrZero(linkStart)
		c.Link.EndDate = timeOrZero(linkEnd)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning promotion candidates: %w", err)
	}
	return out, nil
}

// ReserveUse increments the link usage count unless MaxUsage is reached.
func (r *PromotionRepository) ReserveUse(ctx context.Context, promotionID, productID string) (bool, error) {
	tag, err := r.db.conn(ctx).Exec(ctx, reservePromotionUseSQL, promotionID, productID)
	if err != nil {
		return false, fmt.Errorf("reserving promotion %q for product %q: %w", promotionID, productID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanPromotion(row pgx.CollectableRow) (promotion.Promotion, error) {
	var (
		p            promotion.Promotion
		discountType string
		status       string
	)
	err := row.Scan(
		&p.ID, &p.Name, &discountType, &status, &p.Priority,
		&p.StartDate, &p.EndDate, &p.Condition, &p.CreatedAt,
	)
	p.DiscountType = coupon.DiscountType(discountType)
	p.Status = promotion.Status(status)
	return p, err
}
