package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/marketplace/internal/domain/coupon"
)

const couponColumns = `id, code, discount_type, value, min_purchase, max_discount,
	usage_limit, usage_count, per_user_limit, start_date, end_date, status, description, created_at`

const (
	findActiveCouponSQL = `SELECT ` + couponColumns + ` FROM coupons
	WHERE UPPER(code) = UPPER($1) AND status = 'active' AND $2 BETWEEN start_date AND end_date`

	findActiveCouponForUpdateSQL = findActiveCouponSQL + ` FOR UPDATE`

	countUserRedemptionsSQL = `SELECT COUNT(*) FROM orders
	WHERE user_id = $1 AND UPPER(coupon_code) = UPPER($2) AND status <> 'cancelled'`

	reserveCouponSQL = `UPDATE coupons SET usage_count = usage_count + 1
	WHERE id = $1 AND (usage_limit = 0 OR usage_count < usage_limit)`

	insertCouponSQL = `INSERT INTO coupons (` + couponColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	listCouponsSQL = `SELECT ` + couponColumns + ` FROM coupons ORDER BY created_at DESC, code`

	setCouponStatusSQL = `UPDATE coupons SET status = $2 WHERE UPPER(code) = UPPER($1)`

	listCouponCodesSQL = `SELECT UPPER(code) FROM coupons`
)

var couponCopyColumns = []string{
	"id", "code", "discount_type", "value", "min_purchase", "max_discount",
	"usage_limit", "usage_count", "per_user_limit", "start_date", "end_date",
	"status", "description", "created_at",
}

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository.
type CouponRepository struct {
	db *DB
}

// NewCouponRepository creates a new CouponRepository.
func NewCouponRepository(db *DB) *CouponRepository {
	return &CouponRepository{db: db}
}

// FindActive returns the active coupon with the code whose window contains at.
func (r *CouponRepository) FindActive(ctx context.Context, code string, at time.Time) (*coupon.Coupon, error) {
	return r.findActive(ctx, findActiveCouponSQL, code, at)
}

// FindActiveForUpdate locks the coupon row until the surrounding transaction ends.
func (r *CouponRepository) FindActiveForUpdate(ctx context.Context, code string, at time.Time) (*coupon.Coupon, error) {
	return r.findActive(ctx, findActiveCouponForUpdateSQL, code, at)
}

func (r *CouponRepository) findActive(ctx context.Context, query, code string, at time.Time) (*coupon.Coupon, error) {
	rows, err := r.db.conn(ctx).Query(ctx, query, code, at)
	if err != nil {
		return nil, fmt.Errorf("querying coupon %q: %w", code, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("scanning coupon %q: %w", code, err)
	}

	return &c, nil
}

// CountUserRedemptions counts the user's non-cancelled orders with the code.
func (r *CouponRepository) CountUserRedemptions(ctx context.Context, code, userID string) (int, error) {
	var n int
	if err := r.db.conn(ctx).QueryRow(ctx, countUserRedemptionsSQL, userID, code).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting redemptions of %q: %w", code, err)
	}
	return n, nil
}

// Reserve increments the usage counter unless the limit is reached.
func (r *CouponRepository) Reserve(ctx context.Context, id string) (bool, error) {
	tag, err := r.db.conn(ctx).Exec(ctx, reserveCouponSQL, id)
	if err != nil {
		return false, fmt.Errorf("reserving coupon %q: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Create inserts a coupon. A code that exists in any letter case yields
// coupon.ErrDuplicateCode.
func (r *CouponRepository) Create(ctx context.Context, c *coupon.Coupon) error {
	_, err := r.db.conn(ctx).Exec(ctx, insertCouponSQL,
		c.ID, c.Code, string(c.DiscountType), c.Value, c.MinPurchase, c.MaxDiscount,
		c.UsageLimit, c.UsageCount, c.PerUserLimit, c.StartDate, c.EndDate,
		string(c.Status), c.Description, c.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return coupon.ErrDuplicateCode
		}
		return fmt.Errorf("inserting coupon %q: %w", c.Code, err)
	}
	return nil
}

// List returns all coupons, newest first.
func (r *CouponRepository) List(ctx context.Context) ([]coupon.Coupon, error) {
	rows, err := r.db.conn(ctx).Query(ctx, listCouponsSQL)
	if err != nil {
		return nil, fmt.Errorf("querying coupons: %w", err)
	}

	out, err := pgx.CollectRows(rows, scanCoupon)
	if err != nil {
		return nil, fmt.Errorf("scanning coupons: %w", err)
	}
	return out, nil
}

// SetStatus changes the administrative status of the coupon with the code.
func (r *CouponRepository) SetStatus(ctx context.Context, code string, status coupon.Status) error {
	tag, err := r.db.conn(ctx).Exec(ctx, setCouponStatusSQL, code, string(status))
	if err != nil {
		return fmt.Errorf("updating coupon %q: %w", code, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c            coupon.Coupon
		discountType string
		status       string
	)
	err := row.Scan(
		&c.ID, &c.Code, &discountType, &c.Value, &c.MinPurchase, &c.MaxDiscount,
		&c.UsageLimit, &c.UsageCount, &c.PerUserLimit, &c.StartDate, &c.EndDate,
		&status, &c.Description, &c.CreatedAt,
	)
	c.DiscountType = coupon.DiscountType(discountType)
	c.Status = coupon.Status(status)
	return c, err
}

// EachCode streams the upper-cased code of every stored coupon to fn.
func (r *CouponRepository) EachCode(ctx context.Context, fn func(code string)) error {
	rows, err := r.db.conn(ctx).Query(ctx, listCouponCodesSQL)
	if err != nil {
		return fmt.Errorf("querying coupon codes: %w", err)
	}
	defer rows.Close()

	var code string
	_, err = pgx.ForEachRow(rows, []any{&code}, func() error {
		fn(code)
		return nil
	})
	if err != nil {
		return fmt.Errorf("scanning coupon codes: %w", err)
	}
	return nil
}

// CopyFrom bulk-inserts coupons with COPY. Any conflicting code aborts the
// whole copy, so callers pass only codes known to be new.
func (r *CouponRepository) CopyFrom(ctx context.Context, coupons []coupon.Coupon) (int64, error) {
	n, err := r.db.conn(ctx).CopyFrom(ctx, pgx.Identifier{"coupons"}, couponCopyColumns,
		pgx.CopyFromSlice(len(coupons), func(i int) ([]any, error) {
			c := coupons[i]
			return []any{
				c.ID, c.Code, string(c.DiscountType), c.Value, c.MinPurchase, c.MaxDiscount,
				c.UsageLimit, c.UsageCount, c.PerUserLimit, c.StartDate, c.EndDate,
				string(c.Status), c.Description, c.CreatedAt,
			}, nil
		}),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, coupon.ErrDuplicateCode
		}
		return 0, fmt.Errorf("copying %d coupons: %w", len(coupons), err)
	}
	return n, nil
}
