package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xenking/marketplace/internal/domain/review"
)

const (
	insertReviewSQL = `INSERT INTO reviews (id, user_id, target_kind, target_id, rating, comment, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`

	listReviewsSQL = `SELECT id, user_id, target_kind, target_id, rating, comment, created_at
	FROM reviews WHERE target_kind = $1 AND target_id = $2
	ORDER BY created_at DESC, id DESC
	LIMIT $3 OFFSET $4`

	productExistsSQL = `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1 AND active)`
	sellerExistsSQL  = `SELECT EXISTS (SELECT 1 FROM sellers WHERE id = $1)`
)

var _ review.Repository = (*ReviewRepository)(nil)

// ReviewRepository implements review.Repository.
type ReviewRepository struct {
	db *DB
}

// NewReviewRepository creates a new ReviewRepository.
func NewReviewRepository(db *DB) *ReviewRepository {
	return &ReviewRepository{db: db}
}

// Create inserts a review. A second review of the same target by the same
// user yields review.ErrDuplicate.
func (r *ReviewRepository) Create(ctx context.Context, rv *review.Review) error {
	_, err := r.db.conn(ctx).Exec(ctx, insertReviewSQL,
		rv.ID, rv.UserID, string(rv.Target.Kind), rv.Target.ID, rv.Rating, rv.Comment, rv.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return review.ErrDuplicate
		}
		return fmt.Errorf("inserting review of %s: %w", rv.Target, err)
	}
	return nil
}

// List returns a page of the target's reviews, newest first.
func (r *ReviewRepository) List(ctx context.Context, t review.Target, p review.Page) ([]review.Review, error) {
	p = p.Normalize()
	rows, err := r.db.conn(ctx).Query(ctx, listReviewsSQL, string(t.Kind), t.ID, p.Limit, p.Offset)
	if err != nil {
		return nil, fmt.Errorf("querying reviews of %s: %w", t, err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (review.Review, error) {
		var (
			rv   review.Review
			kind string
		)
		err := row.Scan(&rv.ID, &rv.UserID, &kind, &rv.Target.ID, &rv.Rating, &rv.Comment, &rv.CreatedAt)
		rv.Target.Kind = review.Kind(kind)
		return rv, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning reviews of %s: %w", t, err)
	}
	return out, nil
}

// TargetExists checks products and sellers. Services and events live
// outside this database and are assumed to exist.
func (r *ReviewRepository) TargetExists(ctx context.Context, t review.Target) (bool, error) {
	var query string
	switch t.Kind {
	case review.KindProduct:
		query = productExistsSQL
	case review.KindSeller:
		query = sellerExistsSQL
	default:
		return true, nil
	}

	var ok bool
	if err := r.db.conn(ctx).QueryRow(ctx, query, t.ID).Scan(&ok); err != nil {
		return false, fmt.Errorf("checking review target %s: %w", t, err)
	}
	return ok, nil
}
