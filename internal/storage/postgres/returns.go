package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace/internal/domain/returns"
)

const returnColumns = `id, order_id, user_id, reason, amount, status, created_at, updated_at`

const refundColumns = `id, return_id, order_id, amount, method, status, processed_by, processed_at, created_at`

const (
	insertReturnSQL = `INSERT INTO returns (` + returnColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	getReturnSQL          = `SELECT ` + returnColumns + ` FROM returns WHERE id = $1`
	getReturnForUpdateSQL = getReturnSQL + ` FOR UPDATE`

	listReturnsSQL = `SELECT ` + returnColumns + ` FROM returns
	WHERE ($1::text = '' OR user_id = $1) AND ($2::text = '' OR status = $2)
	ORDER BY created_at DESC, id DESC`

	setReturnStatusSQL = `UPDATE returns SET status = $2, updated_at = NOW() WHERE id = $1`

	returnedAmountSQL = `SELECT COALESCE(SUM(amount), 0) FROM returns
	WHERE order_id = $1 AND status <> 'rejected'`

	insertRefundSQL = `INSERT INTO refunds (` + refundColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	getRefundSQL = `SELECT ` + refundColumns + ` FROM refunds WHERE id = $1`

	listRefundsSQL = `SELECT ` + refundColumns + ` FROM refunds
	WHERE return_id = $1 ORDER BY created_at, id`

	updateRefundSQL = `UPDATE refunds SET status = $2, processed_by = $3, processed_at = $4 WHERE id = $1`

	refundedAmountSQL = `SELECT COALESCE(SUM(amount), 0) FROM refunds
	WHERE return_id = $1 AND id <> $2 AND status <> 'failed'`
)

var _ returns.Repository = (*ReturnRepository)(nil)

// ReturnRepository implements returns.Repository.
type ReturnRepository struct {
	db *DB
}

// NewReturnRepository creates a new ReturnRepository.
func NewReturnRepository(db *DB) *ReturnRepository {
	return &ReturnRepository{db: db}
}

// CreateReturn inserts a return request.
func (r *ReturnRepository) CreateReturn(ctx context.Context, ret *returns.Return) error {
	_, err := r.db.conn(ctx).Exec(ctx, insertReturnSQL,
		ret.ID, ret.OrderID, ret.UserID, ret.Reason, ret.Amount, string(ret.Status), ret.CreatedAt, ret.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting return: %w", err)
	}
	return nil
}

// GetReturn returns a return request or returns.ErrNotFound.
func (r *ReturnRepository) GetReturn(ctx context.Context, id string) (*returns.Return, error) {
	return r.getReturn(ctx, getReturnSQL, id)
}

// GetReturnForUpdate locks the return row until the surrounding transaction ends.
func (r *ReturnRepository) GetReturnForUpdate(ctx context.Context, id string) (*returns.Return, error) {
	return r.getReturn(ctx, getReturnForUpdateSQL, id)
}

func (r *ReturnRepository) getReturn(ctx context.Context, query, id string) (*returns.Return, error) {
	rows, err := r.db.conn(ctx).Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("querying return %q: %w", id, err)
	}

	ret, err := pgx.CollectExactlyOneRow(rows, scanReturn)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, returns.ErrNotFound
		}
		return nil, fmt.Errorf("scanning return %q: %w", id, err)
	}
	return &ret, nil
}

// ListReturns returns the return requests matching f, newest first.
func (r *ReturnRepository) ListReturns(ctx context.Context, f returns.Filter) ([]returns.Return, error) {
	rows, err := r.db.conn(ctx).Query(ctx, listReturnsSQL, f.UserID, string(f.Status))
	if err != nil {
		return nil, fmt.Errorf("querying returns: %w", err)
	}

	out, err := pgx.CollectRows(rows, scanReturn)
	if err != nil {
		return nil, fmt.Errorf("scanning returns: %w", err)
	}
	return out, nil
}

// SetReturnStatus stores a new return status.
func (r *ReturnRepository) SetReturnStatus(ctx context.Context, id string, status returns.Status) error {
	tag, err := r.db.conn(ctx).Exec(ctx, setReturnStatusSQL, id, string(status))
	if err != nil {
		return fmt.Errorf("updating return %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return returns.ErrNotFound
	}
	return nil
}

// ReturnedAmount sums the order's returns that were not rejected.
func (r *ReturnRepository) ReturnedAmount(ctx context.Context, orderID string) (decimal.Decimal, error) {
	var sum decimal.Decimal
	if err := r.db.conn(ctx).QueryRow(ctx, returnedAmountSQL, orderID).Scan(&sum); err != nil {
		return decimal.Zero, fmt.Errorf("summing returns of order %q: %w", orderID, err)
	}
	return sum, nil
}

// CreateRefund inserts a refund.
func (r *ReturnRepository) CreateRefund(ctx context.Context, ref *returns.Refund) error {
	_, err := r.db.conn(ctx).Exec(ctx, insertRefundSQL,
		ref.ID, ref.ReturnID, ref.OrderID, ref.Amount, ref.Method, string(ref.Status),
		ref.ProcessedBy, nullTime(ref.ProcessedAt), ref.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting refund for return %q: %w", ref.ReturnID, err)
	}
	return nil
}

// GetRefund returns a refund or returns.ErrRefundNotFound.
func (r *ReturnRepository) GetRefund(ctx context.Context, id string) (*returns.Refund, error) {
	rows, err := r.db.conn(ctx).Query(ctx, getRefundSQL, id)
	if err != nil {
		return nil, fmt.Errorf("querying refund %q: %w", id, err)
	}

	ref, err := pgx.CollectExactlyOneRow(rows, scanRefund)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, returns.ErrRefundNotFound
		}
		return nil, fmt.Errorf("scanning refund %q: %w", id, err)
	}
	return &ref, nil
}

// ListRefunds returns the refunds of a return in creation order.
func (r *ReturnRepository) ListRefunds(ctx context.Context, returnID string) ([]returns.Refund, error) {
	rows, err := r.db.conn(ctx).Query(ctx, listRefundsSQL, returnID)
	if err != nil {
		return nil, fmt.Errorf("querying refunds of %q: %w", returnID, err)
	}

	out, err := pgx.CollectRows(rows, scanRefund)
	if err != nil {
		return nil, fmt.Errorf("scanning refunds of %q: %w", returnID, err)
	}
	return out, nil
}

// UpdateRefund stores status and processing fields.
func (r *ReturnRepository) UpdateRefund(ctx context.Context, ref *returns.Refund) error {
	tag, err := r.db.conn(ctx).Exec(ctx, updateRefundSQL,
		ref.ID, string(ref.Status), ref.ProcessedBy, nullTime(ref.ProcessedAt))
	if err != nil {
		return fmt.Errorf("updating refund %q: %w", ref.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return returns.ErrRefundNotFound
	}
	return nil
}

// RefundedAmount sums the return's refunds that did not fail, leaving out excludeID.
func (r *ReturnRepository) RefundedAmount(ctx context.Context, returnID, excludeID string) (decimal.Decimal, error) {
	var sum decimal.Decimal
	if err := r.db.conn(ctx).QueryRow(ctx, refundedAmountSQL, returnID, excludeID).Scan(&sum); err != nil {
		return decimal.Zero, fmt.Errorf("summing refunds of return %q: %w", returnID, err)
	}
	return sum, nil
}

func scanReturn(row pgx.CollectableRow) (returns.Return, error) {
	var (
		ret    returns.Return
		status string
	)
	err := row.Scan(&ret.ID, &ret.OrderID, &ret.UserID, &ret.Reason, &ret.Amount, &status,
		&ret.CreatedAt, &ret.UpdatedAt)
	ret.Status = returns.Status(status)
	return ret, err
}

func scanRefund(row pgx.CollectableRow) (returns.Refund, error) {
	var (
		ref         returns.Refund
		status      string
		processedAt *time.Time
	)
	err := row.Scan(&ref.ID, &ref.ReturnID, &ref.OrderID, &ref.Amount, &ref.Method, &status,
		&ref.ProcessedBy, &processedAt, &ref.CreatedAt)
	ref.Status = returns.RefundStatus(status)
	ref.ProcessedAt = timeOrZero(processedAt)
	return ref, err
}
