package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/marketplace/internal/domain/delivery"
)

const (
	getDeliveryPersonSQL = `SELECT id, user_id, name, status, current_location, delivery_count, updated_at
	FROM delivery_persons WHERE id = $1`

	getDeliveryPersonForUpdateSQL = getDeliveryPersonSQL + ` FOR UPDATE`

	setDeliveryPersonStatusSQL = `UPDATE delivery_persons SET status = $2, updated_at = NOW() WHERE id = $1`

	setDeliveryPersonLocationSQL = `UPDATE delivery_persons SET current_location = $2, updated_at = NOW()
	WHERE id = $1`

	incrementDeliveriesSQL = `UPDATE delivery_persons SET delivery_count = delivery_count + 1, updated_at = NOW()
	WHERE id = $1`

	countOpenDeliveriesSQL = `SELECT COUNT(*) FROM orders
	WHERE delivery_person_id = $1 AND status NOT IN ('delivered', 'cancelled')`
)

var _ delivery.Repository = (*DeliveryRepository)(nil)

// DeliveryRepository implements delivery.Repository.
type DeliveryRepository struct {
	db *DB
}

// NewDeliveryRepository creates a new DeliveryRepository.
func NewDeliveryRepository(db *DB) *DeliveryRepository {
	return &DeliveryRepository{db: db}
}

// Get returns a delivery person or delivery.ErrNotFound.
func (r *DeliveryRepository) Get(ctx context.Context, id string) (*delivery.Person, error) {
	return r.get(ctx, getDeliveryPersonSQL, id)
}

// GetForUpdate locks the person row until the surrounding transaction ends.
func (r *DeliveryRepository) GetForUpdate(ctx context.Context, id string) (*delivery.Person, error) {
	return r.get(ctx, getDeliveryPersonForUpdateSQL, id)
}

func (r *DeliveryRepository) get(ctx context.Context, query, id string) (*delivery.Person, error) {
	rows, err := r.db.conn(ctx).Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("querying delivery person %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, func(row pgx.CollectableRow) (delivery.Person, error) {
		var (
			p      delivery.Person
			status string
		)
		err := row.Scan(&p.ID, &p.UserID, &p.Name, &status, &p.CurrentLocation, &p.DeliveryCount, &p.UpdatedAt)
		p.Status = delivery.Status(status)
		return p, err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, delivery.ErrNotFound
		}
		return nil, fmt.Errorf("scanning delivery person %q: %w", id, err)
	}

	return &p, nil
}

// SetStatus stores a new availability status.
func (r *DeliveryRepository) SetStatus(ctx context.Context, id string, status delivery.Status) error {
	return r.exec(ctx, setDeliveryPersonStatusSQL, id, string(status))
}

// SetLocation stores the current location.
func (r *DeliveryRepository) SetLocation(ctx context.Context, id, location string) error {
	return r.exec(ctx, setDeliveryPersonLocationSQL, id, location)
}

// IncrementDeliveries adds one to the delivery count.
func (r *DeliveryRepository) IncrementDeliveries(ctx context.Context, id string) error {
	return r.exec(ctx, incrementDeliveriesSQL, id)
}

// CountOpenOrders counts assigned orders that are neither delivered nor cancelled.
func (r *DeliveryRepository) CountOpenOrders(ctx context.Context, id string) (int, error) {
	var n int
	if err := r.db.conn(ctx).QueryRow(ctx, countOpenDeliveriesSQL, id).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting open orders of %q: %w", id, err)
	}
	return n, nil
}

func (r *DeliveryRepository) exec(ctx context.Context, query, id string, args ...any) error {
	tag, err := r.db.conn(ctx).Exec(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("updating delivery person %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return delivery.ErrNotFound
	}
	return nil
}
