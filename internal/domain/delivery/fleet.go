package delivery

import (
	"context"

	"github.com/go-faster/errors"
)

// Fleet updates delivery persons when their orders finish. Its methods
// must run inside the transaction that changed the order so the person row
// lock orders concurrent completions for the same person.
type Fleet struct {
	persons Repository
}

// NewFleet creates a Fleet.
func NewFleet(persons Repository) *Fleet {
	return &Fleet{persons: persons}
}

// Complete increments the delivery count of the person by one and makes
// them available when no other open orders remain.
func (f *Fleet) Complete(ctx context.Context, personID string) error {
	p, err := f.persons.GetForUpdate(ctx, personID)
	if err != nil {
		return errors.Wrap(err, "lock delivery person")
	}
	if err := f.persons.IncrementDeliveries(ctx, p.ID); err != nil {
		return errors.Wrap(err, "increment deliveries")
	}
	return f.releaseIfIdle(ctx, p)
}

// Release makes the person available when no open orders remain.
func (f *Fleet) Release(ctx context.Context, personID string) error {
	p, err := f.persons.GetForUpdate(ctx, personID)
	if err != nil {
		return errors.Wrap(err, "lock delivery person")
	}
	return f.releaseIfIdle(ctx, p)
}

func (f *Fleet) releaseIfIdle(ctx context.Context, p *Person) error {
	if !Transitions.Can(p.Status, ActionRelease) {
		return nil
	}
	open, err := f.persons.CountOpenOrders(ctx, p.ID)
	if err != nil {
		return errors.Wrap(err, "count open orders")
	}
	if open > 0 {
		return nil
	}
	if err := f.persons.SetStatus(ctx, p.ID, StatusAvailable); err != nil {
		return errors.Wrap(err, "release delivery person")
	}
	return nil
}
