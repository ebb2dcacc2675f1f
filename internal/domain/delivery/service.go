package delivery

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/xenking/marketplace/internal/domain/auth"
	"github.com/xenking/marketplace/internal/domain/fault"
	"github.com/xenking/marketplace/internal/domain/order"
)

// Transactor runs fn inside a single database transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Orders is the part of the order store assignment needs.
type Orders interface {
	GetForUpdate(ctx context.Context, id string) (*order.Order, error)
	AssignCourier(ctx context.Context, id, personID string) error
}

// Lifecycle applies order transitions. It is implemented by order.Service.
type Lifecycle interface {
	Apply(ctx context.Context, actor auth.Principal, req order.TransitionRequest) (*order.Order, order.Event, error)
	Announce(ctx context.Context, typ order.EventType, o *order.Order)
	Publish(ctx context.Context, events ...order.Event)
}

// Service implements the delivery person operations.
type Service struct {
	persons   Repository
	orders    Orders
	lifecycle Lifecycle
	tx        Transactor
	tracer    trace.Tracer
	now       func() time.Time
}

// NewService creates a delivery Service.
func NewService(persons Repository, orders Orders, lifecycle Lifecycle, tx Transactor, tp trace.TracerProvider) *Service {
	return &Service{
		persons:   persons,
		orders:    orders,
		lifecycle: lifecycle,
		tx:        tx,
		tracer:    tp.Tracer("marketplace/delivery"),
		now:       time.Now,
	}
}

// Get returns a delivery person.
func (s *Service) Get(ctx context.Context, id string) (*Person, error) {
	return s.persons.Get(ctx, id)
}

// SetStatus lets a delivery person go online or offline and update their
// location. Busy persons can only become available once all their orders
// are finished.
func (s *Service) SetStatus(ctx context.Context, personID string, target Status, location string) (*Person, error) {
	var out *Person
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		p, err := s.persons.GetForUpdate(ctx, personID)
		if err != nil {
			return err
		}

		if target != p.Status {
			action, err := statusAction(p.Status, target)
			if err != nil {
				return err
			}
			next, err := Transitions.Next(p.Status, action)
			if err != nil {
				return err
			}
			if p.Status == StatusBusy {
				open, err := s.persons.CountOpenOrders(ctx, p.ID)
				if err != nil {
					return errors.Wrap(err, "count open orders")
				}
				if open > 0 {
					return ErrHasOpenOrders
				}
			}
			if err := s.persons.SetStatus(ctx, p.ID, next); err != nil {
				return errors.Wrap(err, "set status")
			}
			p.Status = next
		}

		if location != "" {
			if err := s.persons.SetLocation(ctx, p.ID, location); err != nil {
				return errors.Wrap(err, "set location")
			}
			p.CurrentLocation = location
		}
		p.UpdatedAt = s.now()
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// statusAction maps a requested status to the action reaching it. Busy
// persons becoming available are released; busy itself is only reachable
// through assignment.
func statusAction(from, target Status) (Action, error) {
	switch target {
	case StatusAvailable:
		if from == StatusBusy {
			return ActionRelease, nil
		}
		return ActionGoOnline, nil
	case StatusOffline:
		if from == StatusBusy {
			return "", ErrHasOpenOrders
		}
		return ActionGoOffline, nil
	case StatusBusy:
		return "", fault.New(fault.Validation, "busy is set by order assignment")
	}
	return "", fault.Errorf(fault.Validation, "unknown delivery status %q", target)
}

// AssignRequest assigns an order to a delivery person.
type AssignRequest struct {
	OrderID  string
	PersonID string
}

// Assign attaches a delivery person to a preparing or ready order and marks
// the person busy. Sellers may only assign their own orders.
func (s *Service) Assign(ctx context.Context, actor auth.Principal, req AssignRequest) (*order.Order, error) {
	ctx, span := s.tracer.Start(ctx, "delivery.Assign", trace.WithAttributes(
		attribute.String("order.id", req.OrderID),
		attribute.String("delivery.person_id", req.PersonID),
	))
	defer span.End()

	if err := actor.Require(auth.RoleAdmin, auth.RoleSeller); err != nil {
		return nil, err
	}

	var out *order.Order
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		o, err := s.orders.GetForUpdate(ctx, req.OrderID)
		if err != nil {
			return err
		}
		if actor.Role == auth.RoleSeller && o.SellerID != actor.SubjectID {
			return order.ErrNotFound
		}
		if o.Status != order.StatusPreparing && o.Status != order.StatusReady {
			return ErrNotAssignable
		}
		if o.DeliveryPersonID != "" {
			return ErrAlreadyAssigned
		}

		p, err := s.persons.GetForUpdate(ctx, req.PersonID)
		if err != nil {
			return err
		}
		if p.Status == StatusOffline {
			return ErrOffline
		}
		next, err := Transitions.Next(p.Status, ActionAssign)
		if err != nil {
			return err
		}

		if err := s.orders.AssignCourier(ctx, o.ID, p.ID); err != nil {
			return errors.Wrap(err, "assign courier")
		}
		if err := s.persons.SetStatus(ctx, p.ID, next); err != nil {
			return errors.Wrap(err, "mark busy")
		}
		o.DeliveryPersonID = p.ID
		out = o
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.lifecycle.Announce(ctx, order.EventAssigned, out)
	return out, nil
}

// OrderStatusRequest is a delivery person's update of an assigned order.
type OrderStatusRequest struct {
	OrderID  string
	Status   string
	Location string
}

// UpdateOrderStatus moves an order assigned to the person to delivering or
// delivered. Delivery completion updates the person in the same
// transaction as the order.
func (s *Service) UpdateOrderStatus(ctx context.Context, personID string, req OrderStatusRequest) (*order.Order, error) {
	target, err := order.ParseStatus(req.Status)
	if err != nil {
		return nil, err
	}
	if target != order.StatusDelivering && target != order.StatusDelivered {
		return nil, fault.Errorf(fault.Validation, "delivery persons can only set delivering or delivered, got %q", req.Status)
	}
	action, err := order.ActionFor(target)
	if err != nil {
		return nil, err
	}

	actor := auth.Principal{SubjectID: personID, Role: auth.RoleDelivery}
	var (
		out     *order.Order
		changed order.Event
	)
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		o, ev, err := s.lifecycle.Apply(ctx, actor, order.TransitionRequest{
			OrderID: req.OrderID,
			Action:  action,
		})
		if err != nil {
			return err
		}
		if req.Location != "" {
			if err := s.persons.SetLocation(ctx, personID, req.Location); err != nil {
				return errors.Wrap(err, "set location")
			}
		}
		out, changed = o, ev
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.lifecycle.Publish(ctx, changed)
	return out, nil
}
