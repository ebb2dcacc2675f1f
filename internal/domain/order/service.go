package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/marketplace/internal/domain/audit"
	"github.com/xenking/marketplace/internal/domain/auth"
	"github.com/xenking/marketplace/internal/domain/coupon"
	"github.com/xenking/marketplace/internal/domain/fault"
	"github.com/xenking/marketplace/internal/domain/product"
	"github.com/xenking/marketplace/internal/domain/promotion"
)

// Sentinel errors for order validation.
var (
	ErrEmptyItems   = fault.New(fault.Validation, "items required")
	ErrUserRequired = fault.New(fault.Validation, "user required")
	ErrMixedSellers = fault.New(fault.Validation, "all items of an order must belong to one seller")
	// ErrNotAssigned is returned when dispatching an order without a
	// delivery person.
	ErrNotAssigned = fault.New(fault.Conflict, "order has no delivery person assigned")
	// ErrNotCancellable is returned when a customer cancels an order the
	// seller already started.
	ErrNotCancellable = fault.New(fault.Conflict, "only pending orders can be cancelled by the customer")
)

// ProductNotFoundError indicates a requested product does not exist.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

func (e *ProductNotFoundError) Kind() fault.Kind { return fault.Validation }

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}

func (e *InvalidQuantityError) Kind() fault.Kind { return fault.Validation }

// Transactor runs fn inside a single database transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ProductLookup batch-resolves catalog products.
type ProductLookup interface {
	GetByIDs(ctx context.Context, ids []string) ([]product.Product, error)
}

// CouponRedeemer validates a coupon and reserves one use of it.
type CouponRedeemer interface {
	Redeem(ctx context.Context, req coupon.ValidateRequest) (*coupon.Result, error)
}

// PromotionRedeemer picks promotions for cart lines and reserves their uses.
type PromotionRedeemer interface {
	Redeem(ctx context.Context, lines []promotion.Line, userID string) ([]promotion.Applied, error)
}

// Fleet keeps delivery persons consistent with the orders they carry. Both
// methods run inside the transaction that changed the order.
type Fleet interface {
	// Complete records a finished delivery for the person.
	Complete(ctx context.Context, personID string) error
	// Release frees the person from an order that will not be delivered.
	Release(ctx context.Context, personID string) error
}

// Deps are the collaborators of Service.
type Deps struct {
	Products   ProductLookup
	Coupons    CouponRedeemer
	Promotions PromotionRedeemer
	Orders     Repository
	Fleet      Fleet
	Tx         Transactor
	Audit      audit.Recorder
	Events     Publisher
	Tracer     trace.TracerProvider
	Meter      metric.MeterProvider
}

// ItemRequest is a requested order line.
type ItemRequest struct {
	ProductID string
	Quantity  int
}

// PlaceOrderRequest holds the input for placing an order.
type PlaceOrderRequest struct {
	UserID           string
	Items            []ItemRequest
	CouponCode       string
	DeliveryLocation string
}

// PlaceOrderResult holds the output of a successfully placed order.
type PlaceOrderResult struct {
	Order    *Order
	Products []product.Product
}

// TransitionRequest asks to apply an action to an order.
type TransitionRequest struct {
	OrderID string
	Action  Action
	Reason  string
}

// Service encapsulates order placement and lifecycle logic.
type Service struct {
	products    ProductLookup
	coupons     CouponRedeemer
	promotions  PromotionRedeemer
	orders      Repository
	fleet       Fleet
	tx          Transactor
	audit       audit.Recorder
	events      Publisher
	tracer      trace.Tracer
	transitions metric.Int64Counter
	now         func() time.Time
}

// NewService creates an order Service.
func NewService(d Deps) *Service {
	counter, err := d.Meter.Meter("marketplace/order").Int64Counter("marketplace.order.transitions",
		metric.WithDescription("Order status transitions by action"),
	)
	if err != nil {
		counter = noop.Int64Counter{}
	}
	events := d.Events
	if events == nil {
		events = NopPublisher{}
	}
	return &Service{
		products:    d.Products,
		coupons:     d.Coupons,
		promotions:  d.Promotions,
		orders:      d.Orders,
		fleet:       d.Fleet,
		tx:          d.Tx,
		audit:       d.Audit,
		events:      events,
		tracer:      d.Tracer.Tracer("marketplace/order"),
		transitions: counter,
		now:         time.Now,
	}
}

// PlaceOrder validates items, prices them with promotions and the optional
// coupon, and persists the order. Promotion and coupon uses are reserved in
// the same transaction as the order insert.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*PlaceOrderResult, error) {
	ctx, span := s.tracer.Start(ctx, "order.PlaceOrder",
		trace.WithAttributes(attribute.Int("order.items", len(req.Items))),
	)
	defer span.End()

	if req.UserID == "" {
		return nil, ErrUserRequired
	}
	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}

	ids := make([]string, len(req.Items))
	for i, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductID: item.ProductID}
		}
		ids[i] = item.ProductID
	}

	var result *PlaceOrderResult
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		products, err := s.loadProducts(ctx, ids)
		if err != nil {
			return err
		}

		lines := make([]promotion.Line, len(req.Items))
		for i, item := range req.Items {
			lines[i] = promotion.Line{
				ProductID: item.ProductID,
				UnitPrice: products[i].Price,
				Quantity:  item.Quantity,
			}
		}
		applied, err := s.promotions.Redeem(ctx, lines, req.UserID)
		if err != nil {
			return errors.Wrap(err, "apply promotions")
		}

		o := &Order{
			ID:                uuid.New().String(),
			UserID:            req.UserID,
			SellerID:          products[0].SellerID,
			Status:            StatusPending,
			PaymentStatus:     PaymentPending,
			Items:             make([]Item, len(req.Items)),
			Subtotal:          decimal.Zero,
			PromotionDiscount: decimal.Zero,
			CouponDiscount:    decimal.Zero,
			DeliveryLocation:  req.DeliveryLocation,
			CreatedAt:         s.now(),
		}
		o.UpdatedAt = o.CreatedAt
		for i, l := range lines {
			o.Items[i] = Item{
				ProductID:   l.ProductID,
				Quantity:    l.Quantity,
				UnitPrice:   l.UnitPrice,
				Discount:    applied[i].Discount,
				PromotionID: applied[i].PromotionID,
			}
			o.Subtotal = o.Subtotal.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
			o.PromotionDiscount = o.PromotionDiscount.Add(applied[i].Discount)
		}

		if req.CouponCode != "" {
			res, err := s.coupons.Redeem(ctx, coupon.ValidateRequest{
				Code:   req.CouponCode,
				Amount: o.Subtotal.Sub(o.PromotionDiscount),
				UserID: req.UserID,
			})
			if err != nil {
				return errors.Wrap(err, "redeem coupon")
			}
			o.CouponCode = res.Coupon.Code
			o.CouponDiscount = res.Discount
		}

		// Total = subtotal - discounts, floored at zero and rounded to 2 decimal places.
		o.Total = o.Subtotal.Sub(o.PromotionDiscount).Sub(o.CouponDiscount)
		if o.Total.IsNegative() {
			o.Total = decimal.Zero
		}
		o.Subtotal = o.Subtotal.Round(2)
		o.PromotionDiscount = o.PromotionDiscount.Round(2)
		o.CouponDiscount = o.CouponDiscount.Round(2)
		o.Total = o.Total.Round(2)

		if err := s.orders.Create(ctx, o); err != nil {
			return errors.Wrap(err, "create order")
		}
		result = &PlaceOrderResult{Order: o, Products: products}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.String("order.id", result.Order.ID))
	s.publish(ctx, NewEvent(EventCreated, result.Order, result.Order.CreatedAt))
	return result, nil
}

// loadProducts returns the products parallel to ids.
func (s *Service) loadProducts(ctx context.Context, ids []string) ([]product.Product, error) {
	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	byID := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}

	out := make([]product.Product, len(ids))
	for i, id := range ids {
		p, ok := byID[id]
		if !ok {
			return nil, &ProductNotFoundError{ProductID: id}
		}
		if i > 0 && p.SellerID != out[0].SellerID {
			return nil, ErrMixedSellers
		}
		out[i] = p
	}
	return out, nil
}

// Get returns an order visible to the caller.
func (s *Service) Get(ctx context.Context, actor auth.Principal, id string) (*Order, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !visible(actor, o) {
		return nil, ErrNotFound
	}
	return o, nil
}

// List returns the caller's orders: a user's own, a seller's received,
// a delivery person's assigned, or all for admins.
func (s *Service) List(ctx context.Context, actor auth.Principal, limit, offset int) ([]Order, error) {
	f := Filter{Limit: limit, Offset: offset}
	switch actor.Role {
	case auth.RoleUser:
		f.UserID = actor.SubjectID
	case auth.RoleSeller:
		f.SellerID = actor.SubjectID
	case auth.RoleDelivery:
		f.DeliveryPersonID = actor.SubjectID
	case auth.RoleAdmin:
	default:
		return nil, auth.ErrForbidden
	}
	orders, err := s.orders.List(ctx, f)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return orders, nil
}

// Transition applies an action to an order on behalf of actor. Delivering
// or cancelling an assigned order updates the delivery person in the same
// transaction.
func (s *Service) Transition(ctx context.Context, actor auth.Principal, req TransitionRequest) (*Order, error) {
	o, ev, err := s.Apply(ctx, actor, req)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, ev)
	return o, nil
}

// Apply is Transition without publishing. It returns the status change
// event for callers that run it inside a wider transaction and must
// publish only after that transaction commits.
func (s *Service) Apply(ctx context.Context, actor auth.Principal, req TransitionRequest) (*Order, Event, error) {
	ctx, span := s.tracer.Start(ctx, "order.Transition", trace.WithAttributes(
		attribute.String("order.id", req.OrderID),
		attribute.String("order.action", string(req.Action)),
	))
	defer span.End()

	var out *Order
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		o, err := s.orders.GetForUpdate(ctx, req.OrderID)
		if err != nil {
			return err
		}
		if err := authorize(actor, o, req.Action); err != nil {
			return err
		}
		next, err := Transitions.Next(o.Status, req.Action)
		if err != nil {
			return err
		}
		if req.Action == ActionDispatch && o.DeliveryPersonID == "" {
			return ErrNotAssigned
		}

		u := StatusUpdate{Status: next}
		if next == StatusCancelled {
			u.CancelReason = req.Reason
		}
		if err := s.orders.UpdateStatus(ctx, o.ID, u); err != nil {
			return errors.Wrap(err, "update order status")
		}

		if o.DeliveryPersonID != "" {
			switch next {
			case StatusDelivered:
				err = s.fleet.Complete(ctx, o.DeliveryPersonID)
			case StatusCancelled:
				err = s.fleet.Release(ctx, o.DeliveryPersonID)
			}
			if err != nil {
				return err
			}
		}

		if actor.Role == auth.RoleAdmin {
			if err := s.audit.Record(ctx, audit.Entry{
				Action:     "order." + string(req.Action),
				ActorID:    actor.SubjectID,
				EntityType: audit.EntityOrder,
				EntityID:   o.ID,
				Details:    fmt.Sprintf("%s -> %s", o.Status, next),
			}); err != nil {
				return err
			}
		}

		o.Status = next
		o.CancelReason = u.CancelReason
		o.UpdatedAt = s.now()
		out = o
		return nil
	})
	s.count(ctx, req.Action, err)
	if err != nil {
		span.RecordError(err)
		return nil, Event{}, err
	}
	return out, NewEvent(EventStatusChanged, out, out.UpdatedAt), nil
}

// UpdatePaymentStatus moves the payment of an order to target.
func (s *Service) UpdatePaymentStatus(ctx context.Context, actor auth.Principal, id string, target PaymentStatus) (*Order, error) {
	if err := actor.Require(auth.RoleAdmin); err != nil {
		return nil, err
	}

	var out *Order
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		o, err := s.orders.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		next, err := PaymentTransitions.Next(o.PaymentStatus, target)
		if err != nil {
			return err
		}
		if err := s.orders.UpdatePayment(ctx, id, next); err != nil {
			return errors.Wrap(err, "update payment status")
		}
		if err := s.audit.Record(ctx, audit.Entry{
			Action:     "order.payment",
			ActorID:    actor.SubjectID,
			EntityType: audit.EntityOrder,
			EntityID:   id,
			Details:    fmt.Sprintf("%s -> %s", o.PaymentStatus, next),
		}); err != nil {
			return err
		}
		o.PaymentStatus = next
		o.UpdatedAt = s.now()
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, NewEvent(EventPaymentChanged, out, out.UpdatedAt))
	return out, nil
}

// Announce publishes an event for a change made outside this service.
func (s *Service) Announce(ctx context.Context, typ EventType, o *Order) {
	s.publish(ctx, NewEvent(typ, o, s.now()))
}

// Publish sends events for changes committed by the caller.
func (s *Service) Publish(ctx context.Context, events ...Event) {
	s.publish(ctx, events...)
}

// publish never fails the caller: the change is already committed.
func (s *Service) publish(ctx context.Context, events ...Event) {
	if err := s.events.Publish(ctx, events...); err != nil {
		zctx.From(ctx).Warn("Publish order events",
			zap.Error(err),
			zap.Int("count", len(events)),
		)
	}
}

func (s *Service) count(ctx context.Context, action Action, err error) {
	outcome := "ok"
	if err != nil {
		outcome = fault.KindOf(err).String()
	}
	s.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", string(action)),
		attribute.String("outcome", outcome),
	))
}

// authorize checks that actor may apply action to o.
func authorize(actor auth.Principal, o *Order, action Action) error {
	switch actor.Role {
	case auth.RoleAdmin:
		return nil
	case auth.RoleSeller:
		if o.SellerID != actor.SubjectID {
			return ErrNotFound
		}
		if action == ActionPrepare || action == ActionMarkReady || action == ActionCancel {
			return nil
		}
	case auth.RoleDelivery:
		if o.DeliveryPersonID != actor.SubjectID {
			return ErrNotFound
		}
		if action == ActionDispatch || action == ActionDeliver {
			return nil
		}
	case auth.RoleUser:
		if o.UserID != actor.SubjectID {
			return ErrNotFound
		}
		if action == ActionCancel {
			if o.Status != StatusPending {
				return ErrNotCancellable
			}
			return nil
		}
	}
	return auth.ErrForbidden
}

func visible(actor auth.Principal, o *Order) bool {
	switch actor.Role {
	case auth.RoleAdmin:
		return true
	case auth.RoleSeller:
		return o.SellerID == actor.SubjectID
	case auth.RoleDelivery:
		return o.DeliveryPersonID == actor.SubjectID
	case auth.RoleUser:
		return o.UserID == actor.SubjectID
	}
	return false
}
