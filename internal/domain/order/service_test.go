package order

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/xenking/marketplace/internal/domain/audit"
	"github.com/xenking/marketplace/internal/domain/auth"
	"github.com/xenking/marketplace/internal/domain/coupon"
	"github.com/xenking/marketplace/internal/domain/fault"
	"github.com/xenking/marketplace/internal/domain/fsm"
	"github.com/xenking/marketplace/internal/domain/product"
	"github.com/xenking/marketplace/internal/domain/promotion"
)

// --- Mock implementations ---

type mockProductRepo struct {
	byID   map[string]product.Product
	getErr error
}

func (m *mockProductRepo) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	var out []product.Product
	for _, id := range ids {
		if p, ok := m.byID[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

type mockCoupons struct {
	discount decimal.Decimal
	err      error
	got      []coupon.ValidateRequest
}

func (m *mockCoupons) Redeem(_ context.Context, req coupon.ValidateRequest) (*coupon.Result, error) {
	m.got = append(m.got, req)
	if m.err != nil {
		return nil, m.err
	}
	return &coupon.Result{
		Discount: m.discount,
		Coupon:   &coupon.Coupon{Code: coupon.NormalizeCode(req.Code)},
	}, nil
}

type mockPromotions struct {
	perProduct map[string]promotion.Applied
	err        error
}

func (m *mockPromotions) Redeem(_ context.Context, lines []promotion.Line, _ string) ([]promotion.Applied, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := make([]promotion.Applied, len(lines))
	for i, l := range lines {
		a, ok := m.perProduct[l.ProductID]
		if !ok {
			out[i] = promotion.Applied{UnitDiscount: decimal.Zero, Discount: decimal.Zero}
			continue
		}
		a.Discount = a.UnitDiscount.Mul(decimal.NewFromInt(int64(l.Quantity)))
		out[i] = a
	}
	return out, nil
}

type memOrders struct {
	orders    map[string]*Order
	createErr error
}

func newMemOrders(orders ...*Order) *memOrders {
	m := &memOrders{orders: map[string]*Order{}}
	for _, o := range orders {
		m.orders[o.ID] = o
	}
	return m
}

func (m *memOrders) Create(_ context.Context, o *Order) error {
	if m.createErr != nil {
		return m.createErr
	}
	cp := *o
	m.orders[o.ID] = &cp
	return nil
}

func (m *memOrders) Get(_ context.Context, id string) (*Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memOrders) GetForUpdate(ctx context.Context, id string) (*Order, error) {
	return m.Get(ctx, id)
}

func (m *memOrders) List(_ context.Context, f Filter) ([]Order, error) {
	var out []Order
	for _, o := range m.orders {
		if f.UserID != "" && o.UserID != f.UserID {
			continue
		}
		if f.SellerID != "" && o.SellerID != f.SellerID {
			continue
		}
		if f.DeliveryPersonID != "" && o.DeliveryPersonID != f.DeliveryPersonID {
			continue
		}
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memOrders) UpdateStatus(_ context.Context, id string, u StatusUpdate) error {
	o, ok := m.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.Status = u.Status
	o.CancelReason = u.CancelReason
	return nil
}

func (m *memOrders) UpdatePayment(_ context.Context, id string, status PaymentStatus) error {
	o, ok := m.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.PaymentStatus = status
	return nil
}

func (m *memOrders) AssignCourier(_ context.Context, id, personID string) error {
	o, ok := m.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.DeliveryPersonID = personID
	return nil
}

type fleetCalls struct {
	completed []string
	released  []string
	err       error
}

func (f *fleetCalls) Complete(_ context.Context, personID string) error {
	f.completed = append(f.completed, personID)
	return f.err
}

func (f *fleetCalls) Release(_ context.Context, personID string) error {
	f.released = append(f.released, personID)
	return f.err
}

type passTx struct{}

func (passTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

type captureAudit struct {
	entries []audit.Entry
}

func (c *captureAudit) Record(_ context.Context, e audit.Entry) error {
	c.entries = append(c.entries, e)
	return nil
}

type capturePublisher struct {
	events []Event
	err    error
}

func (c *capturePublisher) Publish(_ context.Context, events ...Event) error {
	c.events = append(c.events, events...)
	return c.err
}

// --- Helpers ---

type fixture struct {
	products   *mockProductRepo
	coupons    *mockCoupons
	promotions *mockPromotions
	orders     *memOrders
	fleet      *fleetCalls
	audit      *captureAudit
	events     *capturePublisher
	svc        *Service
}

var fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func newFixture(products ...product.Product) *fixture {
	f := &fixture{
		products:   &mockProductRepo{byID: map[string]product.Product{}},
		coupons:    &mockCoupons{},
		promotions: &mockPromotions{},
		orders:     newMemOrders(),
		fleet:      &fleetCalls{},
		audit:      &captureAudit{},
		events:     &capturePublisher{},
	}
	for _, p := range products {
		f.products.byID[p.ID] = p
	}
	f.svc = NewService(Deps{
		Products:   f.products,
		Coupons:    f.coupons,
		Promotions: f.promotions,
		Orders:     f.orders,
		Fleet:      f.fleet,
		Tx:         passTx{},
		Audit:      f.audit,
		Events:     f.events,
		Tracer:     tracenoop.NewTracerProvider(),
		Meter:      metricnoop.NewMeterProvider(),
	})
	f.svc.now = func() time.Time { return fixedNow }
	return f
}

func newTestProduct(id, seller, price string) product.Product {
	return product.Product{
		ID:       id,
		SellerID: seller,
		Name:     "Product " + id,
		Price:    decimal.RequireFromString(price),
		Category: "test",
	}
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

var (
	userU1   = auth.Principal{SubjectID: "u1", Role: auth.RoleUser}
	sellerS1 = auth.Principal{SubjectID: "s1", Role: auth.RoleSeller}
	courierD = auth.Principal{SubjectID: "d1", Role: auth.RoleDelivery}
	admin    = auth.Principal{SubjectID: "a1", Role: auth.RoleAdmin}
)

// --- PlaceOrder ---

func TestPlaceOrder_Validation(t *testing.T) {
	f := newFixture(newTestProduct("p1", "s1", "10"), newTestProduct("p2", "s2", "10"))
	ctx := context.Background()

	_, err := f.svc.PlaceOrder(ctx, PlaceOrderRequest{UserID: "u1"})
	require.ErrorIs(t, err, ErrEmptyItems)

	_, err = f.svc.PlaceOrder(ctx, PlaceOrderRequest{Items: []ItemRequest{{ProductID: "p1", Quantity: 1}}})
	require.ErrorIs(t, err, ErrUserRequired)

	_, err = f.svc.PlaceOrder(ctx, PlaceOrderRequest{UserID: "u1", Items: []ItemRequest{{ProductID: "p1", Quantity: 0}}})
	var iqErr *InvalidQuantityError
	require.ErrorAs(t, err, &iqErr)
	assert.Equal(t, "p1", iqErr.ProductID)

	_, err = f.svc.PlaceOrder(ctx, PlaceOrderRequest{UserID: "u1", Items: []ItemRequest{{ProductID: "missing", Quantity: 1}}})
	var pnfErr *ProductNotFoundError
	require.ErrorAs(t, err, &pnfErr)
	assert.Equal(t, "missing", pnfErr.ProductID)
	assert.Equal(t, fault.Validation, fault.KindOf(err))

	_, err = f.svc.PlaceOrder(ctx, PlaceOrderRequest{UserID: "u1", Items: []ItemRequest{
		{ProductID: "p1", Quantity: 1},
		{ProductID: "p2", Quantity: 1},
	}})
	require.ErrorIs(t, err, ErrMixedSellers)

	assert.Empty(t, f.orders.orders)
	assert.Empty(t, f.events.events)
}

func TestPlaceOrder_NoDiscounts(t *testing.T) {
	f := newFixture(newTestProduct("p1", "s1", "10.00"), newTestProduct("p2", "s1", "20.00"))

	result, err := f.svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		UserID: "u1",
		Items: []ItemRequest{
			{ProductID: "p1", Quantity: 2},
			{ProductID: "p2", Quantity: 1},
		},
	})
	require.NoError(t, err)

	o := result.Order
	assert.True(t, dec("40").Equal(o.Subtotal))
	assert.True(t, dec("40").Equal(o.Total))
	assert.True(t, o.PromotionDiscount.IsZero())
	assert.True(t, o.CouponDiscount.IsZero())
	assert.Equal(t, "s1", o.SellerID)
	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, PaymentPending, o.PaymentStatus)
	assert.Len(t, result.Products, 2)
	assert.Empty(t, f.coupons.got, "no coupon code means no redemption")

	require.Len(t, f.events.events, 1)
	assert.Equal(t, EventCreated, f.events.events[0].Type)
	assert.Equal(t, o.ID, f.events.events[0].OrderID)
}

func TestPlaceOrder_PromotionThenCoupon(t *testing.T) {
	f := newFixture(newTestProduct("p1", "s1", "100.00"), newTestProduct("p2", "s1", "50.00"))
	f.promotions.perProduct = map[string]promotion.Applied{
		"p1": {PromotionID: "promo-1", UnitDiscount: dec("10")},
	}
	f.coupons.discount = dec("25.50")

	result, err := f.svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		UserID: "u1",
		Items: []ItemRequest{
			{ProductID: "p1", Quantity: 2},
			{ProductID: "p2", Quantity: 1},
		},
		CouponCode: "save10",
	})
	require.NoError(t, err)

	o := result.Order
	assert.True(t, dec("250").Equal(o.Subtotal))
	assert.True(t, dec("20").Equal(o.PromotionDiscount))
	assert.True(t, dec("25.5").Equal(o.CouponDiscount))
	assert.True(t, dec("204.5").Equal(o.Total))
	assert.Equal(t, "SAVE10", o.CouponCode)
	assert.Equal(t, "promo-1", o.Items[0].PromotionID)
	assert.True(t, dec("20").Equal(o.Items[0].Discount))
	assert.Empty(t, o.Items[1].PromotionID)

	require.Len(t, f.coupons.got, 1)
	assert.True(t, dec("230").Equal(f.coupons.got[0].Amount), "coupon applies to the post-promotion subtotal")
	assert.Equal(t, "u1", f.coupons.got[0].UserID)
}

func TestPlaceOrder_TotalFlooredAtZero(t *testing.T) {
	f := newFixture(newTestProduct("p1", "s1", "10.00"))
	f.coupons.discount = dec("50")

	result, err := f.svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		UserID:     "u1",
		Items:      []ItemRequest{{ProductID: "p1", Quantity: 1}},
		CouponCode: "BIG",
	})
	require.NoError(t, err)
	assert.True(t, result.Order.Total.IsZero())
}

func TestPlaceOrder_CouponRejected(t *testing.T) {
	f := newFixture(newTestProduct("p1", "s1", "10.00"))
	f.coupons.err = coupon.ErrPerUserLimitReached

	_, err := f.svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		UserID:     "u1",
		Items:      []ItemRequest{{ProductID: "p1", Quantity: 1}},
		CouponCode: "PROMO10",
	})
	require.ErrorIs(t, err, coupon.ErrPerUserLimitReached)
	assert.Equal(t, fault.LimitExceeded, fault.KindOf(err))
	assert.Equal(t, "coupon usage limit per user reached", fault.Message(err))
	assert.Empty(t, f.orders.orders)
	assert.Empty(t, f.events.events)
}

func TestPlaceOrder_PromotionExhausted(t *testing.T) {
	f := newFixture(newTestProduct("p1", "s1", "10.00"))
	f.promotions.err = promotion.ErrPromotionExhausted

	_, err := f.svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		UserID: "u1",
		Items:  []ItemRequest{{ProductID: "p1", Quantity: 1}},
	})
	require.ErrorIs(t, err, promotion.ErrPromotionExhausted)
	assert.Empty(t, f.orders.orders)
}

func TestPlaceOrder_RepositoryErrors(t *testing.T) {
	f := newFixture(newTestProduct("p1", "s1", "10.00"))
	f.products.getErr = errors.New("connection reset")

	_, err := f.svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		UserID: "u1",
		Items:  []ItemRequest{{ProductID: "p1", Quantity: 1}},
	})
	require.Error(t, err)
	assert.Equal(t, fault.Internal, fault.KindOf(err))
	assert.Equal(t, "internal server error", fault.Message(err))

	f.products.getErr = nil
	f.orders.createErr = errors.New("duplicate key")
	_, err = f.svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		UserID: "u1",
		Items:  []ItemRequest{{ProductID: "p1", Quantity: 1}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create order")
}

func TestPlaceOrder_PublishFailureDoesNotFail(t *testing.T) {
	f := newFixture(newTestProduct("p1", "s1", "10.00"))
	f.events.err = errors.New("broker down")

	result, err := f.svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		UserID: "u1",
		Items:  []ItemRequest{{ProductID: "p1", Quantity: 1}},
	})
	require.NoError(t, err)
	assert.Contains(t, f.orders.orders, result.Order.ID)
}

// --- Lifecycle ---

func seedOrder(f *fixture, status Status, courier string) *Order {
	o := &Order{
		ID:               "o1",
		UserID:           "u1",
		SellerID:         "s1",
		Status:           status,
		PaymentStatus:    PaymentPending,
		DeliveryPersonID: courier,
	}
	f.orders.orders[o.ID] = o
	return o
}

func TestTransitions_Table(t *testing.T) {
	valid := []struct {
		from   Status
		action Action
		to     Status
	}{
		{StatusPending, ActionPrepare, StatusPreparing},
		{StatusPreparing, ActionMarkReady, StatusReady},
		{StatusReady, ActionDispatch, StatusDelivering},
		{StatusDelivering, ActionDeliver, StatusDelivered},
		{StatusPending, ActionCancel, StatusCancelled},
		{StatusDelivering, ActionCancel, StatusCancelled},
	}
	for _, tt := range valid {
		got, err := Transitions.Next(tt.from, tt.action)
		require.NoError(t, err, "%s/%s", tt.from, tt.action)
		assert.Equal(t, tt.to, got)
	}

	invalid := []struct {
		from   Status
		action Action
	}{
		{StatusDelivered, ActionPrepare},
		{StatusDelivered, ActionCancel},
		{StatusCancelled, ActionPrepare},
		{StatusPending, ActionDeliver},
		{StatusPreparing, ActionDispatch},
	}
	for _, tt := range invalid {
		_, err := Transitions.Next(tt.from, tt.action)
		var tErr *fsm.TransitionError
		require.ErrorAs(t, err, &tErr, "%s/%s", tt.from, tt.action)
	}

	assert.True(t, Transitions.Terminal(StatusDelivered))
	assert.True(t, Transitions.Terminal(StatusCancelled))
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("out_for_delivery")
	require.NoError(t, err)
	assert.Equal(t, StatusDelivering, s)

	s, err = ParseStatus("delivered")
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, s)

	_, err = ParseStatus("shipped")
	assert.Equal(t, fault.Validation, fault.KindOf(err))

	_, err = ActionFor(StatusPending)
	assert.Equal(t, fault.Validation, fault.KindOf(err))
}

func TestTransition_Authorization(t *testing.T) {
	tests := []struct {
		name    string
		actor   auth.Principal
		status  Status
		courier string
		action  Action
		want    Status
		wantErr error
	}{
		{name: "seller prepares own order", actor: sellerS1, status: StatusPending, action: ActionPrepare, want: StatusPreparing},
		{name: "seller marks ready", actor: sellerS1, status: StatusPreparing, action: ActionMarkReady, want: StatusReady},
		{name: "other seller is hidden", actor: auth.Principal{SubjectID: "s2", Role: auth.RoleSeller}, status: StatusPending, action: ActionPrepare, wantErr: ErrNotFound},
		{name: "seller cannot deliver", actor: sellerS1, status: StatusDelivering, courier: "d1", action: ActionDeliver, wantErr: auth.ErrForbidden},
		{name: "courier dispatches", actor: courierD, status: StatusReady, courier: "d1", action: ActionDispatch, want: StatusDelivering},
		{name: "courier cannot prepare", actor: courierD, status: StatusPending, courier: "d1", action: ActionPrepare, wantErr: auth.ErrForbidden},
		{name: "unassigned courier is hidden", actor: courierD, status: StatusReady, courier: "d2", action: ActionDispatch, wantErr: ErrNotFound},
		{name: "user cancels pending", actor: userU1, status: StatusPending, action: ActionCancel, want: StatusCancelled},
		{name: "user cannot cancel started order", actor: userU1, status: StatusPreparing, action: ActionCancel, wantErr: ErrNotCancellable},
		{name: "user cannot prepare", actor: userU1, status: StatusPending, action: ActionPrepare, wantErr: auth.ErrForbidden},
		{name: "admin may do anything valid", actor: admin, status: StatusReady, courier: "d1", action: ActionDispatch, want: StatusDelivering},
		{name: "dispatch requires courier", actor: admin, status: StatusReady, action: ActionDispatch, wantErr: ErrNotAssigned},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			seedOrder(f, tt.status, tt.courier)

			got, err := f.svc.Transition(context.Background(), tt.actor, TransitionRequest{OrderID: "o1", Action: tt.action})
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, tt.status, f.orders.orders["o1"].Status, "rejected transition leaves status untouched")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Status)
			assert.Equal(t, tt.want, f.orders.orders["o1"].Status)
		})
	}
}

func TestTransition_IllegalEdgeRejected(t *testing.T) {
	f := newFixture()
	seedOrder(f, StatusDelivered, "d1")

	_, err := f.svc.Transition(context.Background(), admin, TransitionRequest{OrderID: "o1", Action: ActionPrepare})
	var tErr *fsm.TransitionError
	require.ErrorAs(t, err, &tErr)
	assert.Equal(t, fault.Conflict, fault.KindOf(err))
	assert.Equal(t, StatusDelivered, f.orders.orders["o1"].Status)
	assert.Empty(t, f.events.events)
}

func TestTransition_FleetCoupling(t *testing.T) {
	t.Run("delivered completes courier", func(t *testing.T) {
		f := newFixture()
		seedOrder(f, StatusDelivering, "d1")

		_, err := f.svc.Transition(context.Background(), courierD, TransitionRequest{OrderID: "o1", Action: ActionDeliver})
		require.NoError(t, err)
		assert.Equal(t, []string{"d1"}, f.fleet.completed)
		assert.Empty(t, f.fleet.released)
	})

	t.Run("cancel releases courier", func(t *testing.T) {
		f := newFixture()
		seedOrder(f, StatusReady, "d1")

		got, err := f.svc.Transition(context.Background(), sellerS1, TransitionRequest{OrderID: "o1", Action: ActionCancel, Reason: "out of stock"})
		require.NoError(t, err)
		assert.Equal(t, "out of stock", got.CancelReason)
		assert.Equal(t, []string{"d1"}, f.fleet.released)
		assert.Empty(t, f.fleet.completed)
	})

	t.Run("cancel without courier touches no one", func(t *testing.T) {
		f := newFixture()
		seedOrder(f, StatusPending, "")

		_, err := f.svc.Transition(context.Background(), userU1, TransitionRequest{OrderID: "o1", Action: ActionCancel})
		require.NoError(t, err)
		assert.Empty(t, f.fleet.released)
	})

	t.Run("fleet failure aborts", func(t *testing.T) {
		f := newFixture()
		seedOrder(f, StatusDelivering, "d1")
		f.fleet.err = errors.New("lock timeout")

		_, err := f.svc.Transition(context.Background(), courierD, TransitionRequest{OrderID: "o1", Action: ActionDeliver})
		require.Error(t, err)
		assert.Empty(t, f.events.events)
	})
}

func TestTransition_AdminAudited(t *testing.T) {
	f := newFixture()
	seedOrder(f, StatusPending, "")

	_, err := f.svc.Transition(context.Background(), admin, TransitionRequest{OrderID: "o1", Action: ActionCancel})
	require.NoError(t, err)
	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, "order.cancel", f.audit.entries[0].Action)
	assert.Equal(t, "pending -> cancelled", f.audit.entries[0].Details)

	require.Len(t, f.events.events, 1)
	assert.Equal(t, EventStatusChanged, f.events.events[0].Type)
	assert.Equal(t, StatusCancelled, f.events.events[0].Status)
}

func TestUpdatePaymentStatus(t *testing.T) {
	f := newFixture()
	seedOrder(f, StatusPending, "")
	ctx := context.Background()

	_, err := f.svc.UpdatePaymentStatus(ctx, userU1, "o1", PaymentCompleted)
	require.ErrorIs(t, err, auth.ErrForbidden)

	_, err = f.svc.UpdatePaymentStatus(ctx, admin, "o1", PaymentCompleted)
	var tErr *fsm.TransitionError
	require.ErrorAs(t, err, &tErr)

	steps := []PaymentStatus{PaymentProcessing, PaymentFailed, PaymentProcessing, PaymentCompleted, PaymentRefunded}
	for _, step := range steps {
		got, err := f.svc.UpdatePaymentStatus(ctx, admin, "o1", step)
		require.NoError(t, err, step)
		assert.Equal(t, step, got.PaymentStatus)
	}
	assert.Equal(t, PaymentRefunded, f.orders.orders["o1"].PaymentStatus)
	assert.Len(t, f.audit.entries, len(steps))
}

func TestGetAndList_Visibility(t *testing.T) {
	f := newFixture()
	seedOrder(f, StatusReady, "d1")
	f.orders.orders["o2"] = &Order{ID: "o2", UserID: "u2", SellerID: "s2", Status: StatusPending}
	ctx := context.Background()

	_, err := f.svc.Get(ctx, userU1, "o1")
	require.NoError(t, err)
	_, err = f.svc.Get(ctx, userU1, "o2")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.Get(ctx, courierD, "o1")
	require.NoError(t, err)
	_, err = f.svc.Get(ctx, admin, "o2")
	require.NoError(t, err)

	list, err := f.svc.List(ctx, sellerS1, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "o1", list[0].ID)

	list, err = f.svc.List(ctx, admin, 10, 0)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = f.svc.List(ctx, auth.Principal{}, 10, 0)
	require.ErrorIs(t, err, auth.ErrForbidden)
}
