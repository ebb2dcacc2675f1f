package delivery

import (
	"context"
	"sync"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/xenking/marketplace/internal/domain/audit"
	"github.com/xenking/marketplace/internal/domain/auth"
	"github.com/xenking/marketplace/internal/domain/fault"
	"github.com/xenking/marketplace/internal/domain/fsm"
	"github.com/xenking/marketplace/internal/domain/order"
)

// memStore holds orders and delivery persons. It implements both
// order.Repository and Repository.
type memStore struct {
	mu      sync.Mutex
	orders  map[string]*order.Order
	persons map[string]*Person

	locationErr error
}

func newMemStore() *memStore {
	return &memStore{orders: map[string]*order.Order{}, persons: map[string]*Person{}}
}

func (m *memStore) Create(_ context.Context, o *order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *o
	m.orders[o.ID] = &cp
	return nil
}

func (m *memStore) getOrder(id string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memStore) List(context.Context, order.Filter) ([]order.Order, error) { return nil, nil }

func (m *memStore) UpdateStatus(_ context.Context, id string, u order.StatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[id].Status = u.Status
	return nil
}

func (m *memStore) UpdatePayment(_ context.Context, id string, s order.PaymentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[id].PaymentStatus = s
	return nil
}

func (m *memStore) AssignCourier(_ context.Context, id, personID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[id].DeliveryPersonID = personID
	return nil
}

// orderView adapts the order methods whose names collide with person ones.
type orderView struct{ *memStore }

func (v orderView) Get(_ context.Context, id string) (*order.Order, error) { return v.getOrder(id) }

func (v orderView) GetForUpdate(_ context.Context, id string) (*order.Order, error) {
	return v.getOrder(id)
}

func (m *memStore) Get(_ context.Context, id string) (*Person, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.persons[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) GetForUpdate(ctx context.Context, id string) (*Person, error) {
	return m.Get(ctx, id)
}

func (m *memStore) SetStatus(_ context.Context, id string, s Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.persons[id].Status = s
	return nil
}

func (m *memStore) SetLocation(_ context.Context, id, loc string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locationErr != nil {
		return m.locationErr
	}
	m.persons[id].CurrentLocation = loc
	return nil
}

func (m *memStore) IncrementDeliveries(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.persons[id].DeliveryCount++
	return nil
}

func (m *memStore) CountOpenOrders(_ context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, o := range m.orders {
		if o.DeliveryPersonID == id && o.Open() {
			n++
		}
	}
	return n, nil
}

// serialTx runs transactions one at a time, standing in for the row locks
// taken by the database. Nested calls join the running transaction.
type serialTx struct {
	mu sync.Mutex
}

type inTxKey struct{}

func (s *serialTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(inTxKey{}) != nil {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(context.WithValue(ctx, inTxKey{}, true))
}

type nopAudit struct{}

func (nopAudit) Record(context.Context, audit.Entry) error { return nil }

// recPublisher records events and whether they were sent from inside a
// transaction.
type recPublisher struct {
	mu     sync.Mutex
	events []order.Event
	inTx   int
}

func (p *recPublisher) Publish(ctx context.Context, events ...order.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ctx.Value(inTxKey{}) != nil {
		p.inTx++
	}
	p.events = append(p.events, events...)
	return nil
}

type fixture struct {
	store  *memStore
	events *recPublisher
	orders *order.Service
	svc    *Service
}

func newFixture() *fixture {
	store := newMemStore()
	events := &recPublisher{}
	tx := &serialTx{}
	orders := order.NewService(order.Deps{
		Orders: orderView{store},
		Fleet:  NewFleet(store),
		Tx:     tx,
		Audit:  nopAudit{},
		Events: events,
		Tracer: tracenoop.NewTracerProvider(),
		Meter:  metricnoop.NewMeterProvider(),
	})
	svc := NewService(store, orderView{store}, orders, tx, tracenoop.NewTracerProvider())
	return &fixture{store: store, events: events, orders: orders, svc: svc}
}

func (f *fixture) person(id string, status Status) *Person {
	p := &Person{ID: id, UserID: "user-" + id, Name: id, Status: status}
	f.store.persons[id] = p
	return p
}

func (f *fixture) order(id string, status order.Status, courier string) *order.Order {
	o := &order.Order{ID: id, UserID: "u1", SellerID: "s1", Status: status, DeliveryPersonID: courier}
	f.store.orders[id] = o
	return o
}

var (
	seller = auth.Principal{SubjectID: "s1", Role: auth.RoleSeller}
	admin  = auth.Principal{SubjectID: "a1", Role: auth.RoleAdmin}
)

func TestAssign(t *testing.T) {
	tests := []struct {
		name        string
		actor       auth.Principal
		orderStatus order.Status
		courier     string
		person      Status
		wantErr     error
	}{
		{name: "ready order to available person", actor: seller, orderStatus: order.StatusReady, person: StatusAvailable},
		{name: "preparing order to busy person", actor: admin, orderStatus: order.StatusPreparing, person: StatusBusy},
		{name: "offline person", actor: admin, orderStatus: order.StatusReady, person: StatusOffline, wantErr: ErrOffline},
		{name: "pending order", actor: admin, orderStatus: order.StatusPending, person: StatusAvailable, wantErr: ErrNotAssignable},
		{name: "delivered order", actor: admin, orderStatus: order.StatusDelivered, person: StatusAvailable, wantErr: ErrNotAssignable},
		{name: "already assigned", actor: admin, orderStatus: order.StatusReady, courier: "d9", person: StatusAvailable, wantErr: ErrAlreadyAssigned},
		{name: "foreign seller", actor: auth.Principal{SubjectID: "s2", Role: auth.RoleSeller}, orderStatus: order.StatusReady, person: StatusAvailable, wantErr: order.ErrNotFound},
		{name: "user cannot assign", actor: auth.Principal{SubjectID: "u1", Role: auth.RoleUser}, orderStatus: order.StatusReady, person: StatusAvailable, wantErr: auth.ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.person("d1", tt.person)
			f.order("o1", tt.orderStatus, tt.courier)

			got, err := f.svc.Assign(context.Background(), tt.actor, AssignRequest{OrderID: "o1", PersonID: "d1"})
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, tt.person, f.store.persons["d1"].Status)
				assert.Equal(t, tt.courier, f.store.orders["o1"].DeliveryPersonID)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "d1", got.DeliveryPersonID)
			assert.Equal(t, "d1", f.store.orders["o1"].DeliveryPersonID)
			assert.Equal(t, StatusBusy, f.store.persons["d1"].Status)
		})
	}

	t.Run("unknown person", func(t *testing.T) {
		f := newFixture()
		f.order("o1", order.StatusReady, "")
		_, err := f.svc.Assign(context.Background(), admin, AssignRequest{OrderID: "o1", PersonID: "ghost"})
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestUpdateOrderStatus_DeliverReleasesPerson(t *testing.T) {
	f := newFixture()
	f.person("d1", StatusBusy)
	f.order("o1", order.StatusReady, "d1")
	ctx := context.Background()

	o, err := f.svc.UpdateOrderStatus(ctx, "d1", OrderStatusRequest{OrderID: "o1", Status: "out_for_delivery", Location: "Main St"})
	require.NoError(t, err)
	assert.Equal(t, order.StatusDelivering, o.Status)
	assert.Equal(t, StatusBusy, f.store.persons["d1"].Status)
	assert.Equal(t, "Main St", f.store.persons["d1"].CurrentLocation)

	o, err = f.svc.UpdateOrderStatus(ctx, "d1", OrderStatusRequest{OrderID: "o1", Status: "delivered"})
	require.NoError(t, err)
	assert.Equal(t, order.StatusDelivered, o.Status)

	p := f.store.persons["d1"]
	assert.Equal(t, StatusAvailable, p.Status)
	assert.Equal(t, 1, p.DeliveryCount)
}

func TestUpdateOrderStatus_Rejections(t *testing.T) {
	f := newFixture()
	f.person("d1", StatusBusy)
	f.person("d2", StatusBusy)
	f.order("o1", order.StatusDelivering, "d1")
	ctx := context.Background()

	_, err := f.svc.UpdateOrderStatus(ctx, "d1", OrderStatusRequest{OrderID: "o1", Status: "preparing"})
	assert.Equal(t, fault.Validation, fault.KindOf(err))

	_, err = f.svc.UpdateOrderStatus(ctx, "d1", OrderStatusRequest{OrderID: "o1", Status: "teleported"})
	assert.Equal(t, fault.Validation, fault.KindOf(err))

	_, err = f.svc.UpdateOrderStatus(ctx, "d2", OrderStatusRequest{OrderID: "o1", Status: "delivered"})
	require.ErrorIs(t, err, order.ErrNotFound)

	_, err = f.svc.UpdateOrderStatus(ctx, "d1", OrderStatusRequest{OrderID: "o1", Status: "delivered"})
	require.NoError(t, err)

	// Delivered is terminal: a repeat must not count twice.
	_, err = f.svc.UpdateOrderStatus(ctx, "d1", OrderStatusRequest{OrderID: "o1", Status: "delivered"})
	var tErr *fsm.TransitionError
	require.ErrorAs(t, err, &tErr)
	assert.Equal(t, 1, f.store.persons["d1"].DeliveryCount)
}

func TestUpdateOrderStatus_TwoOrdersOnePerson(t *testing.T) {
	f := newFixture()
	f.person("d1", StatusBusy)
	f.order("o1", order.StatusDelivering, "d1")
	f.order("o2", order.StatusDelivering, "d1")
	ctx := context.Background()

	_, err := f.svc.UpdateOrderStatus(ctx, "d1", OrderStatusRequest{OrderID: "o1", Status: "delivered"})
	require.NoError(t, err)
	assert.Equal(t, StatusBusy, f.store.persons["d1"].Status, "still carrying o2")
	assert.Equal(t, 1, f.store.persons["d1"].DeliveryCount)

	_, err = f.svc.UpdateOrderStatus(ctx, "d1", OrderStatusRequest{OrderID: "o2", Status: "delivered"})
	require.NoError(t, err)
	assert.Equal(t, StatusAvailable, f.store.persons["d1"].Status)
	assert.Equal(t, 2, f.store.persons["d1"].DeliveryCount)
}

func TestUpdateOrderStatus_EventsAfterCommit(t *testing.T) {
	tests := []struct {
		name        string
		locationErr error
		wantEvents  int
	}{
		{name: "committed", wantEvents: 1},
		{name: "rolled back", locationErr: errors.New("connection reset"), wantEvents: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.person("d1", StatusBusy)
			f.order("o1", order.StatusReady, "d1")
			f.store.locationErr = tt.locationErr

			_, err := f.svc.UpdateOrderStatus(context.Background(), "d1", OrderStatusRequest{
				OrderID:  "o1",
				Status:   "out_for_delivery",
				Location: "Main St",
			})
			if tt.locationErr != nil {
				require.ErrorIs(t, err, tt.locationErr)
			} else {
				require.NoError(t, err)
			}

			require.Len(t, f.events.events, tt.wantEvents)
			assert.Zero(t, f.events.inTx)
			for _, ev := range f.events.events {
				assert.Equal(t, order.EventStatusChanged, ev.Type)
				assert.Equal(t, order.StatusDelivering, ev.Status)
			}
		})
	}
}

func TestUpdateOrderStatus_ConcurrentDeliveries(t *testing.T) {
	f := newFixture()
	f.person("d1", StatusBusy)
	const n = 8
	ids := make([]string, n)
	for i := range n {
		ids[i] = "o" + string(rune('a'+i))
		f.order(ids[i], order.StatusDelivering, "d1")
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.svc.UpdateOrderStatus(context.Background(), "d1", OrderStatusRequest{OrderID: id, Status: "delivered"})
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	p := f.store.persons["d1"]
	assert.Equal(t, n, p.DeliveryCount)
	assert.Equal(t, StatusAvailable, p.Status)
}

func TestCancelAssignedOrderReleasesPerson(t *testing.T) {
	f := newFixture()
	f.person("d1", StatusAvailable)
	f.order("o1", order.StatusReady, "")
	ctx := context.Background()

	_, err := f.svc.Assign(ctx, seller, AssignRequest{OrderID: "o1", PersonID: "d1"})
	require.NoError(t, err)
	require.Equal(t, StatusBusy, f.store.persons["d1"].Status)

	_, err = f.orders.Transition(ctx, seller, order.TransitionRequest{OrderID: "o1", Action: order.ActionCancel})
	require.NoError(t, err)

	p := f.store.persons["d1"]
	assert.Equal(t, StatusAvailable, p.Status)
	assert.Zero(t, p.DeliveryCount)
}

func TestSetStatus(t *testing.T) {
	tests := []struct {
		name      string
		from      Status
		openOrder bool
		target    Status
		want      Status
		wantKind  fault.Kind
		wantErr   bool
	}{
		{name: "go online", from: StatusOffline, target: StatusAvailable, want: StatusAvailable},
		{name: "go offline", from: StatusAvailable, target: StatusOffline, want: StatusOffline},
		{name: "same status keeps", from: StatusAvailable, target: StatusAvailable, want: StatusAvailable},
		{name: "busy to available when idle", from: StatusBusy, target: StatusAvailable, want: StatusAvailable},
		{name: "busy with open order", from: StatusBusy, openOrder: true, target: StatusAvailable, wantErr: true, wantKind: fault.Conflict},
		{name: "busy cannot go offline", from: StatusBusy, target: StatusOffline, wantErr: true, wantKind: fault.Conflict},
		{name: "busy is not selectable", from: StatusAvailable, target: StatusBusy, wantErr: true, wantKind: fault.Validation},
		{name: "unknown", from: StatusAvailable, target: "sleeping", wantErr: true, wantKind: fault.Validation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.person("d1", tt.from)
			if tt.openOrder {
				f.order("o1", order.StatusDelivering, "d1")
			}

			got, err := f.svc.SetStatus(context.Background(), "d1", tt.target, "Dock 4")
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, fault.KindOf(err))
				assert.Equal(t, tt.from, f.store.persons["d1"].Status)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Status)
			assert.Equal(t, "Dock 4", got.CurrentLocation)
			assert.Equal(t, tt.want, f.store.persons["d1"].Status)
		})
	}
}
