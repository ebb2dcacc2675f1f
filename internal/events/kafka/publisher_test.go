package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/marketplace/internal/domain/order"
)

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func testEvent() order.Event {
	return order.Event{
		Type:             order.EventStatusChanged,
		OrderID:          "order-1",
		UserID:           "user-1",
		SellerID:         "seller-1",
		Status:           order.StatusDelivering,
		PaymentStatus:    order.PaymentCompleted,
		DeliveryPersonID: "courier-1",
		At:               time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestPublisher_Publish(t *testing.T) {
	w := &recordingWriter{}
	p := NewPublisher(w)

	require.NoError(t, p.Publish(context.Background(), testEvent()))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "order-1", string(msg.Key))
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "order.status_changed", string(msg.Headers[0].Value))

	fields := map[string]string{}
	d := jx.DecodeBytes(msg.Value)
	require.NoError(t, d.Obj(func(d *jx.Decoder, key string) error {
		v, err := d.Str()
		fields[key] = v
		return err
	}))
	assert.Equal(t, map[string]string{
		"type":             "order.status_changed",
		"orderId":          "order-1",
		"userId":           "user-1",
		"sellerId":         "seller-1",
		"status":           "delivering",
		"paymentStatus":    "completed",
		"deliveryPersonId": "courier-1",
		"at":               "2024-03-01T12:00:00Z",
	}, fields)
}

func TestPublisher_OmitsEmptyCourier(t *testing.T) {
	e := testEvent()
	e.DeliveryPersonID = ""
	assert.NotContains(t, string(EncodeEvent(e)), "deliveryPersonId")
}

func TestPublisher_NoEvents(t *testing.T) {
	w := &recordingWriter{err: errors.New("must not be called")}
	require.NoError(t, NewPublisher(w).Publish(context.Background()))
}

func TestPublisher_WriteError(t *testing.T) {
	w := &recordingWriter{err: errors.New("broker down")}
	err := NewPublisher(w).Publish(context.Background(), testEvent(), testEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write 2 events")
}

func TestBrokersPing(t *testing.T) {
	require.Error(t, Brokers(nil).Ping(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := Brokers{"127.0.0.1:1"}.Ping(ctx)
	require.ErrorContains(t, err, "dial kafka")
}
