// Package kafka publishes order lifecycle events to a Kafka topic.
package kafka

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/segmentio/kafka-go"

	"github.com/xenking/marketplace/internal/domain/order"
)

// MessageWriter is the subset of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

var _ order.Publisher = (*Publisher)(nil)

// Publisher implements order.Publisher. Messages are keyed by order ID so
// all events of an order land on the same partition in order.
type Publisher struct {
	writer MessageWriter
}

// NewPublisher creates a publisher on top of w.
func NewPublisher(w MessageWriter) *Publisher {
	return &Publisher{writer: w}
}

// NewWriter creates a synchronous writer for topic that hashes message keys
// to partitions.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
}

// Publish writes events as JSON messages.
func (p *Publisher) Publish(ctx context.Context, events ...order.Event) error {
	if len(events) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, len(events))
	for i, e := range events {
		msgs[i] = kafka.Message{
			Key:   []byte(e.OrderID),
			Value: EncodeEvent(e),
			Time:  e.At,
			Headers: []kafka.Header{
				{Key: "event-type", Value: []byte(e.Type)},
			},
		}
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return errors.Wrapf(err, "write %d events", len(msgs))
	}
	return nil
}

// EncodeEvent renders the JSON payload of an event.
func EncodeEvent(e order.Event) []byte {
	var enc jx.Encoder
	enc.Obj(func(enc *jx.Encoder) {
		enc.Field("type", func(enc *jx.Encoder) { enc.Str(string(e.Type)) })
		enc.Field("orderId", func(enc *jx.Encoder) { enc.Str(e.OrderID) })
		enc.Field("userId", func(enc *jx.Encoder) { enc.Str(e.UserID) })
		enc.Field("sellerId", func(enc *jx.Encoder) { enc.Str(e.SellerID) })
		enc.Field("status", func(enc *jx.Encoder) { enc.Str(string(e.Status)) })
		enc.Field("paymentStatus", func(enc *jx.Encoder) { enc.Str(string(e.PaymentStatus)) })
		if e.DeliveryPersonID != "" {
			enc.Field("deliveryPersonId", func(enc *jx.Encoder) { enc.Str(e.DeliveryPersonID) })
		}
		enc.Field("at", func(enc *jx.Encoder) { enc.Str(e.At.UTC().Format(time.RFC3339Nano)) })
	})
	return enc.Bytes()
}
