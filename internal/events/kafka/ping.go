package kafka

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"
)

// Brokers checks that at least one bootstrap broker accepts connections.
type Brokers []string

// Ping dials the brokers in order and returns the last dial error when none
// answers.
func (b Brokers) Ping(ctx context.Context) error {
	if len(b) == 0 {
		return errors.New("no brokers configured")
	}
	var lastErr error
	for _, addr := range b {
		conn, err := kafka.DialContext(ctx, "tcp", addr)
		if err != nil {
			lastErr = err
			continue
		}
		if _, err := conn.Brokers(); err != nil {
			lastErr = err
			_ = conn.Close()
			continue
		}
		return conn.Close()
	}
	return errors.Wrap(lastErr, "dial kafka")
}
