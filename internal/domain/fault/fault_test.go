package fault

import (
	"fmt"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	notFound := New(NotFound, "thing not found")

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "sentinel", err: notFound, want: NotFound},
		{name: "wrapped sentinel", err: errors.Wrap(notFound, "lookup"), want: NotFound},
		{name: "fmt wrapped", err: fmt.Errorf("outer: %w", Errorf(Validation, "bad %s", "input")), want: Validation},
		{name: "plain error", err: errors.New("connection reset"), want: Internal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestMessage(t *testing.T) {
	assert.Equal(t, "thing not found", Message(errors.Wrap(New(NotFound, "thing not found"), "lookup")))
	assert.Equal(t, "internal server error", Message(errors.New("pq: relation does not exist")))
	assert.Equal(t, "internal server error", Message(New(Internal, "leaky detail")))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "limit_exceeded", LimitExceeded.String())
	assert.Equal(t, "kind(42)", Kind(42).String())
}
