// Package fault classifies domain errors into the kinds the HTTP layer maps
// to status codes. Domain packages declare their sentinels with New and
// their typed errors implement Kinded.
package fault

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Kind is the category of a domain failure.
type Kind int

const (
	// Internal is any failure that is not a business-rule violation.
	Internal Kind = iota
	NotFound
	Validation
	Conflict
	LimitExceeded
	Unauthorized
	Forbidden
)

var kindNames = [...]string{
	Internal:      "internal",
	NotFound:      "not_found",
	Validation:    "validation",
	Conflict:      "conflict",
	LimitExceeded: "limit_exceeded",
	Unauthorized:  "unauthorized",
	Forbidden:     "forbidden",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Kinded is implemented by errors that carry a Kind.
type Kinded interface {
	error
	Kind() Kind
}

// Error is a message tagged with a Kind.
type Error struct {
	kind Kind
	msg  string
}

// New returns an error of the given kind. Values returned by New are meant
// to be package-level sentinels compared with errors.Is.
func New(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

// Errorf formats a one-off error of the given kind.
func Errorf(kind Kind, format string, args ...any) error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string { return e.msg }

// Kind reports the error category.
func (e *Error) Kind() Kind { return e.kind }

// KindOf returns the Kind of the first Kinded error in err's chain, or
// Internal when there is none.
func KindOf(err error) Kind {
	var k Kinded
	if errors.As(err, &k) {
		return k.Kind()
	}
	return Internal
}

// Message returns the client-safe message of err. Internal errors never
// expose their text.
func Message(err error) string {
	var k Kinded
	if errors.As(err, &k) && k.Kind() != Internal {
		return k.Error()
	}
	return "internal server error"
}
