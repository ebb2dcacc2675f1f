// Package delivery manages delivery persons and their coupling to orders.
package delivery

import (
	"context"
	"time"

	"github.com/xenking/marketplace/internal/domain/fault"
	"github.com/xenking/marketplace/internal/domain/fsm"
)

// Status is the availability of a delivery person.
type Status string

const (
	StatusOffline   Status = "offline"
	StatusAvailable Status = "available"
	StatusBusy      Status = "busy"
)

// Action changes a delivery person's status.
type Action string

const (
	ActionGoOnline  Action = "go_online"
	ActionGoOffline Action = "go_offline"
	ActionAssign    Action = "assign"
	ActionRelease   Action = "release"
)

// Transitions is the delivery person status table.
var Transitions = fsm.New("delivery person",
	fsm.Edge[Status, Action]{From: StatusOffline, Action: ActionGoOnline, To: StatusAvailable},
	fsm.Edge[Status, Action]{From: StatusAvailable, Action: ActionGoOffline, To: StatusOffline},
	fsm.Edge[Status, Action]{From: StatusAvailable, Action: ActionAssign, To: StatusBusy},
	fsm.Edge[Status, Action]{From: StatusBusy, Action: ActionAssign, To: StatusBusy},
	fsm.Edge[Status, Action]{From: StatusBusy, Action: ActionRelease, To: StatusAvailable},
)

var (
	ErrNotFound = fault.New(fault.NotFound, "delivery person not found")
	// ErrOffline is returned when assigning an order to an offline person.
	ErrOffline = fault.New(fault.Conflict, "delivery person is offline")
	// ErrHasOpenOrders is returned when a busy person tries to go
	// available or offline while still carrying orders.
	ErrHasOpenOrders = fault.New(fault.Conflict, "delivery person has open deliveries")
	// ErrAlreadyAssigned is returned when the order already has a
	// delivery person.
	ErrAlreadyAssigned = fault.New(fault.Conflict, "order already has a delivery person")
	// ErrNotAssignable is returned when the order is not being prepared or
	// ready.
	ErrNotAssignable = fault.New(fault.Conflict, "only preparing or ready orders can be assigned")
)

// Person is a courier account.
type Person struct {
	ID              string
	UserID          string
	Name            string
	Status          Status
	CurrentLocation string
	DeliveryCount   int
	UpdatedAt       time.Time
}

// Repository persists delivery persons.
type Repository interface {
	Get(ctx context.Context, id string) (*Person, error)
	// GetForUpdate is Get that locks the person row for the rest of the
	// surrounding transaction.
	GetForUpdate(ctx context.Context, id string) (*Person, error)
	SetStatus(ctx context.Context, id string, status Status) error
	SetLocation(ctx context.Context, id, location string) error
	// IncrementDeliveries adds one to the delivery count.
	IncrementDeliveries(ctx context.Context, id string) error
	// CountOpenOrders counts the person's assigned orders that are neither
	// delivered nor cancelled.
	CountOpenOrders(ctx context.Context, id string) (int, error)
}
