// Package dispute implements customer disputes about orders and the
// evidence attached to them.
package dispute

import (
	"context"
	"time"

	"github.com/xenking/marketplace/internal/domain/fault"
	"github.com/xenking/marketplace/internal/domain/fsm"
)

// Status is the state of a dispute.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusResolved   Status = "resolved"
	StatusClosed     Status = "closed"
)

// Valid reports whether s is a known dispute status.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusResolved, StatusClosed:
		return true
	}
	return false
}

// Action is an admin step on a dispute.
type Action string

const (
	ActionReview  Action = "review"
	ActionResolve Action = "resolve"
	ActionClose   Action = "close"
)

// Transitions is the dispute status table. Resolving requires the dispute
// to be under review first.
var Transitions = fsm.New("dispute",
	fsm.Edge[Status, Action]{From: StatusOpen, Action: ActionReview, To: StatusInProgress},
	fsm.Edge[Status, Action]{From: StatusInProgress, Action: ActionResolve, To: StatusResolved},
	fsm.Edge[Status, Action]{From: StatusOpen, Action: ActionClose, To: StatusClosed},
	fsm.Edge[Status, Action]{From: StatusInProgress, Action: ActionClose, To: StatusClosed},
)

// EvidenceStatus is the verification state of an evidence record.
type EvidenceStatus string

const (
	EvidencePending  EvidenceStatus = "pending"
	EvidenceVerified EvidenceStatus = "verified"
	EvidenceRejected EvidenceStatus = "rejected"
)

// Verification is keyed by target status. A verdict is final.
var Verification = fsm.New("evidence",
	fsm.Edge[EvidenceStatus, EvidenceStatus]{From: EvidencePending, Action: EvidenceVerified, To: EvidenceVerified},
	fsm.Edge[EvidenceStatus, EvidenceStatus]{From: EvidencePending, Action: EvidenceRejected, To: EvidenceRejected},
)

var (
	ErrNotFound         = fault.New(fault.NotFound, "dispute not found")
	ErrEvidenceNotFound = fault.New(fault.NotFound, "evidence not found")
	// ErrClosed is returned when adding evidence to a finished dispute.
	ErrClosed = fault.New(fault.Conflict, "dispute no longer accepts evidence")
)

// Dispute is a customer complaint about an order.
type Dispute struct {
	ID          string
	OrderID     string
	UserID      string
	Reason      string
	Description string
	Status      Status
	Resolution  string
	ResolvedBy  string
	// ResolvedAt is zero until the dispute is resolved.
	ResolvedAt time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Evidence   []Evidence
}

// Evidence is a file attached to a dispute. Only its verification status
// changes after upload.
type Evidence struct {
	ID                 string
	DisputeID          string
	UploadedBy         string
	FileURL            string
	Description        string
	VerificationStatus EvidenceStatus
	CreatedAt          time.Time
}

// Filter narrows a dispute listing. Empty fields match everything.
type Filter struct {
	UserID string
	Status Status
}

// Repository persists disputes and evidence.
type Repository interface {
	Create(ctx context.Context, d *Dispute) error
	Get(ctx context.Context, id string) (*Dispute, error)
	// GetForUpdate is Get that locks the dispute row for the rest of the
	// surrounding transaction.
	GetForUpdate(ctx context.Context, id string) (*Dispute, error)
	// List returns matching disputes, newest first.
	List(ctx context.Context, f Filter) ([]Dispute, error)
	// Update stores status and resolution fields.
	Update(ctx context.Context, d *Dispute) error
	AddEvidence(ctx context.Context, e *Evidence) error
	ListEvidence(ctx context.Context, disputeID string) ([]Evidence, error)
	GetEvidence(ctx context.Context, disputeID, id string) (*Evidence, error)
	SetEvidenceStatus(ctx context.Context, id string, status EvidenceStatus) error
}
