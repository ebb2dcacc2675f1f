package dispute

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/xenking/marketplace/internal/domain/audit"
	"github.com/xenking/marketplace/internal/domain/auth"
	"github.com/xenking/marketplace/internal/domain/fault"
	"github.com/xenking/marketplace/internal/domain/order"
)

// Transactor runs fn inside a single database transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderLookup resolves orders.
type OrderLookup interface {
	Get(ctx context.Context, id string) (*order.Order, error)
}

// OpenRequest opens a dispute about an order.
type OpenRequest struct {
	OrderID     string
	Reason      string
	Description string
}

// EvidenceRequest attaches a file to a dispute.
type EvidenceRequest struct {
	FileURL     string
	Description string
}

// Service implements the dispute workflow.
type Service struct {
	repo   Repository
	orders OrderLookup
	tx     Transactor
	audit  audit.Recorder
	now    func() time.Time
}

// NewService creates a dispute Service.
func NewService(repo Repository, orders OrderLookup, tx Transactor, rec audit.Recorder) *Service {
	return &Service{repo: repo, orders: orders, tx: tx, audit: rec, now: time.Now}
}

// Open creates a dispute for one of the caller's orders.
func (s *Service) Open(ctx context.Context, actor auth.Principal, req OpenRequest) (*Dispute, error) {
	if err := actor.Require(auth.RoleUser); err != nil {
		return nil, err
	}
	if req.OrderID == "" || req.Reason == "" {
		return nil, fault.New(fault.Validation, "orderId and reason are required")
	}

	o, err := s.orders.Get(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != actor.SubjectID {
		return nil, order.ErrNotFound
	}

	now := s.now()
	d := &Dispute{
		ID:          uuid.New().String(),
		OrderID:     o.ID,
		UserID:      actor.SubjectID,
		Reason:      req.Reason,
		Description: req.Description,
		Status:      StatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, d); err != nil {
		return nil, errors.Wrap(err, "create dispute")
	}
	return d, nil
}

// Get returns a dispute with its evidence. Users only see their own.
func (s *Service) Get(ctx context.Context, actor auth.Principal, id string) (*Dispute, error) {
	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.Is(auth.RoleAdmin) && d.UserID != actor.SubjectID {
		return nil, ErrNotFound
	}
	d.Evidence, err = s.repo.ListEvidence(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "list evidence")
	}
	return d, nil
}

// List returns the caller's disputes, or every dispute for an admin.
// An empty status lists all statuses.
func (s *Service) List(ctx context.Context, actor auth.Principal, status Status) ([]Dispute, error) {
	if status != "" && !status.Valid() {
		return nil, fault.New(fault.Validation, "unknown dispute status "+string(status))
	}
	f := Filter{Status: status}
	if !actor.Is(auth.RoleAdmin) {
		f.UserID = actor.SubjectID
	}
	disputes, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, errors.Wrap(err, "list disputes")
	}
	return disputes, nil
}

// AddEvidence attaches evidence to an open or in-progress dispute.
func (s *Service) AddEvidence(ctx context.Context, actor auth.Principal, disputeID string, req EvidenceRequest) (*Evidence, error) {
	if req.FileURL == "" {
		return nil, fault.New(fault.Validation, "fileUrl is required")
	}

	var out *Evidence
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		d, err := s.repo.GetForUpdate(ctx, disputeID)
		if err != nil {
			return err
		}
		if !actor.Is(auth.RoleAdmin) && d.UserID != actor.SubjectID {
			return ErrNotFound
		}
		if d.Status != StatusOpen && d.Status != StatusInProgress {
			return ErrClosed
		}
		e := &Evidence{
			ID:                 uuid.New().String(),
			DisputeID:          d.ID,
			UploadedBy:         actor.SubjectID,
			FileURL:            req.FileURL,
			Description:        req.Description,
			VerificationStatus: EvidencePending,
			CreatedAt:          s.now(),
		}
		if err := s.repo.AddEvidence(ctx, e); err != nil {
			return errors.Wrap(err, "add evidence")
		}
		out = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Review moves an open dispute under review.
func (s *Service) Review(ctx context.Context, actor auth.Principal, id string) (*Dispute, error) {
	return s.apply(ctx, actor, id, ActionReview, nil)
}

// Resolve records the resolution of a dispute under review. Status,
// resolution text, resolver and time are written in one update.
func (s *Service) Resolve(ctx context.Context, actor auth.Principal, id, resolution string) (*Dispute, error) {
	if resolution == "" {
		return nil, fault.New(fault.Validation, "resolution is required")
	}
	return s.apply(ctx, actor, id, ActionResolve, func(d *Dispute) {
		d.Resolution = resolution
		d.ResolvedBy = actor.SubjectID
		d.ResolvedAt = d.UpdatedAt
	})
}

// Close ends a dispute without resolution. An optional note is kept as the
// resolution text.
func (s *Service) Close(ctx context.Context, actor auth.Principal, id, note string) (*Dispute, error) {
	return s.apply(ctx, actor, id, ActionClose, func(d *Dispute) {
		d.Resolution = note
	})
}

func (s *Service) apply(ctx context.Context, actor auth.Principal, id string, action Action, mutate func(d *Dispute)) (*Dispute, error) {
	if err := actor.Require(auth.RoleAdmin); err != nil {
		return nil, err
	}

	var out *Dispute
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		d, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		next, err := Transitions.Next(d.Status, action)
		if err != nil {
			return err
		}
		prev := d.Status
		d.Status = next
		d.UpdatedAt = s.now()
		if mutate != nil {
			mutate(d)
		}
		if err := s.repo.Update(ctx, d); err != nil {
			return errors.Wrap(err, "update dispute")
		}
		out = d
		return s.audit.Record(ctx, audit.Entry{
			Action:     "dispute." + string(action),
			ActorID:    actor.SubjectID,
			EntityType: audit.EntityDispute,
			EntityID:   d.ID,
			Details:    string(prev) + " -> " + string(next),
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// VerifyEvidence sets the verdict on a pending evidence record.
func (s *Service) VerifyEvidence(ctx context.Context, actor auth.Principal, disputeID, evidenceID string, verdict EvidenceStatus) (*Evidence, error) {
	if err := actor.Require(auth.RoleAdmin); err != nil {
		return nil, err
	}

	var out *Evidence
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		e, err := s.repo.GetEvidence(ctx, disputeID, evidenceID)
		if err != nil {
			return err
		}
		next, err := Verification.Next(e.VerificationStatus, verdict)
		if err != nil {
			return err
		}
		if err := s.repo.SetEvidenceStatus(ctx, e.ID, next); err != nil {
			return errors.Wrap(err, "set evidence status")
		}
		e.VerificationStatus = next
		out = e
		return s.audit.Record(ctx, audit.Entry{
			Action:     "dispute.evidence",
			ActorID:    actor.SubjectID,
			EntityType: audit.EntityDispute,
			EntityID:   disputeID,
			Details:    e.ID + " " + string(next),
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
