// Package review implements ratings of products, services, events and
// sellers.
package review

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/xenking/marketplace/internal/domain/auth"
	"github.com/xenking/marketplace/internal/domain/fault"
)

// Kind is the type of entity a review is about.
type Kind string

const (
	KindProduct Kind = "product"
	KindService Kind = "service"
	KindEvent   Kind = "event"
	KindSeller  Kind = "seller"
)

// Target identifies the reviewed entity.
type Target struct {
	Kind Kind
	ID   string
}

// ParseTarget validates a kind and id pair.
func ParseTarget(kind, id string) (Target, error) {
	switch k := Kind(kind); k {
	case KindProduct, KindService, KindEvent, KindSeller:
		if id == "" {
			return Target{}, fault.New(fault.Validation, "target id is required")
		}
		return Target{Kind: k, ID: id}, nil
	}
	return Target{}, fault.Errorf(fault.Validation, "unknown review target %q", kind)
}

func (t Target) String() string { return string(t.Kind) + ":" + t.ID }

var (
	// ErrDuplicate is returned when the user already reviewed the target.
	ErrDuplicate = fault.New(fault.Conflict, "target already reviewed by this user")
	// ErrTargetNotFound is returned when the target does not exist.
	ErrTargetNotFound = fault.New(fault.NotFound, "review target not found")
)

// Review is a user's rating of a target.
type Review struct {
	ID        string
	UserID    string
	Target    Target
	Rating    int
	Comment   string
	CreatedAt time.Time
}

// Page is a window of a listing.
type Page struct {
	Limit  int
	Offset int
}

const (
	defaultLimit = 20
	maxLimit     = 100
)

// Normalize clamps the page to sane bounds.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = defaultLimit
	}
	if p.Limit > maxLimit {
		p.Limit = maxLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// Repository persists reviews.
type Repository interface {
	Create(ctx context.Context, r *Review) error
	// List returns the target's reviews newest first, ties broken by id
	// descending.
	List(ctx context.Context, t Target, p Page) ([]Review, error)
	// TargetExists reports whether the entity exists. Kinds without a
	// backing table are assumed to exist.
	TargetExists(ctx context.Context, t Target) (bool, error)
}

// Service implements review operations.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a review Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// CreateRequest is a new review.
type CreateRequest struct {
	Target  Target
	Rating  int
	Comment string
}

// Create stores a review by the caller.
func (s *Service) Create(ctx context.Context, actor auth.Principal, req CreateRequest) (*Review, error) {
	if err := actor.Require(auth.RoleUser); err != nil {
		return nil, err
	}
	if req.Rating < 1 || req.Rating > 5 {
		return nil, fault.New(fault.Validation, "rating must be between 1 and 5")
	}
	ok, err := s.repo.TargetExists(ctx, req.Target)
	if err != nil {
		return nil, errors.Wrap(err, "check review target")
	}
	if !ok {
		return nil, ErrTargetNotFound
	}

	r := &Review{
		ID:        uuid.New().String(),
		UserID:    actor.SubjectID,
		Target:    req.Target,
		Rating:    req.Rating,
		Comment:   req.Comment,
		CreatedAt: s.now(),
	}
	if err := s.repo.Create(ctx, r); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, ErrDuplicate
		}
		return nil, errors.Wrap(err, "create review")
	}
	return r, nil
}

// List returns a page of the target's reviews in a stable order.
func (s *Service) List(ctx context.Context, t Target, p Page) ([]Review, error) {
	reviews, err := s.repo.List(ctx, t, p.Normalize())
	if err != nil {
		return nil, errors.Wrap(err, "list reviews")
	}
	return reviews, nil
}
