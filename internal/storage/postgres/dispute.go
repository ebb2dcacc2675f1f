package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/marketplace/internal/domain/dispute"
)

const disputeColumns = `id, order_id, user_id, reason, description, status, resolution,
	resolved_by, resolved_at, created_at, updated_at`

const evidenceColumns = `id, dispute_id, uploaded_by, file_url, description, verification_status, created_at`

const (
	insertDisputeSQL = `INSERT INTO disputes (` + disputeColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	getDisputeSQL          = `SELECT ` + disputeColumns + ` FROM disputes WHERE id = $1`
	getDisputeForUpdateSQL = getDisputeSQL + ` FOR UPDATE`

	listDisputesSQL = `SELECT ` + disputeColumns + ` FROM disputes
	WHERE ($1::text = '' OR user_id = $1) AND ($2::text = '' OR status = $2)
	ORDER BY created_at DESC, id DESC`

	updateDisputeSQL = `UPDATE disputes SET status = $2, resolution = $3, resolved_by = $4,
		resolved_at = $5, updated_at = $6
	WHERE id = $1`

	insertEvidenceSQL = `INSERT INTO dispute_evidence (` + evidenceColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`

	listEvidenceSQL = `SELECT ` + evidenceColumns + ` FROM dispute_evidence
	WHERE dispute_id = $1 ORDER BY created_at, id`

	getEvidenceSQL = `SELECT ` + evidenceColumns + ` FROM dispute_evidence
	WHERE dispute_id = $1 AND id = $2`

	setEvidenceStatusSQL = `UPDATE dispute_evidence SET verification_status = $2 WHERE id = $1`
)

var _ dispute.Repository = (*DisputeRepository)(nil)

// DisputeRepository implements dispute.Repository.
type DisputeRepository struct {
	db *DB
}

// NewDisputeRepository creates a new DisputeRepository.
func NewDisputeRepository(db *DB) *DisputeRepository {
	return &DisputeRepository{db: db}
}

// Create inserts a dispute.
func (r *DisputeRepository) Create(ctx context.Context, d *dispute.Dispute) error {
	_, err := r.db.conn(ctx).Exec(ctx, insertDisputeSQL,
		d.ID, d.OrderID, d.UserID, d.Reason, d.Description, string(d.Status),
		d.Resolution, d.ResolvedBy, nullTime(d.ResolvedAt), d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting dispute: %w", err)
	}
	return nil
}

// Get returns a dispute without evidence or dispute.ErrNotFound.
func (r *DisputeRepository) Get(ctx context.Context, id string) (*dispute.Dispute, error) {
	return r.get(ctx, getDisputeSQL, id)
}

// GetForUpdate locks the dispute row until the surrounding transaction ends.
func (r *DisputeRepository) GetForUpdate(ctx context.Context, id string) (*dispute.Dispute, error) {
	return r.get(ctx, getDisputeForUpdateSQL, id)
}

func (r *DisputeRepository) get(ctx context.Context, query, id string) (*dispute.Dispute, error) {
	rows, err := r.db.conn(ctx).Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("querying dispute %q: %w", id, err)
	}

	d, err := pgx.CollectExactlyOneRow(rows, scanDispute)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, dispute.ErrNotFound
		}
		return nil, fmt.Errorf("scanning dispute %q: %w", id, err)
	}
	return &d, nil
}

// List returns the disputes matching f, newest first.
func (r *DisputeRepository) List(ctx context.Context, f dispute.Filter) ([]dispute.Dispute, error) {
	rows, err := r.db.conn(ctx).Query(ctx, listDisputesSQL, f.UserID, string(f.Status))
	if err != nil {
		return nil, fmt.Errorf("querying disputes: %w", err)
	}

	out, err := pgx.CollectRows(rows, scanDispute)
	if err != nil {
		return nil, fmt.Errorf("scanning disputes: %w", err)
	}
	return out, nil
}

// Update stores status and resolution fields.
func (r *DisputeRepository) Update(ctx context.Context, d *dispute.Dispute) error {
	tag, err := r.db.conn(ctx).Exec(ctx, updateDisputeSQL,
		d.ID, string(d.Status), d.Resolution, d.ResolvedBy, nullTime(d.ResolvedAt), d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("updating dispute %q: %w", d.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return dispute.ErrNotFound
	}
	return nil
}

// AddEvidence inserts an evidence record.
func (r *DisputeRepository) AddEvidence(ctx context.Context, e *dispute.Evidence) error {
	_, err := r.db.conn(ctx).Exec(ctx, insertEvidenceSQL,
		e.ID, e.DisputeID, e.UploadedBy, e.FileURL, e.Description, string(e.VerificationStatus), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting evidence for dispute %q: %w", e.DisputeID, err)
	}
	return nil
}

// ListEvidence returns the dispute's evidence in upload order.
func (r *DisputeRepository) ListEvidence(ctx context.Context, disputeID string) ([]dispute.Evidence, error) {
	rows, err := r.db.conn(ctx).Query(ctx, listEvidenceSQL, disputeID)
	if err != nil {
		return nil, fmt.Errorf("querying evidence of %q: %w", disputeID, err)
	}

	out, err := pgx.CollectRows(rows, scanEvidence)
	if err != nil {
		return nil, fmt.Errorf("scanning evidence of %q: %w", disputeID, err)
	}
	return out, nil
}

// GetEvidence returns one evidence record of the dispute.
func (r *DisputeRepository) GetEvidence(ctx context.Context, disputeID, id string) (*dispute.Evidence, error) {
	rows, err := r.db.conn(ctx).Query(ctx, getEvidenceSQL, disputeID, id)
	if err != nil {
		return nil, fmt.Errorf("querying evidence %q: %w", id, err)
	}

	e, err := pgx.CollectExactlyOneRow(rows, scanEvidence)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, dispute.ErrEvidenceNotFound
		}
		return nil, fmt.Errorf("scanning evidence %q: %w", id, err)
	}
	return &e, nil
}

// SetEvidenceStatus stores the verification verdict.
func (r *DisputeRepository) SetEvidenceStatus(ctx context.Context, id string, status dispute.EvidenceStatus) error {
	tag, err := r.db.conn(ctx).Exec(ctx, setEvidenceStatusSQL, id, string(status))
	if err != nil {
		return fmt.Errorf("updating evidence %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return dispute.ErrEvidenceNotFound
	}
	return nil
}

func scanDispute(row pgx.CollectableRow) (dispute.Dispute, error) {
	var (
		d          dispute.Dispute
		status     string
		resolvedAt *time.Time
	)
	err := row.Scan(
		&d.ID, &d.OrderID, &d.UserID, &d.Reason, &d.Description, &status,
		&d.Resolution, &d.ResolvedBy, &resolvedAt, &d.CreatedAt, &d.UpdatedAt,
	)
	d.Status = dispute.Status(status)
	d.ResolvedAt = timeOrZero(resolvedAt)
	return d, err
}

func scanEvidence(row pgx.CollectableRow) (dispute.Evidence, error) {
	var (
		e      dispute.Evidence
		status string
	)
	err := row.Scan(&e.ID, &e.DisputeID, &e.UploadedBy, &e.FileURL, &e.Description, &status, &e.CreatedAt)
	e.VerificationStatus = dispute.EvidenceStatus(status)
	return e, err
}
