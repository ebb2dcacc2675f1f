package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/marketplace/internal/domain/audit"
)

const (
	insertSystemLogSQL = `INSERT INTO system_logs (id, action, actor_id, entity_type, entity_id, details, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`

	listSystemLogsSQL = `SELECT id, action, actor_id, entity_type, entity_id, details, created_at
	FROM system_logs ORDER BY created_at DESC, id DESC LIMIT $1`
)

var _ audit.Repository = (*AuditRepository)(nil)

// AuditRepository implements audit.Repository on the system_logs table.
type AuditRepository struct {
	db *DB
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db *DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Record inserts an entry within the caller's transaction, if any.
func (r *AuditRepository) Record(ctx context.Context, e audit.Entry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := r.db.conn(ctx).Exec(ctx, insertSystemLogSQL,
		e.ID, e.Action, e.ActorID, e.EntityType, e.EntityID, e.Details, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("recording %s on %s %q: %w", e.Action, e.EntityType, e.EntityID, err)
	}
	return nil
}

// List returns the newest entries.
func (r *AuditRepository) List(ctx context.Context, limit int) ([]audit.Entry, error) {
	rows, err := r.db.conn(ctx).Query(ctx, listSystemLogsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("querying system logs: %w", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (audit.Entry, error) {
		var e audit.Entry
		err := row.Scan(&e.ID, &e.Action, &e.ActorID, &e.EntityType, &e.EntityID, &e.Details, &e.CreatedAt)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning system logs: %w", err)
	}
	return out, nil
}
