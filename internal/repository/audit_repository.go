package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/care-waitlist-api/internal/models"
)

// AuditRepository appends state-transition records. Rows are never
// updated or deleted.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository constructs the repository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

const auditInsert = `INSERT INTO waitlist_audit_logs (id, waitlist_entry_id, offer_id, facility_id, action,
	description, performed_by, performed_by_type, old_values, new_values, created_at)
	VALUES (:id, :waitlist_entry_id, :offer_id, :facility_id, :action,
	:description, :performed_by, :performed_by_type, :old_values, :new_values, :created_at)`

// Create appends an audit entry.
func (r *AuditRepository) Create(ctx context.Context, entry *models.AuditLogEntry) error {
	prepare(entry)
	if _, err := r.db.NamedExecContext(ctx, auditInsert, entry); err != nil {
		return fmt.Errorf("create audit entry: %w", err)
	}
	return nil
}

// CreateTx appends an audit entry within the caller's transaction so the
// audit row commits with the transition it records.
func (r *AuditRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, entry *models.AuditLogEntry) error {
	prepare(entry)
	if _, err := sqlx.NamedExecContext(ctx, tx, auditInsert, entry); err != nil {
		return fmt.Errorf("create audit entry: %w", err)
	}
	return nil
}

// ListByEntry returns the audit trail for a waitlist entry, oldest first.
func (r *AuditRepository) ListByEntry(ctx context.Context, entryID string) ([]models.AuditLogEntry, error) {
	const query = `SELECT id, waitlist_entry_id, offer_id, facility_id, action, description,
		performed_by, performed_by_type, old_values, new_values, created_at
		FROM waitlist_audit_logs WHERE waitlist_entry_id = $1 ORDER BY created_at ASC`
	var entries []models.AuditLogEntry
	if err := r.db.SelectContext(ctx, &entries, query, entryID); err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	return entries, nil
}

func prepare(entry *models.AuditLogEntry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.PerformedByType == "" {
		entry.PerformedByType = models.PerformerSystem
	}
}
