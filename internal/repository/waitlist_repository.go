package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/care-waitlist-api/internal/models"
)

// WaitlistRepository handles persistence of waitlist entries.
type WaitlistRepository struct {
	db *sqlx.DB
}

// NewWaitlistRepository constructs the repository.
func NewWaitlistRepository(db *sqlx.DB) *WaitlistRepository {
	return &WaitlistRepository{db: db}
}

const waitlistColumns = `id, facility_id, program_id, parent_id, child_name, child_birth_date,
	desired_start_date, preferred_days, position, priority_score, status,
	sibling_enrolled, staff_child, subsidy_approved, corporate_partner, special_needs, in_service_area, tags,
	is_paused, paused_until, offer_attempts, created_at, updated_at`

// FindByID returns a waitlist entry by its ID.
func (r *WaitlistRepository) FindByID(ctx context.Context, id string) (*models.WaitlistEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM waitlist_entries WHERE id = $1`, waitlistColumns)
	var entry models.WaitlistEntry
	if err := r.db.GetContext(ctx, &entry, query, id); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Create persists a new entry, assigning the next queue position for the
// facility atomically with the insert.
func (r *WaitlistRepository) Create(ctx context.Context, entry *models.WaitlistEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now
	if entry.Status == "" {
		entry.Status = models.WaitlistStatusActive
	}
	const query = `INSERT INTO waitlist_entries (id, facility_id, program_id, parent_id, child_name, child_birth_date,
		desired_start_date, preferred_days, position, priority_score, status,
		sibling_enrolled, staff_child, subsidy_approved, corporate_partner, special_needs, in_service_area, tags,
		is_paused, paused_until, offer_attempts, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8,
		(SELECT COALESCE(MAX(position), 0) + 1 FROM waitlist_entries WHERE facility_id = $2),
		$9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
	RETURNING position`
	row := r.db.QueryRowxContext(ctx, query,
		entry.ID, entry.FacilityID, entry.ProgramID, entry.ParentID, entry.ChildName, entry.ChildBirthDate,
		entry.DesiredStartDate, entry.PreferredDays,
		entry.PriorityScore, entry.Status,
		entry.SiblingEnrolled, entry.StaffChild, entry.SubsidyApproved, entry.CorporatePartner,
		entry.SpecialNeeds, entry.InServiceArea, pq.StringArray(entry.Tags),
		entry.IsPaused, entry.PausedUntil, entry.OfferAttempts, entry.CreatedAt, entry.UpdatedAt,
	)
	if err := row.Scan(&entry.Position); err != nil {
		return fmt.Errorf("create waitlist entry: %w", err)
	}
	return nil
}

// List returns entries filtered by the provided criteria with a total count.
func (r *WaitlistRepository) List(ctx context.Context, filter models.WaitlistFilter) ([]models.WaitlistEntry, int, error) {
	var conditions []string
	var args []interface{}

	if filter.FacilityID != "" {
		conditions = append(conditions, fmt.Sprintf("facility_id = $%d", len(args)+1))
		args = append(args, filter.FacilityID)
	}
	if filter.ProgramID != "" {
		conditions = append(conditions, fmt.Sprintf("program_id = $%d", len(args)+1))
		args = append(args, filter.ProgramID)
	}
	if filter.ParentID != "" {
		conditions = append(conditions, fmt.Sprintf("parent_id = $%d", len(args)+1))
		args = append(args, filter.ParentID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s FROM waitlist_entries%s ORDER BY position ASC LIMIT %d OFFSET %d`,
		waitlistColumns, clause, size, offset)

	var entries []models.WaitlistEntry
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list waitlist entries: %w", err)
	}

	countQuery := "SELECT COUNT(*) FROM waitlist_entries" + clause
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count waitlist entries: %w", err)
	}
	return entries, total, nil
}

// ListReofferable returns entries for the scope that may receive an offer:
// ACTIVE plus those whose previous offer cycle ended in DECLINED/EXPIRED.
// Program matching includes facility-wide entries (nil program_id).
func (r *WaitlistRepository) ListReofferable(ctx context.Context, facilityID string, programID *string) ([]models.WaitlistEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM waitlist_entries
		WHERE facility_id = $1 AND status = ANY($2)`, waitlistColumns)
	args := []interface{}{facilityID, pq.Array(statusStrings(models.ReofferableStatuses))}
	if programID != nil {
		query += ` AND (program_id IS NULL OR program_id = $3)`
		args = append(args, *programID)
	}
	query += ` ORDER BY position ASC`

	var entries []models.WaitlistEntry
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("list reofferable entries: %w", err)
	}
	return entries, nil
}

// UpdateStatus sets the entry status.
func (r *WaitlistRepository) UpdateStatus(ctx context.Context, id string, status models.WaitlistStatus) error {
	const query = `UPDATE waitlist_entries SET status = $2, updated_at = NOW() WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status); err != nil {
		return fmt.Errorf("update waitlist status: %w", err)
	}
	return nil
}

// UpdateStatusTx sets the entry status inside the caller's transaction.
func (r *WaitlistRepository) UpdateStatusTx(ctx context.Context, tx *sqlx.Tx, id string, status models.WaitlistStatus) error {
	const query = `UPDATE waitlist_entries SET status = $2, updated_at = NOW() WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, id, status); err != nil {
		return fmt.Errorf("update waitlist status: %w", err)
	}
	return nil
}

// MarkOfferedTx transitions the entry to OFFERED and bumps the attempt
// counter, atomically with the offer insert. The status guard makes the
// final in-transaction eligibility recheck: it reports false when the
// entry left the reofferable pool since ranking.
func (r *WaitlistRepository) MarkOfferedTx(ctx context.Context, tx *sqlx.Tx, id string, score float64) (bool, error) {
	const query = `UPDATE waitlist_entries
		SET status = $2, priority_score = $3, offer_attempts = offer_attempts + 1, updated_at = NOW()
		WHERE id = $1 AND status = ANY($4)`
	result, err := tx.ExecContext(ctx, query, id, models.WaitlistStatusOffered, score, pq.Array(statusStrings(models.ReofferableStatuses)))
	if err != nil {
		return false, fmt.Errorf("mark waitlist entry offered: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark waitlist entry offered: %w", err)
	}
	return affected == 1, nil
}

// SetPause updates the pause window.
func (r *WaitlistRepository) SetPause(ctx context.Context, id string, paused bool, until *time.Time) error {
	const query = `UPDATE waitlist_entries SET is_paused = $2, paused_until = $3, updated_at = NOW() WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, paused, until); err != nil {
		return fmt.Errorf("set waitlist pause: %w", err)
	}
	return nil
}

// SetPriorityScore refreshes the cached score for an entry.
func (r *WaitlistRepository) SetPriorityScore(ctx context.Context, id string, score float64) error {
	const query = `UPDATE waitlist_entries SET priority_score = $2, updated_at = NOW() WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, score); err != nil {
		return fmt.Errorf("set priority score: %w", err)
	}
	return nil
}

// ListActiveBehind returns ACTIVE entries queued behind the given
// position, used for position-update notifications after a departure.
func (r *WaitlistRepository) ListActiveBehind(ctx context.Context, facilityID string, position int) ([]models.WaitlistEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM waitlist_entries
		WHERE facility_id = $1 AND position > $2 AND status = $3
		ORDER BY position ASC`, waitlistColumns)
	var entries []models.WaitlistEntry
	if err := r.db.SelectContext(ctx, &entries, query, facilityID, position, models.WaitlistStatusActive); err != nil {
		return nil, fmt.Errorf("list entries behind position: %w", err)
	}
	return entries, nil
}

func statusStrings(statuses []models.WaitlistStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
