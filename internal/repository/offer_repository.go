package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/care-waitlist-api/internal/models"
)

// OfferRepository handles persistence of offers. Offer availability
// accounting relies on counting pending rows, so every mutation that
// changes pending-ness goes through this repository.
type OfferRepository struct {
	db *sqlx.DB
}

// NewOfferRepository constructs the repository.
func NewOfferRepository(db *sqlx.DB) *OfferRepository {
	return &OfferRepository{db: db}
}

const offerColumns = `id, waitlist_entry_id, facility_id, program_id, spot_available_date,
	offer_expires_at, reminder_sent_at, response, responded_at, response_notes,
	deposit_required, deposit_amount, deposit_paid, required_documents,
	priority_at_offer, position_at_offer, created_by, created_at, updated_at`

// FindByID returns an offer by its ID.
func (r *OfferRepository) FindByID(ctx context.Context, id string) (*models.Offer, error) {
	query := fmt.Sprintf(`SELECT %s FROM offers WHERE id = $1`, offerColumns)
	var offer models.Offer
	if err := r.db.GetContext(ctx, &offer, query, id); err != nil {
		return nil, err
	}
	return &offer, nil
}

// CreateTx inserts a new offer within the caller's transaction. The
// insert must share the transaction that re-checked availability so the
// check and the write commit atomically.
func (r *OfferRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, offer *models.Offer) error {
	if offer.ID == "" {
		offer.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if offer.CreatedAt.IsZero() {
		offer.CreatedAt = now
	}
	offer.UpdatedAt = now
	const query = `INSERT INTO offers (id, waitlist_entry_id, facility_id, program_id, spot_available_date,
		offer_expires_at, reminder_sent_at, response, responded_at, response_notes,
		deposit_required, deposit_amount, deposit_paid, required_documents,
		priority_at_offer, position_at_offer, created_by, created_at, updated_at)
	VALUES (:id, :waitlist_entry_id, :facility_id, :program_id, :spot_available_date,
		:offer_expires_at, :reminder_sent_at, :response, :responded_at, :response_notes,
		:deposit_required, :deposit_amount, :deposit_paid, :required_documents,
		:priority_at_offer, :position_at_offer, :created_by, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, tx, query, offer); err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	return nil
}

// CountPendingTx counts offers that still hold a slot for the scope,
// inside the caller's transaction. An offer holds a slot while its
// response is unset and the window has not lapsed, and also after
// acceptance until a booking exists (deposit-gated acceptances keep
// their reservation).
func (r *OfferRepository) CountPendingTx(ctx context.Context, tx *sqlx.Tx, facilityID string, programID *string, now time.Time) (int, error) {
	return countPending(ctx, tx, facilityID, programID, now)
}

// CountPending is the advisory, snapshot variant of CountPendingTx.
func (r *OfferRepository) CountPending(ctx context.Context, facilityID string, programID *string, now time.Time) (int, error) {
	return countPending(ctx, r.db, facilityID, programID, now)
}

func countPending(ctx context.Context, q sqlx.QueryerContext, facilityID string, programID *string, now time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM offers o WHERE o.facility_id = $1
		AND ((o.response IS NULL AND o.offer_expires_at > $2)
			OR (o.response = 'ACCEPTED' AND NOT EXISTS (SELECT 1 FROM bookings b WHERE b.offer_id = o.id)))`
	args := []interface{}{facilityID, now}
	if programID != nil {
		query += ` AND o.program_id = $3`
		args = append(args, *programID)
	}
	var count int
	if err := sqlx.GetContext(ctx, q, &count, query, args...); err != nil {
		return 0, fmt.Errorf("count pending offers: %w", err)
	}
	return count, nil
}

// FindActiveByEntry returns the entry's pending offer, or nil when none
// exists. Enforces the at-most-one-active-offer invariant at creation.
func (r *OfferRepository) FindActiveByEntry(ctx context.Context, entryID string, now time.Time) (*models.Offer, error) {
	query := fmt.Sprintf(`SELECT %s FROM offers
		WHERE waitlist_entry_id = $1 AND response IS NULL AND offer_expires_at > $2
		ORDER BY created_at DESC LIMIT 1`, offerColumns)
	var offer models.Offer
	if err := r.db.GetContext(ctx, &offer, query, entryID, now); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find active offer: %w", err)
	}
	return &offer, nil
}

// MarkResponse performs the conditional terminal transition: the response
// is recorded only when none has been recorded yet. Returns false when a
// concurrent responder or sweep won the race.
func (r *OfferRepository) MarkResponse(ctx context.Context, id string, response models.OfferResponse, notes string, respondedAt time.Time) (bool, error) {
	const query = `UPDATE offers
		SET response = $2, responded_at = $3, response_notes = $4, updated_at = $3
		WHERE id = $1 AND response IS NULL`
	result, err := r.db.ExecContext(ctx, query, id, response, respondedAt, notes)
	if err != nil {
		return false, fmt.Errorf("mark offer response: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark offer response: %w", err)
	}
	return affected == 1, nil
}

// SetDepositPaid flips the deposit flag. The only mutation permitted on a
// terminal offer.
func (r *OfferRepository) SetDepositPaid(ctx context.Context, id string, paid bool) error {
	const query = `UPDATE offers SET deposit_paid = $2, updated_at = NOW() WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, paid)
	if err != nil {
		return fmt.Errorf("set deposit paid: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set deposit paid: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListExpired returns offers whose window has lapsed without a response,
// oldest first, capped at limit. Input to the expiry sweep.
func (r *OfferRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]models.Offer, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT %s FROM offers
		WHERE response IS NULL AND offer_expires_at <= $1
		ORDER BY offer_expires_at ASC LIMIT $2`, offerColumns)
	var offers []models.Offer
	if err := r.db.SelectContext(ctx, &offers, query, now, limit); err != nil {
		return nil, fmt.Errorf("list expired offers: %w", err)
	}
	return offers, nil
}

// ListDueForReminder returns pending offers expiring within the window
// that have not yet been reminded, soonest first.
func (r *OfferRepository) ListDueForReminder(ctx context.Context, now, until time.Time, limit int) ([]models.Offer, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT %s FROM offers
		WHERE response IS NULL AND reminder_sent_at IS NULL
			AND offer_expires_at > $1 AND offer_expires_at <= $2
		ORDER BY offer_expires_at ASC LIMIT $3`, offerColumns)
	var offers []models.Offer
	if err := r.db.SelectContext(ctx, &offers, query, now, until, limit); err != nil {
		return nil, fmt.Errorf("list offers due for reminder: %w", err)
	}
	return offers, nil
}

// MarkReminderSent stamps the reminder timestamp once. Returns false when
// another sweep pass or a response got there first.
func (r *OfferRepository) MarkReminderSent(ctx context.Context, id string, at time.Time) (bool, error) {
	const query = `UPDATE offers SET reminder_sent_at = $2, updated_at = $2
		WHERE id = $1 AND reminder_sent_at IS NULL AND response IS NULL`
	result, err := r.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return false, fmt.Errorf("mark reminder sent: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark reminder sent: %w", err)
	}
	return affected == 1, nil
}

// MarkTerminalTx records a response inside the caller's transaction,
// with the same conditional guard as MarkResponse. Capacity release uses
// it so the terminal transition and its audit entry commit together.
func (r *OfferRepository) MarkTerminalTx(ctx context.Context, tx *sqlx.Tx, id string, response models.OfferResponse, notes string, respondedAt time.Time) (bool, error) {
	const query = `UPDATE offers
		SET response = $2, responded_at = $3, response_notes = $4, updated_at = $3
		WHERE id = $1 AND response IS NULL`
	result, err := tx.ExecContext(ctx, query, id, response, respondedAt, notes)
	if err != nil {
		return false, fmt.Errorf("mark offer terminal: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark offer terminal: %w", err)
	}
	return affected == 1, nil
}

// ListByFacility returns offers for a facility, newest first.
func (r *OfferRepository) ListByFacility(ctx context.Context, facilityID string, limit int) ([]models.Offer, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s FROM offers WHERE facility_id = $1 ORDER BY created_at DESC LIMIT $2`, offerColumns)
	var offers []models.Offer
	if err := r.db.SelectContext(ctx, &offers, query, facilityID, limit); err != nil {
		return nil, fmt.Errorf("list offers: %w", err)
	}
	return offers, nil
}
