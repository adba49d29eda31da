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

// BookingRepository handles persistence of confirmed occupancy records.
type BookingRepository struct {
	db *sqlx.DB
}

// NewBookingRepository constructs the repository.
func NewBookingRepository(db *sqlx.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

const bookingColumns = `id, offer_id, waitlist_entry_id, facility_id, program_id, start_date, monthly_rate, status, created_at`

// FindByOfferID returns the booking created from an offer, or nil when
// the offer has not been converted. Keys conversion idempotency.
func (r *BookingRepository) FindByOfferID(ctx context.Context, offerID string) (*models.Booking, error) {
	query := fmt.Sprintf(`SELECT %s FROM bookings WHERE offer_id = $1`, bookingColumns)
	var booking models.Booking
	if err := r.db.GetContext(ctx, &booking, query, offerID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find booking by offer: %w", err)
	}
	return &booking, nil
}

// FindByOfferIDTx is the transactional variant of FindByOfferID.
func (r *BookingRepository) FindByOfferIDTx(ctx context.Context, tx *sqlx.Tx, offerID string) (*models.Booking, error) {
	query := fmt.Sprintf(`SELECT %s FROM bookings WHERE offer_id = $1`, bookingColumns)
	var booking models.Booking
	if err := tx.GetContext(ctx, &booking, query, offerID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find booking by offer: %w", err)
	}
	return &booking, nil
}

// CreateTx inserts the occupancy record within the caller's transaction.
func (r *BookingRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, booking *models.Booking) error {
	if booking.ID == "" {
		booking.ID = uuid.NewString()
	}
	if booking.CreatedAt.IsZero() {
		booking.CreatedAt = time.Now().UTC()
	}
	if booking.Status == "" {
		booking.Status = models.BookingStatusConfirmed
	}
	const query = `INSERT INTO bookings (id, offer_id, waitlist_entry_id, facility_id, program_id, start_date, monthly_rate, status, created_at)
		VALUES (:id, :offer_id, :waitlist_entry_id, :facility_id, :program_id, :start_date, :monthly_rate, :status, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, tx, query, booking); err != nil {
		return fmt.Errorf("create booking: %w", err)
	}
	return nil
}
