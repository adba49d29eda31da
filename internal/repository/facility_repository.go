package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/care-waitlist-api/internal/models"
)

// FacilityRepository handles persistence of facilities and their offer
// settings.
type FacilityRepository struct {
	db *sqlx.DB
}

// NewFacilityRepository constructs the repository.
func NewFacilityRepository(db *sqlx.DB) *FacilityRepository {
	return &FacilityRepository{db: db}
}

const facilityColumns = `id, name, total_capacity, current_occupancy, service_area_codes,
	auto_advance_enabled, offer_window_hours, deposit_required, deposit_amount, required_documents,
	created_at, updated_at`

// FindByID returns a facility with its offer settings.
func (r *FacilityRepository) FindByID(ctx context.Context, id string) (*models.Facility, error) {
	query := fmt.Sprintf(`SELECT %s FROM facilities WHERE id = $1`, facilityColumns)
	var facility models.Facility
	if err := r.db.GetContext(ctx, &facility, query, id); err != nil {
		return nil, err
	}
	return &facility, nil
}

// LockTx acquires a row lock on the facility for the duration of the
// surrounding transaction. Serializes capacity-mutating operations per
// facility scope.
func (r *FacilityRepository) LockTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.Facility, error) {
	query := fmt.Sprintf(`SELECT %s FROM facilities WHERE id = $1 FOR UPDATE`, facilityColumns)
	var facility models.Facility
	if err := tx.GetContext(ctx, &facility, query, id); err != nil {
		return nil, err
	}
	return &facility, nil
}

// IncrementOccupancyTx bumps the reporting occupancy counter within the
// caller's transaction.
func (r *FacilityRepository) IncrementOccupancyTx(ctx context.Context, tx *sqlx.Tx, id string, delta int) error {
	const query = `UPDATE facilities SET current_occupancy = current_occupancy + $2, updated_at = NOW() WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, id, delta); err != nil {
		return fmt.Errorf("increment facility occupancy: %w", err)
	}
	return nil
}

// CountConfirmedTx counts confirmed bookings for the facility inside the
// caller's transaction. Availability is derived from this count rather
// than the current_occupancy column.
func (r *FacilityRepository) CountConfirmedTx(ctx context.Context, tx *sqlx.Tx, facilityID string) (int, error) {
	const query = `SELECT COUNT(*) FROM bookings WHERE facility_id = $1 AND status = $2`
	var count int
	if err := tx.GetContext(ctx, &count, query, facilityID, models.BookingStatusConfirmed); err != nil {
		return 0, fmt.Errorf("count confirmed bookings: %w", err)
	}
	return count, nil
}

// CountConfirmed is the advisory, snapshot variant of CountConfirmedTx.
func (r *FacilityRepository) CountConfirmed(ctx context.Context, facilityID string) (int, error) {
	const query = `SELECT COUNT(*) FROM bookings WHERE facility_id = $1 AND status = $2`
	var count int
	if err := r.db.GetContext(ctx, &count, query, facilityID, models.BookingStatusConfirmed); err != nil {
		return 0, fmt.Errorf("count confirmed bookings: %w", err)
	}
	return count, nil
}
