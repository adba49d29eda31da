package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/care-waitlist-api/internal/models"
)

// ProgramRepository handles persistence of programs.
type ProgramRepository struct {
	db *sqlx.DB
}

// NewProgramRepository constructs the repository.
func NewProgramRepository(db *sqlx.DB) *ProgramRepository {
	return &ProgramRepository{db: db}
}

const programColumns = `id, facility_id, name, total_capacity, current_enrollment,
	min_age_months, max_age_months, operating_days, created_at, updated_at`

// FindByID returns a program by its ID.
func (r *ProgramRepository) FindByID(ctx context.Context, id string) (*models.Program, error) {
	query := fmt.Sprintf(`SELECT %s FROM programs WHERE id = $1`, programColumns)
	var program models.Program
	if err := r.db.GetContext(ctx, &program, query, id); err != nil {
		return nil, err
	}
	return &program, nil
}

// ListByFacility returns all programs of a facility.
func (r *ProgramRepository) ListByFacility(ctx context.Context, facilityID string) ([]models.Program, error) {
	query := fmt.Sprintf(`SELECT %s FROM programs WHERE facility_id = $1 ORDER BY name ASC`, programColumns)
	var programs []models.Program
	if err := r.db.SelectContext(ctx, &programs, query, facilityID); err != nil {
		return nil, fmt.Errorf("list programs: %w", err)
	}
	return programs, nil
}

// LockTx acquires a row lock on the program for the duration of the
// surrounding transaction.
func (r *ProgramRepository) LockTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.Program, error) {
	query := fmt.Sprintf(`SELECT %s FROM programs WHERE id = $1 FOR UPDATE`, programColumns)
	var program models.Program
	if err := tx.GetContext(ctx, &program, query, id); err != nil {
		return nil, err
	}
	return &program, nil
}

// IncrementEnrollmentTx bumps the reporting enrollment counter within the
// caller's transaction.
func (r *ProgramRepository) IncrementEnrollmentTx(ctx context.Context, tx *sqlx.Tx, id string, delta int) error {
	const query = `UPDATE programs SET current_enrollment = current_enrollment + $2, updated_at = NOW() WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, id, delta); err != nil {
		return fmt.Errorf("increment program enrollment: %w", err)
	}
	return nil
}

// CountConfirmedTx counts confirmed bookings for the program inside the
// caller's transaction.
func (r *ProgramRepository) CountConfirmedTx(ctx context.Context, tx *sqlx.Tx, programID string) (int, error) {
	const query = `SELECT COUNT(*) FROM bookings WHERE program_id = $1 AND status = $2`
	var count int
	if err := tx.GetContext(ctx, &count, query, programID, models.BookingStatusConfirmed); err != nil {
		return 0, fmt.Errorf("count confirmed program bookings: %w", err)
	}
	return count, nil
}

// CountConfirmed is the advisory, snapshot variant of CountConfirmedTx.
func (r *ProgramRepository) CountConfirmed(ctx context.Context, programID string) (int, error) {
	const query = `SELECT COUNT(*) FROM bookings WHERE program_id = $1 AND status = $2`
	var count int
	if err := r.db.GetContext(ctx, &count, query, programID, models.BookingStatusConfirmed); err != nil {
		return 0, fmt.Errorf("count confirmed program bookings: %w", err)
	}
	return count, nil
}
