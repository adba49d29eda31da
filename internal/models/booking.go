package models

import "time"

// BookingStatus represents the lifecycle of a confirmed occupancy record.
type BookingStatus string

// Possible booking statuses.
const (
	BookingStatusConfirmed BookingStatus = "CONFIRMED"
	BookingStatusCancelled BookingStatus = "CANCELLED"
)

// Booking is the confirmed occupancy record produced by converting an
// accepted offer. Keyed 1:1 to its offer so conversion stays idempotent.
type Booking struct {
	ID              string        `db:"id" json:"id"`
	OfferID         string        `db:"offer_id" json:"offer_id"`
	WaitlistEntryID string        `db:"waitlist_entry_id" json:"waitlist_entry_id"`
	FacilityID      string        `db:"facility_id" json:"facility_id"`
	ProgramID       *string       `db:"program_id" json:"program_id,omitempty"`
	StartDate       time.Time     `db:"start_date" json:"start_date"`
	MonthlyRate     float64       `db:"monthly_rate" json:"monthly_rate"`
	Status          BookingStatus `db:"status" json:"status"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
}
