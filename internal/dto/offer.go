package dto

import "time"

// ReservationResult reports the outcome of a successful capacity
// reservation.
type ReservationResult struct {
	OfferID        string `json:"offer_id"`
	AvailableSlots int    `json:"available_slots"`
}

// ConversionResult reports the booking produced by converting an
// accepted offer. AlreadyExisted is true when the call was an idempotent
// replay.
type ConversionResult struct {
	BookingID      string    `json:"booking_id"`
	StartDate      time.Time `json:"start_date"`
	AlreadyExisted bool      `json:"already_existed"`
}

// SweepResult summarizes one expiry sweep pass. AdvanceQueued counts
// vacancies handed to the advancer; whether each one produces a new
// offer depends on the facility's auto-advance setting.
type SweepResult struct {
	Scanned       int       `json:"scanned"`
	Expired       int       `json:"expired"`
	Failed        int       `json:"failed"`
	AdvanceQueued int       `json:"advance_queued"`
	StartedAt     time.Time `json:"started_at"`
	Duration      string    `json:"duration"`
}
