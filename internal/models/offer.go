package models

import (
	"time"

	"github.com/lib/pq"
)

// OfferResponse is the recorded outcome of an offer. An offer with a nil
// response is pending; once set, the offer is terminal and immutable
// except for the deposit-paid flag.
type OfferResponse string

// Possible offer responses.
const (
	OfferAccepted OfferResponse = "ACCEPTED"
	OfferDeclined OfferResponse = "DECLINED"
	OfferExpired  OfferResponse = "EXPIRED"
)

// Offer is a time-boxed, exclusive right-of-first-refusal on a specific
// spot, issued to exactly one waitlist entry. At most one non-terminal
// offer may exist per entry at any time.
type Offer struct {
	ID              string  `db:"id" json:"id"`
	WaitlistEntryID string  `db:"waitlist_entry_id" json:"waitlist_entry_id"`
	FacilityID      string  `db:"facility_id" json:"facility_id"`
	ProgramID       *string `db:"program_id" json:"program_id,omitempty"`

	SpotAvailableDate time.Time      `db:"spot_available_date" json:"spot_available_date"`
	OfferExpiresAt    time.Time      `db:"offer_expires_at" json:"offer_expires_at"`
	ReminderSentAt    *time.Time     `db:"reminder_sent_at" json:"reminder_sent_at,omitempty"`
	Response          *OfferResponse `db:"response" json:"response,omitempty"`
	RespondedAt       *time.Time     `db:"responded_at" json:"responded_at,omitempty"`
	ResponseNotes     string         `db:"response_notes" json:"response_notes,omitempty"`

	DepositRequired   bool           `db:"deposit_required" json:"deposit_required"`
	DepositAmount     float64        `db:"deposit_amount" json:"deposit_amount"`
	DepositPaid       bool           `db:"deposit_paid" json:"deposit_paid"`
	RequiredDocuments pq.StringArray `db:"required_documents" json:"required_documents,omitempty"`

	// Snapshots taken at offer time for audit and dispute resolution.
	PriorityAtOffer float64 `db:"priority_at_offer" json:"priority_at_offer"`
	PositionAtOffer int     `db:"position_at_offer" json:"position_at_offer"`

	CreatedBy string    `db:"created_by" json:"created_by,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// IsTerminal reports whether a response has been recorded.
func (o *Offer) IsTerminal() bool {
	return o.Response != nil
}

// IsPendingAt reports whether the offer still holds a slot at the given
// time: no response recorded and not yet past expiry.
func (o *Offer) IsPendingAt(now time.Time) bool {
	return o.Response == nil && o.OfferExpiresAt.After(now)
}

// ConvertibleToEnrollment reports whether the accepted offer has cleared
// its deposit gate.
func (o *Offer) ConvertibleToEnrollment() bool {
	if o.Response == nil || *o.Response != OfferAccepted {
		return false
	}
	return !o.DepositRequired || o.DepositPaid
}

// OfferSettings are the caller-supplied overrides for offer creation.
// Zero values fall back to facility defaults.
type OfferSettings struct {
	OfferWindowHours  int      `json:"offer_window_hours,omitempty"`
	DepositRequired   *bool    `json:"deposit_required,omitempty"`
	DepositAmount     *float64 `json:"deposit_amount,omitempty"`
	RequiredDocuments []string `json:"required_documents,omitempty"`
}
