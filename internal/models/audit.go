package models

import "time"

// AuditAction constants represent waitlist state transitions to be logged.
const (
	AuditActionWaitlistJoined    = "WAITLIST_JOINED"
	AuditActionWaitlistPaused    = "WAITLIST_PAUSED"
	AuditActionWaitlistResumed   = "WAITLIST_RESUMED"
	AuditActionWaitlistRemoved   = "WAITLIST_REMOVED"
	AuditActionOfferCreated      = "OFFER_CREATED"
	AuditActionOfferAccepted     = "OFFER_ACCEPTED"
	AuditActionOfferDeclined     = "OFFER_DECLINED"
	AuditActionOfferExpired      = "OFFER_EXPIRED"
	AuditActionDepositConfirmed  = "DEPOSIT_CONFIRMED"
	AuditActionEnrollmentCreated = "ENROLLMENT_CREATED"
	AuditActionWaitlistExhausted = "WAITLIST_EXHAUSTED"
)

// PerformerType identifies who drove a transition.
const (
	PerformerParent   = "PARENT"
	PerformerProvider = "PROVIDER"
	PerformerSystem   = "SYSTEM"
)

// AuditLogEntry is an append-only record of a state transition. Rows are
// never updated or deleted.
type AuditLogEntry struct {
	ID              string    `db:"id" json:"id"`
	WaitlistEntryID *string   `db:"waitlist_entry_id" json:"waitlist_entry_id,omitempty"`
	OfferID         *string   `db:"offer_id" json:"offer_id,omitempty"`
	FacilityID      string    `db:"facility_id" json:"facility_id"`
	Action          string    `db:"action" json:"action"`
	Description     string    `db:"description" json:"description"`
	PerformedBy     string    `db:"performed_by" json:"performed_by"`
	PerformedByType string    `db:"performed_by_type" json:"performed_by_type"`
	OldValues       []byte    `db:"old_values" json:"old_values,omitempty"`
	NewValues       []byte    `db:"new_values" json:"new_values,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}
