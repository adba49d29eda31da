package models

import (
	"time"

	"github.com/lib/pq"
)

// WaitlistStatus represents the lifecycle of a waitlist entry.
type WaitlistStatus string

// Possible waitlist entry statuses.
const (
	WaitlistStatusActive   WaitlistStatus = "ACTIVE"
	WaitlistStatusOffered  WaitlistStatus = "OFFERED"
	WaitlistStatusAccepted WaitlistStatus = "ACCEPTED"
	WaitlistStatusDeclined WaitlistStatus = "DECLINED"
	WaitlistStatusExpired  WaitlistStatus = "EXPIRED"
	WaitlistStatusEnrolled WaitlistStatus = "ENROLLED"
	WaitlistStatusRemoved  WaitlistStatus = "REMOVED"
)

// ReofferableStatuses are the statuses from which an entry may receive a
// new offer. Entries that declined or let a prior offer expire stay in
// the pool for future spots.
var ReofferableStatuses = []WaitlistStatus{
	WaitlistStatusActive,
	WaitlistStatusDeclined,
	WaitlistStatusExpired,
}

// WaitlistEntry is a parent's queued request for a spot at a facility,
// optionally narrowed to a program.
type WaitlistEntry struct {
	ID               string         `db:"id" json:"id"`
	FacilityID       string         `db:"facility_id" json:"facility_id"`
	ProgramID        *string        `db:"program_id" json:"program_id,omitempty"`
	ParentID         string         `db:"parent_id" json:"parent_id"`
	ChildName        string         `db:"child_name" json:"child_name"`
	ChildBirthDate   time.Time      `db:"child_birth_date" json:"child_birth_date"`
	DesiredStartDate time.Time      `db:"desired_start_date" json:"desired_start_date"`
	PreferredDays    WeekdaySet     `db:"preferred_days" json:"preferred_days"`
	Position         int            `db:"position" json:"position"`
	PriorityScore    float64        `db:"priority_score" json:"priority_score"`
	Status           WaitlistStatus `db:"status" json:"status"`

	SiblingEnrolled  bool           `db:"sibling_enrolled" json:"sibling_enrolled"`
	StaffChild       bool           `db:"staff_child" json:"staff_child"`
	SubsidyApproved  bool           `db:"subsidy_approved" json:"subsidy_approved"`
	CorporatePartner bool           `db:"corporate_partner" json:"corporate_partner"`
	SpecialNeeds     bool           `db:"special_needs" json:"special_needs"`
	InServiceArea    bool           `db:"in_service_area" json:"in_service_area"`
	Tags             pq.StringArray `db:"tags" json:"tags,omitempty"`

	IsPaused    bool       `db:"is_paused" json:"is_paused"`
	PausedUntil *time.Time `db:"paused_until" json:"paused_until,omitempty"`

	OfferAttempts int       `db:"offer_attempts" json:"offer_attempts"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// PausedAt reports whether the entry's pause window covers the given time.
func (e *WaitlistEntry) PausedAt(now time.Time) bool {
	if !e.IsPaused {
		return false
	}
	if e.PausedUntil == nil {
		return true
	}
	return e.PausedUntil.After(now)
}

// DaysOnWaitlist returns whole days elapsed since the entry joined.
func (e *WaitlistEntry) DaysOnWaitlist(now time.Time) int {
	if now.Before(e.CreatedAt) {
		return 0
	}
	return int(now.Sub(e.CreatedAt).Hours() / 24)
}

// WaitlistFilter provides filters for listing waitlist entries.
type WaitlistFilter struct {
	FacilityID string
	ProgramID  string
	ParentID   string
	Status     WaitlistStatus
	Page       int
	PageSize   int
}
