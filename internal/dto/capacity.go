package dto

import "github.com/noah-isme/care-waitlist-api/internal/models"

// CapacityResult is the advisory capacity snapshot returned by
// CheckCapacity. It is computed without locks and must not be used to
// guard reservations.
type CapacityResult struct {
	FacilityID       string `json:"facility_id"`
	ProgramID        string `json:"program_id,omitempty"`
	HasCapacity      bool   `json:"has_capacity"`
	AvailableSlots   int    `json:"available_slots"`
	TotalCapacity    int    `json:"total_capacity"`
	CurrentOccupancy int    `json:"current_occupancy"`
	PendingOffers    int    `json:"pending_offers"`
}

// RankedCandidate pairs a waitlist entry with its computed score.
type RankedCandidate struct {
	Entry  models.WaitlistEntry `json:"entry"`
	Score  float64              `json:"score"`
	Reason string               `json:"reason"`
}

// IneligibleCandidate reports why an entry was filtered out of a ranking.
type IneligibleCandidate struct {
	EntryID string `json:"entry_id"`
	Reason  string `json:"reason"`
}

// RankingResult is the full output of a ranking pass.
type RankingResult struct {
	FacilityID string                `json:"facility_id"`
	ProgramID  string                `json:"program_id,omitempty"`
	Candidates []RankedCandidate     `json:"candidates"`
	Excluded   []IneligibleCandidate `json:"excluded,omitempty"`
}
