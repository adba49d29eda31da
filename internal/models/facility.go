package models

import (
	"time"

	"github.com/lib/pq"
)

// Facility is a childcare provider location with a total capacity.
// CurrentOccupancy is a reporting field maintained by enrollment
// conversion; availability checks always recount rows instead.
type Facility struct {
	ID               string         `db:"id" json:"id"`
	Name             string         `db:"name" json:"name"`
	TotalCapacity    int            `db:"total_capacity" json:"total_capacity"`
	CurrentOccupancy int            `db:"current_occupancy" json:"current_occupancy"`
	ServiceAreaCodes pq.StringArray `db:"service_area_codes" json:"service_area_codes,omitempty"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at" json:"updated_at"`

	FacilitySettings
}

// FacilitySettings are provider-managed defaults applied when an offer
// omits explicit settings.
type FacilitySettings struct {
	AutoAdvanceEnabled bool           `db:"auto_advance_enabled" json:"auto_advance_enabled"`
	OfferWindowHours   int            `db:"offer_window_hours" json:"offer_window_hours"`
	DepositRequired    bool           `db:"deposit_required" json:"deposit_required"`
	DepositAmount      float64        `db:"deposit_amount" json:"deposit_amount"`
	RequiredDocuments  pq.StringArray `db:"required_documents" json:"required_documents,omitempty"`
}
