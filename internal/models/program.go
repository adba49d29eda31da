package models

import "time"

// Program is an optional sub-scope of a facility with its own age range,
// weekly schedule and capacity. Program capacity is bounded by, but
// independent of, the facility's.
type Program struct {
	ID                string     `db:"id" json:"id"`
	FacilityID        string     `db:"facility_id" json:"facility_id"`
	Name              string     `db:"name" json:"name"`
	TotalCapacity     int        `db:"total_capacity" json:"total_capacity"`
	CurrentEnrollment int        `db:"current_enrollment" json:"current_enrollment"`
	MinAgeMonths      int        `db:"min_age_months" json:"min_age_months"`
	MaxAgeMonths      int        `db:"max_age_months" json:"max_age_months"`
	OperatingDays     WeekdaySet `db:"operating_days" json:"operating_days"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// AgeInMonthsAt returns the child's whole-month age at the given date.
func AgeInMonthsAt(birthDate, at time.Time) int {
	months := (at.Year()-birthDate.Year())*12 + int(at.Month()) - int(birthDate.Month())
	if at.Day() < birthDate.Day() {
		months--
	}
	if months < 0 {
		return 0
	}
	return months
}

// FitsAge reports whether a child born on birthDate falls inside the
// program's age band at the given start date. A zero MaxAgeMonths means
// no upper bound.
func (p *Program) FitsAge(birthDate, startDate time.Time) bool {
	age := AgeInMonthsAt(birthDate, startDate)
	if age < p.MinAgeMonths {
		return false
	}
	if p.MaxAgeMonths > 0 && age > p.MaxAgeMonths {
		return false
	}
	return true
}
