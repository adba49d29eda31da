package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// WeekdaySet is a set of weekdays stored as a bitmask (bit 0 = Sunday,
// matching time.Weekday ordinals). Used for program operating days and
// waitlist entry preferred days.
type WeekdaySet int

// NewWeekdaySet builds a set from the given days.
func NewWeekdaySet(days ...time.Weekday) WeekdaySet {
	var s WeekdaySet
	for _, d := range days {
		s |= 1 << uint(d)
	}
	return s
}

// Has reports whether the set contains the given weekday.
func (s WeekdaySet) Has(d time.Weekday) bool {
	return s&(1<<uint(d)) != 0
}

// IsEmpty reports whether no weekday is set.
func (s WeekdaySet) IsEmpty() bool {
	return s == 0
}

// Overlaps reports whether the two sets share at least one weekday.
func (s WeekdaySet) Overlaps(other WeekdaySet) bool {
	return s&other != 0
}

// Days returns the contained weekdays in Sunday-first order.
func (s WeekdaySet) Days() []time.Weekday {
	var days []time.Weekday
	for d := time.Sunday; d <= time.Saturday; d++ {
		if s.Has(d) {
			days = append(days, d)
		}
	}
	return days
}

// String renders the set as a comma-separated list of day names.
func (s WeekdaySet) String() string {
	names := make([]string, 0, 7)
	for _, d := range s.Days() {
		names = append(names, d.String())
	}
	return strings.Join(names, ",")
}

// Value implements driver.Valuer; the set is persisted as its bitmask.
func (s WeekdaySet) Value() (driver.Value, error) {
	return int64(s), nil
}

// Scan implements sql.Scanner.
func (s *WeekdaySet) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*s = 0
	case int64:
		*s = WeekdaySet(v)
	case []byte:
		var n int64
		if _, err := fmt.Sscan(string(v), &n); err != nil {
			return fmt.Errorf("scan weekday set: %w", err)
		}
		*s = WeekdaySet(n)
	default:
		return fmt.Errorf("scan weekday set: unsupported type %T", src)
	}
	return nil
}

// MarshalJSON renders the set as an array of day names.
func (s WeekdaySet) MarshalJSON() ([]byte, error) {
	names := make([]string, 0, 7)
	for _, d := range s.Days() {
		names = append(names, d.String())
	}
	return json.Marshal(names)
}

// UnmarshalJSON accepts an array of day names (case-insensitive).
func (s *WeekdaySet) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	var set WeekdaySet
	for _, name := range names {
		d, err := parseWeekday(name)
		if err != nil {
			return err
		}
		set |= 1 << uint(d)
	}
	*s = set
	return nil
}

func parseWeekday(name string) (time.Weekday, error) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), name) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", name)
}
