package models

import "time"

// PriorityRuleType identifies the entry attribute a rule rewards.
type PriorityRuleType string

// Supported rule types. CustomTag rules match against the entry's tags.
const (
	RuleSiblingEnrolled  PriorityRuleType = "SIBLING_ENROLLED"
	RuleStaffChild       PriorityRuleType = "STAFF_CHILD"
	RuleServiceArea      PriorityRuleType = "SERVICE_AREA"
	RuleSubsidyApproved  PriorityRuleType = "SUBSIDY_APPROVED"
	RuleCorporatePartner PriorityRuleType = "CORPORATE_PARTNER"
	RuleSpecialNeeds     PriorityRuleType = "SPECIAL_NEEDS"
	RuleCustomTag        PriorityRuleType = "CUSTOM_TAG"
)

// PriorityRule is a provider-managed scoring rule scoped to a facility or
// one of its programs. Read-only input to the ranker.
type PriorityRule struct {
	ID         string           `db:"id" json:"id"`
	FacilityID string           `db:"facility_id" json:"facility_id"`
	ProgramID  *string          `db:"program_id" json:"program_id,omitempty"`
	RuleType   PriorityRuleType `db:"rule_type" json:"rule_type"`
	MatchTag   string           `db:"match_tag" json:"match_tag,omitempty"`
	Points     int              `db:"points" json:"points"`
	IsActive   bool             `db:"is_active" json:"is_active"`
	SortOrder  int              `db:"sort_order" json:"sort_order"`
	CreatedAt  time.Time        `db:"created_at" json:"created_at"`
}

// Matches reports whether the rule applies to the given entry.
func (r *PriorityRule) Matches(entry *WaitlistEntry) bool {
	switch r.RuleType {
	case RuleSiblingEnrolled:
		return entry.SiblingEnrolled
	case RuleStaffChild:
		return entry.StaffChild
	case RuleServiceArea:
		return entry.InServiceArea
	case RuleSubsidyApproved:
		return entry.SubsidyApproved
	case RuleCorporatePartner:
		return entry.CorporatePartner
	case RuleSpecialNeeds:
		return entry.SpecialNeeds
	case RuleCustomTag:
		if r.MatchTag == "" {
			return false
		}
		for _, tag := range entry.Tags {
			if tag == r.MatchTag {
				return true
			}
		}
		return false
	default:
		return false
	}
}
