package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/care-waitlist-api/internal/models"
)

// PriorityRuleRepository reads provider-managed scoring rules. The
// engine never mutates rules.
type PriorityRuleRepository struct {
	db *sqlx.DB
}

// NewPriorityRuleRepository constructs the repository.
func NewPriorityRuleRepository(db *sqlx.DB) *PriorityRuleRepository {
	return &PriorityRuleRepository{db: db}
}

// ListActive returns active rules for the scope: facility-wide rules plus
// rules scoped to the given program, in provider sort order.
func (r *PriorityRuleRepository) ListActive(ctx context.Context, facilityID string, programID *string) ([]models.PriorityRule, error) {
	query := `SELECT id, facility_id, program_id, rule_type, match_tag, points, is_active, sort_order, created_at
		FROM priority_rules
		WHERE facility_id = $1 AND is_active = TRUE`
	args := []interface{}{facilityID}
	if programID != nil {
		query += ` AND (program_id IS NULL OR program_id = $2)`
		args = append(args, *programID)
	} else {
		query += ` AND program_id IS NULL`
	}
	query += ` ORDER BY sort_order ASC, created_at ASC`

	var rules []models.PriorityRule
	if err := r.db.SelectContext(ctx, &rules, query, args...); err != nil {
		return nil, fmt.Errorf("list priority rules: %w", err)
	}
	return rules, nil
}
