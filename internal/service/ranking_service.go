package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/care-waitlist-api/internal/dto"
	"github.com/noah-isme/care-waitlist-api/internal/models"
	appErrors "github.com/noah-isme/care-waitlist-api/pkg/errors"
)

// Waiting-time points accrue at half a point per day and cap out so that
// tenure alone cannot outrank every priority rule.
const (
	waitingPointsPerDay = 0.5
	waitingPointsCap    = 50.0
)

type candidateSource interface {
	FindByID(ctx context.Context, id string) (*models.WaitlistEntry, error)
	ListReofferable(ctx context.Context, facilityID string, programID *string) ([]models.WaitlistEntry, error)
}

type ruleSource interface {
	ListActive(ctx context.Context, facilityID string, programID *string) ([]models.PriorityRule, error)
}

type programSource interface {
	FindByID(ctx context.Context, id string) (*models.Program, error)
}

type activeOfferSource interface {
	FindActiveByEntry(ctx context.Context, entryID string, now time.Time) (*models.Offer, error)
}

// RankingService computes priority scores and produces the ordered
// candidate list the advancer consumes. Ranking is a pure read: it never
// mutates entries, so two concurrent rankings over the same snapshot
// produce identical output.
type RankingService struct {
	entries  candidateSource
	rules    ruleSource
	programs programSource
	offers   activeOfferSource
	logger   *zap.Logger
	now      func() time.Time
}

// NewRankingService constructs RankingService.
func NewRankingService(entries candidateSource, rules ruleSource, programs programSource, offers activeOfferSource, logger *zap.Logger) *RankingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RankingService{
		entries:  entries,
		rules:    rules,
		programs: programs,
		offers:   offers,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ScoreEntry computes the priority score for one entry against the active
// rule set: capped waiting-time points plus the points of every matching
// rule.
func (s *RankingService) ScoreEntry(entry *models.WaitlistEntry, rules []models.PriorityRule, now time.Time) float64 {
	score := float64(entry.DaysOnWaitlist(now)) * waitingPointsPerDay
	if score > waitingPointsCap {
		score = waitingPointsCap
	}
	for i := range rules {
		if rules[i].Matches(entry) {
			score += float64(rules[i].Points)
		}
	}
	return score
}

// CheckOfferEligibility reports whether the entry can receive an offer for
// the given scope and spot date. A non-nil reason explains the first
// failed check; eligibility is all-or-nothing.
func (s *RankingService) CheckOfferEligibility(ctx context.Context, entry *models.WaitlistEntry, program *models.Program, spotAvailableDate time.Time) (bool, string, error) {
	now := s.now()

	if !isReofferable(entry.Status) {
		return false, fmt.Sprintf("entry status %s is not offerable", entry.Status), nil
	}
	if entry.PausedAt(now) {
		return false, "entry is paused", nil
	}
	if !spotAvailableDate.IsZero() && entry.DesiredStartDate.After(spotAvailableDate) {
		return false, "desired start is after the spot date", nil
	}
	if program != nil {
		if !program.FitsAge(entry.ChildBirthDate, spotAvailableDate) {
			return false, "child age outside program range at spot date", nil
		}
		if !entry.PreferredDays.IsEmpty() && !program.OperatingDays.IsEmpty() &&
			!entry.PreferredDays.Overlaps(program.OperatingDays) {
			return false, "preferred days do not overlap program schedule", nil
		}
	}

	active, err := s.offers.FindActiveByEntry(ctx, entry.ID, now)
	if err != nil {
		return false, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check active offers")
	}
	if active != nil {
		return false, "entry already holds an active offer", nil
	}
	return true, "", nil
}

// RankCandidates returns all eligible entries for the scope, ordered by
// descending score with waitlist position breaking ties. Deterministic
// over a fixed snapshot.
func (s *RankingService) RankCandidates(ctx context.Context, facilityID string, programID *string, spotAvailableDate time.Time) (*dto.RankingResult, error) {
	now := s.now()
	if spotAvailableDate.IsZero() {
		spotAvailableDate = now
	}

	var program *models.Program
	if programID != nil {
		p, err := s.programs.FindByID(ctx, *programID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "program not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load program")
		}
		program = p
	}

	pool, err := s.entries.ListReofferable(ctx, facilityID, programID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list candidates")
	}

	rules, err := s.rules.ListActive(ctx, facilityID, programID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load priority rules")
	}

	result := &dto.RankingResult{FacilityID: facilityID}
	if programID != nil {
		result.ProgramID = *programID
	}

	for i := range pool {
		entry := pool[i]
		eligible, reason, err := s.CheckOfferEligibility(ctx, &entry, program, spotAvailableDate)
		if err != nil {
			return nil, err
		}
		if !eligible {
			result.Excluded = append(result.Excluded, dto.IneligibleCandidate{EntryID: entry.ID, Reason: reason})
			continue
		}
		result.Candidates = append(result.Candidates, dto.RankedCandidate{
			Entry:  entry,
			Score:  s.ScoreEntry(&entry, rules, now),
			Reason: scoreBreakdown(&entry, rules, now),
		})
	}

	sort.SliceStable(result.Candidates, func(i, j int) bool {
		if result.Candidates[i].Score != result.Candidates[j].Score {
			return result.Candidates[i].Score > result.Candidates[j].Score
		}
		return result.Candidates[i].Entry.Position < result.Candidates[j].Entry.Position
	})

	s.logger.Debug("ranked waitlist candidates",
		zap.String("facility_id", facilityID),
		zap.Int("eligible", len(result.Candidates)),
		zap.Int("excluded", len(result.Excluded)))
	return result, nil
}

// RefreshScore recomputes and persists one entry's score outside of a
// ranking pass, for display purposes.
func (s *RankingService) RefreshScore(ctx context.Context, entryID string) (float64, error) {
	entry, err := s.entries.FindByID(ctx, entryID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, appErrors.Clone(appErrors.ErrNotFound, "waitlist entry not found")
		}
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load entry")
	}
	rules, err := s.rules.ListActive(ctx, entry.FacilityID, entry.ProgramID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load priority rules")
	}
	return s.ScoreEntry(entry, rules, s.now()), nil
}

func scoreBreakdown(entry *models.WaitlistEntry, rules []models.PriorityRule, now time.Time) string {
	waiting := float64(entry.DaysOnWaitlist(now)) * waitingPointsPerDay
	if waiting > waitingPointsCap {
		waiting = waitingPointsCap
	}
	matched := 0
	for i := range rules {
		if rules[i].Matches(entry) {
			matched++
		}
	}
	return fmt.Sprintf("waiting %.1f pts, %d rule(s) matched", waiting, matched)
}

func isReofferable(status models.WaitlistStatus) bool {
	for _, s := range models.ReofferableStatuses {
		if status == s {
			return true
		}
	}
	return false
}
