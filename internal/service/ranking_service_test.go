package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/care-waitlist-api/internal/models"
)

type candidateSourceStub struct {
	byID map[string]*models.WaitlistEntry
	pool []models.WaitlistEntry
}

func (s *candidateSourceStub) FindByID(ctx context.Context, id string) (*models.WaitlistEntry, error) {
	return s.byID[id], nil
}

func (s *candidateSourceStub) ListReofferable(ctx context.Context, facilityID string, programID *string) ([]models.WaitlistEntry, error) {
	return s.pool, nil
}

type ruleSourceStub struct {
	rules []models.PriorityRule
}

func (s *ruleSourceStub) ListActive(ctx context.Context, facilityID string, programID *string) ([]models.PriorityRule, error) {
	return s.rules, nil
}

type activeOfferSourceStub struct {
	activeFor map[string]*models.Offer
}

func (s *activeOfferSourceStub) FindActiveByEntry(ctx context.Context, entryID string, now time.Time) (*models.Offer, error) {
	return s.activeFor[entryID], nil
}

type rankingFixture struct {
	entries  *candidateSourceStub
	rules    *ruleSourceStub
	programs *programStoreStub
	offers   *activeOfferSourceStub
	svc      *RankingService
	now      time.Time
}

func newRankingFixture() *rankingFixture {
	f := &rankingFixture{
		entries:  &candidateSourceStub{byID: make(map[string]*models.WaitlistEntry)},
		rules:    &ruleSourceStub{},
		programs: &programStoreStub{},
		offers:   &activeOfferSourceStub{activeFor: make(map[string]*models.Offer)},
		now:      time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC),
	}
	f.svc = NewRankingService(f.entries, f.rules, f.programs, f.offers, nil)
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *rankingFixture) addCandidate(id string, position, daysWaiting int, mutate func(*models.WaitlistEntry)) models.WaitlistEntry {
	entry := models.WaitlistEntry{
		ID:         id,
		FacilityID: "fac-1",
		Position:   position,
		Status:     models.WaitlistStatusActive,
		CreatedAt:  f.now.AddDate(0, 0, -daysWaiting),
	}
	if mutate != nil {
		mutate(&entry)
	}
	f.entries.pool = append(f.entries.pool, entry)
	return entry
}

func TestScoreEntryWaitingPointsCap(t *testing.T) {
	f := newRankingFixture()

	recent := models.WaitlistEntry{CreatedAt: f.now.AddDate(0, 0, -40)}
	assert.Equal(t, 20.0, f.svc.ScoreEntry(&recent, nil, f.now))

	// 200 days would accrue 100 points uncapped.
	veteran := models.WaitlistEntry{CreatedAt: f.now.AddDate(0, 0, -200)}
	assert.Equal(t, 50.0, f.svc.ScoreEntry(&veteran, nil, f.now))
}

func TestScoreEntryRulePoints(t *testing.T) {
	f := newRankingFixture()
	rules := []models.PriorityRule{
		{RuleType: models.RuleSiblingEnrolled, Points: 30},
		{RuleType: models.RuleStaffChild, Points: 25},
		{RuleType: models.RuleCustomTag, MatchTag: "alumni", Points: 10},
	}
	entry := models.WaitlistEntry{
		CreatedAt:       f.now.AddDate(0, 0, -10),
		SiblingEnrolled: true,
		Tags:            []string{"alumni"},
	}

	// 5 waiting points plus the sibling and tag rules; staff rule does
	// not match.
	assert.Equal(t, 45.0, f.svc.ScoreEntry(&entry, rules, f.now))
}

func TestRankCandidatesOrderAndTieBreak(t *testing.T) {
	f := newRankingFixture()
	f.rules.rules = []models.PriorityRule{{RuleType: models.RuleSubsidyApproved, Points: 40}}

	// Same 130-point score for the two subsidized entries; the lower
	// waitlist position must come first.
	f.addCandidate("entry-late", 10, 180, func(e *models.WaitlistEntry) { e.SubsidyApproved = true })
	f.addCandidate("entry-early", 5, 180, func(e *models.WaitlistEntry) { e.SubsidyApproved = true })
	f.addCandidate("entry-plain", 1, 20, nil)

	result, err := f.svc.RankCandidates(context.Background(), "fac-1", nil, time.Time{})
	require.NoError(t, err)
	require.Len(t, result.Candidates, 3)
	assert.Equal(t, "entry-early", result.Candidates[0].Entry.ID)
	assert.Equal(t, "entry-late", result.Candidates[1].Entry.ID)
	assert.Equal(t, "entry-plain", result.Candidates[2].Entry.ID)
	assert.Equal(t, 90.0, result.Candidates[0].Score)
	assert.Equal(t, 10.0, result.Candidates[2].Score)
	assert.Empty(t, result.Excluded)
}

func TestRankCandidatesDeterministic(t *testing.T) {
	f := newRankingFixture()
	f.addCandidate("entry-a", 2, 30, nil)
	f.addCandidate("entry-b", 1, 30, nil)
	f.addCandidate("entry-c", 3, 90, nil)

	first, err := f.svc.RankCandidates(context.Background(), "fac-1", nil, time.Time{})
	require.NoError(t, err)
	second, err := f.svc.RankCandidates(context.Background(), "fac-1", nil, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRankCandidatesExcludesIneligible(t *testing.T) {
	f := newRankingFixture()
	f.addCandidate("entry-ok", 1, 10, nil)
	f.addCandidate("entry-paused", 2, 10, func(e *models.WaitlistEntry) { e.IsPaused = true })
	f.addCandidate("entry-offered", 3, 10, nil)
	f.offers.activeFor["entry-offered"] = &models.Offer{ID: "offer-1"}

	result, err := f.svc.RankCandidates(context.Background(), "fac-1", nil, time.Time{})
	require.NoError(t, err)
	require.Len(t, result.Candidates, 1)
	assert.Equal(t, "entry-ok", result.Candidates[0].Entry.ID)

	excluded := make(map[string]string, len(result.Excluded))
	for _, e := range result.Excluded {
		excluded[e.EntryID] = e.Reason
	}
	assert.Equal(t, "entry is paused", excluded["entry-paused"])
	assert.Equal(t, "entry already holds an active offer", excluded["entry-offered"])
}

func TestCheckOfferEligibilityPauseWindow(t *testing.T) {
	f := newRankingFixture()
	until := f.now.Add(24 * time.Hour)
	entry := &models.WaitlistEntry{
		ID:          "entry-1",
		Status:      models.WaitlistStatusActive,
		IsPaused:    true,
		PausedUntil: &until,
	}

	eligible, reason, err := f.svc.CheckOfferEligibility(context.Background(), entry, nil, f.now)
	require.NoError(t, err)
	assert.False(t, eligible)
	assert.Equal(t, "entry is paused", reason)

	// A lapsed pause window no longer blocks.
	lapsed := f.now.Add(-time.Hour)
	entry.PausedUntil = &lapsed
	eligible, _, err = f.svc.CheckOfferEligibility(context.Background(), entry, nil, f.now)
	require.NoError(t, err)
	assert.True(t, eligible)
}

func TestCheckOfferEligibilityDesiredStartAfterSpot(t *testing.T) {
	f := newRankingFixture()
	entry := &models.WaitlistEntry{
		ID:               "entry-1",
		Status:           models.WaitlistStatusActive,
		DesiredStartDate: f.now.AddDate(0, 3, 0),
	}

	eligible, reason, err := f.svc.CheckOfferEligibility(context.Background(), entry, nil, f.now)
	require.NoError(t, err)
	assert.False(t, eligible)
	assert.Equal(t, "desired start is after the spot date", reason)

	// A desired start on or before the spot date is fine.
	entry.DesiredStartDate = f.now
	eligible, _, err = f.svc.CheckOfferEligibility(context.Background(), entry, nil, f.now)
	require.NoError(t, err)
	assert.True(t, eligible)
}

func TestRankCandidatesExcludesLateDesiredStart(t *testing.T) {
	f := newRankingFixture()
	f.addCandidate("entry-ready", 1, 10, nil)
	f.addCandidate("entry-later", 2, 10, func(e *models.WaitlistEntry) {
		e.DesiredStartDate = f.now.AddDate(0, 3, 0)
	})

	result, err := f.svc.RankCandidates(context.Background(), "fac-1", nil, f.now)
	require.NoError(t, err)
	require.Len(t, result.Candidates, 1)
	assert.Equal(t, "entry-ready", result.Candidates[0].Entry.ID)

	require.Len(t, result.Excluded, 1)
	assert.Equal(t, "entry-later", result.Excluded[0].EntryID)
	assert.Equal(t, "desired start is after the spot date", result.Excluded[0].Reason)
}

func TestCheckOfferEligibilityAgeAtSpotDate(t *testing.T) {
	f := newRankingFixture()
	program := &models.Program{MinAgeMonths: 12, MaxAgeMonths: 36}
	entry := &models.WaitlistEntry{
		ID:             "entry-1",
		Status:         models.WaitlistStatusActive,
		ChildBirthDate: f.now.AddDate(0, -10, 0),
	}

	// Ten months old at the spot date, below the twelve-month floor.
	eligible, reason, err := f.svc.CheckOfferEligibility(context.Background(), entry, program, f.now)
	require.NoError(t, err)
	assert.False(t, eligible)
	assert.Equal(t, "child age outside program range at spot date", reason)

	// The same child qualifies for a spot three months out.
	eligible, _, err = f.svc.CheckOfferEligibility(context.Background(), entry, program, f.now.AddDate(0, 3, 0))
	require.NoError(t, err)
	assert.True(t, eligible)
}

func TestCheckOfferEligibilityScheduleOverlap(t *testing.T) {
	f := newRankingFixture()
	program := &models.Program{
		OperatingDays: models.NewWeekdaySet(time.Monday, time.Tuesday, time.Wednesday),
	}
	entry := &models.WaitlistEntry{
		ID:            "entry-1",
		Status:        models.WaitlistStatusActive,
		PreferredDays: models.NewWeekdaySet(time.Thursday, time.Friday),
	}

	eligible, reason, err := f.svc.CheckOfferEligibility(context.Background(), entry, program, f.now)
	require.NoError(t, err)
	assert.False(t, eligible)
	assert.Equal(t, "preferred days do not overlap program schedule", reason)

	// No stated preference means any schedule fits.
	entry.PreferredDays = 0
	eligible, _, err = f.svc.CheckOfferEligibility(context.Background(), entry, program, f.now)
	require.NoError(t, err)
	assert.True(t, eligible)
}

func TestCheckOfferEligibilityStatuses(t *testing.T) {
	f := newRankingFixture()

	cases := []struct {
		status   models.WaitlistStatus
		eligible bool
	}{
		{models.WaitlistStatusActive, true},
		{models.WaitlistStatusDeclined, true},
		{models.WaitlistStatusExpired, true},
		{models.WaitlistStatusOffered, false},
		{models.WaitlistStatusAccepted, false},
		{models.WaitlistStatusEnrolled, false},
		{models.WaitlistStatusRemoved, false},
	}
	for _, tc := range cases {
		entry := &models.WaitlistEntry{ID: "entry-1", Status: tc.status}
		eligible, _, err := f.svc.CheckOfferEligibility(context.Background(), entry, nil, f.now)
		require.NoError(t, err)
		assert.Equal(t, tc.eligible, eligible, "status %s", tc.status)
	}
}

func TestRefreshScore(t *testing.T) {
	f := newRankingFixture()
	f.rules.rules = []models.PriorityRule{{RuleType: models.RuleStaffChild, Points: 25}}
	f.entries.byID["entry-1"] = &models.WaitlistEntry{
		ID:         "entry-1",
		FacilityID: "fac-1",
		StaffChild: true,
		CreatedAt:  f.now.AddDate(0, 0, -20),
	}

	score, err := f.svc.RefreshScore(context.Background(), "entry-1")
	require.NoError(t, err)
	assert.Equal(t, 35.0, score)
}
