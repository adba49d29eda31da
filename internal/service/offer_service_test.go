package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/care-waitlist-api/internal/dto"
	"github.com/noah-isme/care-waitlist-api/internal/models"
	appErrors "github.com/noah-isme/care-waitlist-api/pkg/errors"
)

type offerStoreStub struct {
	mu          sync.Mutex
	byID        map[string]*models.Offer
	active      *models.Offer
	markWon     bool
	deposits    map[string]bool
	expired     []models.Offer
	dueReminder []models.Offer
	reminded    []string
	reminderWon map[string]bool
}

func (s *offerStoreStub) FindByID(ctx context.Context, id string) (*models.Offer, error) {
	return s.byID[id], nil
}

func (s *offerStoreStub) FindActiveByEntry(ctx context.Context, entryID string, now time.Time) (*models.Offer, error) {
	return s.active, nil
}

func (s *offerStoreStub) MarkResponse(ctx context.Context, id string, response models.OfferResponse, notes string, respondedAt time.Time) (bool, error) {
	return s.markWon, nil
}

func (s *offerStoreStub) SetDepositPaid(ctx context.Context, id string, paid bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deposits == nil {
		s.deposits = make(map[string]bool)
	}
	s.deposits[id] = paid
	return nil
}

func (s *offerStoreStub) ListExpired(ctx context.Context, now time.Time, limit int) ([]models.Offer, error) {
	return s.expired, nil
}

func (s *offerStoreStub) ListDueForReminder(ctx context.Context, now, until time.Time, limit int) ([]models.Offer, error) {
	return s.dueReminder, nil
}

func (s *offerStoreStub) MarkReminderSent(ctx context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if won, ok := s.reminderWon[id]; ok && !won {
		return false, nil
	}
	s.reminded = append(s.reminded, id)
	return true, nil
}

func (s *offerStoreStub) ListByFacility(ctx context.Context, facilityID string, limit int) ([]models.Offer, error) {
	return nil, nil
}

type entryStoreStub struct {
	mu       sync.Mutex
	entries  map[string]*models.WaitlistEntry
	statuses map[string]models.WaitlistStatus
}

func (s *entryStoreStub) FindByID(ctx context.Context, id string) (*models.WaitlistEntry, error) {
	return s.entries[id], nil
}

func (s *entryStoreStub) UpdateStatus(ctx context.Context, id string, status models.WaitlistStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statuses == nil {
		s.statuses = make(map[string]models.WaitlistStatus)
	}
	s.statuses[id] = status
	return nil
}

type facilityStoreStub struct {
	facility *models.Facility
}

func (s *facilityStoreStub) FindByID(ctx context.Context, id string) (*models.Facility, error) {
	return s.facility, nil
}

type programStoreStub struct {
	program *models.Program
}

func (s *programStoreStub) FindByID(ctx context.Context, id string) (*models.Program, error) {
	return s.program, nil
}

type rankerStub struct {
	eligible bool
	reason   string
	score    float64
}

func (s *rankerStub) CheckOfferEligibility(ctx context.Context, entry *models.WaitlistEntry, program *models.Program, spotAvailableDate time.Time) (bool, string, error) {
	return s.eligible, s.reason, nil
}

func (s *rankerStub) RefreshScore(ctx context.Context, entryID string) (float64, error) {
	return s.score, nil
}

type capacityStub struct {
	mu        sync.Mutex
	slots     int
	reserved  []ReserveRequest
	releaseFn func(offer *models.Offer, response models.OfferResponse) (bool, error)
	released  []models.OfferResponse
	convertFn func(req ConvertRequest) (*dto.ConversionResult, error)
	converted []ConvertRequest
}

func (s *capacityStub) ReserveCapacity(ctx context.Context, req ReserveRequest) (*dto.ReservationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.slots < req.Slots {
		return nil, appErrors.Clone(appErrors.ErrCapacityExceeded, "no slots available")
	}
	s.slots -= req.Slots
	s.reserved = append(s.reserved, req)
	return &dto.ReservationResult{OfferID: req.Offer.ID, AvailableSlots: s.slots}, nil
}

func (s *capacityStub) ReleaseCapacity(ctx context.Context, offer *models.Offer, response models.OfferResponse, notes, performedBy, performerType string) (bool, error) {
	s.mu.Lock()
	s.released = append(s.released, response)
	s.mu.Unlock()
	if s.releaseFn != nil {
		return s.releaseFn(offer, response)
	}
	return true, nil
}

func (s *capacityStub) ConvertToEnrollment(ctx context.Context, req ConvertRequest) (*dto.ConversionResult, error) {
	s.mu.Lock()
	s.converted = append(s.converted, req)
	s.mu.Unlock()
	if s.convertFn != nil {
		return s.convertFn(req)
	}
	return &dto.ConversionResult{BookingID: "booking-1"}, nil
}

type eventsStub struct {
	mu          sync.Mutex
	created     []string
	resolved    []models.OfferResponse
	reminders   []string
	enrollments []string
}

func (s *eventsStub) OfferCreated(offer *models.Offer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, offer.ID)
}

func (s *eventsStub) OfferResolved(offer *models.Offer, response models.OfferResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolved = append(s.resolved, response)
}

func (s *eventsStub) ExpiryReminder(offer *models.Offer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reminders = append(s.reminders, offer.ID)
}

func (s *eventsStub) EnrollmentCreated(offer *models.Offer, bookingID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enrollments = append(s.enrollments, bookingID)
}

type offerFixture struct {
	offers     *offerStoreStub
	entries    *entryStoreStub
	facilities *facilityStoreStub
	programs   *programStoreStub
	ranker     *rankerStub
	capacity   *capacityStub
	audits     *auditWriterStub
	events     *eventsStub
	svc        *OfferService
}

func newOfferFixture(cfg OfferServiceConfig) *offerFixture {
	f := &offerFixture{
		offers:     &offerStoreStub{markWon: true, byID: make(map[string]*models.Offer)},
		entries:    &entryStoreStub{entries: make(map[string]*models.WaitlistEntry)},
		facilities: &facilityStoreStub{facility: &models.Facility{ID: "fac-1", TotalCapacity: 10}},
		programs:   &programStoreStub{},
		ranker:     &rankerStub{eligible: true, score: 120},
		capacity:   &capacityStub{slots: 5},
		audits:     &auditWriterStub{},
		events:     &eventsStub{},
	}
	f.svc = NewOfferService(f.offers, f.entries, f.facilities, f.programs,
		f.ranker, f.capacity, f.audits, f.events, nil, nil, cfg)
	return f
}

func (f *offerFixture) addEntry(status models.WaitlistStatus) *models.WaitlistEntry {
	entry := &models.WaitlistEntry{
		ID:         uuid.NewString(),
		FacilityID: "fac-1",
		Position:   3,
		Status:     status,
		CreatedAt:  time.Now().UTC().Add(-30 * 24 * time.Hour),
	}
	f.entries.entries[entry.ID] = entry
	return entry
}

func (f *offerFixture) addOffer(mutate func(*models.Offer)) *models.Offer {
	offer := &models.Offer{
		ID:                uuid.NewString(),
		WaitlistEntryID:   uuid.NewString(),
		FacilityID:        "fac-1",
		SpotAvailableDate: time.Now().UTC(),
		OfferExpiresAt:    time.Now().UTC().Add(48 * time.Hour),
	}
	if mutate != nil {
		mutate(offer)
	}
	f.offers.byID[offer.ID] = offer
	return offer
}

func TestCreateOfferWindowFallback(t *testing.T) {
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	cases := []struct {
		name           string
		requestHours   int
		facilityHours  int
		expectedExpiry time.Time
	}{
		{"request settings win", 24, 72, base.Add(24 * time.Hour)},
		{"facility default applies", 0, 72, base.Add(72 * time.Hour)},
		{"service default applies", 0, 0, base.Add(48 * time.Hour)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newOfferFixture(OfferServiceConfig{})
			f.svc.now = func() time.Time { return base }
			f.facilities.facility.OfferWindowHours = tc.facilityHours
			entry := f.addEntry(models.WaitlistStatusActive)

			offer, err := f.svc.CreateOffer(context.Background(), CreateOfferRequest{
				WaitlistEntryID:   entry.ID,
				SpotAvailableDate: base.AddDate(0, 1, 0),
				Settings:          models.OfferSettings{OfferWindowHours: tc.requestHours},
				CreatedBy:         "provider-1",
			})
			require.NoError(t, err)
			assert.Equal(t, tc.expectedExpiry, offer.OfferExpiresAt)
		})
	}
}

func TestCreateOfferDepositFallback(t *testing.T) {
	f := newOfferFixture(OfferServiceConfig{})
	f.facilities.facility.DepositRequired = true
	f.facilities.facility.DepositAmount = 500
	entry := f.addEntry(models.WaitlistStatusActive)

	noDeposit := false
	offer, err := f.svc.CreateOffer(context.Background(), CreateOfferRequest{
		WaitlistEntryID:   entry.ID,
		SpotAvailableDate: time.Now().UTC().AddDate(0, 1, 0),
		Settings:          models.OfferSettings{DepositRequired: &noDeposit},
		CreatedBy:         "provider-1",
	})
	require.NoError(t, err)
	assert.False(t, offer.DepositRequired)
	assert.Equal(t, 500.0, offer.DepositAmount)
	assert.Equal(t, 120.0, offer.PriorityAtOffer)
	assert.Equal(t, 3, offer.PositionAtOffer)

	require.Len(t, f.capacity.reserved, 1)
	assert.Equal(t, []string{offer.ID}, f.events.created)
}

func TestCreateOfferRejectsSecondActiveOffer(t *testing.T) {
	f := newOfferFixture(OfferServiceConfig{})
	entry := f.addEntry(models.WaitlistStatusActive)
	f.offers.active = &models.Offer{ID: uuid.NewString(), WaitlistEntryID: entry.ID}

	_, err := f.svc.CreateOffer(context.Background(), CreateOfferRequest{
		WaitlistEntryID:   entry.ID,
		SpotAvailableDate: time.Now().UTC().AddDate(0, 1, 0),
		CreatedBy:         "provider-1",
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrActiveOfferExists))
	assert.Empty(t, f.capacity.reserved)
}

func TestCreateOfferIneligibleEntry(t *testing.T) {
	f := newOfferFixture(OfferServiceConfig{})
	f.ranker.eligible = false
	f.ranker.reason = "entry is paused"
	entry := f.addEntry(models.WaitlistStatusActive)

	_, err := f.svc.CreateOffer(context.Background(), CreateOfferRequest{
		WaitlistEntryID:   entry.ID,
		SpotAvailableDate: time.Now().UTC().AddDate(0, 1, 0),
		CreatedBy:         "provider-1",
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrIneligible))
}

func TestCreateOfferSingleWinnerForLastSlot(t *testing.T) {
	f := newOfferFixture(OfferServiceConfig{})
	f.capacity.slots = 1

	const contenders = 6
	entryIDs := make([]string, contenders)
	for i := range entryIDs {
		entryIDs[i] = f.addEntry(models.WaitlistStatusActive).ID
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var won, refused int
	for _, id := range entryIDs {
		wg.Add(1)
		go func(entryID string) {
			defer wg.Done()
			_, err := f.svc.CreateOffer(context.Background(), CreateOfferRequest{
				WaitlistEntryID:   entryID,
				SpotAvailableDate: time.Now().UTC().AddDate(0, 1, 0),
				CreatedBy:         "provider-1",
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				won++
			} else if appErrors.Is(err, appErrors.ErrCapacityExceeded) {
				refused++
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 1, won)
	assert.Equal(t, contenders-1, refused)
	assert.Len(t, f.events.created, 1)
}

func TestRespondAcceptHeldByDepositGate(t *testing.T) {
	f := newOfferFixture(OfferServiceConfig{})
	offer := f.addOffer(func(o *models.Offer) { o.DepositRequired = true })

	resolved, err := f.svc.RespondToOffer(context.Background(), RespondRequest{
		OfferID:     offer.ID,
		Response:    "ACCEPTED",
		PerformedBy: "parent-1",
	})
	require.NoError(t, err)
	require.NotNil(t, resolved.Response)
	assert.Equal(t, models.OfferAccepted, *resolved.Response)
	assert.Equal(t, models.WaitlistStatusAccepted, f.entries.statuses[offer.WaitlistEntryID])
	assert.Equal(t, []models.OfferResponse{models.OfferAccepted}, f.events.resolved)

	// The unpaid deposit blocks automatic conversion; the slot stays held.
	assert.Empty(t, f.capacity.converted)
	assert.Empty(t, f.events.enrollments)
}

func TestRespondAcceptAutoConverts(t *testing.T) {
	f := newOfferFixture(OfferServiceConfig{})
	offer := f.addOffer(nil)

	_, err := f.svc.RespondToOffer(context.Background(), RespondRequest{
		OfferID:     offer.ID,
		Response:    "ACCEPTED",
		PerformedBy: "parent-1",
	})
	require.NoError(t, err)
	require.Len(t, f.capacity.converted, 1)
	assert.Equal(t, offer.ID, f.capacity.converted[0].OfferID)
	assert.Equal(t, []string{"booking-1"}, f.events.enrollments)
}

func TestRespondAcceptWithDepositPayment(t *testing.T) {
	f := newOfferFixture(OfferServiceConfig{})
	offer := f.addOffer(func(o *models.Offer) { o.DepositRequired = true })

	resolved, err := f.svc.RespondToOffer(context.Background(), RespondRequest{
		OfferID:     offer.ID,
		Response:    "ACCEPTED",
		DepositPaid: true,
		PerformedBy: "parent-1",
	})
	require.NoError(t, err)
	assert.True(t, resolved.DepositPaid)
	assert.True(t, f.offers.deposits[offer.ID])
	require.Len(t, f.capacity.converted, 1)
}

func TestRespondDeclineReleasesSlot(t *testing.T) {
	f := newOfferFixture(OfferServiceConfig{})
	offer := f.addOffer(nil)

	resolved, err := f.svc.RespondToOffer(context.Background(), RespondRequest{
		OfferID:     offer.ID,
		Response:    "DECLINED",
		Notes:       "found another facility",
		PerformedBy: "parent-1",
	})
	require.NoError(t, err)
	require.NotNil(t, resolved.Response)
	assert.Equal(t, models.OfferDeclined, *resolved.Response)
	assert.Equal(t, []models.OfferResponse{models.OfferDeclined}, f.capacity.released)
	assert.Equal(t, models.WaitlistStatusDeclined, f.entries.statuses[offer.WaitlistEntryID])
	assert.Equal(t, []models.OfferResponse{models.OfferDeclined}, f.events.resolved)
	assert.Empty(t, f.capacity.converted)
}

func TestRespondRejectsExpiredWindow(t *testing.T) {
	f := newOfferFixture(OfferServiceConfig{})
	offer := f.addOffer(func(o *models.Offer) {
		o.OfferExpiresAt = time.Now().UTC().Add(-time.Minute)
	})

	_, err := f.svc.RespondToOffer(context.Background(), RespondRequest{
		OfferID:     offer.ID,
		Response:    "ACCEPTED",
		PerformedBy: "parent-1",
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrOfferResolved))
}

func TestRespondRejectsTerminalOffer(t *testing.T) {
	f := newOfferFixture(OfferServiceConfig{})
	response := models.OfferDeclined
	offer := f.addOffer(func(o *models.Offer) { o.Response = &response })

	_, err := f.svc.RespondToOffer(context.Background(), RespondRequest{
		OfferID:     offer.ID,
		Response:    "ACCEPTED",
		PerformedBy: "parent-1",
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrOfferResolved))
}

func TestRespondLosesRaceAgainstSweep(t *testing.T) {
	f := newOfferFixture(OfferServiceConfig{})
	f.offers.markWon = false
	offer := f.addOffer(nil)

	_, err := f.svc.RespondToOffer(context.Background(), RespondRequest{
		OfferID:     offer.ID,
		Response:    "ACCEPTED",
		PerformedBy: "parent-1",
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrOfferResolved))
	assert.Empty(t, f.events.resolved)
}

func TestConfirmDepositConverts(t *testing.T) {
	f := newOfferFixture(OfferServiceConfig{})
	response := models.OfferAccepted
	offer := f.addOffer(func(o *models.Offer) {
		o.Response = &response
		o.DepositRequired = true
	})

	result, err := f.svc.ConfirmDeposit(context.Background(), offer.ID, "provider-1", "")
	require.NoError(t, err)
	assert.Equal(t, "booking-1", result.BookingID)
	assert.True(t, f.offers.deposits[offer.ID])
	assert.Contains(t, f.audits.actions(), models.AuditActionDepositConfirmed)
	assert.Equal(t, []string{"booking-1"}, f.events.enrollments)
}

func TestConfirmDepositIdempotentConversion(t *testing.T) {
	f := newOfferFixture(OfferServiceConfig{})
	response := models.OfferAccepted
	offer := f.addOffer(func(o *models.Offer) {
		o.Response = &response
		o.DepositRequired = true
		o.DepositPaid = true
	})
	f.capacity.convertFn = func(req ConvertRequest) (*dto.ConversionResult, error) {
		return &dto.ConversionResult{BookingID: "booking-1", AlreadyExisted: true}, nil
	}

	result, err := f.svc.ConfirmDeposit(context.Background(), offer.ID, "provider-1", "")
	require.NoError(t, err)
	assert.True(t, result.AlreadyExisted)
	assert.Empty(t, f.offers.deposits)
	assert.Empty(t, f.events.enrollments)
}

func TestConfirmDepositRequiresAcceptance(t *testing.T) {
	f := newOfferFixture(OfferServiceConfig{})
	offer := f.addOffer(nil)

	_, err := f.svc.ConfirmDeposit(context.Background(), offer.ID, "provider-1", "")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrPreconditionFailed))
}

func TestSweepExpiredOffersIsolatesFailures(t *testing.T) {
	f := newOfferFixture(OfferServiceConfig{})
	f.offers.expired = []models.Offer{
		{ID: uuid.NewString(), WaitlistEntryID: "entry-a", FacilityID: "fac-1"},
		{ID: uuid.NewString(), WaitlistEntryID: "entry-b", FacilityID: "fac-1"},
		{ID: uuid.NewString(), WaitlistEntryID: "entry-c", FacilityID: "fac-1"},
	}
	failed := f.offers.expired[0].ID
	raced := f.offers.expired[1].ID
	f.capacity.releaseFn = func(offer *models.Offer, response models.OfferResponse) (bool, error) {
		switch offer.ID {
		case failed:
			return false, appErrors.Clone(appErrors.ErrInternal, "storage unavailable")
		case raced:
			// A parent response won the compare-and-set first.
			return false, nil
		default:
			return true, nil
		}
	}

	result, err := f.svc.SweepExpiredOffers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Scanned)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, result.Expired)
	assert.Equal(t, 1, result.AdvanceQueued)

	assert.Equal(t, models.WaitlistStatusExpired, f.entries.statuses["entry-c"])
	assert.NotContains(t, f.entries.statuses, "entry-b")
	assert.Equal(t, []models.OfferResponse{models.OfferExpired}, f.events.resolved)
}

func TestSweepEmptyBatch(t *testing.T) {
	f := newOfferFixture(OfferServiceConfig{})

	result, err := f.svc.SweepExpiredOffers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Scanned)
	assert.Empty(t, f.capacity.released)
}

func TestRemindExpiringOffersOnce(t *testing.T) {
	f := newOfferFixture(OfferServiceConfig{ReminderLead: 12 * time.Hour})
	due := models.Offer{ID: uuid.NewString(), WaitlistEntryID: "entry-a", FacilityID: "fac-1"}
	alreadyReminded := models.Offer{ID: uuid.NewString(), WaitlistEntryID: "entry-b", FacilityID: "fac-1"}
	f.offers.dueReminder = []models.Offer{due, alreadyReminded}
	// An overlapping pass stamped the second offer between listing and
	// the compare-and-set.
	f.offers.reminderWon = map[string]bool{alreadyReminded.ID: false}

	reminded, err := f.svc.RemindExpiringOffers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, reminded)
	assert.Equal(t, []string{due.ID}, f.offers.reminded)
	assert.Equal(t, []string{due.ID}, f.events.reminders)
}

func TestRemindExpiringOffersEmptyWindow(t *testing.T) {
	f := newOfferFixture(OfferServiceConfig{})

	reminded, err := f.svc.RemindExpiringOffers(context.Background())
	require.NoError(t, err)
	assert.Zero(t, reminded)
	assert.Empty(t, f.events.reminders)
}
