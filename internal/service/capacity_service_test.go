package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/care-waitlist-api/internal/models"
	appErrors "github.com/noah-isme/care-waitlist-api/pkg/errors"
)

func newTxMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "postgres")
	cleanup := func() {
		_ = sqlxDB.Close()
		db.Close()
	}
	return sqlxDB, mock, cleanup
}

type facilityLedgerStub struct {
	facility  *models.Facility
	confirmed int
	increment int
}

func (s *facilityLedgerStub) FindByID(ctx context.Context, id string) (*models.Facility, error) {
	return s.facility, nil
}

func (s *facilityLedgerStub) LockTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.Facility, error) {
	return s.facility, nil
}

func (s *facilityLedgerStub) IncrementOccupancyTx(ctx context.Context, tx *sqlx.Tx, id string, delta int) error {
	s.increment += delta
	return nil
}

func (s *facilityLedgerStub) CountConfirmedTx(ctx context.Context, tx *sqlx.Tx, facilityID string) (int, error) {
	return s.confirmed, nil
}

func (s *facilityLedgerStub) CountConfirmed(ctx context.Context, facilityID string) (int, error) {
	return s.confirmed, nil
}

type programLedgerStub struct {
	program   *models.Program
	confirmed int
	increment int
}

func (s *programLedgerStub) FindByID(ctx context.Context, id string) (*models.Program, error) {
	return s.program, nil
}

func (s *programLedgerStub) LockTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.Program, error) {
	return s.program, nil
}

func (s *programLedgerStub) IncrementEnrollmentTx(ctx context.Context, tx *sqlx.Tx, id string, delta int) error {
	s.increment += delta
	return nil
}

func (s *programLedgerStub) CountConfirmedTx(ctx context.Context, tx *sqlx.Tx, programID string) (int, error) {
	return s.confirmed, nil
}

func (s *programLedgerStub) CountConfirmed(ctx context.Context, programID string) (int, error) {
	return s.confirmed, nil
}

type offerLedgerStub struct {
	mu             sync.Mutex
	offer          *models.Offer
	pending        int
	created        []*models.Offer
	markWon        bool
	markErr        error
	programPending int
}

func (s *offerLedgerStub) FindByID(ctx context.Context, id string) (*models.Offer, error) {
	return s.offer, nil
}

func (s *offerLedgerStub) CreateTx(ctx context.Context, tx *sqlx.Tx, offer *models.Offer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, offer)
	s.pending++
	return nil
}

func (s *offerLedgerStub) CountPendingTx(ctx context.Context, tx *sqlx.Tx, facilityID string, programID *string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if programID != nil {
		return s.programPending, nil
	}
	return s.pending, nil
}

func (s *offerLedgerStub) CountPending(ctx context.Context, facilityID string, programID *string, now time.Time) (int, error) {
	return s.CountPendingTx(ctx, nil, facilityID, programID, now)
}

func (s *offerLedgerStub) MarkTerminalTx(ctx context.Context, tx *sqlx.Tx, id string, response models.OfferResponse, notes string, respondedAt time.Time) (bool, error) {
	if s.markErr != nil || !s.markWon {
		return s.markWon, s.markErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending > 0 {
		s.pending--
	}
	return true, nil
}

type bookingLedgerStub struct {
	existing *models.Booking
	created  []*models.Booking
}

func (s *bookingLedgerStub) FindByOfferIDTx(ctx context.Context, tx *sqlx.Tx, offerID string) (*models.Booking, error) {
	return s.existing, nil
}

func (s *bookingLedgerStub) CreateTx(ctx context.Context, tx *sqlx.Tx, booking *models.Booking) error {
	booking.ID = "booking-1"
	s.created = append(s.created, booking)
	return nil
}

type entryLedgerStub struct {
	markOK   bool
	statuses map[string]models.WaitlistStatus
}

func (s *entryLedgerStub) MarkOfferedTx(ctx context.Context, tx *sqlx.Tx, id string, score float64) (bool, error) {
	return s.markOK, nil
}

func (s *entryLedgerStub) UpdateStatusTx(ctx context.Context, tx *sqlx.Tx, id string, status models.WaitlistStatus) error {
	if s.statuses == nil {
		s.statuses = make(map[string]models.WaitlistStatus)
	}
	s.statuses[id] = status
	return nil
}

type auditWriterStub struct {
	mu      sync.Mutex
	entries []*models.AuditLogEntry
	err     error
}

func (s *auditWriterStub) Create(ctx context.Context, entry *models.AuditLogEntry) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *auditWriterStub) CreateTx(ctx context.Context, tx *sqlx.Tx, entry *models.AuditLogEntry) error {
	return s.Create(ctx, entry)
}

func (s *auditWriterStub) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Action
	}
	return out
}

func pendingOffer(facilityID string) *models.Offer {
	return &models.Offer{
		ID:                "offer-1",
		WaitlistEntryID:   "entry-1",
		FacilityID:        facilityID,
		SpotAvailableDate: time.Now().UTC(),
		OfferExpiresAt:    time.Now().UTC().Add(48 * time.Hour),
	}
}

func newCapacityService(db *sqlx.DB, facilities *facilityLedgerStub, programs *programLedgerStub,
	offers *offerLedgerStub, bookings *bookingLedgerStub, entries *entryLedgerStub, audits *auditWriterStub) *CapacityService {
	return NewCapacityService(db, facilities, programs, offers, bookings, entries, audits,
		nil, nil, nil, CapacityServiceConfig{})
}

func TestReserveCapacityLastSlot(t *testing.T) {
	db, mock, cleanup := newTxMock(t)
	defer cleanup()
	mock.ExpectBegin()
	mock.ExpectCommit()

	facilities := &facilityLedgerStub{facility: &models.Facility{ID: "fac-1", TotalCapacity: 10}, confirmed: 6}
	offers := &offerLedgerStub{pending: 3}
	entries := &entryLedgerStub{markOK: true}
	audits := &auditWriterStub{}
	svc := newCapacityService(db, facilities, &programLedgerStub{}, offers, &bookingLedgerStub{}, entries, audits)

	result, err := svc.ReserveCapacity(context.Background(), ReserveRequest{
		Offer: pendingOffer("fac-1"),
		Score: 120,
	})
	require.NoError(t, err)
	assert.Equal(t, "offer-1", result.OfferID)
	assert.Equal(t, 0, result.AvailableSlots)
	require.Len(t, offers.created, 1)
	assert.Contains(t, audits.actions(), models.AuditActionOfferCreated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveCapacityRefusedWhenFull(t *testing.T) {
	db, mock, cleanup := newTxMock(t)
	defer cleanup()
	mock.ExpectBegin()
	mock.ExpectRollback()

	// 6 confirmed plus 4 slot-holding offers exhaust a capacity of 10.
	facilities := &facilityLedgerStub{facility: &models.Facility{ID: "fac-1", TotalCapacity: 10}, confirmed: 6}
	offers := &offerLedgerStub{pending: 4}
	svc := newCapacityService(db, facilities, &programLedgerStub{}, offers, &bookingLedgerStub{}, &entryLedgerStub{markOK: true}, &auditWriterStub{})

	_, err := svc.ReserveCapacity(context.Background(), ReserveRequest{Offer: pendingOffer("fac-1")})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrCapacityExceeded))
	assert.Empty(t, offers.created)
}

func TestReserveCapacityProgramScopeBinds(t *testing.T) {
	db, mock, cleanup := newTxMock(t)
	defer cleanup()
	mock.ExpectBegin()
	mock.ExpectRollback()

	programID := "prog-1"
	offer := pendingOffer("fac-1")
	offer.ProgramID = &programID

	// Facility has room but the program is full.
	facilities := &facilityLedgerStub{facility: &models.Facility{ID: "fac-1", TotalCapacity: 20}, confirmed: 5}
	programs := &programLedgerStub{program: &models.Program{ID: programID, TotalCapacity: 8}, confirmed: 7}
	offers := &offerLedgerStub{pending: 2, programPending: 1}
	svc := newCapacityService(db, facilities, programs, offers, &bookingLedgerStub{}, &entryLedgerStub{markOK: true}, &auditWriterStub{})

	_, err := svc.ReserveCapacity(context.Background(), ReserveRequest{Offer: offer})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrCapacityExceeded))
}

func TestReserveCapacityEntryLeftPool(t *testing.T) {
	db, mock, cleanup := newTxMock(t)
	defer cleanup()
	mock.ExpectBegin()
	mock.ExpectRollback()

	facilities := &facilityLedgerStub{facility: &models.Facility{ID: "fac-1", TotalCapacity: 10}}
	svc := newCapacityService(db, facilities, &programLedgerStub{}, &offerLedgerStub{}, &bookingLedgerStub{}, &entryLedgerStub{markOK: false}, &auditWriterStub{})

	_, err := svc.ReserveCapacity(context.Background(), ReserveRequest{Offer: pendingOffer("fac-1")})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrIneligible))
}

func TestReserveCapacitySingleWinnerUnderContention(t *testing.T) {
	db, mock, cleanup := newTxMock(t)
	defer cleanup()
	mock.MatchExpectationsInOrder(false)
	const contenders = 8
	for i := 0; i < contenders; i++ {
		mock.ExpectBegin()
	}
	mock.ExpectCommit()
	for i := 0; i < contenders-1; i++ {
		mock.ExpectRollback()
	}

	// One slot left; the stub's pending count grows with each created
	// offer, so the re-check under the scope lock admits exactly one.
	facilities := &facilityLedgerStub{facility: &models.Facility{ID: "fac-1", TotalCapacity: 10}, confirmed: 9}
	offers := &offerLedgerStub{pending: 0}
	svc := newCapacityService(db, facilities, &programLedgerStub{}, offers, &bookingLedgerStub{}, &entryLedgerStub{markOK: true}, &auditWriterStub{})

	var wg sync.WaitGroup
	var mu sync.Mutex
	var won, refused int
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			offer := pendingOffer("fac-1")
			offer.ID = ""
			_, err := svc.ReserveCapacity(context.Background(), ReserveRequest{Offer: offer})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				won++
			} else if appErrors.Is(err, appErrors.ErrCapacityExceeded) {
				refused++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, won)
	assert.Equal(t, contenders-1, refused)
	assert.Len(t, offers.created, 1)
}

func TestReleaseCapacityAtomicWithAudit(t *testing.T) {
	db, mock, cleanup := newTxMock(t)
	defer cleanup()
	mock.ExpectBegin()
	mock.ExpectCommit()

	audits := &auditWriterStub{}
	svc := newCapacityService(db, &facilityLedgerStub{}, &programLedgerStub{}, &offerLedgerStub{markWon: true}, &bookingLedgerStub{}, &entryLedgerStub{}, audits)

	won, err := svc.ReleaseCapacity(context.Background(), pendingOffer("fac-1"), models.OfferExpired, "offer window elapsed", "sweep", models.PerformerSystem)
	require.NoError(t, err)
	assert.True(t, won)
	require.Len(t, audits.entries, 1)
	assert.Equal(t, models.AuditActionOfferExpired, audits.entries[0].Action)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaseCapacityAuditFailureRollsBack(t *testing.T) {
	db, mock, cleanup := newTxMock(t)
	defer cleanup()
	mock.ExpectBegin()
	mock.ExpectRollback()

	audits := &auditWriterStub{err: appErrors.Clone(appErrors.ErrInternal, "audit store unavailable")}
	svc := newCapacityService(db, &facilityLedgerStub{}, &programLedgerStub{}, &offerLedgerStub{markWon: true}, &bookingLedgerStub{}, &entryLedgerStub{}, audits)

	won, err := svc.ReleaseCapacity(context.Background(), pendingOffer("fac-1"), models.OfferDeclined, "other plans", "parent-1", models.PerformerParent)
	require.Error(t, err)
	assert.False(t, won)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaseCapacityLosesRace(t *testing.T) {
	db, mock, cleanup := newTxMock(t)
	defer cleanup()
	mock.ExpectBegin()
	mock.ExpectCommit()

	audits := &auditWriterStub{}
	svc := newCapacityService(db, &facilityLedgerStub{}, &programLedgerStub{}, &offerLedgerStub{markWon: false}, &bookingLedgerStub{}, &entryLedgerStub{}, audits)

	won, err := svc.ReleaseCapacity(context.Background(), pendingOffer("fac-1"), models.OfferExpired, "offer window elapsed", "sweep", models.PerformerSystem)
	require.NoError(t, err)
	assert.False(t, won)
	assert.Empty(t, audits.entries)
}

func TestReleaseCapacityRejectsAccepted(t *testing.T) {
	db, _, cleanup := newTxMock(t)
	defer cleanup()
	svc := newCapacityService(db, &facilityLedgerStub{}, &programLedgerStub{}, &offerLedgerStub{}, &bookingLedgerStub{}, &entryLedgerStub{}, &auditWriterStub{})

	_, err := svc.ReleaseCapacity(context.Background(), pendingOffer("fac-1"), models.OfferAccepted, "", "parent-1", models.PerformerParent)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func acceptedOffer(depositRequired, depositPaid bool) *models.Offer {
	offer := pendingOffer("fac-1")
	response := models.OfferAccepted
	offer.Response = &response
	offer.DepositRequired = depositRequired
	offer.DepositPaid = depositPaid
	return offer
}

func TestConvertToEnrollmentCreatesBooking(t *testing.T) {
	db, mock, cleanup := newTxMock(t)
	defer cleanup()
	mock.ExpectBegin()
	mock.ExpectCommit()

	facilities := &facilityLedgerStub{facility: &models.Facility{ID: "fac-1", TotalCapacity: 10}}
	offers := &offerLedgerStub{offer: acceptedOffer(false, false)}
	bookings := &bookingLedgerStub{}
	entries := &entryLedgerStub{}
	audits := &auditWriterStub{}
	svc := newCapacityService(db, facilities, &programLedgerStub{}, offers, bookings, entries, audits)

	result, err := svc.ConvertToEnrollment(context.Background(), ConvertRequest{OfferID: "offer-1", PerformedBy: "provider-1"})
	require.NoError(t, err)
	assert.False(t, result.AlreadyExisted)
	assert.Equal(t, "booking-1", result.BookingID)
	require.Len(t, bookings.created, 1)
	assert.Equal(t, 1, facilities.increment)
	assert.Equal(t, models.WaitlistStatusEnrolled, entries.statuses["entry-1"])
	assert.Contains(t, audits.actions(), models.AuditActionEnrollmentCreated)
}

func TestConvertToEnrollmentIdempotent(t *testing.T) {
	db, mock, cleanup := newTxMock(t)
	defer cleanup()
	mock.ExpectBegin()
	mock.ExpectCommit()

	existing := &models.Booking{ID: "booking-1", OfferID: "offer-1", StartDate: time.Now().UTC()}
	facilities := &facilityLedgerStub{facility: &models.Facility{ID: "fac-1"}}
	offers := &offerLedgerStub{offer: acceptedOffer(true, true)}
	bookings := &bookingLedgerStub{existing: existing}
	svc := newCapacityService(db, facilities, &programLedgerStub{}, offers, bookings, &entryLedgerStub{}, &auditWriterStub{})

	result, err := svc.ConvertToEnrollment(context.Background(), ConvertRequest{OfferID: "offer-1"})
	require.NoError(t, err)
	assert.True(t, result.AlreadyExisted)
	assert.Equal(t, "booking-1", result.BookingID)
	assert.Empty(t, bookings.created)
	assert.Equal(t, 0, facilities.increment)
}

func TestConvertToEnrollmentDepositGate(t *testing.T) {
	db, _, cleanup := newTxMock(t)
	defer cleanup()

	offers := &offerLedgerStub{offer: acceptedOffer(true, false)}
	svc := newCapacityService(db, &facilityLedgerStub{}, &programLedgerStub{}, offers, &bookingLedgerStub{}, &entryLedgerStub{}, &auditWriterStub{})

	_, err := svc.ConvertToEnrollment(context.Background(), ConvertRequest{OfferID: "offer-1"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrDepositPending))
}

func TestConvertToEnrollmentRequiresAcceptance(t *testing.T) {
	db, _, cleanup := newTxMock(t)
	defer cleanup()

	offers := &offerLedgerStub{offer: pendingOffer("fac-1")}
	svc := newCapacityService(db, &facilityLedgerStub{}, &programLedgerStub{}, offers, &bookingLedgerStub{}, &entryLedgerStub{}, &auditWriterStub{})

	_, err := svc.ConvertToEnrollment(context.Background(), ConvertRequest{OfferID: "offer-1"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrPreconditionFailed))
}

func TestCheckCapacitySnapshot(t *testing.T) {
	db, _, cleanup := newTxMock(t)
	defer cleanup()

	facilities := &facilityLedgerStub{facility: &models.Facility{ID: "fac-1", TotalCapacity: 10}, confirmed: 7}
	offers := &offerLedgerStub{pending: 2}
	svc := newCapacityService(db, facilities, &programLedgerStub{}, offers, &bookingLedgerStub{}, &entryLedgerStub{}, &auditWriterStub{})

	result, err := svc.CheckCapacity(context.Background(), "fac-1", nil, 1)
	require.NoError(t, err)
	assert.True(t, result.HasCapacity)
	assert.Equal(t, 1, result.AvailableSlots)
	assert.Equal(t, 7, result.CurrentOccupancy)
	assert.Equal(t, 2, result.PendingOffers)

	result, err = svc.CheckCapacity(context.Background(), "fac-1", nil, 2)
	require.NoError(t, err)
	assert.False(t, result.HasCapacity)
}

func TestCheckCapacityReflectsExpiredOffer(t *testing.T) {
	db, mock, cleanup := newTxMock(t)
	defer cleanup()
	mock.ExpectBegin()
	mock.ExpectCommit()

	// Nine confirmed bookings plus one pending offer fill the facility.
	facilities := &facilityLedgerStub{facility: &models.Facility{ID: "fac-1", TotalCapacity: 10}, confirmed: 9}
	offers := &offerLedgerStub{pending: 1, markWon: true}
	svc := newCapacityService(db, facilities, &programLedgerStub{}, offers, &bookingLedgerStub{}, &entryLedgerStub{}, &auditWriterStub{})

	result, err := svc.CheckCapacity(context.Background(), "fac-1", nil, 1)
	require.NoError(t, err)
	assert.False(t, result.HasCapacity)
	assert.Equal(t, 0, result.AvailableSlots)
	assert.Equal(t, 1, result.PendingOffers)

	// The sweep expires the pending offer; the freed slot shows up on the
	// next check without any counter maintenance.
	won, err := svc.ReleaseCapacity(context.Background(), pendingOffer("fac-1"), models.OfferExpired, "offer window elapsed", "sweep", models.PerformerSystem)
	require.NoError(t, err)
	require.True(t, won)

	result, err = svc.CheckCapacity(context.Background(), "fac-1", nil, 1)
	require.NoError(t, err)
	assert.True(t, result.HasCapacity)
	assert.Equal(t, 1, result.AvailableSlots)
	assert.Equal(t, 0, result.PendingOffers)
}
