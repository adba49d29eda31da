package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/noah-isme/care-waitlist-api/internal/dto"
	"github.com/noah-isme/care-waitlist-api/internal/models"
	"github.com/noah-isme/care-waitlist-api/internal/repository"
	appErrors "github.com/noah-isme/care-waitlist-api/pkg/errors"
)

type txBeginner interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

type facilityLedger interface {
	FindByID(ctx context.Context, id string) (*models.Facility, error)
	LockTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.Facility, error)
	IncrementOccupancyTx(ctx context.Context, tx *sqlx.Tx, id string, delta int) error
	CountConfirmedTx(ctx context.Context, tx *sqlx.Tx, facilityID string) (int, error)
	CountConfirmed(ctx context.Context, facilityID string) (int, error)
}

type programLedger interface {
	FindByID(ctx context.Context, id string) (*models.Program, error)
	LockTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.Program, error)
	IncrementEnrollmentTx(ctx context.Context, tx *sqlx.Tx, id string, delta int) error
	CountConfirmedTx(ctx context.Context, tx *sqlx.Tx, programID string) (int, error)
	CountConfirmed(ctx context.Context, programID string) (int, error)
}

type offerLedger interface {
	FindByID(ctx context.Context, id string) (*models.Offer, error)
	CreateTx(ctx context.Context, tx *sqlx.Tx, offer *models.Offer) error
	CountPendingTx(ctx context.Context, tx *sqlx.Tx, facilityID string, programID *string, now time.Time) (int, error)
	CountPending(ctx context.Context, facilityID string, programID *string, now time.Time) (int, error)
	MarkTerminalTx(ctx context.Context, tx *sqlx.Tx, id string, response models.OfferResponse, notes string, respondedAt time.Time) (bool, error)
}

type bookingLedger interface {
	FindByOfferIDTx(ctx context.Context, tx *sqlx.Tx, offerID string) (*models.Booking, error)
	CreateTx(ctx context.Context, tx *sqlx.Tx, booking *models.Booking) error
}

type entryLedger interface {
	MarkOfferedTx(ctx context.Context, tx *sqlx.Tx, id string, score float64) (bool, error)
	UpdateStatusTx(ctx context.Context, tx *sqlx.Tx, id string, status models.WaitlistStatus) error
}

type auditWriter interface {
	Create(ctx context.Context, entry *models.AuditLogEntry) error
	CreateTx(ctx context.Context, tx *sqlx.Tx, entry *models.AuditLogEntry) error
}

type snapshotCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	InvalidateScope(ctx context.Context, facilityID string) error
}

// CapacityServiceConfig tunes reservation retries and snapshot caching.
type CapacityServiceConfig struct {
	ReserveRetries int
	ReserveBackoff time.Duration
	SnapshotTTL    time.Duration
}

// CapacityService is the authoritative ledger for facility and program
// occupancy. Availability is always derived by counting confirmed
// bookings and slot-holding offers; the occupancy columns on facilities
// and programs are reporting fields only.
type CapacityService struct {
	db         txBeginner
	facilities facilityLedger
	programs   programLedger
	offers     offerLedger
	bookings   bookingLedger
	entries    entryLedger
	audits     auditWriter
	cache      snapshotCache
	locks      *scopeLock
	metrics    *MetricsService
	logger     *zap.Logger
	cfg        CapacityServiceConfig
	now        func() time.Time
}

// NewCapacityService constructs CapacityService.
func NewCapacityService(db txBeginner, facilities facilityLedger, programs programLedger, offers offerLedger,
	bookings bookingLedger, entries entryLedger, audits auditWriter, cache snapshotCache,
	metrics *MetricsService, logger *zap.Logger, cfg CapacityServiceConfig) *CapacityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ReserveRetries <= 0 {
		cfg.ReserveRetries = 3
	}
	if cfg.ReserveBackoff <= 0 {
		cfg.ReserveBackoff = 50 * time.Millisecond
	}
	if cfg.SnapshotTTL <= 0 {
		cfg.SnapshotTTL = 30 * time.Second
	}
	return &CapacityService{
		db:         db,
		facilities: facilities,
		programs:   programs,
		offers:     offers,
		bookings:   bookings,
		entries:    entries,
		audits:     audits,
		cache:      cache,
		locks:      newScopeLock(),
		metrics:    metrics,
		logger:     logger,
		cfg:        cfg,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// CheckCapacity computes the advisory availability snapshot for a scope.
// The read is lock-free and must never be relied upon to prevent
// double-booking; ReserveCapacity re-checks under exclusivity.
func (s *CapacityService) CheckCapacity(ctx context.Context, facilityID string, programID *string, requiredSlots int) (*dto.CapacityResult, error) {
	if requiredSlots < 1 {
		requiredSlots = 1
	}

	key := repository.CapacityKey(facilityID, programID)
	if s.cache != nil {
		var cached dto.CapacityResult
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			cached.HasCapacity = cached.AvailableSlots >= requiredSlots
			return &cached, nil
		}
	}

	facility, err := s.facilities.FindByID(ctx, facilityID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "facility not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load facility")
	}

	now := s.now()
	confirmed, err := s.facilities.CountConfirmed(ctx, facilityID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count occupancy")
	}
	pending, err := s.offers.CountPending(ctx, facilityID, nil, now)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count pending offers")
	}

	available := facility.TotalCapacity - confirmed - pending

	if programID != nil {
		program, err := s.programs.FindByID(ctx, *programID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "program not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load program")
		}
		progConfirmed, err := s.programs.CountConfirmed(ctx, *programID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count program occupancy")
		}
		progPending, err := s.offers.CountPending(ctx, facilityID, programID, now)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count program offers")
		}
		if progAvailable := program.TotalCapacity - progConfirmed - progPending; progAvailable < available {
			available = progAvailable
		}
	}

	if available < 0 {
		available = 0
	}

	result := &dto.CapacityResult{
		FacilityID:       facilityID,
		HasCapacity:      available >= requiredSlots,
		AvailableSlots:   available,
		TotalCapacity:    facility.TotalCapacity,
		CurrentOccupancy: confirmed,
		PendingOffers:    pending,
	}
	if programID != nil {
		result.ProgramID = *programID
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, result, s.cfg.SnapshotTTL); err != nil {
			s.logger.Warn("capacity snapshot cache write failed", zap.String("facility_id", facilityID), zap.Error(err))
		}
	}
	return result, nil
}

// ReserveRequest carries the offer to persist together with the
// reservation and the audit attribution.
type ReserveRequest struct {
	Offer         *models.Offer
	Slots         int
	Score         float64
	PerformedBy   string
	PerformerType string
}

// ReserveCapacity re-checks availability under per-scope exclusivity and
// persists the offer atomically with the check. Exactly one of several
// concurrent reservations for the last slot succeeds; the rest receive
// CAPACITY_EXCEEDED.
func (s *CapacityService) ReserveCapacity(ctx context.Context, req ReserveRequest) (*dto.ReservationResult, error) {
	offer := req.Offer
	if offer == nil || offer.FacilityID == "" || offer.WaitlistEntryID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "reservation requires an offer with facility and entry")
	}
	if req.Slots < 1 {
		req.Slots = 1
	}
	if !offer.OfferExpiresAt.After(s.now()) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "offer expiry must be in the future")
	}

	unlock := s.locks.Acquire(offer.FacilityID, offer.ProgramID)
	defer unlock()

	var result *dto.ReservationResult
	err := s.withTxRetry(ctx, func(tx *sqlx.Tx) error {
		res, err := s.reserveInTx(ctx, tx, req)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		if appErrors.Is(err, appErrors.ErrCapacityExceeded) {
			s.metrics.IncCapacityConflicts()
		}
		return nil, err
	}

	s.invalidateSnapshot(ctx, offer.FacilityID)
	return result, nil
}

func (s *CapacityService) reserveInTx(ctx context.Context, tx *sqlx.Tx, req ReserveRequest) (*dto.ReservationResult, error) {
	offer := req.Offer
	now := s.now()

	facility, err := s.facilities.LockTx(ctx, tx, offer.FacilityID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "facility not found")
		}
		return nil, fmt.Errorf("lock facility: %w", err)
	}

	confirmed, err := s.facilities.CountConfirmedTx(ctx, tx, offer.FacilityID)
	if err != nil {
		return nil, err
	}
	pending, err := s.offers.CountPendingTx(ctx, tx, offer.FacilityID, nil, now)
	if err != nil {
		return nil, err
	}
	available := facility.TotalCapacity - confirmed - pending

	if offer.ProgramID != nil {
		program, err := s.programs.LockTx(ctx, tx, *offer.ProgramID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "program not found")
			}
			return nil, fmt.Errorf("lock program: %w", err)
		}
		progConfirmed, err := s.programs.CountConfirmedTx(ctx, tx, *offer.ProgramID)
		if err != nil {
			return nil, err
		}
		progPending, err := s.offers.CountPendingTx(ctx, tx, offer.FacilityID, offer.ProgramID, now)
		if err != nil {
			return nil, err
		}
		if progAvailable := program.TotalCapacity - progConfirmed - progPending; progAvailable < available {
			available = progAvailable
		}
	}

	if available < req.Slots {
		return nil, appErrors.Clone(appErrors.ErrCapacityExceeded,
			fmt.Sprintf("requested %d slot(s), %d available", req.Slots, maxInt(available, 0)))
	}

	if err := s.offers.CreateTx(ctx, tx, offer); err != nil {
		return nil, err
	}

	// Final eligibility recheck: the entry must still be in the
	// reofferable pool at commit time.
	ok, err := s.entries.MarkOfferedTx(ctx, tx, offer.WaitlistEntryID, req.Score)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrIneligible, "waitlist entry is no longer eligible for an offer")
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"offer_id":         offer.ID,
		"offer_expires_at": offer.OfferExpiresAt,
		"priority_score":   req.Score,
		"position":         offer.PositionAtOffer,
	})
	if err := s.audits.CreateTx(ctx, tx, &models.AuditLogEntry{
		WaitlistEntryID: &offer.WaitlistEntryID,
		OfferID:         &offer.ID,
		FacilityID:      offer.FacilityID,
		Action:          models.AuditActionOfferCreated,
		Description:     "offer created and capacity reserved",
		PerformedBy:     req.PerformedBy,
		PerformedByType: req.PerformerType,
		NewValues:       payload,
	}); err != nil {
		return nil, err
	}

	return &dto.ReservationResult{OfferID: offer.ID, AvailableSlots: available - req.Slots}, nil
}

// ReleaseCapacity records a terminal DECLINED/EXPIRED response on the
// offer. No counter is decremented: availability is recomputed from rows,
// so marking the offer terminal is the release. The transition and its
// audit entry commit in one transaction. Returns false when a concurrent
// responder already resolved the offer.
func (s *CapacityService) ReleaseCapacity(ctx context.Context, offer *models.Offer, response models.OfferResponse, notes, performedBy, performerType string) (bool, error) {
	if response != models.OfferDeclined && response != models.OfferExpired {
		return false, appErrors.Clone(appErrors.ErrValidation, "release requires a DECLINED or EXPIRED response")
	}

	action := models.AuditActionOfferDeclined
	if response == models.OfferExpired {
		action = models.AuditActionOfferExpired
	}
	payload, _ := json.Marshal(map[string]interface{}{"response": response, "notes": notes})

	won := false
	err := s.runInTx(ctx, func(tx *sqlx.Tx) error {
		w, err := s.offers.MarkTerminalTx(ctx, tx, offer.ID, response, notes, s.now())
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve offer")
		}
		won = w
		if !w {
			return nil
		}
		return s.audits.CreateTx(ctx, tx, &models.AuditLogEntry{
			WaitlistEntryID: &offer.WaitlistEntryID,
			OfferID:         &offer.ID,
			FacilityID:      offer.FacilityID,
			Action:          action,
			Description:     "offer resolved and capacity released",
			PerformedBy:     performedBy,
			PerformedByType: performerType,
			NewValues:       payload,
		})
	})
	if err != nil {
		return false, err
	}
	if !won {
		return false, nil
	}

	s.invalidateSnapshot(ctx, offer.FacilityID)
	return true, nil
}

// ConvertRequest carries enrollment conversion parameters.
type ConvertRequest struct {
	OfferID       string
	StartDate     time.Time
	MonthlyRate   float64
	PerformedBy   string
	PerformerType string
}

// ConvertToEnrollment turns an accepted, deposit-cleared offer into a
// confirmed booking. Idempotent: a repeat call returns the existing
// booking without touching occupancy again.
func (s *CapacityService) ConvertToEnrollment(ctx context.Context, req ConvertRequest) (*dto.ConversionResult, error) {
	offer, err := s.offers.FindByID(ctx, req.OfferID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "offer not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load offer")
	}
	if offer.Response == nil || *offer.Response != models.OfferAccepted {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "only accepted offers can be converted")
	}
	if !offer.ConvertibleToEnrollment() {
		return nil, appErrors.Clone(appErrors.ErrDepositPending, "deposit must be confirmed before enrollment")
	}

	startDate := req.StartDate
	if startDate.IsZero() {
		startDate = offer.SpotAvailableDate
	}

	unlock := s.locks.Acquire(offer.FacilityID, offer.ProgramID)
	defer unlock()

	var result *dto.ConversionResult
	err = s.withTxRetry(ctx, func(tx *sqlx.Tx) error {
		res, err := s.convertInTx(ctx, tx, offer, startDate, req)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.AlreadyExisted {
		s.metrics.IncEnrollmentsConverted()
		s.invalidateSnapshot(ctx, offer.FacilityID)
	}
	return result, nil
}

func (s *CapacityService) convertInTx(ctx context.Context, tx *sqlx.Tx, offer *models.Offer, startDate time.Time, req ConvertRequest) (*dto.ConversionResult, error) {
	existing, err := s.bookings.FindByOfferIDTx(ctx, tx, offer.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &dto.ConversionResult{BookingID: existing.ID, StartDate: existing.StartDate, AlreadyExisted: true}, nil
	}

	if _, err := s.facilities.LockTx(ctx, tx, offer.FacilityID); err != nil {
		return nil, fmt.Errorf("lock facility: %w", err)
	}

	booking := &models.Booking{
		OfferID:         offer.ID,
		WaitlistEntryID: offer.WaitlistEntryID,
		FacilityID:      offer.FacilityID,
		ProgramID:       offer.ProgramID,
		StartDate:       startDate,
		MonthlyRate:     req.MonthlyRate,
		Status:          models.BookingStatusConfirmed,
	}
	if err := s.bookings.CreateTx(ctx, tx, booking); err != nil {
		return nil, err
	}
	if err := s.facilities.IncrementOccupancyTx(ctx, tx, offer.FacilityID, 1); err != nil {
		return nil, err
	}
	if offer.ProgramID != nil {
		if err := s.programs.IncrementEnrollmentTx(ctx, tx, *offer.ProgramID, 1); err != nil {
			return nil, err
		}
	}
	if err := s.entries.UpdateStatusTx(ctx, tx, offer.WaitlistEntryID, models.WaitlistStatusEnrolled); err != nil {
		return nil, err
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"booking_id":   booking.ID,
		"start_date":   startDate,
		"monthly_rate": req.MonthlyRate,
	})
	if err := s.audits.CreateTx(ctx, tx, &models.AuditLogEntry{
		WaitlistEntryID: &offer.WaitlistEntryID,
		OfferID:         &offer.ID,
		FacilityID:      offer.FacilityID,
		Action:          models.AuditActionEnrollmentCreated,
		Description:     "accepted offer converted to enrollment",
		PerformedBy:     req.PerformedBy,
		PerformedByType: req.PerformerType,
		NewValues:       payload,
	}); err != nil {
		return nil, err
	}

	return &dto.ConversionResult{BookingID: booking.ID, StartDate: startDate}, nil
}

// withTxRetry runs fn in a transaction, retrying bounded times on
// serialization failures and deadlocks before surfacing a conflict.
func (s *CapacityService) withTxRetry(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt <= s.cfg.ReserveRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.cfg.ReserveBackoff * time.Duration(attempt)):
			}
		}

		err := s.runInTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !isRetryableTxError(err) {
			return err
		}
		lastErr = err
		s.logger.Warn("capacity transaction conflict, retrying", zap.Int("attempt", attempt+1), zap.Error(err))
	}
	s.metrics.IncCapacityConflicts()
	return appErrors.Wrap(lastErr, appErrors.ErrConcurrencyConflict.Code, appErrors.ErrConcurrencyConflict.Status,
		"capacity transaction failed after retries")
}

func (s *CapacityService) runInTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit capacity transaction: %w", err)
	}
	return nil
}

func (s *CapacityService) invalidateSnapshot(ctx context.Context, facilityID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateScope(ctx, facilityID); err != nil {
		s.logger.Warn("capacity snapshot invalidation failed", zap.String("facility_id", facilityID), zap.Error(err))
	}
}

func isRetryableTxError(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// serialization_failure, deadlock_detected
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	return false
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
