package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/care-waitlist-api/internal/dto"
	"github.com/noah-isme/care-waitlist-api/internal/models"
	appErrors "github.com/noah-isme/care-waitlist-api/pkg/errors"
)

type offerStore interface {
	FindByID(ctx context.Context, id string) (*models.Offer, error)
	FindActiveByEntry(ctx context.Context, entryID string, now time.Time) (*models.Offer, error)
	MarkResponse(ctx context.Context, id string, response models.OfferResponse, notes string, respondedAt time.Time) (bool, error)
	SetDepositPaid(ctx context.Context, id string, paid bool) error
	ListExpired(ctx context.Context, now time.Time, limit int) ([]models.Offer, error)
	ListDueForReminder(ctx context.Context, now, until time.Time, limit int) ([]models.Offer, error)
	MarkReminderSent(ctx context.Context, id string, at time.Time) (bool, error)
	ListByFacility(ctx context.Context, facilityID string, limit int) ([]models.Offer, error)
}

type entryStore interface {
	FindByID(ctx context.Context, id string) (*models.WaitlistEntry, error)
	UpdateStatus(ctx context.Context, id string, status models.WaitlistStatus) error
}

type facilityStore interface {
	FindByID(ctx context.Context, id string) (*models.Facility, error)
}

type candidateRanker interface {
	CheckOfferEligibility(ctx context.Context, entry *models.WaitlistEntry, program *models.Program, spotAvailableDate time.Time) (bool, string, error)
	RefreshScore(ctx context.Context, entryID string) (float64, error)
}

type capacityCoordinator interface {
	ReserveCapacity(ctx context.Context, req ReserveRequest) (*dto.ReservationResult, error)
	ReleaseCapacity(ctx context.Context, offer *models.Offer, response models.OfferResponse, notes, performedBy, performerType string) (bool, error)
	ConvertToEnrollment(ctx context.Context, req ConvertRequest) (*dto.ConversionResult, error)
}

type lifecycleEvents interface {
	OfferCreated(offer *models.Offer)
	OfferResolved(offer *models.Offer, response models.OfferResponse)
	ExpiryReminder(offer *models.Offer)
	EnrollmentCreated(offer *models.Offer, bookingID string)
}

// OfferServiceConfig carries lifecycle defaults.
type OfferServiceConfig struct {
	DefaultWindowHours int
	SweepBatchSize     int
	ReminderLead       time.Duration
}

// OfferService drives the offer lifecycle: creation against a capacity
// reservation, parent responses, deposit confirmation and the expiry
// sweep. An offer is terminal once any response is recorded; the
// compare-and-set in the repository guarantees a single winner when a
// response races the sweep.
type OfferService struct {
	offers     offerStore
	entries    entryStore
	facilities facilityStore
	programs   programSource
	ranker     candidateRanker
	capacity   capacityCoordinator
	audits     auditWriter
	events     lifecycleEvents
	metrics    *MetricsService
	validator  *validator.Validate
	logger     *zap.Logger
	cfg        OfferServiceConfig
	now        func() time.Time
}

// NewOfferService constructs OfferService.
func NewOfferService(offers offerStore, entries entryStore, facilities facilityStore, programs programSource,
	ranker candidateRanker, capacity capacityCoordinator, audits auditWriter, events lifecycleEvents,
	metrics *MetricsService, logger *zap.Logger, cfg OfferServiceConfig) *OfferService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultWindowHours <= 0 {
		cfg.DefaultWindowHours = 48
	}
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = 100
	}
	if cfg.ReminderLead <= 0 {
		cfg.ReminderLead = 12 * time.Hour
	}
	return &OfferService{
		offers:     offers,
		entries:    entries,
		facilities: facilities,
		programs:   programs,
		ranker:     ranker,
		capacity:   capacity,
		audits:     audits,
		events:     events,
		metrics:    metrics,
		validator:  validator.New(),
		logger:     logger,
		cfg:        cfg,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// CreateOfferRequest is the input for offer creation.
type CreateOfferRequest struct {
	WaitlistEntryID   string               `json:"waitlist_entry_id" validate:"required,uuid4"`
	SpotAvailableDate time.Time            `json:"spot_available_date" validate:"required"`
	Settings          models.OfferSettings `json:"settings"`
	CreatedBy         string               `json:"created_by" validate:"required"`
	PerformerType     string               `json:"performer_type"`
}

// CreateOffer issues a new offer to a waitlist entry, reserving one slot
// atomically with the eligibility recheck. Settings fall back from the
// request to the facility defaults to the service default window.
func (s *OfferService) CreateOffer(ctx context.Context, req CreateOfferRequest) (*models.Offer, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid offer request")
	}
	if req.PerformerType == "" {
		req.PerformerType = models.PerformerProvider
	}

	entry, err := s.entries.FindByID(ctx, req.WaitlistEntryID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "waitlist entry not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load entry")
	}

	now := s.now()
	if active, err := s.offers.FindActiveByEntry(ctx, entry.ID, now); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check active offers")
	} else if active != nil {
		return nil, appErrors.Clone(appErrors.ErrActiveOfferExists, "entry already holds an active offer")
	}

	facility, err := s.facilities.FindByID(ctx, entry.FacilityID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "facility not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load facility")
	}

	var program *models.Program
	if entry.ProgramID != nil {
		program, err = s.programs.FindByID(ctx, *entry.ProgramID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "program not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load program")
		}
	}

	eligible, reason, err := s.ranker.CheckOfferEligibility(ctx, entry, program, req.SpotAvailableDate)
	if err != nil {
		return nil, err
	}
	if !eligible {
		return nil, appErrors.Clone(appErrors.ErrIneligible, reason)
	}

	score, err := s.ranker.RefreshScore(ctx, entry.ID)
	if err != nil {
		return nil, err
	}

	offer := s.buildOffer(entry, facility, req, score, now)
	if _, err := s.capacity.ReserveCapacity(ctx, ReserveRequest{
		Offer:         offer,
		Slots:         1,
		Score:         score,
		PerformedBy:   req.CreatedBy,
		PerformerType: req.PerformerType,
	}); err != nil {
		return nil, err
	}

	s.metrics.IncOffersCreated()
	if s.events != nil {
		s.events.OfferCreated(offer)
	}
	s.logger.Info("offer created",
		zap.String("offer_id", offer.ID),
		zap.String("entry_id", entry.ID),
		zap.Time("expires_at", offer.OfferExpiresAt))
	return offer, nil
}

func (s *OfferService) buildOffer(entry *models.WaitlistEntry, facility *models.Facility, req CreateOfferRequest, score float64, now time.Time) *models.Offer {
	windowHours := req.Settings.OfferWindowHours
	if windowHours <= 0 {
		windowHours = facility.OfferWindowHours
	}
	if windowHours <= 0 {
		windowHours = s.cfg.DefaultWindowHours
	}

	depositRequired := facility.DepositRequired
	if req.Settings.DepositRequired != nil {
		depositRequired = *req.Settings.DepositRequired
	}
	depositAmount := facility.DepositAmount
	if req.Settings.DepositAmount != nil {
		depositAmount = *req.Settings.DepositAmount
	}
	documents := []string(facility.RequiredDocuments)
	if len(req.Settings.RequiredDocuments) > 0 {
		documents = req.Settings.RequiredDocuments
	}

	return &models.Offer{
		ID:                uuid.NewString(),
		WaitlistEntryID:   entry.ID,
		FacilityID:        entry.FacilityID,
		ProgramID:         entry.ProgramID,
		SpotAvailableDate: req.SpotAvailableDate,
		OfferExpiresAt:    now.Add(time.Duration(windowHours) * time.Hour),
		DepositRequired:   depositRequired,
		DepositAmount:     depositAmount,
		RequiredDocuments: documents,
		PriorityAtOffer:   score,
		PositionAtOffer:   entry.Position,
		CreatedBy:         req.CreatedBy,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// RespondRequest is a parent's answer to an offer.
type RespondRequest struct {
	OfferID       string `json:"offer_id" validate:"required,uuid4"`
	Response      string `json:"response" validate:"required,oneof=ACCEPTED DECLINED"`
	Notes         string `json:"notes"`
	DepositPaid   bool   `json:"deposit_paid"`
	PerformedBy   string `json:"performed_by" validate:"required"`
	PerformerType string `json:"performer_type"`
}

// RespondToOffer records an accept or decline. Responses past the expiry
// instant are rejected even before the sweep has marked the offer. A
// losing race against the sweep surfaces as OFFER_RESOLVED.
func (s *OfferService) RespondToOffer(ctx context.Context, req RespondRequest) (*models.Offer, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid offer response")
	}
	if req.PerformerType == "" {
		req.PerformerType = models.PerformerParent
	}

	offer, err := s.offers.FindByID(ctx, req.OfferID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "offer not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load offer")
	}
	if offer.IsTerminal() {
		return nil, appErrors.Clone(appErrors.ErrOfferResolved, "offer has already been resolved")
	}

	now := s.now()
	if !offer.OfferExpiresAt.After(now) {
		return nil, appErrors.Clone(appErrors.ErrOfferResolved, "offer window has expired")
	}

	if req.Response == string(models.OfferDeclined) {
		return s.declineOffer(ctx, offer, req, now)
	}
	return s.acceptOffer(ctx, offer, req, now)
}

func (s *OfferService) acceptOffer(ctx context.Context, offer *models.Offer, req RespondRequest, now time.Time) (*models.Offer, error) {
	won, err := s.offers.MarkResponse(ctx, offer.ID, models.OfferAccepted, req.Notes, now)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record response")
	}
	if !won {
		return nil, appErrors.Clone(appErrors.ErrOfferResolved, "offer was resolved concurrently")
	}

	response := models.OfferAccepted
	offer.Response = &response
	offer.RespondedAt = &now
	offer.ResponseNotes = req.Notes

	if req.DepositPaid && offer.DepositRequired {
		if err := s.offers.SetDepositPaid(ctx, offer.ID, true); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record deposit")
		}
		offer.DepositPaid = true
	}

	if err := s.entries.UpdateStatus(ctx, offer.WaitlistEntryID, models.WaitlistStatusAccepted); err != nil {
		s.logger.Warn("failed to mark entry accepted", zap.String("entry_id", offer.WaitlistEntryID), zap.Error(err))
	}
	s.writeAudit(ctx, offer, models.AuditActionOfferAccepted, "offer accepted", req.PerformedBy, req.PerformerType)
	s.metrics.IncOffersResolved(string(models.OfferAccepted))
	if s.events != nil {
		s.events.OfferResolved(offer, models.OfferAccepted)
	}

	// The slot stays held until conversion. When no deposit gate blocks
	// it, convert immediately.
	if offer.ConvertibleToEnrollment() {
		conversion, err := s.capacity.ConvertToEnrollment(ctx, ConvertRequest{
			OfferID:       offer.ID,
			PerformedBy:   req.PerformedBy,
			PerformerType: req.PerformerType,
		})
		if err != nil {
			s.logger.Error("automatic enrollment conversion failed", zap.String("offer_id", offer.ID), zap.Error(err))
		} else if s.events != nil {
			s.events.EnrollmentCreated(offer, conversion.BookingID)
		}
	}
	return offer, nil
}

func (s *OfferService) declineOffer(ctx context.Context, offer *models.Offer, req RespondRequest, now time.Time) (*models.Offer, error) {
	won, err := s.capacity.ReleaseCapacity(ctx, offer, models.OfferDeclined, req.Notes, req.PerformedBy, req.PerformerType)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, appErrors.Clone(appErrors.ErrOfferResolved, "offer was resolved concurrently")
	}

	response := models.OfferDeclined
	offer.Response = &response
	offer.RespondedAt = &now
	offer.ResponseNotes = req.Notes

	// Declining keeps the entry in the pool for future spots.
	if err := s.entries.UpdateStatus(ctx, offer.WaitlistEntryID, models.WaitlistStatusDeclined); err != nil {
		s.logger.Warn("failed to mark entry declined", zap.String("entry_id", offer.WaitlistEntryID), zap.Error(err))
	}
	s.metrics.IncOffersResolved(string(models.OfferDeclined))
	if s.events != nil {
		s.events.OfferResolved(offer, models.OfferDeclined)
	}
	return offer, nil
}

// ConfirmDeposit marks the deposit paid on an accepted offer and converts
// it to an enrollment.
func (s *OfferService) ConfirmDeposit(ctx context.Context, offerID, performedBy, performerType string) (*dto.ConversionResult, error) {
	offer, err := s.offers.FindByID(ctx, offerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "offer not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load offer")
	}
	if offer.Response == nil || *offer.Response != models.OfferAccepted {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "deposit can only be confirmed on an accepted offer")
	}
	if performerType == "" {
		performerType = models.PerformerProvider
	}

	if !offer.DepositPaid {
		if err := s.offers.SetDepositPaid(ctx, offer.ID, true); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record deposit")
		}
		offer.DepositPaid = true
		s.writeAudit(ctx, offer, models.AuditActionDepositConfirmed, "deposit confirmed", performedBy, performerType)
	}

	conversion, err := s.capacity.ConvertToEnrollment(ctx, ConvertRequest{
		OfferID:       offer.ID,
		PerformedBy:   performedBy,
		PerformerType: performerType,
	})
	if err != nil {
		return nil, err
	}
	if !conversion.AlreadyExisted && s.events != nil {
		s.events.EnrollmentCreated(offer, conversion.BookingID)
	}
	return conversion, nil
}

// GetOffer loads one offer.
func (s *OfferService) GetOffer(ctx context.Context, id string) (*models.Offer, error) {
	offer, err := s.offers.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "offer not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load offer")
	}
	return offer, nil
}

// ListFacilityOffers returns recent offers for a facility.
func (s *OfferService) ListFacilityOffers(ctx context.Context, facilityID string, limit int) ([]models.Offer, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offers, err := s.offers.ListByFacility(ctx, facilityID, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list offers")
	}
	return offers, nil
}

// SweepExpiredOffers expires every offer whose window has elapsed without
// a response. Each offer is swept independently; one failure never stalls
// the batch. Sweeping an offer a parent accepts in the same instant is
// resolved by the response compare-and-set, one side wins.
func (s *OfferService) SweepExpiredOffers(ctx context.Context) (*dto.SweepResult, error) {
	started := s.now()
	result := &dto.SweepResult{StartedAt: started}

	batch, err := s.offers.ListExpired(ctx, started, s.cfg.SweepBatchSize)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list expired offers")
	}
	result.Scanned = len(batch)

	for i := range batch {
		offer := batch[i]
		won, err := s.capacity.ReleaseCapacity(ctx, &offer, models.OfferExpired, "offer window elapsed", "sweep", models.PerformerSystem)
		if err != nil {
			result.Failed++
			s.logger.Error("failed to expire offer", zap.String("offer_id", offer.ID), zap.Error(err))
			continue
		}
		if !won {
			// A response landed between listing and the sweep.
			continue
		}

		result.Expired++
		response := models.OfferExpired
		offer.Response = &response
		if err := s.entries.UpdateStatus(ctx, offer.WaitlistEntryID, models.WaitlistStatusExpired); err != nil {
			s.logger.Warn("failed to mark entry expired", zap.String("entry_id", offer.WaitlistEntryID), zap.Error(err))
		}
		s.metrics.IncOffersResolved(string(models.OfferExpired))
		if s.events != nil {
			s.events.OfferResolved(&offer, models.OfferExpired)
			result.AdvanceQueued++
		}
	}

	elapsed := s.now().Sub(started)
	result.Duration = elapsed.String()
	s.metrics.ObserveSweep(elapsed, result.Expired)
	if result.Scanned > 0 {
		s.logger.Info("expired offer sweep completed",
			zap.Int("scanned", result.Scanned),
			zap.Int("expired", result.Expired),
			zap.Int("failed", result.Failed))
	}
	return result, nil
}

// RemindExpiringOffers sends an expiry reminder for every pending offer
// entering its final window. The reminder timestamp is stamped with a
// compare-and-set so each offer is reminded at most once even when sweep
// passes overlap.
func (s *OfferService) RemindExpiringOffers(ctx context.Context) (int, error) {
	now := s.now()
	batch, err := s.offers.ListDueForReminder(ctx, now, now.Add(s.cfg.ReminderLead), s.cfg.SweepBatchSize)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list offers due for reminder")
	}

	reminded := 0
	for i := range batch {
		offer := batch[i]
		won, err := s.offers.MarkReminderSent(ctx, offer.ID, now)
		if err != nil {
			s.logger.Error("failed to mark reminder sent", zap.String("offer_id", offer.ID), zap.Error(err))
			continue
		}
		if !won {
			// Reminded by an overlapping pass, or resolved meanwhile.
			continue
		}
		reminded++
		if s.events != nil {
			s.events.ExpiryReminder(&offer)
		}
	}

	if reminded > 0 {
		s.logger.Info("expiry reminders sent", zap.Int("reminded", reminded))
	}
	return reminded, nil
}

func (s *OfferService) writeAudit(ctx context.Context, offer *models.Offer, action, description, performedBy, performerType string) {
	payload, _ := json.Marshal(map[string]interface{}{
		"response":     offer.Response,
		"deposit_paid": offer.DepositPaid,
	})
	err := s.audits.Create(ctx, &models.AuditLogEntry{
		WaitlistEntryID: &offer.WaitlistEntryID,
		OfferID:         &offer.ID,
		FacilityID:      offer.FacilityID,
		Action:          action,
		Description:     description,
		PerformedBy:     performedBy,
		PerformedByType: performerType,
		NewValues:       payload,
	})
	if err != nil {
		s.logger.Warn("audit write failed", zap.String("offer_id", offer.ID), zap.String("action", action), zap.Error(err))
	}
}
