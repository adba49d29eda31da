package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/care-waitlist-api/internal/dto"
	"github.com/noah-isme/care-waitlist-api/internal/models"
	appErrors "github.com/noah-isme/care-waitlist-api/pkg/errors"
)

type scopeRanker interface {
	RankCandidates(ctx context.Context, facilityID string, programID *string, spotAvailableDate time.Time) (*dto.RankingResult, error)
}

type offerIssuer interface {
	CreateOffer(ctx context.Context, req CreateOfferRequest) (*models.Offer, error)
}

// AdvanceService hands a freed spot to the best-ranked remaining
// candidate. Skippable per-candidate failures move on down the list;
// an exhausted list is recorded, not an error.
type AdvanceService struct {
	ranker     scopeRanker
	issuer     offerIssuer
	facilities facilityStore
	audits     auditWriter
	logger     *zap.Logger
}

// NewAdvanceService constructs AdvanceService.
func NewAdvanceService(ranker scopeRanker, issuer offerIssuer, facilities facilityStore, audits auditWriter, logger *zap.Logger) *AdvanceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdvanceService{
		ranker:     ranker,
		issuer:     issuer,
		facilities: facilities,
		audits:     audits,
		logger:     logger,
	}
}

// AdvanceFromVacancy reacts to a declined or expired offer. Facilities
// with auto-advance disabled leave the spot for a manual offer.
func (s *AdvanceService) AdvanceFromVacancy(ctx context.Context, offer *models.Offer) error {
	facility, err := s.facilities.FindByID(ctx, offer.FacilityID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "facility not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load facility")
	}
	if !facility.AutoAdvanceEnabled {
		s.logger.Debug("auto-advance disabled, leaving spot for manual offer",
			zap.String("facility_id", offer.FacilityID))
		return nil
	}

	_, err = s.AdvanceToNextCandidate(ctx, offer.FacilityID, offer.ProgramID, offer.SpotAvailableDate)
	return err
}

// AdvanceToNextCandidate ranks the scope and offers the spot to the first
// candidate that can take it. Returns nil without error when the list is
// exhausted.
func (s *AdvanceService) AdvanceToNextCandidate(ctx context.Context, facilityID string, programID *string, spotAvailableDate time.Time) (*models.Offer, error) {
	ranking, err := s.ranker.RankCandidates(ctx, facilityID, programID, spotAvailableDate)
	if err != nil {
		return nil, err
	}

	for i := range ranking.Candidates {
		candidate := ranking.Candidates[i]
		offer, err := s.issuer.CreateOffer(ctx, CreateOfferRequest{
			WaitlistEntryID:   candidate.Entry.ID,
			SpotAvailableDate: spotAvailableDate,
			CreatedBy:         "advancer",
			PerformerType:     models.PerformerSystem,
		})
		if err == nil {
			s.logger.Info("spot advanced to next candidate",
				zap.String("facility_id", facilityID),
				zap.String("entry_id", candidate.Entry.ID),
				zap.Float64("score", candidate.Score))
			return offer, nil
		}

		// No slot to hand out: another offer or enrollment claimed it
		// between the vacancy and this pass.
		if appErrors.Is(err, appErrors.ErrCapacityExceeded) {
			s.logger.Info("no capacity left during advance", zap.String("facility_id", facilityID))
			return nil, nil
		}
		// Candidate-specific failures skip to the next in line.
		if appErrors.Is(err, appErrors.ErrActiveOfferExists) ||
			appErrors.Is(err, appErrors.ErrIneligible) ||
			appErrors.Is(err, appErrors.ErrConcurrencyConflict) {
			s.logger.Debug("candidate skipped during advance",
				zap.String("entry_id", candidate.Entry.ID), zap.Error(err))
			continue
		}
		return nil, err
	}

	s.recordExhausted(ctx, facilityID, programID, len(ranking.Excluded))
	return nil, nil
}

func (s *AdvanceService) recordExhausted(ctx context.Context, facilityID string, programID *string, excluded int) {
	payload, _ := json.Marshal(map[string]interface{}{
		"program_id": programID,
		"excluded":   excluded,
	})
	err := s.audits.Create(ctx, &models.AuditLogEntry{
		FacilityID:      facilityID,
		Action:          models.AuditActionWaitlistExhausted,
		Description:     "no eligible candidate remained for a freed spot",
		PerformedBy:     "advancer",
		PerformedByType: models.PerformerSystem,
		NewValues:       payload,
	})
	if err != nil {
		s.logger.Warn("audit write failed for exhausted waitlist", zap.String("facility_id", facilityID), zap.Error(err))
	}
	s.logger.Info("waitlist exhausted for scope", zap.String("facility_id", facilityID))
}
