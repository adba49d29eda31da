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

	"github.com/noah-isme/care-waitlist-api/internal/models"
	appErrors "github.com/noah-isme/care-waitlist-api/pkg/errors"
)

type waitlistStore interface {
	FindByID(ctx context.Context, id string) (*models.WaitlistEntry, error)
	Create(ctx context.Context, entry *models.WaitlistEntry) error
	List(ctx context.Context, filter models.WaitlistFilter) ([]models.WaitlistEntry, int, error)
	UpdateStatus(ctx context.Context, id string, status models.WaitlistStatus) error
	SetPause(ctx context.Context, id string, paused bool, until *time.Time) error
	ListActiveBehind(ctx context.Context, facilityID string, position int) ([]models.WaitlistEntry, error)
}

type auditReader interface {
	ListByEntry(ctx context.Context, entryID string) ([]models.AuditLogEntry, error)
}

type positionEvents interface {
	PositionChanged(entry *models.WaitlistEntry, oldPosition int)
}

// WaitlistService manages entry intake and the pause/resume/remove
// lifecycle. Positions are assigned once at join time and never
// recomputed; ranking order comes from the scorer, position only breaks
// ties.
type WaitlistService struct {
	entries    waitlistStore
	facilities facilityStore
	programs   programSource
	audits     auditWriter
	history    auditReader
	events     positionEvents
	validator  *validator.Validate
	logger     *zap.Logger
	now        func() time.Time
}

// NewWaitlistService constructs WaitlistService.
func NewWaitlistService(entries waitlistStore, facilities facilityStore, programs programSource,
	audits auditWriter, history auditReader, events positionEvents, logger *zap.Logger) *WaitlistService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WaitlistService{
		entries:    entries,
		facilities: facilities,
		programs:   programs,
		audits:     audits,
		history:    history,
		events:     events,
		validator:  validator.New(),
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// JoinRequest is the intake payload for a new waitlist entry.
type JoinRequest struct {
	FacilityID       string            `json:"facility_id" validate:"required,uuid4"`
	ProgramID        *string           `json:"program_id,omitempty" validate:"omitempty,uuid4"`
	ParentID         string            `json:"parent_id" validate:"required"`
	ChildName        string            `json:"child_name" validate:"required,max=120"`
	ChildBirthDate   time.Time         `json:"child_birth_date" validate:"required"`
	DesiredStartDate time.Time         `json:"desired_start_date" validate:"required"`
	PreferredDays    models.WeekdaySet `json:"preferred_days"`

	SiblingEnrolled  bool     `json:"sibling_enrolled"`
	StaffChild       bool     `json:"staff_child"`
	SubsidyApproved  bool     `json:"subsidy_approved"`
	CorporatePartner bool     `json:"corporate_partner"`
	SpecialNeeds     bool     `json:"special_needs"`
	InServiceArea    bool     `json:"in_service_area"`
	Tags             []string `json:"tags,omitempty"`
}

// Join validates and appends a new entry at the back of the facility's
// waitlist.
func (s *WaitlistService) Join(ctx context.Context, req JoinRequest) (*models.WaitlistEntry, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid join request")
	}
	now := s.now()
	if !req.ChildBirthDate.Before(now) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "child birth date must be in the past")
	}

	if _, err := s.facilities.FindByID(ctx, req.FacilityID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "facility not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load facility")
	}

	if req.ProgramID != nil {
		program, err := s.programs.FindByID(ctx, *req.ProgramID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "program not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load program")
		}
		if program.FacilityID != req.FacilityID {
			return nil, appErrors.Clone(appErrors.ErrValidation, "program does not belong to the facility")
		}
		if !program.FitsAge(req.ChildBirthDate, req.DesiredStartDate) {
			return nil, appErrors.Clone(appErrors.ErrIneligible, "child age outside program range at desired start")
		}
		if !req.PreferredDays.IsEmpty() && !program.OperatingDays.IsEmpty() &&
			!req.PreferredDays.Overlaps(program.OperatingDays) {
			return nil, appErrors.Clone(appErrors.ErrIneligible, "preferred days do not overlap program schedule")
		}
	}

	if err := s.checkDuplicate(ctx, req); err != nil {
		return nil, err
	}

	entry := &models.WaitlistEntry{
		ID:               uuid.NewString(),
		FacilityID:       req.FacilityID,
		ProgramID:        req.ProgramID,
		ParentID:         req.ParentID,
		ChildName:        req.ChildName,
		ChildBirthDate:   req.ChildBirthDate,
		DesiredStartDate: req.DesiredStartDate,
		PreferredDays:    req.PreferredDays,
		Status:           models.WaitlistStatusActive,
		SiblingEnrolled:  req.SiblingEnrolled,
		StaffChild:       req.StaffChild,
		SubsidyApproved:  req.SubsidyApproved,
		CorporatePartner: req.CorporatePartner,
		SpecialNeeds:     req.SpecialNeeds,
		InServiceArea:    req.InServiceArea,
		Tags:             req.Tags,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.entries.Create(ctx, entry); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create waitlist entry")
	}

	payload, _ := json.Marshal(map[string]interface{}{"position": entry.Position, "child_name": entry.ChildName})
	s.writeAudit(ctx, entry, models.AuditActionWaitlistJoined, "joined waitlist", req.ParentID, models.PerformerParent, payload)

	s.logger.Info("waitlist entry created",
		zap.String("entry_id", entry.ID),
		zap.String("facility_id", entry.FacilityID),
		zap.Int("position", entry.Position))
	return entry, nil
}

// checkDuplicate refuses a second live entry for the same child at the
// same facility.
func (s *WaitlistService) checkDuplicate(ctx context.Context, req JoinRequest) error {
	existing, _, err := s.entries.List(ctx, models.WaitlistFilter{
		FacilityID: req.FacilityID,
		ParentID:   req.ParentID,
		PageSize:   100,
	})
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing entries")
	}
	for i := range existing {
		e := &existing[i]
		if e.ChildName != req.ChildName {
			continue
		}
		switch e.Status {
		case models.WaitlistStatusRemoved, models.WaitlistStatusEnrolled:
			continue
		default:
			return appErrors.Clone(appErrors.ErrConflict, "child already has a live entry at this facility")
		}
	}
	return nil
}

// Get loads one entry.
func (s *WaitlistService) Get(ctx context.Context, id string) (*models.WaitlistEntry, error) {
	entry, err := s.entries.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "waitlist entry not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load entry")
	}
	return entry, nil
}

// List returns filtered entries with pagination.
func (s *WaitlistService) List(ctx context.Context, filter models.WaitlistFilter) ([]models.WaitlistEntry, *models.Pagination, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 || filter.PageSize > 200 {
		filter.PageSize = 50
	}
	entries, total, err := s.entries.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list entries")
	}
	return entries, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// History returns the audit trail for one entry.
func (s *WaitlistService) History(ctx context.Context, entryID string) ([]models.AuditLogEntry, error) {
	if _, err := s.Get(ctx, entryID); err != nil {
		return nil, err
	}
	records, err := s.history.ListByEntry(ctx, entryID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load audit history")
	}
	return records, nil
}

// Pause parks the entry so it is skipped by ranking until resumed or the
// pause window lapses. Existing offers are unaffected.
func (s *WaitlistService) Pause(ctx context.Context, id string, until *time.Time, performedBy string) (*models.WaitlistEntry, error) {
	entry, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry.Status == models.WaitlistStatusRemoved || entry.Status == models.WaitlistStatusEnrolled {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "entry has left the waitlist")
	}
	if until != nil && !until.After(s.now()) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "pause end must be in the future")
	}

	if err := s.entries.SetPause(ctx, id, true, until); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to pause entry")
	}
	entry.IsPaused = true
	entry.PausedUntil = until

	payload, _ := json.Marshal(map[string]interface{}{"paused_until": until})
	s.writeAudit(ctx, entry, models.AuditActionWaitlistPaused, "entry paused", performedBy, models.PerformerParent, payload)
	return entry, nil
}

// Resume returns a paused entry to the pool.
func (s *WaitlistService) Resume(ctx context.Context, id string, performedBy string) (*models.WaitlistEntry, error) {
	entry, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !entry.IsPaused {
		return entry, nil
	}

	if err := s.entries.SetPause(ctx, id, false, nil); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resume entry")
	}
	entry.IsPaused = false
	entry.PausedUntil = nil

	s.writeAudit(ctx, entry, models.AuditActionWaitlistResumed, "entry resumed", performedBy, models.PerformerParent, nil)
	return entry, nil
}

// Remove takes the entry off the waitlist and notifies everyone behind it
// that they moved up.
func (s *WaitlistService) Remove(ctx context.Context, id, reason, performedBy, performerType string) error {
	entry, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if entry.Status == models.WaitlistStatusEnrolled {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "enrolled entries cannot be removed from the waitlist")
	}
	if entry.Status == models.WaitlistStatusRemoved {
		return nil
	}
	if performerType == "" {
		performerType = models.PerformerParent
	}

	if err := s.entries.UpdateStatus(ctx, id, models.WaitlistStatusRemoved); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to remove entry")
	}

	oldValues, _ := json.Marshal(map[string]interface{}{"status": entry.Status})
	newValues, _ := json.Marshal(map[string]interface{}{"status": models.WaitlistStatusRemoved, "reason": reason})
	if err := s.audits.Create(ctx, &models.AuditLogEntry{
		WaitlistEntryID: &entry.ID,
		FacilityID:      entry.FacilityID,
		Action:          models.AuditActionWaitlistRemoved,
		Description:     "entry removed from waitlist",
		PerformedBy:     performedBy,
		PerformedByType: performerType,
		OldValues:       oldValues,
		NewValues:       newValues,
	}); err != nil {
		s.logger.Warn("audit write failed for removal", zap.String("entry_id", entry.ID), zap.Error(err))
	}

	s.notifyMovedUp(ctx, entry)
	return nil
}

func (s *WaitlistService) notifyMovedUp(ctx context.Context, removed *models.WaitlistEntry) {
	if s.events == nil {
		return
	}
	behind, err := s.entries.ListActiveBehind(ctx, removed.FacilityID, removed.Position)
	if err != nil {
		s.logger.Warn("failed to list entries behind removed position",
			zap.String("facility_id", removed.FacilityID), zap.Error(err))
		return
	}
	for i := range behind {
		e := behind[i]
		old := e.Position
		e.Position--
		s.events.PositionChanged(&e, old)
	}
}

func (s *WaitlistService) writeAudit(ctx context.Context, entry *models.WaitlistEntry, action, description, performedBy, performerType string, newValues []byte) {
	err := s.audits.Create(ctx, &models.AuditLogEntry{
		WaitlistEntryID: &entry.ID,
		FacilityID:      entry.FacilityID,
		Action:          action,
		Description:     description,
		PerformedBy:     performedBy,
		PerformedByType: performerType,
		NewValues:       newValues,
	})
	if err != nil {
		s.logger.Warn("audit write failed", zap.String("entry_id", entry.ID), zap.String("action", action), zap.Error(err))
	}
}
