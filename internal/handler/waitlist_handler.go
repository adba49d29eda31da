package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/care-waitlist-api/internal/models"
	"github.com/noah-isme/care-waitlist-api/internal/service"
	appErrors "github.com/noah-isme/care-waitlist-api/pkg/errors"
	"github.com/noah-isme/care-waitlist-api/pkg/response"
)

type waitlistManager interface {
	Join(ctx context.Context, req service.JoinRequest) (*models.WaitlistEntry, error)
	Get(ctx context.Context, id string) (*models.WaitlistEntry, error)
	List(ctx context.Context, filter models.WaitlistFilter) ([]models.WaitlistEntry, *models.Pagination, error)
	History(ctx context.Context, entryID string) ([]models.AuditLogEntry, error)
	Pause(ctx context.Context, id string, until *time.Time, performedBy string) (*models.WaitlistEntry, error)
	Resume(ctx context.Context, id string, performedBy string) (*models.WaitlistEntry, error)
	Remove(ctx context.Context, id, reason, performedBy, performerType string) error
}

// WaitlistHandler exposes waitlist intake and lifecycle endpoints.
type WaitlistHandler struct {
	service waitlistManager
}

// NewWaitlistHandler builds a new handler.
func NewWaitlistHandler(service waitlistManager) *WaitlistHandler {
	return &WaitlistHandler{service: service}
}

// Join godoc
// @Summary Join a facility waitlist
// @Tags Waitlist
// @Accept json
// @Produce json
// @Param payload body service.JoinRequest true "Join payload"
// @Success 201 {object} response.Envelope
// @Router /waitlist [post]
func (h *WaitlistHandler) Join(c *gin.Context) {
	var req service.JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid join payload"))
		return
	}
	entry, err := h.service.Join(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, entry)
}

// List godoc
// @Summary List waitlist entries
// @Tags Waitlist
// @Produce json
// @Param facilityId query string false "Facility ID"
// @Param programId query string false "Program ID"
// @Param parentId query string false "Parent ID"
// @Param status query string false "Entry status"
// @Param page query int false "Page number"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /waitlist [get]
func (h *WaitlistHandler) List(c *gin.Context) {
	filter := models.WaitlistFilter{
		FacilityID: c.Query("facilityId"),
		ProgramID:  c.Query("programId"),
		ParentID:   c.Query("parentId"),
		Status:     models.WaitlistStatus(c.Query("status")),
	}
	filter.Page = intQuery(c, "page", 1)
	filter.PageSize = intQuery(c, "pageSize", 50)

	entries, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, pagination)
}

// Get godoc
// @Summary Get a waitlist entry
// @Tags Waitlist
// @Produce json
// @Param entryId path string true "Entry ID"
// @Success 200 {object} response.Envelope
// @Router /waitlist/{entryId} [get]
func (h *WaitlistHandler) Get(c *gin.Context) {
	entry, err := h.service.Get(c.Request.Context(), c.Param("entryId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entry, nil)
}

// History godoc
// @Summary Get the audit trail for a waitlist entry
// @Tags Waitlist
// @Produce json
// @Param entryId path string true "Entry ID"
// @Success 200 {object} response.Envelope
// @Router /waitlist/{entryId}/history [get]
func (h *WaitlistHandler) History(c *gin.Context) {
	records, err := h.service.History(c.Request.Context(), c.Param("entryId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, nil)
}

type pauseRequest struct {
	PausedUntil *time.Time `json:"paused_until,omitempty"`
}

// Pause godoc
// @Summary Pause a waitlist entry
// @Tags Waitlist
// @Accept json
// @Produce json
// @Param entryId path string true "Entry ID"
// @Param payload body pauseRequest false "Optional pause window"
// @Success 200 {object} response.Envelope
// @Router /waitlist/{entryId}/pause [post]
func (h *WaitlistHandler) Pause(c *gin.Context) {
	var req pauseRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid pause payload"))
			return
		}
	}
	who := actorFromRequest(c)
	entry, err := h.service.Pause(c.Request.Context(), c.Param("entryId"), req.PausedUntil, who.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entry, nil)
}

// Resume godoc
// @Summary Resume a paused waitlist entry
// @Tags Waitlist
// @Produce json
// @Param entryId path string true "Entry ID"
// @Success 200 {object} response.Envelope
// @Router /waitlist/{entryId}/resume [post]
func (h *WaitlistHandler) Resume(c *gin.Context) {
	who := actorFromRequest(c)
	entry, err := h.service.Resume(c.Request.Context(), c.Param("entryId"), who.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entry, nil)
}

// Remove godoc
// @Summary Remove an entry from the waitlist
// @Tags Waitlist
// @Produce json
// @Param entryId path string true "Entry ID"
// @Param reason query string false "Removal reason"
// @Success 204
// @Router /waitlist/{entryId} [delete]
func (h *WaitlistHandler) Remove(c *gin.Context) {
	who := actorFromRequest(c)
	err := h.service.Remove(c.Request.Context(), c.Param("entryId"), c.Query("reason"), who.ID, who.Type)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
