package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/care-waitlist-api/internal/dto"
	"github.com/noah-isme/care-waitlist-api/internal/models"
	appErrors "github.com/noah-isme/care-waitlist-api/pkg/errors"
	"github.com/noah-isme/care-waitlist-api/pkg/response"
)

type capacityReader interface {
	CheckCapacity(ctx context.Context, facilityID string, programID *string, requiredSlots int) (*dto.CapacityResult, error)
}

type waitlistRanker interface {
	RankCandidates(ctx context.Context, facilityID string, programID *string, spotAvailableDate time.Time) (*dto.RankingResult, error)
}

type spotAdvancer interface {
	AdvanceToNextCandidate(ctx context.Context, facilityID string, programID *string, spotAvailableDate time.Time) (*models.Offer, error)
}

type waitlistExporter interface {
	ExportRankedWaitlist(ctx context.Context, facilityID string, programID *string, format string) ([]byte, string, error)
}

// CapacityHandler exposes capacity snapshots, ranking previews, manual
// advancement and waitlist exports.
type CapacityHandler struct {
	capacity capacityReader
	ranker   waitlistRanker
	advancer spotAdvancer
	exporter waitlistExporter
}

// NewCapacityHandler builds a new handler.
func NewCapacityHandler(capacity capacityReader, ranker waitlistRanker, advancer spotAdvancer, exporter waitlistExporter) *CapacityHandler {
	return &CapacityHandler{capacity: capacity, ranker: ranker, advancer: advancer, exporter: exporter}
}

// Check godoc
// @Summary Get the capacity snapshot for a facility or program
// @Tags Capacity
// @Produce json
// @Param facilityId path string true "Facility ID"
// @Param programId query string false "Program ID"
// @Param slots query int false "Required slots"
// @Success 200 {object} response.Envelope
// @Router /facilities/{facilityId}/capacity [get]
func (h *CapacityHandler) Check(c *gin.Context) {
	result, err := h.capacity.CheckCapacity(c.Request.Context(),
		c.Param("facilityId"), optionalID(c.Query("programId")), intQuery(c, "slots", 1))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Ranking godoc
// @Summary Preview the ranked candidate list for a scope
// @Tags Capacity
// @Produce json
// @Param facilityId path string true "Facility ID"
// @Param programId query string false "Program ID"
// @Param spotDate query string false "Spot available date (RFC 3339)"
// @Success 200 {object} response.Envelope
// @Router /facilities/{facilityId}/ranking [get]
func (h *CapacityHandler) Ranking(c *gin.Context) {
	spotDate, err := parseSpotDate(c.Query("spotDate"))
	if err != nil {
		response.Error(c, err)
		return
	}
	result, err := h.ranker.RankCandidates(c.Request.Context(),
		c.Param("facilityId"), optionalID(c.Query("programId")), spotDate)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

type advanceRequest struct {
	ProgramID         *string    `json:"program_id,omitempty"`
	SpotAvailableDate *time.Time `json:"spot_available_date,omitempty"`
}

// Advance godoc
// @Summary Offer a free spot to the next ranked candidate
// @Tags Capacity
// @Accept json
// @Produce json
// @Param facilityId path string true "Facility ID"
// @Param payload body advanceRequest false "Advance parameters"
// @Success 200 {object} response.Envelope
// @Router /facilities/{facilityId}/advance [post]
func (h *CapacityHandler) Advance(c *gin.Context) {
	var req advanceRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid advance payload"))
			return
		}
	}
	spotDate := time.Now().UTC()
	if req.SpotAvailableDate != nil {
		spotDate = *req.SpotAvailableDate
	}
	offer, err := h.advancer.AdvanceToNextCandidate(c.Request.Context(), c.Param("facilityId"), req.ProgramID, spotDate)
	if err != nil {
		response.Error(c, err)
		return
	}
	if offer == nil {
		response.JSON(c, http.StatusOK, nil, nil, map[string]interface{}{"advanced": false})
		return
	}
	response.JSON(c, http.StatusOK, offer, nil, map[string]interface{}{"advanced": true})
}

// Export godoc
// @Summary Export the ranked waitlist as CSV or PDF
// @Tags Capacity
// @Produce text/csv
// @Produce application/pdf
// @Param facilityId path string true "Facility ID"
// @Param programId query string false "Program ID"
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} binary
// @Router /facilities/{facilityId}/waitlist/export [get]
func (h *CapacityHandler) Export(c *gin.Context) {
	format := c.DefaultQuery("format", "csv")
	facilityID := c.Param("facilityId")
	doc, contentType, err := h.exporter.ExportRankedWaitlist(c.Request.Context(),
		facilityID, optionalID(c.Query("programId")), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	filename := fmt.Sprintf("waitlist-%s.%s", facilityID, format)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, contentType, doc)
}

func parseSpotDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	spotDate, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		if spotDate, err = time.Parse("2006-01-02", raw); err != nil {
			return time.Time{}, appErrors.Clone(appErrors.ErrValidation, "spotDate must be RFC 3339 or YYYY-MM-DD")
		}
	}
	return spotDate, nil
}
