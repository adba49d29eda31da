package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/care-waitlist-api/internal/dto"
	"github.com/noah-isme/care-waitlist-api/internal/models"
	"github.com/noah-isme/care-waitlist-api/internal/service"
	appErrors "github.com/noah-isme/care-waitlist-api/pkg/errors"
	"github.com/noah-isme/care-waitlist-api/pkg/response"
)

type offerLifecycle interface {
	CreateOffer(ctx context.Context, req service.CreateOfferRequest) (*models.Offer, error)
	GetOffer(ctx context.Context, id string) (*models.Offer, error)
	RespondToOffer(ctx context.Context, req service.RespondRequest) (*models.Offer, error)
	ConfirmDeposit(ctx context.Context, offerID, performedBy, performerType string) (*dto.ConversionResult, error)
	ListFacilityOffers(ctx context.Context, facilityID string, limit int) ([]models.Offer, error)
	SweepExpiredOffers(ctx context.Context) (*dto.SweepResult, error)
}

// OfferHandler exposes offer lifecycle endpoints.
type OfferHandler struct {
	service offerLifecycle
}

// NewOfferHandler builds a new handler.
func NewOfferHandler(service offerLifecycle) *OfferHandler {
	return &OfferHandler{service: service}
}

// Create godoc
// @Summary Create an offer for a waitlist entry
// @Tags Offers
// @Accept json
// @Produce json
// @Param payload body service.CreateOfferRequest true "Offer payload"
// @Success 201 {object} response.Envelope
// @Router /offers [post]
func (h *OfferHandler) Create(c *gin.Context) {
	var req service.CreateOfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid offer payload"))
		return
	}
	who := actorFromRequest(c)
	if req.CreatedBy == "" {
		req.CreatedBy = who.ID
	}
	if req.PerformerType == "" {
		req.PerformerType = who.Type
	}
	offer, err := h.service.CreateOffer(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, offer)
}

// Get godoc
// @Summary Get an offer
// @Tags Offers
// @Produce json
// @Param offerId path string true "Offer ID"
// @Success 200 {object} response.Envelope
// @Router /offers/{offerId} [get]
func (h *OfferHandler) Get(c *gin.Context) {
	offer, err := h.service.GetOffer(c.Request.Context(), c.Param("offerId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, offer, nil)
}

// Respond godoc
// @Summary Accept or decline an offer
// @Tags Offers
// @Accept json
// @Produce json
// @Param offerId path string true "Offer ID"
// @Param payload body service.RespondRequest true "Response payload"
// @Success 200 {object} response.Envelope
// @Router /offers/{offerId}/respond [post]
func (h *OfferHandler) Respond(c *gin.Context) {
	var req service.RespondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid response payload"))
		return
	}
	req.OfferID = c.Param("offerId")
	who := actorFromRequest(c)
	if req.PerformedBy == "" {
		req.PerformedBy = who.ID
	}
	if req.PerformerType == "" {
		req.PerformerType = who.Type
	}
	offer, err := h.service.RespondToOffer(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, offer, nil)
}

// ConfirmDeposit godoc
// @Summary Confirm the deposit on an accepted offer
// @Tags Offers
// @Produce json
// @Param offerId path string true "Offer ID"
// @Success 200 {object} response.Envelope
// @Router /offers/{offerId}/deposit [post]
func (h *OfferHandler) ConfirmDeposit(c *gin.Context) {
	who := actorFromRequest(c)
	conversion, err := h.service.ConfirmDeposit(c.Request.Context(), c.Param("offerId"), who.ID, who.Type)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, conversion, nil)
}

// ListByFacility godoc
// @Summary List recent offers for a facility
// @Tags Offers
// @Produce json
// @Param facilityId path string true "Facility ID"
// @Param limit query int false "Maximum offers returned"
// @Success 200 {object} response.Envelope
// @Router /facilities/{facilityId}/offers [get]
func (h *OfferHandler) ListByFacility(c *gin.Context) {
	offers, err := h.service.ListFacilityOffers(c.Request.Context(), c.Param("facilityId"), intQuery(c, "limit", 50))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, offers, nil)
}

// Sweep godoc
// @Summary Run the expired-offer sweep immediately
// @Tags Offers
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /offers/sweep [post]
func (h *OfferHandler) Sweep(c *gin.Context) {
	result, err := h.service.SweepExpiredOffers(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
