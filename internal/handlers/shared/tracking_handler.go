package shared

import (
	"errors"
	"net/http"

	"affiliate-ledger/internal/models"
	"affiliate-ledger/internal/services"
	"affiliate-ledger/internal/utils"
	"affiliate-ledger/pkg/logger"

	"github.com/gin-gonic/gin"
)

type TrackingHandler struct {
	clicks   services.ClickService
	tracking services.TrackingService
	programs services.ProgramService
	logger   *logger.Logger
}

func NewTrackingHandler(
	clicks services.ClickService,
	tracking services.TrackingService,
	programs services.ProgramService,
	log *logger.Logger,
) *TrackingHandler {
	return &TrackingHandler{
		clicks:   clicks,
		tracking: tracking,
		programs: programs,
		logger:   log,
	}
}

// RedirectClick records a referral session and sends the visitor on to the
// vendor with the affiliate's ref attached.
func (h *TrackingHandler) RedirectClick(c *gin.Context) {
	result, err := h.clicks.RecordClick(c.Request.Context(), c.Param("affiliateId"), c.Param("vendorId"))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrVendorNotFound),
			errors.Is(err, services.ErrVendorInactive),
			errors.Is(err, services.ErrMissingDestination),
			errors.Is(err, services.ErrInvalidEvent):
			utils.NotFoundResponse(c, "Referral link")
		default:
			h.logger.WithContext(c.Request.Context()).WithError(err).Error("Failed to resolve referral link")
			utils.InternalServerErrorResponse(c)
		}
		return
	}

	c.Redirect(http.StatusFound, result.RedirectURL)
}

// TrackEvent accepts the legacy client-side signup event.
func (h *TrackingHandler) TrackEvent(c *gin.Context) {
	var request models.TrackEventRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		utils.ValidatorErrorResponse(c, err)
		return
	}

	result, err := h.tracking.TrackEvent(c.Request.Context(), &request)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidEvent):
			utils.BadRequestResponse(c, err.Error())
		case errors.Is(err, services.ErrSessionNotFound):
			utils.NotFoundResponse(c, "Referral session")
		default:
			h.logger.WithContext(c.Request.Context()).WithError(err).Error("Failed to track event")
			utils.InternalServerErrorResponse(c)
		}
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *TrackingHandler) GetProgram(c *gin.Context) {
	program, err := h.programs.GetProgram(c.Request.Context(), c.Param("vendorId"))
	if err != nil {
		if errors.Is(err, services.ErrVendorNotFound) || errors.Is(err, services.ErrVendorInactive) {
			utils.NotFoundResponse(c, "Program")
			return
		}
		h.logger.WithContext(c.Request.Context()).WithError(err).Error("Failed to get program")
		utils.InternalServerErrorResponse(c)
		return
	}

	utils.SuccessResponse(c, "Program retrieved successfully", program)
}
