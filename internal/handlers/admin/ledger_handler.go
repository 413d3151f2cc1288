package admin

import (
	"errors"
	"strconv"

	"affiliate-ledger/internal/models"
	"affiliate-ledger/internal/repositories/interfaces"
	"affiliate-ledger/internal/services"
	"affiliate-ledger/internal/utils"
	"affiliate-ledger/pkg/logger"

	"github.com/gin-gonic/gin"
)

const defaultOutboxLimit = 50

type LedgerHandler struct {
	service services.AdminService
	logger  *logger.Logger
	audit   *logger.AuditLogger
}

func NewLedgerHandler(service services.AdminService, log *logger.Logger) *LedgerHandler {
	return &LedgerHandler{service: service, logger: log, audit: logger.NewAuditLogger(log)}
}

func (h *LedgerHandler) GetConversion(c *gin.Context) {
	detail, err := h.service.GetConversion(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, services.ErrConversionNotFound) {
			utils.NotFoundResponse(c, "Conversion")
			return
		}
		h.logger.WithContext(c.Request.Context()).WithError(err).Error("Failed to get conversion")
		utils.InternalServerErrorResponse(c)
		return
	}

	utils.SuccessResponse(c, "Conversion retrieved successfully", detail)
}

func (h *LedgerHandler) ListAffiliateCommissions(c *gin.Context) {
	params := utils.GetPaginationParams(c)

	commissions, total, err := h.service.ListAffiliateCommissions(c.Request.Context(), c.Param("affiliateId"), params)
	if err != nil {
		h.logger.WithContext(c.Request.Context()).WithError(err).Error("Failed to list commissions")
		utils.InternalServerErrorResponse(c)
		return
	}

	utils.SuccessResponseWithMeta(c, "Commissions retrieved successfully", commissions, &utils.Meta{
		Pagination: utils.CreatePaginationMeta(params, total),
		Count:      len(commissions),
	})
}

// ListOutboxTasks defaults to dead tasks, the ones an operator acts on.
func (h *LedgerHandler) ListOutboxTasks(c *gin.Context) {
	status := models.OutboxTaskStatus(c.DefaultQuery("status", string(models.OutboxStatusDead)))
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultOutboxLimit)))
	if err != nil || limit < 1 || limit > utils.MaxPageSize {
		utils.BadRequestResponse(c, "limit must be between 1 and "+strconv.Itoa(utils.MaxPageSize))
		return
	}

	tasks, err := h.service.ListOutboxTasks(c.Request.Context(), status, limit)
	if err != nil {
		if errors.Is(err, services.ErrInvalidEvent) {
			utils.BadRequestResponse(c, err.Error())
			return
		}
		h.logger.WithContext(c.Request.Context()).WithError(err).Error("Failed to list outbox tasks")
		utils.InternalServerErrorResponse(c)
		return
	}

	utils.SuccessResponseWithMeta(c, "Outbox tasks retrieved successfully", tasks, &utils.Meta{Count: len(tasks)})
}

func (h *LedgerHandler) RetryOutboxTask(c *gin.Context) {
	id := c.Param("id")
	if err := h.service.RetryOutboxTask(c.Request.Context(), id); err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			utils.NotFoundResponse(c, "Dead outbox task")
			return
		}
		h.logger.WithContext(c.Request.Context()).WithError(err).Error("Failed to retry outbox task")
		utils.InternalServerErrorResponse(c)
		return
	}

	h.audit.LogAction("outbox.retry", "outbox_task:"+id, c.GetString("subject"), map[string]interface{}{
		"request_id": logger.RequestIDFromContext(c.Request.Context()),
	})
	utils.SuccessResponse(c, "Outbox task requeued", gin.H{"id": id})
}
