package shared

import (
	"errors"
	"io"
	"net/http"

	"affiliate-ledger/internal/models"
	"affiliate-ledger/internal/services"
	"affiliate-ledger/internal/validators"
	"affiliate-ledger/pkg/logger"
	"affiliate-ledger/pkg/payment"

	"github.com/gin-gonic/gin"
)

// EventDispatcher queues a verified event for processing after the ack.
type EventDispatcher interface {
	Dispatch(event models.PaymentEvent, requestID string) error
}

type WebhookAck struct {
	Received bool   `json:"received"`
	Error    string `json:"error,omitempty"`
}

type WebhookHandler struct {
	providers    *payment.Registry
	dispatcher   EventDispatcher
	maxBodyBytes int64
	logger       *logger.Logger
}

func NewWebhookHandler(providers *payment.Registry, dispatcher EventDispatcher, maxBodyBytes int64, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		providers:    providers,
		dispatcher:   dispatcher,
		maxBodyBytes: maxBodyBytes,
		logger:       log,
	}
}

// HandleWebhook verifies and acknowledges a provider delivery. Only a bad
// signature is answered with an error status; every other outcome is acked
// so the provider stops redelivering.
func (h *WebhookHandler) HandleWebhook(c *gin.Context) {
	providerName := c.Param("provider")
	ctx := logger.ContextWithProvider(c.Request.Context(), providerName)
	log := h.logger.WithContext(ctx)

	provider, err := h.providers.Get(providerName)
	if err != nil {
		c.JSON(http.StatusNotFound, WebhookAck{Received: false, Error: "unknown payment provider"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes))
	if err != nil {
		log.WithError(err).Warn("Failed to read webhook body")
		c.JSON(http.StatusOK, WebhookAck{Received: true, Error: "unreadable body"})
		return
	}

	event, err := provider.ParseEvent(body, c.GetHeader(provider.SignatureHeader()))
	switch {
	case err == nil:
	case errors.Is(err, payment.ErrInvalidSignature):
		log.LogSecurityEvent("invalid_webhook_signature", "medium", map[string]interface{}{
			"client_ip": c.ClientIP(),
		})
		c.JSON(http.StatusBadRequest, WebhookAck{Received: false, Error: "invalid signature"})
		return
	case errors.Is(err, payment.ErrUnsupportedEvent):
		log.WithError(err).Debug("Ignoring webhook event")
		c.JSON(http.StatusOK, WebhookAck{Received: true})
		return
	default:
		log.WithError(err).Warn("Dropping malformed webhook event")
		c.JSON(http.StatusOK, WebhookAck{Received: true, Error: err.Error()})
		return
	}

	if err := validators.ValidatePaymentEvent(event); err != nil {
		log.WithError(err).Warn("Dropping invalid webhook event")
		c.JSON(http.StatusOK, WebhookAck{Received: true, Error: err.Error()})
		return
	}

	if err := h.dispatcher.Dispatch(event, logger.RequestIDFromContext(ctx)); err != nil {
		if errors.Is(err, services.ErrDispatcherClosed) {
			c.JSON(http.StatusServiceUnavailable, WebhookAck{Received: false, Error: "shutting down"})
			return
		}
		log.WithError(err).Error("Failed to dispatch webhook event")
		c.JSON(http.StatusOK, WebhookAck{Received: true, Error: "processing failed"})
		return
	}

	switch e := event.(type) {
	case *models.PaymentSucceeded:
		log.LogWebhookEvent(providerName, string(e.Kind()), e.TransactionID)
	case *models.PaymentRefunded:
		log.LogWebhookEvent(providerName, string(e.Kind()), e.TransactionID)
	}
	c.JSON(http.StatusOK, WebhookAck{Received: true})
}
