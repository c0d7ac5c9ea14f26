package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"mac-bot/internal/models"
	"mac-bot/internal/payment"
	"mac-bot/pkg/logger"

	"github.com/gin-gonic/gin"
)

const maxWebhookBody = 1 << 20

type ErrorResponse struct {
	Error string `json:"error"`
}

type WebhookResponse struct {
	Status  string `json:"status"`
	OrderID string `json:"order_id,omitempty"`
}

type PaymentStatusResponse struct {
	OrderID string               `json:"order_id"`
	Status  models.PaymentStatus `json:"status"`
}

type handlers struct {
	payments Payments
	store    Store
	logger   *logger.Logger
}

// webhook verifies and applies a gateway notification. Gateways retry on
// anything but 2xx, so a repeated delivery of a finished order is a 200.
func (h *handlers) webhook(provider, signatureHeader string) gin.HandlerFunc {
	return func(c *gin.Context) {
		payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "failed to read request body"})
			return
		}

		result, err := h.payments.HandleWebhook(c.Request.Context(), provider, payload, c.GetHeader(signatureHeader))
		if err != nil {
			_ = c.Error(err)
			status, message := webhookErrorStatus(err)
			c.JSON(status, ErrorResponse{Error: message})
			return
		}

		resp := WebhookResponse{Status: "ok", OrderID: result.Event.OrderID}
		switch {
		case result.Event.Ignored:
			resp.Status = "ignored"
		case result.Finalization != nil && result.Finalization.AlreadyFinal:
			resp.Status = "already_processed"
		}
		c.JSON(http.StatusOK, resp)
	}
}

func webhookErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, payment.ErrMalformedPayload):
		return http.StatusBadRequest, "malformed payload"
	case errors.Is(err, payment.ErrSignature):
		return http.StatusForbidden, "invalid signature"
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, "unknown order"
	case errors.Is(err, payment.ErrUnknownProvider):
		return http.StatusNotFound, "provider is not configured"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// paymentStatus backs the gateway's success redirect.
func (h *handlers) paymentStatus(c *gin.Context) {
	orderID := c.Query("order_id")
	if orderID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "order_id is required"})
		return
	}

	p, err := h.store.GetPayment(c.Request.Context(), orderID)
	if errors.Is(err, models.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "unknown order"})
		return
	}
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
		return
	}

	c.JSON(http.StatusOK, PaymentStatusResponse{OrderID: p.OrderID, Status: p.Status})
}

func (h *handlers) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.logger.Errorw("Health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
