// services/payment-gateway/internal/handler/payment_handler.go
package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"globalpay/services/payment-gateway/internal/models"
	"globalpay/services/payment-gateway/internal/service"
)

// Gateway is the part of service.GatewayService the HTTP layer needs.
type Gateway interface {
	InitiateCheckout(ctx context.Context, req *models.PaymentRequest) (*models.PaymentResponse, error)
	GetPaymentStatus(ctx context.Context, transactionID string) *models.PaymentStatusResult
	HandlePrepare(ctx context.Context, cb *models.ClickCallback) service.WebhookResult
	HandleComplete(ctx context.Context, cb *models.ClickCallback) service.WebhookResult
}

type PaymentHandler struct {
	gateway Gateway
	logger  *zap.Logger
}

func NewPaymentHandler(gateway Gateway, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{
		gateway: gateway,
		logger:  logger,
	}
}

// CreatePayment handles POST /api/v1/payments
func (h *PaymentHandler) CreatePayment(c *gin.Context) {
	var req models.PaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.gateway.InitiateCheckout(c.Request.Context(), &req)
	if errors.Is(err, models.ErrInvalidRequest) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.logger.Error("failed to create payment",
			zap.String("merchant_trans_id", req.MerchantTransID),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create payment"})
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// GetPaymentStatus handles GET /api/v1/payments/:id/status
func (h *PaymentHandler) GetPaymentStatus(c *gin.Context) {
	result := h.gateway.GetPaymentStatus(c.Request.Context(), c.Param("id"))
	c.JSON(http.StatusOK, result)
}
