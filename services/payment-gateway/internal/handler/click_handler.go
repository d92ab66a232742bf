// services/payment-gateway/internal/handler/click_handler.go
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"globalpay/services/payment-gateway/internal/models"
	"globalpay/services/payment-gateway/internal/service"
)

type clickError struct {
	code int
	note string
}

// Click's error vocabulary. These codes and notes are part of the protocol.
var clickErrors = map[service.Outcome]clickError{
	service.OutcomeOK:               {0, "Success"},
	service.OutcomeInvalidSignature: {-1, "Invalid signature"},
	service.OutcomeBadAmount:        {-2, "Incorrect parameter amount"},
	service.OutcomeActionNotFound:   {-3, "Action not found"},
	service.OutcomeOrderMismatch:    {-5, "Order not found or amount mismatch"},
	service.OutcomeNotFound:         {-6, "Transaction not found"},
	service.OutcomeInternal:         {-7, "Failed to update user"},
	service.OutcomeBadRequest:       {-8, "Error in request from click"},
	service.OutcomeCancelled:        {-9, "Transaction cancelled"},
}

func toClickError(o service.Outcome) clickError {
	if e, ok := clickErrors[o]; ok {
		return e
	}
	return clickErrors[service.OutcomeInternal]
}

// ClickHandler serves the Prepare and Complete webhooks. Click expects
// HTTP 200 with an error code in the body for every outcome.
type ClickHandler struct {
	gateway Gateway
	logger  *zap.Logger
}

func NewClickHandler(gateway Gateway, logger *zap.Logger) *ClickHandler {
	return &ClickHandler{
		gateway: gateway,
		logger:  logger,
	}
}

// Prepare handles POST /api/v1/webhooks/click/prepare
func (h *ClickHandler) Prepare(c *gin.Context) {
	cb, ok := h.bind(c)
	if !ok {
		e := toClickError(service.OutcomeBadRequest)
		c.JSON(http.StatusOK, models.ClickPrepareResponse{
			ClickTransID:    c.PostForm("click_trans_id"),
			MerchantTransID: c.PostForm("merchant_trans_id"),
			Error:           e.code,
			ErrorNote:       e.note,
		})
		return
	}

	res := h.gateway.HandlePrepare(c.Request.Context(), cb)
	e := toClickError(res.Outcome)
	c.JSON(http.StatusOK, models.ClickPrepareResponse{
		ClickTransID:      res.ClickTransID,
		MerchantTransID:   res.MerchantTransID,
		MerchantPrepareID: res.PrepareID,
		Error:             e.code,
		ErrorNote:         e.note,
	})
}

// Complete handles POST /api/v1/webhooks/click/complete
func (h *ClickHandler) Complete(c *gin.Context) {
	cb, ok := h.bind(c)
	if !ok {
		e := toClickError(service.OutcomeBadRequest)
		c.JSON(http.StatusOK, models.ClickCompleteResponse{
			ClickTransID:    c.PostForm("click_trans_id"),
			MerchantTransID: c.PostForm("merchant_trans_id"),
			Error:           e.code,
			ErrorNote:       e.note,
		})
		return
	}

	res := h.gateway.HandleComplete(c.Request.Context(), cb)
	e := toClickError(res.Outcome)
	c.JSON(http.StatusOK, models.ClickCompleteResponse{
		ClickTransID:      res.ClickTransID,
		MerchantTransID:   res.MerchantTransID,
		MerchantConfirmID: res.PrepareID,
		Error:             e.code,
		ErrorNote:         e.note,
	})
}

func (h *ClickHandler) bind(c *gin.Context) (*models.ClickCallback, bool) {
	var cb models.ClickCallback
	if err := c.ShouldBind(&cb); err != nil {
		h.logger.Warn("undecodable click callback",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		return nil, false
	}
	return &cb, true
}
