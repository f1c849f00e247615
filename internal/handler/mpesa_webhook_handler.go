package handler

import (
	"errors"
	"io"
	"net/http"

	"fwstore/internal/service"
	"fwstore/pkg/logging"
	"fwstore/pkg/payment"

	"github.com/gin-gonic/gin"
)

// maxCallbackBody bounds what a webhook will read.
const maxCallbackBody = 64 << 10

// MpesaWebhookHandler receives Daraja's asynchronous results.
type MpesaWebhookHandler struct {
	purchase    *service.PurchaseService
	withdrawals *service.WithdrawalService
}

func NewMpesaWebhookHandler(purchase *service.PurchaseService, withdrawals *service.WithdrawalService) *MpesaWebhookHandler {
	return &MpesaWebhookHandler{purchase: purchase, withdrawals: withdrawals}
}

func accepted(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ResultCode": 0, "ResultDesc": "Accepted"})
}

func readBody(c *gin.Context, tag string) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody))
	if err != nil {
		logging.Errorf("[%s] read body: %v", tag, err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return nil, false
	}
	return body, true
}

// STKCallback handles POST /webhooks/mpesa/:secret/stk. A correlation id we never issued is answered
// with 404 and nothing is created.
func (h *MpesaWebhookHandler) STKCallback(c *gin.Context) {
	body, ok := readBody(c, "MPESA CALLBACK")
	if !ok {
		return
	}
	res, err := payment.ParseSTKCallback(body)
	if err != nil {
		logging.Warnf("[MPESA CALLBACK] malformed payload from %s: %v", c.ClientIP(), err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed callback"})
		return
	}
	logging.Infof("[MPESA CALLBACK] checkout_request_id=%s result_code=%d", res.CheckoutRequestID, res.ResultCode)
	err = h.purchase.HandleCallback(c.Request.Context(), res, body)
	switch {
	case err == nil:
		accepted(c)
	case errors.Is(err, service.ErrPaymentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown checkout request"})
	default:
		// 5xx makes Daraja retry the delivery
		logging.Errorf("[MPESA CALLBACK] checkout_request_id=%s: %v", res.CheckoutRequestID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "callback processing failed"})
	}
}

// B2CResult handles POST /webhooks/mpesa/:secret/b2c/result.
func (h *MpesaWebhookHandler) B2CResult(c *gin.Context) {
	body, ok := readBody(c, "B2C RESULT")
	if !ok {
		return
	}
	res, err := payment.ParseB2CResult(body)
	if err != nil {
		logging.Warnf("[B2C RESULT] malformed payload from %s: %v", c.ClientIP(), err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed result"})
		return
	}
	_, err = h.withdrawals.HandleResult(c.Request.Context(), res, body)
	switch {
	case err == nil:
		accepted(c)
	case errors.Is(err, service.ErrWithdrawalNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown conversation"})
	default:
		logging.Errorf("[B2C RESULT] conversation_id=%s: %v", res.ConversationID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "result processing failed"})
	}
}

// B2CTimeout handles POST /webhooks/mpesa/:secret/b2c/timeout.
func (h *MpesaWebhookHandler) B2CTimeout(c *gin.Context) {
	body, ok := readBody(c, "B2C TIMEOUT")
	if !ok {
		return
	}
	res, err := payment.ParseB2CResult(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed result"})
		return
	}
	if err := h.withdrawals.HandleTimeout(c.Request.Context(), res); err != nil && !errors.Is(err, service.ErrWithdrawalNotFound) {
		logging.Errorf("[B2C TIMEOUT] conversation_id=%s: %v", res.ConversationID, err)
	}
	accepted(c)
}
