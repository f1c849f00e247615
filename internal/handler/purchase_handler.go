package handler

import (
	"net/http"

	"fwstore/internal/domain"
	"fwstore/internal/middleware"
	"fwstore/internal/service"
	"fwstore/pkg/logging"
	"fwstore/pkg/payment"

	"github.com/gin-gonic/gin"
)

// PurchaseHandler covers the buyer side: STK push, status polling and download links.
type PurchaseHandler struct {
	purchase *service.PurchaseService
	audit    *service.AuditService
}

func NewPurchaseHandler(purchase *service.PurchaseService, audit *service.AuditService) *PurchaseHandler {
	return &PurchaseHandler{purchase: purchase, audit: audit}
}

type PurchaseRequest struct {
	PhoneNumber string `json:"phone_number" binding:"required"`
}

// Purchase handles POST /firmwares/:id/purchase.
func (h *PurchaseHandler) Purchase(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID := middleware.GetUserID(c)
	res, err := h.purchase.StartPurchase(c.Request.Context(), userID, id, req.PhoneNumber)
	if err != nil {
		logging.Warnf("[PURCHASE] user=%d firmware=%d phone=%s: %v", userID, id, payment.MaskPhone(req.PhoneNumber), err)
		respondError(c, err, "could not start payment")
		return
	}
	if res.Existing {
		c.JSON(http.StatusOK, gin.H{
			"reference":      res.Payment.Reference,
			"status":         res.Payment.Status,
			"already_bought": true,
		})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"reference":        res.Payment.Reference,
		"status":           res.Payment.Status,
		"amount":           res.Payment.Amount,
		"customer_message": res.CustomerMessage,
	})
}

// Status handles GET /payments/:reference/status.
func (h *PurchaseHandler) Status(c *gin.Context) {
	st, err := h.purchase.PollStatus(c.Request.Context(), c.Param("reference"), middleware.GetUserID(c))
	if err != nil {
		respondError(c, err, "failed to load payment")
		return
	}
	c.JSON(http.StatusOK, st)
}

// DownloadLink handles POST /payments/:reference/download-link.
func (h *PurchaseHandler) DownloadLink(c *gin.Context) {
	t, err := h.purchase.DownloadLink(c.Request.Context(), c.Param("reference"), middleware.GetUserID(c))
	if err != nil {
		respondError(c, err, "could not issue download link")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":        t.Token,
		"download_url": "/api/v1/downloads/" + t.Token,
		"expires_at":   t.ExpiresAt,
	})
}

// History handles GET /me/payments.
func (h *PurchaseHandler) History(c *gin.Context) {
	page, limit := parsePagination(c)
	list, total, err := h.purchase.History(c.Request.Context(), middleware.GetUserID(c), page, limit)
	if err != nil {
		respondError(c, err, "failed to list payments")
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": list, "total": total, "page": page, "limit": limit})
}

// Redeem handles GET /downloads/:token. The token is consumed and the client is redirected to
// the firmware file.
func (h *PurchaseHandler) Redeem(c *gin.Context) {
	userID := middleware.GetUserID(c)
	rel, err := h.purchase.Redeem(c.Request.Context(), c.Param("token"), userID)
	if err != nil {
		if service.IsTokenMisuse(err) {
			h.recordMisuse(c, userID, err)
		}
		respondError(c, err, "download failed")
		return
	}
	c.Redirect(http.StatusFound, rel.FileURL)
}

// FreeDownload handles GET /firmwares/:id/free-download.
func (h *PurchaseHandler) FreeDownload(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	rel, err := h.purchase.FreeDownload(c.Request.Context(), id, middleware.GetUserID(c))
	if err != nil {
		respondError(c, err, "download failed")
		return
	}
	c.Redirect(http.StatusFound, rel.FileURL)
}

func (h *PurchaseHandler) recordMisuse(c *gin.Context, userID uint, err error) {
	token := c.Param("token")
	prefix := token
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	logging.Warnf("[DOWNLOAD] rejected token=%s... user=%d ip=%s: %v", prefix, userID, c.ClientIP(), err)
	h.audit.Record(c.Request.Context(), service.AuditEntry{
		UserID:     &userID,
		Action:     domain.AuditTokenMisuse,
		Resource:   "download_token",
		ResourceID: prefix,
		IP:         c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
		Metadata:   map[string]interface{}{"reason": err.Error()},
	})
}
