package handler

import (
	"net/http"

	"fwstore/internal/middleware"
	"fwstore/internal/service"

	"github.com/gin-gonic/gin"
)

type WithdrawalHandler struct {
	withdrawals *service.WithdrawalService
}

func NewWithdrawalHandler(withdrawals *service.WithdrawalService) *WithdrawalHandler {
	return &WithdrawalHandler{withdrawals: withdrawals}
}

type WithdrawalRequest struct {
	Amount      int64  `json:"amount" binding:"required,gt=0"`
	PhoneNumber string `json:"phone_number" binding:"required"`
}

// Balance handles GET /admin/balance.
func (h *WithdrawalHandler) Balance(c *gin.Context) {
	balance, err := h.withdrawals.AvailableBalance(c.Request.Context())
	if err != nil {
		respondError(c, err, "failed to load balance")
		return
	}
	c.JSON(http.StatusOK, gin.H{"available_balance": balance})
}

// List handles GET /admin/withdrawals.
func (h *WithdrawalHandler) List(c *gin.Context) {
	page, limit := parsePagination(c)
	list, total, err := h.withdrawals.List(c.Request.Context(), page, limit)
	if err != nil {
		respondError(c, err, "failed to list withdrawals")
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": list, "total": total, "page": page, "limit": limit})
}

// Create handles POST /admin/withdrawals. The payout settles when the B2C result arrives.
func (h *WithdrawalHandler) Create(c *gin.Context) {
	var req WithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	w, err := h.withdrawals.Create(c.Request.Context(), middleware.GetUserID(c), req.Amount, req.PhoneNumber)
	if err != nil {
		respondError(c, err, "withdrawal failed")
		return
	}
	c.JSON(http.StatusAccepted, w)
}
