package handler

import (
	"net/http"
	"strconv"

	"fwstore/internal/domain"
	"fwstore/internal/middleware"
	"fwstore/internal/service"

	"github.com/gin-gonic/gin"
)

type AdminHandler struct {
	admin *service.AdminService
	audit *service.AuditService
}

func NewAdminHandler(admin *service.AdminService, audit *service.AuditService) *AdminHandler {
	return &AdminHandler{admin: admin, audit: audit}
}

// Dashboard handles GET /admin/dashboard — overview stats.
func (h *AdminHandler) Dashboard(c *gin.Context) {
	stats, err := h.admin.Dashboard(c.Request.Context())
	if err != nil {
		respondError(c, err, "failed to load stats")
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Revenue handles GET /admin/revenue?days=30.
func (h *AdminHandler) Revenue(c *gin.Context) {
	days, _ := strconv.Atoi(c.DefaultQuery("days", "30"))
	if days < 1 || days > 365 {
		days = 30
	}
	points, err := h.admin.RevenueByDay(c.Request.Context(), days)
	if err != nil {
		respondError(c, err, "failed to load revenue")
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": points, "days": days})
}

// ListUsers handles GET /admin/users.
func (h *AdminHandler) ListUsers(c *gin.Context) {
	page, limit := parsePagination(c)
	users, total, err := h.admin.ListUsers(c.Request.Context(), c.Query("search"), page, limit)
	if err != nil {
		respondError(c, err, "failed to list users")
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": users, "total": total, "page": page, "limit": limit})
}

// VerifyUser handles POST /admin/users/:id/verify.
func (h *AdminHandler) VerifyUser(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.admin.VerifyUser(c.Request.Context(), middleware.GetUserID(c), id); err != nil {
		respondError(c, err, "verify failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// DeleteUser handles DELETE /admin/users/:id.
func (h *AdminHandler) DeleteUser(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.admin.DeleteUser(c.Request.Context(), middleware.GetUserID(c), id); err != nil {
		respondError(c, err, "delete failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ListPayments handles GET /admin/payments?status=.
func (h *AdminHandler) ListPayments(c *gin.Context) {
	status := c.Query("status")
	switch status {
	case "", domain.StatusPending, domain.StatusCompleted, domain.StatusFailed:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
		return
	}
	page, limit := parsePagination(c)
	list, total, err := h.admin.ListPayments(c.Request.Context(), status, page, limit)
	if err != nil {
		respondError(c, err, "failed to list payments")
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": list, "total": total, "page": page, "limit": limit})
}

// ListAuditLogs handles GET /admin/audit-logs?action=.
func (h *AdminHandler) ListAuditLogs(c *gin.Context) {
	page, limit := parsePagination(c)
	list, total, err := h.audit.List(c.Request.Context(), c.Query("action"), page, limit)
	if err != nil {
		respondError(c, err, "failed to list audit logs")
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": list, "total": total, "page": page, "limit": limit})
}
