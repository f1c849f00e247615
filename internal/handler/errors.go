package handler

import (
	"errors"
	"net/http"

	"fwstore/internal/auth"
	"fwstore/internal/service"
	"fwstore/pkg/logging"

	"github.com/gin-gonic/gin"
)

var errorStatus = []struct {
	err    error
	status int
}{
	{service.ErrInvalidPhone, http.StatusBadRequest},
	{service.ErrInvalidAmount, http.StatusBadRequest},
	{service.ErrInvalidEmail, http.StatusBadRequest},
	{service.ErrWeakPassword, http.StatusBadRequest},
	{service.ErrInvalidCode, http.StatusBadRequest},
	{service.ErrFreeFirmware, http.StatusBadRequest},
	{service.ErrNotFree, http.StatusPaymentRequired},
	{service.ErrPaymentNotCompleted, http.StatusPaymentRequired},
	{service.ErrCannotDeleteSelf, http.StatusBadRequest},
	{service.ErrInvalidCreds, http.StatusUnauthorized},
	{auth.ErrInvalidToken, http.StatusUnauthorized},
	{service.ErrEmailNotVerified, http.StatusForbidden},
	{service.ErrForbidden, http.StatusForbidden},
	{service.ErrFirmwareNotFound, http.StatusNotFound},
	{service.ErrBrandNotFound, http.StatusNotFound},
	{service.ErrPaymentNotFound, http.StatusNotFound},
	{service.ErrTokenNotFound, http.StatusNotFound},
	{service.ErrUserNotFound, http.StatusNotFound},
	{service.ErrWithdrawalNotFound, http.StatusNotFound},
	{service.ErrEmailExists, http.StatusConflict},
	{service.ErrUsernameExists, http.StatusConflict},
	{service.ErrBrandExists, http.StatusConflict},
	{service.ErrAlreadyVerified, http.StatusConflict},
	{service.ErrTokenExpired, http.StatusGone},
	{service.ErrTokenUsed, http.StatusGone},
	{service.ErrInsufficientBalance, http.StatusUnprocessableEntity},
	{service.ErrGatewayUnavailable, http.StatusBadGateway},
	{service.ErrUploadsDisabled, http.StatusServiceUnavailable},
}

// respondError maps service errors to a status and a client-safe message. Anything unknown is
// logged and reported as fallback with a 500.
func respondError(c *gin.Context, err error, fallback string) {
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			c.JSON(e.status, gin.H{"error": e.err.Error()})
			return
		}
	}
	logging.Errorf("[HTTP] %s %s: %v", c.Request.Method, c.FullPath(), err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
}
