package service

import (
	"errors"

	"fwstore/pkg/payment"
)

var (
	ErrInvalidPhone        = payment.ErrInvalidPhone
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrFirmwareNotFound    = errors.New("firmware not found")
	ErrFreeFirmware        = errors.New("firmware is free; download it directly")
	ErrNotFree             = errors.New("firmware is not free")
	ErrGatewayUnavailable  = errors.New("payment gateway unavailable")
	ErrPaymentNotFound     = errors.New("payment not found")
	ErrPaymentNotCompleted = errors.New("payment not completed")
	ErrForbidden           = errors.New("forbidden")
	ErrTokenNotFound       = errors.New("download token not found")
	ErrTokenExpired        = errors.New("download token expired")
	ErrTokenUsed           = errors.New("download token already used")
	ErrInsufficientBalance = errors.New("amount exceeds available balance")
	ErrWithdrawalNotFound  = errors.New("withdrawal not found")
)

// IsTokenMisuse reports whether err is a rejected redemption worth flagging.
func IsTokenMisuse(err error) bool {
	return errors.Is(err, ErrTokenNotFound) || errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrTokenUsed) || errors.Is(err, ErrForbidden)
}
