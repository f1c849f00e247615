package payment

import (
	"context"
	"fmt"
)

// PaymentRequest describes a single STK push to a payer's phone.
type PaymentRequest struct {
	Amount           int64  // whole KES
	PhoneNumber      string // canonical 2547XXXXXXXX
	AccountReference string // our payment reference
	Description      string
	CallbackURL      string // overrides the provider default when set
}

type PaymentResponse struct {
	CheckoutRequestID   string // correlation id echoed back in the callback
	MerchantRequestID   string
	ResponseDescription string
	CustomerMessage     string
}

// B2CRequest is a business-to-customer payout used by withdrawals.
type B2CRequest struct {
	Amount      int64
	PhoneNumber string
	Remarks     string
	Occasion    string
}

type B2CResponse struct {
	ConversationID           string
	OriginatorConversationID string
	ResponseDescription      string
}

type Provider interface {
	InitiatePayment(ctx context.Context, req PaymentRequest) (*PaymentResponse, error)
	InitiateB2C(ctx context.Context, req B2CRequest) (*B2CResponse, error)
}

// GatewayError is returned for every failure talking to the mobile-money gateway: transport
// errors, credential failures and non-zero response codes alike.
type GatewayError struct {
	Op         string // "credential", "stkpush", "b2c"
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *GatewayError) Error() string {
	msg := "mpesa " + e.Op
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (http %d)", e.StatusCode)
	}
	if e.Code != "" {
		msg += " code=" + e.Code
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GatewayError) Unwrap() error { return e.Err }
