package payment

import (
	"context"

	"github.com/google/uuid"

	"fwstore/pkg/logging"
)

// StubProvider accepts every request without contacting a gateway. It is wired in when no
// M-Pesa credentials are configured so the purchase flow can be driven by posting callbacks by hand.
type StubProvider struct{}

func (s *StubProvider) InitiatePayment(ctx context.Context, req PaymentRequest) (*PaymentResponse, error) {
	id := "ws_CO_stub_" + uuid.New().String()
	logging.Infof("[MPESA STUB] STK push ref=%s amount=%d checkout_request_id=%s", req.AccountReference, req.Amount, id)
	return &PaymentResponse{
		CheckoutRequestID:   id,
		MerchantRequestID:   "stub-" + uuid.New().String(),
		ResponseDescription: "Success. Request accepted for processing",
		CustomerMessage:     "Success. Request accepted for processing",
	}, nil
}

func (s *StubProvider) InitiateB2C(ctx context.Context, req B2CRequest) (*B2CResponse, error) {
	id := "AG_stub_" + uuid.New().String()
	logging.Infof("[MPESA STUB] B2C amount=%d conversation_id=%s", req.Amount, id)
	return &B2CResponse{
		ConversationID:           id,
		OriginatorConversationID: "stub-" + uuid.New().String(),
		ResponseDescription:      "Accept the service request successfully.",
	}, nil
}
