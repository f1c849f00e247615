package payment

import (
	"context"

	"github.com/google/uuid"

	"fwstore/pkg/logging"
)

const b2cPath = "/mpesa/b2c/v1/paymentrequest"

type b2cRequest struct {
	InitiatorName      string `json:"InitiatorName"`
	SecurityCredential string `json:"SecurityCredential"`
	CommandID          string `json:"CommandID"`
	Amount             int64  `json:"Amount"`
	PartyA             string `json:"PartyA"`
	PartyB             string `json:"PartyB"`
	Remarks            string `json:"Remarks"`
	QueueTimeOutURL    string `json:"QueueTimeOutURL"`
	ResultURL          string `json:"ResultURL"`
	Occasion           string `json:"Occasion"`
}

type b2cResponse struct {
	ConversationID           string `json:"ConversationID"`
	OriginatorConversationID string `json:"OriginatorConversationID"`
	ResponseCode             string `json:"ResponseCode"`
	ResponseDescription      string `json:"ResponseDescription"`
}

func (p *DarajaProvider) B2CResultURL() string {
	return p.webhookURL("/b2c/result")
}

func (p *DarajaProvider) B2CTimeoutURL() string {
	return p.webhookURL("/b2c/timeout")
}

// InitiateB2C sends money from the shortcode to a customer phone.
func (p *DarajaProvider) InitiateB2C(ctx context.Context, req B2CRequest) (*B2CResponse, error) {
	if req.Amount <= 0 {
		return nil, &GatewayError{Op: "b2c", Message: "amount must be positive"}
	}
	remarks := req.Remarks
	if remarks == "" {
		remarks = "Withdrawal"
	}
	occasion := req.Occasion
	if occasion == "" {
		occasion = "wd-" + uuid.New().String()[:8]
	}
	body := b2cRequest{
		InitiatorName:      p.cfg.InitiatorName,
		SecurityCredential: p.cfg.SecurityCredential,
		CommandID:          "BusinessPayment",
		Amount:             req.Amount,
		PartyA:             p.cfg.ShortCode,
		PartyB:             req.PhoneNumber,
		Remarks:            remarks,
		QueueTimeOutURL:    p.B2CTimeoutURL(),
		ResultURL:          p.B2CResultURL(),
		Occasion:           occasion,
	}

	logging.Infof("[MPESA B2C] payout amount=%d phone=%s occasion=%s", req.Amount, MaskPhone(req.PhoneNumber), occasion)
	var out b2cResponse
	resp, err := p.post(ctx, "b2c", b2cPath, body, &out)
	if err != nil {
		return nil, err
	}
	if out.ResponseCode != "0" {
		return nil, &GatewayError{Op: "b2c", StatusCode: resp.StatusCode(), Code: out.ResponseCode, Message: out.ResponseDescription}
	}
	return &B2CResponse{
		ConversationID:           out.ConversationID,
		OriginatorConversationID: out.OriginatorConversationID,
		ResponseDescription:      out.ResponseDescription,
	}, nil
}
