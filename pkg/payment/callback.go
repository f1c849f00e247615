package payment

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrMalformedCallback = errors.New("malformed gateway callback")

// STKResult is the outcome of an STK push as reported by the gateway callback.
type STKResult struct {
	MerchantRequestID string
	CheckoutRequestID string
	ResultCode        int
	ResultDesc        string
	// populated on success only
	Amount          int64
	ReceiptNumber   string
	TransactionDate string
	PhoneNumber     string
}

func (r STKResult) Succeeded() bool { return r.ResultCode == 0 }

type stkEnvelope struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string          `json:"MerchantRequestID"`
			CheckoutRequestID string          `json:"CheckoutRequestID"`
			ResultCode        json.RawMessage `json:"ResultCode"`
			ResultDesc        string          `json:"ResultDesc"`
			CallbackMetadata  *struct {
				Item []metadataItem `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

type metadataItem struct {
	Name  string          `json:"Name"`
	Value json.RawMessage `json:"Value"`
}

// ParseSTKCallback decodes the body Daraja posts to the STK callback URL.
func ParseSTKCallback(body []byte) (*STKResult, error) {
	var env stkEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}
	cb := env.Body.StkCallback
	if cb.CheckoutRequestID == "" {
		return nil, fmt.Errorf("%w: missing CheckoutRequestID", ErrMalformedCallback)
	}
	code, err := rawInt(cb.ResultCode)
	if err != nil {
		return nil, fmt.Errorf("%w: ResultCode: %v", ErrMalformedCallback, err)
	}

	res := &STKResult{
		MerchantRequestID: cb.MerchantRequestID,
		CheckoutRequestID: cb.CheckoutRequestID,
		ResultCode:        code,
		ResultDesc:        cb.ResultDesc,
	}
	if cb.CallbackMetadata == nil {
		return res, nil
	}
	for _, item := range cb.CallbackMetadata.Item {
		switch item.Name {
		case "Amount":
			if f, err := strconv.ParseFloat(rawString(item.Value), 64); err == nil {
				res.Amount = int64(f)
			}
		case "MpesaReceiptNumber":
			res.ReceiptNumber = rawString(item.Value)
		case "TransactionDate":
			res.TransactionDate = rawString(item.Value)
		case "PhoneNumber":
			res.PhoneNumber = rawString(item.Value)
		}
	}
	return res, nil
}

// B2CResult is posted to both the result and the queue-timeout URLs of a payout.
type B2CResult struct {
	ConversationID           string
	OriginatorConversationID string
	TransactionID            string
	ResultCode               int
	ResultDesc               string
}

func (r B2CResult) Succeeded() bool { return r.ResultCode == 0 }

type b2cEnvelope struct {
	Result struct {
		ResultType               json.RawMessage `json:"ResultType"`
		ResultCode               json.RawMessage `json:"ResultCode"`
		ResultDesc               string          `json:"ResultDesc"`
		OriginatorConversationID string          `json:"OriginatorConversationID"`
		ConversationID           string          `json:"ConversationID"`
		TransactionID            string          `json:"TransactionID"`
	} `json:"Result"`
}

func ParseB2CResult(body []byte) (*B2CResult, error) {
	var env b2cEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}
	r := env.Result
	if r.ConversationID == "" && r.OriginatorConversationID == "" {
		return nil, fmt.Errorf("%w: missing ConversationID", ErrMalformedCallback)
	}
	code, err := rawInt(r.ResultCode)
	if err != nil {
		return nil, fmt.Errorf("%w: ResultCode: %v", ErrMalformedCallback, err)
	}
	return &B2CResult{
		ConversationID:           r.ConversationID,
		OriginatorConversationID: r.OriginatorConversationID,
		TransactionID:            r.TransactionID,
		ResultCode:               code,
		ResultDesc:               r.ResultDesc,
	}, nil
}

// rawString renders a JSON scalar (string or number) as text. Daraja sends phone numbers and
// transaction dates as bare numbers.
func rawString(v json.RawMessage) string {
	v = bytes.TrimSpace(v)
	if len(v) == 0 || string(v) == "null" {
		return ""
	}
	if v[0] == '"' {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			return s
		}
	}
	return strings.Trim(string(v), `"`)
}

func rawInt(v json.RawMessage) (int, error) {
	s := rawString(v)
	if s == "" {
		return 0, errors.New("missing")
	}
	return strconv.Atoi(s)
}
