package payment

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
	"golang.org/x/oauth2"

	"fwstore/pkg/logging"
)

const (
	SandboxBaseURL    = "https://sandbox.safaricom.co.ke"
	ProductionBaseURL = "https://api.safaricom.co.ke"

	stkPushPath    = "/mpesa/stkpush/v1/processrequest"
	credentialPath = "/oauth/v1/generate"

	// Daraja truncates longer values.
	maxAccountReference = 12
	maxTransactionDesc  = 13
)

// Daraja expects timestamps in East Africa Time.
var eat = time.FixedZone("EAT", 3*60*60)

type DarajaConfig struct {
	BaseURL            string
	ConsumerKey        string
	ConsumerSecret     string
	ShortCode          string
	Passkey            string
	CallbackBaseURL    string
	CallbackSecret     string // path segment that authenticates Daraja's callbacks
	InitiatorName      string
	SecurityCredential string
	Timeout            time.Duration
}

// DarajaProvider implements Provider against Safaricom's Daraja API.
type DarajaProvider struct {
	cfg    DarajaConfig
	client *resty.Client
	now    func() time.Time

	mu     sync.Mutex
	tokens oauth2.TokenSource
}

func NewDarajaProvider(cfg DarajaConfig) *DarajaProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = SandboxBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.CallbackBaseURL = strings.TrimRight(cfg.CallbackBaseURL, "/")

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")

	p := &DarajaProvider{cfg: cfg, client: client, now: time.Now}
	p.tokens = p.newTokenSource()
	return p
}

// webhookURL builds a callback URL under the secret webhook prefix.
func (p *DarajaProvider) webhookURL(path string) string {
	return p.cfg.CallbackBaseURL + "/api/v1/webhooks/mpesa/" + url.PathEscape(p.cfg.CallbackSecret) + path
}

// STKCallbackURL is where Daraja posts STK push results.
func (p *DarajaProvider) STKCallbackURL() string {
	return p.webhookURL("/stk")
}

// STKPassword derives the Lipa Na M-Pesa password for a request timestamp.
func STKPassword(shortCode, passkey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortCode + passkey + timestamp))
}

func Timestamp(t time.Time) string {
	return t.In(eat).Format("20060102150405")
}

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// darajaError is the body Daraja returns with 4xx/5xx responses.
type darajaError struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

func (p *DarajaProvider) InitiatePayment(ctx context.Context, req PaymentRequest) (*PaymentResponse, error) {
	if req.Amount <= 0 {
		return nil, &GatewayError{Op: "stkpush", Message: "amount must be positive"}
	}
	ts := Timestamp(p.now())
	callbackURL := req.CallbackURL
	if callbackURL == "" {
		callbackURL = p.STKCallbackURL()
	}
	desc := req.Description
	if desc == "" {
		desc = "Firmware"
	}
	body := stkPushRequest{
		BusinessShortCode: p.cfg.ShortCode,
		Password:          STKPassword(p.cfg.ShortCode, p.cfg.Passkey, ts),
		Timestamp:         ts,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            req.Amount,
		PartyA:            req.PhoneNumber,
		PartyB:            p.cfg.ShortCode,
		PhoneNumber:       req.PhoneNumber,
		CallBackURL:       callbackURL,
		AccountReference:  truncate(req.AccountReference, maxAccountReference),
		TransactionDesc:   truncate(desc, maxTransactionDesc),
	}

	logging.Infof("[MPESA] STK push ref=%s amount=%d phone=%s", req.AccountReference, req.Amount, MaskPhone(req.PhoneNumber))
	var out stkPushResponse
	resp, err := p.post(ctx, "stkpush", stkPushPath, body, &out)
	if err != nil {
		return nil, err
	}
	if out.ResponseCode != "0" {
		return nil, &GatewayError{
			Op:         "stkpush",
			StatusCode: resp.StatusCode(),
			Code:       out.ResponseCode,
			Message:    out.ResponseDescription,
		}
	}
	logging.Infof("[MPESA] STK accepted ref=%s checkout_request_id=%s", req.AccountReference, out.CheckoutRequestID)
	return &PaymentResponse{
		CheckoutRequestID:   out.CheckoutRequestID,
		MerchantRequestID:   out.MerchantRequestID,
		ResponseDescription: out.ResponseDescription,
		CustomerMessage:     out.CustomerMessage,
	}, nil
}

// post sends an authenticated request. A 401 drops the cached credential and the request is
// sent once more with a fresh one.
func (p *DarajaProvider) post(ctx context.Context, op, path string, body, out interface{}) (*resty.Response, error) {
	for attempt := 0; ; attempt++ {
		tok, err := p.token()
		if err != nil {
			return nil, &GatewayError{Op: "credential", Err: err}
		}
		var apiErr darajaError
		resp, err := p.client.R().
			SetContext(ctx).
			SetAuthToken(tok.AccessToken).
			SetBody(body).
			SetResult(out).
			SetError(&apiErr).
			Post(path)
		if err != nil {
			return nil, &GatewayError{Op: op, Err: err}
		}
		if resp.StatusCode() == http.StatusUnauthorized && attempt == 0 {
			logging.Warnf("[MPESA] %s rejected credential, refreshing", op)
			p.resetToken()
			continue
		}
		if resp.IsError() {
			msg := apiErr.ErrorMessage
			if msg == "" {
				msg = strings.TrimSpace(resp.String())
			}
			return nil, &GatewayError{Op: op, StatusCode: resp.StatusCode(), Code: apiErr.ErrorCode, Message: msg}
		}
		return resp, nil
	}
}

func (p *DarajaProvider) token() (*oauth2.Token, error) {
	p.mu.Lock()
	ts := p.tokens
	p.mu.Unlock()
	return ts.Token()
}

func (p *DarajaProvider) resetToken() {
	p.mu.Lock()
	p.tokens = p.newTokenSource()
	p.mu.Unlock()
}

func (p *DarajaProvider) newTokenSource() oauth2.TokenSource {
	return oauth2.ReuseTokenSource(nil, &credentialSource{p: p})
}

// credentialSource fetches a client-credentials access token. ReuseTokenSource caches it until
// shortly before expiry.
type credentialSource struct {
	p *DarajaProvider
}

type credentialResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

func (s *credentialSource) Token() (*oauth2.Token, error) {
	cfg := s.p.cfg
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	var out credentialResponse
	resp, err := s.p.client.R().
		SetContext(ctx).
		SetBasicAuth(cfg.ConsumerKey, cfg.ConsumerSecret).
		SetQueryParam("grant_type", "client_credentials").
		SetResult(&out).
		Get(credentialPath)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	if out.AccessToken == "" {
		return nil, fmt.Errorf("empty access token")
	}
	tok := &oauth2.Token{AccessToken: out.AccessToken, TokenType: "Bearer"}
	if secs, err := strconv.Atoi(out.ExpiresIn); err == nil && secs > 0 {
		tok.Expiry = s.p.now().Add(time.Duration(secs) * time.Second)
	}
	return tok, nil
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
