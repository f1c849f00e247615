package payment

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDaraja struct {
	credentialCalls int32
	stkCalls        int32
	// reject the first STK call with 401
	rejectFirst bool
	failAuth    bool
	stkCode     string
	lastBody    stkPushRequest
	lastAuth    string
}

func (f *fakeDaraja) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.credentialCalls, 1)
		user, pass, ok := r.BasicAuth()
		if f.failAuth || !ok || user != "key" || pass != "secret" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"errorCode":"400.008.01","errorMessage":"Invalid Authentication passed"}`))
			return
		}
		assert.Equal(t, "client_credentials", r.URL.Query().Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		n := atomic.LoadInt32(&f.credentialCalls)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"access_token": "tok-" + string(rune('0'+n)),
			"expires_in":   "3599",
		})
	})
	mux.HandleFunc("/mpesa/stkpush/v1/processrequest", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&f.stkCalls, 1)
		f.lastAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		if f.rejectFirst && n == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"errorCode":"404.001.03","errorMessage":"Invalid Access Token"}`))
			return
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&f.lastBody))
		code := f.stkCode
		if code == "" {
			code = "0"
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"MerchantRequestID":   "29115-34620561-1",
			"CheckoutRequestID":   "ws_CO_191220191020363925",
			"ResponseCode":        code,
			"ResponseDescription": "Success. Request accepted for processing",
			"CustomerMessage":     "Success. Request accepted for processing",
		})
	})
	return mux
}

func newTestProvider(t *testing.T, f *fakeDaraja) *DarajaProvider {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	p := NewDarajaProvider(DarajaConfig{
		BaseURL:         srv.URL,
		ConsumerKey:     "key",
		ConsumerSecret:  "secret",
		ShortCode:       "174379",
		Passkey:         "passkey",
		CallbackBaseURL: "https://shop.example.com/",
		CallbackSecret:  "cbSecret0123456789",
		Timeout:         5 * time.Second,
	})
	p.now = func() time.Time { return time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC) }
	return p
}

func TestInitiatePayment_buildsSignedRequest(t *testing.T) {
	f := &fakeDaraja{}
	p := newTestProvider(t, f)

	resp, err := p.InitiatePayment(context.Background(), PaymentRequest{
		Amount:           500,
		PhoneNumber:      "254712345678",
		AccountReference: "FW7-0d9f1c2e",
		Description:      "Firmware purchase",
	})
	require.NoError(t, err)
	assert.Equal(t, "ws_CO_191220191020363925", resp.CheckoutRequestID)
	assert.Equal(t, "29115-34620561-1", resp.MerchantRequestID)

	b := f.lastBody
	assert.Equal(t, "20240102123000", b.Timestamp, "timestamp is rendered in EAT")
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("174379passkey20240102123000")), b.Password)
	assert.Equal(t, "CustomerPayBillOnline", b.TransactionType)
	assert.Equal(t, int64(500), b.Amount)
	assert.Equal(t, "254712345678", b.PartyA)
	assert.Equal(t, "174379", b.PartyB)
	assert.Equal(t, "254712345678", b.PhoneNumber)
	assert.Equal(t, "https://shop.example.com/api/v1/webhooks/mpesa/cbSecret0123456789/stk", b.CallBackURL)
	assert.Equal(t, "FW7-0d9f1c2e", b.AccountReference)
	assert.LessOrEqual(t, len(b.TransactionDesc), maxTransactionDesc)
	assert.Equal(t, "Bearer tok-1", f.lastAuth)
}

func TestInitiatePayment_reusesCredential(t *testing.T) {
	f := &fakeDaraja{}
	p := newTestProvider(t, f)

	for i := 0; i < 3; i++ {
		_, err := p.InitiatePayment(context.Background(), PaymentRequest{Amount: 10, PhoneNumber: "254712345678", AccountReference: "r"})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.credentialCalls))
	assert.Equal(t, int32(3), atomic.LoadInt32(&f.stkCalls))
}

func TestInitiatePayment_refreshesCredentialOn401(t *testing.T) {
	f := &fakeDaraja{rejectFirst: true}
	p := newTestProvider(t, f)

	resp, err := p.InitiatePayment(context.Background(), PaymentRequest{Amount: 10, PhoneNumber: "254712345678", AccountReference: "r"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.CheckoutRequestID)
	assert.Equal(t, int32(2), atomic.LoadInt32(&f.credentialCalls))
	assert.Equal(t, "Bearer tok-2", f.lastAuth)
}

func TestInitiatePayment_credentialFailure(t *testing.T) {
	f := &fakeDaraja{failAuth: true}
	p := newTestProvider(t, f)

	_, err := p.InitiatePayment(context.Background(), PaymentRequest{Amount: 10, PhoneNumber: "254712345678", AccountReference: "r"})
	require.Error(t, err)
	var gwErr *GatewayError
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, "credential", gwErr.Op)
	assert.Equal(t, int32(0), atomic.LoadInt32(&f.stkCalls))
}

func TestInitiatePayment_rejectedByGateway(t *testing.T) {
	f := &fakeDaraja{stkCode: "1"}
	p := newTestProvider(t, f)

	_, err := p.InitiatePayment(context.Background(), PaymentRequest{Amount: 10, PhoneNumber: "254712345678", AccountReference: "r"})
	var gwErr *GatewayError
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, "stkpush", gwErr.Op)
	assert.Equal(t, "1", gwErr.Code)
}

func TestInitiatePayment_unreachableGateway(t *testing.T) {
	p := NewDarajaProvider(DarajaConfig{
		BaseURL:        "http://127.0.0.1:1",
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		ShortCode:      "174379",
		Passkey:        "passkey",
		Timeout:        time.Second,
	})
	_, err := p.InitiatePayment(context.Background(), PaymentRequest{Amount: 10, PhoneNumber: "254712345678", AccountReference: "r"})
	var gwErr *GatewayError
	require.True(t, errors.As(err, &gwErr))
}

func TestSTKPassword(t *testing.T) {
	got := STKPassword("174379", "bfb279f9", "20160216165627")
	raw, err := base64.StdEncoding.DecodeString(got)
	require.NoError(t, err)
	assert.Equal(t, "174379bfb279f920160216165627", string(raw))
}

func TestB2CCallbackURLsCarrySecret(t *testing.T) {
	p := newTestProvider(t, &fakeDaraja{})
	assert.Equal(t, "https://shop.example.com/api/v1/webhooks/mpesa/cbSecret0123456789/b2c/result", p.B2CResultURL())
	assert.Equal(t, "https://shop.example.com/api/v1/webhooks/mpesa/cbSecret0123456789/b2c/timeout", p.B2CTimeoutURL())
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 13))
	assert.Equal(t, "Firmware ", truncate("Firmware Ñandú", 10), "a two-byte rune at the cut is dropped whole")
	assert.Equal(t, "Firmware Ñ", truncate("Firmware Ñandú", 11))
	assert.True(t, utf8.ValidString(truncate("ééééééé", 13)))
}
