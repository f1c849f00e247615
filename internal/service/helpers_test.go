package service

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"fwstore/internal/database"
	"fwstore/internal/domain"
	"fwstore/internal/models"
	"fwstore/internal/repository"
	"fwstore/pkg/payment"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "test.db") + "?_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, database.AutoMigrate(db))
	return db
}

// fakeProvider records gateway calls and hands out sequential correlation ids.
type fakeProvider struct {
	mu       sync.Mutex
	stkErr   error
	b2cErr   error
	stkCalls int
	b2cCalls int
	lastSTK  payment.PaymentRequest
	// accepted runs once the gateway has accepted a request, before the caller sees the reply
	accepted func()
}

func (f *fakeProvider) InitiatePayment(_ context.Context, req payment.PaymentRequest) (*payment.PaymentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stkCalls++
	f.lastSTK = req
	if f.stkErr != nil {
		return nil, f.stkErr
	}
	if f.accepted != nil {
		f.accepted()
	}
	return &payment.PaymentResponse{
		CheckoutRequestID: fmt.Sprintf("ws_CO_test_%d", f.stkCalls),
		MerchantRequestID: fmt.Sprintf("mr_%d", f.stkCalls),
		CustomerMessage:   "Success. Request accepted for processing",
	}, nil
}

func (f *fakeProvider) InitiateB2C(_ context.Context, req payment.B2CRequest) (*payment.B2CResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.b2cCalls++
	if f.b2cErr != nil {
		return nil, f.b2cErr
	}
	if f.accepted != nil {
		f.accepted()
	}
	return &payment.B2CResponse{
		ConversationID:           fmt.Sprintf("AG_test_%d", f.b2cCalls),
		OriginatorConversationID: fmt.Sprintf("orig_%d", f.b2cCalls),
	}, nil
}

type fixture struct {
	db          *gorm.DB
	provider    *fakeProvider
	tokens      *TokenService
	purchase    *PurchaseService
	withdrawals *WithdrawalService
	buyer       *models.User
	other       *models.User
	admin       *models.User
	firmware    *models.Firmware
	free        *models.Firmware
	now         time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newTestDB(t)
	ctx := context.Background()

	userRepo := repository.NewUserRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	firmwareRepo := repository.NewFirmwareRepository(db)
	audit := NewAuditService(repository.NewAuditRepository(db))
	emails := NewEmailService(LogMailer{}, "http://localhost:8099")

	f := &fixture{
		db:       db,
		provider: &fakeProvider{},
		now:      time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }

	f.tokens = NewTokenService(db, repository.NewTokenRepository(db), domain.DownloadTokenTTL)
	f.tokens.now = clock
	f.purchase = NewPurchaseService(db, paymentRepo, firmwareRepo, userRepo, f.tokens, f.provider, audit, NopPublisher{}, emails)
	f.purchase.now = clock
	f.withdrawals = NewWithdrawalService(db, paymentRepo, repository.NewWithdrawalRepository(db), f.provider, audit, nil)
	f.withdrawals.now = clock

	verified := f.now
	mkUser := func(name, role string) *models.User {
		u := &models.User{Username: name, Email: name + "@example.com", PasswordHash: "x", Role: role, EmailVerifiedAt: &verified}
		require.NoError(t, userRepo.Create(ctx, u))
		return u
	}
	f.buyer = mkUser("buyer", domain.RoleUser)
	f.other = mkUser("other", domain.RoleUser)
	f.admin = mkUser("admin", domain.RoleAdmin)

	brand := &models.Brand{Name: "Tecno"}
	require.NoError(t, db.Create(brand).Error)
	f.firmware = &models.Firmware{BrandID: brand.ID, Model: "Spark 10", Version: "V1.2", Price: 500, FileURL: "https://files.example.com/spark10.zip", FileName: "spark10.zip", IsActive: true}
	require.NoError(t, db.Create(f.firmware).Error)
	f.free = &models.Firmware{BrandID: brand.ID, Model: "Pop 5", Version: "V0.9", Price: 0, FileURL: "https://files.example.com/pop5.zip", FileName: "pop5.zip", IsActive: true}
	require.NoError(t, db.Create(f.free).Error)
	return f
}

func stkCallbackBody(checkoutID string, code int, desc string, amount int64, receipt string) []byte {
	cb := map[string]interface{}{
		"MerchantRequestID": "mr",
		"CheckoutRequestID": checkoutID,
		"ResultCode":        code,
		"ResultDesc":        desc,
	}
	if code == 0 {
		cb["CallbackMetadata"] = map[string]interface{}{
			"Item": []map[string]interface{}{
				{"Name": "Amount", "Value": amount},
				{"Name": "MpesaReceiptNumber", "Value": receipt},
				{"Name": "TransactionDate", "Value": 20240301100500},
				{"Name": "PhoneNumber", "Value": 254712345678},
			},
		}
	}
	b, _ := json.Marshal(map[string]interface{}{"Body": map[string]interface{}{"stkCallback": cb}})
	return b
}

// deliver parses and applies an STK callback the way the webhook does.
func (f *fixture) deliver(t *testing.T, body []byte) error {
	t.Helper()
	res, err := payment.ParseSTKCallback(body)
	require.NoError(t, err)
	return f.purchase.HandleCallback(context.Background(), res, body)
}

// completedPurchase runs a purchase through a successful callback.
func (f *fixture) completedPurchase(t *testing.T) *models.Payment {
	t.Helper()
	res, err := f.purchase.StartPurchase(context.Background(), f.buyer.ID, f.firmware.ID, "0712345678")
	require.NoError(t, err)
	require.NoError(t, f.deliver(t, stkCallbackBody(*res.Payment.CheckoutRequestID, 0, "The service request is processed successfully.", 500, "NLJ7RT61SV")))
	p, err := repository.NewPaymentRepository(f.db).GetByReference(context.Background(), res.Payment.Reference)
	require.NoError(t, err)
	return p
}

func (f *fixture) tokenCount(t *testing.T, paymentID uint) int64 {
	t.Helper()
	n, err := repository.NewTokenRepository(f.db).CountByPayment(context.Background(), paymentID)
	require.NoError(t, err)
	return n
}
