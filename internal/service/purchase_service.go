package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"fwstore/internal/domain"
	"fwstore/internal/models"
	"fwstore/internal/repository"
	"fwstore/pkg/logging"
	"fwstore/pkg/payment"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// errSettled aborts a callback transaction when another delivery already settled the payment.
var errSettled = errors.New("payment already settled")

// PurchaseService drives a purchase from STK push to download.
type PurchaseService struct {
	db        *gorm.DB
	payments  *repository.PaymentRepository
	firmwares *repository.FirmwareRepository
	users     *repository.UserRepository
	tokens    *TokenService
	provider  payment.Provider
	audit     *AuditService
	events    EventPublisher
	emails    *EmailService
	now       func() time.Time
}

func NewPurchaseService(
	db *gorm.DB,
	payments *repository.PaymentRepository,
	firmwares *repository.FirmwareRepository,
	users *repository.UserRepository,
	tokens *TokenService,
	provider payment.Provider,
	audit *AuditService,
	events EventPublisher,
	emails *EmailService,
) *PurchaseService {
	if events == nil {
		events = NopPublisher{}
	}
	return &PurchaseService{
		db:        db,
		payments:  payments,
		firmwares: firmwares,
		users:     users,
		tokens:    tokens,
		provider:  provider,
		audit:     audit,
		events:    events,
		emails:    emails,
		now:       time.Now,
	}
}

type PurchaseResult struct {
	Payment         *models.Payment
	Existing        bool // an earlier completed payment already covers this firmware
	CustomerMessage string
}

// Release is what the file-serving side needs to hand out a firmware image.
type Release struct {
	FirmwareID uint
	FileURL    string
	FileName   string
}

type PaymentStatus struct {
	Reference     string     `json:"reference"`
	Status        string     `json:"status"`
	Amount        int64      `json:"amount"`
	FirmwareID    uint       `json:"firmware_id"`
	FailureReason *string    `json:"failure_reason,omitempty"`
	ReceiptNumber *string    `json:"receipt_number,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	DownloadReady bool       `json:"download_ready"`
}

// StartPurchase sends an STK push for firmwareID to phone.
func (s *PurchaseService) StartPurchase(ctx context.Context, userID, firmwareID uint, phone string) (*PurchaseResult, error) {
	fw, err := s.firmwares.GetByID(ctx, firmwareID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrFirmwareNotFound
	}
	if err != nil {
		return nil, err
	}
	if !fw.IsActive {
		return nil, ErrFirmwareNotFound
	}
	if fw.IsFree() {
		return nil, ErrFreeFirmware
	}

	existing, err := s.payments.FindEntitlement(ctx, userID, firmwareID)
	if err == nil {
		logging.Infof("[PURCHASE] user=%d firmware=%d reusing payment ref=%s", userID, firmwareID, existing.Reference)
		return &PurchaseResult{Payment: existing, Existing: true}, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	msisdn, err := payment.NormalizePhone(phone)
	if err != nil {
		return nil, ErrInvalidPhone
	}

	p := &models.Payment{
		Reference:   fmt.Sprintf("FW%d-%s", fw.ID, uuid.New().String()),
		UserID:      userID,
		FirmwareID:  fw.ID,
		Amount:      fw.Price,
		PhoneNumber: msisdn,
		Status:      domain.StatusPending,
	}
	if err := s.payments.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}

	resp, err := s.provider.InitiatePayment(ctx, payment.PaymentRequest{
		Amount:           p.Amount,
		PhoneNumber:      msisdn,
		AccountReference: p.Reference,
		Description:      "Firmware " + fw.Model,
	})
	if err != nil {
		logging.Errorf("[PURCHASE] STK push failed ref=%s: %v", p.Reference, err)
		s.discardUnsent(ctx, p, err)
		return nil, fmt.Errorf("%w: %w", ErrGatewayUnavailable, err)
	}

	// The push is out; the callback can only be matched if this id lands, client or not.
	sent := context.WithoutCancel(ctx)
	if err := s.payments.MarkSent(sent, p.ID, resp.CheckoutRequestID, resp.MerchantRequestID); err != nil {
		logging.Errorf("[PURCHASE] ref=%s checkout_request_id=%s not recorded: %v", p.Reference, resp.CheckoutRequestID, err)
		s.audit.Record(sent, AuditEntry{
			UserID: &userID, Action: domain.AuditCheckoutUnrecorded, Resource: "payment", ResourceID: p.Reference,
			Metadata: map[string]interface{}{
				"checkout_request_id": resp.CheckoutRequestID,
				"merchant_request_id": resp.MerchantRequestID,
			},
		})
		return nil, fmt.Errorf("store checkout request id: %w", err)
	}
	checkout := resp.CheckoutRequestID
	p.CheckoutRequestID = &checkout
	p.MerchantRequestID = resp.MerchantRequestID
	logging.Infof("[PURCHASE] ref=%s user=%d firmware=%d amount=%d checkout_request_id=%s", p.Reference, userID, fw.ID, p.Amount, checkout)
	return &PurchaseResult{Payment: p, CustomerMessage: resp.CustomerMessage}, nil
}

// discardUnsent removes a payment the gateway never accepted. If that fails the row is marked
// failed so it cannot be mistaken for one still in flight.
func (s *PurchaseService) discardUnsent(ctx context.Context, p *models.Payment, cause error) {
	// the request context may already be done when the gateway timed out
	ctx = context.WithoutCancel(ctx)
	n, err := s.payments.DeleteUnsent(ctx, p.ID)
	if err == nil && n == 1 {
		return
	}
	if err != nil {
		logging.Errorf("[PURCHASE] delete unsent ref=%s: %v", p.Reference, err)
	}
	if _, err := s.payments.Fail(ctx, p.ID, truncate("not sent: "+cause.Error(), 255), nil); err != nil {
		logging.Errorf("[PURCHASE] mark unsent ref=%s failed: %v", p.Reference, err)
	}
}

// HandleCallback applies an STK result to its payment. Duplicate deliveries are no-ops. raw is
// stored as the payment's callback metadata.
func (s *PurchaseService) HandleCallback(ctx context.Context, res *payment.STKResult, raw []byte) error {
	p, err := s.payments.GetByCheckoutRequestID(ctx, res.CheckoutRequestID)
	if errors.Is(err, repository.ErrNotFound) {
		logging.Warnf("[MPESA CALLBACK] unknown checkout_request_id=%s result_code=%d", res.CheckoutRequestID, res.ResultCode)
		s.audit.Record(ctx, AuditEntry{
			Action:     domain.AuditCallbackUnknown,
			Resource:   "payment",
			ResourceID: res.CheckoutRequestID,
			Metadata:   map[string]interface{}{"result_code": res.ResultCode, "result_desc": res.ResultDesc},
		})
		return ErrPaymentNotFound
	}
	if err != nil {
		return err
	}
	if p.IsTerminal() {
		logging.Infof("[MPESA CALLBACK] duplicate for ref=%s status=%s", p.Reference, p.Status)
		return nil
	}

	var metadata datatypes.JSON
	if json.Valid(raw) {
		metadata = datatypes.JSON(raw)
	}
	now := s.now()
	var token *models.DownloadToken

	underpaid := res.Succeeded() && res.Amount < p.Amount
	if underpaid {
		logging.Warnf("[MPESA CALLBACK] ref=%s paid %d, expected %d", p.Reference, res.Amount, p.Amount)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.payments.WithTx(tx)
		if !res.Succeeded() || underpaid {
			action := domain.AuditPaymentFailed
			reason := res.ResultDesc
			if underpaid {
				action = domain.AuditPaymentUnderpaid
				reason = fmt.Sprintf("underpaid: received %d of %d", res.Amount, p.Amount)
			}
			if reason == "" {
				reason = "result code " + strconv.Itoa(res.ResultCode)
			}
			n, err := repo.Fail(ctx, p.ID, truncate(reason, 255), metadata)
			if err != nil {
				return err
			}
			if n == 0 {
				return errSettled
			}
			p.Status = domain.StatusFailed
			p.FailureReason = &reason
			return s.audit.RecordTx(ctx, tx, AuditEntry{
				UserID: &p.UserID, Action: action, Resource: "payment", ResourceID: p.Reference,
				Metadata: map[string]interface{}{"result_code": res.ResultCode, "reason": reason, "paid": res.Amount},
			})
		}

		n, err := repo.Complete(ctx, p.ID, repository.Completion{
			ReceiptNumber: res.ReceiptNumber,
			PaidAmount:    res.Amount,
			Metadata:      metadata,
			At:            now,
		})
		if err != nil {
			return err
		}
		if n == 0 {
			return errSettled
		}
		p.Status = domain.StatusCompleted
		p.CompletedAt = &now
		if res.ReceiptNumber != "" {
			p.ReceiptNumber = &res.ReceiptNumber
		}

		token, err = s.tokens.Issue(ctx, tx, p)
		if err != nil {
			return fmt.Errorf("issue token: %w", err)
		}
		return s.audit.RecordTx(ctx, tx, AuditEntry{
			UserID: &p.UserID, Action: domain.AuditPaymentCompleted, Resource: "payment", ResourceID: p.Reference,
			Metadata: map[string]interface{}{"receipt": res.ReceiptNumber, "amount": p.Amount},
		})
	})
	if errors.Is(err, errSettled) {
		logging.Infof("[MPESA CALLBACK] ref=%s settled concurrently", p.Reference)
		return nil
	}
	if err != nil {
		return err
	}

	event := map[string]interface{}{
		"reference":   p.Reference,
		"user_id":     p.UserID,
		"firmware_id": p.FirmwareID,
		"amount":      p.Amount,
	}
	if p.IsCompleted() {
		logging.Infof("[MPESA CALLBACK] ref=%s completed receipt=%s", p.Reference, res.ReceiptNumber)
		s.events.Publish(TopicPaymentCompleted, event)
		s.notifyDownload(p, token)
	} else {
		logging.Infof("[MPESA CALLBACK] ref=%s failed: %s", p.Reference, *p.FailureReason)
		event["reason"] = *p.FailureReason
		s.events.Publish(TopicPaymentFailed, event)
	}
	return nil
}

func (s *PurchaseService) notifyDownload(p *models.Payment, t *models.DownloadToken) {
	if s.emails == nil || t == nil {
		return
	}
	ctx := context.Background()
	u, err := s.users.GetByID(ctx, p.UserID)
	if err != nil {
		logging.Errorf("[PURCHASE] load user %d for email: %v", p.UserID, err)
		return
	}
	name := fmt.Sprintf("firmware #%d", p.FirmwareID)
	if fw, err := s.firmwares.GetForRelease(ctx, p.FirmwareID); err == nil {
		name = fw.Model + " " + fw.Version
	}
	go s.emails.SendDownloadLink(u.Email, name, t.Token, t.ExpiresAt)
}

// ownedPayment loads a payment by reference and checks it belongs to userID.
func (s *PurchaseService) ownedPayment(ctx context.Context, reference string, userID uint) (*models.Payment, error) {
	p, err := s.payments.GetByReference(ctx, reference)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	if p.UserID != userID {
		return nil, ErrForbidden
	}
	return p, nil
}

// PollStatus reports a payment's state to its owner.
func (s *PurchaseService) PollStatus(ctx context.Context, reference string, userID uint) (*PaymentStatus, error) {
	p, err := s.ownedPayment(ctx, reference, userID)
	if err != nil {
		return nil, err
	}
	return &PaymentStatus{
		Reference:     p.Reference,
		Status:        p.Status,
		Amount:        p.Amount,
		FirmwareID:    p.FirmwareID,
		FailureReason: p.FailureReason,
		ReceiptNumber: p.ReceiptNumber,
		CreatedAt:     p.CreatedAt,
		CompletedAt:   p.CompletedAt,
		DownloadReady: p.IsCompleted(),
	}, nil
}

// DownloadLink returns the current download token for a completed payment, minting a fresh one
// when the previous token was used or expired.
func (s *PurchaseService) DownloadLink(ctx context.Context, reference string, userID uint) (*models.DownloadToken, error) {
	p, err := s.ownedPayment(ctx, reference, userID)
	if err != nil {
		return nil, err
	}
	if !p.IsCompleted() {
		return nil, ErrPaymentNotCompleted
	}
	t, err := s.tokens.Issue(ctx, s.db.WithContext(ctx), p)
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, AuditEntry{
		UserID: &userID, Action: domain.AuditTokenIssued, Resource: "download_token", ResourceID: strconv.FormatUint(uint64(t.ID), 10),
		Metadata: map[string]interface{}{"reference": p.Reference},
	})
	return t, nil
}

// Redeem consumes a download token and returns the firmware to release.
func (s *PurchaseService) Redeem(ctx context.Context, token string, userID uint) (*Release, error) {
	var rel Release
	t, err := s.tokens.ValidateAndRedeem(ctx, token, userID, func(tx *gorm.DB, t *models.DownloadToken) error {
		fws := s.firmwares.WithTx(tx)
		fw, err := fws.GetForRelease(ctx, t.FirmwareID)
		if err != nil {
			return fmt.Errorf("load firmware %d: %w", t.FirmwareID, err)
		}
		if err := fws.IncrementDownloads(ctx, fw.ID); err != nil {
			return err
		}
		rel = Release{FirmwareID: fw.ID, FileURL: fw.FileURL, FileName: fw.FileName}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logging.Infof("[DOWNLOAD] token=%d user=%d firmware=%d redeemed", t.ID, userID, rel.FirmwareID)
	s.events.Publish(TopicFirmwareDownloaded, map[string]interface{}{
		"firmware_id": rel.FirmwareID, "user_id": userID, "payment_id": t.PaymentID,
	})
	return &rel, nil
}

// FreeDownload releases zero-priced firmware without a payment.
func (s *PurchaseService) FreeDownload(ctx context.Context, firmwareID, userID uint) (*Release, error) {
	fw, err := s.firmwares.GetByID(ctx, firmwareID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrFirmwareNotFound
	}
	if err != nil {
		return nil, err
	}
	if !fw.IsActive {
		return nil, ErrFirmwareNotFound
	}
	if !fw.IsFree() {
		return nil, ErrNotFree
	}
	if err := s.firmwares.IncrementDownloads(ctx, fw.ID); err != nil {
		return nil, err
	}
	s.events.Publish(TopicFirmwareDownloaded, map[string]interface{}{"firmware_id": fw.ID, "user_id": userID, "free": true})
	return &Release{FirmwareID: fw.ID, FileURL: fw.FileURL, FileName: fw.FileName}, nil
}

func (s *PurchaseService) History(ctx context.Context, userID uint, page, limit int) ([]models.Payment, int64, error) {
	return s.payments.ListByUser(ctx, userID, page, limit)
}
