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

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// WithdrawalService pays collected funds out to an admin phone through B2C and sweeps the
// payments it covers.
type WithdrawalService struct {
	db          *gorm.DB
	payments    *repository.PaymentRepository
	withdrawals *repository.WithdrawalRepository
	provider    payment.Provider
	audit       *AuditService
	events      EventPublisher
	now         func() time.Time
}

func NewWithdrawalService(
	db *gorm.DB,
	payments *repository.PaymentRepository,
	withdrawals *repository.WithdrawalRepository,
	provider payment.Provider,
	audit *AuditService,
	events EventPublisher,
) *WithdrawalService {
	if events == nil {
		events = NopPublisher{}
	}
	return &WithdrawalService{
		db:          db,
		payments:    payments,
		withdrawals: withdrawals,
		provider:    provider,
		audit:       audit,
		events:      events,
		now:         time.Now,
	}
}

// AvailableBalance is the sum of completed payments not yet withdrawn.
func (s *WithdrawalService) AvailableBalance(ctx context.Context) (int64, error) {
	return s.payments.AvailableBalance(ctx)
}

// Create starts a payout. Funds already committed to pending withdrawals are not available again.
func (s *WithdrawalService) Create(ctx context.Context, adminID uint, amount int64, phone string) (*models.Withdrawal, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	msisdn, err := payment.NormalizePhone(phone)
	if err != nil {
		return nil, ErrInvalidPhone
	}
	balance, err := s.payments.AvailableBalance(ctx)
	if err != nil {
		return nil, err
	}
	reserved, err := s.withdrawals.PendingTotal(ctx)
	if err != nil {
		return nil, err
	}
	if amount > balance-reserved {
		return nil, ErrInsufficientBalance
	}

	w := &models.Withdrawal{
		AdminID:     adminID,
		Amount:      amount,
		PhoneNumber: msisdn,
		Status:      domain.StatusPending,
	}
	if err := s.withdrawals.Create(ctx, w); err != nil {
		return nil, fmt.Errorf("create withdrawal: %w", err)
	}
	s.audit.Record(ctx, AuditEntry{
		UserID: &adminID, Action: domain.AuditWithdrawalCreated, Resource: "withdrawal", ResourceID: strconv.FormatUint(uint64(w.ID), 10),
		Metadata: map[string]interface{}{"amount": amount},
	})

	resp, err := s.provider.InitiateB2C(ctx, payment.B2CRequest{
		Amount:      amount,
		PhoneNumber: msisdn,
		Remarks:     "Firmware store withdrawal",
		Occasion:    "WD" + strconv.FormatUint(uint64(w.ID), 10),
	})
	if err != nil {
		logging.Errorf("[WITHDRAWAL] B2C failed id=%d: %v", w.ID, err)
		reason := truncate("not sent: "+err.Error(), 255)
		if _, ferr := s.withdrawals.Fail(context.WithoutCancel(ctx), w.ID, reason, nil); ferr != nil {
			logging.Errorf("[WITHDRAWAL] mark failed id=%d: %v", w.ID, ferr)
		}
		return nil, fmt.Errorf("%w: %w", ErrGatewayUnavailable, err)
	}
	sent := context.WithoutCancel(ctx)
	if err := s.withdrawals.MarkSent(sent, w.ID, resp.ConversationID, resp.OriginatorConversationID); err != nil {
		logging.Errorf("[WITHDRAWAL] id=%d conversation_id=%s not recorded: %v", w.ID, resp.ConversationID, err)
		s.audit.Record(sent, AuditEntry{
			UserID: &adminID, Action: domain.AuditWithdrawalUnrecorded, Resource: "withdrawal", ResourceID: strconv.FormatUint(uint64(w.ID), 10),
			Metadata: map[string]interface{}{
				"conversation_id":            resp.ConversationID,
				"originator_conversation_id": resp.OriginatorConversationID,
			},
		})
		return nil, fmt.Errorf("store conversation id: %w", err)
	}
	conv := resp.ConversationID
	w.ConversationID = &conv
	w.OriginatorConversationID = resp.OriginatorConversationID
	logging.Infof("[WITHDRAWAL] id=%d amount=%d conversation_id=%s", w.ID, amount, conv)
	return w, nil
}

// HandleResult settles a withdrawal from its B2C result. On success the payout and the claim of
// payments commit together.
func (s *WithdrawalService) HandleResult(ctx context.Context, res *payment.B2CResult, raw []byte) (*models.Withdrawal, error) {
	w, err := s.withdrawals.GetByConversation(ctx, res.ConversationID, res.OriginatorConversationID)
	if errors.Is(err, repository.ErrNotFound) {
		logging.Warnf("[B2C RESULT] unknown conversation_id=%s", res.ConversationID)
		s.audit.Record(ctx, AuditEntry{
			Action: domain.AuditWithdrawalUnknown, Resource: "withdrawal", ResourceID: res.ConversationID,
			Metadata: map[string]interface{}{"result_code": res.ResultCode},
		})
		return nil, ErrWithdrawalNotFound
	}
	if err != nil {
		return nil, err
	}
	if w.Status != domain.StatusPending {
		logging.Infof("[B2C RESULT] duplicate for withdrawal=%d status=%s", w.ID, w.Status)
		return w, nil
	}

	var payload datatypes.JSON
	if json.Valid(raw) {
		payload = datatypes.JSON(raw)
	}

	if !res.Succeeded() {
		n, err := s.withdrawals.Fail(ctx, w.ID, truncate(res.ResultDesc, 255), payload)
		if err != nil {
			return nil, err
		}
		if n == 1 {
			w.Status = domain.StatusFailed
			reason := res.ResultDesc
			w.FailureReason = &reason
			logging.Infof("[B2C RESULT] withdrawal=%d failed: %s", w.ID, res.ResultDesc)
		}
		return w, nil
	}

	now := s.now()
	var claimed int64
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payments := s.payments.WithTx(tx)
		candidates, err := payments.Claimable(ctx)
		if err != nil {
			return err
		}
		for _, p := range candidates {
			if claimed+p.Amount > w.Amount {
				continue
			}
			n, err := payments.Claim(ctx, p.ID, w.ID)
			if err != nil {
				return err
			}
			if n == 1 {
				claimed += p.Amount
			}
		}
		n, err := s.withdrawals.WithTx(tx).Complete(ctx, w.ID, res.TransactionID, claimed, payload, now)
		if err != nil {
			return err
		}
		if n == 0 {
			return errSettled
		}
		return s.audit.RecordTx(ctx, tx, AuditEntry{
			UserID: &w.AdminID, Action: domain.AuditWithdrawalSettled, Resource: "withdrawal", ResourceID: strconv.FormatUint(uint64(w.ID), 10),
			Metadata: map[string]interface{}{"amount": w.Amount, "claimed": claimed, "transaction_id": res.TransactionID},
		})
	})
	if errors.Is(err, errSettled) {
		return s.withdrawals.GetByID(ctx, w.ID)
	}
	if err != nil {
		return nil, err
	}

	w.Status = domain.StatusCompleted
	w.TransactionID = res.TransactionID
	w.ClaimedAmount = claimed
	w.CompletedAt = &now
	logging.Infof("[B2C RESULT] withdrawal=%d completed amount=%d claimed=%d", w.ID, w.Amount, claimed)
	s.events.Publish(TopicWithdrawalSettled, map[string]interface{}{
		"withdrawal_id": w.ID, "amount": w.Amount, "claimed": claimed,
	})
	return w, nil
}

// HandleTimeout records a queue timeout. The withdrawal stays pending until a result arrives or
// an admin resolves it.
func (s *WithdrawalService) HandleTimeout(ctx context.Context, res *payment.B2CResult) error {
	w, err := s.withdrawals.GetByConversation(ctx, res.ConversationID, res.OriginatorConversationID)
	if errors.Is(err, repository.ErrNotFound) {
		logging.Warnf("[B2C TIMEOUT] unknown conversation_id=%s", res.ConversationID)
		return ErrWithdrawalNotFound
	}
	if err != nil {
		return err
	}
	logging.Warnf("[B2C TIMEOUT] withdrawal=%d status=%s: %s", w.ID, w.Status, res.ResultDesc)
	return nil
}

func (s *WithdrawalService) List(ctx context.Context, page, limit int) ([]models.Withdrawal, int64, error) {
	return s.withdrawals.List(ctx, page, limit)
}
