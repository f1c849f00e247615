package repository

import (
	"context"
	"time"

	"fwstore/internal/domain"
	"fwstore/internal/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type WithdrawalRepository struct {
	db *gorm.DB
}

func NewWithdrawalRepository(db *gorm.DB) *WithdrawalRepository {
	return &WithdrawalRepository{db: db}
}

func (r *WithdrawalRepository) WithTx(tx *gorm.DB) *WithdrawalRepository {
	return &WithdrawalRepository{db: tx}
}

func (r *WithdrawalRepository) Create(ctx context.Context, w *models.Withdrawal) error {
	return r.db.WithContext(ctx).Create(w).Error
}

func (r *WithdrawalRepository) GetByID(ctx context.Context, id uint) (*models.Withdrawal, error) {
	var w models.Withdrawal
	err := r.db.WithContext(ctx).First(&w, id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &w, nil
}

// GetByConversation matches a B2C result by ConversationID, falling back to the originator id.
func (r *WithdrawalRepository) GetByConversation(ctx context.Context, conversationID, originatorID string) (*models.Withdrawal, error) {
	var w models.Withdrawal
	q := r.db.WithContext(ctx)
	switch {
	case conversationID != "" && originatorID != "":
		q = q.Where("conversation_id = ? OR originator_conversation_id = ?", conversationID, originatorID)
	case conversationID != "":
		q = q.Where("conversation_id = ?", conversationID)
	default:
		q = q.Where("originator_conversation_id = ?", originatorID)
	}
	if err := q.First(&w).Error; err != nil {
		return nil, translate(err)
	}
	return &w, nil
}

func (r *WithdrawalRepository) MarkSent(ctx context.Context, id uint, conversationID, originatorID string) error {
	return r.db.WithContext(ctx).Model(&models.Withdrawal{}).
		Where("id = ? AND status = ?", id, domain.StatusPending).
		Updates(map[string]interface{}{
			"conversation_id":            conversationID,
			"originator_conversation_id": originatorID,
		}).Error
}

// Complete moves a pending withdrawal to completed. Zero rows affected means it was already settled.
func (r *WithdrawalRepository) Complete(ctx context.Context, id uint, transactionID string, claimed int64, payload datatypes.JSON, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Withdrawal{}).
		Where("id = ? AND status = ?", id, domain.StatusPending).
		Updates(map[string]interface{}{
			"status":         domain.StatusCompleted,
			"transaction_id": transactionID,
			"claimed_amount": claimed,
			"result_payload": payload,
			"completed_at":   at,
		})
	return res.RowsAffected, res.Error
}

func (r *WithdrawalRepository) Fail(ctx context.Context, id uint, reason string, payload datatypes.JSON) (int64, error) {
	updates := map[string]interface{}{
		"status":         domain.StatusFailed,
		"failure_reason": reason,
	}
	if payload != nil {
		updates["result_payload"] = payload
	}
	res := r.db.WithContext(ctx).Model(&models.Withdrawal{}).
		Where("id = ? AND status = ?", id, domain.StatusPending).
		Updates(updates)
	return res.RowsAffected, res.Error
}

func (r *WithdrawalRepository) List(ctx context.Context, page, limit int) ([]models.Withdrawal, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.Withdrawal{})
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var list []models.Withdrawal
	err := q.Order("created_at DESC").Limit(limit).Offset((page - 1) * limit).Find(&list).Error
	return list, total, err
}

// PendingTotal sums withdrawals still awaiting their B2C result.
func (r *WithdrawalRepository) PendingTotal(ctx context.Context) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&models.Withdrawal{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("status = ?", domain.StatusPending).
		Scan(&total).Error
	return total, err
}
