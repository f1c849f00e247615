package repository

import (
	"context"
	"time"

	"fwstore/internal/domain"
	"fwstore/internal/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *PaymentRepository) WithTx(tx *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: tx}
}

func (r *PaymentRepository) Create(ctx context.Context, p *models.Payment) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *PaymentRepository) GetByID(ctx context.Context, id uint) (*models.Payment, error) {
	var p models.Payment
	err := r.db.WithContext(ctx).First(&p, id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (r *PaymentRepository) GetByReference(ctx context.Context, ref string) (*models.Payment, error) {
	var p models.Payment
	err := r.db.WithContext(ctx).Where("reference = ?", ref).First(&p).Error
	if err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (r *PaymentRepository) GetByCheckoutRequestID(ctx context.Context, id string) (*models.Payment, error) {
	var p models.Payment
	err := r.db.WithContext(ctx).Where("checkout_request_id = ?", id).First(&p).Error
	if err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

// FindEntitlement returns the newest completed, not withdrawn payment by userID for firmwareID.
func (r *PaymentRepository) FindEntitlement(ctx context.Context, userID, firmwareID uint) (*models.Payment, error) {
	var p models.Payment
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND firmware_id = ? AND status = ? AND withdrawn = ?", userID, firmwareID, domain.StatusCompleted, false).
		Order("completed_at DESC").
		First(&p).Error
	if err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

// MarkSent stores the gateway correlation ids once the STK push was accepted.
func (r *PaymentRepository) MarkSent(ctx context.Context, id uint, checkoutRequestID, merchantRequestID string) error {
	return r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, domain.StatusPending).
		Updates(map[string]interface{}{
			"checkout_request_id": checkoutRequestID,
			"merchant_request_id": merchantRequestID,
		}).Error
}

// DeleteUnsent removes a pending payment that never reached the gateway.
func (r *PaymentRepository) DeleteUnsent(ctx context.Context, id uint) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("id = ? AND status = ? AND checkout_request_id IS NULL", id, domain.StatusPending).
		Delete(&models.Payment{})
	return res.RowsAffected, res.Error
}

type Completion struct {
	ReceiptNumber string
	PaidAmount    int64
	Metadata      datatypes.JSON
	At            time.Time
}

// Complete moves a pending payment to completed. Zero rows affected means it was already terminal.
func (r *PaymentRepository) Complete(ctx context.Context, id uint, c Completion) (int64, error) {
	updates := map[string]interface{}{
		"status":            domain.StatusCompleted,
		"completed_at":      c.At,
		"callback_metadata": c.Metadata,
	}
	if c.ReceiptNumber != "" {
		updates["receipt_number"] = c.ReceiptNumber
	}
	if c.PaidAmount > 0 {
		updates["paid_amount"] = c.PaidAmount
	}
	res := r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, domain.StatusPending).
		Updates(updates)
	return res.RowsAffected, res.Error
}

// Fail moves a pending payment to failed. Zero rows affected means it was already terminal.
func (r *PaymentRepository) Fail(ctx context.Context, id uint, reason string, metadata datatypes.JSON) (int64, error) {
	updates := map[string]interface{}{
		"status":         domain.StatusFailed,
		"failure_reason": reason,
	}
	if metadata != nil {
		updates["callback_metadata"] = metadata
	}
	res := r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, domain.StatusPending).
		Updates(updates)
	return res.RowsAffected, res.Error
}

// AvailableBalance sums completed payments not yet swept into a withdrawal.
func (r *PaymentRepository) AvailableBalance(ctx context.Context) (int64, error) {
	var out struct{ Total int64 }
	err := r.db.WithContext(ctx).Model(&models.Payment{}).
		Select("COALESCE(SUM(amount), 0) AS total").
		Where("status = ? AND withdrawn = ?", domain.StatusCompleted, false).
		Scan(&out).Error
	return out.Total, err
}

// Claimable lists completed, unwithdrawn payments oldest first.
func (r *PaymentRepository) Claimable(ctx context.Context) ([]models.Payment, error) {
	var list []models.Payment
	err := r.db.WithContext(ctx).
		Where("status = ? AND withdrawn = ?", domain.StatusCompleted, false).
		Order("completed_at ASC, id ASC").
		Find(&list).Error
	return list, err
}

// Claim marks a payment as swept into withdrawalID. Zero rows affected means another
// withdrawal already claimed it.
func (r *PaymentRepository) Claim(ctx context.Context, id, withdrawalID uint) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND status = ? AND withdrawn = ?", id, domain.StatusCompleted, false).
		Updates(map[string]interface{}{
			"withdrawn":     true,
			"withdrawal_id": withdrawalID,
		})
	return res.RowsAffected, res.Error
}

// List returns payments for the admin panel, optionally filtered by status.
func (r *PaymentRepository) List(ctx context.Context, status string, page, limit int) ([]models.Payment, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.Payment{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var list []models.Payment
	err := q.Preload("Firmware", func(db *gorm.DB) *gorm.DB { return db.Unscoped() }).
		Order("created_at DESC").Limit(limit).Offset((page - 1) * limit).Find(&list).Error
	return list, total, err
}

// ListByUser returns a user's own purchase history.
func (r *PaymentRepository) ListByUser(ctx context.Context, userID uint, page, limit int) ([]models.Payment, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.Payment{}).Where("user_id = ?", userID)
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var list []models.Payment
	err := q.Preload("Firmware", func(db *gorm.DB) *gorm.DB { return db.Unscoped() }).
		Order("created_at DESC").Limit(limit).Offset((page - 1) * limit).Find(&list).Error
	return list, total, err
}
