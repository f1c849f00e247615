package repository

import (
	"context"
	"time"

	"fwstore/internal/models"

	"gorm.io/gorm"
)

type TokenRepository struct {
	db *gorm.DB
}

func NewTokenRepository(db *gorm.DB) *TokenRepository {
	return &TokenRepository{db: db}
}

func (r *TokenRepository) WithTx(tx *gorm.DB) *TokenRepository {
	return &TokenRepository{db: tx}
}

func (r *TokenRepository) Create(ctx context.Context, t *models.DownloadToken) error {
	return r.db.WithContext(ctx).Create(t).Error
}

func (r *TokenRepository) GetByToken(ctx context.Context, token string) (*models.DownloadToken, error) {
	var t models.DownloadToken
	err := r.db.WithContext(ctx).Where("token = ?", token).First(&t).Error
	if err != nil {
		return nil, translate(err)
	}
	return &t, nil
}

// GetCurrent returns the payment's current token, if any.
func (r *TokenRepository) GetCurrent(ctx context.Context, paymentID uint) (*models.DownloadToken, error) {
	var t models.DownloadToken
	err := r.db.WithContext(ctx).Where("active_payment_id = ?", paymentID).First(&t).Error
	if err != nil {
		return nil, translate(err)
	}
	return &t, nil
}

// Supersede releases the payment's current-token slot held by token id.
func (r *TokenRepository) Supersede(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Model(&models.DownloadToken{}).
		Where("id = ?", id).
		Update("active_payment_id", nil).Error
}

// Redeem atomically consumes a valid token. Exactly one concurrent caller sees 1 row affected.
func (r *TokenRepository) Redeem(ctx context.Context, id uint, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.DownloadToken{}).
		Where("id = ? AND used = ? AND expires_at >= ?", id, false, now).
		Updates(map[string]interface{}{
			"used":              true,
			"used_at":           now,
			"active_payment_id": nil,
			"download_count":    gorm.Expr("download_count + ?", 1),
		})
	return res.RowsAffected, res.Error
}

func (r *TokenRepository) CountByPayment(ctx context.Context, paymentID uint) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.DownloadToken{}).Where("payment_id = ?", paymentID).Count(&n).Error
	return n, err
}
