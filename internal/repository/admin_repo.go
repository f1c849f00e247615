package repository

import (
	"context"
	"time"

	"fwstore/internal/domain"
	"fwstore/internal/models"

	"gorm.io/gorm"
)

type DashboardStats struct {
	TotalFirmwares   int64 `json:"total_firmwares"`
	ActiveFirmwares  int64 `json:"active_firmwares"`
	TotalBrands      int64 `json:"total_brands"`
	TotalUsers       int64 `json:"total_users"`
	VerifiedUsers    int64 `json:"verified_users"`
	TotalDownloads   int64 `json:"total_downloads"`
	TotalRevenue     int64 `json:"total_revenue"`
	AvailableBalance int64 `json:"available_balance"`
	PendingPayments  int64 `json:"pending_payments"`
	TotalWithdrawn   int64 `json:"total_withdrawn"`
}

type RevenuePoint struct {
	Date   string `json:"date"`
	Amount int64  `json:"amount"`
}

type AdminRepository struct {
	db *gorm.DB
}

func NewAdminRepository(db *gorm.DB) *AdminRepository {
	return &AdminRepository{db: db}
}

func (r *AdminRepository) GetDashboardStats(ctx context.Context) (*DashboardStats, error) {
	db := r.db.WithContext(ctx)
	var s DashboardStats
	steps := []func() error{
		func() error { return db.Model(&models.Firmware{}).Count(&s.TotalFirmwares).Error },
		func() error {
			return db.Model(&models.Firmware{}).Where("is_active = ?", true).Count(&s.ActiveFirmwares).Error
		},
		func() error { return db.Model(&models.Brand{}).Count(&s.TotalBrands).Error },
		func() error { return db.Model(&models.User{}).Count(&s.TotalUsers).Error },
		func() error {
			return db.Model(&models.User{}).Where("email_verified_at IS NOT NULL").Count(&s.VerifiedUsers).Error
		},
		func() error {
			return db.Model(&models.Firmware{}).Select("COALESCE(SUM(downloads), 0)").Scan(&s.TotalDownloads).Error
		},
		func() error {
			return db.Model(&models.Payment{}).Select("COALESCE(SUM(amount), 0)").
				Where("status = ?", domain.StatusCompleted).Scan(&s.TotalRevenue).Error
		},
		func() error {
			return db.Model(&models.Payment{}).Select("COALESCE(SUM(amount), 0)").
				Where("status = ? AND withdrawn = ?", domain.StatusCompleted, false).Scan(&s.AvailableBalance).Error
		},
		func() error {
			return db.Model(&models.Payment{}).Where("status = ?", domain.StatusPending).Count(&s.PendingPayments).Error
		},
		func() error {
			return db.Model(&models.Withdrawal{}).Select("COALESCE(SUM(amount), 0)").
				Where("status = ?", domain.StatusCompleted).Scan(&s.TotalWithdrawn).Error
		},
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}
	return &s, nil
}

// ListUsers returns users with search and pagination.
func (r *AdminRepository) ListUsers(ctx context.Context, search string, page, limit int) ([]models.User, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.User{})
	if search != "" {
		q = q.Where("username LIKE ? OR email LIKE ?", "%"+search+"%", "%"+search+"%")
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var users []models.User
	err := q.Order("created_at DESC").Limit(limit).Offset((page - 1) * limit).Find(&users).Error
	return users, total, err
}

// RevenueByDay returns daily completed payment revenue for the last N days.
func (r *AdminRepository) RevenueByDay(ctx context.Context, days int) ([]RevenuePoint, error) {
	since := time.Now().AddDate(0, 0, -days)
	var points []RevenuePoint
	err := r.db.WithContext(ctx).Model(&models.Payment{}).
		Select("DATE(completed_at) as date, COALESCE(SUM(amount), 0) as amount").
		Where("status = ? AND completed_at >= ?", domain.StatusCompleted, since).
		Group("DATE(completed_at)").
		Order("date ASC").
		Scan(&points).Error
	return points, err
}

// UpdateUser updates specific fields on a user.
func (r *AdminRepository) UpdateUser(ctx context.Context, id uint, updates map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(updates).Error
}
