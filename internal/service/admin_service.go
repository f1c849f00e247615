package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"fwstore/internal/domain"
	"fwstore/internal/models"
	"fwstore/internal/repository"
)

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrCannotDeleteSelf = errors.New("cannot delete your own account")
)

type AdminService struct {
	admin    *repository.AdminRepository
	users    *repository.UserRepository
	payments *repository.PaymentRepository
	audit    *AuditService
}

func NewAdminService(admin *repository.AdminRepository, users *repository.UserRepository, payments *repository.PaymentRepository, audit *AuditService) *AdminService {
	return &AdminService{admin: admin, users: users, payments: payments, audit: audit}
}

func (s *AdminService) Dashboard(ctx context.Context) (*repository.DashboardStats, error) {
	return s.admin.GetDashboardStats(ctx)
}

func (s *AdminService) RevenueByDay(ctx context.Context, days int) ([]repository.RevenuePoint, error) {
	if days <= 0 || days > 365 {
		days = 30
	}
	return s.admin.RevenueByDay(ctx, days)
}

func (s *AdminService) ListUsers(ctx context.Context, search string, page, limit int) ([]models.User, int64, error) {
	return s.admin.ListUsers(ctx, search, page, limit)
}

// VerifyUser marks a user's email verified on their behalf.
func (s *AdminService) VerifyUser(ctx context.Context, adminID, userID uint) error {
	u, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return err
	}
	if u.IsVerified() {
		return nil
	}
	now := time.Now()
	err = s.admin.UpdateUser(ctx, userID, map[string]interface{}{
		"email_verified_at":    now,
		"verification_code":    nil,
		"verification_expires": nil,
	})
	if err != nil {
		return err
	}
	s.audit.Record(ctx, AuditEntry{UserID: &adminID, Action: domain.AuditUserVerifiedByAdmin, Resource: "user", ResourceID: strconv.FormatUint(uint64(userID), 10)})
	return nil
}

func (s *AdminService) DeleteUser(ctx context.Context, adminID, userID uint) error {
	if adminID == userID {
		return ErrCannotDeleteSelf
	}
	err := s.users.Delete(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return err
	}
	s.audit.Record(ctx, AuditEntry{UserID: &adminID, Action: domain.AuditUserDeleted, Resource: "user", ResourceID: strconv.FormatUint(uint64(userID), 10)})
	return nil
}

func (s *AdminService) ListPayments(ctx context.Context, status string, page, limit int) ([]models.Payment, int64, error) {
	return s.payments.List(ctx, status, page, limit)
}
