package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/mail"
	"strings"
	"time"

	"fwstore/config"
	"fwstore/internal/auth"
	"fwstore/internal/domain"
	"fwstore/internal/models"
	"fwstore/internal/repository"
	"fwstore/pkg/logging"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrEmailExists      = errors.New("email already registered")
	ErrUsernameExists   = errors.New("username already taken")
	ErrInvalidCreds     = errors.New("invalid email or password")
	ErrEmailNotVerified = errors.New("email not verified")
	ErrInvalidEmail     = errors.New("invalid email address")
	ErrWeakPassword     = errors.New("password must be at least 8 characters")
	ErrInvalidCode      = errors.New("invalid or expired code")
	ErrAlreadyVerified  = errors.New("email already verified")
)

const minPasswordLen = 8

type AuthService struct {
	cfg      *config.Config
	userRepo *repository.UserRepository
	emails   *EmailService
	now      func() time.Time
}

func NewAuthService(cfg *config.Config, userRepo *repository.UserRepository, emails *EmailService) *AuthService {
	return &AuthService{cfg: cfg, userRepo: userRepo, emails: emails, now: time.Now}
}

// Register creates an unverified account and emails a verification link.
func (s *AuthService) Register(ctx context.Context, email, username, password string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	username = strings.TrimSpace(username)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, ErrInvalidEmail
	}
	if len(password) < minPasswordLen {
		return nil, ErrWeakPassword
	}
	if _, err := s.userRepo.GetByEmail(ctx, email); err == nil {
		return nil, ErrEmailExists
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	if _, err := s.userRepo.GetByUsername(ctx, username); err == nil {
		return nil, ErrUsernameExists
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	code, err := randomCode(domain.VerificationCodeSize)
	if err != nil {
		return nil, err
	}
	expires := s.now().Add(domain.VerificationCodeTTL)
	u := &models.User{
		Email:               email,
		Username:            username,
		PasswordHash:        string(hash),
		Role:                domain.RoleUser,
		VerificationCode:    &code,
		VerificationExpires: &expires,
	}
	if err := s.userRepo.Create(ctx, u); err != nil {
		return nil, err
	}
	logging.Infof("[AUTH] registered user=%d", u.ID)
	s.sendVerification(u.Email, code)
	return u, nil
}

func (s *AuthService) VerifyEmail(ctx context.Context, code string) (*models.User, error) {
	if code == "" {
		return nil, ErrInvalidCode
	}
	u, err := s.userRepo.GetByVerificationCode(ctx, code)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidCode
	}
	if err != nil {
		return nil, err
	}
	now := s.now()
	if u.VerificationExpires == nil || now.After(*u.VerificationExpires) {
		return nil, ErrInvalidCode
	}
	u.EmailVerifiedAt = &now
	u.VerificationCode = nil
	u.VerificationExpires = nil
	if err := s.userRepo.Update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// ResendVerification issues a fresh code. Unknown emails are ignored so the endpoint does not
// reveal which addresses are registered.
func (s *AuthService) ResendVerification(ctx context.Context, email string) error {
	u, err := s.userRepo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if u.IsVerified() {
		return ErrAlreadyVerified
	}
	code, err := randomCode(domain.VerificationCodeSize)
	if err != nil {
		return err
	}
	expires := s.now().Add(domain.VerificationCodeTTL)
	u.VerificationCode = &code
	u.VerificationExpires = &expires
	if err := s.userRepo.Update(ctx, u); err != nil {
		return err
	}
	s.sendVerification(u.Email, code)
	return nil
}

func (s *AuthService) Login(ctx context.Context, email, password string) (*models.User, *auth.TokenPair, error) {
	u, err := s.userRepo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil, ErrInvalidCreds
	}
	if err != nil {
		return nil, nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, nil, ErrInvalidCreds
	}
	if !u.IsVerified() {
		return nil, nil, ErrEmailNotVerified
	}
	pair, err := auth.GeneratePair(&s.cfg.JWT, u.ID, u.Email, u.Role)
	if err != nil {
		return nil, nil, err
	}
	return u, pair, nil
}

func (s *AuthService) RefreshToken(ctx context.Context, refreshToken string) (*auth.TokenPair, error) {
	userID, err := auth.ParseRefreshToken(&s.cfg.JWT, refreshToken)
	if err != nil {
		return nil, err
	}
	u, err := s.userRepo.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, auth.ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	return auth.GeneratePair(&s.cfg.JWT, u.ID, u.Email, u.Role)
}

// ForgotPassword emails a one hour reset link. Unknown emails are ignored.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	u, err := s.userRepo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	token, err := randomCode(domain.VerificationCodeSize)
	if err != nil {
		return err
	}
	expires := s.now().Add(domain.PasswordResetTTL)
	u.ResetToken = &token
	u.ResetExpires = &expires
	if err := s.userRepo.Update(ctx, u); err != nil {
		return err
	}
	if s.emails != nil {
		go s.emails.SendPasswordReset(u.Email, token)
	}
	return nil
}

func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) error {
	if len(newPassword) < minPasswordLen {
		return ErrWeakPassword
	}
	if token == "" {
		return ErrInvalidCode
	}
	u, err := s.userRepo.GetByResetToken(ctx, token)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrInvalidCode
	}
	if err != nil {
		return err
	}
	if u.ResetExpires == nil || s.now().After(*u.ResetExpires) {
		return ErrInvalidCode
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hash)
	u.ResetToken = nil
	u.ResetExpires = nil
	return s.userRepo.Update(ctx, u)
}

// ChangePassword updates the user's password. Requires current password verification.
func (s *AuthService) ChangePassword(ctx context.Context, userID uint, currentPassword, newPassword string) error {
	if len(newPassword) < minPasswordLen {
		return ErrWeakPassword
	}
	u, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return ErrInvalidCreds
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(currentPassword)); err != nil {
		return ErrInvalidCreds
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hash)
	return s.userRepo.Update(ctx, u)
}

func (s *AuthService) Me(ctx context.Context, userID uint) (*models.User, error) {
	return s.userRepo.GetByID(ctx, userID)
}

func (s *AuthService) sendVerification(email, code string) {
	if s.emails != nil {
		go s.emails.SendVerification(email, code)
	}
}

// randomCode returns n hex characters from crypto/rand.
func randomCode(n int) (string, error) {
	b := make([]byte, (n+1)/2)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b)[:n], nil
}
