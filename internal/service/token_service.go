package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"fwstore/internal/domain"
	"fwstore/internal/models"
	"fwstore/internal/repository"

	"gorm.io/gorm"
)

// TokenService mints and redeems one-time download tokens.
type TokenService struct {
	db     *gorm.DB
	tokens *repository.TokenRepository
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenService(db *gorm.DB, tokens *repository.TokenRepository, ttl time.Duration) *TokenService {
	if ttl <= 0 {
		ttl = domain.DownloadTokenTTL
	}
	return &TokenService{db: db, tokens: tokens, ttl: ttl, now: time.Now}
}

// Issue returns the payment's current token while it is still valid, otherwise supersedes it
// and mints a new one. tx may be a transaction or the plain handle.
func (s *TokenService) Issue(ctx context.Context, tx *gorm.DB, p *models.Payment) (*models.DownloadToken, error) {
	if !p.IsCompleted() {
		return nil, ErrPaymentNotCompleted
	}
	repo := s.tokens.WithTx(tx)
	now := s.now()

	current, err := repo.GetCurrent(ctx, p.ID)
	switch {
	case err == nil && current.Valid(now):
		return current, nil
	case err == nil:
		if err := repo.Supersede(ctx, current.ID); err != nil {
			return nil, fmt.Errorf("supersede token: %w", err)
		}
	case !errors.Is(err, repository.ErrNotFound):
		return nil, err
	}

	value, err := newTokenValue()
	if err != nil {
		return nil, err
	}
	paymentID := p.ID
	t := &models.DownloadToken{
		Token:           value,
		FirmwareID:      p.FirmwareID,
		PaymentID:       p.ID,
		UserID:          p.UserID,
		ActivePaymentID: &paymentID,
		ExpiresAt:       now.Add(s.ttl),
		CreatedAt:       now,
	}
	if err := repo.Create(ctx, t); err != nil {
		// A concurrent Issue took the active slot first; hand out its token.
		if winner, gerr := repo.GetCurrent(ctx, p.ID); gerr == nil && winner.Valid(now) {
			return winner, nil
		}
		return nil, fmt.Errorf("create token: %w", err)
	}
	return t, nil
}

// ReleaseFunc runs inside the redemption transaction once the token has been consumed.
type ReleaseFunc func(tx *gorm.DB, t *models.DownloadToken) error

// ValidateAndRedeem consumes the token for userID. The conditional update decides the single
// winner among concurrent attempts; release runs in the same transaction.
func (s *TokenService) ValidateAndRedeem(ctx context.Context, value string, userID uint, release ReleaseFunc) (*models.DownloadToken, error) {
	var redeemed *models.DownloadToken
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.tokens.WithTx(tx)
		t, err := repo.GetByToken(ctx, value)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrTokenNotFound
		}
		if err != nil {
			return err
		}
		if t.UserID != userID {
			return ErrForbidden
		}
		now := s.now()
		if now.After(t.ExpiresAt) {
			return ErrTokenExpired
		}
		if t.Used {
			return ErrTokenUsed
		}
		n, err := repo.Redeem(ctx, t.ID, now)
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrTokenUsed
		}
		t.Used = true
		t.UsedAt = &now
		t.ActivePaymentID = nil
		t.DownloadCount++
		if release != nil {
			if err := release(tx, t); err != nil {
				return err
			}
		}
		redeemed = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return redeemed, nil
}

// newTokenValue returns 256 random bits, hex encoded.
func newTokenValue() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("token entropy: %w", err)
	}
	return hex.EncodeToString(b), nil
}
