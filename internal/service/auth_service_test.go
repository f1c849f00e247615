package service

import (
	"context"
	"testing"
	"time"

	"fwstore/config"
	"fwstore/internal/auth"
	"fwstore/internal/domain"
	"fwstore/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuthService(t *testing.T) (*AuthService, *repository.UserRepository) {
	t.Helper()
	users := repository.NewUserRepository(newTestDB(t))
	cfg := &config.Config{JWT: config.JWTConfig{
		AccessSecret:  "access-secret-for-tests",
		RefreshSecret: "refresh-secret-for-tests",
		AccessExpiry:  15 * time.Minute,
		RefreshExpiry: time.Hour,
		Issuer:        "fwstore",
	}}
	return NewAuthService(cfg, users, nil), users
}

func TestAuth_registerVerifyLogin(t *testing.T) {
	svc, users := newAuthService(t)
	ctx := context.Background()

	u, err := svc.Register(ctx, " Tech@Example.com ", "tech", "s3cret-pass")
	require.NoError(t, err)
	assert.Equal(t, "tech@example.com", u.Email)
	assert.Equal(t, domain.RoleUser, u.Role)
	assert.False(t, u.IsVerified())
	require.NotNil(t, u.VerificationCode)
	assert.Len(t, *u.VerificationCode, domain.VerificationCodeSize)

	_, _, err = svc.Login(ctx, "tech@example.com", "s3cret-pass")
	assert.ErrorIs(t, err, ErrEmailNotVerified)

	verified, err := svc.VerifyEmail(ctx, *u.VerificationCode)
	require.NoError(t, err)
	assert.True(t, verified.IsVerified())

	stored, err := users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.VerificationCode)

	_, _, err = svc.Login(ctx, "tech@example.com", "wrong-pass")
	assert.ErrorIs(t, err, ErrInvalidCreds)

	_, pair, err := svc.Login(ctx, "TECH@example.com", "s3cret-pass")
	require.NoError(t, err)
	claims, err := auth.ParseAccessToken(&svc.cfg.JWT, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, u.ID, claims.UserID)

	refreshed, err := svc.RefreshToken(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, refreshed.AccessToken)

	_, err = svc.RefreshToken(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestAuth_registerRejections(t *testing.T) {
	svc, _ := newAuthService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "not-an-email", "a", "s3cret-pass")
	assert.ErrorIs(t, err, ErrInvalidEmail)
	_, err = svc.Register(ctx, "a@example.com", "a", "short")
	assert.ErrorIs(t, err, ErrWeakPassword)

	_, err = svc.Register(ctx, "a@example.com", "a", "s3cret-pass")
	require.NoError(t, err)
	_, err = svc.Register(ctx, "A@example.com", "b", "s3cret-pass")
	assert.ErrorIs(t, err, ErrEmailExists)
	_, err = svc.Register(ctx, "b@example.com", "a", "s3cret-pass")
	assert.ErrorIs(t, err, ErrUsernameExists)
}

func TestAuth_verificationCodeExpires(t *testing.T) {
	svc, _ := newAuthService(t)
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return start }

	u, err := svc.Register(ctx, "late@example.com", "late", "s3cret-pass")
	require.NoError(t, err)

	svc.now = func() time.Time { return start.Add(domain.VerificationCodeTTL + time.Minute) }
	_, err = svc.VerifyEmail(ctx, *u.VerificationCode)
	assert.ErrorIs(t, err, ErrInvalidCode)

	require.NoError(t, svc.ResendVerification(ctx, "late@example.com"))
	_, err = svc.VerifyEmail(ctx, *u.VerificationCode)
	assert.ErrorIs(t, err, ErrInvalidCode, "the old code is replaced")

	assert.NoError(t, svc.ResendVerification(ctx, "nobody@example.com"))
}

func TestAuth_forgotAndResetPassword(t *testing.T) {
	svc, users := newAuthService(t)
	ctx := context.Background()

	u, err := svc.Register(ctx, "reset@example.com", "reset", "old-password")
	require.NoError(t, err)
	_, err = svc.VerifyEmail(ctx, *u.VerificationCode)
	require.NoError(t, err)

	require.NoError(t, svc.ForgotPassword(ctx, "reset@example.com"))
	assert.NoError(t, svc.ForgotPassword(ctx, "unknown@example.com"))

	stored, err := users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ResetToken)

	assert.ErrorIs(t, svc.ResetPassword(ctx, "bogus", "new-password"), ErrInvalidCode)
	require.NoError(t, svc.ResetPassword(ctx, *stored.ResetToken, "new-password"))
	assert.ErrorIs(t, svc.ResetPassword(ctx, *stored.ResetToken, "newer-password"), ErrInvalidCode)

	_, _, err = svc.Login(ctx, "reset@example.com", "old-password")
	assert.ErrorIs(t, err, ErrInvalidCreds)
	_, _, err = svc.Login(ctx, "reset@example.com", "new-password")
	assert.NoError(t, err)

	assert.ErrorIs(t, svc.ChangePassword(ctx, u.ID, "wrong", "another-password"), ErrInvalidCreds)
	assert.NoError(t, svc.ChangePassword(ctx, u.ID, "new-password", "another-password"))
}
