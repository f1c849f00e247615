package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"fwstore/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestIssue_requiresCompletedPayment(t *testing.T) {
	f := newFixture(t)
	res, err := f.purchase.StartPurchase(context.Background(), f.buyer.ID, f.firmware.ID, "0712345678")
	require.NoError(t, err)

	_, err = f.tokens.Issue(context.Background(), f.db, res.Payment)
	assert.ErrorIs(t, err, ErrPaymentNotCompleted)
	assert.Zero(t, f.tokenCount(t, res.Payment.ID))
}

func TestValidateAndRedeem_expired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.completedPurchase(t)
	tok, err := f.purchase.DownloadLink(ctx, p.Reference, f.buyer.ID)
	require.NoError(t, err)

	f.now = tok.ExpiresAt.Add(time.Second)
	_, err = f.tokens.ValidateAndRedeem(ctx, tok.Token, f.buyer.ID, nil)
	assert.ErrorIs(t, err, ErrTokenExpired)
	assert.True(t, IsTokenMisuse(err))

	// a fresh link replaces the expired token
	next, err := f.purchase.DownloadLink(ctx, p.Reference, f.buyer.ID)
	require.NoError(t, err)
	assert.NotEqual(t, tok.Token, next.Token)
	assert.Equal(t, int64(2), f.tokenCount(t, p.ID))

	_, err = f.tokens.ValidateAndRedeem(ctx, next.Token, f.buyer.ID, nil)
	assert.NoError(t, err)
}

func TestValidateAndRedeem_exactExpiryStillValid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.completedPurchase(t)
	tok, err := f.purchase.DownloadLink(ctx, p.Reference, f.buyer.ID)
	require.NoError(t, err)

	f.now = tok.ExpiresAt
	_, err = f.tokens.ValidateAndRedeem(ctx, tok.Token, f.buyer.ID, nil)
	assert.NoError(t, err)
}

func TestValidateAndRedeem_unknownToken(t *testing.T) {
	f := newFixture(t)
	_, err := f.tokens.ValidateAndRedeem(context.Background(), "deadbeef", f.buyer.ID, nil)
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestValidateAndRedeem_nonOwnerDoesNotConsume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.completedPurchase(t)
	tok, err := f.purchase.DownloadLink(ctx, p.Reference, f.buyer.ID)
	require.NoError(t, err)

	_, err = f.tokens.ValidateAndRedeem(ctx, tok.Token, f.other.ID, nil)
	assert.ErrorIs(t, err, ErrForbidden)

	var stored models.DownloadToken
	require.NoError(t, f.db.Where("token = ?", tok.Token).First(&stored).Error)
	assert.False(t, stored.Used)

	_, err = f.tokens.ValidateAndRedeem(ctx, tok.Token, f.buyer.ID, nil)
	assert.NoError(t, err)
}

func TestValidateAndRedeem_releaseErrorRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.completedPurchase(t)
	tok, err := f.purchase.DownloadLink(ctx, p.Reference, f.buyer.ID)
	require.NoError(t, err)

	_, err = f.tokens.ValidateAndRedeem(ctx, tok.Token, f.buyer.ID, func(*gorm.DB, *models.DownloadToken) error {
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	var stored models.DownloadToken
	require.NoError(t, f.db.Where("token = ?", tok.Token).First(&stored).Error)
	assert.False(t, stored.Used)
	assert.Zero(t, stored.DownloadCount)
}

// The test database has a single connection, so this checks the outcome under contention;
// TestValidateAndRedeem_losesRaceAtUpdate drives the interleaving itself.
func TestValidateAndRedeem_concurrentSingleWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.completedPurchase(t)
	tok, err := f.purchase.DownloadLink(ctx, p.Reference, f.buyer.ID)
	require.NoError(t, err)

	const attempts = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
		used int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.tokens.ValidateAndRedeem(ctx, tok.Token, f.buyer.ID, nil)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case assert.ErrorIs(t, err, ErrTokenUsed):
				used++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, attempts-1, used)
}

func TestValidateAndRedeem_losesRaceAtUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.completedPurchase(t)
	tok, err := f.purchase.DownloadLink(ctx, p.Reference, f.buyer.ID)
	require.NoError(t, err)

	// Another redemption lands after this one read the token unused but before its update.
	var once sync.Once
	require.NoError(t, f.db.Callback().Update().Before("gorm:update").Register("test:redeemed_elsewhere", func(db *gorm.DB) {
		if db.Statement.Table != "download_tokens" {
			return
		}
		once.Do(func() {
			db.Session(&gorm.Session{NewDB: true}).Exec("UPDATE download_tokens SET used = ? WHERE id = ?", true, tok.ID)
		})
	}))
	t.Cleanup(func() { _ = f.db.Callback().Update().Remove("test:redeemed_elsewhere") })

	released := false
	_, err = f.tokens.ValidateAndRedeem(ctx, tok.Token, f.buyer.ID, func(*gorm.DB, *models.DownloadToken) error {
		released = true
		return nil
	})
	assert.ErrorIs(t, err, ErrTokenUsed)
	assert.False(t, released)

	var stored models.DownloadToken
	require.NoError(t, f.db.Where("token = ?", tok.Token).First(&stored).Error)
	assert.Zero(t, stored.DownloadCount)
}

func TestIssue_reissuesAfterUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.completedPurchase(t)

	first, err := f.tokens.Issue(ctx, f.db, p)
	require.NoError(t, err)
	again, err := f.tokens.Issue(ctx, f.db, p)
	require.NoError(t, err)
	assert.Equal(t, first.Token, again.Token)

	_, err = f.tokens.ValidateAndRedeem(ctx, first.Token, f.buyer.ID, nil)
	require.NoError(t, err)

	next, err := f.tokens.Issue(ctx, f.db, p)
	require.NoError(t, err)
	assert.NotEqual(t, first.Token, next.Token)
	assert.False(t, next.Used)
	require.NotNil(t, next.ActivePaymentID)
	assert.Equal(t, p.ID, *next.ActivePaymentID)
}
