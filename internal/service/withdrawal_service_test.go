package service

import (
	"context"
	"strconv"
	"testing"
	"time"

	"fwstore/internal/domain"
	"fwstore/internal/models"
	"fwstore/pkg/payment"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedCompleted inserts completed payments in the given order, oldest first.
func (f *fixture) seedCompleted(t *testing.T, amounts ...int64) []models.Payment {
	t.Helper()
	out := make([]models.Payment, 0, len(amounts))
	for i, amount := range amounts {
		at := f.now.Add(time.Duration(i-len(amounts)) * time.Hour)
		checkout := "ws_CO_seed_" + strconv.Itoa(i)
		p := models.Payment{
			Reference:         "FWSEED-" + strconv.Itoa(i),
			UserID:            f.buyer.ID,
			FirmwareID:        f.firmware.ID,
			Amount:            amount,
			PhoneNumber:       "254712345678",
			CheckoutRequestID: &checkout,
			Status:            domain.StatusCompleted,
			CompletedAt:       &at,
		}
		require.NoError(t, f.db.Create(&p).Error)
		out = append(out, p)
	}
	return out
}

func TestWithdrawal_claimsOldestPaymentsThatFit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seeded := f.seedCompleted(t, 500, 300, 200)

	balance, err := f.withdrawals.AvailableBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), balance)

	w, err := f.withdrawals.Create(ctx, f.admin.ID, 700, "0722000111")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, w.Status)
	require.NotNil(t, w.ConversationID)

	// nothing is swept before the gateway confirms
	balance, err = f.withdrawals.AvailableBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), balance)

	settled, err := f.withdrawals.HandleResult(ctx, &payment.B2CResult{
		ConversationID: *w.ConversationID, TransactionID: "TX700", ResultCode: 0, ResultDesc: "ok",
	}, []byte(`{"Result":{}}`))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, settled.Status)
	assert.Equal(t, int64(700), settled.ClaimedAmount)

	var swept []models.Payment
	require.NoError(t, f.db.Where("withdrawn = ?", true).Order("id").Find(&swept).Error)
	require.Len(t, swept, 2)
	assert.Equal(t, seeded[0].ID, swept[0].ID)
	assert.Equal(t, seeded[2].ID, swept[1].ID)
	for _, p := range swept {
		require.NotNil(t, p.WithdrawalID)
		assert.Equal(t, w.ID, *p.WithdrawalID)
	}

	balance, err = f.withdrawals.AvailableBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(300), balance)
}

func TestWithdrawal_duplicateResultIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedCompleted(t, 500, 300)

	w, err := f.withdrawals.Create(ctx, f.admin.ID, 500, "0722000111")
	require.NoError(t, err)
	res := &payment.B2CResult{ConversationID: *w.ConversationID, TransactionID: "TX1", ResultCode: 0}
	_, err = f.withdrawals.HandleResult(ctx, res, nil)
	require.NoError(t, err)

	again, err := f.withdrawals.HandleResult(ctx, res, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, again.Status)
	assert.Equal(t, int64(500), again.ClaimedAmount)

	balance, err := f.withdrawals.AvailableBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(300), balance)
}

func TestWithdrawal_pendingAmountIsReserved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedCompleted(t, 500, 500)

	_, err := f.withdrawals.Create(ctx, f.admin.ID, 1500, "0722000111")
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	_, err = f.withdrawals.Create(ctx, f.admin.ID, 700, "0722000111")
	require.NoError(t, err)
	_, err = f.withdrawals.Create(ctx, f.admin.ID, 400, "0722000111")
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, 1, f.provider.b2cCalls)
}

func TestWithdrawal_rejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedCompleted(t, 500)

	_, err := f.withdrawals.Create(ctx, f.admin.ID, 0, "0722000111")
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = f.withdrawals.Create(ctx, f.admin.ID, 100, "not-a-phone")
	assert.ErrorIs(t, err, ErrInvalidPhone)
	assert.Zero(t, f.provider.b2cCalls)
}

func TestWithdrawal_failedResultLeavesPaymentsUnclaimed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedCompleted(t, 500)

	w, err := f.withdrawals.Create(ctx, f.admin.ID, 500, "0722000111")
	require.NoError(t, err)
	out, err := f.withdrawals.HandleResult(ctx, &payment.B2CResult{
		ConversationID: *w.ConversationID, ResultCode: 2001, ResultDesc: "The initiator information is invalid.",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, out.Status)

	balance, err := f.withdrawals.AvailableBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(500), balance)

	// a failed payout no longer reserves funds
	_, err = f.withdrawals.Create(ctx, f.admin.ID, 500, "0722000111")
	assert.NoError(t, err)
}

func TestWithdrawal_unknownConversation(t *testing.T) {
	f := newFixture(t)
	_, err := f.withdrawals.HandleResult(context.Background(), &payment.B2CResult{ConversationID: "AG_forged"}, nil)
	assert.ErrorIs(t, err, ErrWithdrawalNotFound)

	var audits int64
	require.NoError(t, f.db.Model(&models.AuditLog{}).Where("action = ?", domain.AuditWithdrawalUnknown).Count(&audits).Error)
	assert.Equal(t, int64(1), audits)
}

func TestWithdrawal_timeoutKeepsPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedCompleted(t, 500)

	w, err := f.withdrawals.Create(ctx, f.admin.ID, 500, "0722000111")
	require.NoError(t, err)
	require.NoError(t, f.withdrawals.HandleTimeout(ctx, &payment.B2CResult{ConversationID: *w.ConversationID, ResultCode: 1, ResultDesc: "timeout"}))

	var stored models.Withdrawal
	require.NoError(t, f.db.First(&stored, w.ID).Error)
	assert.Equal(t, domain.StatusPending, stored.Status)
}

func TestWithdrawal_gatewayFailure(t *testing.T) {
	f := newFixture(t)
	f.seedCompleted(t, 500)
	f.provider.b2cErr = &payment.GatewayError{Op: "b2c", StatusCode: 500, Message: "down"}

	_, err := f.withdrawals.Create(context.Background(), f.admin.ID, 500, "0722000111")
	assert.ErrorIs(t, err, ErrGatewayUnavailable)

	var stored models.Withdrawal
	require.NoError(t, f.db.First(&stored).Error)
	assert.Equal(t, domain.StatusFailed, stored.Status)
}

func TestWithdrawal_clientGoneAfterGatewayAccepts(t *testing.T) {
	f := newFixture(t)
	f.seedCompleted(t, 500)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.provider.accepted = cancel

	w, err := f.withdrawals.Create(ctx, f.admin.ID, 500, "0722000111")
	require.NoError(t, err)

	var stored models.Withdrawal
	require.NoError(t, f.db.First(&stored, w.ID).Error)
	require.NotNil(t, stored.ConversationID)

	settled, err := f.withdrawals.HandleResult(context.Background(), &payment.B2CResult{ConversationID: *stored.ConversationID, TransactionID: "TXL", ResultCode: 0}, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, settled.Status)
}
