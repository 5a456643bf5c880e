package usecase

import (
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/credit_line/internal/domain"
)

func TestRequestSpendingPower(t *testing.T) {
	e := newTestEnv(t)
	e.withPosition(1000, 0, 7000)

	id, err := e.service.RequestSpendingPower(context.Background(), "owner-1", testDest.Hex(), decimal.RequireFromString("25.50"), "")
	require.NoError(t, err)
	require.Len(t, e.scheduler.reqs, 1)

	in, err := e.ledger.Get(context.Background(), id)
	require.NoError(t, err)
	var params domain.SpendingPowerParams
	require.NoError(t, DecodeParams(in, &params))
	assert.Equal(t, cents(2550).String(), params.TargetAmountNative)

	// nothing moves until the callback runs
	assert.Zero(t, e.chain.opCount())

	_, err = e.coordinator.RunCallback(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, cents(2550), e.chain.sentTo(testDest))
	assert.Equal(t, cents(102), e.chain.sentTo(testTreasury))
}

func TestRequestSpendingPowerProviderWithoutRake(t *testing.T) {
	e := newTestEnv(t)
	e.withPosition(1000, 0, 7000)

	id, err := e.service.RequestSpendingPower(context.Background(), "owner-1", testDest.Hex(), decimal.NewFromInt(100), "Referral")
	require.NoError(t, err)
	_, err = e.coordinator.RunCallback(context.Background(), id)
	require.NoError(t, err)
	assert.Zero(t, e.chain.sentTo(testTreasury).Sign())
	assert.Equal(t, usd(100), e.chain.sentTo(testDest))
}

func TestRequestSpendingPowerRejections(t *testing.T) {
	e := newTestEnv(t)
	e.withPosition(100, 0, 7000)
	ctx := context.Background()

	tests := []struct {
		name    string
		owner   string
		dest    string
		amount  string
		wantErr error
	}{
		{"bad destination", "owner-1", "0x123", "10", domain.ErrInvalidParameter},
		{"zero amount", "owner-1", testDest.Hex(), "0", domain.ErrInvalidParameter},
		{"below one token unit", "owner-1", testDest.Hex(), "0.0000001", domain.ErrInvalidParameter},
		{"below minimum", "owner-1", testDest.Hex(), "0.99", domain.ErrInvalidParameter},
		{"unknown owner", "stranger", testDest.Hex(), "10", domain.ErrNotFound},
		{"over limit", "owner-1", testDest.Hex(), "68", domain.ErrInsufficientFunds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.service.RequestSpendingPower(ctx, tt.owner, tt.dest, decimal.RequireFromString(tt.amount), "")
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Empty(t, e.scheduler.reqs)
}

func TestRequestRepayment(t *testing.T) {
	e := newTestEnv(t)
	e.withPosition(1000, 0, 7000)

	_, err := e.service.RequestRepayment(context.Background(), "owner-1")
	require.ErrorIs(t, err, domain.ErrNoDebt)
	assert.Empty(t, e.scheduler.reqs)

	e.withPosition(1000, 10, 7000)
	id, err := e.service.RequestRepayment(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	require.Len(t, e.scheduler.reqs, 1)
	assert.True(t, strings.HasSuffix(e.scheduler.reqs[0].URL, "/api/workflows/repay-line"))
}

func TestGetPositionSummaryCaches(t *testing.T) {
	e := newTestEnv(t)
	e.withPosition(200, 50, 7000)
	ctx := context.Background()

	summary, err := e.service.GetPositionSummary(ctx, testWallet.Hex())
	require.NoError(t, err)
	assert.Equal(t, "200.00", summary.CollateralDisplay.StringFixed(2))
	assert.Equal(t, "50.00", summary.DebtDisplay.StringFixed(2))

	e.withPosition(300, 50, 7000)
	cached, err := e.service.GetPositionSummary(ctx, strings.ToLower(testWallet.Hex()))
	require.NoError(t, err)
	assert.Equal(t, "200.00", cached.CollateralDisplay.StringFixed(2))

	require.NoError(t, e.views.InvalidateViews(ctx, strings.ToLower(testWallet.Hex())))
	fresh, err := e.service.GetPositionSummary(ctx, testWallet.Hex())
	require.NoError(t, err)
	assert.Equal(t, "300.00", fresh.CollateralDisplay.StringFixed(2))
}

func TestGetPositionSummaryErrors(t *testing.T) {
	e := newTestEnv(t)
	_, err := e.service.GetPositionSummary(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrInvalidParameter)

	e.chain.posErr = errBoom
	_, err = e.service.GetPositionSummary(context.Background(), testWallet.Hex())
	assert.ErrorIs(t, err, errBoom)
}

func TestRegisterWallet(t *testing.T) {
	e := newTestEnv(t)
	w, err := e.service.RegisterWallet(context.Background(), "owner-2", "0x00000000000000000000000000000000000000Cc")
	require.NoError(t, err)
	assert.Equal(t, "0x00000000000000000000000000000000000000cc", w.Address)

	_, err = e.service.RegisterWallet(context.Background(), "", w.Address)
	assert.ErrorIs(t, err, domain.ErrInvalidParameter)
	_, err = e.service.RegisterWallet(context.Background(), "owner-2", "xyz")
	assert.ErrorIs(t, err, domain.ErrInvalidParameter)
}

func TestGetIntentScopedToOwner(t *testing.T) {
	e := newTestEnv(t)
	e.withPosition(1000, 10, 7000)
	ctx := context.Background()

	id, err := e.service.RequestRepayment(ctx, "owner-1")
	require.NoError(t, err)

	in, err := e.service.GetIntent(ctx, "owner-1", id)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentRepayment, in.Kind)

	_, err = e.service.GetIntent(ctx, "owner-2", id)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = e.service.GetIntent(ctx, "owner-1", "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	list, err := e.service.ListIntents(ctx, "owner-1", 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestRequestSpendingPowerTruncatesToStablePrecision(t *testing.T) {
	e := newTestEnv(t)
	e.chain.set(e.asset("USDC").UnderlyingToken(), usd(5))
	e.chain.set(e.asset("USDCn").UnderlyingToken(), usd(1))
	ctx := context.Background()

	id, err := e.service.RequestSpendingPower(ctx, "owner-1", testDest.Hex(), decimal.RequireFromString("5.0000000000001"), "")
	require.NoError(t, err)

	in, err := e.ledger.Get(ctx, id)
	require.NoError(t, err)
	var params domain.SpendingPowerParams
	require.NoError(t, DecodeParams(in, &params))
	assert.Equal(t, usd(5).String(), params.TargetAmountNative)

	outcome, err := e.coordinator.RunCallback(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)
	assert.Equal(t, usd(5), e.chain.sentTo(testDest))
	assert.Equal(t, usd(1), e.chain.balance(e.asset("USDCn").UnderlyingToken()))
}
