package usecase_test

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/credit_line/internal/domain"
	"github.com/vitos/credit_line/internal/usecase"
)

// usdBase returns dollars in oracle base units.
func usdBase(dollars int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(dollars), big.NewInt(100_000_000))
}

// usd returns dollars in native units.
func usd(dollars int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(dollars), domain.OneDollar())
}

func TestToDisplay(t *testing.T) {
	tests := []struct {
		name    string
		base    *big.Int
		roundUp bool
		want    string
	}{
		{"zero", big.NewInt(0), true, "0.00"},
		{"exact cents", big.NewInt(1_200_000_000), true, "12.00"},
		{"truncates collateral", big.NewInt(1_234_567_890), false, "12.34"},
		{"rounds debt up", big.NewInt(1_234_567_890), true, "12.35"},
		{"dust debt clamps to a cent", big.NewInt(1), true, "0.01"},
		{"dust collateral is zero", big.NewInt(1), false, "0.00"},
		{"just under a cent", big.NewInt(999_999), true, "0.01"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := usecase.ToDisplay(tt.base, tt.roundUp)
			assert.Equal(t, tt.want, got.StringFixed(2))
		})
	}
}

func TestToDisplay_DebtNeverUnderstated(t *testing.T) {
	for _, d := range []int64{1, 7, 999_999, 1_000_000, 1_000_001, 123_456_789, 10_000_000_000, 98_765_432_101} {
		base := big.NewInt(d)
		actual := decimal.NewFromBigInt(base, -domain.BaseDecimals)
		shown := usecase.ToDisplay(base, true)
		assert.True(t, shown.GreaterThanOrEqual(actual), "debt %d displayed as %s < %s", d, shown, actual)
		assert.True(t, shown.Sub(actual).LessThan(decimal.New(1, -2)), "debt %d over-rounded to %s", d, shown)
	}
}

func TestAvailableToBorrow(t *testing.T) {
	pos := &domain.Position{
		TotalCollateralBase: usdBase(200),
		TotalDebtBase:       usdBase(100),
		LTVBips:             7000,
	}

	got, err := usecase.AvailableToBorrow(pos, 100)
	require.NoError(t, err)
	assert.Equal(t, usd(40).String(), got.String())

	// half of the ceiling is already used
	got, err = usecase.AvailableToBorrow(pos, 50)
	require.NoError(t, err)
	assert.Equal(t, "0", got.String())

	_, err = usecase.AvailableToBorrow(pos, 100.5)
	assert.ErrorIs(t, err, domain.ErrInvalidParameter)
}

func TestAvailableToBorrow_FractionalPercent(t *testing.T) {
	pos := &domain.Position{TotalCollateralBase: usdBase(1000), TotalDebtBase: big.NewInt(0), LTVBips: 8000}

	got, err := usecase.AvailableToBorrow(pos, 97.5)
	require.NoError(t, err)
	// 1000 * 0.8 * 0.975 = 780
	assert.Equal(t, usd(780).String(), got.String())
}

func TestIsSafeBorrow(t *testing.T) {
	pos := &domain.Position{TotalCollateralBase: usdBase(100), TotalDebtBase: big.NewInt(0), LTVBips: 7000}

	safe, err := usecase.IsSafeBorrow(pos, usd(71), 100)
	require.NoError(t, err)
	assert.False(t, safe)

	safe, err = usecase.IsSafeBorrow(pos, usd(65), 95)
	require.NoError(t, err)
	assert.True(t, safe)

	empty := &domain.Position{TotalCollateralBase: big.NewInt(0), TotalDebtBase: big.NewInt(0), LTVBips: 7000}
	safe, err = usecase.IsSafeBorrow(empty, usd(1), 100)
	require.NoError(t, err)
	assert.False(t, safe)

	_, err = usecase.IsSafeBorrow(pos, big.NewInt(0), 50)
	assert.ErrorIs(t, err, domain.ErrInvalidParameter)
}

func TestClampToSafeBorrow(t *testing.T) {
	pos := &domain.Position{TotalCollateralBase: usdBase(100), TotalDebtBase: usdBase(10), LTVBips: 7000}

	got, err := usecase.ClampToSafeBorrow(pos, usd(20), 100)
	require.NoError(t, err)
	assert.Equal(t, usd(20).String(), got.String())

	// oversized requests degrade to the ceiling: 70 - 10
	got, err = usecase.ClampToSafeBorrow(pos, usd(500), 100)
	require.NoError(t, err)
	assert.Equal(t, usd(60).String(), got.String())
}

func TestSummarize(t *testing.T) {
	pos := &domain.Position{
		TotalCollateralBase:      big.NewInt(20_000_999_999),
		TotalDebtBase:            big.NewInt(5_000_000_001),
		AvailableBorrowsBase:     big.NewInt(8_999_999_999),
		LTVBips:                  7000,
		LiquidationThresholdBips: 7500,
	}
	s := usecase.Summarize("0xabc", pos)
	assert.Equal(t, "200.00", s.CollateralDisplay.StringFixed(2))
	assert.Equal(t, "50.01", s.DebtDisplay.StringFixed(2))
	assert.Equal(t, "89.99", s.AvailableBorrowsDisplay.StringFixed(2))
	assert.Equal(t, uint64(7000), s.LTVBips)
	assert.Equal(t, "35.71", s.UtilizationPercent.StringFixed(2))
}
