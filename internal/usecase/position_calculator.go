package usecase

import (
	"fmt"
	"math"
	"math/big"

	"github.com/shopspring/decimal"
	"github.com/vitos/credit_line/internal/domain"
)

// Position math. Everything here is a pure function of its inputs.
//
// Rounding policy: debt is rounded up to the cent and collateral/available
// borrows are rounded down, so repaying the displayed debt always clears the
// on-chain debt and never leaves unpayable dust.

var (
	baseUnitsPerCent = big.NewInt(1_000_000)
	bipsDenominator  = big.NewInt(domain.BipsDenominator)
	hundred          = big.NewInt(100)
)

// ToDisplay converts a base amount to USD with two decimals.
func ToDisplay(base *big.Int, roundUp bool) decimal.Decimal {
	if base == nil || base.Sign() <= 0 {
		return decimal.Zero
	}
	cents, rem := new(big.Int).QuoRem(base, baseUnitsPerCent, new(big.Int))
	if roundUp && rem.Sign() > 0 {
		cents.Add(cents, big.NewInt(1))
	}
	// a nonzero debt never displays as free
	if roundUp && cents.Sign() == 0 {
		cents.SetInt64(1)
	}
	return decimal.NewFromBigInt(cents, -2)
}

// AvailableToBorrow returns how much more can be borrowed, in native units,
// before debt reaches percentOfMaxLTV percent of the LTV ceiling.
func AvailableToBorrow(pos *domain.Position, percentOfMaxLTV float64) (*big.Int, error) {
	if err := checkPercentOfMaxLTV(percentOfMaxLTV); err != nil {
		return nil, err
	}
	potential := potentialDebtBase(pos)

	desiredBips := big.NewInt(int64(math.Floor(percentOfMaxLTV * 100)))
	desired := new(big.Int).Mul(potential, desiredBips)
	desired.Quo(desired, bipsDenominator)

	room := new(big.Int).Sub(desired, orZero(pos.TotalDebtBase))
	if room.Sign() <= 0 {
		return new(big.Int), nil
	}
	return domain.BaseToNative(room), nil
}

// IsSafeBorrow reports whether borrowing target keeps the post-borrow debt
// strictly below percentOfMaxLTV percent of the LTV ceiling.
func IsSafeBorrow(pos *domain.Position, target *big.Int, percentOfMaxLTV float64) (bool, error) {
	if target == nil || target.Sign() <= 0 {
		return false, fmt.Errorf("%w: amount to borrow must be greater than 0", domain.ErrInvalidParameter)
	}
	if err := checkPercentOfMaxLTV(percentOfMaxLTV); err != nil {
		return false, err
	}
	collateral := orZero(pos.TotalCollateralBase)
	if collateral.Sign() == 0 {
		return false, nil
	}

	proposed := new(big.Int).Add(domain.BaseToNative(pos.TotalDebtBase), target)
	ceiling := new(big.Int).Mul(domain.BaseToNative(collateral), new(big.Int).SetUint64(pos.LTVBips))
	ceiling.Quo(ceiling, bipsDenominator)
	if ceiling.Sign() == 0 {
		return false, nil
	}

	proposedPercent := new(big.Int).Mul(proposed, hundred)
	proposedPercent.Quo(proposedPercent, ceiling)

	return new(big.Float).SetInt(proposedPercent).Cmp(big.NewFloat(percentOfMaxLTV)) < 0, nil
}

// ClampToSafeBorrow returns target when it is safe, otherwise the largest safe amount.
func ClampToSafeBorrow(pos *domain.Position, target *big.Int, percentOfMaxLTV float64) (*big.Int, error) {
	safe, err := IsSafeBorrow(pos, target, percentOfMaxLTV)
	if err != nil {
		return nil, err
	}
	if safe {
		return new(big.Int).Set(target), nil
	}
	return AvailableToBorrow(pos, percentOfMaxLTV)
}

// UtilizationPercent returns current debt as a percent of the LTV ceiling.
func UtilizationPercent(pos *domain.Position) decimal.Decimal {
	potential := potentialDebtBase(pos)
	if potential.Sign() == 0 {
		return decimal.Zero
	}
	bips := new(big.Int).Mul(orZero(pos.TotalDebtBase), bipsDenominator)
	bips.Quo(bips, potential)
	return decimal.NewFromBigInt(bips, -2)
}

// Summarize builds the display view of a position.
func Summarize(address string, pos *domain.Position) *domain.PositionSummary {
	return &domain.PositionSummary{
		Address:                  address,
		CollateralDisplay:        ToDisplay(pos.TotalCollateralBase, false),
		DebtDisplay:              ToDisplay(pos.TotalDebtBase, true),
		AvailableBorrowsDisplay:  ToDisplay(pos.AvailableBorrowsBase, false),
		LTVBips:                  pos.LTVBips,
		LiquidationThresholdBips: pos.LiquidationThresholdBips,
		UtilizationPercent:       UtilizationPercent(pos),
	}
}

func potentialDebtBase(pos *domain.Position) *big.Int {
	potential := new(big.Int).Mul(orZero(pos.TotalCollateralBase), new(big.Int).SetUint64(pos.LTVBips))
	return potential.Quo(potential, bipsDenominator)
}

func checkPercentOfMaxLTV(p float64) error {
	if p > 100 {
		return fmt.Errorf("%w: cannot use more than 100%% of the LTV (got %v)", domain.ErrInvalidParameter, p)
	}
	if p < 0 || math.IsNaN(p) {
		return fmt.Errorf("%w: percent of max LTV must be non-negative (got %v)", domain.ErrInvalidParameter, p)
	}
	return nil
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
