package domain

import "math/big"

const (
	// BaseDecimals is the implied precision of oracle figures (collateral, debt, available borrows).
	BaseDecimals = 8
	// NativeDecimals is the precision used for every on-chain amount inside the service.
	NativeDecimals = 18
	// BipsDenominator converts basis points to a ratio.
	BipsDenominator = 10000
	// PayoutDecimals is the precision requested payouts are truncated to,
	// the precision of the smallest supported stablecoin.
	PayoutDecimals = 6
)

var (
	baseToNativeFactor = new(big.Int).Exp(big.NewInt(10), big.NewInt(NativeDecimals-BaseDecimals), nil)
	oneDollarNative    = new(big.Int).Exp(big.NewInt(10), big.NewInt(NativeDecimals), nil)
)

// BaseToNative converts an oracle base amount to native units. The conversion is exact.
func BaseToNative(base *big.Int) *big.Int {
	if base == nil {
		return new(big.Int)
	}
	return new(big.Int).Mul(base, baseToNativeFactor)
}

// OneDollar returns one USD expressed in native units.
func OneDollar() *big.Int {
	return new(big.Int).Set(oneDollarNative)
}

// NativeToToken scales a native amount down to a token's own precision, truncating.
func NativeToToken(amount *big.Int, decimals uint8) *big.Int {
	if amount == nil {
		return new(big.Int)
	}
	if decimals >= NativeDecimals {
		return new(big.Int).Set(amount)
	}
	div := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(NativeDecimals-decimals)), nil)
	return new(big.Int).Quo(amount, div)
}

// TokenToNative scales a token-precision amount up to native units.
func TokenToNative(amount *big.Int, decimals uint8) *big.Int {
	if amount == nil {
		return new(big.Int)
	}
	if decimals >= NativeDecimals {
		return new(big.Int).Set(amount)
	}
	mul := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(NativeDecimals-decimals)), nil)
	return new(big.Int).Mul(amount, mul)
}

// MinBig returns a copy of the smaller of a and b.
func MinBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// TruncateToToken rounds a native amount down to a multiple of one token unit.
func TruncateToToken(amount *big.Int, decimals uint8) *big.Int {
	return TokenToNative(NativeToToken(amount, decimals), decimals)
}

// CeilToToken rounds a native amount up to a multiple of one token unit.
func CeilToToken(amount *big.Int, decimals uint8) *big.Int {
	down := TruncateToToken(amount, decimals)
	if amount == nil || down.Cmp(amount) == 0 {
		return down
	}
	return TokenToNative(new(big.Int).Add(NativeToToken(amount, decimals), big.NewInt(1)), decimals)
}
