package domain

import (
	"fmt"
	"slices"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Token identifies an ERC-20 contract and its precision.
type Token struct {
	Address  common.Address
	Decimals uint8
}

// Asset is one entry of the supported asset table.
type Asset struct {
	Symbol     string
	Underlying common.Address
	DebtToken  common.Address
	Decimals   uint8
}

// UnderlyingToken returns the transferable token of the asset.
func (a Asset) UnderlyingToken() Token {
	return Token{Address: a.Underlying, Decimals: a.Decimals}
}

// DebtTokenRef returns the variable debt token tracking borrows of the asset.
func (a Asset) DebtTokenRef() Token {
	return Token{Address: a.DebtToken, Decimals: a.Decimals}
}

// AssetSet is the immutable table of supported assets. It is built once at
// startup and shared by every component; nothing mutates it afterwards.
type AssetSet struct {
	bySymbol  map[string]Asset
	stables   []string
	debtOrder []string
	borrow    string
}

// NewAssetSet builds the table. stables is the disbursement/swap priority order,
// debtOrder the repayment order and borrow the symbol new debt is drawn in.
func NewAssetSet(assets []Asset, stables, debtOrder []string, borrow string) (*AssetSet, error) {
	set := &AssetSet{bySymbol: make(map[string]Asset, len(assets))}
	for _, a := range assets {
		sym := strings.TrimSpace(a.Symbol)
		if sym == "" {
			return nil, fmt.Errorf("%w: asset symbol required", ErrInvalidParameter)
		}
		if _, dup := set.bySymbol[sym]; dup {
			return nil, fmt.Errorf("%w: duplicate asset %s", ErrInvalidParameter, sym)
		}
		a.Symbol = sym
		set.bySymbol[sym] = a
	}
	for _, s := range stables {
		if _, ok := set.bySymbol[s]; !ok {
			return nil, fmt.Errorf("%w: stable %s not in asset table", ErrInvalidParameter, s)
		}
	}
	for _, s := range debtOrder {
		if _, ok := set.bySymbol[s]; !ok {
			return nil, fmt.Errorf("%w: debt asset %s not in asset table", ErrInvalidParameter, s)
		}
	}
	if _, ok := set.bySymbol[borrow]; !ok {
		return nil, fmt.Errorf("%w: borrow asset %s not in asset table", ErrInvalidParameter, borrow)
	}
	if !slices.Contains(stables, borrow) {
		return nil, fmt.Errorf("%w: borrow asset %s not in stables", ErrInvalidParameter, borrow)
	}
	set.stables = append([]string(nil), stables...)
	set.debtOrder = append([]string(nil), debtOrder...)
	set.borrow = borrow
	return set, nil
}

// Get looks up an asset by symbol.
func (s *AssetSet) Get(symbol string) (Asset, bool) {
	a, ok := s.bySymbol[symbol]
	return a, ok
}

// Stables returns the stablecoins in priority order.
func (s *AssetSet) Stables() []Asset {
	return s.resolve(s.stables)
}

// DebtAssets returns the debt-bearing assets in repayment order.
func (s *AssetSet) DebtAssets() []Asset {
	return s.resolve(s.debtOrder)
}

// BorrowAsset returns the asset new debt is drawn in.
func (s *AssetSet) BorrowAsset() Asset {
	return s.bySymbol[s.borrow]
}

func (s *AssetSet) resolve(symbols []string) []Asset {
	out := make([]Asset, 0, len(symbols))
	for _, sym := range symbols {
		out = append(out, s.bySymbol[sym])
	}
	return out
}
