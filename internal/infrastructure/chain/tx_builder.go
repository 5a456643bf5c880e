package chain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vitos/credit_line/internal/domain"
)

// variable rate; stable rate borrowing is disabled on the pool
var variableRateMode = big.NewInt(2)

// TxBuilder encodes pool and ERC-20 calls. Amounts arrive in native units
// and are scaled down to each token's precision.
type TxBuilder struct {
	pool common.Address
}

func NewTxBuilder(pool common.Address) *TxBuilder {
	return &TxBuilder{pool: pool}
}

func (b *TxBuilder) PrepareBorrow(asset domain.Asset, amount *big.Int, onBehalfOf common.Address) ([]domain.Tx, error) {
	units, err := tokenUnits(amount, asset.Decimals)
	if err != nil {
		return nil, err
	}
	data, err := poolABI.Pack("borrow", asset.Underlying, units, variableRateMode, uint16(0), onBehalfOf)
	if err != nil {
		return nil, fmt.Errorf("pack borrow: %w", err)
	}
	return []domain.Tx{{To: b.pool, Data: data}}, nil
}

// PrepareRepay returns approve and repay, to be sent as one operation.
func (b *TxBuilder) PrepareRepay(asset domain.Asset, amount *big.Int, onBehalfOf common.Address) ([]domain.Tx, error) {
	units, err := tokenUnits(amount, asset.Decimals)
	if err != nil {
		return nil, err
	}
	approve, err := erc20ABI.Pack("approve", b.pool, units)
	if err != nil {
		return nil, fmt.Errorf("pack approve: %w", err)
	}
	repay, err := poolABI.Pack("repay", asset.Underlying, units, variableRateMode, onBehalfOf)
	if err != nil {
		return nil, fmt.Errorf("pack repay: %w", err)
	}
	return []domain.Tx{
		{To: asset.Underlying, Data: approve},
		{To: b.pool, Data: repay},
	}, nil
}

func (b *TxBuilder) PrepareTransfer(token domain.Token, to common.Address, amount *big.Int) (domain.Tx, error) {
	units, err := tokenUnits(amount, token.Decimals)
	if err != nil {
		return domain.Tx{}, err
	}
	data, err := erc20ABI.Pack("transfer", to, units)
	if err != nil {
		return domain.Tx{}, fmt.Errorf("pack transfer: %w", err)
	}
	return domain.Tx{To: token.Address, Data: data}, nil
}

func tokenUnits(amount *big.Int, decimals uint8) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", domain.ErrInvalidParameter)
	}
	units := domain.NativeToToken(amount, decimals)
	if units.Sign() == 0 {
		return nil, fmt.Errorf("%w: amount %s below token precision", domain.ErrInvalidParameter, amount)
	}
	return units, nil
}
