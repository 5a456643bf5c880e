package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/vitos/credit_line/internal/domain"
)

// ERC20Reader reads token balances and scales them to native units.
type ERC20Reader struct {
	caller ContractCaller
}

func NewERC20Reader(caller ContractCaller) *ERC20Reader {
	return &ERC20Reader{caller: caller}
}

func (r *ERC20Reader) BalanceOf(ctx context.Context, owner common.Address, token domain.Token) (*big.Int, error) {
	data, err := erc20ABI.Pack("balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("pack balanceOf: %w", err)
	}
	out, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &token.Address, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("balanceOf %s: %w", token.Address.Hex(), err)
	}
	values, err := erc20ABI.Unpack("balanceOf", out)
	if err != nil {
		return nil, fmt.Errorf("unpack balanceOf: %w", err)
	}
	raw, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("balanceOf returned %T", values[0])
	}
	return domain.TokenToNative(raw, token.Decimals), nil
}
