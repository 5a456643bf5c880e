package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/vitos/credit_line/internal/domain"
)

// PoolOracle reads positions from the lending pool's getUserAccountData.
type PoolOracle struct {
	caller ContractCaller
	pool   common.Address
}

func NewPoolOracle(caller ContractCaller, pool common.Address) *PoolOracle {
	return &PoolOracle{caller: caller, pool: pool}
}

func (o *PoolOracle) GetPosition(ctx context.Context, account common.Address) (*domain.Position, error) {
	data, err := poolABI.Pack("getUserAccountData", account)
	if err != nil {
		return nil, fmt.Errorf("pack getUserAccountData: %w", err)
	}
	out, err := o.caller.CallContract(ctx, ethereum.CallMsg{To: &o.pool, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call getUserAccountData: %w", err)
	}
	values, err := poolABI.Unpack("getUserAccountData", out)
	if err != nil {
		return nil, fmt.Errorf("unpack getUserAccountData: %w", err)
	}
	if len(values) != 6 {
		return nil, fmt.Errorf("getUserAccountData returned %d values", len(values))
	}
	nums := make([]*big.Int, len(values))
	for i, v := range values {
		n, ok := v.(*big.Int)
		if !ok {
			return nil, fmt.Errorf("getUserAccountData value %d has type %T", i, v)
		}
		nums[i] = n
	}
	return &domain.Position{
		TotalCollateralBase:      nums[0],
		TotalDebtBase:            nums[1],
		AvailableBorrowsBase:     nums[2],
		LiquidationThresholdBips: nums[3].Uint64(),
		LTVBips:                  nums[4].Uint64(),
	}, nil
}
