package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const poolABIJSON = `[
 {"type":"function","name":"getUserAccountData","stateMutability":"view",
  "inputs":[{"name":"user","type":"address"}],
  "outputs":[
   {"name":"totalCollateralBase","type":"uint256"},
   {"name":"totalDebtBase","type":"uint256"},
   {"name":"availableBorrowsBase","type":"uint256"},
   {"name":"currentLiquidationThreshold","type":"uint256"},
   {"name":"ltv","type":"uint256"},
   {"name":"healthFactor","type":"uint256"}]},
 {"type":"function","name":"borrow","stateMutability":"nonpayable",
  "inputs":[
   {"name":"asset","type":"address"},
   {"name":"amount","type":"uint256"},
   {"name":"interestRateMode","type":"uint256"},
   {"name":"referralCode","type":"uint16"},
   {"name":"onBehalfOf","type":"address"}],
  "outputs":[]},
 {"type":"function","name":"repay","stateMutability":"nonpayable",
  "inputs":[
   {"name":"asset","type":"address"},
   {"name":"amount","type":"uint256"},
   {"name":"interestRateMode","type":"uint256"},
   {"name":"onBehalfOf","type":"address"}],
  "outputs":[{"name":"","type":"uint256"}]}
]`

const erc20ABIJSON = `[
 {"type":"function","name":"balanceOf","stateMutability":"view",
  "inputs":[{"name":"account","type":"address"}],
  "outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"approve","stateMutability":"nonpayable",
  "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
  "outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"transfer","stateMutability":"nonpayable",
  "inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],
  "outputs":[{"name":"","type":"bool"}]}
]`

var (
	poolABI  = mustParseABI(poolABIJSON)
	erc20ABI = mustParseABI(erc20ABIJSON)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
