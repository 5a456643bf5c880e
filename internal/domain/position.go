package domain

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// Position is a snapshot of a borrower's lending account as reported by the
// oracle. Monetary figures are in base units (8 implied decimals).
type Position struct {
	TotalCollateralBase      *big.Int
	TotalDebtBase            *big.Int
	AvailableBorrowsBase     *big.Int
	LTVBips                  uint64
	LiquidationThresholdBips uint64
}

// PositionSummary is the display view of a Position.
// Debt is rounded up, collateral and available borrows are rounded down.
type PositionSummary struct {
	Address                  string          `json:"address"`
	CollateralDisplay        decimal.Decimal `json:"collateral_usd"`
	DebtDisplay              decimal.Decimal `json:"debt_usd"`
	AvailableBorrowsDisplay  decimal.Decimal `json:"available_borrows_usd"`
	LTVBips                  uint64          `json:"ltv_bips"`
	LiquidationThresholdBips uint64          `json:"liquidation_threshold_bips"`
	UtilizationPercent       decimal.Decimal `json:"utilization_percent"`
}

// FinancingRequest describes one spending power payout. Amounts are native units.
type FinancingRequest struct {
	DestinationAddress string
	TargetAmount       *big.Int
	FeeRateBips        uint64
	FeeFloor           *big.Int
}

// Transfer records one on-chain transfer issued by a planner.
type Transfer struct {
	Symbol  string   `json:"symbol"`
	To      string   `json:"to"`
	Amount  *big.Int `json:"amount"`
	TxHash  string   `json:"tx_hash"`
	Purpose string   `json:"purpose"`
}

// DisbursementResult summarises a completed spending power operation.
type DisbursementResult struct {
	Borrowed    *big.Int   `json:"borrowed"`
	Fee         *big.Int   `json:"fee"`
	Transfers   []Transfer `json:"transfers"`
	Undisbursed *big.Int   `json:"undisbursed"`
}

// Repayment records the repay of one debt asset.
type Repayment struct {
	Symbol string   `json:"symbol"`
	Debt   *big.Int `json:"debt"`
	Repaid *big.Int `json:"repaid"`
	TxHash string   `json:"tx_hash"`
}

// RepaymentResult summarises a repayment operation.
type RepaymentResult struct {
	Repayments []Repayment `json:"repayments"`
}
