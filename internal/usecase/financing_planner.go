package usecase

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vitos/credit_line/internal/domain"
	"go.uber.org/zap"
)

// FinancingConfig holds the limits applied when funding a payout.
type FinancingConfig struct {
	// MaxUtilizationPercent caps borrowing at this percent of the LTV ceiling.
	MaxUtilizationPercent float64
	BorrowTimeout         time.Duration
	Treasury              common.Address
}

// FinancingPlan is the borrow/fee split for one payout, derived from live balances.
type FinancingPlan struct {
	Idle             *big.Int
	Shortfall        *big.Int
	AvailableBorrows *big.Int
	Fee              *big.Int
	Borrow           *big.Int
	FeeWaived        string
}

// FinancingPlanner funds payouts from idle stablecoins plus new borrowing.
type FinancingPlanner struct {
	assets   *domain.AssetSet
	oracle   domain.PositionOracle
	balances domain.TokenBalanceReader
	txs      domain.TxBuilder
	watcher  *BalanceWatcher
	cfg      FinancingConfig
	logger   *zap.Logger
}

func NewFinancingPlanner(
	assets *domain.AssetSet,
	oracle domain.PositionOracle,
	balances domain.TokenBalanceReader,
	txs domain.TxBuilder,
	watcher *BalanceWatcher,
	cfg FinancingConfig,
	logger *zap.Logger,
) *FinancingPlanner {
	return &FinancingPlanner{
		assets:   assets,
		oracle:   oracle,
		balances: balances,
		txs:      txs,
		watcher:  watcher,
		cfg:      cfg,
		logger:   logger,
	}
}

// IdleBalance sums the wallet's supported stablecoin balances.
func (p *FinancingPlanner) IdleBalance(ctx context.Context, wallet common.Address) (*big.Int, error) {
	total := new(big.Int)
	for _, asset := range p.assets.Stables() {
		bal, err := p.balances.BalanceOf(ctx, wallet, asset.UnderlyingToken())
		if err != nil {
			return nil, fmt.Errorf("balance of %s: %w", asset.Symbol, err)
		}
		total.Add(total, bal)
	}
	return total, nil
}

// Plan derives the borrow and fee for req from the wallet's current state.
// It is re-run on every execution attempt, so a retry never acts on a stale plan.
func (p *FinancingPlanner) Plan(ctx context.Context, wallet common.Address, req domain.FinancingRequest) (*FinancingPlan, error) {
	if req.TargetAmount == nil || req.TargetAmount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: target amount must be positive", domain.ErrInvalidParameter)
	}

	idle, err := p.IdleBalance(ctx, wallet)
	if err != nil {
		return nil, err
	}

	plan := &FinancingPlan{
		Idle:             idle,
		Shortfall:        new(big.Int).Sub(req.TargetAmount, idle),
		AvailableBorrows: new(big.Int),
		Fee:              new(big.Int),
		Borrow:           new(big.Int),
	}
	if plan.Shortfall.Sign() <= 0 {
		plan.Shortfall.SetInt64(0)
		return plan, nil
	}

	pos, err := p.oracle.GetPosition(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("get position: %w", err)
	}
	safeRoom, err := AvailableToBorrow(pos, p.cfg.MaxUtilizationPercent)
	if err != nil {
		return nil, err
	}
	plan.AvailableBorrows = domain.MinBig(domain.BaseToNative(pos.AvailableBorrowsBase), safeRoom)

	spendable := new(big.Int).Add(plan.AvailableBorrows, idle)
	if req.TargetAmount.Cmp(spendable) >= 0 {
		return nil, fmt.Errorf("%w: requested %s >= spendable %s (borrowable %s + idle %s)",
			domain.ErrInsufficientFunds, req.TargetAmount, spendable, plan.AvailableBorrows, idle)
	}

	decimals := p.assets.BorrowAsset().Decimals
	fee := new(big.Int).Mul(plan.Shortfall, new(big.Int).SetUint64(req.FeeRateBips))
	fee = domain.TruncateToToken(fee.Quo(fee, bipsDenominator), decimals)

	switch {
	case req.FeeFloor != nil && fee.Cmp(req.FeeFloor) < 0:
		plan.FeeWaived = "below_floor"
	case new(big.Int).Add(plan.Shortfall, fee).Cmp(plan.AvailableBorrows) >= 0:
		plan.FeeWaived = "exceeds_available"
	default:
		plan.Fee = fee
	}
	// The pool lends whole token units; round up so the payout is covered.
	need := new(big.Int).Add(plan.Shortfall, plan.Fee)
	plan.Borrow = domain.CeilToToken(need, decimals)
	if plan.Borrow.Cmp(plan.AvailableBorrows) > 0 {
		plan.Borrow = domain.TruncateToToken(need, decimals)
	}

	return plan, nil
}

// Execute borrows what the plan requires, collects the fee and disburses the
// target to the destination.
func (p *FinancingPlanner) Execute(ctx context.Context, signer domain.Signer, req domain.FinancingRequest) (*domain.DisbursementResult, error) {
	wallet := signer.Address()
	if !common.IsHexAddress(req.DestinationAddress) {
		return nil, fmt.Errorf("%w: destination %q is not an address", domain.ErrInvalidParameter, req.DestinationAddress)
	}

	plan, err := p.Plan(ctx, wallet, req)
	if err != nil {
		return nil, err
	}

	p.logger.Info("Financing plan",
		zap.String("wallet", wallet.Hex()),
		zap.Stringer("target", req.TargetAmount),
		zap.Stringer("idle", plan.Idle),
		zap.Stringer("shortfall", plan.Shortfall),
		zap.Stringer("available_borrows", plan.AvailableBorrows),
		zap.Stringer("fee", plan.Fee),
		zap.String("fee_waived", plan.FeeWaived),
		zap.Stringer("borrow", plan.Borrow))

	result := &domain.DisbursementResult{
		Borrowed:    new(big.Int).Set(plan.Borrow),
		Fee:         new(big.Int).Set(plan.Fee),
		Undisbursed: new(big.Int),
	}

	if plan.Borrow.Sign() > 0 {
		if err := p.borrow(ctx, signer, plan.Borrow); err != nil {
			return nil, err
		}
		if plan.Fee.Sign() > 0 {
			asset := p.assets.BorrowAsset()
			transfer, err := p.send(ctx, signer, asset, p.cfg.Treasury, plan.Fee, "fee")
			if err != nil {
				return nil, fmt.Errorf("collect fee: %w", err)
			}
			result.Transfers = append(result.Transfers, *transfer)
		}
	}

	destination := common.HexToAddress(req.DestinationAddress)
	remaining := new(big.Int).Set(req.TargetAmount)
	for _, asset := range p.assets.Stables() {
		if remaining.Sign() == 0 {
			break
		}
		bal, err := p.balances.BalanceOf(ctx, wallet, asset.UnderlyingToken())
		if err != nil {
			return nil, fmt.Errorf("balance of %s: %w", asset.Symbol, err)
		}
		if bal.Sign() <= 0 {
			continue
		}
		amount := domain.TruncateToToken(domain.MinBig(bal, remaining), asset.Decimals)
		if amount.Sign() == 0 {
			continue
		}
		transfer, err := p.send(ctx, signer, asset, destination, amount, "disburse")
		if err != nil {
			return nil, fmt.Errorf("disburse %s: %w", asset.Symbol, err)
		}
		result.Transfers = append(result.Transfers, *transfer)
		remaining.Sub(remaining, amount)
	}

	if remaining.Sign() > 0 {
		// Not an error: a retry would send the already delivered part again.
		p.logger.Warn("Payout only partially disbursed",
			zap.String("wallet", wallet.Hex()),
			zap.Stringer("target", req.TargetAmount),
			zap.Stringer("undisbursed", remaining))
	}
	result.Undisbursed = remaining

	return result, nil
}

func (p *FinancingPlanner) borrow(ctx context.Context, signer domain.Signer, amount *big.Int) error {
	wallet := signer.Address()
	asset := p.assets.BorrowAsset()

	txns, err := p.txs.PrepareBorrow(asset, amount, wallet)
	if err != nil {
		return fmt.Errorf("prepare borrow: %w", err)
	}

	before, err := p.balances.BalanceOf(ctx, wallet, asset.UnderlyingToken())
	if err != nil {
		return fmt.Errorf("balance before borrow: %w", err)
	}

	receipt, err := signer.SendOperation(ctx, txns)
	if err != nil {
		return fmt.Errorf("send borrow: %w", err)
	}
	p.logger.Info("Borrow sent, waiting for confirmation",
		zap.String("wallet", wallet.Hex()),
		zap.String("asset", asset.Symbol),
		zap.Stringer("amount", amount),
		zap.Stringer("balance_before", before),
		zap.String("tx", receipt.Hash))

	after, err := p.watcher.WaitFor(ctx, wallet, asset.UnderlyingToken(), p.cfg.BorrowTimeout, Increased(before))
	if err != nil {
		return fmt.Errorf("borrow %s %s: %w", amount, asset.Symbol, err)
	}
	p.logger.Info("Borrow confirmed",
		zap.String("wallet", wallet.Hex()),
		zap.Stringer("balance_after", after))
	return nil
}

func (p *FinancingPlanner) send(ctx context.Context, signer domain.Signer, asset domain.Asset, to common.Address, amount *big.Int, purpose string) (*domain.Transfer, error) {
	tx, err := p.txs.PrepareTransfer(asset.UnderlyingToken(), to, amount)
	if err != nil {
		return nil, err
	}
	receipt, err := signer.SendOperation(ctx, []domain.Tx{tx})
	if err != nil {
		return nil, err
	}
	p.logger.Info("Transfer sent",
		zap.String("wallet", signer.Address().Hex()),
		zap.String("purpose", purpose),
		zap.String("asset", asset.Symbol),
		zap.String("to", to.Hex()),
		zap.Stringer("amount", amount),
		zap.String("tx", receipt.Hash))
	return &domain.Transfer{
		Symbol:  asset.Symbol,
		To:      to.Hex(),
		Amount:  new(big.Int).Set(amount),
		TxHash:  receipt.Hash,
		Purpose: purpose,
	}, nil
}
