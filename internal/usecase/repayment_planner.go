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

// RepaymentPlanner clears debt asset by asset.
//
// Debt assets are processed in the configured order, oldest facility first,
// so legacy positions are retired before newer ones. The protocol does not
// require this ordering.
type RepaymentPlanner struct {
	assets       *domain.AssetSet
	oracle       domain.PositionOracle
	balances     domain.TokenBalanceReader
	txs          domain.TxBuilder
	rebalancer   *StablecoinRebalancer
	watcher      *BalanceWatcher
	repayTimeout time.Duration
	logger       *zap.Logger
}

func NewRepaymentPlanner(
	assets *domain.AssetSet,
	oracle domain.PositionOracle,
	balances domain.TokenBalanceReader,
	txs domain.TxBuilder,
	rebalancer *StablecoinRebalancer,
	watcher *BalanceWatcher,
	repayTimeout time.Duration,
	logger *zap.Logger,
) *RepaymentPlanner {
	return &RepaymentPlanner{
		assets:       assets,
		oracle:       oracle,
		balances:     balances,
		txs:          txs,
		rebalancer:   rebalancer,
		watcher:      watcher,
		repayTimeout: repayTimeout,
		logger:       logger,
	}
}

// OutstandingDebt returns the total debt of wallet in base units, or ErrNoDebt.
func (p *RepaymentPlanner) OutstandingDebt(ctx context.Context, wallet common.Address) (*big.Int, error) {
	pos, err := p.oracle.GetPosition(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("get position: %w", err)
	}
	if pos.TotalDebtBase == nil || pos.TotalDebtBase.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %s is fully repaid", domain.ErrNoDebt, wallet.Hex())
	}
	return pos.TotalDebtBase, nil
}

// Execute repays as much debt as the wallet's stablecoins can cover.
func (p *RepaymentPlanner) Execute(ctx context.Context, signer domain.Signer) (*domain.RepaymentResult, error) {
	wallet := signer.Address()

	total, err := p.OutstandingDebt(ctx, wallet)
	if err != nil {
		return nil, err
	}
	p.logger.Info("Repaying line",
		zap.String("wallet", wallet.Hex()),
		zap.String("debt_usd", ToDisplay(total, true).StringFixed(2)))

	result := &domain.RepaymentResult{}
	for _, asset := range p.assets.DebtAssets() {
		repayment, err := p.repayAsset(ctx, signer, asset)
		if err != nil {
			return nil, err
		}
		if repayment != nil {
			result.Repayments = append(result.Repayments, *repayment)
		}
	}
	return result, nil
}

func (p *RepaymentPlanner) repayAsset(ctx context.Context, signer domain.Signer, asset domain.Asset) (*domain.Repayment, error) {
	wallet := signer.Address()

	debt, err := p.balances.BalanceOf(ctx, wallet, asset.DebtTokenRef())
	if err != nil {
		return nil, fmt.Errorf("debt of %s: %w", asset.Symbol, err)
	}
	if debt.Sign() <= 0 {
		p.logger.Debug("No debt for asset", zap.String("wallet", wallet.Hex()), zap.String("asset", asset.Symbol))
		return nil, nil
	}

	balance, err := p.balances.BalanceOf(ctx, wallet, asset.UnderlyingToken())
	if err != nil {
		return nil, fmt.Errorf("balance of %s: %w", asset.Symbol, err)
	}
	if balance.Cmp(debt) < 0 {
		p.logger.Info("Topping up before repay",
			zap.String("wallet", wallet.Hex()),
			zap.String("asset", asset.Symbol),
			zap.Stringer("debt", debt),
			zap.Stringer("balance", balance))
		balance, err = p.rebalancer.EnsureBalance(ctx, signer, asset, debt, p.assets.Stables())
		if err != nil {
			return nil, fmt.Errorf("top up %s: %w", asset.Symbol, err)
		}
	}
	if balance.Sign() <= 0 {
		p.logger.Warn("Nothing available to repay asset",
			zap.String("wallet", wallet.Hex()),
			zap.String("asset", asset.Symbol),
			zap.Stringer("debt", debt))
		return nil, nil
	}

	amount := domain.MinBig(balance, debt)
	txns, err := p.txs.PrepareRepay(asset, amount, wallet)
	if err != nil {
		return nil, fmt.Errorf("prepare repay %s: %w", asset.Symbol, err)
	}
	receipt, err := signer.SendOperation(ctx, txns)
	if err != nil {
		return nil, fmt.Errorf("send repay %s: %w", asset.Symbol, err)
	}
	p.logger.Info("Repay sent, waiting for confirmation",
		zap.String("wallet", wallet.Hex()),
		zap.String("asset", asset.Symbol),
		zap.Stringer("amount", amount),
		zap.Stringer("debt", debt),
		zap.String("tx", receipt.Hash))

	if _, err := p.watcher.WaitFor(ctx, wallet, asset.DebtTokenRef(), p.repayTimeout, Decreased(debt)); err != nil {
		return nil, fmt.Errorf("repay %s: %w", asset.Symbol, err)
	}

	return &domain.Repayment{
		Symbol: asset.Symbol,
		Debt:   new(big.Int).Set(debt),
		Repaid: amount,
		TxHash: receipt.Hash,
	}, nil
}
