package usecase

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vitos/credit_line/internal/domain"
	"go.uber.org/zap"
)

// slippage buffer applied to every swap, in percent
const swapBufferPercent = 101

// StablecoinRebalancer swaps other stablecoins into a target asset until a
// required balance is covered. One greedy pass, no price optimisation.
type StablecoinRebalancer struct {
	balances    domain.TokenBalanceReader
	exchange    domain.Exchange
	prices      domain.PriceLookup
	watcher     *BalanceWatcher
	swapTimeout time.Duration
	logger      *zap.Logger
}

func NewStablecoinRebalancer(
	balances domain.TokenBalanceReader,
	exchange domain.Exchange,
	prices domain.PriceLookup,
	watcher *BalanceWatcher,
	swapTimeout time.Duration,
	logger *zap.Logger,
) *StablecoinRebalancer {
	return &StablecoinRebalancer{
		balances:    balances,
		exchange:    exchange,
		prices:      prices,
		watcher:     watcher,
		swapTimeout: swapTimeout,
		logger:      logger,
	}
}

// EnsureBalance tops up target to at least required and returns the resulting balance.
func (r *StablecoinRebalancer) EnsureBalance(ctx context.Context, signer domain.Signer, target domain.Asset, required *big.Int, candidates []domain.Asset) (*big.Int, error) {
	wallet := signer.Address()

	balance, err := r.balances.BalanceOf(ctx, wallet, target.UnderlyingToken())
	if err != nil {
		return nil, fmt.Errorf("balance of %s: %w", target.Symbol, err)
	}

	// $0.20, or less when the requirement itself is smaller
	dust := domain.MinBig(new(big.Int).Quo(domain.OneDollar(), big.NewInt(5)), required)

	for _, candidate := range candidates {
		if candidate.Symbol == target.Symbol {
			continue
		}
		remaining := new(big.Int).Sub(required, balance)
		if remaining.Sign() <= 0 {
			break
		}

		input, err := r.balances.BalanceOf(ctx, wallet, candidate.UnderlyingToken())
		if err != nil {
			return nil, fmt.Errorf("balance of %s: %w", candidate.Symbol, err)
		}
		if input.Cmp(dust) <= 0 {
			r.logger.Debug("Skipping dust balance",
				zap.String("wallet", wallet.Hex()),
				zap.String("asset", candidate.Symbol),
				zap.Stringer("balance", input),
				zap.Stringer("dust", dust))
			continue
		}

		wanted := new(big.Int).Mul(remaining, big.NewInt(swapBufferPercent))
		wanted.Quo(wanted, hundred)
		amount, err := r.inputAmount(ctx, wanted, target, candidate)
		if err != nil {
			return nil, err
		}
		if amount.Cmp(input) > 0 {
			amount = input
		}

		r.logger.Info("Swapping into target asset",
			zap.String("wallet", wallet.Hex()),
			zap.String("from", candidate.Symbol),
			zap.String("to", target.Symbol),
			zap.Stringer("amount", amount),
			zap.Stringer("remaining", remaining),
			zap.Stringer("required", required))

		txns, err := r.exchange.PrepareSwap(ctx, wallet, amount, candidate, target)
		if err != nil {
			return nil, fmt.Errorf("prepare swap %s->%s: %w", candidate.Symbol, target.Symbol, err)
		}
		receipt, err := signer.SendOperation(ctx, txns)
		if err != nil {
			return nil, fmt.Errorf("send swap %s->%s: %w", candidate.Symbol, target.Symbol, err)
		}

		balance, err = r.watcher.WaitFor(ctx, wallet, target.UnderlyingToken(), r.swapTimeout, Increased(balance))
		if err != nil {
			return nil, fmt.Errorf("swap %s->%s (%s): %w", candidate.Symbol, target.Symbol, receipt.Hash, err)
		}
	}

	return balance, nil
}

// inputAmount converts an amount of target into the same USD value of input.
func (r *StablecoinRebalancer) inputAmount(ctx context.Context, wanted *big.Int, target, input domain.Asset) (*big.Int, error) {
	if r.prices == nil {
		return wanted, nil
	}
	targetPrice, err := r.prices.PriceOf(ctx, target.Symbol)
	if err != nil {
		return nil, fmt.Errorf("price of %s: %w", target.Symbol, err)
	}
	inputPrice, err := r.prices.PriceOf(ctx, input.Symbol)
	if err != nil {
		return nil, fmt.Errorf("price of %s: %w", input.Symbol, err)
	}
	if !inputPrice.IsPositive() {
		return nil, fmt.Errorf("%w: non-positive price %s for %s", domain.ErrInvalidParameter, inputPrice, input.Symbol)
	}
	return decimal.NewFromBigInt(wanted, 0).Mul(targetPrice).Div(inputPrice).Truncate(0).BigInt(), nil
}
