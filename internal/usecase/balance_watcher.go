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

const defaultPollInterval = 3 * time.Second

// BalanceCondition decides whether a polled balance shows the expected change.
type BalanceCondition func(current *big.Int) bool

// Increased matches balances strictly above before.
func Increased(before *big.Int) BalanceCondition {
	b := new(big.Int).Set(before)
	return func(current *big.Int) bool { return current.Cmp(b) > 0 }
}

// Decreased matches balances strictly below before.
func Decreased(before *big.Int) BalanceCondition {
	b := new(big.Int).Set(before)
	return func(current *big.Int) bool { return current.Cmp(b) < 0 }
}

// BalanceWatcher observes on-chain confirmation by polling a token balance.
type BalanceWatcher struct {
	reader   domain.TokenBalanceReader
	interval time.Duration
	logger   *zap.Logger
}

func NewBalanceWatcher(reader domain.TokenBalanceReader, interval time.Duration, logger *zap.Logger) *BalanceWatcher {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &BalanceWatcher{reader: reader, interval: interval, logger: logger}
}

// WaitFor polls the balance of token until cond matches or timeout elapses.
// The submitted operation itself cannot be aborted; only this wait expires,
// with ErrConfirmationTimeout. Cancellation of ctx is returned as is.
func (w *BalanceWatcher) WaitFor(ctx context.Context, owner common.Address, token domain.Token, timeout time.Duration, cond BalanceCondition) (*big.Int, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		current, err := w.reader.BalanceOf(waitCtx, owner, token)
		if err != nil {
			w.logger.Warn("Balance poll failed",
				zap.String("wallet", owner.Hex()),
				zap.String("token", token.Address.Hex()),
				zap.Error(err))
		} else if cond(current) {
			return current, nil
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: no balance change on %s for %s after %s",
				domain.ErrConfirmationTimeout, token.Address.Hex(), owner.Hex(), timeout)
		case <-ticker.C:
		}
	}
}
