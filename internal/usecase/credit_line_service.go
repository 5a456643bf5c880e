package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/vitos/credit_line/internal/domain"
	"go.uber.org/zap"
)

const positionView = "position"

// CreditLineConfig holds request-time limits.
type CreditLineConfig struct {
	Fees FeeSchedule
	// MinSend is the smallest payout accepted, native units.
	MinSend *big.Int
	ViewTTL time.Duration
}

// CreditLineService is the entry point used by the HTTP layer. Requests are
// validated against live state synchronously and then executed asynchronously.
type CreditLineService struct {
	coordinator *Coordinator
	financing   *FinancingPlanner
	repayment   *RepaymentPlanner
	oracle      domain.PositionOracle
	wallets     domain.WalletRepository
	views       domain.ViewCache
	cfg         CreditLineConfig
	logger      *zap.Logger
	now         func() time.Time
}

func NewCreditLineService(
	coordinator *Coordinator,
	financing *FinancingPlanner,
	repayment *RepaymentPlanner,
	oracle domain.PositionOracle,
	wallets domain.WalletRepository,
	views domain.ViewCache,
	cfg CreditLineConfig,
	logger *zap.Logger,
) *CreditLineService {
	return &CreditLineService{
		coordinator: coordinator,
		financing:   financing,
		repayment:   repayment,
		oracle:      oracle,
		wallets:     wallets,
		views:       views,
		cfg:         cfg,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// RequestSpendingPower validates a payout and submits it. The target is a USD amount.
func (s *CreditLineService) RequestSpendingPower(ctx context.Context, ownerKey, destination string, target decimal.Decimal, provider string) (string, error) {
	if !common.IsHexAddress(destination) {
		return "", fmt.Errorf("%w: destination %q is not an address", domain.ErrInvalidParameter, destination)
	}
	target = target.Truncate(domain.PayoutDecimals)
	if !target.IsPositive() {
		return "", fmt.Errorf("%w: amount must be positive", domain.ErrInvalidParameter)
	}
	native := target.Shift(domain.NativeDecimals).Truncate(0).BigInt()
	if s.cfg.MinSend != nil && native.Cmp(s.cfg.MinSend) < 0 {
		return "", fmt.Errorf("%w: amount %s is below the minimum of %s USD",
			domain.ErrInvalidParameter, target.String(), decimal.NewFromBigInt(s.cfg.MinSend, nativeDisplayDecimals).String())
	}

	wallet, err := PrimaryWallet(ctx, s.wallets, ownerKey)
	if err != nil {
		return "", err
	}

	req := domain.FinancingRequest{
		DestinationAddress: destination,
		TargetAmount:       native,
		FeeRateBips:        s.cfg.Fees.RateFor(provider),
		FeeFloor:           s.cfg.Fees.Floor,
	}
	plan, err := s.financing.Plan(ctx, wallet, req)
	if err != nil {
		return "", err
	}
	s.logger.Info("Spending power accepted",
		zap.String("owner", ownerKey),
		zap.String("wallet", wallet.Hex()),
		zap.String("amount_usd", target.String()),
		zap.Stringer("borrow", plan.Borrow),
		zap.Stringer("fee", plan.Fee))

	intent, err := s.coordinator.Submit(ctx, domain.IntentSpendingPower, ownerKey, domain.SpendingPowerParams{
		DestinationAddress: common.HexToAddress(destination).Hex(),
		TargetAmountNative: native.String(),
		Provider:           strings.ToLower(strings.TrimSpace(provider)),
	})
	if err != nil {
		return "", err
	}
	return intent.ID, nil
}

// RequestRepayment submits a full repayment, or fails with ErrNoDebt.
func (s *CreditLineService) RequestRepayment(ctx context.Context, ownerKey string) (string, error) {
	wallet, err := PrimaryWallet(ctx, s.wallets, ownerKey)
	if err != nil {
		return "", err
	}
	if _, err := s.repayment.OutstandingDebt(ctx, wallet); err != nil {
		return "", err
	}
	intent, err := s.coordinator.Submit(ctx, domain.IntentRepayment, ownerKey, domain.RepaymentParams{})
	if err != nil {
		return "", err
	}
	return intent.ID, nil
}

// GetPositionSummary returns the display view of address. The result may be
// served from cache and is advisory only.
func (s *CreditLineService) GetPositionSummary(ctx context.Context, address string) (*domain.PositionSummary, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("%w: %q is not an address", domain.ErrInvalidParameter, address)
	}
	account := common.HexToAddress(address)
	key := strings.ToLower(account.Hex())

	if s.views != nil {
		if raw, ok, err := s.views.GetView(ctx, key, positionView); err != nil {
			s.logger.Warn("Position cache read failed", zap.String("wallet", key), zap.Error(err))
		} else if ok {
			var cached domain.PositionSummary
			if err := json.Unmarshal(raw, &cached); err == nil {
				return &cached, nil
			}
		}
	}

	pos, err := s.oracle.GetPosition(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("get position: %w", err)
	}
	summary := Summarize(account.Hex(), pos)

	if s.views != nil && s.cfg.ViewTTL > 0 {
		if raw, err := json.Marshal(summary); err == nil {
			if err := s.views.PutView(ctx, key, positionView, raw, s.cfg.ViewTTL); err != nil {
				s.logger.Warn("Position cache write failed", zap.String("wallet", key), zap.Error(err))
			}
		}
	}
	return summary, nil
}

// RegisterWallet links a smart wallet to an owner.
func (s *CreditLineService) RegisterWallet(ctx context.Context, ownerKey, address string) (*domain.Wallet, error) {
	if strings.TrimSpace(ownerKey) == "" {
		return nil, fmt.Errorf("%w: owner key required", domain.ErrInvalidParameter)
	}
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("%w: %q is not an address", domain.ErrInvalidParameter, address)
	}
	wallet := &domain.Wallet{
		OwnerKey:  ownerKey,
		Address:   strings.ToLower(common.HexToAddress(address).Hex()),
		CreatedAt: s.now(),
	}
	if err := s.wallets.SaveWallet(ctx, wallet); err != nil {
		return nil, fmt.Errorf("save wallet: %w", err)
	}
	return wallet, nil
}

// StuckIntents lists intents older than olderThan that never completed.
func (s *CreditLineService) StuckIntents(ctx context.Context, olderThan time.Duration, limit int) ([]*domain.Intent, error) {
	return s.coordinator.ledger.ListIncomplete(ctx, olderThan, limit)
}

// GetIntent returns the intent when it belongs to ownerKey. Intents of other
// owners are reported as not found.
func (s *CreditLineService) GetIntent(ctx context.Context, ownerKey, id string) (*domain.Intent, error) {
	intent, err := s.coordinator.ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if intent.OwnerKey != ownerKey {
		return nil, fmt.Errorf("%w: intent %s", domain.ErrNotFound, id)
	}
	return intent, nil
}

// ListIntents returns the most recent intents of the owner.
func (s *CreditLineService) ListIntents(ctx context.Context, ownerKey string, limit int) ([]*domain.Intent, error) {
	return s.coordinator.ledger.ListByOwner(ctx, ownerKey, limit)
}
