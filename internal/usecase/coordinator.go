package usecase

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/vitos/credit_line/internal/domain"
	"go.uber.org/zap"
)

// Outcome is the result of a successful callback.
type Outcome int

const (
	// OutcomeCompleted means the operation ran and the intent is now complete.
	OutcomeCompleted Outcome = iota
	// OutcomeAlreadyDone means an earlier delivery completed the intent.
	OutcomeAlreadyDone
	// OutcomeNothingToDo means the precondition vanished, the intent was completed without side effects.
	OutcomeNothingToDo
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeAlreadyDone:
		return "already_done"
	case OutcomeNothingToDo:
		return "nothing_to_do"
	}
	return "unknown"
}

const (
	defaultLockTTL        = 600 * time.Second
	lockReleaseTimeout    = 10 * time.Second
	WalletUpdatedEvent    = "wallet_updated"
	callbackPathPrefix    = "/api/workflows/"
	nativeDisplayDecimals = -domain.NativeDecimals
)

// CoordinatorMetrics is satisfied by *metrics.CreditMetrics.
type CoordinatorMetrics interface {
	ObserveIntentSubmitted(kind string)
	ObserveCallback(kind, result string, elapsed time.Duration)
	IncLockContention()
	AddFeeCollected(usd float64)
}

type nopMetrics struct{}

func (nopMetrics) ObserveIntentSubmitted(string) {}
func (nopMetrics) ObserveCallback(string, string, time.Duration) {}
func (nopMetrics) IncLockContention() {}
func (nopMetrics) AddFeeCollected(float64) {}

// FeeSchedule is the rake charged on borrowed funds.
type FeeSchedule struct {
	DefaultBips uint64
	ByProvider  map[string]uint64
	// Floor is the smallest fee worth collecting, native units.
	Floor *big.Int
}

// RateFor returns the rake for provider, falling back to the default.
func (f FeeSchedule) RateFor(provider string) uint64 {
	if bips, ok := f.ByProvider[strings.ToLower(strings.TrimSpace(provider))]; ok {
		return bips
	}
	return f.DefaultBips
}

// CoordinatorConfig wires callbacks back into this service.
type CoordinatorConfig struct {
	BaseURI string
	Secret  string
	Policy  domain.RetryPolicy
	LockTTL time.Duration
	Fees    FeeSchedule
}

// CallbackPayload is the body the scheduler posts back. Intent params are
// flattened next to these fields.
type CallbackPayload struct {
	IntentID string `json:"intentId"`
	Secret   string `json:"secret"`
}

// Coordinator turns intents into locked, idempotent executions driven by an
// at-least-once scheduler.
type Coordinator struct {
	ledger    *IntentLedger
	wallets   domain.WalletRepository
	signers   domain.SignerProvider
	locker    domain.Locker
	scheduler domain.DeferredScheduler
	financing *FinancingPlanner
	repayment *RepaymentPlanner
	views     domain.ViewCache
	events    domain.WalletEventPublisher
	metrics   CoordinatorMetrics
	cfg       CoordinatorConfig
	logger    *zap.Logger
}

func NewCoordinator(
	ledger *IntentLedger,
	wallets domain.WalletRepository,
	signers domain.SignerProvider,
	locker domain.Locker,
	scheduler domain.DeferredScheduler,
	financing *FinancingPlanner,
	repayment *RepaymentPlanner,
	views domain.ViewCache,
	events domain.WalletEventPublisher,
	metrics CoordinatorMetrics,
	cfg CoordinatorConfig,
	logger *zap.Logger,
) *Coordinator {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Coordinator{
		ledger:    ledger,
		wallets:   wallets,
		signers:   signers,
		locker:    locker,
		scheduler: scheduler,
		financing: financing,
		repayment: repayment,
		views:     views,
		events:    events,
		metrics:   metrics,
		cfg:       cfg,
		logger:    logger,
	}
}

// CallbackURL is where the scheduler delivers intents of kind.
func (c *Coordinator) CallbackURL(kind domain.IntentKind) string {
	return CallbackURL(c.cfg.BaseURI, kind)
}

// CallbackURL joins the public base URI and the workflow route of kind.
func CallbackURL(baseURI string, kind domain.IntentKind) string {
	return strings.TrimRight(baseURI, "/") + callbackPathPrefix + kind.Workflow()
}

// VerifySecret checks the shared callback secret in constant time.
func (c *Coordinator) VerifySecret(secret string) bool {
	if c.cfg.Secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(c.cfg.Secret)) == 1
}

// Submit records the intent and schedules its execution. It does not wait for it.
func (c *Coordinator) Submit(ctx context.Context, kind domain.IntentKind, ownerKey string, params any) (*domain.Intent, error) {
	intent, err := c.ledger.Create(ctx, ownerKey, kind, params)
	if err != nil {
		return nil, err
	}
	if err := c.schedule(ctx, intent); err != nil {
		// The intent stays incomplete and shows up in the stuck listing.
		return nil, err
	}
	c.metrics.ObserveIntentSubmitted(string(kind))
	return intent, nil
}

func (c *Coordinator) schedule(ctx context.Context, intent *domain.Intent) error {
	payload, err := CallbackBody(intent, c.cfg.Secret)
	if err != nil {
		return err
	}
	req := domain.CallbackRequest{
		URL:     c.CallbackURL(intent.Kind),
		Payload: payload,
		Policy:  c.cfg.Policy,
	}
	if err := c.scheduler.Schedule(ctx, req); err != nil {
		return fmt.Errorf("schedule intent %s: %w", intent.ID, err)
	}
	c.logger.Info("Intent scheduled",
		zap.String("intent", intent.ID),
		zap.String("url", req.URL),
		zap.Int("max_retries", c.cfg.Policy.MaxRetries))
	return nil
}

// CallbackBody is the delivery payload: the intent params plus intentId and secret.
func CallbackBody(intent *domain.Intent, secret string) (json.RawMessage, error) {
	body := map[string]any{}
	if len(intent.Params) > 0 {
		if err := json.Unmarshal(intent.Params, &body); err != nil {
			return nil, fmt.Errorf("%w: intent %s params: %v", domain.ErrInvalidParameter, intent.ID, err)
		}
	}
	if body == nil {
		body = map[string]any{}
	}
	body["intentId"] = intent.ID
	body["secret"] = secret
	return json.Marshal(body)
}

// RunCallback executes the intent once. Completed intents return
// OutcomeAlreadyDone without touching the chain.
func (c *Coordinator) RunCallback(ctx context.Context, intentID string) (Outcome, error) {
	start := time.Now()
	intent, err := c.ledger.Get(ctx, intentID)
	if err != nil {
		return 0, err
	}

	outcome, err := c.run(ctx, intent)
	result := outcome.String()
	if err != nil {
		result = "failed"
		if errors.Is(err, domain.ErrLockContention) {
			result = "lock_contention"
		}
	}
	c.metrics.ObserveCallback(string(intent.Kind), result, time.Since(start))
	return outcome, err
}

func (c *Coordinator) run(ctx context.Context, intent *domain.Intent) (Outcome, error) {
	if intent.Completed() {
		c.logger.Info("Intent already completed, skipping",
			zap.String("intent", intent.ID),
			zap.Time("completed_at", *intent.CompletedAt))
		return OutcomeAlreadyDone, nil
	}

	wallet, err := PrimaryWallet(ctx, c.wallets, intent.OwnerKey)
	if err != nil {
		return 0, err
	}

	keys := []string{"wallet:" + strings.ToLower(wallet.Hex()), "intent:" + intent.ID}
	lock, err := c.locker.Acquire(ctx, keys, c.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockContention) {
			c.metrics.IncLockContention()
		}
		return 0, fmt.Errorf("lock %s: %w", wallet.Hex(), err)
	}
	defer c.release(ctx, lock, intent.ID)

	bodyCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-lock.Lost():
			c.logger.Error("Wallet lock lost, aborting", zap.String("intent", intent.ID), zap.String("wallet", wallet.Hex()))
			cancel()
		case <-bodyCtx.Done():
		}
	}()

	// A delivery that raced us may have finished while we waited for the lock.
	fresh, err := c.ledger.Get(bodyCtx, intent.ID)
	if err != nil {
		return 0, err
	}
	if fresh.Completed() {
		return OutcomeAlreadyDone, nil
	}

	signer, err := c.signers.SignerFor(bodyCtx, wallet)
	if err != nil {
		return 0, fmt.Errorf("signer for %s: %w", wallet.Hex(), err)
	}

	outcome, err := c.execute(bodyCtx, signer, intent)
	if err != nil {
		select {
		case <-lock.Lost():
			return 0, fmt.Errorf("%w: lock lost during %s: %v", domain.ErrLockContention, intent.ID, err)
		default:
		}
		c.logger.Error("Intent execution failed",
			zap.String("intent", intent.ID),
			zap.String("kind", string(intent.Kind)),
			zap.String("wallet", wallet.Hex()),
			zap.Bool("retryable", domain.IsRetryable(err)),
			zap.Error(err))
		return 0, err
	}

	if err := c.ledger.Complete(ctx, intent.ID); err != nil {
		return 0, err
	}
	c.logger.Info("Intent completed",
		zap.String("intent", intent.ID),
		zap.String("kind", string(intent.Kind)),
		zap.String("outcome", outcome.String()))

	c.afterCompletion(ctx, intent)
	return outcome, nil
}

// execute dispatches on the closed set of intent kinds.
func (c *Coordinator) execute(ctx context.Context, signer domain.Signer, intent *domain.Intent) (Outcome, error) {
	switch intent.Kind {
	case domain.IntentSpendingPower:
		return c.runSpendingPower(ctx, signer, intent)
	case domain.IntentRepayment:
		return c.runRepayment(ctx, signer, intent)
	}
	return 0, fmt.Errorf("%w: unsupported intent kind %q", domain.ErrInvalidParameter, intent.Kind)
}

func (c *Coordinator) runSpendingPower(ctx context.Context, signer domain.Signer, intent *domain.Intent) (Outcome, error) {
	var params domain.SpendingPowerParams
	if err := DecodeParams(intent, &params); err != nil {
		return 0, err
	}
	target, ok := new(big.Int).SetString(params.TargetAmountNative, 10)
	if !ok {
		return 0, fmt.Errorf("%w: intent %s target %q", domain.ErrInvalidParameter, intent.ID, params.TargetAmountNative)
	}
	req := domain.FinancingRequest{
		DestinationAddress: params.DestinationAddress,
		TargetAmount:       target,
		FeeRateBips:        c.cfg.Fees.RateFor(params.Provider),
		FeeFloor:           c.cfg.Fees.Floor,
	}
	result, err := c.financing.Execute(ctx, signer, req)
	if err != nil {
		return 0, err
	}
	if result.Fee.Sign() > 0 {
		c.metrics.AddFeeCollected(decimal.NewFromBigInt(result.Fee, nativeDisplayDecimals).InexactFloat64())
	}
	return OutcomeCompleted, nil
}

func (c *Coordinator) runRepayment(ctx context.Context, signer domain.Signer, intent *domain.Intent) (Outcome, error) {
	var params domain.RepaymentParams
	if err := DecodeParams(intent, &params); err != nil {
		return 0, err
	}
	result, err := c.repayment.Execute(ctx, signer)
	if errors.Is(err, domain.ErrNoDebt) {
		c.logger.Info("Debt already cleared, nothing to repay", zap.String("intent", intent.ID))
		return OutcomeNothingToDo, nil
	}
	if err != nil {
		return 0, err
	}
	c.logger.Info("Repayment finished",
		zap.String("intent", intent.ID),
		zap.Int("assets_repaid", len(result.Repayments)))
	return OutcomeCompleted, nil
}

func (c *Coordinator) release(ctx context.Context, lock domain.Lock, intentID string) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lockReleaseTimeout)
	defer cancel()
	if err := lock.Release(releaseCtx); err != nil {
		// The lease expires on its own.
		c.logger.Warn("Failed to release wallet lock", zap.String("intent", intentID), zap.Error(err))
	}
}

// afterCompletion drops cached views of every wallet of the owner and notifies
// subscribers. Failures are logged; the intent is already complete.
func (c *Coordinator) afterCompletion(ctx context.Context, intent *domain.Intent) {
	wallets, err := c.wallets.WalletsForOwner(ctx, intent.OwnerKey)
	if err != nil {
		c.logger.Warn("Failed to list owner wallets for invalidation", zap.String("owner", intent.OwnerKey), zap.Error(err))
		return
	}
	for _, w := range wallets {
		if c.views != nil {
			if err := c.views.InvalidateViews(ctx, w.Address); err != nil {
				c.logger.Warn("Failed to invalidate views", zap.String("wallet", w.Address), zap.Error(err))
			}
		}
		if c.events != nil {
			c.events.PublishWalletEvent(domain.WalletEvent{
				Type:     WalletUpdatedEvent,
				Address:  w.Address,
				IntentID: intent.ID,
				Kind:     string(intent.Kind),
			})
		}
	}
}

// PrimaryWallet returns the first registered wallet of the owner.
func PrimaryWallet(ctx context.Context, wallets domain.WalletRepository, ownerKey string) (common.Address, error) {
	list, err := wallets.WalletsForOwner(ctx, ownerKey)
	if err != nil {
		return common.Address{}, fmt.Errorf("wallets for %s: %w", ownerKey, err)
	}
	if len(list) == 0 {
		return common.Address{}, fmt.Errorf("%w: no wallet for owner %s", domain.ErrNotFound, ownerKey)
	}
	return common.HexToAddress(list[0].Address), nil
}
