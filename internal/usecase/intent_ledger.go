package usecase

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/vitos/credit_line/internal/domain"
	"go.uber.org/zap"
)

// IntentLedger records requested operations durably and marks them complete once.
type IntentLedger struct {
	repo   domain.IntentRepository
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func NewIntentLedger(repo domain.IntentRepository, logger *zap.Logger) *IntentLedger {
	return &IntentLedger{
		repo:    repo,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// Create persists a new incomplete intent. The record is durable when Create returns.
func (l *IntentLedger) Create(ctx context.Context, ownerKey string, kind domain.IntentKind, params any) (*domain.Intent, error) {
	if strings.TrimSpace(ownerKey) == "" {
		return nil, fmt.Errorf("%w: owner key required", domain.ErrInvalidParameter)
	}
	if kind.Workflow() == "" {
		return nil, fmt.Errorf("%w: unknown intent kind %q", domain.ErrInvalidParameter, kind)
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("%w: encode params: %v", domain.ErrInvalidParameter, err)
	}

	now := l.now()
	id, err := l.newID(now)
	if err != nil {
		return nil, err
	}
	intent := &domain.Intent{
		ID:        id,
		OwnerKey:  ownerKey,
		Kind:      kind,
		Params:    raw,
		CreatedAt: now,
	}
	if err := l.repo.CreateIntent(ctx, intent); err != nil {
		return nil, fmt.Errorf("create intent: %w", err)
	}
	l.logger.Info("Intent created",
		zap.String("intent", id),
		zap.String("kind", string(kind)),
		zap.String("owner", ownerKey))
	return intent, nil
}

// Complete marks the intent done. Completing a completed intent is a no-op.
func (l *IntentLedger) Complete(ctx context.Context, id string) error {
	changed, err := l.repo.CompleteIntent(ctx, id, l.now())
	if err != nil {
		return fmt.Errorf("complete intent %s: %w", id, err)
	}
	if !changed {
		l.logger.Debug("Intent already completed", zap.String("intent", id))
	}
	return nil
}

// Get returns the intent or ErrNotFound.
func (l *IntentLedger) Get(ctx context.Context, id string) (*domain.Intent, error) {
	intent, err := l.repo.GetIntent(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get intent %s: %w", id, err)
	}
	return intent, nil
}

// ListIncomplete returns intents created more than olderThan ago that never completed.
func (l *IntentLedger) ListIncomplete(ctx context.Context, olderThan time.Duration, limit int) ([]*domain.Intent, error) {
	return l.repo.ListIncompleteIntents(ctx, l.now().Add(-olderThan), limit)
}

func (l *IntentLedger) ListByOwner(ctx context.Context, ownerKey string, limit int) ([]*domain.Intent, error) {
	return l.repo.ListIntentsByOwner(ctx, ownerKey, limit)
}

func (l *IntentLedger) newID(at time.Time) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, err := ulid.New(ulid.Timestamp(at), l.entropy)
	if err != nil {
		return "", fmt.Errorf("generate intent id: %w", err)
	}
	return id.String(), nil
}

// DecodeParams unmarshals the stored parameters of intent into v.
func DecodeParams(intent *domain.Intent, v any) error {
	if len(intent.Params) == 0 {
		return nil
	}
	if err := json.Unmarshal(intent.Params, v); err != nil {
		return fmt.Errorf("%w: intent %s params: %v", domain.ErrInvalidParameter, intent.ID, err)
	}
	return nil
}
