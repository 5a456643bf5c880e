package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/credit_line/internal/domain"
	"go.uber.org/zap"
)

func TestLedgerCompleteIsIdempotent(t *testing.T) {
	repo := newMemRepo()
	ledger := NewIntentLedger(repo, zap.NewNop())
	ctx := context.Background()
	first := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ledger.now = func() time.Time { return first }

	in, err := ledger.Create(ctx, "owner-1", domain.IntentRepayment, domain.RepaymentParams{})
	require.NoError(t, err)
	require.NoError(t, ledger.Complete(ctx, in.ID))

	ledger.now = func() time.Time { return first.Add(time.Hour) }
	require.NoError(t, ledger.Complete(ctx, in.ID))

	got, err := ledger.Get(ctx, in.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.CompletedAt.Equal(first))
}

func TestLedgerListIncomplete(t *testing.T) {
	ledger := NewIntentLedger(newMemRepo(), zap.NewNop())
	ctx := context.Background()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ledger.now = func() time.Time { return start }

	stuck, err := ledger.Create(ctx, "o", domain.IntentRepayment, nil)
	require.NoError(t, err)
	done, err := ledger.Create(ctx, "o", domain.IntentRepayment, nil)
	require.NoError(t, err)
	require.NoError(t, ledger.Complete(ctx, done.ID))

	ledger.now = func() time.Time { return start.Add(7 * time.Hour) }
	list, err := ledger.ListIncomplete(ctx, 6*time.Hour, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, stuck.ID, list[0].ID)

	list, err = ledger.ListIncomplete(ctx, 8*time.Hour, 10)
	require.NoError(t, err)
	assert.Empty(t, list)
}
