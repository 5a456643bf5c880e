package domain

import (
	"context"
	"encoding/json"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// PositionOracle reports the lending position of an account.
type PositionOracle interface {
	GetPosition(ctx context.Context, account common.Address) (*Position, error)
}

// Tx is an unsigned call the signer executes on behalf of the wallet.
type Tx struct {
	To    common.Address `json:"to"`
	Data  []byte         `json:"data"`
	Value *big.Int       `json:"value,omitempty"`
}

// Receipt identifies a submitted operation.
type Receipt struct {
	Hash string `json:"hash"`
}

// Signer executes operations for a single smart wallet. Implementations may
// batch the transactions of one SendOperation call atomically.
type Signer interface {
	Address() common.Address
	SendOperation(ctx context.Context, txns []Tx) (*Receipt, error)
}

// SignerProvider returns the session signer authorised for a wallet.
type SignerProvider interface {
	SignerFor(ctx context.Context, wallet common.Address) (Signer, error)
}

// TokenBalanceReader returns token balances converted to native units.
type TokenBalanceReader interface {
	BalanceOf(ctx context.Context, owner common.Address, token Token) (*big.Int, error)
}

// Exchange prepares swaps between supported assets. Amount is native units of from.
type Exchange interface {
	PrepareSwap(ctx context.Context, wallet common.Address, amount *big.Int, from, to Asset) ([]Tx, error)
}

// PriceLookup returns the USD price of one unit of an asset.
type PriceLookup interface {
	PriceOf(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// TxBuilder encodes lending pool and token calls. Amounts are native units.
type TxBuilder interface {
	PrepareBorrow(asset Asset, amount *big.Int, onBehalfOf common.Address) ([]Tx, error)
	PrepareRepay(asset Asset, amount *big.Int, onBehalfOf common.Address) ([]Tx, error)
	PrepareTransfer(token Token, to common.Address, amount *big.Int) (Tx, error)
}

// Lock is a held distributed lock. Lost is closed when the lease could not be
// extended and another worker may now own the keys.
type Lock interface {
	Release(ctx context.Context) error
	Lost() <-chan struct{}
}

// Locker acquires all keys atomically or fails with ErrLockContention.
type Locker interface {
	Acquire(ctx context.Context, keys []string, ttl time.Duration) (Lock, error)
}

// RetryPolicy configures redelivery of a deferred callback.
type RetryPolicy struct {
	MaxRetries      int           `json:"max_retries"`
	InitialInterval time.Duration `json:"initial_interval"`
	MaxInterval     time.Duration `json:"max_interval"`
}

// CallbackRequest asks the scheduler to POST Payload to URL until it succeeds
// or the policy is exhausted.
type CallbackRequest struct {
	URL     string          `json:"url"`
	Payload json.RawMessage `json:"payload"`
	Policy  RetryPolicy     `json:"policy"`
}

// DeferredScheduler is an at-least-once callback executor.
type DeferredScheduler interface {
	Schedule(ctx context.Context, req CallbackRequest) error
}

// IntentRepository persists intents.
type IntentRepository interface {
	CreateIntent(ctx context.Context, intent *Intent) error
	GetIntent(ctx context.Context, id string) (*Intent, error)
	// CompleteIntent sets completed_at if unset and reports whether it changed.
	CompleteIntent(ctx context.Context, id string, at time.Time) (bool, error)
	ListIncompleteIntents(ctx context.Context, createdBefore time.Time, limit int) ([]*Intent, error)
	ListIntentsByOwner(ctx context.Context, ownerKey string, limit int) ([]*Intent, error)
}

// WalletRepository stores owner to wallet links.
type WalletRepository interface {
	SaveWallet(ctx context.Context, wallet *Wallet) error
	WalletsForOwner(ctx context.Context, ownerKey string) ([]*Wallet, error)
}

// ViewCache holds advisory read models (history, position) per wallet.
type ViewCache interface {
	GetView(ctx context.Context, address, view string) ([]byte, bool, error)
	PutView(ctx context.Context, address, view string, payload []byte, ttl time.Duration) error
	InvalidateViews(ctx context.Context, address string) error
}

// WalletEvent is published after an operation changed a wallet.
type WalletEvent struct {
	Type     string `json:"type"`
	Address  string `json:"address"`
	IntentID string `json:"intent_id"`
	Kind     string `json:"kind"`
}

// WalletEventPublisher fans wallet events out to subscribers.
type WalletEventPublisher interface {
	PublishWalletEvent(event WalletEvent)
}
