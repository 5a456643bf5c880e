package usecase

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/vitos/credit_line/internal/domain"
	"go.uber.org/zap"
)

var (
	testWallet   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	testDest     = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	testTreasury = common.HexToAddress("0x56483010f4dd79e01b20cb4de22e9a0baa0baade")
)

func testAssets(t *testing.T) *domain.AssetSet {
	t.Helper()
	mk := func(sym string, n int64, dec uint8) domain.Asset {
		return domain.Asset{
			Symbol:     sym,
			Underlying: common.BigToAddress(big.NewInt(0x100 + n)),
			DebtToken:  common.BigToAddress(big.NewInt(0x200 + n)),
			Decimals:   dec,
		}
	}
	set, err := domain.NewAssetSet(
		[]domain.Asset{mk("USDC", 1, 6), mk("USDCn", 2, 6), mk("USDT", 3, 6), mk("DAI", 4, 18)},
		[]string{"USDC", "USDCn", "USDT", "DAI"},
		[]string{"USDC", "USDCn"},
		"USDCn",
	)
	require.NoError(t, err)
	return set
}

// fakeChain simulates token balances of one wallet and applies the operations
// produced by fakeTxBuilder and fakeExchange.
type fakeChain struct {
	mu        sync.Mutex
	balances  map[common.Address]*big.Int
	position  domain.Position
	prices    map[string]decimal.Decimal
	ops       [][]domain.Tx
	sent      map[common.Address]*big.Int
	sendErr   error
	noEffect  bool
	posErr    error
	opsHook   func()
	symbolsOf map[common.Address]string
}

func newFakeChain(assets *domain.AssetSet) *fakeChain {
	c := &fakeChain{
		balances:  map[common.Address]*big.Int{},
		prices:    map[string]decimal.Decimal{},
		sent:      map[common.Address]*big.Int{},
		symbolsOf: map[common.Address]string{},
		position: domain.Position{
			TotalCollateralBase:  new(big.Int),
			TotalDebtBase:        new(big.Int),
			AvailableBorrowsBase: new(big.Int),
		},
	}
	for _, a := range assets.Stables() {
		c.symbolsOf[a.Underlying] = a.Symbol
	}
	return c
}

func (c *fakeChain) set(token domain.Token, amount *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[token.Address] = new(big.Int).Set(amount)
}

func (c *fakeChain) balance(token domain.Token) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.get(token.Address)
}

func (c *fakeChain) get(addr common.Address) *big.Int {
	if b, ok := c.balances[addr]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

func (c *fakeChain) add(addr common.Address, delta *big.Int) {
	c.balances[addr] = new(big.Int).Add(c.get(addr), delta)
}

func (c *fakeChain) opCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ops)
}

func (c *fakeChain) sentTo(to common.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.sent[to]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

// PositionOracle

func (c *fakeChain) GetPosition(_ context.Context, _ common.Address) (*domain.Position, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.posErr != nil {
		return nil, c.posErr
	}
	p := c.position
	return &p, nil
}

// TokenBalanceReader

func (c *fakeChain) BalanceOf(_ context.Context, _ common.Address, token domain.Token) (*big.Int, error) {
	return c.balance(token), nil
}

// PriceLookup

func (c *fakeChain) PriceOf(_ context.Context, symbol string) (decimal.Decimal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.prices[symbol]; ok {
		return p, nil
	}
	return decimal.NewFromInt(1), nil
}

// Signer

func (c *fakeChain) Address() common.Address { return testWallet }

func (c *fakeChain) SendOperation(_ context.Context, txns []domain.Tx) (*domain.Receipt, error) {
	c.mu.Lock()
	if c.sendErr != nil {
		err := c.sendErr
		c.mu.Unlock()
		return nil, err
	}
	c.ops = append(c.ops, txns)
	n := len(c.ops)
	if !c.noEffect {
		for _, tx := range txns {
			c.apply(tx)
		}
	}
	hook := c.opsHook
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
	return &domain.Receipt{Hash: fmt.Sprintf("0x%04x", n)}, nil
}

// apply interprets the calldata written by fakeTxBuilder and fakeExchange.
func (c *fakeChain) apply(tx domain.Tx) {
	parts := strings.Split(string(tx.Data), ":")
	amount := func(s string) *big.Int {
		v, _ := new(big.Int).SetString(s, 10)
		return v
	}
	switch parts[0] {
	case "borrow":
		underlying, debt := common.HexToAddress(parts[1]), common.HexToAddress(parts[2])
		a := amount(parts[3])
		c.add(underlying, a)
		c.add(debt, a)
		c.position.TotalDebtBase = new(big.Int).Add(c.position.TotalDebtBase, new(big.Int).Quo(a, big.NewInt(1e10)))
	case "repay":
		underlying, debt := common.HexToAddress(parts[1]), common.HexToAddress(parts[2])
		a := amount(parts[3])
		c.add(underlying, new(big.Int).Neg(a))
		c.add(debt, new(big.Int).Neg(a))
	case "transfer":
		to := common.HexToAddress(parts[1])
		a := amount(parts[2])
		c.add(tx.To, new(big.Int).Neg(a))
		prev, ok := c.sent[to]
		if !ok {
			prev = new(big.Int)
		}
		c.sent[to] = new(big.Int).Add(prev, a)
	case "swap":
		from, to := common.HexToAddress(parts[1]), common.HexToAddress(parts[2])
		a := amount(parts[3])
		fromPrice, toPrice := c.priceLocked(from), c.priceLocked(to)
		out := decimal.NewFromBigInt(a, 0).Mul(fromPrice).Div(toPrice).Truncate(0).BigInt()
		c.add(from, new(big.Int).Neg(a))
		c.add(to, out)
	}
}

func (c *fakeChain) priceLocked(token common.Address) decimal.Decimal {
	if p, ok := c.prices[c.symbolsOf[token]]; ok {
		return p
	}
	return decimal.NewFromInt(1)
}

// fakeTxBuilder encodes operations as readable strings.
// fakeTxBuilder scales amounts to token precision the way the chain builder
// does, so sub-unit amounts fail here too.
type fakeTxBuilder struct{}

func tokenAligned(amount *big.Int, decimals uint8) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", domain.ErrInvalidParameter)
	}
	units := domain.NativeToToken(amount, decimals)
	if units.Sign() == 0 {
		return nil, fmt.Errorf("%w: amount %s below token precision", domain.ErrInvalidParameter, amount)
	}
	return domain.TokenToNative(units, decimals), nil
}

func (fakeTxBuilder) PrepareBorrow(asset domain.Asset, amount *big.Int, _ common.Address) ([]domain.Tx, error) {
	aligned, err := tokenAligned(amount, asset.Decimals)
	if err != nil {
		return nil, err
	}
	return []domain.Tx{{To: asset.Underlying, Data: []byte(fmt.Sprintf("borrow:%s:%s:%s", asset.Underlying.Hex(), asset.DebtToken.Hex(), aligned))}}, nil
}

func (fakeTxBuilder) PrepareRepay(asset domain.Asset, amount *big.Int, _ common.Address) ([]domain.Tx, error) {
	return []domain.Tx{
		{To: asset.Underlying, Data: []byte("approve")},
		{To: asset.Underlying, Data: []byte(fmt.Sprintf("repay:%s:%s:%s", asset.Underlying.Hex(), asset.DebtToken.Hex(), amount))},
	}, nil
}

func (fakeTxBuilder) PrepareTransfer(token domain.Token, to common.Address, amount *big.Int) (domain.Tx, error) {
	aligned, err := tokenAligned(amount, token.Decimals)
	if err != nil {
		return domain.Tx{}, err
	}
	return domain.Tx{To: token.Address, Data: []byte(fmt.Sprintf("transfer:%s:%s", to.Hex(), aligned))}, nil
}

type fakeExchange struct {
	swaps []*big.Int
}

func (e *fakeExchange) PrepareSwap(_ context.Context, _ common.Address, amount *big.Int, from, to domain.Asset) ([]domain.Tx, error) {
	e.swaps = append(e.swaps, new(big.Int).Set(amount))
	return []domain.Tx{{To: from.Underlying, Data: []byte(fmt.Sprintf("swap:%s:%s:%s", from.Underlying.Hex(), to.Underlying.Hex(), amount))}}, nil
}

func (c *fakeChain) SignerFor(_ context.Context, wallet common.Address) (domain.Signer, error) {
	if wallet != testWallet {
		return nil, fmt.Errorf("%w: no signer for %s", domain.ErrNotFound, wallet.Hex())
	}
	return c, nil
}

// memRepo is an in-memory intent and wallet store.
type memRepo struct {
	mu      sync.Mutex
	intents map[string]*domain.Intent
	wallets []*domain.Wallet
}

func newMemRepo() *memRepo {
	return &memRepo{intents: map[string]*domain.Intent{}}
}

func (r *memRepo) CreateIntent(_ context.Context, intent *domain.Intent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *intent
	r.intents[intent.ID] = &cp
	return nil
}

func (r *memRepo) GetIntent(_ context.Context, id string) (*domain.Intent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	in, ok := r.intents[id]
	if !ok {
		return nil, fmt.Errorf("%w: intent %s", domain.ErrNotFound, id)
	}
	cp := *in
	return &cp, nil
}

func (r *memRepo) CompleteIntent(_ context.Context, id string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	in, ok := r.intents[id]
	if !ok {
		return false, fmt.Errorf("%w: intent %s", domain.ErrNotFound, id)
	}
	if in.CompletedAt != nil {
		return false, nil
	}
	in.CompletedAt = &at
	return true, nil
}

func (r *memRepo) ListIncompleteIntents(_ context.Context, before time.Time, limit int) ([]*domain.Intent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Intent
	for _, in := range r.intents {
		if in.CompletedAt == nil && in.CreatedAt.Before(before) {
			cp := *in
			out = append(out, &cp)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) ListIntentsByOwner(_ context.Context, owner string, _ int) ([]*domain.Intent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Intent
	for _, in := range r.intents {
		if in.OwnerKey == owner {
			cp := *in
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memRepo) SaveWallet(_ context.Context, w *domain.Wallet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wallets = append(r.wallets, w)
	return nil
}

func (r *memRepo) WalletsForOwner(_ context.Context, owner string) ([]*domain.Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Wallet
	for _, w := range r.wallets {
		if w.OwnerKey == owner {
			out = append(out, w)
		}
	}
	return out, nil
}

// memLocker grants each key to one holder at a time.
type memLocker struct {
	mu   sync.Mutex
	held map[string]bool
	lost chan struct{}
}

func newMemLocker() *memLocker {
	return &memLocker{held: map[string]bool{}}
}

type memLock struct {
	l    *memLocker
	keys []string
	lost chan struct{}
}

func (l *memLocker) Acquire(_ context.Context, keys []string, _ time.Duration) (domain.Lock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, k := range keys {
		if l.held[k] {
			return nil, fmt.Errorf("%w: %s", domain.ErrLockContention, k)
		}
	}
	for _, k := range keys {
		l.held[k] = true
	}
	lost := l.lost
	if lost == nil {
		lost = make(chan struct{})
	}
	return &memLock{l: l, keys: keys, lost: lost}, nil
}

func (l *memLocker) isHeld(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[key]
}

func (m *memLock) Release(context.Context) error {
	m.l.mu.Lock()
	defer m.l.mu.Unlock()
	for _, k := range m.keys {
		delete(m.l.held, k)
	}
	return nil
}

func (m *memLock) Lost() <-chan struct{} { return m.lost }

type recordingScheduler struct {
	mu   sync.Mutex
	reqs []domain.CallbackRequest
	err  error
}

func (s *recordingScheduler) Schedule(_ context.Context, req domain.CallbackRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.reqs = append(s.reqs, req)
	return nil
}

type memViews struct {
	mu          sync.Mutex
	views       map[string][]byte
	invalidated []string
}

func newMemViews() *memViews { return &memViews{views: map[string][]byte{}} }

func (v *memViews) GetView(_ context.Context, address, view string) ([]byte, bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	raw, ok := v.views[address+"/"+view]
	return raw, ok, nil
}

func (v *memViews) PutView(_ context.Context, address, view string, payload []byte, _ time.Duration) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.views[address+"/"+view] = payload
	return nil
}

func (v *memViews) InvalidateViews(_ context.Context, address string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	for k := range v.views {
		if strings.HasPrefix(k, address+"/") {
			delete(v.views, k)
		}
	}
	v.invalidated = append(v.invalidated, address)
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.WalletEvent
}

func (p *recordingPublisher) PublishWalletEvent(e domain.WalletEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

var errBoom = errors.New("rpc unavailable")

// testEnv wires every component against the fakes.
type testEnv struct {
	assets      *domain.AssetSet
	chain       *fakeChain
	exchange    *fakeExchange
	repo        *memRepo
	locker      *memLocker
	scheduler   *recordingScheduler
	views       *memViews
	events      *recordingPublisher
	watcher     *BalanceWatcher
	rebalancer  *StablecoinRebalancer
	financing   *FinancingPlanner
	repayment   *RepaymentPlanner
	ledger      *IntentLedger
	coordinator *Coordinator
	service     *CreditLineService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	e := &testEnv{
		assets:    testAssets(t),
		exchange:  &fakeExchange{},
		repo:      newMemRepo(),
		locker:    newMemLocker(),
		scheduler: &recordingScheduler{},
		views:     newMemViews(),
		events:    &recordingPublisher{},
	}
	e.chain = newFakeChain(e.assets)
	e.watcher = NewBalanceWatcher(e.chain, time.Millisecond, logger)
	e.rebalancer = NewStablecoinRebalancer(e.chain, e.exchange, e.chain, e.watcher, 50*time.Millisecond, logger)
	e.financing = NewFinancingPlanner(e.assets, e.chain, e.chain, fakeTxBuilder{}, e.watcher, FinancingConfig{
		MaxUtilizationPercent: 97,
		BorrowTimeout:         50 * time.Millisecond,
		Treasury:              testTreasury,
	}, logger)
	e.repayment = NewRepaymentPlanner(e.assets, e.chain, e.chain, fakeTxBuilder{}, e.rebalancer, e.watcher, 50*time.Millisecond, logger)
	e.ledger = NewIntentLedger(e.repo, logger)
	fees := FeeSchedule{
		DefaultBips: 400,
		ByProvider:  map[string]uint64{"referral": 0},
		Floor:       cents(50),
	}
	e.coordinator = NewCoordinator(e.ledger, e.repo, e.chain, e.locker, e.scheduler, e.financing, e.repayment,
		e.views, e.events, nil, CoordinatorConfig{
			BaseURI: "https://credit.example.com/",
			Secret:  "s3cret",
			Policy:  domain.RetryPolicy{MaxRetries: 3, InitialInterval: 30 * time.Second, MaxInterval: time.Minute},
			LockTTL: time.Minute,
			Fees:    fees,
		}, logger)
	e.service = NewCreditLineService(e.coordinator, e.financing, e.repayment, e.chain, e.repo, e.views, CreditLineConfig{
		Fees:    fees,
		MinSend: usd(1),
		ViewTTL: time.Minute,
	}, logger)
	require.NoError(t, e.repo.SaveWallet(context.Background(), &domain.Wallet{
		OwnerKey: "owner-1",
		Address:  strings.ToLower(testWallet.Hex()),
	}))
	return e
}

func (e *testEnv) asset(sym string) domain.Asset {
	a, _ := e.assets.Get(sym)
	return a
}

// withPosition sets collateral, debt and LTV in dollars; available borrows
// follow the LTV ceiling.
func (e *testEnv) withPosition(collateral, debt int64, ltvBips uint64) {
	e.chain.mu.Lock()
	defer e.chain.mu.Unlock()
	avail := collateral*int64(ltvBips)/10000 - debt
	if avail < 0 {
		avail = 0
	}
	e.chain.position = domain.Position{
		TotalCollateralBase:      usdBase(collateral),
		TotalDebtBase:            usdBase(debt),
		AvailableBorrowsBase:     usdBase(avail),
		LTVBips:                  ltvBips,
		LiquidationThresholdBips: ltvBips + 500,
	}
}

// usdBase returns dollars in oracle base units.
func usdBase(dollars int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(dollars), big.NewInt(100_000_000))
}

// usd returns dollars in native units.
func usd(dollars int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(dollars), domain.OneDollar())
}

// cents returns cents in native units.
func cents(c int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(c), new(big.Int).Quo(domain.OneDollar(), big.NewInt(100)))
}
