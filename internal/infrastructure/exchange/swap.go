package exchange

import (
	"context"
	"fmt"
	"math/big"
	"net/url"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
	"github.com/vitos/credit_line/internal/domain"
)

// SwapAdapter prepares swaps and quotes prices through the aggregator API.
type SwapAdapter struct {
	client       *Client
	slippageBips uint64
}

func NewSwapAdapter(client *Client, slippageBips uint64) *SwapAdapter {
	return &SwapAdapter{client: client, slippageBips: slippageBips}
}

type wireTx struct {
	To    common.Address `json:"to"`
	Data  hexutil.Bytes  `json:"data"`
	Value *hexutil.Big   `json:"value,omitempty"`
}

func toWire(txns []domain.Tx) []wireTx {
	out := make([]wireTx, 0, len(txns))
	for _, tx := range txns {
		w := wireTx{To: tx.To, Data: tx.Data}
		if tx.Value != nil {
			w.Value = (*hexutil.Big)(tx.Value)
		}
		out = append(out, w)
	}
	return out
}

func fromWire(txns []wireTx) []domain.Tx {
	out := make([]domain.Tx, 0, len(txns))
	for _, w := range txns {
		tx := domain.Tx{To: w.To, Data: w.Data}
		if w.Value != nil {
			tx.Value = w.Value.ToInt()
		}
		out = append(out, tx)
	}
	return out
}

// PrepareSwap asks for the calls that swap amount (native units) of from into to.
func (s *SwapAdapter) PrepareSwap(ctx context.Context, wallet common.Address, amount *big.Int, from, to domain.Asset) ([]domain.Tx, error) {
	units := domain.NativeToToken(amount, from.Decimals)
	if units.Sign() <= 0 {
		return nil, fmt.Errorf("%w: swap amount %s below %s precision", domain.ErrInvalidParameter, amount, from.Symbol)
	}
	payload := map[string]interface{}{
		"wallet":       wallet.Hex(),
		"fromToken":    from.Underlying.Hex(),
		"toToken":      to.Underlying.Hex(),
		"amount":       units.String(),
		"slippageBips": s.slippageBips,
	}
	var result struct {
		Txns []wireTx `json:"txns"`
	}
	if err := s.client.sendRequest(ctx, "POST", "/v1/swap/prepare", payload, &result); err != nil {
		return nil, fmt.Errorf("prepare swap %s->%s: %w", from.Symbol, to.Symbol, err)
	}
	if len(result.Txns) == 0 {
		return nil, fmt.Errorf("prepare swap %s->%s: empty route", from.Symbol, to.Symbol)
	}
	return fromWire(result.Txns), nil
}

// PriceOf returns the USD price of symbol.
func (s *SwapAdapter) PriceOf(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var result struct {
		Symbol string          `json:"symbol"`
		Price  decimal.Decimal `json:"price"`
	}
	path := "/v1/prices?symbol=" + url.QueryEscape(symbol)
	if err := s.client.sendRequest(ctx, "GET", path, nil, &result); err != nil {
		return decimal.Zero, fmt.Errorf("price of %s: %w", symbol, err)
	}
	if !result.Price.IsPositive() {
		return decimal.Zero, fmt.Errorf("price of %s: non-positive quote %s", symbol, result.Price)
	}
	return result.Price, nil
}
