package exchange

import (
	"context"
	"fmt"
	"net/url"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vitos/credit_line/internal/domain"
	"go.uber.org/zap"
)

// SignerRelay hands out session signers backed by the relay API. The relay
// holds the scoped session keys; this service never sees key material.
type SignerRelay struct {
	client *Client
	logger *zap.Logger
}

func NewSignerRelay(client *Client, logger *zap.Logger) *SignerRelay {
	return &SignerRelay{client: client, logger: logger}
}

type sessionInfo struct {
	Wallet    common.Address `json:"wallet"`
	Active    bool           `json:"active"`
	ExpiresAt int64          `json:"expiresAt"`
}

// SignerFor fails with ErrNotFound when the wallet has no active session.
func (r *SignerRelay) SignerFor(ctx context.Context, wallet common.Address) (domain.Signer, error) {
	var info sessionInfo
	if err := r.client.sendRequest(ctx, "GET", "/v1/sessions/"+url.PathEscape(wallet.Hex()), nil, &info); err != nil {
		return nil, fmt.Errorf("session for %s: %w", wallet.Hex(), err)
	}
	if !info.Active {
		return nil, fmt.Errorf("%w: no active session for %s", domain.ErrNotFound, wallet.Hex())
	}
	return &relaySigner{relay: r, wallet: wallet}, nil
}

type relaySigner struct {
	relay  *SignerRelay
	wallet common.Address
}

func (s *relaySigner) Address() common.Address {
	return s.wallet
}

func (s *relaySigner) SendOperation(ctx context.Context, txns []domain.Tx) (*domain.Receipt, error) {
	if len(txns) == 0 {
		return nil, fmt.Errorf("%w: empty operation", domain.ErrInvalidParameter)
	}
	payload := map[string]interface{}{
		"wallet": s.wallet.Hex(),
		"txns":   toWire(txns),
	}
	var result struct {
		Hash string `json:"hash"`
	}
	if err := s.relay.client.sendRequest(ctx, "POST", "/v1/operations", payload, &result); err != nil {
		return nil, fmt.Errorf("send operation for %s: %w", s.wallet.Hex(), err)
	}
	s.relay.logger.Debug("Operation relayed",
		zap.String("wallet", s.wallet.Hex()),
		zap.Int("txns", len(txns)),
		zap.String("hash", result.Hash))
	return &domain.Receipt{Hash: result.Hash}, nil
}
