package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// IntentKind enumerates the operations the coordinator knows how to run.
type IntentKind string

const (
	IntentSpendingPower IntentKind = "spending_power"
	IntentRepayment     IntentKind = "repayment"
)

// Intent is the durable record of a requested financial operation.
type Intent struct {
	ID          string          `json:"id"`
	OwnerKey    string          `json:"owner_key"`
	Kind        IntentKind      `json:"kind"`
	Params      json.RawMessage `json:"params"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// Completed reports whether the intent reached its terminal state.
func (i *Intent) Completed() bool {
	return i.CompletedAt != nil
}

// Workflow returns the callback path segment for the kind.
func (k IntentKind) Workflow() string {
	switch k {
	case IntentSpendingPower:
		return "add-spending-power"
	case IntentRepayment:
		return "repay-line"
	}
	return ""
}

// ParseIntentKind maps a stored or routed name back to a kind.
func ParseIntentKind(s string) (IntentKind, error) {
	switch s {
	case string(IntentSpendingPower), IntentSpendingPower.Workflow():
		return IntentSpendingPower, nil
	case string(IntentRepayment), IntentRepayment.Workflow():
		return IntentRepayment, nil
	}
	return "", fmt.Errorf("%w: unknown intent kind %q", ErrInvalidParameter, s)
}

// SpendingPowerParams are the stored parameters of an IntentSpendingPower.
type SpendingPowerParams struct {
	DestinationAddress string `json:"destination_address"`
	TargetAmountNative string `json:"target_amount_native"`
	Provider           string `json:"provider,omitempty"`
}

// RepaymentParams are the stored parameters of an IntentRepayment.
type RepaymentParams struct{}

// Wallet links an owner to one of their smart wallets.
type Wallet struct {
	OwnerKey  string    `json:"owner_key"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
}
