// Package ledger talks to the ledger: a Provider abstracts the node or
// gateway, and the Interactor runs read calls and confirmed transactions
// against it.
package ledger

import (
	"context"
	"math/big"
)

// Tx is one state-changing call.
type Tx struct {
	From     string   `json:"from"`
	To       string   `json:"to"`
	Function string   `json:"function"`
	Args     []string `json:"args"`
	Value    *big.Int `json:"value,omitempty"`
}

// Receipt reports a mined transaction.
type Receipt struct {
	TxID        string   `json:"txId"`
	BlockNumber uint64   `json:"blockNumber"`
	Success     bool     `json:"success"`
	Cost        *big.Int `json:"cost,omitempty"`
	// RevertReason is set by the ledger when Success is false, if known.
	RevertReason string `json:"revertReason,omitempty"`
}

// Provider is the ledger collaborator. Implementations wrap transport
// failures in domain.ErrNetwork, reverts in *domain.RevertError and
// rejected-for-funds submissions in domain.ErrInsufficientBalance.
type Provider interface {
	// Call runs a read-only function and returns its ABI-encoded result.
	Call(ctx context.Context, contract, function string, args []string) ([]byte, error)
	// EstimateCost returns the fee the ledger expects for tx, excluding value.
	EstimateCost(ctx context.Context, tx Tx) (*big.Int, error)
	// SendTransaction submits tx and returns its identifier.
	SendTransaction(ctx context.Context, tx Tx) (string, error)
	// GetTransactionReceipt returns nil, nil while tx is not yet included.
	GetTransactionReceipt(ctx context.Context, txID string) (*Receipt, error)
	// Balance returns the native balance of address.
	Balance(ctx context.Context, address string) (*big.Int, error)
}
