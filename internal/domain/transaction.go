package domain

import (
	"math/big"
)

// TxStatus is the lifecycle state of a submitted transaction.
type TxStatus string

const (
	TxPending TxStatus = "pending"
	TxSuccess TxStatus = "success"
	TxFailed  TxStatus = "failed"
)

// TransactionResult reports the outcome of executing a mutating action.
// Values are returned by copy; once Status is success or failed nothing in
// the pipeline produces a new result for the same action.
type TransactionResult struct {
	ActionID    string    `json:"actionId"`
	Status      TxStatus  `json:"status"`
	TxID        string    `json:"txId,omitempty"`
	BlockNumber *uint64   `json:"blockNumber,omitempty"`
	Cost        *big.Int  `json:"cost,omitempty"`
	Error       string    `json:"error,omitempty"`
	ErrorKind   ErrorKind `json:"errorKind,omitempty"`
}

// Terminal reports whether the result can no longer change.
func (r TransactionResult) Terminal() bool {
	return r.Status == TxSuccess || r.Status == TxFailed
}

// FailedResult builds a terminal failure from err, keeping the ledger's
// own message so the user sees the real cause.
func FailedResult(actionID, txID string, err error) TransactionResult {
	return TransactionResult{
		ActionID:  actionID,
		Status:    TxFailed,
		TxID:      txID,
		Error:     err.Error(),
		ErrorKind: KindOf(err),
	}
}

// ReadResult is the decoded value of a read-only call. Found is false when
// the ledger holds no value (an unregistered name, an unset record), which
// is a valid answer rather than an error.
type ReadResult struct {
	ActionID string     `json:"actionId"`
	Returns  ReturnType `json:"returns"`
	Found    bool       `json:"found"`
	Address  string     `json:"address,omitempty"`
	Bool     bool       `json:"bool"`
	Amount   *big.Int   `json:"amount,omitempty"`
	Text     string     `json:"text,omitempty"`
}

// Value returns the decoded payload as a plain value.
func (r ReadResult) Value() any {
	switch r.Returns {
	case ReturnAddress:
		return r.Address
	case ReturnBool:
		return r.Bool
	case ReturnUint:
		if r.Amount == nil {
			return "0"
		}
		return r.Amount.String()
	case ReturnString:
		return r.Text
	default:
		return nil
	}
}
