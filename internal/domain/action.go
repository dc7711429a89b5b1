package domain

import (
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// ReturnType tells the interactor how to decode a read call's return data.
type ReturnType string

const (
	ReturnNone    ReturnType = ""
	ReturnAddress ReturnType = "address"
	ReturnBool    ReturnType = "bool"
	ReturnUint    ReturnType = "uint256"
	ReturnString  ReturnType = "string"
)

// SmartContractAction is one fully resolved ledger call.
type SmartContractAction struct {
	ID       string     `json:"id"`
	Kind     IntentKind `json:"kind"`
	Target   string     `json:"target"`
	Function string     `json:"function"`
	Args     []string   `json:"args"`
	Value    *big.Int   `json:"value,omitempty"`
	Mutating bool       `json:"mutating"`
	Returns  ReturnType `json:"returns,omitempty"`
	// Description is shown to the user in confirmation prompts.
	Description string `json:"description"`
	// From is the account the action is submitted for, if known.
	From string `json:"from,omitempty"`
	// Subject is the name or address the action is about.
	Subject string `json:"subject,omitempty"`
}

// NewActionID returns a fresh action identifier.
func NewActionID() string {
	return uuid.NewString()
}

// Validate checks the structural invariants every built action must hold.
// A failure here is a programming error, not a user error.
func (a *SmartContractAction) Validate() error {
	if a == nil {
		return fmt.Errorf("%w: nil action", ErrInvariant)
	}
	if a.ID == "" || a.Target == "" || a.Function == "" {
		return fmt.Errorf("%w: action missing id, target or function", ErrInvariant)
	}
	if a.Mutating != a.Kind.Mutating() {
		return fmt.Errorf("%w: mutating flag %t does not match kind %s", ErrInvariant, a.Mutating, a.Kind)
	}
	if a.Value != nil && a.Value.Sign() < 0 {
		return fmt.Errorf("%w: negative value", ErrInvariant)
	}
	return nil
}

// ValueOrZero never returns nil.
func (a *SmartContractAction) ValueOrZero() *big.Int {
	if a.Value == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(a.Value)
}

// Clone returns a deep copy safe to hand to another owner.
func (a SmartContractAction) Clone() SmartContractAction {
	out := a
	out.Args = append([]string(nil), a.Args...)
	if a.Value != nil {
		out.Value = new(big.Int).Set(a.Value)
	}
	return out
}

// PendingAction is a mutating action parked until the user confirms it.
type PendingAction struct {
	Action    SmartContractAction `json:"action"`
	CreatedAt time.Time           `json:"created_at"`
	ExpiresAt time.Time           `json:"expires_at"`
}

// Expired reports whether the confirmation deadline has passed at now.
func (p *PendingAction) Expired(now time.Time) bool {
	return p != nil && now.After(p.ExpiresAt)
}
