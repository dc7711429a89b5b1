package domain

import (
	"errors"
	"fmt"
)

// ErrorKind names an entry of the pipeline's error taxonomy. It is the
// machine-readable value rendered in a chat response's error field.
type ErrorKind string

const (
	KindNone                ErrorKind = ""
	KindUnparsableInput     ErrorKind = "UnparsableInput"
	KindAmbiguousReference  ErrorKind = "AmbiguousReference"
	KindUnsupportedIntent   ErrorKind = "UnsupportedIntent"
	KindInvalidAmount       ErrorKind = "InvalidAmount"
	KindInvalidName         ErrorKind = "InvalidName"
	KindInsufficientBalance ErrorKind = "InsufficientBalance"
	KindExpiredConfirmation ErrorKind = "ExpiredConfirmation"
	KindNetworkError        ErrorKind = "NetworkError"
	KindExecutionReverted   ErrorKind = "ExecutionReverted"
	KindSessionNotFound     ErrorKind = "SessionNotFound"
	KindInvariant           ErrorKind = "InvariantViolation"
	KindInternal            ErrorKind = "InternalError"
)

var (
	ErrUnparsableInput     = errors.New("unparsable input")
	ErrAmbiguousReference  = errors.New("ambiguous reference")
	ErrUnsupportedIntent   = errors.New("unsupported intent")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidName         = errors.New("invalid name")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrExpiredConfirmation = errors.New("expired confirmation")
	ErrNetwork             = errors.New("network error")
	ErrExecutionReverted   = errors.New("execution reverted")
	ErrSessionNotFound     = errors.New("session not found")

	// ErrInvariant marks a programming-contract violation. It is the only
	// error allowed to abort a chat request.
	ErrInvariant = errors.New("invariant violation")
)

// RevertError carries the ledger-provided revert reason, when one exists.
type RevertError struct {
	Reason string
}

func (e *RevertError) Error() string {
	if e.Reason == "" {
		return ErrExecutionReverted.Error()
	}
	return fmt.Sprintf("%s: %s", ErrExecutionReverted, e.Reason)
}

// Is lets errors.Is(err, ErrExecutionReverted) match a RevertError.
func (e *RevertError) Is(target error) bool {
	return target == ErrExecutionReverted
}

var kindTable = []struct {
	err  error
	kind ErrorKind
}{
	{ErrUnparsableInput, KindUnparsableInput},
	{ErrAmbiguousReference, KindAmbiguousReference},
	{ErrUnsupportedIntent, KindUnsupportedIntent},
	{ErrInvalidAmount, KindInvalidAmount},
	{ErrInvalidName, KindInvalidName},
	{ErrInsufficientBalance, KindInsufficientBalance},
	{ErrExpiredConfirmation, KindExpiredConfirmation},
	{ErrNetwork, KindNetworkError},
	{ErrExecutionReverted, KindExecutionReverted},
	{ErrSessionNotFound, KindSessionNotFound},
	{ErrInvariant, KindInvariant},
}

// KindOf maps an error, however deeply wrapped, to its taxonomy kind.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	for _, entry := range kindTable {
		if errors.Is(err, entry.err) {
			return entry.kind
		}
	}
	return KindInternal
}

// IsRetryable reports whether the error is worth one more attempt.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNetwork)
}
