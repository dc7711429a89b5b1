// Package responder phrases pipeline outcomes as chat text.
//
// Every outcome has a deterministic template. An optional Generator may
// rephrase clarifications and explanations; it never sees or decides
// anything about execution.
package responder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ashureev/ledgerchat/internal/action"
	"github.com/ashureev/ledgerchat/internal/config"
	"github.com/ashureev/ledgerchat/internal/domain"
)

// Generator produces free-form text for a prompt.
type Generator interface {
	Complete(ctx context.Context, prompt string, snap domain.Snapshot) (string, error)
}

// Responder renders chat replies.
type Responder struct {
	gen     Generator
	network *config.Network
	logger  *slog.Logger
}

// New creates a responder. gen may be nil.
func New(gen Generator, network *config.Network, logger *slog.Logger) *Responder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Responder{gen: gen, network: network, logger: logger}
}

func (r *Responder) amount(v *big.Int) string {
	if v == nil {
		v = new(big.Int)
	}
	return action.FormatUnits(v, r.network.Decimals) + " " + r.network.NativeSymbol
}

// Read phrases the result of a read-only action.
func (r *Responder) Read(act domain.SmartContractAction, res domain.ReadResult) string {
	subject := act.Subject
	switch act.Kind {
	case domain.IntentResolveName:
		if !res.Found {
			return fmt.Sprintf("%s does not resolve to an address.", subject)
		}
		return fmt.Sprintf("%s resolves to %s.", subject, res.Address)
	case domain.IntentResolveAddress:
		if !res.Found {
			return fmt.Sprintf("%s has no primary name set.", subject)
		}
		return fmt.Sprintf("The primary name of %s is %s.", subject, res.Text)
	case domain.IntentCheckAvailability:
		if res.Bool {
			return fmt.Sprintf("%s is available to register.", subject)
		}
		return fmt.Sprintf("%s is already registered.", subject)
	case domain.IntentCheckPrice:
		return fmt.Sprintf("%s: %s.", strings.TrimPrefix(act.Description, "Quote "), r.amount(res.Amount))
	case domain.IntentCheckBalance:
		return fmt.Sprintf("The balance of %s is %s.", subject, r.amount(res.Amount))
	default:
		return fmt.Sprintf("%s: %v", act.Description, res.Value())
	}
}

// Transaction phrases the outcome of an executed action.
func (r *Responder) Transaction(act domain.SmartContractAction, res domain.TransactionResult) string {
	switch res.Status {
	case domain.TxSuccess:
		msg := fmt.Sprintf("Done: %s. Transaction %s", act.Description, res.TxID)
		if res.BlockNumber != nil {
			msg += fmt.Sprintf(" was included in block %d", *res.BlockNumber)
		}
		if res.Cost != nil {
			msg += fmt.Sprintf(" (fee %s)", r.amount(res.Cost))
		}
		return msg + "."
	case domain.TxPending:
		return fmt.Sprintf("Submitted: %s. Transaction %s is still pending; ask me about it again in a moment.", act.Description, res.TxID)
	default:
		return fmt.Sprintf("The transaction failed: %s.", failure(res))
	}
}

func failure(res domain.TransactionResult) string {
	switch res.ErrorKind {
	case domain.KindInsufficientBalance:
		return "your smart account does not hold enough funds to cover the value and fee. " + res.Error
	case domain.KindNetworkError:
		return "the ledger could not be reached. " + res.Error
	default:
		if res.Error == "" {
			return "unknown error"
		}
		return res.Error
	}
}

// Failure phrases an error from a read or a preparation step.
func (r *Responder) Failure(err error) string {
	switch domain.KindOf(err) {
	case domain.KindNetworkError:
		return "I couldn't reach the ledger just now. Please try again."
	case domain.KindInvalidName:
		return "That doesn't work: " + err.Error() + "."
	case domain.KindInvalidAmount:
		return "That amount isn't valid: " + err.Error() + "."
	case domain.KindUnsupportedIntent:
		return "I can't do that yet. " + Help
	default:
		return "Something went wrong: " + err.Error() + "."
	}
}

// Help lists what the assistant understands.
const Help = "I can resolve names and addresses, check whether a name is available and what it costs, " +
	"register names, set records, send payments and check balances."

// Cancelled is the reply when a pending action was discarded.
func Cancelled(p *domain.PendingAction) string {
	if p == nil {
		return "Cancelled."
	}
	return fmt.Sprintf("Cancelled: %s. Nothing was submitted.", p.Action.Description)
}

// Expired is the reply to a confirmation with nothing live to confirm.
func Expired() string {
	return "There is no pending request to confirm; it may have expired or been replaced. Please ask again."
}

// NothingToCancel is the reply to a cancellation with nothing pending.
func NothingToCancel() string {
	return "There is nothing pending to cancel."
}

// Clarify asks the user for what the intent or builder is missing. err is
// the builder's error, if any.
func (r *Responder) Clarify(ctx context.Context, in domain.Intent, err error, snap domain.Snapshot) string {
	draft := clarification(in, err)
	if r.gen == nil {
		return draft
	}
	prompt := "Rephrase this request for clarification in one or two friendly sentences. " +
		"Do not add facts or offer to perform any action.\n\nUser said: " + in.Text + "\nDraft: " + draft
	return r.generate(ctx, prompt, snap, draft)
}

// Explain answers text that maps to no operation.
func (r *Responder) Explain(ctx context.Context, text string, snap domain.Snapshot) string {
	draft := "I'm not sure what you'd like to do. " + Help
	if r.gen == nil {
		return draft
	}
	prompt := "You are a blockchain naming assistant. Answer briefly. You cannot execute anything yourself; " +
		"if the user wants an operation, tell them how to ask for it. " + Help + "\n\nUser said: " + text
	return r.generate(ctx, prompt, snap, draft)
}

func (r *Responder) generate(ctx context.Context, prompt string, snap domain.Snapshot, fallback string) string {
	text, err := r.gen.Complete(ctx, prompt, snap)
	if err != nil {
		r.logger.Warn("response generator failed, using template", "error", err)
		return fallback
	}
	if text = strings.TrimSpace(text); text == "" {
		return fallback
	}
	return text
}

var fieldQuestions = map[string]string{
	"name":      "Which name do you mean (for example alice.eth)?",
	"address":   "Which address or name should I check?",
	"recipient": "Who should receive the payment?",
	"amount":    "How much should I send?",
	"key":       "Which record should I set?",
	"value":     "What value should the record have?",
	"payments":  "Which payments should I include?",
	"years":     "For how many years?",
}

func clarification(in domain.Intent, err error) string {
	var cn *action.ClarificationNeeded
	if errors.As(err, &cn) {
		msg := "I need a bit more information."
		if cn.Message != "" {
			msg = strings.ToUpper(cn.Message[:1]) + cn.Message[1:] + "."
		}
		for _, f := range cn.Missing {
			if q, ok := fieldQuestions[f]; ok && f != "wallet" {
				msg += " " + q
			}
		}
		return msg
	}
	if err != nil {
		return "That doesn't look right: " + err.Error() + "."
	}

	if in.Reason == domain.KindAmbiguousReference {
		return "I'm not sure what \"it\" refers to here. Could you name it explicitly?"
	}
	if in.Kind == domain.IntentUnknown {
		return "I didn't understand that. " + Help
	}
	if len(in.MissingFields) > 0 {
		var qs []string
		for _, f := range in.MissingFields {
			if q, ok := fieldQuestions[f]; ok {
				qs = append(qs, q)
			}
		}
		if len(qs) > 0 {
			return strings.Join(qs, " ")
		}
	}
	return fmt.Sprintf("Did you want to %s? Please rephrase with the details.", strings.ReplaceAll(string(in.Kind), "-", " "))
}
