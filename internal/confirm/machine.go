// Package confirm holds the two-state confirmation machine that gates every
// mutating action. A session is Idle when it has no live pending action and
// AwaitingConfirmation otherwise; all transitions go through Step.
package confirm

import (
	"fmt"
	"time"

	"github.com/ashureev/ledgerchat/internal/domain"
)

// State of a session's confirmation machine.
type State string

const (
	Idle                 State = "idle"
	AwaitingConfirmation State = "awaiting_confirmation"
)

// StateOf derives the state from the stored pending action. An expired
// pending action counts as Idle.
func StateOf(pending *domain.PendingAction, now time.Time) State {
	if pending == nil || pending.Expired(now) {
		return Idle
	}
	return AwaitingConfirmation
}

// Event is the closed set of inputs to the machine.
type Event interface {
	event()
}

// Propose parks a freshly built mutating action.
type Propose struct {
	Action domain.SmartContractAction
	TTL    time.Duration
}

// Message is an incoming chat message while the machine may be waiting.
type Message struct {
	Text string
}

func (Propose) event() {}
func (Message) event() {}

// Effect tells the caller what to do after a transition.
type Effect string

const (
	// EffectPrompt: the action was parked; answer with a confirmation prompt.
	EffectPrompt Effect = "prompt"
	// EffectRelease: the user confirmed; hand Outcome.Released to the interactor.
	EffectRelease Effect = "release"
	// EffectDiscard: the user cancelled; nothing executes.
	EffectDiscard Effect = "discard"
	// EffectAbandon: the user moved on; drop the pending action and process
	// the message as a fresh turn.
	EffectAbandon Effect = "abandon"
	// EffectExpired: a confirmation arrived with nothing live to confirm.
	EffectExpired Effect = "expired"
	// EffectNothingToCancel: a cancellation arrived with nothing live to cancel.
	EffectNothingToCancel Effect = "nothing_to_cancel"
	// EffectPass: no confirmation flow involved; process as a normal turn.
	EffectPass Effect = "pass"
)

// Outcome is the result of one transition.
type Outcome struct {
	From   State
	To     State
	Effect Effect
	// Next replaces the session's pending action; nil means Idle.
	Next *domain.PendingAction
	// Previous is the pending action that left the machine, if any.
	Previous *domain.PendingAction
	// Released is only valid when Effect is EffectRelease.
	Released Released
}

// Released is an action that went through an explicit affirmative
// transition. It can only be constructed by this package, so holding one is
// proof the action was confirmed.
type Released struct {
	action domain.SmartContractAction
	at     time.Time
}

// Action returns a copy of the confirmed action.
func (r Released) Action() domain.SmartContractAction {
	return r.action.Clone()
}

// ConfirmedAt is when the affirmative reply was processed.
func (r Released) ConfirmedAt() time.Time {
	return r.at
}

// Valid reports whether r came out of an affirmative transition.
func (r Released) Valid() bool {
	return r.action.ID != "" && !r.at.IsZero()
}

// Step applies ev to the machine holding pending at time now.
//
// The only error is ErrInvariant, for proposing an action that is not
// mutating or fails validation.
func Step(pending *domain.PendingAction, ev Event, now time.Time) (Outcome, error) {
	from := StateOf(pending, now)
	live := pending
	if from == Idle {
		live = nil
	}

	switch e := ev.(type) {
	case Propose:
		if !e.Action.Mutating {
			return Outcome{}, fmt.Errorf("%w: only mutating actions need confirmation", domain.ErrInvariant)
		}
		if err := e.Action.Validate(); err != nil {
			return Outcome{}, err
		}
		next := &domain.PendingAction{
			Action:    e.Action.Clone(),
			CreatedAt: now,
			ExpiresAt: now.Add(e.TTL),
		}
		return Outcome{From: from, To: AwaitingConfirmation, Effect: EffectPrompt, Next: next, Previous: live}, nil

	case Message:
		answer := Classify(e.Text)
		if live == nil {
			out := Outcome{From: from, To: Idle, Previous: pending}
			switch answer {
			case Affirmative:
				out.Effect = EffectExpired
			case Negative:
				out.Effect = EffectNothingToCancel
			default:
				out.Effect = EffectPass
			}
			return out, nil
		}

		out := Outcome{From: from, To: Idle, Previous: live}
		switch answer {
		case Affirmative:
			out.Effect = EffectRelease
			out.Released = Released{action: live.Action.Clone(), at: now}
		case Negative:
			out.Effect = EffectDiscard
		default:
			out.Effect = EffectAbandon
		}
		return out, nil

	default:
		return Outcome{}, fmt.Errorf("%w: unknown confirmation event %T", domain.ErrInvariant, ev)
	}
}
