package confirm

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/ledgerchat/internal/domain"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func registerAction() domain.SmartContractAction {
	return domain.SmartContractAction{
		ID:          domain.NewActionID(),
		Kind:        domain.IntentRegisterName,
		Target:      "ens.controller",
		Function:    "register",
		Args:        []string{"testname"},
		Mutating:    true,
		Description: "Register testname.eth for 1 year",
	}
}

func propose(t *testing.T, pending *domain.PendingAction, act domain.SmartContractAction, now time.Time) Outcome {
	t.Helper()
	out, err := Step(pending, Propose{Action: act, TTL: 5 * time.Minute}, now)
	if err != nil {
		t.Fatalf("propose failed: %v", err)
	}
	return out
}

func TestProposeParksAction(t *testing.T) {
	t.Parallel()

	act := registerAction()
	out := propose(t, nil, act, t0)
	if out.Effect != EffectPrompt || out.From != Idle || out.To != AwaitingConfirmation {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if out.Next == nil || out.Next.Action.ID != act.ID || !out.Next.ExpiresAt.Equal(t0.Add(5*time.Minute)) {
		t.Fatalf("unexpected pending action %+v", out.Next)
	}
	if out.Released.Valid() {
		t.Fatal("propose must never release")
	}
	if !strings.Contains(Prompt(out.Next), act.Description) {
		t.Fatalf("prompt should contain the description: %q", Prompt(out.Next))
	}
}

func TestProposeRejectsReadAction(t *testing.T) {
	t.Parallel()

	act := registerAction()
	act.Kind = domain.IntentResolveName
	act.Mutating = false
	if _, err := Step(nil, Propose{Action: act, TTL: time.Minute}, t0); !errors.Is(err, domain.ErrInvariant) {
		t.Fatalf("expected ErrInvariant, got %v", err)
	}
}

func TestAwaitingTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		reply  string
		effect Effect
	}{
		{"yes", EffectRelease},
		{"Confirm", EffectRelease},
		{"go ahead!", EffectRelease},
		{"no", EffectDiscard},
		{"cancel that", EffectDiscard},
		{"no, don't", EffectDiscard},
		{"What's the weather", EffectAbandon},
		{"is alice.eth available?", EffectAbandon},
	}
	for _, tt := range tests {
		t.Run(tt.reply, func(t *testing.T) {
			act := registerAction()
			pending := propose(t, nil, act, t0).Next

			out, err := Step(pending, Message{Text: tt.reply}, t0.Add(time.Minute))
			if err != nil {
				t.Fatalf("Step failed: %v", err)
			}
			if out.Effect != tt.effect {
				t.Fatalf("expected %s, got %s", tt.effect, out.Effect)
			}
			if out.Next != nil || out.To != Idle {
				t.Fatal("every reply must leave the machine idle")
			}
			if got := out.Released.Valid(); got != (tt.effect == EffectRelease) {
				t.Fatalf("released valid = %t for effect %s", got, tt.effect)
			}
			if tt.effect == EffectRelease && out.Released.Action().ID != act.ID {
				t.Fatal("released a different action than the one confirmed")
			}
		})
	}
}

func TestConfirmAfterDeadlineExpires(t *testing.T) {
	t.Parallel()

	pending := propose(t, nil, registerAction(), t0).Next
	out, err := Step(pending, Message{Text: "yes"}, t0.Add(5*time.Minute+time.Nanosecond))
	if err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	if out.Effect != EffectExpired || out.Released.Valid() {
		t.Fatalf("expected expiry without release, got %+v", out)
	}
	if out.From != Idle {
		t.Fatalf("expired pending action must read as idle, got %s", out.From)
	}
}

func TestIdleReplies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text   string
		effect Effect
	}{
		{"yes", EffectExpired},
		{"no", EffectNothingToCancel},
		{"resolve alice.eth", EffectPass},
	}
	for _, tt := range tests {
		out, err := Step(nil, Message{Text: tt.text}, t0)
		if err != nil {
			t.Fatalf("Step failed: %v", err)
		}
		if out.Effect != tt.effect {
			t.Errorf("%q: expected %s, got %s", tt.text, tt.effect, out.Effect)
		}
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := map[string]Answer{
		"yes":                             Affirmative,
		"  YES.  ":                        Affirmative,
		"yep, do it":                      Affirmative,
		"nope":                            Negative,
		"never mind":                      Negative,
		"no":                              Negative,
		"":                                Unrelated,
		"yesterday":                       Unrelated,
		"nothing":                         Unrelated,
		"what's the price":                Unrelated,
		"no, don't proceed":               Negative,
		"ok, do it now please":            Affirmative,
		"yes yes":                         Affirmative,
		"thanks":                          Unrelated,
		"ok, what's my balance?":          Unrelated,
		"continue with bob.eth instead":   Unrelated,
		"sure, but first check the price": Unrelated,
		"yes send it to alice.eth":        Unrelated,
	}
	for text, want := range tests {
		if got := Classify(text); got != want {
			t.Errorf("Classify(%q) = %s, want %s", text, got, want)
		}
	}
}

// Over any sequence of proposals and replies, an action is released only
// by an affirmative reply that arrives before its deadline, and at most once.
func TestReleaseRequiresLiveAffirmative(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	replies := []string{"yes", "no", "what's the weather", "confirm", "register bob.eth"}
	const ttl = 3 * time.Minute

	properties.Property("release implies live affirmative", prop.ForAll(
		func(ops []int, gaps []int) bool {
			var pending *domain.PendingAction
			now := t0
			released := map[string]bool{}
			for i, op := range ops {
				if i < len(gaps) {
					now = now.Add(time.Duration(gaps[i]) * time.Minute)
				}
				var ev Event
				if op < 0 {
					ev = Propose{Action: registerAction(), TTL: ttl}
				} else {
					ev = Message{Text: replies[op%len(replies)]}
				}

				before := pending
				out, err := Step(pending, ev, now)
				if err != nil {
					return false
				}
				if out.Released.Valid() {
					msg, ok := ev.(Message)
					if !ok || Classify(msg.Text) != Affirmative {
						return false
					}
					if before == nil || before.Expired(now) || before.Action.ID != out.Released.Action().ID {
						return false
					}
					if released[before.Action.ID] {
						return false
					}
					released[before.Action.ID] = true
				}
				pending = out.Next
			}
			return true
		},
		gen.SliceOf(gen.IntRange(-2, 9)),
		gen.SliceOf(gen.IntRange(0, 4)),
	))

	properties.TestingRun(t)
}
