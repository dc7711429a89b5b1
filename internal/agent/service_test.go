package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/ledgerchat/internal/action"
	"github.com/ashureev/ledgerchat/internal/config"
	"github.com/ashureev/ledgerchat/internal/conversation"
	"github.com/ashureev/ledgerchat/internal/domain"
	"github.com/ashureev/ledgerchat/internal/intent"
	"github.com/ashureev/ledgerchat/internal/ledger"
	"github.com/ashureev/ledgerchat/internal/responder"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

const (
	wallet  = "0x1111111111111111111111111111111111111111"
	bobAddr = "0xb0b0000000000000000000000000000000000b0b"
)

var oneEth = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	svc      *Service
	sim      *ledger.Simulated
	journal  *ledger.MemoryJournal
	registry *conversation.Registry
	clock    *testClock
	network  *config.Network
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	network, err := config.LoadNetwork("")
	if err != nil {
		t.Fatalf("LoadNetwork failed: %v", err)
	}
	builder, err := action.NewBuilder(network)
	if err != nil {
		t.Fatalf("NewBuilder failed: %v", err)
	}

	clock := &testClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	sim := ledger.NewSimulated()
	sim.SetAddr("bob.eth", bobAddr)
	sim.Fund(ledger.AccountAddress(wallet, network.AccountSalt), new(big.Int).Mul(oneEth, big.NewInt(10)))

	journal := &ledger.MemoryJournal{}
	inter := ledger.NewInteractor(sim, network, ledger.Options{
		CallTimeout:  time.Second,
		PollInterval: time.Millisecond,
		ReceiptWait:  time.Second,
		RetryBackoff: time.Millisecond,
		AccountSalt:  network.AccountSalt,
		Journal:      journal,
		Logger:       quietLogger(),
	})
	registry := conversation.NewRegistry(
		conversation.WithClock(clock.Now),
		conversation.WithLogger(quietLogger()),
	)

	svc, err := NewService(ServiceConfig{
		Registry:        registry,
		Recognizer:      intent.NewRecognizer(intent.DefaultThreshold),
		Builder:         builder,
		Ledger:          inter,
		Responder:       responder.New(nil, network, quietLogger()),
		ConfirmationTTL: 5 * time.Minute,
		Logger:          quietLogger(),
	})
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	return &harness{svc: svc, sim: sim, journal: journal, registry: registry, clock: clock, network: network}
}

func (h *harness) say(t *testing.T, key, text string) *Response {
	t.Helper()
	resp, err := h.svc.Chat(context.Background(), key, wallet, ChatRequest{Message: text})
	if err != nil {
		t.Fatalf("Chat(%q) failed: %v", text, err)
	}
	return resp
}

func TestNewServiceRequiresCollaborators(t *testing.T) {
	t.Parallel()

	if _, err := NewService(ServiceConfig{}); err == nil {
		t.Fatal("expected error for empty config")
	}
}

func TestAvailabilityCheck(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	resp := h.say(t, wallet, "Is testname.eth available?")
	if !resp.Success {
		t.Fatalf("expected success, got %+v", resp)
	}
	if resp.NeedsConfirmation {
		t.Fatal("reads must not ask for confirmation")
	}
	if got, ok := resp.Data["available"].(bool); !ok || !got {
		t.Fatalf("data.available = %v", resp.Data["available"])
	}
	if !strings.Contains(resp.Message, "available") {
		t.Errorf("unexpected message %q", resp.Message)
	}
	if resp.ConversationContext.LastEntityName != "testname.eth" {
		t.Errorf("LastEntityName = %q", resp.ConversationContext.LastEntityName)
	}
	if resp.ConversationContext.HistoryLength != 2 {
		t.Errorf("HistoryLength = %d, want 2", resp.ConversationContext.HistoryLength)
	}
	if len(h.journal.Entries()) != 0 {
		t.Fatal("a read must never reach Execute")
	}
}

func TestRegisterRequiresConfirmation(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	resp := h.say(t, wallet, "Register testname.eth")
	if !resp.NeedsConfirmation {
		t.Fatalf("expected confirmation prompt, got %+v", resp)
	}
	if !strings.Contains(resp.Message, "testname.eth") {
		t.Errorf("prompt should describe the action: %q", resp.Message)
	}
	if len(h.sim.Sent()) != 0 || len(h.journal.Entries()) != 0 {
		t.Fatal("nothing may be submitted before confirmation")
	}

	resp = h.say(t, wallet, "yes")
	if !resp.Success || resp.Transaction == nil {
		t.Fatalf("expected executed transaction, got %+v", resp)
	}
	if resp.Transaction.Status != string(domain.TxSuccess) || resp.Transaction.TxID == "" {
		t.Fatalf("unexpected transaction %+v", resp.Transaction)
	}
	entries := h.journal.Entries()
	if len(entries) != 1 {
		t.Fatalf("journal has %d entries, want 1", len(entries))
	}
	if h.journal.Count(resp.Transaction.ActionID) != 1 {
		t.Fatal("confirmed action must execute exactly once")
	}

	// The name is now taken and a second "yes" has nothing to confirm.
	resp = h.say(t, wallet, "yes")
	if resp.Error != string(domain.KindExpiredConfirmation) {
		t.Fatalf("second yes: error = %q", resp.Error)
	}
	if len(h.journal.Entries()) != 1 {
		t.Fatal("second yes must not execute again")
	}

	resp = h.say(t, wallet, "Is testname.eth available?")
	if got, _ := resp.Data["available"].(bool); got {
		t.Fatal("registered name should no longer be available")
	}
}

func TestUnrelatedMessageAbandonsPendingAction(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.say(t, wallet, "Register testname.eth")
	resp := h.say(t, wallet, "What's the weather like?")
	if resp.NeedsConfirmation {
		t.Fatal("unrelated message must not re-prompt")
	}

	resp = h.say(t, wallet, "yes")
	if resp.Error != string(domain.KindExpiredConfirmation) {
		t.Fatalf("error = %q, want %s", resp.Error, domain.KindExpiredConfirmation)
	}
	if len(h.journal.Entries()) != 0 || len(h.sim.Sent()) != 0 {
		t.Fatal("abandoned action must never execute")
	}
}

func TestConfirmationExpires(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.say(t, wallet, "send 0.1 eth to bob.eth")
	h.clock.Advance(6 * time.Minute)

	resp := h.say(t, wallet, "yes")
	if resp.Error != string(domain.KindExpiredConfirmation) {
		t.Fatalf("error = %q, want %s", resp.Error, domain.KindExpiredConfirmation)
	}
	if len(h.journal.Entries()) != 0 {
		t.Fatal("expired action must never execute")
	}
}

func TestCancelPendingAction(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.say(t, wallet, "send 0.1 eth to bob.eth")
	resp := h.say(t, wallet, "no")
	if !resp.Success || !strings.Contains(strings.ToLower(resp.Message), "cancel") {
		t.Fatalf("unexpected cancel reply %+v", resp)
	}

	resp = h.say(t, wallet, "cancel")
	if resp.Message != responder.NothingToCancel() {
		t.Fatalf("unexpected reply with nothing pending: %q", resp.Message)
	}
	if len(h.journal.Entries()) != 0 {
		t.Fatal("cancelled action must never execute")
	}
}

func TestPaymentResolvesRecipientBeforeConfirmation(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	resp := h.say(t, wallet, "send 0.1 eth to bob.eth")
	if !resp.NeedsConfirmation {
		t.Fatalf("expected confirmation, got %+v", resp)
	}
	if !strings.Contains(resp.Message, bobAddr) {
		t.Errorf("prompt should show the resolved address: %q", resp.Message)
	}

	resp = h.say(t, wallet, "confirm")
	if resp.Transaction == nil || resp.Transaction.Status != string(domain.TxSuccess) {
		t.Fatalf("unexpected result %+v", resp)
	}
	sent := h.sim.Sent()
	if len(sent) != 1 || sent[0].Args[0] != bobAddr {
		t.Fatalf("unexpected sent transactions %+v", sent)
	}
}

func TestPronounResolution(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.say(t, wallet, "Is testname.eth available?")
	resp := h.say(t, wallet, "Register it")
	if !resp.NeedsConfirmation {
		t.Fatalf("expected register prompt, got %+v", resp)
	}
	if !strings.Contains(resp.Message, "testname.eth") {
		t.Errorf("pronoun should resolve to testname.eth: %q", resp.Message)
	}
}

func TestUnresolvedPronounAsksForClarification(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	resp := h.say(t, wallet, "is it available?")
	if resp.Success || resp.NeedsConfirmation {
		t.Fatalf("expected clarification, got %+v", resp)
	}
	if resp.Error == "" {
		t.Fatal("clarification should carry an error kind")
	}
}

func TestIncompletePaymentAsksForClarification(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	resp := h.say(t, wallet, "send 0.1 eth")
	if resp.Success || resp.NeedsConfirmation {
		t.Fatalf("expected clarification, got %+v", resp)
	}
	if resp.Data["intent"] != string(domain.IntentSendPayment) {
		t.Errorf("intent = %v", resp.Data["intent"])
	}
	if len(h.sim.Sent()) != 0 {
		t.Fatal("nothing may be submitted")
	}
}

func TestAnonymousSessionCannotRegister(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	resp, err := h.svc.Chat(context.Background(), "anon_1", "", ChatRequest{Message: "Register testname.eth"})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.NeedsConfirmation {
		t.Fatal("a session without a wallet must not be offered a transaction")
	}
	if resp.Error == "" {
		t.Fatalf("expected clarification, got %+v", resp)
	}
}

func TestUnknownInput(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	resp := h.say(t, wallet, "tell me a joke")
	if resp.Success || resp.Error != string(domain.KindUnparsableInput) {
		t.Fatalf("unexpected reply %+v", resp)
	}
	if resp.Message == "" {
		t.Fatal("unknown input still gets an explanation")
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.say(t, wallet, "send 0.1 eth to bob.eth")

	other := "0x2222222222222222222222222222222222222222"
	resp, err := h.svc.Chat(context.Background(), other, other, ChatRequest{Message: "yes"})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Transaction != nil || resp.Error != string(domain.KindExpiredConfirmation) {
		t.Fatalf("another session confirmed a foreign action: %+v", resp)
	}
	if len(h.journal.Entries()) != 0 {
		t.Fatal("confirmation leaked across sessions")
	}

	resp = h.say(t, wallet, "yes")
	if resp.Transaction == nil {
		t.Fatalf("owner's confirmation should still work, got %+v", resp)
	}
}

func TestInsufficientBalanceIsReported(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	poor := "0x3333333333333333333333333333333333333333"
	if _, err := h.svc.Chat(context.Background(), poor, poor, ChatRequest{Message: "send 1 eth to bob.eth"}); err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	resp, err := h.svc.Chat(context.Background(), poor, poor, ChatRequest{Message: "yes"})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Success || resp.Transaction == nil {
		t.Fatalf("expected failed transaction, got %+v", resp)
	}
	if resp.Error != string(domain.KindInsufficientBalance) {
		t.Fatalf("error = %q", resp.Error)
	}
	if len(h.sim.Sent()) != 0 {
		t.Fatal("underfunded action must not be submitted")
	}
}

func TestClearAndSummary(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.svc.Summary(ctx, wallet); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("Summary of unknown session: %v", err)
	}
	if err := h.svc.Clear(ctx, wallet); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("Clear of unknown session: %v", err)
	}

	h.say(t, wallet, "send 0.1 eth to bob.eth")
	sum, err := h.svc.Summary(ctx, wallet)
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if sum.PendingAction == nil || sum.Owner != wallet {
		t.Fatalf("unexpected summary %+v", sum)
	}

	if err := h.svc.Clear(ctx, wallet); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	sum, err = h.svc.Summary(ctx, wallet)
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if sum.PendingAction != nil || sum.ConversationContext.HistoryLength != 0 {
		t.Fatalf("clear should reset the session: %+v", sum)
	}

	resp := h.say(t, wallet, "yes")
	if resp.Transaction != nil {
		t.Fatal("cleared pending action must not execute")
	}
}

func TestHistorySeedsFreshSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	resp, err := h.svc.Chat(context.Background(), wallet, wallet, ChatRequest{
		Message: "is it available?",
		ConversationHistory: []domain.ChatMessage{
			{Role: domain.RoleUser, Content: "tell me about coolname.eth"},
			{Role: domain.RoleAssistant, Content: "Sure."},
		},
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if !resp.Success || resp.ConversationContext.LastEntityName != "coolname.eth" {
		t.Fatalf("history should supply the antecedent: %+v", resp)
	}
}

type failingClassifier struct{}

func (failingClassifier) Classify(context.Context, string, domain.Snapshot) ([]intent.RawCandidate, error) {
	return nil, errors.New("classifier unavailable")
}

func TestClassifierFailureFallsBackToRules(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.svc.classifier = failingClassifier{}

	resp := h.say(t, wallet, "Is testname.eth available?")
	if !resp.Success {
		t.Fatalf("rules should still answer: %+v", resp)
	}
}

// TestExecutionOnlyAfterConfirmation checks, over random conversations,
// that every executed action was released by an affirmative reply directly
// after its prompt and that no action executes twice.
func TestExecutionOnlyAfterConfirmation(t *testing.T) {
	messages := []string{
		"Register testname.eth",
		"send 0.1 eth to bob.eth",
		"send 0.1 eth to bob.eth and 0.2 eth to bob.eth",
		"yes",
		"no",
		"What's the weather?",
		"Is testname.eth available?",
		"how much does testname.eth cost?",
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 40
	properties := gopter.NewProperties(parameters)

	properties.Property("transactions follow a confirmed prompt", prop.ForAll(
		func(picks []int) bool {
			h := newHarness(t)
			prompted := false
			executed := 0
			for _, p := range picks {
				text := messages[p]
				resp, err := h.svc.Chat(context.Background(), wallet, wallet, ChatRequest{Message: text})
				if err != nil {
					return false
				}
				if resp.Transaction != nil {
					if !prompted || text != "yes" {
						return false
					}
					executed++
				}
				prompted = resp.NeedsConfirmation
				if p%2 == 0 {
					h.clock.Advance(time.Minute)
				}
			}
			entries := h.journal.Entries()
			if len(entries) != executed {
				return false
			}
			seen := make(map[string]bool)
			for _, e := range entries {
				if seen[e.Action.ID] {
					return false
				}
				seen[e.Action.ID] = true
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, len(messages)-1)),
	))

	properties.TestingRun(t)
}

func TestPronounAfterResolveQuotesPrice(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.sim.SetAddr("alice.eth", "0xabc0000000000000000000000000000000000abc")

	resp := h.say(t, wallet, "What is the address of alice.eth")
	if !resp.Success || resp.Data["value"] != "0xabc0000000000000000000000000000000000abc" {
		t.Fatalf("unexpected resolve reply %+v", resp)
	}

	resp = h.say(t, wallet, "how much does it cost?")
	if !resp.Success {
		t.Fatalf("expected price quote, got %+v", resp)
	}
	if resp.Data["intent"] != string(domain.IntentCheckPrice) || resp.Data["subject"] != "alice.eth" {
		t.Fatalf("pronoun should resolve to alice.eth: %+v", resp.Data)
	}
}

func TestReadsAreIdempotent(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	first := h.say(t, wallet, "resolve bob.eth")
	second := h.say(t, wallet, "resolve bob.eth")
	if first.Message != second.Message || first.Data["value"] != second.Data["value"] {
		t.Fatalf("repeated reads differ: %+v vs %+v", first.Data, second.Data)
	}
	if first.Data["value"] != bobAddr {
		t.Fatalf("value = %v, want %s", first.Data["value"], bobAddr)
	}
}

func TestYesWordWithNewRequestDoesNotConfirm(t *testing.T) {
	t.Parallel()

	for _, reply := range []string{
		"ok, what's my balance?",
		"continue with bob.eth instead",
		"sure, but first check the price",
	} {
		t.Run(reply, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)

			if resp := h.say(t, wallet, "Register testname.eth"); !resp.NeedsConfirmation {
				t.Fatalf("expected confirmation prompt, got %+v", resp)
			}
			resp := h.say(t, wallet, reply)
			if resp.Transaction != nil {
				t.Fatalf("%q executed the pending action: %+v", reply, resp)
			}
			if n := len(h.journal.Entries()); n != 0 {
				t.Fatalf("journal has %d entries after %q", n, reply)
			}

			resp = h.say(t, wallet, "yes")
			if resp.Transaction != nil || resp.Error != string(domain.KindExpiredConfirmation) {
				t.Fatalf("pending action should have been abandoned, got %+v", resp)
			}
		})
	}
}
