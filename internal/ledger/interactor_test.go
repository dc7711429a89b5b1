package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ashureev/ledgerchat/internal/action"
	"github.com/ashureev/ledgerchat/internal/config"
	"github.com/ashureev/ledgerchat/internal/confirm"
	"github.com/ashureev/ledgerchat/internal/domain"
)

const (
	owner = "0x1111111111111111111111111111111111111111"
	alice = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
)

type fixture struct {
	sim     *Simulated
	inter   *Interactor
	builder *action.Builder
	journal *MemoryJournal
	network *config.Network
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	network, err := config.LoadNetwork("")
	if err != nil {
		t.Fatalf("LoadNetwork failed: %v", err)
	}
	builder, err := action.NewBuilder(network)
	if err != nil {
		t.Fatalf("NewBuilder failed: %v", err)
	}
	sim := NewSimulated()
	journal := &MemoryJournal{}
	inter := NewInteractor(sim, network, Options{
		CallTimeout:  time.Second,
		PollInterval: time.Millisecond,
		ReceiptWait:  time.Second,
		RetryBackoff: time.Millisecond,
		AccountSalt:  network.AccountSalt,
		Journal:      journal,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return &fixture{sim: sim, inter: inter, builder: builder, journal: journal, network: network}
}

func (f *fixture) build(t *testing.T, params domain.Params) domain.SmartContractAction {
	t.Helper()
	act, err := f.builder.Build(domain.NewIntent(params, 1, ""), owner)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if act.Mutating {
		act, err = f.builder.Prepare(context.Background(), act, f.inter)
		if err != nil {
			t.Fatalf("Prepare failed: %v", err)
		}
	}
	return act
}

func (f *fixture) smartAccount() string {
	return AccountAddress(owner, f.network.AccountSalt)
}

func confirmed(t *testing.T, act domain.SmartContractAction) confirm.Released {
	t.Helper()
	now := time.Now()
	parked, err := confirm.Step(nil, confirm.Propose{Action: act, TTL: time.Minute}, now)
	if err != nil {
		t.Fatalf("propose failed: %v", err)
	}
	out, err := confirm.Step(parked.Next, confirm.Message{Text: "yes"}, now)
	if err != nil || out.Effect != confirm.EffectRelease {
		t.Fatalf("confirm failed: %v %+v", err, out)
	}
	return out.Released
}

func eth(s string) *big.Int {
	v, err := action.ParseUnits(s, 18)
	if err != nil {
		panic(err)
	}
	return v
}

func TestReadResolveName(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.sim.SetAddr("alice.eth", alice)

	act := f.build(t, domain.ResolveNameParams{Name: "alice.eth"})
	first, err := f.inter.Read(context.Background(), act)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !first.Found || first.Address != alice {
		t.Fatalf("expected %s, got %+v", alice, first)
	}

	second, err := f.inter.Read(context.Background(), act)
	if err != nil {
		t.Fatalf("second Read failed: %v", err)
	}
	if first.Address != second.Address || first.Found != second.Found {
		t.Fatalf("reads differ: %+v vs %+v", first, second)
	}
}

func TestReadAbsentValueIsNotAnError(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	res, err := f.inter.Read(context.Background(), f.build(t, domain.ResolveNameParams{Name: "nobody.eth"}))
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if res.Found {
		t.Fatalf("expected no value, got %+v", res)
	}

	res, err = f.inter.Read(context.Background(), f.build(t, domain.ResolveAddressParams{Address: alice}))
	if err != nil {
		t.Fatalf("reverse Read failed: %v", err)
	}
	if res.Found {
		t.Fatalf("expected no primary name, got %+v", res)
	}
}

func TestReadRetriesNetworkErrorOnce(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	act := f.build(t, domain.CheckAvailabilityParams{Name: "testname.eth"})

	f.sim.FailNext("call", 1)
	res, err := f.inter.Read(context.Background(), act)
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if !res.Bool {
		t.Fatal("expected testname.eth to be available")
	}

	f.sim.FailNext("call", 2)
	if _, err := f.inter.Read(context.Background(), act); !errors.Is(err, domain.ErrNetwork) {
		t.Fatalf("expected ErrNetwork after two failures, got %v", err)
	}
}

func TestReadBalance(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.sim.Fund(alice, eth("1.5"))

	res, err := f.inter.Read(context.Background(), f.build(t, domain.CheckBalanceParams{Address: alice}))
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if res.Amount.Cmp(eth("1.5")) != 0 {
		t.Fatalf("expected 1.5, got %s", res.Amount)
	}
}

func TestReadRejectsMutatingAction(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	act, err := f.builder.Build(domain.NewIntent(domain.RegisterNameParams{Name: "testname.eth"}, 1, ""), owner)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if _, err := f.inter.Read(context.Background(), act); !errors.Is(err, domain.ErrInvariant) {
		t.Fatalf("expected ErrInvariant, got %v", err)
	}
}

func TestExecuteRegister(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.sim.Fund(f.smartAccount(), eth("1"))

	act := f.build(t, domain.RegisterNameParams{Name: "testname.eth"})
	res := f.inter.Execute(context.Background(), confirmed(t, act))
	if res.Status != domain.TxSuccess || res.TxID == "" || res.BlockNumber == nil {
		t.Fatalf("expected success, got %+v", res)
	}
	if f.journal.Count(act.ID) != 1 {
		t.Fatalf("expected one journal entry, got %d", f.journal.Count(act.ID))
	}

	avail, err := f.inter.Read(context.Background(), f.build(t, domain.CheckAvailabilityParams{Name: "testname.eth"}))
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if avail.Bool {
		t.Fatal("testname.eth should no longer be available")
	}
}

func TestExecutePayment(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.sim.Fund(f.smartAccount(), eth("1"))
	f.sim.SetAddr("alice.eth", alice)

	act := f.build(t, domain.SendPaymentParams{Payment: domain.Payment{Recipient: "alice.eth", Amount: "0.25"}})
	if act.Args[0] != alice {
		t.Fatalf("recipient should be resolved before confirmation, got %s", act.Args[0])
	}
	res := f.inter.Execute(context.Background(), confirmed(t, act))
	if res.Status != domain.TxSuccess {
		t.Fatalf("expected success, got %+v", res)
	}
	bal, _ := f.sim.Balance(context.Background(), alice)
	if bal.Cmp(eth("0.25")) != 0 {
		t.Fatalf("expected alice to hold 0.25, got %s", bal)
	}
}

func TestExecuteInsufficientBalanceDoesNotSubmit(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.sim.Fund(f.smartAccount(), eth("0.1"))

	act := f.build(t, domain.SendPaymentParams{Payment: domain.Payment{Recipient: alice, Amount: "0.5"}})
	res := f.inter.Execute(context.Background(), confirmed(t, act))
	if res.Status != domain.TxFailed || res.ErrorKind != domain.KindInsufficientBalance {
		t.Fatalf("expected insufficient balance failure, got %+v", res)
	}
	if n := len(f.sim.Sent()); n != 0 {
		t.Fatalf("expected no submission, got %d", n)
	}
}

func TestExecuteRevertIsTerminal(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.sim.Fund(f.smartAccount(), eth("1"))

	// Built and prepared while available, then taken before confirmation.
	act := f.build(t, domain.RegisterNameParams{Name: "testname.eth"})
	f.sim.SetAddr("testname.eth", alice)

	res := f.inter.Execute(context.Background(), confirmed(t, act))
	if res.Status != domain.TxFailed || res.ErrorKind != domain.KindExecutionReverted {
		t.Fatalf("expected revert, got %+v", res)
	}
	if res.Error != "execution reverted: name not available" {
		t.Fatalf("expected the ledger's revert reason, got %q", res.Error)
	}
	if n := len(f.sim.Sent()); n != 0 {
		t.Fatalf("a reverting estimate must not submit, got %d", n)
	}
}

func TestExecuteRetriesSubmitOnce(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.sim.Fund(f.smartAccount(), eth("1"))
	act := f.build(t, domain.SendPaymentParams{Payment: domain.Payment{Recipient: alice, Amount: "0.1"}})

	f.sim.FailNext("send", 1)
	res := f.inter.Execute(context.Background(), confirmed(t, act))
	if res.Status != domain.TxSuccess {
		t.Fatalf("expected success after one retry, got %+v", res)
	}
	if n := len(f.sim.Sent()); n != 1 {
		t.Fatalf("expected exactly one submission, got %d", n)
	}
}

func TestExecuteReportsSubmitNetworkError(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.sim.Fund(f.smartAccount(), eth("1"))
	act := f.build(t, domain.SendPaymentParams{Payment: domain.Payment{Recipient: alice, Amount: "0.1"}})

	f.sim.FailNext("send", 2)
	res := f.inter.Execute(context.Background(), confirmed(t, act))
	if res.Status != domain.TxFailed || res.ErrorKind != domain.KindNetworkError {
		t.Fatalf("expected network failure, got %+v", res)
	}
}

func TestExecuteWithoutConfirmation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	res := f.inter.Execute(context.Background(), confirm.Released{})
	if res.Status != domain.TxFailed || res.ErrorKind != domain.KindInvariant {
		t.Fatalf("expected invariant failure, got %+v", res)
	}
	if len(f.journal.Entries()) != 0 {
		t.Fatal("unconfirmed execution must not reach the journal")
	}
}
