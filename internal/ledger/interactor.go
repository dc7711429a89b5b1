package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ashureev/ledgerchat/internal/config"
	"github.com/ashureev/ledgerchat/internal/confirm"
	"github.com/ashureev/ledgerchat/internal/domain"
	"github.com/cenkalti/backoff/v5"
)

// Journal observes every action that reaches Execute.
type Journal interface {
	Record(act domain.SmartContractAction, confirmedAt time.Time)
}

// Options tune the interactor's timing.
type Options struct {
	// CallTimeout bounds each provider call.
	CallTimeout time.Duration
	// PollInterval is the wait between receipt polls.
	PollInterval time.Duration
	// ReceiptWait bounds how long Execute waits for inclusion.
	ReceiptWait time.Duration
	// RetryBackoff is the wait before the single retry of a transient failure.
	RetryBackoff time.Duration
	// AccountSalt is used to derive smart account addresses.
	AccountSalt string
	Journal     Journal
	Logger      *slog.Logger
}

// OptionsFromConfig maps the ledger config onto interactor options.
func OptionsFromConfig(cfg config.LedgerConfig, network *config.Network) Options {
	return Options{
		CallTimeout:  cfg.Timeout,
		PollInterval: cfg.ReceiptPollInterval,
		ReceiptWait:  cfg.ReceiptWait,
		RetryBackoff: cfg.RetryBackoff,
		AccountSalt:  network.AccountSalt,
	}
}

// Interactor executes actions against a Provider.
type Interactor struct {
	provider Provider
	network  *config.Network
	opts     Options
	logger   *slog.Logger

	mu       sync.Mutex
	accounts map[string]string // owner -> smart account
}

// NewInteractor creates an interactor for network.
func NewInteractor(provider Provider, network *config.Network, opts Options) *Interactor {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 15 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.ReceiptWait <= 0 {
		opts.ReceiptWait = 2 * time.Minute
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 500 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Interactor{
		provider: provider,
		network:  network,
		opts:     opts,
		logger:   logger,
		accounts: make(map[string]string),
	}
}

// Read runs a non-mutating action. A provider that cannot be reached yields
// ErrNetwork after one retry; a missing value is a ReadResult with Found
// false.
func (i *Interactor) Read(ctx context.Context, act domain.SmartContractAction) (domain.ReadResult, error) {
	if act.Mutating {
		return domain.ReadResult{}, fmt.Errorf("%w: read of mutating action %s", domain.ErrInvariant, act.ID)
	}

	if act.Target == config.ContractNative {
		if len(act.Args) != 1 {
			return domain.ReadResult{}, fmt.Errorf("%w: balance read needs one address", domain.ErrInvariant)
		}
		bal, err := retry(ctx, i, "balance", func(ctx context.Context) (*big.Int, error) {
			return i.provider.Balance(ctx, act.Args[0])
		})
		if err != nil {
			return domain.ReadResult{}, err
		}
		return domain.ReadResult{ActionID: act.ID, Returns: domain.ReturnUint, Found: true, Amount: bal}, nil
	}

	to, err := i.contractAddress(ctx, act)
	if err != nil {
		return domain.ReadResult{}, err
	}
	data, err := retry(ctx, i, "call", func(ctx context.Context) ([]byte, error) {
		return i.provider.Call(ctx, to, act.Function, act.Args)
	})
	if err != nil {
		return domain.ReadResult{}, err
	}
	res, err := decodeResult(act, data)
	if err != nil {
		return domain.ReadResult{}, fmt.Errorf("decode %s result: %w", act.Function, err)
	}
	return res, nil
}

// Execute submits a confirmed action and waits for its outcome. Every
// failure is reported inside the result; the returned status is pending only
// when the wait for inclusion ran out or the receipt could not be fetched.
func (i *Interactor) Execute(ctx context.Context, rel confirm.Released) domain.TransactionResult {
	if !rel.Valid() {
		return domain.FailedResult("", "", fmt.Errorf("%w: execute without confirmation", domain.ErrInvariant))
	}
	act := rel.Action()
	if !act.Mutating {
		return domain.FailedResult(act.ID, "", fmt.Errorf("%w: execute of read action", domain.ErrInvariant))
	}
	if i.opts.Journal != nil {
		i.opts.Journal.Record(act, rel.ConfirmedAt())
	}

	log := i.logger.With("action_id", act.ID, "function", act.Function)

	from, err := i.AccountOf(ctx, act.From)
	if err != nil {
		return domain.FailedResult(act.ID, "", err)
	}
	to := from
	if act.Target != config.ContractAccount {
		if to, err = i.contractAddress(ctx, act); err != nil {
			return domain.FailedResult(act.ID, "", err)
		}
	}
	tx := Tx{From: from, To: to, Function: act.Function, Args: act.Args, Value: act.ValueOrZero()}

	cost, err := retry(ctx, i, "estimate", func(ctx context.Context) (*big.Int, error) {
		return i.provider.EstimateCost(ctx, tx)
	})
	if err != nil {
		log.Info("estimate failed", "error", err)
		return domain.FailedResult(act.ID, "", err)
	}

	balance, err := retry(ctx, i, "balance", func(ctx context.Context) (*big.Int, error) {
		return i.provider.Balance(ctx, from)
	})
	if err != nil {
		return domain.FailedResult(act.ID, "", err)
	}
	need := new(big.Int).Add(tx.Value, cost)
	if balance.Cmp(need) < 0 {
		err := fmt.Errorf("%w: account %s holds %s but the action needs %s",
			domain.ErrInsufficientBalance, from, balance, need)
		log.Info("insufficient balance, not submitting", "balance", balance.String(), "need", need.String())
		return domain.FailedResult(act.ID, "", err)
	}

	txID, err := retry(ctx, i, "send", func(ctx context.Context) (string, error) {
		return i.provider.SendTransaction(ctx, tx)
	})
	if err != nil {
		log.Warn("submit failed", "error", err)
		return domain.FailedResult(act.ID, "", err)
	}
	log.Info("transaction submitted", "tx_id", txID)

	return i.await(ctx, act.ID, txID, log)
}

func (i *Interactor) await(ctx context.Context, actionID, txID string, log *slog.Logger) domain.TransactionResult {
	pending := domain.TransactionResult{ActionID: actionID, Status: domain.TxPending, TxID: txID}

	waitCtx, cancel := context.WithTimeout(ctx, i.opts.ReceiptWait)
	defer cancel()
	ticker := time.NewTicker(i.opts.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := retry(waitCtx, i, "receipt", func(ctx context.Context) (*Receipt, error) {
			return i.provider.GetTransactionReceipt(ctx, txID)
		})
		if err != nil {
			if waitCtx.Err() != nil && ctx.Err() == nil {
				log.Info("receipt wait elapsed", "tx_id", txID)
				return pending
			}
			log.Warn("receipt poll failed", "tx_id", txID, "error", err)
			pending.Error = err.Error()
			pending.ErrorKind = domain.KindOf(err)
			return pending
		}
		if receipt != nil {
			return resultFromReceipt(actionID, txID, receipt)
		}

		select {
		case <-waitCtx.Done():
			log.Info("receipt wait elapsed", "tx_id", txID)
			return pending
		case <-ticker.C:
		}
	}
}

func resultFromReceipt(actionID, txID string, r *Receipt) domain.TransactionResult {
	block := r.BlockNumber
	if !r.Success {
		res := domain.FailedResult(actionID, txID, &domain.RevertError{Reason: r.RevertReason})
		res.BlockNumber = &block
		res.Cost = r.Cost
		return res
	}
	return domain.TransactionResult{
		ActionID:    actionID,
		Status:      domain.TxSuccess,
		TxID:        txID,
		BlockNumber: &block,
		Cost:        r.Cost,
	}
}

// AccountOf returns the smart account of owner, asking the factory once per
// owner.
func (i *Interactor) AccountOf(ctx context.Context, owner string) (string, error) {
	if owner == "" {
		return "", fmt.Errorf("%w: action has no owner", domain.ErrInvariant)
	}
	i.mu.Lock()
	acct, ok := i.accounts[owner]
	i.mu.Unlock()
	if ok {
		return acct, nil
	}

	factory := i.network.Address(config.ContractFactory)
	data, err := retry(ctx, i, "call", func(ctx context.Context) ([]byte, error) {
		return i.provider.Call(ctx, factory, "getAddress", []string{owner, i.opts.AccountSalt})
	})
	if err != nil {
		return "", fmt.Errorf("derive smart account: %w", err)
	}
	acct, err = DecodeAddress(data)
	if err != nil {
		return "", fmt.Errorf("derive smart account: %w", err)
	}

	i.mu.Lock()
	i.accounts[owner] = acct
	i.mu.Unlock()
	return acct, nil
}

func (i *Interactor) contractAddress(ctx context.Context, act domain.SmartContractAction) (string, error) {
	if act.Target == config.ContractAccount {
		return i.AccountOf(ctx, act.From)
	}
	addr := i.network.Address(act.Target)
	if addr == "" {
		return "", fmt.Errorf("%w: no address for contract %q", domain.ErrInvariant, act.Target)
	}
	return addr, nil
}

// retry runs op with a per-attempt timeout and retries a transient failure
// once after the configured backoff. Everything except ErrNetwork is
// permanent.
func retry[T any](ctx context.Context, i *Interactor, op string, fn func(context.Context) (T, error)) (T, error) {
	attempt := func() (T, error) {
		callCtx, cancel := context.WithTimeout(ctx, i.opts.CallTimeout)
		defer cancel()
		v, err := fn(callCtx)
		if err == nil {
			return v, nil
		}
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w: %s timed out after %s", domain.ErrNetwork, op, i.opts.CallTimeout)
		}
		if !domain.IsRetryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	return backoff.Retry(ctx, attempt,
		backoff.WithBackOff(backoff.NewConstantBackOff(i.opts.RetryBackoff)),
		backoff.WithMaxTries(2),
		backoff.WithNotify(func(err error, d time.Duration) {
			i.logger.Debug("retrying ledger call", "op", op, "error", err, "backoff", d)
		}),
	)
}
