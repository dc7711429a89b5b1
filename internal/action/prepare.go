package action

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashureev/ledgerchat/internal/domain"
	"github.com/ashureev/ledgerchat/internal/ens"
)

// Reader performs read-only ledger calls.
type Reader interface {
	Read(ctx context.Context, act domain.SmartContractAction) (domain.ReadResult, error)
}

// Prepare completes an action with data only the ledger knows before it is
// shown to the user or executed: recipient names become addresses and
// registrations carry their rent price. Other reads pass through.
func (b *Builder) Prepare(ctx context.Context, act domain.SmartContractAction, r Reader) (domain.SmartContractAction, error) {
	switch act.Kind {
	case domain.IntentSendPayment:
		return b.resolveRecipients(ctx, act, r, 0, 3)
	case domain.IntentSendBatchPayment:
		return b.resolveRecipients(ctx, act, r, 0, 2)
	case domain.IntentCheckBalance:
		return b.resolveRecipients(ctx, act, r, 0, 1)
	case domain.IntentRegisterName:
		return b.prepareRegister(ctx, act, r)
	default:
		return act, nil
	}
}

// resolveRecipients resolves every name slot in args, which repeat with
// the given stride starting at offset.
func (b *Builder) resolveRecipients(ctx context.Context, act domain.SmartContractAction, r Reader, offset, stride int) (domain.SmartContractAction, error) {
	out := act.Clone()
	resolved := make(map[string]string)
	for i := offset; i < len(out.Args); i += stride {
		to := out.Args[i]
		if ens.IsAddress(to) {
			continue
		}
		addr, ok := resolved[to]
		if !ok {
			var err error
			if addr, err = b.resolve(ctx, to, r); err != nil {
				return domain.SmartContractAction{}, err
			}
			resolved[to] = addr
			out.Description = strings.ReplaceAll(out.Description, to, fmt.Sprintf("%s (%s)", to, addr))
		}
		out.Args[i] = addr
		if out.Subject == to {
			out.Subject = addr
		}
	}
	return out, nil
}

func (b *Builder) resolve(ctx context.Context, name string, r Reader) (string, error) {
	lookup, err := b.Build(domain.NewIntent(domain.ResolveNameParams{Name: name}, 1, name), "")
	if err != nil {
		return "", err
	}
	res, err := r.Read(ctx, lookup)
	if err != nil {
		return "", err
	}
	if !res.Found || res.Address == "" {
		return "", fmt.Errorf("%w: %s does not resolve to an address", domain.ErrInvalidName, name)
	}
	return res.Address, nil
}

func (b *Builder) prepareRegister(ctx context.Context, act domain.SmartContractAction, r Reader) (domain.SmartContractAction, error) {
	if len(act.Args) < 3 {
		return domain.SmartContractAction{}, fmt.Errorf("%w: register action without duration", domain.ErrInvariant)
	}
	name := act.Subject

	avail, err := b.Build(domain.NewIntent(domain.CheckAvailabilityParams{Name: name}, 1, name), "")
	if err != nil {
		return domain.SmartContractAction{}, err
	}
	res, err := r.Read(ctx, avail)
	if err != nil {
		return domain.SmartContractAction{}, err
	}
	if !res.Bool {
		return domain.SmartContractAction{}, fmt.Errorf("%w: %s is already registered", domain.ErrInvalidName, name)
	}

	quote := avail
	quote.ID = domain.NewActionID()
	quote.Kind = domain.IntentCheckPrice
	quote.Function = "rentPrice"
	quote.Args = []string{act.Args[0], act.Args[2]}
	quote.Returns = domain.ReturnUint
	price, err := r.Read(ctx, quote)
	if err != nil {
		return domain.SmartContractAction{}, err
	}
	if price.Amount == nil {
		return domain.SmartContractAction{}, fmt.Errorf("%w: no price quoted for %s", domain.ErrNetwork, name)
	}

	out := act.Clone()
	out.Value = price.Amount
	out.Description = fmt.Sprintf("%s (%s %s)", act.Description, FormatUnits(price.Amount, b.network.Decimals), b.network.NativeSymbol)
	return out, nil
}
