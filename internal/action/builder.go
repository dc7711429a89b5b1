// Package action turns recognized intents into executable ledger actions.
package action

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ashureev/ledgerchat/internal/config"
	"github.com/ashureev/ledgerchat/internal/domain"
	"github.com/ashureev/ledgerchat/internal/ens"
)

const secondsPerYear = 365 * 24 * 60 * 60

// ClarificationNeeded is returned when an intent is well-formed but cannot
// become an action without more input from the user.
type ClarificationNeeded struct {
	Missing []string
	Reason  domain.ErrorKind
	Message string
}

func (c *ClarificationNeeded) Error() string {
	return "clarification needed: " + c.Message
}

// Builder maps each intent kind to exactly one contract/function pair.
type Builder struct {
	network *config.Network
	bounds  Bounds
}

// NewBuilder creates a builder for the given network catalogue.
func NewBuilder(network *config.Network) (*Builder, error) {
	if network == nil {
		return nil, fmt.Errorf("network is required")
	}
	bounds, err := NewBounds(network.Amounts.Min, network.Amounts.Max, network.Decimals)
	if err != nil {
		return nil, fmt.Errorf("amount bounds: %w", err)
	}
	return &Builder{network: network, bounds: bounds}, nil
}

// Network returns the catalogue the builder targets.
func (b *Builder) Network() *config.Network {
	return b.network
}

// Build translates an intent into a SmartContractAction. owner is the
// wallet address of the session, empty for anonymous sessions.
//
// Errors are ErrUnsupportedIntent, ErrInvalidAmount, ErrInvalidName or a
// *ClarificationNeeded; none of them is fatal to the request.
func (b *Builder) Build(in domain.Intent, owner string) (domain.SmartContractAction, error) {
	if in.Kind == domain.IntentUnknown || in.Params == nil {
		return domain.SmartContractAction{}, fmt.Errorf("%w: %s", domain.ErrUnsupportedIntent, in.Kind)
	}
	if m := in.Params.Missing(); len(m) > 0 {
		return domain.SmartContractAction{}, &ClarificationNeeded{
			Missing: m,
			Reason:  domain.KindUnparsableInput,
			Message: "missing " + strings.Join(m, ", "),
		}
	}

	var (
		act domain.SmartContractAction
		err error
	)
	switch p := in.Params.(type) {
	case domain.ResolveNameParams:
		act, err = b.resolveName(p)
	case domain.ResolveAddressParams:
		act, err = b.resolveAddress(p)
	case domain.CheckAvailabilityParams:
		act, err = b.checkAvailability(p)
	case domain.CheckPriceParams:
		act, err = b.checkPrice(p)
	case domain.CheckBalanceParams:
		act, err = b.checkBalance(p)
	case domain.RegisterNameParams:
		act, err = b.registerName(p, owner)
	case domain.SetRecordParams:
		act, err = b.setRecord(p, owner)
	case domain.SendPaymentParams:
		act, err = b.sendPayment(p, owner)
	case domain.SendBatchPaymentParams:
		act, err = b.sendBatch(p, owner)
	default:
		return domain.SmartContractAction{}, fmt.Errorf("%w: %T", domain.ErrUnsupportedIntent, in.Params)
	}
	if err != nil {
		return domain.SmartContractAction{}, err
	}

	act.ID = domain.NewActionID()
	act.Kind = in.Kind
	act.Mutating = in.Kind.Mutating()
	if err := act.Validate(); err != nil {
		return domain.SmartContractAction{}, err
	}
	return act, nil
}

func (b *Builder) resolveName(p domain.ResolveNameParams) (domain.SmartContractAction, error) {
	if err := ens.Validate(p.Name); err != nil {
		return domain.SmartContractAction{}, err
	}
	name := ens.Normalize(p.Name)
	return domain.SmartContractAction{
		Target:      config.ContractResolver,
		Function:    "addr",
		Args:        []string{ens.NamehashHex(name)},
		Returns:     domain.ReturnAddress,
		Description: "Resolve " + name,
		Subject:     name,
	}, nil
}

func (b *Builder) resolveAddress(p domain.ResolveAddressParams) (domain.SmartContractAction, error) {
	addr := ens.NormalizeAddress(p.Address)
	if addr == "" {
		return domain.SmartContractAction{}, fmt.Errorf("%w: %q is not an address", domain.ErrInvalidName, p.Address)
	}
	return domain.SmartContractAction{
		Target:      config.ContractReverse,
		Function:    "name",
		Args:        []string{ens.NamehashHex(ens.ReverseName(addr))},
		Returns:     domain.ReturnString,
		Description: "Look up the primary name of " + addr,
		Subject:     addr,
	}, nil
}

func (b *Builder) checkAvailability(p domain.CheckAvailabilityParams) (domain.SmartContractAction, error) {
	label, err := ens.Label(p.Name)
	if err != nil {
		return domain.SmartContractAction{}, err
	}
	name := ens.Normalize(p.Name)
	return domain.SmartContractAction{
		Target:      config.ContractController,
		Function:    "available",
		Args:        []string{label},
		Returns:     domain.ReturnBool,
		Description: "Check whether " + name + " is available",
		Subject:     name,
	}, nil
}

func (b *Builder) checkPrice(p domain.CheckPriceParams) (domain.SmartContractAction, error) {
	label, err := ens.Label(p.Name)
	if err != nil {
		return domain.SmartContractAction{}, err
	}
	years, err := b.years(p.YearsOrDefault())
	if err != nil {
		return domain.SmartContractAction{}, err
	}
	name := ens.Normalize(p.Name)
	return domain.SmartContractAction{
		Target:      config.ContractController,
		Function:    "rentPrice",
		Args:        []string{label, strconv.Itoa(years * secondsPerYear)},
		Returns:     domain.ReturnUint,
		Description: fmt.Sprintf("Quote %s for %s", name, pluralYears(years)),
		Subject:     name,
	}, nil
}

func (b *Builder) checkBalance(p domain.CheckBalanceParams) (domain.SmartContractAction, error) {
	subject, err := recipient(p.Address)
	if err != nil {
		return domain.SmartContractAction{}, err
	}
	return domain.SmartContractAction{
		Target:      config.ContractNative,
		Function:    "getBalance",
		Args:        []string{subject},
		Returns:     domain.ReturnUint,
		Description: "Check the balance of " + subject,
		Subject:     subject,
	}, nil
}

func (b *Builder) registerName(p domain.RegisterNameParams, owner string) (domain.SmartContractAction, error) {
	label, err := ens.Label(p.Name)
	if err != nil {
		return domain.SmartContractAction{}, err
	}
	if owner == "" {
		return domain.SmartContractAction{}, needWallet("register a name")
	}
	years, err := b.years(p.YearsOrDefault())
	if err != nil {
		return domain.SmartContractAction{}, err
	}
	name := ens.Normalize(p.Name)
	return domain.SmartContractAction{
		Target:   config.ContractController,
		Function: "register",
		Args: []string{
			label,
			owner,
			strconv.Itoa(years * secondsPerYear),
			b.network.Address(config.ContractResolver),
		},
		Description: fmt.Sprintf("Register %s for %s", name, pluralYears(years)),
		From:        owner,
		Subject:     name,
	}, nil
}

func (b *Builder) setRecord(p domain.SetRecordParams, owner string) (domain.SmartContractAction, error) {
	if err := ens.Validate(p.Name); err != nil {
		return domain.SmartContractAction{}, err
	}
	if owner == "" {
		return domain.SmartContractAction{}, needWallet("update records")
	}
	name := ens.Normalize(p.Name)
	node := ens.NamehashHex(name)
	key := strings.ToLower(strings.TrimSpace(p.Key))

	switch key {
	case "addr", "address", "eth":
		addr := ens.NormalizeAddress(p.Value)
		if addr == "" {
			return domain.SmartContractAction{}, &ClarificationNeeded{
				Missing: []string{"value"},
				Reason:  domain.KindUnparsableInput,
				Message: fmt.Sprintf("%q is not an address", p.Value),
			}
		}
		return domain.SmartContractAction{
			Target:      config.ContractResolver,
			Function:    "setAddr",
			Args:        []string{node, addr},
			Description: fmt.Sprintf("Point %s at %s", name, addr),
			From:        owner,
			Subject:     name,
		}, nil
	default:
		return domain.SmartContractAction{
			Target:      config.ContractResolver,
			Function:    "setText",
			Args:        []string{node, key, p.Value},
			Description: fmt.Sprintf("Set the %s record of %s to %q", key, name, p.Value),
			From:        owner,
			Subject:     name,
		}, nil
	}
}

func (b *Builder) sendPayment(p domain.SendPaymentParams, owner string) (domain.SmartContractAction, error) {
	if owner == "" {
		return domain.SmartContractAction{}, needWallet("send payments")
	}
	to, err := recipient(p.Recipient)
	if err != nil {
		return domain.SmartContractAction{}, err
	}
	amount, err := b.bounds.ParseAmount(p.Amount, b.network.Decimals)
	if err != nil {
		return domain.SmartContractAction{}, err
	}
	return domain.SmartContractAction{
		Target:      config.ContractAccount,
		Function:    "execute",
		Args:        []string{to, amount.String(), "0x"},
		Value:       amount,
		Description: fmt.Sprintf("Send %s %s to %s", FormatUnits(amount, b.network.Decimals), b.network.NativeSymbol, to),
		From:        owner,
		Subject:     to,
	}, nil
}

func (b *Builder) sendBatch(p domain.SendBatchPaymentParams, owner string) (domain.SmartContractAction, error) {
	if owner == "" {
		return domain.SmartContractAction{}, needWallet("send payments")
	}
	total := new(big.Int)
	args := make([]string, 0, 2*len(p.Payments))
	parts := make([]string, 0, len(p.Payments))
	for _, pay := range p.Payments {
		to, err := recipient(pay.Recipient)
		if err != nil {
			return domain.SmartContractAction{}, err
		}
		amount, err := b.bounds.ParseAmount(pay.Amount, b.network.Decimals)
		if err != nil {
			return domain.SmartContractAction{}, err
		}
		total.Add(total, amount)
		args = append(args, to, amount.String())
		parts = append(parts, fmt.Sprintf("%s %s to %s", FormatUnits(amount, b.network.Decimals), b.network.NativeSymbol, to))
	}
	return domain.SmartContractAction{
		Target:   config.ContractAccount,
		Function: "executeBatch",
		Args:     args,
		Value:    total,
		Description: fmt.Sprintf("Send %d payments (%s total): %s",
			len(p.Payments), FormatUnits(total, b.network.Decimals)+" "+b.network.NativeSymbol, strings.Join(parts, "; ")),
		From: owner,
	}, nil
}

func (b *Builder) years(y int) (int, error) {
	if y > b.network.Registration.MaxYears {
		return 0, &ClarificationNeeded{
			Missing: []string{"years"},
			Reason:  domain.KindInvalidAmount,
			Message: fmt.Sprintf("registrations are limited to %s", pluralYears(b.network.Registration.MaxYears)),
		}
	}
	return y, nil
}

// recipient accepts an address or an ENS name; names are resolved to
// addresses during preparation.
func recipient(s string) (string, error) {
	if addr := ens.NormalizeAddress(s); addr != "" {
		return addr, nil
	}
	if err := ens.Validate(s); err != nil {
		return "", err
	}
	return ens.Normalize(s), nil
}

func needWallet(what string) *ClarificationNeeded {
	return &ClarificationNeeded{
		Missing: []string{"wallet"},
		Reason:  domain.KindUnparsableInput,
		Message: "connect a wallet to " + what,
	}
}

func pluralYears(y int) string {
	if y == 1 {
		return "1 year"
	}
	return fmt.Sprintf("%d years", y)
}
