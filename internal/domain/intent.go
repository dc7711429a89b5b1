package domain

import (
	"fmt"
	"strings"
)

// IntentKind tags the operation a chat message asks for.
type IntentKind string

const (
	IntentResolveName       IntentKind = "resolve-name"
	IntentResolveAddress    IntentKind = "resolve-address"
	IntentCheckAvailability IntentKind = "check-availability"
	IntentCheckPrice        IntentKind = "check-price"
	IntentRegisterName      IntentKind = "register-name"
	IntentSetRecord         IntentKind = "set-record"
	IntentSendPayment       IntentKind = "send-payment"
	IntentSendBatchPayment  IntentKind = "send-batch-payment"
	IntentCheckBalance      IntentKind = "check-balance"
	IntentUnknown           IntentKind = "unknown"
)

// Mutating reports whether operations of this kind change ledger state.
func (k IntentKind) Mutating() bool {
	switch k {
	case IntentRegisterName, IntentSetRecord, IntentSendPayment, IntentSendBatchPayment:
		return true
	default:
		return false
	}
}

// Params is the closed set of per-kind parameter payloads. Every payload
// validates its required fields at construction through NewIntent.
type Params interface {
	Kind() IntentKind
	// Missing lists the required fields that are empty.
	Missing() []string
	// Fields flattens the payload for logs, history and responses.
	Fields() map[string]string
	sealed()
}

type ResolveNameParams struct {
	Name string
}

type ResolveAddressParams struct {
	Address string
}

type CheckAvailabilityParams struct {
	Name string
}

type CheckPriceParams struct {
	Name string
	// Years defaults to one when zero.
	Years int
}

type RegisterNameParams struct {
	Name  string
	Years int
}

type SetRecordParams struct {
	Name  string
	Key   string
	Value string
}

// Payment is one recipient/amount pair. Amount stays a decimal string until
// the action builder converts it to the ledger's fixed-point unit.
type Payment struct {
	Recipient string
	Amount    string
}

type SendPaymentParams struct {
	Payment
}

type SendBatchPaymentParams struct {
	Payments []Payment
}

type CheckBalanceParams struct {
	Address string
}

func (ResolveNameParams) Kind() IntentKind       { return IntentResolveName }
func (ResolveAddressParams) Kind() IntentKind    { return IntentResolveAddress }
func (CheckAvailabilityParams) Kind() IntentKind { return IntentCheckAvailability }
func (CheckPriceParams) Kind() IntentKind        { return IntentCheckPrice }
func (RegisterNameParams) Kind() IntentKind      { return IntentRegisterName }
func (SetRecordParams) Kind() IntentKind         { return IntentSetRecord }
func (SendPaymentParams) Kind() IntentKind       { return IntentSendPayment }
func (SendBatchPaymentParams) Kind() IntentKind  { return IntentSendBatchPayment }
func (CheckBalanceParams) Kind() IntentKind      { return IntentCheckBalance }

func (ResolveNameParams) sealed()       {}
func (ResolveAddressParams) sealed()    {}
func (CheckAvailabilityParams) sealed() {}
func (CheckPriceParams) sealed()        {}
func (RegisterNameParams) sealed()      {}
func (SetRecordParams) sealed()         {}
func (SendPaymentParams) sealed()       {}
func (SendBatchPaymentParams) sealed()  {}
func (CheckBalanceParams) sealed()      {}

func missing(pairs ...string) []string {
	var out []string
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			out = append(out, pairs[i])
		}
	}
	return out
}

func (p ResolveNameParams) Missing() []string       { return missing("name", p.Name) }
func (p ResolveAddressParams) Missing() []string    { return missing("address", p.Address) }
func (p CheckAvailabilityParams) Missing() []string { return missing("name", p.Name) }
func (p CheckPriceParams) Missing() []string        { return missing("name", p.Name) }
func (p RegisterNameParams) Missing() []string      { return missing("name", p.Name) }
func (p SetRecordParams) Missing() []string {
	return missing("name", p.Name, "key", p.Key, "value", p.Value)
}
func (p SendPaymentParams) Missing() []string {
	return missing("recipient", p.Recipient, "amount", p.Amount)
}
func (p SendBatchPaymentParams) Missing() []string {
	if len(p.Payments) == 0 {
		return []string{"payments"}
	}
	var out []string
	for i, pay := range p.Payments {
		for _, m := range missing("recipient", pay.Recipient, "amount", pay.Amount) {
			out = append(out, fmt.Sprintf("payments[%d].%s", i, m))
		}
	}
	return out
}
func (p CheckBalanceParams) Missing() []string { return missing("address", p.Address) }

func (p ResolveNameParams) Fields() map[string]string { return map[string]string{"name": p.Name} }
func (p ResolveAddressParams) Fields() map[string]string {
	return map[string]string{"address": p.Address}
}
func (p CheckAvailabilityParams) Fields() map[string]string {
	return map[string]string{"name": p.Name}
}
func (p CheckPriceParams) Fields() map[string]string {
	return map[string]string{"name": p.Name, "years": fmt.Sprint(yearsOrDefault(p.Years))}
}
func (p RegisterNameParams) Fields() map[string]string {
	return map[string]string{"name": p.Name, "years": fmt.Sprint(yearsOrDefault(p.Years))}
}
func (p SetRecordParams) Fields() map[string]string {
	return map[string]string{"name": p.Name, "key": p.Key, "value": p.Value}
}
func (p SendPaymentParams) Fields() map[string]string {
	return map[string]string{"recipient": p.Recipient, "amount": p.Amount}
}
func (p SendBatchPaymentParams) Fields() map[string]string {
	out := map[string]string{"count": fmt.Sprint(len(p.Payments))}
	for i, pay := range p.Payments {
		out[fmt.Sprintf("recipient_%d", i)] = pay.Recipient
		out[fmt.Sprintf("amount_%d", i)] = pay.Amount
	}
	return out
}
func (p CheckBalanceParams) Fields() map[string]string {
	return map[string]string{"address": p.Address}
}

func yearsOrDefault(y int) int {
	if y <= 0 {
		return 1
	}
	return y
}

// YearsOrDefault returns the registration period, defaulting to one year.
func (p RegisterNameParams) YearsOrDefault() int { return yearsOrDefault(p.Years) }

// YearsOrDefault returns the quoted period, defaulting to one year.
func (p CheckPriceParams) YearsOrDefault() int { return yearsOrDefault(p.Years) }

// Intent is the structured reading of one chat message.
//
// A buildable intent has non-nil Params with nothing missing and a
// confidence at or above the recognizer's threshold. Anything else needs
// clarification and must never reach the action builder.
type Intent struct {
	Kind       IntentKind
	Params     Params
	Confidence float64
	// MissingFields is set when a recognized kind lacks mandatory input.
	MissingFields []string
	// Reason explains why the intent needs clarification, as a taxonomy kind.
	Reason ErrorKind
	Text   string
}

// UnknownIntent is the zero-confidence reading of unparsable text.
func UnknownIntent(text string) Intent {
	return Intent{Kind: IntentUnknown, Confidence: 0, Reason: KindUnparsableInput, Text: text}
}

// NewIntent validates params and builds an intent. A payload with missing
// required fields is returned as a clarification-needed intent, never as a
// buildable one.
func NewIntent(params Params, confidence float64, text string) Intent {
	if params == nil {
		return UnknownIntent(text)
	}
	in := Intent{
		Kind:       params.Kind(),
		Params:     params,
		Confidence: clamp01(confidence),
		Text:       text,
	}
	if m := params.Missing(); len(m) > 0 {
		in.MissingFields = m
		in.Reason = KindUnparsableInput
	}
	return in
}

// NeedsClarification reports whether the intent cannot be built as-is.
func (in Intent) NeedsClarification(threshold float64) bool {
	if in.Kind == IntentUnknown || in.Params == nil {
		return true
	}
	if len(in.MissingFields) > 0 || in.Reason != KindNone {
		return true
	}
	return in.Confidence < threshold
}

// Fields returns the flattened parameters, or nil for unknown intents.
func (in Intent) Fields() map[string]string {
	if in.Params == nil {
		return nil
	}
	return in.Params.Fields()
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
