// Package intent turns resolved chat text into a typed domain.Intent.
//
// Candidates come from the built-in Rules classifier or an external
// classifier; the Recognizer normalizes them into the closed set of
// parameter payloads, validates required fields, and applies the tie-break
// between competing kinds.
package intent

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ashureev/ledgerchat/internal/domain"
	"github.com/ashureev/ledgerchat/internal/ens"
)

// DefaultThreshold is the confidence below which an intent needs
// clarification.
const DefaultThreshold = 0.6

// MaxBatchPayments bounds the number of payments in one batch.
const MaxBatchPayments = 20

// RawCandidate is an unvalidated classifier reading.
type RawCandidate struct {
	Kind       string            `json:"kind"`
	Confidence float64           `json:"confidence"`
	Params     map[string]string `json:"params"`
	Source     string            `json:"source,omitempty"`
}

// Input is everything recognition may depend on.
type Input struct {
	Text     string
	Snapshot domain.Snapshot
	// Unresolved marks text that refers back to an entity the session has
	// no antecedent for.
	Unresolved bool
	// External candidates replace the built-in rules when non-empty.
	External []RawCandidate
}

// Recognizer is a pure function of its Input.
type Recognizer struct {
	threshold float64
	rules     Rules
}

// NewRecognizer creates a recognizer with the given confidence threshold.
func NewRecognizer(threshold float64) *Recognizer {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &Recognizer{threshold: threshold}
}

// Threshold returns the clarification threshold.
func (r *Recognizer) Threshold() float64 {
	return r.threshold
}

// priority orders kinds for the tie-break: mutating kinds that name their
// object first, then the more specific informational kinds.
var priority = map[domain.IntentKind]int{
	domain.IntentSendBatchPayment:  0,
	domain.IntentSendPayment:       1,
	domain.IntentRegisterName:      2,
	domain.IntentSetRecord:         3,
	domain.IntentCheckAvailability: 4,
	domain.IntentCheckPrice:        5,
	domain.IntentCheckBalance:      6,
	domain.IntentResolveAddress:    7,
	domain.IntentResolveName:       8,
}

// Recognize reads in.Text as one Intent. Empty or unparsable text is the
// unknown intent with confidence 0.
func (r *Recognizer) Recognize(in Input) domain.Intent {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return domain.UnknownIntent(in.Text)
	}

	raw := in.External
	if len(raw) == 0 {
		raw = r.rules.Classify(text)
	}

	var candidates []domain.Intent
	for _, c := range raw {
		params, err := normalize(c, in.Snapshot)
		if err != nil {
			continue
		}
		candidates = append(candidates, domain.NewIntent(params, c.Confidence, in.Text))
	}
	if len(candidates) == 0 {
		return domain.UnknownIntent(in.Text)
	}

	best := pick(candidates, IsQuestion(text))
	if len(best.MissingFields) > 0 && in.Unresolved {
		best.Reason = domain.KindAmbiguousReference
	}
	return best
}

// strongConfidence marks a candidate whose trigger and object both matched.
const strongConfidence = 0.85

// pick applies the tie-break. Complete candidates beat incomplete ones.
// Among complete candidates a mutating kind wins over informational ones,
// except in a question, where a strong informational reading is preferred.
func pick(cs []domain.Intent, question bool) domain.Intent {
	group := func(in domain.Intent) int {
		if question && !in.Kind.Mutating() && in.Confidence >= strongConfidence {
			return 0
		}
		return 1
	}
	sort.SliceStable(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		ac, bc := len(a.MissingFields) == 0, len(b.MissingFields) == 0
		if ac != bc {
			return ac
		}
		if ga, gb := group(a), group(b); ga != gb {
			return ga < gb
		}
		if priority[a.Kind] != priority[b.Kind] {
			return priority[a.Kind] < priority[b.Kind]
		}
		return a.Confidence > b.Confidence
	})
	return cs[0]
}

// normalize converts a raw candidate into its typed payload.
func normalize(c RawCandidate, snap domain.Snapshot) (domain.Params, error) {
	p := c.Params
	get := func(k string) string { return strings.TrimSpace(p[k]) }

	switch domain.IntentKind(strings.ToLower(strings.TrimSpace(c.Kind))) {
	case domain.IntentResolveName:
		return domain.ResolveNameParams{Name: ens.Normalize(get("name"))}, nil
	case domain.IntentResolveAddress:
		return domain.ResolveAddressParams{Address: strings.ToLower(get("address"))}, nil
	case domain.IntentCheckAvailability:
		return domain.CheckAvailabilityParams{Name: ens.Normalize(get("name"))}, nil
	case domain.IntentCheckPrice:
		return domain.CheckPriceParams{Name: ens.Normalize(get("name")), Years: atoi(get("years"))}, nil
	case domain.IntentRegisterName:
		return domain.RegisterNameParams{Name: ens.Normalize(get("name")), Years: atoi(get("years"))}, nil
	case domain.IntentSetRecord:
		return domain.SetRecordParams{Name: ens.Normalize(get("name")), Key: strings.ToLower(get("key")), Value: get("value")}, nil
	case domain.IntentSendPayment:
		return domain.SendPaymentParams{Payment: domain.Payment{
			Recipient: strings.ToLower(get("recipient")),
			Amount:    amount(get("amount")),
		}}, nil
	case domain.IntentSendBatchPayment:
		n := atoi(get("count"))
		if n <= 0 {
			return nil, fmt.Errorf("batch without payments")
		}
		if n > MaxBatchPayments {
			return nil, fmt.Errorf("batch of %d payments exceeds %d", n, MaxBatchPayments)
		}
		payments := make([]domain.Payment, 0, n)
		for i := 0; i < n; i++ {
			payments = append(payments, domain.Payment{
				Recipient: strings.ToLower(get(fmt.Sprintf("recipient_%d", i))),
				Amount:    amount(get(fmt.Sprintf("amount_%d", i))),
			})
		}
		return domain.SendBatchPaymentParams{Payments: payments}, nil
	case domain.IntentCheckBalance:
		addr := get("address")
		if addr == ownerPlaceholder {
			addr = snap.Owner
		}
		return domain.CheckBalanceParams{Address: strings.ToLower(addr)}, nil
	default:
		return nil, fmt.Errorf("unsupported kind %q", c.Kind)
	}
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// amount strips a trailing unit from "0.5 eth".
func amount(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, unit := range []string{"ether", "eth"} {
		s = strings.TrimSpace(strings.TrimSuffix(s, unit))
	}
	return s
}
