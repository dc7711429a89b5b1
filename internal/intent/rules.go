package intent

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ashureev/ledgerchat/internal/domain"
	"github.com/ashureev/ledgerchat/internal/ens"
)

// entity matches a recipient: an address or a .eth name.
const entity = `(0x[0-9a-f]{40}|[a-z0-9](?:[a-z0-9-]*[a-z0-9])?(?:\.[a-z0-9](?:[a-z0-9-]*[a-z0-9])?)*\.eth)`

// number matches a decimal amount, optionally followed by the native unit.
const number = `([0-9]+(?:\.[0-9]+)?)\s*(?:eth|ether)?`

var (
	paymentTrigger = regexp.MustCompile(`\b(?:send|pay|transfer|give)\b`)
	paymentPair    = regexp.MustCompile(number + `\s+to\s+` + entity)
	eachPayment    = regexp.MustCompile(number + `\s+each\s+to\s+(.+)$`)
	toRecipient    = regexp.MustCompile(`\bto\s+` + entity)
	amountOnly     = regexp.MustCompile(`\b(?:send|pay|transfer|give)\s+` + number + `\b`)

	registerTrigger = regexp.MustCompile(`\b(?:register|claim|buy|reserve|get me)\b`)
	yearsPattern    = regexp.MustCompile(`\b([0-9]{1,3})\s*(?:years?|yrs?)\b`)

	setTrigger     = regexp.MustCompile(`\b(?:set|update|change)\b`)
	pointTrigger   = regexp.MustCompile(`\bpoint\s+` + entity + `\s+(?:to|at)\s+(0x[0-9a-f]{40})`)
	setKeyOfName   = regexp.MustCompile(`\b(?:set|update|change)\s+(?:the\s+)?([a-z][a-z0-9._-]*)\s+(?:record\s+)?(?:of|for|on)\s+` + entity + `\s+to\s+(.+)$`)
	setNameKey     = regexp.MustCompile(`\b(?:set|update|change)\s+` + entity + `(?:'s)?\s+([a-z][a-z0-9._-]*)\s+(?:record\s+)?to\s+(.+)$`)
	availTrigger   = regexp.MustCompile(`\b(?:available|availability|taken|free|registered)\b`)
	priceTrigger   = regexp.MustCompile(`\b(?:price|cost|costs|how much|rent|fee)\b`)
	balanceTrigger = regexp.MustCompile(`\b(?:balance|funds|how much (?:eth|ether) (?:does|do|is))\b`)
	myPattern      = regexp.MustCompile(`\b(?:my|mine|i have|do i)\b`)
	reverseTrigger = regexp.MustCompile(`\b(?:reverse|primary name|name of|name for|who is|whose)\b`)
	resolveTrigger = regexp.MustCompile(`\b(?:resolve|lookup|look up|address of|address for|who owns|owner of|points? to|what is|what's)\b`)
	questionStart  = regexp.MustCompile(`^(?:is|are|can|could|how|what|what's|does|do|which|who)\b`)
)

// Rules is the built-in deterministic classifier. It only proposes
// candidates; Recognizer picks the winner and validates parameters.
type Rules struct{}

// Classify returns every intent the text plausibly expresses.
func (Rules) Classify(text string) []RawCandidate {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return nil
	}
	names := ens.FindNames(t)
	addrs := ens.FindAddresses(t)

	var out []RawCandidate
	add := func(kind domain.IntentKind, confidence float64, params map[string]string) {
		out = append(out, RawCandidate{Kind: string(kind), Confidence: confidence, Params: params, Source: "rules"})
	}

	if paymentTrigger.MatchString(t) {
		pairs := paymentPair.FindAllStringSubmatch(t, -1)
		if m := eachPayment.FindStringSubmatch(t); m != nil {
			recipients := splitEntities(m[2])
			if len(recipients) > 1 {
				pairs = pairs[:0]
				for _, r := range recipients {
					pairs = append(pairs, []string{"", m[1], r})
				}
			}
		}
		switch {
		case len(pairs) > 1:
			params := map[string]string{"count": fmt.Sprint(len(pairs))}
			for i, p := range pairs {
				params[fmt.Sprintf("amount_%d", i)] = p[1]
				params[fmt.Sprintf("recipient_%d", i)] = p[2]
			}
			add(domain.IntentSendBatchPayment, 0.9, params)
		case len(pairs) == 1:
			add(domain.IntentSendPayment, 0.9, map[string]string{"amount": pairs[0][1], "recipient": pairs[0][2]})
		default:
			params := map[string]string{}
			if m := toRecipient.FindStringSubmatch(t); m != nil {
				params["recipient"] = m[1]
			}
			if m := amountOnly.FindStringSubmatch(t); m != nil {
				params["amount"] = m[1]
			}
			add(domain.IntentSendPayment, 0.7, params)
		}
	}

	if registerTrigger.MatchString(t) {
		params := map[string]string{"name": first(names)}
		if m := yearsPattern.FindStringSubmatch(t); m != nil {
			params["years"] = m[1]
		}
		add(domain.IntentRegisterName, confidenceFor(params["name"], 0.9, 0.7), params)
	}

	if m := pointTrigger.FindStringSubmatch(t); m != nil {
		add(domain.IntentSetRecord, 0.9, map[string]string{"name": m[1], "key": "addr", "value": m[2]})
	} else if setTrigger.MatchString(t) {
		switch {
		case setKeyOfName.MatchString(t):
			m := setKeyOfName.FindStringSubmatch(t)
			add(domain.IntentSetRecord, 0.9, map[string]string{"name": m[2], "key": m[1], "value": recordValue(text, m[3])})
		case setNameKey.MatchString(t):
			m := setNameKey.FindStringSubmatch(t)
			add(domain.IntentSetRecord, 0.9, map[string]string{"name": m[1], "key": m[2], "value": recordValue(text, m[3])})
		case strings.Contains(t, "record"):
			add(domain.IntentSetRecord, 0.6, map[string]string{"name": first(names)})
		}
	}

	if availTrigger.MatchString(t) {
		add(domain.IntentCheckAvailability, confidenceFor(first(names), 0.9, 0.7), map[string]string{"name": first(names)})
	}

	if priceTrigger.MatchString(t) && !balanceTrigger.MatchString(t) {
		params := map[string]string{"name": first(names)}
		if m := yearsPattern.FindStringSubmatch(t); m != nil {
			params["years"] = m[1]
		}
		add(domain.IntentCheckPrice, confidenceFor(params["name"], 0.85, 0.6), params)
	}

	if balanceTrigger.MatchString(t) {
		subject := first(addrs)
		if subject == "" {
			subject = first(names)
		}
		confidence := confidenceFor(subject, 0.9, 0.7)
		if subject == "" && myPattern.MatchString(t) {
			subject, confidence = ownerPlaceholder, 0.9
		}
		add(domain.IntentCheckBalance, confidence, map[string]string{"address": subject})
	}

	if len(addrs) > 0 && (reverseTrigger.MatchString(t) || len(names) == 0 && strings.Contains(t, "name")) {
		add(domain.IntentResolveAddress, 0.85, map[string]string{"address": addrs[0]})
	}

	switch {
	case len(names) > 0 && (resolveTrigger.MatchString(t) || strings.Contains(t, "address")):
		add(domain.IntentResolveName, 0.85, map[string]string{"name": names[0]})
	case len(names) > 0 && len(out) == 0:
		// a bare name with no other reading is most likely a lookup
		add(domain.IntentResolveName, 0.6, map[string]string{"name": names[0]})
	case len(names) == 0 && strings.HasPrefix(t, "resolve"):
		add(domain.IntentResolveName, 0.7, map[string]string{"name": ""})
	}

	return out
}

// IsQuestion reports whether text reads as a question rather than a request.
func IsQuestion(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	if strings.HasPrefix(t, "can you") || strings.HasPrefix(t, "could you") {
		return false
	}
	return strings.HasSuffix(t, "?") || questionStart.MatchString(t)
}

// ownerPlaceholder stands for the session's own wallet until normalization
// fills it in.
const ownerPlaceholder = "$owner"

func first(xs []string) string {
	if len(xs) == 0 {
		return ""
	}
	return xs[0]
}

func confidenceFor(object string, with, without float64) float64 {
	if object == "" {
		return without
	}
	return with
}

var entityList = regexp.MustCompile(entity)

func splitEntities(s string) []string {
	return entityList.FindAllString(s, -1)
}

// recordValue recovers the original casing of a record value from the raw
// text, since the lowercased copy is only used for matching.
func recordValue(raw, lowered string) string {
	lowered = strings.TrimSpace(lowered)
	if i := strings.LastIndex(strings.ToLower(raw), lowered); i >= 0 {
		lowered = strings.TrimSpace(raw[i : i+len(lowered)])
	}
	return strings.Trim(lowered, `"'`)
}
