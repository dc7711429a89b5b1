package confirm

import (
	"fmt"
	"strings"
	"time"

	"github.com/ashureev/ledgerchat/internal/domain"
)

// Answer is how a message reads while a confirmation may be pending.
type Answer int

const (
	Unrelated Answer = iota
	Affirmative
	Negative
)

func (a Answer) String() string {
	switch a {
	case Affirmative:
		return "affirmative"
	case Negative:
		return "negative"
	default:
		return "unrelated"
	}
}

// replyWords maps the words and two-word phrases that answer a
// confirmation to their meaning.
var replyWords = map[string]Answer{
	"yes": Affirmative, "y": Affirmative, "ok": Affirmative, "okay": Affirmative,
	"confirm": Affirmative, "confirmed": Affirmative, "proceed": Affirmative,
	"go ahead": Affirmative, "do it": Affirmative, "continue": Affirmative,
	"sure": Affirmative, "yep": Affirmative, "yup": Affirmative, "affirmative": Affirmative,

	"no": Negative, "n": Negative, "cancel": Negative, "abort": Negative,
	"stop": Negative, "nope": Negative, "reject": Negative, "nevermind": Negative,
	"never mind": Negative, "forget it": Negative, "nah": Negative, "don't": Negative,
}

// fillerWords may surround a reply without changing it.
var fillerWords = map[string]bool{
	"please": true, "thanks": true, "thank": true, "you": true,
	"it": true, "that": true, "now": true, "then": true, "just": true,
}

// Classify reads text as a yes/no reply. Every word must be a reply word or
// filler, so "ok, what's my balance?" is Unrelated. Negative wins over
// affirmative so "no, don't proceed" cancels.
func Classify(text string) Answer {
	tokens := replyTokens(text)
	var yes, no bool
	for i := 0; i < len(tokens); {
		if i+1 < len(tokens) {
			if a, ok := replyWords[tokens[i]+" "+tokens[i+1]]; ok {
				yes, no = yes || a == Affirmative, no || a == Negative
				i += 2
				continue
			}
		}
		a, ok := replyWords[tokens[i]]
		switch {
		case ok:
			yes, no = yes || a == Affirmative, no || a == Negative
		case !fillerWords[tokens[i]]:
			return Unrelated
		}
		i++
	}
	switch {
	case no:
		return Negative
	case yes:
		return Affirmative
	default:
		return Unrelated
	}
}

func replyTokens(text string) []string {
	lower := strings.ToLower(text)
	lower = strings.ReplaceAll(lower, "\u2019", "'")
	return strings.FieldsFunc(lower, func(r rune) bool {
		switch r {
		case ' ', '\t', '\n', '\r', ',', '.', '!', '?', ';', ':':
			return true
		}
		return false
	})
}

// Prompt renders the confirmation request for a parked action.
func Prompt(p *domain.PendingAction) string {
	var sb strings.Builder
	sb.WriteString("Please confirm: ")
	sb.WriteString(p.Action.Description)
	sb.WriteString(".\n\nReply **yes** to proceed or **no** to cancel.")
	if ttl := p.ExpiresAt.Sub(p.CreatedAt); ttl > 0 {
		fmt.Fprintf(&sb, " This request expires in %s.", ttl.Round(time.Second))
	}
	return sb.String()
}
