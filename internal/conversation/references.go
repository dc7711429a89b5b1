package conversation

import (
	"regexp"

	"github.com/ashureev/ledgerchat/internal/domain"
	"github.com/ashureev/ledgerchat/internal/ens"
)

var (
	nameMarker    = regexp.MustCompile(`(?i)\b(?:that|this|the same|the) (?:ens name|name|domain)\b|\b(?:it|its)\b`)
	addressMarker = regexp.MustCompile(`(?i)\b(?:that|this|the same) (?:address|wallet|account)\b`)
)

// Resolution is the outcome of reference resolution on one message.
type Resolution struct {
	Text string
	// Substituted is true when at least one marker was replaced.
	Substituted bool
	// Unresolved is true when the text refers back to something the
	// session has no antecedent for.
	Unresolved bool
}

// ResolveReferences replaces anaphoric markers ("it", "that name", "this
// address") with the session's last-referenced entity. Text that already
// names an explicit entity of the same kind is left alone, and a marker
// without an antecedent is left in place and reported as unresolved.
func ResolveReferences(snap domain.Snapshot, text string) Resolution {
	res := Resolution{Text: text}

	if len(ens.FindNames(text)) == 0 && len(ens.FindAddresses(text)) == 0 && nameMarker.MatchString(text) {
		switch {
		case snap.LastEntityName != "":
			res.Text = nameMarker.ReplaceAllLiteralString(res.Text, snap.LastEntityName)
			res.Substituted = true
		case snap.LastAddress != "":
			res.Text = nameMarker.ReplaceAllLiteralString(res.Text, snap.LastAddress)
			res.Substituted = true
		default:
			res.Unresolved = true
		}
	}

	if len(ens.FindAddresses(text)) == 0 && addressMarker.MatchString(res.Text) {
		switch {
		case snap.LastAddress != "":
			res.Text = addressMarker.ReplaceAllLiteralString(res.Text, snap.LastAddress)
			res.Substituted = true
		case snap.LastEntityName != "":
			res.Text = addressMarker.ReplaceAllLiteralString(res.Text, snap.LastEntityName)
			res.Substituted = true
		default:
			res.Unresolved = true
		}
	}
	return res
}
