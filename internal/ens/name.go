// Package ens implements the name handling needed to address ENS contracts:
// normalization, validation and the EIP-137 namehash.
package ens

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/ashureev/ledgerchat/internal/domain"
	"golang.org/x/crypto/sha3"
)

// MinLabelLength is the shortest second-level label the registrar accepts.
const MinLabelLength = 3

// TLD is the only top-level domain the pipeline registers under.
const TLD = "eth"

var (
	labelPattern   = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)
	addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
)

// Normalize lowercases and trims a name. Full UTS-46 normalization is not
// applied; names outside [a-z0-9-] are rejected by Validate instead.
func Normalize(name string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(name)), ".")
}

// Validate checks that name is a syntactically valid .eth name.
func Validate(name string) error {
	n := Normalize(name)
	if n == "" {
		return fmt.Errorf("%w: empty name", domain.ErrInvalidName)
	}
	labels := strings.Split(n, ".")
	if len(labels) < 2 || labels[len(labels)-1] != TLD {
		return fmt.Errorf("%w: %q is not a .%s name", domain.ErrInvalidName, name, TLD)
	}
	for _, l := range labels {
		if !labelPattern.MatchString(l) {
			return fmt.Errorf("%w: bad label %q in %q", domain.ErrInvalidName, l, name)
		}
	}
	return nil
}

// Label returns the registrable label of a second-level name, "alice" for
// "alice.eth". Subdomains and short labels are rejected.
func Label(name string) (string, error) {
	if err := Validate(name); err != nil {
		return "", err
	}
	labels := strings.Split(Normalize(name), ".")
	if len(labels) != 2 {
		return "", fmt.Errorf("%w: %q is not a second-level name", domain.ErrInvalidName, name)
	}
	if len(labels[0]) < MinLabelLength {
		return "", fmt.Errorf("%w: %q is shorter than %d characters", domain.ErrInvalidName, labels[0], MinLabelLength)
	}
	return labels[0], nil
}

// Namehash computes the EIP-137 node of a name.
func Namehash(name string) [32]byte {
	var node [32]byte
	n := Normalize(name)
	if n == "" {
		return node
	}
	labels := strings.Split(n, ".")
	for i := len(labels) - 1; i >= 0; i-- {
		labelHash := keccak([]byte(labels[i]))
		node = keccak(node[:], labelHash[:])
	}
	return node
}

// NamehashHex is Namehash rendered as 0x-prefixed hex.
func NamehashHex(name string) string {
	node := Namehash(name)
	return "0x" + hex.EncodeToString(node[:])
}

// ReverseName is the reverse-resolution name of an address.
func ReverseName(address string) string {
	return strings.ToLower(strings.TrimPrefix(strings.ToLower(address), "0x")) + ".addr.reverse"
}

// IsAddress reports whether s is a 20-byte hex address.
func IsAddress(s string) bool {
	return addressPattern.MatchString(strings.TrimSpace(s))
}

// NormalizeAddress lowercases a valid address; invalid input returns "".
func NormalizeAddress(s string) string {
	s = strings.TrimSpace(s)
	if !IsAddress(s) {
		return ""
	}
	return strings.ToLower(s)
}

func keccak(parts ...[]byte) [32]byte {
	h := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		h.Write(p)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

var (
	nameInText    = regexp.MustCompile(`(?i)\b[a-z0-9](?:[a-z0-9-]*[a-z0-9])?(?:\.[a-z0-9](?:[a-z0-9-]*[a-z0-9])?)*\.eth\b`)
	addressInText = regexp.MustCompile(`\b0x[0-9a-fA-F]{40}\b`)
)

// FindNames returns the .eth names mentioned in text, normalized, in order
// of appearance.
func FindNames(text string) []string {
	matches := nameInText.FindAllString(text, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, Normalize(m))
	}
	return out
}

// FindAddresses returns the addresses mentioned in text, lowercased.
func FindAddresses(text string) []string {
	matches := addressInText.FindAllString(text, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, strings.ToLower(m))
	}
	return out
}
