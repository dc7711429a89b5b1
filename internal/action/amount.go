package action

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/ashureev/ledgerchat/internal/domain"
)

var amountPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

// ParseUnits converts a decimal string into the ledger's fixed-point
// integer with the given number of decimals. "0.5" with 18 decimals is
// 500000000000000000.
func ParseUnits(s string, decimals int) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if !amountPattern.MatchString(s) {
		return nil, fmt.Errorf("%w: %q is not a decimal number", domain.ErrInvalidAmount, s)
	}
	whole, frac, _ := strings.Cut(s, ".")
	frac = strings.TrimRight(frac, "0")
	if len(frac) > decimals {
		return nil, fmt.Errorf("%w: %q has more than %d decimals", domain.ErrInvalidAmount, s, decimals)
	}
	digits := whole + frac + strings.Repeat("0", decimals-len(frac))
	v, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidAmount, s)
	}
	return v, nil
}

// FormatUnits renders a fixed-point integer as a trimmed decimal string.
func FormatUnits(v *big.Int, decimals int) string {
	if v == nil {
		return "0"
	}
	neg := v.Sign() < 0
	digits := new(big.Int).Abs(v).String()
	if len(digits) <= decimals {
		digits = strings.Repeat("0", decimals-len(digits)+1) + digits
	}
	whole := digits[:len(digits)-decimals]
	frac := strings.TrimRight(digits[len(digits)-decimals:], "0")
	out := whole
	if frac != "" {
		out += "." + frac
	}
	if neg {
		out = "-" + out
	}
	return out
}

// Bounds limits the amounts a single payment may carry.
type Bounds struct {
	Min *big.Int
	Max *big.Int
}

// NewBounds parses decimal min/max strings.
func NewBounds(minAmount, maxAmount string, decimals int) (Bounds, error) {
	lo, err := ParseUnits(minAmount, decimals)
	if err != nil {
		return Bounds{}, fmt.Errorf("min bound: %w", err)
	}
	hi, err := ParseUnits(maxAmount, decimals)
	if err != nil {
		return Bounds{}, fmt.Errorf("max bound: %w", err)
	}
	if lo.Cmp(hi) > 0 {
		return Bounds{}, fmt.Errorf("min bound %s exceeds max bound %s", minAmount, maxAmount)
	}
	return Bounds{Min: lo, Max: hi}, nil
}

// ParseAmount parses s and checks it against the bounds.
func (b Bounds) ParseAmount(s string, decimals int) (*big.Int, error) {
	v, err := ParseUnits(s, decimals)
	if err != nil {
		return nil, err
	}
	if b.Min != nil && v.Cmp(b.Min) < 0 {
		return nil, fmt.Errorf("%w: %s is below the minimum of %s", domain.ErrInvalidAmount, s, FormatUnits(b.Min, decimals))
	}
	if b.Max != nil && v.Cmp(b.Max) > 0 {
		return nil, fmt.Errorf("%w: %s is above the maximum of %s", domain.ErrInvalidAmount, s, FormatUnits(b.Max, decimals))
	}
	return v, nil
}
