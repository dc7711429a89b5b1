package action

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ashureev/ledgerchat/internal/domain"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestParseUnits(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"1", "1000000000000000000"},
		{"0.5", "500000000000000000"},
		{"0.500", "500000000000000000"},
		{"12.000001", "12000001000000000000"},
		{"0.000000000000000001", "1"},
	}
	for _, tt := range tests {
		got, err := ParseUnits(tt.in, 18)
		if err != nil {
			t.Fatalf("ParseUnits(%q) failed: %v", tt.in, err)
		}
		if got.String() != tt.want {
			t.Errorf("ParseUnits(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}

	for _, bad := range []string{"", "-1", "1e18", "1.", ".5", "one", "1,5"} {
		if _, err := ParseUnits(bad, 18); !errors.Is(err, domain.ErrInvalidAmount) {
			t.Errorf("ParseUnits(%q): expected ErrInvalidAmount, got %v", bad, err)
		}
	}
}

func TestFormatUnits(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"0", "0"},
		{"1", "0.000000000000000001"},
		{"500000000000000000", "0.5"},
		{"1000000000000000000", "1"},
		{"12000001000000000000", "12.000001"},
	}
	for _, tt := range tests {
		v, _ := new(big.Int).SetString(tt.in, 10)
		if got := FormatUnits(v, 18); got != tt.want {
			t.Errorf("FormatUnits(%s) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// Formatting then parsing any non-negative fixed-point value is lossless.
func TestUnitsRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("ParseUnits(FormatUnits(v)) == v", prop.ForAll(
		func(raw int64, decimals int) bool {
			if raw < 0 {
				raw = -raw
			}
			if raw < 0 {
				return true
			}
			v := big.NewInt(raw)
			back, err := ParseUnits(FormatUnits(v, decimals), decimals)
			return err == nil && back.Cmp(v) == 0
		},
		gen.Int64(),
		gen.IntRange(0, 30),
	))

	properties.TestingRun(t)
}

func TestBoundsParseAmount(t *testing.T) {
	t.Parallel()

	b, err := NewBounds("0.01", "1", 18)
	if err != nil {
		t.Fatalf("NewBounds failed: %v", err)
	}
	if _, err := b.ParseAmount("0.5", 18); err != nil {
		t.Fatalf("0.5 should be within bounds: %v", err)
	}
	for _, s := range []string{"0.001", "1.5"} {
		if _, err := b.ParseAmount(s, 18); !errors.Is(err, domain.ErrInvalidAmount) {
			t.Errorf("ParseAmount(%q): expected ErrInvalidAmount, got %v", s, err)
		}
	}
	if _, err := NewBounds("2", "1", 18); err == nil {
		t.Fatal("expected inverted bounds to be rejected")
	}
}
