package id

import (
	"math/big"
	"testing"

	clierr "github.com/ggonzalez94/arrakis-cli/internal/errors"
)

func TestParseAmountBaseUnits(t *testing.T) {
	v, err := ParseAmount("amount0", "1000000", "", 6)
	if err != nil {
		t.Fatalf("ParseAmount failed: %v", err)
	}
	if v.String() != "1000000" {
		t.Fatalf("unexpected amount %s", v)
	}
}

func TestParseAmountDecimal(t *testing.T) {
	cases := map[string]string{
		"1.25":                    "1250000000000000000",
		"2508.820956228242206032": "2508820956228242206032",
		"0.000000000000000001":    "1",
		"007":                     "7000000000000000000",
	}
	for in, want := range cases {
		v, err := ParseAmount("amount1", "", in, 18)
		if err != nil {
			t.Fatalf("ParseAmount(%s) failed: %v", in, err)
		}
		if v.String() != want {
			t.Fatalf("ParseAmount(%s) = %s, want %s", in, v, want)
		}
	}
}

func TestParseAmountValidation(t *testing.T) {
	if _, err := ParseAmount("amount", "10", "1", 6); !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected mutual exclusivity error, got %v", err)
	}
	if _, err := ParseAmount("amount", "", "", 6); !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected required error, got %v", err)
	}
	if _, err := ParseAmount("amount", "", "1.1234567", 6); !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected precision error, got %v", err)
	}
	if _, err := ParseAmount("amount", "-5", "", 6); !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected negative rejection, got %v", err)
	}
	if _, err := ParseAmount("amount", "", "1e18", 18); !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected format rejection, got %v", err)
	}
}

func TestFormatUnits(t *testing.T) {
	swapOut, _ := new(big.Int).SetString("1897690899443769682", 10)
	cases := []struct {
		v        *big.Int
		decimals int
		want     string
	}{
		{big.NewInt(0), 6, "0"},
		{big.NewInt(1500000), 6, "1.5"},
		{big.NewInt(1), 18, "0.000000000000000001"},
		{swapOut, 18, "1.897690899443769682"},
		{big.NewInt(-2500), 3, "-2.5"},
		{big.NewInt(42), 0, "42"},
		{nil, 18, "0"},
	}
	for _, tc := range cases {
		if got := FormatUnits(tc.v, tc.decimals); got != tc.want {
			t.Fatalf("FormatUnits(%v, %d) = %s, want %s", tc.v, tc.decimals, got, tc.want)
		}
	}
}
