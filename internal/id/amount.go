package id

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	clierr "github.com/ggonzalez94/arrakis-cli/internal/errors"
)

var decimalPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

// ParseAmount converts --<flag> (base units) or --<flag>-decimal into base
// units. Exactly one of the two must be set.
func ParseAmount(flag, baseUnits, decimal string, decimals int) (*big.Int, error) {
	baseUnits, decimal = strings.TrimSpace(baseUnits), strings.TrimSpace(decimal)
	switch {
	case baseUnits != "" && decimal != "":
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("use either --%s or --%s-decimal, not both", flag, flag))
	case baseUnits == "" && decimal == "":
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("--%s or --%s-decimal is required", flag, flag))
	case decimals < 0:
		return nil, clierr.New(clierr.CodeUsage, "decimals must be >= 0")
	}
	if baseUnits != "" {
		v, ok := new(big.Int).SetString(baseUnits, 10)
		if !ok || v.Sign() < 0 {
			return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("--%s must be a non-negative integer in base units", flag))
		}
		return v, nil
	}
	if !decimalPattern.MatchString(decimal) {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("--%s-decimal must look like 1.23", flag))
	}
	return scaleDecimal(flag, decimal, decimals)
}

func scaleDecimal(flag, decimal string, decimals int) (*big.Int, error) {
	whole, frac, _ := strings.Cut(decimal, ".")
	if len(frac) > decimals {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("--%s-decimal has more than %d fractional digits", flag, decimals))
	}
	v, ok := new(big.Int).SetString(whole+frac+strings.Repeat("0", decimals-len(frac)), 10)
	if !ok {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid --%s-decimal", flag))
	}
	return v, nil
}

// ParseOptionalInt parses an optional base-unit integer flag; empty is nil.
func ParseOptionalInt(flag, input string) (*big.Int, error) {
	v := strings.TrimSpace(input)
	if v == "" {
		return nil, nil
	}
	n, ok := new(big.Int).SetString(v, 10)
	if !ok || n.Sign() < 0 {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("--%s must be a non-negative integer in base units", flag))
	}
	return n, nil
}

// FormatUnits renders base units as a decimal string with trailing zeros
// trimmed.
func FormatUnits(v *big.Int, decimals int) string {
	if v == nil {
		return "0"
	}
	if decimals <= 0 {
		return v.String()
	}
	abs := new(big.Int).Abs(v)
	whole, frac := new(big.Int).QuoRem(abs, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil), new(big.Int))
	out := whole.String()
	if frac.Sign() != 0 {
		digits := fmt.Sprintf("%0*s", decimals, frac.String())
		out += "." + strings.TrimRight(digits, "0")
	}
	if v.Sign() < 0 {
		out = "-" + out
	}
	return out
}
