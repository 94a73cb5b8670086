// Package money provides fixed-precision parsing and arithmetic for
// monetary amounts.
//
// Fiat amounts (MXN) carry 2 decimal places and are held as int64
// centavos. The custody token (MXNB) uses 6 decimal places on-chain;
// TokenUnits converts between the two. Floating point is never used.
package money

import (
	"math/big"
	"strings"
)

const (
	// FiatDecimals is the minor-unit precision of fiat amounts.
	FiatDecimals = 2

	// TokenDecimals is the on-chain precision of the custody token.
	TokenDecimals = 6
)

// Parse converts a decimal string (e.g. "1500.50") to centavos (150050).
// Returns (0, false) on invalid input.
//
// Rules:
//   - Empty string returns (0, true)
//   - Negative amounts are rejected
//   - Multiple decimal points are rejected
//   - Fractional digits beyond 2 places are truncated, never rounded up
func Parse(s string) (int64, bool) {
	if s == "" {
		return 0, true
	}

	if strings.HasPrefix(s, "-") {
		return 0, false
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return 0, false
	}
	whole := parts[0]
	frac := ""
	if len(parts) > 1 {
		frac = parts[1]
	}

	for len(frac) < FiatDecimals {
		frac += "0"
	}
	frac = frac[:FiatDecimals]

	combined := whole + frac
	v, ok := new(big.Int).SetString(combined, 10)
	if !ok || !v.IsInt64() {
		return 0, false
	}
	return v.Int64(), true
}

// Format converts centavos to a decimal string with exactly 2 decimal
// places (e.g. 150050 -> "1500.50").
func Format(cents int64) string {
	neg := cents < 0
	if neg {
		cents = -cents
	}
	s := big.NewInt(cents).String()
	for len(s) < FiatDecimals+1 {
		s = "0" + s
	}
	cut := len(s) - FiatDecimals
	out := s[:cut] + "." + s[cut:]
	if neg {
		out = "-" + out
	}
	return out
}

// ParsePercent converts a percentage string (e.g. "3", "2.5") to basis
// points (300, 250). At most 2 fractional digits are kept. Returns
// (0, false) for negative or malformed input.
func ParsePercent(s string) (int64, bool) {
	// A percentage is just a 2-decimal fixed-point number scaled by 100.
	return Parse(s)
}

// FormatPercent converts basis points back to a percentage string
// (e.g. 250 -> "2.50").
func FormatPercent(bps int64) string {
	return Format(bps)
}

// ApplyPercent computes amount * bps / 10000 in centavos, truncating
// toward zero. Truncation is deliberate: splitting an amount across
// recipients must never distribute more than the total.
func ApplyPercent(cents, bps int64) int64 {
	product := new(big.Int).Mul(big.NewInt(cents), big.NewInt(bps))
	product.Quo(product, big.NewInt(10000))
	return product.Int64()
}

// TokenUnits converts centavos to on-chain token units (6 decimals).
func TokenUnits(cents int64) *big.Int {
	scale := big.NewInt(10000) // 10^(TokenDecimals-FiatDecimals)
	return new(big.Int).Mul(big.NewInt(cents), scale)
}

// FromTokenUnits converts on-chain token units back to centavos,
// truncating sub-centavo dust.
func FromTokenUnits(units *big.Int) int64 {
	if units == nil {
		return 0
	}
	v := new(big.Int).Quo(units, big.NewInt(10000))
	return v.Int64()
}
