// ABOUTME: Fixed-precision money helpers over shopspring/decimal
// ABOUTME: Half-even rounding to cents and lenient parsing of snapshot values

package money

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Places is the number of fractional digits kept for currency amounts
const Places = 2

// Round applies banker's rounding to cents
func Round(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(Places)
}

// String renders an amount the way snapshots store it ("1000.00")
func String(d decimal.Decimal) string {
	return d.StringFixed(Places)
}

// Parse converts a snapshot value into a decimal.
// Accepts decimal strings, JSON numbers and Go numeric types.
func Parse(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, true
	case *decimal.Decimal:
		if n == nil {
			return decimal.Zero, false
		}
		return *n, true
	case string:
		d, err := decimal.NewFromString(n)
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	case float64:
		return decimal.NewFromFloat(n), true
	case float32:
		return decimal.NewFromFloat32(n), true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int32:
		return decimal.NewFromInt32(n), true
	case int64:
		return decimal.NewFromInt(n), true
	default:
		return decimal.Zero, false
	}
}

// MustParse is Parse for literals known to be valid
func MustParse(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(fmt.Sprintf("money: invalid amount %q", s))
	}
	return d
}

// RelativeChange returns |new-old|/|old|.
// ok is false when old is zero, the caller decides what that means.
func RelativeChange(old, new decimal.Decimal) (ratio decimal.Decimal, ok bool) {
	if old.IsZero() {
		return decimal.Zero, false
	}
	return new.Sub(old).Abs().Div(old.Abs()), true
}
