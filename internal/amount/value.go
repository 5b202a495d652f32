// Package amount implements exact decimal arithmetic for ledger currency
// amounts and the sortable quality encoding used to order offer books.
//
// Values follow the ledger's own representation: a signed mantissa
// normalized to [10^15, 10^16) and a base-10 exponent. All arithmetic is
// carried out on big integers so repeated funded-amount cascades never
// drift the way binary floating point would.
package amount

import (
	"errors"
	"math/big"
	"strconv"
	"strings"
)

// ErrInvalidAmount reports a malformed numeric input. Malformed operands
// always fail; they are never coerced to zero.
var ErrInvalidAmount = errors.New("invalid amount")

const (
	// Exponent range for normalized values, matching rippled's STAmount.
	minExponent = -96
	maxExponent = 80

	// Mantissa range for normalized non-zero values.
	minMantissa int64 = 1_000_000_000_000_000
	maxMantissa int64 = 9_999_999_999_999_999

	// Exponent used for the zero value.
	zeroExponent = -100
)

// Value is an exact decimal number. The zero Value is the number zero.
//
// A Value can also be positive infinity, which the ledger reports as the
// spendable balance of an issuer trading its own currency.
type Value struct {
	mantissa int64
	exponent int
	inf      bool
}

// Zero returns the zero value.
func Zero() Value {
	return Value{mantissa: 0, exponent: zeroExponent}
}

// Infinity returns the positive infinite value.
func Infinity() Value {
	return Value{inf: true}
}

// NewValue builds a Value from a mantissa and base-10 exponent,
// normalizing the result.
func NewValue(mantissa int64, exponent int) Value {
	return normalizeBig(big.NewInt(mantissa), exponent)
}

// ParseValue parses a decimal string. Plain decimals and exponent
// notation ("1.5", "-0.25", "9.21e-5") are accepted, as is the literal
// "Infinity" the ledger uses for issuer balances. Anything else fails
// with ErrInvalidAmount.
func ParseValue(s string) (Value, error) {
	if s == "Infinity" {
		return Infinity(), nil
	}
	rest := s
	negative := false
	if strings.HasPrefix(rest, "-") {
		negative = true
		rest = rest[1:]
	} else if strings.HasPrefix(rest, "+") {
		rest = rest[1:]
	}

	exp := 0
	if i := strings.IndexAny(rest, "eE"); i >= 0 {
		e, err := strconv.Atoi(rest[i+1:])
		if err != nil {
			return Value{}, ErrInvalidAmount
		}
		exp = e
		rest = rest[:i]
	}

	intPart := rest
	fracPart := ""
	if i := strings.IndexByte(rest, '.'); i >= 0 {
		intPart = rest[:i]
		fracPart = rest[i+1:]
	}
	if intPart == "" && fracPart == "" {
		return Value{}, ErrInvalidAmount
	}
	digits := intPart + fracPart
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return Value{}, ErrInvalidAmount
		}
	}
	exp -= len(fracPart)

	mant, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return Value{}, ErrInvalidAmount
	}
	if negative {
		mant.Neg(mant)
	}
	return normalizeBig(mant, exp), nil
}

// MustParseValue is ParseValue for inputs known to be well formed. It
// panics on malformed input.
func MustParseValue(s string) Value {
	v, err := ParseValue(s)
	if err != nil {
		panic("amount: " + err.Error() + ": " + strconv.Quote(s))
	}
	return v
}

var bigTen = big.NewInt(10)

// normalizeBig reduces an arbitrary-precision mantissa into the
// normalized int64 mantissa/exponent form, rounding half-up on digits
// shifted out. Underflow collapses to zero; overflow saturates to the
// maximum representable value.
func normalizeBig(mant *big.Int, exp int) Value {
	if mant.Sign() == 0 {
		return Zero()
	}
	negative := mant.Sign() < 0
	m := new(big.Int).Abs(mant)

	bigMin := big.NewInt(minMantissa)
	bigMax := big.NewInt(maxMantissa)
	five := big.NewInt(5)

	rem := new(big.Int)
	for m.Cmp(bigMax) > 0 {
		m.DivMod(m, bigTen, rem)
		if rem.Cmp(five) >= 0 {
			m.Add(m, big.NewInt(1))
		}
		exp++
	}
	for m.Cmp(bigMin) < 0 {
		m.Mul(m, bigTen)
		exp--
	}
	if exp < minExponent {
		return Zero()
	}
	if exp > maxExponent {
		exp = maxExponent
		m.Set(bigMax)
	}

	mi := m.Int64()
	if negative {
		mi = -mi
	}
	return Value{mantissa: mi, exponent: exp}
}

// IsZero reports whether the value is exactly zero.
func (v Value) IsZero() bool {
	return !v.inf && v.mantissa == 0
}

// IsNegative reports whether the value is strictly negative.
func (v Value) IsNegative() bool {
	return !v.inf && v.mantissa < 0
}

// IsInfinite reports whether the value is positive infinity.
func (v Value) IsInfinite() bool {
	return v.inf
}

// Signum returns -1, 0 or 1 according to the sign of the value.
func (v Value) Signum() int {
	switch {
	case v.inf:
		return 1
	case v.mantissa < 0:
		return -1
	case v.mantissa > 0:
		return 1
	default:
		return 0
	}
}

// Negate returns the value with its sign flipped. Infinity negates to
// zero since the book never deals in negative infinite balances.
func (v Value) Negate() Value {
	if v.inf {
		return Zero()
	}
	return Value{mantissa: -v.mantissa, exponent: v.exponent}
}

// bigMantissa returns the value as an unscaled big integer and its
// exponent.
func (v Value) bigMantissa() (*big.Int, int) {
	return big.NewInt(v.mantissa), v.exponent
}

// Add returns v + o.
func (v Value) Add(o Value) Value {
	if v.inf || o.inf {
		return Infinity()
	}
	if v.IsZero() {
		return o
	}
	if o.IsZero() {
		return v
	}
	am, ae := v.bigMantissa()
	bm, be := o.bigMantissa()
	// Align both mantissas to the smaller exponent.
	if ae > be {
		am.Mul(am, pow10(ae-be))
		ae = be
	} else if be > ae {
		bm.Mul(bm, pow10(be-ae))
	}
	return normalizeBig(am.Add(am, bm), ae)
}

// Sub returns v - o.
func (v Value) Sub(o Value) Value {
	if v.inf {
		return Infinity()
	}
	return v.Add(o.Negate())
}

// Mul returns v * o.
func (v Value) Mul(o Value) Value {
	if v.inf || o.inf {
		return Infinity()
	}
	if v.IsZero() || o.IsZero() {
		return Zero()
	}
	am, ae := v.bigMantissa()
	bm, be := o.bigMantissa()
	return normalizeBig(am.Mul(am, bm), ae+be)
}

// Div returns v / o. Division by zero fails with ErrInvalidAmount.
func (v Value) Div(o Value) (Value, error) {
	if o.IsZero() {
		return Value{}, ErrInvalidAmount
	}
	if v.inf {
		return Infinity(), nil
	}
	if o.inf || v.IsZero() {
		return Zero(), nil
	}
	am, ae := v.bigMantissa()
	bm, be := o.bigMantissa()
	// Scale the numerator up so the quotient retains 16+ significant
	// digits before normalization.
	am.Mul(am, pow10(17))
	negative := (am.Sign() < 0) != (bm.Sign() < 0)
	am.Abs(am)
	bm.Abs(bm)

	quo, rem := new(big.Int).QuoRem(am, bm, new(big.Int))
	// Round half-up on the discarded remainder.
	rem.Mul(rem, big.NewInt(2))
	if rem.Cmp(bm) >= 0 {
		quo.Add(quo, big.NewInt(1))
	}
	if negative {
		quo.Neg(quo)
	}
	return normalizeBig(quo, ae-be-17), nil
}

// Compare returns -1, 0 or 1 as v is less than, equal to or greater
// than o. Normalized mantissa/exponent form makes this exact without
// re-aligning.
func (v Value) Compare(o Value) int {
	if v.inf || o.inf {
		switch {
		case v.inf && o.inf:
			return 0
		case v.inf:
			return 1
		default:
			return -1
		}
	}
	vs, os := v.Signum(), o.Signum()
	if vs != os {
		if vs < os {
			return -1
		}
		return 1
	}
	if vs == 0 {
		return 0
	}
	if v.exponent != o.exponent {
		cmp := 1
		if v.exponent < o.exponent {
			cmp = -1
		}
		if vs < 0 {
			cmp = -cmp
		}
		return cmp
	}
	switch {
	case v.mantissa < o.mantissa:
		return -1
	case v.mantissa > o.mantissa:
		return 1
	default:
		return 0
	}
}

// Equal reports whether v and o represent the same number.
func (v Value) Equal(o Value) bool {
	return v.Compare(o) == 0
}

// Floor returns the largest integer value not greater than v. Native
// drop amounts are integral, so funded native quantities are floored
// before being surfaced.
func (v Value) Floor() Value {
	if v.inf || v.exponent >= 0 {
		return v
	}
	m, e := v.bigMantissa()
	scale := pow10(-e)
	quo, rem := new(big.Int).QuoRem(m, scale, new(big.Int))
	if m.Sign() < 0 && rem.Sign() != 0 {
		quo.Sub(quo, big.NewInt(1))
	}
	return normalizeBig(quo, 0)
}

// String renders the value as a canonical plain decimal string.
func (v Value) String() string {
	if v.inf {
		return "Infinity"
	}
	if v.mantissa == 0 {
		return "0"
	}

	negative := v.mantissa < 0
	mantissa := v.mantissa
	if negative {
		mantissa = -mantissa
	}

	digits := strconv.FormatInt(mantissa, 10)
	pointAt := len(digits) + v.exponent

	var out string
	switch {
	case pointAt <= 0:
		out = "0." + strings.Repeat("0", -pointAt) + digits
	case pointAt >= len(digits):
		out = digits + strings.Repeat("0", v.exponent)
	default:
		out = digits[:pointAt] + "." + digits[pointAt:]
	}

	if strings.Contains(out, ".") {
		out = strings.TrimRight(out, "0")
		out = strings.TrimRight(out, ".")
	}
	if negative {
		out = "-" + out
	}
	return out
}

// pow10 returns 10^n for n >= 0.
func pow10(n int) *big.Int {
	return new(big.Int).Exp(bigTen, big.NewInt(int64(n)), nil)
}
