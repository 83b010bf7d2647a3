package units

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Unit is one denomination of the settlement currency.
type Unit struct {
	Key      string
	Name     string
	Exponent int32
}

var (
	Wei        = Unit{Key: "wei", Name: "wei", Exponent: 0}
	Kwei       = Unit{Key: "kwei", Name: "kwei", Exponent: 3}
	Mwei       = Unit{Key: "mwei", Name: "mwei", Exponent: 6}
	Gwei       = Unit{Key: "gwei", Name: "gwei", Exponent: 9}
	Microether = Unit{Key: "microether", Name: "microether", Exponent: 12}
	Milliether = Unit{Key: "milliether", Name: "milliether", Exponent: 15}
	Ether      = Unit{Key: "eth", Name: "ETH", Exponent: 18}
)

// Ladder lists every denomination from smallest to largest.
var Ladder = []Unit{Wei, Kwei, Mwei, Gwei, Microether, Milliether, Ether}

var (
	one      = decimal.NewFromInt(1)
	thousand = decimal.NewFromInt(1000)
)

// Lookup finds a unit by key, case-insensitively.
func Lookup(key string) (Unit, bool) {
	key = strings.ToLower(strings.TrimSpace(key))
	for _, u := range Ladder {
		if u.Key == key {
			return u, true
		}
	}
	return Unit{}, false
}

// Keys returns the unit keys in ladder order.
func Keys() []string {
	out := make([]string, 0, len(Ladder))
	for _, u := range Ladder {
		out = append(out, u.Key)
	}
	return out
}

// Amount is a non-negative quantity held in base units.
type Amount struct {
	base *big.Int
}

// FromBase wraps a base-unit integer. Nil and negative values become zero.
func FromBase(v *big.Int) Amount {
	if v == nil || v.Sign() < 0 {
		return Amount{base: new(big.Int)}
	}
	return Amount{base: new(big.Int).Set(v)}
}

// Parse reads a decimal value expressed in the given unit, e.g. ("1.5", "gwei").
// The value must resolve to a whole number of base units.
func Parse(value, unitKey string) (Amount, error) {
	unit, ok := Lookup(unitKey)
	if !ok {
		return Amount{}, fmt.Errorf("unknown unit: %s", unitKey)
	}
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return Amount{}, fmt.Errorf("parse amount %q: %w", value, err)
	}
	if d.IsNegative() {
		return Amount{}, fmt.Errorf("negative amount: %s", value)
	}
	shifted := d.Shift(unit.Exponent)
	if !shifted.IsInteger() {
		return Amount{}, fmt.Errorf("amount %s %s is finer than 1 wei", value, unit.Key)
	}
	return Amount{base: shifted.BigInt()}, nil
}

// Base returns a copy of the base-unit integer.
func (a Amount) Base() *big.Int {
	if a.base == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(a.base)
}

// Decimal returns the exact value in the given unit.
func (a Amount) Decimal(unit Unit) decimal.Decimal {
	return decimal.NewFromBigInt(a.Base(), -unit.Exponent)
}

// In renders the value in the given unit with trailing zeros trimmed.
func (a Amount) In(unit Unit) string {
	return a.Decimal(unit).String()
}

// All renders the value in every unit of the ladder, keyed by unit key.
func (a Amount) All() map[string]string {
	out := make(map[string]string, len(Ladder))
	for _, u := range Ladder {
		out[u.Key] = a.In(u)
	}
	return out
}

// ClosestUnit picks the unit in which the value reads between 1 and 1000.
// Values of 1000 ETH or more stay in ETH; zero falls back to wei.
func (a Amount) ClosestUnit() Unit {
	for i := len(Ladder) - 1; i >= 0; i-- {
		u := Ladder[i]
		v := a.Decimal(u)
		if u == Ether && v.GreaterThanOrEqual(thousand) {
			return u
		}
		if v.GreaterThanOrEqual(one) && v.LessThan(thousand) {
			return u
		}
	}
	return Ladder[0]
}

// String renders the value in its closest unit, e.g. "1.5 gwei".
func (a Amount) String() string {
	u := a.ClosestUnit()
	return a.In(u) + " " + u.Name
}
