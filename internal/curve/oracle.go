package curve

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

var (
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInvalidSupply      = errors.New("invalid supply")
	ErrInsufficientSupply = errors.New("insufficient supply")
	ErrOverflow           = errors.New("price overflows 256 bits")
	ErrInvalidFeePolicy   = errors.New("invalid fee policy")
)

// Direction is the side of a curve trade.
type Direction uint8

const (
	Buy Direction = iota + 1
	Sell
)

func (d Direction) String() string {
	switch d {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

// MarshalText renders the direction as "buy" or "sell".
func (d Direction) MarshalText() ([]byte, error) {
	if d != Buy && d != Sell {
		return nil, fmt.Errorf("unknown direction %d", d)
	}
	return []byte(d.String()), nil
}

// UnmarshalText parses "buy" or "sell".
func (d *Direction) UnmarshalText(text []byte) error {
	parsed, err := ParseDirection(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDirection converts a case-insensitive name into a Direction.
func ParseDirection(input string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "buy":
		return Buy, nil
	case "sell":
		return Sell, nil
	default:
		return 0, fmt.Errorf("unsupported direction: %q", input)
	}
}

// Rounding selects how the fee-adjusted buy price is reduced to an integer
// before the bias is added.
type Rounding uint8

const (
	RoundTruncate Rounding = iota
	RoundCeil
)

func (r Rounding) String() string {
	switch r {
	case RoundTruncate:
		return "truncate"
	case RoundCeil:
		return "ceil"
	default:
		return "unknown"
	}
}

// ParseRounding accepts "truncate" (or "floor") and "ceil".
func ParseRounding(input string) (Rounding, error) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "truncate", "floor", "":
		return RoundTruncate, nil
	case "ceil":
		return RoundCeil, nil
	default:
		return 0, fmt.Errorf("unsupported rounding: %q", input)
	}
}

// FeePolicy pins the fee ratios and rounding bias used by the oracle.
//
// Buy price is raw*BuyNumerator/BuyDenominator (rounded per BuyRounding) plus
// BuyBias. Sell price is floor(raw*SellNumerator/SellDenominator) minus
// SellBias, floored at zero.
type FeePolicy struct {
	BuyNumerator    uint64
	BuyDenominator  uint64
	BuyRounding     Rounding
	BuyBias         uint64
	SellNumerator   uint64
	SellDenominator uint64
	SellBias        uint64
}

// DefaultFeePolicy is the 3% launchpad policy: buyers pay truncation plus one
// base unit, sellers receive the floor minus one base unit.
func DefaultFeePolicy() FeePolicy {
	return FeePolicy{
		BuyNumerator:    103,
		BuyDenominator:  100,
		BuyRounding:     RoundTruncate,
		BuyBias:         1,
		SellNumerator:   97,
		SellDenominator: 100,
		SellBias:        1,
	}
}

// Validate checks the buy ratio is >= 1 and the sell ratio is <= 1.
func (p FeePolicy) Validate() error {
	if p.BuyDenominator == 0 || p.SellDenominator == 0 {
		return fmt.Errorf("%w: zero denominator", ErrInvalidFeePolicy)
	}
	if p.BuyNumerator < p.BuyDenominator {
		return fmt.Errorf("%w: buy ratio %d/%d below 1", ErrInvalidFeePolicy, p.BuyNumerator, p.BuyDenominator)
	}
	if p.SellNumerator > p.SellDenominator {
		return fmt.Errorf("%w: sell ratio %d/%d above 1", ErrInvalidFeePolicy, p.SellNumerator, p.SellDenominator)
	}
	if p.BuyRounding != RoundTruncate && p.BuyRounding != RoundCeil {
		return fmt.Errorf("%w: unknown rounding %d", ErrInvalidFeePolicy, p.BuyRounding)
	}
	return nil
}

// Oracle quotes bonding-curve trades where the k-th unit costs k² base units.
// It holds no mutable state and is safe for concurrent use.
type Oracle struct {
	policy FeePolicy
}

func NewOracle(policy FeePolicy) (*Oracle, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &Oracle{policy: policy}, nil
}

// Policy returns the fee policy the oracle was built with.
func (o *Oracle) Policy() FeePolicy {
	return o.policy
}

// Quote returns the fee-adjusted price in base units for trading amount
// units against a curve currently at supply.
func (o *Oracle) Quote(direction Direction, amount, supply *big.Int) (*big.Int, error) {
	raw, err := rawCost(direction, amount, supply)
	if err != nil {
		return nil, err
	}
	switch direction {
	case Buy:
		return o.applyBuyFee(raw)
	case Sell:
		return o.applySellFee(raw)
	default:
		return nil, fmt.Errorf("unsupported direction: %d", direction)
	}
}

// SpotPrice is the buy price of the next single unit.
func (o *Oracle) SpotPrice(supply *big.Int) (*big.Int, error) {
	return o.Quote(Buy, big.NewInt(1), supply)
}

// RawCost is the fee-free sum of squares over the traded unit range.
func RawCost(direction Direction, amount, supply *big.Int) (*big.Int, error) {
	raw, err := rawCost(direction, amount, supply)
	if err != nil {
		return nil, err
	}
	return raw.ToBig(), nil
}

func rawCost(direction Direction, amount, supply *big.Int) (*uint256.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if supply == nil || supply.Sign() < 0 {
		return nil, ErrInvalidSupply
	}

	a, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, fmt.Errorf("amount: %w", ErrOverflow)
	}
	s, overflow := uint256.FromBig(supply)
	if overflow {
		return nil, fmt.Errorf("supply: %w", ErrOverflow)
	}

	var low, high *uint256.Int
	switch direction {
	case Buy:
		// [s+1, s+a] => S(s+a) - S(s)
		top, overflow := new(uint256.Int).AddOverflow(s, a)
		if overflow {
			return nil, fmt.Errorf("supply after buy: %w", ErrOverflow)
		}
		low, high = s, top
	case Sell:
		if a.Gt(s) {
			return nil, ErrInsufficientSupply
		}
		// [s-a+1, s] => S(s) - S(s-a)
		low, high = new(uint256.Int).Sub(s, a), s
	default:
		return nil, fmt.Errorf("unsupported direction: %d", direction)
	}

	upper, err := sumOfSquares(high)
	if err != nil {
		return nil, err
	}
	lower, err := sumOfSquares(low)
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).Sub(upper, lower), nil
}

// sumOfSquares returns n(n+1)(2n+1)/6. The factors are divided by 2 and 3
// before multiplying so that only a result which itself exceeds 256 bits
// reports ErrOverflow.
func sumOfSquares(n *uint256.Int) (*uint256.Int, error) {
	if n.IsZero() {
		return new(uint256.Int), nil
	}

	one := uint256.NewInt(1)
	two := uint256.NewInt(2)
	three := uint256.NewInt(3)

	a := new(uint256.Int).Set(n)
	b, overflow := new(uint256.Int).AddOverflow(n, one)
	if overflow {
		return nil, ErrOverflow
	}
	c, overflow := new(uint256.Int).MulOverflow(n, two)
	if overflow {
		return nil, ErrOverflow
	}
	if _, overflow = c.AddOverflow(c, one); overflow {
		return nil, ErrOverflow
	}

	// One of n, n+1 is even.
	if isMultiple(a, two) {
		a.Div(a, two)
	} else {
		b.Div(b, two)
	}
	// One of n, n+1, 2n+1 is a multiple of three; halving keeps that.
	switch {
	case isMultiple(a, three):
		a.Div(a, three)
	case isMultiple(b, three):
		b.Div(b, three)
	default:
		c.Div(c, three)
	}

	out, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}
	if _, overflow = out.MulOverflow(out, c); overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

func isMultiple(x, m *uint256.Int) bool {
	return new(uint256.Int).Mod(x, m).IsZero()
}

func (o *Oracle) applyBuyFee(raw *uint256.Int) (*big.Int, error) {
	num := uint256.NewInt(o.policy.BuyNumerator)
	den := uint256.NewInt(o.policy.BuyDenominator)

	scaled, overflow := new(uint256.Int).MulOverflow(raw, num)
	if overflow {
		return nil, fmt.Errorf("buy fee: %w", ErrOverflow)
	}
	quo := new(uint256.Int).Div(scaled, den)
	if o.policy.BuyRounding == RoundCeil && !new(uint256.Int).Mod(scaled, den).IsZero() {
		if _, overflow = quo.AddOverflow(quo, uint256.NewInt(1)); overflow {
			return nil, fmt.Errorf("buy fee: %w", ErrOverflow)
		}
	}
	if _, overflow = quo.AddOverflow(quo, uint256.NewInt(o.policy.BuyBias)); overflow {
		return nil, fmt.Errorf("buy bias: %w", ErrOverflow)
	}
	return quo.ToBig(), nil
}

func (o *Oracle) applySellFee(raw *uint256.Int) (*big.Int, error) {
	num := uint256.NewInt(o.policy.SellNumerator)
	den := uint256.NewInt(o.policy.SellDenominator)

	scaled, overflow := new(uint256.Int).MulOverflow(raw, num)
	if overflow {
		return nil, fmt.Errorf("sell fee: %w", ErrOverflow)
	}
	quo := new(uint256.Int).Div(scaled, den)
	bias := uint256.NewInt(o.policy.SellBias)
	if quo.Lt(bias) {
		return new(big.Int), nil
	}
	return quo.Sub(quo, bias).ToBig(), nil
}
