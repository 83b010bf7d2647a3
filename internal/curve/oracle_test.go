package curve

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOracle(t *testing.T, policy FeePolicy) *Oracle {
	t.Helper()
	o, err := NewOracle(policy)
	require.NoError(t, err)
	return o
}

func loopSumOfSquares(from, to int64) *big.Int {
	sum := new(big.Int)
	for k := from; k <= to; k++ {
		sq := big.NewInt(k)
		sq.Mul(sq, sq)
		sum.Add(sum, sq)
	}
	return sum
}

func TestQuoteBuyFromZeroSupply(t *testing.T) {
	// raw = 1 + 4 + 9 = 14
	raw, err := RawCost(Buy, big.NewInt(3), big.NewInt(0))
	require.NoError(t, err)
	assert.Equal(t, "14", raw.String())

	truncate := newTestOracle(t, DefaultFeePolicy())
	price, err := truncate.Quote(Buy, big.NewInt(3), big.NewInt(0))
	require.NoError(t, err)
	// 14*103/100 = 14 (truncated), plus bias 1
	assert.Equal(t, "15", price.String())

	ceilPolicy := DefaultFeePolicy()
	ceilPolicy.BuyRounding = RoundCeil
	ceil := newTestOracle(t, ceilPolicy)
	price, err = ceil.Quote(Buy, big.NewInt(3), big.NewInt(0))
	require.NoError(t, err)
	// ceil(14.42) = 15, plus bias 1
	assert.Equal(t, "16", price.String())
}

func TestRawCostMatchesLoop(t *testing.T) {
	supplies := []int64{0, 1, 2, 3, 7, 99, 100, 1000, 4321, 9999, 10000}
	for _, s := range supplies {
		for a := int64(1); a <= 500; a++ {
			got, err := RawCost(Buy, big.NewInt(a), big.NewInt(s))
			require.NoError(t, err)
			want := loopSumOfSquares(s+1, s+a)
			if got.Cmp(want) != 0 {
				t.Fatalf("buy s=%d a=%d: got %s want %s", s, a, got, want)
			}

			if a > s {
				continue
			}
			got, err = RawCost(Sell, big.NewInt(a), big.NewInt(s))
			require.NoError(t, err)
			want = loopSumOfSquares(s-a+1, s)
			if got.Cmp(want) != 0 {
				t.Fatalf("sell s=%d a=%d: got %s want %s", s, a, got, want)
			}
		}
	}
}

func TestRawCostMatchesLoopAcrossSupplyRange(t *testing.T) {
	if testing.Short() {
		t.Skip("long sweep")
	}
	amounts := []int64{1, 2, 17, 250, 500}
	for s := int64(0); s <= 10000; s++ {
		for _, a := range amounts {
			got, err := RawCost(Buy, big.NewInt(a), big.NewInt(s))
			require.NoError(t, err)
			want := loopSumOfSquares(s+1, s+a)
			if got.Cmp(want) != 0 {
				t.Fatalf("buy s=%d a=%d: got %s want %s", s, a, got, want)
			}
		}
	}
}

func TestQuoteBuyIsStrictlyIncreasing(t *testing.T) {
	o := newTestOracle(t, DefaultFeePolicy())

	var prev *big.Int
	for s := int64(0); s < 300; s++ {
		price, err := o.Quote(Buy, big.NewInt(5), big.NewInt(s))
		require.NoError(t, err)
		if prev != nil {
			require.Equal(t, 1, price.Cmp(prev), "supply %d", s)
		}
		prev = price
	}

	prev = nil
	for a := int64(1); a < 300; a++ {
		price, err := o.Quote(Buy, big.NewInt(a), big.NewInt(42))
		require.NoError(t, err)
		if prev != nil {
			require.Equal(t, 1, price.Cmp(prev), "amount %d", a)
		}
		prev = price
	}
}

func TestQuoteRejectsInvalidInput(t *testing.T) {
	o := newTestOracle(t, DefaultFeePolicy())

	_, err := o.Quote(Buy, big.NewInt(0), big.NewInt(10))
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = o.Quote(Sell, big.NewInt(-3), big.NewInt(10))
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = o.Quote(Buy, nil, big.NewInt(10))
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = o.Quote(Buy, big.NewInt(1), big.NewInt(-1))
	assert.ErrorIs(t, err, ErrInvalidSupply)

	_, err = o.Quote(Sell, big.NewInt(11), big.NewInt(10))
	assert.ErrorIs(t, err, ErrInsufficientSupply)
}

func TestQuoteSellEntireSupply(t *testing.T) {
	o := newTestOracle(t, DefaultFeePolicy())

	price, err := o.Quote(Sell, big.NewInt(10), big.NewInt(10))
	require.NoError(t, err)
	// raw 385, 385*97/100 = 373, minus bias 1
	assert.Equal(t, "372", price.String())

	price, err = o.Quote(Sell, big.NewInt(1), big.NewInt(1))
	require.NoError(t, err)
	// raw 1, floor(0.97) = 0, bias clamps at zero
	assert.Equal(t, "0", price.String())
}

func TestRoundTripLosesToFees(t *testing.T) {
	o := newTestOracle(t, DefaultFeePolicy())

	for _, tc := range []struct{ supply, amount int64 }{
		{0, 1}, {0, 3}, {10, 10}, {1000, 250}, {9999, 500},
	} {
		paid, err := o.Quote(Buy, big.NewInt(tc.amount), big.NewInt(tc.supply))
		require.NoError(t, err)
		refund, err := o.Quote(Sell, big.NewInt(tc.amount), big.NewInt(tc.supply+tc.amount))
		require.NoError(t, err)
		assert.Equal(t, -1, refund.Cmp(paid), "supply=%d amount=%d", tc.supply, tc.amount)
	}

	neutral := newTestOracle(t, FeePolicy{
		BuyNumerator: 1, BuyDenominator: 1,
		SellNumerator: 1, SellDenominator: 1,
	})
	paid, err := neutral.Quote(Buy, big.NewInt(25), big.NewInt(100))
	require.NoError(t, err)
	refund, err := neutral.Quote(Sell, big.NewInt(25), big.NewInt(125))
	require.NoError(t, err)
	assert.Equal(t, 0, refund.Cmp(paid))
}

func TestQuoteOverflow(t *testing.T) {
	o := newTestOracle(t, DefaultFeePolicy())

	huge := new(big.Int).Lsh(big.NewInt(1), 200)
	_, err := o.Quote(Buy, big.NewInt(1), huge)
	assert.ErrorIs(t, err, ErrOverflow)

	tooWide := new(big.Int).Lsh(big.NewInt(1), 256)
	_, err = o.Quote(Buy, tooWide, big.NewInt(0))
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestFeePolicyValidate(t *testing.T) {
	require.NoError(t, DefaultFeePolicy().Validate())

	bad := DefaultFeePolicy()
	bad.BuyDenominator = 0
	assert.ErrorIs(t, bad.Validate(), ErrInvalidFeePolicy)

	bad = DefaultFeePolicy()
	bad.BuyNumerator = 90
	assert.ErrorIs(t, bad.Validate(), ErrInvalidFeePolicy)

	bad = DefaultFeePolicy()
	bad.SellNumerator = 110
	assert.ErrorIs(t, bad.Validate(), ErrInvalidFeePolicy)

	_, err := NewOracle(bad)
	assert.ErrorIs(t, err, ErrInvalidFeePolicy)
}

func TestParseDirection(t *testing.T) {
	d, err := ParseDirection(" Sell ")
	require.NoError(t, err)
	assert.Equal(t, Sell, d)

	_, err = ParseDirection("hold")
	assert.Error(t, err)
}

func TestParseRounding(t *testing.T) {
	r, err := ParseRounding("CEIL")
	require.NoError(t, err)
	assert.Equal(t, RoundCeil, r)
	assert.Equal(t, "ceil", r.String())

	r, err = ParseRounding("floor")
	require.NoError(t, err)
	assert.Equal(t, RoundTruncate, r)

	_, err = ParseRounding("banker")
	assert.Error(t, err)
}
