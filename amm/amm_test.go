package amm

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func ether(v int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(v), big.NewInt(1e18))
}

func TestGetAmountOut(t *testing.T) {
	r := Reserves{In: big.NewInt(1_000_000), Out: big.NewInt(1_000_000)}

	out, err := GetAmountOut(big.NewInt(10_000), r, DefaultFee)
	require.NoError(t, err)
	require.Equal(t, int64(9871), out.Int64())

	_, err = GetAmountOut(big.NewInt(0), r, DefaultFee)
	require.ErrorIs(t, err, ErrInsufficientInputAmount)

	_, err = GetAmountOut(big.NewInt(1), Reserves{In: big.NewInt(0), Out: big.NewInt(1)}, DefaultFee)
	require.ErrorIs(t, err, ErrInsufficientLiquidity)
}

func TestGetAmountIn_InvertsGetAmountOut(t *testing.T) {
	r := Reserves{In: ether(500), Out: ether(1_000_000)}
	for _, want := range []*big.Int{big.NewInt(1), big.NewInt(12345), ether(1), ether(1000)} {
		in, err := GetAmountIn(want, r, DefaultFee)
		require.NoError(t, err)

		out, err := GetAmountOut(in, r, DefaultFee)
		require.NoError(t, err)
		require.True(t, out.Cmp(want) >= 0, "out %s want %s", out, want)
	}

	_, err := GetAmountIn(ether(1_000_000), r, DefaultFee)
	require.ErrorIs(t, err, ErrInsufficientLiquidity)
}

func TestQuote(t *testing.T) {
	hops := []Reserves{
		{In: ether(100), Out: ether(200)},
		{In: ether(300), Out: ether(100)},
	}
	amounts, err := Quote(ether(1), hops, DefaultFee)
	require.NoError(t, err)
	require.Len(t, amounts, 3)
	require.Equal(t, ether(1), amounts[0])

	first, err := GetAmountOut(ether(1), hops[0], DefaultFee)
	require.NoError(t, err)
	require.Equal(t, first, amounts[1])

	_, err = Quote(ether(1), nil, DefaultFee)
	require.ErrorIs(t, err, ErrInvalidPath)
}

func TestOptimalFrontrunInput_TightBoundary(t *testing.T) {
	r := Reserves{In: big.NewInt(1_000_000), Out: big.NewInt(1_000_000)}
	victimIn := big.NewInt(10_000)

	amounts, err := Quote(victimIn, []Reserves{r}, DefaultFee)
	require.NoError(t, err)
	minOut := SubPercent(amounts[1], decimal.NewFromInt(1))

	x, err := OptimalFrontrunInput(minOut, amounts, []Reserves{r}, DefaultFee)
	require.NoError(t, err)
	require.Equal(t, 1, x.Sign())

	at, err := VictimOutputAfterFrontrun(x, victimIn, r, DefaultFee)
	require.NoError(t, err)
	require.True(t, at.Cmp(minOut) >= 0, "victim gets %s, min %s", at, minOut)

	above, err := VictimOutputAfterFrontrun(new(big.Int).Add(x, big1), victimIn, r, DefaultFee)
	require.NoError(t, err)
	require.True(t, above.Cmp(minOut) < 0, "victim gets %s at x+1, min %s", above, minOut)
}

func TestOptimalFrontrunInput_Cases(t *testing.T) {
	tests := []struct {
		name     string
		reserves Reserves
		victimIn *big.Int
		slippage int64
	}{
		{"large pool", Reserves{In: ether(500), Out: ether(1_000_000)}, ether(2), 1},
		{"wide slippage", Reserves{In: ether(500), Out: ether(1_000_000)}, ether(2), 10},
		{"skewed pool", Reserves{In: ether(3), Out: big.NewInt(7_000_000_000)}, big.NewInt(1e16), 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			amounts, err := Quote(tt.victimIn, []Reserves{tt.reserves}, DefaultFee)
			require.NoError(t, err)
			minOut := SubPercent(amounts[1], decimal.NewFromInt(tt.slippage))

			x, err := OptimalFrontrunInput(minOut, amounts, []Reserves{tt.reserves}, DefaultFee)
			require.NoError(t, err)

			at, err := VictimOutputAfterFrontrun(x, tt.victimIn, tt.reserves, DefaultFee)
			require.NoError(t, err)
			require.True(t, at.Cmp(minOut) >= 0)

			above, err := VictimOutputAfterFrontrun(new(big.Int).Add(x, big1), tt.victimIn, tt.reserves, DefaultFee)
			require.NoError(t, err)
			require.True(t, above.Cmp(minOut) < 0)
		})
	}
}

func TestOptimalFrontrunInput_MultiHop(t *testing.T) {
	hops := []Reserves{
		{In: ether(1000), Out: ether(2000)},
		{In: ether(2000), Out: ether(50_000)},
	}
	amounts, err := Quote(ether(1), hops, DefaultFee)
	require.NoError(t, err)
	minOut := SubPercent(amounts[2], decimal.NewFromInt(2))

	single, err := OptimalFrontrunInput(minOut, amounts[1:], hops[1:], DefaultFee)
	require.NoError(t, err)

	x, err := OptimalFrontrunInput(minOut, amounts, hops, DefaultFee)
	require.NoError(t, err)

	expected, err := GetAmountIn(single, hops[0], DefaultFee)
	require.NoError(t, err)
	require.Equal(t, expected, x)
}

func TestOptimalFrontrunInput_Errors(t *testing.T) {
	r := Reserves{In: big.NewInt(1_000_000), Out: big.NewInt(1_000_000)}
	amounts, err := Quote(big.NewInt(10_000), []Reserves{r}, DefaultFee)
	require.NoError(t, err)

	_, err = OptimalFrontrunInput(new(big.Int).Add(amounts[1], big1), amounts, []Reserves{r}, DefaultFee)
	require.ErrorIs(t, err, ErrNoFrontrunRoom)

	_, err = OptimalFrontrunInput(big.NewInt(0), amounts, []Reserves{r}, DefaultFee)
	require.ErrorIs(t, err, ErrInvalidMinimumOutput)

	_, err = OptimalFrontrunInput(amounts[1], amounts[:1], []Reserves{r}, DefaultFee)
	require.ErrorIs(t, err, ErrAmountsPathMismatch)
}

func TestSimulateSandwich(t *testing.T) {
	r := Reserves{In: ether(500), Out: ether(1_000_000)}
	s, err := SimulateSandwich(ether(1), ether(2), r, DefaultFee)
	require.NoError(t, err)

	alone, err := GetAmountOut(ether(2), r, DefaultFee)
	require.NoError(t, err)
	require.True(t, s.VictimOut.Cmp(alone) < 0)
	require.Equal(t, ether(503), s.After.In)
	require.Equal(t, new(big.Int).Sub(r.Out, new(big.Int).Add(s.FrontrunOut, s.VictimOut)), s.After.Out)

	// reserves of the caller are untouched
	require.Equal(t, ether(500), r.In)
}

func TestSlippage(t *testing.T) {
	tests := []struct {
		expected string
		min      string
		want     string
	}{
		{"100", "100", "0"},
		{"101", "99", "2"},
		{"0", "0", "0"},
		{"3", "1", "100"},
	}
	for _, tt := range tests {
		e, m := decimal.RequireFromString(tt.expected), decimal.RequireFromString(tt.min)
		got := Slippage(e, m)
		require.True(t, got.Equal(decimal.RequireFromString(tt.want)), "slippage(%s, %s) = %s", e, m, got)
		require.True(t, got.Neg().Equal(Slippage(m, e)))
	}

	v := decimal.RequireFromString("1234.5678")
	require.True(t, Slippage(v, v).IsZero())
	a, b := decimal.RequireFromString("9871.58"), decimal.RequireFromString("9772.01")
	require.True(t, Slippage(a, b).Equal(Slippage(b, a).Neg()))
}

func TestUnits(t *testing.T) {
	v, err := ParseUnits("1.5", 18)
	require.NoError(t, err)
	require.Equal(t, "1500000000000000000", v.String())
	require.Equal(t, "1.5", FormatUnits(v, 18).String())

	_, err = ParseUnits("0.0000001", 6)
	require.ErrorIs(t, err, ErrTooManyDecimals)

	_, err = ParseUnits("abc", 18)
	require.Error(t, err)
}

func TestPercent(t *testing.T) {
	require.Equal(t, int64(9900), SubPercent(big.NewInt(10_000), decimal.NewFromInt(1)).Int64())
	require.Equal(t, int64(9950), SubPercent(big.NewInt(10_000), decimal.RequireFromString("0.5")).Int64())
	require.Equal(t, int64(0), SubPercent(big.NewInt(10_000), decimal.NewFromInt(150)).Int64())
	require.Equal(t, int64(8000), MulPercent(big.NewInt(10_000), decimal.NewFromInt(80)).Int64())
	require.Equal(t, int64(0), MulPercent(nil, decimal.NewFromInt(80)).Int64())
}
