package amm

import (
	"errors"
	"math/big"

	"github.com/shopspring/decimal"
)

var ErrTooManyDecimals = errors.New("value has more decimals than the token")

var (
	decimal2   = decimal.NewFromInt(2)
	decimal100 = decimal.NewFromInt(100)
)

// Slippage returns the percentage distance between expected and minAccepted relative to
// their mean. It is zero for equal inputs and changes sign when the arguments are swapped.
func Slippage(expected, minAccepted decimal.Decimal) decimal.Decimal {
	sum := expected.Add(minAccepted)
	if sum.IsZero() {
		return decimal.Zero
	}
	return expected.Sub(minAccepted).Div(sum.Div(decimal2)).Mul(decimal100)
}

// FormatUnits converts an integer amount to its human value, 1e18 wei with 18 decimals being 1.
func FormatUnits(value *big.Int, decimals int32) decimal.Decimal {
	if value == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(value, -decimals)
}

func ParseUnits(value string, decimals int32) (*big.Int, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return nil, err
	}
	d = d.Shift(decimals)
	if !d.Equal(d.Truncate(0)) {
		return nil, ErrTooManyDecimals
	}
	return d.BigInt(), nil
}

// SubPercent returns value reduced by percent, with percent rounded down to basis points.
func SubPercent(value *big.Int, percent decimal.Decimal) *big.Int {
	return MulBps(value, 10000-toBps(percent))
}

// MulPercent returns percent of value, with percent rounded down to basis points.
func MulPercent(value *big.Int, percent decimal.Decimal) *big.Int {
	return MulBps(value, toBps(percent))
}

func MulBps(value *big.Int, bps int64) *big.Int {
	if value == nil || bps <= 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(value, big.NewInt(bps))
	return out.Quo(out, big10000)
}

func toBps(percent decimal.Decimal) int64 {
	bps := percent.Mul(decimal100).IntPart()
	if bps < 0 {
		return 0
	}
	if bps > 10000 {
		return 10000
	}
	return bps
}
