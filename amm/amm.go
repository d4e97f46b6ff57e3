// Package amm implements constant-product pool math used to size a frontrun.
//
// All amounts are integers in the token's smallest unit. Decimal values only appear in
// percentages and when formatting amounts for humans.
package amm

import (
	"errors"
	"math/big"
)

var (
	ErrInsufficientInputAmount  = errors.New("insufficient input amount")
	ErrInsufficientOutputAmount = errors.New("insufficient output amount")
	ErrInsufficientLiquidity    = errors.New("insufficient liquidity")
	ErrInvalidPath              = errors.New("invalid path")
	ErrInvalidFee               = errors.New("invalid fee")
)

// Fee is the fraction of the input that reaches the pool, 997/1000 for a 0.3% pool.
type Fee struct {
	Numerator   int64 `yaml:"numerator"`
	Denominator int64 `yaml:"denominator"`
}

var DefaultFee = Fee{Numerator: 997, Denominator: 1000}

func (f Fee) Validate() error {
	if f.Denominator <= 0 || f.Numerator <= 0 || f.Numerator > f.Denominator {
		return ErrInvalidFee
	}
	return nil
}

// Reserves is a snapshot of one pool, oriented in the direction of the trade.
type Reserves struct {
	In  *big.Int
	Out *big.Int
}

// Reverse returns the reserves oriented for a trade in the opposite direction.
func (r Reserves) Reverse() Reserves {
	return Reserves{In: r.Out, Out: r.In}
}

func (r Reserves) valid() bool {
	return r.In != nil && r.Out != nil && r.In.Sign() > 0 && r.Out.Sign() > 0
}

// GetAmountOut returns the output of swapping amountIn into the pool.
func GetAmountOut(amountIn *big.Int, r Reserves, fee Fee) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, ErrInsufficientInputAmount
	}
	if !r.valid() {
		return nil, ErrInsufficientLiquidity
	}
	inWithFee := new(big.Int).Mul(amountIn, big.NewInt(fee.Numerator))
	numerator := new(big.Int).Mul(inWithFee, r.Out)
	denominator := new(big.Int).Mul(r.In, big.NewInt(fee.Denominator))
	denominator.Add(denominator, inWithFee)
	return numerator.Quo(numerator, denominator), nil
}

// GetAmountIn returns the input required to receive amountOut from the pool.
func GetAmountIn(amountOut *big.Int, r Reserves, fee Fee) (*big.Int, error) {
	if amountOut == nil || amountOut.Sign() <= 0 {
		return nil, ErrInsufficientOutputAmount
	}
	if !r.valid() || amountOut.Cmp(r.Out) >= 0 {
		return nil, ErrInsufficientLiquidity
	}
	numerator := new(big.Int).Mul(r.In, amountOut)
	numerator.Mul(numerator, big.NewInt(fee.Denominator))
	denominator := new(big.Int).Sub(r.Out, amountOut)
	denominator.Mul(denominator, big.NewInt(fee.Numerator))
	amountIn := numerator.Quo(numerator, denominator)
	return amountIn.Add(amountIn, big1), nil
}

// Quote returns cumulative amounts for a multi-hop swap, amounts[0] being amountIn.
// It mirrors the router's getAmountsOut.
func Quote(amountIn *big.Int, hops []Reserves, fee Fee) ([]*big.Int, error) {
	if len(hops) == 0 {
		return nil, ErrInvalidPath
	}
	amounts := make([]*big.Int, len(hops)+1)
	amounts[0] = new(big.Int).Set(amountIn)
	for i, hop := range hops {
		out, err := GetAmountOut(amounts[i], hop, fee)
		if err != nil {
			return nil, err
		}
		amounts[i+1] = out
	}
	return amounts, nil
}

var (
	big0     = big.NewInt(0)
	big1     = big.NewInt(1)
	big2     = big.NewInt(2)
	big4     = big.NewInt(4)
	big10000 = big.NewInt(10000)
)
