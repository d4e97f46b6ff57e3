package amm

import (
	"errors"
	"math/big"
)

var (
	ErrNoFrontrunRoom       = errors.New("victim minimum output leaves no room for a frontrun")
	ErrInvalidMinimumOutput = errors.New("victim minimum output must be positive")
	ErrAmountsPathMismatch  = errors.New("victim amounts do not match the pool path")
)

const maxBracketDoublings = 256

// Sandwich is the outcome of a frontrun followed by the victim's trade on one pool.
type Sandwich struct {
	FrontrunOut *big.Int
	VictimOut   *big.Int
	// After holds the pool reserves once both trades are applied.
	After Reserves
}

// SimulateSandwich applies a frontrun of frontrunIn and then the victim's victimIn to r.
// A zero frontrunIn simulates the victim alone.
func SimulateSandwich(frontrunIn, victimIn *big.Int, r Reserves, fee Fee) (Sandwich, error) {
	shifted := Reserves{In: new(big.Int).Set(r.In), Out: new(big.Int).Set(r.Out)}
	frontrunOut := new(big.Int)
	if frontrunIn != nil && frontrunIn.Sign() > 0 {
		out, err := GetAmountOut(frontrunIn, r, fee)
		if err != nil {
			return Sandwich{}, err
		}
		frontrunOut = out
		shifted.In.Add(shifted.In, frontrunIn)
		shifted.Out.Sub(shifted.Out, out)
	}
	victimOut, err := GetAmountOut(victimIn, shifted, fee)
	if err != nil {
		return Sandwich{}, err
	}
	shifted.In.Add(shifted.In, victimIn)
	shifted.Out.Sub(shifted.Out, victimOut)
	return Sandwich{FrontrunOut: frontrunOut, VictimOut: victimOut, After: shifted}, nil
}

// VictimOutputAfterFrontrun returns what the victim receives if frontrunIn is swapped first.
func VictimOutputAfterFrontrun(frontrunIn, victimIn *big.Int, r Reserves, fee Fee) (*big.Int, error) {
	s, err := SimulateSandwich(frontrunIn, victimIn, r, fee)
	if err != nil {
		return nil, err
	}
	return s.VictimOut, nil
}

// OptimalFrontrunInput returns the largest first-hop input that can be swapped ahead of the
// victim while the victim's trade still clears victimMinOut.
//
// victimAmounts is the victim's own quote (amounts per hop, amounts[0] is its input) and
// hops are the pool reserves along the path. Only the last pool is assumed to be moved by
// the frontrun; for longer paths the last-hop input is converted back to a first-hop input
// through the earlier pools.
//
// The last-hop size starts from the closed form of the constant-product invariant applied
// twice (fee-less), x being the output amount the frontrun takes from the pool:
//
//	a = amountIn
//	b = amountIn*minOut - 2*amountIn*reserveOut
//	c = amountIn*reserveOut*(reserveOut-minOut) - reserveIn*reserveOut*minOut
//	x = (-b - sqrt(b^2 - 4ac)) / 2a
//
// and is then tightened against exact fee-aware integer math, so that the result keeps the
// victim at or above minOut and one more unit would not.
func OptimalFrontrunInput(victimMinOut *big.Int, victimAmounts []*big.Int, hops []Reserves, fee Fee) (*big.Int, error) {
	if len(hops) == 0 {
		return nil, ErrInvalidPath
	}
	if len(victimAmounts) != len(hops)+1 {
		return nil, ErrAmountsPathMismatch
	}
	if victimMinOut == nil || victimMinOut.Sign() <= 0 {
		return nil, ErrInvalidMinimumOutput
	}
	last := hops[len(hops)-1]
	if !last.valid() {
		return nil, ErrInsufficientLiquidity
	}
	victimIn := victimAmounts[len(victimAmounts)-2]

	clears := func(frontrunIn *big.Int) (bool, error) {
		out, err := VictimOutputAfterFrontrun(frontrunIn, victimIn, last, fee)
		if err != nil {
			return false, err
		}
		return out.Cmp(victimMinOut) >= 0, nil
	}

	ok, err := clears(big0)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoFrontrunRoom
	}

	estimate, err := closedFormInput(victimMinOut, victimIn, last, fee)
	if err != nil {
		return nil, err
	}

	// invariant: clears(lo) && !clears(hi)
	lo, hi := new(big.Int), new(big.Int)
	ok, err = clears(estimate)
	if err != nil {
		return nil, err
	}
	if ok {
		lo.Set(estimate)
		hi.Mul(estimate, big2).Add(hi, big1)
		for i := 0; ; i++ {
			if i == maxBracketDoublings {
				return nil, ErrInsufficientLiquidity
			}
			ok, err = clears(hi)
			if err != nil {
				return nil, err
			}
			if !ok {
				break
			}
			lo.Set(hi)
			hi.Mul(hi, big2)
		}
	} else {
		hi.Set(estimate)
	}

	mid := new(big.Int)
	for new(big.Int).Sub(hi, lo).Cmp(big1) > 0 {
		mid.Add(lo, hi).Rsh(mid, 1)
		ok, err = clears(mid)
		if err != nil {
			return nil, err
		}
		if ok {
			lo.Set(mid)
		} else {
			hi.Set(mid)
		}
	}
	if lo.Sign() == 0 {
		return nil, ErrNoFrontrunRoom
	}

	amountIn := lo
	for i := len(hops) - 2; i >= 0; i-- {
		amountIn, err = GetAmountIn(amountIn, hops[i], fee)
		if err != nil {
			return nil, err
		}
	}
	return amountIn, nil
}

// closedFormInput solves the fee-less quadratic and converts the resulting output amount to
// the input needed on r. It only seeds the exact search, so a zero result is acceptable.
func closedFormInput(minOut, amountIn *big.Int, r Reserves, fee Fee) (*big.Int, error) {
	a := new(big.Int).Set(amountIn)

	b := new(big.Int).Mul(amountIn, minOut)
	b.Sub(b, new(big.Int).Mul(new(big.Int).Mul(big2, amountIn), r.Out))

	c := new(big.Int).Sub(r.Out, minOut)
	c.Mul(c, r.Out).Mul(c, amountIn)
	c.Sub(c, new(big.Int).Mul(new(big.Int).Mul(r.In, r.Out), minOut))

	disc := new(big.Int).Mul(b, b)
	disc.Sub(disc, new(big.Int).Mul(new(big.Int).Mul(big4, a), c))
	if disc.Sign() < 0 {
		return new(big.Int), nil
	}

	x := new(big.Int).Neg(b)
	x.Sub(x, new(big.Int).Sqrt(disc))
	x.Quo(x, new(big.Int).Mul(big2, a))
	if x.Sign() <= 0 {
		return new(big.Int), nil
	}
	if x.Cmp(r.Out) >= 0 {
		x.Sub(r.Out, big1)
	}
	return GetAmountIn(x, r, fee)
}
