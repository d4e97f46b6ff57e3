// Package exchange builds and quotes swaps against UniswapV2-style routers, either directly from
// the trading account or through the frontrun unit contract.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spitfirest/frontrunner/amm"
)

var (
	ErrPairNotFound       = errors.New("pair does not exist")
	ErrUnexpectedOutput   = errors.New("unexpected contract output")
	ErrIdenticalAddresses = errors.New("identical token addresses")
)

// Caller is the read-only part of the node client used for contract calls.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Call is an unsigned contract invocation.
type Call struct {
	To    common.Address
	Value *big.Int
	Data  []byte
}

type SwapCall struct {
	// AmountIn is the native value for buys and the token amount for sells.
	AmountIn     *big.Int
	AmountOutMin *big.Int
	Path         []common.Address
	Deadline     *big.Int
}

type Exchange interface {
	// Holder is the address whose native balance funds the trades.
	Holder() common.Address
	Fee() amm.Fee
	GetAmountsOut(ctx context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error)
	GetReserves(ctx context.Context, tokenIn, tokenOut common.Address) (amm.Reserves, error)
	Buy(swap SwapCall) (Call, error)
	Sell(swap SwapCall) (Call, error)
}

// SlippageQuoter is implemented by exchanges that can compute a slippage-adjusted output on chain.
type SlippageQuoter interface {
	AmountOutWithSlippage(ctx context.Context, amountIn *big.Int, slippageBps int64, path []common.Address) (*big.Int, error)
}

// Approver is implemented by exchanges that need token allowances before selling.
type Approver interface {
	Approvals(ctx context.Context, tokens []common.Address) ([]Call, error)
}

// PathReserves returns the reserves of every hop of path in trade direction.
func PathReserves(ctx context.Context, ex Exchange, path []common.Address) ([]amm.Reserves, error) {
	if len(path) < 2 {
		return nil, amm.ErrInvalidPath
	}
	hops := make([]amm.Reserves, 0, len(path)-1)
	for i := 0; i < len(path)-1; i++ {
		r, err := ex.GetReserves(ctx, path[i], path[i+1])
		if err != nil {
			return nil, fmt.Errorf("reserves %s/%s: %w", path[i].Hex(), path[i+1].Hex(), err)
		}
		hops = append(hops, r)
	}
	return hops, nil
}

// ReversePath returns a reversed copy of path.
func ReversePath(path []common.Address) []common.Address {
	out := make([]common.Address, len(path))
	for i, a := range path {
		out[len(path)-1-i] = a
	}
	return out
}

func getAmountsOut(ctx context.Context, caller Caller, router common.Address, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	data, err := RouterABI.Pack("getAmountsOut", amountIn, path)
	if err != nil {
		return nil, err
	}
	res, err := caller.CallContract(ctx, ethereum.CallMsg{To: &router, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	out, err := RouterABI.Unpack("getAmountsOut", res)
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, ErrUnexpectedOutput
	}
	amounts, ok := out[0].([]*big.Int)
	if !ok || len(amounts) != len(path) {
		return nil, ErrUnexpectedOutput
	}
	return amounts, nil
}
