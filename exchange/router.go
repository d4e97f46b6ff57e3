package exchange

import (
	"bytes"
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/spitfirest/frontrunner/amm"
	"github.com/spitfirest/frontrunner/spike"
)

// pairs never change address once created
const pairCacheTime = 24 * time.Hour

// Router trades directly from the account through a UniswapV2-style router.
type Router struct {
	caller  Caller
	address common.Address
	factory common.Address
	holder  common.Address
	fee     amm.Fee
	pairs   *spike.Manager[common.Address]
}

func NewRouter(caller Caller, address, factory, holder common.Address, fee amm.Fee) *Router {
	r := &Router{
		caller:  caller,
		address: address,
		factory: factory,
		holder:  holder,
		fee:     fee,
	}
	r.pairs = spike.NewManager(r.fetchPair, pairCacheTime)
	return r
}

func (r *Router) Address() common.Address { return r.address }

func (r *Router) Holder() common.Address { return r.holder }

func (r *Router) Fee() amm.Fee { return r.fee }

func (r *Router) GetAmountsOut(ctx context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	return getAmountsOut(ctx, r.caller, r.address, amountIn, path)
}

// GetReserves reads the pair reserves and orients them from tokenIn to tokenOut.
func (r *Router) GetReserves(ctx context.Context, tokenIn, tokenOut common.Address) (amm.Reserves, error) {
	token0, token1, err := sortTokens(tokenIn, tokenOut)
	if err != nil {
		return amm.Reserves{}, err
	}
	key := pairKey(token0, token1)
	pair, err := r.pairs.GetResult(ctx, key)
	if err != nil {
		return amm.Reserves{}, err
	}
	if pair == (common.Address{}) {
		// the pair may be created later
		r.pairs.Forget(key)
		return amm.Reserves{}, ErrPairNotFound
	}

	data, err := PairABI.Pack("getReserves")
	if err != nil {
		return amm.Reserves{}, err
	}
	res, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &pair, Data: data}, nil)
	if err != nil {
		return amm.Reserves{}, err
	}
	out, err := PairABI.Unpack("getReserves", res)
	if err != nil {
		return amm.Reserves{}, err
	}
	if len(out) != 3 {
		return amm.Reserves{}, ErrUnexpectedOutput
	}
	reserve0, ok0 := out[0].(*big.Int)
	reserve1, ok1 := out[1].(*big.Int)
	if !ok0 || !ok1 {
		return amm.Reserves{}, ErrUnexpectedOutput
	}
	if tokenIn == token0 {
		return amm.Reserves{In: reserve0, Out: reserve1}, nil
	}
	return amm.Reserves{In: reserve1, Out: reserve0}, nil
}

func (r *Router) Buy(swap SwapCall) (Call, error) {
	data, err := RouterABI.Pack("swapExactETHForTokens", swap.AmountOutMin, swap.Path, r.holder, swap.Deadline)
	if err != nil {
		return Call{}, err
	}
	return Call{To: r.address, Value: new(big.Int).Set(swap.AmountIn), Data: data}, nil
}

func (r *Router) Sell(swap SwapCall) (Call, error) {
	data, err := RouterABI.Pack("swapExactTokensForETH", swap.AmountIn, swap.AmountOutMin, swap.Path, r.holder, swap.Deadline)
	if err != nil {
		return Call{}, err
	}
	return Call{To: r.address, Value: new(big.Int), Data: data}, nil
}

// Approvals returns approve calls for every token whose allowance to the router has dropped
// below half of the maximum.
func (r *Router) Approvals(ctx context.Context, tokens []common.Address) ([]Call, error) {
	threshold := new(big.Int).Rsh(math.MaxBig256, 1)
	var calls []Call
	for _, token := range tokens {
		token := token
		data, err := ERC20ABI.Pack("allowance", r.holder, r.address)
		if err != nil {
			return nil, err
		}
		res, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
		if err != nil {
			return nil, err
		}
		out, err := ERC20ABI.Unpack("allowance", res)
		if err != nil {
			return nil, err
		}
		allowance, ok := out[0].(*big.Int)
		if !ok {
			return nil, ErrUnexpectedOutput
		}
		if allowance.Cmp(threshold) >= 0 {
			continue
		}
		approve, err := ERC20ABI.Pack("approve", r.address, math.MaxBig256)
		if err != nil {
			return nil, err
		}
		calls = append(calls, Call{To: token, Value: new(big.Int), Data: approve})
	}
	return calls, nil
}

func (r *Router) fetchPair(ctx context.Context, key string) (common.Address, error) {
	token0, token1 := common.HexToAddress(key[:common.AddressLength*2+2]), common.HexToAddress(key[common.AddressLength*2+2:])
	data, err := FactoryABI.Pack("getPair", token0, token1)
	if err != nil {
		return common.Address{}, err
	}
	res, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &r.factory, Data: data}, nil)
	if err != nil {
		return common.Address{}, err
	}
	out, err := FactoryABI.Unpack("getPair", res)
	if err != nil {
		return common.Address{}, err
	}
	pair, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, ErrUnexpectedOutput
	}
	return pair, nil
}

func sortTokens(a, b common.Address) (common.Address, common.Address, error) {
	switch bytes.Compare(a.Bytes(), b.Bytes()) {
	case 0:
		return a, b, ErrIdenticalAddresses
	case 1:
		return b, a, nil
	default:
		return a, b, nil
	}
}

func pairKey(token0, token1 common.Address) string {
	return token0.Hex() + token1.Hex()
}
