package exchange

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spitfirest/frontrunner/amm"
)

// Vault trades through the frontrun unit contract, which holds the funds and calls the router.
// Sells always liquidate the unit's whole balance of the first path token.
type Vault struct {
	caller  Caller
	address common.Address
	router  common.Address
	fee     amm.Fee
}

func NewVault(caller Caller, address, router common.Address, fee amm.Fee) *Vault {
	return &Vault{caller: caller, address: address, router: router, fee: fee}
}

func (v *Vault) Holder() common.Address { return v.address }

func (v *Vault) Fee() amm.Fee { return v.fee }

func (v *Vault) GetAmountsOut(ctx context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	return getAmountsOut(ctx, v.caller, v.router, amountIn, path)
}

func (v *Vault) GetReserves(ctx context.Context, tokenIn, tokenOut common.Address) (amm.Reserves, error) {
	if tokenIn == tokenOut {
		return amm.Reserves{}, ErrIdenticalAddresses
	}
	out, err := v.call(ctx, "getReserves", v.router, tokenIn, tokenOut)
	if err != nil {
		return amm.Reserves{}, err
	}
	if len(out) != 2 {
		return amm.Reserves{}, ErrUnexpectedOutput
	}
	reserveIn, okIn := out[0].(*big.Int)
	reserveOut, okOut := out[1].(*big.Int)
	if !okIn || !okOut {
		return amm.Reserves{}, ErrUnexpectedOutput
	}
	if reserveIn.Sign() == 0 && reserveOut.Sign() == 0 {
		return amm.Reserves{}, ErrPairNotFound
	}
	return amm.Reserves{In: reserveIn, Out: reserveOut}, nil
}

func (v *Vault) AmountOutWithSlippage(ctx context.Context, amountIn *big.Int, slippageBps int64, path []common.Address) (*big.Int, error) {
	out, err := v.call(ctx, "getAmountOutWithSlippage", v.router, amountIn, big.NewInt(slippageBps), path)
	if err != nil {
		return nil, err
	}
	amount, ok := out[0].(*big.Int)
	if !ok {
		return nil, ErrUnexpectedOutput
	}
	return amount, nil
}

func (v *Vault) Buy(swap SwapCall) (Call, error) {
	data, err := VaultABI.Pack("swapExactETHForTokens", v.router, swap.AmountIn, swap.AmountOutMin, swap.Path, swap.Deadline)
	if err != nil {
		return Call{}, err
	}
	return Call{To: v.address, Value: new(big.Int), Data: data}, nil
}

func (v *Vault) Sell(swap SwapCall) (Call, error) {
	data, err := VaultABI.Pack("swapExactTokensForETH", v.router, swap.AmountOutMin, swap.Path, swap.Deadline)
	if err != nil {
		return Call{}, err
	}
	return Call{To: v.address, Value: new(big.Int), Data: data}, nil
}

func (v *Vault) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := VaultABI.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	res, err := v.caller.CallContract(ctx, ethereum.CallMsg{To: &v.address, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	out, err := VaultABI.Unpack(method, res)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrUnexpectedOutput
	}
	return out, nil
}
