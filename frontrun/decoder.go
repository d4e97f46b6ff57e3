package frontrun

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spitfirest/frontrunner/exchange"
)

const SwapExactETHForTokensSignature = "swapExactETHForTokens(uint256,address[],address,uint256)"

// DecodeSwapExactETHForTokens decodes router call data into a SwapRequest.
func DecodeSwapExactETHForTokens(data []byte) (SwapRequest, error) {
	method := exchange.RouterABI.Methods["swapExactETHForTokens"]
	if len(data) < 4 || !bytes.Equal(data[:4], method.ID) {
		return SwapRequest{}, fmt.Errorf("%w: selector mismatch", ErrDecode)
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return SwapRequest{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if len(args) != 4 {
		return SwapRequest{}, fmt.Errorf("%w: expected 4 arguments, got %d", ErrDecode, len(args))
	}

	minOut, ok0 := args[0].(*big.Int)
	path, ok1 := args[1].([]common.Address)
	to, ok2 := args[2].(common.Address)
	deadline, ok3 := args[3].(*big.Int)
	if !ok0 || !ok1 || !ok2 || !ok3 {
		return SwapRequest{}, fmt.Errorf("%w: unexpected argument types", ErrDecode)
	}
	if len(path) < 2 {
		return SwapRequest{}, fmt.Errorf("%w: path of length %d", ErrDecode, len(path))
	}
	return SwapRequest{
		MinimumOutput: minOut,
		Path:          path,
		Beneficiary:   to,
		Deadline:      deadline,
	}, nil
}
