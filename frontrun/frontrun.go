// Package frontrun watches pending transactions, recognises swaps on configured routers and
// races each one with a frontrun and a backrun trade.
//
// At most one session is active at a time. The Dispatcher owns the session slot and applies
// cheap filters before claiming it; the Session drives both legs to confirmation and replaces
// every unconfirmed leg with a zero-value self-transfer when anything fails.
package frontrun

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/spitfirest/frontrunner/exchange"
)

// Node is the part of the execution client used by the engine, satisfied by *ethclient.Client.
type Node interface {
	exchange.Caller
	TransactionByHash(ctx context.Context, hash common.Hash) (tx *types.Transaction, isPending bool, err error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// PendingSource delivers hashes of transactions entering the node's mempool.
type PendingSource interface {
	SubscribePending(ctx context.Context, ch chan<- common.Hash) (ethereum.Subscription, error)
}

type RPCPendingSource struct {
	Client *rpc.Client
}

func (s RPCPendingSource) SubscribePending(ctx context.Context, ch chan<- common.Hash) (ethereum.Subscription, error) {
	return s.Client.EthSubscribe(ctx, ch, "newPendingTransactions")
}

// SwapRequest holds the arguments of an exact-input swap in method signature order.
type SwapRequest struct {
	MinimumOutput *big.Int
	Path          []common.Address
	Beneficiary   common.Address
	Deadline      *big.Int
}

func (r SwapRequest) TokenIn() common.Address {
	return r.Path[0]
}

func (r SwapRequest) TokenOut() common.Address {
	return r.Path[len(r.Path)-1]
}

// Candidate is a pending transaction that passed the dispatcher filters.
type Candidate struct {
	Tx     *types.Transaction
	From   common.Address
	Router common.Address
}

func (c Candidate) Hash() common.Hash {
	return c.Tx.Hash()
}
