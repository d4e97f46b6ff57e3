package frontrun

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/spitfirest/frontrunner/amm"
	"github.com/spitfirest/frontrunner/exchange"
	"github.com/spitfirest/frontrunner/nonce"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	testChainID = big.NewInt(1337)
	testRouter  = common.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D")
	testWETH    = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	testToken   = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")

	gwei = big.NewInt(1e9)
)

func ether(v int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(v), big.NewInt(1e18))
}

func gweis(v int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(v), gwei)
}

func mustKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key
}

type fakeNode struct {
	mu        sync.Mutex
	pending   map[common.Hash]*types.Transaction
	lookups   int
	sent      []*types.Transaction
	sendErr   func(tx *types.Transaction) error
	mined     func(tx *types.Transaction) bool
	reverted  map[common.Hash]bool
	balances  []*big.Int
	nonces    map[common.Address]uint64
	suggested *big.Int
}

func newFakeNode() *fakeNode {
	return &fakeNode{
		pending:   make(map[common.Hash]*types.Transaction),
		reverted:  make(map[common.Hash]bool),
		nonces:    make(map[common.Address]uint64),
		suggested: gweis(50),
	}
}

func (n *fakeNode) addPending(tx *types.Transaction) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pending[tx.Hash()] = tx
}

func (n *fakeNode) sentTxs() []*types.Transaction {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*types.Transaction(nil), n.sent...)
}

func (n *fakeNode) lookupCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lookups
}

func (n *fakeNode) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return nil, errors.New("not supported")
}

func (n *fakeNode) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lookups++
	tx, ok := n.pending[hash]
	if !ok {
		return nil, false, ethereum.NotFound
	}
	return tx, true, nil
}

func (n *fakeNode) find(hash common.Hash) *types.Transaction {
	if tx, ok := n.pending[hash]; ok {
		return tx
	}
	for _, tx := range n.sent {
		if tx.Hash() == hash {
			return tx
		}
	}
	return nil
}

func (n *fakeNode) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	tx := n.find(hash)
	if tx == nil || (n.mined != nil && !n.mined(tx)) {
		return nil, ethereum.NotFound
	}
	status := types.ReceiptStatusSuccessful
	if n.reverted[hash] {
		status = types.ReceiptStatusFailed
	}
	return &types.Receipt{TxHash: hash, Status: status, BlockNumber: big.NewInt(100)}, nil
}

func (n *fakeNode) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sendErr != nil {
		if err := n.sendErr(tx); err != nil {
			return err
		}
	}
	n.sent = append(n.sent, tx)
	return nil
}

func (n *fakeNode) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.balances) == 0 {
		return ether(100), nil
	}
	b := n.balances[0]
	if len(n.balances) > 1 {
		n.balances = n.balances[1:]
	}
	return new(big.Int).Set(b), nil
}

func (n *fakeNode) NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.nonces[account], nil
}

func (n *fakeNode) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return n.NonceAt(ctx, account, nil)
}

func (n *fakeNode) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return new(big.Int).Set(n.suggested), nil
}

// fakeExchange quotes a single WETH/token pool held in memory.
type fakeExchange struct {
	mu       sync.Mutex
	holder   common.Address
	reserves amm.Reserves
	buys     []exchange.SwapCall
	sells    []exchange.SwapCall
}

var (
	buyMarker  = []byte{0xb0}
	sellMarker = []byte{0x5e}
)

func (f *fakeExchange) Holder() common.Address { return f.holder }

func (f *fakeExchange) Fee() amm.Fee { return amm.DefaultFee }

func (f *fakeExchange) GetAmountsOut(ctx context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	r, err := f.GetReserves(ctx, path[0], path[1])
	if err != nil {
		return nil, err
	}
	return amm.Quote(amountIn, []amm.Reserves{r}, amm.DefaultFee)
}

func (f *fakeExchange) GetReserves(ctx context.Context, tokenIn, tokenOut common.Address) (amm.Reserves, error) {
	switch {
	case tokenIn == testWETH && tokenOut == testToken:
		return f.reserves, nil
	case tokenIn == testToken && tokenOut == testWETH:
		return f.reserves.Reverse(), nil
	default:
		return amm.Reserves{}, exchange.ErrPairNotFound
	}
}

func (f *fakeExchange) Buy(swap exchange.SwapCall) (exchange.Call, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buys = append(f.buys, swap)
	return exchange.Call{To: testRouter, Value: swap.AmountIn, Data: buyMarker}, nil
}

func (f *fakeExchange) Sell(swap exchange.SwapCall) (exchange.Call, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sells = append(f.sells, swap)
	return exchange.Call{To: testRouter, Value: new(big.Int), Data: sellMarker}, nil
}

type fakeSub struct {
	errc chan error
	quit chan struct{}
	once sync.Once
}

func newFakeSub() *fakeSub {
	return &fakeSub{errc: make(chan error, 1), quit: make(chan struct{})}
}

func (s *fakeSub) Unsubscribe() {
	s.once.Do(func() { close(s.quit) })
}

func (s *fakeSub) Err() <-chan error { return s.errc }

// fakeSource delivers the hashes of round i on the i-th subscription and then fails it.
type fakeSource struct {
	mu            sync.Mutex
	rounds        [][]common.Hash
	subscriptions int
}

func (s *fakeSource) SubscribePending(ctx context.Context, ch chan<- common.Hash) (ethereum.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	round := s.subscriptions
	s.subscriptions++
	sub := newFakeSub()
	if round >= len(s.rounds) {
		return sub, nil
	}
	hashes := s.rounds[round]
	go func() {
		for _, h := range hashes {
			select {
			case ch <- h:
			case <-sub.quit:
				return
			}
		}
		time.Sleep(20 * time.Millisecond)
		sub.errc <- errors.New("connection reset")
	}()
	return sub, nil
}

func (s *fakeSource) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscriptions
}

type testEnv struct {
	node       *fakeNode
	exchange   *fakeExchange
	engine     *Engine
	account    *Account
	accountKey *ecdsa.PrivateKey
	victimKey  *ecdsa.PrivateKey
	tracker    *Tracker
	registry   *Registry
	logDir     string
}

func testParams() Params {
	return Params{
		MinSlippagePercent:         decimal.RequireFromString("0.5"),
		MaxFrontrunSlippagePercent: decimal.NewFromInt(1),
		MaxEthToSendPercent:        decimal.NewFromInt(80),
		GasPremium:                 gweis(20),
		GasLimit:                   500_000,
		CancelGasBumpPercent:       decimal.NewFromInt(10),
		GasPriceTolerance:          new(big.Int),
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	accountKey := mustKey(t)
	account := NewAccount(accountKey, testChainID, nonce.NewSequencer(7))
	node := newFakeNode()
	ex := &fakeExchange{
		holder:   account.Address(),
		reserves: amm.Reserves{In: ether(500), Out: ether(1_000_000)},
	}
	logDir := t.TempDir()
	logger := zap.NewNop()
	engine := &Engine{
		Logger:    logger,
		Node:      node,
		Account:   account,
		Exchanges: map[common.Address]exchange.Exchange{testRouter: ex},
		Network: &Network{
			ChainID:          testChainID.Uint64(),
			Routers:          []Router{{Address: testRouter, Fee: amm.DefaultFee}},
			WrappedNative:    Token{Address: testWETH, Decimals: 18},
			AllowedTokens:    map[common.Address]Token{testToken: {Address: testToken, Decimals: 18}},
			MinTriggerValue:  ether(1),
			MaxFrontrunValue: ether(10),
		},
		Params:    testParams(),
		Waiter:    &ReceiptWaiter{node: node, Interval: 5 * time.Millisecond},
		TradeLogs: NewTradeLogs(logDir, logger),
	}
	registry := NewRegistry()
	engine.Register(registry)
	return &testEnv{
		node:       node,
		exchange:   ex,
		engine:     engine,
		account:    account,
		accountKey: accountKey,
		victimKey:  mustKey(t),
		tracker:    &Tracker{},
		registry:   registry,
		logDir:     logDir,
	}
}

func (e *testEnv) dispatcher(errorLog *zap.Logger) *Dispatcher {
	return NewDispatcher(zap.NewNop(), errorLog, e.node, e.registry, e.tracker, DispatcherOptions{
		Self:   e.account.Address(),
		Signer: types.LatestSignerForChainID(testChainID),
	})
}

// victimSwap signs a swapExactETHForTokens of value with a minimum output slippagePercent below
// the pool quote.
func (e *testEnv) victimSwap(t *testing.T, txNonce uint64, value *big.Int, slippagePercent int64) *types.Transaction {
	t.Helper()
	amounts, err := amm.Quote(value, []amm.Reserves{e.exchange.reserves}, amm.DefaultFee)
	require.NoError(t, err)
	minOut := amm.SubPercent(amounts[1], decimal.NewFromInt(slippagePercent))
	data, err := exchange.RouterABI.Pack("swapExactETHForTokens", minOut, []common.Address{testWETH, testToken}, crypto.PubkeyToAddress(e.victimKey.PublicKey), big.NewInt(1e10))
	require.NoError(t, err)
	return e.signVictim(t, txNonce, testRouter, value, gweis(50), data)
}

func (e *testEnv) signVictim(t *testing.T, txNonce uint64, to common.Address, value, gasPrice *big.Int, data []byte) *types.Transaction {
	t.Helper()
	tx, err := types.SignTx(types.NewTx(&types.LegacyTx{
		Nonce:    txNonce,
		GasPrice: gasPrice,
		Gas:      300_000,
		To:       &to,
		Value:    value,
		Data:     data,
	}), types.LatestSignerForChainID(testChainID), e.victimKey)
	require.NoError(t, err)
	return tx
}
