package frontrun

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/spitfirest/frontrunner/amm"
	"github.com/spitfirest/frontrunner/exchange"
	"github.com/spitfirest/frontrunner/metrics"
	"go.uber.org/zap"
)

const (
	SwapExactETHForTokensCategory = "swapExactETHForTokens"

	cancelTimeout = 10 * time.Second
)

type LegKind string

const (
	LegFrontrun LegKind = "frontrun"
	LegBackrun  LegKind = "backrun"
	LegVictim   LegKind = "victim"
)

type State int32

const (
	StateValidating State = iota
	StateBuildingFrontrun
	StateFrontrunSubmitted
	StateBuildingBackrun
	StateBackrunSubmitted
	StateCanceling
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateValidating:
		return "validating"
	case StateBuildingFrontrun:
		return "building_frontrun"
	case StateFrontrunSubmitted:
		return "frontrun_submitted"
	case StateBuildingBackrun:
		return "building_backrun"
	case StateBackrunSubmitted:
		return "backrun_submitted"
	case StateCanceling:
		return "canceling"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Leg is one of the two transactions a session submits.
type Leg struct {
	Kind     LegKind
	Nonce    uint64
	HasNonce bool
	GasPrice *big.Int
	Tx       *types.Transaction
	Receipt  *types.Receipt
	// Submitted is set once the node accepted Tx.
	Submitted bool
	// Canceled is set once a replacement was attempted.
	Canceled bool
	// GapFilled is set when the nonce of a leg that was never accepted got a filler transfer.
	GapFilled bool
}

func (l *Leg) cancelable() bool {
	return l.Submitted && l.Receipt == nil && !l.Canceled
}

// Engine holds the collaborators shared by every session.
type Engine struct {
	Logger      *zap.Logger
	Node        Node
	Account     *Account
	Exchanges   map[common.Address]exchange.Exchange
	Network     *Network
	Params      Params
	Waiter      *ReceiptWaiter
	Broadcaster *Broadcaster
	Events      EventPublisher
	TradeLogs   *TradeLogs
}

// Register adds the engine's handlers for every router it has an exchange for.
func (e *Engine) Register(r *Registry) {
	selector := SelectorOf(SwapExactETHForTokensSignature)
	for router := range e.Exchanges {
		r.Register(router, selector, e.NewSwapExactETHForTokens)
	}
}

// NewSwapExactETHForTokens is the HandlerFactory for swapExactETHForTokens.
func (e *Engine) NewSwapExactETHForTokens(c Candidate) (Handler, error) {
	req, err := DecodeSwapExactETHForTokens(c.Tx.Data())
	if err != nil {
		return nil, err
	}
	ex, ok := e.Exchanges[c.Router]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRouter, c.Router.Hex())
	}
	return &Session{
		engine:   e,
		logger:   e.Logger.Named("session").With(zap.String("victim", c.Hash().Hex())),
		victim:   c,
		request:  req,
		ex:       ex,
		frontrun: Leg{Kind: LegFrontrun},
		backrun:  Leg{Kind: LegBackrun},
	}, nil
}

func (e *Engine) tradeLog(category string) *zap.Logger {
	if e.TradeLogs == nil {
		return zap.NewNop()
	}
	return e.TradeLogs.Category(category)
}

// Session frontruns and backruns one victim swap.
type Session struct {
	engine  *Engine
	logger  *zap.Logger
	victim  Candidate
	request SwapRequest
	ex      exchange.Exchange
	token   Token

	mu    sync.Mutex
	state State

	frontrun Leg
	backrun  Leg
}

// victimQuote is what validation learned about the victim's trade.
type victimQuote struct {
	amounts  []*big.Int
	slippage decimal.Decimal
	hops     []amm.Reserves
}

type legResult struct {
	kind    LegKind
	receipt *types.Receipt
	err     error
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	s.logger.Debug("Session state", zap.String("state", state.String()))
}

func (s *Session) Handle(ctx context.Context) error {
	// legs already on the wire are canceled before the panic reaches the dispatcher
	defer func() {
		if r := recover(); r != nil {
			if state := s.State(); s.frontrun.HasNonce && state != StateFailed && state != StateCompleted {
				_ = s.fail(fmt.Errorf("%w: %v", ErrPanic, r))
			}
			panic(r)
		}
	}()

	start := time.Now()
	q, err := s.validate(ctx)
	if err != nil {
		return err
	}

	holder := s.ex.Holder()
	balanceBefore, err := s.engine.Node.BalanceAt(ctx, holder, nil)
	if err != nil {
		return fmt.Errorf("holder balance: %w", err)
	}

	s.setState(StateBuildingFrontrun)
	victimGasPrice := s.victim.Tx.GasPrice()
	frontrunGasPrice := new(big.Int).Add(victimGasPrice, s.engine.Params.GasPremium)
	amountIn, err := s.sizeFrontrun(ctx, q, balanceBefore, frontrunGasPrice)
	if err != nil {
		return err
	}
	frontrunMinOut, err := s.frontrunMinOut(ctx, amountIn)
	if err != nil {
		return err
	}

	metrics.IncSessionsStarted()
	s.publish(&Event{Type: EventStarted})
	s.logger.Info("Frontrunning swap",
		zap.String("token", s.token.Address.Hex()),
		zap.String("victimValue", amm.FormatUnits(s.victim.Tx.Value(), 18).String()),
		zap.String("victimMinOut", amm.FormatUnits(s.request.MinimumOutput, s.token.Decimals).String()),
		zap.String("slippage", q.slippage.StringFixed(4)),
		zap.String("amountIn", amm.FormatUnits(amountIn, 18).String()),
		zap.String("minTokensOut", amm.FormatUnits(frontrunMinOut, s.token.Decimals).String()),
	)

	buy, err := s.ex.Buy(exchange.SwapCall{
		AmountIn:     amountIn,
		AmountOutMin: frontrunMinOut,
		Path:         s.request.Path,
		Deadline:     s.request.Deadline,
	})
	if err != nil {
		return s.fail(err)
	}
	if err := s.submit(ctx, &s.frontrun, buy, frontrunGasPrice); err != nil {
		return s.fail(err)
	}
	s.setState(StateFrontrunSubmitted)

	waitCtx, stopWaiting := context.WithCancel(ctx)
	defer stopWaiting()
	results := make(chan legResult, 3)
	go s.await(waitCtx, results, LegFrontrun, s.frontrun.Tx, s.engine.Account.Address())
	go s.await(waitCtx, results, LegVictim, s.victim.Tx, s.victim.From)

	s.setState(StateBuildingBackrun)
	sell, err := s.buildBackrun(q, amountIn, frontrunMinOut)
	if err != nil {
		stopWaiting()
		return s.fail(err)
	}
	backrunGasPrice := new(big.Int).Sub(victimGasPrice, big.NewInt(1))
	if err := s.submit(ctx, &s.backrun, sell, backrunGasPrice); err != nil {
		stopWaiting()
		return s.fail(err)
	}
	s.setState(StateBackrunSubmitted)
	go s.await(waitCtx, results, LegBackrun, s.backrun.Tx, s.engine.Account.Address())

	if err := s.join(results); err != nil {
		stopWaiting()
		return s.fail(err)
	}
	stopWaiting()
	return s.complete(ctx, balanceBefore, amountIn, q.slippage, start)
}

func (s *Session) validate(ctx context.Context) (*victimQuote, error) {
	s.setState(StateValidating)
	network := s.engine.Network
	value := s.victim.Tx.Value()

	if value.Cmp(network.MinTriggerValue) < 0 {
		return nil, reject("below_min_trigger_value")
	}
	if s.request.TokenIn() != network.WrappedNative.Address {
		return nil, reject("unexpected_token_in")
	}
	token, ok := network.AllowedTokens[s.request.TokenOut()]
	if !ok {
		return nil, reject("token_not_allowed")
	}
	s.token = token

	amounts, err := s.ex.GetAmountsOut(ctx, value, s.request.Path)
	if err != nil {
		s.logger.Debug("Victim quote failed", zap.Error(err))
		return nil, reject("quote_failed")
	}
	expected := amounts[len(amounts)-1]
	if expected.Cmp(s.request.MinimumOutput) < 0 {
		return nil, reject("victim_below_minimum")
	}

	slippage := amm.Slippage(
		amm.FormatUnits(expected, token.Decimals),
		amm.FormatUnits(s.request.MinimumOutput, token.Decimals),
	)
	if slippage.LessThan(s.engine.Params.MinSlippagePercent) {
		return nil, reject("low_slippage")
	}
	return &victimQuote{amounts: amounts, slippage: slippage}, nil
}

func (s *Session) sizeFrontrun(ctx context.Context, q *victimQuote, balance, gasPrice *big.Int) (*big.Int, error) {
	hops, err := exchange.PathReserves(ctx, s.ex, s.request.Path)
	if err != nil {
		s.logger.Debug("Reserves unavailable", zap.Error(err))
		return nil, reject("reserves_unavailable")
	}
	q.hops = hops

	start := time.Now()
	optimal, err := amm.OptimalFrontrunInput(s.request.MinimumOutput, q.amounts, hops, s.ex.Fee())
	metrics.RecordSolverDuration(time.Since(start).Milliseconds())
	if err != nil {
		s.logger.Debug("No frontrun input", zap.Error(err))
		return nil, reject("no_frontrun_room")
	}

	spendable := new(big.Int).Set(balance)
	if s.ex.Holder() == s.engine.Account.Address() {
		// both legs pay gas from the same balance
		gas := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(2*s.engine.Params.GasLimit))
		spendable.Sub(spendable, gas)
	}

	amountIn := minBig(
		amm.MulPercent(optimal, s.engine.Params.MaxEthToSendPercent),
		spendable,
		s.engine.Network.MaxFrontrunValue,
	)
	if amountIn.Sign() <= 0 {
		return nil, reject("zero_frontrun_input")
	}
	s.logger.Debug("Frontrun sized",
		zap.String("optimal", amm.FormatUnits(optimal, 18).String()),
		zap.String("balance", amm.FormatUnits(balance, 18).String()),
		zap.String("amountIn", amm.FormatUnits(amountIn, 18).String()),
	)
	return amountIn, nil
}

func (s *Session) frontrunMinOut(ctx context.Context, amountIn *big.Int) (*big.Int, error) {
	percent := s.engine.Params.MaxFrontrunSlippagePercent
	var minOut *big.Int
	if quoter, ok := s.ex.(exchange.SlippageQuoter); ok {
		bps := percent.Mul(decimal.NewFromInt(100)).IntPart()
		out, err := quoter.AmountOutWithSlippage(ctx, amountIn, bps, s.request.Path)
		if err != nil {
			return nil, fmt.Errorf("frontrun quote: %w", err)
		}
		minOut = out
	} else {
		amounts, err := s.ex.GetAmountsOut(ctx, amountIn, s.request.Path)
		if err != nil {
			return nil, fmt.Errorf("frontrun quote: %w", err)
		}
		minOut = amm.SubPercent(amounts[len(amounts)-1], percent)
	}
	if minOut.Sign() <= 0 {
		return nil, reject("zero_frontrun_output")
	}
	return minOut, nil
}

// buildBackrun sells the frontrun's guaranteed output back along the reversed path. The minimum
// native output comes from simulating frontrun and victim on the last pool.
func (s *Session) buildBackrun(q *victimQuote, amountIn, sellAmount *big.Int) (exchange.Call, error) {
	fee := s.ex.Fee()
	last := len(q.hops) - 1

	frontrunAmounts, err := amm.Quote(amountIn, q.hops, fee)
	if err != nil {
		return exchange.Call{}, fmt.Errorf("simulate frontrun: %w", err)
	}
	sandwich, err := amm.SimulateSandwich(frontrunAmounts[last], q.amounts[last], q.hops[last], fee)
	if err != nil {
		return exchange.Call{}, fmt.Errorf("simulate victim: %w", err)
	}

	back := make([]amm.Reserves, len(q.hops))
	for i, hop := range q.hops {
		back[last-i] = hop.Reverse()
	}
	back[0] = sandwich.After.Reverse()
	amounts, err := amm.Quote(sellAmount, back, fee)
	if err != nil {
		return exchange.Call{}, fmt.Errorf("simulate backrun: %w", err)
	}
	minOut := amm.SubPercent(amounts[len(amounts)-1], s.engine.Params.MaxFrontrunSlippagePercent)

	return s.ex.Sell(exchange.SwapCall{
		AmountIn:     sellAmount,
		AmountOutMin: minOut,
		Path:         exchange.ReversePath(s.request.Path),
		Deadline:     s.request.Deadline,
	})
}

// submit takes the next nonce for leg, signs call and sends it.
func (s *Session) submit(ctx context.Context, leg *Leg, call exchange.Call, gasPrice *big.Int) error {
	account := s.engine.Account
	leg.Nonce = account.NextNonce()
	leg.HasNonce = true
	leg.GasPrice = gasPrice

	tx, err := account.Sign(leg.Nonce, call, gasPrice, s.engine.Params.GasLimit)
	if err != nil {
		return fmt.Errorf("%w: sign %s: %w", ErrSubmission, leg.Kind, err)
	}
	start := time.Now()
	err = s.engine.Node.SendTransaction(ctx, tx)
	metrics.RecordSubmitDuration(string(leg.Kind), time.Since(start).Milliseconds())
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSubmission, leg.Kind, err)
	}
	leg.Tx = tx
	leg.Submitted = true
	go s.engine.Broadcaster.Broadcast(context.Background(), tx)

	hash := tx.Hash()
	s.publish(&Event{Type: EventSubmitted, Leg: leg.Kind, Tx: &hash})
	s.logger.Info("Leg submitted",
		zap.String("leg", string(leg.Kind)),
		zap.String("tx", hash.Hex()),
		zap.Uint64("nonce", leg.Nonce),
		zap.String("gasPrice", gasPrice.String()),
		zap.String("value", amm.FormatUnits(tx.Value(), 18).String()),
	)
	return nil
}

func (s *Session) await(ctx context.Context, out chan<- legResult, kind LegKind, tx *types.Transaction, from common.Address) {
	receipt, err := s.engine.Waiter.Wait(ctx, tx, from)
	out <- legResult{kind: kind, receipt: receipt, err: err}
}

// join returns once both legs and the victim reached a final result, or with the first failure.
// A victim failure after both legs are mined leaves nothing to cancel and is only logged.
func (s *Session) join(results <-chan legResult) error {
	victimDone := false
	for s.frontrun.Receipt == nil || s.backrun.Receipt == nil || !victimDone {
		r := <-results
		legsMined := s.frontrun.Receipt != nil && s.backrun.Receipt != nil
		switch r.kind {
		case LegFrontrun:
			s.frontrun.Receipt = r.receipt
		case LegBackrun:
			s.backrun.Receipt = r.receipt
		case LegVictim:
			victimDone = true
		}
		if r.err != nil {
			if r.kind == LegVictim && legsMined {
				s.logger.Warn("Victim failed after both legs were mined", zap.Error(r.err))
				continue
			}
			return fmt.Errorf("%w: %s: %w", ErrConfirmation, r.kind, r.err)
		}
		s.logger.Info("Transaction mined",
			zap.String("leg", string(r.kind)),
			zap.String("tx", r.receipt.TxHash.Hex()),
			zap.Stringer("block", r.receipt.BlockNumber),
		)
	}
	return nil
}

// fail cancels what can still be canceled and reports cause.
func (s *Session) fail(cause error) error {
	s.setState(StateCanceling)
	s.cancelLegs()
	s.setState(StateFailed)
	metrics.IncSessionsFailed()
	s.publish(&Event{Type: EventFailed, Error: cause.Error()})
	return fmt.Errorf("session %s: %w", s.victim.Hash().Hex(), cause)
}

// cancelLegs replaces every pending leg with a self-transfer at a bumped gas price and fills the
// nonce of every leg the node never accepted. It runs on its own context so that it still works
// during shutdown.
func (s *Session) cancelLegs() {
	ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
	defer cancel()

	for _, leg := range []*Leg{&s.frontrun, &s.backrun} {
		switch {
		case leg.cancelable():
			leg.Canceled = true
			metrics.IncCancellationsSent()
			gasPrice := bumpGasPrice(leg.Tx.GasPrice(), s.engine.Params.CancelGasBumpPercent)
			tx, err := s.replace(ctx, leg.Nonce, gasPrice)
			if err != nil {
				s.logger.Error("Failed to cancel leg", zap.String("leg", string(leg.Kind)), zap.Uint64("nonce", leg.Nonce), zap.Error(err))
				continue
			}
			hash := tx.Hash()
			s.publish(&Event{Type: EventCanceled, Leg: leg.Kind, Tx: &hash})
			s.logger.Warn("Leg canceled",
				zap.String("leg", string(leg.Kind)),
				zap.String("canceled", leg.Tx.Hash().Hex()),
				zap.String("tx", hash.Hex()),
				zap.Uint64("nonce", leg.Nonce),
			)
		case leg.HasNonce && !leg.Submitted && !leg.GapFilled:
			leg.GapFilled = true
			if _, err := s.replace(ctx, leg.Nonce, leg.GasPrice); err != nil {
				s.logger.Error("Failed to fill nonce", zap.String("leg", string(leg.Kind)), zap.Uint64("nonce", leg.Nonce), zap.Error(err))
			}
		}
	}
}

func (s *Session) replace(ctx context.Context, nonce uint64, gasPrice *big.Int) (*types.Transaction, error) {
	tx, err := s.engine.Account.SelfTransfer(nonce, gasPrice)
	if err != nil {
		return nil, err
	}
	if err := s.engine.Node.SendTransaction(ctx, tx); err != nil {
		return nil, err
	}
	go s.engine.Broadcaster.Broadcast(context.Background(), tx)
	return tx, nil
}

func (s *Session) complete(ctx context.Context, balanceBefore, amountIn *big.Int, slippage decimal.Decimal, start time.Time) error {
	s.setState(StateCompleted)
	metrics.IncSessionsCompleted()
	metrics.RecordSessionDuration("completed", time.Since(start).Milliseconds())

	balanceAfter, err := s.engine.Node.BalanceAt(ctx, s.ex.Holder(), nil)
	if err != nil {
		return fmt.Errorf("session %s completed, balance unavailable: %w", s.victim.Hash().Hex(), err)
	}
	// the frontrun value and the gas of both legs are already part of the difference
	profit := new(big.Int).Sub(balanceAfter, balanceBefore)

	fields := []zap.Field{
		zap.String("victim", s.victim.Hash().Hex()),
		zap.String("token", s.token.Address.Hex()),
		zap.String("amountIn", amm.FormatUnits(amountIn, 18).String()),
		zap.String("slippage", slippage.StringFixed(4)),
		zap.String("profit", amm.FormatUnits(profit, 18).StringFixed(8)),
		zap.String("frontrunTx", s.frontrun.Tx.Hash().Hex()),
		zap.String("backrunTx", s.backrun.Tx.Hash().Hex()),
		zap.Duration("duration", time.Since(start)),
	}
	s.engine.tradeLog(SwapExactETHForTokensCategory).Info("Frontrun completed", fields...)
	s.logger.Info("Frontrun completed", fields...)
	s.publish(&Event{Type: EventCompleted, Profit: (*hexutil.Big)(profit)})
	return nil
}

func (s *Session) publish(event *Event) {
	event.Victim = s.victim.Hash()
	publishAsync(s.logger, s.engine.Events, event)
}

func bumpGasPrice(price *big.Int, percent decimal.Decimal) *big.Int {
	bumped := new(big.Int).Add(price, amm.MulPercent(price, percent))
	if bumped.Cmp(price) <= 0 {
		bumped.Add(price, big.NewInt(1))
	}
	return bumped
}

func minBig(first *big.Int, rest ...*big.Int) *big.Int {
	out := first
	for _, v := range rest {
		if v.Cmp(out) < 0 {
			out = v
		}
	}
	return new(big.Int).Set(out)
}
