package frontrun

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	gocache "github.com/patrickmn/go-cache"
	"github.com/spitfirest/frontrunner/metrics"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	pendingChannelSize = 1024
	seenCacheTime      = 10 * time.Minute
	seenCleanup        = time.Minute
)

type DispatcherOptions struct {
	// Self is the trading account, its own transactions are never candidates.
	Self   common.Address
	Signer types.Signer
	// FetchLimit bounds transaction lookups per second, zero means unlimited.
	FetchLimit rate.Limit
	// GasPriceTolerance rejects victims whose gas price is further than this from the node's
	// suggestion, nil or zero disables the check.
	GasPriceTolerance *big.Int
}

// Dispatcher filters pending transactions and starts at most one session at a time.
type Dispatcher struct {
	logger   *zap.Logger
	errorLog *zap.Logger
	node     Node
	registry *Registry
	tracker  *Tracker
	opts     DispatcherOptions
	seen     *gocache.Cache
	limiter  *rate.Limiter

	wg sync.WaitGroup
}

func NewDispatcher(logger, errorLog *zap.Logger, node Node, registry *Registry, tracker *Tracker, opts DispatcherOptions) *Dispatcher {
	d := &Dispatcher{
		logger:   logger.Named("dispatcher"),
		errorLog: errorLog,
		node:     node,
		registry: registry,
		tracker:  tracker,
		opts:     opts,
		seen:     gocache.New(seenCacheTime, seenCleanup),
	}
	if opts.FetchLimit > 0 {
		d.limiter = rate.NewLimiter(opts.FetchLimit, int(opts.FetchLimit)+1)
	}
	return d
}

// Run subscribes to pending transactions and dispatches each notification on its own goroutine.
// A dropped subscription is re-established with exponential backoff. Run returns when ctx ends.
func (d *Dispatcher) Run(ctx context.Context, source PendingSource) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0
	for {
		err := d.consume(ctx, source, b)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		wait := b.NextBackOff()
		metrics.IncSubscriptionRestarts()
		d.logger.Warn("Pending subscription lost", zap.Error(err), zap.Duration("retryIn", wait))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (d *Dispatcher) consume(ctx context.Context, source PendingSource, b backoff.BackOff) error {
	ch := make(chan common.Hash, pendingChannelSize)
	sub, err := source.SubscribePending(ctx, ch)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()
	b.Reset()
	d.logger.Info("Watching pending transactions")

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-sub.Err():
			if err == nil {
				err = errors.New("subscription closed")
			}
			return err
		case hash := <-ch:
			metrics.IncNotificationsReceived()
			d.wg.Add(1)
			go func() {
				defer d.wg.Done()
				d.OnNotification(ctx, hash)
			}()
		}
	}
}

// Wait blocks until every dispatched notification, including running sessions, has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// OnNotification decides whether hash starts a session and runs it if so.
func (d *Dispatcher) OnNotification(ctx context.Context, hash common.Hash) {
	if victim, active := d.tracker.Active(); active {
		if victim == hash {
			metrics.IncVictimReappeared()
			d.logger.Warn("Victim transaction reappeared in mempool", zap.String("tx", hash.Hex()))
		}
		return
	}
	if err := d.seen.Add(hash.Hex(), struct{}{}, gocache.DefaultExpiration); err != nil {
		return
	}
	if d.limiter != nil && !d.limiter.Allow() {
		metrics.IncNotificationsDropped()
		return
	}

	candidate, factory, err := d.filter(ctx, hash)
	if err != nil {
		d.rejected(hash, err)
		return
	}

	handler, err := factory(candidate)
	if err != nil {
		metrics.IncDecodeErrors()
		d.errorLog.Error("Failed to decode candidate",
			zap.String("tx", hash.Hex()),
			zap.String("router", candidate.Router.Hex()),
			zap.Error(err),
		)
		return
	}

	if !d.tracker.TryBegin(hash) {
		return
	}
	d.execute(ctx, candidate, handler)
}

func (d *Dispatcher) filter(ctx context.Context, hash common.Hash) (Candidate, HandlerFactory, error) {
	tx, isPending, err := d.node.TransactionByHash(ctx, hash)
	if err != nil {
		return Candidate{}, nil, reject("not_found")
	}
	if !isPending {
		return Candidate{}, nil, reject("not_pending")
	}
	to := tx.To()
	if to == nil {
		return Candidate{}, nil, reject("no_recipient")
	}
	if tx.GasPrice() == nil || tx.GasPrice().Sign() <= 0 || tx.Value() == nil {
		return Candidate{}, nil, reject("no_gas_price")
	}
	from, err := types.Sender(d.opts.Signer, tx)
	if err != nil {
		return Candidate{}, nil, reject("bad_signature")
	}
	if from == d.opts.Self {
		return Candidate{}, nil, reject("own_transaction")
	}
	if !d.registry.IsRouter(*to) {
		return Candidate{}, nil, reject("unknown_router")
	}
	selector, ok := SelectorFromData(tx.Data())
	if !ok {
		return Candidate{}, nil, reject("short_call_data")
	}
	factory, ok := d.registry.Lookup(*to, selector)
	if !ok {
		return Candidate{}, nil, reject("unknown_method")
	}
	if err := d.checkGasPrice(ctx, tx.GasPrice()); err != nil {
		return Candidate{}, nil, err
	}
	return Candidate{Tx: tx, From: from, Router: *to}, factory, nil
}

func (d *Dispatcher) checkGasPrice(ctx context.Context, gasPrice *big.Int) error {
	tolerance := d.opts.GasPriceTolerance
	if tolerance == nil || tolerance.Sign() == 0 {
		return nil
	}
	suggested, err := d.node.SuggestGasPrice(ctx)
	if err != nil {
		return reject("gas_price_unavailable")
	}
	if new(big.Int).Abs(new(big.Int).Sub(gasPrice, suggested)).Cmp(tolerance) > 0 {
		return reject("gas_price_deviation")
	}
	return nil
}

func (d *Dispatcher) rejected(hash common.Hash, err error) {
	reason := rejectReason(err)
	metrics.IncCandidateRejected(reason)
	d.logger.Debug("Candidate rejected", zap.String("tx", hash.Hex()), zap.String("reason", reason))
}

// execute is the error boundary of a session: errors and panics end up in the error log and the
// slot is released afterwards in every case.
func (d *Dispatcher) execute(ctx context.Context, c Candidate, h Handler) {
	hash := c.Hash()
	defer d.tracker.End(hash)
	defer func() {
		if r := recover(); r != nil {
			metrics.IncSessionPanics()
			d.handleError(c, fmt.Errorf("%w: %v", ErrPanic, r))
		}
	}()

	err := h.Handle(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrRejected):
		d.rejected(hash, err)
	default:
		d.handleError(c, err)
	}
}

func (d *Dispatcher) handleError(c Candidate, err error) {
	fields := []zap.Field{
		zap.String("tx", c.Hash().Hex()),
		zap.String("from", c.From.Hex()),
		zap.String("router", c.Router.Hex()),
		zap.Error(err),
	}
	d.errorLog.Error("Session failed", fields...)
	d.logger.Error("Session failed", fields...)
}
