// Package nonce issues transaction sequence numbers for a single account.
//
// The base nonce is read from the chain once, when the process starts. Every call to Next
// returns the base plus a monotonically growing offset, so two dependent transactions can be
// signed before the first of them is mined. Strict nonce ordering is what makes the chain
// execute a frontrun before the backrun built right after it.
package nonce

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
)

var ErrNotSeeded = errors.New("sequencer is not seeded")

// Source is the part of the node client needed to seed a Sequencer.
type Source interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

type Sequencer struct {
	base   uint64
	offset atomic.Uint64
}

func NewSequencer(base uint64) *Sequencer {
	return &Sequencer{base: base}
}

// Seed reads the pending transaction count of account and returns a Sequencer starting at it.
// Transient node errors are retried with exponential backoff until ctx is done.
func Seed(ctx context.Context, src Source, account common.Address) (*Sequencer, error) {
	exp := backoff.NewExponentialBackOff()
	exp.MaxInterval = 2 * time.Second
	exp.MaxElapsedTime = 30 * time.Second

	var base uint64
	err := backoff.Retry(func() error {
		n, err := src.PendingNonceAt(ctx, account)
		if err != nil {
			return err
		}
		base = n
		return nil
	}, backoff.WithContext(exp, ctx))
	if err != nil {
		return nil, errors.Join(ErrNotSeeded, err)
	}
	return NewSequencer(base), nil
}

// Next returns a nonce strictly greater than every nonce returned before.
func (s *Sequencer) Next() uint64 {
	return s.base + s.offset.Add(1) - 1
}

// Issued returns how many nonces were handed out.
func (s *Sequencer) Issued() uint64 {
	return s.offset.Load()
}
