package frontrun

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	ErrReverted = errors.New("transaction reverted")
	ErrReplaced = errors.New("transaction nonce consumed by another transaction")

	errNotMined = errors.New("not mined yet")
)

const defaultReceiptPollInterval = 500 * time.Millisecond

// ReceiptWaiter polls for receipts at a constant interval until the transaction is mined,
// replaced or the context ends.
type ReceiptWaiter struct {
	node     Node
	Interval time.Duration
}

func NewReceiptWaiter(node Node) *ReceiptWaiter {
	return &ReceiptWaiter{node: node, Interval: defaultReceiptPollInterval}
}

// Wait returns the receipt of tx sent by from. A reverted receipt is returned along with
// ErrReverted.
func (w *ReceiptWaiter) Wait(ctx context.Context, tx *types.Transaction, from common.Address) (*types.Receipt, error) {
	var receipt *types.Receipt
	poll := func() error {
		r, err := w.node.TransactionReceipt(ctx, tx.Hash())
		if err == nil {
			receipt = r
			return nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return err
		}

		mined, err := w.node.NonceAt(ctx, from, nil)
		if err != nil {
			return err
		}
		if mined <= tx.Nonce() {
			return errNotMined
		}
		// the nonce moved on, the receipt may have landed in between
		r, err = w.node.TransactionReceipt(ctx, tx.Hash())
		if err == nil {
			receipt = r
			return nil
		}
		if errors.Is(err, ethereum.NotFound) {
			return backoff.Permanent(ErrReplaced)
		}
		return err
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(w.Interval), ctx)
	if err := backoff.Retry(poll, b); err != nil {
		return nil, err
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return receipt, ErrReverted
	}
	return receipt, nil
}
