package frontrun

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/spitfirest/frontrunner/exchange"
	"go.uber.org/zap"
)

const approveGas = 100_000

// EnsureAllowances approves every token for every exchange that needs it and waits until the
// approvals are mined. Exchanges that trade from a contract need nothing.
func EnsureAllowances(ctx context.Context, logger *zap.Logger, node Node, account *Account, waiter *ReceiptWaiter, exchanges []exchange.Exchange, tokens []common.Address) error {
	var sent []*types.Transaction
	for _, ex := range exchanges {
		approver, ok := ex.(exchange.Approver)
		if !ok {
			continue
		}
		calls, err := approver.Approvals(ctx, tokens)
		if err != nil {
			return fmt.Errorf("allowances: %w", err)
		}
		for _, call := range calls {
			gasPrice, err := node.SuggestGasPrice(ctx)
			if err != nil {
				return err
			}
			tx, err := account.Sign(account.NextNonce(), call, gasPrice, approveGas)
			if err != nil {
				return err
			}
			if err := node.SendTransaction(ctx, tx); err != nil {
				return fmt.Errorf("approve %s: %w", call.To.Hex(), err)
			}
			logger.Info("Approval sent", zap.String("token", call.To.Hex()), zap.String("tx", tx.Hash().Hex()))
			sent = append(sent, tx)
		}
	}

	for _, tx := range sent {
		if _, err := waiter.Wait(ctx, tx, account.Address()); err != nil {
			return fmt.Errorf("approval %s: %w", tx.Hash().Hex(), err)
		}
	}
	if len(sent) > 0 {
		logger.Info("Token allowances are in place", zap.Int("approvals", len(sent)))
	}
	return nil
}
