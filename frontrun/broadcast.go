package frontrun

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/spitfirest/frontrunner/metrics"
	"github.com/ybbus/jsonrpc/v3"
	"go.uber.org/zap"
)

const broadcastTimeout = 5 * time.Second

type broadcastEndpoint struct {
	url    string
	client jsonrpc.RPCClient
}

// Broadcaster relays signed transactions to additional RPC endpoints.
type Broadcaster struct {
	logger    *zap.Logger
	endpoints []broadcastEndpoint
}

func NewBroadcaster(logger *zap.Logger, urls []string) *Broadcaster {
	b := &Broadcaster{logger: logger.Named("broadcast")}
	for _, url := range urls {
		if url == "" {
			continue
		}
		b.endpoints = append(b.endpoints, broadcastEndpoint{url: url, client: jsonrpc.NewClient(url)})
	}
	return b
}

func (b *Broadcaster) Len() int {
	if b == nil {
		return 0
	}
	return len(b.endpoints)
}

// Broadcast sends tx to all endpoints in parallel and waits for them. Failures are only logged.
func (b *Broadcaster) Broadcast(ctx context.Context, tx *types.Transaction) {
	if b.Len() == 0 {
		return
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		b.logger.Error("Failed to encode transaction", zap.Error(err))
		return
	}
	rawHex := hexutil.Encode(raw)

	ctx, cancel := context.WithTimeout(ctx, broadcastTimeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, endpoint := range b.endpoints {
		wg.Add(1)
		go func(endpoint broadcastEndpoint) {
			defer wg.Done()
			start := time.Now()
			res, err := endpoint.client.Call(ctx, "eth_sendRawTransaction", rawHex)
			if err == nil && res.Error != nil {
				err = res.Error
			}
			logger := b.logger.With(
				zap.String("endpoint", endpoint.url),
				zap.String("tx", tx.Hash().Hex()),
				zap.Duration("duration", time.Since(start)),
			)
			if err != nil {
				metrics.IncBroadcastFailures()
				logger.Warn("Failed to broadcast transaction", zap.Error(err))
				return
			}
			logger.Debug("Broadcasted transaction")
		}(endpoint)
	}
	wg.Wait()
}
