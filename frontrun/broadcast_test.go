package frontrun

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type rpcRecorder struct {
	mu       sync.Mutex
	requests []map[string]interface{}
}

func (r *rpcRecorder) handler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(req.Body).Decode(&body)
		r.mu.Lock()
		r.requests = append(r.requests, body)
		r.mu.Unlock()
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":0,"result":"0x01"}`))
	}
}

func TestBroadcaster(t *testing.T) {
	var ok, failing rpcRecorder
	okServer := httptest.NewServer(ok.handler(http.StatusOK))
	defer okServer.Close()
	failingServer := httptest.NewServer(failing.handler(http.StatusInternalServerError))
	defer failingServer.Close()

	env := newTestEnv(t)
	tx := env.victimSwap(t, 0, ether(1), 1)
	raw, err := tx.MarshalBinary()
	require.NoError(t, err)

	b := NewBroadcaster(zap.NewNop(), []string{okServer.URL, "", failingServer.URL})
	require.Equal(t, 2, b.Len())
	b.Broadcast(context.Background(), tx)

	for _, r := range []*rpcRecorder{&ok, &failing} {
		require.Len(t, r.requests, 1)
		require.Equal(t, "eth_sendRawTransaction", r.requests[0]["method"])
		require.Equal(t, []interface{}{hexutil.Encode(raw)}, r.requests[0]["params"])
	}
}

func TestBroadcaster_Empty(t *testing.T) {
	var b *Broadcaster
	require.Equal(t, 0, b.Len())
	b.Broadcast(context.Background(), nil)

	require.Equal(t, 0, NewBroadcaster(zap.NewNop(), nil).Len())
}
