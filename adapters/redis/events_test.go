package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/redis/go-redis/v9"
	"github.com/spitfirest/frontrunner/frontrun"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	red := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
	})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := red.Ping(ctx).Err(); err != nil {
		t.Skipf("redis is not available: %v", err)
	}
	return red
}

func TestEventPublisher(t *testing.T) {
	red := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := red.Subscribe(ctx, "frontrun_test")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	publisher := NewEventPublisher(red, "frontrun_test")
	victim := common.HexToHash("0x123")
	tx := common.HexToHash("0x456")

	require.NoError(t, publisher.Publish(ctx, &frontrun.Event{Type: frontrun.EventStarted, Victim: victim}))
	require.NoError(t, publisher.Publish(ctx, &frontrun.Event{
		Type:   frontrun.EventCompleted,
		Victim: victim,
		Tx:     &tx,
		Profit: (*hexutil.Big)(hexutil.MustDecodeBig("0x10")),
	}))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	require.Contains(t, msg.Payload, `"type":"started"`)

	msg, err = sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	var completed frontrun.Event
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &completed))
	require.Equal(t, frontrun.EventCompleted, completed.Type)
	require.Equal(t, victim, completed.Victim)
	require.Equal(t, tx, *completed.Tx)
	require.Equal(t, int64(16), completed.Profit.ToInt().Int64())
}
