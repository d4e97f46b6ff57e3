package frontrun

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"
)

type EventType string

const (
	EventStarted   EventType = "started"
	EventSubmitted EventType = "submitted"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	EventCanceled  EventType = "canceled"
)

const publishTimeout = 2 * time.Second

// Event describes a session transition for external observers.
type Event struct {
	Type   EventType    `json:"type"`
	Victim common.Hash  `json:"victim"`
	Leg    LegKind      `json:"leg,omitempty"`
	Tx     *common.Hash `json:"tx,omitempty"`
	Profit *hexutil.Big `json:"profit,omitempty"`
	Error  string       `json:"error,omitempty"`
	Time   time.Time    `json:"time"`
}

type EventPublisher interface {
	Publish(ctx context.Context, event *Event) error
}

// publishAsync never blocks the session; failures are logged.
func publishAsync(logger *zap.Logger, publisher EventPublisher, event *Event) {
	if publisher == nil {
		return
	}
	event.Time = time.Now().UTC()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := publisher.Publish(ctx, event); err != nil {
			logger.Warn("Failed to publish session event", zap.String("type", string(event.Type)), zap.Error(err))
		}
	}()
}
