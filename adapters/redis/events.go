// Package redis provides an adapter to redis client
package redis

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/spitfirest/frontrunner/frontrun"
)

// EventPublisher publishes session events as JSON on a pub/sub channel.
type EventPublisher struct {
	client  *redis.Client
	channel string
}

func NewEventPublisher(client *redis.Client, channel string) *EventPublisher {
	return &EventPublisher{
		client:  client,
		channel: channel,
	}
}

func (p *EventPublisher) Publish(ctx context.Context, event *frontrun.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.channel, data).Err()
}
