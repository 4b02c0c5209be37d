package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/park285/chess-wager/internal/obslog"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultChannel = "wager:events"

// RedisBus fans events out across instances through Redis pub/sub. Every instance,
// including the publisher, receives its own events from the channel.
type RedisBus struct {
	rdb     redis.UniversalClient
	channel string
	local   *LocalBus
}

func NewRedisBus(rdb redis.UniversalClient, channel string) *RedisBus {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisBus{rdb: rdb, channel: channel, local: NewLocalBus()}
}

func (b *RedisBus) Publish(ctx context.Context, e Event) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

func (b *RedisBus) Subscribe(h Handler) func() { return b.local.Subscribe(h) }

// Run relays channel messages to local subscribers until ctx ends.
// ready, if non-nil, is closed once the subscription is confirmed.
func (b *RedisBus) Run(ctx context.Context, ready chan<- struct{}) error {
	sub := b.rdb.Subscribe(ctx, b.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	if ready != nil {
		close(ready)
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var e Event
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				obslog.L().Warn("event_decode_failed", zap.Error(err))
				continue
			}
			b.local.dispatch(e)
		}
	}
}
