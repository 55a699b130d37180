package fanout

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisChannel is the single pub/sub channel every instance listens on
const RedisChannel = "social:fanout"

// Redis forwards frames through Redis pub/sub
type Redis struct {
	client     *redis.Client
	local      LocalDeliverer
	instanceID string
	closed     atomic.Bool
}

// NewRedis creates redis fan-out adapter
func NewRedis(client *redis.Client, local LocalDeliverer, instanceID string) *Redis {
	return &Redis{client: client, local: local, instanceID: instanceID}
}

func (r *Redis) Publish(ctx context.Context, channel string, payload []byte) error {
	r.local.DeliverLocal(channel, payload)

	if r.closed.Load() {
		return ErrClosed
	}

	msg, err := encodeWire(r.instanceID, channel, payload)
	if err != nil {
		return fmt.Errorf("fanout encode: %w", err)
	}
	if err := r.client.Publish(ctx, RedisChannel, msg).Err(); err != nil {
		publishFailuresTotal.WithLabelValues(DriverRedis).Inc()
		return fmt.Errorf("redis publish: %w", err)
	}
	publishedTotal.WithLabelValues(DriverRedis).Inc()
	return nil
}

// Run subscribes and delivers frames published by other instances
func (r *Redis) Run(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, RedisChannel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("redis subscribe: %w", err)
	}
	log.Info().Str("channel", RedisChannel).Msg("Fan-out subscriber started")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil

		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle([]byte(msg.Payload))
		}
	}
}

func (r *Redis) handle(raw []byte) {
	msg, err := decodeWire(raw)
	if err != nil {
		log.Warn().Err(err).Msg("Dropping malformed fan-out frame")
		return
	}
	if msg.Sender == r.instanceID {
		return
	}
	receivedTotal.WithLabelValues(DriverRedis).Inc()
	r.local.DeliverLocal(msg.Channel, msg.Payload)
}

// Close stops forwarding; the redis client is owned by the caller
func (r *Redis) Close() error {
	r.closed.Store(true)
	return nil
}
