package realtime

import (
	"context"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/astroacademy/backend/core"
)

// RedisBroker spreads realtime events between API instances over a Redis pub/sub channel.
type RedisBroker struct {
	client  *redis.Client
	channel string
	logger  core.Logger
}

var _ Broker = (*RedisBroker)(nil) // interface compliance check

func NewRedisBroker(conf *core.Config, logger core.Logger) (*RedisBroker, error) {
	opts, err := redis.ParseURL(conf.Redis.URL)
	if err != nil {
		return nil, errors.Wrap(err, "parsing redis URL")
	}
	return &RedisBroker{client: redis.NewClient(opts), channel: conf.Redis.Channel, logger: logger}, nil
}

func (b *RedisBroker) Ping(ctx context.Context) error {
	return errors.Wrap(b.client.Ping(ctx).Err(), "pinging redis")
}

func (b *RedisBroker) Publish(ctx context.Context, payload []byte) error {
	return errors.Wrap(b.client.Publish(ctx, b.channel, payload).Err(), "publishing realtime event")
}

func (b *RedisBroker) Subscribe(ctx context.Context, handle func(payload []byte)) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer func() { _ = sub.Close() }()

	// wait for the subscription to be confirmed so that no event published afterwards is missed
	if _, err := sub.Receive(ctx); err != nil {
		return errors.Wrap(err, "subscribing to realtime channel")
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("realtime channel closed")
			}
			handle([]byte(msg.Payload))
		}
	}
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}
