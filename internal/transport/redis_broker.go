package transport

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	pkgerrors "github.com/reclamflow/feed/pkg/errors"
	"github.com/reclamflow/feed/pkg/logger"
	"github.com/reclamflow/feed/pkg/redis"
)

type messageStream interface {
	Channel(opts ...goredis.ChannelOption) <-chan *goredis.Message
	Close() error
}

type subscribeFunc func(ctx context.Context, channels ...string) (messageStream, error)

// RedisBroker subscribes to a Redis pub/sub channel.
type RedisBroker struct {
	subscribe subscribeFunc
	logg      *logger.Logger
}

func NewRedisBroker(client *redis.Client, logg *logger.Logger) (*RedisBroker, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &RedisBroker{
		subscribe: func(ctx context.Context, channels ...string) (messageStream, error) {
			ps, err := client.Subscribe(ctx, channels...)
			if err != nil {
				return nil, err
			}
			return ps, nil
		},
		logg: logg,
	}, nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, topic string, handler Handler) (*Subscription, error) {
	if handler == nil {
		return nil, errors.New("handler required")
	}
	stream, err := b.subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("redis subscribe %s: %w", topic, err)
	}

	return startSubscription(ctx, func(ctx context.Context) error {
		defer stream.Close()
		messages := stream.Channel()
		for {
			select {
			case <-ctx.Done():
				return nil
			case msg, ok := <-messages:
				if !ok {
					return fmt.Errorf("redis channel %s closed", topic)
				}
				if err := handler(ctx, []byte(msg.Payload)); err != nil {
					logCtx := b.logg.WithFields(ctx, map[string]any{"topic": topic, "code": string(pkgerrors.CodeOf(err))})
					b.logg.Error(logCtx, "ticket event rejected", err)
				}
			}
		}
	}), nil
}
