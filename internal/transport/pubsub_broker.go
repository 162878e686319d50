package transport

import (
	"context"
	"errors"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"

	pkgerrors "github.com/reclamflow/feed/pkg/errors"
	"github.com/reclamflow/feed/pkg/logger"
)

type subscriptionSource interface {
	Ping(ctx context.Context) error
	TicketSubscription() *pubsub.Subscriber
}

// PubSubBroker receives ticket updates from a Google Cloud Pub/Sub
// subscription. The topic argument of Subscribe is informational; messages
// come from the subscription the client was configured with.
type PubSubBroker struct {
	client subscriptionSource
	logg   *logger.Logger
}

func NewPubSubBroker(client subscriptionSource, logg *logger.Logger) (*PubSubBroker, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &PubSubBroker{client: client, logg: logg}, nil
}

func (b *PubSubBroker) Subscribe(ctx context.Context, topic string, handler Handler) (*Subscription, error) {
	if handler == nil {
		return nil, errors.New("handler required")
	}
	if err := b.client.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pubsub subscription check: %w", err)
	}
	subscriber := b.client.TicketSubscription()
	if subscriber == nil {
		return nil, errors.New("pubsub ticket subscription not configured")
	}

	return startSubscription(ctx, func(ctx context.Context) error {
		return subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
			if ack := b.process(ctx, topic, msg.ID, msg.Data, handler); ack {
				msg.Ack()
				return
			}
			msg.Nack()
		})
	}), nil
}

// process runs the handler and reports whether the message should be acked.
// Only retryable failures are redelivered.
func (b *PubSubBroker) process(ctx context.Context, topic, messageID string, data []byte, handler Handler) bool {
	err := handler(ctx, data)
	if err == nil {
		return true
	}
	logCtx := b.logg.WithFields(ctx, map[string]any{
		"topic":      topic,
		"message_id": messageID,
		"code":       string(pkgerrors.CodeOf(err)),
	})
	b.logg.Error(logCtx, "ticket event rejected", err)
	return !pkgerrors.IsRetryable(err)
}
