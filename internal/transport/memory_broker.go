package transport

import (
	"context"
	"errors"
	"sync"
)

const memoryBufferSize = 64

// MemoryBroker fans messages out to in-process subscribers.
type MemoryBroker struct {
	mu          sync.Mutex
	subscribers map[string]map[chan []byte]struct{}
	failNext    error
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subscribers: make(map[string]map[chan []byte]struct{})}
}

// FailNextSubscribe makes the next Subscribe call fail with err.
func (b *MemoryBroker) FailNextSubscribe(err error) {
	b.mu.Lock()
	b.failNext = err
	b.mu.Unlock()
}

func (b *MemoryBroker) Subscribe(ctx context.Context, topic string, handler Handler) (*Subscription, error) {
	if handler == nil {
		return nil, errors.New("handler required")
	}
	b.mu.Lock()
	if err := b.failNext; err != nil {
		b.failNext = nil
		b.mu.Unlock()
		return nil, err
	}
	inbox := make(chan []byte, memoryBufferSize)
	if b.subscribers[topic] == nil {
		b.subscribers[topic] = make(map[chan []byte]struct{})
	}
	b.subscribers[topic][inbox] = struct{}{}
	b.mu.Unlock()

	return startSubscription(ctx, func(ctx context.Context) error {
		defer b.remove(topic, inbox)
		for {
			select {
			case <-ctx.Done():
				return nil
			case payload := <-inbox:
				_ = handler(ctx, payload)
			}
		}
	}), nil
}

// Publish delivers payload to every current subscriber of topic and reports
// how many received it.
func (b *MemoryBroker) Publish(topic string, payload []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	delivered := 0
	for inbox := range b.subscribers[topic] {
		select {
		case inbox <- payload:
			delivered++
		default:
		}
	}
	return delivered
}

// Subscribers returns the number of live subscriptions on topic.
func (b *MemoryBroker) Subscribers(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers[topic])
}

func (b *MemoryBroker) remove(topic string, inbox chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers[topic], inbox)
}
