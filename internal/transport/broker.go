package transport

import (
	"context"
	"sync"
)

// Handler processes one broker payload.
type Handler func(ctx context.Context, payload []byte) error

// Broker opens a subscription on a topic. Subscribe returns once the broker
// has accepted the subscription; messages are then delivered from a
// background receive loop until the context is canceled.
type Broker interface {
	Subscribe(ctx context.Context, topic string, handler Handler) (*Subscription, error)
}

// Subscription tracks the receive loop of one accepted subscription.
type Subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	mu  sync.Mutex
	err error
}

// startSubscription runs loop in the background under a cancelable context.
func startSubscription(ctx context.Context, loop func(ctx context.Context) error) *Subscription {
	loopCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		err := loop(loopCtx)
		if loopCtx.Err() != nil {
			err = nil
		}
		sub.mu.Lock()
		sub.err = err
		sub.mu.Unlock()
	}()
	return sub
}

// Done is closed when the receive loop has exited.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err reports why the receive loop stopped. It is nil after Close.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close cancels the receive loop and waits for it to exit.
func (s *Subscription) Close() {
	s.once.Do(s.cancel)
	<-s.done
}
