package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/reclamflow/feed/pkg/clock"
	pkgerrors "github.com/reclamflow/feed/pkg/errors"
	"github.com/reclamflow/feed/pkg/logger"
	"github.com/reclamflow/feed/pkg/metrics"
)

// ReconnectPolicy decides whether and when to reconnect after a failure.
// attempt starts at 1 for the first failure since the last success.
type ReconnectPolicy interface {
	Next(attempt int) (time.Duration, bool)
}

// Never keeps the subscription down after a failure.
type Never struct{}

func (Never) Next(int) (time.Duration, bool) { return 0, false }

// Backoff doubles the delay from Initial up to Max, giving up after
// MaxAttempts when it is positive.
type Backoff struct {
	Initial     time.Duration
	Max         time.Duration
	MaxAttempts int
}

func (b Backoff) Next(attempt int) (time.Duration, bool) {
	if attempt < 1 || (b.MaxAttempts > 0 && attempt > b.MaxAttempts) {
		return 0, false
	}
	delay := b.Initial
	if delay <= 0 {
		delay = time.Second
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if b.Max > 0 && delay >= b.Max {
			return b.Max, true
		}
	}
	if b.Max > 0 && delay > b.Max {
		delay = b.Max
	}
	return delay, true
}

// Options wires a Transport.
type Options struct {
	Broker    Broker
	Topic     string
	Handler   Handler
	Logger    *logger.Logger
	Metrics   *metrics.FeedMetrics
	Reconnect ReconnectPolicy
	Clock     clock.Clock
}

// Transport owns the single broker subscription of a session.
type Transport struct {
	broker    Broker
	topic     string
	handler   Handler
	logg      *logger.Logger
	metrics   *metrics.FeedMetrics
	reconnect ReconnectPolicy
	clock     clock.Clock
	machine   *Machine

	mu       sync.Mutex
	baseCtx  context.Context
	sub      *Subscription
	watchers sync.WaitGroup
	retry    *clock.Timer
	attempts int
	closed   bool
}

func New(opts Options) (*Transport, error) {
	if opts.Broker == nil {
		return nil, fmt.Errorf("broker required")
	}
	if opts.Topic == "" {
		return nil, fmt.Errorf("topic required")
	}
	if opts.Handler == nil {
		return nil, fmt.Errorf("handler required")
	}
	if opts.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	policy := opts.Reconnect
	if policy == nil {
		policy = Never{}
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	t := &Transport{
		broker:    opts.Broker,
		topic:     opts.Topic,
		handler:   opts.Handler,
		logg:      opts.Logger,
		metrics:   opts.Metrics,
		reconnect: policy,
		clock:     clk,
		machine:   NewMachine(),
	}
	t.machine.Observe(func(tr Transition) {
		t.metrics.SetTransportState(int(tr.To))
	})
	return t, nil
}

// State returns the current subscription state.
func (t *Transport) State() State {
	return t.machine.State()
}

// Observe registers o for every state transition.
func (t *Transport) Observe(o Observer) {
	t.machine.Observe(o)
}

// Connect opens the subscription. Failures leave the transport disconnected
// and are returned to the caller.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return pkgerrors.New(pkgerrors.CodeStateConflict, "transport torn down")
	}
	if t.baseCtx == nil {
		t.baseCtx = ctx
	}
	t.mu.Unlock()

	if _, err := t.machine.Fire(EventConnect, nil); err != nil {
		return err
	}

	logCtx := t.logg.WithField(ctx, "topic", t.topic)
	sub, err := t.broker.Subscribe(ctx, t.topic, t.handler)
	if err != nil {
		t.fail(logCtx, err)
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "broker subscription failed")
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		sub.Close()
		return pkgerrors.New(pkgerrors.CodeStateConflict, "transport torn down")
	}
	t.sub = sub
	t.attempts = 0
	t.watchers.Add(1)
	t.mu.Unlock()

	if _, err := t.machine.Fire(EventConnected, nil); err != nil {
		return err
	}
	t.logg.Info(t.logg.WithField(logCtx, "transport_state", StateConnected.String()), "broker subscription established")

	go t.watch(logCtx, sub)
	return nil
}

// Run connects and keeps the subscription until ctx is canceled. A failed
// connection is not fatal: Run still waits for ctx so polling carries on.
func (t *Transport) Run(ctx context.Context) error {
	if err := t.Connect(ctx); err != nil {
		t.logg.Warn(t.logg.WithField(ctx, "topic", t.topic), "continuing without live updates")
	}
	<-ctx.Done()
	t.Teardown()
	return nil
}

// Teardown closes the subscription and cancels any pending reconnect. It is
// safe to call more than once.
func (t *Transport) Teardown() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	sub := t.sub
	t.sub = nil
	if t.retry != nil {
		t.retry.Stop()
		t.retry = nil
	}
	t.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
	t.watchers.Wait()
	_, _ = t.machine.Fire(EventTeardown, nil)
}

func (t *Transport) watch(ctx context.Context, sub *Subscription) {
	defer t.watchers.Done()
	<-sub.Done()

	t.mu.Lock()
	closed := t.closed
	if t.sub == sub {
		t.sub = nil
	}
	t.mu.Unlock()
	if closed || ctx.Err() != nil {
		return
	}

	err := sub.Err()
	if err == nil {
		err = fmt.Errorf("subscription ended")
	}
	t.fail(ctx, err)
}

func (t *Transport) fail(ctx context.Context, err error) {
	if _, fireErr := t.machine.Fire(EventError, err); fireErr != nil {
		return
	}
	t.logg.Error(t.logg.WithField(ctx, "transport_state", StateDisconnected.String()), "broker subscription lost", err)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.attempts++
	delay, ok := t.reconnect.Next(t.attempts)
	if !ok {
		return
	}
	base := t.baseCtx
	t.retry = t.clock.AfterFunc(delay, func() {
		if base.Err() != nil {
			return
		}
		_ = t.Connect(base)
	})
}
