// Package toast projects newly arrived unread notifications into a small,
// self-expiring display queue.
package toast

import (
	"context"
	"sync"
	"time"

	"github.com/reclamflow/feed/internal/feed"
	"github.com/reclamflow/feed/pkg/clock"
	"github.com/reclamflow/feed/pkg/logger"
	"github.com/reclamflow/feed/pkg/metrics"
)

const (
	DefaultLimit    = 3
	DefaultDuration = 6 * time.Second
)

// Entry is one visible toast. ID combines the notification's uniqueKey and
// timestamp so expiry never removes a different toast of the same key.
type Entry struct {
	ID           string                  `json:"id"`
	Notification feed.NotificationRecord `json:"notification"`
	ExpiresAt    time.Time               `json:"expiresAt"`
}

// Cue is the audio signal emitted when toasts are enqueued.
type Cue interface {
	Cue(ctx context.Context)
}

type Options struct {
	Limit    int
	Duration time.Duration
	Clock    clock.Clock
	Cue      Cue
	Logger   *logger.Logger
	Metrics  *metrics.FeedMetrics
}

// Queue holds at most Limit entries. The oldest entry is evicted first.
type Queue struct {
	limit    int
	duration time.Duration
	clock    clock.Clock
	cue      Cue
	logg     *logger.Logger
	metrics  *metrics.FeedMetrics

	mu      sync.Mutex
	active  []*slot
	toasted map[string]struct{}
	closed  bool
}

type slot struct {
	entry Entry
	timer *clock.Timer
}

func NewQueue(opts Options) *Queue {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	duration := opts.Duration
	if duration <= 0 {
		duration = DefaultDuration
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logg := opts.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Queue{
		limit:    limit,
		duration: duration,
		clock:    clk,
		cue:      opts.Cue,
		logg:     logg,
		metrics:  opts.Metrics,
		toasted:  make(map[string]struct{}),
	}
}

// OnNewUnread enqueues every unread record whose key has not been toasted
// during this session and plays one cue for the batch.
func (q *Queue) OnNewUnread(records []feed.NotificationRecord) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	added := 0
	for _, record := range records {
		if record.IsRead {
			continue
		}
		if _, ok := q.toasted[record.UniqueKey]; ok {
			continue
		}
		q.toasted[record.UniqueKey] = struct{}{}
		q.pushLocked(record)
		added++
	}
	q.mu.Unlock()

	if added == 0 {
		return
	}
	if q.cue != nil {
		q.cue.Cue(context.Background())
	}
}

func (q *Queue) pushLocked(record feed.NotificationRecord) {
	for len(q.active) >= q.limit {
		oldest := q.active[0]
		oldest.timer.Stop()
		q.active = q.active[1:]
		q.metrics.IncToastEvicted()
		q.logg.Debug(q.logg.WithField(context.Background(), "toast_id", oldest.entry.ID), "toast evicted")
	}

	id := record.UniqueKey + "_" + record.Timestamp
	s := &slot{entry: Entry{
		ID:           id,
		Notification: record,
		ExpiresAt:    q.clock.Now().Add(q.duration),
	}}
	s.timer = q.clock.AfterFunc(q.duration, func() { q.expire(s) })
	q.active = append(q.active, s)
	q.metrics.IncToastShown()
}

func (q *Queue) expire(target *slot) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, s := range q.active {
		if s == target {
			q.active = append(q.active[:i], q.active[i+1:]...)
			return
		}
	}
}

// Dismiss removes the toast with the given id. It reports whether one was active.
func (q *Queue) Dismiss(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, s := range q.active {
		if s.entry.ID == id {
			s.timer.Stop()
			q.active = append(q.active[:i], q.active[i+1:]...)
			return true
		}
	}
	return false
}

// ForgetKey drops any active toast for a notification that was just read.
// The key stays in the toasted set so it is not shown again.
func (q *Queue) ForgetKey(uniqueKey string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.toasted[uniqueKey] = struct{}{}
	kept := q.active[:0]
	for _, s := range q.active {
		if s.entry.Notification.UniqueKey == uniqueKey {
			s.timer.Stop()
			continue
		}
		kept = append(kept, s)
	}
	q.active = kept
}

// Active returns the visible toasts, oldest first.
func (q *Queue) Active() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	entries := make([]Entry, 0, len(q.active))
	for _, s := range q.active {
		entries = append(entries, s.entry)
	}
	return entries
}

// Close stops every pending timer and ignores later arrivals.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, s := range q.active {
		s.timer.Stop()
	}
	q.active = nil
	q.closed = true
}
