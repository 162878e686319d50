package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// FeedMetrics records notification feed activity.
type FeedMetrics struct {
	created        *prometheus.CounterVec
	endpointFailed *prometheus.CounterVec
	skipped        prometheus.Counter
	toastsShown    prometheus.Counter
	toastsEvicted  prometheus.Counter
	transportState prometheus.Gauge
}

// NewFeedMetrics registers the feed metrics on the provided registerer.
func NewFeedMetrics(reg prometheus.Registerer) *FeedMetrics {
	if reg == nil {
		return &FeedMetrics{}
	}
	created := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_notifications_created_total",
		Help: "Notifications appended to the feed.",
	}, []string{"type", "source"})
	endpointFailed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_endpoint_failures_total",
		Help: "Failed polls per endpoint.",
	}, []string{"endpoint"})
	skipped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feed_items_skipped_total",
		Help: "Polled items dropped because they carried no usable identifier.",
	})
	toastsShown := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feed_toasts_shown_total",
		Help: "Toasts admitted to the visible queue.",
	})
	toastsEvicted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feed_toasts_evicted_total",
		Help: "Toasts evicted before expiry to respect the queue bound.",
	})
	transportState := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "feed_transport_state",
		Help: "Broker subscription state (0 disconnected, 1 connecting, 2 connected).",
	})
	reg.MustRegister(created, endpointFailed, skipped, toastsShown, toastsEvicted, transportState)
	return &FeedMetrics{
		created:        created,
		endpointFailed: endpointFailed,
		skipped:        skipped,
		toastsShown:    toastsShown,
		toastsEvicted:  toastsEvicted,
		transportState: transportState,
	}
}

// IncCreated counts a new notification of the given type and source (poll or transport).
func (f *FeedMetrics) IncCreated(notificationType, source string) {
	if f == nil || f.created == nil {
		return
	}
	f.created.WithLabelValues(normalizeLabel(notificationType), normalizeLabel(source)).Inc()
}

func (f *FeedMetrics) IncEndpointFailure(endpoint string) {
	if f == nil || f.endpointFailed == nil {
		return
	}
	f.endpointFailed.WithLabelValues(normalizeLabel(endpoint)).Inc()
}

func (f *FeedMetrics) AddSkipped(n int) {
	if f == nil || f.skipped == nil || n <= 0 {
		return
	}
	f.skipped.Add(float64(n))
}

func (f *FeedMetrics) IncToastShown() {
	if f == nil || f.toastsShown == nil {
		return
	}
	f.toastsShown.Inc()
}

func (f *FeedMetrics) IncToastEvicted() {
	if f == nil || f.toastsEvicted == nil {
		return
	}
	f.toastsEvicted.Inc()
}

// SetTransportState publishes the ordinal of the current transport state.
func (f *FeedMetrics) SetTransportState(ordinal int) {
	if f == nil || f.transportState == nil {
		return
	}
	f.transportState.Set(float64(ordinal))
}
