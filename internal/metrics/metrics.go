package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/TungTran2095/studio-sub004/internal/stream"
)

const namespace = "tradecore"

// Metrics holds every collector. Create it with New.
type Metrics struct {
	clockOffset prometheus.Gauge
	clockSyncs  *prometheus.CounterVec

	rateUsed     *prometheus.GaugeVec
	rateCapacity *prometheus.GaugeVec
	rateDenied   *prometheus.CounterVec

	streamState      prometheus.Gauge
	streamReconnects prometheus.Counter
	streamMessages   *prometheus.CounterVec
	streamMalformed  prometheus.Counter

	fallbackQueries *prometheus.CounterVec

	signals *prometheus.CounterVec
	orders  *prometheus.CounterVec
	skips   *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		clockOffset: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "clock", Name: "offset_milliseconds",
			Help: "Server time minus local time at the last successful sync.",
		}),
		clockSyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "clock", Name: "syncs_total",
			Help: "Clock synchronization attempts by result.",
		}, []string{"result"}),

		rateUsed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "ratelimit", Name: "used",
			Help: "Quota consumed in the current window.",
		}, []string{"window"}),
		rateCapacity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "ratelimit", Name: "capacity",
			Help: "Usable quota per window after the safety margin.",
		}, []string{"window"}),
		rateDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ratelimit", Name: "denied_total",
			Help: "Calls denied by the governor, by exhausted window.",
		}, []string{"window"}),

		streamState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "stream", Name: "connected",
			Help: "1 while the market data stream is connected.",
		}),
		streamReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "stream", Name: "reconnects_total",
			Help: "Scheduled stream reconnects.",
		}),
		streamMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "stream", Name: "messages_total",
			Help: "Decoded stream messages by kind.",
		}, []string{"kind"}),
		streamMalformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "stream", Name: "malformed_total",
			Help: "Stream frames dropped because they could not be decoded.",
		}),

		fallbackQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "marketdata", Name: "fallback_queries_total",
			Help: "Market data reads that fell back to REST, by data kind and result.",
		}, []string{"kind", "result"}),

		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "coordinator", Name: "signals_total",
			Help: "Signals published by analysis workers.",
		}, []string{"producer", "symbol"}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "coordinator", Name: "orders_total",
			Help: "Orders handled by execution workers, by result.",
		}, []string{"symbol", "side", "result"}),
		skips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "coordinator", Name: "execution_skips_total",
			Help: "Execution cycles or signals skipped, by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		m.clockOffset, m.clockSyncs,
		m.rateUsed, m.rateCapacity, m.rateDenied,
		m.streamState, m.streamReconnects, m.streamMessages, m.streamMalformed,
		m.fallbackQueries,
		m.signals, m.orders, m.skips,
	)
	return m
}

// Handler serves the metrics gathered from g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// ClockSynced implements clock.Observer.
func (m *Metrics) ClockSynced(offsetMs int64, err error) {
	if err != nil {
		m.clockSyncs.WithLabelValues("error").Inc()
		return
	}
	m.clockSyncs.WithLabelValues("ok").Inc()
	m.clockOffset.Set(float64(offsetMs))
}

// Denied implements ratelimit.Observer.
func (m *Metrics) Denied(window string) {
	m.rateDenied.WithLabelValues(window).Inc()
}

// Usage implements ratelimit.Observer.
func (m *Metrics) Usage(window string, used, capacity int) {
	m.rateUsed.WithLabelValues(window).Set(float64(used))
	m.rateCapacity.WithLabelValues(window).Set(float64(capacity))
}

// StateChanged implements stream.Observer.
func (m *Metrics) StateChanged(from, to stream.State) {
	if to == stream.StateConnected {
		m.streamState.Set(1)
	} else {
		m.streamState.Set(0)
	}
}

// Reconnecting implements stream.Observer.
func (m *Metrics) Reconnecting(attempt int, delay time.Duration) {
	m.streamReconnects.Inc()
}

// MessageReceived implements stream.Observer.
func (m *Metrics) MessageReceived(kind stream.Kind) {
	m.streamMessages.WithLabelValues(string(kind)).Inc()
}

// MalformedMessage implements stream.Observer.
func (m *Metrics) MalformedMessage(err error) {
	m.streamMalformed.Inc()
}

// FallbackQueried implements marketdata.Observer.
func (m *Metrics) FallbackQueried(kind, result string) {
	m.fallbackQueries.WithLabelValues(kind, result).Inc()
}

// SignalPublished implements coordinator.Observer.
func (m *Metrics) SignalPublished(producer, symbol string) {
	m.signals.WithLabelValues(producer, symbol).Inc()
}

// OrderSubmitted implements coordinator.Observer.
func (m *Metrics) OrderSubmitted(symbol, side, result string) {
	m.orders.WithLabelValues(symbol, side, result).Inc()
}

// ExecutionSkipped implements coordinator.Observer.
func (m *Metrics) ExecutionSkipped(reason string) {
	m.skips.WithLabelValues(reason).Inc()
}
