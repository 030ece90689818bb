package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dashboard"

// Metrics holds the collectors registered for one process.
type Metrics struct {
	registry *prometheus.Registry

	applied   *prometheus.CounterVec
	rejected  *prometheus.CounterVec
	stale     *prometheus.GaugeVec
	sequence  *prometheus.GaugeVec
	polls     *prometheus.CounterVec
	pollTime  *prometheus.HistogramVec
	coalesced *prometheus.CounterVec
	connState *prometheus.GaugeVec
	reconnect *prometheus.CounterVec
	frames    *prometheus.CounterVec
	journal   *prometheus.CounterVec
}

// New creates collectors on a fresh registry, plus the Go and process
// collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		applied: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_applied_total",
			Help:      "Updates committed to the state store.",
		}, []string{"domain", "source"}),
		rejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_rejected_total",
			Help:      "Updates rejected by the state store.",
		}, []string{"domain", "source", "reason"}),
		stale: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "domain_stale",
			Help:      "1 when the domain is marked stale.",
		}, []string{"domain"}),
		sequence: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "domain_sequence",
			Help:      "Last published sequence number per domain.",
		}, []string{"domain"}),
		polls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_total",
			Help:      "Poll attempts by outcome.",
		}, []string{"domain", "result"}),
		pollTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Time from request to normalized record.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"domain"}),
		coalesced: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_coalesced_total",
			Help:      "Ticks skipped because a fetch was in flight.",
		}, []string{"domain"}),
		connState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_status",
			Help:      "Stream status: 0 connecting, 1 open, 2 backoff, 3 closed.",
		}, []string{"channel"}),
		reconnect: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_reconnects_total",
			Help:      "Successful reconnects after a drop.",
		}, []string{"channel"}),
		frames: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_frames_total",
			Help:      "Frames received by outcome.",
		}, []string{"channel", "result"}),
		journal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "journal_rows_total",
			Help:      "Journal rows by table and outcome.",
		}, []string{"table", "result"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Applied(domain, source string, sequence uint64) {
	if m == nil {
		return
	}
	m.applied.WithLabelValues(domain, source).Inc()
	m.sequence.WithLabelValues(domain).Set(float64(sequence))
}

func (m *Metrics) Rejected(domain, source, reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(domain, source, reason).Inc()
}

func (m *Metrics) SetStale(domain string, stale bool) {
	if m == nil {
		return
	}
	v := 0.0
	if stale {
		v = 1
	}
	m.stale.WithLabelValues(domain).Set(v)
}

// PollResult records one finished poll. result is "ok", "error", or "malformed".
func (m *Metrics) PollResult(domain, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(domain, result).Inc()
	m.pollTime.WithLabelValues(domain).Observe(elapsed.Seconds())
}

func (m *Metrics) PollCoalesced(domain string) {
	if m == nil {
		return
	}
	m.coalesced.WithLabelValues(domain).Inc()
}

func (m *Metrics) StreamStatus(channel string, status int) {
	if m == nil {
		return
	}
	m.connState.WithLabelValues(channel).Set(float64(status))
}

func (m *Metrics) StreamReconnected(channel string) {
	if m == nil {
		return
	}
	m.reconnect.WithLabelValues(channel).Inc()
}

// Frame records a received frame. result is "applied", "stale", "ignored", or "malformed".
func (m *Metrics) Frame(channel, result string) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(channel, result).Inc()
}

func (m *Metrics) JournalRows(table, result string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.journal.WithLabelValues(table, result).Add(float64(n))
}
