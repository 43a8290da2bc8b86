package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Relay event names.
const (
	ConnectionsOpened = "connections_opened"
	ConnectionsClosed = "connections_closed"
	RoomsCreated      = "rooms_created"
	RoomsDeleted      = "rooms_deleted"
	Joins             = "joins"
	Leaves            = "leaves"
	Evictions         = "evictions"
	SignalsRelayed    = "signals_relayed"
	SignalsDropped    = "signals_dropped"
	FramesMalformed   = "frames_malformed"
	FramesUnknown     = "frames_unknown"
	DeliveriesFailed  = "deliveries_failed"
)

var events = []string{
	ConnectionsOpened, ConnectionsClosed,
	RoomsCreated, RoomsDeleted,
	Joins, Leaves, Evictions,
	SignalsRelayed, SignalsDropped,
	FramesMalformed, FramesUnknown,
	DeliveriesFailed,
}

// Metrics holds the relay's event counters in a private Prometheus registry,
// as the single family callrelay_events_total{event=...}.
type Metrics struct {
	reg    *prometheus.Registry
	events *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "callrelay",
			Name:      "events_total",
			Help:      "Signaling relay event counters.",
		}, []string{"event"}),
	}
	m.reg.MustRegister(
		m.events,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Known events are exported from the start, at zero.
	for _, e := range events {
		m.events.WithLabelValues(e)
	}
	return m
}

func (m *Metrics) Inc(name string) {
	m.events.WithLabelValues(name).Inc()
}

func (m *Metrics) Add(name string, delta uint64) {
	if delta == 0 {
		return
	}
	m.events.WithLabelValues(name).Add(float64(delta))
}

// Get returns the current value of one event counter.
func (m *Metrics) Get(name string) uint64 {
	var out dto.Metric
	if err := m.events.WithLabelValues(name).Write(&out); err != nil {
		return 0
	}
	return uint64(out.GetCounter().GetValue())
}

// Registry exposes the underlying registry, e.g. to gather in tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(m *Metrics) http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "metrics not configured", http.StatusInternalServerError)
		})
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
