package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BioHazard786/callrelay/internal/metrics"
)

func TestMetrics_ConcurrentInc(t *testing.T) {
	m := metrics.New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Inc(metrics.Joins)
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(50), m.Get(metrics.Joins))
	assert.Equal(t, uint64(0), m.Get(metrics.Leaves))
}

func TestMetrics_AddZeroIsNoop(t *testing.T) {
	m := metrics.New()
	m.Add(metrics.SignalsRelayed, 3)
	m.Add(metrics.SignalsRelayed, 0)

	assert.Equal(t, uint64(3), m.Get(metrics.SignalsRelayed))
}

func TestMetrics_Registry(t *testing.T) {
	m := metrics.New()
	m.Inc(metrics.Evictions)

	expected := `
# HELP callrelay_events_total Signaling relay event counters.
# TYPE callrelay_events_total counter
callrelay_events_total{event="connections_closed"} 0
callrelay_events_total{event="connections_opened"} 0
callrelay_events_total{event="deliveries_failed"} 0
callrelay_events_total{event="evictions"} 1
callrelay_events_total{event="frames_malformed"} 0
callrelay_events_total{event="frames_unknown"} 0
callrelay_events_total{event="joins"} 0
callrelay_events_total{event="leaves"} 0
callrelay_events_total{event="rooms_created"} 0
callrelay_events_total{event="rooms_deleted"} 0
callrelay_events_total{event="signals_dropped"} 0
callrelay_events_total{event="signals_relayed"} 0
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "callrelay_events_total"))
}

func TestHandler(t *testing.T) {
	m := metrics.New()
	m.Inc(metrics.RoomsCreated)
	m.Add(metrics.SignalsRelayed, 2)

	rec := httptest.NewRecorder()
	metrics.Handler(m).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	res := rec.Result()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, res.Header.Get("Content-Type"), "text/plain")
	assert.Contains(t, string(body), "# TYPE callrelay_events_total counter")
	assert.Contains(t, string(body), `callrelay_events_total{event="rooms_created"} 1`)
	assert.Contains(t, string(body), `callrelay_events_total{event="signals_relayed"} 2`)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestHandler_NilMetrics(t *testing.T) {
	rec := httptest.NewRecorder()
	metrics.Handler(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
