package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New("test", reg)

	m.Tick(4)
	m.Enqueued("BUY", "enqueued")
	m.Enqueued("BUY", "enqueued")
	m.Settled("SELL", "retry")
	m.Trade("buy", "confirmed", 2*time.Second)
	m.Funding("funded", 1_500)
	done := m.TaskStarted("BUY")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TasksInFlight))
	done()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Ticks))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.JobsDue))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.TasksEnqueued.WithLabelValues("BUY", "enqueued")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TasksSettled.WithLabelValues("SELL", "retry")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Trades.WithLabelValues("buy", "confirmed")))
	assert.Equal(t, 1_500.0, testutil.ToFloat64(m.FundedLamports))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.TasksInFlight))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Tick(1)
		m.Enqueued("BUY", "enqueued")
		m.Settled("BUY", "success")
		m.Depth("ready", 3)
		m.TaskStarted("BUY")()
		m.Trade("sell", "failed", 0)
		m.Reversal()
		m.Waiting("WAITING_FOR_BASE_FUNDS")
		m.Funding("aborted", 0)
	})
}

func TestHandlerServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New("test", reg)
	m.Reversal()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_worker_reversals_total 1")
}
