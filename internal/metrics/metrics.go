// Package metrics provides Prometheus metrics for the scheduler and worker.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Scheduler
	Ticks         prometheus.Counter
	JobsDue       prometheus.Gauge
	TasksEnqueued *prometheus.CounterVec

	// Queue
	TasksSettled *prometheus.CounterVec
	QueueDepth   *prometheus.GaugeVec

	// Worker
	TaskDuration    *prometheus.HistogramVec
	TasksInFlight   prometheus.Gauge
	Trades          *prometheus.CounterVec
	ConfirmLatency  prometheus.Histogram
	Reversals       prometheus.Counter
	WaitTransitions *prometheus.CounterVec
	FundingRuns     *prometheus.CounterVec
	FundedLamports  prometheus.Counter
}

// New registers all collectors on reg under namespace
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "swap_cycler"
	}
	factory := promauto.With(reg)

	return &Metrics{
		Ticks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "ticks_total",
			Help:      "Total number of scheduler ticks processed",
		}),
		JobsDue: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "jobs_due",
			Help:      "Jobs selected on the most recent tick",
		}),
		TasksEnqueued: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "tasks_enqueued_total",
			Help:      "Enqueue attempts by task type and result",
		}, []string{"type", "result"}),

		TasksSettled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "tasks_settled_total",
			Help:      "Settled deliveries by task type and outcome",
		}, []string{"type", "outcome"}),
		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Messages per queue list",
		}, []string{"list"}),

		TaskDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "task_duration_seconds",
			Help:      "Task handling duration including confirmation",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 90, 120},
		}, []string{"type"}),
		TasksInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "tasks_in_flight",
			Help:      "Tasks currently being handled",
		}),
		Trades: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "trades_total",
			Help:      "Submitted trades by side and status",
		}, []string{"side", "status"}),
		ConfirmLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "confirm_latency_seconds",
			Help:      "Time from submission to confirmation",
			Buckets:   []float64{0.5, 1, 2, 4, 8, 15, 30, 60, 90, 120},
		}),
		Reversals: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "reversals_total",
			Help:      "Two-way direction reversals",
		}),
		WaitTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "wait_transitions_total",
			Help:      "Jobs moved into a waiting state",
		}, []string{"state"}),
		FundingRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wallet",
			Name:      "funding_runs_total",
			Help:      "Worker wallet funding runs by result",
		}, []string{"result"}),
		FundedLamports: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wallet",
			Name:      "funded_lamports_total",
			Help:      "Lamports moved from the owner to worker wallets",
		}),
	}
}

// Handler serves the metrics gathered by g
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) Tick(due int) {
	if m == nil {
		return
	}
	m.Ticks.Inc()
	m.JobsDue.Set(float64(due))
}

func (m *Metrics) Enqueued(taskType, result string) {
	if m == nil {
		return
	}
	m.TasksEnqueued.WithLabelValues(taskType, result).Inc()
}

func (m *Metrics) Settled(taskType, outcome string) {
	if m == nil {
		return
	}
	m.TasksSettled.WithLabelValues(taskType, outcome).Inc()
}

func (m *Metrics) Depth(list string, n int64) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues(list).Set(float64(n))
}

// TaskStarted marks a task in flight and returns a func that records its duration
func (m *Metrics) TaskStarted(taskType string) func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	m.TasksInFlight.Inc()
	return func() {
		m.TasksInFlight.Dec()
		m.TaskDuration.WithLabelValues(taskType).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) Trade(side, status string, confirmIn time.Duration) {
	if m == nil {
		return
	}
	m.Trades.WithLabelValues(side, status).Inc()
	if confirmIn > 0 {
		m.ConfirmLatency.Observe(confirmIn.Seconds())
	}
}

func (m *Metrics) Reversal() {
	if m == nil {
		return
	}
	m.Reversals.Inc()
}

func (m *Metrics) Waiting(state string) {
	if m == nil {
		return
	}
	m.WaitTransitions.WithLabelValues(state).Inc()
}

func (m *Metrics) Funding(result string, lamports uint64) {
	if m == nil {
		return
	}
	m.FundingRuns.WithLabelValues(result).Inc()
	if lamports > 0 {
		m.FundedLamports.Add(float64(lamports))
	}
}
