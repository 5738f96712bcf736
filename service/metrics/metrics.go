package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics. Every
// consumer treats a nil *Metrics as "metrics disabled".
type Metrics struct {
	// RPC gateway metrics
	rpcCallsTotal    *prometheus.CounterVec
	rpcCallDuration  *prometheus.HistogramVec
	rpcRetriesTotal  *prometheus.CounterVec
	rpcRateLimitWait *prometheus.HistogramVec
	rpcTimeoutsTotal *prometheus.CounterVec

	// Synchronizer metrics
	balanceRefreshesTotal *prometheus.CounterVec
	mintRefreshFailures   *prometheus.CounterVec
	historyRecordsMerged  *prometheus.CounterVec
	historyRefreshesTotal *prometheus.CounterVec

	// Token creation workflow metrics
	tokenJobsStartedTotal *prometheus.CounterVec
	tokenJobTransitions   *prometheus.CounterVec
	tokenJobStepAttempts  *prometheus.CounterVec
	tokenJobDuration      *prometheus.HistogramVec

	// Trending cache metrics
	trendingServedTotal    *prometheus.CounterVec
	trendingRefreshesTotal *prometheus.CounterVec

	// HTTP metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// RPC gateway metrics
		rpcCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		rpcCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint"},
		),
		rpcRetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_retries_total",
				Help: "Total number of Solana RPC retry attempts",
			},
			[]string{"method", "reason"},
		),
		rpcRateLimitWait: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_rate_limit_wait_seconds",
				Help:    "Time spent waiting on the shared token bucket before an RPC call",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			},
			[]string{"endpoint"},
		),
		rpcTimeoutsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_timeouts_total",
				Help: "Total number of Solana RPC calls that exceeded their deadline",
			},
			[]string{"method"},
		),

		// Synchronizer metrics
		balanceRefreshesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "balance_refreshes_total",
				Help: "Total number of wallet balance refreshes by outcome",
			},
			[]string{"status"},
		),
		mintRefreshFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mint_refresh_failures_total",
				Help: "Total number of per-mint token balance refresh failures",
			},
			[]string{"mint"},
		),
		historyRecordsMerged: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "history_records_merged_total",
				Help: "Total number of new transaction records merged into wallet caches",
			},
			[]string{"wallet"},
		),
		historyRefreshesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "history_refreshes_total",
				Help: "Total number of wallet history refreshes by outcome",
			},
			[]string{"status"},
		),

		// Token creation workflow metrics
		tokenJobsStartedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "token_jobs_started_total",
				Help: "Total number of token creation jobs started",
			},
			[]string{"dedup"},
		),
		tokenJobTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "token_job_state_transitions_total",
				Help: "Total number of token creation job state transitions",
			},
			[]string{"from", "to"},
		),
		tokenJobStepAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "token_job_step_attempts_total",
				Help: "Total number of token creation step attempts by step and outcome",
			},
			[]string{"step", "status"},
		),
		tokenJobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "token_job_duration_seconds",
				Help:    "Duration of token creation jobs from submission to terminal state",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		),

		// Trending cache metrics
		trendingServedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trending_served_total",
				Help: "Total number of trending token reads by cache outcome",
			},
			[]string{"outcome"},
		),
		trendingRefreshesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trending_refreshes_total",
				Help: "Total number of trending cache upstream refreshes by status",
			},
			[]string{"status"},
		),

		// HTTP metrics
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
	}
}

// RPC gateway metric helpers

// RecordRPCCall records a Solana RPC call with duration.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	if m == nil {
		return
	}
	m.rpcCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.rpcCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordRPCRetry records a retry attempt.
func (m *Metrics) RecordRPCRetry(method, reason string) {
	if m == nil {
		return
	}
	m.rpcRetriesTotal.WithLabelValues(method, reason).Inc()
}

// RecordRateLimitWait records time spent waiting on the shared token bucket.
func (m *Metrics) RecordRateLimitWait(endpoint string, seconds float64) {
	if m == nil {
		return
	}
	m.rpcRateLimitWait.WithLabelValues(endpoint).Observe(seconds)
}

// RecordRPCTimeout records a call that failed on its deadline.
func (m *Metrics) RecordRPCTimeout(method string) {
	if m == nil {
		return
	}
	m.rpcTimeoutsTotal.WithLabelValues(method).Inc()
}

// Synchronizer metric helpers

// RecordBalanceRefresh records a balance refresh outcome ("success", "partial", "error").
func (m *Metrics) RecordBalanceRefresh(status string) {
	if m == nil {
		return
	}
	m.balanceRefreshesTotal.WithLabelValues(status).Inc()
}

// RecordMintRefreshFailure records a per-mint token balance failure.
func (m *Metrics) RecordMintRefreshFailure(mint string) {
	if m == nil {
		return
	}
	m.mintRefreshFailures.WithLabelValues(mint).Inc()
}

// RecordHistoryMerged records new transaction records merged into a wallet cache.
func (m *Metrics) RecordHistoryMerged(wallet string, count int) {
	if m == nil {
		return
	}
	m.historyRecordsMerged.WithLabelValues(wallet).Add(float64(count))
}

// RecordHistoryRefresh records a history refresh outcome.
func (m *Metrics) RecordHistoryRefresh(status string) {
	if m == nil {
		return
	}
	m.historyRefreshesTotal.WithLabelValues(status).Inc()
}

// Token creation workflow metric helpers

// RecordTokenJobStarted records a job submission. dedup is "new" or "duplicate".
func (m *Metrics) RecordTokenJobStarted(dedup string) {
	if m == nil {
		return
	}
	m.tokenJobsStartedTotal.WithLabelValues(dedup).Inc()
}

// RecordTokenJobTransition records a state machine transition.
func (m *Metrics) RecordTokenJobTransition(from, to string) {
	if m == nil {
		return
	}
	m.tokenJobTransitions.WithLabelValues(from, to).Inc()
}

// RecordTokenJobStepAttempt records a step attempt outcome.
func (m *Metrics) RecordTokenJobStepAttempt(step, status string) {
	if m == nil {
		return
	}
	m.tokenJobStepAttempts.WithLabelValues(step, status).Inc()
}

// RecordTokenJobDuration records total job duration at terminal state.
func (m *Metrics) RecordTokenJobDuration(status string, seconds float64) {
	if m == nil {
		return
	}
	m.tokenJobDuration.WithLabelValues(status).Observe(seconds)
}

// Trending cache metric helpers

// RecordTrendingServed records a cache read outcome ("hit", "miss", "shared",
// "stale", "error").
func (m *Metrics) RecordTrendingServed(outcome string) {
	if m == nil {
		return
	}
	m.trendingServedTotal.WithLabelValues(outcome).Inc()
}

// RecordTrendingRefresh records an upstream refresh outcome.
func (m *Metrics) RecordTrendingRefresh(status string) {
	if m == nil {
		return
	}
	m.trendingRefreshesTotal.WithLabelValues(status).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	if m == nil {
		return
	}
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
