package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ConsumptionEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consumption_events_total",
			Help: "Total number of consumption events received from change sources (count)",
		},
		[]string{"source", "status"},
	)

	EventProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "event_processing_duration_ms",
			Help:    "End-to-end processing duration of a consumption event in milliseconds",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
		[]string{"outcome"},
	)

	DispatchDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_decisions_total",
			Help: "Total number of dispatch decisions by kind (count)",
		},
		[]string{"kind"},
	)

	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Total number of notification dispatch outcomes (count)",
		},
		[]string{"kind", "status"},
	)

	PollWatermark = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "poll_watermark_timestamp_seconds",
			Help: "Current poll watermark as a unix timestamp (seconds)",
		},
	)

	PollErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "poll_errors_total",
			Help: "Total number of failed poll cycles (count)",
		},
	)

	AdviceRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "advice_requests_total",
			Help: "Total number of advice generation requests by provider and outcome (count)",
		},
		[]string{"provider", "status"},
	)

	AdviceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "advice_duration_ms",
			Help:    "Duration of AI provider calls in milliseconds",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 20000},
		},
		[]string{"provider"},
	)

	RPCCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpc_calls_total",
			Help: "Total number of JSON-RPC calls to the notifier process (count)",
		},
		[]string{"method", "status"},
	)

	RPCCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rpc_call_duration_ms",
			Help:    "Duration of JSON-RPC calls to the notifier process in milliseconds",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
		[]string{"method"},
	)

	LedgerReservationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_reservations_total",
			Help: "Total number of idempotency ledger reservations by result (count)",
		},
		[]string{"backend", "result"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of retry attempts (count)",
		},
		[]string{"service", "topic"},
	)

	DLQMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_messages_total",
			Help: "Total number of change rows sent to DLQ (count)",
		},
		[]string{"service", "topic", "reason"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests checked against rate limit (count)",
		},
		[]string{"status"},
	)

	FallbackUsageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fallback_usage_total",
			Help: "Total number of times fallback strategies were used (count)",
		},
		[]string{"component", "strategy"},
	)

	DatabaseQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "database_queries_total",
			Help: "Total number of database queries (count)",
		},
		[]string{"database", "operation", "status"},
	)

	DatabaseQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "database_query_duration_ms",
			Help:    "Duration of database queries in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"database", "operation"},
	)
)

var registerOnce sync.Once

// RegisterAll registers every collector with the default registry. Safe to call more than once.
func RegisterAll() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			ConsumptionEventsTotal,
			EventProcessingDuration,
			DispatchDecisionsTotal,
			NotificationsTotal,
			PollWatermark,
			PollErrorsTotal,
			AdviceRequestsTotal,
			AdviceDuration,
			RPCCallsTotal,
			RPCCallDuration,
			LedgerReservationsTotal,
			RetryAttemptsTotal,
			DLQMessagesTotal,
			CircuitBreakerState,
			CircuitBreakerRequests,
			CircuitBreakerFailures,
			RateLimitRequestsTotal,
			FallbackUsageTotal,
			DatabaseQueriesTotal,
			DatabaseQueryDuration,
		)
	})
}

func IncConsumptionEvent(source, status string) {
	ConsumptionEventsTotal.WithLabelValues(source, status).Inc()
}

func ObserveEventDuration(outcome string, duration time.Duration) {
	EventProcessingDuration.WithLabelValues(outcome).Observe(float64(duration.Milliseconds()))
}

func IncDispatchDecision(kind string) {
	DispatchDecisionsTotal.WithLabelValues(kind).Inc()
}

func IncNotification(kind, status string) {
	NotificationsTotal.WithLabelValues(kind, status).Inc()
}

func SetPollWatermark(t time.Time) {
	PollWatermark.Set(float64(t.Unix()))
}

func IncAdviceRequest(provider, status string) {
	AdviceRequestsTotal.WithLabelValues(provider, status).Inc()
}

func ObserveAdviceDuration(provider string, duration time.Duration) {
	AdviceDuration.WithLabelValues(provider).Observe(float64(duration.Milliseconds()))
}

func IncRPCCall(method, status string) {
	RPCCallsTotal.WithLabelValues(method, status).Inc()
}

func ObserveRPCCallDuration(method string, duration time.Duration) {
	RPCCallDuration.WithLabelValues(method).Observe(float64(duration.Milliseconds()))
}

func IncLedgerReservation(backend, result string) {
	LedgerReservationsTotal.WithLabelValues(backend, result).Inc()
}

func IncFallbackUsage(component, strategy string) {
	FallbackUsageTotal.WithLabelValues(component, strategy).Inc()
}

func IncDatabaseQuery(database, operation, status string) {
	DatabaseQueriesTotal.WithLabelValues(database, operation, status).Inc()
}

func ObserveDatabaseQueryDuration(database, operation string, duration time.Duration) {
	DatabaseQueryDuration.WithLabelValues(database, operation).Observe(float64(duration.Milliseconds()))
}
