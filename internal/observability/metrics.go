package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce              sync.Once
	httpDurationHistogram     *prometheus.HistogramVec
	ledgerImbalanceCounter    *prometheus.CounterVec
	ledgerCommitCounter       *prometheus.CounterVec
	depositObservationCounter *prometheus.CounterVec
	validationRejectCounter   *prometheus.CounterVec
	withdrawTransitionCounter *prometheus.CounterVec
	illegalTransitionCounter  *prometheus.CounterVec
	settlementCallCounter     *prometheus.CounterVec
	workerRunCounter          *prometheus.CounterVec
	httpInFlightGauge         prometheus.Gauge
	rateLimitedCounter        *prometheus.CounterVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		ledgerImbalanceCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_imbalance_total",
			Help: "Wallets whose balance diverged from their transaction log",
		}, []string{"currency"})

		ledgerCommitCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_commits_total",
			Help: "Ledger commit outcomes by transaction kind",
		}, []string{"kind", "result"})

		depositObservationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deposit_observations_total",
			Help: "Raw deposit observations by outcome",
		}, []string{"currency", "outcome"})

		validationRejectCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deposit_validation_rejections_total",
			Help: "Raw transactions dropped by validation",
		}, []string{"reason"})

		withdrawTransitionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "withdraw_transitions_total",
			Help: "Withdraw request status transitions",
		}, []string{"from", "to"})

		illegalTransitionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "withdraw_illegal_transitions_total",
			Help: "Withdraw status transitions refused by the state machine",
		}, []string{"from", "to"})

		settlementCallCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_calls_total",
			Help: "Settlement backend calls by method and result",
		}, []string{"method", "result"})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		httpInFlightGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "HTTP requests currently being served",
		})

		rateLimitedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_rate_limited_total",
			Help: "Requests refused by a rate limiter",
		}, []string{"limiter"})

		prometheus.MustRegister(
			httpDurationHistogram,
			httpInFlightGauge,
			rateLimitedCounter,
			ledgerImbalanceCounter,
			ledgerCommitCounter,
			depositObservationCounter,
			validationRejectCounter,
			withdrawTransitionCounter,
			illegalTransitionCounter,
			settlementCallCounter,
			workerRunCounter,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementLedgerImbalance(currency string) {
	if ledgerImbalanceCounter == nil {
		return
	}
	ledgerImbalanceCounter.WithLabelValues(currency).Inc()
}

func IncrementLedgerCommit(kind, result string) {
	if ledgerCommitCounter == nil {
		return
	}
	ledgerCommitCounter.WithLabelValues(kind, result).Inc()
}

func IncrementDepositObservation(currency, outcome string) {
	if depositObservationCounter == nil {
		return
	}
	depositObservationCounter.WithLabelValues(currency, outcome).Inc()
}

func IncrementValidationRejection(reason string) {
	if validationRejectCounter == nil {
		return
	}
	validationRejectCounter.WithLabelValues(reason).Inc()
}

func IncrementWithdrawTransition(from, to string) {
	if withdrawTransitionCounter == nil {
		return
	}
	withdrawTransitionCounter.WithLabelValues(from, to).Inc()
}

func IncrementIllegalTransition(from, to string) {
	if illegalTransitionCounter == nil {
		return
	}
	illegalTransitionCounter.WithLabelValues(from, to).Inc()
}

func IncrementSettlementCall(method, result string) {
	if settlementCallCounter == nil {
		return
	}
	settlementCallCounter.WithLabelValues(method, result).Inc()
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}

// TrackInFlight counts a request as in flight until the returned func runs.
func TrackInFlight() func() {
	if httpInFlightGauge == nil {
		return func() {}
	}
	httpInFlightGauge.Inc()
	return httpInFlightGauge.Dec
}

func IncrementRateLimited(limiter string) {
	if rateLimitedCounter == nil {
		return
	}
	rateLimitedCounter.WithLabelValues(limiter).Inc()
}
