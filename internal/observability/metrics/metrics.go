package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests handled by the API service",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	claimDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "faucet_claim_duration_seconds",
		Help:    "Time spent deciding and disbursing a faucet claim, by outcome",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})

	cooldownBypasses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "faucet_cooldown_bypass_total",
		Help: "Claims approved only because the destination is the privileged address",
	})

	ledgerInconsistencies = promauto.NewCounter(prometheus.CounterOpts{
		Name: "faucet_ledger_inconsistency_total",
		Help: "Transfers submitted whose claim could not be recorded in the ledger",
	})

	dbOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "db_operation_duration_seconds",
		Help:    "Time spent executing database operations",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	redisOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "redis_operation_duration_seconds",
		Help:    "Time spent executing redis operations",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	chainOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chain_operation_duration_seconds",
		Help:    "Time spent talking to the chain RPC endpoint",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"operation"})

	kafkaOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kafka_operation_duration_seconds",
		Help:    "Time spent sending data to Kafka",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	consumerProcessDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "consumer_process_duration_seconds",
		Help:    "Time spent processing claim events in the consumer service",
		Buckets: prometheus.DefBuckets,
	}, []string{"step"})
)

// ObserveHTTPRequest tracks the handling time of HTTP requests.
func ObserveHTTPRequest(method, route string, status int, d time.Duration) {
	httpRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

// ObserveClaim tracks claim latency per outcome.
func ObserveClaim(outcome string, d time.Duration) {
	claimDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// IncCooldownBypass counts privileged-address bypasses.
func IncCooldownBypass() {
	cooldownBypasses.Inc()
}

// IncLedgerInconsistency counts transfers whose claim was not recorded.
func IncLedgerInconsistency() {
	ledgerInconsistencies.Inc()
}

// ObserveDBOperation tracks database call duration.
func ObserveDBOperation(operation string, d time.Duration) {
	dbOperationDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// ObserveRedisOperation tracks redis call duration.
func ObserveRedisOperation(operation string, d time.Duration) {
	redisOperationDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// ObserveChainOperation tracks chain RPC call duration.
func ObserveChainOperation(operation string, d time.Duration) {
	chainOperationDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// ObserveKafkaOperation tracks kafka call duration.
func ObserveKafkaOperation(operation string, d time.Duration) {
	kafkaOperationDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// ObserveConsumerProcessing tracks consumer processing stages.
func ObserveConsumerProcessing(step string, d time.Duration) {
	consumerProcessDuration.WithLabelValues(step).Observe(d.Seconds())
}
