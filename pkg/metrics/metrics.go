package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StrikesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strike_events_processed_total",
			Help: "The total number of Strike events counted into the ledger",
		},
		[]string{"network"},
	)

	BlocksScanned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strike_blocks_scanned_total",
			Help: "The total number of blocks scanned for Strike events",
		},
		[]string{"network"},
	)

	LastScannedBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "strike_last_scanned_block",
			Help: "The last fully processed block per network",
		},
		[]string{"network"},
	)

	ChainHead = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "strike_observed_chain_head",
			Help: "The most recently observed chain head per network",
		},
		[]string{"network"},
	)

	PollingErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strike_polling_errors_total",
			Help: "The total number of failed poll cycles",
		},
		[]string{"network", "kind"},
	)

	RPCRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chain_rpc_request_duration_seconds",
			Help:    "Duration of chain RPC requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"network", "method"},
	)

	RPCRequestErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chain_rpc_request_errors_total",
			Help: "The total number of chain RPC request errors",
		},
		[]string{"network", "method"},
	)

	IdentityRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "identity_api_request_duration_seconds",
			Help:    "Duration of identity API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	IdentityRequestErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "identity_api_request_errors_total",
			Help: "The total number of identity API request errors",
		},
		[]string{"endpoint"},
	)

	IdentityResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "identity_resolutions_total",
			Help: "Address resolution outcomes",
		},
		[]string{"outcome"},
	)

	UnresolvedQueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "identity_unresolved_queue_size",
			Help: "Addresses waiting for identity resolution",
		},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leaderboard_api_request_duration_seconds",
			Help:    "Duration of API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method", "status"},
	)
)

const (
	OutcomeResolved  = "resolved"
	OutcomeAmbiguous = "ambiguous"
	OutcomeUnmatched = "unmatched"
)

func RecordAPIRequest(endpoint, method string, status int, duration float64) {
	APIRequestDuration.WithLabelValues(endpoint, method, strconv.Itoa(status)).Observe(duration)
}

func RecordChunkScanned(network string, from, to uint64, strikes int) {
	BlocksScanned.WithLabelValues(network).Add(float64(to - from + 1))
	StrikesProcessed.WithLabelValues(network).Add(float64(strikes))
	LastScannedBlock.WithLabelValues(network).Set(float64(to))
}

func UpdateLastScannedBlock(network string, block uint64) {
	LastScannedBlock.WithLabelValues(network).Set(float64(block))
}

func UpdateChainHead(network string, head uint64) {
	ChainHead.WithLabelValues(network).Set(float64(head))
}

func RecordPollingError(network string, rateLimited bool) {
	kind := "transient"
	if rateLimited {
		kind = "rate_limited"
	}
	PollingErrors.WithLabelValues(network, kind).Inc()
}

func RecordRPCRequest(network, method string, duration float64, success bool) {
	RPCRequestDuration.WithLabelValues(network, method).Observe(duration)
	if !success {
		RPCRequestErrors.WithLabelValues(network, method).Inc()
	}
}

func RecordIdentityRequest(endpoint string, duration float64, success bool) {
	IdentityRequestDuration.WithLabelValues(endpoint).Observe(duration)
	if !success {
		IdentityRequestErrors.WithLabelValues(endpoint).Inc()
	}
}

func RecordResolution(outcome string, n int) {
	IdentityResolutions.WithLabelValues(outcome).Add(float64(n))
}
