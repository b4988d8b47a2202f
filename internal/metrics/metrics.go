package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "putergw_requests_total",
			Help: "Total number of requests processed",
		},
		[]string{"endpoint", "provider", "key_type", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "putergw_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 240},
		},
		[]string{"endpoint", "provider"},
	)

	TokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "putergw_tokens_total",
			Help: "Total number of tokens processed",
		},
		[]string{"provider", "type"},
	)

	UpstreamAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "putergw_upstream_attempts_total",
			Help: "Upstream attempts by outcome",
		},
		[]string{"provider", "outcome"},
	)

	CredentialBlocks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "putergw_credential_blocks_total",
			Help: "Credential blocks by kind (short, daily)",
		},
		[]string{"kind"},
	)

	QuotaRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "putergw_quota_rejections_total",
			Help: "Requests rejected by the free-tier daily limit",
		},
	)

	TenantCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "putergw_tenant_cache_total",
			Help: "Tenant cache lookups by result",
		},
		[]string{"result"},
	)

	UsageDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "putergw_usage_records_dropped_total",
			Help: "Usage records dropped because the buffer was full",
		},
	)

	ActiveStreams = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "putergw_active_streams",
			Help: "Number of active streaming connections",
		},
		[]string{"pod"},
	)

	ActiveConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "putergw_active_connections",
			Help: "Number of active HTTP connections being processed",
		},
		[]string{"pod"},
	)

	InstanceInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "putergw_instance_info",
			Help: "Instance information (always 1)",
		},
		[]string{"pod", "namespace", "version"},
	)
)

func RecordRequest(endpoint, provider, keyType, status string, durationSec float64) {
	RequestsTotal.WithLabelValues(endpoint, provider, keyType, status).Inc()
	RequestDuration.WithLabelValues(endpoint, provider).Observe(durationSec)
}

func RecordTokens(provider string, promptTokens, completionTokens int) {
	TokensTotal.WithLabelValues(provider, "prompt").Add(float64(promptTokens))
	TokensTotal.WithLabelValues(provider, "completion").Add(float64(completionTokens))
}

// RecordAttempt counts one upstream attempt. outcome is one of
// success, rate_limited, daily_limited, error.
func RecordAttempt(provider, outcome string) {
	UpstreamAttempts.WithLabelValues(provider, outcome).Inc()
}

func RecordCredentialBlock(kind string) {
	CredentialBlocks.WithLabelValues(kind).Inc()
}

func RecordQuotaRejection() {
	QuotaRejections.Inc()
}

func RecordTenantCache(hit bool) {
	if hit {
		TenantCacheHits.WithLabelValues("hit").Inc()
		return
	}
	TenantCacheHits.WithLabelValues("miss").Inc()
}

func RecordUsageDropped() {
	UsageDropped.Inc()
}

var currentPodName string

// InitInstanceMetrics should be called once at startup.
func InitInstanceMetrics(podName, namespace, version string) {
	currentPodName = podName
	InstanceInfo.WithLabelValues(podName, namespace, version).Set(1)
}

func IncrementActiveConnections() {
	ActiveConnections.WithLabelValues(currentPodName).Inc()
}

func DecrementActiveConnections() {
	ActiveConnections.WithLabelValues(currentPodName).Dec()
}

func IncrementActiveStreams() {
	ActiveStreams.WithLabelValues(currentPodName).Inc()
}

func DecrementActiveStreams() {
	ActiveStreams.WithLabelValues(currentPodName).Dec()
}
