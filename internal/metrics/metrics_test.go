package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordRequest(t *testing.T) {
	RequestsTotal.Reset()
	RequestDuration.Reset()

	RecordRequest("chat", "openai", "system", "success", 1.5)

	count := testutil.ToFloat64(RequestsTotal.WithLabelValues("chat", "openai", "system", "success"))
	if count != 1 {
		t.Errorf("RequestsTotal = %v, want 1", count)
	}
}

func TestRecordTokens(t *testing.T) {
	TokensTotal.Reset()

	RecordTokens("anthropic", 100, 50)

	prompt := testutil.ToFloat64(TokensTotal.WithLabelValues("anthropic", "prompt"))
	if prompt != 100 {
		t.Errorf("prompt tokens = %v, want 100", prompt)
	}

	completion := testutil.ToFloat64(TokensTotal.WithLabelValues("anthropic", "completion"))
	if completion != 50 {
		t.Errorf("completion tokens = %v, want 50", completion)
	}
}

func TestRecordAttempt(t *testing.T) {
	UpstreamAttempts.Reset()

	RecordAttempt("openai", "rate_limited")
	RecordAttempt("openai", "rate_limited")
	RecordAttempt("openai", "success")

	if got := testutil.ToFloat64(UpstreamAttempts.WithLabelValues("openai", "rate_limited")); got != 2 {
		t.Errorf("rate_limited attempts = %v, want 2", got)
	}
	if got := testutil.ToFloat64(UpstreamAttempts.WithLabelValues("openai", "success")); got != 1 {
		t.Errorf("success attempts = %v, want 1", got)
	}
}

func TestRecordCredentialBlock(t *testing.T) {
	CredentialBlocks.Reset()

	RecordCredentialBlock("short")
	RecordCredentialBlock("daily")
	RecordCredentialBlock("daily")

	if got := testutil.ToFloat64(CredentialBlocks.WithLabelValues("daily")); got != 2 {
		t.Errorf("daily blocks = %v, want 2", got)
	}
}

func TestRecordTenantCache(t *testing.T) {
	TenantCacheHits.Reset()

	RecordTenantCache(true)
	RecordTenantCache(true)
	RecordTenantCache(false)

	if got := testutil.ToFloat64(TenantCacheHits.WithLabelValues("hit")); got != 2 {
		t.Errorf("hits = %v, want 2", got)
	}
	if got := testutil.ToFloat64(TenantCacheHits.WithLabelValues("miss")); got != 1 {
		t.Errorf("misses = %v, want 1", got)
	}
}

func TestRecordQuotaRejection(t *testing.T) {
	before := testutil.ToFloat64(QuotaRejections)
	RecordQuotaRejection()
	if got := testutil.ToFloat64(QuotaRejections); got != before+1 {
		t.Errorf("QuotaRejections = %v, want %v", got, before+1)
	}
}

func TestActiveStreams(t *testing.T) {
	ActiveStreams.Reset()
	InitInstanceMetrics("pod-a", "default", "test")

	IncrementActiveStreams()
	IncrementActiveStreams()
	DecrementActiveStreams()

	if got := testutil.ToFloat64(ActiveStreams.WithLabelValues("pod-a")); got != 1 {
		t.Errorf("ActiveStreams = %v, want 1", got)
	}
}
