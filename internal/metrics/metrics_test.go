package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordHTTPRequest(t *testing.T) {
	HTTPRequestsTotal.Reset()
	HTTPRequestDuration.Reset()

	RecordHTTPRequest("GET", "/api/v1/jobs", "200", 0.123)

	counter := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/jobs", "200"))
	if counter != 1.0 {
		t.Errorf("Expected counter to be 1.0, got %f", counter)
	}
}

func TestRecordJobCreated(t *testing.T) {
	created := testutil.ToFloat64(JobsCreatedTotal)
	deduplicated := testutil.ToFloat64(JobsDeduplicatedTotal)

	RecordJobCreated(false)
	RecordJobCreated(true)
	RecordJobCreated(false)

	if got := testutil.ToFloat64(JobsCreatedTotal) - created; got != 2.0 {
		t.Errorf("Expected 2 created, got %f", got)
	}
	if got := testutil.ToFloat64(JobsDeduplicatedTotal) - deduplicated; got != 1.0 {
		t.Errorf("Expected 1 deduplicated, got %f", got)
	}
}

func TestRecordEngineSelection(t *testing.T) {
	EngineSelectionsTotal.Reset()

	RecordEngineSelection("auto", "local")
	RecordEngineSelection("auto", "local")
	RecordEngineSelection("ue5", "ue5")

	autoLocal := testutil.ToFloat64(EngineSelectionsTotal.WithLabelValues("auto", "local"))
	if autoLocal != 2.0 {
		t.Errorf("Expected auto->local counter to be 2.0, got %f", autoLocal)
	}
}

func TestSetBreakerState(t *testing.T) {
	SetBreakerState("heygen", "open")
	if got := testutil.ToFloat64(BreakerState.WithLabelValues("heygen")); got != 1.0 {
		t.Errorf("Expected open breaker gauge 1.0, got %f", got)
	}

	SetBreakerState("heygen", "closed")
	if got := testutil.ToFloat64(BreakerState.WithLabelValues("heygen")); got != 0.0 {
		t.Errorf("Expected closed breaker gauge 0.0, got %f", got)
	}
}

func TestRecordJobCompleted(t *testing.T) {
	JobsCompletedTotal.Reset()

	RecordJobCompleted("completed", 12.5, "h264", "high")
	RecordJobCompleted("failed", 3.0, "h264", "high")

	completed := testutil.ToFloat64(JobsCompletedTotal.WithLabelValues("completed"))
	if completed != 1.0 {
		t.Errorf("Expected completed counter to be 1.0, got %f", completed)
	}
}
