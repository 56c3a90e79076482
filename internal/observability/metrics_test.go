package observability

import (
	"testing"
	"time"

	"github.com/danmuck/replica/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordMessage("metrics-test", "heartbeat")
	RecordDelivery("metrics-test", "foreign", 12)
	RecordSubmit("metrics-test", SubmitResultOK, 3*time.Millisecond)
	RecordClock("metrics-test", time.Unix(1700000000, 0))
	RecordReceiveLoop("metrics-test", true)
	RecordHTTPRequest("GET", "/healthz", 200)

	if got := testutil.ToFloat64(lastSequence.WithLabelValues("metrics-test")); got != 12 {
		t.Fatalf("last sequence gauge=%v", got)
	}
	if got := testutil.ToFloat64(clockSeconds.WithLabelValues("metrics-test")); got != 1700000000 {
		t.Fatalf("clock gauge=%v", got)
	}
	if got := testutil.ToFloat64(receiveLoopUp.WithLabelValues("metrics-test")); got != 1 {
		t.Fatalf("loop gauge=%v", got)
	}
	RecordReceiveLoop("metrics-test", false)
	if got := testutil.ToFloat64(receiveLoopUp.WithLabelValues("metrics-test")); got != 0 {
		t.Fatalf("loop gauge after stop=%v", got)
	}
}
