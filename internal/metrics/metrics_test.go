package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordCommand(t *testing.T) {
	initialCount := testutil.ToFloat64(CommandsExecuted.WithLabelValues("FETCH", "ok"))

	RecordCommand("FETCH", "ok", 0.25)

	if got := testutil.ToFloat64(CommandsExecuted.WithLabelValues("FETCH", "ok")); got != initialCount+1 {
		t.Errorf("CommandsExecuted = %v, want %v", got, initialCount+1)
	}
}

func TestRecordThrottle(t *testing.T) {
	initial := testutil.ToFloat64(ThrottleEvents.WithLabelValues("FETCH"))

	RecordThrottle("FETCH")

	if got := testutil.ToFloat64(ThrottleEvents.WithLabelValues("FETCH")); got != initial+1 {
		t.Errorf("ThrottleEvents = %v, want %v", got, initial+1)
	}
}

func TestSetIdling(t *testing.T) {
	SetIdling(true)
	if got := testutil.ToFloat64(Idling); got != 1 {
		t.Errorf("Idling = %v, want 1", got)
	}
	SetIdling(false)
	if got := testutil.ToFloat64(Idling); got != 0 {
		t.Errorf("Idling = %v, want 0", got)
	}
}

func TestSetInFlight(t *testing.T) {
	SetInFlight(true)
	if got := testutil.ToFloat64(InFlight); got != 1 {
		t.Errorf("InFlight = %v, want 1", got)
	}
	SetInFlight(false)
	if got := testutil.ToFloat64(InFlight); got != 0 {
		t.Errorf("InFlight = %v, want 0", got)
	}
}

func TestQueueDepthGauge(t *testing.T) {
	QueueDepth.Set(3)
	if got := testutil.ToFloat64(QueueDepth); got != 3 {
		t.Errorf("QueueDepth = %v, want 3", got)
	}
	QueueDepth.Set(0)
}

func TestBytesDownloadedCounter(t *testing.T) {
	initial := testutil.ToFloat64(BytesDownloaded)
	BytesDownloaded.Add(100)
	if got := testutil.ToFloat64(BytesDownloaded); got != initial+100 {
		t.Errorf("BytesDownloaded = %v, want %v", got, initial+100)
	}
}

func TestMetricsNamesHaveExpectedPrefix(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(CommandsExecuted)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, f := range families {
		if !strings.HasPrefix(f.GetName(), "goimap_") {
			t.Errorf("metric %q does not have goimap_ prefix", f.GetName())
		}
	}
}
