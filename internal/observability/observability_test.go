package observability

import (
	"context"
	"encoding/json"
	"expvar"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusRecorderCountsOutcomes(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	rec, err := NewPrometheusRecorder(reg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	rec.Observe(ctx, "commit", true, 3*time.Millisecond)
	rec.Observe(ctx, "commit", true, time.Millisecond)
	rec.Observe(ctx, "commit", false, time.Millisecond)
	rec.Observe(ctx, "rollback", true, time.Millisecond)
	rec.Observe(ctx, "", true, time.Millisecond)

	if got := testutil.ToFloat64(rec.operations.WithLabelValues("commit", "success")); got != 2 {
		t.Fatalf("expected 2 successful commits, got %v", got)
	}
	if got := testutil.ToFloat64(rec.operations.WithLabelValues("commit", "error")); got != 1 {
		t.Fatalf("expected 1 failed commit, got %v", got)
	}
	if n := testutil.CollectAndCount(rec.durations); n != 2 {
		t.Fatalf("expected histograms for 2 operations, got %d", n)
	}
	expected := `
# HELP unitofwork_operations_total Transaction operations by name and outcome.
# TYPE unitofwork_operations_total counter
unitofwork_operations_total{operation="commit",status="error"} 1
unitofwork_operations_total{operation="commit",status="success"} 2
unitofwork_operations_total{operation="rollback",status="success"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "unitofwork_operations_total"); err != nil {
		t.Fatalf("unexpected metrics: %v", err)
	}
}

func TestPrometheusRecorderDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewPrometheusRecorder(reg); err != nil {
		t.Fatalf("first: %v", err)
	}
	if _, err := NewPrometheusRecorder(reg); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
}

func TestExpvarRecorderSnapshot(t *testing.T) {
	rec := NewExpvarRecorder("")
	if !strings.HasPrefix(rec.Name(), "unitofwork_metrics_") {
		t.Fatalf("unexpected generated name %q", rec.Name())
	}
	ctx := context.Background()
	rec.Observe(ctx, "commit", true, 2*time.Millisecond)
	rec.Observe(ctx, "commit", false, 3*time.Millisecond)
	rec.Observe(ctx, "", true, time.Second)

	snap := rec.Snapshot()
	if snap.DurationsMS["commit"] != 5 {
		t.Fatalf("expected 5ms total, got %v", snap.DurationsMS["commit"])
	}
	if snap.Results["commit"]["success"] != 1 || snap.Results["commit"]["error"] != 1 {
		t.Fatalf("unexpected results %v", snap.Results)
	}
	snap.Results["commit"]["success"] = 99
	if rec.Snapshot().Results["commit"]["success"] != 1 {
		t.Fatalf("snapshot must be a copy")
	}

	v := expvar.Get(rec.Name())
	if v == nil {
		t.Fatalf("expected recorder published")
	}
	var published ExpvarSnapshot
	if err := json.Unmarshal([]byte(v.String()), &published); err != nil {
		t.Fatalf("decode published: %v", err)
	}
	if published.Results["commit"]["error"] != 1 {
		t.Fatalf("unexpected published snapshot %+v", published)
	}
}
