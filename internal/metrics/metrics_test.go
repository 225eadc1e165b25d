package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorderCountsOutcomes(t *testing.T) {
	r := New()
	r.Region("app", "us-east-1", OutcomeCreated, "", 6, time.Second)
	r.Region("app", "us-west-2", OutcomeFailed, "creation_failed", 0, time.Second)
	r.Stale("app", 2, 1)
	r.Skipped("app", "us-west-2", 1)

	if got := testutil.ToFloat64(r.regions.WithLabelValues("app", OutcomeCreated, "")); got != 1 {
		t.Fatalf("created = %v", got)
	}
	if got := testutil.ToFloat64(r.regions.WithLabelValues("app", OutcomeFailed, "creation_failed")); got != 1 {
		t.Fatalf("failed = %v", got)
	}
	if got := testutil.ToFloat64(r.stages.WithLabelValues("app", "us-east-1")); got != 6 {
		t.Fatalf("stages = %v", got)
	}
	if got := testutil.CollectAndCount(r.stages); got != 1 {
		t.Fatalf("failed regions must not report stages, got %d series", got)
	}
	if got := testutil.ToFloat64(r.staleDeleted.WithLabelValues("app")); got != 2 {
		t.Fatalf("deleted = %v", got)
	}
	if got := testutil.ToFloat64(r.skipped.WithLabelValues("app", "us-west-2")); got != 1 {
		t.Fatalf("skipped = %v", got)
	}
}

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	r.Region("app", "us-east-1", OutcomeCreated, "", 1, time.Second)
	r.Stale("app", 1, 0)
	r.Finished("app", time.Now())
	if err := r.WriteTextfile("/nonexistent/metrics.prom"); err != nil {
		t.Fatalf("nil recorder should not write: %v", err)
	}
}

func TestWriteTextfile(t *testing.T) {
	r := New()
	r.Region("app", "us-east-1", OutcomePlanned, "", 3, 200*time.Millisecond)
	r.Finished("app", time.Unix(1700000000, 0))

	path := filepath.Join(t.TempDir(), "pipectl.prom")
	if err := r.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	text := string(raw)
	for _, want := range []string{
		`pipectl_regions_total{app="app",kind="",outcome="planned"} 1`,
		`pipectl_pipeline_stages{app="app",region="us-east-1"} 3`,
		`pipectl_last_run_timestamp_seconds{app="app"} 1.7e+09`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("missing %q in:\n%s", want, text)
		}
	}
}
