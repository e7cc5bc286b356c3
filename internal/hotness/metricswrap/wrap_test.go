package metricswrap

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mohammed-shakir/terrain-contours/internal/hotness"
	"github.com/mohammed-shakir/terrain-contours/internal/hotness/expdecay"
)

func TestHotnessGauge_Updates(t *testing.T) {
	tr := expdecay.New(30 * time.Second)
	w := New(tr, nil, Config{})

	w.Inc(hotness.CellFor(18.0686, 59.3293, hotness.DefaultResolution))
	w.Inc(hotness.CellFor(13.0038, 55.6050, hotness.DefaultResolution))
	w.Reset(hotness.CellFor(18.0686, 59.3293, hotness.DefaultResolution))

	const want = `
# HELP hotness_tracked_cells Number of H3 cells tracked by the hotness model.
# TYPE hotness_tracked_cells gauge
hotness_tracked_cells 1
`
	if err := testutil.GatherAndCompare(prometheus.DefaultGatherer, strings.NewReader(want), "hotness_tracked_cells"); err != nil {
		t.Fatalf("gauge: %v", err)
	}
}

func TestHotThreshold_Logs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	w := New(expdecay.New(time.Minute), logger, Config{HotThreshold: 2, LogSample: 1})

	cell := hotness.CellFor(18.0686, 59.3293, hotness.DefaultResolution)
	w.Inc(cell)
	if buf.Len() != 0 {
		t.Fatalf("logged below threshold: %s", buf.String())
	}
	w.Inc(cell)
	if !strings.Contains(buf.String(), "hotness_threshold") {
		t.Fatalf("expected hot log, got %q", buf.String())
	}
}

func TestShouldLog_Bounds(t *testing.T) {
	if shouldLog(0, "x") {
		t.Fatal("sample 0 must never log")
	}
	if !shouldLog(1, "x") {
		t.Fatal("sample 1 must always log")
	}
}
