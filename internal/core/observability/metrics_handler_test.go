package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsHandler_Smoke(t *testing.T) {
	ExposeBuildInfo("test")
	ObserveHTTP("GET", "/render", 200, 0.001)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "app_build_info") && !strings.Contains(body, "http_requests_total") {
		t.Fatalf("metrics payload did not contain expected metric names; got:\n%s", body)
	}
}

func TestRenderMetrics_LabelsOnCustomRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	Init(reg, true)
	Init(reg, true) // second call is a no-op

	IncTileOutcome("ok")
	IncTileOutcome("tile_fetch_timeout")
	ObserveMosaicDegraded(2)
	IncRenderFailure("assemble", "mosaic_empty")
	ObserveCacheOp("get", errors.New("boom"), 0.001)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP(rr, req)
	body := rr.Body.String()

	for _, want := range []string{
		`tile_fetch_total{outcome="tile_fetch_timeout"} `,
		`render_failures_total{kind="mosaic_empty",stage="assemble"} `,
		`cache_op_total{op="get",result="error"} `,
		`mosaic_degraded_tiles_bucket`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in:\n%s", want, body)
		}
	}
}

func TestInvalidationCounters(t *testing.T) {
	before := testutil.ToFloat64(invalidatedKeysTotal)
	ObserveInvalidation(3, nil)
	ObserveInvalidation(0, errors.New("x"))
	if got := testutil.ToFloat64(invalidatedKeysTotal) - before; got != 3 {
		t.Fatalf("invalidated keys delta=%g want 3", got)
	}
}

func TestInit_DisabledOrNilIsNoop(t *testing.T) {
	reg := prometheus.NewRegistry()
	Init(reg, false)
	Init(nil, true)
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(mfs) != 0 {
		t.Fatalf("expected empty registry, got %d families", len(mfs))
	}
}
