package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestLiveness_Handler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()

	Liveness()(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	ct := rr.Header().Get("Content-Type")
	if !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("content-type=%q want text/plain", ct)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != "ok" {
		t.Fatalf("body=%q want ok", got)
	}
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type reporter struct {
	ok    bool
	parts []int32
}

func (r reporter) Readiness() (bool, []int32) { return r.ok, r.parts }

func TestReadiness(t *testing.T) {
	cases := []struct {
		name   string
		checks []Check
		rr     ReadinessReporter
		code   int
		status string
	}{
		{"no deps", nil, nil, http.StatusOK, "ready"},
		{"redis up", []Check{{Name: "redis", Dep: pinger{}}}, nil, http.StatusOK, "ready"},
		{"redis down", []Check{{Name: "redis", Dep: pinger{err: errors.New("dial tcp: refused")}}}, nil, http.StatusServiceUnavailable, "not_ready"},
		{"consumer unassigned", nil, reporter{}, http.StatusServiceUnavailable, "not_ready"},
		{"consumer assigned", nil, reporter{ok: true, parts: []int32{0, 1}}, http.StatusOK, "ready"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			Readiness(time.Second, tc.checks, tc.rr)(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			if rr.Code != tc.code {
				t.Fatalf("status=%d want %d", rr.Code, tc.code)
			}
			var body struct {
				Status string            `json:"status"`
				Checks map[string]string `json:"checks"`
			}
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Status != tc.status {
				t.Fatalf("status=%q want %q", body.Status, tc.status)
			}
			if tc.name == "redis down" && !strings.Contains(body.Checks["redis"], "refused") {
				t.Fatalf("checks=%v", body.Checks)
			}
		})
	}
}
