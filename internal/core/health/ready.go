package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// ReadinessReporter is implemented by the invalidation consumer.
type ReadinessReporter interface {
	Readiness() (ready bool, partitions []int32)
}

// Pinger is a dependency that must answer before traffic is accepted.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Check struct {
	Name string
	Dep  Pinger
}

// Readiness pings every check within timeout. rr may be nil when no
// consumer runs.
func Readiness(timeout time.Duration, checks []Check, rr ReadinessReporter) http.HandlerFunc {
	if timeout <= 0 {
		timeout = time.Second
	}
	return func(w http.ResponseWriter, r *http.Request) {
		type resp struct {
			Status     string            `json:"status"`
			Checks     map[string]string `json:"checks,omitempty"`
			Partitions []int32           `json:"partitions,omitempty"`
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		ready := true
		out := resp{}
		for _, c := range checks {
			if out.Checks == nil {
				out.Checks = make(map[string]string, len(checks))
			}
			if err := c.Dep.Ping(ctx); err != nil {
				ready = false
				out.Checks[c.Name] = err.Error()
				continue
			}
			out.Checks[c.Name] = "ok"
		}
		if rr != nil {
			ok, parts := rr.Readiness()
			ready = ready && ok
			out.Partitions = parts
		}

		out.Status = "not_ready"
		if ready {
			out.Status = "ready"
		}
		w.Header().Set("Content-Type", "application/json")
		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}
