// Package metricswrap wraps a hotness tracker with Prometheus metrics and
// sampled hot-region logging.
package metricswrap

import (
	"fmt"
	"log/slog"

	xx "github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/terrain-contours/internal/core/observability"
	"github.com/mohammed-shakir/terrain-contours/internal/hotness"
)

type Sizer interface{ Size() int }

type Config struct {
	// HotThreshold enables hot-region logging when > 0.
	HotThreshold float64
	// LogSample is the fraction of hot cells that are logged.
	LogSample float64
}

type WithMetrics struct {
	inner  hotness.Interface
	logger *slog.Logger
	cfg    Config
}

var _ hotness.Interface = (*WithMetrics)(nil)

func New(inner hotness.Interface, logger *slog.Logger, cfg Config) *WithMetrics {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.LogSample == 0 {
		cfg.LogSample = 0.01
	}
	return &WithMetrics{inner: inner, logger: logger, cfg: cfg}
}

func (w *WithMetrics) Inc(cell string) {
	w.inner.Inc(cell)
	if w.cfg.HotThreshold > 0 {
		score := w.inner.Score(cell)
		if score >= w.cfg.HotThreshold && shouldLog(w.cfg.LogSample, cell) {
			w.logger.Info("hot region above threshold",
				"event", "hotness_threshold",
				"score", score,
				"cell_hash", fmt.Sprintf("%08x", xx.Sum64String(cell)))
		}
	}
	w.updateGauge()
}

func (w *WithMetrics) Score(cell string) float64 {
	return w.inner.Score(cell)
}

func (w *WithMetrics) Reset(cells ...string) {
	w.inner.Reset(cells...)
	w.updateGauge()
}

func (w *WithMetrics) updateGauge() {
	if s, ok := w.inner.(Sizer); ok {
		observability.SetHotKeysGauge(s.Size())
	}
}

func shouldLog(sample float64, key string) bool {
	if sample <= 0 {
		return false
	}
	if sample >= 1 {
		return true
	}
	const denom = 10000
	threshold := uint64(sample*denom + 0.5)
	if threshold == 0 {
		return false
	}
	return xx.Sum64String(key)%denom < threshold
}
