package projection

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/mohammed-shakir/terrain-contours/internal/core/model"
)

// ZoomRule selects Zoom when the bbox's larger span exceeds MinSpan degrees.
type ZoomRule struct {
	MinSpan float64 `yaml:"min_span"`
	Zoom    int     `yaml:"zoom"`
}

const DefaultFallbackZoom = 14

func DefaultZoomRules() []ZoomRule {
	return []ZoomRule{
		{MinSpan: 2.0, Zoom: 8},
		{MinSpan: 1.0, Zoom: 9},
		{MinSpan: 0.5, Zoom: 10},
		{MinSpan: 0.2, Zoom: 11},
		{MinSpan: 0.1, Zoom: 12},
		{MinSpan: 0.05, Zoom: 13},
	}
}

// SelectZoom picks the zoom of the first rule (largest span first) whose
// threshold is strictly exceeded, else fallback.
func SelectZoom(bb model.BBox, rules []ZoomRule, fallback int) int {
	area := max(bb.LonSpan(), bb.LatSpan())
	sorted := make([]ZoomRule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].MinSpan > sorted[j].MinSpan })
	for _, r := range sorted {
		if area > r.MinSpan {
			return r.Zoom
		}
	}
	return fallback
}

// ParseZoomRules parses "2=8,1=9,0.5=10" into rules.
func ParseZoomRules(s string) ([]ZoomRule, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var out []ZoomRule
	for p := range strings.SplitSeq(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("zoom rule %q: expected span=zoom", p)
		}
		span, err := strconv.ParseFloat(strings.TrimSpace(kv[0]), 64)
		if err != nil {
			return nil, fmt.Errorf("zoom rule %q span: %w", p, err)
		}
		z, err := strconv.Atoi(strings.TrimSpace(kv[1]))
		if err != nil {
			return nil, fmt.Errorf("zoom rule %q zoom: %w", p, err)
		}
		if z < 0 {
			return nil, fmt.Errorf("zoom rule %q: zoom must be >= 0", p)
		}
		out = append(out, ZoomRule{MinSpan: span, Zoom: z})
	}
	return out, nil
}
