package levels

import (
	"errors"
	"math"
	"testing"

	"github.com/mohammed-shakir/terrain-contours/internal/core/model"
)

func rasterOf(vals ...float32) *model.Raster {
	r := model.NewRaster(len(vals), 1)
	copy(r.Data, vals)
	return r
}

func equal(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(a[i]-b[i]) > 1e-9 {
			return false
		}
	}
	return true
}

func TestPlan_ExplicitInterval(t *testing.T) {
	ls, err := Planner{}.Plan(rasterOf(12, 47, 30), 10)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	want := []float64{10, 20, 30, 40, 50}
	if !equal(ls.Levels, want) {
		t.Fatalf("levels=%v want %v", ls.Levels, want)
	}
	if ls.Min != 12 || ls.Max != 47 || ls.Interval != 10 {
		t.Fatalf("stats=%+v", ls)
	}
}

func TestPlan_AutoInterval(t *testing.T) {
	ls, err := Planner{}.Plan(rasterOf(0, 75, 150), 0)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if ls.Interval != 10 {
		t.Fatalf("interval=%g want 10", ls.Interval)
	}
	if len(ls.Levels) != 16 || ls.Levels[0] != 0 || ls.Levels[15] != 150 {
		t.Fatalf("levels=%v", ls.Levels)
	}
}

func TestPlan_AutoIntervalFloor(t *testing.T) {
	ls, err := Planner{}.Plan(rasterOf(100, 105), -1)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if ls.Interval != 1 {
		t.Fatalf("interval=%g want 1", ls.Interval)
	}
}

func TestPlan_NegativeElevations(t *testing.T) {
	ls, err := Planner{}.Plan(rasterOf(-25, -3), 10)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	want := []float64{-30, -20, -10, 0}
	if !equal(ls.Levels, want) {
		t.Fatalf("levels=%v want %v", ls.Levels, want)
	}
}

func TestPlan_FlatRasterOnMultiple(t *testing.T) {
	ls, err := Planner{}.Plan(rasterOf(20, 20), 10)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if !equal(ls.Levels, []float64{20}) {
		t.Fatalf("levels=%v want [20]", ls.Levels)
	}
}

func TestPlan_IgnoresNaN(t *testing.T) {
	nan := float32(math.NaN())
	ls, err := Planner{}.Plan(rasterOf(nan, 5, nan, 15), 10)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if ls.Min != 5 || ls.Max != 15 {
		t.Fatalf("min/max=%g/%g want 5/15", ls.Min, ls.Max)
	}
}

func TestPlan_NoFiniteElevation(t *testing.T) {
	nan := float32(math.NaN())
	_, err := Planner{}.Plan(rasterOf(nan, nan), 10)
	if !errors.Is(err, ErrNoFiniteElevation) {
		t.Fatalf("err=%v want ErrNoFiniteElevation", err)
	}
}

func TestPlan_TooManyLevels(t *testing.T) {
	_, err := Planner{MaxLevels: 5}.Plan(rasterOf(0, 100), 1)
	if !errors.Is(err, ErrTooManyLevels) {
		t.Fatalf("err=%v want ErrTooManyLevels", err)
	}

	// a tiny interval must not overflow the level count
	for _, interval := range []float64{1e-300, math.SmallestNonzeroFloat64} {
		_, err := Planner{}.Plan(rasterOf(10, 47), interval)
		if !errors.Is(err, ErrTooManyLevels) {
			t.Fatalf("interval=%g err=%v want ErrTooManyLevels", interval, err)
		}
	}
}

func TestPlan_CustomDivisor(t *testing.T) {
	ls, err := Planner{AutoDivisor: 5}.Plan(rasterOf(0, 100), 0)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if ls.Interval != 20 {
		t.Fatalf("interval=%g want 20", ls.Interval)
	}
}
