package raster

import (
	"errors"
	"math"
	"testing"

	"github.com/mohammed-shakir/terrain-contours/internal/core/model"
	"github.com/mohammed-shakir/terrain-contours/internal/projection"
)

func rasterOf(w, h int, vals ...float32) *model.Raster {
	r := model.NewRaster(w, h)
	copy(r.Data, vals)
	return r
}

func isNaN(v float32) bool { return math.IsNaN(float64(v)) }

func TestCropWindow_WorldAtZoomZero(t *testing.T) {
	p := projection.New(256)
	bb := model.BBox{MinLon: -90, MinLat: -45, MaxLon: 90, MaxLat: 45}

	w, err := CropWindow(256, 256, 0, 0, bb, 0, p)
	if err != nil {
		t.Fatalf("crop: %v", err)
	}
	want := model.CropWindow{Left: 64, Top: 92, Right: 192, Bottom: 164}
	if w != want {
		t.Fatalf("window=%+v want %+v", w, want)
	}
}

func TestCropWindow_ClampedToExtent(t *testing.T) {
	p := projection.New(256)
	bb := model.BBox{MinLon: -90, MinLat: -45, MaxLon: 90, MaxLat: 45}

	// mosaic covering global pixels [100,150) on both axes
	w, err := CropWindow(50, 50, 100, 100, bb, 0, p)
	if err != nil {
		t.Fatalf("crop: %v", err)
	}
	want := model.CropWindow{Left: 0, Top: 0, Right: 50, Bottom: 50}
	if w != want {
		t.Fatalf("window=%+v want %+v", w, want)
	}
}

func TestCropWindow_EmptyOutsideMosaic(t *testing.T) {
	p := projection.New(256)
	bb := model.BBox{MinLon: -90, MinLat: -45, MaxLon: 90, MaxLat: 45}

	_, err := CropWindow(10, 10, 0, 0, bb, 0, p)
	if !errors.Is(err, ErrEmptyCrop) {
		t.Fatalf("err=%v want ErrEmptyCrop", err)
	}
}

func TestResample_IdentityKeepsValues(t *testing.T) {
	src := rasterOf(3, 2, 1, 2, 3, 4, 5, 6)
	out := Resample(src, model.CropWindow{Right: 3, Bottom: 2}, 3, 2)
	for i, v := range src.Data {
		if out.Data[i] != v {
			t.Fatalf("out[%d]=%g want %g", i, out.Data[i], v)
		}
	}
}

func TestResample_UpsampleIsLinear(t *testing.T) {
	src := rasterOf(2, 1, 0, 10)
	out := Resample(src, model.CropWindow{Right: 2, Bottom: 1}, 4, 1)
	want := []float32{0, 2.5, 7.5, 10}
	for i, v := range want {
		if out.Data[i] != v {
			t.Fatalf("out=%v want %v", out.Data, want)
		}
	}
}

func TestResample_Window(t *testing.T) {
	// 4x4 source with a 2x2 window at (1,1)
	src := rasterOf(4, 4,
		0, 0, 0, 0,
		0, 7, 8, 0,
		0, 9, 6, 0,
		0, 0, 0, 0,
	)
	out := Resample(src, model.CropWindow{Left: 1, Top: 1, Right: 3, Bottom: 3}, 2, 2)
	want := []float32{7, 8, 9, 6}
	for i, v := range want {
		if out.Data[i] != v {
			t.Fatalf("out=%v want %v", out.Data, want)
		}
	}
}

func TestResample_NaNPropagatesOnlyWithWeight(t *testing.T) {
	nan := float32(math.NaN())
	src := rasterOf(3, 1, 0, nan, 10)

	same := Resample(src, model.CropWindow{Right: 3, Bottom: 1}, 3, 1)
	if same.Data[0] != 0 || !isNaN(same.Data[1]) || same.Data[2] != 10 {
		t.Fatalf("identity=%v want [0 NaN 10]", same.Data)
	}

	up := Resample(src, model.CropWindow{Right: 3, Bottom: 1}, 6, 1)
	if up.Data[0] != 0 || up.Data[5] != 10 {
		t.Fatalf("edges=%v", up.Data)
	}
	for i := 1; i <= 4; i++ {
		if !isNaN(up.Data[i]) {
			t.Fatalf("up[%d]=%g want NaN", i, up.Data[i])
		}
	}
}

func TestCropAndResample_Scales(t *testing.T) {
	p := projection.New(256)
	bb := model.BBox{MinLon: -90, MinLat: -45, MaxLon: 90, MaxLat: 45}
	src := model.NewRaster(256, 256)
	for i := range src.Data {
		src.Data[i] = 100
	}

	res, err := CropAndResample(src, 0, 0, bb, 0, p, 256, 144)
	if err != nil {
		t.Fatalf("crop: %v", err)
	}
	if res.ScaleX != 2 || res.ScaleY != 2 {
		t.Fatalf("scale=%g,%g want 2,2", res.ScaleX, res.ScaleY)
	}
	if res.Raster.Width != 256 || res.Raster.Height != 144 {
		t.Fatalf("size=%dx%d", res.Raster.Width, res.Raster.Height)
	}
	if _, _, n := res.Raster.Finite(); n != 256*144 {
		t.Fatalf("finite=%d want all", n)
	}
}

func TestCropAndResample_RejectsBadSize(t *testing.T) {
	src := model.NewRaster(4, 4)
	bb := model.BBox{MinLon: -90, MinLat: -45, MaxLon: 90, MaxLat: 45}
	if _, err := CropAndResample(src, 0, 0, bb, 0, projection.New(256), 0, 10); err == nil {
		t.Fatal("expected error for zero width")
	}
}
