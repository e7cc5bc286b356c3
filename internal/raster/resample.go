package raster

import (
	"math"

	"github.com/mohammed-shakir/terrain-contours/internal/core/model"
)

// Resample bilinearly resamples the window of src to outW x outH.
//
// Output pixel centres map onto window pixel centres, and sample positions are
// clamped to the window so edges replicate. A NaN neighbour with non-zero
// weight makes the output NaN; neighbours with zero weight are skipped so an
// exact hit on a finite pixel stays finite next to missing data.
//
// Downscaling does not antialias: each output pixel reads only its 2x2
// neighbourhood, so extremes can differ from a filter whose support widens
// with the scale factor.
func Resample(src *model.Raster, win model.CropWindow, outW, outH int) *model.Raster {
	out := model.NewRaster(outW, outH)
	cw, ch := win.Width(), win.Height()
	sx := float64(cw) / float64(outW)
	sy := float64(ch) / float64(outH)

	xs := make([]axisSample, outW)
	for x := range xs {
		xs[x] = sampleAxis((float64(x)+0.5)*sx-0.5, cw)
	}

	for y := 0; y < outH; y++ {
		ay := sampleAxis((float64(y)+0.5)*sy-0.5, ch)
		r0 := src.Row(win.Top + ay.i0)[win.Left : win.Left+cw]
		r1 := src.Row(win.Top + ay.i1)[win.Left : win.Left+cw]
		dst := out.Row(y)
		for x, ax := range xs {
			dst[x] = blend(
				ay.w0, blend(ax.w0, r0[ax.i0], ax.w1, r0[ax.i1]),
				ay.w1, blend(ax.w0, r1[ax.i0], ax.w1, r1[ax.i1]),
			)
		}
	}
	return out
}

// axisSample holds the two source indices and weights along one axis.
type axisSample struct {
	i0, i1 int
	w0, w1 float64
}

func sampleAxis(pos float64, n int) axisSample {
	if pos <= 0 {
		return axisSample{w0: 1}
	}
	last := n - 1
	if pos >= float64(last) {
		return axisSample{i0: last, i1: last, w0: 1}
	}
	i0 := int(math.Floor(pos))
	f := pos - float64(i0)
	return axisSample{i0: i0, i1: i0 + 1, w0: 1 - f, w1: f}
}

func blend(w0 float64, v0 float32, w1 float64, v1 float32) float32 {
	var acc float64
	if w0 != 0 {
		acc += w0 * float64(v0)
	}
	if w1 != 0 {
		acc += w1 * float64(v1)
	}
	return float32(acc)
}
