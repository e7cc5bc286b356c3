// Package raster crops a mosaic to a bbox and resamples it to the output canvas.
package raster

import (
	"errors"
	"fmt"
	"math"

	"github.com/mohammed-shakir/terrain-contours/internal/core/model"
	"github.com/mohammed-shakir/terrain-contours/internal/projection"
)

var ErrEmptyCrop = errors.New("cropped mosaic is empty")

// Result is a resampled crop plus the parameters needed to map into it.
type Result struct {
	Raster *model.Raster
	Window model.CropWindow
	ScaleX float64
	ScaleY float64
}

// CropWindow projects bb into mosaic-local pixels and clamps the result to the
// mosaic extent. Edges are floored on the top/left and ceiled on the
// bottom/right so the window always covers the bbox.
func CropWindow(extentW, extentH int, originX, originY float64, bb model.BBox, zoom int, proj projection.Projector) (model.CropWindow, error) {
	x0, yTop := proj.Project(bb.MinLon, bb.MaxLat, zoom)
	x1, yBottom := proj.Project(bb.MaxLon, bb.MinLat, zoom)

	w := model.CropWindow{
		Left:   clamp(math.Floor(x0-originX), extentW),
		Top:    clamp(math.Floor(yTop-originY), extentH),
		Right:  clamp(math.Ceil(x1-originX), extentW),
		Bottom: clamp(math.Ceil(yBottom-originY), extentH),
	}
	if w.Empty() {
		return w, fmt.Errorf("%w: window %+v in %dx%d mosaic", ErrEmptyCrop, w, extentW, extentH)
	}
	return w, nil
}

func clamp(v float64, hi int) int {
	switch {
	case v < 0:
		return 0
	case v > float64(hi):
		return hi
	default:
		return int(v)
	}
}

// CropAndResample crops src to the bbox window and resamples it to outW x outH.
func CropAndResample(src *model.Raster, originX, originY float64, bb model.BBox, zoom int, proj projection.Projector, outW, outH int) (Result, error) {
	if outW <= 0 || outH <= 0 {
		return Result{}, fmt.Errorf("output size must be positive (got %dx%d)", outW, outH)
	}
	win, err := CropWindow(src.Width, src.Height, originX, originY, bb, zoom, proj)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Raster: Resample(src, win, outW, outH),
		Window: win,
		ScaleX: float64(outW) / float64(win.Width()),
		ScaleY: float64(outH) / float64(win.Height()),
	}, nil
}
