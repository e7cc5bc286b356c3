// Package overlay maps vector lines into output-pixel space and sources them
// from an Overpass endpoint.
package overlay

import (
	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/terrain-contours/internal/core/model"
	"github.com/mohammed-shakir/terrain-contours/internal/projection"
)

// Frame carries the parameters that place the resampled raster in global
// pixel space. Mapping through the same Frame keeps lines aligned with it.
type Frame struct {
	Projector projection.Projector
	Zoom      int
	OriginX   float64
	OriginY   float64
	Window    model.CropWindow
	ScaleX    float64
	ScaleY    float64
}

// Point maps one lon/lat position to output pixels. The result is not
// clamped to the canvas.
func (f Frame) Point(lon, lat float64) orb.Point {
	gx, gy := f.Projector.Project(lon, lat, f.Zoom)
	return orb.Point{
		(gx - f.OriginX - float64(f.Window.Left)) * f.ScaleX,
		(gy - f.OriginY - float64(f.Window.Top)) * f.ScaleY,
	}
}

// MapLines maps every line and drops those left with fewer than 2 distinct
// consecutive points.
func (f Frame) MapLines(lines []model.VectorLine) []model.PixelLine {
	out := make([]model.PixelLine, 0, len(lines))
	for _, l := range lines {
		pts := make(orb.LineString, 0, len(l.Points))
		for _, p := range l.Points {
			px := f.Point(p.Lon(), p.Lat())
			if n := len(pts); n > 0 && pts[n-1].Equal(px) {
				continue
			}
			pts = append(pts, px)
		}
		if len(pts) < 2 {
			continue
		}
		out = append(out, model.PixelLine{ID: l.ID, Name: l.Name, Points: pts})
	}
	return out
}
