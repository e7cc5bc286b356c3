package router

import (
	"github.com/mohammed-shakir/terrain-contours/internal/core/model"
	"github.com/mohammed-shakir/terrain-contours/internal/pipeline"
)

type TileFailure struct {
	Z     uint32 `json:"z"`
	X     uint32 `json:"x"`
	Y     uint32 `json:"y"`
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

type Stats struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Finite int     `json:"finite"`
	Total  int     `json:"total"`
}

// Response is the JSON render bundle handed to a plotting client. The
// raster itself is only served with format=raw.
type Response struct {
	BBox          string            `json:"bbox"`
	Zoom          int               `json:"zoom"`
	Width         int               `json:"width"`
	Height        int               `json:"height"`
	Background    string            `json:"background"`
	Tiles         int               `json:"tiles"`
	DegradedTiles int               `json:"degraded_tiles"`
	Failures      []TileFailure     `json:"failures,omitempty"`
	Window        model.CropWindow  `json:"crop_window"`
	ScaleX        float64           `json:"scale_x"`
	ScaleY        float64           `json:"scale_y"`
	Levels        model.LevelSet    `json:"levels"`
	Lines         []model.PixelLine `json:"lines"`
	Stats         Stats             `json:"stats"`
	Warnings      []string          `json:"warnings,omitempty"`
}

func NewResponse(res *pipeline.Result) Response {
	minV, maxV, n := res.Raster.Finite()
	out := Response{
		BBox:          res.BBox.String(),
		Zoom:          res.Zoom,
		Width:         res.Width,
		Height:        res.Height,
		Background:    res.Background,
		Tiles:         res.Tiles,
		DegradedTiles: res.Degraded,
		Window:        res.Window,
		ScaleX:        res.ScaleX,
		ScaleY:        res.ScaleY,
		Levels:        res.Levels,
		Lines:         res.Lines,
		Stats:         Stats{Min: minV, Max: maxV, Finite: n, Total: len(res.Raster.Data)},
	}
	if out.Lines == nil {
		out.Lines = []model.PixelLine{}
	}
	for _, f := range res.Failures {
		out.Failures = append(out.Failures, TileFailure{
			Z: uint32(f.Tile.Z), X: f.Tile.X, Y: f.Tile.Y, Kind: f.Kind, Error: f.Err.Error(),
		})
	}
	if res.OverlayWarning != "" {
		out.Warnings = append(out.Warnings, res.OverlayWarning)
	}
	return out
}
