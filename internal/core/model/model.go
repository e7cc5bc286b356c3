// Package model defines core domain types shared across the service.
package model

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// Web Mercator validity limits accepted for a request bbox.
const (
	MaxLatitude  = 85.0
	MaxLongitude = 180.0
)

var ErrInvalidBoundingBox = errors.New("invalid bounding box")

// BBox is a geographic bounding box in degrees (EPSG:4326).
type BBox struct {
	MinLon, MinLat float64
	MaxLon, MaxLat float64
}

// String representation matching the request bbox format
func (b BBox) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", b.MinLon, b.MinLat, b.MaxLon, b.MaxLat)
}

func (b BBox) LonSpan() float64 { return b.MaxLon - b.MinLon }
func (b BBox) LatSpan() float64 { return b.MaxLat - b.MinLat }

func (b BBox) Center() (lon, lat float64) {
	return (b.MinLon + b.MaxLon) / 2, (b.MinLat + b.MaxLat) / 2
}

func (b BBox) Validate() error {
	for _, v := range []float64{b.MinLon, b.MinLat, b.MaxLon, b.MaxLat} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: coordinates must be finite", ErrInvalidBoundingBox)
		}
	}
	if !(b.MinLon < b.MaxLon && b.MinLat < b.MaxLat) {
		return fmt.Errorf("%w: ensure min < max for lon and lat", ErrInvalidBoundingBox)
	}
	if b.MinLon < -MaxLongitude || b.MaxLon > MaxLongitude {
		return fmt.Errorf("%w: longitude must be between -180 and 180", ErrInvalidBoundingBox)
	}
	if b.MinLat < -MaxLatitude || b.MaxLat > MaxLatitude {
		return fmt.Errorf("%w: latitude must be between -85 and 85", ErrInvalidBoundingBox)
	}
	return nil
}

// ParseBBox parses "min_lon,min_lat,max_lon,max_lat" and validates the result.
func ParseBBox(raw string) (BBox, error) {
	parts := strings.Split(strings.TrimSpace(raw), ",")
	if len(parts) != 4 {
		return BBox{}, fmt.Errorf("%w: expected 4 comma-separated values: min_lon,min_lat,max_lon,max_lat", ErrInvalidBoundingBox)
	}
	var vals [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return BBox{}, fmt.Errorf("%w: value %d: %v", ErrInvalidBoundingBox, i+1, err)
		}
		vals[i] = f
	}
	bb := BBox{MinLon: vals[0], MinLat: vals[1], MaxLon: vals[2], MaxLat: vals[3]}
	if err := bb.Validate(); err != nil {
		return BBox{}, err
	}
	return bb, nil
}

// Tile is a slippy-map tile address.
type Tile = maptile.Tile

func NewTile(zoom, x, y int) Tile {
	return maptile.New(uint32(x), uint32(y), maptile.Zoom(zoom))
}

// Raster is a row-major grid of elevations in meters; NaN marks missing data.
type Raster struct {
	Width  int
	Height int
	Data   []float32
}

// NewRaster allocates a raster filled with NaN.
func NewRaster(w, h int) *Raster {
	r := &Raster{Width: w, Height: h, Data: make([]float32, w*h)}
	nan := float32(math.NaN())
	for i := range r.Data {
		r.Data[i] = nan
	}
	return r
}

func (r *Raster) At(x, y int) float32 { return r.Data[y*r.Width+x] }

func (r *Raster) Set(x, y int, v float32) { r.Data[y*r.Width+x] = v }

// Row returns the backing slice for row y.
func (r *Raster) Row(y int) []float32 {
	return r.Data[y*r.Width : (y+1)*r.Width]
}

// Finite reports the min/max over finite values and how many there are.
func (r *Raster) Finite() (minV, maxV float64, n int) {
	for _, v := range r.Data {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			continue
		}
		if n == 0 || f < minV {
			minV = f
		}
		if n == 0 || f > maxV {
			maxV = f
		}
		n++
	}
	return minV, maxV, n
}

// CropWindow is a pixel window into the mosaic, right/bottom exclusive.
type CropWindow struct {
	Left, Top     int
	Right, Bottom int
}

func (w CropWindow) Width() int  { return w.Right - w.Left }
func (w CropWindow) Height() int { return w.Bottom - w.Top }
func (w CropWindow) Empty() bool { return w.Width() <= 0 || w.Height() <= 0 }

// LevelSet is the contour level sequence handed to the plotting collaborator.
type LevelSet struct {
	Interval float64   `json:"interval"`
	Min      float64   `json:"min_elevation"`
	Max      float64   `json:"max_elevation"`
	Levels   []float64 `json:"levels"`
}

// VectorLine is a linear feature in lon/lat.
type VectorLine struct {
	ID     int64
	Name   string
	Points orb.LineString
}

// PixelLine is a VectorLine mapped into output-pixel space.
type PixelLine struct {
	ID     int64          `json:"id,omitempty"`
	Name   string         `json:"name,omitempty"`
	Points orb.LineString `json:"points"`
}
