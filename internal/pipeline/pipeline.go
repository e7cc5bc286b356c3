// Package pipeline runs a contour render: zoom selection, tile resolution,
// mosaic assembly, crop and resample, level planning and overlay mapping.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/mohammed-shakir/terrain-contours/internal/core/model"
	"github.com/mohammed-shakir/terrain-contours/internal/core/observability"
	"github.com/mohammed-shakir/terrain-contours/internal/hotness"
	"github.com/mohammed-shakir/terrain-contours/internal/levels"
	mylog "github.com/mohammed-shakir/terrain-contours/internal/logger"
	"github.com/mohammed-shakir/terrain-contours/internal/mosaic"
	"github.com/mohammed-shakir/terrain-contours/internal/overlay"
	"github.com/mohammed-shakir/terrain-contours/internal/projection"
	"github.com/mohammed-shakir/terrain-contours/internal/raster"
	"github.com/mohammed-shakir/terrain-contours/internal/renderevents"
	"github.com/mohammed-shakir/terrain-contours/internal/tiles"
)

const (
	DefaultBackground = "#ffffff"
	DefaultWidth      = 1600
	DefaultHeight     = 1200
	MinSize           = 100
	MaxSize           = 5000
	MaxZoom           = 24
)

// Request describes one render. Zero Width/Height take the service
// defaults; Interval <= 0 selects an automatic interval; a nil Zoom selects
// the zoom from the bbox size.
type Request struct {
	BBox       model.BBox
	Interval   float64
	Width      int
	Height     int
	Background string
	Roads      bool
	Zoom       *int

	// SizeSet marks Width and Height as caller-supplied; zero is then out
	// of range instead of meaning the configured default.
	SizeSet bool
}

type Result struct {
	BBox       model.BBox
	Raster     *model.Raster
	Levels     model.LevelSet
	Lines      []model.PixelLine
	Width      int
	Height     int
	Background string
	Zoom       int
	Tiles      int
	Degraded   int
	Failures   []mosaic.TileFailure
	Window     model.CropWindow
	ScaleX     float64
	ScaleY     float64
	Frame      overlay.Frame
	// OverlayWarning is set when roads were requested but could not be
	// fetched; the render itself succeeded.
	OverlayWarning string
}

// Mosaicker assembles the tiles of a TileSet into one raster.
type Mosaicker interface {
	Assemble(ctx context.Context, ts tiles.TileSet) (*mosaic.Mosaic, error)
}

// EventSink receives one event per render.
type EventSink interface {
	Publish(ev renderevents.Event)
}

type Config struct {
	TileSize       int
	ZoomRules      []projection.ZoomRule
	FallbackZoom   int
	MaxTiles       int
	Planner        levels.Planner
	MinSize        int
	MaxSize        int
	DefaultWidth   int
	DefaultHeight  int
	Background     string
	OverlayTimeout time.Duration
	HotRes         int
}

type Service struct {
	logger *slog.Logger
	proj   projection.Projector
	asm    Mosaicker
	lines  overlay.Source
	events EventSink
	cfg    Config
}

// New builds a Service. lines and events may be nil.
func New(logger *slog.Logger, asm Mosaicker, lines overlay.Source, events EventSink, cfg Config) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ZoomRules == nil {
		cfg.ZoomRules = projection.DefaultZoomRules()
	}
	if cfg.FallbackZoom <= 0 {
		cfg.FallbackZoom = projection.DefaultFallbackZoom
	}
	if cfg.MinSize <= 0 {
		cfg.MinSize = MinSize
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = MaxSize
	}
	if cfg.DefaultWidth <= 0 {
		cfg.DefaultWidth = DefaultWidth
	}
	if cfg.DefaultHeight <= 0 {
		cfg.DefaultHeight = DefaultHeight
	}
	if cfg.Background == "" {
		cfg.Background = DefaultBackground
	}
	if cfg.HotRes <= 0 {
		cfg.HotRes = hotness.DefaultResolution
	}
	return &Service{
		logger: logger,
		proj:   projection.New(cfg.TileSize),
		asm:    asm,
		lines:  lines,
		events: events,
		cfg:    cfg,
	}
}

// NormalizeBackground trims s and ensures a leading '#'.
func NormalizeBackground(s, def string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	if !strings.HasPrefix(s, "#") {
		s = "#" + s
	}
	return s
}

// Render runs every stage for req. Identical requests over a healthy tile
// source produce identical levels and overlay pixels.
func (s *Service) Render(ctx context.Context, req Request) (res *Result, err error) {
	start := time.Now()
	ctx = mylog.WithBBox(ctx, req.BBox.String())
	ev := renderevents.Event{BBox: req.BBox.String(), Status: "ok"}
	defer func() {
		ev.DurationMS = time.Since(start).Milliseconds()
		ev.TS = time.Now().UTC()
		if err != nil {
			var se *StageError
			if errors.As(err, &se) {
				ev.Status, ev.Stage, ev.Kind = "error", se.Stage, se.Kind
				observability.IncRenderFailure(se.Stage, se.Kind)
			}
			s.logger.WarnContext(ctx, "render failed", "err", err, "duration_ms", ev.DurationMS)
		} else {
			s.logger.InfoContext(ctx, "render complete",
				"zoom", res.Zoom, "tiles", res.Tiles, "degraded", res.Degraded,
				"levels", len(res.Levels.Levels), "lines", len(res.Lines),
				"duration_ms", ev.DurationMS)
		}
		if s.events != nil {
			s.events.Publish(ev)
		}
	}()

	req, err = s.validate(req)
	if err != nil {
		return nil, stageErr(ctx, StageValidate, err)
	}
	lon, lat := req.BBox.Center()
	ev.Cell = hotness.CellFor(lon, lat, s.cfg.HotRes)

	zoom := projection.SelectZoom(req.BBox, s.cfg.ZoomRules, s.cfg.FallbackZoom)
	if req.Zoom != nil {
		zoom = *req.Zoom
	}
	ev.Zoom = zoom

	stage := time.Now()
	ts, err := tiles.Resolve(req.BBox, zoom, s.proj, s.cfg.MaxTiles)
	observability.ObserveRenderStage(StageResolve, time.Since(stage).Seconds())
	if err != nil {
		return nil, stageErr(ctx, StageResolve, err)
	}
	ev.Tiles = ts.Count()

	stage = time.Now()
	m, err := s.asm.Assemble(ctx, ts)
	observability.ObserveRenderStage(StageAssemble, time.Since(stage).Seconds())
	if err != nil {
		return nil, stageErr(ctx, StageAssemble, err)
	}
	ev.Degraded = m.Degraded()

	stage = time.Now()
	ox, oy := m.Origin()
	crop, err := raster.CropAndResample(m.Raster, ox, oy, req.BBox, zoom, s.proj, req.Width, req.Height)
	observability.ObserveRenderStage(StageCrop, time.Since(stage).Seconds())
	if err != nil {
		return nil, stageErr(ctx, StageCrop, err)
	}

	stage = time.Now()
	ls, err := s.cfg.Planner.Plan(crop.Raster, req.Interval)
	observability.ObserveRenderStage(StagePlan, time.Since(stage).Seconds())
	if err != nil {
		return nil, stageErr(ctx, StagePlan, err)
	}
	ev.Levels = len(ls.Levels)

	res = &Result{
		BBox:       req.BBox,
		Raster:     crop.Raster,
		Levels:     ls,
		Width:      req.Width,
		Height:     req.Height,
		Background: req.Background,
		Zoom:       zoom,
		Tiles:      ts.Count(),
		Degraded:   m.Degraded(),
		Failures:   m.Failures,
		Window:     crop.Window,
		ScaleX:     crop.ScaleX,
		ScaleY:     crop.ScaleY,
		Frame: overlay.Frame{
			Projector: s.proj,
			Zoom:      zoom,
			OriginX:   ox,
			OriginY:   oy,
			Window:    crop.Window,
			ScaleX:    crop.ScaleX,
			ScaleY:    crop.ScaleY,
		},
	}

	if req.Roads {
		s.overlay(ctx, req.BBox, res)
		ev.Lines = len(res.Lines)
	}
	return res, nil
}

func (s *Service) validate(req Request) (Request, error) {
	if err := req.BBox.Validate(); err != nil {
		return req, err
	}
	if req.Width == 0 && !req.SizeSet {
		req.Width = s.cfg.DefaultWidth
	}
	if req.Height == 0 && !req.SizeSet {
		req.Height = s.cfg.DefaultHeight
	}
	if req.Width < s.cfg.MinSize || req.Width > s.cfg.MaxSize ||
		req.Height < s.cfg.MinSize || req.Height > s.cfg.MaxSize {
		return req, fmt.Errorf("%w: width and height must be between %d and %d (got %dx%d)",
			ErrInvalidParameters, s.cfg.MinSize, s.cfg.MaxSize, req.Width, req.Height)
	}
	if math.IsNaN(req.Interval) || math.IsInf(req.Interval, 0) {
		return req, fmt.Errorf("%w: interval must be finite", ErrInvalidParameters)
	}
	if req.Zoom != nil && (*req.Zoom < 0 || *req.Zoom > MaxZoom) {
		return req, fmt.Errorf("%w: zoom must be between 0 and %d (got %d)", ErrInvalidParameters, MaxZoom, *req.Zoom)
	}
	req.Background = NormalizeBackground(req.Background, s.cfg.Background)
	return req, nil
}

// overlay fetches and maps road lines. Failures leave the render intact
// and surface as a warning.
func (s *Service) overlay(ctx context.Context, bb model.BBox, res *Result) {
	if s.lines == nil {
		res.OverlayWarning = KindOverlaySourceFailure + ": no overlay source configured"
		observability.IncOverlayWarning()
		return
	}
	start := time.Now()
	octx := ctx
	if s.cfg.OverlayTimeout > 0 {
		var cancel context.CancelFunc
		octx, cancel = context.WithTimeout(ctx, s.cfg.OverlayTimeout)
		defer cancel()
	}
	lines, err := s.lines.Lines(octx, bb)
	observability.ObserveRenderStage(StageOverlay, time.Since(start).Seconds())
	if err != nil {
		res.OverlayWarning = fmt.Sprintf("%s: %v", KindOverlaySourceFailure, err)
		observability.IncOverlayWarning()
		s.logger.WarnContext(ctx, "overlay omitted", "err", err)
		return
	}
	res.Lines = res.Frame.MapLines(lines)
}
