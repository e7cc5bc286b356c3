// Command contourctl renders one bbox and writes the raster plus a JSON
// manifest for an external plotting tool.
package main

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/mohammed-shakir/terrain-contours/internal/core/config"
	"github.com/mohammed-shakir/terrain-contours/internal/core/httpclient"
	"github.com/mohammed-shakir/terrain-contours/internal/core/model"
	"github.com/mohammed-shakir/terrain-contours/internal/core/router"
	"github.com/mohammed-shakir/terrain-contours/internal/levels"
	"github.com/mohammed-shakir/terrain-contours/internal/logger"
	"github.com/mohammed-shakir/terrain-contours/internal/mosaic"
	"github.com/mohammed-shakir/terrain-contours/internal/overlay"
	"github.com/mohammed-shakir/terrain-contours/internal/pipeline"
	"github.com/mohammed-shakir/terrain-contours/internal/tiles"
)

type options struct {
	configPath string
	bbox       string
	interval   float64
	bg         string
	roads      bool
	noRoads    bool
	width      int
	height     int
	zoom       int
	out        string
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("contourctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.configPath, "config", "", "optional YAML config file")
	fs.StringVar(&o.bbox, "bbox", "", "bounding box as min_lon,min_lat,max_lon,max_lat (required)")
	fs.Float64Var(&o.interval, "interval", 20, "contour interval in meters; <= 0 picks one automatically")
	fs.StringVar(&o.bg, "bg", "#ffffff", "background colour")
	fs.BoolVar(&o.roads, "roads", false, "overlay roads")
	fs.BoolVar(&o.noRoads, "no-roads", false, "disable the road overlay")
	fs.IntVar(&o.width, "width", pipeline.DefaultWidth, "output width in pixels")
	fs.IntVar(&o.height, "height", pipeline.DefaultHeight, "output height in pixels")
	fs.IntVar(&o.zoom, "zoom", -1, "elevation tile zoom; -1 selects it from the bbox size")
	fs.StringVar(&o.out, "out", "", "output path; writes <out>.f32 and <out>.json (required)")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if strings.TrimSpace(o.bbox) == "" || strings.TrimSpace(o.out) == "" {
		return o, errors.New("--bbox and --out are required")
	}
	if o.noRoads {
		o.roads = false
	}
	return o, nil
}

// Manifest describes the files written next to each other by one run.
type Manifest struct {
	router.Response
	RasterFile string `json:"raster_file"`
	DType      string `json:"dtype"`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	o, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(stderr, "usage error:", err)
		return 2
	}
	bb, err := model.ParseBBox(o.bbox)
	if err != nil {
		fmt.Fprintln(stderr, "usage error: --bbox:", err)
		return 2
	}

	cfg, err := config.Load(o.configPath)
	if err != nil {
		fmt.Fprintln(stderr, "config:", err)
		return 1
	}
	cfg.Log.Console = true
	cfg.Log.Component = "contourctl"
	zl := logger.Build(cfg.Log, stderr)
	log := logger.NewSlog(&zl)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := newService(cfg, log)
	if err != nil {
		log.Error("setup failed", "err", err)
		return 1
	}

	req := pipeline.Request{
		BBox:       bb,
		Interval:   o.interval,
		Width:      o.width,
		Height:     o.height,
		Background: o.bg,
		Roads:      o.roads,
		SizeSet:    true,
	}
	if o.zoom >= 0 {
		req.Zoom = &o.zoom
	}

	res, err := svc.Render(ctx, req)
	if err != nil {
		log.Error("render failed", "kind", pipeline.KindOf(err), "err", err)
		return 1
	}
	if res.OverlayWarning != "" {
		log.Warn("failed to fetch roads", "warning", res.OverlayWarning)
	}
	if res.Degraded > 0 {
		log.Warn("some elevation tiles are missing", "degraded", res.Degraded, "tiles", res.Tiles)
	}

	rasterPath, manifestPath, err := writeBundle(o.out, res)
	if err != nil {
		log.Error("write output", "err", err)
		return 1
	}
	log.Info("render written",
		"raster", rasterPath, "manifest", manifestPath,
		"zoom", res.Zoom, "levels", len(res.Levels.Levels), "interval", res.Levels.Interval)
	return 0
}

func newService(cfg config.Config, log *slog.Logger) (*pipeline.Service, error) {
	client := httpclient.NewOutbound(cfg.Tiles.Timeout)
	fetcher, err := tiles.NewHTTPFetcher(log, client, cfg.Tiles.URLTemplate)
	if err != nil {
		return nil, err
	}
	decoder, err := tiles.NewDecoder(cfg.Tiles.Encoding, cfg.Tiles.Size)
	if err != nil {
		return nil, err
	}
	asm := mosaic.NewAssembler(log, fetcher, decoder, mosaic.Config{
		Workers:     cfg.Tiles.Workers,
		TileTimeout: cfg.Tiles.Timeout,
	})
	lines := overlay.NewOverpass(log, client, overlay.OverpassConfig{
		Endpoint:     cfg.Overlay.URL,
		Filter:       cfg.Overlay.Filter,
		QueryTimeout: cfg.Overlay.QueryTimeout,
	})
	return pipeline.New(log, asm, lines, nil, pipeline.Config{
		TileSize:     cfg.Tiles.Size,
		ZoomRules:    cfg.Zoom.Rules,
		FallbackZoom: cfg.Zoom.Fallback,
		MaxTiles:     cfg.Tiles.MaxTiles,
		Planner: levels.Planner{
			AutoDivisor:     cfg.Levels.AutoDivisor,
			MinAutoInterval: cfg.Levels.MinAutoInterval,
			MaxLevels:       cfg.Levels.MaxLevels,
		},
		MinSize:        cfg.Output.MinSize,
		MaxSize:        cfg.Output.MaxSize,
		Background:     cfg.Output.Background,
		OverlayTimeout: cfg.Overlay.Timeout,
	}), nil
}

// writeBundle writes <base>.f32 (little-endian float32, row-major) and
// <base>.json, where base is out without its extension.
func writeBundle(out string, res *pipeline.Result) (string, string, error) {
	base := strings.TrimSuffix(out, filepath.Ext(out))
	rasterPath, manifestPath := base+".f32", base+".json"
	if dir := filepath.Dir(base); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", "", fmt.Errorf("create output dir: %w", err)
		}
	}

	f, err := os.Create(rasterPath)
	if err != nil {
		return "", "", fmt.Errorf("create raster: %w", err)
	}
	w := bufio.NewWriter(f)
	if err := binary.Write(w, binary.LittleEndian, res.Raster.Data); err != nil {
		_ = f.Close()
		return "", "", fmt.Errorf("write raster: %w", err)
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return "", "", fmt.Errorf("flush raster: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", "", fmt.Errorf("close raster: %w", err)
	}

	m := Manifest{
		Response:   router.NewResponse(res),
		RasterFile: filepath.Base(rasterPath),
		DType:      "float32le",
	}
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(manifestPath, append(b, '\n'), 0o644); err != nil {
		return "", "", fmt.Errorf("write manifest: %w", err)
	}
	return rasterPath, manifestPath, nil
}
