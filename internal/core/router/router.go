// Package router parses render requests and writes pipeline results over HTTP.
package router

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mohammed-shakir/terrain-contours/internal/core/config"
	"github.com/mohammed-shakir/terrain-contours/internal/core/model"
	"github.com/mohammed-shakir/terrain-contours/internal/core/observability"
	"github.com/mohammed-shakir/terrain-contours/internal/pipeline"
)

const (
	FormatJSON = "json"
	FormatRaw  = "raw"

	// StatusClientClosedRequest is the non-standard code used when the
	// caller went away before the render finished.
	StatusClientClosedRequest = 499
)

// Renderer runs one render; *pipeline.Service implements it.
type Renderer interface {
	Render(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// HandleRender validates query parameters and serves the render result.
func HandleRender(logger *slog.Logger, out config.OutputCfg, rd Renderer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		defer func() {
			observability.ObserveHTTP(r.Method, "/render", sw.code, time.Since(start).Seconds())
		}()

		req, format, warn, err := ParseRenderRequest(r, out)
		if warn != "" {
			logger.WarnContext(r.Context(), warn)
		}
		if err != nil {
			kind := pipeline.KindInvalidParameters
			if errors.Is(err, model.ErrInvalidBoundingBox) {
				kind = pipeline.KindInvalidBBox
			}
			writeError(sw, http.StatusBadRequest, "validate", kind, err)
			return
		}

		res, err := rd.Render(r.Context(), req)
		if err != nil {
			var se *pipeline.StageError
			stage := ""
			if errors.As(err, &se) {
				stage = se.Stage
			}
			kind := pipeline.KindOf(err)
			writeError(sw, StatusFor(kind), stage, kind, err)
			return
		}

		if format == FormatRaw {
			writeRaw(sw, logger, res)
			return
		}
		writeJSON(sw, http.StatusOK, NewResponse(res))
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// StatusFor maps a render failure kind to an HTTP status.
func StatusFor(kind string) int {
	switch kind {
	case pipeline.KindInvalidBBox, pipeline.KindInvalidParameters:
		return http.StatusBadRequest
	case pipeline.KindNoTilesFound, pipeline.KindTooManyTiles, pipeline.KindEmptyCrop,
		pipeline.KindNoFiniteElevation, pipeline.KindTooManyLevels:
		return http.StatusUnprocessableEntity
	case pipeline.KindMosaicEmpty:
		return http.StatusBadGateway
	case pipeline.KindCanceled:
		return StatusClientClosedRequest
	case pipeline.KindTimeout:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// ParseRenderRequest reads bbox, interval, width, height, bg, roads, zoom and
// format. Unparsable width/height fall back to the defaults with a warning.
func ParseRenderRequest(r *http.Request, out config.OutputCfg) (pipeline.Request, string, string, error) {
	q := r.URL.Query()
	var warns []string

	rawBBox := strings.TrimSpace(q.Get("bbox"))
	if rawBBox == "" {
		return pipeline.Request{}, "", "", fmt.Errorf("%w: missing required parameter: bbox", model.ErrInvalidBoundingBox)
	}
	bb, err := model.ParseBBox(rawBBox)
	if err != nil {
		return pipeline.Request{}, "", "", err
	}

	interval := out.Interval
	if v := strings.TrimSpace(q.Get("interval")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return pipeline.Request{}, "", "", fmt.Errorf("interval: %w", err)
		}
		interval = f
	}
	if !(interval > 0) || math.IsInf(interval, 0) {
		return pipeline.Request{}, "", "", errors.New("contour interval must be positive")
	}

	width, w := parseSize(q.Get("width"), "width", out.Width)
	height, h := parseSize(q.Get("height"), "height", out.Height)
	warns = appendNonEmpty(warns, w, h)

	req := pipeline.Request{
		BBox:       bb,
		Interval:   interval,
		Width:      width,
		Height:     height,
		Background: pipeline.NormalizeBackground(q.Get("bg"), out.Background),
		SizeSet:    true,
	}

	if v := strings.TrimSpace(q.Get("roads")); v != "" {
		roads, err := strconv.ParseBool(v)
		if err != nil {
			return pipeline.Request{}, "", "", fmt.Errorf("roads: %w", err)
		}
		req.Roads = roads
	}

	if v := strings.TrimSpace(q.Get("zoom")); v != "" {
		z, err := strconv.Atoi(v)
		if err != nil {
			return pipeline.Request{}, "", "", fmt.Errorf("zoom: %w", err)
		}
		req.Zoom = &z
	}

	format := strings.ToLower(strings.TrimSpace(q.Get("format")))
	switch format {
	case "":
		format = FormatJSON
	case FormatJSON, FormatRaw:
	default:
		return pipeline.Request{}, "", "", fmt.Errorf("unsupported format %q (json or raw)", format)
	}

	return req, format, strings.Join(warns, "; "), nil
}

// parseSize accepts "800" and "800.0"; anything else yields def.
func parseSize(raw, name string, def int) (int, string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, ""
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return def, fmt.Sprintf("unparsable %s %q; using %d", name, raw, def)
	}
	return int(f), ""
}

func appendNonEmpty(dst []string, vals ...string) []string {
	for _, v := range vals {
		if v != "" {
			dst = append(dst, v)
		}
	}
	return dst
}

type errorBody struct {
	Error string `json:"error"`
	Stage string `json:"stage,omitempty"`
	Kind  string `json:"kind"`
}

func writeError(w http.ResponseWriter, status int, stage, kind string, err error) {
	writeJSON(w, status, errorBody{Error: err.Error(), Stage: stage, Kind: kind})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeRaw streams the raster as little-endian float32, row-major.
func writeRaw(w http.ResponseWriter, logger *slog.Logger, res *pipeline.Result) {
	h := w.Header()
	h.Set("Content-Type", "application/octet-stream")
	h.Set("X-Raster-Width", strconv.Itoa(res.Raster.Width))
	h.Set("X-Raster-Height", strconv.Itoa(res.Raster.Height))
	h.Set("X-Degraded-Tiles", strconv.Itoa(res.Degraded))
	h.Set("X-Zoom", strconv.Itoa(res.Zoom))
	h.Set("Content-Length", strconv.Itoa(4*len(res.Raster.Data)))
	if res.OverlayWarning != "" {
		h.Set("X-Overlay-Warning", res.OverlayWarning)
	}
	w.WriteHeader(http.StatusOK)
	if err := binary.Write(w, binary.LittleEndian, res.Raster.Data); err != nil {
		logger.Warn("write raster", "err", err)
	}
}
