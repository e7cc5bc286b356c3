package overlay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/terrain-contours/internal/core/model"
	"github.com/mohammed-shakir/terrain-contours/internal/core/observability"
)

const (
	DefaultOverpassURL  = "https://overpass-api.de/api/interpreter"
	DefaultFilter       = `["highway"]`
	DefaultQueryTimeout = 25 * time.Second
)

var ErrOverlaySource = errors.New("overlay source failure")

// Source returns the linear features intersecting a bbox.
type Source interface {
	Lines(ctx context.Context, bb model.BBox) ([]model.VectorLine, error)
}

// BuildQuery renders an Overpass QL query for ways matching filter inside bb.
// Overpass expects the bbox as south,west,north,east.
func BuildQuery(bb model.BBox, filter string, timeout time.Duration) string {
	if strings.TrimSpace(filter) == "" {
		filter = DefaultFilter
	}
	secs := int(timeout / time.Second)
	if secs <= 0 {
		secs = int(DefaultQueryTimeout / time.Second)
	}
	return fmt.Sprintf("[out:json][timeout:%d];(way%s(%g,%g,%g,%g););out geom;",
		secs, filter, bb.MinLat, bb.MinLon, bb.MaxLat, bb.MaxLon)
}

type Overpass struct {
	logger       *slog.Logger
	client       *http.Client
	endpoint     string
	filter       string
	queryTimeout time.Duration
	maxBytes     int64
}

type OverpassConfig struct {
	Endpoint     string
	Filter       string
	QueryTimeout time.Duration
}

func NewOverpass(logger *slog.Logger, client *http.Client, cfg OverpassConfig) *Overpass {
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = http.DefaultClient
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultOverpassURL
	}
	if cfg.Filter == "" {
		cfg.Filter = DefaultFilter
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = DefaultQueryTimeout
	}
	return &Overpass{
		logger:       logger,
		client:       client,
		endpoint:     cfg.Endpoint,
		filter:       cfg.Filter,
		queryTimeout: cfg.QueryTimeout,
		maxBytes:     64 << 20,
	}
}

func (o *Overpass) Filter() string { return o.filter }

type overpassResponse struct {
	Elements []struct {
		Type     string            `json:"type"`
		ID       int64             `json:"id"`
		Tags     map[string]string `json:"tags"`
		Geometry []struct {
			Lat float64 `json:"lat"`
			Lon float64 `json:"lon"`
		} `json:"geometry"`
	} `json:"elements"`
}

func (o *Overpass) Lines(ctx context.Context, bb model.BBox) ([]model.VectorLine, error) {
	q := BuildQuery(bb, o.filter, o.queryTimeout)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, strings.NewReader(q))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrOverlaySource, err)
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := o.client.Do(req)
	observability.ObserveUpstreamLatency("overpass", time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOverlaySource, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			o.logger.Warn("close overpass response body", "err", cerr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status=%d body=%q", ErrOverlaySource, resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var payload overpassResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, o.maxBytes)).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrOverlaySource, err)
	}

	lines := make([]model.VectorLine, 0, len(payload.Elements))
	for _, el := range payload.Elements {
		if el.Type != "way" || len(el.Geometry) < 2 {
			continue
		}
		ls := make(orb.LineString, len(el.Geometry))
		for i, g := range el.Geometry {
			ls[i] = orb.Point{g.Lon, g.Lat}
		}
		lines = append(lines, model.VectorLine{ID: el.ID, Name: el.Tags["name"], Points: ls})
	}
	o.logger.Debug("overpass lines fetched", "bbox", bb.String(), "filter", o.filter, "lines", len(lines))
	return lines, nil
}
