package tiles

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mohammed-shakir/terrain-contours/internal/core/model"
	"github.com/mohammed-shakir/terrain-contours/internal/core/observability"
)

const DefaultURLTemplate = "https://elevation-tiles-prod.s3.amazonaws.com/terrarium/{z}/{x}/{y}.png"

var (
	ErrTileFetch        = errors.New("tile fetch failure")
	ErrTileFetchTimeout = errors.New("tile fetch timeout")
)

// Fetcher returns the raw encoded bytes of one tile.
type Fetcher interface {
	Fetch(ctx context.Context, t model.Tile) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, t model.Tile) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, t model.Tile) ([]byte, error) { return f(ctx, t) }

// HTTPFetcher GETs tiles from a {z}/{x}/{y} URL template.
type HTTPFetcher struct {
	logger   *slog.Logger
	client   *http.Client
	template string
	maxBytes int64
	startNow func() time.Time // for tests
}

func NewHTTPFetcher(logger *slog.Logger, client *http.Client, template string) (*HTTPFetcher, error) {
	if template == "" {
		template = DefaultURLTemplate
	}
	for _, ph := range []string{"{z}", "{x}", "{y}"} {
		if !strings.Contains(template, ph) {
			return nil, fmt.Errorf("tile url template %q is missing %s", template, ph)
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{
		logger:   logger,
		client:   client,
		template: template,
		maxBytes: 16 << 20,
		startNow: time.Now,
	}, nil
}

func (f *HTTPFetcher) URL(t model.Tile) string {
	return strings.NewReplacer(
		"{z}", strconv.Itoa(int(t.Z)),
		"{x}", strconv.FormatUint(uint64(t.X), 10),
		"{y}", strconv.FormatUint(uint64(t.Y), 10),
	).Replace(f.template)
}

func (f *HTTPFetcher) Fetch(ctx context.Context, t model.Tile) ([]byte, error) {
	u := f.URL(t)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrTileFetch, err)
	}

	start := f.startNow()
	resp, err := f.client.Do(req)
	observability.ObserveUpstreamLatency("tiles", time.Since(start).Seconds())
	if err != nil {
		return nil, classifyTransport(ctx, t, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			f.logger.Warn("close tile response body", "err", cerr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: tile %d/%d/%d status=%d body=%q",
			ErrTileFetch, t.Z, t.X, t.Y, resp.StatusCode, strings.TrimSpace(string(b)))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil, classifyTransport(ctx, t, err)
	}
	f.logger.Debug("tile fetched", "z", t.Z, "x", t.X, "y", t.Y, "bytes", len(body))
	return body, nil
}

// classifyTransport keeps the context cause in the chain so Classify can
// tell a timeout or cancellation from an upstream failure.
func classifyTransport(ctx context.Context, t model.Tile, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: tile %d/%d/%d: %w", ErrTileFetchTimeout, t.Z, t.X, t.Y, err)
	case errors.Is(ctx.Err(), context.Canceled) && !errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: tile %d/%d/%d: %w: %v", ErrTileFetch, t.Z, t.X, t.Y, context.Canceled, err)
	default:
		return fmt.Errorf("%w: tile %d/%d/%d: %w", ErrTileFetch, t.Z, t.X, t.Y, err)
	}
}

// Per-tile failure kinds.
const (
	KindFetch    = "tile_fetch_failure"
	KindDecode   = "tile_decode_error"
	KindTimeout  = "tile_fetch_timeout"
	KindCanceled = "tile_canceled"
)

// Classify maps a per-tile error to its failure kind.
func Classify(err error) string {
	switch {
	case errors.Is(err, ErrTileFetchTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, ErrTileDecode):
		return KindDecode
	default:
		return KindFetch
	}
}
