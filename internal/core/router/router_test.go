package router

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/terrain-contours/internal/core/config"
	"github.com/mohammed-shakir/terrain-contours/internal/core/model"
	"github.com/mohammed-shakir/terrain-contours/internal/mosaic"
	"github.com/mohammed-shakir/terrain-contours/internal/pipeline"
)

type fakeRenderer struct {
	lastReq pipeline.Request
	calls   int
	res     *pipeline.Result
	err     error
}

func (f *fakeRenderer) Render(_ context.Context, req pipeline.Request) (*pipeline.Result, error) {
	f.calls++
	f.lastReq = req
	return f.res, f.err
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func okResult() *pipeline.Result {
	r := model.NewRaster(2, 2)
	r.Data = []float32{1.5, 2.5, float32(math.NaN()), 4}
	return &pipeline.Result{
		BBox:       model.BBox{MinLon: 7, MinLat: 46, MaxLon: 8, MaxLat: 47},
		Raster:     r,
		Levels:     model.LevelSet{Interval: 1, Min: 1.5, Max: 4, Levels: []float64{1, 2, 3, 4}},
		Lines:      []model.PixelLine{{ID: 1, Points: orb.LineString{{0, 0}, {1, 1}}}},
		Width:      2,
		Height:     2,
		Background: "#ffffff",
		Zoom:       9,
		Tiles:      4,
		Degraded:   1,
		Failures: []mosaic.TileFailure{{
			Tile: model.NewTile(9, 266, 179), Kind: "tile_fetch_failure", Err: errors.New("status=500"),
		}},
	}
}

func get(t *testing.T, h http.HandlerFunc, params url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/render?"+params.Encode(), nil)
	rr := httptest.NewRecorder()
	h(rr, req)
	return rr
}

func TestHandleRender_JSON(t *testing.T) {
	rd := &fakeRenderer{res: okResult()}
	h := HandleRender(testLogger(), config.Defaults().Output, rd)

	rr := get(t, h, url.Values{
		"bbox": {"7,46,8,47"}, "interval": {"25"}, "width": {"800"}, "height": {"600.0"},
		"bg": {"000000"}, "roads": {"true"}, "zoom": {"9"},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	q := rd.lastReq
	if q.Interval != 25 || q.Width != 800 || q.Height != 600 || q.Background != "#000000" || !q.Roads {
		t.Fatalf("parsed request %+v", q)
	}
	if q.Zoom == nil || *q.Zoom != 9 {
		t.Fatalf("zoom=%v", q.Zoom)
	}

	var body Response
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.DegradedTiles != 1 || len(body.Failures) != 1 || body.Failures[0].X != 266 {
		t.Fatalf("failures=%+v", body.Failures)
	}
	if body.Stats.Finite != 3 || body.Stats.Total != 4 || body.Stats.Max != 4 {
		t.Fatalf("stats=%+v", body.Stats)
	}
	if len(body.Levels.Levels) != 4 || len(body.Lines) != 1 {
		t.Fatalf("levels=%v lines=%v", body.Levels, body.Lines)
	}
}

func TestHandleRender_Defaults(t *testing.T) {
	rd := &fakeRenderer{res: okResult()}
	out := config.Defaults().Output
	h := HandleRender(testLogger(), out, rd)

	rr := get(t, h, url.Values{"bbox": {"7,46,8,47"}, "width": {"NaN"}})
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	q := rd.lastReq
	if q.Width != out.Width || q.Height != out.Height || q.Interval != out.Interval || q.Roads || q.Zoom != nil {
		t.Fatalf("defaults not applied: %+v", q)
	}
	if q.Background != "#ffffff" {
		t.Fatalf("background=%q", q.Background)
	}
}

func TestHandleRender_Raw(t *testing.T) {
	rd := &fakeRenderer{res: okResult()}
	h := HandleRender(testLogger(), config.Defaults().Output, rd)

	rr := get(t, h, url.Values{"bbox": {"7,46,8,47"}, "format": {"raw"}})
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	if rr.Header().Get("X-Raster-Width") != "2" || rr.Header().Get("X-Raster-Height") != "2" ||
		rr.Header().Get("X-Degraded-Tiles") != "1" {
		t.Fatalf("headers=%v", rr.Header())
	}
	b := rr.Body.Bytes()
	if len(b) != 16 {
		t.Fatalf("body len=%d want 16", len(b))
	}
	if got := math.Float32frombits(binary.LittleEndian.Uint32(b[4:8])); got != 2.5 {
		t.Fatalf("second sample=%v want 2.5", got)
	}
	if got := math.Float32frombits(binary.LittleEndian.Uint32(b[8:12])); !math.IsNaN(float64(got)) {
		t.Fatalf("third sample=%v want NaN", got)
	}
}

func TestHandleRender_BadInput(t *testing.T) {
	cases := []struct {
		name   string
		params url.Values
		kind   string
	}{
		{"missing bbox", url.Values{}, pipeline.KindInvalidBBox},
		{"three values", url.Values{"bbox": {"1,2,3"}}, pipeline.KindInvalidBBox},
		{"inverted", url.Values{"bbox": {"8,46,7,47"}}, pipeline.KindInvalidBBox},
		{"zero interval", url.Values{"bbox": {"7,46,8,47"}, "interval": {"0"}}, pipeline.KindInvalidParameters},
		{"bad roads", url.Values{"bbox": {"7,46,8,47"}, "roads": {"maybe"}}, pipeline.KindInvalidParameters},
		{"bad format", url.Values{"bbox": {"7,46,8,47"}, "format": {"png"}}, pipeline.KindInvalidParameters},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rd := &fakeRenderer{res: okResult()}
			rr := get(t, HandleRender(testLogger(), config.Defaults().Output, rd), tc.params)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status=%d want 400", rr.Code)
			}
			var body errorBody
			_ = json.Unmarshal(rr.Body.Bytes(), &body)
			if body.Kind != tc.kind {
				t.Fatalf("kind=%q want %q", body.Kind, tc.kind)
			}
			if rd.calls != 0 {
				t.Fatalf("renderer called for invalid input")
			}
		})
	}
}

func TestParseRenderRequest_ExplicitZeroSizeIsKept(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/render?bbox=7,46,8,47&width=0&height=0", nil)
	req, _, warn, err := ParseRenderRequest(r, config.Defaults().Output)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if warn != "" {
		t.Fatalf("unexpected warning %q", warn)
	}
	if req.Width != 0 || req.Height != 0 || !req.SizeSet {
		t.Fatalf("got=%dx%d set=%v want 0x0 set=true", req.Width, req.Height, req.SizeSet)
	}

	r = httptest.NewRequest(http.MethodGet, "/render?bbox=7,46,8,47", nil)
	req, _, _, err = ParseRenderRequest(r, config.Defaults().Output)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if req.Width != 1600 || req.Height != 1200 {
		t.Fatalf("got=%dx%d want 1600x1200", req.Width, req.Height)
	}
}

func TestHandleRender_StageErrorStatus(t *testing.T) {
	rd := &fakeRenderer{err: &pipeline.StageError{
		Stage: pipeline.StageAssemble, Kind: pipeline.KindMosaicEmpty, Err: mosaic.ErrMosaicEmpty,
	}}
	rr := get(t, HandleRender(testLogger(), config.Defaults().Output, rd), url.Values{"bbox": {"7,46,8,47"}})
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status=%d want 502", rr.Code)
	}
	var body errorBody
	_ = json.Unmarshal(rr.Body.Bytes(), &body)
	if body.Stage != pipeline.StageAssemble || body.Kind != pipeline.KindMosaicEmpty {
		t.Fatalf("body=%+v", body)
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[string]int{
		pipeline.KindInvalidParameters: http.StatusBadRequest,
		pipeline.KindNoTilesFound:      http.StatusUnprocessableEntity,
		pipeline.KindNoFiniteElevation: http.StatusUnprocessableEntity,
		pipeline.KindTooManyLevels:     http.StatusUnprocessableEntity,
		pipeline.KindMosaicEmpty:       http.StatusBadGateway,
		pipeline.KindCanceled:          StatusClientClosedRequest,
		pipeline.KindTimeout:           http.StatusRequestTimeout,
		"something":                    http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := StatusFor(kind); got != want {
			t.Fatalf("StatusFor(%q)=%d want %d", kind, got, want)
		}
	}
}
