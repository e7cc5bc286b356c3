package overlay

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mohammed-shakir/terrain-contours/internal/core/model"
)

const overpassBody = `{"elements":[
 {"type":"way","id":11,"tags":{"name":"Main St","highway":"primary"},
  "geometry":[{"lat":59.3,"lon":18.0},{"lat":59.31,"lon":18.02}]},
 {"type":"way","id":12,"geometry":[{"lat":59.3,"lon":18.0}]},
 {"type":"node","id":13}
]}`

func TestBuildQuery(t *testing.T) {
	bb := model.BBox{MinLon: 18, MinLat: 59.3, MaxLon: 18.1, MaxLat: 59.4}
	q := BuildQuery(bb, "", 0)
	want := `[out:json][timeout:25];(way["highway"](59.3,18,59.4,18.1););out geom;`
	if q != want {
		t.Fatalf("query=%q want %q", q, want)
	}
	if q := BuildQuery(bb, `["waterway"]`, 40*time.Second); !strings.Contains(q, `[timeout:40]`) || !strings.Contains(q, `way["waterway"]`) {
		t.Fatalf("custom query=%q", q)
	}
}

func TestOverpass_Lines(t *testing.T) {
	var gotBody, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody, gotMethod = string(b), r.Method
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(overpassBody))
	}))
	defer srv.Close()

	o := NewOverpass(nil, srv.Client(), OverpassConfig{Endpoint: srv.URL})
	lines, err := o.Lines(context.Background(), model.BBox{MinLon: 18, MinLat: 59.3, MaxLon: 18.1, MaxLat: 59.4})
	if err != nil {
		t.Fatalf("lines: %v", err)
	}
	if gotMethod != http.MethodPost || !strings.Contains(gotBody, `way["highway"](59.3,18,59.4,18.1)`) {
		t.Fatalf("request %s %q", gotMethod, gotBody)
	}
	if len(lines) != 1 {
		t.Fatalf("lines=%d want 1", len(lines))
	}
	l := lines[0]
	if l.ID != 11 || l.Name != "Main St" || len(l.Points) != 2 {
		t.Fatalf("line=%+v", l)
	}
	if l.Points[0].Lon() != 18.0 || l.Points[0].Lat() != 59.3 {
		t.Fatalf("first point=%v want lon/lat order", l.Points[0])
	}
}

func TestOverpass_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	o := NewOverpass(nil, srv.Client(), OverpassConfig{Endpoint: srv.URL})
	_, err := o.Lines(context.Background(), model.BBox{MinLon: 0, MinLat: 0, MaxLon: 1, MaxLat: 1})
	if !errors.Is(err, ErrOverlaySource) || !strings.Contains(err.Error(), "429") {
		t.Fatalf("err=%v want ErrOverlaySource with status", err)
	}
}

func TestOverpass_BadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>"))
	}))
	defer srv.Close()

	o := NewOverpass(nil, srv.Client(), OverpassConfig{Endpoint: srv.URL})
	if _, err := o.Lines(context.Background(), model.BBox{MinLon: 0, MinLat: 0, MaxLon: 1, MaxLat: 1}); !errors.Is(err, ErrOverlaySource) {
		t.Fatalf("err=%v want ErrOverlaySource", err)
	}
}
