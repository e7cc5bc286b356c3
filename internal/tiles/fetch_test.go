package tiles

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mohammed-shakir/terrain-contours/internal/core/model"
)

func TestHTTPFetcher_TemplateAndBody(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte("tile-bytes"))
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f, err := NewHTTPFetcher(logger, srv.Client(), srv.URL+"/terrarium/{z}/{x}/{y}.png")
	if err != nil {
		t.Fatalf("NewHTTPFetcher: %v", err)
	}
	b, err := f.Fetch(context.Background(), model.NewTile(12, 2200, 1300))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(b) != "tile-bytes" {
		t.Fatalf("body=%q", b)
	}
	if gotPath != "/terrarium/12/2200/1300.png" {
		t.Fatalf("path=%q", gotPath)
	}
}

func TestHTTPFetcher_NonSuccessIsFetchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	f, _ := NewHTTPFetcher(nil, srv.Client(), srv.URL+"/{z}/{x}/{y}")
	_, err := f.Fetch(context.Background(), model.NewTile(1, 0, 0))
	if !errors.Is(err, ErrTileFetch) {
		t.Fatalf("err=%v want ErrTileFetch", err)
	}
	if Classify(err) != KindFetch {
		t.Fatalf("kind=%s want %s", Classify(err), KindFetch)
	}
}

func TestHTTPFetcher_DeadlineIsTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	f, _ := NewHTTPFetcher(nil, srv.Client(), srv.URL+"/{z}/{x}/{y}")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := f.Fetch(ctx, model.NewTile(1, 1, 1))
	if !errors.Is(err, ErrTileFetchTimeout) {
		t.Fatalf("err=%v want ErrTileFetchTimeout", err)
	}
	if Classify(err) != KindTimeout {
		t.Fatalf("kind=%s want %s", Classify(err), KindTimeout)
	}
}

func TestHTTPFetcher_CancelIsCanceled(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	}))
	defer srv.Close()

	f, _ := NewHTTPFetcher(nil, srv.Client(), srv.URL+"/{z}/{x}/{y}")
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()
	_, err := f.Fetch(ctx, model.NewTile(1, 1, 1))
	if !errors.Is(err, ErrTileFetch) || !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v want ErrTileFetch wrapping context.Canceled", err)
	}
	if Classify(err) != KindCanceled {
		t.Fatalf("kind=%s want %s", Classify(err), KindCanceled)
	}
}

func TestClassifyTransport_KeepsCause(t *testing.T) {
	tl := model.NewTile(3, 4, 5)
	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	cases := []struct {
		name string
		ctx  context.Context
		err  error
		want string
	}{
		{"canceled context, opaque error", canceled, errors.New("connection reset"), KindCanceled},
		{"canceled error", context.Background(), fmt.Errorf("get: %w", context.Canceled), KindCanceled},
		{"deadline error", context.Background(), fmt.Errorf("get: %w", context.DeadlineExceeded), KindTimeout},
		{"plain failure", context.Background(), errors.New("connection refused"), KindFetch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := classifyTransport(tc.ctx, tl, tc.err)
			if got := Classify(err); got != tc.want {
				t.Fatalf("got=%s want=%s (%v)", got, tc.want, err)
			}
		})
	}
}

func TestNewHTTPFetcher_RejectsTemplateWithoutPlaceholders(t *testing.T) {
	if _, err := NewHTTPFetcher(nil, nil, "http://example.com/{z}/{x}.png"); err == nil {
		t.Fatal("expected error for missing {y}")
	}
}

func TestClassify(t *testing.T) {
	cases := map[string]error{
		KindDecode:   fmt.Errorf("wrap: %w", ErrTileDecode),
		KindTimeout:  context.DeadlineExceeded,
		KindCanceled: context.Canceled,
		KindFetch:    errors.New("boom"),
	}
	for want, err := range cases {
		if got := Classify(err); got != want {
			t.Fatalf("Classify(%v)=%s want %s", err, got, want)
		}
	}
}
