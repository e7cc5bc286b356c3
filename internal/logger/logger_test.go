package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func decodeLine(t *testing.T, b []byte) map[string]any {
	t.Helper()
	var m map[string]any
	line := bytes.TrimSpace(b)
	if i := bytes.LastIndexByte(line, '\n'); i >= 0 {
		line = line[i+1:]
	}
	if err := json.Unmarshal(line, &m); err != nil {
		t.Fatalf("decode %q: %v", line, err)
	}
	return m
}

func TestBuild_FieldNamesAndComponent(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "info", Component: "contourd"}, &buf)
	zl.Info().Msg("hello")

	m := decodeLine(t, buf.Bytes())
	for _, k := range []string{"timestamp", "level", "msg", "component"} {
		if _, ok := m[k]; !ok {
			t.Fatalf("missing %q in %v", k, m)
		}
	}
	if m["component"] != "contourd" || m["msg"] != "hello" {
		t.Fatalf("fields=%v", m)
	}
}

func TestSlogBridge_ContextAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "debug"}, &buf)
	sl := NewSlog(&zl).With("stage", "assemble").WithGroup("tile")

	ctx := WithBBox(WithRequestID(context.Background(), "req-1"), "1,2,3,4")
	sl.WarnContext(ctx, "degraded", "z", 12, "err", errors.New("boom"))

	m := decodeLine(t, buf.Bytes())
	if m["request_id"] != "req-1" || m["bbox"] != "1,2,3,4" {
		t.Fatalf("context fields missing: %v", m)
	}
	if m["stage"] != "assemble" || m["tile.z"] != float64(12) || m["tile.err"] != "boom" {
		t.Fatalf("attrs=%v", m)
	}
	if m["level"] != "warn" {
		t.Fatalf("level=%v", m["level"])
	}
}

func TestSlogBridge_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "warn"}, &buf)
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	NewSlog(&zl).Info("quiet")
	if buf.Len() != 0 {
		t.Fatalf("info logged at warn level: %s", buf.String())
	}
}

func TestBuild_WritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contourd.log")
	var buf bytes.Buffer
	zl := Build(Config{Level: "info", File: FileConfig{Path: path}}, &buf)
	zl.Info().Msg("to file")

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(b), `"msg":"to file"`) || !strings.Contains(buf.String(), "to file") {
		t.Fatalf("file=%q stdout=%q", b, buf.String())
	}
}

func TestFromContext_NilParentDiscards(t *testing.T) {
	l := FromContext(WithComponent(context.Background(), "x"), nil)
	l.Info().Msg("dropped")
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug": zerolog.DebugLevel, " WARN ": zerolog.WarnLevel, "error": zerolog.ErrorLevel, "": zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q)=%v want %v", in, got, want)
		}
	}
}
