// Package config loads service settings from an optional YAML file and
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mohammed-shakir/terrain-contours/internal/invalidation/kafkaconsumer"
	"github.com/mohammed-shakir/terrain-contours/internal/logger"
	"github.com/mohammed-shakir/terrain-contours/internal/metrics"
	"github.com/mohammed-shakir/terrain-contours/internal/overlay"
	"github.com/mohammed-shakir/terrain-contours/internal/projection"
	"github.com/mohammed-shakir/terrain-contours/internal/tiles"
)

type TilesCfg struct {
	URLTemplate string        `yaml:"url_template"`
	Encoding    string        `yaml:"encoding"`
	Size        int           `yaml:"size"`
	Workers     int           `yaml:"workers"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxTiles    int           `yaml:"max_tiles"`
}

type ZoomCfg struct {
	Rules    []projection.ZoomRule `yaml:"rules"`
	Fallback int                   `yaml:"fallback"`
}

type LevelsCfg struct {
	AutoDivisor     float64 `yaml:"auto_divisor"`
	MinAutoInterval float64 `yaml:"min_auto_interval"`
	MaxLevels       int     `yaml:"max_levels"`
}

// OutputCfg bounds and defaults the requested canvas.
type OutputCfg struct {
	MinSize    int     `yaml:"min_size"`
	MaxSize    int     `yaml:"max_size"`
	Width      int     `yaml:"width"`
	Height     int     `yaml:"height"`
	Background string  `yaml:"background"`
	Interval   float64 `yaml:"interval"`
}

type OverlayCfg struct {
	Enabled      bool          `yaml:"enabled"`
	URL          string        `yaml:"url"`
	Filter       string        `yaml:"filter"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
	Timeout      time.Duration `yaml:"timeout"`
	CacheMaxCost int64         `yaml:"cache_max_cost"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
}

type CacheCfg struct {
	Enabled      bool          `yaml:"enabled"`
	RedisAddr    string        `yaml:"redis_addr"`
	OpTimeout    time.Duration `yaml:"op_timeout"`
	TTL          time.Duration `yaml:"ttl"`
	HotTTL       time.Duration `yaml:"hot_ttl"`
	L1Size       int           `yaml:"l1_size"`
	HotThreshold float64       `yaml:"hot_threshold"`
	HotHalfLife  time.Duration `yaml:"hot_half_life"`
	HotRes       int           `yaml:"hot_res"`
}

type EventsCfg struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	Queue   int      `yaml:"queue"`
}

type InvalidationCfg struct {
	Enabled              bool `yaml:"enabled"`
	kafkaconsumer.Config `yaml:",inline"`
}

type Config struct {
	Addr         string          `yaml:"addr"`
	Log          logger.Config   `yaml:"log"`
	Tiles        TilesCfg        `yaml:"tiles"`
	Zoom         ZoomCfg         `yaml:"zoom"`
	Levels       LevelsCfg       `yaml:"levels"`
	Output       OutputCfg       `yaml:"output"`
	Overlay      OverlayCfg      `yaml:"overlay"`
	Cache        CacheCfg        `yaml:"cache"`
	Events       EventsCfg       `yaml:"events"`
	Invalidation InvalidationCfg `yaml:"invalidation"`
	Metrics      metrics.Config  `yaml:"metrics"`
}

func Defaults() Config {
	return Config{
		Addr: ":8090",
		Log:  logger.Config{Level: "info", Component: "contourd"},
		Tiles: TilesCfg{
			URLTemplate: tiles.DefaultURLTemplate,
			Encoding:    "terrarium",
			Size:        projection.DefaultTileSize,
			Workers:     8,
			Timeout:     30 * time.Second,
			MaxTiles:    1024,
		},
		Zoom: ZoomCfg{
			Rules:    projection.DefaultZoomRules(),
			Fallback: projection.DefaultFallbackZoom,
		},
		Levels: LevelsCfg{AutoDivisor: 15, MinAutoInterval: 1, MaxLevels: 1000},
		Output: OutputCfg{
			MinSize: 100, MaxSize: 5000,
			Width: 1600, Height: 1200,
			Background: "#ffffff",
			Interval:   10,
		},
		Overlay: OverlayCfg{
			Enabled:      true,
			URL:          overlay.DefaultOverpassURL,
			Filter:       overlay.DefaultFilter,
			QueryTimeout: overlay.DefaultQueryTimeout,
			Timeout:      30 * time.Second,
			CacheMaxCost: 1 << 22,
			CacheTTL:     10 * time.Minute,
		},
		Cache: CacheCfg{
			RedisAddr:    "localhost:6379",
			OpTimeout:    250 * time.Millisecond,
			TTL:          24 * time.Hour,
			HotTTL:       7 * 24 * time.Hour,
			L1Size:       512,
			HotThreshold: 10,
			HotHalfLife:  5 * time.Minute,
			HotRes:       6,
		},
		Events: EventsCfg{
			Brokers: []string{"localhost:9092"},
			Topic:   "render-events",
			Queue:   1024,
		},
		Invalidation: InvalidationCfg{
			Config: kafkaconsumer.Config{
				Brokers: []string{"localhost:9092"},
				Topic:   "tile-invalidation",
				GroupID: "tile-cache-invalidator",
			},
		},
		Metrics: metrics.Config{Addr: ":9090", Path: "/metrics"},
	}
}

// FromEnv returns the defaults with environment overrides applied.
// Malformed values fall back to the default.
func FromEnv() Config {
	c := Defaults()
	_ = applyEnv(&c)
	return c
}

// Load reads path (when non-empty), then applies environment overrides
// and validates the result.
func Load(path string) (Config, error) {
	c := Defaults()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&c); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func applyEnv(c *Config) error {
	c.Addr = getenv("ADDR", c.Addr)

	c.Log.Level = getenv("LOG_LEVEL", c.Log.Level)
	c.Log.Console = getbool("LOG_CONSOLE", c.Log.Console)
	c.Log.SampleN = getint("LOG_SAMPLE_N", c.Log.SampleN)
	c.Log.File.Path = getenv("LOG_FILE", c.Log.File.Path)

	c.Tiles.URLTemplate = getenv("TILE_URL_TEMPLATE", c.Tiles.URLTemplate)
	c.Tiles.Encoding = getenv("TILE_ENCODING", c.Tiles.Encoding)
	c.Tiles.Size = getint("TILE_SIZE", c.Tiles.Size)
	c.Tiles.Workers = getint("TILE_WORKERS", c.Tiles.Workers)
	c.Tiles.Timeout = getduration("TILE_TIMEOUT", c.Tiles.Timeout)
	c.Tiles.MaxTiles = getint("MAX_TILES", c.Tiles.MaxTiles)

	if v := os.Getenv("ZOOM_THRESHOLDS"); v != "" {
		rules, err := projection.ParseZoomRules(v)
		if err != nil {
			return fmt.Errorf("ZOOM_THRESHOLDS: %w", err)
		}
		c.Zoom.Rules = rules
	}
	c.Zoom.Fallback = getint("ZOOM_FALLBACK", c.Zoom.Fallback)

	c.Levels.AutoDivisor = getfloat("AUTO_INTERVAL_DIVISOR", c.Levels.AutoDivisor)
	c.Levels.MinAutoInterval = getfloat("MIN_AUTO_INTERVAL", c.Levels.MinAutoInterval)
	c.Levels.MaxLevels = getint("MAX_LEVELS", c.Levels.MaxLevels)

	c.Output.Width = getint("DEFAULT_WIDTH", c.Output.Width)
	c.Output.Height = getint("DEFAULT_HEIGHT", c.Output.Height)
	c.Output.Background = getenv("DEFAULT_BACKGROUND", c.Output.Background)
	c.Output.Interval = getfloat("DEFAULT_INTERVAL", c.Output.Interval)

	c.Overlay.Enabled = getbool("OVERLAY_ENABLED", c.Overlay.Enabled)
	c.Overlay.URL = getenv("OVERPASS_URL", c.Overlay.URL)
	c.Overlay.Filter = getenv("OVERPASS_FILTER", c.Overlay.Filter)
	c.Overlay.Timeout = getduration("OVERLAY_TIMEOUT", c.Overlay.Timeout)
	c.Overlay.CacheTTL = getduration("OVERLAY_CACHE_TTL", c.Overlay.CacheTTL)

	c.Cache.Enabled = getbool("CACHE_ENABLED", c.Cache.Enabled)
	c.Cache.RedisAddr = getenv("REDIS_ADDR", c.Cache.RedisAddr)
	c.Cache.OpTimeout = getduration("CACHE_OP_TIMEOUT", c.Cache.OpTimeout)
	c.Cache.TTL = getduration("CACHE_TTL", c.Cache.TTL)
	c.Cache.HotTTL = getduration("CACHE_TTL_HOT", c.Cache.HotTTL)
	c.Cache.L1Size = getint("CACHE_L1_SIZE", c.Cache.L1Size)
	c.Cache.HotThreshold = getfloat("HOT_THRESHOLD", c.Cache.HotThreshold)
	c.Cache.HotHalfLife = getduration("HOT_HALF_LIFE", c.Cache.HotHalfLife)
	c.Cache.HotRes = getint("H3_RES", c.Cache.HotRes)

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Events.Brokers = SplitCSV(v)
		c.Invalidation.Brokers = SplitCSV(v)
	}
	c.Events.Enabled = getbool("EVENTS_ENABLED", c.Events.Enabled)
	c.Events.Topic = getenv("EVENTS_TOPIC", c.Events.Topic)
	c.Events.Queue = getint("EVENTS_QUEUE", c.Events.Queue)

	c.Invalidation.Enabled = getbool("INVALIDATION_ENABLED", c.Invalidation.Enabled)
	c.Invalidation.Topic = getenv("KAFKA_TOPIC", c.Invalidation.Topic)
	c.Invalidation.GroupID = getenv("KAFKA_GROUP_ID", c.Invalidation.GroupID)

	c.Metrics.Enabled = getbool("METRICS_ENABLED", c.Metrics.Enabled)
	c.Metrics.Addr = getenv("METRICS_ADDR", c.Metrics.Addr)
	return nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Tiles.Size <= 0 {
		errs = append(errs, fmt.Errorf("tiles.size must be > 0, got %d", c.Tiles.Size))
	}
	if c.Tiles.Workers <= 0 {
		errs = append(errs, fmt.Errorf("tiles.workers must be > 0, got %d", c.Tiles.Workers))
	}
	if !strings.Contains(c.Tiles.URLTemplate, "{z}") {
		errs = append(errs, fmt.Errorf("tiles.url_template %q lacks {z}/{x}/{y}", c.Tiles.URLTemplate))
	}
	if c.Zoom.Fallback < 0 || c.Zoom.Fallback > 24 {
		errs = append(errs, fmt.Errorf("zoom.fallback out of range: %d", c.Zoom.Fallback))
	}
	if c.Levels.AutoDivisor <= 0 {
		errs = append(errs, errors.New("levels.auto_divisor must be > 0"))
	}
	o := c.Output
	if o.MinSize <= 0 || o.MinSize > o.MaxSize {
		errs = append(errs, fmt.Errorf("output size limits invalid: [%d, %d]", o.MinSize, o.MaxSize))
	}
	if o.Width < o.MinSize || o.Width > o.MaxSize || o.Height < o.MinSize || o.Height > o.MaxSize {
		errs = append(errs, fmt.Errorf("default output %dx%d outside [%d, %d]", o.Width, o.Height, o.MinSize, o.MaxSize))
	}
	if c.Cache.HotRes < 0 || c.Cache.HotRes > 15 {
		errs = append(errs, fmt.Errorf("cache.hot_res must be within [0, 15], got %d", c.Cache.HotRes))
	}
	return errors.Join(errs...)
}

// SplitCSV splits a comma-separated list, dropping blanks.
func SplitCSV(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
