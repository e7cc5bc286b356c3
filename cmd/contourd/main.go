// Command contourd serves contour render bundles over HTTP.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/mohammed-shakir/terrain-contours/internal/core/config"
	"github.com/mohammed-shakir/terrain-contours/internal/core/health"
	"github.com/mohammed-shakir/terrain-contours/internal/core/httpclient"
	"github.com/mohammed-shakir/terrain-contours/internal/core/observability"
	"github.com/mohammed-shakir/terrain-contours/internal/core/server"
	"github.com/mohammed-shakir/terrain-contours/internal/hotness/expdecay"
	"github.com/mohammed-shakir/terrain-contours/internal/hotness/metricswrap"
	"github.com/mohammed-shakir/terrain-contours/internal/invalidation/kafkaconsumer"
	"github.com/mohammed-shakir/terrain-contours/internal/levels"
	"github.com/mohammed-shakir/terrain-contours/internal/logger"
	"github.com/mohammed-shakir/terrain-contours/internal/metrics"
	"github.com/mohammed-shakir/terrain-contours/internal/mosaic"
	"github.com/mohammed-shakir/terrain-contours/internal/overlay"
	"github.com/mohammed-shakir/terrain-contours/internal/pipeline"
	"github.com/mohammed-shakir/terrain-contours/internal/projection"
	"github.com/mohammed-shakir/terrain-contours/internal/renderevents"
	"github.com/mohammed-shakir/terrain-contours/internal/tilecache"
	"github.com/mohammed-shakir/terrain-contours/internal/tilecache/keys"
	"github.com/mohammed-shakir/terrain-contours/internal/tilecache/redisstore"
	"github.com/mohammed-shakir/terrain-contours/internal/tiles"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "err", err)
		return 1
	}

	zl := logger.Build(cfg.Log, os.Stdout)
	appLog := logger.NewSlog(&zl)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	observability.ExposeBuildInfo(Version)
	if cfg.Metrics.Enabled {
		if cfg.Metrics.Build.Version == "" {
			cfg.Metrics.Build.Version = Version
		}
		p := metrics.Init(cfg.Metrics)
		observability.Init(p.Registerer(), true)
		go func() {
			if err := p.Serve(ctx, appLog); err != nil {
				appLog.Error("metrics server exited", "err", err)
			}
		}()
	}

	appLog.Info("starting contourd",
		"addr", cfg.Addr,
		"version", Version,
		"tiles", cfg.Tiles.URLTemplate,
		"encoding", cfg.Tiles.Encoding,
		"cache", cfg.Cache.Enabled,
		"events", cfg.Events.Enabled,
		"invalidation", cfg.Invalidation.Enabled)

	client := httpclient.NewOutbound(cfg.Tiles.Timeout + 5*time.Second)
	proj := projection.New(cfg.Tiles.Size)

	origin, err := tiles.NewHTTPFetcher(appLog.With("component", "tiles"), client, cfg.Tiles.URLTemplate)
	if err != nil {
		appLog.Error("tile fetcher setup failed", "err", err)
		return 1
	}
	decoder, err := tiles.NewDecoder(cfg.Tiles.Encoding, cfg.Tiles.Size)
	if err != nil {
		appLog.Error("tile decoder setup failed", "err", err)
		return 1
	}

	tracker := expdecay.New(cfg.Cache.HotHalfLife)
	hot := metricswrap.New(tracker, appLog, metricswrap.Config{HotThreshold: cfg.Cache.HotThreshold, LogSample: 0.01})

	var (
		l2     tilecache.Store
		checks []health.Check
	)
	if cfg.Cache.Enabled {
		rc, err := redisstore.New(ctx, cfg.Cache.RedisAddr,
			redisstore.WithPoolSize(cfg.Tiles.Workers*2),
			redisstore.WithOpTimeout(cfg.Cache.OpTimeout))
		if err != nil {
			appLog.Error("redis connect failed", "addr", cfg.Cache.RedisAddr, "err", err)
			return 1
		}
		defer func() { _ = rc.Close() }()
		l2 = rc
		checks = append(checks, health.Check{Name: "redis", Dep: rc})
	}

	cache, err := tilecache.New(appLog.With("component", "tilecache"), origin, l2, hot, tilecache.Config{
		Source:       keys.Source(cfg.Tiles.URLTemplate, cfg.Tiles.Encoding),
		L1Size:       cfg.Cache.L1Size,
		TTL:          cfg.Cache.TTL,
		HotTTL:       cfg.Cache.HotTTL,
		HotThreshold: cfg.Cache.HotThreshold,
		HotRes:       cfg.Cache.HotRes,
		OpTimeout:    cfg.Cache.OpTimeout,
	})
	if err != nil {
		appLog.Error("tile cache setup failed", "err", err)
		return 1
	}

	asm := mosaic.NewAssembler(appLog.With("component", "mosaic"), cache, decoder, mosaic.Config{
		Workers:     cfg.Tiles.Workers,
		TileTimeout: cfg.Tiles.Timeout,
	})

	var lines overlay.Source
	if cfg.Overlay.Enabled {
		op := overlay.NewOverpass(appLog.With("component", "overpass"), httpclient.NewOutbound(cfg.Overlay.Timeout), overlay.OverpassConfig{
			Endpoint:     cfg.Overlay.URL,
			Filter:       cfg.Overlay.Filter,
			QueryTimeout: cfg.Overlay.QueryTimeout,
		})
		cs, err := overlay.NewCachedSource(appLog, op, overlay.CacheConfig{
			MaxCost: cfg.Overlay.CacheMaxCost,
			TTL:     cfg.Overlay.CacheTTL,
			Filter:  op.Filter(),
		})
		if err != nil {
			appLog.Error("overlay cache setup failed", "err", err)
			return 1
		}
		defer cs.Close()
		lines = cs
	}

	var events pipeline.EventSink
	if cfg.Events.Enabled {
		pub, err := renderevents.NewPublisher(appLog.With("component", "renderevents"), cfg.Events.Brokers, cfg.Events.Topic, cfg.Events.Queue)
		if err != nil {
			appLog.Error("render event publisher setup failed", "err", err)
			return 1
		}
		defer func() { _ = pub.Close() }()
		events = pub
	}

	svc := pipeline.New(appLog.With("component", "pipeline"), asm, lines, events, pipeline.Config{
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
		DefaultWidth:   cfg.Output.Width,
		DefaultHeight:  cfg.Output.Height,
		Background:     cfg.Output.Background,
		OverlayTimeout: cfg.Overlay.Timeout,
		HotRes:         cfg.Cache.HotRes,
	})

	var wg sync.WaitGroup
	deps := server.Deps{Renderer: svc, Checks: checks}
	if cfg.Invalidation.Enabled {
		cons := kafkaconsumer.New(cfg.Invalidation.Config, appLog, &zl, cache, proj)
		deps.Consumer = cons
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := cons.Start(ctx); err != nil {
				appLog.Error("invalidation consumer exited", "err", err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		pruneHotness(ctx, appLog, tracker, cfg.Cache.HotHalfLife)
	}()

	err = server.Run(ctx, cfg, appLog, deps)
	stop()
	wg.Wait()
	if err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}

// pruneHotness drops cells that have decayed to nothing so the tracker
// stays bounded by recent traffic.
func pruneHotness(ctx context.Context, log *slog.Logger, t *expdecay.Tracker, every time.Duration) {
	if every <= 0 {
		every = 5 * time.Minute
	}
	tick := time.NewTicker(every)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if n := t.Prune(0.01); n > 0 {
				log.Debug("pruned cold hotness cells", "cells", n, "remaining", t.Size())
				observability.SetHotKeysGauge(t.Size())
			}
			if top := t.Hottest(1); len(top) > 0 {
				log.Debug("hottest region", "cell", top[0].Cell, "score", top[0].Score)
			}
		}
	}
}
