// Package kafkaconsumer applies tile invalidation events from Kafka to the
// tile cache.
package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"github.com/mohammed-shakir/terrain-contours/internal/core/model"
	obs "github.com/mohammed-shakir/terrain-contours/internal/core/observability"
	"github.com/mohammed-shakir/terrain-contours/internal/invalidation"
	mylog "github.com/mohammed-shakir/terrain-contours/internal/logger"
	"github.com/mohammed-shakir/terrain-contours/internal/projection"
)

// Invalidator drops cached tiles; tilecache.Cached implements it.
type Invalidator interface {
	Invalidate(ctx context.Context, ts []model.Tile) (int, error)
}

type Consumer struct {
	cfg    Config
	logger *slog.Logger
	inv    Invalidator
	proj   projection.Projector
	zlog   *zerolog.Logger
	seen   *tsDedupe

	mu    sync.RWMutex
	parts []int32
}

func New(cfg Config, logger *slog.Logger, zl *zerolog.Logger, inv Invalidator, proj projection.Projector) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	if zl == nil {
		l := zerolog.Nop()
		zl = &l
	}
	cfg = cfg.withDefaults()
	return &Consumer{
		cfg:    cfg,
		seen:   newTSDedupe(cfg.DedupeSize),
		logger: logger,
		inv:    inv,
		proj:   proj,
		zlog:   zl,
	}
}

// Start consumes until ctx is done.
func (c *Consumer) Start(ctx context.Context) error {
	if c.inv == nil {
		return errors.New("kafkaconsumer: missing invalidator")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	handler := &groupHandler{topic: c.cfg.Topic, process: c.ProcessOne, assign: c.setPartitions}

	c.logger.Info("kafka invalidation consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("kafka invalidation consumer shutting down")
			return nil
		default:
			if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
				obs.IncKafkaConsumerError("consume")
				c.zlog.Error().Err(err).
					Strs("brokers", c.cfg.Brokers).
					Str("topic", c.cfg.Topic).
					Msg("kafka consumer error")
				select {
				case <-ctx.Done():
				case <-time.After(2 * time.Second):
				}
			}
		}
	}
}

func (c *Consumer) setPartitions(parts []int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.parts = slices.Clone(parts)
	slices.Sort(c.parts)
}

// Readiness reports whether the group currently holds any partition.
func (c *Consumer) Readiness() (bool, []int32) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.parts) > 0, slices.Clone(c.parts)
}

// ProcessOne applies one message. Malformed or invalid events are logged and
// skipped so they do not block the partition; cache errors are returned and
// the message is redelivered.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	start := time.Now()
	zl := mylog.FromContext(mylog.WithComponent(ctx, "kafka_consumer"), c.zlog)

	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		c.skip(zl, msg, "decode", err)
		return nil
	}
	if err := ev.Validate(); err != nil {
		c.skip(zl, msg, "invalid", err)
		return nil
	}
	if c.cfg.Source != "" && ev.Source != "" && ev.Source != c.cfg.Source {
		c.logger.Debug("invalidation for another source (skipping)", "source", ev.Source)
		return nil
	}

	key, at := dedupeKey(ev), ev.TS.UnixNano()
	if !c.seen.isNewer(key, at) {
		c.logger.Debug("invalidation already applied (skipping)", "key", key, "offset", msg.Offset)
		return nil
	}

	ts, err := ev.Tiles(c.proj, c.cfg.Zooms, c.cfg.MaxTiles)
	if err != nil {
		c.skip(zl, msg, "expand", err)
		return nil
	}

	n, err := c.inv.Invalidate(ctx, ts)
	obs.ObserveInvalidation(n, err)
	obs.ObserveUpstreamLatency("kafka_invalidation", time.Since(start).Seconds())
	if err != nil {
		obs.IncKafkaConsumerError("cache_del")
		zl.Error().Err(err).
			Str("kind", "cache_del").
			Str("topic", msg.Topic).
			Int32("partition", msg.Partition).
			Int("tiles", len(ts)).
			Msg("kafka error")
		return fmt.Errorf("invalidate %d tiles: %w", len(ts), err)
	}

	c.seen.record(key, at)
	zl.Info().
		Str("event", "invalidation").
		Str("op", ev.Op).
		Int("tiles", len(ts)).
		Int("keys", n).
		Msg("invalidated tiles")
	return nil
}

func (c *Consumer) skip(zl *zerolog.Logger, msg *sarama.ConsumerMessage, kind string, err error) {
	obs.IncKafkaConsumerError(kind)
	zl.Warn().Err(err).
		Str("kind", kind).
		Str("topic", msg.Topic).
		Int32("partition", msg.Partition).
		Int64("offset", msg.Offset).
		Msg("skipping invalidation event")
}
