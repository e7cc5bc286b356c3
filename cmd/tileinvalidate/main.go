// Command tileinvalidate publishes a tile invalidation event so running
// contourd instances drop their cached copies.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/terrain-contours/internal/core/config"
	"github.com/mohammed-shakir/terrain-contours/internal/core/model"
	"github.com/mohammed-shakir/terrain-contours/internal/invalidation"
)

type options struct {
	brokers string
	topic   string
	source  string
	op      string
	tile    string
	bbox    string
	zooms   string
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("tileinvalidate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.brokers, "brokers", getenv("KAFKA_BROKERS", "localhost:9092"), "comma-separated Kafka brokers")
	fs.StringVar(&o.topic, "topic", getenv("KAFKA_TOPIC", "tile-invalidation"), "invalidation topic")
	fs.StringVar(&o.source, "source", "", "tile source the event applies to; empty matches every consumer")
	fs.StringVar(&o.op, "op", "update", "update or delete")
	fs.StringVar(&o.tile, "tile", "", "single tile as z/x/y")
	fs.StringVar(&o.bbox, "bbox", "", "area as min_lon,min_lat,max_lon,max_lat")
	fs.StringVar(&o.zooms, "zooms", "", "comma-separated zooms for --bbox; empty uses the consumer's")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if (o.tile == "") == (o.bbox == "") {
		return o, errors.New("exactly one of --tile or --bbox is required")
	}
	return o, nil
}

// buildEvent turns the options into a validated event stamped with now.
func buildEvent(o options, now time.Time) (invalidation.Event, error) {
	ev := invalidation.Event{Version: 1, Op: o.op, TS: now.UTC(), Source: o.source}
	if o.tile != "" {
		parts := strings.Split(o.tile, "/")
		if len(parts) != 3 {
			return ev, fmt.Errorf("--tile %q: expected z/x/y", o.tile)
		}
		var v [3]int
		for i, p := range parts {
			n, err := strconv.Atoi(strings.TrimSpace(p))
			if err != nil {
				return ev, fmt.Errorf("--tile %q: %w", o.tile, err)
			}
			v[i] = n
		}
		ev.Tile = &invalidation.TileRef{Z: v[0], X: v[1], Y: v[2]}
	} else {
		bb, err := model.ParseBBox(o.bbox)
		if err != nil {
			return ev, fmt.Errorf("--bbox: %w", err)
		}
		ev.BBox = &invalidation.BBox{MinLon: bb.MinLon, MinLat: bb.MinLat, MaxLon: bb.MaxLon, MaxLat: bb.MaxLat}
		for _, z := range config.SplitCSV(o.zooms) {
			n, err := strconv.Atoi(z)
			if err != nil {
				return ev, fmt.Errorf("--zooms: %w", err)
			}
			ev.Zooms = append(ev.Zooms, n)
		}
	}
	if err := ev.Validate(); err != nil {
		return ev, fmt.Errorf("invalid event: %w", err)
	}
	return ev, nil
}

func publish(prod sarama.SyncProducer, topic string, ev invalidation.Event) (int32, int64, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return 0, 0, fmt.Errorf("encode event: %w", err)
	}
	part, off, err := prod.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(ev.Source),
		Value: sarama.ByteEncoder(b),
	})
	if err != nil {
		return 0, 0, fmt.Errorf("send message: %w", err)
	}
	return part, off, nil
}

func main() {
	o, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "usage error:", err)
		os.Exit(2)
	}
	ev, err := buildEvent(o, time.Now())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Version = sarama.V2_1_0_0
	prod, err := sarama.NewSyncProducer(config.SplitCSV(o.brokers), cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "producer create:", err)
		os.Exit(1)
	}
	defer func() { _ = prod.Close() }()

	part, off, err := publish(prod, o.topic, ev)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("published %s invalidation to %s (partition=%d offset=%d)\n", ev.Op, o.topic, part, off)
}
