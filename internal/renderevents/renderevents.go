// Package renderevents publishes one Kafka event per render.
package renderevents

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/terrain-contours/internal/core/observability"
)

type Event struct {
	BBox       string    `json:"bbox"`
	Cell       string    `json:"h3_cell,omitempty"`
	Zoom       int       `json:"zoom"`
	Tiles      int       `json:"tiles"`
	Degraded   int       `json:"degraded_tiles"`
	Levels     int       `json:"levels"`
	Lines      int       `json:"overlay_lines"`
	DurationMS int64     `json:"duration_ms"`
	Status     string    `json:"status"`
	Stage      string    `json:"stage,omitempty"`
	Kind       string    `json:"kind,omitempty"`
	TS         time.Time `json:"ts"`
}

// Publisher queues events and hands them to an async producer. Publish never
// blocks; events are dropped when the queue is full.
type Publisher struct {
	logger *slog.Logger
	topic  string
	prod   sarama.AsyncProducer

	mu      sync.RWMutex
	closed  bool
	events  chan Event
	stopped chan struct{}
	errDone chan struct{}
}

func NewPublisher(logger *slog.Logger, brokers []string, topic string, queueSize int) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false
	cfg.Producer.RequiredAcks = sarama.WaitForLocal

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("renderevents: create async producer: %w", err)
	}
	return NewWithProducer(logger, prod, topic, queueSize), nil
}

// NewWithProducer takes ownership of prod.
func NewWithProducer(logger *slog.Logger, prod sarama.AsyncProducer, topic string, queueSize int) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = 1024
	}
	p := &Publisher{
		logger:  logger,
		topic:   topic,
		prod:    prod,
		events:  make(chan Event, queueSize),
		stopped: make(chan struct{}),
		errDone: make(chan struct{}),
	}

	go func() {
		defer close(p.stopped)
		for ev := range p.events {
			b, err := json.Marshal(ev)
			if err != nil {
				p.logger.Warn("render event marshal", "err", err)
				observability.IncEvent("error")
				continue
			}
			msg := &sarama.ProducerMessage{
				Topic: p.topic,
				Value: sarama.ByteEncoder(b),
			}
			if ev.Cell != "" {
				msg.Key = sarama.StringEncoder(ev.Cell)
			}
			p.prod.Input() <- msg
		}
	}()

	go func() {
		defer close(p.errDone)
		for err := range p.prod.Errors() {
			if err != nil {
				p.logger.Warn("render event producer error", "err", err)
				observability.IncEvent("error")
			}
		}
	}()

	return p
}

func (p *Publisher) Publish(ev Event) {
	if ev.TS.IsZero() {
		ev.TS = time.Now().UTC()
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.events <- ev:
		observability.IncEvent("queued")
	default:
		observability.IncEvent("dropped")
	}
}

// Close drains queued events and closes the producer.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.events)
	p.mu.Unlock()

	<-p.stopped
	err := p.prod.Close()
	<-p.errDone
	if err != nil {
		return fmt.Errorf("renderevents: close producer: %w", err)
	}
	return nil
}
