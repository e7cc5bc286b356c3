package renderevents

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
)

func testConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false
	return cfg
}

func TestPublish_SendsJSONKeyedByCell(t *testing.T) {
	mp := mocks.NewAsyncProducer(t, testConfig())
	mp.ExpectInputWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "renders" {
			return fmt.Errorf("topic=%q", msg.Topic)
		}
		k, err := msg.Key.Encode()
		if err != nil || string(k) != "861f05a37ffffff" {
			return fmt.Errorf("key=%q err=%v", k, err)
		}
		v, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		var ev Event
		if err := json.Unmarshal(v, &ev); err != nil {
			return err
		}
		if ev.Zoom != 12 || ev.Degraded != 1 || ev.Status != "ok" || ev.TS.IsZero() {
			return fmt.Errorf("event=%+v", ev)
		}
		return nil
	})

	p := NewWithProducer(nil, mp, "renders", 4)
	p.Publish(Event{BBox: "18,59,18.1,59.1", Cell: "861f05a37ffffff", Zoom: 12, Tiles: 4, Degraded: 1, Status: "ok"})
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestPublish_ProducerErrorIsSwallowed(t *testing.T) {
	mp := mocks.NewAsyncProducer(t, testConfig())
	mp.ExpectInputAndFail(errors.New("broker down"))

	p := NewWithProducer(nil, mp, "renders", 4)
	p.Publish(Event{Status: "error", Stage: "assemble", Kind: "mosaic_empty"})
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestPublish_AfterCloseIsNoop(t *testing.T) {
	mp := mocks.NewAsyncProducer(t, testConfig())
	p := NewWithProducer(nil, mp, "renders", 1)
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	p.Publish(Event{Status: "ok"})
	if err := p.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
