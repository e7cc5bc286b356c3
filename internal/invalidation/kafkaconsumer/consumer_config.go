package kafkaconsumer

import "time"

type Config struct {
	Brokers             []string      `yaml:"brokers"`
	Topic               string        `yaml:"topic"`
	GroupID             string        `yaml:"group_id"`
	SessionTimeout      time.Duration `yaml:"session_timeout"`
	Heartbeat           time.Duration `yaml:"heartbeat"`
	RebalanceTimeout    time.Duration `yaml:"rebalance_timeout"`
	InitialOffsetOldest bool          `yaml:"initial_offset_oldest"`

	// Source, when set, skips events addressed to another tile source.
	Source string `yaml:"source"`
	// Zooms are used for bbox events that do not list their own.
	Zooms    []int `yaml:"zooms"`
	MaxTiles int   `yaml:"max_tiles"`
	// DedupeSize bounds how many targets remember their last applied event.
	DedupeSize int `yaml:"dedupe_size"`
}

func (c Config) withDefaults() Config {
	if len(c.Brokers) == 0 {
		c.Brokers = []string{"localhost:9092"}
	}
	if c.Topic == "" {
		c.Topic = "tile-invalidation"
	}
	if c.GroupID == "" {
		c.GroupID = "tile-cache-invalidator"
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = 30 * time.Second
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = 3 * time.Second
	}
	if c.RebalanceTimeout <= 0 {
		c.RebalanceTimeout = 30 * time.Second
	}
	if len(c.Zooms) == 0 {
		c.Zooms = []int{8, 9, 10, 11, 12, 13, 14}
	}
	if c.MaxTiles <= 0 {
		c.MaxTiles = 10000
	}
	if c.DedupeSize <= 0 {
		c.DedupeSize = 4096
	}
	return c
}
