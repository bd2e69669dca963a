package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rickgao/livedata/internal/model"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	if !strings.HasPrefix(c.Feed.WSURL, "ws://") && !strings.HasPrefix(c.Feed.WSURL, "wss://") {
		return fmt.Errorf("feed.ws_url must be a ws:// or wss:// URL, got %q", c.Feed.WSURL)
	}
	if !strings.HasPrefix(c.Feed.RestURL, "http://") && !strings.HasPrefix(c.Feed.RestURL, "https://") {
		return fmt.Errorf("feed.rest_url must be an http:// or https:// URL, got %q", c.Feed.RestURL)
	}
	if c.Feed.APIKey != "" && c.Feed.PrivateKeyPath == "" {
		return errors.New("feed.private_key_path is required when feed.api_key is set")
	}
	if c.Feed.BufferSize < 1 {
		return errors.New("feed.buffer_size must be >= 1")
	}

	if c.Coordinator.MaxBatchSize < 1 {
		return errors.New("coordinator.max_batch_size must be >= 1")
	}
	if c.Coordinator.RetryPeriod <= 0 {
		return errors.New("coordinator.retry_period must be > 0")
	}
	if c.Coordinator.AbandonDuration <= c.Coordinator.RetryPeriod {
		return fmt.Errorf("coordinator.abandon_duration (%s) must exceed coordinator.retry_period (%s)",
			c.Coordinator.AbandonDuration, c.Coordinator.RetryPeriod)
	}
	if c.Coordinator.LogLimit < 1 {
		return errors.New("coordinator.log_limit must be >= 1")
	}

	if c.Cycle.Interval <= 0 {
		return errors.New("cycle.interval must be > 0")
	}
	if len(c.Cycle.Specs) == 0 {
		return errors.New("cycle.specs must not be empty")
	}
	for i, s := range c.Cycle.Specs {
		if s.Kind == "" || s.Source == "" {
			return fmt.Errorf("cycle.specs[%d] requires kind and source", i)
		}
	}
	for i, ch := range c.Cycle.Channels {
		switch ch {
		case model.ChannelTicker, model.ChannelTrade, model.ChannelOrderbook:
		default:
			return fmt.Errorf("cycle.channels[%d]: unknown channel %q", i, ch)
		}
	}

	if len(c.Cycle.Series) > 0 && c.Cycle.RefreshInterval <= 0 {
		return errors.New("cycle.refresh_interval must be > 0 when cycle.series is set")
	}

	if c.Journal.Enabled {
		if err := c.Database.Journal.validate("database.journal"); err != nil {
			return err
		}
	}
	if c.Journal.BatchSize < 1 {
		return errors.New("journal.batch_size must be >= 1")
	}
	if c.Journal.BufferSize < 1 {
		return errors.New("journal.buffer_size must be >= 1")
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}
	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /, got %q", c.Metrics.Path)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
