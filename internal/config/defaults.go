package config

import (
	"time"

	"github.com/rickgao/livedata/internal/model"
)

// Default values for optional configuration fields.
const (
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "text"
	DefaultWSURL              = "wss://api.elections.kalshi.com/trade-api/ws/v2"
	DefaultRestURL            = "https://api.elections.kalshi.com/trade-api/v2"
	DefaultDialTimeout        = 10 * time.Second
	DefaultPingTimeout        = 60 * time.Second
	DefaultWriteTimeout       = 5 * time.Second
	DefaultFeedBufferSize     = 10000
	DefaultReconnectBaseDelay = 1 * time.Second
	DefaultReconnectMaxDelay  = 60 * time.Second
	DefaultDBPort             = 5432
	DefaultDBSSLMode          = "prefer"
	DefaultMaxConns           = 10
	DefaultMinConns           = 2
	DefaultMaxBatchSize       = 10000
	DefaultRetryPeriod        = 5 * time.Minute
	DefaultAbandonDuration    = 15 * time.Minute
	DefaultLogInterval        = 15 * time.Second
	DefaultLogLimit           = 20
	DefaultCycleInterval      = 10 * time.Second
	DefaultRefreshInterval    = 5 * time.Minute
	DefaultIPAddress          = "127.0.0.1"
	DefaultSpecKind           = "live"
	DefaultSpecSource         = "kalshi"
	DefaultBatchSize          = 1000
	DefaultFlushInterval      = 1 * time.Second
	DefaultBufferSize         = 10000
	DefaultMetricsPort        = 9090
	DefaultMetricsPath        = "/metrics"
)

func (c *Config) applyDefaults() {
	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}

	// Feed defaults
	if c.Feed.WSURL == "" {
		c.Feed.WSURL = DefaultWSURL
	}
	if c.Feed.RestURL == "" {
		c.Feed.RestURL = DefaultRestURL
	}
	if c.Feed.DialTimeout == 0 {
		c.Feed.DialTimeout = DefaultDialTimeout
	}
	if c.Feed.PingTimeout == 0 {
		c.Feed.PingTimeout = DefaultPingTimeout
	}
	if c.Feed.WriteTimeout == 0 {
		c.Feed.WriteTimeout = DefaultWriteTimeout
	}
	if c.Feed.BufferSize == 0 {
		c.Feed.BufferSize = DefaultFeedBufferSize
	}
	if c.Feed.ReconnectBaseDelay == 0 {
		c.Feed.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Feed.ReconnectMaxDelay == 0 {
		c.Feed.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}

	// Database defaults
	applyDBDefaults(&c.Database.Journal)

	// Coordinator defaults
	if c.Coordinator.MaxBatchSize == 0 {
		c.Coordinator.MaxBatchSize = DefaultMaxBatchSize
	}
	if c.Coordinator.RetryPeriod == 0 {
		c.Coordinator.RetryPeriod = DefaultRetryPeriod
	}
	if c.Coordinator.AbandonDuration == 0 {
		c.Coordinator.AbandonDuration = DefaultAbandonDuration
	}
	if c.Coordinator.LogInterval == 0 {
		c.Coordinator.LogInterval = DefaultLogInterval
	}
	if c.Coordinator.LogLimit == 0 {
		c.Coordinator.LogLimit = DefaultLogLimit
	}

	// Cycle defaults
	if c.Cycle.Interval == 0 {
		c.Cycle.Interval = DefaultCycleInterval
	}
	if c.Cycle.RefreshInterval == 0 {
		c.Cycle.RefreshInterval = DefaultRefreshInterval
	}
	if c.Cycle.IPAddress == "" {
		c.Cycle.IPAddress = DefaultIPAddress
	}
	if len(c.Cycle.Specs) == 0 {
		c.Cycle.Specs = []model.Spec{{Kind: DefaultSpecKind, Source: DefaultSpecSource}}
	}
	if len(c.Cycle.Channels) == 0 {
		c.Cycle.Channels = []string{model.ChannelTicker}
	}

	// Journal defaults
	if c.Journal.BatchSize == 0 {
		c.Journal.BatchSize = DefaultBatchSize
	}
	if c.Journal.FlushInterval == 0 {
		c.Journal.FlushInterval = DefaultFlushInterval
	}
	if c.Journal.BufferSize == 0 {
		c.Journal.BufferSize = DefaultBufferSize
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
