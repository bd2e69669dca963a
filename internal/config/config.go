package config

import (
	"log/slog"
	"strings"
	"time"

	"github.com/rickgao/livedata/internal/model"
)

// Config is the root configuration for a coordinator instance.
type Config struct {
	Instance    InstanceConfig    `yaml:"instance"`
	Log         LogConfig         `yaml:"log"`
	Feed        FeedConfig        `yaml:"feed"`
	Database    DatabaseConfig    `yaml:"database"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Cycle       CycleConfig       `yaml:"cycle"`
	Journal     JournalConfig     `yaml:"journal"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// InstanceConfig identifies this coordinator.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// LogConfig selects the log level and handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// SlogLevel returns the configured level, or info when unrecognised.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// FeedConfig holds market data feed settings.
type FeedConfig struct {
	WSURL              string        `yaml:"ws_url"`
	RestURL            string        `yaml:"rest_url"`
	APIKey             string        `yaml:"api_key"`          // API key ID (KALSHI-ACCESS-KEY header)
	PrivateKeyPath     string        `yaml:"private_key_path"` // RSA private key PEM file
	DialTimeout        time.Duration `yaml:"dial_timeout"`
	PingTimeout        time.Duration `yaml:"ping_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	BufferSize         int           `yaml:"buffer_size"`
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
}

// DatabaseConfig holds database connections.
type DatabaseConfig struct {
	Journal DBConfig `yaml:"journal"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// CoordinatorConfig holds subscription manager settings.
type CoordinatorConfig struct {
	MaxBatchSize    int           `yaml:"max_batch_size"`
	RetryPeriod     time.Duration `yaml:"retry_period"`
	AbandonDuration time.Duration `yaml:"abandon_duration"`
	LogInterval     time.Duration `yaml:"log_interval"`
	LogLimit        int           `yaml:"log_limit"`
}

// CycleConfig describes what the computation cycle requires.
type CycleConfig struct {
	Interval        time.Duration `yaml:"interval"`
	User            string        `yaml:"user"`
	IPAddress       string        `yaml:"ip_address"`
	Specs           []model.Spec  `yaml:"specs"`
	Channels        []string      `yaml:"channels"`
	Tickers         []string      `yaml:"tickers"`
	Series          []string      `yaml:"series"`           // Series whose open markets are required
	RefreshInterval time.Duration `yaml:"refresh_interval"` // How often series are re-listed
}

// Principal returns the configured user.
func (c CycleConfig) Principal() model.UserPrincipal {
	return model.UserPrincipal{UserName: c.User, IPAddress: c.IPAddress}
}

// JournalConfig holds transition journal settings.
type JournalConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// MetricsConfig holds Prometheus metrics and debug HTTP settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}
