package config

import "time"

// Config is the root configuration for a tradecore instance.
type Config struct {
	Instance    InstanceConfig    `yaml:"instance"`
	Exchange    ExchangeConfig    `yaml:"exchange"`
	Clock       ClockConfig       `yaml:"clock"`
	RateLimits  RateLimitConfig   `yaml:"rate_limits"`
	Stream      StreamConfig      `yaml:"stream"`
	MarketData  MarketDataConfig  `yaml:"market_data"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Journal     JournalConfig     `yaml:"journal"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Health      HealthConfig      `yaml:"health"`
	Log         LogConfig         `yaml:"log"`
}

// InstanceConfig identifies this process.
type InstanceConfig struct {
	ID string `yaml:"id" validate:"required"`
}

// ExchangeConfig holds REST and streaming endpoints plus credentials.
type ExchangeConfig struct {
	RestURL    string        `yaml:"rest_url" validate:"required,url"`
	Mirrors    []string      `yaml:"mirrors" validate:"dive,url"` // extra REST hosts queried for server time
	WSURL      string        `yaml:"ws_url" validate:"required,url"`
	APIKey     string        `yaml:"api_key"`
	APISecret  string        `yaml:"api_secret"`
	RecvWindow time.Duration `yaml:"recv_window"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries" validate:"gte=0"`
}

// ClockConfig tunes server time synchronization.
type ClockConfig struct {
	SafetyMargin       time.Duration `yaml:"safety_margin"`
	ConservativeMargin time.Duration `yaml:"conservative_margin"`
	TradingMargin      time.Duration `yaml:"trading_margin"`
	DefaultOffset      time.Duration `yaml:"default_offset"` // used until the first successful sync
	EndpointTimeout    time.Duration `yaml:"endpoint_timeout"`
	ResyncInterval     time.Duration `yaml:"resync_interval"`
	MaxRetries         int           `yaml:"max_retries" validate:"gte=0"`
	RetryBaseDelay     time.Duration `yaml:"retry_base_delay"`
	TimeAuthorityURL   string        `yaml:"time_authority_url" validate:"omitempty,url"`
}

// RateLimitConfig lists the rolling windows enforced by the governor.
type RateLimitConfig struct {
	Windows         []WindowConfig `yaml:"windows" validate:"dive"`
	CleanupInterval time.Duration  `yaml:"cleanup_interval"`
}

// WindowConfig is one rolling window. Counter is one of weight, orders, requests.
type WindowConfig struct {
	Counter  string        `yaml:"counter" validate:"required,oneof=weight orders requests"`
	Interval time.Duration `yaml:"interval" validate:"gt=0"`
	Capacity int           `yaml:"capacity" validate:"gt=0"`
}

// StreamConfig holds market-data stream settings.
type StreamConfig struct {
	Instruments        []string      `yaml:"instruments"`
	Timeframes         []string      `yaml:"timeframes"`
	DepthLevels        int           `yaml:"depth_levels" validate:"omitempty,oneof=5 10 20"`
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
	StabilityWindow    time.Duration `yaml:"stability_window"`
	PingInterval       time.Duration `yaml:"ping_interval"`
	PingTimeout        time.Duration `yaml:"ping_timeout"`
	SubscribeByMessage bool          `yaml:"subscribe_by_message"`
	BufferSize         int           `yaml:"buffer_size"`
}

// MarketDataConfig tunes the two-tier cache.
type MarketDataConfig struct {
	FallbackEnabled *bool         `yaml:"fallback_enabled"`
	FallbackTTL     time.Duration `yaml:"fallback_ttl"`
	FallbackTimeout time.Duration `yaml:"fallback_timeout"`
	StaleAfter      time.Duration `yaml:"stale_after"`
	MaxKlines       int           `yaml:"max_klines"`
	WarmupKlines    int           `yaml:"warmup_klines" validate:"gte=0,lte=1000"`
}

// CoordinatorConfig holds the signal queue and worker registrations.
type CoordinatorConfig struct {
	SignalHorizon time.Duration     `yaml:"signal_horizon"`
	QueueSize     int               `yaml:"queue_size"`
	DryRun        bool              `yaml:"dry_run"`
	Analysis      []AnalysisConfig  `yaml:"analysis" validate:"dive"`
	Execution     []ExecutionConfig `yaml:"execution" validate:"dive"`
}

// AnalysisConfig registers one analysis worker.
type AnalysisConfig struct {
	ID         string         `yaml:"id" validate:"required"`
	Instrument string         `yaml:"instrument" validate:"required"`
	Timeframe  string         `yaml:"timeframe"`
	Interval   time.Duration  `yaml:"interval"`
	Strategy   StrategyConfig `yaml:"strategy"`
}

// StrategyConfig selects and parameterizes a built-in strategy.
type StrategyConfig struct {
	Name      string  `yaml:"name" validate:"omitempty,oneof=price_change"`
	Lookback  int     `yaml:"lookback" validate:"gte=0"`
	Threshold float64 `yaml:"threshold" validate:"gte=0"`
}

// ExecutionConfig registers one execution worker.
type ExecutionConfig struct {
	ID                string        `yaml:"id" validate:"required"`
	Instrument        string        `yaml:"instrument" validate:"required"`
	Sources           []string      `yaml:"sources" validate:"required,min=1"`
	Interval          time.Duration `yaml:"interval"`
	BaseAsset         string        `yaml:"base_asset" validate:"required"`
	QuoteAsset        string        `yaml:"quote_asset" validate:"required"`
	EquityPercent     float64       `yaml:"equity_percent" validate:"gt=0,lte=100"`
	ScaleByConfidence bool          `yaml:"scale_by_confidence"`
}

// JournalConfig enables the optional signal/order journal.
type JournalConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Database      DBConfig      `yaml:"database"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
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

// MetricsConfig controls the HTTP status/metrics server.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// HealthConfig controls the gRPC health server. Port 0 disables it.
type HealthConfig struct {
	GRPCPort int `yaml:"grpc_port" validate:"gte=0,lte=65535"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=json console"`
}

// FallbackOn reports whether REST fallback starts enabled.
func (m MarketDataConfig) FallbackOn() bool {
	return m.FallbackEnabled == nil || *m.FallbackEnabled
}
