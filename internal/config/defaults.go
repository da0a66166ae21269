package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultRestURL          = "https://api.binance.com"
	DefaultWSURL            = "wss://stream.binance.com:9443"
	DefaultRecvWindow       = 5 * time.Second
	MaxRecvWindow           = 60 * time.Second
	DefaultAPITimeout       = 5 * time.Second
	DefaultMaxRetries       = 2
	DefaultTimeAuthorityURL = "https://www.google.com"

	DefaultSafetyMargin       = 1000 * time.Millisecond
	DefaultConservativeMargin = 1000 * time.Millisecond
	DefaultTradingMargin      = 2000 * time.Millisecond
	DefaultClockOffset        = -1000 * time.Millisecond
	DefaultEndpointTimeout    = 3 * time.Second
	DefaultResyncInterval     = 5 * time.Minute
	DefaultClockMaxRetries    = 3
	DefaultClockRetryDelay    = 2 * time.Second

	DefaultCleanupInterval = 30 * time.Second

	DefaultDepthLevels        = 20
	DefaultReconnectBaseDelay = 1 * time.Second
	DefaultReconnectMaxDelay  = 60 * time.Second
	DefaultStabilityWindow    = 30 * time.Second
	DefaultPingInterval       = 30 * time.Second
	DefaultPingTimeout        = 90 * time.Second
	DefaultStreamBufferSize   = 4096

	DefaultFallbackTTL     = 30 * time.Second
	DefaultFallbackTimeout = 5 * time.Second
	DefaultStaleAfter      = 2 * time.Minute
	DefaultMaxKlines       = 500
	DefaultWarmupKlines    = 100

	DefaultSignalHorizon     = 5 * time.Minute
	DefaultQueueSize         = 1000
	DefaultAnalysisInterval  = 1 * time.Minute
	DefaultExecutionInterval = 10 * time.Second
	DefaultTimeframe         = "1m"
	DefaultStrategy          = "price_change"
	DefaultLookback          = 5
	DefaultThreshold         = 0.005

	DefaultDBPort        = 5432
	DefaultDBSSLMode     = "prefer"
	DefaultMaxConns      = 4
	DefaultMinConns      = 1
	DefaultBatchSize     = 100
	DefaultFlushInterval = 1 * time.Second
	DefaultJournalBuffer = 1024
	DefaultMetricsPort   = 9090
	DefaultMetricsPath   = "/metrics"
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "json"
)

// DefaultWindows mirrors the published spot limits.
func DefaultWindows() []WindowConfig {
	return []WindowConfig{
		{Counter: "weight", Interval: time.Minute, Capacity: 6000},
		{Counter: "weight", Interval: 24 * time.Hour, Capacity: 1000000},
		{Counter: "orders", Interval: 10 * time.Second, Capacity: 100},
		{Counter: "orders", Interval: time.Minute, Capacity: 400},
		{Counter: "orders", Interval: 24 * time.Hour, Capacity: 200000},
		{Counter: "requests", Interval: time.Minute, Capacity: 61000},
	}
}

// DefaultTimeframes are subscribed when none are configured.
func DefaultTimeframes() []string {
	return []string{"1m", "5m", "1h"}
}

// ApplyDefaults fills zero-valued fields with the package defaults.
func (c *Config) ApplyDefaults() {
	// Exchange defaults
	if c.Exchange.RestURL == "" {
		c.Exchange.RestURL = DefaultRestURL
	}
	if c.Exchange.WSURL == "" {
		c.Exchange.WSURL = DefaultWSURL
	}
	if c.Exchange.RecvWindow == 0 {
		c.Exchange.RecvWindow = DefaultRecvWindow
	}
	if c.Exchange.Timeout == 0 {
		c.Exchange.Timeout = DefaultAPITimeout
	}
	if c.Exchange.MaxRetries == 0 {
		c.Exchange.MaxRetries = DefaultMaxRetries
	}

	// Clock defaults
	if c.Clock.SafetyMargin == 0 {
		c.Clock.SafetyMargin = DefaultSafetyMargin
	}
	if c.Clock.ConservativeMargin == 0 {
		c.Clock.ConservativeMargin = DefaultConservativeMargin
	}
	if c.Clock.TradingMargin == 0 {
		c.Clock.TradingMargin = DefaultTradingMargin
	}
	if c.Clock.DefaultOffset == 0 {
		c.Clock.DefaultOffset = DefaultClockOffset
	}
	if c.Clock.EndpointTimeout == 0 {
		c.Clock.EndpointTimeout = DefaultEndpointTimeout
	}
	if c.Clock.ResyncInterval == 0 {
		c.Clock.ResyncInterval = DefaultResyncInterval
	}
	if c.Clock.MaxRetries == 0 {
		c.Clock.MaxRetries = DefaultClockMaxRetries
	}
	if c.Clock.RetryBaseDelay == 0 {
		c.Clock.RetryBaseDelay = DefaultClockRetryDelay
	}
	if c.Clock.TimeAuthorityURL == "" {
		c.Clock.TimeAuthorityURL = DefaultTimeAuthorityURL
	}

	// Rate limit defaults
	if len(c.RateLimits.Windows) == 0 {
		c.RateLimits.Windows = DefaultWindows()
	}
	if c.RateLimits.CleanupInterval == 0 {
		c.RateLimits.CleanupInterval = DefaultCleanupInterval
	}

	// Stream defaults
	if len(c.Stream.Timeframes) == 0 {
		c.Stream.Timeframes = DefaultTimeframes()
	}
	if c.Stream.DepthLevels == 0 {
		c.Stream.DepthLevels = DefaultDepthLevels
	}
	if c.Stream.ReconnectBaseDelay == 0 {
		c.Stream.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Stream.ReconnectMaxDelay == 0 {
		c.Stream.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Stream.StabilityWindow == 0 {
		c.Stream.StabilityWindow = DefaultStabilityWindow
	}
	if c.Stream.PingInterval == 0 {
		c.Stream.PingInterval = DefaultPingInterval
	}
	if c.Stream.PingTimeout == 0 {
		c.Stream.PingTimeout = DefaultPingTimeout
	}
	if c.Stream.BufferSize == 0 {
		c.Stream.BufferSize = DefaultStreamBufferSize
	}

	// Market data defaults
	if c.MarketData.FallbackTTL == 0 {
		c.MarketData.FallbackTTL = DefaultFallbackTTL
	}
	if c.MarketData.FallbackTimeout == 0 {
		c.MarketData.FallbackTimeout = DefaultFallbackTimeout
	}
	if c.MarketData.StaleAfter == 0 {
		c.MarketData.StaleAfter = DefaultStaleAfter
	}
	if c.MarketData.MaxKlines == 0 {
		c.MarketData.MaxKlines = DefaultMaxKlines
	}
	if c.MarketData.WarmupKlines == 0 {
		c.MarketData.WarmupKlines = DefaultWarmupKlines
	}

	// Coordinator defaults
	if c.Coordinator.SignalHorizon == 0 {
		c.Coordinator.SignalHorizon = DefaultSignalHorizon
	}
	if c.Coordinator.QueueSize == 0 {
		c.Coordinator.QueueSize = DefaultQueueSize
	}
	for i := range c.Coordinator.Analysis {
		a := &c.Coordinator.Analysis[i]
		if a.Interval == 0 {
			a.Interval = DefaultAnalysisInterval
		}
		if a.Timeframe == "" {
			a.Timeframe = DefaultTimeframe
		}
		if a.Strategy.Name == "" {
			a.Strategy.Name = DefaultStrategy
		}
		if a.Strategy.Lookback == 0 {
			a.Strategy.Lookback = DefaultLookback
		}
		if a.Strategy.Threshold == 0 {
			a.Strategy.Threshold = DefaultThreshold
		}
	}
	for i := range c.Coordinator.Execution {
		if c.Coordinator.Execution[i].Interval == 0 {
			c.Coordinator.Execution[i].Interval = DefaultExecutionInterval
		}
	}

	// Journal defaults
	applyDBDefaults(&c.Journal.Database)
	if c.Journal.BatchSize == 0 {
		c.Journal.BatchSize = DefaultBatchSize
	}
	if c.Journal.FlushInterval == 0 {
		c.Journal.FlushInterval = DefaultFlushInterval
	}
	if c.Journal.BufferSize == 0 {
		c.Journal.BufferSize = DefaultJournalBuffer
	}

	// Metrics and logging defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
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
