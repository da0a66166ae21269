package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var (
	// validTimeframes is the exchange kline interval set.
	validTimeframes = map[string]bool{
		"1s": true, "1m": true, "3m": true, "5m": true, "15m": true, "30m": true,
		"1h": true, "2h": true, "4h": true, "6h": true, "8h": true, "12h": true,
		"1d": true, "3d": true, "1w": true, "1M": true,
	}

	validate = validator.New(validator.WithRequiredStructEnabled())
)

// ValidTimeframe reports whether tf is a supported kline interval.
func ValidTimeframe(tf string) bool {
	return validTimeframes[tf]
}

// ValidSymbol reports whether s is a well-formed instrument symbol.
func ValidSymbol(s string) bool {
	return validate.Var(s, "min=2,max=20,alphanum,uppercase") == nil
}

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid fields: %w", err)
	}

	if c.Exchange.RecvWindow <= 0 || c.Exchange.RecvWindow > MaxRecvWindow {
		return fmt.Errorf("exchange.recv_window must be in (0, %s], got %s", MaxRecvWindow, c.Exchange.RecvWindow)
	}

	if len(c.Stream.Instruments) == 0 {
		return errors.New("stream.instruments must list at least one instrument")
	}
	seen := make(map[string]bool, len(c.Stream.Instruments))
	for _, s := range c.Stream.Instruments {
		if !ValidSymbol(s) {
			return fmt.Errorf("stream.instruments: invalid symbol %q (want uppercase, e.g. BTCUSDT)", s)
		}
		if seen[s] {
			return fmt.Errorf("stream.instruments: duplicate symbol %q", s)
		}
		seen[s] = true
	}
	for _, tf := range c.Stream.Timeframes {
		if !ValidTimeframe(tf) {
			return fmt.Errorf("stream.timeframes: unsupported timeframe %q", tf)
		}
	}
	if c.Stream.ReconnectMaxDelay < c.Stream.ReconnectBaseDelay {
		return fmt.Errorf("stream.reconnect_max_delay (%s) cannot be below reconnect_base_delay (%s)",
			c.Stream.ReconnectMaxDelay, c.Stream.ReconnectBaseDelay)
	}

	if c.MarketData.MaxKlines < c.MarketData.WarmupKlines {
		return fmt.Errorf("market_data.max_klines (%d) cannot be below warmup_klines (%d)",
			c.MarketData.MaxKlines, c.MarketData.WarmupKlines)
	}

	if err := c.Coordinator.validate(seen); err != nil {
		return err
	}

	if c.Journal.Enabled {
		if err := c.Journal.Database.validate("journal.database"); err != nil {
			return err
		}
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	return nil
}

func (c *CoordinatorConfig) validate(instruments map[string]bool) error {
	if c.QueueSize < 1 {
		return errors.New("coordinator.queue_size must be >= 1")
	}

	ids := make(map[string]bool)
	analysis := make(map[string]bool, len(c.Analysis))
	for _, a := range c.Analysis {
		if ids[a.ID] {
			return fmt.Errorf("coordinator: duplicate worker id %q", a.ID)
		}
		ids[a.ID] = true
		analysis[a.ID] = true
		if !instruments[a.Instrument] {
			return fmt.Errorf("coordinator.analysis[%s]: instrument %q is not streamed", a.ID, a.Instrument)
		}
		if !ValidTimeframe(a.Timeframe) {
			return fmt.Errorf("coordinator.analysis[%s]: unsupported timeframe %q", a.ID, a.Timeframe)
		}
	}

	for _, e := range c.Execution {
		if ids[e.ID] {
			return fmt.Errorf("coordinator: duplicate worker id %q", e.ID)
		}
		ids[e.ID] = true
		if !instruments[e.Instrument] {
			return fmt.Errorf("coordinator.execution[%s]: instrument %q is not streamed", e.ID, e.Instrument)
		}
		for _, src := range e.Sources {
			if !analysis[src] {
				return fmt.Errorf("coordinator.execution[%s]: unknown analysis worker %q", e.ID, src)
			}
		}
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
