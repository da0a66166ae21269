package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/TungTran2095/studio-sub004/internal/config"
)

// Connect opens a pool and pings it, retrying the ping up to attempts times
// with a doubling delay. The pool is closed on failure.
func Connect(ctx context.Context, cfg config.DBConfig, attempts int, logger *zerolog.Logger) (*pgxpool.Pool, error) {
	if logger == nil {
		logger = &log.Logger
	}
	if attempts < 1 {
		attempts = 1
	}

	poolCfg, err := pgxpool.ParseConfig(DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	delay := 500 * time.Millisecond
	for attempt := 1; ; attempt++ {
		err = pool.Ping(ctx)
		if err == nil {
			break
		}
		if attempt >= attempts {
			pool.Close()
			return nil, fmt.Errorf("ping database after %d attempts: %w", attempt, err)
		}
		logger.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("database not ready, retrying")

		select {
		case <-ctx.Done():
			pool.Close()
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	logger.Info().
		Str("host", cfg.Host).
		Str("database", cfg.Name).
		Int32("max_conns", poolCfg.MaxConns).
		Msg("database connected")
	return pool, nil
}
