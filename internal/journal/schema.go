package journal

import (
	"context"
	"fmt"
)

// Schema creates the journal tables.
const Schema = `
CREATE TABLE IF NOT EXISTS signals (
	id              UUID PRIMARY KEY,
	producer        TEXT NOT NULL,
	symbol          TEXT NOT NULL,
	direction       TEXT NOT NULL,
	confidence      DOUBLE PRECISION NOT NULL,
	reference_price NUMERIC NOT NULL,
	generated_at    TIMESTAMPTZ NOT NULL,
	metadata        JSONB
);

CREATE INDEX IF NOT EXISTS signals_symbol_generated_at_idx ON signals (symbol, generated_at);

CREATE TABLE IF NOT EXISTS executions (
	client_order_id TEXT PRIMARY KEY,
	worker_id       TEXT NOT NULL,
	signal_id       TEXT NOT NULL,
	symbol          TEXT NOT NULL,
	side            TEXT NOT NULL,
	quantity        NUMERIC NOT NULL,
	price           NUMERIC NOT NULL,
	order_id        BIGINT,
	status          TEXT,
	result          TEXT NOT NULL,
	error           TEXT,
	executed_at     TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS executions_signal_id_idx ON executions (signal_id);
`

// EnsureSchema creates the journal tables if they do not exist.
func EnsureSchema(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure journal schema: %w", err)
	}
	return nil
}
