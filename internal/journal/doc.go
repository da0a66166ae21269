// Package journal persists published signals and execution outcomes to
// PostgreSQL.
//
// Records are buffered in memory and written in batches by a background
// flush loop, so callers on the trading path never wait on the database.
// Rows are inserted with ON CONFLICT DO NOTHING; replaying a batch after a
// partial failure cannot duplicate a signal or an execution.
package journal
