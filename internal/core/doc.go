// Package core assembles the trading core from configuration and exposes
// the API the rest of the application calls: market data reads, worker
// registration, signal submission, lifecycle and system status.
package core
