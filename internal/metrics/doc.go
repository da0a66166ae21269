// Package metrics exports Prometheus metrics for the trading core.
//
// A Metrics value implements the observer interfaces of the clock, rate
// limit, stream, market data and coordinator packages, so each component
// reports into it without importing Prometheus itself.
package metrics
