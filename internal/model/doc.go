// Package model defines the market-data and order types shared across tradecore.
//
// Conventions:
//   - Prices and quantities: shopspring/decimal, parsed from exchange strings
//   - Timestamps: time.Time in UTC; exchange epoch-millisecond fields are converted at the edge
//   - Instruments: exchange symbols in upper case (e.g. "BTCUSDT"), compared by exact equality
package model
