// Package api is the exchange REST client.
//
// Endpoints (spot, Binance-style):
//   - GET  /api/v3/time, /ticker/price, /klines, /ticker/24hr, /depth, /exchangeInfo
//   - GET  /api/v3/account (signed)
//   - POST /api/v3/order (signed)
//
// Every request passes the rate-limit governor before it is sent and is
// recorded afterwards, whatever the outcome. Signed requests take their
// timestamp from the clock synchronizer.
package api
