package ratelimit

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// EndpointWeight is one row of the static weight table.
type EndpointWeight struct {
	Method  string
	Path    string
	Weight  int
	IsOrder bool
}

// weightTable maps endpoints to weight units.
var weightTable = []EndpointWeight{
	{Method: http.MethodGet, Path: "/api/v3/ping", Weight: 1},
	{Method: http.MethodGet, Path: "/api/v3/time", Weight: 1},
	{Method: http.MethodGet, Path: "/api/v3/exchangeInfo", Weight: 20},
	{Method: http.MethodGet, Path: "/api/v3/ticker/price", Weight: 2},
	{Method: http.MethodGet, Path: "/api/v3/ticker/24hr", Weight: 2},
	{Method: http.MethodGet, Path: "/api/v3/klines", Weight: 2},
	{Method: http.MethodGet, Path: "/api/v3/depth", Weight: 5},
	{Method: http.MethodGet, Path: "/api/v3/account", Weight: 20},
	{Method: http.MethodPost, Path: "/api/v3/order", Weight: 1, IsOrder: true},
	{Method: http.MethodPost, Path: "/api/v3/order/test", Weight: 1},
	{Method: http.MethodDelete, Path: "/api/v3/order", Weight: 1},
	{Method: http.MethodGet, Path: "/api/v3/order", Weight: 4},
	{Method: http.MethodGet, Path: "/api/v3/openOrders", Weight: 6},
}

// DefaultWeight is charged for endpoints missing from the table.
const DefaultWeight = 1

// CostFor returns the cost of a REST call. Some endpoints scale with query
// parameters (depth limit, all-symbol tickers).
func CostFor(method, path string, query url.Values) Cost {
	row, ok := lookup(method, path)
	if !ok {
		return Cost{Weight: DefaultWeight, Requests: 1}
	}

	weight := row.Weight
	switch row.Path {
	case "/api/v3/depth":
		weight = depthWeight(query.Get("limit"))
	case "/api/v3/ticker/price":
		if query.Get("symbol") == "" {
			weight = 4
		}
	case "/api/v3/ticker/24hr":
		if query.Get("symbol") == "" {
			weight = 80
		}
	case "/api/v3/openOrders":
		if query.Get("symbol") == "" {
			weight = 80
		}
	}

	kind := KindRequest
	if row.IsOrder {
		kind = KindOrder
	}
	return CostOf(kind, weight)
}

// IsOrderEndpoint reports whether the endpoint consumes order count.
func IsOrderEndpoint(method, path string) bool {
	row, ok := lookup(method, path)
	return ok && row.IsOrder
}

func lookup(method, path string) (EndpointWeight, bool) {
	for _, row := range weightTable {
		if row.Method == method && row.Path == strings.TrimSuffix(path, "/") {
			return row, true
		}
	}
	return EndpointWeight{}, false
}

func depthWeight(limit string) int {
	n, err := strconv.Atoi(limit)
	if err != nil || n <= 0 {
		n = 100
	}
	switch {
	case n <= 100:
		return 5
	case n <= 500:
		return 25
	case n <= 1000:
		return 50
	default:
		return 250
	}
}
