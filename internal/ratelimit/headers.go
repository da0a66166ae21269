package ratelimit

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Usage is a server-reported consumption value for one window.
type Usage struct {
	Counter  Counter
	Interval time.Duration
	Value    int
}

// Header prefixes carrying authoritative usage, e.g. X-MBX-USED-WEIGHT-1M
// or X-MBX-ORDER-COUNT-10S.
const (
	weightHeaderPrefix = "X-Mbx-Used-Weight-"
	orderHeaderPrefix  = "X-Mbx-Order-Count-"
)

// ParseUsageHeaders extracts authoritative usage values. Unknown or
// malformed headers are ignored.
func ParseUsageHeaders(h http.Header) []Usage {
	if len(h) == 0 {
		return nil
	}
	var out []Usage
	for name, values := range h {
		if len(values) == 0 {
			continue
		}
		canonical := http.CanonicalHeaderKey(name)
		var counter Counter
		var suffix string
		switch {
		case strings.HasPrefix(canonical, weightHeaderPrefix):
			counter, suffix = CounterWeight, canonical[len(weightHeaderPrefix):]
		case strings.HasPrefix(canonical, orderHeaderPrefix):
			counter, suffix = CounterOrders, canonical[len(orderHeaderPrefix):]
		default:
			continue
		}
		interval, ok := parseInterval(suffix)
		if !ok {
			continue
		}
		v, err := strconv.Atoi(strings.TrimSpace(values[0]))
		if err != nil || v < 0 {
			continue
		}
		out = append(out, Usage{Counter: counter, Interval: interval, Value: v})
	}
	return out
}

// parseInterval turns "1M", "10S", "1H", "1D" into a duration.
func parseInterval(s string) (time.Duration, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) < 2 {
		return 0, false
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return 0, false
	}
	var unit time.Duration
	switch s[len(s)-1] {
	case 'S':
		unit = time.Second
	case 'M':
		unit = time.Minute
	case 'H':
		unit = time.Hour
	case 'D':
		unit = 24 * time.Hour
	default:
		return 0, false
	}
	return time.Duration(n) * unit, true
}
