package vision

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// unixThreshold separates delta-seconds from absolute unix timestamps in
// reset headers.
const unixThreshold = 1_000_000_000

// RetryAfterFromHeader extracts the wait hint from a throttled response.
// It understands, in order of preference:
//
//   - retry-after-ms: milliseconds
//   - Retry-After: delta-seconds or an HTTP date
//   - X-RateLimit-Reset: unix seconds or delta-seconds
//   - x-ratelimit-reset-requests: a Go-style duration such as "6m0s" or "20ms"
//
// Zero is returned when no header yields a positive duration.
func RetryAfterFromHeader(h http.Header, now time.Time) time.Duration {
	if h == nil {
		return 0
	}
	if v := strings.TrimSpace(h.Get("retry-after-ms")); v != "" {
		if ms, err := strconv.ParseFloat(v, 64); err == nil && ms > 0 {
			return time.Duration(ms * float64(time.Millisecond))
		}
	}
	if v := strings.TrimSpace(h.Get("Retry-After")); v != "" {
		if s, err := strconv.Atoi(v); err == nil && s > 0 {
			return time.Duration(s) * time.Second
		}
		if t, err := http.ParseTime(v); err == nil {
			if d := t.Sub(now); d > 0 {
				return d
			}
		}
	}
	if v := strings.TrimSpace(h.Get("X-RateLimit-Reset")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			if n >= unixThreshold {
				if d := time.Unix(n, 0).Sub(now); d > 0 {
					return d
				}
			} else {
				return time.Duration(n) * time.Second
			}
		}
	}
	if v := strings.TrimSpace(h.Get("x-ratelimit-reset-requests")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return 0
}
