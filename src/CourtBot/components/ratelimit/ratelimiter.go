package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode"
)

// Rule is a ceiling of Limit admissions per sliding Window.
type Rule struct {
	Limit  int
	Window time.Duration
}

// Limiter admits external calls under a global ceiling and independent
// per-route ceilings. Routes are bucketed by RouteKey.
type Limiter struct {
	mu         sync.Mutex
	global     Rule
	route      Rule
	overrides  map[string]Rule
	globalHits []time.Time
	routeHits  map[string][]time.Time
	now        func() time.Time
}

func New(global, route Rule) *Limiter {
	return &Limiter{
		global:    clamp(global),
		route:     clamp(route),
		overrides: make(map[string]Rule),
		routeHits: make(map[string][]time.Time),
		now:       time.Now,
	}
}

// clamp keeps a misconfigured rule admitting at least one call per window.
func clamp(r Rule) Rule {
	if r.Limit < 1 {
		r.Limit = 1
	}
	return r
}

// SetRouteRule overrides the default per-route ceiling for one route key.
func (l *Limiter) SetRouteRule(routeKey string, r Rule) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.overrides[routeKey] = clamp(r)
}

// RouteKey buckets a call by method and normalized path, with numeric path
// segments (ids, snowflakes) collapsed to a wildcard.
func RouteKey(method, path string) string {
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if p != "" && isDigits(p) {
			parts[i] = "#"
		}
	}
	return method + " " + strings.Join(parts, "/")
}

func isDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// WaitForSlot blocks until both the global and the route window have
// capacity, then records the admission in both. The wait is a bounded
// sleep-and-recheck loop, never a busy spin.
func (l *Limiter) WaitForSlot(ctx context.Context, routeKey string) error {
	for {
		ok, retry := l.reserve(routeKey)
		if ok {
			return nil
		}
		if retry <= 0 {
			retry = time.Millisecond
		}
		timer := time.NewTimer(retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// reserve attempts to take a slot in both windows. On failure it returns the
// duration until the earliest blocking admission leaves its window.
func (l *Limiter) reserve(routeKey string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	rule := l.route
	if r, ok := l.overrides[routeKey]; ok {
		rule = r
	}

	l.globalHits = prune(l.globalHits, now, l.global.Window)
	l.routeHits[routeKey] = prune(l.routeHits[routeKey], now, rule.Window)

	var retry time.Duration
	if len(l.globalHits) >= l.global.Limit {
		retry = l.globalHits[0].Add(l.global.Window).Sub(now)
	}
	hits := l.routeHits[routeKey]
	if len(hits) >= rule.Limit {
		if r := hits[0].Add(rule.Window).Sub(now); retry == 0 || r < retry {
			retry = r
		}
	}
	if retry > 0 {
		return false, retry
	}

	l.globalHits = append(l.globalHits, now)
	l.routeHits[routeKey] = append(hits, now)
	return true, 0
}

func prune(hits []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	return hits[i:]
}
