// Package ratelimit provides per-client request limits for the HTTP API.
package ratelimit

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limit allows Count requests per Period.
type Limit struct {
	Count  int
	Period time.Duration
}

func (l Limit) String() string {
	return fmt.Sprintf("%d per %s", l.Count, l.Period)
}

var periods = map[string]time.Duration{
	"second": time.Second,
	"minute": time.Minute,
	"hour":   time.Hour,
	"day":    24 * time.Hour,
}

// ParseLimits parses limits such as "200 per day;50 per hour". Units may be
// singular or plural. An empty string yields no limits.
func ParseLimits(s string) ([]Limit, error) {
	var limits []Limit
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		fields := strings.Fields(part)
		if len(fields) != 3 || fields[1] != "per" {
			return nil, fmt.Errorf("invalid rate limit %q, expected \"N per unit\"", part)
		}

		count, err := strconv.Atoi(fields[0])
		if err != nil || count <= 0 {
			return nil, fmt.Errorf("invalid rate limit %q: count must be a positive integer", part)
		}
		period, ok := periods[strings.TrimSuffix(strings.ToLower(fields[2]), "s")]
		if !ok {
			return nil, fmt.Errorf("invalid rate limit %q: unknown unit %q", part, fields[2])
		}

		limits = append(limits, Limit{Count: count, Period: period})
	}
	return limits, nil
}

// Limiter enforces a set of limits per client key. Each limit is a token
// bucket holding Count tokens refilled evenly over Period.
type Limiter struct {
	mu      sync.Mutex
	limits  []Limit
	clients map[string]*client
	now     func() time.Time
}

type client struct {
	buckets  []*rate.Limiter
	lastSeen time.Time
}

// New creates a limiter enforcing every limit at once.
func New(limits ...Limit) *Limiter {
	return &Limiter{
		limits:  limits,
		clients: make(map[string]*client),
		now:     time.Now,
	}
}

// Allow reports whether a request from key fits every limit. A rejected
// request consumes nothing.
func (l *Limiter) Allow(key string) bool {
	if len(l.limits) == 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	c, ok := l.clients[key]
	if !ok {
		c = &client{buckets: make([]*rate.Limiter, len(l.limits))}
		for i, limit := range l.limits {
			every := rate.Every(limit.Period / time.Duration(limit.Count))
			c.buckets[i] = rate.NewLimiter(every, limit.Count)
		}
		l.clients[key] = c
	}
	c.lastSeen = now

	reservations := make([]*rate.Reservation, 0, len(c.buckets))
	for _, b := range c.buckets {
		r := b.ReserveN(now, 1)
		if !r.OK() || r.DelayFrom(now) > 0 {
			r.CancelAt(now)
			for _, prev := range reservations {
				prev.CancelAt(now)
			}
			return false
		}
		reservations = append(reservations, r)
	}
	return true
}

// Sweep forgets clients idle for longer than idle and reports how many were dropped.
func (l *Limiter) Sweep(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-idle)
	removed := 0
	for key, c := range l.clients {
		if c.lastSeen.Before(cutoff) {
			delete(l.clients, key)
			removed++
		}
	}
	return removed
}

// Middleware rejects requests over the limit with 429.
func (l *Limiter) Middleware(keyFunc func(r *http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow(keyFunc(r)) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = fmt.Fprint(w, `{"status":"error","message":"Rate limit exceeded. Try again later."}`)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP extracts the caller's address, preferring X-Forwarded-For.
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.SplitN(forwarded, ",", 2)
		return strings.TrimSpace(parts[0])
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
