// Package ratelimit provides a per-connection token bucket used by the
// dispatcher as an extra admission control next to resource claims.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ConnLimiter applies a token bucket per connection id and periodically
// evicts idle entries.
type ConnLimiter struct {
	limit   rate.Limit
	burst   int
	mu      sync.Mutex
	byConn  map[uint64]*entry
	hits    uint64
	idleTTL time.Duration
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New creates a connection-keyed limiter; returns nil if args are invalid.
// A nil limiter admits everything.
func New(rps float64, burst int, idleTTL time.Duration) *ConnLimiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &ConnLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		byConn:  make(map[uint64]*entry),
		idleTTL: idleTTL,
	}
}

// Allow reports whether one token can be consumed for the connection at now.
func (l *ConnLimiter) Allow(connID uint64, now time.Time) bool {
	if l == nil {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.byConn[connID]
	if !ok {
		e = &entry{
			limiter:  rate.NewLimiter(l.limit, l.burst),
			lastSeen: now,
		}
		l.byConn[connID] = e
	}
	e.lastSeen = now
	allowed := e.limiter.AllowN(now, 1)

	l.hits++
	if l.hits%512 == 0 {
		cutoff := now.Add(-l.idleTTL)
		for id, v := range l.byConn {
			if v.lastSeen.Before(cutoff) {
				delete(l.byConn, id)
			}
		}
	}

	return allowed
}
