package ratelimiter

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MethodLimiter paces outbound calls with one token bucket per key (usually
// the RPC method namespace) and evicts buckets that have been idle.
type MethodLimiter struct {
	limit   rate.Limit
	burst   int
	mu      sync.Mutex
	byKey   map[string]*entry
	calls   uint64
	idleTTL time.Duration
	now     func() time.Time
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New returns nil when rps or burst is not positive; a nil limiter never blocks.
func New(rps float64, burst int, idleTTL time.Duration) *MethodLimiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &MethodLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		byKey:   make(map[string]*entry),
		idleTTL: idleTTL,
		now:     time.Now,
	}
}

// Wait blocks until a token for key is available or ctx is done.
func (l *MethodLimiter) Wait(ctx context.Context, key string) error {
	if l == nil {
		return nil
	}
	lim := l.limiterFor(Namespace(key))
	if lim == nil {
		return nil
	}
	return lim.Wait(ctx)
}

func (l *MethodLimiter) limiterFor(key string) *rate.Limiter {
	if key == "" {
		return nil
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.byKey[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.byKey[key] = e
	}
	e.lastSeen = now

	l.calls++
	if l.calls%256 == 0 {
		cutoff := now.Add(-l.idleTTL)
		for k, v := range l.byKey {
			if k != key && v.lastSeen.Before(cutoff) {
				delete(l.byKey, k)
			}
		}
	}
	return e.limiter
}

// Namespace maps "pool.dataset.query" to "pool".
func Namespace(method string) string {
	method = strings.TrimSpace(method)
	if i := strings.IndexByte(method, '.'); i > 0 {
		return method[:i]
	}
	return method
}
