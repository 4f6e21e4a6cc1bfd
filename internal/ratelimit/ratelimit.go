// Package ratelimit throttles lead submissions per client address.
package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/gestaobankrio-code/maracana-purple-glow/internal/config"
)

const (
	idleTTL    = 10 * time.Minute
	sweepEvery = time.Minute
)

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter keeps one token bucket per client key.
type Limiter struct {
	mu        sync.Mutex
	clients   map[string]*entry
	rps       rate.Limit
	burst     int
	lastSweep time.Time
	now       func() time.Time
}

// New creates a limiter allowing rps sustained requests per client with the
// given burst. rps <= 0 disables limiting.
func New(rps float64, burst int) *Limiter {
	return &Limiter{
		clients: make(map[string]*entry),
		rps:     rate.Limit(rps),
		burst:   burst,
		now:     time.Now,
	}
}

// Enabled reports whether any limit is applied.
func (l *Limiter) Enabled() bool {
	return l != nil && l.rps > 0
}

// Allow reports whether the client identified by key may proceed now.
func (l *Limiter) Allow(key string) bool {
	if !l.Enabled() {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= sweepEvery {
		l.sweep(now)
	}

	e, ok := l.clients[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.clients[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// sweep drops limiters idle for longer than idleTTL. Caller holds mu.
func (l *Limiter) sweep(now time.Time) {
	for k, e := range l.clients {
		if now.Sub(e.lastSeen) > idleTTL {
			delete(l.clients, k)
		}
	}
	l.lastSweep = now
}

// ClientResolver identifies the caller behind the request. X-Forwarded-For
// is only believed when the direct peer is one of the trusted proxies.
type ClientResolver struct {
	trusted []*net.IPNet
}

// NewClientResolver builds a resolver from CIDRs or bare IPs. With no
// proxies the remote address is always used.
func NewClientResolver(proxies []string) (*ClientResolver, error) {
	c := &ClientResolver{}
	for _, p := range proxies {
		n, err := config.ParseProxy(p)
		if err != nil {
			return nil, err
		}
		c.trusted = append(c.trusted, n)
	}
	return c, nil
}

// ClientKey returns the client IP. Behind trusted proxies it is the
// rightmost X-Forwarded-For hop that is not itself a trusted proxy; hops
// further left are client-supplied and ignored. A nil resolver trusts no
// proxy.
func (c *ClientResolver) ClientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if !c.isTrusted(host) {
		return host
	}

	hops := strings.Split(strings.Join(r.Header.Values("X-Forwarded-For"), ","), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if net.ParseIP(hop) == nil {
			// Garbage in the chain; stop at the last hop we could vouch for.
			break
		}
		if !c.isTrusted(hop) {
			return hop
		}
		host = hop
	}
	return host
}

func (c *ClientResolver) isTrusted(addr string) bool {
	if c == nil || len(c.trusted) == 0 {
		return false
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, n := range c.trusted {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
