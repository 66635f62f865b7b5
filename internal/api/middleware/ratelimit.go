package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Idle clients are evicted after this long so the limiter map does not
// grow one entry per guest IP for the life of the process.
const limiterIdleTTL = 10 * time.Minute

// RateLimit returns a middleware enforcing a per-client token bucket.
// Clients are keyed by remote IP; the guest submission endpoint sits
// behind this so one device cannot hammer the registry.
func RateLimit(perSecond float64, burst int) func(http.Handler) http.Handler {
	return rateLimit(perSecond, burst, limiterIdleTTL, time.Now)
}

func rateLimit(perSecond float64, burst int, idleTTL time.Duration, now func() time.Time) func(http.Handler) http.Handler {
	type client struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}
	var (
		mu      sync.Mutex
		clients = make(map[string]*client)
	)

	limiterFor := func(key string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		t := now()
		c, ok := clients[key]
		if !ok {
			// Sweep idle entries when a new client shows up, keeping
			// the map bounded by the set of recently active IPs.
			for k, v := range clients {
				if t.Sub(v.lastSeen) > idleTTL {
					delete(clients, k)
				}
			}
			c = &client{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
			clients[key] = c
		}
		c.lastSeen = t
		return c.limiter
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}
			if !limiterFor(host).Allow() {
				http.Error(w, `{"error":"rate_limited"}`, http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
