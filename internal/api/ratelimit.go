/*
[AI GENERATED - GOVERNANCE PROTOCOL]
──────────────────────────────────────────────────────────────
Model:       Claude Opus 4.6
Tier:        L3
Logic:       Redis-backed fixed-window rate limiter, one counter key
             per (client IP, calendar minute), INCR+EXPIRE.
Root Cause:  Sprint task Q031 — rate limiting for the cancel/progress
             surface.
Context:     The teacher's middleware/ratelimit.go is an in-memory
             sliding window with a doc comment reading "Uses in-memory
             storage. For distributed setups, extend with Redis." This
             is that extension: a worker process is not expected to be
             the only consumer of its own status surface, so a window
             that doesn't survive a restart or span replicas is the
             wrong shape here.
Suitability: L3 — standard fixed-window counter over redis INCR.
──────────────────────────────────────────────────────────────
*/

package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/cotaai/quotepipe/internal/redisclient"
)

// RateLimiter is a fixed-window limiter: rpm requests per client IP per
// calendar minute. A nil redis client (or rpm <= 0) disables limiting.
type RateLimiter struct {
	rdb *redisclient.Client
	rpm int
	log zerolog.Logger
}

func NewRateLimiter(rdb *redisclient.Client, rpm int, log zerolog.Logger) *RateLimiter {
	return &RateLimiter{rdb: rdb, rpm: rpm, log: log}
}

func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.rdb == nil || rl.rpm <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		ip := clientIP(r)
		window := time.Now().UTC().Format("200601021504")
		key := "quotepipe:ratelimit:" + ip + ":" + window

		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()

		count, err := rl.rdb.C.Incr(ctx, key).Result()
		if err != nil {
			rl.log.Warn().Err(err).Msg("rate limiter unavailable, allowing request")
			next.ServeHTTP(w, r)
			return
		}
		if count == 1 {
			rl.rdb.C.Expire(ctx, key, 90*time.Second)
		}
		if int(count) > rl.rpm {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
