package middleware

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tripdesk/tripdesk-portal/internal/http/response"
)

// RateLimitConfig defines fixed-window rate limiting parameters.
type RateLimitConfig struct {
	Requests int                            // Max requests per window
	Window   time.Duration                  // Time window duration
	KeyFunc  func(r *http.Request) []string // Function to generate rate limit keys
	SkipFunc func(r *http.Request) bool     // Function to skip rate limiting
}

// RateLimiter counts requests in Redis. On Redis errors requests are
// allowed through (fail open).
type RateLimiter struct {
	rdb    *redis.Client
	config RateLimitConfig
}

func NewRateLimiter(rdb *redis.Client, config RateLimitConfig) *RateLimiter {
	return &RateLimiter{rdb: rdb, config: config}
}

func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rl.config.SkipFunc != nil && rl.config.SkipFunc(r) {
				next.ServeHTTP(w, r)
				return
			}

			for _, key := range rl.config.KeyFunc(r) {
				if !rl.allow(r.Context(), key) {
					response.RateLimit(w)
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) allow(ctx context.Context, key string) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	// Hash the key so raw IPs/emails never land in Redis.
	sum := sha256.Sum256([]byte(key))
	window := time.Now().Unix() / int64(rl.config.Window.Seconds())
	redisKey := fmt.Sprintf("ratelimit:%x:%d", sum, window)

	count, err := rl.rdb.Incr(ctx, redisKey).Result()
	if err != nil {
		return true
	}
	if count == 1 {
		rl.rdb.Expire(ctx, redisKey, rl.config.Window)
	}
	return count <= int64(rl.config.Requests)
}

// AuthRateLimitKeyFunc limits auth endpoints by client IP.
func AuthRateLimitKeyFunc(r *http.Request) []string {
	if ip := clientIP(r); ip != "" {
		return []string{"ip:" + ip}
	}
	return nil
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
