package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/blocklist-app/blocklist-server/internal/metrics"
	"github.com/blocklist-app/blocklist-server/internal/models"
	"github.com/blocklist-app/blocklist-server/pkg/logger"
)

// cleanupInterval is how often the background goroutine sweeps idle limiters.
const cleanupInterval = time.Minute

const msgTooManyRequests = "Too many requests"

// Alerter is notified when a request is rate limited.
type Alerter interface {
	Alert(ctx context.Context, alert models.Alert)
}

// limiterEntry wraps a rate.Limiter with a last-accessed timestamp for TTL-based eviction.
type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	ttl      time.Duration
}

// RateLimiter holds per-client token buckets for any number of named limits.
// Buckets are keyed by limiter name, client IP and route pattern; each refills
// max tokens per window, which approximates a sliding window of max requests.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	alerter  Alerter
	nowFunc  func() time.Time
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRateLimiter creates a RateLimiter and starts its cleanup goroutine. alerter may be nil.
// Call Stop to release the goroutine.
func NewRateLimiter(alerter Alerter) *RateLimiter {
	rl := &RateLimiter{
		limiters: make(map[string]*limiterEntry),
		alerter:  alerter,
		nowFunc:  time.Now,
		stopCh:   make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Stop shuts down the background cleanup goroutine. Safe to call multiple times.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		close(rl.stopCh)
	})
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			rl.evictStale()
		}
	}
}

// evictStale removes limiters idle for longer than twice their window.
func (rl *RateLimiter) evictStale() {
	now := rl.nowFunc()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key, entry := range rl.limiters {
		if now.Sub(entry.lastSeen) > entry.ttl {
			delete(rl.limiters, key)
		}
	}
}

// LimiterCount returns the number of live buckets.
func (rl *RateLimiter) LimiterCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

func (rl *RateLimiter) allow(key string, limit rate.Limit, burst int, ttl time.Duration) bool {
	now := rl.nowFunc()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, ok := rl.limiters[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(limit, burst), ttl: ttl}
		rl.limiters[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// Limit returns middleware allowing max requests per window for each client
// and route. name separates the buckets of different limits.
func (rl *RateLimiter) Limit(name string, max int, window time.Duration) gin.HandlerFunc {
	if max <= 0 || window <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	limit := rate.Limit(float64(max) / window.Seconds())
	ttl := 2 * window
	retryAfter := strconv.Itoa(int(math.Ceil(window.Seconds() / float64(max))))

	return func(c *gin.Context) {
		ip := ClientIP(c)
		route := routeOf(c)
		key := name + "|" + ip + "|" + route

		if rl.allow(key, limit, max, ttl) {
			c.Next()
			return
		}

		metrics.RateLimited.WithLabelValues(name).Inc()
		logger.Log.Warn("Rate limit exceeded",
			zap.String("limiter", name),
			zap.String("ip", ip),
			zap.String("route", route),
			zap.String("requestId", GetRequestID(c)),
		)
		if rl.alerter != nil {
			rl.alerter.Alert(c.Request.Context(), models.Alert{
				Type:      "rate-limit",
				Path:      c.Request.URL.Path,
				IP:        ip,
				RequestID: GetRequestID(c),
				Limit:     max,
				Timestamp: rl.nowFunc().UTC(),
			})
		}

		c.Header("Retry-After", retryAfter)
		Abort(c, http.StatusTooManyRequests, msgTooManyRequests)
	}
}
