// ratelimit.go provides Gin middleware that enforces per-actor rate limits, returning
// 429 responses when the configured requests-per-minute threshold is exceeded. A single
// replica uses the in-memory token bucket; a fleet shares a Redis GCRA limiter.
package middleware

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"

	"github.com/academy-hub/audit-trail/internal/config"
)

// RateLimitConfig holds configuration for rate limiting
type RateLimitConfig struct {
	// RequestsPerMinute is the maximum number of requests allowed per minute
	RequestsPerMinute int
	// BurstSize is the maximum burst of requests allowed
	BurstSize int
	// CleanupInterval is how often to clean up expired entries
	CleanupInterval time.Duration
}

// DefaultRateLimitConfig returns sensible defaults
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 300, // screens that write several records per user action
		BurstSize:         60,
		CleanupInterval:   5 * time.Minute,
	}
}

// RateLimitConfigFrom applies the security.rate_limiting section over the defaults.
func RateLimitConfigFrom(cfg config.RateLimitingConfig) RateLimitConfig {
	rc := DefaultRateLimitConfig()
	if cfg.RequestsPerMinute > 0 {
		rc.RequestsPerMinute = cfg.RequestsPerMinute
	}
	if cfg.Burst > 0 {
		rc.BurstSize = cfg.Burst
	}
	return rc
}

// Decision is the outcome of a rate limit check
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter decides whether another request for key may proceed
type Limiter interface {
	Allow(ctx context.Context, key string) Decision
	Limit() int
}

// rateLimitEntry tracks request counts for a single client
type rateLimitEntry struct {
	tokens     float64
	lastUpdate time.Time
}

// RateLimiter implements an in-memory token bucket rate limiter
type RateLimiter struct {
	config  RateLimitConfig
	entries map[string]*rateLimitEntry
	mu      sync.Mutex
	stopCh  chan struct{}
}

// NewRateLimiter creates a new rate limiter with the given config
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	rl := &RateLimiter{
		config:  config,
		entries: make(map[string]*rateLimitEntry),
		stopCh:  make(chan struct{}),
	}

	go rl.cleanup()

	return rl
}

// cleanup periodically removes expired entries
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.evictIdle(time.Now(), 10*time.Minute)
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *RateLimiter) evictIdle(now time.Time, idle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, entry := range rl.entries {
		if now.Sub(entry.lastUpdate) > idle {
			delete(rl.entries, key)
		}
	}
}

// Stop stops the cleanup goroutine
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

// Limit returns the configured requests per minute
func (rl *RateLimiter) Limit() int {
	return rl.config.RequestsPerMinute
}

func (rl *RateLimiter) tokensPerSecond() float64 {
	return float64(rl.config.RequestsPerMinute) / 60.0
}

// Allow consumes a token for key if one is available
func (rl *RateLimiter) Allow(_ context.Context, key string) Decision {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	entry, exists := rl.entries[key]

	if !exists {
		// New client, give them full burst
		entry = &rateLimitEntry{tokens: float64(rl.config.BurstSize), lastUpdate: now}
		rl.entries[key] = entry
	} else {
		elapsed := now.Sub(entry.lastUpdate)
		entry.tokens = math.Min(float64(rl.config.BurstSize), entry.tokens+elapsed.Seconds()*rl.tokensPerSecond())
		entry.lastUpdate = now
	}

	if entry.tokens >= 1 {
		entry.tokens--
		return Decision{Allowed: true, Remaining: int(entry.tokens)}
	}

	wait := time.Minute
	if rate := rl.tokensPerSecond(); rate > 0 {
		wait = time.Duration((1 - entry.tokens) / rate * float64(time.Second))
	}
	return Decision{Allowed: false, Remaining: 0, RetryAfter: wait}
}

// redisLimiter is the subset of *redis_rate.Limiter used here
type redisLimiter interface {
	Allow(ctx context.Context, key string, limit redis_rate.Limit) (*redis_rate.Result, error)
}

// RedisRateLimiter shares buckets between replicas through Redis
type RedisRateLimiter struct {
	limiter redisLimiter
	limit   redis_rate.Limit
}

// NewRedisRateLimiter creates a limiter backed by redis_rate's GCRA implementation.
func NewRedisRateLimiter(limiter *redis_rate.Limiter, config RateLimitConfig) *RedisRateLimiter {
	return newRedisRateLimiter(limiter, config)
}

func newRedisRateLimiter(limiter redisLimiter, config RateLimitConfig) *RedisRateLimiter {
	limit := redis_rate.PerMinute(config.RequestsPerMinute)
	if config.BurstSize > 0 {
		limit.Burst = config.BurstSize
	}
	return &RedisRateLimiter{limiter: limiter, limit: limit}
}

// Limit returns the configured requests per minute
func (rl *RedisRateLimiter) Limit() int {
	return rl.limit.Rate
}

// Allow asks Redis for a token. Redis errors let the request through.
func (rl *RedisRateLimiter) Allow(ctx context.Context, key string) Decision {
	res, err := rl.limiter.Allow(ctx, "audit:ratelimit:"+key, rl.limit)
	if err != nil {
		slog.Warn("rate limiter unavailable, allowing request", "key", key, "error", err)
		return Decision{Allowed: true, Remaining: rl.limit.Burst}
	}
	return Decision{
		Allowed:    res.Allowed > 0,
		Remaining:  res.Remaining,
		RetryAfter: res.RetryAfter,
	}
}

// RateLimitMiddleware creates a Gin middleware that rate limits requests
func RateLimitMiddleware(limiter Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := getRateLimitKey(c)
		d := limiter.Allow(c.Request.Context(), key)

		c.Header("X-RateLimit-Limit", strconv.Itoa(limiter.Limit()))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))

		if !d.Allowed {
			retry := retryAfterSeconds(d.RetryAfter)
			c.Header("Retry-After", strconv.Itoa(retry))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"retry_after": retry,
			})
			return
		}

		c.Next()
	}
}

func retryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// getRateLimitKey determines the key to use for rate limiting
// Priority: resolved actor > IP address
func getRateLimitKey(c *gin.Context) string {
	if userID, exists := c.Get(UserIDKey); exists {
		if id, ok := userID.(string); ok && id != "" {
			return "user:" + id
		}
	}

	ip := c.ClientIP()
	if ip == "" {
		ip = c.Request.RemoteAddr
	}
	return "ip:" + ip
}
