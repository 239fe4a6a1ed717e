package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
)

// Limiter decides whether one more request for key may proceed. retryAfter is only
// meaningful when allowed is false.
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error)
}

// RateLimitMiddleware rejects requests with 429 once the client IP has used up its
// bucket. A limiter backend failure lets the request through: onboarding must keep
// working when the shared rate-limit store is down.
func RateLimitMiddleware(limiter Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()

		allowed, retryAfter, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			Logger(c).Warn("rate limiter unavailable, allowing request", "error", err)
			c.Next()
			return
		}
		if !allowed {
			secs := int(math.Ceil(retryAfter.Seconds()))
			if secs < 1 {
				secs = 1
			}
			c.Header("Retry-After", strconv.Itoa(secs))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": secs,
			})
			return
		}

		c.Next()
	}
}

// bucket is the token-bucket state of one key
type bucket struct {
	tokens     float64
	lastUpdate time.Time
}

// MemoryLimiter is a per-process token bucket limiter. Idle buckets are evicted by a
// background sweep until Stop is called.
type MemoryLimiter struct {
	perMinute int
	burst     int
	idleTTL   time.Duration
	now       func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
	stopCh  chan struct{}
	stopped sync.Once
}

// NewMemoryLimiter creates a limiter refilling perMinute tokens a minute up to burst
func NewMemoryLimiter(perMinute, burst int, cleanupInterval time.Duration) *MemoryLimiter {
	if cleanupInterval <= 0 {
		cleanupInterval = 5 * time.Minute
	}
	l := &MemoryLimiter{
		perMinute: perMinute,
		burst:     burst,
		idleTTL:   10 * time.Minute,
		now:       time.Now,
		buckets:   make(map[string]*bucket),
		stopCh:    make(chan struct{}),
	}
	go l.cleanup(cleanupInterval)
	return l
}

func (l *MemoryLimiter) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			now := l.now()
			for key, b := range l.buckets {
				if now.Sub(b.lastUpdate) > l.idleTTL {
					delete(l.buckets, key)
				}
			}
			l.mu.Unlock()
		case <-l.stopCh:
			return
		}
	}
}

// Stop ends the cleanup goroutine. It is safe to call more than once.
func (l *MemoryLimiter) Stop() {
	l.stopped.Do(func() { close(l.stopCh) })
}

// Allow implements Limiter. It never returns an error.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	perSecond := float64(l.perMinute) / 60.0

	b, ok := l.buckets[key]
	if !ok {
		l.buckets[key] = &bucket{tokens: float64(l.burst) - 1, lastUpdate: now}
		return true, 0, nil
	}

	b.tokens = math.Min(float64(l.burst), b.tokens+now.Sub(b.lastUpdate).Seconds()*perSecond)
	b.lastUpdate = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0, nil
	}

	wait := time.Duration((1 - b.tokens) / perSecond * float64(time.Second))
	return false, wait, nil
}

// RedisLimiter shares buckets between replicas using the GCRA implementation of
// redis_rate.
type RedisLimiter struct {
	limiter *redis_rate.Limiter
	limit   redis_rate.Limit
	prefix  string
}

// NewRedisLimiter creates a limiter over client allowing perMinute requests a minute
// with bursts up to burst.
func NewRedisLimiter(client *redis.Client, perMinute, burst int) *RedisLimiter {
	return &RedisLimiter{
		limiter: redis_rate.NewLimiter(client),
		limit:   redis_rate.Limit{Rate: perMinute, Burst: burst, Period: time.Minute},
		prefix:  "itm:ratelimit:onboarding:",
	}
}

// Allow implements Limiter
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	res, err := l.limiter.Allow(ctx, l.prefix+key, l.limit)
	if err != nil {
		return false, 0, err
	}
	return res.Allowed > 0, res.RetryAfter, nil
}
