package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimitConfig defines rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int
	Burst             int
	// Exempt lists path prefixes that are never limited.
	Exempt []string
	// IdleTTL is how long an idle client's limiter is kept.
	IdleTTL time.Duration
}

// DefaultRateLimitConfig exempts probes and the event stream.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		Burst:             200,
		Exempt:            []string{"/health", "/metrics", "/api/events/stream"},
		IdleTTL:           10 * time.Minute,
	}
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clients holds one limiter per remote address and forgets idle ones.
type clients struct {
	mu        sync.Mutex
	byIP      map[string]*client
	rps       rate.Limit
	burst     int
	ttl       time.Duration
	lastSweep time.Time
	now       func() time.Time
}

func newClients(cfg RateLimitConfig) *clients {
	ttl := cfg.IdleTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &clients{
		byIP:  make(map[string]*client),
		rps:   rate.Limit(cfg.RequestsPerSecond),
		burst: cfg.Burst,
		ttl:   ttl,
		now:   time.Now,
	}
}

func (cs *clients) get(ip string) *rate.Limiter {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	now := cs.now()
	if now.Sub(cs.lastSweep) > cs.ttl {
		for k, c := range cs.byIP {
			if now.Sub(c.lastSeen) > cs.ttl {
				delete(cs.byIP, k)
			}
		}
		cs.lastSweep = now
	}

	c, ok := cs.byIP[ip]
	if !ok {
		c = &client{limiter: rate.NewLimiter(cs.rps, cs.burst)}
		cs.byIP[ip] = c
	}
	c.lastSeen = now
	return c.limiter
}

func (cs *clients) len() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.byIP)
}

// RateLimit creates a per-IP rate limiting middleware.
func RateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	return rateLimit(cfg, newClients(cfg))
}

func rateLimit(cfg RateLimitConfig, cs *clients) gin.HandlerFunc {
	return func(c *gin.Context) {
		if exempt(cfg.Exempt, c.Request.URL.Path) {
			c.Next()
			return
		}
		if !cs.get(c.ClientIP()).Allow() {
			reject(c, cfg.RequestsPerSecond)
			return
		}
		c.Next()
	}
}

// GlobalRateLimit creates a global rate limiting middleware.
func GlobalRateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	limiter := rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)

	return func(c *gin.Context) {
		if exempt(cfg.Exempt, c.Request.URL.Path) {
			c.Next()
			return
		}
		if !limiter.Allow() {
			reject(c, cfg.RequestsPerSecond)
			return
		}
		c.Next()
	}
}

func exempt(prefixes []string, path string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func reject(c *gin.Context, rps int) {
	wait := 1
	if rps > 0 {
		wait = int(math.Ceil(1 / float64(rps)))
	}
	c.Header("Retry-After", strconv.Itoa(wait))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"error": "rate limit exceeded",
		"kind":  "rate_limited",
	})
}
