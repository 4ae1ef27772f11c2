package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"template-hub-indexer/shared/logger"
)

// RequireWebhookAuth rejects requests whose Authorization header does not
// carry the shared chainhook secret.
func RequireWebhookAuth(secret string, log *logger.Logger) gin.HandlerFunc {
	expected := "Bearer " + secret
	return func(c *gin.Context) {
		if secret == "" || c.GetHeader("Authorization") != expected {
			log.Warn("Rejected webhook with bad authorization", "path", c.FullPath(), "remote", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

type rateWindow struct {
	count   int
	started time.Time
}

// RateLimiter counts requests per source IP over a fixed window. The
// window resets in full when it expires, so a burst that exhausts the
// budget stays blocked until the reset.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]*rateWindow
	limit   int
	window  time.Duration

	now func() time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		windows: make(map[string]*rateWindow),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
}

func (rl *RateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, ok := rl.windows[ip]
	if !ok || now.Sub(w.started) >= rl.window {
		rl.windows[ip] = &rateWindow{count: 1, started: now}
		return true
	}
	if w.count >= rl.limit {
		return false
	}
	w.count++
	return true
}

// sweep drops expired windows so idle IPs do not accumulate forever.
func (rl *RateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for ip, w := range rl.windows {
		if now.Sub(w.started) >= rl.window {
			delete(rl.windows, ip)
		}
	}
}

// StartSweeper cleans up expired windows every five minutes.
func (rl *RateLimiter) StartSweeper() {
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			rl.sweep()
		}
	}()
}

// Middleware enforces the per-IP budget on webhook routes.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
