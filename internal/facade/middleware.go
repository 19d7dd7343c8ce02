package facade

import (
	"context"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

var (
	ipLimiters   = make(map[string]*rate.Limiter)
	ipLimitersMu sync.RWMutex
)

func getIPLimiter(ip string) *rate.Limiter {
	ipLimitersMu.RLock()
	limiter, ok := ipLimiters[ip]
	ipLimitersMu.RUnlock()
	if ok {
		return limiter
	}

	ipLimitersMu.Lock()
	defer ipLimitersMu.Unlock()
	if limiter, ok := ipLimiters[ip]; ok {
		return limiter
	}
	limiter = rate.NewLimiter(rate.Limit(20), 50)
	ipLimiters[ip] = limiter
	return limiter
}

func init() {
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			ipLimitersMu.Lock()
			ipLimiters = make(map[string]*rate.Limiter)
			ipLimitersMu.Unlock()
		}
	}()
}

// CORSMiddleware allows the façade to be called from a browser-based
// strategy host.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// RequestIDMiddleware tags every request with a correlation ID.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("RequestID", id)
		c.Writer.Header().Set("X-Request-ID", id)
		c.Next()
	}
}

// RateLimitMiddleware enforces a per-IP request budget.
func RateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		limiter := getIPLimiter(c.ClientIP())
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// TimeoutMiddleware bounds how long a handler may run.
func TimeoutMiddleware(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)

		done := make(chan struct{})
		go func() {
			c.Next()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			log.Printf("facade: timeout on %s %s", c.Request.Method, c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusRequestTimeout, gin.H{"error": "request timeout"})
		}
	}
}

// RequestLogger logs each request's outcome and records it in metrics.
func RequestLogger(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		if metrics != nil {
			metrics.IncrementRequest()
		}
		log.Printf("facade: %s %s %d %s", method, path, c.Writer.Status(), time.Since(start))
	}
}

type operatorClaims struct {
	jwt.RegisteredClaims
}

// AuthMiddleware enforces a bearer JWT signed with secret for mutating
// operator endpoints (/kill, /resume, /record-trade).
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		_, err := jwt.ParseWithClaims(parts[1], &operatorClaims{}, func(t *jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		})
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}
		c.Next()
	}
}
