package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nosift/team-dh/pkg/errors"
	"github.com/nosift/team-dh/pkg/response"
)

type rateCounter struct {
	count     int
	windowEnd time.Time
}

// RateLimit limits requests per (clientIP, path) within a fixed window. The
// counters live in process memory, which matches the single-instance
// deployment model of the redemption surface.
func RateLimit(maxRequests int, window time.Duration) gin.HandlerFunc {
	var (
		mu      sync.Mutex
		buckets = make(map[string]*rateCounter)
		sweep   time.Time
	)

	return func(c *gin.Context) {
		if maxRequests <= 0 || window <= 0 {
			c.Next()
			return
		}

		key := c.ClientIP() + "|" + c.FullPath()
		now := time.Now()

		mu.Lock()
		// Piggyback stale-bucket cleanup on request traffic instead of a
		// background goroutine.
		if now.After(sweep) {
			for k, b := range buckets {
				if now.After(b.windowEnd) {
					delete(buckets, k)
				}
			}
			sweep = now.Add(window)
		}

		bucket, ok := buckets[key]
		if !ok || now.After(bucket.windowEnd) {
			bucket = &rateCounter{windowEnd: now.Add(window)}
			buckets[key] = bucket
		}
		bucket.count++
		count := bucket.count
		resetIn := time.Until(bucket.windowEnd)
		mu.Unlock()

		remaining := maxRequests - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(maxRequests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.Itoa(int(resetIn.Seconds())))

		if count > maxRequests {
			c.Header("Retry-After", strconv.Itoa(int(resetIn.Seconds())+1))
			response.Error(c, errors.ErrRateLimit)
			c.Abort()
			return
		}

		c.Next()
	}
}
