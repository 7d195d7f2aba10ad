package ratelimit

import (
	"fmt"
	"strconv"

	"github.com/aminahq/amina-api/pkg/amina/response"
	"github.com/gin-gonic/gin"
)

// SetHeaders attaches the standard rate-limit headers. Retry-After is
// only set when the request was throttled.
func SetHeaders(c *gin.Context, r Result) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(r.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(r.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(r.Reset, 10))
	if !r.Allowed {
		c.Header("Retry-After", strconv.Itoa(r.RetryAfter))
	}
}

// Middleware throttles requests using the given policy and key strategy.
func Middleware(l *Limiter, policy Policy, key KeyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		subject, err := key(c)
		if err != nil {
			response.Forbidden(c, "Missing client identifiers")
			return
		}

		result := l.Check(c.Request.Context(), subject, policy)
		SetHeaders(c, result)

		if !result.Allowed {
			response.RateLimited(c, fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", result.RetryAfter))
			return
		}

		c.Next()
	}
}
