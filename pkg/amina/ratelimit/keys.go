package ratelimit

import (
	"errors"

	"github.com/gin-gonic/gin"
)

// ErrNoIdentifier means no usable client identifier could be derived.
// Checks fail closed on it: rejecting beats a shared anonymous bucket
// that every unidentified client would collide into.
var ErrNoIdentifier = errors.New("no client identifier")

// KeyFunc derives the rate-limit subject for a request.
type KeyFunc func(c *gin.Context) (string, error)

// ByClientIP keys anonymous traffic by network origin and path.
func ByClientIP() KeyFunc {
	return func(c *gin.Context) (string, error) {
		ip := c.ClientIP()
		if ip == "" {
			return "", ErrNoIdentifier
		}
		return "anon:" + ip + ":" + c.Request.URL.Path, nil
	}
}

// ByHeaderOrIP keys traffic by a client-supplied header, falling back to
// network origin when the header is absent. Runs ahead of authentication
// so credentialed and pre-auth traffic (registration included) share one
// budget per claimed identity.
func ByHeaderOrIP(header, prefix string) KeyFunc {
	return func(c *gin.Context) (string, error) {
		if id := c.GetHeader(header); id != "" {
			return prefix + ":" + id, nil
		}
		ip := c.ClientIP()
		if ip == "" {
			return "", ErrNoIdentifier
		}
		return prefix + ":ip:" + ip, nil
	}
}
