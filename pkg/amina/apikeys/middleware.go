package apikeys

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aminahq/amina-api/pkg/amina/models"
	"github.com/aminahq/amina-api/pkg/amina/ratelimit"
	"github.com/aminahq/amina-api/pkg/amina/response"
	"github.com/aminahq/amina-api/pkg/amina/secrets"
	"github.com/gin-gonic/gin"
)

const (
	// ContextKeyUser is the key for the resolved owner in gin context
	ContextKeyUser = "user"
	// ContextKeyAPIKey is the key for the resolved API key record
	ContextKeyAPIKey = "api_key"
	// ContextKeyUserID is the key for the owner's user ID
	ContextKeyUserID = "user_id"
)

// RequireAPIKey authenticates requests with a Bearer API key, checks
// expiry, then consults the rate limiter with the key's own policy.
// The ordered check is identity, expiry, rate limit; usage is recorded
// after the response has been written.
func RequireAPIKey(store *Store, limiter *ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Unauthorized(c, "Missing Authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Unauthorized(c, "Invalid Authorization format. Use: Bearer <api_key>")
			return
		}

		presented := strings.TrimSpace(parts[1])
		if !strings.HasPrefix(presented, secrets.APIKeyPrefix) {
			response.Unauthorized(c, "Invalid API key format")
			return
		}

		user, key, err := store.Verify(presented)
		if errors.Is(err, ErrUnavailable) {
			response.Unavailable(c, "Authentication service unavailable")
			return
		}
		if user == nil || key == nil {
			response.Unauthorized(c, "Invalid API key")
			return
		}

		if !store.CheckNotExpired(key) {
			response.Unauthorized(c, "API key has expired")
			return
		}

		subject := fmt.Sprintf("api:%s:%s", user.ID, key.KeyID)
		result := limiter.Check(c.Request.Context(), subject, store.Policy(key))
		ratelimit.SetHeaders(c, result)
		if !result.Allowed {
			response.RateLimited(c, fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", result.RetryAfter))
			return
		}

		c.Set(ContextKeyUser, user)
		c.Set(ContextKeyAPIKey, key)
		c.Set(ContextKeyUserID, user.ID)

		c.Next()

		// Record usage after the handler chain has produced the response
		// (fire and forget)
		go store.RecordUsage(user.ID, key.KeyID)
	}
}

// RequirePermission gates a route on an API key scope. The "all" scope
// subsumes every other scope.
func RequirePermission(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key, ok := GetAPIKey(c)
		if !ok || !key.HasPermission(scope) {
			response.Forbidden(c, "Missing required permission: "+scope)
			return
		}
		c.Next()
	}
}

// GetAPIKey returns the authenticated API key record from the gin context
func GetAPIKey(c *gin.Context) (*models.APIKey, bool) {
	v, exists := c.Get(ContextKeyAPIKey)
	if !exists {
		return nil, false
	}
	key, ok := v.(*models.APIKey)
	return key, ok
}

// GetUser returns the authenticated key owner from the gin context
func GetUser(c *gin.Context) (*models.User, bool) {
	v, exists := c.Get(ContextKeyUser)
	if !exists {
		return nil, false
	}
	user, ok := v.(*models.User)
	return user, ok
}
