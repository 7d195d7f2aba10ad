package auth

import (
	"strings"

	"github.com/aminahq/amina-api/pkg/amina/response"
	"github.com/gin-gonic/gin"
)

const (
	// ContextKeyUserID is the key for the authenticated user ID in gin context
	ContextKeyUserID = "user_id"
	// SessionCookieName is the cookie the dashboard stores its token in
	SessionCookieName = "session"
)

// RequireSession validates a session token from the Authorization header
// or the session cookie and sets the user ID in the context.
func RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			if cookie, err := c.Cookie(SessionCookieName); err == nil {
				token = cookie
			}
		}

		if token == "" {
			response.Unauthorized(c, "Authentication required")
			return
		}

		claims, err := ValidateSessionToken(token)
		if err != nil {
			if err == ErrExpiredToken {
				response.Unauthorized(c, "Session has expired")
			} else {
				response.Unauthorized(c, "Invalid session")
			}
			return
		}

		c.Set(ContextKeyUserID, claims.UserID)
		c.Next()
	}
}

// GetUserID returns the authenticated user ID from the gin context
func GetUserID(c *gin.Context) (string, bool) {
	userID := c.GetString(ContextKeyUserID)
	return userID, userID != ""
}

func bearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}
