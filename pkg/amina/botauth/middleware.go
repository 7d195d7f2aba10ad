package botauth

import (
	"github.com/aminahq/amina-api/pkg/amina/response"
	"github.com/gin-gonic/gin"
)

const (
	// HeaderClientID carries the bot's client identifier
	HeaderClientID = "X-Client-Id"
	// HeaderClientSecret carries the bot's client secret
	HeaderClientSecret = "X-Client-Secret"

	// ContextKeyClientID is the key for the authenticated client id
	ContextKeyClientID = "bot_client_id"
	// ContextKeyClientSecret is the key for the validated client secret
	ContextKeyClientSecret = "bot_client_secret"
)

// RequireBotAuth authenticates bot requests via the X-Client-Id and
// X-Client-Secret headers. On routes with a :clientId parameter the path
// id must match the authenticated id, so a bot can only act on itself.
func RequireBotAuth(a *Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := c.GetHeader(HeaderClientID)
		if clientID == "" {
			response.Unauthorized(c, "Missing X-Client-Id header")
			return
		}
		clientSecret := c.GetHeader(HeaderClientSecret)
		if clientSecret == "" {
			response.Unauthorized(c, "Missing X-Client-Secret header")
			return
		}

		result, err := a.Authenticate(c.Request.Context(), clientID, clientSecret)
		if err != nil {
			response.Unavailable(c, "Bot authentication unavailable")
			return
		}
		if !result.Valid {
			if result.NeedsReverification {
				response.Unauthorized(c, "Bot credentials expired. Please re-register.")
			} else if result.Reason != "" {
				response.Unauthorized(c, result.Reason)
			} else {
				response.Unauthorized(c, "Invalid bot credentials")
			}
			return
		}

		if pathID := c.Param("clientId"); pathID != "" && pathID != clientID {
			response.Forbidden(c, "Cannot act on other bots")
			return
		}

		c.Set(ContextKeyClientID, clientID)
		c.Set(ContextKeyClientSecret, clientSecret)

		c.Next()
	}
}

// GetClientID returns the authenticated bot client id from the context
func GetClientID(c *gin.Context) (string, bool) {
	id := c.GetString(ContextKeyClientID)
	return id, id != ""
}

// GetClientSecret returns the validated client secret from the context.
// Request-scoped so concurrent requests stay isolated.
func GetClientSecret(c *gin.Context) (string, bool) {
	secret := c.GetString(ContextKeyClientSecret)
	return secret, secret != ""
}
