package apikeys

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aminahq/amina-api/pkg/amina/auth"
	"github.com/aminahq/amina-api/pkg/amina/models"
	"github.com/aminahq/amina-api/pkg/amina/ratelimit"
	"github.com/aminahq/amina-api/pkg/amina/response"
	"github.com/gin-gonic/gin"
)

// ValidScopes are the capability scopes a key may carry.
var ValidScopes = []string{"all", "images", "stats"}

// Handler handles API key management requests
type Handler struct {
	store *Store
}

// NewHandler creates a new API keys handler
func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

// RateLimitSpec is the per-key rate-limit policy, requests per window
type RateLimitSpec struct {
	Requests int `json:"requests" binding:"required,min=1"`
	Window   int `json:"window" binding:"required,min=1"`
}

// CreateKeyRequest represents a request to create an API key
type CreateKeyRequest struct {
	Name        string         `json:"name" binding:"required"`
	Permissions []string       `json:"permissions"`
	RateLimit   *RateLimitSpec `json:"rate_limit"`
	ExpiresAt   *time.Time     `json:"expires_at"`
}

// CreateKeyResponse includes the full key (only shown once)
type CreateKeyResponse struct {
	ID          string     `json:"id"`
	Key         string     `json:"key"`
	Prefix      string     `json:"prefix"`
	Name        string     `json:"name"`
	Permissions []string   `json:"permissions"`
	ExpiresAt   *time.Time `json:"expires_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Create issues a new API key for the authenticated user
func (h *Handler) Create(c *gin.Context) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		response.Unauthorized(c, "Authentication required")
		return
	}

	var req CreateKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "name is required")
		return
	}

	for _, scope := range req.Permissions {
		if !validScope(scope) {
			response.BadRequest(c, "Unknown permission scope: "+scope)
			return
		}
	}

	opts := IssueOptions{
		Name:        req.Name,
		Permissions: req.Permissions,
		ExpiresAt:   req.ExpiresAt,
	}
	if req.RateLimit != nil {
		opts.Policy = &ratelimit.Policy{Requests: req.RateLimit.Requests, Window: req.RateLimit.Window}
	}

	key, record, err := h.store.Issue(userID, opts)
	if errors.Is(err, ErrKeyLimit) {
		response.BadRequest(c, fmt.Sprintf("Active key limit reached (%d). Revoke a key first.", models.MaxActiveKeysPerUser))
		return
	}
	if err != nil {
		response.Unavailable(c, "Failed to create API key")
		return
	}

	// The plaintext key leaves the server exactly once, here.
	response.Success(c, http.StatusCreated, CreateKeyResponse{
		ID:          record.KeyID,
		Key:         key,
		Prefix:      record.KeyPrefix,
		Name:        record.Name,
		Permissions: record.Permissions,
		ExpiresAt:   record.ExpiresAt,
		CreatedAt:   record.CreatedAt,
	})
}

// List returns all API keys for the authenticated user, hashes stripped
func (h *Handler) List(c *gin.Context) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		response.Unauthorized(c, "Authentication required")
		return
	}

	keys, err := h.store.ListForOwner(userID)
	if err != nil {
		response.Unavailable(c, "Failed to fetch API keys")
		return
	}

	response.Success(c, http.StatusOK, gin.H{"keys": keys})
}

// Revoke marks an API key revoked
func (h *Handler) Revoke(c *gin.Context) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		response.Unauthorized(c, "Authentication required")
		return
	}

	found, err := h.store.Revoke(userID, c.Param("id"))
	if err != nil {
		response.Unavailable(c, "Failed to revoke API key")
		return
	}
	if !found {
		response.NotFound(c, "No active API key found")
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "API key revoked"})
}

// Purge permanently deletes an API key record
func (h *Handler) Purge(c *gin.Context) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		response.Unauthorized(c, "Authentication required")
		return
	}

	found, err := h.store.Delete(userID, c.Param("id"))
	if err != nil {
		response.Unavailable(c, "Failed to delete API key")
		return
	}
	if !found {
		response.NotFound(c, "API key not found")
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "API key deleted"})
}

// RegisterRoutes registers API key management routes
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/keys", h.Create)
	rg.GET("/keys", h.List)
	rg.DELETE("/keys/:id", h.Revoke)
	rg.DELETE("/keys/:id/purge", h.Purge)
}

func validScope(scope string) bool {
	for _, s := range ValidScopes {
		if s == scope {
			return true
		}
	}
	return false
}
