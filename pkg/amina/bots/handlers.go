// Package bots exposes the bot-facing registration surface and the
// public bot directory. Registration itself is unauthenticated by design:
// the credential exchange with the identity provider is the
// authentication. Every other bot-scoped mutation requires the
// X-Client-Id / X-Client-Secret pair.
package bots

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aminahq/amina-api/pkg/amina/botauth"
	"github.com/aminahq/amina-api/pkg/amina/response"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Handler handles bot registration and directory requests
type Handler struct {
	auth    *botauth.Authenticator
	records *botauth.RecordStore
	log     zerolog.Logger
}

// NewHandler creates a new bots handler
func NewHandler(auth *botauth.Authenticator, records *botauth.RecordStore, log zerolog.Logger) *Handler {
	return &Handler{auth: auth, records: records, log: log}
}

type registerRequest struct {
	ClientID      string   `json:"clientId" binding:"required"`
	ClientSecret  string   `json:"clientSecret" binding:"required"`
	OwnerID       string   `json:"ownerId" binding:"required"`
	Version       string   `json:"version" binding:"required"`
	Name          string   `json:"name"`
	InviteURL     string   `json:"inviteUrl"`
	SupportServer string   `json:"supportServer"`
	Website       string   `json:"website"`
	IsPublic      bool     `json:"isPublic"`
	Features      []string `json:"features"`
}

// Register registers a new bot or refreshes an existing registration
func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "clientId, clientSecret, ownerId and version are required")
		return
	}

	meta, err := h.auth.Register(c.Request.Context(), botauth.RegisterRequest{
		ClientID:      req.ClientID,
		ClientSecret:  req.ClientSecret,
		OwnerID:       req.OwnerID,
		Name:          req.Name,
		Version:       req.Version,
		InviteURL:     req.InviteURL,
		SupportServer: req.SupportServer,
		Website:       req.Website,
		IsPublic:      req.IsPublic,
		Features:      req.Features,
	})
	if err != nil {
		var credErr *botauth.CredentialError
		switch {
		case errors.As(err, &credErr):
			response.Unauthorized(c, credErr.Reason)
		case errors.Is(err, botauth.ErrProviderUnavailable):
			response.Unavailable(c, "Identity provider unavailable")
		default:
			h.log.Error().Err(err).Str("client_id", req.ClientID).Msg("bot registration failed")
			response.Unavailable(c, "Registration failed")
		}
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message": "Bot registered successfully",
		"bot":     meta,
	})
}

// Deregister removes a bot registration and all derived records
func (h *Handler) Deregister(c *gin.Context) {
	clientID, _ := botauth.GetClientID(c)
	clientSecret, ok := botauth.GetClientSecret(c)
	if !ok {
		response.Unauthorized(c, "Bot authentication required")
		return
	}

	result, err := h.auth.Deregister(c.Request.Context(), clientID, clientSecret)
	if err != nil {
		var credErr *botauth.CredentialError
		switch {
		case errors.As(err, &credErr):
			response.Unauthorized(c, credErr.Reason)
		case errors.Is(err, botauth.ErrProviderUnavailable):
			response.Unavailable(c, "Identity provider unavailable")
		default:
			h.log.Error().Err(err).Str("client_id", clientID).Msg("bot deregistration failed")
			response.Unavailable(c, "Deregistration failed")
		}
		return
	}

	if result.Partial() {
		// Explicit partial report; the caller should retry or escalate.
		response.Fail(c, http.StatusInternalServerError, response.CodeInternal,
			"Partial deregistration: failed to delete "+strconv.Itoa(len(result.FailedKeys))+
				" record(s): "+strings.Join(result.FailedKeys, ", ")+". Please retry.")
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "Bot deregistered successfully"})
}

type metaUpdateRequest struct {
	Name          *string   `json:"name"`
	Version       *string   `json:"version"`
	InviteURL     *string   `json:"inviteUrl"`
	SupportServer *string   `json:"supportServer"`
	Website       *string   `json:"website"`
	IsPublic      *bool     `json:"isPublic"`
	Features      *[]string `json:"features"`
}

// UpdateMeta updates the mutable metadata fields. Client id, owner and
// registration time cannot be changed through this endpoint.
func (h *Handler) UpdateMeta(c *gin.Context) {
	clientID, _ := botauth.GetClientID(c)

	var req metaUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid update payload")
		return
	}

	meta, err := h.records.GetMeta(c.Request.Context(), clientID)
	if err != nil {
		response.Unavailable(c, "Bot storage unavailable")
		return
	}
	if meta == nil {
		response.NotFound(c, "Bot not found")
		return
	}

	if req.Name != nil {
		meta.Name = *req.Name
	}
	if req.Version != nil {
		meta.Version = *req.Version
	}
	if req.InviteURL != nil {
		meta.InviteURL = *req.InviteURL
	}
	if req.SupportServer != nil {
		meta.SupportServer = *req.SupportServer
	}
	if req.Website != nil {
		meta.Website = *req.Website
	}
	if req.IsPublic != nil {
		meta.IsPublic = *req.IsPublic
	}
	if req.Features != nil {
		meta.Features = *req.Features
	}

	if err := h.records.PutMeta(c.Request.Context(), clientID, meta); err != nil {
		response.Unavailable(c, "Update failed")
		return
	}

	response.Success(c, http.StatusOK, gin.H{"bot": meta})
}

// Heartbeat updates the bot's lastSeen timestamp
func (h *Handler) Heartbeat(c *gin.Context) {
	clientID, _ := botauth.GetClientID(c)

	err := h.records.Heartbeat(c.Request.Context(), clientID)
	if errors.Is(err, botauth.ErrNotRegistered) {
		response.NotFound(c, "Bot not found")
		return
	}
	if err != nil {
		response.Unavailable(c, "Heartbeat failed")
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message":   "Heartbeat received",
		"timestamp": time.Now().UTC(),
	})
}

type statsRequest struct {
	Guilds   *int   `json:"guilds" binding:"required"`
	Members  *int   `json:"members" binding:"required"`
	Channels *int   `json:"channels" binding:"required"`
	Commands *int   `json:"commands" binding:"required"`
	Ping     *int   `json:"ping" binding:"required"`
	Uptime   *int64 `json:"uptime" binding:"required"`
	Status   string `json:"status"`
}

// PushStats stores a stats snapshot with a short TTL
func (h *Handler) PushStats(c *gin.Context) {
	clientID, _ := botauth.GetClientID(c)

	var req statsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "guilds, members, channels, commands, ping and uptime are required numbers")
		return
	}

	stats := botauth.Stats{
		Guilds:   *req.Guilds,
		Members:  *req.Members,
		Channels: *req.Channels,
		Commands: *req.Commands,
		Ping:     *req.Ping,
		Uptime:   *req.Uptime,
		Status:   req.Status,
	}
	if err := h.records.PutStats(c.Request.Context(), clientID, &stats); err != nil {
		if errors.Is(err, botauth.ErrNotRegistered) {
			response.NotFound(c, "Bot not found")
			return
		}
		response.Unavailable(c, "Stats push failed")
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message":   "Stats updated",
		"timestamp": time.Now().UTC(),
	})
}

type commandsRequest struct {
	Commands *[]botauth.Command `json:"commands" binding:"required"`
}

// PushCommands replaces the declared command catalog wholesale
func (h *Handler) PushCommands(c *gin.Context) {
	clientID, _ := botauth.GetClientID(c)

	var req commandsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "commands must be an array")
		return
	}

	if err := h.records.PutCommands(c.Request.Context(), clientID, *req.Commands); err != nil {
		response.Unavailable(c, "Commands update failed")
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message": "Commands updated",
		"count":   len(*req.Commands),
	})
}

// List returns the public bot directory
func (h *Handler) List(c *gin.Context) {
	bots, err := h.records.ListMeta(c.Request.Context(), true, "")
	if err != nil {
		response.Unavailable(c, "Bot directory unavailable")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	total := len(bots)
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	response.Success(c, http.StatusOK, gin.H{
		"bots":  bots[start:end],
		"total": total,
		"page":  page,
		"limit": limit,
	})
}

// Get returns one public bot with its stats and command catalog.
// Absence of stats means the bot is offline.
func (h *Handler) Get(c *gin.Context) {
	clientID := c.Param("clientId")

	meta, err := h.records.GetMeta(c.Request.Context(), clientID)
	if err != nil {
		response.Unavailable(c, "Bot directory unavailable")
		return
	}
	if meta == nil || !meta.IsPublic {
		response.NotFound(c, "Bot not found")
		return
	}

	stats, err := h.records.GetStats(c.Request.Context(), clientID)
	if err != nil {
		response.Unavailable(c, "Bot directory unavailable")
		return
	}
	commands, err := h.records.GetCommands(c.Request.Context(), clientID)
	if err != nil {
		response.Unavailable(c, "Bot directory unavailable")
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"bot":      meta,
		"stats":    stats,
		"commands": commands,
		"online":   h.records.Online(meta) && stats != nil,
	})
}

// RegisterInternalRoutes registers the bot-facing mutation surface.
// The register endpoint is deliberately outside the auth middleware.
func (h *Handler) RegisterInternalRoutes(rg *gin.RouterGroup, middleware ...gin.HandlerFunc) {
	rg.POST("/register", h.Register)

	authed := rg.Group("", middleware...)
	authed.DELETE("/:clientId", h.Deregister)
	authed.PUT("/:clientId", h.UpdateMeta)
	authed.POST("/:clientId/heartbeat", h.Heartbeat)
	authed.POST("/:clientId/stats", h.PushStats)
	authed.POST("/:clientId/commands", h.PushCommands)
}

// RegisterPublicRoutes registers the public directory
func (h *Handler) RegisterPublicRoutes(rg *gin.RouterGroup) {
	rg.GET("", h.List)
	rg.GET("/:clientId", h.Get)
}
