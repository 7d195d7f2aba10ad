package main

import (
	"net/http"
	"os"

	"github.com/aminahq/amina-api/pkg/amina/apikeys"
	"github.com/aminahq/amina-api/pkg/amina/auth"
	"github.com/aminahq/amina-api/pkg/amina/botauth"
	"github.com/aminahq/amina-api/pkg/amina/bots"
	"github.com/aminahq/amina-api/pkg/amina/database"
	"github.com/aminahq/amina-api/pkg/amina/kv"
	"github.com/aminahq/amina-api/pkg/amina/logging"
	"github.com/aminahq/amina-api/pkg/amina/models"
	"github.com/aminahq/amina-api/pkg/amina/ratelimit"
	"github.com/aminahq/amina-api/pkg/amina/response"
	"github.com/gin-gonic/gin"
)

// anonymousPolicy throttles unauthenticated directory traffic.
var anonymousPolicy = ratelimit.Policy{Requests: 60, Window: 60}

// botPolicy throttles authenticated bot traffic per client id.
var botPolicy = ratelimit.Policy{Requests: 120, Window: 60}

func main() {
	log := logging.New()

	// Get database path from environment or use default
	dbPath := os.Getenv("AMINA_DB_PATH")
	if dbPath == "" {
		dbPath = "amina.db"
	}

	if err := database.Connect(dbPath); err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}

	if err := models.AutoMigrate(database.GetDB()); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}
	log.Info().Str("path", dbPath).Msg("database ready")

	// Shared store: redis when configured, otherwise the single-instance
	// in-memory store (best effort, fine for development).
	var store kv.Store
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		redisStore, err := kv.NewRedisStore(addr)
		if err != nil {
			log.Fatal().Err(err).Str("addr", addr).Msg("failed to connect to redis")
		}
		store = redisStore
		log.Info().Str("addr", addr).Msg("redis connected")
	} else {
		store = kv.NewMemoryStore()
		log.Warn().Msg("REDIS_ADDR not set, using in-process store (single instance only)")
	}

	limiter := ratelimit.New(store, log)

	provider := botauth.NewDiscordProvider(os.Getenv("DISCORD_API_BASE"), log)
	records := botauth.NewRecordStore(store, log)
	botAuth := botauth.NewAuthenticator(records, provider, log)

	keyStore := apikeys.NewStore(database.GetDB(), log)

	// Set up Gin router
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), logging.Middleware(log))

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "service": "amina-api"})
	})

	api := r.Group("/v1")
	{
		// Key management (dashboard session auth)
		keysHandler := apikeys.NewHandler(keyStore)
		keysHandler.RegisterRoutes(api.Group("/user", auth.RequireSession()))

		// API-key authenticated surface
		requireKey := apikeys.RequireAPIKey(keyStore, limiter)
		api.GET("/user/me", requireKey, func(c *gin.Context) {
			user, _ := apikeys.GetUser(c)
			key, _ := apikeys.GetAPIKey(c)
			response.Success(c, http.StatusOK, gin.H{
				"user_id":     user.ID,
				"key_id":      key.KeyID,
				"permissions": key.Permissions,
			})
		})

		// Public bot directory (anonymous, throttled by origin)
		botsHandler := bots.NewHandler(botAuth, records, log)
		anonLimit := ratelimit.Middleware(limiter, anonymousPolicy, ratelimit.ByClientIP())
		botsHandler.RegisterPublicRoutes(api.Group("/bots", anonLimit))

		// Bot-facing surface. The limiter covers the whole group,
		// registration included, so one origin cannot drive unbounded
		// credential exchanges against the provider.
		botLimit := ratelimit.Middleware(limiter, botPolicy,
			ratelimit.ByHeaderOrIP(botauth.HeaderClientID, "bot"))
		botsHandler.RegisterInternalRoutes(r.Group("/internal/bots", botLimit),
			botauth.RequireBotAuth(botAuth))
	}

	// Get port from environment or use default
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Info().Str("port", port).Msg("starting amina-api server")
	if err := r.Run(":" + port); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}
