package main

import (
	"log"

	"github.com/gin-gonic/gin"

	"github.com/camlive/signaling-relay/config"
	"github.com/camlive/signaling-relay/internal/handlers"
	"github.com/camlive/signaling-relay/internal/middleware"
	"github.com/camlive/signaling-relay/internal/mqtt"
	"github.com/camlive/signaling-relay/internal/redis"
	"github.com/camlive/signaling-relay/internal/relay"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Connect to Redis (presence mirror for the observability endpoints)
	if err := redis.Connect(cfg.Redis); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redis.Close()

	log.Println("Redis connection established")

	// Signaling core
	core := relay.New(cfg.ICEServers, redis.NewPresenceMirror())

	// MQTT transport (optional, broker must be running)
	if cfg.MQTT.Enabled {
		adapter := mqtt.NewAdapter(core)
		if err := adapter.Start(cfg.MQTT); err != nil {
			log.Fatalf("Failed to start MQTT adapter: %v", err)
		}
		defer adapter.Stop()
	}

	// Setup Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()

	// Global CORS middleware (runs before routing)
	router.Use(handlers.OriginFilter(cfg.AllowedOrigins))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Legacy presence listing, kept on its historical path
	router.GET("/mio/t1", handlers.DeviceViewers(core))

	// Admin API (authenticated)
	apiGroup := router.Group("/api")
	{
		// Login endpoint (public)
		apiGroup.POST("/auth/login", handlers.Login(cfg.JWTSecret))

		// Presence map and relay counters (require JWT)
		apiGroup.GET("/presence", middleware.JWTAuth(cfg.JWTSecret), handlers.Presence(core))
		apiGroup.GET("/stats", middleware.JWTAuth(cfg.JWTSecret), handlers.RelayStats(core))
	}

	// WebSocket signaling endpoint
	wsGroup := router.Group("/ws")
	{
		wsGroup.GET("/signal", handlers.HandleSignaling(core))
	}

	// Start server
	log.Printf("Starting signaling relay on port %s", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
