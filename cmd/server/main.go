package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/wwng2333/nexus-terminal-sub000/api/handlers"
	"github.com/wwng2333/nexus-terminal-sub000/internal/config"
	"github.com/wwng2333/nexus-terminal-sub000/internal/db"
	"github.com/wwng2333/nexus-terminal-sub000/internal/relay"
	"github.com/wwng2333/nexus-terminal-sub000/internal/repository"
	"github.com/wwng2333/nexus-terminal-sub000/internal/session"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Ensure data directories exist
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}
	if cfg.RecordingDir != "" {
		if err := os.MkdirAll(cfg.RecordingDir, 0755); err != nil {
			log.Fatalf("Failed to create recording directory: %v", err)
		}
	}

	// Initialize database
	database, err := db.InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.CloseDB()

	sessionRepo := repository.NewSessionRepository(database)

	// Initialize session registry
	registry := session.NewRegistry(session.Config{
		GatewayURL:           cfg.GatewayURL,
		RecordingDir:         cfg.RecordingDir,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		BackoffBase:          cfg.BackoffBase,
		MaxBackoff:           cfg.MaxBackoff,
		RequestTimeout:       cfg.RequestTimeout,
		ChunkSize:            cfg.ChunkSize,
		StatusInterval:       cfg.StatusInterval,
		Scrollback:           cfg.Scrollback,
	}, sessionRepo)
	defer registry.CloseAll(context.Background())

	// Initialize browser relay
	relayHandler := relay.NewHandler()
	defer relayHandler.Close()

	// Initialize handlers
	sessionHandler := handlers.NewSessionHandler(registry)
	sessionHandler.SetOnClose(relayHandler.DetachSession)
	filesHandler := handlers.NewFilesHandler(registry)
	transferHandler := handlers.NewTransferHandler(registry)
	attachHandler := handlers.NewAttachHandler(registry, relayHandler)

	// Initialize Gin router
	r := gin.Default()

	// Enable CORS for development
	r.Use(corsMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	})

	// API routes
	api := r.Group("/api")
	{
		sessionHandler.RegisterRoutes(api)
		filesHandler.RegisterRoutes(api)
		transferHandler.RegisterRoutes(api)
		attachHandler.RegisterRoutes(api)
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("Shutting down server...")
		registry.CloseAll(context.Background())
		relayHandler.Close()
		db.CloseDB()
		os.Exit(0)
	}()

	// Start server
	log.Printf("Starting server on port %s", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// corsMiddleware returns a CORS middleware for development.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
