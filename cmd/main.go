package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"multichat-backend/internal/config"
	"multichat-backend/internal/gateway"
	"multichat-backend/internal/handler"
	"multichat-backend/internal/service"
	"multichat-backend/internal/settings"
	"multichat-backend/internal/storage"
	"multichat-backend/pkg/logger"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./configs/config.yaml", "path to the config file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}

	settingsStore, err := settings.Open(cfg.Settings)
	if err != nil {
		logger.Fatalf("Failed to open settings store: %v", err)
	}
	defer settingsStore.Close()

	conversationStore, err := storage.New(cfg.Storage)
	if err != nil {
		logger.Fatalf("Failed to init storage: %v", err)
	}
	defer conversationStore.Close()

	// The orchestrator talks to the gateway over HTTP even when it is served
	// by this same process.
	orchestrator := service.NewOrchestrator(gateway.NewClient(cfg.Gateway.URL), conversationStore, settingsStore, cfg)
	chatService := service.NewChatService(conversationStore, orchestrator)

	router := setupRouter(cfg,
		handler.NewChatHandler(chatService),
		handler.NewGatewayHandler(gateway.NewProxy(cfg.Orchestrator.ConcurrentRequests)),
		handler.NewSettingsHandler(settingsStore),
	)

	server := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	go func() {
		logger.Infof("Server listening on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("Server shutdown failed: %v", err)
	}
	if err := conversationStore.Backup(); err != nil {
		logger.Warnf("Backup on shutdown failed: %v", err)
	}
	logger.Info("Server stopped")
}

type routeRegistrar interface {
	Register(api *gin.RouterGroup)
}

func setupRouter(cfg *config.Config, handlers ...routeRegistrar) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	corsConfig := cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    cfg.CORS.ExposedHeaders,
		AllowCredentials: cfg.CORS.AllowCredentials,
		MaxAge:           time.Duration(cfg.CORS.MaxAge) * time.Second,
	}
	router.Use(cors.New(corsConfig))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Unix(),
		})
	})

	api := router.Group("/api")
	for _, h := range handlers {
		h.Register(api)
	}

	return router
}
