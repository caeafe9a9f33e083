package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/alexnthnz/wishlist-pipeline/api/rest"
	"github.com/alexnthnz/wishlist-pipeline/internal/app"
	"github.com/alexnthnz/wishlist-pipeline/internal/config"
	"github.com/alexnthnz/wishlist-pipeline/internal/queue"
)

func main() {
	_ = godotenv.Load(".env")

	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting Wishlist API Service")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	pipeline, err := app.New(cfg, logger, app.Options{InMemory: cfg.InMemory})
	if err != nil {
		logger.Fatal("Failed to initialize pipeline", zap.Error(err))
	}
	defer pipeline.Close()

	// Events go through Kafka unless running fully in memory
	var publisher rest.EventPublisher
	if !cfg.InMemory {
		producer := queue.NewProducer(cfg.Kafka, logger)
		defer producer.Close()
		publisher = producer
		logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.Topic))
	}

	handler, err := rest.NewHandler(pipeline.Analytics, pipeline.Notifications, publisher, cfg.Site.URL, pipeline.Metrics, logger)
	if err != nil {
		logger.Fatal("Failed to initialize REST handler", zap.Error(err))
	}
	router := handler.SetupRoutes()

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// In memory mode there is no separate scheduler process to share state with
	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	if cfg.InMemory {
		go pipeline.Coordinator.Run(ctx)
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
