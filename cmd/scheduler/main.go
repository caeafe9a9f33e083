package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/alexnthnz/wishlist-pipeline/internal/app"
	"github.com/alexnthnz/wishlist-pipeline/internal/config"
	"github.com/alexnthnz/wishlist-pipeline/internal/queue"
)

func main() {
	_ = godotenv.Load(".env")

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting Wishlist Scheduler")

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	pipeline, err := app.New(cfg, logger, app.Options{InMemory: cfg.InMemory})
	if err != nil {
		logger.Fatal("Failed to initialize pipeline", zap.Error(err))
	}
	defer pipeline.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Apply analytics events published by the API
	if !cfg.InMemory {
		consumer := queue.NewConsumer(cfg.Kafka, logger)
		defer consumer.Close()

		go func() {
			err := consumer.ConsumeEvents(ctx, func(ctx context.Context, msg queue.EventMessage) error {
				_, err := pipeline.Analytics.TrackEventAt(ctx, msg.Key(), msg.Event, msg.OccurredAt)
				return err
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Event consumer stopped", zap.Error(err))
			}
		}()
		logger.Info("Kafka consumer started", zap.String("topic", cfg.Kafka.Topic), zap.String("group", cfg.Kafka.GroupID))
	}

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, pipeline.Metrics.Handler())
		metricsServer := &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler: mux,
		}

		go func() {
			logger.Info("Starting metrics server", zap.Int("port", cfg.Metrics.Port))
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics server error", zap.Error(err))
			}
		}()
		defer metricsServer.Close()
	}

	pipeline.Coordinator.Run(ctx)
	logger.Info("Scheduler exited")
}
