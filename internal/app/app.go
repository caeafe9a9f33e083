// Package app wires configuration, storage and services into the pipeline
// components shared by every binary.
package app

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/alexnthnz/wishlist-pipeline/internal/analytics"
	"github.com/alexnthnz/wishlist-pipeline/internal/catalog"
	"github.com/alexnthnz/wishlist-pipeline/internal/channels"
	"github.com/alexnthnz/wishlist-pipeline/internal/config"
	"github.com/alexnthnz/wishlist-pipeline/internal/database"
	"github.com/alexnthnz/wishlist-pipeline/internal/memstore"
	"github.com/alexnthnz/wishlist-pipeline/internal/monitoring"
	"github.com/alexnthnz/wishlist-pipeline/internal/notification"
	"github.com/alexnthnz/wishlist-pipeline/internal/scheduler"
	"github.com/alexnthnz/wishlist-pipeline/internal/wishlist"
)

const redisKeyPrefix = "wishlist:"

// Options select the storage backend
type Options struct {
	// InMemory keeps every table in process memory and sends no email.
	InMemory bool
	// Registerer receives the Prometheus metrics. Nil uses the default registry.
	Registerer prometheus.Registerer
}

// App holds the assembled services
type App struct {
	Config        *config.Config
	Logger        *zap.Logger
	Metrics       *monitoring.Metrics
	Analytics     *analytics.Service
	Notifications *notification.Service
	Coordinator   *scheduler.Coordinator

	// Store is set in in-memory mode
	Store *memstore.Store

	closers []func() error
}

type backend struct {
	analyticsRepo    analytics.Repository
	items            analytics.ItemSource
	notificationRepo notification.Repository
	wishlist         wishlist.Store
	products         catalog.Lookup
	locker           scheduler.Locker
	sink             notification.Sink
}

// New builds the application from configuration
func New(cfg *config.Config, logger *zap.Logger, opts Options) (*App, error) {
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	a := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: monitoring.NewMetrics(reg),
	}

	var (
		b   *backend
		err error
	)
	if opts.InMemory {
		b = a.memoryBackend()
	} else {
		b, err = a.postgresBackend()
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	a.Analytics = analytics.NewService(b.analyticsRepo, b.items, a.Metrics, logger)

	generator := notification.NewGenerator(cfg.Site.Name, cfg.Site.URL, cfg.Site.Currency)
	generator.TrackingURL = cfg.Notifications.TrackingURL
	a.Notifications = notification.NewService(b.notificationRepo, b.sink, generator, a.Metrics, logger)
	a.Notifications.SetDeliveryTimeout(cfg.Notifications.DeliveryTimeout)

	a.Coordinator = scheduler.NewCoordinator(
		a.Analytics,
		a.Notifications,
		b.wishlist,
		b.products,
		b.locker,
		a.Metrics,
		logger,
		scheduler.ConfigFrom(cfg),
	)
	return a, nil
}

func (a *App) memoryBackend() *backend {
	a.Logger.Info("Using in-memory storage")
	store := memstore.New()
	a.Store = store

	return &backend{
		analyticsRepo:    store.Analytics(),
		items:            store.Wishlist(),
		notificationRepo: store.Notifications(),
		wishlist:         store.Wishlist(),
		products:         store,
		locker:           scheduler.NewMutexLocker(),
		sink:             channels.NewMockChannel(a.Logger),
	}
}

func (a *App) postgresBackend() (*backend, error) {
	postgres, err := database.NewPostgresDB(a.Config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	a.closers = append(a.closers, postgres.Close)

	if err := postgres.InitSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}
	a.Logger.Info("Database connected and schema initialized")

	redis, err := database.NewRedisClient(a.Config.Redis)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	a.closers = append(a.closers, redis.Close)
	a.Logger.Info("Redis connected")

	wishlistRepo := database.NewWishlistRepository(postgres)

	return &backend{
		analyticsRepo:    database.NewAnalyticsRepository(postgres),
		items:            wishlistRepo,
		notificationRepo: database.NewNotificationRepository(postgres),
		wishlist:         wishlistRepo,
		products:         catalog.NewCached(wishlistRepo, redis, a.Config.Redis.ProductTTL, a.Logger),
		locker:           database.NewRedisLocker(redis, redisKeyPrefix, a.Logger),
		sink:             channels.New(a.Config.Channels, a.Logger),
	}, nil
}

// Close releases database connections in reverse order of creation
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Warn("Failed to close resource", zap.Error(err))
		}
	}
	a.closers = nil
}
