// Package scheduler drives the periodic pipeline work: draining the
// notification queue, detecting price drops and restocks, sending wishlist
// reminders, reconciling analytics and pruning old rows. Every tick runs
// under a named lock so that only one process executes it at a time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/alexnthnz/wishlist-pipeline/internal/analytics"
	"github.com/alexnthnz/wishlist-pipeline/internal/catalog"
	"github.com/alexnthnz/wishlist-pipeline/internal/config"
	"github.com/alexnthnz/wishlist-pipeline/internal/monitoring"
	"github.com/alexnthnz/wishlist-pipeline/internal/notification"
	"github.com/alexnthnz/wishlist-pipeline/internal/wishlist"
)

// Tick names
const (
	TickQueueDrain           = "queue_drain"
	TickPriceDrop            = "price_drop"
	TickBackInStock          = "back_in_stock"
	TickReminder             = "reminder"
	TickAnalyticsRecalculate = "analytics_recalculate"
	TickRetention            = "retention"
)

var (
	// ErrUnknownTick is returned by RunOnce for names outside the tick set
	ErrUnknownTick = errors.New("unknown tick")
	// ErrTickLocked is returned by RunOnce when another process holds the tick lock
	ErrTickLocked = errors.New("tick is running elsewhere")
)

// Locker hands out named locks. ok is false when the lock is held elsewhere.
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (unlock func(), ok bool, err error)
}

// Config holds tick intervals and tuning. A zero interval disables a tick
// in Run; RunOnce ignores intervals.
type Config struct {
	Intervals map[string]time.Duration

	BatchSize     int
	DedupWindow   time.Duration
	ReminderAfter time.Duration
	LockTTL       time.Duration

	AnalyticsRetentionDays    int
	NotificationRetentionDays int

	SiteURL string
}

// ConfigFrom maps the application configuration onto scheduler settings
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Intervals: map[string]time.Duration{
			TickQueueDrain:           cfg.Scheduler.QueueDrain,
			TickPriceDrop:            cfg.Scheduler.PriceDrop,
			TickBackInStock:          cfg.Scheduler.BackInStock,
			TickReminder:             cfg.Scheduler.Reminder,
			TickAnalyticsRecalculate: cfg.Scheduler.AnalyticsRecalculate,
			TickRetention:            cfg.Scheduler.Retention,
		},
		BatchSize:                 cfg.Notifications.BatchSize,
		DedupWindow:               cfg.Notifications.DedupWindow,
		ReminderAfter:             cfg.Notifications.ReminderAfter,
		LockTTL:                   cfg.Scheduler.LockTTL,
		AnalyticsRetentionDays:    cfg.Retention.AnalyticsDays,
		NotificationRetentionDays: cfg.Retention.NotificationsDays,
		SiteURL:                   cfg.Site.URL,
	}
}

// TickResult summarises one tick run
type TickResult struct {
	Name      string        `json:"name"`
	Processed int           `json:"processed"`
	Queued    int           `json:"queued"`
	Sent      int           `json:"sent"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Errors    []error       `json:"-"`
	Duration  time.Duration `json:"duration"`
}

func (r *TickResult) addError(err error) {
	r.Errors = append(r.Errors, err)
}

// Coordinator owns the tick set and its collaborators
type Coordinator struct {
	analytics     *analytics.Service
	notifications *notification.Service
	items         wishlist.Store
	products      catalog.Lookup
	locker        Locker
	metrics       *monitoring.Metrics
	logger        *zap.Logger
	cfg           Config
	now           func() time.Time
	ticks         map[string]func(context.Context) *TickResult
}

// NewCoordinator creates a coordinator. A nil locker runs every tick unguarded.
func NewCoordinator(
	analyticsSvc *analytics.Service,
	notificationSvc *notification.Service,
	items wishlist.Store,
	products catalog.Lookup,
	locker Locker,
	metrics *monitoring.Metrics,
	logger *zap.Logger,
	cfg Config,
) *Coordinator {
	if locker == nil {
		locker = NopLocker{}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = 7 * 24 * time.Hour
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}

	c := &Coordinator{
		analytics:     analyticsSvc,
		notifications: notificationSvc,
		items:         items,
		products:      products,
		locker:        locker,
		metrics:       metrics,
		logger:        logger,
		cfg:           cfg,
		now:           func() time.Time { return time.Now().UTC() },
	}
	c.ticks = map[string]func(context.Context) *TickResult{
		TickQueueDrain:           c.drainQueue,
		TickPriceDrop:            c.detectPriceDrops,
		TickBackInStock:          c.detectRestocks,
		TickReminder:             c.sendReminders,
		TickAnalyticsRecalculate: c.recalculateAnalytics,
		TickRetention:            c.applyRetention,
	}
	return c
}

// SetClock replaces the coordinator clock
func (c *Coordinator) SetClock(now func() time.Time) {
	c.now = now
}

// Ticks lists the tick names in sorted order
func (c *Coordinator) Ticks() []string {
	names := make([]string, 0, len(c.ticks))
	for name := range c.ticks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run starts one ticker per enabled tick and blocks until ctx is cancelled
func (c *Coordinator) Run(ctx context.Context) {
	var tickers []*time.Ticker
	defer func() {
		for _, t := range tickers {
			t.Stop()
		}
	}()

	for _, name := range c.Ticks() {
		interval := c.cfg.Intervals[name]
		if interval <= 0 {
			c.logger.Info("Tick disabled", zap.String("tick", name))
			continue
		}
		t := time.NewTicker(interval)
		tickers = append(tickers, t)
		go c.runLoop(ctx, t.C, name)
		c.logger.Info("Tick scheduled", zap.String("tick", name), zap.Duration("interval", interval))
	}

	<-ctx.Done()
	c.logger.Info("Scheduler stopped")
}

func (c *Coordinator) runLoop(ctx context.Context, ch <-chan time.Time, name string) {
	for {
		select {
		case <-ch:
			if _, err := c.RunOnce(ctx, name); err != nil && !errors.Is(err, ErrTickLocked) {
				c.logger.Error("Tick did not run", zap.String("tick", name), zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce executes a single tick under its lock
func (c *Coordinator) RunOnce(ctx context.Context, name string) (*TickResult, error) {
	fn, ok := c.ticks[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTick, name)
	}

	unlock, ok, err := c.locker.TryLock(ctx, name, c.cfg.LockTTL)
	if err != nil {
		c.metrics.RecordTick(name, "error", 0)
		return nil, err
	}
	if !ok {
		c.metrics.RecordTick(name, "locked", 0)
		c.logger.Debug("Tick lock held elsewhere", zap.String("tick", name))
		return nil, ErrTickLocked
	}
	defer unlock()

	return c.execute(ctx, name, fn), nil
}

// execute runs fn, converting a panic into a tick error, and logs a summary
func (c *Coordinator) execute(ctx context.Context, name string, fn func(context.Context) *TickResult) (result *TickResult) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			if result == nil {
				result = &TickResult{}
			}
			result.addError(fmt.Errorf("panic: %v", r))
		}
		result.Name = name
		result.Duration = time.Since(start)

		outcome := "ok"
		if len(result.Errors) > 0 {
			outcome = "error"
		}
		c.metrics.RecordTick(name, outcome, result.Duration.Seconds())

		fields := []zap.Field{
			zap.String("tick", name),
			zap.Int("processed", result.Processed),
			zap.Int("queued", result.Queued),
			zap.Int("sent", result.Sent),
			zap.Int("failed", result.Failed),
			zap.Int("skipped", result.Skipped),
			zap.Int("errors", len(result.Errors)),
			zap.Duration("duration", result.Duration),
		}
		if len(result.Errors) > 0 {
			fields = append(fields, zap.Errors("error_list", result.Errors))
			c.logger.Warn("Tick completed with errors", fields...)
			return
		}
		c.logger.Info("Tick completed", fields...)
	}()

	return fn(ctx)
}
