// Package analytics maintains per-product wishlist event counters.
//
// Counters are bumped incrementally on hot paths. wishlist_count drifts when
// items disappear without a tracked "remove", so RecalculateAll periodically
// resets it from the live item table.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/alexnthnz/wishlist-pipeline/internal/monitoring"
)

// Repository persists counter rows
type Repository interface {
	// Update loads the row for key, creating it with zeroed counters when
	// absent, applies fn and persists the result atomically.
	Update(ctx context.Context, key Key, now time.Time, fn func(*Counters) error) (*Counters, error)
	Get(ctx context.Context, key Key) (*Counters, error)
	Keys(ctx context.Context) ([]Key, error)
	DeleteStale(ctx context.Context, before time.Time) (int64, error)
}

// ItemSource exposes the authoritative wishlist item table
type ItemSource interface {
	ActiveCount(ctx context.Context, key Key) (int64, error)
	DwellSamples(ctx context.Context, key Key) ([]DwellSample, error)
}

// Service handles event counter business logic
type Service struct {
	repo    Repository
	items   ItemSource
	metrics *monitoring.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewService creates a new analytics service
func NewService(repo Repository, items ItemSource, metrics *monitoring.Metrics, logger *zap.Logger) *Service {
	return &Service{
		repo:    repo,
		items:   items,
		metrics: metrics,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the service clock
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// TrackEvent applies a single event to the counters of key
func (s *Service) TrackEvent(ctx context.Context, key Key, event EventType) (*Counters, error) {
	return s.TrackEventAt(ctx, key, event, time.Time{})
}

// TrackEventAt is TrackEvent for an event that happened at occurredAt.
// The added and purchased dates take the occurrence time and never move
// backwards; a zero or future occurredAt means now.
func (s *Service) TrackEventAt(ctx context.Context, key Key, event EventType, occurredAt time.Time) (*Counters, error) {
	if _, err := ParseEventType(string(event)); err != nil {
		return nil, err
	}

	now := s.now()
	at := now
	if !occurredAt.IsZero() && occurredAt.Before(now) {
		at = occurredAt.UTC()
	}
	counters, err := s.repo.Update(ctx, key, now, func(c *Counters) error {
		return applyEvent(c, event, at)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to track %s event for %s: %w", event, key, err)
	}

	s.metrics.RecordEvent(string(event))
	return counters, nil
}

func applyEvent(c *Counters, event EventType, at time.Time) error {
	switch event {
	case EventAdd:
		c.WishlistCount++
		c.LastAddedDate = latest(c.LastAddedDate, at)
		if c.FirstAddedDate == nil || at.Before(*c.FirstAddedDate) {
			c.FirstAddedDate = &at
		}
	case EventRemove:
		if c.WishlistCount > 0 {
			c.WishlistCount--
		}
	case EventView, EventClick:
		c.ClickCount++
	case EventCart:
		c.AddToCartCount++
	case EventPurchase:
		c.PurchaseCount++
		c.LastPurchasedDate = latest(c.LastPurchasedDate, at)
	case EventShare:
		c.ShareCount++
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, event)
	}

	switch event {
	case EventAdd, EventRemove, EventPurchase:
		updateConversionRate(c)
	}
	return nil
}

func latest(current *time.Time, at time.Time) *time.Time {
	if current != nil && current.After(at) {
		return current
	}
	return &at
}

// updateConversionRate leaves the rate untouched when there is nothing to divide by
func updateConversionRate(c *Counters) {
	if c.WishlistCount > 0 {
		c.ConversionRate = round2(float64(c.PurchaseCount) / float64(c.WishlistCount) * 100)
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Get returns the counters of key
func (s *Service) Get(ctx context.Context, key Key) (*Counters, error) {
	return s.repo.Get(ctx, key)
}

// CalculateAverageDays recomputes average_days_in_wishlist for key from items
// that were moved to cart or purchased.
func (s *Service) CalculateAverageDays(ctx context.Context, key Key) (float64, error) {
	samples, err := s.items.DwellSamples(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("failed to load dwell samples for %s: %w", key, err)
	}

	now := s.now()
	avg, ok := averageDays(samples, now)
	if !ok {
		return 0, ErrNoSamples
	}

	_, err = s.repo.Update(ctx, key, now, func(c *Counters) error {
		c.AverageDaysInWishlist = avg
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to store average days for %s: %w", key, err)
	}
	return avg, nil
}

func averageDays(samples []DwellSample, now time.Time) (float64, bool) {
	var total float64
	var n int
	for _, sample := range samples {
		end := now
		if sample.MovedToCartAt != nil {
			end = *sample.MovedToCartAt
		}
		days := end.Sub(sample.AddedAt).Hours() / 24
		if days < 0 {
			continue
		}
		total += days
		n++
	}
	if n == 0 {
		return 0, false
	}
	return round2(total / float64(n)), true
}

// RecalculateAll reconciles every counter row against the item table. A
// failing row is recorded in the result and the batch moves on.
func (s *Service) RecalculateAll(ctx context.Context) RecalculateResult {
	var result RecalculateResult

	keys, err := s.repo.Keys(ctx)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Errorf("failed to list analytics keys: %w", err))
		return result
	}

	for _, key := range keys {
		result.Processed++
		if err := s.recalculate(ctx, key); err != nil {
			s.logger.Warn("Failed to recalculate analytics row", zap.String("key", key.String()), zap.Error(err))
			result.Errors = append(result.Errors, err)
			continue
		}
		result.Updated++
	}

	s.logger.Info("Analytics recalculated",
		zap.Int("processed", result.Processed),
		zap.Int("updated", result.Updated),
		zap.Int("errors", len(result.Errors)),
	)
	return result
}

func (s *Service) recalculate(ctx context.Context, key Key) error {
	active, err := s.items.ActiveCount(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to count active items for %s: %w", key, err)
	}

	_, err = s.repo.Update(ctx, key, s.now(), func(c *Counters) error {
		c.WishlistCount = active
		updateConversionRate(c)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to reconcile %s: %w", key, err)
	}

	if _, err := s.CalculateAverageDays(ctx, key); err != nil && !errors.Is(err, ErrNoSamples) {
		return err
	}
	return nil
}

// Cleanup deletes empty rows not updated within retentionDays
func (s *Service) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	before := s.now().AddDate(0, 0, -retentionDays)
	deleted, err := s.repo.DeleteStale(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up analytics: %w", err)
	}
	if deleted > 0 {
		s.logger.Info("Purged stale analytics rows", zap.Int64("count", deleted))
	}
	return deleted, nil
}
