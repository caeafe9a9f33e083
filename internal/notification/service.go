// Package notification implements the outbound notification queue: eager
// rendering at enqueue time, FIFO draining, single-attempt delivery with a
// bounded attempt counter, and open/click tracking.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/alexnthnz/wishlist-pipeline/internal/monitoring"
)

// Repository persists notification records
type Repository interface {
	Insert(ctx context.Context, rec *Record) (int64, error)
	Get(ctx context.Context, id int64) (*Record, error)
	// Due returns pending records scheduled at or before now with fewer than
	// maxAttempts attempts, oldest scheduled_date first.
	Due(ctx context.Context, now time.Time, limit, maxAttempts int) ([]*Record, error)
	// Claim increments attempts of a pending record below maxAttempts and
	// returns it, or fails with ErrNotDispatchable.
	Claim(ctx context.Context, id int64, maxAttempts int) (*Record, error)
	MarkSent(ctx context.Context, id int64, at time.Time) error
	MarkFailed(ctx context.Context, id int64, reason string) error
	SetOpened(ctx context.Context, id int64, at time.Time) error
	SetClicked(ctx context.Context, id int64, at time.Time) error
	Cancel(ctx context.Context, id int64) error
	Requeue(ctx context.Context, id int64, maxAttempts int) error
	// ExistsSince reports whether a pending or sent record of type t for the
	// user and product was created at or after since. productID 0 stands for
	// records without a product.
	ExistsSince(ctx context.Context, userID, productID int64, t Type, since time.Time) (bool, error)
	DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error)
	CountByStatus(ctx context.Context) (map[Status]int64, error)
}

// Sink delivers a rendered notification
type Sink interface {
	Send(ctx context.Context, to, subject, body string) error
}

// HTMLSink is a Sink that can also carry an HTML part. Opens are only
// tracked through sinks that implement it.
type HTMLSink interface {
	Sink
	SendHTML(ctx context.Context, to, subject, text, html string) error
}

const defaultDeliveryTimeout = 30 * time.Second

// Service handles notification queue business logic
type Service struct {
	repo            Repository
	sink            Sink
	generator       *Generator
	validator       *validator.Validate
	metrics         *monitoring.Metrics
	logger          *zap.Logger
	deliveryTimeout time.Duration
	now             func() time.Time
}

// NewService creates a new notification service
func NewService(repo Repository, sink Sink, generator *Generator, metrics *monitoring.Metrics, logger *zap.Logger) *Service {
	return &Service{
		repo:            repo,
		sink:            sink,
		generator:       generator,
		validator:       validator.New(),
		metrics:         metrics,
		logger:          logger,
		deliveryTimeout: defaultDeliveryTimeout,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the service clock
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// SetDeliveryTimeout bounds each delivery attempt
func (s *Service) SetDeliveryTimeout(d time.Duration) {
	if d > 0 {
		s.deliveryTimeout = d
	}
}

// Queue validates and persists a new pending notification, returning its id.
// Subject and content are rendered now so later product changes do not alter
// the wording of a pending notification.
func (s *Service) Queue(ctx context.Context, req QueueRequest) (int64, error) {
	if _, err := ParseType(string(req.Type)); err != nil {
		return 0, err
	}
	if err := s.validator.Struct(req); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	var trigger json.RawMessage
	if len(req.Context) > 0 {
		data, err := json.Marshal(req.Context)
		if err != nil {
			return 0, fmt.Errorf("%w: trigger data: %v", ErrValidation, err)
		}
		trigger = data
	}

	subject, content := s.generator.Render(req.Type, req.Context)

	now := s.now()
	scheduled := now
	if req.ScheduledAt != nil {
		scheduled = req.ScheduledAt.UTC()
	}

	rec := &Record{
		UserID:        req.UserID,
		WishlistID:    req.WishlistID,
		ProductID:     req.ProductID,
		Type:          req.Type,
		EmailTo:       req.EmailTo,
		Subject:       subject,
		Content:       content,
		TriggerData:   trigger,
		ScheduledDate: scheduled,
		Status:        StatusPending,
		CreatedAt:     now,
	}

	id, err := s.repo.Insert(ctx, rec)
	if err != nil {
		return 0, fmt.Errorf("failed to insert notification: %w", err)
	}

	s.metrics.RecordQueued(string(req.Type))
	s.logger.Info("Notification queued",
		zap.Int64("id", id),
		zap.String("type", string(req.Type)),
		zap.Time("scheduled_date", scheduled),
	)
	return id, nil
}

// Get retrieves a notification by ID
func (s *Service) Get(ctx context.Context, id int64) (*Record, error) {
	return s.repo.Get(ctx, id)
}

// DequeueBatch returns up to limit records eligible for dispatch
func (s *Service) DequeueBatch(ctx context.Context, limit int) ([]*Record, error) {
	if limit <= 0 {
		return nil, nil
	}
	records, err := s.repo.Due(ctx, s.now(), limit, MaxAttempts)
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue notifications: %w", err)
	}
	return records, nil
}

// Dispatch makes one delivery attempt for a record. The attempt counter is
// incremented before the sink is called. Delivery failures are recorded on
// the record and reported as StatusFailed with a nil error; a non-nil error
// means the record could not be claimed or updated.
func (s *Service) Dispatch(ctx context.Context, id int64) (Status, error) {
	rec, err := s.repo.Claim(ctx, id, MaxAttempts)
	if err != nil {
		return "", fmt.Errorf("failed to claim notification %d: %w", id, err)
	}

	start := time.Now()
	sendErr := s.deliver(ctx, rec)
	s.metrics.RecordDeliveryDuration(time.Since(start).Seconds())

	// status updates must land even if the tick context is being torn down
	updateCtx := context.WithoutCancel(ctx)

	if sendErr != nil {
		s.metrics.RecordFailed(string(rec.Type))
		s.logger.Warn("Notification delivery failed",
			zap.Int64("id", id),
			zap.Int("attempts", rec.Attempts),
			zap.Error(sendErr),
		)
		if err := s.repo.MarkFailed(updateCtx, id, sendErr.Error()); err != nil {
			return StatusFailed, fmt.Errorf("failed to mark notification %d failed: %w", id, err)
		}
		return StatusFailed, nil
	}

	if err := s.repo.MarkSent(updateCtx, id, s.now()); err != nil {
		return StatusSent, fmt.Errorf("failed to mark notification %d sent: %w", id, err)
	}
	s.metrics.RecordSent(string(rec.Type))
	s.logger.Info("Notification sent", zap.Int64("id", id), zap.String("type", string(rec.Type)))
	return StatusSent, nil
}

func (s *Service) deliver(ctx context.Context, rec *Record) error {
	ctx, cancel := context.WithTimeout(ctx, s.deliveryTimeout)
	defer cancel()

	body := s.generator.TrackLinks(rec.ID, rec.Content)

	// a sink that ignores ctx must not stall the batch
	done := make(chan error, 1)
	go func() {
		if hs, ok := s.sink.(HTMLSink); ok {
			done <- hs.SendHTML(ctx, rec.EmailTo, rec.Subject, body, s.generator.HTML(rec.ID, body))
			return
		}
		done <- s.sink.Send(ctx, rec.EmailTo, rec.Subject, body)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("delivery aborted after %s: %w", s.deliveryTimeout, ctx.Err())
	}
}

// TrackOpen stamps opened_date once
func (s *Service) TrackOpen(ctx context.Context, id int64) error {
	if err := s.repo.SetOpened(ctx, id, s.now()); err != nil {
		return fmt.Errorf("failed to track open for %d: %w", id, err)
	}
	return nil
}

// TrackClick stamps clicked_date once
func (s *Service) TrackClick(ctx context.Context, id int64) error {
	if err := s.repo.SetClicked(ctx, id, s.now()); err != nil {
		return fmt.Errorf("failed to track click for %d: %w", id, err)
	}
	return nil
}

// Cancel moves a pending record to cancelled
func (s *Service) Cancel(ctx context.Context, id int64) error {
	if err := s.repo.Cancel(ctx, id); err != nil {
		return fmt.Errorf("failed to cancel notification %d: %w", id, err)
	}
	s.logger.Info("Notification cancelled", zap.Int64("id", id))
	return nil
}

// Requeue moves a failed record back to pending. Records that already used
// all attempts stay failed.
func (s *Service) Requeue(ctx context.Context, id int64) error {
	if err := s.repo.Requeue(ctx, id, MaxAttempts); err != nil {
		return fmt.Errorf("failed to requeue notification %d: %w", id, err)
	}
	s.logger.Info("Notification requeued", zap.Int64("id", id))
	return nil
}

// RecentlyQueued reports whether the user already has a pending or sent
// notification of type t for the product within window. A productID of 0
// matches notifications not tied to a product.
func (s *Service) RecentlyQueued(ctx context.Context, userID, productID int64, t Type, window time.Duration) (bool, error) {
	return s.repo.ExistsSince(ctx, userID, productID, t, s.now().Add(-window))
}

// Cleanup purges terminal records created before the retention window
func (s *Service) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	before := s.now().AddDate(0, 0, -retentionDays)
	deleted, err := s.repo.DeleteTerminalBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up notifications: %w", err)
	}
	if deleted > 0 {
		s.logger.Info("Purged old notifications", zap.Int64("count", deleted))
	}
	return deleted, nil
}

// RefreshQueueGauge publishes per-status record counts
func (s *Service) RefreshQueueGauge(ctx context.Context) error {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to count notifications: %w", err)
	}
	for _, status := range []Status{StatusPending, StatusSent, StatusFailed, StatusCancelled} {
		s.metrics.SetQueueSize(string(status), float64(counts[status]))
	}
	return nil
}
