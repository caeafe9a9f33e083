// Package channels provides the delivery sinks used by the notification queue.
package channels

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/alexnthnz/wishlist-pipeline/internal/config"
	"github.com/alexnthnz/wishlist-pipeline/internal/notification"
)

// Channel is a named delivery sink
type Channel interface {
	notification.HTMLSink
	GetChannelType() string
}

// New builds the configured delivery channel. The mock channel is used when
// requested explicitly or when no SendGrid key is configured.
func New(cfg config.ChannelsConfig, logger *zap.Logger) Channel {
	if cfg.Mock || cfg.SendGrid.APIKey == "" {
		logger.Info("Using mock email channel")
		return NewMockChannel(logger)
	}

	var ch Channel = NewEmailChannel(cfg.SendGrid, logger)
	if cfg.SendGrid.RateLimit > 0 {
		ch = WithRateLimit(ch, cfg.SendGrid.RateLimit, cfg.SendGrid.Burst)
	}
	return ch
}

// RateLimited throttles a channel to a steady send rate
type RateLimited struct {
	next    Channel
	limiter *rate.Limiter
}

// WithRateLimit wraps a channel so it sends at most perSecond messages per
// second with the given burst.
func WithRateLimit(next Channel, perSecond float64, burst int) *RateLimited {
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Send waits for a token and then delivers
func (r *RateLimited) Send(ctx context.Context, to, subject, body string) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return r.next.Send(ctx, to, subject, body)
}

// SendHTML waits for a token and then delivers both parts
func (r *RateLimited) SendHTML(ctx context.Context, to, subject, text, html string) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return r.next.SendHTML(ctx, to, subject, text, html)
}

// GetChannelType returns the wrapped channel type
func (r *RateLimited) GetChannelType() string {
	return r.next.GetChannelType()
}
