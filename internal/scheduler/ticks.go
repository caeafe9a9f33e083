package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/alexnthnz/wishlist-pipeline/internal/catalog"
	"github.com/alexnthnz/wishlist-pipeline/internal/notification"
	"github.com/alexnthnz/wishlist-pipeline/internal/wishlist"
)

// drainQueue dispatches one batch of due notifications
func (c *Coordinator) drainQueue(ctx context.Context) *TickResult {
	result := &TickResult{}

	batch, err := c.notifications.DequeueBatch(ctx, c.cfg.BatchSize)
	if err != nil {
		result.addError(err)
		return result
	}

	for _, rec := range batch {
		result.Processed++
		status, err := c.notifications.Dispatch(ctx, rec.ID)
		switch {
		case errors.Is(err, notification.ErrNotDispatchable):
			// claimed by a concurrent drain or cancelled meanwhile
			result.Skipped++
		case err != nil:
			result.addError(err)
		case status == notification.StatusSent:
			result.Sent++
		default:
			result.Failed++
		}
	}

	if err := c.notifications.RefreshQueueGauge(ctx); err != nil {
		result.addError(err)
	}
	return result
}

// detectPriceDrops queues a price_drop notification for every active item
// whose product now costs less than the price recorded on the item, then
// records the new price.
func (c *Coordinator) detectPriceDrops(ctx context.Context) *TickResult {
	result := &TickResult{}

	items, err := c.items.ActiveItems(ctx)
	if err != nil {
		result.addError(err)
		return result
	}

	for _, it := range items {
		it := it // per-iteration copy (Go 1.22 loop semantics); its address is retained below
		if it.OriginalPrice == nil {
			continue
		}
		result.Processed++

		product, err := c.products.Product(ctx, it.ProductID)
		if err != nil {
			result.addError(fmt.Errorf("item %d: %w", it.ID, err))
			continue
		}
		if product == nil || product.Price >= *it.OriginalPrice {
			result.Skipped++
			continue
		}

		_, err = c.notifications.Queue(ctx, notification.QueueRequest{
			Type:       notification.TypePriceDrop,
			EmailTo:    it.UserEmail,
			UserID:     &it.UserID,
			WishlistID: &it.WishlistID,
			ProductID:  &it.ProductID,
			Context: notification.Context{
				"product_name": product.Name,
				"old_price":    *it.OriginalPrice,
				"new_price":    product.Price,
				"product_url":  c.productURL(product),
			},
		})
		switch {
		case errors.Is(err, notification.ErrValidation):
			// unreachable recipient; record the price so the item is not retried forever
			c.logger.Warn("Skipping price drop notification", zap.Int64("item_id", it.ID), zap.Error(err))
			result.Skipped++
		case err != nil:
			result.addError(fmt.Errorf("item %d: %w", it.ID, err))
			continue
		default:
			result.Queued++
		}

		if err := c.items.UpdateOriginalPrice(ctx, it.ID, product.Price); err != nil {
			result.addError(fmt.Errorf("item %d: %w", it.ID, err))
		}
	}
	return result
}

// detectRestocks queues a back_in_stock notification when a product moves
// from out of stock to in stock, unless the user already got one for the
// product within the de-dup window. The first observation of an item only
// records its stock state.
func (c *Coordinator) detectRestocks(ctx context.Context) *TickResult {
	result := &TickResult{}

	items, err := c.items.ActiveItems(ctx)
	if err != nil {
		result.addError(err)
		return result
	}

	for _, it := range items {
		result.Processed++

		product, err := c.products.Product(ctx, it.ProductID)
		if err != nil {
			result.addError(fmt.Errorf("item %d: %w", it.ID, err))
			continue
		}
		if product == nil {
			result.Skipped++
			continue
		}

		restocked := it.LastInStock != nil && !*it.LastInStock && product.InStock
		if restocked {
			queued, err := c.notifyRestock(ctx, it, product)
			if err != nil {
				// stock state is left untouched so the next tick retries
				result.addError(fmt.Errorf("item %d: %w", it.ID, err))
				continue
			}
			if queued {
				result.Queued++
			} else {
				result.Skipped++
			}
		}

		if it.LastInStock == nil || *it.LastInStock != product.InStock {
			if err := c.items.UpdateStockState(ctx, it.ID, product.InStock); err != nil {
				result.addError(fmt.Errorf("item %d: %w", it.ID, err))
			}
		}
	}
	return result
}

func (c *Coordinator) notifyRestock(ctx context.Context, it wishlist.Item, product *catalog.Product) (bool, error) {
	recent, err := c.notifications.RecentlyQueued(ctx, it.UserID, it.ProductID, notification.TypeBackInStock, c.cfg.DedupWindow)
	if err != nil {
		return false, err
	}
	if recent {
		return false, nil
	}

	_, err = c.notifications.Queue(ctx, notification.QueueRequest{
		Type:       notification.TypeBackInStock,
		EmailTo:    it.UserEmail,
		UserID:     &it.UserID,
		WishlistID: &it.WishlistID,
		ProductID:  &it.ProductID,
		Context: notification.Context{
			"product_name": product.Name,
			"product_url":  c.productURL(product),
		},
	})
	if errors.Is(err, notification.ErrValidation) {
		c.logger.Warn("Skipping back in stock notification", zap.Int64("item_id", it.ID), zap.Error(err))
		return false, nil
	}
	return err == nil, err
}

// sendReminders nudges owners of wishlists with items older than
// ReminderAfter, at most once per de-dup window.
func (c *Coordinator) sendReminders(ctx context.Context) *TickResult {
	result := &TickResult{}
	if c.cfg.ReminderAfter <= 0 {
		return result
	}

	candidates, err := c.items.ReminderCandidates(ctx, c.now().Add(-c.cfg.ReminderAfter))
	if err != nil {
		result.addError(err)
		return result
	}

	for _, cand := range reminderPerUser(candidates) {
		cand := cand // per-iteration copy (Go 1.22 loop semantics); its address is retained below
		result.Processed++

		recent, err := c.notifications.RecentlyQueued(ctx, cand.UserID, 0, notification.TypeReminder, c.cfg.DedupWindow)
		if err != nil {
			result.addError(fmt.Errorf("wishlist %d: %w", cand.WishlistID, err))
			continue
		}
		if recent {
			result.Skipped++
			continue
		}

		_, err = c.notifications.Queue(ctx, notification.QueueRequest{
			Type:       notification.TypeReminder,
			EmailTo:    cand.UserEmail,
			UserID:     &cand.UserID,
			WishlistID: &cand.WishlistID,
			Context: notification.Context{
				"item_count":   cand.ItemCount,
				"wishlist_url": c.siteURL("/wishlist"),
			},
		})
		switch {
		case errors.Is(err, notification.ErrValidation):
			result.Skipped++
		case err != nil:
			result.addError(fmt.Errorf("wishlist %d: %w", cand.WishlistID, err))
		default:
			result.Queued++
		}
	}
	return result
}

// reminderPerUser folds per-wishlist candidates into one per user, since
// reminders are de-duplicated by user. Item counts are summed and the first
// wishlist in input order is kept.
func reminderPerUser(candidates []wishlist.ReminderCandidate) []wishlist.ReminderCandidate {
	index := make(map[int64]int, len(candidates))
	out := make([]wishlist.ReminderCandidate, 0, len(candidates))
	for _, cand := range candidates {
		if i, ok := index[cand.UserID]; ok {
			out[i].ItemCount += cand.ItemCount
			continue
		}
		index[cand.UserID] = len(out)
		out = append(out, cand)
	}
	return out
}

func (c *Coordinator) recalculateAnalytics(ctx context.Context) *TickResult {
	res := c.analytics.RecalculateAll(ctx)
	return &TickResult{Processed: res.Processed, Errors: res.Errors}
}

func (c *Coordinator) applyRetention(ctx context.Context) *TickResult {
	result := &TickResult{}

	if c.cfg.AnalyticsRetentionDays > 0 {
		n, err := c.analytics.Cleanup(ctx, c.cfg.AnalyticsRetentionDays)
		if err != nil {
			result.addError(err)
		}
		result.Processed += int(n)
	}
	if c.cfg.NotificationRetentionDays > 0 {
		n, err := c.notifications.Cleanup(ctx, c.cfg.NotificationRetentionDays)
		if err != nil {
			result.addError(err)
		}
		result.Processed += int(n)
	}
	return result
}

func (c *Coordinator) productURL(p *catalog.Product) string {
	if p.Permalink != "" {
		return p.Permalink
	}
	return c.siteURL(fmt.Sprintf("/product/%d", p.ID))
}

func (c *Coordinator) siteURL(path string) string {
	return strings.TrimRight(c.cfg.SiteURL, "/") + path
}
