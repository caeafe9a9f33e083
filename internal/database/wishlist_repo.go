package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alexnthnz/wishlist-pipeline/internal/analytics"
	"github.com/alexnthnz/wishlist-pipeline/internal/catalog"
	"github.com/alexnthnz/wishlist-pipeline/internal/notification"
	"github.com/alexnthnz/wishlist-pipeline/internal/wishlist"
)

// WishlistRepository reads wishlist items and products. It serves as the
// wishlist store, the analytics item source and the catalog lookup.
type WishlistRepository struct {
	db *PostgresDB
}

// NewWishlistRepository creates a new wishlist repository
func NewWishlistRepository(db *PostgresDB) *WishlistRepository {
	return &WishlistRepository{db: db}
}

// ActiveItems returns every active item with its owner's email
func (r *WishlistRepository) ActiveItems(ctx context.Context) ([]wishlist.Item, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT i.id, i.wishlist_id, i.product_id, i.variation_id, w.user_id,
		       COALESCE(w.user_email, ''), i.original_price, i.status,
		       i.date_added, i.date_moved_to_cart, i.last_in_stock
		FROM wishlist_items i
		JOIN wishlists w ON w.id = i.wishlist_id
		WHERE i.status = $1
		ORDER BY i.id`, wishlist.StatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to query active items: %w", err)
	}
	defer rows.Close()

	var items []wishlist.Item
	for rows.Next() {
		var it wishlist.Item
		var price sql.NullFloat64
		var movedToCart sql.NullTime
		var lastInStock sql.NullBool

		if err := rows.Scan(
			&it.ID, &it.WishlistID, &it.ProductID, &it.VariationID, &it.UserID,
			&it.UserEmail, &price, &it.Status,
			&it.DateAdded, &movedToCart, &lastInStock,
		); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}

		if price.Valid {
			p := price.Float64
			it.OriginalPrice = &p
		}
		if lastInStock.Valid {
			b := lastInStock.Bool
			it.LastInStock = &b
		}
		it.DateMovedToCart = timePtr(movedToCart)
		items = append(items, it)
	}
	return items, rows.Err()
}

// UpdateOriginalPrice overwrites the recorded price of an item
func (r *WishlistRepository) UpdateOriginalPrice(ctx context.Context, itemID int64, price float64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE wishlist_items SET original_price = $2 WHERE id = $1`, itemID, price)
	return err
}

// UpdateStockState records the last observed stock state of an item's product
func (r *WishlistRepository) UpdateStockState(ctx context.Context, itemID int64, inStock bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE wishlist_items SET last_in_stock = $2 WHERE id = $1`, itemID, inStock)
	return err
}

// ReminderCandidates groups old active items per wishlist
func (r *WishlistRepository) ReminderCandidates(ctx context.Context, olderThan time.Time) ([]wishlist.ReminderCandidate, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT w.user_id, COALESCE(w.user_email, ''), w.id, COUNT(i.id)
		FROM wishlists w
		JOIN wishlist_items i ON i.wishlist_id = w.id
		WHERE i.status = $1 AND i.date_added < $2
		GROUP BY w.user_id, w.user_email, w.id
		ORDER BY w.id`, wishlist.StatusActive, olderThan)
	if err != nil {
		return nil, fmt.Errorf("failed to query reminder candidates: %w", err)
	}
	defer rows.Close()

	var out []wishlist.ReminderCandidate
	for rows.Next() {
		var c wishlist.ReminderCandidate
		if err := rows.Scan(&c.UserID, &c.UserEmail, &c.WishlistID, &c.ItemCount); err != nil {
			return nil, fmt.Errorf("failed to scan reminder candidate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ActiveCount counts active items for a product variation
func (r *WishlistRepository) ActiveCount(ctx context.Context, key analytics.Key) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM wishlist_items
		WHERE product_id = $1 AND variation_id = $2 AND status = $3`,
		key.ProductID, key.VariationID, wishlist.StatusActive,
	).Scan(&n)
	return n, err
}

// DwellSamples returns add/cart dates of items moved to cart or purchased
func (r *WishlistRepository) DwellSamples(ctx context.Context, key analytics.Key) ([]analytics.DwellSample, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT date_added, date_moved_to_cart FROM wishlist_items
		WHERE product_id = $1 AND variation_id = $2
		  AND (date_moved_to_cart IS NOT NULL OR status = $3)`,
		key.ProductID, key.VariationID, wishlist.StatusPurchased,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []analytics.DwellSample
	for rows.Next() {
		var s analytics.DwellSample
		var moved sql.NullTime
		if err := rows.Scan(&s.AddedAt, &moved); err != nil {
			return nil, err
		}
		s.MovedToCartAt = timePtr(moved)
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

// Product looks up a catalog product; a missing product is (nil, nil)
func (r *WishlistRepository) Product(ctx context.Context, id int64) (*catalog.Product, error) {
	var p catalog.Product
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, price, in_stock, permalink FROM products WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.Price, &p.InStock, &p.Permalink)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get product %d: %w", id, err)
	}
	return &p, nil
}

var (
	_ analytics.Repository    = (*AnalyticsRepository)(nil)
	_ analytics.ItemSource    = (*WishlistRepository)(nil)
	_ notification.Repository = (*NotificationRepository)(nil)
	_ wishlist.Store          = (*WishlistRepository)(nil)
	_ catalog.Lookup          = (*WishlistRepository)(nil)
)
