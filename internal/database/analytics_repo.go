package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alexnthnz/wishlist-pipeline/internal/analytics"
)

// AnalyticsRepository stores event counters in wishlist_analytics
type AnalyticsRepository struct {
	db *PostgresDB
}

// NewAnalyticsRepository creates a new analytics repository
func NewAnalyticsRepository(db *PostgresDB) *AnalyticsRepository {
	return &AnalyticsRepository{db: db}
}

const analyticsColumns = `product_id, variation_id, wishlist_count, click_count, add_to_cart_count,
	purchase_count, share_count, first_added_date, last_added_date, last_purchased_date,
	average_days_in_wishlist, conversion_rate, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCounters(row rowScanner) (*analytics.Counters, error) {
	var c analytics.Counters
	var firstAdded, lastAdded, lastPurchased sql.NullTime

	err := row.Scan(
		&c.ProductID, &c.VariationID, &c.WishlistCount, &c.ClickCount, &c.AddToCartCount,
		&c.PurchaseCount, &c.ShareCount, &firstAdded, &lastAdded, &lastPurchased,
		&c.AverageDaysInWishlist, &c.ConversionRate, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.FirstAddedDate = timePtr(firstAdded)
	c.LastAddedDate = timePtr(lastAdded)
	c.LastPurchasedDate = timePtr(lastPurchased)
	return &c, nil
}

// Update runs fn against the locked row for key inside one transaction
func (r *AnalyticsRepository) Update(ctx context.Context, key analytics.Key, now time.Time, fn func(*analytics.Counters) error) (*analytics.Counters, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO wishlist_analytics (product_id, variation_id, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (product_id, variation_id) DO NOTHING`,
		key.ProductID, key.VariationID, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create analytics row: %w", err)
	}

	row := tx.QueryRowContext(ctx, `
		SELECT `+analyticsColumns+`
		FROM wishlist_analytics
		WHERE product_id = $1 AND variation_id = $2
		FOR UPDATE`,
		key.ProductID, key.VariationID,
	)
	counters, err := scanCounters(row)
	if err != nil {
		return nil, fmt.Errorf("failed to load analytics row: %w", err)
	}

	if err := fn(counters); err != nil {
		return nil, err
	}
	counters.UpdatedAt = now

	_, err = tx.ExecContext(ctx, `
		UPDATE wishlist_analytics
		SET wishlist_count = $3, click_count = $4, add_to_cart_count = $5,
		    purchase_count = $6, share_count = $7, first_added_date = $8,
		    last_added_date = $9, last_purchased_date = $10,
		    average_days_in_wishlist = $11, conversion_rate = $12, updated_at = $13
		WHERE product_id = $1 AND variation_id = $2`,
		key.ProductID, key.VariationID,
		counters.WishlistCount, counters.ClickCount, counters.AddToCartCount,
		counters.PurchaseCount, counters.ShareCount, nullTime(counters.FirstAddedDate),
		nullTime(counters.LastAddedDate), nullTime(counters.LastPurchasedDate),
		counters.AverageDaysInWishlist, counters.ConversionRate, counters.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update analytics row: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit analytics row: %w", err)
	}
	return counters, nil
}

// Get retrieves the counters of key
func (r *AnalyticsRepository) Get(ctx context.Context, key analytics.Key) (*analytics.Counters, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+analyticsColumns+`
		FROM wishlist_analytics
		WHERE product_id = $1 AND variation_id = $2`,
		key.ProductID, key.VariationID,
	)
	counters, err := scanCounters(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, analytics.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get analytics row: %w", err)
	}
	return counters, nil
}

// Keys lists every known product/variation pair
func (r *AnalyticsRepository) Keys(ctx context.Context) ([]analytics.Key, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, variation_id FROM wishlist_analytics
		ORDER BY product_id, variation_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list analytics keys: %w", err)
	}
	defer rows.Close()

	var keys []analytics.Key
	for rows.Next() {
		var k analytics.Key
		if err := rows.Scan(&k.ProductID, &k.VariationID); err != nil {
			return nil, fmt.Errorf("failed to scan analytics key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// DeleteStale removes empty rows last updated before the cutoff
func (r *AnalyticsRepository) DeleteStale(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM wishlist_analytics
		WHERE wishlist_count = 0 AND updated_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
