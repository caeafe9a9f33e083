// Package wishlist describes the wishlist item table the pipeline reads from.
package wishlist

import (
	"context"
	"time"
)

// Status represents the lifecycle state of a wishlist item
type Status string

const (
	StatusActive    Status = "active"
	StatusPurchased Status = "purchased"
	StatusDeleted   Status = "deleted"
)

// Item represents a product a user saved to a wishlist
type Item struct {
	ID              int64      `json:"id" db:"id"`
	WishlistID      int64      `json:"wishlist_id" db:"wishlist_id"`
	ProductID       int64      `json:"product_id" db:"product_id"`
	VariationID     int64      `json:"variation_id" db:"variation_id"`
	UserID          int64      `json:"user_id" db:"user_id"`
	UserEmail       string     `json:"user_email,omitempty" db:"user_email"`
	OriginalPrice   *float64   `json:"original_price,omitempty" db:"original_price"`
	Status          Status     `json:"status" db:"status"`
	DateAdded       time.Time  `json:"date_added" db:"date_added"`
	DateMovedToCart *time.Time `json:"date_moved_to_cart,omitempty" db:"date_moved_to_cart"`
	LastInStock     *bool      `json:"last_in_stock,omitempty" db:"last_in_stock"`
}

// ReminderCandidate summarises a user's active items for reminder emails
type ReminderCandidate struct {
	UserID     int64
	UserEmail  string
	WishlistID int64
	ItemCount  int64
}

// Store reads and annotates wishlist items
type Store interface {
	// ActiveItems returns every active item, including its owner's email.
	ActiveItems(ctx context.Context) ([]Item, error)
	UpdateOriginalPrice(ctx context.Context, itemID int64, price float64) error
	UpdateStockState(ctx context.Context, itemID int64, inStock bool) error
	// ReminderCandidates returns one row per wishlist holding active items
	// added before olderThan.
	ReminderCandidates(ctx context.Context, olderThan time.Time) ([]ReminderCandidate, error)
}
