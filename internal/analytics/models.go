package analytics

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when no counter row exists for a key
	ErrNotFound = errors.New("analytics row not found")
	// ErrUnknownEvent is returned for event types outside the EventType enum
	ErrUnknownEvent = errors.New("unknown event type")
	// ErrNoSamples is returned when no item qualifies for the dwell-time average
	ErrNoSamples = errors.New("no qualifying wishlist items")
)

// Key identifies a counter row. VariationID 0 means "no variation".
type Key struct {
	ProductID   int64 `json:"product_id"`
	VariationID int64 `json:"variation_id"`
}

func (k Key) String() string {
	return fmt.Sprintf("%d/%d", k.ProductID, k.VariationID)
}

// Counters represents the aggregate event counters of one product variation
type Counters struct {
	ProductID             int64      `json:"product_id" db:"product_id"`
	VariationID           int64      `json:"variation_id" db:"variation_id"`
	WishlistCount         int64      `json:"wishlist_count" db:"wishlist_count"`
	ClickCount            int64      `json:"click_count" db:"click_count"`
	AddToCartCount        int64      `json:"add_to_cart_count" db:"add_to_cart_count"`
	PurchaseCount         int64      `json:"purchase_count" db:"purchase_count"`
	ShareCount            int64      `json:"share_count" db:"share_count"`
	FirstAddedDate        *time.Time `json:"first_added_date,omitempty" db:"first_added_date"`
	LastAddedDate         *time.Time `json:"last_added_date,omitempty" db:"last_added_date"`
	LastPurchasedDate     *time.Time `json:"last_purchased_date,omitempty" db:"last_purchased_date"`
	AverageDaysInWishlist float64    `json:"average_days_in_wishlist" db:"average_days_in_wishlist"`
	ConversionRate        float64    `json:"conversion_rate" db:"conversion_rate"`
	UpdatedAt             time.Time  `json:"updated_at" db:"updated_at"`
}

// Key returns the row identity
func (c *Counters) Key() Key {
	return Key{ProductID: c.ProductID, VariationID: c.VariationID}
}

// EventType represents a tracked wishlist event
type EventType string

const (
	EventAdd      EventType = "add"
	EventRemove   EventType = "remove"
	EventView     EventType = "view"
	EventClick    EventType = "click"
	EventCart     EventType = "cart"
	EventPurchase EventType = "purchase"
	EventShare    EventType = "share"
)

// ParseEventType converts a raw event name into an EventType
func ParseEventType(s string) (EventType, error) {
	switch e := EventType(s); e {
	case EventAdd, EventRemove, EventView, EventClick, EventCart, EventPurchase, EventShare:
		return e, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEvent, s)
}

// DwellSample is one wishlist item used for the average-days computation
type DwellSample struct {
	AddedAt       time.Time
	MovedToCartAt *time.Time
}

// RecalculateResult aggregates the outcome of a RecalculateAll run
type RecalculateResult struct {
	Processed int
	Updated   int
	Errors    []error
}
