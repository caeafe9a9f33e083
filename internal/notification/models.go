package notification

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// MaxAttempts caps delivery attempts per record
const MaxAttempts = 3

var (
	// ErrNotFound is returned when a notification record does not exist
	ErrNotFound = errors.New("notification not found")
	// ErrValidation wraps every enqueue-time validation failure
	ErrValidation = errors.New("invalid notification")
	// ErrNotDispatchable is returned when a record is not in a state that allows the requested transition
	ErrNotDispatchable = errors.New("notification not in a dispatchable state")
)

// Type represents the kind of notification
type Type string

const (
	TypePriceDrop         Type = "price_drop"
	TypeBackInStock       Type = "back_in_stock"
	TypePromotional       Type = "promotional"
	TypeReminder          Type = "reminder"
	TypeShareNotification Type = "share_notification"
	TypeEstimateRequest   Type = "estimate_request"
)

// ParseType converts a raw type name into a Type
func ParseType(s string) (Type, error) {
	switch t := Type(s); t {
	case TypePriceDrop, TypeBackInStock, TypePromotional, TypeReminder, TypeShareNotification, TypeEstimateRequest:
		return t, nil
	}
	return "", fmt.Errorf("%w: unknown type %q", ErrValidation, s)
}

// Status represents the status of a notification
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the record can be pruned by retention cleanup
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed || s == StatusCancelled
}

// TerminalStatuses lists the statuses eligible for retention cleanup
var TerminalStatuses = []Status{StatusSent, StatusFailed, StatusCancelled}

// Record represents a queued notification
type Record struct {
	ID            int64           `json:"id" db:"id"`
	UserID        *int64          `json:"user_id,omitempty" db:"user_id"`
	WishlistID    *int64          `json:"wishlist_id,omitempty" db:"wishlist_id"`
	ProductID     *int64          `json:"product_id,omitempty" db:"product_id"`
	Type          Type            `json:"notification_type" db:"notification_type"`
	EmailTo       string          `json:"email_to" db:"email_to"`
	Subject       string          `json:"email_subject" db:"email_subject"`
	Content       string          `json:"email_content" db:"email_content"`
	TriggerData   json.RawMessage `json:"trigger_data,omitempty" db:"trigger_data"`
	ScheduledDate time.Time       `json:"scheduled_date" db:"scheduled_date"`
	SentDate      *time.Time      `json:"sent_date,omitempty" db:"sent_date"`
	OpenedDate    *time.Time      `json:"opened_date,omitempty" db:"opened_date"`
	ClickedDate   *time.Time      `json:"clicked_date,omitempty" db:"clicked_date"`
	Status        Status          `json:"status" db:"status"`
	Attempts      int             `json:"attempts" db:"attempts"`
	ErrorMessage  string          `json:"error_message,omitempty" db:"error_message"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// Context carries template inputs for the content generator
type Context map[string]any

// QueueRequest represents a request to queue a notification
type QueueRequest struct {
	Type        Type       `json:"notification_type" validate:"required"`
	EmailTo     string     `json:"email_to" validate:"required,email"`
	UserID      *int64     `json:"user_id,omitempty"`
	WishlistID  *int64     `json:"wishlist_id,omitempty"`
	ProductID   *int64     `json:"product_id,omitempty"`
	Context     Context    `json:"context,omitempty"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
}
