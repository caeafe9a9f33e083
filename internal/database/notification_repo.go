package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/alexnthnz/wishlist-pipeline/internal/notification"
)

// NotificationRepository stores queued notifications in wishlist_notifications
type NotificationRepository struct {
	db *PostgresDB
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(db *PostgresDB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

const notificationColumns = `id, user_id, wishlist_id, product_id, notification_type, email_to,
	email_subject, email_content, trigger_data, scheduled_date, sent_date, opened_date,
	clicked_date, status, attempts, error_message, created_at`

func scanNotification(row rowScanner) (*notification.Record, error) {
	var rec notification.Record
	var userID, wishlistID, productID sql.NullInt64
	var sentDate, openedDate, clickedDate sql.NullTime
	var trigger []byte
	var errorMessage sql.NullString

	err := row.Scan(
		&rec.ID, &userID, &wishlistID, &productID, &rec.Type, &rec.EmailTo,
		&rec.Subject, &rec.Content, &trigger, &rec.ScheduledDate, &sentDate, &openedDate,
		&clickedDate, &rec.Status, &rec.Attempts, &errorMessage, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	// Handle nullable fields
	rec.UserID = int64Ptr(userID)
	rec.WishlistID = int64Ptr(wishlistID)
	rec.ProductID = int64Ptr(productID)
	rec.SentDate = timePtr(sentDate)
	rec.OpenedDate = timePtr(openedDate)
	rec.ClickedDate = timePtr(clickedDate)
	if len(trigger) > 0 {
		rec.TriggerData = trigger
	}
	if errorMessage.Valid {
		rec.ErrorMessage = errorMessage.String
	}
	rec.ScheduledDate = rec.ScheduledDate.UTC()
	rec.CreatedAt = rec.CreatedAt.UTC()
	return &rec, nil
}

// Insert persists a new record and returns its id
func (r *NotificationRepository) Insert(ctx context.Context, rec *notification.Record) (int64, error) {
	var trigger any
	if len(rec.TriggerData) > 0 {
		trigger = []byte(rec.TriggerData)
	}

	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO wishlist_notifications (
			user_id, wishlist_id, product_id, notification_type, email_to,
			email_subject, email_content, trigger_data, scheduled_date, status, attempts, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`,
		nullInt64(rec.UserID), nullInt64(rec.WishlistID), nullInt64(rec.ProductID),
		rec.Type, rec.EmailTo, rec.Subject, rec.Content, trigger,
		rec.ScheduledDate, rec.Status, rec.Attempts, rec.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	rec.ID = id
	return id, nil
}

// Get retrieves a record by id
func (r *NotificationRepository) Get(ctx context.Context, id int64) (*notification.Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+notificationColumns+`
		FROM wishlist_notifications WHERE id = $1`, id)
	rec, err := scanNotification(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notification.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}
	return rec, nil
}

// Due selects records eligible for dispatch, oldest first
func (r *NotificationRepository) Due(ctx context.Context, now time.Time, limit, maxAttempts int) ([]*notification.Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+notificationColumns+`
		FROM wishlist_notifications
		WHERE status = $1 AND scheduled_date <= $2 AND attempts < $3
		ORDER BY scheduled_date ASC, id ASC
		LIMIT $4`,
		notification.StatusPending, now, maxAttempts, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*notification.Record
	for rows.Next() {
		rec, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Claim bumps attempts of a dispatchable record in a single statement
func (r *NotificationRepository) Claim(ctx context.Context, id int64, maxAttempts int) (*notification.Record, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE wishlist_notifications
		SET attempts = attempts + 1
		WHERE id = $1 AND status = $2 AND attempts < $3
		RETURNING `+notificationColumns,
		id, notification.StatusPending, maxAttempts,
	)
	rec, err := scanNotification(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, r.missOrState(ctx, id)
		}
		return nil, err
	}
	return rec, nil
}

// MarkSent records a successful delivery
func (r *NotificationRepository) MarkSent(ctx context.Context, id int64, at time.Time) error {
	return r.exec(ctx, `
		UPDATE wishlist_notifications
		SET status = $2, sent_date = $3, error_message = NULL
		WHERE id = $1`, id, notification.StatusSent, at)
}

// MarkFailed records a failed delivery
func (r *NotificationRepository) MarkFailed(ctx context.Context, id int64, reason string) error {
	return r.exec(ctx, `
		UPDATE wishlist_notifications
		SET status = $2, error_message = $3
		WHERE id = $1`, id, notification.StatusFailed, reason)
}

// SetOpened stamps opened_date if unset
func (r *NotificationRepository) SetOpened(ctx context.Context, id int64, at time.Time) error {
	return r.exec(ctx, `
		UPDATE wishlist_notifications
		SET opened_date = COALESCE(opened_date, $2)
		WHERE id = $1`, id, at)
}

// SetClicked stamps clicked_date if unset
func (r *NotificationRepository) SetClicked(ctx context.Context, id int64, at time.Time) error {
	return r.exec(ctx, `
		UPDATE wishlist_notifications
		SET clicked_date = COALESCE(clicked_date, $2)
		WHERE id = $1`, id, at)
}

// Cancel moves a pending record to cancelled
func (r *NotificationRepository) Cancel(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE wishlist_notifications SET status = $2
		WHERE id = $1 AND status = $3`,
		id, notification.StatusCancelled, notification.StatusPending)
	return r.transitioned(ctx, id, res, err)
}

// Requeue moves a failed record with attempts left back to pending
func (r *NotificationRepository) Requeue(ctx context.Context, id int64, maxAttempts int) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE wishlist_notifications SET status = $2
		WHERE id = $1 AND status = $3 AND attempts < $4`,
		id, notification.StatusPending, notification.StatusFailed, maxAttempts)
	return r.transitioned(ctx, id, res, err)
}

// ExistsSince reports a pending or sent record for the user/product/type
func (r *NotificationRepository) ExistsSince(ctx context.Context, userID, productID int64, t notification.Type, since time.Time) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM wishlist_notifications
			WHERE user_id = $1 AND product_id IS NOT DISTINCT FROM $2 AND notification_type = $3
			  AND status = ANY($4) AND created_at >= $5
		)`,
		userID, productParam(productID), t,
		pq.Array([]string{string(notification.StatusPending), string(notification.StatusSent)}),
		since,
	).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// productParam maps the "no product" id 0 to NULL
func productParam(productID int64) sql.NullInt64 {
	if productID == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: productID, Valid: true}
}

// DeleteTerminalBefore purges sent, failed and cancelled records created before the cutoff
func (r *NotificationRepository) DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error) {
	statuses := make([]string, 0, len(notification.TerminalStatuses))
	for _, s := range notification.TerminalStatuses {
		statuses = append(statuses, string(s))
	}

	res, err := r.db.ExecContext(ctx, `
		DELETE FROM wishlist_notifications
		WHERE status = ANY($1) AND created_at < $2`,
		pq.Array(statuses), before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountByStatus returns the number of records per status
func (r *NotificationRepository) CountByStatus(ctx context.Context) (map[notification.Status]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM wishlist_notifications GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[notification.Status]int64)
	for rows.Next() {
		var status notification.Status
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r *NotificationRepository) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notification.ErrNotFound
	}
	return nil
}

func (r *NotificationRepository) transitioned(ctx context.Context, id int64, res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return r.missOrState(ctx, id)
	}
	return nil
}

// missOrState distinguishes a missing record from one in the wrong state
func (r *NotificationRepository) missOrState(ctx context.Context, id int64) error {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM wishlist_notifications WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return notification.ErrNotFound
	}
	return notification.ErrNotDispatchable
}
