package database

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/alexnthnz/wishlist-pipeline/internal/config"
)

// PostgresDB wraps sql.DB for PostgreSQL operations
type PostgresDB struct {
	*sql.DB
}

// NewPostgresDB creates a new PostgreSQL database connection
func NewPostgresDB(cfg config.DatabaseConfig) (*PostgresDB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresDB{DB: db}, nil
}

// schema is applied on every start, so each statement must be idempotent
const schema = `
	-- Products read by the detection ticks
	CREATE TABLE IF NOT EXISTS products (
		id BIGINT PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		price NUMERIC(12, 2) NOT NULL DEFAULT 0,
		in_stock BOOLEAN NOT NULL DEFAULT true,
		permalink TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS wishlists (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL,
		user_email VARCHAR(255),
		name VARCHAR(255) NOT NULL DEFAULT 'Wishlist',
		created_at TIMESTAMPTZ DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS wishlist_items (
		id BIGSERIAL PRIMARY KEY,
		wishlist_id BIGINT NOT NULL REFERENCES wishlists(id) ON DELETE CASCADE,
		product_id BIGINT NOT NULL,
		variation_id BIGINT NOT NULL DEFAULT 0,
		original_price NUMERIC(12, 2),
		status VARCHAR(20) NOT NULL DEFAULT 'active', -- active, purchased, deleted
		date_added TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		date_moved_to_cart TIMESTAMPTZ,
		last_in_stock BOOLEAN
	);

	-- Per product/variation event counters
	CREATE TABLE IF NOT EXISTS wishlist_analytics (
		product_id BIGINT NOT NULL,
		variation_id BIGINT NOT NULL DEFAULT 0,
		wishlist_count BIGINT NOT NULL DEFAULT 0 CHECK (wishlist_count >= 0),
		click_count BIGINT NOT NULL DEFAULT 0,
		add_to_cart_count BIGINT NOT NULL DEFAULT 0,
		purchase_count BIGINT NOT NULL DEFAULT 0,
		share_count BIGINT NOT NULL DEFAULT 0,
		first_added_date TIMESTAMPTZ,
		last_added_date TIMESTAMPTZ,
		last_purchased_date TIMESTAMPTZ,
		average_days_in_wishlist NUMERIC(10, 2) NOT NULL DEFAULT 0,
		conversion_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (product_id, variation_id)
	);

	-- Outbound notification queue
	CREATE TABLE IF NOT EXISTS wishlist_notifications (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT,
		wishlist_id BIGINT,
		product_id BIGINT,
		notification_type VARCHAR(50) NOT NULL,
		email_to VARCHAR(255) NOT NULL,
		email_subject TEXT NOT NULL,
		email_content TEXT NOT NULL,
		trigger_data JSONB,
		scheduled_date TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		sent_date TIMESTAMPTZ,
		opened_date TIMESTAMPTZ,
		clicked_date TIMESTAMPTZ,
		status VARCHAR(20) NOT NULL DEFAULT 'pending', -- pending, sent, failed, cancelled
		attempts INTEGER NOT NULL DEFAULT 0,
		error_message TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	-- Create indexes for better performance
	CREATE INDEX IF NOT EXISTS idx_wishlist_items_product ON wishlist_items(product_id, variation_id);
	CREATE INDEX IF NOT EXISTS idx_wishlist_items_status ON wishlist_items(status);
	CREATE INDEX IF NOT EXISTS idx_notifications_due ON wishlist_notifications(status, scheduled_date);
	CREATE INDEX IF NOT EXISTS idx_notifications_dedup ON wishlist_notifications(user_id, product_id, notification_type);
	CREATE INDEX IF NOT EXISTS idx_notifications_created_at ON wishlist_notifications(created_at);

	-- purchases may outnumber wishlist adds, so the rate has no upper bound
	ALTER TABLE wishlist_analytics ALTER COLUMN conversion_rate TYPE DOUBLE PRECISION;
	`

// InitSchema initializes the database schema
func (db *PostgresDB) InitSchema() error {
	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// Close closes the database connection
func (db *PostgresDB) Close() error {
	return db.DB.Close()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}
