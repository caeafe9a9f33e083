package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the wishlist pipeline
type Config struct {
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	API           APIConfig           `mapstructure:"api"`
	Site          SiteConfig          `mapstructure:"site"`
	Channels      ChannelsConfig      `mapstructure:"channels"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	Retention     RetentionConfig     `mapstructure:"retention"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`

	// InMemory replaces PostgreSQL, Redis and SendGrid with in-process
	// stand-ins for local development.
	InMemory bool `mapstructure:"in_memory"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Addr       string        `mapstructure:"addr"`
	Password   string        `mapstructure:"password"`
	DB         int           `mapstructure:"db"`
	ProductTTL time.Duration `mapstructure:"product_ttl"`
}

// KafkaConfig holds Kafka configuration
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

// APIConfig holds API server configuration
type APIConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// SiteConfig identifies the sending site in notification footers and links
type SiteConfig struct {
	Name     string `mapstructure:"name"`
	URL      string `mapstructure:"url"`
	Currency string `mapstructure:"currency"`
}

// ChannelsConfig holds delivery provider configuration
type ChannelsConfig struct {
	Mock     bool           `mapstructure:"mock"`
	SendGrid SendGridConfig `mapstructure:"sendgrid"`
}

// SendGridConfig holds SendGrid email configuration
type SendGridConfig struct {
	APIKey    string  `mapstructure:"api_key"`
	FromName  string  `mapstructure:"from_name"`
	FromEmail string  `mapstructure:"from_email"`
	RateLimit float64 `mapstructure:"rate_limit"`
	Burst     int     `mapstructure:"burst"`
}

// NotificationsConfig tunes queue draining and detection
type NotificationsConfig struct {
	BatchSize       int           `mapstructure:"batch_size"`
	DeliveryTimeout time.Duration `mapstructure:"delivery_timeout"`
	DedupWindow     time.Duration `mapstructure:"dedup_window"`
	ReminderAfter   time.Duration `mapstructure:"reminder_after"`
	// TrackingURL is the public address of the API serving /t/open and
	// /t/click. Empty falls back to site.url.
	TrackingURL string `mapstructure:"tracking_url"`
}

// SchedulerConfig holds tick intervals. A zero interval disables the tick.
type SchedulerConfig struct {
	QueueDrain           time.Duration `mapstructure:"queue_drain"`
	PriceDrop            time.Duration `mapstructure:"price_drop"`
	BackInStock          time.Duration `mapstructure:"back_in_stock"`
	Reminder             time.Duration `mapstructure:"reminder"`
	AnalyticsRecalculate time.Duration `mapstructure:"analytics_recalculate"`
	Retention            time.Duration `mapstructure:"retention"`
	LockTTL              time.Duration `mapstructure:"lock_ttl"`
}

// RetentionConfig holds retention windows in days
type RetentionConfig struct {
	AnalyticsDays     int `mapstructure:"analytics_days"`
	NotificationsDays int `mapstructure:"notifications_days"`
}

// MetricsConfig holds monitoring configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// LoadConfig loads configuration from environment variables and config files
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)

	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		log.Println("Config file not found, using environment variables and defaults")
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "wishlist")
	v.SetDefault("database.ssl_mode", "disable")

	// Redis defaults
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.product_ttl", 5*time.Minute)

	// Kafka defaults
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "wishlist-events")
	v.SetDefault("kafka.group_id", "wishlist-analytics")

	// API defaults
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)

	v.SetDefault("site.name", "My Store")
	v.SetDefault("site.url", "http://localhost:8080")
	v.SetDefault("site.currency", "$")

	v.SetDefault("channels.mock", false)
	v.SetDefault("channels.sendgrid.from_name", "Wishlist")
	v.SetDefault("channels.sendgrid.from_email", "noreply@example.com")
	v.SetDefault("channels.sendgrid.rate_limit", 10.0)
	v.SetDefault("channels.sendgrid.burst", 5)

	v.SetDefault("notifications.batch_size", 10)
	v.SetDefault("notifications.delivery_timeout", 30*time.Second)
	v.SetDefault("notifications.dedup_window", 7*24*time.Hour)
	v.SetDefault("notifications.reminder_after", 14*24*time.Hour)
	v.SetDefault("notifications.tracking_url", "")

	v.SetDefault("scheduler.queue_drain", 5*time.Minute)
	v.SetDefault("scheduler.price_drop", time.Hour)
	v.SetDefault("scheduler.back_in_stock", time.Hour)
	v.SetDefault("scheduler.reminder", 7*24*time.Hour)
	v.SetDefault("scheduler.analytics_recalculate", 24*time.Hour)
	v.SetDefault("scheduler.retention", 24*time.Hour)
	v.SetDefault("scheduler.lock_ttl", 10*time.Minute)

	v.SetDefault("retention.analytics_days", 365)
	v.SetDefault("retention.notifications_days", 90)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9091)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("in_memory", false)

	// Map environment variables
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.database", "DB_NAME")
	v.BindEnv("redis.addr", "REDIS_ADDR")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("site.name", "SITE_NAME")
	v.BindEnv("site.url", "SITE_URL")
	v.BindEnv("channels.mock", "MOCK_EMAIL")
	v.BindEnv("channels.sendgrid.api_key", "SENDGRID_API_KEY")
	v.BindEnv("channels.sendgrid.from_email", "SENDGRID_FROM_EMAIL")
	v.BindEnv("notifications.tracking_url", "TRACKING_URL")
	v.BindEnv("in_memory", "IN_MEMORY")
}
