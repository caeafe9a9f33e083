package config

import (
	"os"
	"testing"
	"time"
)

// chdir changes the working directory for the duration of the test,
// equivalent to testing.T.Chdir (Go 1.24+).
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoadConfigDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error = %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"batch size", cfg.Notifications.BatchSize, 10},
		{"dedup window", cfg.Notifications.DedupWindow, 7 * 24 * time.Hour},
		{"queue drain", cfg.Scheduler.QueueDrain, 5 * time.Minute},
		{"price drop", cfg.Scheduler.PriceDrop, time.Hour},
		{"back in stock", cfg.Scheduler.BackInStock, time.Hour},
		{"notification retention", cfg.Retention.NotificationsDays, 90},
		{"analytics retention", cfg.Retention.AnalyticsDays, 365},
		{"kafka topic", cfg.Kafka.Topic, "wishlist-events"},
		{"in memory", cfg.InMemory, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("SITE_NAME", "Acme")
	t.Setenv("SENDGRID_API_KEY", "sg-key")
	t.Setenv("IN_MEMORY", "true")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error = %v", err)
	}
	if cfg.Database.Host != "db.internal" {
		t.Errorf("database host = %q", cfg.Database.Host)
	}
	if cfg.Site.Name != "Acme" {
		t.Errorf("site name = %q", cfg.Site.Name)
	}
	if cfg.Channels.SendGrid.APIKey != "sg-key" {
		t.Errorf("sendgrid key = %q", cfg.Channels.SendGrid.APIKey)
	}
	if !cfg.InMemory {
		t.Error("IN_MEMORY not applied")
	}
}
