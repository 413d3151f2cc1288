package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Tracking.ClickRecordTimeout != 2*time.Second {
		t.Errorf("ClickRecordTimeout = %v", cfg.Tracking.ClickRecordTimeout)
	}
	if cfg.Tracking.DefaultCookieDays != 30 {
		t.Errorf("DefaultCookieDays = %d", cfg.Tracking.DefaultCookieDays)
	}
	if cfg.Webhook.ProcessingTimeout != 30*time.Second || cfg.Webhook.ProcessingRetries != 3 {
		t.Errorf("unexpected webhook config %+v", cfg.Webhook)
	}
	if cfg.Events.UseSNS() {
		t.Error("SNS should be off without a topic")
	}
	if cfg.App.Address() != "0.0.0.0:8080" {
		t.Errorf("Address = %q", cfg.App.Address())
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("WEBHOOK_PROCESSING_TIMEOUT", "5s")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Driver != StoreDriverPostgres {
		t.Errorf("Driver = %q", cfg.Store.Driver)
	}
	if cfg.Webhook.ProcessingTimeout != 5*time.Second {
		t.Errorf("ProcessingTimeout = %v", cfg.Webhook.ProcessingTimeout)
	}
	if len(cfg.Security.CORSAllowedOrigins) != 2 {
		t.Errorf("CORSAllowedOrigins = %v", cfg.Security.CORSAllowedOrigins)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := map[string][2]string{
		"driver":      {"STORE_DRIVER", "cassandra"},
		"cookie days": {"TRACKING_DEFAULT_COOKIE_DAYS", "0"},
		"attempts":    {"OUTBOX_MAX_ATTEMPTS", "0"},
	}
	for name, kv := range tests {
		t.Run(name, func(t *testing.T) {
			t.Setenv("STORE_DRIVER", "memory")
			t.Setenv(kv[0], kv[1])
			if _, err := Load(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestProductionRequiresJWTSecret(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("APP_ENV", "production")
	t.Setenv("JWT_SECRET", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error without JWT_SECRET")
	}
	if !IsProduction() {
		t.Error("IsProduction should be true")
	}
}
