package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	App      *AppConfig
	Log      *LogConfig
	Security *SecurityConfig
	Store    *StoreConfig
	Redis    *RedisConfig
	Payment  *PaymentConfig
	Tracking *TrackingConfig
	Webhook  *WebhookConfig
	Outbox   *OutboxConfig
	Events   *EventsConfig
}

type AppConfig struct {
	Name        string `env:"APP_NAME" envDefault:"affiliate-ledger"`
	Version     string `env:"APP_VERSION" envDefault:"1.0.0"`
	Environment string `env:"APP_ENV" envDefault:"development"`
	Host        string `env:"APP_HOST" envDefault:"0.0.0.0"`
	Port        int    `env:"APP_PORT" envDefault:"8080"`
	BaseURL     string `env:"APP_BASE_URL" envDefault:"http://localhost:8080"`
}

type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
	Output string `env:"LOG_OUTPUT" envDefault:"stdout"`
	Caller bool   `env:"LOG_CALLER" envDefault:"false"`
}

type SecurityConfig struct {
	JWTSecret          string   `env:"JWT_SECRET"`
	AdminRole          string   `env:"ADMIN_ROLE" envDefault:"admin"`
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
	TrustedProxies     []string `env:"TRUSTED_PROXIES" envSeparator:","`
}

func Load() (*Config, error) {
	cfg := &Config{
		App:      &AppConfig{},
		Log:      &LogConfig{},
		Security: &SecurityConfig{},
		Store:    &StoreConfig{},
		Redis:    &RedisConfig{},
		Payment:  &PaymentConfig{},
		Tracking: &TrackingConfig{},
		Webhook:  &WebhookConfig{},
		Outbox:   &OutboxConfig{},
		Events:   &EventsConfig{},
	}

	targets := []interface{}{
		cfg.App, cfg.Log, cfg.Security, cfg.Store, cfg.Redis,
		cfg.Payment, cfg.Tracking, cfg.Webhook, cfg.Outbox, cfg.Events,
	}
	for _, target := range targets {
		if err := env.Parse(target); err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := c.Store.validate(); err != nil {
		return err
	}
	if c.Tracking.DefaultCookieDays <= 0 {
		return fmt.Errorf("TRACKING_DEFAULT_COOKIE_DAYS must be positive")
	}
	if c.Outbox.MaxAttempts <= 0 {
		return fmt.Errorf("OUTBOX_MAX_ATTEMPTS must be positive")
	}
	if c.Webhook.Workers <= 0 {
		return fmt.Errorf("WEBHOOK_WORKERS must be positive")
	}
	if c.App.Environment == "production" && c.Security.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required in production")
	}
	return nil
}

func (c *AppConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func environment() string {
	if value := os.Getenv("APP_ENV"); value != "" {
		return value
	}
	return "development"
}

func IsProduction() bool {
	return environment() == "production"
}

func IsDevelopment() bool {
	return environment() == "development"
}

func IsTest() bool {
	return environment() == "test"
}
