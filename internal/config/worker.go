package config

import "time"

type TrackingConfig struct {
	ClickRecordTimeout time.Duration `env:"TRACKING_CLICK_RECORD_TIMEOUT" envDefault:"2s"`
	DefaultCookieDays  int           `env:"TRACKING_DEFAULT_COOKIE_DAYS" envDefault:"30"`
	SignupEventName    string        `env:"TRACKING_SIGNUP_EVENT" envDefault:"signup"`
}

type WebhookConfig struct {
	ProcessingTimeout time.Duration `env:"WEBHOOK_PROCESSING_TIMEOUT" envDefault:"30s"`
	ProcessingRetries int           `env:"WEBHOOK_PROCESSING_RETRIES" envDefault:"3"`
	RetryBackoff      time.Duration `env:"WEBHOOK_RETRY_BACKOFF" envDefault:"500ms"`
	Workers           int           `env:"WEBHOOK_WORKERS" envDefault:"4"`
	QueueSize         int           `env:"WEBHOOK_QUEUE_SIZE" envDefault:"256"`
}

type OutboxConfig struct {
	PollInterval time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"1s"`
	BatchSize    int           `env:"OUTBOX_BATCH_SIZE" envDefault:"50"`
	Lease        time.Duration `env:"OUTBOX_LEASE" envDefault:"1m"`
	MaxAttempts  int           `env:"OUTBOX_MAX_ATTEMPTS" envDefault:"8"`
	BaseBackoff  time.Duration `env:"OUTBOX_BASE_BACKOFF" envDefault:"2s"`
	MaxBackoff   time.Duration `env:"OUTBOX_MAX_BACKOFF" envDefault:"10m"`
}
