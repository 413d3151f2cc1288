package config

import "time"

type PaymentConfig struct {
	StripeWebhookSecret      string        `env:"STRIPE_WEBHOOK_SECRET"`
	StripeSignatureTolerance time.Duration `env:"STRIPE_SIGNATURE_TOLERANCE" envDefault:"5m"`
	RazorpayWebhookSecret    string        `env:"RAZORPAY_WEBHOOK_SECRET"`
	MaxWebhookBodyBytes      int64         `env:"WEBHOOK_MAX_BODY_BYTES" envDefault:"1048576"`
}
