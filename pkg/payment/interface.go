package payment

import (
	"errors"
	"fmt"
	"sort"

	"affiliate-ledger/internal/models"
)

var (
	// ErrInvalidSignature is the only parse failure reported to the sender as
	// an error status.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrUnsupportedEvent marks event types the ledger ignores.
	ErrUnsupportedEvent = errors.New("unsupported webhook event")
	// ErrMalformedEvent marks payloads that cannot be mapped to a canonical
	// event.
	ErrMalformedEvent = errors.New("malformed webhook event")
)

// WebhookProvider turns a raw provider delivery into a canonical payment
// event after verifying its signature.
type WebhookProvider interface {
	Name() string
	SignatureHeader() string
	ParseEvent(payload []byte, signature string) (models.PaymentEvent, error)
}

type Registry struct {
	providers map[string]WebhookProvider
}

func NewRegistry(providers ...WebhookProvider) *Registry {
	r := &Registry{providers: make(map[string]WebhookProvider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

func (r *Registry) Get(name string) (WebhookProvider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("payment provider %q is not configured", name)
	}
	return p, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformedEvent, fmt.Sprintf(format, args...))
}
