package services

import (
	"context"
	"errors"

	"affiliate-ledger/internal/repositories/interfaces"
	"affiliate-ledger/internal/validators"
	"affiliate-ledger/pkg/payment"
)

var (
	ErrVendorNotFound     = errors.New("vendor not found")
	ErrVendorInactive     = errors.New("vendor is inactive")
	ErrMissingDestination = errors.New("vendor has no destination url")
	ErrConversionNotFound = errors.New("conversion not found")
	ErrConversionRefunded = errors.New("conversion was refunded")
	ErrNotAttributed      = errors.New("conversion is not attributed")
	ErrSessionNotFound    = errors.New("referral session not found")
	ErrInvalidEvent       = errors.New("invalid event")
	ErrUnknownTaskKind    = errors.New("unknown outbox task kind")
)

// IsPermanent reports whether retrying the operation that returned err can
// never succeed. Store and network failures are transient; validation and
// missing-record errors are not.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	var verrs validators.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		return true
	case errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, ErrVendorNotFound),
		errors.Is(err, ErrVendorInactive),
		errors.Is(err, ErrMissingDestination),
		errors.Is(err, ErrConversionNotFound),
		errors.Is(err, ErrConversionRefunded),
		errors.Is(err, ErrNotAttributed),
		errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrInvalidEvent),
		errors.Is(err, ErrUnknownTaskKind),
		errors.Is(err, interfaces.ErrNotFound),
		errors.Is(err, payment.ErrMalformedEvent),
		errors.Is(err, payment.ErrUnsupportedEvent),
		errors.Is(err, payment.ErrInvalidSignature):
		return true
	}
	return false
}
