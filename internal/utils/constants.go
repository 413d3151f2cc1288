package utils

const (
	AppName = "affiliate-ledger"

	DefaultPageSize = 20
	MaxPageSize     = 100
	MinPageSize     = 1

	StatusSuccess = "success"
	StatusError   = "error"

	ErrValidationFailed = "Validation failed"
	ErrInternalServer   = "Internal server error"
	ErrUnauthorized     = "Unauthorized access"
	ErrForbidden        = "Access forbidden"

	// ReferralQueryParam is appended to vendor destination URLs.
	ReferralQueryParam = "ref"
)
