package interfaces

import "context"

// Store groups the repositories of one backend. Repositories from the same
// Store share its transactions.
type Store interface {
	Vendors() VendorRepository
	Sessions() SessionRepository
	Conversions() ConversionRepository
	Commissions() CommissionRepository
	Outbox() OutboxRepository
	Signups() SignupRepository

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
