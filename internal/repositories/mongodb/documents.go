package mongodb

import (
	"encoding/json"
	"fmt"
	"time"

	"affiliate-ledger/internal/models"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	vendorsCollection     = "vendors"
	sessionsCollection    = "referral_sessions"
	conversionsCollection = "conversions"
	commissionsCollection = "commissions"
	outboxCollection      = "outbox_tasks"
	signupsCollection     = "referral_signups"
)

func toDecimal128(d decimal.Decimal) (primitive.Decimal128, error) {
	v, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return primitive.Decimal128{}, fmt.Errorf("failed to convert %s to decimal128: %w", d, err)
	}
	return v, nil
}

func fromDecimal128(v primitive.Decimal128) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("bad decimal128 %s: %w", v, err)
	}
	return d, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

type vendorDoc struct {
	ID              string               `bson:"_id"`
	Name            string               `bson:"name"`
	CommissionType  string               `bson:"commission_type"`
	CommissionValue primitive.Decimal128 `bson:"commission_value"`
	CookieDuration  int                  `bson:"cookie_duration"`
	IsActive        bool                 `bson:"is_active"`
	DestinationURL  string               `bson:"destination_url"`
	CreatedAt       time.Time            `bson:"created_at"`
}

func newVendorDoc(v *models.Vendor) (*vendorDoc, error) {
	value, err := toDecimal128(v.CommissionValue)
	if err != nil {
		return nil, err
	}
	return &vendorDoc{
		ID: v.ID, Name: v.Name, CommissionType: string(v.CommissionType), CommissionValue: value,
		CookieDuration: v.CookieDuration, IsActive: v.IsActive, DestinationURL: v.DestinationURL,
		CreatedAt: v.CreatedAt.UTC(),
	}, nil
}

func (d *vendorDoc) model() (*models.Vendor, error) {
	value, err := fromDecimal128(d.CommissionValue)
	if err != nil {
		return nil, err
	}
	return &models.Vendor{
		ID: d.ID, Name: d.Name, CommissionType: models.CommissionType(d.CommissionType), CommissionValue: value,
		CookieDuration: d.CookieDuration, IsActive: d.IsActive, DestinationURL: d.DestinationURL,
		CreatedAt: d.CreatedAt.UTC(),
	}, nil
}

type sessionDoc struct {
	ID          string    `bson:"_id"`
	AffiliateID string    `bson:"affiliate_id"`
	VendorID    string    `bson:"vendor_id"`
	CreatedAt   time.Time `bson:"created_at"`
	ExpiresAt   time.Time `bson:"expires_at"`
	IsActive    bool      `bson:"is_active"`
}

func newSessionDoc(s *models.ReferralSession) *sessionDoc {
	return &sessionDoc{
		ID: s.ID, AffiliateID: s.AffiliateID, VendorID: s.VendorID,
		CreatedAt: s.CreatedAt.UTC(), ExpiresAt: s.ExpiresAt.UTC(), IsActive: s.IsActive,
	}
}

func (d *sessionDoc) model() *models.ReferralSession {
	return &models.ReferralSession{
		ID: d.ID, AffiliateID: d.AffiliateID, VendorID: d.VendorID,
		CreatedAt: d.CreatedAt.UTC(), ExpiresAt: d.ExpiresAt.UTC(), IsActive: d.IsActive,
	}
}

type conversionDoc struct {
	ID                    string               `bson:"_id"`
	ExternalTransactionID string               `bson:"external_transaction_id"`
	IdempotencyKey        string               `bson:"idempotency_key"`
	VendorID              string               `bson:"vendor_id"`
	Provider              string               `bson:"provider"`
	Amount                primitive.Decimal128 `bson:"amount"`
	Currency              string               `bson:"currency"`
	ConvertedAt           time.Time            `bson:"converted_at"`
	Status                string               `bson:"status"`
	ReferralSessionID     *string              `bson:"referral_session_id"`
	AffiliateID           *string              `bson:"affiliate_id"`
	CustomerEmail         string               `bson:"customer_email,omitempty"`
	CustomerID            string               `bson:"customer_id,omitempty"`
	PaymentMethod         string               `bson:"payment_method,omitempty"`
	ConfirmedAt           *time.Time           `bson:"confirmed_at"`
	RefundedAt            *time.Time           `bson:"refunded_at"`
	CreatedAt             time.Time            `bson:"created_at"`
	UpdatedAt             time.Time            `bson:"updated_at"`
}

func newConversionDoc(c *models.Conversion) (*conversionDoc, error) {
	amount, err := toDecimal128(c.Amount)
	if err != nil {
		return nil, err
	}
	return &conversionDoc{
		ID: c.ID, ExternalTransactionID: c.ExternalTransactionID, IdempotencyKey: c.IdempotencyKey,
		VendorID: c.VendorID, Provider: c.Provider, Amount: amount, Currency: c.Currency,
		ConvertedAt: c.ConvertedAt.UTC(), Status: string(c.Status),
		ReferralSessionID: c.ReferralSessionID, AffiliateID: c.AffiliateID,
		CustomerEmail: c.CustomerEmail, CustomerID: c.CustomerID, PaymentMethod: c.PaymentMethod,
		ConfirmedAt: utcPtr(c.ConfirmedAt), RefundedAt: utcPtr(c.RefundedAt),
		CreatedAt: c.CreatedAt.UTC(), UpdatedAt: c.UpdatedAt.UTC(),
	}, nil
}

func (d *conversionDoc) model() (*models.Conversion, error) {
	amount, err := fromDecimal128(d.Amount)
	if err != nil {
		return nil, err
	}
	return &models.Conversion{
		ID: d.ID, ExternalTransactionID: d.ExternalTransactionID, IdempotencyKey: d.IdempotencyKey,
		VendorID: d.VendorID, Provider: d.Provider, Amount: amount, Currency: d.Currency,
		ConvertedAt: d.ConvertedAt.UTC(), Status: models.ConversionStatus(d.Status),
		ReferralSessionID: d.ReferralSessionID, AffiliateID: d.AffiliateID,
		CustomerEmail: d.CustomerEmail, CustomerID: d.CustomerID, PaymentMethod: d.PaymentMethod,
		ConfirmedAt: utcPtr(d.ConfirmedAt), RefundedAt: utcPtr(d.RefundedAt),
		CreatedAt: d.CreatedAt.UTC(), UpdatedAt: d.UpdatedAt.UTC(),
	}, nil
}

type commissionDoc struct {
	ID               string               `bson:"_id"`
	ConversionID     string               `bson:"conversion_id"`
	AffiliateID      string               `bson:"affiliate_id"`
	VendorID         string               `bson:"vendor_id"`
	SaleAmount       primitive.Decimal128 `bson:"sale_amount"`
	Currency         string               `bson:"currency"`
	CommissionType   string               `bson:"commission_type"`
	CommissionRate   primitive.Decimal128 `bson:"commission_rate"`
	CommissionAmount primitive.Decimal128 `bson:"commission_amount"`
	Status           string               `bson:"status"`
	ReversedAt       *time.Time           `bson:"reversed_at"`
	CreatedAt        time.Time            `bson:"created_at"`
	UpdatedAt        time.Time            `bson:"updated_at"`
}

func newCommissionDoc(c *models.Commission) (*commissionDoc, error) {
	sale, err := toDecimal128(c.SaleAmount)
	if err != nil {
		return nil, err
	}
	rate, err := toDecimal128(c.CommissionRate)
	if err != nil {
		return nil, err
	}
	amount, err := toDecimal128(c.CommissionAmount)
	if err != nil {
		return nil, err
	}
	return &commissionDoc{
		ID: c.ID, ConversionID: c.ConversionID, AffiliateID: c.AffiliateID, VendorID: c.VendorID,
		SaleAmount: sale, Currency: c.Currency, CommissionType: string(c.CommissionType),
		CommissionRate: rate, CommissionAmount: amount, Status: string(c.Status),
		ReversedAt: utcPtr(c.ReversedAt), CreatedAt: c.CreatedAt.UTC(), UpdatedAt: c.UpdatedAt.UTC(),
	}, nil
}

func (d *commissionDoc) model() (*models.Commission, error) {
	sale, err := fromDecimal128(d.SaleAmount)
	if err != nil {
		return nil, err
	}
	rate, err := fromDecimal128(d.CommissionRate)
	if err != nil {
		return nil, err
	}
	amount, err := fromDecimal128(d.CommissionAmount)
	if err != nil {
		return nil, err
	}
	return &models.Commission{
		ID: d.ID, ConversionID: d.ConversionID, AffiliateID: d.AffiliateID, VendorID: d.VendorID,
		SaleAmount: sale, Currency: d.Currency, CommissionType: models.CommissionType(d.CommissionType),
		CommissionRate: rate, CommissionAmount: amount, Status: models.CommissionStatus(d.Status),
		ReversedAt: utcPtr(d.ReversedAt), CreatedAt: d.CreatedAt.UTC(), UpdatedAt: d.UpdatedAt.UTC(),
	}, nil
}

type taskDoc struct {
	ID          string     `bson:"_id"`
	Kind        string     `bson:"kind"`
	AggregateID string     `bson:"aggregate_id"`
	DedupKey    string     `bson:"dedup_key"`
	Payload     string     `bson:"payload,omitempty"`
	Status      string     `bson:"status"`
	Attempts    int        `bson:"attempts"`
	LastError   string     `bson:"last_error"`
	AvailableAt time.Time  `bson:"available_at"`
	LockedUntil *time.Time `bson:"locked_until"`
	CreatedAt   time.Time  `bson:"created_at"`
	UpdatedAt   time.Time  `bson:"updated_at"`
}

func newTaskDoc(t *models.OutboxTask) *taskDoc {
	if t.Status == "" {
		t.Status = models.OutboxStatusPending
	}
	return &taskDoc{
		ID: t.ID, Kind: string(t.Kind), AggregateID: t.AggregateID, DedupKey: t.DedupKey(),
		Payload: string(t.Payload), Status: string(t.Status), Attempts: t.Attempts, LastError: t.LastError,
		AvailableAt: t.AvailableAt.UTC(), LockedUntil: utcPtr(t.LockedUntil),
		CreatedAt: t.CreatedAt.UTC(), UpdatedAt: t.UpdatedAt.UTC(),
	}
}

func (d *taskDoc) model() *models.OutboxTask {
	t := &models.OutboxTask{
		ID: d.ID, Kind: models.OutboxTaskKind(d.Kind), AggregateID: d.AggregateID,
		Status: models.OutboxTaskStatus(d.Status), Attempts: d.Attempts, LastError: d.LastError,
		AvailableAt: d.AvailableAt.UTC(), LockedUntil: utcPtr(d.LockedUntil),
		CreatedAt: d.CreatedAt.UTC(), UpdatedAt: d.UpdatedAt.UTC(),
	}
	if d.Payload != "" {
		t.Payload = json.RawMessage(d.Payload)
	}
	return t
}

type signupDoc struct {
	ID                string               `bson:"_id"`
	AffiliateID       string               `bson:"affiliate_id"`
	VendorID          string               `bson:"vendor_id"`
	ReferralSessionID string               `bson:"referral_session_id"`
	CommissionAmount  primitive.Decimal128 `bson:"commission_amount"`
	Metadata          map[string]string    `bson:"metadata,omitempty"`
	CreatedAt         time.Time            `bson:"created_at"`
}
