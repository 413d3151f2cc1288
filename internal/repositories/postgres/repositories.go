package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"affiliate-ledger/internal/models"
	"affiliate-ledger/internal/repositories/interfaces"

	"github.com/jackc/pgx/v5"
)

type vendorRepository struct{ s *Store }

func (r *vendorRepository) GetByID(ctx context.Context, id string) (*models.Vendor, error) {
	var (
		v     models.Vendor
		typ   string
		value string
	)
	err := r.s.pool.QueryRow(ctx, `
		SELECT id, name, commission_type, commission_value::text, cookie_duration, is_active, destination_url, created_at
		FROM vendors WHERE id = $1`, id,
	).Scan(&v.ID, &v.Name, &typ, &value, &v.CookieDuration, &v.IsActive, &v.DestinationURL, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get vendor: %w", err)
	}
	v.CommissionType = models.CommissionType(typ)
	if v.CommissionValue, err = parseDecimal(value); err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *vendorRepository) Save(ctx context.Context, v *models.Vendor) error {
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	_, err := r.s.pool.Exec(ctx, `
		INSERT INTO vendors (id, name, commission_type, commission_value, cookie_duration, is_active, destination_url, created_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			commission_type = EXCLUDED.commission_type,
			commission_value = EXCLUDED.commission_value,
			cookie_duration = EXCLUDED.cookie_duration,
			is_active = EXCLUDED.is_active,
			destination_url = EXCLUDED.destination_url`,
		v.ID, v.Name, string(v.CommissionType), v.CommissionValue.String(), v.CookieDuration,
		v.IsActive, v.DestinationURL, v.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save vendor: %w", err)
	}
	return nil
}

type sessionRepository struct{ s *Store }

const sessionColumns = `id, affiliate_id, vendor_id, created_at, expires_at, is_active`

func (r *sessionRepository) Create(ctx context.Context, s *models.ReferralSession) error {
	_, err := r.s.pool.Exec(ctx, `
		INSERT INTO referral_sessions (`+sessionColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		s.ID, s.AffiliateID, s.VendorID, s.CreatedAt, s.ExpiresAt, s.IsActive,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return interfaces.ErrDuplicate
		}
		return fmt.Errorf("failed to create referral session: %w", err)
	}
	return nil
}

func (r *sessionRepository) GetByID(ctx context.Context, id string) (*models.ReferralSession, error) {
	return r.one(ctx, `SELECT `+sessionColumns+` FROM referral_sessions WHERE id = $1`, id)
}

func (r *sessionRepository) FindLatestEligible(ctx context.Context, vendorID string, at time.Time) (*models.ReferralSession, error) {
	return r.one(ctx, `
		SELECT `+sessionColumns+` FROM referral_sessions
		WHERE vendor_id = $1 AND is_active AND expires_at > $2
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, vendorID, at)
}

func (r *sessionRepository) FindLatestByAffiliate(ctx context.Context, affiliateID string) (*models.ReferralSession, error) {
	return r.one(ctx, `
		SELECT `+sessionColumns+` FROM referral_sessions
		WHERE affiliate_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, affiliateID)
}

func (r *sessionRepository) one(ctx context.Context, query string, args ...any) (*models.ReferralSession, error) {
	var s models.ReferralSession
	err := r.s.pool.QueryRow(ctx, query, args...).
		Scan(&s.ID, &s.AffiliateID, &s.VendorID, &s.CreatedAt, &s.ExpiresAt, &s.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get referral session: %w", err)
	}
	s.CreatedAt = s.CreatedAt.UTC()
	s.ExpiresAt = s.ExpiresAt.UTC()
	return &s, nil
}

type conversionRepository struct{ s *Store }

const conversionColumns = `id, external_transaction_id, idempotency_key, vendor_id, provider, amount::text, currency,
	converted_at, status, referral_session_id, affiliate_id, customer_email, customer_id, payment_method,
	confirmed_at, refunded_at, created_at, updated_at`

func scanConversion(row pgx.Row) (*models.Conversion, error) {
	var (
		c      models.Conversion
		amount string
		status string
	)
	err := row.Scan(&c.ID, &c.ExternalTransactionID, &c.IdempotencyKey, &c.VendorID, &c.Provider, &amount, &c.Currency,
		&c.ConvertedAt, &status, &c.ReferralSessionID, &c.AffiliateID, &c.CustomerEmail, &c.CustomerID, &c.PaymentMethod,
		&c.ConfirmedAt, &c.RefundedAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Status = models.ConversionStatus(status)
	if c.Amount, err = parseDecimal(amount); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *conversionRepository) GetByID(ctx context.Context, id string) (*models.Conversion, error) {
	return r.one(ctx, `SELECT `+conversionColumns+` FROM conversions WHERE id = $1`, id)
}

func (r *conversionRepository) GetByIdempotencyKey(ctx context.Context, key string) (*models.Conversion, error) {
	return r.one(ctx, `SELECT `+conversionColumns+` FROM conversions WHERE idempotency_key = $1`, key)
}

func (r *conversionRepository) one(ctx context.Context, query string, args ...any) (*models.Conversion, error) {
	c, err := scanConversion(r.s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get conversion: %w", err)
	}
	return c, nil
}

func (r *conversionRepository) ListByTransactionID(ctx context.Context, transactionID string) ([]*models.Conversion, error) {
	rows, err := r.s.pool.Query(ctx, `
		SELECT `+conversionColumns+` FROM conversions
		WHERE external_transaction_id = $1
		ORDER BY created_at`, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversions: %w", err)
	}
	defer rows.Close()

	var out []*models.Conversion
	for rows.Next() {
		c, err := scanConversion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversion: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *conversionRepository) CreatePending(ctx context.Context, c *models.Conversion, followUps ...*models.OutboxTask) error {
	c.Status = models.ConversionStatusPending
	return r.s.inTransaction(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO conversions (id, external_transaction_id, idempotency_key, vendor_id, provider, amount, currency,
				converted_at, status, referral_session_id, affiliate_id, customer_email, customer_id, payment_method,
				confirmed_at, refunded_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
			c.ID, c.ExternalTransactionID, c.IdempotencyKey, c.VendorID, c.Provider, c.Amount.String(), c.Currency,
			c.ConvertedAt, string(c.Status), c.ReferralSessionID, c.AffiliateID, c.CustomerEmail, c.CustomerID, c.PaymentMethod,
			c.ConfirmedAt, c.RefundedAt, c.CreatedAt, c.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return interfaces.ErrDuplicate
			}
			return fmt.Errorf("failed to insert conversion: %w", err)
		}
		return insertTasks(ctx, tx, followUps...)
	})
}

// errNotChanged rolls back a conditional update that matched no row.
var errNotChanged = errors.New("no row changed")

func (r *conversionRepository) MarkConfirmed(ctx context.Context, id, sessionID, affiliateID string, at time.Time, followUps ...*models.OutboxTask) (bool, error) {
	err := r.s.inTransaction(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE conversions
			SET status = $1, referral_session_id = $2, affiliate_id = $3, confirmed_at = $4, updated_at = $4
			WHERE id = $5 AND status = $6 AND referral_session_id IS NULL`,
			string(models.ConversionStatusConfirmed), sessionID, affiliateID, at,
			id, string(models.ConversionStatusPending),
		)
		if err != nil {
			return fmt.Errorf("failed to confirm conversion: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return errNotChanged
		}
		return insertTasks(ctx, tx, followUps...)
	})
	if errors.Is(err, errNotChanged) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *conversionRepository) MarkFailed(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := r.s.pool.Exec(ctx, `
		UPDATE conversions SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4`,
		string(models.ConversionStatusFailed), at, id, string(models.ConversionStatusPending),
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark conversion failed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *conversionRepository) Refund(ctx context.Context, id string, at time.Time) (*models.RefundOutcome, error) {
	outcome := &models.RefundOutcome{ConversionID: id}

	err := r.s.inTransaction(ctx, func(tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx, `SELECT status FROM conversions WHERE id = $1 FOR UPDATE`, id).Scan(&status)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return interfaces.ErrNotFound
			}
			return fmt.Errorf("failed to get conversion: %w", err)
		}
		if models.ConversionStatus(status).CanTransition(models.ConversionStatusRefunded) {
			if _, err := tx.Exec(ctx, `
				UPDATE conversions SET status = $1, refunded_at = $2, updated_at = $2 WHERE id = $3`,
				string(models.ConversionStatusRefunded), at, id,
			); err != nil {
				return fmt.Errorf("failed to refund conversion: %w", err)
			}
			outcome.Refunded = true
			status = string(models.ConversionStatusRefunded)
		}
		if models.ConversionStatus(status) != models.ConversionStatusRefunded {
			return nil
		}

		sources := make([]string, 0, 2)
		for _, s := range models.CommissionSourcesFor(models.CommissionStatusReversed) {
			sources = append(sources, string(s))
		}
		rows, err := tx.Query(ctx, `
			UPDATE commissions SET status = $1, reversed_at = $2, updated_at = $2
			WHERE conversion_id = $3 AND status = ANY($4)
			RETURNING id`,
			string(models.CommissionStatusReversed), at, id, sources,
		)
		if err != nil {
			return fmt.Errorf("failed to reverse commissions: %w", err)
		}
		reversed, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return fmt.Errorf("failed to reverse commissions: %w", err)
		}
		outcome.ReversedCommissions = reversed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

type commissionRepository struct{ s *Store }

const commissionColumns = `id, conversion_id, affiliate_id, vendor_id, sale_amount::text, currency, commission_type,
	commission_rate::text, commission_amount::text, status, reversed_at, created_at, updated_at`

func scanCommission(row pgx.Row) (*models.Commission, error) {
	var (
		c                  models.Commission
		sale, rate, amount string
		typ, status        string
	)
	err := row.Scan(&c.ID, &c.ConversionID, &c.AffiliateID, &c.VendorID, &sale, &c.Currency, &typ,
		&rate, &amount, &status, &c.ReversedAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.CommissionType = models.CommissionType(typ)
	c.Status = models.CommissionStatus(status)
	if c.SaleAmount, err = parseDecimal(sale); err != nil {
		return nil, err
	}
	if c.CommissionRate, err = parseDecimal(rate); err != nil {
		return nil, err
	}
	if c.CommissionAmount, err = parseDecimal(amount); err != nil {
		return nil, err
	}
	return &c, nil
}

// Create holds a share lock on the conversion row while inserting, so a
// refund either commits first and the insert sees it, or waits and then
// reverses the new commission.
func (r *commissionRepository) Create(ctx context.Context, c *models.Commission) error {
	return r.s.inTransaction(ctx, func(tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx, `SELECT status FROM conversions WHERE id = $1 FOR SHARE`, c.ConversionID).Scan(&status)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return interfaces.ErrStaleState
			}
			return fmt.Errorf("failed to get conversion: %w", err)
		}
		if models.ConversionStatus(status) != models.ConversionStatusConfirmed {
			return interfaces.ErrStaleState
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO commissions (id, conversion_id, affiliate_id, vendor_id, sale_amount, currency, commission_type,
				commission_rate, commission_amount, status, reversed_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8::numeric, $9::numeric, $10, $11, $12, $13)`,
			c.ID, c.ConversionID, c.AffiliateID, c.VendorID, c.SaleAmount.String(), c.Currency, string(c.CommissionType),
			c.CommissionRate.String(), c.CommissionAmount.String(), string(c.Status), c.ReversedAt, c.CreatedAt, c.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return interfaces.ErrDuplicate
			}
			return fmt.Errorf("failed to create commission: %w", err)
		}
		return nil
	})
}

func (r *commissionRepository) GetByConversionID(ctx context.Context, conversionID string) (*models.Commission, error) {
	c, err := scanCommission(r.s.pool.QueryRow(ctx,
		`SELECT `+commissionColumns+` FROM commissions WHERE conversion_id = $1`, conversionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get commission: %w", err)
	}
	return c, nil
}

func (r *commissionRepository) ListByAffiliate(ctx context.Context, affiliateID string, limit, offset int) ([]*models.Commission, int64, error) {
	var total int64
	if err := r.s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM commissions WHERE affiliate_id = $1`, affiliateID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count commissions: %w", err)
	}

	rows, err := r.s.pool.Query(ctx, `
		SELECT `+commissionColumns+` FROM commissions
		WHERE affiliate_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`, affiliateID, rowLimit(limit), offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list commissions: %w", err)
	}
	defer rows.Close()

	out := []*models.Commission{}
	for rows.Next() {
		c, err := scanCommission(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan commission: %w", err)
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

type outboxRepository struct{ s *Store }

const taskColumns = `id, kind, aggregate_id, payload, status, attempts, last_error, available_at, locked_until,
	created_at, updated_at`

func scanTask(row pgx.Row) (*models.OutboxTask, error) {
	var (
		t            models.OutboxTask
		kind, status string
		payload      []byte
	)
	err := row.Scan(&t.ID, &kind, &t.AggregateID, &payload, &status, &t.Attempts, &t.LastError,
		&t.AvailableAt, &t.LockedUntil, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Kind = models.OutboxTaskKind(kind)
	t.Status = models.OutboxTaskStatus(status)
	if len(payload) > 0 {
		t.Payload = json.RawMessage(payload)
	}
	return &t, nil
}

func (r *outboxRepository) Enqueue(ctx context.Context, task *models.OutboxTask) error {
	return insertTasks(ctx, r.s.pool, task)
}

// ClaimDue leases due tasks in one statement. SKIP LOCKED lets concurrent
// workers take disjoint batches.
func (r *outboxRepository) ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.OutboxTask, error) {
	rows, err := r.s.pool.Query(ctx, `
		UPDATE outbox_tasks
		SET attempts = attempts + 1, locked_until = $3, updated_at = $1
		WHERE id IN (
			SELECT id FROM outbox_tasks
			WHERE status = $4 AND available_at <= $1 AND (locked_until IS NULL OR locked_until <= $1)
			ORDER BY available_at, created_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+taskColumns,
		now, rowLimit(limit), now.Add(lease), string(models.OutboxStatusPending))
	if err != nil {
		return nil, fmt.Errorf("failed to claim outbox tasks: %w", err)
	}
	defer rows.Close()

	var out []*models.OutboxTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outbox task: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].AvailableAt.Equal(out[j].AvailableAt) {
			return out[i].AvailableAt.Before(out[j].AvailableAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *outboxRepository) Complete(ctx context.Context, id string) error {
	return r.update(ctx, `
		UPDATE outbox_tasks SET status = $1, locked_until = NULL, updated_at = NOW() WHERE id = $2`,
		string(models.OutboxStatusDone), id)
}

func (r *outboxRepository) Fail(ctx context.Context, id string, lastErr string, next time.Time, dead bool) error {
	status := models.OutboxStatusPending
	if dead {
		status = models.OutboxStatusDead
	}
	return r.update(ctx, `
		UPDATE outbox_tasks
		SET status = $1, last_error = $2, available_at = $3, locked_until = NULL, updated_at = NOW()
		WHERE id = $4`,
		string(status), lastErr, next, id)
}

func (r *outboxRepository) Requeue(ctx context.Context, id string, at time.Time) error {
	return r.update(ctx, `
		UPDATE outbox_tasks
		SET status = $1, attempts = 0, available_at = $2, locked_until = NULL, updated_at = $2
		WHERE id = $3 AND status = $4`,
		string(models.OutboxStatusPending), at, id, string(models.OutboxStatusDead))
}

func (r *outboxRepository) update(ctx context.Context, query string, args ...any) error {
	tag, err := r.s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update outbox task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}

func (r *outboxRepository) GetByID(ctx context.Context, id string) (*models.OutboxTask, error) {
	t, err := scanTask(r.s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM outbox_tasks WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get outbox task: %w", err)
	}
	return t, nil
}

func (r *outboxRepository) ListByStatus(ctx context.Context, status models.OutboxTaskStatus, limit int) ([]*models.OutboxTask, error) {
	rows, err := r.s.pool.Query(ctx, `
		SELECT `+taskColumns+` FROM outbox_tasks
		WHERE status = $1
		ORDER BY created_at
		LIMIT $2`, string(status), rowLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list outbox tasks: %w", err)
	}
	defer rows.Close()

	var out []*models.OutboxTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outbox task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type signupRepository struct{ s *Store }

func (r *signupRepository) Exists(ctx context.Context, affiliateID, vendorID string) (bool, error) {
	var exists bool
	err := r.s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM referral_signups WHERE affiliate_id = $1 AND vendor_id = $2)`,
		affiliateID, vendorID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check signup: %w", err)
	}
	return exists, nil
}

func (r *signupRepository) Create(ctx context.Context, s *models.ReferralSignup) error {
	var metadata []byte
	if len(s.Metadata) > 0 {
		raw, err := json.Marshal(s.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal signup metadata: %w", err)
		}
		metadata = raw
	}

	_, err := r.s.pool.Exec(ctx, `
		INSERT INTO referral_signups (id, affiliate_id, vendor_id, referral_session_id, commission_amount, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7)`,
		s.ID, s.AffiliateID, s.VendorID, s.ReferralSessionID, s.CommissionAmount.String(), metadata, s.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return interfaces.ErrDuplicate
		}
		return fmt.Errorf("failed to create signup: %w", err)
	}
	return nil
}
