package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"affiliate-ledger/internal/models"
	"affiliate-ledger/internal/repositories/interfaces"
)

type vendorRepository struct{ db *sql.DB }

func (r *vendorRepository) GetByID(ctx context.Context, id string) (*models.Vendor, error) {
	var (
		v         models.Vendor
		typ       string
		active    int
		createdAt int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, commission_type, commission_value, cookie_duration, is_active, destination_url, created_at
		FROM vendors WHERE id = ?`, id,
	).Scan(&v.ID, &v.Name, &typ, &v.CommissionValue, &v.CookieDuration, &active, &v.DestinationURL, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get vendor: %w", err)
	}
	v.CommissionType = models.CommissionType(typ)
	v.IsActive = active == 1
	v.CreatedAt = fromMillis(createdAt)
	return &v, nil
}

func (r *vendorRepository) Save(ctx context.Context, v *models.Vendor) error {
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO vendors (id, name, commission_type, commission_value, cookie_duration, is_active, destination_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			commission_type = excluded.commission_type,
			commission_value = excluded.commission_value,
			cookie_duration = excluded.cookie_duration,
			is_active = excluded.is_active,
			destination_url = excluded.destination_url`,
		v.ID, v.Name, string(v.CommissionType), v.CommissionValue.String(), v.CookieDuration,
		boolInt(v.IsActive), v.DestinationURL, millis(v.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save vendor: %w", err)
	}
	return nil
}

type sessionRepository struct{ db *sql.DB }

const sessionColumns = `id, affiliate_id, vendor_id, created_at, expires_at, is_active`

func scanSession(row scanner) (*models.ReferralSession, error) {
	var (
		s                    models.ReferralSession
		createdAt, expiresAt int64
		active               int
	)
	if err := row.Scan(&s.ID, &s.AffiliateID, &s.VendorID, &createdAt, &expiresAt, &active); err != nil {
		return nil, err
	}
	s.CreatedAt = fromMillis(createdAt)
	s.ExpiresAt = fromMillis(expiresAt)
	s.IsActive = active == 1
	return &s, nil
}

func (r *sessionRepository) Create(ctx context.Context, s *models.ReferralSession) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO referral_sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		s.ID, s.AffiliateID, s.VendorID, millis(s.CreatedAt), millis(s.ExpiresAt), boolInt(s.IsActive),
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
	return r.one(ctx, `SELECT `+sessionColumns+` FROM referral_sessions WHERE id = ?`, id)
}

func (r *sessionRepository) FindLatestEligible(ctx context.Context, vendorID string, at time.Time) (*models.ReferralSession, error) {
	return r.one(ctx, `
		SELECT `+sessionColumns+` FROM referral_sessions
		WHERE vendor_id = ? AND is_active = 1 AND expires_at > ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, vendorID, millis(at))
}

func (r *sessionRepository) FindLatestByAffiliate(ctx context.Context, affiliateID string) (*models.ReferralSession, error) {
	return r.one(ctx, `
		SELECT `+sessionColumns+` FROM referral_sessions
		WHERE affiliate_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, affiliateID)
}

func (r *sessionRepository) one(ctx context.Context, query string, args ...any) (*models.ReferralSession, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get referral session: %w", err)
	}
	return s, nil
}

type conversionRepository struct{ s *Store }

// errNotChanged rolls back a conditional update that matched no row.
var errNotChanged = errors.New("no row changed")

const conversionColumns = `id, external_transaction_id, idempotency_key, vendor_id, provider, amount, currency,
	converted_at, status, referral_session_id, affiliate_id, customer_email, customer_id, payment_method,
	confirmed_at, refunded_at, created_at, updated_at`

func scanConversion(row scanner) (*models.Conversion, error) {
	var (
		c                               models.Conversion
		status                          string
		sessionID, affiliateID          sql.NullString
		convertedAt, createdAt, updated int64
		confirmedAt, refundedAt         sql.NullInt64
	)
	err := row.Scan(&c.ID, &c.ExternalTransactionID, &c.IdempotencyKey, &c.VendorID, &c.Provider, &c.Amount, &c.Currency,
		&convertedAt, &status, &sessionID, &affiliateID, &c.CustomerEmail, &c.CustomerID, &c.PaymentMethod,
		&confirmedAt, &refundedAt, &createdAt, &updated)
	if err != nil {
		return nil, err
	}
	c.Status = models.ConversionStatus(status)
	c.ReferralSessionID = fromNullString(sessionID)
	c.AffiliateID = fromNullString(affiliateID)
	c.ConvertedAt = fromMillis(convertedAt)
	c.ConfirmedAt = fromNullMillis(confirmedAt)
	c.RefundedAt = fromNullMillis(refundedAt)
	c.CreatedAt = fromMillis(createdAt)
	c.UpdatedAt = fromMillis(updated)
	return &c, nil
}

func (r *conversionRepository) GetByID(ctx context.Context, id string) (*models.Conversion, error) {
	return r.one(ctx, `SELECT `+conversionColumns+` FROM conversions WHERE id = ?`, id)
}

func (r *conversionRepository) GetByIdempotencyKey(ctx context.Context, key string) (*models.Conversion, error) {
	return r.one(ctx, `SELECT `+conversionColumns+` FROM conversions WHERE idempotency_key = ?`, key)
}

func (r *conversionRepository) one(ctx context.Context, query string, args ...any) (*models.Conversion, error) {
	c, err := scanConversion(r.s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get conversion: %w", err)
	}
	return c, nil
}

func (r *conversionRepository) ListByTransactionID(ctx context.Context, transactionID string) ([]*models.Conversion, error) {
	rows, err := r.s.db.QueryContext(ctx, `
		SELECT `+conversionColumns+` FROM conversions
		WHERE external_transaction_id = ?
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
	return r.s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO conversions (`+conversionColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.ExternalTransactionID, c.IdempotencyKey, c.VendorID, c.Provider, c.Amount.String(), c.Currency,
			millis(c.ConvertedAt), string(c.Status), nullString(c.ReferralSessionID), nullString(c.AffiliateID),
			c.CustomerEmail, c.CustomerID, c.PaymentMethod,
			nullMillis(c.ConfirmedAt), nullMillis(c.RefundedAt), millis(c.CreatedAt), millis(c.UpdatedAt),
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

func (r *conversionRepository) MarkConfirmed(ctx context.Context, id, sessionID, affiliateID string, at time.Time, followUps ...*models.OutboxTask) (bool, error) {
	err := r.s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE conversions
			SET status = ?, referral_session_id = ?, affiliate_id = ?, confirmed_at = ?, updated_at = ?
			WHERE id = ? AND status = ? AND referral_session_id IS NULL`,
			string(models.ConversionStatusConfirmed), sessionID, affiliateID, millis(at), millis(at),
			id, string(models.ConversionStatusPending),
		)
		if err != nil {
			return fmt.Errorf("failed to confirm conversion: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
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
	res, err := r.s.db.ExecContext(ctx, `
		UPDATE conversions SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(models.ConversionStatusFailed), millis(at), id, string(models.ConversionStatusPending),
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark conversion failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

func (r *conversionRepository) Refund(ctx context.Context, id string, at time.Time) (*models.RefundOutcome, error) {
	outcome := &models.RefundOutcome{ConversionID: id}

	err := r.s.withTx(ctx, func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx, `SELECT status FROM conversions WHERE id = ?`, id).Scan(&status)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return interfaces.ErrNotFound
			}
			return fmt.Errorf("failed to get conversion: %w", err)
		}
		if models.ConversionStatus(status).CanTransition(models.ConversionStatusRefunded) {
			if _, err := tx.ExecContext(ctx, `
				UPDATE conversions SET status = ?, refunded_at = ?, updated_at = ? WHERE id = ?`,
				string(models.ConversionStatusRefunded), millis(at), millis(at), id,
			); err != nil {
				return fmt.Errorf("failed to refund conversion: %w", err)
			}
			outcome.Refunded = true
			status = string(models.ConversionStatusRefunded)
		}
		if models.ConversionStatus(status) != models.ConversionStatusRefunded {
			return nil
		}

		reversed, err := reverseCommissions(ctx, tx, id, at)
		if err != nil {
			return err
		}
		outcome.ReversedCommissions = reversed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// reverseCommissions moves every reversible commission of a refunded
// conversion to reversed and returns their ids.
func reverseCommissions(ctx context.Context, tx *sql.Tx, conversionID string, at time.Time) ([]string, error) {
	sources := models.CommissionSourcesFor(models.CommissionStatusReversed)
	args := []any{string(models.CommissionStatusReversed), millis(at), millis(at), conversionID}
	placeholders := make([]string, 0, len(sources))
	for _, s := range sources {
		placeholders = append(placeholders, "?")
		args = append(args, string(s))
	}

	rows, err := tx.QueryContext(ctx, `
		UPDATE commissions SET status = ?, reversed_at = ?, updated_at = ?
		WHERE conversion_id = ? AND status IN (`+strings.Join(placeholders, ", ")+`)
		RETURNING id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to reverse commissions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan reversed commission: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type commissionRepository struct{ db *sql.DB }

const commissionColumns = `id, conversion_id, affiliate_id, vendor_id, sale_amount, currency, commission_type,
	commission_rate, commission_amount, status, reversed_at, created_at, updated_at`

func scanCommission(row scanner) (*models.Commission, error) {
	var (
		c                  models.Commission
		typ, status        string
		reversedAt         sql.NullInt64
		createdAt, updated int64
	)
	err := row.Scan(&c.ID, &c.ConversionID, &c.AffiliateID, &c.VendorID, &c.SaleAmount, &c.Currency, &typ,
		&c.CommissionRate, &c.CommissionAmount, &status, &reversedAt, &createdAt, &updated)
	if err != nil {
		return nil, err
	}
	c.CommissionType = models.CommissionType(typ)
	c.Status = models.CommissionStatus(status)
	c.ReversedAt = fromNullMillis(reversedAt)
	c.CreatedAt = fromMillis(createdAt)
	c.UpdatedAt = fromMillis(updated)
	return &c, nil
}

func (r *commissionRepository) Create(ctx context.Context, c *models.Commission) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO commissions (`+commissionColumns+`)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
		WHERE EXISTS (SELECT 1 FROM conversions WHERE id = ? AND status = ?)`,
		c.ID, c.ConversionID, c.AffiliateID, c.VendorID, c.SaleAmount.String(), c.Currency, string(c.CommissionType),
		c.CommissionRate.String(), c.CommissionAmount.String(), string(c.Status), nullMillis(c.ReversedAt),
		millis(c.CreatedAt), millis(c.UpdatedAt),
		c.ConversionID, string(models.ConversionStatusConfirmed),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return interfaces.ErrDuplicate
		}
		return fmt.Errorf("failed to create commission: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return interfaces.ErrStaleState
	}
	return nil
}

func (r *commissionRepository) GetByConversionID(ctx context.Context, conversionID string) (*models.Commission, error) {
	c, err := scanCommission(r.db.QueryRowContext(ctx,
		`SELECT `+commissionColumns+` FROM commissions WHERE conversion_id = ?`, conversionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get commission: %w", err)
	}
	return c, nil
}

func (r *commissionRepository) ListByAffiliate(ctx context.Context, affiliateID string, limit, offset int) ([]*models.Commission, int64, error) {
	var total int64
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM commissions WHERE affiliate_id = ?`, affiliateID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count commissions: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+commissionColumns+` FROM commissions
		WHERE affiliate_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`, affiliateID, noLimit(limit), offset)
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

func scanTask(row scanner) (*models.OutboxTask, error) {
	var (
		t                               models.OutboxTask
		kind, status                    string
		payload                         sql.NullString
		availableAt, createdAt, updated int64
		lockedUntil                     sql.NullInt64
	)
	err := row.Scan(&t.ID, &kind, &t.AggregateID, &payload, &status, &t.Attempts, &t.LastError,
		&availableAt, &lockedUntil, &createdAt, &updated)
	if err != nil {
		return nil, err
	}
	t.Kind = models.OutboxTaskKind(kind)
	t.Status = models.OutboxTaskStatus(status)
	if payload.Valid {
		t.Payload = json.RawMessage(payload.String)
	}
	t.AvailableAt = fromMillis(availableAt)
	t.LockedUntil = fromNullMillis(lockedUntil)
	t.CreatedAt = fromMillis(createdAt)
	t.UpdatedAt = fromMillis(updated)
	return &t, nil
}

func (r *outboxRepository) Enqueue(ctx context.Context, task *models.OutboxTask) error {
	return insertTasks(ctx, r.s.db, task)
}

func (r *outboxRepository) ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.OutboxTask, error) {
	var claimed []*models.OutboxTask
	err := r.s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT `+taskColumns+` FROM outbox_tasks
			WHERE status = ? AND available_at <= ? AND (locked_until IS NULL OR locked_until <= ?)
			ORDER BY available_at, created_at
			LIMIT ?`,
			string(models.OutboxStatusPending), millis(now), millis(now), noLimit(limit))
		if err != nil {
			return fmt.Errorf("failed to select due tasks: %w", err)
		}
		for rows.Next() {
			t, err := scanTask(rows)
			if err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan outbox task: %w", err)
			}
			claimed = append(claimed, t)
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if err := rows.Err(); err != nil {
			return err
		}

		until := now.Add(lease)
		for _, t := range claimed {
			if _, err := tx.ExecContext(ctx, `
				UPDATE outbox_tasks SET attempts = attempts + 1, locked_until = ?, updated_at = ? WHERE id = ?`,
				millis(until), millis(now), t.ID,
			); err != nil {
				return fmt.Errorf("failed to lease outbox task: %w", err)
			}
			t.Attempts++
			t.LockedUntil = &until
			t.UpdatedAt = now
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *outboxRepository) Complete(ctx context.Context, id string) error {
	return r.update(ctx, `
		UPDATE outbox_tasks SET status = ?, locked_until = NULL, updated_at = ? WHERE id = ?`,
		string(models.OutboxStatusDone), millis(time.Now()), id)
}

func (r *outboxRepository) Fail(ctx context.Context, id string, lastErr string, next time.Time, dead bool) error {
	status := models.OutboxStatusPending
	if dead {
		status = models.OutboxStatusDead
	}
	return r.update(ctx, `
		UPDATE outbox_tasks
		SET status = ?, last_error = ?, available_at = ?, locked_until = NULL, updated_at = ?
		WHERE id = ?`,
		string(status), lastErr, millis(next), millis(time.Now()), id)
}

func (r *outboxRepository) Requeue(ctx context.Context, id string, at time.Time) error {
	return r.update(ctx, `
		UPDATE outbox_tasks
		SET status = ?, attempts = 0, available_at = ?, locked_until = NULL, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(models.OutboxStatusPending), millis(at), millis(at), id, string(models.OutboxStatusDead))
}

func (r *outboxRepository) update(ctx context.Context, query string, args ...any) error {
	res, err := r.s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update outbox task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}

func (r *outboxRepository) GetByID(ctx context.Context, id string) (*models.OutboxTask, error) {
	t, err := scanTask(r.s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM outbox_tasks WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get outbox task: %w", err)
	}
	return t, nil
}

func (r *outboxRepository) ListByStatus(ctx context.Context, status models.OutboxTaskStatus, limit int) ([]*models.OutboxTask, error) {
	rows, err := r.s.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM outbox_tasks
		WHERE status = ?
		ORDER BY created_at
		LIMIT ?`, string(status), noLimit(limit))
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

type signupRepository struct{ db *sql.DB }

func (r *signupRepository) Exists(ctx context.Context, affiliateID, vendorID string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM referral_signups WHERE affiliate_id = ? AND vendor_id = ?`,
		affiliateID, vendorID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check signup: %w", err)
	}
	return n > 0, nil
}

func (r *signupRepository) Create(ctx context.Context, s *models.ReferralSignup) error {
	var metadata sql.NullString
	if len(s.Metadata) > 0 {
		raw, err := json.Marshal(s.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal signup metadata: %w", err)
		}
		metadata = sql.NullString{String: string(raw), Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO referral_signups (id, affiliate_id, vendor_id, referral_session_id, commission_amount, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.AffiliateID, s.VendorID, s.ReferralSessionID, s.CommissionAmount.String(), metadata, millis(s.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return interfaces.ErrDuplicate
		}
		return fmt.Errorf("failed to create signup: %w", err)
	}
	return nil
}
