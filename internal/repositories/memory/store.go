// Package memory is a mutex-guarded in-process store used by tests and local
// development. A single lock covers every table so multi-row operations are
// atomic the same way a database transaction would make them.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"affiliate-ledger/internal/models"
	"affiliate-ledger/internal/repositories/interfaces"
)

type Store struct {
	mu sync.Mutex

	vendors     map[string]models.Vendor
	sessions    map[string]models.ReferralSession
	conversions map[string]models.Conversion
	commissions map[string]models.Commission
	tasks       map[string]models.OutboxTask
	signups     map[string]models.ReferralSignup

	conversionByKey    map[string]string
	commissionByConvID map[string]string
	taskByDedupKey     map[string]string
}

func NewStore() *Store {
	return &Store{
		vendors:            make(map[string]models.Vendor),
		sessions:           make(map[string]models.ReferralSession),
		conversions:        make(map[string]models.Conversion),
		commissions:        make(map[string]models.Commission),
		tasks:              make(map[string]models.OutboxTask),
		signups:            make(map[string]models.ReferralSignup),
		conversionByKey:    make(map[string]string),
		commissionByConvID: make(map[string]string),
		taskByDedupKey:     make(map[string]string),
	}
}

var _ interfaces.Store = (*Store)(nil)

func (s *Store) Vendors() interfaces.VendorRepository         { return &vendorRepository{s} }
func (s *Store) Sessions() interfaces.SessionRepository       { return &sessionRepository{s} }
func (s *Store) Conversions() interfaces.ConversionRepository { return &conversionRepository{s} }
func (s *Store) Commissions() interfaces.CommissionRepository { return &commissionRepository{s} }
func (s *Store) Outbox() interfaces.OutboxRepository          { return &outboxRepository{s} }
func (s *Store) Signups() interfaces.SignupRepository         { return &signupRepository{s} }

func (s *Store) Ping(ctx context.Context) error  { return nil }
func (s *Store) Close(ctx context.Context) error { return nil }

// enqueueLocked stores tasks after checking every dedup key, so either all of
// them land or none do. Caller holds s.mu.
func (s *Store) enqueueLocked(tasks ...*models.OutboxTask) error {
	seen := make(map[string]struct{}, len(tasks))
	for _, t := range tasks {
		key := t.DedupKey()
		if _, ok := s.taskByDedupKey[key]; ok {
			return interfaces.ErrDuplicate
		}
		if _, ok := seen[key]; ok {
			return interfaces.ErrDuplicate
		}
		seen[key] = struct{}{}
	}
	for _, t := range tasks {
		if t.Status == "" {
			t.Status = models.OutboxStatusPending
		}
		s.tasks[t.ID] = *t
		s.taskByDedupKey[t.DedupKey()] = t.ID
	}
	return nil
}

type vendorRepository struct{ s *Store }

func (r *vendorRepository) GetByID(ctx context.Context, id string) (*models.Vendor, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	v, ok := r.s.vendors[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return &v, nil
}

func (r *vendorRepository) Save(ctx context.Context, vendor *models.Vendor) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.vendors[vendor.ID] = *vendor
	return nil
}

type sessionRepository struct{ s *Store }

func (r *sessionRepository) Create(ctx context.Context, session *models.ReferralSession) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.sessions[session.ID]; ok {
		return interfaces.ErrDuplicate
	}
	r.s.sessions[session.ID] = *session
	return nil
}

func (r *sessionRepository) GetByID(ctx context.Context, id string) (*models.ReferralSession, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sess, ok := r.s.sessions[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return &sess, nil
}

func (r *sessionRepository) FindLatestEligible(ctx context.Context, vendorID string, at time.Time) (*models.ReferralSession, error) {
	return r.latest(func(sess *models.ReferralSession) bool {
		return sess.VendorID == vendorID && sess.EligibleAt(at)
	})
}

func (r *sessionRepository) FindLatestByAffiliate(ctx context.Context, affiliateID string) (*models.ReferralSession, error) {
	return r.latest(func(sess *models.ReferralSession) bool {
		return sess.AffiliateID == affiliateID
	})
}

func (r *sessionRepository) latest(match func(*models.ReferralSession) bool) (*models.ReferralSession, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var best *models.ReferralSession
	for _, sess := range r.s.sessions {
		sess := sess
		if !match(&sess) {
			continue
		}
		if best == nil || newerSession(&sess, best) {
			best = &sess
		}
	}
	if best == nil {
		return nil, interfaces.ErrNotFound
	}
	return best, nil
}

func newerSession(a, b *models.ReferralSession) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

type conversionRepository struct{ s *Store }

func (r *conversionRepository) GetByID(ctx context.Context, id string) (*models.Conversion, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.conversions[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return &c, nil
}

func (r *conversionRepository) GetByIdempotencyKey(ctx context.Context, key string) (*models.Conversion, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id, ok := r.s.conversionByKey[key]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	c := r.s.conversions[id]
	return &c, nil
}

func (r *conversionRepository) ListByTransactionID(ctx context.Context, transactionID string) ([]*models.Conversion, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Conversion
	for _, c := range r.s.conversions {
		if c.ExternalTransactionID == transactionID {
			c := c
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *conversionRepository) CreatePending(ctx context.Context, conversion *models.Conversion, followUps ...*models.OutboxTask) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.conversionByKey[conversion.IdempotencyKey]; ok {
		return interfaces.ErrDuplicate
	}
	if _, ok := r.s.conversions[conversion.ID]; ok {
		return interfaces.ErrDuplicate
	}
	if err := r.s.enqueueLocked(followUps...); err != nil {
		return err
	}
	conversion.Status = models.ConversionStatusPending
	r.s.conversions[conversion.ID] = *conversion
	r.s.conversionByKey[conversion.IdempotencyKey] = conversion.ID
	return nil
}

func (r *conversionRepository) MarkConfirmed(ctx context.Context, id, sessionID, affiliateID string, at time.Time, followUps ...*models.OutboxTask) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.conversions[id]
	if !ok {
		return false, nil
	}
	if !c.Status.CanTransition(models.ConversionStatusConfirmed) || c.ReferralSessionID != nil {
		return false, nil
	}
	if err := r.s.enqueueLocked(followUps...); err != nil {
		return false, err
	}
	c.ReferralSessionID = &sessionID
	c.AffiliateID = &affiliateID
	c.Status = models.ConversionStatusConfirmed
	c.ConfirmedAt = &at
	c.UpdatedAt = at
	r.s.conversions[id] = c
	return true, nil
}

func (r *conversionRepository) MarkFailed(ctx context.Context, id string, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.conversions[id]
	if !ok || c.Status != models.ConversionStatusPending {
		return false, nil
	}
	c.Status = models.ConversionStatusFailed
	c.UpdatedAt = at
	r.s.conversions[id] = c
	return true, nil
}

func (r *conversionRepository) Refund(ctx context.Context, id string, at time.Time) (*models.RefundOutcome, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.conversions[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	outcome := &models.RefundOutcome{ConversionID: id}
	if c.Status.CanTransition(models.ConversionStatusRefunded) {
		c.Status = models.ConversionStatusRefunded
		c.RefundedAt = &at
		c.UpdatedAt = at
		r.s.conversions[id] = c
		outcome.Refunded = true
	}
	if c.Status != models.ConversionStatusRefunded {
		return outcome, nil
	}

	if commID, ok := r.s.commissionByConvID[id]; ok {
		comm := r.s.commissions[commID]
		if comm.Status.CanTransition(models.CommissionStatusReversed) {
			comm.Status = models.CommissionStatusReversed
			comm.ReversedAt = &at
			comm.UpdatedAt = at
			r.s.commissions[commID] = comm
			outcome.ReversedCommissions = append(outcome.ReversedCommissions, commID)
		}
	}
	return outcome, nil
}

type commissionRepository struct{ s *Store }

func (r *commissionRepository) Create(ctx context.Context, commission *models.Commission) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.commissionByConvID[commission.ConversionID]; ok {
		return interfaces.ErrDuplicate
	}
	if conv, ok := r.s.conversions[commission.ConversionID]; !ok || conv.Status != models.ConversionStatusConfirmed {
		return interfaces.ErrStaleState
	}
	r.s.commissions[commission.ID] = *commission
	r.s.commissionByConvID[commission.ConversionID] = commission.ID
	return nil
}

func (r *commissionRepository) GetByConversionID(ctx context.Context, conversionID string) (*models.Commission, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id, ok := r.s.commissionByConvID[conversionID]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	c := r.s.commissions[id]
	return &c, nil
}

func (r *commissionRepository) ListByAffiliate(ctx context.Context, affiliateID string, limit, offset int) ([]*models.Commission, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var all []*models.Commission
	for _, c := range r.s.commissions {
		if c.AffiliateID == affiliateID {
			c := c
			all = append(all, &c)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := int64(len(all))
	if offset >= len(all) {
		return []*models.Commission{}, total, nil
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end], total, nil
}

type outboxRepository struct{ s *Store }

func (r *outboxRepository) Enqueue(ctx context.Context, task *models.OutboxTask) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.enqueueLocked(task)
}

func (r *outboxRepository) ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.OutboxTask, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var due []models.OutboxTask
	for _, t := range r.s.tasks {
		if t.Status != models.OutboxStatusPending || t.AvailableAt.After(now) {
			continue
		}
		if t.LockedUntil != nil && t.LockedUntil.After(now) {
			continue
		}
		due = append(due, t)
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].AvailableAt.Equal(due[j].AvailableAt) {
			return due[i].AvailableAt.Before(due[j].AvailableAt)
		}
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	until := now.Add(lease)
	out := make([]*models.OutboxTask, 0, len(due))
	for _, t := range due {
		t.Attempts++
		t.LockedUntil = &until
		t.UpdatedAt = now
		r.s.tasks[t.ID] = t
		t := t
		out = append(out, &t)
	}
	return out, nil
}

func (r *outboxRepository) Complete(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tasks[id]
	if !ok {
		return interfaces.ErrNotFound
	}
	t.Status = models.OutboxStatusDone
	t.LockedUntil = nil
	t.UpdatedAt = time.Now()
	r.s.tasks[id] = t
	return nil
}

func (r *outboxRepository) Fail(ctx context.Context, id string, lastErr string, next time.Time, dead bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tasks[id]
	if !ok {
		return interfaces.ErrNotFound
	}
	t.LastError = lastErr
	t.LockedUntil = nil
	t.AvailableAt = next
	t.UpdatedAt = time.Now()
	if dead {
		t.Status = models.OutboxStatusDead
	}
	r.s.tasks[id] = t
	return nil
}

func (r *outboxRepository) GetByID(ctx context.Context, id string) (*models.OutboxTask, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tasks[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return &t, nil
}

func (r *outboxRepository) ListByStatus(ctx context.Context, status models.OutboxTaskStatus, limit int) ([]*models.OutboxTask, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.OutboxTask
	for _, t := range r.s.tasks {
		if t.Status == status {
			t := t
			out = append(out, &t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *outboxRepository) Requeue(ctx context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tasks[id]
	if !ok || t.Status != models.OutboxStatusDead {
		return interfaces.ErrNotFound
	}
	t.Status = models.OutboxStatusPending
	t.Attempts = 0
	t.AvailableAt = at
	t.LockedUntil = nil
	t.UpdatedAt = at
	r.s.tasks[id] = t
	return nil
}

type signupRepository struct{ s *Store }

func signupKey(affiliateID, vendorID string) string { return affiliateID + "|" + vendorID }

func (r *signupRepository) Exists(ctx context.Context, affiliateID, vendorID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	_, ok := r.s.signups[signupKey(affiliateID, vendorID)]
	return ok, nil
}

func (r *signupRepository) Create(ctx context.Context, signup *models.ReferralSignup) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := signupKey(signup.AffiliateID, signup.VendorID)
	if _, ok := r.s.signups[key]; ok {
		return interfaces.ErrDuplicate
	}
	r.s.signups[key] = *signup
	return nil
}
