package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"affiliate-ledger/internal/models"
	"affiliate-ledger/internal/repositories/interfaces"
	"affiliate-ledger/pkg/database"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type vendorRepository struct {
	collection *mongo.Collection
}

func (r *vendorRepository) GetByID(ctx context.Context, id string) (*models.Vendor, error) {
	var doc vendorDoc
	if err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if notFound(err) {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get vendor: %w", err)
	}
	return doc.model()
}

func (r *vendorRepository) Save(ctx context.Context, vendor *models.Vendor) error {
	if vendor.CreatedAt.IsZero() {
		vendor.CreatedAt = time.Now().UTC()
	}
	doc, err := newVendorDoc(vendor)
	if err != nil {
		return err
	}
	_, err = r.collection.ReplaceOne(ctx, bson.M{"_id": vendor.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save vendor: %w", err)
	}
	return nil
}

type sessionRepository struct {
	collection *mongo.Collection
}

var latestFirst = bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}

func (r *sessionRepository) Create(ctx context.Context, session *models.ReferralSession) error {
	if _, err := r.collection.InsertOne(ctx, newSessionDoc(session)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return interfaces.ErrDuplicate
		}
		return fmt.Errorf("failed to create referral session: %w", err)
	}
	return nil
}

func (r *sessionRepository) GetByID(ctx context.Context, id string) (*models.ReferralSession, error) {
	return r.one(ctx, bson.M{"_id": id})
}

func (r *sessionRepository) FindLatestEligible(ctx context.Context, vendorID string, at time.Time) (*models.ReferralSession, error) {
	return r.one(ctx, bson.M{
		"vendor_id":  vendorID,
		"is_active":  true,
		"expires_at": bson.M{"$gt": at.UTC()},
	}, options.FindOne().SetSort(latestFirst))
}

func (r *sessionRepository) FindLatestByAffiliate(ctx context.Context, affiliateID string) (*models.ReferralSession, error) {
	return r.one(ctx, bson.M{"affiliate_id": affiliateID}, options.FindOne().SetSort(latestFirst))
}

func (r *sessionRepository) one(ctx context.Context, filter bson.M, opts ...*options.FindOneOptions) (*models.ReferralSession, error) {
	var doc sessionDoc
	if err := r.collection.FindOne(ctx, filter, opts...).Decode(&doc); err != nil {
		if notFound(err) {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get referral session: %w", err)
	}
	return doc.model(), nil
}

type conversionRepository struct {
	db          *database.MongoDB
	collection  *mongo.Collection
	commissions *mongo.Collection
	outbox      *mongo.Collection
}

func (r *conversionRepository) GetByID(ctx context.Context, id string) (*models.Conversion, error) {
	return r.one(ctx, bson.M{"_id": id})
}

func (r *conversionRepository) GetByIdempotencyKey(ctx context.Context, key string) (*models.Conversion, error) {
	return r.one(ctx, bson.M{"idempotency_key": key})
}

func (r *conversionRepository) one(ctx context.Context, filter bson.M) (*models.Conversion, error) {
	var doc conversionDoc
	if err := r.collection.FindOne(ctx, filter).Decode(&doc); err != nil {
		if notFound(err) {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get conversion: %w", err)
	}
	return doc.model()
}

func (r *conversionRepository) ListByTransactionID(ctx context.Context, transactionID string) ([]*models.Conversion, error) {
	cursor, err := r.collection.Find(ctx,
		bson.M{"external_transaction_id": transactionID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list conversions: %w", err)
	}
	defer cursor.Close(ctx)

	var out []*models.Conversion
	for cursor.Next(ctx) {
		var doc conversionDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode conversion: %w", err)
		}
		c, err := doc.model()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, cursor.Err()
}

func (r *conversionRepository) insertTasks(ctx context.Context, tasks []*models.OutboxTask) error {
	for _, t := range tasks {
		if _, err := r.outbox.InsertOne(ctx, newTaskDoc(t)); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return interfaces.ErrDuplicate
			}
			return fmt.Errorf("failed to insert outbox task: %w", err)
		}
	}
	return nil
}

func (r *conversionRepository) CreatePending(ctx context.Context, c *models.Conversion, followUps ...*models.OutboxTask) error {
	c.Status = models.ConversionStatusPending
	doc, err := newConversionDoc(c)
	if err != nil {
		return err
	}

	_, err = r.db.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		if _, err := r.collection.InsertOne(sessCtx, doc); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return nil, interfaces.ErrDuplicate
			}
			return nil, fmt.Errorf("failed to insert conversion: %w", err)
		}
		return nil, r.insertTasks(sessCtx, followUps)
	})
	return err
}

// errNotChanged aborts a transaction whose conditional update matched nothing.
var errNotChanged = errors.New("no document changed")

func (r *conversionRepository) MarkConfirmed(ctx context.Context, id, sessionID, affiliateID string, at time.Time, followUps ...*models.OutboxTask) (bool, error) {
	at = at.UTC()
	_, err := r.db.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		res, err := r.collection.UpdateOne(sessCtx,
			bson.M{"_id": id, "status": string(models.ConversionStatusPending), "referral_session_id": nil},
			bson.M{"$set": bson.M{
				"status":              string(models.ConversionStatusConfirmed),
				"referral_session_id": sessionID,
				"affiliate_id":        affiliateID,
				"confirmed_at":        at,
				"updated_at":          at,
			}},
		)
		if err != nil {
			return nil, fmt.Errorf("failed to confirm conversion: %w", err)
		}
		if res.MatchedCount == 0 {
			return nil, errNotChanged
		}
		return nil, r.insertTasks(sessCtx, followUps)
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
	res, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id, "status": string(models.ConversionStatusPending)},
		bson.M{"$set": bson.M{"status": string(models.ConversionStatusFailed), "updated_at": at.UTC()}},
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark conversion failed: %w", err)
	}
	return res.MatchedCount == 1, nil
}

func (r *conversionRepository) Refund(ctx context.Context, id string, at time.Time) (*models.RefundOutcome, error) {
	at = at.UTC()
	sources := make([]string, 0, 2)
	for _, s := range models.ConversionSourcesFor(models.ConversionStatusRefunded) {
		sources = append(sources, string(s))
	}
	reversible := make([]string, 0, 2)
	for _, s := range models.CommissionSourcesFor(models.CommissionStatusReversed) {
		reversible = append(reversible, string(s))
	}

	result, err := r.db.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		outcome := &models.RefundOutcome{ConversionID: id}

		res, err := r.collection.UpdateOne(sessCtx,
			bson.M{"_id": id, "status": bson.M{"$in": sources}},
			bson.M{"$set": bson.M{
				"status":      string(models.ConversionStatusRefunded),
				"refunded_at": at,
				"updated_at":  at,
			}},
		)
		if err != nil {
			return nil, fmt.Errorf("failed to refund conversion: %w", err)
		}
		if res.MatchedCount == 0 {
			n, err := r.collection.CountDocuments(sessCtx, bson.M{"_id": id, "status": string(models.ConversionStatusRefunded)})
			if err != nil {
				return nil, fmt.Errorf("failed to get conversion: %w", err)
			}
			if n == 0 {
				exists, err := r.collection.CountDocuments(sessCtx, bson.M{"_id": id})
				if err != nil {
					return nil, fmt.Errorf("failed to get conversion: %w", err)
				}
				if exists == 0 {
					return nil, interfaces.ErrNotFound
				}
				return outcome, nil
			}
		} else {
			outcome.Refunded = true
		}

		for {
			var reversed commissionDoc
			err = r.commissions.FindOneAndUpdate(sessCtx,
				bson.M{"conversion_id": id, "status": bson.M{"$in": reversible}},
				bson.M{"$set": bson.M{
					"status":      string(models.CommissionStatusReversed),
					"reversed_at": at,
					"updated_at":  at,
				}},
			).Decode(&reversed)
			if notFound(err) {
				return outcome, nil
			}
			if err != nil {
				return nil, fmt.Errorf("failed to reverse commission: %w", err)
			}
			outcome.ReversedCommissions = append(outcome.ReversedCommissions, reversed.ID)
		}
	})
	if err != nil {
		return nil, err
	}
	return result.(*models.RefundOutcome), nil
}

type commissionRepository struct {
	db          *database.MongoDB
	collection  *mongo.Collection
	conversions *mongo.Collection
}

// Create stamps commission_id on the confirmed conversion in the same
// transaction as the insert. A concurrent refund writes the same document,
// so one of the two transactions aborts and is retried.
func (r *commissionRepository) Create(ctx context.Context, commission *models.Commission) error {
	doc, err := newCommissionDoc(commission)
	if err != nil {
		return err
	}
	_, err = r.db.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		res, err := r.conversions.UpdateOne(sessCtx,
			bson.M{"_id": commission.ConversionID, "status": string(models.ConversionStatusConfirmed)},
			bson.M{"$set": bson.M{"commission_id": commission.ID}},
		)
		if err != nil {
			return nil, fmt.Errorf("failed to lock conversion: %w", err)
		}
		if res.MatchedCount == 0 {
			return nil, interfaces.ErrStaleState
		}
		if _, err := r.collection.InsertOne(sessCtx, doc); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return nil, interfaces.ErrDuplicate
			}
			return nil, fmt.Errorf("failed to create commission: %w", err)
		}
		return nil, nil
	})
	return err
}

func (r *commissionRepository) GetByConversionID(ctx context.Context, conversionID string) (*models.Commission, error) {
	var doc commissionDoc
	if err := r.collection.FindOne(ctx, bson.M{"conversion_id": conversionID}).Decode(&doc); err != nil {
		if notFound(err) {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get commission: %w", err)
	}
	return doc.model()
}

func (r *commissionRepository) ListByAffiliate(ctx context.Context, affiliateID string, limit, offset int) ([]*models.Commission, int64, error) {
	filter := bson.M{"affiliate_id": affiliateID}

	total, err := r.collection.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count commissions: %w", err)
	}

	opts := options.Find().SetSort(latestFirst).SetSkip(int64(offset))
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list commissions: %w", err)
	}
	defer cursor.Close(ctx)

	out := []*models.Commission{}
	for cursor.Next(ctx) {
		var doc commissionDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, 0, fmt.Errorf("failed to decode commission: %w", err)
		}
		c, err := doc.model()
		if err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, cursor.Err()
}

type outboxRepository struct {
	collection *mongo.Collection
}

func (r *outboxRepository) Enqueue(ctx context.Context, task *models.OutboxTask) error {
	if _, err := r.collection.InsertOne(ctx, newTaskDoc(task)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return interfaces.ErrDuplicate
		}
		return fmt.Errorf("failed to enqueue outbox task: %w", err)
	}
	return nil
}

// ClaimDue leases tasks one at a time with FindOneAndUpdate, which is atomic
// per document, so concurrent workers never receive the same task.
func (r *outboxRepository) ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.OutboxTask, error) {
	now = now.UTC()
	until := now.Add(lease)
	filter := bson.M{
		"status":       string(models.OutboxStatusPending),
		"available_at": bson.M{"$lte": now},
		"$or": bson.A{
			bson.M{"locked_until": nil},
			bson.M{"locked_until": bson.M{"$lte": now}},
		},
	}
	update := bson.M{
		"$inc": bson.M{"attempts": 1},
		"$set": bson.M{"locked_until": until, "updated_at": now},
	}
	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "available_at", Value: 1}, {Key: "created_at", Value: 1}}).
		SetReturnDocument(options.After)

	var out []*models.OutboxTask
	for limit <= 0 || len(out) < limit {
		var doc taskDoc
		err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
		if notFound(err) {
			break
		}
		if err != nil {
			return out, fmt.Errorf("failed to claim outbox task: %w", err)
		}
		out = append(out, doc.model())
	}
	return out, nil
}

func (r *outboxRepository) Complete(ctx context.Context, id string) error {
	return r.update(ctx, bson.M{"_id": id}, bson.M{
		"status":       string(models.OutboxStatusDone),
		"locked_until": nil,
		"updated_at":   time.Now().UTC(),
	})
}

func (r *outboxRepository) Fail(ctx context.Context, id string, lastErr string, next time.Time, dead bool) error {
	status := models.OutboxStatusPending
	if dead {
		status = models.OutboxStatusDead
	}
	return r.update(ctx, bson.M{"_id": id}, bson.M{
		"status":       string(status),
		"last_error":   lastErr,
		"available_at": next.UTC(),
		"locked_until": nil,
		"updated_at":   time.Now().UTC(),
	})
}

func (r *outboxRepository) Requeue(ctx context.Context, id string, at time.Time) error {
	at = at.UTC()
	return r.update(ctx, bson.M{"_id": id, "status": string(models.OutboxStatusDead)}, bson.M{
		"status":       string(models.OutboxStatusPending),
		"attempts":     0,
		"available_at": at,
		"locked_until": nil,
		"updated_at":   at,
	})
}

func (r *outboxRepository) update(ctx context.Context, filter bson.M, set bson.M) error {
	res, err := r.collection.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to update outbox task: %w", err)
	}
	if res.MatchedCount == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}

func (r *outboxRepository) GetByID(ctx context.Context, id string) (*models.OutboxTask, error) {
	var doc taskDoc
	if err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if notFound(err) {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get outbox task: %w", err)
	}
	return doc.model(), nil
}

func (r *outboxRepository) ListByStatus(ctx context.Context, status models.OutboxTaskStatus, limit int) ([]*models.OutboxTask, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := r.collection.Find(ctx, bson.M{"status": string(status)}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list outbox tasks: %w", err)
	}
	defer cursor.Close(ctx)

	var out []*models.OutboxTask
	for cursor.Next(ctx) {
		var doc taskDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode outbox task: %w", err)
		}
		out = append(out, doc.model())
	}
	return out, cursor.Err()
}

type signupRepository struct {
	collection *mongo.Collection
}

func (r *signupRepository) Exists(ctx context.Context, affiliateID, vendorID string) (bool, error) {
	n, err := r.collection.CountDocuments(ctx,
		bson.M{"affiliate_id": affiliateID, "vendor_id": vendorID},
		options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("failed to check signup: %w", err)
	}
	return n > 0, nil
}

func (r *signupRepository) Create(ctx context.Context, signup *models.ReferralSignup) error {
	amount, err := toDecimal128(signup.CommissionAmount)
	if err != nil {
		return err
	}
	doc := &signupDoc{
		ID:                signup.ID,
		AffiliateID:       signup.AffiliateID,
		VendorID:          signup.VendorID,
		ReferralSessionID: signup.ReferralSessionID,
		CommissionAmount:  amount,
		Metadata:          signup.Metadata,
		CreatedAt:         signup.CreatedAt.UTC(),
	}
	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return interfaces.ErrDuplicate
		}
		return fmt.Errorf("failed to create signup: %w", err)
	}
	return nil
}
