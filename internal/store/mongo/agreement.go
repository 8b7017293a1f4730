package mongo

import (
	"context"
	"errors"
	"time"

	"github.com/safestay/safestay/internal/agreement"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type agreementDoc struct {
	ID              string     `bson:"_id"`
	AccessKey       string     `bson:"access_key"`
	OwnerRef        string     `bson:"owner_ref"`
	PropertyLabel   string     `bson:"property_label"`
	PropertyAddress string     `bson:"property_address"`
	RentAmount      float64    `bson:"rent_amount"`
	Terms           []string   `bson:"terms"`
	Status          string     `bson:"status"`
	TenantRef       *string    `bson:"tenant_ref,omitempty"`
	SchemaVersion   int        `bson:"schema_version"`
	CreatedAt       time.Time  `bson:"created_at"`
	FilledAt        *time.Time `bson:"filled_at,omitempty"`
}

func toAgreementDoc(a *agreement.Agreement) agreementDoc {
	terms := []string(a.Terms)
	if terms == nil {
		terms = []string{}
	}
	return agreementDoc{
		ID:              a.ID,
		AccessKey:       a.AccessKey,
		OwnerRef:        a.OwnerRef,
		PropertyLabel:   a.PropertyLabel,
		PropertyAddress: a.PropertyAddress,
		RentAmount:      a.RentAmount,
		Terms:           terms,
		Status:          string(a.Status),
		TenantRef:       a.TenantRef,
		SchemaVersion:   a.SchemaVersion,
		CreatedAt:       a.CreatedAt,
		FilledAt:        a.FilledAt,
	}
}

// agreement converts a stored document, rejecting one whose status and
// tenant reference disagree.
func (d agreementDoc) agreement() (*agreement.Agreement, error) {
	a := &agreement.Agreement{
		ID:              d.ID,
		AccessKey:       d.AccessKey,
		OwnerRef:        d.OwnerRef,
		PropertyLabel:   d.PropertyLabel,
		PropertyAddress: d.PropertyAddress,
		RentAmount:      d.RentAmount,
		Terms:           agreement.Terms(d.Terms),
		Status:          agreement.Status(d.Status),
		TenantRef:       d.TenantRef,
		SchemaVersion:   d.SchemaVersion,
		CreatedAt:       d.CreatedAt,
		FilledAt:        d.FilledAt,
	}
	if err := a.CheckInvariants(); err != nil {
		return nil, err
	}
	return a, nil
}

// AgreementRepository implements agreement.Repository
type AgreementRepository struct {
	coll *mongo.Collection
}

// NewAgreementRepository creates a new agreement repository
func NewAgreementRepository(m *Mongo) *AgreementRepository {
	return &AgreementRepository{coll: m.Database.Collection(AgreementsCollection)}
}

// FindActiveByKey resolves an access key to its pending agreement
func (r *AgreementRepository) FindActiveByKey(ctx context.Context, key string) (*agreement.Agreement, error) {
	key = agreement.NormalizeKey(key)

	var doc agreementDoc
	err := r.coll.FindOne(ctx, bson.M{"access_key": key, "status": string(agreement.StatusPending)}).Decode(&doc)
	if err == nil {
		a, err := doc.agreement()
		if err != nil {
			return nil, unavailable(agreement.ErrStoreUnavailable, "decode agreement", err)
		}
		return a, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, unavailable(agreement.ErrStoreUnavailable, "find agreement by key", err)
	}

	filled, err := r.coll.CountDocuments(ctx, bson.M{"access_key": key}, options.Count().SetLimit(1))
	if err != nil {
		return nil, unavailable(agreement.ErrStoreUnavailable, "find agreement by key", err)
	}
	if filled > 0 {
		return nil, agreement.ErrAlreadyFulfilled
	}
	return nil, agreement.ErrNotFound
}

// Create inserts a pending agreement
func (r *AgreementRepository) Create(ctx context.Context, a *agreement.Agreement) error {
	doc := toAgreementDoc(a)
	doc.Status = string(agreement.StatusPending)
	doc.TenantRef = nil
	doc.FilledAt = nil

	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return agreement.ErrKeyConflict
		}
		return unavailable(agreement.ErrStoreUnavailable, "create agreement", err)
	}
	return nil
}

// TransitionToFilled updates only a document still in pending status, so
// concurrent callers race on a single atomic UpdateOne.
func (r *AgreementRepository) TransitionToFilled(ctx context.Context, agreementID, tenantRef string) error {
	now := time.Now().UTC()
	result, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": agreementID, "status": string(agreement.StatusPending)},
		bson.M{"$set": bson.M{
			"status":     string(agreement.StatusFilled),
			"tenant_ref": tenantRef,
			"filled_at":  now,
		}},
	)
	if err != nil {
		return unavailable(agreement.ErrStoreUnavailable, "fill agreement", err)
	}
	if result.MatchedCount == 1 {
		return nil
	}

	n, err := r.coll.CountDocuments(ctx, bson.M{"_id": agreementID}, options.Count().SetLimit(1))
	if err != nil {
		return unavailable(agreement.ErrStoreUnavailable, "check agreement", err)
	}
	if n == 0 {
		return agreement.ErrNotFound
	}
	return agreement.ErrAlreadyFulfilled
}

// GetByID retrieves an agreement by ID
func (r *AgreementRepository) GetByID(ctx context.Context, id string) (*agreement.Agreement, error) {
	var doc agreementDoc
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, agreement.ErrNotFound
		}
		return nil, unavailable(agreement.ErrStoreUnavailable, "get agreement", err)
	}
	a, err := doc.agreement()
	if err != nil {
		return nil, unavailable(agreement.ErrStoreUnavailable, "decode agreement", err)
	}
	return a, nil
}

// ListByOwner lists an owner's agreements, newest first
func (r *AgreementRepository) ListByOwner(ctx context.Context, ownerRef string, limit, offset int) ([]*agreement.Agreement, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(offset))

	cur, err := r.coll.Find(ctx, bson.M{"owner_ref": ownerRef}, opts)
	if err != nil {
		return nil, unavailable(agreement.ErrStoreUnavailable, "list agreements", err)
	}
	defer cur.Close(ctx)

	var docs []agreementDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, unavailable(agreement.ErrStoreUnavailable, "list agreements", err)
	}

	agreements := make([]*agreement.Agreement, 0, len(docs))
	for _, d := range docs {
		a, err := d.agreement()
		if err != nil {
			return nil, unavailable(agreement.ErrStoreUnavailable, "decode agreement", err)
		}
		agreements = append(agreements, a)
	}
	return agreements, nil
}
