package mongo

import (
	"context"
	"errors"
	"time"

	"github.com/safestay/safestay/internal/capture"
	"github.com/safestay/safestay/internal/intake"
	"github.com/safestay/safestay/internal/tenant"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type artifactDoc struct {
	DataURL     string    `bson:"data_url"`
	ContentType string    `bson:"content_type"`
	Size        int       `bson:"size"`
	Digest      string    `bson:"digest"`
	Source      string    `bson:"source"`
	CapturedAt  time.Time `bson:"captured_at"`
}

type fieldsDoc struct {
	FullName         string `bson:"full_name"`
	RelationName     string `bson:"relation_name"`
	PermanentAddress string `bson:"permanent_address"`
	Mobile           string `bson:"mobile"`
	NationalID       string `bson:"national_id,omitempty"`
	SecondaryID      string `bson:"secondary_id,omitempty"`
}

type recordDoc struct {
	ID              string                 `bson:"_id"`
	AgreementRef    string                 `bson:"agreement_ref"`
	WorkflowVersion string                 `bson:"workflow_version"`
	Fields          fieldsDoc              `bson:"fields"`
	Documents       map[string]artifactDoc `bson:"documents"`
	SubmittedAt     time.Time              `bson:"submitted_at"`
}

func toRecordDoc(r *tenant.Record) recordDoc {
	docs := make(map[string]artifactDoc, len(r.Documents))
	for slot, a := range r.Documents {
		docs[string(slot)] = artifactDoc{
			DataURL:     a.DataURL,
			ContentType: a.ContentType,
			Size:        a.Size,
			Digest:      a.Digest,
			Source:      string(a.Source),
			CapturedAt:  a.CapturedAt,
		}
	}
	return recordDoc{
		ID:              r.ID,
		AgreementRef:    r.AgreementRef,
		WorkflowVersion: r.WorkflowVersion,
		Fields:          fieldsDoc(r.Fields),
		Documents:       docs,
		SubmittedAt:     r.SubmittedAt,
	}
}

func (d recordDoc) record() *tenant.Record {
	docs := make(map[intake.Slot]capture.Artifact, len(d.Documents))
	for slot, a := range d.Documents {
		docs[intake.Slot(slot)] = capture.Artifact{
			DataURL:     a.DataURL,
			ContentType: a.ContentType,
			Size:        a.Size,
			Digest:      a.Digest,
			Source:      capture.Source(a.Source),
			CapturedAt:  a.CapturedAt,
		}
	}
	return &tenant.Record{
		ID:              d.ID,
		AgreementRef:    d.AgreementRef,
		WorkflowVersion: d.WorkflowVersion,
		Fields:          intake.Fields(d.Fields),
		Documents:       docs,
		SubmittedAt:     d.SubmittedAt,
	}
}

// TenantRepository implements tenant.Repository
type TenantRepository struct {
	coll *mongo.Collection
}

// NewTenantRepository creates a new tenant repository
func NewTenantRepository(m *Mongo) *TenantRepository {
	return &TenantRepository{coll: m.Database.Collection(TenantRecordsCollection)}
}

// Create inserts a tenant record
func (r *TenantRepository) Create(ctx context.Context, rec *tenant.Record) error {
	if _, err := r.coll.InsertOne(ctx, toRecordDoc(rec)); err != nil {
		return unavailable(tenant.ErrStoreUnavailable, "create tenant record", err)
	}
	return nil
}

// GetByID retrieves a tenant record by ID
func (r *TenantRepository) GetByID(ctx context.Context, id string) (*tenant.Record, error) {
	var doc recordDoc
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, tenant.ErrRecordNotFound
		}
		return nil, unavailable(tenant.ErrStoreUnavailable, "get tenant record", err)
	}
	return doc.record(), nil
}

// ListByAgreement lists every record submitted against an agreement
func (r *TenantRepository) ListByAgreement(ctx context.Context, agreementRef string) ([]*tenant.Record, error) {
	cur, err := r.coll.Find(ctx,
		bson.M{"agreement_ref": agreementRef},
		options.Find().SetSort(bson.D{{Key: "submitted_at", Value: 1}}),
	)
	if err != nil {
		return nil, unavailable(tenant.ErrStoreUnavailable, "list tenant records", err)
	}
	return decodeRecords(ctx, cur, "list tenant records")
}

// ListOrphaned joins each old record to its agreement and keeps the ones
// the agreement does not point back to.
func (r *TenantRepository) ListOrphaned(ctx context.Context, cutoff time.Time) ([]*tenant.Record, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"submitted_at": bson.M{"$lt": cutoff}}}},
		{{Key: "$lookup", Value: bson.M{
			"from":         AgreementsCollection,
			"localField":   "agreement_ref",
			"foreignField": "_id",
			"as":           "agreement",
		}}},
		{{Key: "$match", Value: bson.M{
			"$expr": bson.M{"$not": bson.A{bson.M{"$in": bson.A{"$_id", "$agreement.tenant_ref"}}}},
		}}},
		{{Key: "$project", Value: bson.M{"agreement": 0}}},
		{{Key: "$sort", Value: bson.M{"submitted_at": 1}}},
	}

	cur, err := r.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, unavailable(tenant.ErrStoreUnavailable, "list orphaned tenant records", err)
	}
	return decodeRecords(ctx, cur, "list orphaned tenant records")
}

func decodeRecords(ctx context.Context, cur *mongo.Cursor, op string) ([]*tenant.Record, error) {
	defer cur.Close(ctx)

	var docs []recordDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, unavailable(tenant.ErrStoreUnavailable, op, err)
	}

	records := make([]*tenant.Record, 0, len(docs))
	for _, d := range docs {
		records = append(records, d.record())
	}
	return records, nil
}

// Delete removes a tenant record
func (r *TenantRepository) Delete(ctx context.Context, id string) error {
	result, err := r.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return unavailable(tenant.ErrStoreUnavailable, "delete tenant record", err)
	}
	if result.DeletedCount == 0 {
		return tenant.ErrRecordNotFound
	}
	return nil
}
