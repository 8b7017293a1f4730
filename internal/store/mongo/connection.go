// Package mongo stores agreements, tenant records and sessions in MongoDB.
package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Collection names
const (
	AgreementsCollection    = "agreements"
	TenantRecordsCollection = "tenant_records"
	SessionsCollection      = "sessions"
)

// ConnectionInfo holds MongoDB connection settings
type ConnectionInfo struct {
	Scheme     string
	User       string
	Password   string
	Host       string
	Port       string
	DB         string
	AuthSource string
}

// URI renders the connection string
func (info ConnectionInfo) URI() string {
	scheme := info.Scheme
	if scheme == "" {
		scheme = "mongodb"
	}

	auth := ""
	if info.User != "" {
		auth = info.User
		if info.Password != "" {
			auth += ":" + info.Password
		}
		auth += "@"
	}

	host := info.Host
	if info.Port != "" {
		host += ":" + info.Port
	}

	query := ""
	if info.AuthSource != "" {
		query = "?authSource=" + info.AuthSource
	}

	return fmt.Sprintf("%s://%s%s/%s%s", scheme, auth, host, info.DB, query)
}

// Mongo holds a connected client and its database
type Mongo struct {
	Client   *mongo.Client
	Database *mongo.Database
}

// NewConnection connects and pings the primary
func NewConnection(ctx context.Context, info ConnectionInfo) (*Mongo, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(info.URI()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	return &Mongo{Client: client, Database: client.Database(info.DB)}, nil
}

// Close disconnects the client
func (m *Mongo) Close(ctx context.Context) error {
	if m.Client != nil {
		return m.Client.Disconnect(ctx)
	}
	return nil
}

// Ping checks the primary is reachable
func (m *Mongo) Ping(ctx context.Context) error {
	return m.Client.Ping(ctx, readpref.Primary())
}

// EnsureIndexes creates the indexes the repositories rely on. The partial
// unique index on access_key is what makes pending keys unique.
func (m *Mongo) EnsureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		AgreementsCollection: {
			{
				Keys: bson.D{{Key: "access_key", Value: 1}},
				Options: options.Index().
					SetName("agreements_pending_access_key").
					SetUnique(true).
					SetPartialFilterExpression(bson.M{"status": "pending"}),
			},
			{
				Keys:    bson.D{{Key: "owner_ref", Value: 1}, {Key: "created_at", Value: -1}},
				Options: options.Index().SetName("agreements_owner_created"),
			},
		},
		TenantRecordsCollection: {
			{
				Keys:    bson.D{{Key: "agreement_ref", Value: 1}},
				Options: options.Index().SetName("tenant_records_agreement"),
			},
			{
				Keys:    bson.D{{Key: "submitted_at", Value: 1}},
				Options: options.Index().SetName("tenant_records_submitted"),
			},
		},
		SessionsCollection: {
			{
				Keys:    bson.D{{Key: "owner_ref", Value: 1}},
				Options: options.Index().SetName("sessions_owner"),
			},
			{
				Keys:    bson.D{{Key: "expires_at", Value: 1}},
				Options: options.Index().SetName("sessions_expires").SetExpireAfterSeconds(0),
			},
		},
	}

	for coll, models := range indexes {
		if _, err := m.Database.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", coll, err)
		}
	}
	return nil
}

func unavailable(sentinel error, op string, err error) error {
	return fmt.Errorf("failed to %s: %w: %w", op, sentinel, err)
}
