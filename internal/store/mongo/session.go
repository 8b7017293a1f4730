package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/safestay/safestay/internal/session"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type sessionDoc struct {
	ID         string    `bson:"_id"`
	OwnerRef   string    `bson:"owner_ref"`
	OwnerEmail string    `bson:"owner_email"`
	IPAddress  string    `bson:"ip_address"`
	UserAgent  string    `bson:"user_agent"`
	ExpiresAt  time.Time `bson:"expires_at"`
	CreatedAt  time.Time `bson:"created_at"`
	LastSeenAt time.Time `bson:"last_seen_at"`
}

// SessionRepository implements session.Repository
type SessionRepository struct {
	coll *mongo.Collection
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(m *Mongo) *SessionRepository {
	return &SessionRepository{coll: m.Database.Collection(SessionsCollection)}
}

// Create creates a new session
func (r *SessionRepository) Create(ctx context.Context, sess *session.Session) error {
	if _, err := r.coll.InsertOne(ctx, sessionDoc(*sess)); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// Get retrieves a session by ID
func (r *SessionRepository) Get(ctx context.Context, sessionID string) (*session.Session, error) {
	var doc sessionDoc
	if err := r.coll.FindOne(ctx, bson.M{"_id": sessionID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, session.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	sess := session.Session(doc)
	return &sess, nil
}

// Update updates session last seen time
func (r *SessionRepository) Update(ctx context.Context, sess *session.Session) error {
	result, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": sess.ID},
		bson.M{"$set": bson.M{"last_seen_at": sess.LastSeenAt}},
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if result.MatchedCount == 0 {
		return session.ErrSessionNotFound
	}
	return nil
}

// Delete deletes a session
func (r *SessionRepository) Delete(ctx context.Context, sessionID string) error {
	result, err := r.coll.DeleteOne(ctx, bson.M{"_id": sessionID})
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if result.DeletedCount == 0 {
		return session.ErrSessionNotFound
	}
	return nil
}

// DeleteByOwner deletes all sessions for an owner
func (r *SessionRepository) DeleteByOwner(ctx context.Context, ownerRef string) error {
	if _, err := r.coll.DeleteMany(ctx, bson.M{"owner_ref": ownerRef}); err != nil {
		return fmt.Errorf("failed to delete owner sessions: %w", err)
	}
	return nil
}

// DeleteExpired deletes all expired sessions. The TTL index does the same
// lazily; this makes cleanup deterministic.
func (r *SessionRepository) DeleteExpired(ctx context.Context) error {
	if _, err := r.coll.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lt": time.Now()}}); err != nil {
		return fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return nil
}
