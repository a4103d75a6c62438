package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/event-booking/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("audit_logs"),
		logger: logger,
	}
}

type AuditLog struct {
	ID        string    `bson:"_id"`
	Action    string    `bson:"action"`
	Aggregate string    `bson:"aggregate_id"`
	UserID    string    `bson:"user_id,omitempty"`
	Timestamp time.Time `bson:"timestamp"`
	Data      bson.M    `bson:"data"`
}

// EnsureIndexes creates the lookup indexes used by support tooling.
func (a *AuditLogger) EnsureIndexes(ctx context.Context) error {
	_, err := a.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "aggregate_id", Value: 1}, {Key: "timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "timestamp", Value: -1}}},
	})
	return errors.Wrap(err, "create audit indexes")
}

// Record stores one audit entry. id doubles as the document key so a
// redelivered message is recorded once.
func (a *AuditLogger) Record(ctx context.Context, id, action string, aggregateID, userID uuid.UUID, data map[string]any) error {
	entry := AuditLog{
		ID:        id,
		Action:    action,
		Aggregate: aggregateID.String(),
		Timestamp: time.Now().UTC(),
		Data:      bson.M(data),
	}
	if userID != uuid.Nil {
		entry.UserID = userID.String()
	}
	_, err := a.coll.ReplaceOne(ctx, bson.M{"_id": id}, entry, options.Replace().SetUpsert(true))
	if err != nil {
		a.logger.WithError(err).WithField("action", action).Error("failed to insert audit log")
		return errors.Wrap(err, "insert audit log")
	}
	return nil
}
