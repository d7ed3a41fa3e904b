package audit

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Record is one generate-call audit entry.
type Record struct {
	Model       string    `bson:"model"`
	Status      string    `bson:"status"`
	DurationMS  int64     `bson:"duration_ms"`
	PromptChars int       `bson:"prompt_chars"`
	Error       string    `bson:"error,omitempty"`
	CreatedAt   time.Time `bson:"created_at"`
}

// Recorder receives generate-call audit entries. Recording is best-effort
// and must never fail the request it describes.
type Recorder interface {
	Record(ctx context.Context, rec Record)
}

// NopRecorder drops every record. Used when no audit store is configured.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, Record) {}

// MongoRecorder writes audit entries to a mongo collection.
type MongoRecorder struct {
	collection *mongo.Collection
	logger     *zap.Logger
}

func NewMongoRecorder(collection *mongo.Collection, logger *zap.Logger) *MongoRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MongoRecorder{collection: collection, logger: logger}
}

func (r *MongoRecorder) Record(ctx context.Context, rec Record) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if _, err := r.collection.InsertOne(ctx, rec); err != nil {
		r.logger.Warn("audit record insert failed", zap.Error(err))
	}
}
