package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/satriahrh/arunika/streamer/domain/entities"
	"github.com/satriahrh/arunika/streamer/domain/repositories"
)

// TranscriptRepository stores transcripts in the "transcripts" collection
type TranscriptRepository struct {
	collection *mongo.Collection
}

var _ repositories.TranscriptRepository = (*TranscriptRepository)(nil)

// NewTranscriptRepository creates a new MongoDB transcript repository
func NewTranscriptRepository(db *mongo.Database) *TranscriptRepository {
	return &TranscriptRepository{
		collection: db.Collection("transcripts"),
	}
}

// EnsureIndexes creates the session lookup index
func (r *TranscriptRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "created_at", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create transcript index: %w", err)
	}
	return nil
}

// Create implements repositories.TranscriptRepository
func (r *TranscriptRepository) Create(ctx context.Context, transcript *entities.Transcript) error {
	if transcript == nil {
		return errors.New("transcript cannot be nil")
	}
	if err := transcript.Validate(); err != nil {
		return err
	}

	if transcript.CreatedAt.IsZero() {
		transcript.CreatedAt = time.Now()
	}

	doc := bson.M{
		"session_id":    transcript.SessionID,
		"device_id":     transcript.DeviceID,
		"response_id":   transcript.ResponseID,
		"text":          transcript.Text,
		"confidence":    transcript.Confidence,
		"language_code": transcript.LanguageCode,
		"intent":        transcript.Intent,
		"fulfillment":   transcript.Fulfillment,
		"started_at":    transcript.StartedAt,
		"created_at":    transcript.CreatedAt,
	}

	result, err := r.collection.InsertOne(ctx, doc)
	if err != nil {
		return fmt.Errorf("failed to create transcript: %w", err)
	}

	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		transcript.ID = oid.Hex()
	}

	return nil
}

// ListBySession implements repositories.TranscriptRepository. Oldest first.
func (r *TranscriptRepository) ListBySession(ctx context.Context, sessionID string) ([]*entities.Transcript, error) {
	if sessionID == "" {
		return nil, errors.New("session ID cannot be empty")
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := r.collection.Find(ctx, bson.M{"session_id": sessionID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list transcripts for session %s: %w", sessionID, err)
	}
	defer cursor.Close(ctx)

	var docs []transcriptDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode transcripts for session %s: %w", sessionID, err)
	}

	transcripts := make([]*entities.Transcript, 0, len(docs))
	for _, doc := range docs {
		transcripts = append(transcripts, doc.toEntity())
	}
	return transcripts, nil
}

type transcriptDocument struct {
	ID           primitive.ObjectID `bson:"_id"`
	SessionID    string             `bson:"session_id"`
	DeviceID     string             `bson:"device_id"`
	ResponseID   string             `bson:"response_id"`
	Text         string             `bson:"text"`
	Confidence   float32            `bson:"confidence"`
	LanguageCode string             `bson:"language_code"`
	Intent       string             `bson:"intent"`
	Fulfillment  string             `bson:"fulfillment"`
	StartedAt    time.Time          `bson:"started_at"`
	CreatedAt    time.Time          `bson:"created_at"`
}

func (d transcriptDocument) toEntity() *entities.Transcript {
	return &entities.Transcript{
		ID:           d.ID.Hex(),
		SessionID:    d.SessionID,
		DeviceID:     d.DeviceID,
		ResponseID:   d.ResponseID,
		Text:         d.Text,
		Confidence:   d.Confidence,
		LanguageCode: d.LanguageCode,
		Intent:       d.Intent,
		Fulfillment:  d.Fulfillment,
		StartedAt:    d.StartedAt,
		CreatedAt:    d.CreatedAt,
	}
}
