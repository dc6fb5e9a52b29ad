package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"feedstream/internal/domain"
)

type positionDoc struct {
	ID             string `bson:"_id"`
	PositionMillis int64  `bson:"positionMillis"`
	DurationMillis int64  `bson:"durationMillis"`
	UpdatedAt      int64  `bson:"updatedAt"`
}

// PositionRepository persists playback positions keyed by entry position key.
type PositionRepository struct {
	collection *mongo.Collection
}

func NewPositionRepository(client *mongo.Client, dbName string) *PositionRepository {
	return &PositionRepository{collection: client.Database(dbName).Collection("playback_positions")}
}

func (r *PositionRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "updatedAt", Value: -1}},
	})
	return err
}

func (r *PositionRepository) Upsert(ctx context.Context, pos domain.PlaybackPosition) error {
	updatedAt := pos.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	update := bson.M{
		"$set": bson.M{
			"positionMillis": pos.PositionMillis,
			"durationMillis": pos.DurationMillis,
			"updatedAt":      updatedAt.UnixMilli(),
		},
	}
	_, err := r.collection.UpdateOne(
		ctx,
		bson.M{"_id": pos.Key},
		update,
		options.Update().SetUpsert(true),
	)
	return err
}

func (r *PositionRepository) Get(ctx context.Context, key string) (domain.PlaybackPosition, error) {
	var doc positionDoc
	err := r.collection.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if err != nil {
		if isNoDocuments(err) {
			return domain.PlaybackPosition{}, domain.ErrNotFound
		}
		return domain.PlaybackPosition{}, err
	}
	return positionFromDoc(doc), nil
}

func (r *PositionRepository) ListRecent(ctx context.Context, limit int) ([]domain.PlaybackPosition, error) {
	if limit <= 0 {
		limit = 20
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "updatedAt", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []positionDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	positions := make([]domain.PlaybackPosition, 0, len(docs))
	for _, doc := range docs {
		positions = append(positions, positionFromDoc(doc))
	}
	return positions, nil
}

func (r *PositionRepository) Delete(ctx context.Context, key string) error {
	res, err := r.collection.DeleteOne(ctx, bson.M{"_id": key})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// PruneBefore deletes positions last written before cutoff.
func (r *PositionRepository) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.collection.DeleteMany(ctx, bson.M{"updatedAt": bson.M{"$lt": cutoff.UnixMilli()}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func positionFromDoc(doc positionDoc) domain.PlaybackPosition {
	return domain.PlaybackPosition{
		Key:            doc.ID,
		PositionMillis: doc.PositionMillis,
		DurationMillis: doc.DurationMillis,
		UpdatedAt:      time.UnixMilli(doc.UpdatedAt).UTC(),
	}
}
