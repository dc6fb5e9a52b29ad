package mongo

import (
	"context"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"feedstream/internal/domain"
)

type feedStateDoc struct {
	ID         string `bson:"_id"`
	LastPostID string `bson:"lastPostId"`
	UpdatedAt  int64  `bson:"updatedAt"`
}

// FeedStateRepository remembers the last current post per feed type in the
// settings collection.
type FeedStateRepository struct {
	collection *mongo.Collection
}

func NewFeedStateRepository(client *mongo.Client, dbName string) *FeedStateRepository {
	return &FeedStateRepository{collection: client.Database(dbName).Collection("settings")}
}

func feedStateID(feedType domain.FeedType) string {
	if feedType == "" {
		feedType = domain.FeedAll
	}
	return "feed:" + string(feedType)
}

func (r *FeedStateRepository) GetLastPostID(ctx context.Context, feedType domain.FeedType) (domain.PostID, bool, error) {
	var doc feedStateDoc
	err := r.collection.FindOne(ctx, bson.M{"_id": feedStateID(feedType)}).Decode(&doc)
	if err != nil {
		if isNoDocuments(err) {
			return "", false, nil
		}
		return "", false, err
	}
	id := domain.PostID(strings.TrimSpace(doc.LastPostID))
	if id == "" {
		return "", false, nil
	}
	return id, true, nil
}

func (r *FeedStateRepository) SetLastPostID(ctx context.Context, feedType domain.FeedType, id domain.PostID) error {
	update := bson.M{
		"$set": bson.M{
			"lastPostId": strings.TrimSpace(string(id)),
			"updatedAt":  time.Now().Unix(),
		},
	}
	_, err := r.collection.UpdateOne(
		ctx,
		bson.M{"_id": feedStateID(feedType)},
		update,
		options.Update().SetUpsert(true),
	)
	return err
}
