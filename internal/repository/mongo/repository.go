package mongo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"feedstream/internal/domain"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// PostRepository serves feed pages from the posts collection, newest first.
// It implements ports.PostSource.
type PostRepository struct {
	collection *mongo.Collection
}

type postDoc struct {
	ID           string `bson:"_id"`
	ContentType  string `bson:"contentType"`
	MediaPayload string `bson:"mediaPayload,omitempty"`
	CreatedAt    int64  `bson:"createdAt"`
}

func NewPostRepository(client *mongo.Client, dbName, collectionName string) *PostRepository {
	return &PostRepository{collection: client.Database(dbName).Collection(collectionName)}
}

func Connect(ctx context.Context, uri string, extra ...*options.ClientOptions) (*mongo.Client, error) {
	opts := append([]*options.ClientOptions{options.Client().ApplyURI(uri)}, extra...)
	client, err := mongo.Connect(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (r *PostRepository) EnsureIndexes(ctx context.Context) error {
	if r == nil || r.collection == nil {
		return nil
	}
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}},
		{Keys: bson.D{{Key: "contentType", Value: 1}, {Key: "createdAt", Value: -1}}},
	}
	_, err := r.collection.Indexes().CreateMany(ctx, models)
	return err
}

func (r *PostRepository) Insert(ctx context.Context, posts ...domain.Post) error {
	if len(posts) == 0 {
		return nil
	}
	docs := make([]interface{}, 0, len(posts))
	for _, p := range posts {
		docs = append(docs, toPostDoc(p))
	}
	_, err := r.collection.InsertMany(ctx, docs)
	if err != nil && mongo.IsDuplicateKeyError(err) {
		return domain.ErrAlreadyExists
	}
	return err
}

// FetchPage returns the posts after req.Cursor rendered by req.FeedType.
// NextCursor is empty on the last page.
func (r *PostRepository) FetchPage(ctx context.Context, req domain.PageRequest) (domain.PostPage, error) {
	query, err := pageQuery(req)
	if err != nil {
		return domain.PostPage{}, err
	}
	limit := clampPageSize(req.Limit)

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit + 1))
	cursor, err := r.collection.Find(ctx, query, opts)
	if err != nil {
		return domain.PostPage{}, err
	}
	defer cursor.Close(ctx)

	var docs []postDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return domain.PostPage{}, err
	}
	return pageFromDocs(docs, limit), nil
}

func pageQuery(req domain.PageRequest) (bson.M, error) {
	types := req.FeedType.ContentTypes()
	values := make([]string, 0, len(types))
	for _, ct := range types {
		values = append(values, string(ct))
	}
	query := bson.M{"contentType": bson.M{"$in": values}}

	if strings.TrimSpace(req.Cursor) == "" {
		return query, nil
	}
	createdAt, id, err := ParseCursor(req.Cursor)
	if err != nil {
		return nil, err
	}
	query["$or"] = bson.A{
		bson.M{"createdAt": bson.M{"$lt": createdAt}},
		bson.M{"createdAt": createdAt, "_id": bson.M{"$lt": id}},
	}
	return query, nil
}

func pageFromDocs(docs []postDoc, limit int) domain.PostPage {
	page := domain.PostPage{Posts: make([]domain.Post, 0, min(len(docs), limit))}
	for i, doc := range docs {
		if i == limit {
			last := docs[limit-1]
			page.NextCursor = EncodeCursor(last.CreatedAt, last.ID)
			break
		}
		page.Posts = append(page.Posts, fromPostDoc(doc))
	}
	return page
}

func clampPageSize(n int) int {
	if n <= 0 {
		return defaultPageSize
	}
	return min(n, maxPageSize)
}

// EncodeCursor builds the opaque page cursor "<createdAtMillis>:<id>".
func EncodeCursor(createdAtMillis int64, id string) string {
	return strconv.FormatInt(createdAtMillis, 10) + ":" + id
}

func ParseCursor(cursor string) (int64, string, error) {
	ms, id, ok := strings.Cut(strings.TrimSpace(cursor), ":")
	if !ok || id == "" {
		return 0, "", fmt.Errorf("%w: %q", domain.ErrInvalidCursor, cursor)
	}
	createdAt, err := strconv.ParseInt(ms, 10, 64)
	if err != nil || createdAt < 0 {
		return 0, "", fmt.Errorf("%w: %q", domain.ErrInvalidCursor, cursor)
	}
	return createdAt, id, nil
}

func toPostDoc(p domain.Post) postDoc {
	return postDoc{
		ID:           string(p.ID),
		ContentType:  string(p.ContentType),
		MediaPayload: string(p.MediaPayload),
		CreatedAt:    p.CreatedAt.UnixMilli(),
	}
}

func fromPostDoc(doc postDoc) domain.Post {
	p := domain.Post{
		ID:          domain.PostID(doc.ID),
		ContentType: domain.ContentType(doc.ContentType),
		CreatedAt:   time.UnixMilli(doc.CreatedAt).UTC(),
	}
	if doc.MediaPayload != "" {
		p.MediaPayload = []byte(doc.MediaPayload)
	}
	return p
}

func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}
