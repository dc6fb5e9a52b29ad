package ports

import (
	"context"
	"time"

	"feedstream/internal/domain"
)

type PostSource interface {
	FetchPage(ctx context.Context, req domain.PageRequest) (domain.PostPage, error)
}

type PositionStore interface {
	Upsert(ctx context.Context, pos domain.PlaybackPosition) error
	Get(ctx context.Context, key string) (domain.PlaybackPosition, error)
	ListRecent(ctx context.Context, limit int) ([]domain.PlaybackPosition, error)
	Delete(ctx context.Context, key string) error
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type FeedStateStore interface {
	GetLastPostID(ctx context.Context, feedType domain.FeedType) (domain.PostID, bool, error)
	SetLastPostID(ctx context.Context, feedType domain.FeedType, id domain.PostID) error
}
