package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/sync/singleflight"

	"feedstream/internal/domain"
	"feedstream/internal/domain/ports"
	"feedstream/internal/metrics"
)

// LoadFeedPage fetches one page of posts for a feed type. Identical
// concurrent requests (same feed type, cursor and limit) share one fetch.
type LoadFeedPage struct {
	Source   ports.PostSource
	PageSize int
	Logger   *slog.Logger

	group singleflight.Group
}

func (uc *LoadFeedPage) Execute(ctx context.Context, req domain.PageRequest) (domain.PostPage, error) {
	switch req.FeedType {
	case "":
		req.FeedType = domain.FeedAll
	case domain.FeedAll, domain.FeedVideos:
	default:
		return domain.PostPage{}, ErrInvalidFeedType
	}
	req.Cursor = strings.TrimSpace(req.Cursor)
	if req.Limit <= 0 {
		req.Limit = uc.PageSize
	}

	key := string(req.FeedType) + "|" + req.Cursor + "|" + strconv.Itoa(req.Limit)
	v, err, shared := uc.group.Do(key, func() (interface{}, error) {
		return uc.Source.FetchPage(ctx, req)
	})
	metrics.PageFetchesTotal.WithLabelValues(string(req.FeedType), strconv.FormatBool(shared)).Inc()
	if err != nil {
		if errors.Is(err, domain.ErrInvalidCursor) {
			return domain.PostPage{}, err
		}
		uc.logger().Warn("feed page fetch failed",
			slog.String("feedType", string(req.FeedType)),
			slog.String("cursor", req.Cursor),
			slog.String("error", err.Error()),
		)
		return domain.PostPage{}, repoError("fetch page", err)
	}
	page := v.(domain.PostPage)
	// Shared results must not alias between callers.
	page.Posts = append([]domain.Post(nil), page.Posts...)
	return page, nil
}

func (uc *LoadFeedPage) logger() *slog.Logger {
	if uc.Logger != nil {
		return uc.Logger
	}
	return slog.Default()
}
