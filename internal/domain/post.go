package domain

import (
	"encoding/json"
	"time"
)

type PostID string

type ContentType string

const (
	ContentVideo ContentType = "video"
	ContentImage ContentType = "image"
	ContentPhoto ContentType = "photo"
	ContentText  ContentType = "text"
	ContentMixed ContentType = "mixed"
)

// Post is the backend record as the engine receives it. MediaPayload is kept
// opaque and only interpreted by the media resolver.
type Post struct {
	ID           PostID          `json:"id"`
	ContentType  ContentType     `json:"contentType"`
	MediaPayload json.RawMessage `json:"mediaPayload,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

type FeedType string

const (
	FeedAll    FeedType = "all"
	FeedVideos FeedType = "videos"
)

// ContentTypes returns the content types rendered by the feed type.
func (t FeedType) ContentTypes() []ContentType {
	switch t {
	case FeedVideos:
		return []ContentType{ContentVideo, ContentMixed}
	default:
		return []ContentType{ContentVideo, ContentImage, ContentPhoto, ContentText, ContentMixed}
	}
}

type PageRequest struct {
	FeedType FeedType `json:"feedType"`
	Cursor   string   `json:"cursor,omitempty"`
	Limit    int      `json:"limit,omitempty"`
}

type PostPage struct {
	Posts      []Post `json:"posts"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// HasMore reports whether another page can be requested.
func (p PostPage) HasMore() bool {
	return p.NextCursor != ""
}
