package domain

import "time"

type MediaType string

const (
	MediaVideo MediaType = "video"
	MediaPhoto MediaType = "photo"
)

type MediaItem struct {
	Type         MediaType `json:"type"`
	URL          string    `json:"url"`
	ThumbnailURL string    `json:"thumbnailUrl,omitempty"`
}

type EntryKind int

const (
	EntryReal EntryKind = iota
	EntryVirtual
)

// Entry is a post as rendered by a feed projection. Virtual entries stand for a
// single video embedded in a carousel and point back at the carousel post.
type Entry struct {
	ID             PostID      `json:"id"`
	Kind           EntryKind   `json:"kind"`
	OriginalPostID PostID      `json:"originalPostId,omitempty"`
	ContentType    ContentType `json:"contentType"`
	Media          []MediaItem `json:"media"`
	CreatedAt      time.Time   `json:"createdAt"`
}

func (e Entry) IsVirtual() bool {
	return e.Kind == EntryVirtual
}

// Video returns the media item the feed plays for this entry. Only entries
// whose first item is a video are playable.
func (e Entry) Video() (MediaItem, bool) {
	if len(e.Media) == 0 || e.Media[0].Type != MediaVideo || e.Media[0].URL == "" {
		return MediaItem{}, false
	}
	return e.Media[0], true
}

func (e Entry) IsVideo() bool {
	_, ok := e.Video()
	return ok
}

// PositionKey identifies the saved playback position of the entry's video.
// Carousel videos are keyed by source post and url so that the feed item and
// its virtual fullscreen entry share one position.
func (e Entry) PositionKey() string {
	video, ok := e.Video()
	if !ok {
		return ""
	}
	switch {
	case e.IsVirtual():
		return string(e.OriginalPostID) + "|" + video.URL
	case e.ContentType == ContentMixed:
		return string(e.ID) + "|" + video.URL
	default:
		return string(e.ID)
	}
}
