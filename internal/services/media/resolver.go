package media

import (
	"bytes"
	"encoding/json"
	"strings"

	"feedstream/internal/domain"
)

var videoKeys = []string{"videoUrl", "video_url"}
var photoKeys = []string{"imageUrl", "photoUrl", "image_url", "url", "main_url"}
var thumbnailKeys = []string{"thumbnailUrl", "thumbnail_url", "thumbnail"}

// Resolve turns the post's media payload into an ordered list of media items.
// It never fails: payloads it does not recognize resolve to nothing.
func Resolve(post domain.Post) []domain.MediaItem {
	raw := bytes.TrimSpace(post.MediaPayload)
	if len(raw) == 0 {
		return nil
	}

	var items []domain.MediaItem
	switch raw[0] {
	case '[':
		items = resolveArray(raw)
	case '{':
		items = resolveObject(raw, post.ContentType)
	case '"':
		var url string
		if err := json.Unmarshal(raw, &url); err == nil {
			items = singleURL(url, post.ContentType)
		}
	}

	if post.ContentType == domain.ContentVideo {
		return firstVideo(items)
	}
	return items
}

func resolveArray(raw []byte) []domain.MediaItem {
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil
	}

	items := make([]domain.MediaItem, 0, len(elems))
	for _, elem := range elems {
		elem = bytes.TrimSpace(elem)
		if len(elem) == 0 {
			continue
		}
		switch elem[0] {
		case '"':
			var url string
			if err := json.Unmarshal(elem, &url); err != nil {
				continue
			}
			if url = strings.TrimSpace(url); url != "" {
				items = append(items, domain.MediaItem{Type: domain.MediaPhoto, URL: url})
			}
		case '{':
			var fields map[string]any
			if err := json.Unmarshal(elem, &fields); err != nil {
				continue
			}
			url := firstString(fields, "url")
			if url == "" {
				url = firstString(fields, videoKeys...)
			}
			if url == "" {
				url = firstString(fields, photoKeys...)
			}
			if url == "" {
				continue
			}
			kind := domain.MediaPhoto
			if strings.EqualFold(firstString(fields, "type"), string(domain.MediaVideo)) {
				kind = domain.MediaVideo
			}
			items = append(items, domain.MediaItem{
				Type:         kind,
				URL:          url,
				ThumbnailURL: firstString(fields, thumbnailKeys...),
			})
		}
	}
	if len(items) == 0 {
		return nil
	}
	return items
}

func resolveObject(raw []byte, contentType domain.ContentType) []domain.MediaItem {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil
	}
	thumb := firstString(fields, thumbnailKeys...)

	if url := firstString(fields, videoKeys...); url != "" {
		return []domain.MediaItem{{Type: domain.MediaVideo, URL: url, ThumbnailURL: thumb}}
	}
	if contentType == domain.ContentVideo {
		if url := firstString(fields, "url"); url != "" {
			return []domain.MediaItem{{Type: domain.MediaVideo, URL: url, ThumbnailURL: thumb}}
		}
	}
	if url := firstString(fields, photoKeys...); url != "" {
		return []domain.MediaItem{{Type: domain.MediaPhoto, URL: url, ThumbnailURL: thumb}}
	}
	return nil
}

func singleURL(url string, contentType domain.ContentType) []domain.MediaItem {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil
	}
	kind := domain.MediaPhoto
	if contentType == domain.ContentVideo {
		kind = domain.MediaVideo
	}
	return []domain.MediaItem{{Type: kind, URL: url}}
}

// firstVideo keeps a video post at exactly one item.
func firstVideo(items []domain.MediaItem) []domain.MediaItem {
	if len(items) == 0 {
		return nil
	}
	for _, item := range items {
		if item.Type == domain.MediaVideo {
			return []domain.MediaItem{item}
		}
	}
	return items[:1:1]
}

func firstString(fields map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := fields[key].(string); ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}
