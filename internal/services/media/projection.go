package media

import (
	"fmt"

	"feedstream/internal/domain"
)

// List is one index space of a projection.
type List[I domain.Index] struct {
	entries []domain.Entry
	byID    map[domain.PostID]int
}

func newList[I domain.Index](entries []domain.Entry) List[I] {
	byID := make(map[domain.PostID]int, len(entries))
	for i, e := range entries {
		if _, ok := byID[e.ID]; !ok {
			byID[e.ID] = i
		}
	}
	return List[I]{entries: entries, byID: byID}
}

func (l List[I]) Len() int {
	return len(l.entries)
}

func (l List[I]) At(i I) (domain.Entry, bool) {
	if int(i) < 0 || int(i) >= len(l.entries) {
		return domain.Entry{}, false
	}
	return l.entries[i], true
}

func (l List[I]) IndexOf(id domain.PostID) (I, bool) {
	i, ok := l.byID[id]
	return I(i), ok
}

// Entries returns a copy of the list.
func (l List[I]) Entries() []domain.Entry {
	out := make([]domain.Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Projection is the derived view of a raw post list: the render feed and the
// video-only feed. It is rebuilt from scratch whenever the post list changes.
type Projection struct {
	Filter domain.FeedType
	render List[domain.RenderIndex]
	videos List[domain.VideoIndex]
}

// Build dedupes posts by id (first occurrence wins), drops content types the
// filter does not render and derives virtual entries for carousel videos.
func Build(posts []domain.Post, filter domain.FeedType) *Projection {
	allowed := make(map[domain.ContentType]bool)
	for _, ct := range filter.ContentTypes() {
		allowed[ct] = true
	}

	seen := make(map[domain.PostID]bool, len(posts))
	render := make([]domain.Entry, 0, len(posts))
	videos := make([]domain.Entry, 0)

	for _, post := range posts {
		if post.ID == "" || seen[post.ID] {
			continue
		}
		seen[post.ID] = true
		if !allowed[post.ContentType] {
			continue
		}

		entry := domain.Entry{
			ID:          post.ID,
			Kind:        domain.EntryReal,
			ContentType: post.ContentType,
			Media:       Resolve(post),
			CreatedAt:   post.CreatedAt,
		}
		render = append(render, entry)

		switch post.ContentType {
		case domain.ContentVideo:
			if entry.IsVideo() {
				videos = append(videos, entry)
			}
		case domain.ContentMixed:
			videos = append(videos, virtualEntries(entry)...)
		}
	}

	return &Projection{
		Filter: filter,
		render: newList[domain.RenderIndex](render),
		videos: newList[domain.VideoIndex](videos),
	}
}

// VirtualID names the n-th embedded video (zero based) of a carousel post.
func VirtualID(original domain.PostID, n int) domain.PostID {
	return domain.PostID(fmt.Sprintf("%s_video_%d", original, n))
}

func virtualEntries(carousel domain.Entry) []domain.Entry {
	var out []domain.Entry
	n := 0
	for _, item := range carousel.Media {
		if item.Type != domain.MediaVideo || item.URL == "" {
			continue
		}
		out = append(out, domain.Entry{
			ID:             VirtualID(carousel.ID, n),
			Kind:           domain.EntryVirtual,
			OriginalPostID: carousel.ID,
			ContentType:    domain.ContentVideo,
			Media:          []domain.MediaItem{item},
			CreatedAt:      carousel.CreatedAt,
		})
		n++
	}
	return out
}

func (p *Projection) Render() List[domain.RenderIndex] {
	return p.render
}

func (p *Projection) Videos() List[domain.VideoIndex] {
	return p.videos
}

// VideoIndexOf maps a render entry to its fullscreen position. Carousel
// posts map to their first embedded video.
func (p *Projection) VideoIndexOf(i domain.RenderIndex) (domain.VideoIndex, bool) {
	entry, ok := p.render.At(i)
	if !ok {
		return 0, false
	}
	if entry.ContentType == domain.ContentMixed {
		return p.videos.IndexOf(VirtualID(entry.ID, 0))
	}
	return p.videos.IndexOf(entry.ID)
}

// RenderIndexOf maps a fullscreen entry back to the render feed.
func (p *Projection) RenderIndexOf(i domain.VideoIndex) (domain.RenderIndex, bool) {
	entry, ok := p.videos.At(i)
	if !ok {
		return 0, false
	}
	if entry.IsVirtual() {
		return p.render.IndexOf(entry.OriginalPostID)
	}
	return p.render.IndexOf(entry.ID)
}

// Select returns the projection's list for the index type I.
func Select[I domain.Index](p *Projection) List[I] {
	var zero I
	if _, ok := any(zero).(domain.VideoIndex); ok {
		return any(p.videos).(List[I])
	}
	return any(p.render).(List[I])
}
