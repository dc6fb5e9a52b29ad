package media

import (
	"encoding/json"
	"reflect"
	"testing"

	"feedstream/internal/domain"
)

func TestResolveShapes(t *testing.T) {
	tests := []struct {
		name        string
		contentType domain.ContentType
		payload     string
		want        []domain.MediaItem
	}{
		{
			name:        "array of urls",
			contentType: domain.ContentPhoto,
			payload:     `["https://cdn/a.jpg", "https://cdn/b.jpg"]`,
			want: []domain.MediaItem{
				{Type: domain.MediaPhoto, URL: "https://cdn/a.jpg"},
				{Type: domain.MediaPhoto, URL: "https://cdn/b.jpg"},
			},
		},
		{
			name:        "carousel objects keep order",
			contentType: domain.ContentMixed,
			payload: `[{"type":"photo","url":"p1.jpg"},
				{"type":"video","url":"v1.mp4","thumbnailUrl":"v1.jpg"},
				{"type":"image","url":"p2.jpg","thumbnail_url":"p2t.jpg"}]`,
			want: []domain.MediaItem{
				{Type: domain.MediaPhoto, URL: "p1.jpg"},
				{Type: domain.MediaVideo, URL: "v1.mp4", ThumbnailURL: "v1.jpg"},
				{Type: domain.MediaPhoto, URL: "p2.jpg", ThumbnailURL: "p2t.jpg"},
			},
		},
		{
			name:        "legacy video object",
			contentType: domain.ContentVideo,
			payload:     `{"video_url":"v.mp4","thumbnail":"v.jpg"}`,
			want:        []domain.MediaItem{{Type: domain.MediaVideo, URL: "v.mp4", ThumbnailURL: "v.jpg"}},
		},
		{
			name:        "videoUrl wins over imageUrl",
			contentType: domain.ContentMixed,
			payload:     `{"imageUrl":"i.jpg","videoUrl":"v.mp4"}`,
			want:        []domain.MediaItem{{Type: domain.MediaVideo, URL: "v.mp4"}},
		},
		{
			name:        "photo keys in order",
			contentType: domain.ContentImage,
			payload:     `{"main_url":"m.jpg","photoUrl":"p.jpg"}`,
			want:        []domain.MediaItem{{Type: domain.MediaPhoto, URL: "p.jpg"}},
		},
		{
			name:        "bare url on a video post",
			contentType: domain.ContentVideo,
			payload:     `{"url":"v.mp4"}`,
			want:        []domain.MediaItem{{Type: domain.MediaVideo, URL: "v.mp4"}},
		},
		{
			name:        "bare url on a photo post",
			contentType: domain.ContentPhoto,
			payload:     `{"url":"p.jpg"}`,
			want:        []domain.MediaItem{{Type: domain.MediaPhoto, URL: "p.jpg"}},
		},
		{
			name:        "video post keeps one item",
			contentType: domain.ContentVideo,
			payload:     `[{"type":"photo","url":"p.jpg"},{"type":"video","url":"a.mp4"},{"type":"video","url":"b.mp4"}]`,
			want:        []domain.MediaItem{{Type: domain.MediaVideo, URL: "a.mp4"}},
		},
		{
			name:        "json string",
			contentType: domain.ContentVideo,
			payload:     `"v.mp4"`,
			want:        []domain.MediaItem{{Type: domain.MediaVideo, URL: "v.mp4"}},
		},
		{name: "empty", contentType: domain.ContentVideo, payload: ``},
		{name: "null", contentType: domain.ContentVideo, payload: `null`},
		{name: "empty array", contentType: domain.ContentPhoto, payload: `[]`},
		{name: "unknown object", contentType: domain.ContentPhoto, payload: `{"foo":"bar"}`},
		{name: "malformed", contentType: domain.ContentPhoto, payload: `[{"url":`},
		{name: "number", contentType: domain.ContentPhoto, payload: `42`},
		{name: "blank urls skipped", contentType: domain.ContentPhoto, payload: `["", "  ", {"type":"video"}]`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			post := domain.Post{ID: "p", ContentType: tc.contentType, MediaPayload: json.RawMessage(tc.payload)}
			got := Resolve(post)
			if len(tc.want) == 0 {
				if len(got) != 0 {
					t.Fatalf("Resolve() = %+v, want empty", got)
				}
				return
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("Resolve() = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	payloads := []string{
		`["a.jpg","b.jpg"]`,
		`[{"type":"video","url":"v.mp4"},{"type":"photo","url":"p.jpg"}]`,
		`{"videoUrl":"v.mp4"}`,
		`{"bogus":true}`,
	}
	for _, payload := range payloads {
		post := domain.Post{ID: "p", ContentType: domain.ContentMixed, MediaPayload: json.RawMessage(payload)}
		first := Resolve(post)
		second := Resolve(post)
		if !reflect.DeepEqual(first, second) {
			t.Fatalf("Resolve(%s) not deterministic: %+v vs %+v", payload, first, second)
		}
	}
}
