package media

import (
	"encoding/json"
	"testing"

	"feedstream/internal/domain"
)

func post(id string, ct domain.ContentType, payload string) domain.Post {
	return domain.Post{ID: domain.PostID(id), ContentType: ct, MediaPayload: json.RawMessage(payload)}
}

func samplePosts() []domain.Post {
	return []domain.Post{
		post("v1", domain.ContentVideo, `{"videoUrl":"v1.mp4"}`),
		post("t1", domain.ContentText, ``),
		post("m1", domain.ContentMixed, `[{"type":"photo","url":"m1.jpg"},{"type":"video","url":"m1a.mp4"},{"type":"video","url":"m1b.mp4"}]`),
		post("v1", domain.ContentVideo, `{"videoUrl":"dup.mp4"}`),
		post("p1", domain.ContentPhoto, `["p1.jpg"]`),
		post("v2", domain.ContentVideo, `{"videoUrl":"v2.mp4"}`),
	}
}

func TestBuildDedupesAndFilters(t *testing.T) {
	proj := Build(samplePosts(), domain.FeedAll)

	render := proj.Render()
	wantIDs := []domain.PostID{"v1", "t1", "m1", "p1", "v2"}
	if render.Len() != len(wantIDs) {
		t.Fatalf("render len = %d, want %d", render.Len(), len(wantIDs))
	}
	for i, id := range wantIDs {
		entry, _ := render.At(domain.RenderIndex(i))
		if entry.ID != id {
			t.Fatalf("render[%d] = %s, want %s", i, entry.ID, id)
		}
	}
	first, _ := render.At(0)
	if first.Media[0].URL != "v1.mp4" {
		t.Fatalf("first occurrence should win, got %s", first.Media[0].URL)
	}

	videosOnly := Build(samplePosts(), domain.FeedVideos).Render()
	if videosOnly.Len() != 3 {
		t.Fatalf("videos filter render len = %d, want 3", videosOnly.Len())
	}
}

func TestBuildDerivesVirtualEntries(t *testing.T) {
	proj := Build(samplePosts(), domain.FeedAll)
	videos := proj.Videos()

	wantIDs := []domain.PostID{"v1", "m1_video_0", "m1_video_1", "v2"}
	if videos.Len() != len(wantIDs) {
		t.Fatalf("videos len = %d, want %d", videos.Len(), len(wantIDs))
	}
	for i, id := range wantIDs {
		entry, _ := videos.At(domain.VideoIndex(i))
		if entry.ID != id {
			t.Fatalf("videos[%d] = %s, want %s", i, entry.ID, id)
		}
	}

	virtual, _ := videos.At(2)
	if !virtual.IsVirtual() || virtual.OriginalPostID != "m1" {
		t.Fatalf("unexpected virtual entry %+v", virtual)
	}
	if virtual.PositionKey() != "m1|m1b.mp4" {
		t.Fatalf("PositionKey() = %q", virtual.PositionKey())
	}
}

func TestIndexTranslationGoesThroughIdentity(t *testing.T) {
	proj := Build(samplePosts(), domain.FeedAll)

	tests := []struct {
		render domain.RenderIndex
		video  domain.VideoIndex
		ok     bool
	}{
		{render: 0, video: 0, ok: true},
		{render: 1, ok: false},
		{render: 2, video: 1, ok: true},
		{render: 3, ok: false},
		{render: 4, video: 3, ok: true},
		{render: 9, ok: false},
	}
	for _, tc := range tests {
		got, ok := proj.VideoIndexOf(tc.render)
		if ok != tc.ok || (ok && got != tc.video) {
			t.Fatalf("VideoIndexOf(%d) = %d,%v want %d,%v", tc.render, got, ok, tc.video, tc.ok)
		}
	}

	back, ok := proj.RenderIndexOf(2)
	if !ok || back != 2 {
		t.Fatalf("RenderIndexOf(2) = %d,%v want 2,true", back, ok)
	}
}

func TestSelectPicksIndexSpace(t *testing.T) {
	proj := Build(samplePosts(), domain.FeedAll)

	if got := Select[domain.RenderIndex](proj).Len(); got != 5 {
		t.Fatalf("render select len = %d", got)
	}
	if got := Select[domain.VideoIndex](proj).Len(); got != 4 {
		t.Fatalf("video select len = %d", got)
	}
}

func TestListBounds(t *testing.T) {
	list := Build(nil, domain.FeedAll).Render()
	if _, ok := list.At(0); ok {
		t.Fatalf("At(0) on empty list should fail")
	}
	if _, ok := list.At(-1); ok {
		t.Fatalf("At(-1) should fail")
	}
	if _, ok := list.IndexOf("missing"); ok {
		t.Fatalf("IndexOf(missing) should fail")
	}
}
