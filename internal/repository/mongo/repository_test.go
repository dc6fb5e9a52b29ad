package mongo

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"feedstream/internal/domain"
)

// ---------------------------------------------------------------------------
// cursors
// ---------------------------------------------------------------------------

func TestCursorRoundtrip(t *testing.T) {
	cursor := EncodeCursor(1760000000123, "post:42")
	if cursor != "1760000000123:post:42" {
		t.Fatalf("EncodeCursor = %q", cursor)
	}
	ms, id, err := ParseCursor(cursor)
	if err != nil {
		t.Fatalf("ParseCursor: %v", err)
	}
	if ms != 1760000000123 || id != "post:42" {
		t.Fatalf("ParseCursor = %d, %q", ms, id)
	}
}

func TestParseCursorRejectsGarbage(t *testing.T) {
	for _, cursor := range []string{"abc", "12:", ":id", "x:id", "-5:id"} {
		t.Run(cursor, func(t *testing.T) {
			_, _, err := ParseCursor(cursor)
			if !errors.Is(err, domain.ErrInvalidCursor) {
				t.Fatalf("ParseCursor(%q) err = %v, want ErrInvalidCursor", cursor, err)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// queries
// ---------------------------------------------------------------------------

func TestPageQueryFiltersByFeedType(t *testing.T) {
	q, err := pageQuery(domain.PageRequest{FeedType: domain.FeedVideos})
	if err != nil {
		t.Fatalf("pageQuery: %v", err)
	}
	want := bson.M{"contentType": bson.M{"$in": []string{"video", "mixed"}}}
	if !reflect.DeepEqual(q, want) {
		t.Fatalf("query = %v, want %v", q, want)
	}
}

func TestPageQueryAppliesCursor(t *testing.T) {
	q, err := pageQuery(domain.PageRequest{FeedType: domain.FeedAll, Cursor: EncodeCursor(500, "p9")})
	if err != nil {
		t.Fatalf("pageQuery: %v", err)
	}
	or, ok := q["$or"].(bson.A)
	if !ok || len(or) != 2 {
		t.Fatalf("$or = %#v", q["$or"])
	}
	if !reflect.DeepEqual(or[0], bson.M{"createdAt": bson.M{"$lt": int64(500)}}) {
		t.Fatalf("older clause = %v", or[0])
	}
	if !reflect.DeepEqual(or[1], bson.M{"createdAt": int64(500), "_id": bson.M{"$lt": "p9"}}) {
		t.Fatalf("tie-break clause = %v", or[1])
	}
}

func TestPageQueryInvalidCursor(t *testing.T) {
	if _, err := pageQuery(domain.PageRequest{Cursor: "nope"}); !errors.Is(err, domain.ErrInvalidCursor) {
		t.Fatalf("err = %v, want ErrInvalidCursor", err)
	}
}

func TestClampPageSize(t *testing.T) {
	tests := []struct{ in, want int }{
		{0, defaultPageSize},
		{-3, defaultPageSize},
		{10, 10},
		{500, maxPageSize},
	}
	for _, tc := range tests {
		if got := clampPageSize(tc.in); got != tc.want {
			t.Errorf("clampPageSize(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

// ---------------------------------------------------------------------------
// docs
// ---------------------------------------------------------------------------

func TestPostDocRoundtrip(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 250_000_000, time.UTC)
	post := domain.Post{
		ID:           "p1",
		ContentType:  domain.ContentMixed,
		MediaPayload: []byte(`[{"type":"video","url":"v.mp4"}]`),
		CreatedAt:    created,
	}
	got := fromPostDoc(toPostDoc(post))
	if got.ID != post.ID || got.ContentType != post.ContentType {
		t.Fatalf("got %+v", got)
	}
	if string(got.MediaPayload) != string(post.MediaPayload) {
		t.Fatalf("payload = %s", got.MediaPayload)
	}
	if !got.CreatedAt.Equal(created) {
		t.Fatalf("CreatedAt = %v, want %v", got.CreatedAt, created)
	}
}

func TestPostDocWithoutPayload(t *testing.T) {
	got := fromPostDoc(postDoc{ID: "t1", ContentType: "text"})
	if got.MediaPayload != nil {
		t.Fatalf("payload = %q, want nil", got.MediaPayload)
	}
}

func TestPageFromDocs(t *testing.T) {
	docs := make([]postDoc, 0, 4)
	for i := 0; i < 4; i++ {
		docs = append(docs, postDoc{ID: fmt.Sprintf("p%d", i), ContentType: "video", CreatedAt: int64(100 - i)})
	}

	page := pageFromDocs(docs, 3)
	if len(page.Posts) != 3 {
		t.Fatalf("posts = %d, want 3", len(page.Posts))
	}
	if page.NextCursor != "98:p2" {
		t.Fatalf("NextCursor = %q, want 98:p2", page.NextCursor)
	}

	last := pageFromDocs(docs[:2], 3)
	if last.HasMore() || len(last.Posts) != 2 {
		t.Fatalf("last page = %+v", last)
	}
}

func TestPositionFromDoc(t *testing.T) {
	doc := positionDoc{ID: "p1|v.mp4", PositionMillis: 4200, DurationMillis: 60000, UpdatedAt: 1700000000123}
	pos := positionFromDoc(doc)
	if pos.Key != doc.ID || pos.PositionMillis != 4200 || pos.DurationMillis != 60000 {
		t.Fatalf("pos = %+v", pos)
	}
	if pos.UpdatedAt.UnixMilli() != doc.UpdatedAt {
		t.Fatalf("UpdatedAt = %v", pos.UpdatedAt)
	}
}

func TestFeedStateID(t *testing.T) {
	tests := []struct {
		feedType domain.FeedType
		want     string
	}{
		{domain.FeedAll, "feed:all"},
		{domain.FeedVideos, "feed:videos"},
		{"", "feed:all"},
	}
	for _, tc := range tests {
		if got := feedStateID(tc.feedType); got != tc.want {
			t.Errorf("feedStateID(%q) = %q, want %q", tc.feedType, got, tc.want)
		}
	}
}
