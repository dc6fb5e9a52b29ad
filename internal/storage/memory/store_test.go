package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"feedstream/internal/domain"
)

func TestStorePositions(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, key := range []string{"a", "b", "c"} {
		err := s.Upsert(ctx, domain.PlaybackPosition{
			Key:            key,
			PositionMillis: int64(i+1) * 1000,
			UpdatedAt:      base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("Upsert(%s): %v", key, err)
		}
	}

	got, err := s.Get(ctx, "b")
	if err != nil || got.PositionMillis != 2000 {
		t.Fatalf("Get(b) = %+v, %v", got, err)
	}

	recent, _ := s.ListRecent(ctx, 2)
	if len(recent) != 2 || recent[0].Key != "c" || recent[1].Key != "b" {
		t.Fatalf("ListRecent(2) = %+v", recent)
	}

	removed, _ := s.PruneBefore(ctx, base.Add(90*time.Second))
	if removed != 2 {
		t.Fatalf("PruneBefore removed %d, want 2", removed)
	}
	if _, err := s.Get(ctx, "a"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get(a) error = %v, want ErrNotFound", err)
	}

	if err := s.Delete(ctx, "c"); err != nil {
		t.Fatalf("Delete(c): %v", err)
	}
	if err := s.Delete(ctx, "c"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("second Delete(c) error = %v", err)
	}
}

func TestStoreBoundsEntries(t *testing.T) {
	ctx := context.Background()
	s := NewStore(WithMaxEntries(2))

	_ = s.Upsert(ctx, domain.PlaybackPosition{Key: "a"})
	_ = s.Upsert(ctx, domain.PlaybackPosition{Key: "b"})
	_ = s.Upsert(ctx, domain.PlaybackPosition{Key: "a", PositionMillis: 5})
	_ = s.Upsert(ctx, domain.PlaybackPosition{Key: "c"})

	if _, err := s.Get(ctx, "b"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("b should have been dropped")
	}
	if got, err := s.Get(ctx, "a"); err != nil || got.PositionMillis != 5 {
		t.Fatalf("Get(a) = %+v, %v", got, err)
	}
}

func TestStoreLastPost(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	if _, ok, _ := s.GetLastPostID(ctx, domain.FeedAll); ok {
		t.Fatalf("empty store should have no place")
	}
	_ = s.SetLastPostID(ctx, domain.FeedAll, "p9")
	id, ok, err := s.GetLastPostID(ctx, domain.FeedAll)
	if err != nil || !ok || id != "p9" {
		t.Fatalf("GetLastPostID = %s,%v,%v", id, ok, err)
	}
	_ = s.SetLastPostID(ctx, domain.FeedAll, "")
	if _, ok, _ := s.GetLastPostID(ctx, domain.FeedAll); ok {
		t.Fatalf("empty id should clear the place")
	}
}
