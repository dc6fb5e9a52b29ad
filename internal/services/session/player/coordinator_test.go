package player

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"feedstream/internal/domain"
	"feedstream/internal/observable"
)

type fakeStore struct {
	mu      sync.Mutex
	saved   map[string]domain.PlaybackPosition
	deleted []string
	recent  []domain.PlaybackPosition
	err     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{saved: make(map[string]domain.PlaybackPosition)}
}

func (s *fakeStore) Upsert(_ context.Context, pos domain.PlaybackPosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.saved[pos.Key] = pos
	return nil
}

func (s *fakeStore) Get(_ context.Context, key string) (domain.PlaybackPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.saved[key]
	if !ok {
		return domain.PlaybackPosition{}, domain.ErrNotFound
	}
	return pos, nil
}

func (s *fakeStore) ListRecent(_ context.Context, _ int) ([]domain.PlaybackPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.recent, nil
}

func (s *fakeStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, key)
	delete(s.saved, key)
	return nil
}

func (s *fakeStore) PruneBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (s *fakeStore) get(key string) (domain.PlaybackPosition, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.saved[key]
	return pos, ok
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestRequestPlaybackPausesPreviousOwnerFirst(t *testing.T) {
	c := NewCoordinator(nil, nil)

	var events []string
	c.RegisterPauseCallback("main", func() { events = append(events, "main paused") })
	c.RegisterPauseCallback("fullscreen", func() { events = append(events, "fullscreen paused") })

	if !c.RequestPlayback("main", domain.PriorityFeed) {
		t.Fatalf("first request should win")
	}
	if !c.RequestPlayback("fullscreen", domain.PriorityFullscreen) {
		t.Fatalf("higher priority should win")
	}
	events = append(events, "fullscreen plays")

	want := []string{"main paused", "fullscreen plays"}
	if len(events) != len(want) || events[0] != want[0] || events[1] != want[1] {
		t.Fatalf("events = %v, want %v", events, want)
	}
	if c.Owner() != "fullscreen" || c.HasClaim("main") {
		t.Fatalf("owner = %q", c.Owner())
	}
}

func TestRequestPlaybackPriorities(t *testing.T) {
	c := NewCoordinator(nil, nil)
	pauses := map[string]int{}
	for _, id := range []string{"a", "b", "c"} {
		id := id
		c.RegisterPauseCallback(id, func() { pauses[id]++ })
	}

	c.RequestPlayback("a", domain.PriorityFullscreen)
	if c.RequestPlayback("b", domain.PriorityFeed) {
		t.Fatalf("lower priority should be denied")
	}
	if !c.RequestPlayback("a", domain.PriorityFullscreen) {
		t.Fatalf("re-request by owner should succeed")
	}
	if pauses["a"] != 0 {
		t.Fatalf("re-entrant claim must not pause the owner")
	}
	if !c.RequestPlayback("c", domain.PriorityFullscreen) {
		t.Fatalf("equal priority should win")
	}
	if pauses["a"] != 1 || c.Owner() != "c" {
		t.Fatalf("pauses = %v, owner = %q", pauses, c.Owner())
	}

	c.ReleasePlayback("b")
	if c.Owner() != "c" {
		t.Fatalf("release by non-owner must not change the claim")
	}
	c.ReleasePlayback("c")
	if c.Owner() != "" {
		t.Fatalf("release should leave the claim empty, got %q", c.Owner())
	}
	if !c.RequestPlayback("b", domain.PriorityFeed) {
		t.Fatalf("free claim should be granted")
	}
}

func TestUnregisterKeepsNewerCallback(t *testing.T) {
	c := NewCoordinator(nil, nil)
	calls := 0
	unregisterOld := c.RegisterPauseCallback("a", func() { t.Fatalf("stale callback called") })
	c.RegisterPauseCallback("a", func() { calls++ })
	unregisterOld()

	c.RequestPlayback("a", domain.PriorityFeed)
	c.RequestPlayback("b", domain.PriorityFeed)
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestAppStateBackgroundPausesEveryoneAndResumesOwner(t *testing.T) {
	c := NewCoordinator(nil, nil)
	app := observable.NewSubject(domain.AppActive)
	cancel := c.BindAppState(app)
	defer cancel()

	paused := map[string]int{}
	resumed := map[string]int{}
	for _, id := range []string{"main", "fullscreen"} {
		id := id
		c.RegisterPauseCallback(id, func() { paused[id]++ })
		c.RegisterResumeCallback(id, func() { resumed[id]++ })
	}
	c.RequestPlayback("main", domain.PriorityFeed)

	app.Set(domain.AppBackground)
	if paused["main"] != 1 || paused["fullscreen"] != 1 {
		t.Fatalf("paused = %v, want every instance once", paused)
	}
	if c.Owner() != "" {
		t.Fatalf("claim should be suspended in background")
	}
	if c.RequestPlayback("fullscreen", domain.PriorityFeed) {
		t.Fatalf("requests are denied in background")
	}

	app.Set(domain.AppInactive)
	if paused["main"] != 1 {
		t.Fatalf("background to inactive must not pause again")
	}

	app.Set(domain.AppActive)
	if c.Owner() != "main" {
		t.Fatalf("owner after resume = %q, want main", c.Owner())
	}
	if resumed["main"] != 1 || resumed["fullscreen"] != 0 {
		t.Fatalf("resumed = %v", resumed)
	}
}

func TestPositionsResumeAndClear(t *testing.T) {
	store := newFakeStore()
	c := NewCoordinator(store, nil)

	c.SavePosition("v1", 4000, 10000)
	if got := c.ResumePosition("v1", 10000); got != 4000 {
		t.Fatalf("ResumePosition = %d, want 4000", got)
	}
	c.SavePosition("v1", 9500, 10000)
	if got := c.ResumePosition("v1", 10000); got != 0 {
		t.Fatalf("position within a second of the end should restart, got %d", got)
	}
	if got := c.ResumePosition("missing", 10000); got != 0 {
		t.Fatalf("unknown key should start at 0, got %d", got)
	}

	waitFor(t, func() bool {
		pos, ok := store.get("v1")
		return ok && pos.PositionMillis == 9500
	})

	c.ClearPosition("v1")
	if _, ok := c.GetPosition("v1"); ok {
		t.Fatalf("position should be cleared")
	}
	waitFor(t, func() bool {
		_, ok := store.get("v1")
		return !ok
	})
}

func TestSavePositionKeepsKnownDuration(t *testing.T) {
	c := NewCoordinator(nil, nil)
	c.SavePosition("v", 1000, 8000)
	c.SavePosition("v", 2000, 0)

	pos, _ := c.GetPosition("v")
	if pos.DurationMillis != 8000 || pos.PositionMillis != 2000 {
		t.Fatalf("pos = %+v", pos)
	}
	c.SavePosition("", 100, 100)
	c.SavePosition("neg", -1, 100)
	if _, ok := c.GetPosition("neg"); ok {
		t.Fatalf("negative positions are ignored")
	}
}

func TestHydrateDoesNotOverwriteSessionPositions(t *testing.T) {
	store := newFakeStore()
	store.recent = []domain.PlaybackPosition{
		{Key: "a", PositionMillis: 1000},
		{Key: "b", PositionMillis: 2000},
	}
	c := NewCoordinator(store, nil)
	c.SavePosition("a", 5000, 0)

	if err := c.Hydrate(context.Background(), 10); err != nil {
		t.Fatalf("Hydrate: %v", err)
	}
	if pos, _ := c.GetPosition("a"); pos.PositionMillis != 5000 {
		t.Fatalf("a = %+v, want session value", pos)
	}
	if pos, _ := c.GetPosition("b"); pos.PositionMillis != 2000 {
		t.Fatalf("b = %+v, want stored value", pos)
	}

	store.mu.Lock()
	store.err = errors.New("boom")
	store.mu.Unlock()
	if err := c.Hydrate(context.Background(), 10); err == nil {
		t.Fatalf("Hydrate should surface store errors")
	}
}
