package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"feedstream/internal/domain"
)

type fakeSource struct {
	mu      sync.Mutex
	calls   []domain.PageRequest
	release chan struct{}
	err     error
}

func (s *fakeSource) FetchPage(_ context.Context, req domain.PageRequest) (domain.PostPage, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	release, err := s.release, s.err
	s.mu.Unlock()
	if release != nil {
		<-release
	}
	if err != nil {
		return domain.PostPage{}, err
	}
	return domain.PostPage{
		Posts:      []domain.Post{{ID: domain.PostID(fmt.Sprintf("%s-%s", req.FeedType, req.Cursor)), ContentType: domain.ContentVideo}},
		NextCursor: "next",
	}, nil
}

func (s *fakeSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func TestLoadFeedPageDefaults(t *testing.T) {
	src := &fakeSource{}
	uc := &LoadFeedPage{Source: src, PageSize: 15}

	page, err := uc.Execute(context.Background(), domain.PageRequest{Cursor: "  "})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(page.Posts) != 1 || !page.HasMore() {
		t.Fatalf("page = %+v", page)
	}
	got := src.calls[0]
	if got.FeedType != domain.FeedAll || got.Limit != 15 || got.Cursor != "" {
		t.Fatalf("request = %+v", got)
	}
}

func TestLoadFeedPageRejectsUnknownFeedType(t *testing.T) {
	uc := &LoadFeedPage{Source: &fakeSource{}}
	if _, err := uc.Execute(context.Background(), domain.PageRequest{FeedType: "reels"}); !errors.Is(err, ErrInvalidFeedType) {
		t.Fatalf("err = %v, want ErrInvalidFeedType", err)
	}
}

func TestLoadFeedPageErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		wantIs error
	}{
		{"invalid cursor passes through", fmt.Errorf("%w: %q", domain.ErrInvalidCursor, "x"), domain.ErrInvalidCursor},
		{"storage error wrapped", errors.New("connection reset"), ErrRepository},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			uc := &LoadFeedPage{Source: &fakeSource{err: tc.err}}
			_, err := uc.Execute(context.Background(), domain.PageRequest{FeedType: domain.FeedVideos})
			if !errors.Is(err, tc.wantIs) {
				t.Fatalf("err = %v, want %v", err, tc.wantIs)
			}
		})
	}
}

func TestLoadFeedPageCollapsesConcurrentRequests(t *testing.T) {
	src := &fakeSource{release: make(chan struct{})}
	uc := &LoadFeedPage{Source: src, PageSize: 10}
	req := domain.PageRequest{FeedType: domain.FeedVideos, Cursor: "100:p1"}

	var wg sync.WaitGroup
	results := make([]domain.PostPage, 2)
	errs := make([]error, 2)
	run := func(i int) {
		defer wg.Done()
		results[i], errs[i] = uc.Execute(context.Background(), req)
	}

	wg.Add(1)
	go run(0)
	deadline := time.Now().Add(time.Second)
	for src.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	wg.Add(1)
	go run(1)
	time.Sleep(20 * time.Millisecond)
	close(src.release)
	wg.Wait()

	if n := src.callCount(); n != 1 {
		t.Fatalf("source called %d times, want 1", n)
	}
	for i := range results {
		if errs[i] != nil || len(results[i].Posts) != 1 {
			t.Fatalf("caller %d: %+v, %v", i, results[i], errs[i])
		}
	}
	results[0].Posts[0].ID = "mutated"
	if results[1].Posts[0].ID == "mutated" {
		t.Fatalf("callers share the posts slice")
	}
}
