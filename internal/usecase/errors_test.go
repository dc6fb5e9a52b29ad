package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestRepoError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantRepo bool
		wantMsg  string
	}{
		{"nil", nil, false, ""},
		{"store failure", errors.New("db down"), true, "repository error: fetch page: db down"},
		{"canceled passes through", fmt.Errorf("find: %w", context.Canceled), false, "find: context canceled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := repoError("fetch page", tt.err)
			if tt.err == nil {
				if got != nil {
					t.Fatalf("expected nil, got %v", got)
				}
				return
			}
			if errors.Is(got, ErrRepository) != tt.wantRepo {
				t.Fatalf("errors.Is(%v, ErrRepository) = %v", got, !tt.wantRepo)
			}
			if got.Error() != tt.wantMsg {
				t.Fatalf("message = %q, want %q", got.Error(), tt.wantMsg)
			}
		})
	}
}
