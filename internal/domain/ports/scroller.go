package ports

import (
	"context"
	"fmt"
)

// Scroller is the virtualized list a feed instance renders into.
type Scroller interface {
	// ScrollToIndex jumps to an item. It returns a *ScrollFailure when the list
	// cannot reach an item it has not rendered yet.
	ScrollToIndex(ctx context.Context, index int) error
	ScrollToOffset(ctx context.Context, offset float64) error
}

// ScrollFailure is the "scroll to index failed" signal of the virtualization
// layer, carrying what it knows about item sizes.
type ScrollFailure struct {
	Index                     int
	HighestMeasuredFrameIndex int
	AverageItemLength         float64
}

func (f *ScrollFailure) Error() string {
	return fmt.Sprintf("scroll to index %d failed (highest measured %d)", f.Index, f.HighestMeasuredFrameIndex)
}
