package usecase

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrRepository      = errors.New("repository error")
	ErrInvalidFeedType = errors.New("invalid feed type")
)

// repoError tags a store failure with the operation that hit it. Caller
// cancellation is returned as is so sessions can drop it quietly.
func repoError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrRepository, op, err)
}
