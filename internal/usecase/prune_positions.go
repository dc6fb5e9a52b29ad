package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"feedstream/internal/domain/ports"
)

// PrunePositions deletes stored playback positions older than Retention.
type PrunePositions struct {
	Store     ports.PositionStore
	Retention time.Duration
	Logger    *slog.Logger
	Now       func() time.Time
	Timeout   time.Duration
}

func (uc PrunePositions) Execute(ctx context.Context) (int64, error) {
	if uc.Store == nil || uc.Retention <= 0 {
		return 0, nil
	}
	now := time.Now
	if uc.Now != nil {
		now = uc.Now
	}
	n, err := uc.Store.PruneBefore(ctx, now().Add(-uc.Retention))
	if err != nil {
		return 0, repoError("prune positions", err)
	}
	return n, nil
}

// Schedule registers the prune job on c with a standard five-field cron spec.
func (uc PrunePositions) Schedule(c *cron.Cron, spec string) (cron.EntryID, error) {
	logger := uc.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := uc.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	id, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		start := time.Now()
		n, err := uc.Execute(ctx)
		if err != nil {
			logger.Warn("position prune failed", slog.String("error", err.Error()))
			return
		}
		logger.Info("positions pruned",
			slog.Int64("deleted", n),
			slog.Duration("took", time.Since(start)),
		)
	})
	if err != nil {
		return 0, fmt.Errorf("schedule position prune %q: %w", spec, err)
	}
	return id, nil
}
