package player

import (
	"context"
	"errors"
	"log/slog"

	"feedstream/internal/domain"
	"feedstream/internal/metrics"
)

// SavePosition records where playback of key stands. Writes reach the
// position store in the background, one at a time, latest value per key.
func (c *Coordinator) SavePosition(key string, positionMillis, durationMillis int64) {
	if key == "" || positionMillis < 0 {
		return
	}
	c.mu.Lock()
	pos := domain.PlaybackPosition{
		Key:            key,
		PositionMillis: positionMillis,
		DurationMillis: durationMillis,
		UpdatedAt:      c.now().UTC(),
	}
	if durationMillis <= 0 {
		pos.DurationMillis = c.positions[key].DurationMillis
	}
	c.positions[key] = pos
	c.enqueueWriteLocked(key, &pos)
	c.mu.Unlock()
}

func (c *Coordinator) GetPosition(key string) (domain.PlaybackPosition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pos, ok := c.positions[key]
	return pos, ok
}

// ClearPosition forgets key, typically once its video played to the end.
func (c *Coordinator) ClearPosition(key string) {
	if key == "" {
		return
	}
	c.mu.Lock()
	_, known := c.positions[key]
	delete(c.positions, key)
	if known || c.store != nil {
		c.enqueueWriteLocked(key, nil)
	}
	c.mu.Unlock()
}

// ResumePosition is where playback of key should start given the duration
// reported by the player. Positions within a second of the end restart at 0.
func (c *Coordinator) ResumePosition(key string, durationMillis int64) int64 {
	pos, ok := c.GetPosition(key)
	if !ok {
		return 0
	}
	return pos.ResumeFrom(durationMillis)
}

// Hydrate loads the most recent stored positions without overwriting anything
// saved during this session.
func (c *Coordinator) Hydrate(ctx context.Context, limit int) error {
	if c.store == nil {
		return nil
	}
	list, err := c.store.ListRecent(ctx, limit)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, pos := range list {
		if _, ok := c.positions[pos.Key]; !ok {
			c.positions[pos.Key] = pos
		}
	}
	return nil
}

func (c *Coordinator) enqueueWriteLocked(key string, pos *domain.PlaybackPosition) {
	if c.store == nil {
		return
	}
	c.pending[key] = pos
	if c.flushing {
		return
	}
	c.flushing = true
	go c.flush()
}

func (c *Coordinator) flush() {
	for {
		c.mu.Lock()
		var (
			key string
			pos *domain.PlaybackPosition
		)
		for k, p := range c.pending {
			key, pos = k, p
			break
		}
		if key == "" {
			c.flushing = false
			c.mu.Unlock()
			return
		}
		delete(c.pending, key)
		c.mu.Unlock()

		c.write(key, pos)
	}
}

func (c *Coordinator) write(key string, pos *domain.PlaybackPosition) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	var err error
	if pos == nil {
		err = c.store.Delete(ctx, key)
		if errors.Is(err, domain.ErrNotFound) {
			err = nil
		}
	} else {
		err = c.store.Upsert(ctx, *pos)
		if err == nil {
			metrics.PositionSavesTotal.Inc()
		}
	}
	if err != nil {
		metrics.PositionStoreErrors.Inc()
		c.logger.Warn("position store write failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}
