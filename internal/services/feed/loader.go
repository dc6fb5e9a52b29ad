package feed

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"feedstream/internal/domain"
	"feedstream/internal/domain/ports"
	"feedstream/internal/metrics"
)

type loadJob[I domain.Index] struct {
	index  I
	gen    uint64
	player ports.Player
	postID domain.PostID
	url    string
	origin string
	status domain.PlaybackStatus

	unloadFirst bool
	delay       time.Duration
}

// beginLoadLocked claims the slot for a new load. Any earlier load of the
// slot becomes stale. Loads start paused and muted at the saved position;
// playback is applied on completion if the index is still current.
func (f *Feed[I]) beginLoadLocked(i I, s *slot, entry domain.Entry, origin string) loadJob[I] {
	video, _ := entry.Video()
	s.gen++
	s.postID = entry.ID
	s.url = video.URL
	s.key = entry.PositionKey()
	s.resident = true
	s.loading = true
	s.origin = origin
	s.playing = false
	s.muted = true
	s.errMsg = ""
	s.last = domain.PlayerStatus{}
	s.saver = nil
	f.ledger.MarkLoading(i)

	status := domain.Paused()
	if from := f.arbiter.ResumePosition(s.key, 0); from > 0 {
		status.PositionMillis = from
		status.Seek = true
	}
	return loadJob[I]{
		index:  i,
		gen:    s.gen,
		player: s.player,
		postID: entry.ID,
		url:    video.URL,
		origin: origin,
		status: status,
	}
}

func (f *Feed[I]) load(job loadJob[I]) {
	ctx, span := f.tracer.Start(f.ctx, "feed.load", trace.WithAttributes(
		attribute.String("feed.id", f.id),
		attribute.Int("feed.index", int(job.index)),
		attribute.String("feed.origin", job.origin),
		attribute.String("post.id", string(job.postID)),
	))
	defer span.End()

	started := time.Now()
	var err error
	if job.unloadFirst {
		if uerr := job.player.Unload(ctx); uerr != nil {
			f.logger.Debug("player unload before load failed",
				slog.String("feedId", f.id),
				slog.Int("index", int(job.index)),
				slog.String("error", uerr.Error()),
			)
		}
	}
	if job.delay > 0 {
		select {
		case <-ctx.Done():
			err = ctx.Err()
		case <-time.After(job.delay):
		}
	}
	if err == nil {
		err = job.player.Load(ctx, job.url, job.status)
	}
	metrics.PlayerLoadDuration.WithLabelValues(job.origin).Observe(time.Since(started).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	f.complete(job, err)
}

// complete applies a load result if the job is still the slot's latest load
// for the same post. Stale results are dropped; a stale buffer nobody owns
// any more is unloaded. A player whose transport went away reports
// ErrFeedClosed; the slot is released without recording an error.
func (f *Feed[I]) complete(job loadJob[I], err error) {
	var fx effects
	f.mu.Lock()
	s := f.slots[job.index]
	if errors.Is(err, domain.ErrFeedClosed) {
		if s != nil && s.player == job.player && s.gen == job.gen {
			s.loading = false
			f.ledger.Forget(job.index)
		}
		f.mu.Unlock()
		f.logger.Debug("player transport closed during load",
			slog.String("feedId", f.id),
			slog.Int("index", int(job.index)),
		)
		return
	}
	entry, listed := f.list.At(job.index)
	if f.closed || s == nil || s.player != job.player || s.gen != job.gen || !listed || entry.ID != job.postID {
		orphan := err == nil && (f.closed || s == nil || s.player != job.player || !s.resident)
		f.mu.Unlock()
		if orphan {
			f.unload(job.player, job.index)
		}
		metrics.StaleCompletionsTotal.Inc()
		f.logger.Debug("stale load completion discarded",
			slog.String("feedId", f.id),
			slog.Int("index", int(job.index)),
			slog.String("origin", job.origin),
		)
		return
	}

	s.loading = false
	if err != nil {
		metrics.PlayerLoadsTotal.WithLabelValues(job.origin, "error").Inc()
		s.resident = false
		s.errMsg = loadErrorMessage(err)
		f.ledger.MarkError(job.index)
		if cb := f.cb.OnLoadError; cb != nil {
			i, msg := job.index, s.errMsg
			fx.add(func() { cb(i, msg) })
		}
		f.logger.Debug("player load failed",
			slog.String("feedId", f.id),
			slog.Int("index", int(job.index)),
			slog.String("origin", job.origin),
			slog.String("error", err.Error()),
		)
	} else {
		metrics.PlayerLoadsTotal.WithLabelValues(job.origin, "ok").Inc()
		f.ledger.MarkLoaded(job.index, job.url)
		f.ledger.EvictIfOverCapacity()
		if f.hasCurrent && f.current == job.index {
			f.playCurrentLocked(&fx)
		}
	}
	f.mu.Unlock()
	fx.run()
}

func loadErrorMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrMediaUnavailable):
		return "This video is unavailable."
	case errors.Is(err, context.DeadlineExceeded):
		return "The video took too long to load."
	default:
		return "The video could not be loaded."
	}
}

// runPrefetch drains the queue one job at a time until the feed closes.
func (f *Feed[I]) runPrefetch() {
	defer f.wg.Done()
	for {
		select {
		case <-f.ctx.Done():
			return
		case <-f.wake:
		}
		for {
			ran, more := f.prefetchOne()
			if !more {
				break
			}
			if !ran {
				continue
			}
			select {
			case <-f.ctx.Done():
				return
			case <-time.After(f.cfg.PrefetchJobDelay):
			}
		}
	}
}

// prefetchOne pops the head job, revalidates it and runs it. ran reports
// whether a load was performed; more whether the queue may hold more work.
func (f *Feed[I]) prefetchOne() (ran, more bool) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return false, false
	}
	job, ok := f.queue.Pop()
	if !ok {
		f.mu.Unlock()
		return false, false
	}
	metrics.PrefetchQueueDepth.Dec()

	s := f.slots[job.Index]
	entry, listed := f.list.At(job.Index)
	valid := listed && entry.ID == job.PostID && entry.IsVideo() &&
		s != nil && !s.resident &&
		!(f.hasCurrent && f.current == job.Index) &&
		(!f.hasCurrent || domain.Distance(job.Index, f.current) <= f.cfg.EvictionDistance) &&
		f.ledger.State(job.Index) == domain.LoadLoading
	if !valid {
		if s == nil || !s.loading {
			if f.ledger.State(job.Index) == domain.LoadLoading {
				f.ledger.Forget(job.Index)
			}
		}
		metrics.PrefetchSkippedTotal.Inc()
		f.mu.Unlock()
		return false, true
	}

	lj := f.beginLoadLocked(job.Index, s, entry, originPrefetch)
	lj.unloadFirst = true
	f.mu.Unlock()

	f.load(lj)
	return true, true
}

// Retry reloads index i outside the prefetch queue: unload, wait RetryDelay,
// load again with a fresh status.
func (f *Feed[I]) Retry(i I) bool {
	f.mu.Lock()
	s := f.slots[i]
	entry, ok := f.list.At(i)
	if f.closed || s == nil || !ok || !entry.IsVideo() {
		f.mu.Unlock()
		return false
	}
	f.dequeueLocked(i)
	job := f.beginLoadLocked(i, s, entry, originRetry)
	job.unloadFirst = true
	job.delay = f.cfg.RetryDelay
	f.spawn(func() { f.load(job) })
	f.mu.Unlock()
	return true
}

// OnPlaybackStatus takes a status update from the player at i. Positions of
// the playing video are saved at most once per PositionSaveInterval; a video
// that played to the end forgets its position.
func (f *Feed[I]) OnPlaybackStatus(i I, status domain.PlayerStatus) {
	var fx effects
	f.mu.Lock()
	s := f.slots[i]
	if f.closed || s == nil || !s.resident || s.loading || s.key == "" {
		f.mu.Unlock()
		return
	}
	key := s.key
	if status.DidJustFinish {
		s.last = domain.PlayerStatus{}
		fx.add(func() { f.arbiter.ClearPosition(key) })
	} else {
		s.last = status
		if s.playing && status.PositionMillis > 0 {
			if s.saver == nil {
				s.saver = &rate.Sometimes{Interval: f.cfg.PositionSaveInterval}
			}
			saver := s.saver
			fx.add(func() {
				saver.Do(func() {
					f.arbiter.SavePosition(key, status.PositionMillis, status.DurationMillis)
				})
			})
		}
	}
	f.mu.Unlock()
	fx.run()
}

func (f *Feed[I]) setStatus(p ports.Player, i I, status domain.PlaybackStatus) {
	if err := p.SetStatus(f.ctx, status); err != nil {
		f.logger.Debug("player set status failed",
			slog.String("feedId", f.id),
			slog.Int("index", int(i)),
			slog.String("error", err.Error()),
		)
	}
}

// silence mutes before pausing so a losing instance never stays audible.
func (f *Feed[I]) silence(p ports.Player, i I, loud bool) {
	if loud {
		f.setStatus(p, i, domain.Playing(true))
	}
	f.setStatus(p, i, domain.Paused())
}

func (f *Feed[I]) unload(p ports.Player, i I) {
	ctx, cancel := context.WithTimeout(context.Background(), f.cfg.UnloadTimeout)
	defer cancel()
	if err := p.Unload(ctx); err != nil {
		f.logger.Debug("player unload failed",
			slog.String("feedId", f.id),
			slog.Int("index", int(i)),
			slog.String("error", err.Error()),
		)
	}
}
