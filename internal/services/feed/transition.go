package feed

import (
	"errors"
	"log/slog"
	"time"

	"feedstream/internal/domain"
	"feedstream/internal/domain/ports"
	"feedstream/internal/metrics"
)

// JumpTo scrolls programmatically to postID (deep link, feed switch). Unknown
// ids are ignored. A jump away from the current index shows the overlay,
// arms the safety timer and scrolls; the jump settles on the first of scroll
// success, fallback completion or timeout. A newer jump supersedes an older
// one.
func (f *Feed[I]) JumpTo(postID domain.PostID) bool {
	var fx effects
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return false
	}
	idx, ok := f.list.IndexOf(postID)
	if !ok {
		f.mu.Unlock()
		f.logger.Debug("jump target not found",
			slog.String("feedId", f.id),
			slog.String("postId", string(postID)),
		)
		return false
	}

	if f.trans.pending {
		metrics.TransitionsTotal.WithLabelValues("superseded").Inc()
	}
	f.stopTransitionLocked()
	f.trans.gen++
	gen := f.trans.gen
	f.trans.pending = true
	f.trans.target = idx
	f.trans.postID = postID
	f.trans.fallingBack = false

	if f.hasCurrent && f.current == idx {
		f.settleLocked(gen, "in_place", &fx)
		f.mu.Unlock()
		fx.run()
		return true
	}

	f.setOverlayLocked(true, &fx)
	f.trans.safety = time.AfterFunc(f.cfg.TransitionTimeout, func() { f.settle(gen, "timeout") })
	f.spawn(func() { f.scrollToTarget(gen, idx) })
	f.mu.Unlock()
	fx.run()
	return true
}

func (f *Feed[I]) scrollToTarget(gen uint64, idx I) {
	if f.scroller == nil {
		f.settle(gen, "direct")
		return
	}
	err := f.scroller.ScrollToIndex(f.ctx, int(idx))
	var failure *ports.ScrollFailure
	switch {
	case err == nil:
		f.settle(gen, "direct")
	case errors.As(err, &failure):
		f.OnScrollToIndexFailed(*failure)
	default:
		f.logger.Debug("scroll to index failed",
			slog.String("feedId", f.id),
			slog.Int("index", int(idx)),
			slog.String("error", err.Error()),
		)
		f.settle(gen, "error")
	}
}

// OnScrollToIndexFailed takes the list's report that it could not jump to an
// unrendered index. The feed scrolls to the estimated offset, waits
// FallbackSettleDelay, tries the index once more and settles.
func (f *Feed[I]) OnScrollToIndexFailed(failure ports.ScrollFailure) {
	f.mu.Lock()
	if f.closed || !f.trans.pending || f.trans.fallingBack || int(f.trans.target) != failure.Index {
		f.mu.Unlock()
		return
	}
	f.trans.fallingBack = true
	gen := f.trans.gen
	offset := float64(failure.Index) * failure.AverageItemLength
	f.spawn(func() { f.fallback(gen, failure.Index, offset) })
	f.mu.Unlock()
}

func (f *Feed[I]) fallback(gen uint64, index int, offset float64) {
	if f.scroller != nil {
		if err := f.scroller.ScrollToOffset(f.ctx, offset); err != nil {
			f.logger.Debug("fallback scroll failed",
				slog.String("feedId", f.id),
				slog.Float64("offset", offset),
				slog.String("error", err.Error()),
			)
		}
	}
	select {
	case <-f.ctx.Done():
		return
	case <-time.After(f.cfg.FallbackSettleDelay):
	}
	if !f.transitionLive(gen) {
		return
	}
	if f.scroller != nil {
		_ = f.scroller.ScrollToIndex(f.ctx, index)
	}
	f.settle(gen, "fallback")
}

func (f *Feed[I]) transitionLive(gen uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.closed && f.trans.pending && f.trans.gen == gen
}

func (f *Feed[I]) settle(gen uint64, path string) {
	var fx effects
	f.mu.Lock()
	f.settleLocked(gen, path, &fx)
	f.mu.Unlock()
	fx.run()
}

// settleLocked finishes jump gen: the overlay goes away, the target becomes
// current and plays, it is reported once, and viewport reports are ignored
// for SettleGrace.
func (f *Feed[I]) settleLocked(gen uint64, path string, fx *effects) {
	if f.closed || !f.trans.pending || gen != f.trans.gen {
		return
	}
	f.stopTransitionLocked()
	f.trans.pending = false
	f.trans.fallingBack = false
	f.setOverlayLocked(false, fx)
	f.graceUntil = f.now().Add(f.cfg.SettleGrace)
	metrics.TransitionsTotal.WithLabelValues(path).Inc()

	idx, ok := f.list.IndexOf(f.trans.postID)
	if !ok {
		return
	}
	f.setCurrentLocked(idx, fx)
	f.reportLocked(idx, fx)
	f.logger.Debug("jump settled",
		slog.String("feedId", f.id),
		slog.String("postId", string(f.trans.postID)),
		slog.Int("index", int(idx)),
		slog.String("path", path),
	)
}

func (f *Feed[I]) cancelTransitionLocked(fx *effects) {
	f.stopTransitionLocked()
	f.trans.gen++
	f.trans.pending = false
	f.trans.fallingBack = false
	f.setOverlayLocked(false, fx)
}

func (f *Feed[I]) stopTransitionLocked() {
	if f.trans.safety != nil {
		f.trans.safety.Stop()
		f.trans.safety = nil
	}
}

func (f *Feed[I]) setOverlayLocked(visible bool, fx *effects) {
	if f.overlay == visible {
		return
	}
	f.overlay = visible
	if cb := f.cb.OnOverlayChange; cb != nil && fx != nil {
		fx.add(func() { cb(visible) })
	}
}

// Overlay reports whether the transition overlay is shown.
func (f *Feed[I]) Overlay() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.overlay
}
