package feed

import (
	"log/slog"
	"math"
	"time"

	"feedstream/internal/domain"
	"feedstream/internal/metrics"
	"feedstream/internal/services/prefetch"
)

// OnViewableItemsChanged takes the visibility report of the virtualized list.
// The first item at least ViewablePercent visible becomes current. Reports
// are ignored while a jump is pending and during the grace window after it.
func (f *Feed[I]) OnViewableItemsChanged(tokens []ViewToken[I]) {
	var fx effects
	f.mu.Lock()
	if f.closed || f.trans.pending || f.now().Before(f.graceUntil) {
		f.mu.Unlock()
		return
	}
	next, ok := f.firstViewableLocked(tokens)
	if !ok || (f.hasCurrent && next == f.current) {
		f.mu.Unlock()
		return
	}
	f.setCurrentLocked(next, &fx)
	f.reportLocked(next, &fx)
	f.mu.Unlock()
	fx.run()
}

func (f *Feed[I]) firstViewableLocked(tokens []ViewToken[I]) (I, bool) {
	for _, t := range tokens {
		if t.PercentVisible < f.cfg.ViewablePercent {
			continue
		}
		if _, ok := f.list.At(t.Index); ok {
			return t.Index, true
		}
	}
	var zero I
	return zero, false
}

// OnScroll takes the list's scroll offset. Velocity above FastScrollVelocity
// suppresses prefetch enqueueing until the scroll has been quiet for
// FastScrollDebounce. It never changes what plays.
func (f *Feed[I]) OnScroll(offset float64) {
	now := f.now()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	if !f.lastScrollAt.IsZero() {
		elapsed := float64(now.Sub(f.lastScrollAt).Microseconds()) / 1000
		if elapsed > 0 && math.Abs(offset-f.lastOffset)/elapsed >= f.cfg.FastScrollVelocity {
			if !f.fastScroll {
				f.logger.Debug("fast scroll started", slog.String("feedId", f.id))
			}
			f.fastScroll = true
		}
	}
	f.lastOffset = offset
	f.lastScrollAt = now
	f.setPhaseLocked(domain.PhaseScrolling)

	f.scrollSeq++
	seq := f.scrollSeq
	if f.scrollTimer != nil {
		f.scrollTimer.Stop()
	}
	f.scrollTimer = time.AfterFunc(f.cfg.FastScrollDebounce, func() { f.scrollIdle(seq) })
}

// OnScrollEnd marks the end of a drag; the phase settles until the
// debounce expires.
func (f *Feed[I]) OnScrollEnd() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.setPhaseLocked(domain.PhaseSettling)
}

func (f *Feed[I]) scrollIdle(seq uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || seq != f.scrollSeq {
		return
	}
	wasFast := f.fastScroll
	f.fastScroll = false
	f.lastScrollAt = time.Time{}
	f.setPhaseLocked(domain.PhaseIdle)
	if wasFast {
		f.planPrefetchLocked()
	}
}

func (f *Feed[I]) setPhaseLocked(to domain.ScrollPhase) {
	from := f.phase
	if from == to || !domain.CanTransition(from, to) {
		return
	}
	f.phase = to
	metrics.ScrollPhaseTransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
}

// setCurrentLocked moves the current index to n: far players are unloaded,
// near ones paused and muted, and n is played or loaded.
func (f *Feed[I]) setCurrentLocked(n I, fx *effects) {
	if f.hasCurrent && f.current == n {
		f.loadCurrentLocked(fx)
		return
	}
	if f.hasCurrent {
		f.leaveLocked(f.current, fx)
	}

	for i, s := range f.slots {
		if i == n || !s.resident {
			continue
		}
		if domain.Distance(i, n) > f.cfg.EvictionDistance {
			f.evictLocked(i, s)
			continue
		}
		if s.playing || !s.muted {
			f.pauseSlotLocked(i, s, fx)
		}
	}

	entry, _ := f.list.At(n)
	f.current = n
	f.currentID = entry.ID
	f.hasCurrent = true
	metrics.CurrentChangesTotal.Inc()
	f.dropFarJobsLocked()

	f.loadCurrentLocked(fx)
	f.planPrefetchLocked()
}

// dropFarJobsLocked removes queued prefetches that ended up beyond the
// eviction distance of the current index.
func (f *Feed[I]) dropFarJobsLocked() {
	for _, i := range f.queue.Indices() {
		if domain.Distance(i, f.current) > f.cfg.EvictionDistance {
			f.dequeueLocked(i)
		}
	}
}

// leaveLocked saves the position of the index being scrolled away from,
// bypassing the save throttle.
func (f *Feed[I]) leaveLocked(i I, fx *effects) {
	s := f.slots[i]
	if s == nil || !s.resident || s.loading || s.key == "" {
		return
	}
	key, last, p := s.key, s.last, s.player
	s.saver = nil
	if last.PositionMillis > 0 {
		fx.add(func() { f.arbiter.SavePosition(key, last.PositionMillis, last.DurationMillis) })
		return
	}
	if !s.playing {
		return
	}
	f.spawn(func() {
		status, err := p.GetStatus(f.ctx)
		if err != nil || !status.IsLoaded || status.PositionMillis <= 0 {
			return
		}
		f.arbiter.SavePosition(key, status.PositionMillis, status.DurationMillis)
	})
}

// evictLocked physically releases a far-away buffer.
func (f *Feed[I]) evictLocked(i I, s *slot) {
	metrics.PhysicalEvictionsTotal.Inc()
	f.logger.Debug("player evicted",
		slog.String("feedId", f.id),
		slog.Int("index", int(i)),
	)
	f.releaseLocked(i, s)
	f.dequeueLocked(i)
}

func (f *Feed[I]) pauseSlotLocked(i I, s *slot, fx *effects) {
	loud := s.playing && !s.muted
	s.playing = false
	s.muted = true
	p := s.player
	fx.add(func() { f.silence(p, i, loud) })
}

// silenceLocked pauses and mutes every player of the instance.
func (f *Feed[I]) silenceLocked(fx *effects) {
	for i, s := range f.slots {
		if s.playing || !s.muted {
			f.pauseSlotLocked(i, s, fx)
		}
	}
}

// loadCurrentLocked plays the current index if its URL is still in the loaded
// cache, lets an in-flight load of it finish into playback, or starts a
// foreground load.
func (f *Feed[I]) loadCurrentLocked(fx *effects) {
	if !f.hasCurrent {
		return
	}
	i := f.current
	entry, ok := f.list.At(i)
	if !ok || !entry.IsVideo() {
		return
	}
	s := f.slots[i]
	if s == nil {
		return
	}
	f.dequeueLocked(i)

	switch {
	case s.resident && s.loading:
	case s.resident && s.postID == entry.ID && f.ledger.IsURLLoaded(s.url):
		f.playCurrentLocked(fx)
	default:
		job := f.beginLoadLocked(i, s, entry, originForeground)
		f.spawn(func() { f.load(job) })
	}
}

// playCurrentLocked applies the play state of the current index: playing and
// unmuted while this instance holds the claim, paused and muted otherwise.
func (f *Feed[I]) playCurrentLocked(fx *effects) {
	if !f.hasCurrent {
		return
	}
	i := f.current
	s := f.slots[i]
	if s == nil || !s.resident || s.loading {
		return
	}
	if f.focused && f.arbiter.HasClaim(f.id) {
		if s.playing && !s.muted {
			return
		}
		s.playing, s.muted = true, false
		p := s.player
		status := domain.Playing(false)
		fx.add(func() { f.setStatus(p, i, status) })
		return
	}
	if s.playing || !s.muted {
		f.pauseSlotLocked(i, s, fx)
	}
}

// reportLocked notifies the current post once per change of post id.
// Virtual entries report the carousel post they came from.
func (f *Feed[I]) reportLocked(i I, fx *effects) {
	entry, ok := f.list.At(i)
	if !ok {
		return
	}
	id := entry.ID
	if entry.IsVirtual() {
		id = entry.OriginalPostID
	}
	if id == f.lastReported {
		return
	}
	f.lastReported = id
	if cb := f.cb.OnCurrentPostChange; cb != nil {
		fx.add(func() { cb(id) })
	}
}

// planPrefetchLocked queues the forward range of the current index.
func (f *Feed[I]) planPrefetchLocked() {
	if f.closed || !f.hasCurrent || f.fastScroll {
		return
	}
	ahead := min(prefetch.Ahead(f.network, f.cfg.Prefetch), f.cfg.EvictionDistance)
	start, end, ok := prefetch.Range(f.current, f.list.Len(), ahead)
	if !ok {
		return
	}
	added := 0
	for i := start; i <= end; i++ {
		if f.enqueueLocked(i) {
			added++
		}
	}
	if added > 0 {
		select {
		case f.wake <- struct{}{}:
		default:
		}
	}
}

// enqueueLocked queues i when it is a mounted video that is neither current
// nor already known to the ledger, and marks it loading.
func (f *Feed[I]) enqueueLocked(i I) bool {
	if f.hasCurrent && i == f.current {
		return false
	}
	entry, ok := f.list.At(i)
	if !ok || !entry.IsVideo() {
		return false
	}
	s := f.slots[i]
	if s == nil || s.resident {
		return false
	}
	if f.ledger.State(i) != domain.LoadNone || f.queue.Contains(i) {
		return false
	}
	f.queue.Enqueue(i, entry.ID)
	f.ledger.MarkLoading(i)
	metrics.PrefetchQueueDepth.Inc()
	return true
}
