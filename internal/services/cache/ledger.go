package cache

import (
	"github.com/hashicorp/golang-lru/v2/simplelru"

	"feedstream/internal/domain"
	"feedstream/internal/metrics"
)

const DefaultCapacity = 20

// Ledger is the bookkeeping of which media URLs hold a live player buffer and
// the load state of every index. It never touches a player: evicting a URL
// only forgets it, so the next load for that index does not short-circuit.
//
// URLs are evicted in insertion order; membership checks do not promote.
// A Ledger is not safe for concurrent use; the owning feed serializes access.
type Ledger[I domain.Index] struct {
	capacity   int
	urls       *simplelru.LRU[string, struct{}]
	states     map[I]domain.LoadState
	indexURL   map[I]string
	urlIndices map[string]map[I]struct{}
	evicted    int
	dropping   bool
}

func NewLedger[I domain.Index](capacity int) *Ledger[I] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	l := &Ledger[I]{
		capacity:   capacity,
		states:     make(map[I]domain.LoadState),
		indexURL:   make(map[I]string),
		urlIndices: make(map[string]map[I]struct{}),
	}
	// NewLRU only fails on a non-positive size.
	l.urls, _ = simplelru.NewLRU[string, struct{}](capacity, l.onEvict)
	return l
}

func (l *Ledger[I]) onEvict(url string, _ struct{}) {
	for i := range l.urlIndices[url] {
		delete(l.states, i)
		delete(l.indexURL, i)
	}
	delete(l.urlIndices, url)
	if l.dropping {
		return
	}
	l.evicted++
	metrics.LedgerEvictionsTotal.Inc()
}

func (l *Ledger[I]) MarkLoading(i I) {
	l.states[i] = domain.LoadLoading
}

// MarkLoaded records that the buffer at i holds url. Re-marking a URL that is
// already in the set keeps its original insertion position.
func (l *Ledger[I]) MarkLoaded(i I, url string) {
	if url != "" && l.indexURL[i] == url && l.urls.Contains(url) {
		l.states[i] = domain.LoadLoaded
		return
	}
	l.unbind(i)
	l.states[i] = domain.LoadLoaded
	if url == "" {
		return
	}
	l.indexURL[i] = url
	set, ok := l.urlIndices[url]
	if !ok {
		set = make(map[I]struct{})
		l.urlIndices[url] = set
	}
	set[i] = struct{}{}
	if !l.urls.Contains(url) {
		l.urls.Add(url, struct{}{})
	}
}

func (l *Ledger[I]) MarkError(i I) {
	l.unbind(i)
	l.states[i] = domain.LoadError
}

func (l *Ledger[I]) State(i I) domain.LoadState {
	return l.states[i]
}

// States returns a copy of the per-index load states.
func (l *Ledger[I]) States() map[I]domain.LoadState {
	out := make(map[I]domain.LoadState, len(l.states))
	for i, s := range l.states {
		out[i] = s
	}
	return out
}

// IsLoaded reports whether i is loaded and its URL is still in the set.
func (l *Ledger[I]) IsLoaded(i I) bool {
	if l.states[i] != domain.LoadLoaded {
		return false
	}
	url, ok := l.indexURL[i]
	if !ok {
		return true
	}
	return l.urls.Contains(url)
}

func (l *Ledger[I]) IsURLLoaded(url string) bool {
	return url != "" && l.urls.Contains(url)
}

// Busy reports whether i is loading or loaded.
func (l *Ledger[I]) Busy(i I) bool {
	s := l.states[i]
	return s == domain.LoadLoading || s == domain.LoadLoaded
}

// Forget drops everything recorded for i, including its URL when no other
// index shares it. Used when the buffer at i is physically released.
func (l *Ledger[I]) Forget(i I) {
	l.unbind(i)
	delete(l.states, i)
}

// SetCapacity changes the bound and evicts any overflow immediately.
func (l *Ledger[I]) SetCapacity(n int) int {
	if n <= 0 {
		n = DefaultCapacity
	}
	l.capacity = n
	return l.urls.Resize(n)
}

// EvictIfOverCapacity removes the oldest URLs until the set fits the
// capacity and returns how many were removed. MarkLoaded already keeps the
// set bounded, so this only matters after the capacity shrank.
func (l *Ledger[I]) EvictIfOverCapacity() int {
	n := 0
	for l.urls.Len() > l.capacity {
		if _, _, ok := l.urls.RemoveOldest(); !ok {
			break
		}
		n++
	}
	return n
}

func (l *Ledger[I]) Capacity() int {
	return l.capacity
}

// Len is the number of URLs in the set.
func (l *Ledger[I]) Len() int {
	return l.urls.Len()
}

// URLs lists the set oldest first.
func (l *Ledger[I]) URLs() []string {
	return l.urls.Keys()
}

// Evicted is the number of URLs evicted over the ledger's lifetime.
func (l *Ledger[I]) Evicted() int {
	return l.evicted
}

func (l *Ledger[I]) Reset() {
	l.dropping = true
	l.urls.Purge()
	l.dropping = false
	clear(l.states)
	clear(l.indexURL)
	clear(l.urlIndices)
}

func (l *Ledger[I]) unbind(i I) {
	url, ok := l.indexURL[i]
	if !ok {
		return
	}
	delete(l.indexURL, i)
	set := l.urlIndices[url]
	delete(set, i)
	if len(set) == 0 {
		delete(l.urlIndices, url)
		l.dropping = true
		l.urls.Remove(url)
		l.dropping = false
	}
}
