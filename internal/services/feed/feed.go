package feed

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"feedstream/internal/domain"
	"feedstream/internal/domain/ports"
	"feedstream/internal/metrics"
	"feedstream/internal/services/cache"
	"feedstream/internal/services/media"
	"feedstream/internal/services/prefetch"
	"feedstream/internal/services/session/player"
)

// Arbiter is the cross-instance playback arbiter a feed reports to.
// *player.Coordinator implements it.
type Arbiter interface {
	RequestPlayback(instanceID string, priority domain.PlaybackPriority) bool
	ReleasePlayback(instanceID string)
	HasClaim(instanceID string) bool
	RegisterPauseCallback(instanceID string, fn func()) func()
	RegisterResumeCallback(instanceID string, fn func()) func()
	SavePosition(key string, positionMillis, durationMillis int64)
	ClearPosition(key string)
	ResumePosition(key string, durationMillis int64) int64
}

var _ Arbiter = (*player.Coordinator)(nil)

type Deps struct {
	Arbiter  Arbiter
	Scroller ports.Scroller
	Network  ports.Subscribable[domain.NetworkStatus]
	Focus    ports.Subscribable[bool]
	Logger   *slog.Logger
}

// Callbacks are invoked outside the feed lock. Any of them may be nil.
type Callbacks[I domain.Index] struct {
	OnCurrentPostChange func(domain.PostID)
	OnFullscreenChange  func(bool)
	OnOverlayChange     func(bool)
	OnLoadError         func(I, string)
}

// ViewToken is one visible item as reported by the virtualized list.
// PercentVisible is in [0,100].
type ViewToken[I domain.Index] struct {
	Index          I       `json:"index"`
	PercentVisible float64 `json:"percentVisible"`
}

const (
	originForeground = "foreground"
	originPrefetch   = "prefetch"
	originRetry      = "retry"
)

// slot is the player handle mounted at one index and what the feed believes
// it holds.
type slot struct {
	player ports.Player
	gen    uint64

	postID domain.PostID
	url    string
	key    string

	resident bool // holds or is acquiring a buffer
	loading  bool
	origin   string
	playing  bool
	muted    bool
	errMsg   string

	last  domain.PlayerStatus
	saver *rate.Sometimes
}

type transition[I domain.Index] struct {
	gen         uint64
	pending     bool
	target      I
	postID      domain.PostID
	fallingBack bool
	safety      *time.Timer
}

// Feed is one feed instance: a scrollable projection of the post list whose
// players it loads, plays, prefetches and evicts. I selects the index space
// (render feed or video-only fullscreen feed).
//
// All state is guarded by mu. Decisions are made under the lock and the
// resulting player calls and callbacks run after it is released.
type Feed[I domain.Index] struct {
	id       string
	cfg      Config
	arbiter  Arbiter
	scroller ports.Scroller
	cb       Callbacks[I]
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	wake   chan struct{}

	mu     sync.Mutex
	closed bool
	unsubs []func()

	posts  []domain.Post
	filter domain.FeedType
	proj   *media.Projection
	list   media.List[I]

	ledger *cache.Ledger[I]
	queue  *prefetch.Queue[I]
	slots  map[I]*slot

	current      I
	currentID    domain.PostID
	hasCurrent   bool
	lastReported domain.PostID

	network    domain.NetworkStatus
	focused    bool
	fullscreen bool

	// Scroll tracking
	phase        domain.ScrollPhase
	fastScroll   bool
	lastOffset   float64
	lastScrollAt time.Time
	scrollSeq    uint64
	scrollTimer  *time.Timer

	trans      transition[I]
	overlay    bool
	graceUntil time.Time
}

// New builds a feed instance over posts and starts its prefetch worker. The
// instance follows the network and focus streams in deps until Close.
func New[I domain.Index](id string, posts []domain.Post, filter domain.FeedType, cfg Config, deps Deps, cb Callbacks[I]) *Feed[I] {
	cfg = cfg.withDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	arbiter := deps.Arbiter
	if arbiter == nil {
		arbiter = player.NewCoordinator(nil, logger)
	}
	if filter == "" {
		filter = domain.FeedAll
	}

	ctx, cancel := context.WithCancel(context.Background())
	f := &Feed[I]{
		id:       id,
		cfg:      cfg,
		arbiter:  arbiter,
		scroller: deps.Scroller,
		cb:       cb,
		logger:   logger,
		tracer:   otel.Tracer("feedstream/feed"),
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		wake:     make(chan struct{}, 1),
		filter:   filter,
		ledger:   cache.NewLedger[I](cfg.CacheCapacity),
		queue:    prefetch.NewQueue[I](),
		slots:    make(map[I]*slot),
		network:  domain.NetworkStatus{IsConnected: true, Type: domain.NetworkUnknown},
		phase:    domain.PhaseIdle,
	}
	f.posts = append([]domain.Post(nil), posts...)
	f.rebuildLocked(nil)

	f.wg.Add(1)
	go f.runPrefetch()

	unsubs := []func(){
		arbiter.RegisterPauseCallback(id, f.pauseAll),
		arbiter.RegisterResumeCallback(id, f.resume),
	}
	if deps.Network != nil {
		unsubs = append(unsubs, deps.Network.Subscribe(f.setNetwork))
	}
	if deps.Focus != nil {
		unsubs = append(unsubs, deps.Focus.Subscribe(f.SetFocused))
	}
	f.mu.Lock()
	f.unsubs = unsubs
	f.mu.Unlock()

	metrics.ActiveFeeds.Inc()
	logger.Debug("feed created",
		slog.String("feedId", id),
		slog.String("feedType", string(filter)),
		slog.Int("entries", f.list.Len()),
	)
	return f
}

func (f *Feed[I]) ID() string {
	return f.id
}

// SetPosts replaces the raw post list (page appended or refreshed). The
// projection is rebuilt; players whose index now shows another post are
// released.
func (f *Feed[I]) SetPosts(posts []domain.Post) {
	var fx effects
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.posts = append([]domain.Post(nil), posts...)
	f.rebuildLocked(&fx)
	f.planPrefetchLocked()
	f.mu.Unlock()
	fx.run()
}

// SwitchFeed changes the feed type. Ledger, queue and buffers are cleared and
// the feed jumps back to the post that was current, when it is still listed.
func (f *Feed[I]) SwitchFeed(posts []domain.Post, filter domain.FeedType) bool {
	var fx effects
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return false
	}
	prev := f.currentID
	if filter == "" {
		filter = domain.FeedAll
	}
	f.resetLocked(&fx)
	f.filter = filter
	f.posts = append([]domain.Post(nil), posts...)
	f.rebuildLocked(&fx)
	f.mu.Unlock()
	fx.run()

	if prev == "" {
		return false
	}
	return f.JumpTo(prev)
}

func (f *Feed[I]) Posts() []domain.Post {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Post(nil), f.posts...)
}

func (f *Feed[I]) FeedType() domain.FeedType {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.filter
}

func (f *Feed[I]) Entry(i I) (domain.Entry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.list.At(i)
}

// Entries is the projection the feed indexes into, in index order.
func (f *Feed[I]) Entries() []domain.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.list.Entries()
}

func (f *Feed[I]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.list.Len()
}

func (f *Feed[I]) rebuildLocked(fx *effects) {
	f.proj = media.Build(f.posts, f.filter)
	f.list = media.Select[I](f.proj)

	for i, s := range f.slots {
		if s.postID == "" {
			continue
		}
		if entry, ok := f.list.At(i); !ok || entry.ID != s.postID {
			f.releaseLocked(i, s)
		}
	}
	for _, i := range f.queue.Indices() {
		if _, ok := f.list.At(i); !ok {
			f.dequeueLocked(i)
		}
	}

	if !f.hasCurrent {
		return
	}
	if entry, ok := f.list.At(f.current); ok && entry.ID == f.currentID {
		return
	}
	if idx, ok := f.list.IndexOf(f.currentID); ok {
		f.current = idx
		if fx != nil {
			f.loadCurrentLocked(fx)
		}
		return
	}
	f.hasCurrent = false
	f.currentID = ""
}

// Attach mounts a player handle at index i. A mounted current index is loaded
// right away; other indices become prefetch candidates.
func (f *Feed[I]) Attach(i I, p ports.Player) {
	if p == nil {
		return
	}
	var fx effects
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	if s := f.slots[i]; s != nil {
		if s.player == p {
			f.mu.Unlock()
			return
		}
		f.releaseLocked(i, s)
	}
	f.slots[i] = &slot{player: p, muted: true}
	if f.hasCurrent && f.current == i {
		f.loadCurrentLocked(&fx)
	} else {
		f.planPrefetchLocked()
	}
	f.mu.Unlock()
	fx.run()
}

// Detach unmounts the player at i and releases its buffer.
func (f *Feed[I]) Detach(i I) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.slots[i]
	if s == nil || f.closed {
		return
	}
	f.releaseLocked(i, s)
	delete(f.slots, i)
	f.dequeueLocked(i)
}

// releaseLocked drops the buffer held at i and its ledger entries. In-flight
// loads for i become stale.
func (f *Feed[I]) releaseLocked(i I, s *slot) {
	if s.resident {
		p := s.player
		f.spawn(func() { f.unload(p, i) })
	}
	s.gen++
	s.resident = false
	s.loading = false
	s.playing = false
	s.muted = true
	s.postID = ""
	s.saver = nil
	s.last = domain.PlayerStatus{}
	f.ledger.Forget(i)
}

func (f *Feed[I]) dequeueLocked(i I) {
	if !f.queue.Remove(i) {
		return
	}
	metrics.PrefetchQueueDepth.Dec()
	if s := f.slots[i]; s == nil || !s.loading {
		f.ledger.Forget(i)
	}
}

func (f *Feed[I]) clearQueueLocked() {
	for _, job := range f.queue.Clear() {
		metrics.PrefetchQueueDepth.Dec()
		if s := f.slots[job.Index]; s == nil || !s.loading {
			f.ledger.Forget(job.Index)
		}
	}
}

// SetFocused is called when the screen showing this feed gains or loses
// focus. Gaining focus requests the playback claim.
func (f *Feed[I]) SetFocused(focused bool) {
	if focused {
		granted := f.arbiter.RequestPlayback(f.id, f.cfg.Priority)
		var fx effects
		f.mu.Lock()
		if f.closed {
			f.mu.Unlock()
			return
		}
		f.focused = true
		if granted {
			f.loadCurrentLocked(&fx)
		}
		f.mu.Unlock()
		fx.run()
		return
	}

	var fx effects
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.focused = false
	f.silenceLocked(&fx)
	f.mu.Unlock()
	fx.run()
	f.arbiter.ReleasePlayback(f.id)
}

// pauseAll is registered with the arbiter. It returns only after every
// player has been muted and paused.
func (f *Feed[I]) pauseAll() {
	var fx effects
	f.mu.Lock()
	f.silenceLocked(&fx)
	f.mu.Unlock()
	fx.run()
}

func (f *Feed[I]) resume() {
	var fx effects
	f.mu.Lock()
	if !f.closed && f.focused {
		f.loadCurrentLocked(&fx)
	}
	f.mu.Unlock()
	fx.run()
}

func (f *Feed[I]) setNetwork(status domain.NetworkStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	prev := f.network
	f.network = status
	if !status.IsConnected {
		f.clearQueueLocked()
		return
	}
	if !prev.IsConnected || prev.Type != status.Type {
		f.planPrefetchLocked()
	}
}

// EnterFullscreen resolves the video-only entry the fullscreen feed should
// open on for postID. Carousels open on their first embedded video.
func (f *Feed[I]) EnterFullscreen(postID domain.PostID) (domain.PostID, bool) {
	f.mu.Lock()
	entry, ok := f.entryByIDLocked(postID)
	if !ok || f.closed {
		f.mu.Unlock()
		return "", false
	}
	target := entry.ID
	if !entry.IsVirtual() && entry.ContentType == domain.ContentMixed {
		target = media.VirtualID(entry.ID, 0)
	}
	if _, ok := f.proj.Videos().IndexOf(target); !ok {
		f.mu.Unlock()
		return "", false
	}
	f.fullscreen = true
	cb := f.cb.OnFullscreenChange
	f.mu.Unlock()

	if cb != nil {
		cb(true)
	}
	return target, true
}

// ExitFullscreen invalidates the ledger and queue and, when focused, takes
// the playback claim back.
func (f *Feed[I]) ExitFullscreen() {
	var fx effects
	f.mu.Lock()
	if f.closed || !f.fullscreen {
		f.mu.Unlock()
		return
	}
	f.fullscreen = false
	f.invalidateLocked(&fx)
	focused := f.focused
	cb := f.cb.OnFullscreenChange
	f.mu.Unlock()
	fx.run()

	if cb != nil {
		cb(false)
	}
	if focused {
		f.SetFocused(true)
	}
}

func (f *Feed[I]) entryByIDLocked(id domain.PostID) (domain.Entry, bool) {
	idx, ok := f.list.IndexOf(id)
	if !ok {
		return domain.Entry{}, false
	}
	return f.list.At(idx)
}

// Invalidate clears the ledger and the prefetch queue. Only the current
// buffer survives; everything else is released.
func (f *Feed[I]) Invalidate() {
	var fx effects
	f.mu.Lock()
	if !f.closed {
		f.invalidateLocked(&fx)
	}
	f.mu.Unlock()
	fx.run()
}

func (f *Feed[I]) invalidateLocked(fx *effects) {
	f.clearQueueLocked()
	f.ledger.Reset()
	for i, s := range f.slots {
		if f.hasCurrent && i == f.current && s.resident && !s.loading {
			f.ledger.MarkLoaded(i, s.url)
			continue
		}
		if s.resident {
			f.releaseLocked(i, s)
		}
	}
	f.planPrefetchLocked()
}

// Reset releases every buffer and forgets the current position.
func (f *Feed[I]) Reset() {
	var fx effects
	f.mu.Lock()
	if !f.closed {
		f.resetLocked(&fx)
	}
	f.mu.Unlock()
	fx.run()
}

func (f *Feed[I]) resetLocked(fx *effects) {
	f.cancelTransitionLocked(fx)
	for i, s := range f.slots {
		f.releaseLocked(i, s)
	}
	f.clearQueueLocked()
	f.ledger.Reset()
	var zero I
	f.current, f.currentID, f.hasCurrent = zero, "", false
	f.lastReported = ""
	f.graceUntil = time.Time{}
	f.fastScroll = false
}

// Close stops the worker and timers, unloads every buffer and gives up the
// playback claim. It waits for in-flight player calls to return.
func (f *Feed[I]) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	if f.scrollTimer != nil {
		f.scrollTimer.Stop()
	}
	if f.trans.safety != nil {
		f.trans.safety.Stop()
	}
	var resident []ports.Player
	for i, s := range f.slots {
		if s.resident {
			resident = append(resident, s.player)
		}
		s.gen++
		s.resident, s.loading, s.playing = false, false, false
		f.ledger.Forget(i)
	}
	for range f.queue.Clear() {
		metrics.PrefetchQueueDepth.Dec()
	}
	unsubs := f.unsubs
	f.unsubs = nil
	f.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	f.arbiter.ReleasePlayback(f.id)
	f.cancel()
	for _, p := range resident {
		f.unload(p, 0)
	}
	f.wg.Wait()
	metrics.ActiveFeeds.Dec()
	f.logger.Debug("feed closed", slog.String("feedId", f.id))
}

func (f *Feed[I]) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Current returns the current index, if any.
func (f *Feed[I]) Current() (I, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current, f.hasCurrent
}

// PlayingIndices lists the indices whose player was last told to play.
func (f *Feed[I]) PlayingIndices() []I {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []I
	for i, s := range f.slots {
		if s.playing {
			out = append(out, i)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })
	return out
}

// LoadError returns the user-visible load error of index i.
func (f *Feed[I]) LoadError(i I) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.slots[i]
	if s == nil || s.errMsg == "" {
		return "", false
	}
	return s.errMsg, true
}

// Snapshot is a point-in-time view of a feed instance.
type Snapshot[I domain.Index] struct {
	ID         string                 `json:"id"`
	FeedType   domain.FeedType        `json:"feedType"`
	Len        int                    `json:"len"`
	Current    I                      `json:"current"`
	HasCurrent bool                   `json:"hasCurrent"`
	Phase      domain.ScrollPhase     `json:"phase"`
	FastScroll bool                   `json:"fastScroll"`
	Overlay    bool                   `json:"overlay"`
	Focused    bool                   `json:"focused"`
	Claimed    bool                   `json:"claimed"`
	Queued     []I                    `json:"queued"`
	States     map[I]domain.LoadState `json:"states"`
	LoadedURLs []string               `json:"loadedUrls"`
	Playing    []I                    `json:"playing"`
	Resident   []I                    `json:"resident"`
}

func (f *Feed[I]) Snapshot() Snapshot[I] {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap := Snapshot[I]{
		ID:         f.id,
		FeedType:   f.filter,
		Len:        f.list.Len(),
		Current:    f.current,
		HasCurrent: f.hasCurrent,
		Phase:      f.phase,
		FastScroll: f.fastScroll,
		Overlay:    f.overlay,
		Focused:    f.focused,
		Claimed:    f.arbiter.HasClaim(f.id),
		Queued:     f.queue.Indices(),
		States:     f.ledger.States(),
		LoadedURLs: f.ledger.URLs(),
	}
	for i, s := range f.slots {
		if s.playing {
			snap.Playing = append(snap.Playing, i)
		}
		if s.resident {
			snap.Resident = append(snap.Resident, i)
		}
	}
	sort.Slice(snap.Playing, func(a, b int) bool { return snap.Playing[a] < snap.Playing[b] })
	sort.Slice(snap.Resident, func(a, b int) bool { return snap.Resident[a] < snap.Resident[b] })
	return snap
}

type effects []func()

func (fx *effects) add(fn func()) {
	*fx = append(*fx, fn)
}

func (fx effects) run() {
	for _, fn := range fx {
		fn()
	}
}

func (f *Feed[I]) spawn(fn func()) {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		fn()
	}()
}
