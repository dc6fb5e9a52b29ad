package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"feedstream/internal/domain"
	"feedstream/internal/domain/ports"
	"feedstream/internal/observable"
	"feedstream/internal/services/session/player"
)

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func (l *eventLog) index(e string) int {
	for i, v := range l.list() {
		if v == e {
			return i
		}
	}
	return -1
}

type loadCall struct {
	uri    string
	status domain.PlaybackStatus
}

type fakePlayer struct {
	name string
	log  *eventLog

	mu      sync.Mutex
	loadErr error
	block   chan struct{}
	loaded  bool
	status  domain.PlaybackStatus
	loads   []loadCall
	unloads int
	plays   int
}

func (p *fakePlayer) Load(ctx context.Context, uri string, initial domain.PlaybackStatus) error {
	p.mu.Lock()
	p.loads = append(p.loads, loadCall{uri: uri, status: initial})
	block, err := p.block, p.loadErr
	p.mu.Unlock()
	p.log.add(p.name + " load")

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.loaded = true
	p.status = initial
	p.mu.Unlock()
	return nil
}

func (p *fakePlayer) Unload(context.Context) error {
	p.mu.Lock()
	p.loaded = false
	p.status = domain.PlaybackStatus{}
	p.unloads++
	p.mu.Unlock()
	p.log.add(p.name + " unload")
	return nil
}

func (p *fakePlayer) SetStatus(_ context.Context, status domain.PlaybackStatus) error {
	p.mu.Lock()
	p.status = status
	if status.ShouldPlay && !status.Muted {
		p.plays++
	}
	p.mu.Unlock()
	switch {
	case status.ShouldPlay && !status.Muted:
		p.log.add(p.name + " play")
	case status.ShouldPlay:
		p.log.add(p.name + " mute")
	default:
		p.log.add(p.name + " pause")
	}
	return nil
}

func (p *fakePlayer) GetStatus(context.Context) (domain.PlayerStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return domain.PlayerStatus{IsLoaded: p.loaded, IsPlaying: p.loaded && p.status.ShouldPlay}, nil
}

func (p *fakePlayer) isPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loaded && p.status.ShouldPlay && !p.status.Muted
}

func (p *fakePlayer) isLoaded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loaded
}

func (p *fakePlayer) unloadCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.unloads
}

func (p *fakePlayer) playCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.plays
}

func (p *fakePlayer) loadCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.loads)
}

func (p *fakePlayer) lastLoad() (loadCall, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.loads) == 0 {
		return loadCall{}, false
	}
	return p.loads[len(p.loads)-1], true
}

func (p *fakePlayer) setLoadErr(err error) {
	p.mu.Lock()
	p.loadErr = err
	p.mu.Unlock()
}

// fakeScroller renders only the first `rendered` items; jumps beyond fail
// like a virtualized list that has not measured them yet.
type fakeScroller struct {
	mu       sync.Mutex
	rendered int
	block    bool
	average  float64
	indices  []int
	offsets  []float64
}

func (s *fakeScroller) ScrollToIndex(ctx context.Context, index int) error {
	s.mu.Lock()
	s.indices = append(s.indices, index)
	block, rendered, avg := s.block, s.rendered, s.average
	s.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if rendered > 0 && index >= rendered {
		return &ports.ScrollFailure{Index: index, HighestMeasuredFrameIndex: rendered - 1, AverageItemLength: avg}
	}
	return nil
}

func (s *fakeScroller) ScrollToOffset(_ context.Context, offset float64) error {
	s.mu.Lock()
	s.offsets = append(s.offsets, offset)
	s.mu.Unlock()
	return nil
}

func (s *fakeScroller) offsetList() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float64(nil), s.offsets...)
}

type recorder struct {
	mu       sync.Mutex
	reported []domain.PostID
	overlay  []bool
	errors   map[int]string
	fullscr  []bool
}

func (r *recorder) reports() []domain.PostID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.PostID(nil), r.reported...)
}

func (r *recorder) overlays() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.overlay...)
}

func callbacks[I domain.Index](r *recorder) Callbacks[I] {
	return Callbacks[I]{
		OnCurrentPostChange: func(id domain.PostID) {
			r.mu.Lock()
			r.reported = append(r.reported, id)
			r.mu.Unlock()
		},
		OnOverlayChange: func(v bool) {
			r.mu.Lock()
			r.overlay = append(r.overlay, v)
			r.mu.Unlock()
		},
		OnLoadError: func(i I, msg string) {
			r.mu.Lock()
			if r.errors == nil {
				r.errors = make(map[int]string)
			}
			r.errors[int(i)] = msg
			r.mu.Unlock()
		},
		OnFullscreenChange: func(v bool) {
			r.mu.Lock()
			r.fullscr = append(r.fullscr, v)
			r.mu.Unlock()
		},
	}
}

func videoPost(n int) domain.Post {
	payload, _ := json.Marshal(map[string]string{"videoUrl": fmt.Sprintf("https://cdn.test/v%d.mp4", n)})
	return domain.Post{ID: domain.PostID(fmt.Sprintf("p%d", n)), ContentType: domain.ContentVideo, MediaPayload: payload}
}

func videoPosts(n int) []domain.Post {
	posts := make([]domain.Post, n)
	for i := range posts {
		posts[i] = videoPost(i)
	}
	return posts
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PrefetchJobDelay = time.Millisecond
	cfg.FastScrollDebounce = 40 * time.Millisecond
	cfg.SettleGrace = 30 * time.Millisecond
	cfg.FallbackSettleDelay = 10 * time.Millisecond
	cfg.RetryDelay = 5 * time.Millisecond
	cfg.PositionSaveInterval = time.Hour
	return cfg
}

type harness struct {
	feed     *Feed[domain.RenderIndex]
	coord    *player.Coordinator
	players  []*fakePlayer
	scroller *fakeScroller
	network  *observable.Subject[domain.NetworkStatus]
	focus    *observable.Subject[bool]
	rec      *recorder
	log      *eventLog
}

type harnessOptions struct {
	posts    []domain.Post
	cfg      *Config
	network  domain.NetworkStatus
	attach   int // players mounted at 0..attach-1, all when zero
	block    bool
	coord    *player.Coordinator
	log      *eventLog
	scroller *fakeScroller
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()
	if opts.posts == nil {
		opts.posts = videoPosts(20)
	}
	cfg := testConfig()
	if opts.cfg != nil {
		cfg = *opts.cfg
	}
	if opts.network == (domain.NetworkStatus{}) {
		opts.network = domain.NetworkStatus{IsConnected: true, Type: domain.NetworkWifi}
	}
	if opts.coord == nil {
		opts.coord = player.NewCoordinator(nil, nil)
	}
	if opts.log == nil {
		opts.log = &eventLog{}
	}
	if opts.scroller == nil {
		opts.scroller = &fakeScroller{}
	}

	h := &harness{
		coord:    opts.coord,
		scroller: opts.scroller,
		network:  observable.NewSubject(opts.network),
		focus:    observable.NewSubject(true),
		rec:      &recorder{},
		log:      opts.log,
	}
	h.feed = New[domain.RenderIndex]("main", opts.posts, domain.FeedAll, cfg, Deps{
		Arbiter:  h.coord,
		Scroller: h.scroller,
		Network:  h.network,
		Focus:    h.focus,
	}, callbacks[domain.RenderIndex](h.rec))
	t.Cleanup(h.feed.Close)

	attach := opts.attach
	if attach == 0 {
		attach = len(opts.posts)
	}
	for i := 0; i < attach; i++ {
		p := &fakePlayer{name: fmt.Sprintf("m%d", i), log: h.log}
		if opts.block {
			p.block = make(chan struct{})
		}
		h.players = append(h.players, p)
		h.feed.Attach(domain.RenderIndex(i), p)
	}
	return h
}

func (h *harness) view(i int) {
	h.feed.OnViewableItemsChanged([]ViewToken[domain.RenderIndex]{{Index: domain.RenderIndex(i), PercentVisible: 100}})
}

func (h *harness) states() map[domain.RenderIndex]domain.LoadState {
	return h.feed.Snapshot().States
}

func (h *harness) playingPlayers() []string {
	var out []string
	for _, p := range h.players {
		if p.isPlaying() {
			out = append(out, p.name)
		}
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
