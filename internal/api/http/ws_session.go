package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"feedstream/internal/domain"
	domainports "feedstream/internal/domain/ports"
	"feedstream/internal/observable"
	"feedstream/internal/services/feed"
	"feedstream/internal/services/session/player"
)

const (
	feedMain       = "main"
	feedFullscreen = "fullscreen"
)

var (
	errInvalidMessage = errors.New("invalid message")
	errUnknownType    = errors.New("unknown message type")
	errUnknownFeed    = errors.New("unknown feed")
	errNoFullscreen   = errors.New("fullscreen feed not open")
)

// wsInbound is one client frame. Feed selects the instance a list event
// belongs to ("main" when empty).
type wsInbound struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Feed string          `json:"feed,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

type indexPayload struct {
	Index int `json:"index"`
}

type postsEvent struct {
	FeedType   domain.FeedType `json:"feedType"`
	Posts      []domain.Post   `json:"posts"`
	Entries    []domain.Entry  `json:"entries"`
	NextCursor string          `json:"nextCursor,omitempty"`
	Append     bool            `json:"append"`
}

type currentPostEvent struct {
	Feed   string        `json:"feed"`
	PostID domain.PostID `json:"postId"`
}

type overlayEvent struct {
	Feed    string `json:"feed"`
	Visible bool   `json:"visible"`
}

type fullscreenEvent struct {
	Active  bool           `json:"active"`
	PostID  domain.PostID  `json:"postId,omitempty"`
	Entries []domain.Entry `json:"entries,omitempty"`
}

type loadErrorEvent struct {
	Feed    string `json:"feed"`
	Index   int    `json:"index"`
	Message string `json:"message"`
}

type place struct {
	feedType domain.FeedType
	postID   domain.PostID
}

type sessionDeps struct {
	cfg       SessionConfig
	pages     LoadFeedPageUseCase
	positions domainports.PositionStore
	places    domainports.FeedStateStore
	logger    *slog.Logger
}

// feedSession is one connected app: its own playback coordinator, the main
// render feed and, while open, the fullscreen video feed. Client events are
// applied one at a time on the session goroutine.
type feedSession struct {
	id     string
	cfg    SessionConfig
	pages  LoadFeedPageUseCase
	places domainports.FeedStateStore
	logger *slog.Logger
	out    func(wsMessage) bool
	rpc    *remoteCaller

	coordinator *player.Coordinator
	network     *observable.Subject[domain.NetworkStatus]
	appState    *observable.Subject[domain.AppState]
	focus       *observable.Subject[bool]

	ctx       context.Context
	cancel    context.CancelFunc
	events    chan wsInbound
	limiter   *rate.Limiter
	placeCh   chan place
	wg        sync.WaitGroup
	closeOnce sync.Once

	mu       sync.Mutex
	feedType domain.FeedType

	// Owned by the event goroutine.
	main      *feed.Feed[domain.RenderIndex]
	full      *feed.Feed[domain.VideoIndex]
	fullFocus *observable.Subject[bool]
	unbindApp func()
	posts     []domain.Post
	cursor    string
	more      bool
}

func newFeedSession(deps sessionDeps, out func(wsMessage) bool) *feedSession {
	logger := deps.logger
	if logger == nil {
		logger = slog.Default()
	}
	id := ulid.Make().String()
	logger = logger.With(slog.String("sessionId", id))
	ctx, cancel := context.WithCancel(context.Background())
	return &feedSession{
		id:          id,
		cfg:         deps.cfg,
		pages:       deps.pages,
		places:      deps.places,
		logger:      logger,
		out:         out,
		rpc:         newRemoteCaller(out, deps.cfg.RequestTimeout),
		coordinator: player.NewCoordinator(deps.positions, logger),
		network:     observable.NewSubject(domain.NetworkStatus{IsConnected: true, Type: domain.NetworkUnknown}),
		appState:    observable.NewSubject(domain.AppActive),
		focus:       observable.NewSubject(true),
		ctx:         ctx,
		cancel:      cancel,
		events:      make(chan wsInbound, 256),
		limiter:     rate.NewLimiter(rate.Limit(deps.cfg.InboundRate), deps.cfg.InboundBurst),
		placeCh:     make(chan place, 1),
	}
}

func (s *Server) handleFeedWS(w http.ResponseWriter, r *http.Request) {
	feedType, err := parseFeedType(r.URL.Query().Get("feed"))
	if err != nil {
		writeUseCaseError(w, err)
		return
	}
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("ws upgrade failed", slog.String("error", err.Error()))
		return
	}

	client := newWSClient(s.wsHub, conn)
	client.session = newFeedSession(sessionDeps{
		cfg:       s.sessionCfg,
		pages:     s.pages,
		positions: s.positions,
		places:    s.places,
		logger:    s.logger,
	}, client.sendMessage)
	if !s.wsHub.add(client) {
		conn.Close()
		return
	}
	go client.writePump()
	client.session.start(feedType)
	go client.readPump()
}

func (s *feedSession) start(feedType domain.FeedType) {
	s.wg.Add(2)
	go s.run(feedType)
	go s.savePlaces()
}

// close ends the session and waits until every player it drove is released.
func (s *feedSession) close() {
	s.closeOnce.Do(func() {
		s.rpc.close()
		s.cancel()
		s.wg.Wait()
		s.logger.Debug("feed session closed")
	})
}

// deliver is called by the read pump. Results bypass the event queue.
func (s *feedSession) deliver(msg wsInbound) {
	if msg.Type == "result" {
		var res commandResult
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &res); err != nil {
				res = commandResult{Error: "malformed result"}
			}
		}
		if !s.rpc.resolve(msg.ID, res) {
			s.logger.Debug("late or unknown command result", slog.String("id", msg.ID))
		}
		return
	}
	if !s.limiter.Allow() {
		s.sendError(msg, "rate_limited", "too many messages")
		return
	}
	select {
	case s.events <- msg:
	case <-s.ctx.Done():
	default:
		s.sendError(msg, "overloaded", "session is busy")
	}
}

func (s *feedSession) run(feedType domain.FeedType) {
	defer s.wg.Done()
	s.open(feedType)
	for {
		select {
		case <-s.ctx.Done():
			s.teardown()
			return
		case msg := <-s.events:
			if err := s.handle(msg); err != nil {
				s.replyError(msg, err)
			}
		}
	}
}

func (s *feedSession) open(feedType domain.FeedType) {
	if s.cfg.Hydrate {
		ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
		if err := s.coordinator.Hydrate(ctx, s.cfg.HydrateLimit); err != nil {
			s.logger.Warn("position hydrate failed", slog.String("error", err.Error()))
		}
		cancel()
	}
	s.unbindApp = s.coordinator.BindAppState(s.appState)
	s.setFeedType(feedType)
	s.main = feed.New[domain.RenderIndex](ulid.Make().String(), nil, feedType, s.cfg.Feed, feed.Deps{
		Arbiter:  s.coordinator,
		Scroller: &remoteScroller{rpc: s.rpc, feed: feedMain},
		Network:  s.network,
		Focus:    s.focus,
		Logger:   s.logger,
	}, callbacksFor[domain.RenderIndex](s, feedMain))

	if err := s.loadPage(false); err != nil {
		s.replyError(wsInbound{Type: "open"}, err)
		return
	}
	s.restorePlace(feedType)
}

func (s *feedSession) teardown() {
	if s.full != nil {
		s.full.Close()
		s.full = nil
	}
	if s.main != nil {
		s.main.Close()
	}
	if s.unbindApp != nil {
		s.unbindApp()
	}
}

func callbacksFor[I domain.Index](s *feedSession, name string) feed.Callbacks[I] {
	cb := feed.Callbacks[I]{
		OnCurrentPostChange: func(id domain.PostID) {
			s.send("current_post", currentPostEvent{Feed: name, PostID: id})
			if name == feedMain {
				s.queuePlace(place{feedType: s.currentFeedType(), postID: id})
			}
		},
		OnOverlayChange: func(visible bool) {
			s.send("overlay", overlayEvent{Feed: name, Visible: visible})
		},
		OnLoadError: func(i I, msg string) {
			s.send("load_error", loadErrorEvent{Feed: name, Index: int(i), Message: msg})
		},
	}
	if name == feedMain {
		cb.OnFullscreenChange = func(active bool) {
			if !active {
				s.send("fullscreen", fullscreenEvent{Active: false})
			}
		}
	}
	return cb
}

func (s *feedSession) handle(msg wsInbound) error {
	switch msg.Type {
	case "focus":
		var d struct {
			Focused bool `json:"focused"`
		}
		if err := decodeData(msg, &d); err != nil {
			return err
		}
		s.focus.Set(d.Focused)
	case "network":
		var d domain.NetworkStatus
		if err := decodeData(msg, &d); err != nil {
			return err
		}
		if d.Type == "" {
			d.Type = domain.NetworkUnknown
		}
		s.network.Set(d)
	case "app_state":
		var d struct {
			State domain.AppState `json:"state"`
		}
		if err := decodeData(msg, &d); err != nil {
			return err
		}
		switch d.State {
		case domain.AppActive, domain.AppInactive, domain.AppBackground:
		default:
			return fmt.Errorf("%w: app state %q", errInvalidMessage, d.State)
		}
		s.appState.Set(d.State)
	case "fullscreen":
		var d struct {
			Enter  bool          `json:"enter"`
			PostID domain.PostID `json:"postId"`
		}
		if err := decodeData(msg, &d); err != nil {
			return err
		}
		if d.Enter {
			return s.enterFullscreen(d.PostID)
		}
		s.exitFullscreen()
	case "load_more":
		return s.loadPage(true)
	case "refresh":
		return s.loadPage(false)
	case "switch_feed":
		var d struct {
			FeedType string `json:"feedType"`
		}
		if err := decodeData(msg, &d); err != nil {
			return err
		}
		feedType, err := parseFeedType(d.FeedType)
		if err != nil {
			return err
		}
		return s.switchFeed(feedType)
	default:
		switch msg.Feed {
		case "", feedMain:
			return dispatchFeed(s, s.main, feedMain, msg)
		case feedFullscreen:
			if s.full == nil {
				return errNoFullscreen
			}
			return dispatchFeed(s, s.full, feedFullscreen, msg)
		default:
			return fmt.Errorf("%w: %q", errUnknownFeed, msg.Feed)
		}
	}
	return nil
}

// dispatchFeed applies a list or player event to one feed instance.
func dispatchFeed[I domain.Index](s *feedSession, f *feed.Feed[I], name string, msg wsInbound) error {
	switch msg.Type {
	case "viewable":
		var d struct {
			Items []feed.ViewToken[I] `json:"items"`
		}
		if err := decodeData(msg, &d); err != nil {
			return err
		}
		f.OnViewableItemsChanged(d.Items)
	case "scroll":
		var d struct {
			Offset float64 `json:"offset"`
		}
		if err := decodeData(msg, &d); err != nil {
			return err
		}
		f.OnScroll(d.Offset)
	case "scroll_end":
		f.OnScrollEnd()
	case "scroll_failed":
		var d scrollFailurePayload
		if err := decodeData(msg, &d); err != nil {
			return err
		}
		f.OnScrollToIndexFailed(d.failure())
	case "jump":
		var d struct {
			PostID domain.PostID `json:"postId"`
		}
		if err := decodeData(msg, &d); err != nil {
			return err
		}
		f.JumpTo(d.PostID)
	case "status":
		var d struct {
			Index  int                 `json:"index"`
			Status domain.PlayerStatus `json:"status"`
		}
		if err := decodeData(msg, &d); err != nil {
			return err
		}
		f.OnPlaybackStatus(I(d.Index), d.Status)
	case "retry":
		d, err := decodeIndex(msg)
		if err != nil {
			return err
		}
		if !f.Retry(I(d.Index)) {
			return fmt.Errorf("%w: no video mounted at %d", domain.ErrNotFound, d.Index)
		}
	case "attach":
		d, err := decodeIndex(msg)
		if err != nil {
			return err
		}
		f.Attach(I(d.Index), &remotePlayer{rpc: s.rpc, feed: name, index: d.Index})
	case "detach":
		d, err := decodeIndex(msg)
		if err != nil {
			return err
		}
		f.Detach(I(d.Index))
	default:
		return fmt.Errorf("%w: %q", errUnknownType, msg.Type)
	}
	return nil
}

func (s *feedSession) loadPage(appendPage bool) error {
	if s.pages == nil {
		return nil
	}
	feedType := s.currentFeedType()
	req := domain.PageRequest{FeedType: feedType, Limit: s.cfg.PageSize}
	if appendPage {
		if !s.more {
			return nil
		}
		req.Cursor = s.cursor
	}
	page, err := s.fetch(req)
	if err != nil {
		return err
	}
	if appendPage {
		s.posts = append(s.posts, page.Posts...)
	} else {
		s.posts = page.Posts
	}
	s.cursor = page.NextCursor
	s.more = page.HasMore()

	s.main.SetPosts(s.posts)
	if s.full != nil {
		s.full.SetPosts(s.posts)
	}
	s.sendPosts(page, appendPage)
	return nil
}

// switchFeed reloads the first page of another feed type. The main feed
// keeps its place when the current post is listed there too.
func (s *feedSession) switchFeed(feedType domain.FeedType) error {
	if feedType == s.currentFeedType() {
		return nil
	}
	var page domain.PostPage
	if s.pages != nil {
		var err error
		page, err = s.fetch(domain.PageRequest{FeedType: feedType, Limit: s.cfg.PageSize})
		if err != nil {
			return err
		}
	}
	if s.full != nil {
		s.exitFullscreen()
	}
	s.setFeedType(feedType)
	s.posts = page.Posts
	s.cursor = page.NextCursor
	s.more = page.HasMore()
	s.sendPosts(page, false)
	s.main.SwitchFeed(s.posts, feedType)
	return nil
}

func (s *feedSession) fetch(req domain.PageRequest) (domain.PostPage, error) {
	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()
	return s.pages.Execute(ctx, req)
}

func (s *feedSession) sendPosts(page domain.PostPage, appendPage bool) {
	posts := page.Posts
	if posts == nil {
		posts = []domain.Post{}
	}
	s.send("posts", postsEvent{
		FeedType:   s.currentFeedType(),
		Posts:      posts,
		Entries:    s.main.Entries(),
		NextCursor: page.NextCursor,
		Append:     appendPage,
	})
}

// enterFullscreen opens the video-only feed on postID. It takes the playback
// claim from the main feed through the coordinator.
func (s *feedSession) enterFullscreen(postID domain.PostID) error {
	if s.full != nil {
		s.exitFullscreen()
	}
	target, ok := s.main.EnterFullscreen(postID)
	if !ok {
		return fmt.Errorf("%w: no video for post %q", domain.ErrNotFound, postID)
	}
	cfg := s.cfg.Feed
	cfg.Priority = domain.PriorityFullscreen
	s.fullFocus = observable.NewSubject(true)
	s.full = feed.New[domain.VideoIndex](ulid.Make().String(), s.posts, s.currentFeedType(), cfg, feed.Deps{
		Arbiter:  s.coordinator,
		Scroller: &remoteScroller{rpc: s.rpc, feed: feedFullscreen},
		Network:  s.network,
		Focus:    s.fullFocus,
		Logger:   s.logger,
	}, callbacksFor[domain.VideoIndex](s, feedFullscreen))
	s.send("fullscreen", fullscreenEvent{Active: true, PostID: target, Entries: s.full.Entries()})
	s.full.JumpTo(target)
	return nil
}

func (s *feedSession) exitFullscreen() {
	if s.full == nil {
		return
	}
	s.full.Close()
	s.full = nil
	s.fullFocus = nil
	s.main.ExitFullscreen()
}

// restorePlace jumps to the post this feed type was last showing, when the
// first page lists it.
func (s *feedSession) restorePlace(feedType domain.FeedType) {
	if s.places == nil {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, 2*time.Second)
	id, ok, err := s.places.GetLastPostID(ctx, feedType)
	cancel()
	if err != nil {
		s.logger.Warn("feed place load failed", slog.String("error", err.Error()))
		return
	}
	if !ok {
		return
	}
	if !s.main.JumpTo(id) {
		s.logger.Debug("saved feed place not on first page", slog.String("postId", string(id)))
	}
}

// queuePlace keeps only the latest place for the saver.
func (s *feedSession) queuePlace(p place) {
	if s.places == nil {
		return
	}
	for {
		select {
		case s.placeCh <- p:
			return
		default:
		}
		select {
		case <-s.placeCh:
		default:
		}
	}
}

func (s *feedSession) savePlaces() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case p := <-s.placeCh:
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := s.places.SetLastPostID(ctx, p.feedType, p.postID); err != nil {
				s.logger.Warn("feed place save failed",
					slog.String("feedType", string(p.feedType)),
					slog.String("postId", string(p.postID)),
					slog.String("error", err.Error()),
				)
			}
			cancel()
		}
	}
}

func (s *feedSession) currentFeedType() domain.FeedType {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.feedType
}

func (s *feedSession) setFeedType(t domain.FeedType) {
	s.mu.Lock()
	s.feedType = t
	s.mu.Unlock()
}

func (s *feedSession) send(msgType string, data interface{}) {
	s.out(wsMessage{Type: msgType, Data: data})
}

func (s *feedSession) sendError(msg wsInbound, code, message string) {
	s.out(wsMessage{Type: "error", ID: msg.ID, Data: errorPayload{Code: code, Message: message}})
}

func (s *feedSession) replyError(msg wsInbound, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	var code, message string
	switch {
	case errors.Is(err, errInvalidMessage):
		code, message = "invalid_message", err.Error()
	case errors.Is(err, errUnknownType), errors.Is(err, errUnknownFeed):
		code, message = "unknown_type", err.Error()
	case errors.Is(err, errNoFullscreen):
		code, message = "no_fullscreen", err.Error()
	default:
		_, code, message = classify(err)
	}
	s.logger.Debug("feed session message failed",
		slog.String("type", msg.Type),
		slog.String("code", code),
		slog.String("error", err.Error()),
	)
	s.sendError(msg, code, message)
}

func decodeData(msg wsInbound, v interface{}) error {
	if len(msg.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(msg.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", errInvalidMessage, msg.Type, err)
	}
	return nil
}

func decodeIndex(msg wsInbound) (indexPayload, error) {
	var d indexPayload
	if err := decodeData(msg, &d); err != nil {
		return d, err
	}
	if d.Index < 0 {
		return d, fmt.Errorf("%w: negative index", errInvalidMessage)
	}
	return d, nil
}
