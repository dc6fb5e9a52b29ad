package apihttp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"feedstream/internal/domain"
	"feedstream/internal/domain/ports"
)

var (
	errSessionClosed  = fmt.Errorf("session: %w", domain.ErrFeedClosed)
	errCommandTimeout = errors.New("command timed out")
)

// commandPayload is a player or scroller operation the client must perform
// and acknowledge with a "result" message carrying the same id.
type commandPayload struct {
	Target string                 `json:"target"`
	Feed   string                 `json:"feed"`
	Op     string                 `json:"op"`
	Index  *int                   `json:"index,omitempty"`
	URI    string                 `json:"uri,omitempty"`
	Status *domain.PlaybackStatus `json:"status,omitempty"`
	Offset *float64               `json:"offset,omitempty"`
}

type scrollFailurePayload struct {
	Index                     int     `json:"index"`
	HighestMeasuredFrameIndex int     `json:"highestMeasuredFrameIndex"`
	AverageItemLength         float64 `json:"averageItemLength"`
}

func (p scrollFailurePayload) failure() ports.ScrollFailure {
	return ports.ScrollFailure{
		Index:                     p.Index,
		HighestMeasuredFrameIndex: p.HighestMeasuredFrameIndex,
		AverageItemLength:         p.AverageItemLength,
	}
}

type commandResult struct {
	Error         string                `json:"error,omitempty"`
	Code          string                `json:"code,omitempty"`
	Status        *domain.PlayerStatus  `json:"status,omitempty"`
	ScrollFailure *scrollFailurePayload `json:"scrollFailure,omitempty"`
}

func (r commandResult) err() error {
	switch {
	case r.ScrollFailure != nil:
		f := r.ScrollFailure.failure()
		return &f
	case r.Code == "unavailable":
		return fmt.Errorf("%w: %s", domain.ErrMediaUnavailable, r.Error)
	case r.Error != "":
		return fmt.Errorf("client: %s", r.Error)
	default:
		return nil
	}
}

// remoteCaller sends commands over the session socket and pairs them with
// their results.
type remoteCaller struct {
	send    func(wsMessage) bool
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]chan commandResult
	closed  bool
}

func newRemoteCaller(send func(wsMessage) bool, timeout time.Duration) *remoteCaller {
	return &remoteCaller{
		send:    send,
		timeout: timeout,
		pending: make(map[string]chan commandResult),
	}
}

func (rc *remoteCaller) call(ctx context.Context, cmd commandPayload) (commandResult, error) {
	id := ulid.Make().String()
	ch := make(chan commandResult, 1)

	rc.mu.Lock()
	if rc.closed {
		rc.mu.Unlock()
		return commandResult{}, errSessionClosed
	}
	rc.pending[id] = ch
	rc.mu.Unlock()
	defer rc.forget(id)

	if !rc.send(wsMessage{Type: "command", ID: id, Data: cmd}) {
		return commandResult{}, errSessionClosed
	}

	// A media load has no deadline of its own; it ends with the client's
	// result, the caller's context or the session.
	var expired <-chan time.Time
	if cmd.Op != "load" && rc.timeout > 0 {
		timer := time.NewTimer(rc.timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case res, ok := <-ch:
		if !ok {
			return commandResult{}, errSessionClosed
		}
		return res, res.err()
	case <-ctx.Done():
		return commandResult{}, ctx.Err()
	case <-expired:
		return commandResult{}, fmt.Errorf("%w: %s %s", errCommandTimeout, cmd.Target, cmd.Op)
	}
}

// resolve delivers the result of command id. Unknown or late ids are
// reported as not found.
func (rc *remoteCaller) resolve(id string, res commandResult) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	ch, ok := rc.pending[id]
	if !ok {
		return false
	}
	delete(rc.pending, id)
	ch <- res
	return true
}

func (rc *remoteCaller) forget(id string) {
	rc.mu.Lock()
	delete(rc.pending, id)
	rc.mu.Unlock()
}

// close fails every waiting and future call.
func (rc *remoteCaller) close() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.closed {
		return
	}
	rc.closed = true
	for id, ch := range rc.pending {
		close(ch)
		delete(rc.pending, id)
	}
}

func (rc *remoteCaller) inFlight() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.pending)
}

// remotePlayer is the media element mounted at one index of a client list.
type remotePlayer struct {
	rpc   *remoteCaller
	feed  string
	index int
}

var _ ports.Player = (*remotePlayer)(nil)

func (p *remotePlayer) command(op string) commandPayload {
	index := p.index
	return commandPayload{Target: "player", Feed: p.feed, Op: op, Index: &index}
}

func (p *remotePlayer) Load(ctx context.Context, uri string, initial domain.PlaybackStatus) error {
	cmd := p.command("load")
	cmd.URI = uri
	cmd.Status = &initial
	_, err := p.rpc.call(ctx, cmd)
	return err
}

func (p *remotePlayer) Unload(ctx context.Context) error {
	_, err := p.rpc.call(ctx, p.command("unload"))
	return err
}

func (p *remotePlayer) SetStatus(ctx context.Context, status domain.PlaybackStatus) error {
	cmd := p.command("set_status")
	cmd.Status = &status
	_, err := p.rpc.call(ctx, cmd)
	return err
}

func (p *remotePlayer) GetStatus(ctx context.Context) (domain.PlayerStatus, error) {
	res, err := p.rpc.call(ctx, p.command("get_status"))
	if err != nil {
		return domain.PlayerStatus{}, err
	}
	if res.Status == nil {
		return domain.PlayerStatus{}, nil
	}
	return *res.Status, nil
}

// remoteScroller drives the virtualized list of one client feed.
type remoteScroller struct {
	rpc  *remoteCaller
	feed string
}

var _ ports.Scroller = (*remoteScroller)(nil)

func (s *remoteScroller) ScrollToIndex(ctx context.Context, index int) error {
	_, err := s.rpc.call(ctx, commandPayload{Target: "scroller", Feed: s.feed, Op: "scroll_to_index", Index: &index})
	return err
}

func (s *remoteScroller) ScrollToOffset(ctx context.Context, offset float64) error {
	_, err := s.rpc.call(ctx, commandPayload{Target: "scroller", Feed: s.feed, Op: "scroll_to_offset", Offset: &offset})
	return err
}
