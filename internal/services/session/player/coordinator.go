package player

import (
	"log/slog"
	"sync"
	"time"

	"feedstream/internal/domain"
	"feedstream/internal/domain/ports"
	"feedstream/internal/metrics"
)

type callback struct {
	seq uint64
	fn  func()
}

// Coordinator arbitrates the playback claim between the feed instances of one
// app session: at most one instance may have an unmuted, playing video. It
// also owns the shared position ledger. Build one per session and inject it
// into every feed.
type Coordinator struct {
	store   ports.PositionStore
	logger  *slog.Logger
	timeout time.Duration
	now     func() time.Time

	mu            sync.RWMutex
	owner         string
	ownerPriority domain.PlaybackPriority
	suspended     string
	suspendedPrio domain.PlaybackPriority
	appState      domain.AppState
	pause         map[string]callback
	resume        map[string]callback
	seq           uint64

	positions map[string]domain.PlaybackPosition
	pending   map[string]*domain.PlaybackPosition
	flushing  bool
}

func NewCoordinator(store ports.PositionStore, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:     store,
		logger:    logger,
		timeout:   5 * time.Second,
		now:       time.Now,
		appState:  domain.AppActive,
		pause:     make(map[string]callback),
		resume:    make(map[string]callback),
		positions: make(map[string]domain.PlaybackPosition),
		pending:   make(map[string]*domain.PlaybackPosition),
	}
}

// RequestPlayback claims the right to play for instanceID. An equal or higher
// priority takes the claim from the current owner, whose pause callback has
// returned by the time RequestPlayback does. Claiming twice is a no-op.
func (c *Coordinator) RequestPlayback(instanceID string, priority domain.PlaybackPriority) bool {
	c.mu.Lock()
	if !c.appState.IsForeground() {
		if c.suspended == "" || priority >= c.suspendedPrio {
			c.suspended = instanceID
			c.suspendedPrio = priority
		}
		c.mu.Unlock()
		metrics.PlaybackClaimsTotal.WithLabelValues("denied").Inc()
		return false
	}
	if c.owner == instanceID {
		if priority > c.ownerPriority {
			c.ownerPriority = priority
		}
		c.mu.Unlock()
		metrics.PlaybackClaimsTotal.WithLabelValues("reentrant").Inc()
		return true
	}
	if c.owner != "" && priority < c.ownerPriority {
		owner := c.owner
		c.mu.Unlock()
		metrics.PlaybackClaimsTotal.WithLabelValues("denied").Inc()
		c.logger.Debug("playback claim denied",
			slog.String("instance", instanceID),
			slog.String("owner", owner),
		)
		return false
	}

	prev := c.owner
	c.owner = instanceID
	c.ownerPriority = priority
	var silence func()
	if prev != "" {
		silence = c.pause[prev].fn
	}
	c.mu.Unlock()

	if silence != nil {
		silence()
	}
	metrics.PlaybackClaimsTotal.WithLabelValues("granted").Inc()
	c.logger.Debug("playback claimed",
		slog.String("instance", instanceID),
		slog.String("previous", prev),
		slog.Int("priority", int(priority)),
	)
	return true
}

// ReleasePlayback drops the claim if instanceID holds it. The claim is not
// handed to anyone; the next focused instance has to request it.
func (c *Coordinator) ReleasePlayback(instanceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.owner == instanceID {
		c.owner = ""
		c.ownerPriority = domain.PriorityNone
	}
	if c.suspended == instanceID {
		c.suspended = ""
		c.suspendedPrio = domain.PriorityNone
	}
}

func (c *Coordinator) Owner() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.owner
}

func (c *Coordinator) HasClaim(instanceID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return instanceID != "" && c.owner == instanceID
}

// RegisterPauseCallback sets the function that silences every video of the
// instance. The returned func unregisters it.
func (c *Coordinator) RegisterPauseCallback(instanceID string, fn func()) func() {
	return c.register(c.pause, instanceID, fn)
}

// RegisterResumeCallback sets the function called when the app returns to the
// foreground while instanceID held the claim.
func (c *Coordinator) RegisterResumeCallback(instanceID string, fn func()) func() {
	return c.register(c.resume, instanceID, fn)
}

func (c *Coordinator) register(set map[string]callback, instanceID string, fn func()) func() {
	c.mu.Lock()
	c.seq++
	seq := c.seq
	set[instanceID] = callback{seq: seq, fn: fn}
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if cb, ok := set[instanceID]; ok && cb.seq == seq {
			delete(set, instanceID)
		}
	}
}

func (c *Coordinator) AppState() domain.AppState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.appState
}

// SetAppState applies an app lifecycle change. Leaving the foreground pauses
// every registered instance and suspends the claim; coming back restores it
// to the suspended owner and calls its resume callback.
func (c *Coordinator) SetAppState(state domain.AppState) {
	c.mu.Lock()
	prev := c.appState
	c.appState = state

	var fns []func()
	switch {
	case prev.IsForeground() && !state.IsForeground():
		if c.owner != "" {
			c.suspended = c.owner
			c.suspendedPrio = c.ownerPriority
		}
		c.owner = ""
		c.ownerPriority = domain.PriorityNone
		for _, cb := range c.pause {
			if cb.fn != nil {
				fns = append(fns, cb.fn)
			}
		}
	case !prev.IsForeground() && state.IsForeground():
		if c.suspended != "" {
			c.owner = c.suspended
			c.ownerPriority = c.suspendedPrio
			if cb, ok := c.resume[c.suspended]; ok && cb.fn != nil {
				fns = append(fns, cb.fn)
			}
		}
		c.suspended = ""
		c.suspendedPrio = domain.PriorityNone
	}
	c.mu.Unlock()

	if len(fns) > 0 {
		c.logger.Debug("app state changed",
			slog.String("from", string(prev)),
			slog.String("to", string(state)),
			slog.Int("callbacks", len(fns)),
		)
	}
	for _, fn := range fns {
		fn()
	}
}

// BindAppState follows an app lifecycle stream until the returned func is
// called.
func (c *Coordinator) BindAppState(src ports.Subscribable[domain.AppState]) func() {
	return src.Subscribe(c.SetAppState)
}
