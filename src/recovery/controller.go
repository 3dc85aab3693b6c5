// Package recovery keeps a live video session alive across network drops.
//
// A Controller owns the connection lifecycle of one session. Failures are
// retried with backoff up to a configured ceiling; between attempts the
// caller's UserState is persisted to a store so the session can be restored
// once the transport is back. Restoration itself is delegated to listeners:
// the controller only sequences the steps and reports their outcome.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/orchestra-mcp/liveconn/config"
	"github.com/orchestra-mcp/liveconn/src/store"
	"github.com/orchestra-mcp/liveconn/src/types"
	"github.com/rs/zerolog"
)

var (
	// ErrConnectionLost is reported when a failure is signalled without a cause.
	ErrConnectionLost = errors.New("connection lost")
	// ErrForcedReconnect is the failure reason used by ForceReconnect.
	ErrForcedReconnect = errors.New("forced reconnect")
	// ErrProbeFailed wraps heartbeat probe errors.
	ErrProbeFailed = errors.New("heartbeat probe failed")
)

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(clk clock.Clock) Option {
	return func(c *Controller) { c.clock = clk }
}

// WithStore sets the state store used for user state snapshots.
func WithStore(s store.Store) Option {
	return func(c *Controller) { c.store = s }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithProber sets the heartbeat round-trip probe.
func WithProber(p types.Prober) Option {
	return func(c *Controller) { c.prober = p }
}

// WithStatsProvider sets the packet loss source for heartbeat samples.
func WithStatsProvider(s types.StatsProvider) Option {
	return func(c *Controller) { c.stats = s }
}

// WithTransport uses t as prober and stats provider when it implements them.
func WithTransport(t types.Transport) Option {
	return func(c *Controller) {
		if p, ok := t.(types.Prober); ok {
			c.prober = p
		}
		if s, ok := t.(types.StatsProvider); ok {
			c.stats = s
		}
	}
}

// Controller drives reconnection and state recovery for one live session.
// All methods are safe for concurrent use and never panic.
type Controller struct {
	cfg    config.RecoveryConfig
	clock  clock.Clock
	store  store.Store
	prober types.Prober
	stats  types.StatsProvider
	logger zerolog.Logger
	events *registry

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	state     types.ConnectionState
	userState *types.UserState
	// userStateSet records that SetUserState was called; only before that
	// does restoration fall back to the store.
	userStateSet bool
	// reconnecting is the in-flight latch: set from scheduling until the
	// sequence finishes.
	reconnecting   bool
	reconnectTimer *clock.Timer
	seqCancel      context.CancelFunc
	// generation invalidates scheduled or running sequences whenever the
	// lifecycle is reset (established, forced, destroyed).
	generation uint64
	heartbeat  *clock.Ticker
	destroyed  bool

	persistSeq     atomic.Uint64
	persistMu      sync.Mutex
	persistWritten uint64
}

// New creates a controller in the disconnected state and starts its
// heartbeat. cfg is merged with the defaults once; nil means all defaults.
func New(cfg *config.RecoveryConfig, opts ...Option) *Controller {
	c := &Controller{
		cfg:    cfg.WithDefaults(),
		clock:  clock.New(),
		logger: zerolog.Nop(),
		events: newRegistry(),
		state: types.ConnectionState{
			Status:            types.StatusDisconnected,
			ConnectionQuality: types.QualityExcellent,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.store == nil {
		c.store = store.NewMemoryStore()
	}
	c.logger = c.logger.With().Str("component", "recovery").Logger()
	c.ctx, c.cancel = context.WithCancel(context.Background())

	c.heartbeat = c.clock.Ticker(c.cfg.HeartbeatInterval)
	go c.heartbeatLoop(c.ctx, c.heartbeat)
	return c
}

// Config returns a copy of the effective configuration. Changing it does not
// affect the controller.
func (c *Controller) Config() config.RecoveryConfig {
	cfg := c.cfg
	backoff := c.cfg.ExponentialBackoff()
	cfg.EnableExponentialBackoff = &backoff
	return cfg
}

// On subscribes l to the named event and returns a function that removes it.
func (c *Controller) On(name types.EventName, l Listener) (unsubscribe func()) {
	return c.events.on(name, l)
}

// ConnectionState returns a copy of the current connection state.
func (c *Controller) ConnectionState() types.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetUserState replaces the held user state snapshot. The controller keeps
// its own copy.
func (c *Controller) SetUserState(s *types.UserState) {
	cp := s.Clone()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userState = cp
	c.userStateSet = true
}

// UserState returns a copy of the held user state, or nil.
func (c *Controller) UserState() *types.UserState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userState.Clone()
}

// PendingTimers reports how many reconnect timers and heartbeat tickers are
// currently armed.
func (c *Controller) PendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	if c.reconnectTimer != nil {
		n++
	}
	if c.heartbeat != nil {
		n++
	}
	return n
}

// OnConnectionEstablished marks the session connected. It resets the attempt
// counter and cancels any pending or running reconnection.
func (c *Controller) OnConnectionEstablished() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.markConnectedLocked()
	c.mu.Unlock()

	c.logger.Info().Msg("connection established")
	c.emit(types.Event{Name: types.EventConnectionEstablished})
}

// HandleConnectionFailure reports a transport failure. It decides between
// scheduling another attempt and giving up; the outcome is observable through
// ConnectionState and events only. Listeners for the resulting events run on
// the caller's goroutine; the store write happens in the background.
func (c *Controller) HandleConnectionFailure(err error) {
	if err == nil {
		err = ErrConnectionLost
	}

	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	attempt := c.state.AttemptCount
	if c.reconnecting || c.state.Status == types.StatusFailed {
		c.mu.Unlock()
		c.logger.Debug().Err(err).Int("attempt", attempt).Msg("failure while recovering, not rescheduling")
		c.emit(types.Event{Name: types.EventConnectionFailed, Err: err, Attempt: attempt})
		return
	}

	gen := c.generation
	retry := attempt < c.cfg.MaxReconnectAttempts
	if retry {
		c.state.Status = types.StatusDisconnected
		c.reconnecting = true
	} else {
		c.state.Status = types.StatusFailed
	}
	snapshot := c.userState.Clone()
	c.mu.Unlock()

	c.logger.Warn().Err(err).Int("attempt", attempt).Msg("connection failed")
	c.emit(types.Event{Name: types.EventConnectionFailed, Err: err, Attempt: attempt})
	c.persistAsync(snapshot)

	if !retry {
		c.logger.Error().Int("max_attempts", c.cfg.MaxReconnectAttempts).Msg("reconnection attempts exhausted")
		c.emit(types.Event{
			Name:        types.EventReconnectionFailed,
			Err:         err,
			Attempt:     attempt,
			MaxAttempts: c.cfg.MaxReconnectAttempts,
		})
		return
	}
	c.beginReconnection(gen)
}

// ForceReconnect resets the attempt counter and runs a fresh failure cycle,
// whatever the current status.
func (c *Controller) ForceReconnect() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.resetLocked()
	c.state.AttemptCount = 0
	c.state.Status = types.StatusDisconnected
	c.mu.Unlock()

	c.logger.Info().Msg("forced reconnect")
	c.HandleConnectionFailure(ErrForcedReconnect)
}

// Destroy stops all timers, cancels a running sequence and drops every
// listener. It is safe to call more than once.
func (c *Controller) Destroy() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.destroyed = true
	c.resetLocked()
	if c.heartbeat != nil {
		c.heartbeat.Stop()
		c.heartbeat = nil
	}
	c.mu.Unlock()

	c.cancel()
	c.events.clear()
	c.logger.Debug().Msg("controller destroyed")
}

func (c *Controller) markConnectedLocked() {
	c.resetLocked()
	c.state.Status = types.StatusConnected
	c.state.AttemptCount = 0
	c.state.LastConnected = c.clock.Now()
}

// resetLocked invalidates the current reconnection sequence. c.mu must be held.
func (c *Controller) resetLocked() {
	c.generation++
	c.reconnecting = false
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	if c.seqCancel != nil {
		c.seqCancel()
		c.seqCancel = nil
	}
}

func (c *Controller) beginReconnection(gen uint64) {
	c.mu.Lock()
	if c.destroyed || gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.state.AttemptCount++
	c.state.Status = types.StatusReconnecting
	attempt := c.state.AttemptCount
	delay := Backoff(c.cfg, attempt)
	c.mu.Unlock()

	c.logger.Info().Int("attempt", attempt).Dur("delay", delay).Msg("scheduling reconnection")
	c.emit(types.Event{
		Name:        types.EventReconnectionAttempt,
		Attempt:     attempt,
		MaxAttempts: c.cfg.MaxReconnectAttempts,
		Delay:       delay,
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed || gen != c.generation {
		return
	}
	c.reconnectTimer = c.clock.AfterFunc(delay, func() { c.runReconnection(gen) })
}

// runReconnection executes the restoration sequence once the backoff delay
// has elapsed.
func (c *Controller) runReconnection(gen uint64) {
	c.mu.Lock()
	if c.destroyed || gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.reconnectTimer = nil
	ctx, cancel := context.WithCancel(c.ctx)
	if c.cfg.ConnectionTimeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = c.clock.WithTimeout(ctx, c.cfg.ConnectionTimeout)
		parent := cancel
		cancel = func() { cancelTimeout(); parent() }
	}
	c.seqCancel = cancel
	c.state.Status = types.StatusConnecting
	attempt := c.state.AttemptCount
	snapshot := c.userState.Clone()
	fromStore := snapshot == nil && !c.userStateSet
	c.mu.Unlock()
	defer cancel()

	if fromStore {
		snapshot = c.loadSnapshot(ctx)
	}
	err := c.restore(ctx, snapshot)

	c.mu.Lock()
	if c.destroyed || gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.seqCancel = nil
	if err != nil {
		c.reconnecting = false
		c.mu.Unlock()
		c.logger.Warn().Err(err).Int("attempt", attempt).Msg("reconnection attempt failed")
		c.HandleConnectionFailure(fmt.Errorf("reconnection attempt %d: %w", attempt, err))
		return
	}
	c.markConnectedLocked()
	c.mu.Unlock()

	c.logger.Info().Int("attempt", attempt).Msg("reconnected")
	c.emit(types.Event{Name: types.EventConnectionEstablished})
	c.emit(types.Event{Name: types.EventReconnectionSuccess, Attempt: attempt, UserState: snapshot.Clone()})
}

// restore runs the ordered restoration steps. The first failing step ends the
// sequence.
func (c *Controller) restore(ctx context.Context, snapshot *types.UserState) error {
	if snapshot != nil {
		if err := c.step(ctx, types.EventStateRestoring, snapshot); err != nil {
			return err
		}
	}
	for _, name := range []types.EventName{
		types.EventMediaRestoring,
		types.EventPeersRestoring,
		types.EventParticipantsSyncing,
	} {
		if err := c.step(ctx, name, snapshot); err != nil {
			return err
		}
	}
	if snapshot != nil && snapshot.RoomSettings.RecordingActive() {
		if err := c.step(ctx, types.EventRecordingResuming, snapshot); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func (c *Controller) step(ctx context.Context, name types.EventName, snapshot *types.UserState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ev := types.Event{Name: name, Timestamp: c.clock.Now(), UserState: snapshot.Clone()}
	if err := c.events.dispatch(ctx, ev, true, nil); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// emit delivers a notification event; listener errors are logged only.
func (c *Controller) emit(ev types.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = c.clock.Now()
	}
	_ = c.events.dispatch(c.ctx, ev, false, func(err error) {
		c.logger.Error().Err(err).Str("event", string(ev.Name)).Msg("listener error")
	})
}
