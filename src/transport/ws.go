// Package transport talks to the video room's signaling server over a
// WebSocket. It is the concrete Transport the recovery controller restores
// sessions through and the Prober its heartbeat measures.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/orchestra-mcp/liveconn/src/types"
	"github.com/rs/zerolog"
)

// Signaling channels.
const (
	ChannelRoom  = "room"
	ChannelStats = "stats"
)

// Room command events.
const (
	EventJoin        = "join"
	EventLeave       = "leave"
	EventVideo       = "video"
	EventAudio       = "audio"
	EventScreenShare = "screen-share"
)

var (
	// ErrNotConnected is returned when no signaling connection is open.
	ErrNotConnected = errors.New("transport: not connected")
	// ErrClosed is returned to requests pending when the connection drops.
	ErrClosed = errors.New("transport: connection closed")
)

// Config controls how the transport reaches the signaling server.
type Config struct {
	URL              string
	Header           http.Header
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// AckTimeout bounds a command round trip when ctx has no deadline.
	AckTimeout time.Duration
}

// DefaultConfig returns sensible defaults for url.
func DefaultConfig(url string) Config {
	return Config{
		URL:              url,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		AckTimeout:       10 * time.Second,
	}
}

// WS is a signaling transport over a single WebSocket connection.
type WS struct {
	cfg    Config
	dialer *websocket.Dialer
	logger zerolog.Logger

	writeMu sync.Mutex // serializes frames on conn

	mu        sync.Mutex
	conn      *websocket.Conn
	closing   bool
	pending   map[string]chan types.Message
	pongs     map[string]chan struct{}
	stats     types.Stats
	video     bool
	audio     bool
	onFailure func(error)
}

// New creates a disconnected transport.
func New(cfg Config, logger zerolog.Logger) *WS {
	return &WS{
		cfg:     cfg,
		dialer:  &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		logger:  logger.With().Str("component", "ws-transport").Logger(),
		pending: make(map[string]chan types.Message),
		pongs:   make(map[string]chan struct{}),
	}
}

// OnFailure registers the callback invoked when the connection drops
// unexpectedly.
func (t *WS) OnFailure(fn func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onFailure = fn
}

// Connect dials the signaling server and starts the read loop. An existing
// connection is replaced.
func (t *WS) Connect(ctx context.Context) error {
	if t.cfg.URL == "" {
		return errors.New("transport: empty URL")
	}
	conn, _, err := t.dialer.DialContext(ctx, t.cfg.URL, t.cfg.Header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", t.cfg.URL, err)
	}
	conn.SetPongHandler(t.handlePong)

	t.mu.Lock()
	old := t.conn
	t.conn = conn
	t.closing = false
	t.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	go t.readLoop(conn)
	t.logger.Info().Str("url", t.cfg.URL).Msg("signaling connected")
	return nil
}

// Connected reports whether a signaling connection is open.
func (t *WS) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

// Close shuts the connection without reporting a failure.
func (t *WS) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.closing = true
	for id, ch := range t.pending {
		close(ch)
		delete(t.pending, id)
	}
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	t.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client close"),
		time.Now().Add(time.Second))
	t.writeMu.Unlock()
	return conn.Close()
}

// Join enters a room.
func (t *WS) Join(ctx context.Context, cfg types.JoinConfig) error {
	_, err := t.request(ctx, EventJoin, map[string]any{
		"roomId":      cfg.RoomID,
		"userId":      cfg.UserID,
		"displayName": cfg.DisplayName,
		"role":        cfg.Role,
	})
	return err
}

// Leave exits the current room.
func (t *WS) Leave(ctx context.Context) error {
	_, err := t.request(ctx, EventLeave, nil)
	return err
}

// ToggleVideo sets or flips the camera track and returns the new value.
func (t *WS) ToggleVideo(ctx context.Context, enabled *bool) (bool, error) {
	return t.toggle(ctx, EventVideo, &t.video, enabled)
}

// ToggleAudio sets or flips the microphone track and returns the new value.
func (t *WS) ToggleAudio(ctx context.Context, enabled *bool) (bool, error) {
	return t.toggle(ctx, EventAudio, &t.audio, enabled)
}

func (t *WS) toggle(ctx context.Context, event string, cur *bool, enabled *bool) (bool, error) {
	t.mu.Lock()
	next := !*cur
	if enabled != nil {
		next = *enabled
	}
	t.mu.Unlock()

	if _, err := t.request(ctx, event, map[string]any{"enabled": next}); err != nil {
		return false, err
	}
	t.mu.Lock()
	*cur = next
	t.mu.Unlock()
	return next, nil
}

// StartScreenShare publishes a screen stream.
func (t *WS) StartScreenShare(ctx context.Context) (types.Stream, error) {
	reply, err := t.request(ctx, EventScreenShare, nil)
	if err != nil {
		return types.Stream{}, err
	}
	id, _ := reply.Data["streamId"].(string)
	return types.Stream{ID: id, Kind: "screen"}, nil
}

// Probe measures one ping/pong round trip on the signaling connection.
func (t *WS) Probe(ctx context.Context) (time.Duration, error) {
	nonce := uuid.NewString()
	got := make(chan struct{}, 1)

	t.mu.Lock()
	conn := t.conn
	if conn == nil {
		t.mu.Unlock()
		return 0, ErrNotConnected
	}
	t.pongs[nonce] = got
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.pongs, nonce)
		t.mu.Unlock()
	}()

	start := time.Now()
	t.writeMu.Lock()
	err := conn.WriteControl(websocket.PingMessage, []byte(nonce), t.writeDeadline(ctx))
	t.writeMu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("ping: %w", err)
	}

	select {
	case <-got:
		rtt := time.Since(start)
		t.mu.Lock()
		t.stats.RTT = rtt
		t.mu.Unlock()
		return rtt, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// ConnectionStats returns the last measured RTT and the packet loss the
// server reported.
func (t *WS) ConnectionStats(context.Context) (types.Stats, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return types.Stats{}, ErrNotConnected
	}
	return t.stats, nil
}

func (t *WS) handlePong(appData string) error {
	t.mu.Lock()
	ch, ok := t.pongs[appData]
	t.mu.Unlock()
	if ok {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return nil
}

func (t *WS) request(ctx context.Context, event string, data map[string]any) (types.Message, error) {
	if _, ok := ctx.Deadline(); !ok && t.cfg.AckTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.AckTimeout)
		defer cancel()
	}

	msg := types.Message{
		ID:        uuid.NewString(),
		Channel:   ChannelRoom,
		Event:     event,
		Data:      data,
		Timestamp: time.Now(),
	}
	reply := make(chan types.Message, 1)

	t.mu.Lock()
	conn := t.conn
	if conn == nil {
		t.mu.Unlock()
		return types.Message{}, ErrNotConnected
	}
	t.pending[msg.ID] = reply
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.pending, msg.ID)
		t.mu.Unlock()
	}()

	t.writeMu.Lock()
	_ = conn.SetWriteDeadline(t.writeDeadline(ctx))
	err := conn.WriteJSON(msg)
	t.writeMu.Unlock()
	if err != nil {
		return types.Message{}, fmt.Errorf("send %s: %w", event, err)
	}

	select {
	case r, ok := <-reply:
		if !ok {
			return types.Message{}, ErrClosed
		}
		if e, _ := r.Data["error"].(string); e != "" {
			return r, fmt.Errorf("%s rejected: %s", event, e)
		}
		return r, nil
	case <-ctx.Done():
		return types.Message{}, fmt.Errorf("%s: %w", event, ctx.Err())
	}
}

func (t *WS) writeDeadline(ctx context.Context) time.Time {
	deadline := time.Now().Add(t.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && (t.cfg.WriteTimeout <= 0 || d.Before(deadline)) {
		return d
	}
	if t.cfg.WriteTimeout <= 0 {
		return time.Time{}
	}
	return deadline
}

func (t *WS) readLoop(conn *websocket.Conn) {
	for {
		var msg types.Message
		if err := conn.ReadJSON(&msg); err != nil {
			t.connectionLost(conn, err)
			return
		}
		t.dispatch(msg)
	}
}

func (t *WS) dispatch(msg types.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ch, ok := t.pending[msg.ID]; ok && msg.ID != "" {
		ch <- msg
		delete(t.pending, msg.ID)
		return
	}
	if msg.Channel == ChannelStats {
		if loss, ok := msg.Data["packet_loss"].(float64); ok {
			t.stats.PacketLoss = loss
		}
		return
	}
	t.logger.Debug().Str("channel", msg.Channel).Str("event", msg.Event).Msg("unhandled message")
}

// connectionLost fails pending requests and reports the drop unless Close
// caused it.
func (t *WS) connectionLost(conn *websocket.Conn, err error) {
	t.mu.Lock()
	if t.conn != conn {
		t.mu.Unlock()
		return
	}
	t.conn = nil
	closing := t.closing
	for id, ch := range t.pending {
		close(ch)
		delete(t.pending, id)
	}
	cb := t.onFailure
	t.mu.Unlock()
	_ = conn.Close()

	if closing || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		return
	}
	t.logger.Warn().Err(err).Msg("signaling connection lost")
	if cb != nil {
		cb(err)
	}
}
