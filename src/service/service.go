// Package service binds one recovery controller to its event sink: lifecycle
// events are relayed to hub subscribers and their commands are routed back
// to the controller.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/orchestra-mcp/liveconn/src/hub"
	"github.com/orchestra-mcp/liveconn/src/metrics"
	"github.com/orchestra-mcp/liveconn/src/recovery"
	"github.com/orchestra-mcp/liveconn/src/store"
	"github.com/orchestra-mcp/liveconn/src/types"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

// ControlChannel carries UI commands to the controller.
const ControlChannel = "control"

// Control command events.
const (
	CommandRetry     = "retry"
	CommandUserState = "user-state"
	CommandState     = "state"
)

// Deps are the collaborators a Service wires together. Controller and Hub
// are required; the rest are optional.
type Deps struct {
	Controller *recovery.Controller
	Hub        *hub.Hub
	// Store is closed by Close.
	Store store.Store
	// Transport, when set, is restored by a Restorer and closed by Close if
	// it implements io.Closer.
	Transport types.Transport
	Metrics   *metrics.Metrics
	SessionID string
}

// Service provides the high-level API over a live session.
type Service struct {
	ctrl      *recovery.Controller
	hub       *hub.Hub
	store     store.Store
	transport types.Transport
	sessionID string
	detach    []func()
	logger    zerolog.Logger
}

// New wires deps and starts relaying controller events.
func New(d Deps, logger zerolog.Logger) (*Service, error) {
	if d.Controller == nil || d.Hub == nil {
		return nil, fmt.Errorf("service: controller and hub are required")
	}
	if d.SessionID == "" {
		d.SessionID = uuid.NewString()
	}
	s := &Service{
		ctrl:      d.Controller,
		hub:       d.Hub,
		store:     d.Store,
		transport: d.Transport,
		sessionID: d.SessionID,
		logger:    logger.With().Str("component", "service").Str("session_id", d.SessionID).Logger(),
	}

	for _, name := range types.AllEvents {
		s.detach = append(s.detach, s.ctrl.On(name, s.relay))
	}
	if d.Metrics != nil {
		s.detach = append(s.detach, d.Metrics.Observe(s.ctrl))
	}
	if d.Transport != nil {
		s.detach = append(s.detach, recovery.NewRestorer(d.Transport, logger).Attach(s.ctrl))
	}
	s.hub.RegisterHandler(ControlChannel, s.handleControl)
	return s, nil
}

// SessionID returns the session this service relays.
func (s *Service) SessionID() string { return s.sessionID }

// Channel is the hub channel carrying this session's lifecycle events.
func (s *Service) Channel() string { return "live:" + s.sessionID }

// Controller returns the underlying controller.
func (s *Service) Controller() *recovery.Controller { return s.ctrl }

// Hub returns the underlying hub.
func (s *Service) Hub() *hub.Hub { return s.hub }

// State returns the current connection state.
func (s *Service) State() types.ConnectionState { return s.ctrl.ConnectionState() }

// ForceReconnect restarts recovery from scratch.
func (s *Service) ForceReconnect() {
	s.logger.Info().Msg("reconnect requested")
	s.ctrl.ForceReconnect()
}

// SetUserState records the state to restore after a reconnection.
func (s *Service) SetUserState(u *types.UserState) error {
	if u == nil {
		return fmt.Errorf("user state is required")
	}
	if u.RoomID == "" || u.UserID == "" {
		return fmt.Errorf("user state needs roomId and userId")
	}
	s.ctrl.SetUserState(u)
	return nil
}

// Attach registers a hub client already subscribed to the session channel.
func (s *Service) Attach(c *hub.Client) error {
	if err := s.hub.Register(c, s.Channel()); err != nil {
		return err
	}
	s.logger.Debug().Str("client_id", c.ID).Msg("subscriber attached")
	return nil
}

// Subscribe adds a registered hub client to the session channel.
func (s *Service) Subscribe(clientID string) error {
	if ok := s.hub.Subscribe(s.Channel(), clientID); !ok {
		return fmt.Errorf("client %s not found", clientID)
	}
	s.logger.Debug().Str("client_id", clientID).Msg("subscribed")
	return nil
}

// Close destroys the controller, stops the hub and releases the store and
// transport.
func (s *Service) Close() error {
	for _, off := range s.detach {
		off()
	}
	s.detach = nil
	s.ctrl.Destroy()
	s.hub.Stop()

	var err error
	if c, ok := s.transport.(io.Closer); ok {
		err = multierr.Append(err, c.Close())
	}
	if s.store != nil {
		err = multierr.Append(err, s.store.Close())
	}
	return err
}

func (s *Service) relay(_ context.Context, ev types.Event) error {
	s.hub.Publish(s.Channel(), types.Message{
		ID:        uuid.NewString(),
		Channel:   s.Channel(),
		Event:     string(ev.Name),
		Data:      ev.Fields(),
		Timestamp: ev.Timestamp,
	})
	return nil
}

func (s *Service) handleControl(clientID string, msg types.Message) error {
	switch msg.Event {
	case CommandRetry:
		// Off the hub loop: the resulting events are published back through it.
		go s.ForceReconnect()
		return nil
	case CommandUserState:
		u, err := decodeUserState(msg.Data)
		if err != nil {
			return fmt.Errorf("client %s: %w", clientID, err)
		}
		return s.SetUserState(u)
	case CommandState:
		reply := types.Message{
			ID:        msg.ID,
			Channel:   ControlChannel,
			Event:     CommandState,
			Data:      stateFields(s.State()),
			Timestamp: time.Now(),
		}
		if !s.hub.SendToClient(clientID, reply) {
			return fmt.Errorf("client %s not found or buffer full", clientID)
		}
		return nil
	default:
		return fmt.Errorf("unknown control command %q", msg.Event)
	}
}

func decodeUserState(data map[string]any) (*types.UserState, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode user state: %w", err)
	}
	var u types.UserState
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, fmt.Errorf("decode user state: %w", err)
	}
	return &u, nil
}

// stateFields renders st with the same field names as its JSON form.
func stateFields(st types.ConnectionState) map[string]any {
	raw, err := json.Marshal(st)
	if err != nil {
		return map[string]any{"status": string(st.Status)}
	}
	var m map[string]any
	_ = json.Unmarshal(raw, &m)
	return m
}
