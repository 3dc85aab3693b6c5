// Package providers exposes a live session over HTTP and WebSocket.
package providers

import (
	"context"
	"fmt"

	"github.com/orchestra-mcp/liveconn/config"
	"github.com/orchestra-mcp/liveconn/src/hub"
	"github.com/orchestra-mcp/liveconn/src/metrics"
	"github.com/orchestra-mcp/liveconn/src/recovery"
	"github.com/orchestra-mcp/liveconn/src/service"
	"github.com/orchestra-mcp/liveconn/src/store"
	"github.com/orchestra-mcp/liveconn/src/transport"
	"github.com/orchestra-mcp/liveconn/src/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// LivePlugin wires the recovery controller, its store, the signaling
// transport and the subscriber hub into one activatable unit.
type LivePlugin struct {
	active    bool
	logger    zerolog.Logger
	cfg       *config.SocketConfig
	recovery  *config.RecoveryConfig
	storeCfg  *store.Config
	registry  *prometheus.Registry
	transport *transport.WS
	service   *service.Service
}

// NewLivePlugin creates a plugin configured from the environment.
func NewLivePlugin() *LivePlugin {
	return &LivePlugin{
		cfg:      config.SocketConfigFromEnv(),
		recovery: config.RecoveryConfigFromEnv(),
		storeCfg: store.ConfigFromEnv(),
	}
}

// NewLivePluginWithConfig creates a plugin with explicit configuration.
func NewLivePluginWithConfig(cfg *config.SocketConfig, rcfg *config.RecoveryConfig, scfg *store.Config) *LivePlugin {
	return &LivePlugin{cfg: cfg, recovery: rcfg, storeCfg: scfg}
}

func (p *LivePlugin) ID() string      { return "orchestra/live" }
func (p *LivePlugin) Name() string    { return "Live Connection" }
func (p *LivePlugin) Version() string { return "0.1.0" }
func (p *LivePlugin) IsActive() bool  { return p.active }

// ListenAddr returns the configured HTTP listen address.
func (p *LivePlugin) ListenAddr() string {
	if p.cfg == nil || p.cfg.ListenAddr == "" {
		return config.DefaultConfig().ListenAddr
	}
	return p.cfg.ListenAddr
}

// Service returns the live session service, nil before Activate.
func (p *LivePlugin) Service() *service.Service { return p.service }

// Registry returns the Prometheus registry holding the session collectors.
func (p *LivePlugin) Registry() *prometheus.Registry { return p.registry }

// Activate opens the store, creates the controller and hub, and dials the
// signaling server when one is configured. A failed dial is handed to the
// controller as a connection failure rather than failing activation.
func (p *LivePlugin) Activate(logger zerolog.Logger) error {
	if p.active {
		return nil
	}
	if p.cfg == nil {
		p.cfg = config.DefaultConfig()
	}
	if p.storeCfg == nil {
		p.storeCfg = &store.Config{Backend: store.BackendMemory}
	}
	p.logger = logger.With().Str("plugin", p.ID()).Logger()

	st, err := store.Open(p.storeCfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	opts := []recovery.Option{recovery.WithStore(st), recovery.WithLogger(logger)}
	var tr types.Transport
	if p.cfg.SignalingURL != "" {
		p.transport = transport.New(transport.DefaultConfig(p.cfg.SignalingURL), logger)
		tr = p.transport
		opts = append(opts, recovery.WithTransport(p.transport))
	}
	ctrl := recovery.New(p.recovery, opts...)
	if p.transport != nil {
		// Redial before the restorer rejoins the room. state-restoring only
		// runs when there is user state to restore; media-restoring always
		// runs, so a sequence never succeeds without a signaling connection.
		ctrl.On(types.EventStateRestoring, p.redial)
		ctrl.On(types.EventMediaRestoring, p.redial)
	}

	h := hub.New(p.cfg.MaxConnections, logger)
	go h.Run()

	p.registry = prometheus.NewRegistry()
	svc, err := service.New(service.Deps{
		Controller: ctrl,
		Hub:        h,
		Store:      st,
		Transport:  tr,
		Metrics:    metrics.New(p.registry),
		SessionID:  p.cfg.SessionID,
	}, logger)
	if err != nil {
		ctrl.Destroy()
		h.Stop()
		_ = st.Close()
		return err
	}
	p.service = svc

	if p.transport != nil {
		p.transport.OnFailure(ctrl.HandleConnectionFailure)
		if err := p.transport.Connect(context.Background()); err != nil {
			p.logger.Warn().Err(err).Msg("signaling unavailable, recovering")
			ctrl.HandleConnectionFailure(err)
		} else {
			ctrl.OnConnectionEstablished()
		}
	}

	p.active = true
	p.logger.Info().
		Str("session_id", svc.SessionID()).
		Str("store", p.storeCfg.Backend).
		Msg("live plugin activated")
	return nil
}

func (p *LivePlugin) redial(ctx context.Context, _ types.Event) error {
	if p.transport.Connected() {
		return nil
	}
	return p.transport.Connect(ctx)
}

// Deactivate tears the session down.
func (p *LivePlugin) Deactivate() error {
	if !p.active {
		return nil
	}
	p.active = false
	err := p.service.Close()
	if err != nil {
		p.logger.Error().Err(err).Msg("live plugin shutdown")
	}
	return err
}
