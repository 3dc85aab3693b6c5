package hub

import (
	"errors"
	"sync"

	"github.com/orchestra-mcp/liveconn/src/types"
	"github.com/rs/zerolog"
)

// ErrHubFull is returned by Register when the subscriber limit is reached.
var ErrHubFull = errors.New("hub: subscriber limit reached")

// Hub fans controller events out to WebSocket subscribers (UI badges,
// dashboards) and routes their commands to channel handlers.
type Hub struct {
	clients  map[string]*Client
	channels map[string]map[string]bool // channel -> set of clientIDs

	register   chan registration
	unregister chan *Client
	incoming   chan types.Message
	broadcast  chan broadcastMsg

	handlers  map[string]types.MessageHandler
	onConnect []func(string)
	onDisconn []func(string)

	maxClients int
	mu         sync.RWMutex
	logger     zerolog.Logger
	done       chan struct{}
	stopOnce   sync.Once
}

type registration struct {
	client   *Client
	channels []string
}

type broadcastMsg struct {
	channel string
	msg     types.Message
}

// New creates a hub accepting up to maxClients subscribers (0 = unlimited).
func New(maxClients int, logger zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		channels:   make(map[string]map[string]bool),
		register:   make(chan registration),
		unregister: make(chan *Client),
		incoming:   make(chan types.Message, 256),
		broadcast:  make(chan broadcastMsg, 256),
		handlers:   make(map[string]types.MessageHandler),
		maxClients: maxClients,
		logger:     logger.With().Str("component", "hub").Logger(),
		done:       make(chan struct{}),
	}
}

// Run starts the hub event loop. Call in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case r := <-h.register:
			h.addClient(r.client, r.channels)
		case client := <-h.unregister:
			h.removeClient(client)
		case msg := <-h.incoming:
			h.handleMessage(msg)
		case bm := <-h.broadcast:
			h.broadcastToChannel(bm.channel, bm.msg)
		case <-h.done:
			h.closeAll()
			return
		}
	}
}

// Stop halts the hub event loop and closes every subscriber. Safe to call
// more than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Register queues a client for registration, subscribed to channels once
// it is added.
func (h *Hub) Register(c *Client, channels ...string) error {
	h.mu.RLock()
	full := h.maxClients > 0 && len(h.clients) >= h.maxClients
	h.mu.RUnlock()
	if full {
		return ErrHubFull
	}
	select {
	case h.register <- registration{client: c, channels: channels}:
		return nil
	case <-h.done:
		return errors.New("hub: stopped")
	}
}

// Unregister queues a client for removal.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) addClient(c *Client, channels []string) {
	h.mu.Lock()
	h.clients[c.ID] = c
	for _, ch := range channels {
		if h.channels[ch] == nil {
			h.channels[ch] = make(map[string]bool)
		}
		h.channels[ch][c.ID] = true
		c.addChannel(ch)
	}
	h.mu.Unlock()

	h.logger.Info().Str("client_id", c.ID).Msg("subscriber registered")

	for _, cb := range h.connectCallbacks() {
		cb(c.ID)
	}
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.ID)

	// Remove from all channel subscriptions.
	for ch, subs := range h.channels {
		delete(subs, c.ID)
		if len(subs) == 0 {
			delete(h.channels, ch)
		}
	}
	cbs := h.onDisconn
	h.mu.Unlock()

	c.Close()
	h.logger.Info().Str("client_id", c.ID).Msg("subscriber unregistered")

	for _, cb := range cbs {
		cb(c.ID)
	}
}

func (h *Hub) connectCallbacks() []func(string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.onConnect
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*Client)
	h.channels = make(map[string]map[string]bool)
	h.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
}
