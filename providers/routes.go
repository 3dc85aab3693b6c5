package providers

import (
	"strings"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/orchestra-mcp/liveconn/src/hub"
	"github.com/orchestra-mcp/liveconn/src/types"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// Raw fasthttp paths served outside Fiber.
const (
	EventsPath  = "/live/events"
	MetricsPath = "/metrics"
)

// RegisterRoutes registers the session routes via Fiber. The event stream
// upgrade and the metrics exposition are served by Handler, since Fiber v3
// does not expose *fasthttp.RequestCtx.
func (p *LivePlugin) RegisterRoutes(group fiber.Router) {
	group.Get("/live/info", p.handleInfo)
	group.Get("/live/state", p.handleState)
	group.Post("/live/reconnect", p.handleReconnect)
	group.Put("/live/user-state", p.handleUserState)
}

func (p *LivePlugin) handleInfo(c fiber.Ctx) error {
	h := p.service.Hub()
	return c.JSON(fiber.Map{
		"session_id": p.service.SessionID(),
		"channel":    p.service.Channel(),
		"endpoint":   EventsPath,
		"clients":    h.ClientCount(),
		"channels":   len(h.Channels()),
	})
}

func (p *LivePlugin) handleState(c fiber.Ctx) error {
	return c.JSON(p.service.State())
}

func (p *LivePlugin) handleReconnect(c fiber.Ctx) error {
	p.service.ForceReconnect()
	return c.Status(fiber.StatusAccepted).JSON(p.service.State())
}

func (p *LivePlugin) handleUserState(c fiber.Ctx) error {
	var u types.UserState
	if err := c.Bind().Body(&u); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body", "message": err.Error()})
	}
	if err := p.service.SetUserState(&u); err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "invalid_user_state", "message": err.Error()})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Handler returns the root fasthttp handler: the event stream and metrics
// paths are served directly, everything else goes to next (usually the
// Fiber app handler).
func (p *LivePlugin) Handler(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	events := p.FastHTTPHandler()
	metrics := p.MetricsHandler()
	return func(ctx *fasthttp.RequestCtx) {
		switch string(ctx.Path()) {
		case EventsPath:
			events(ctx)
		case MetricsPath:
			metrics(ctx)
		default:
			next(ctx)
		}
	}
}

// MetricsHandler serves the Prometheus exposition of the session collectors.
func (p *LivePlugin) MetricsHandler() fasthttp.RequestHandler {
	return fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{}))
}

// FastHTTPHandler returns a raw fasthttp handler for event stream upgrades.
// Every subscriber is subscribed to the session channel on connect.
func (p *LivePlugin) FastHTTPHandler() fasthttp.RequestHandler {
	upgrader := websocket.FastHTTPUpgrader{
		ReadBufferSize:  p.cfg.ReadBufferSize,
		WriteBufferSize: p.cfg.WriteBufferSize,
	}
	return func(ctx *fasthttp.RequestCtx) {
		upgrade := string(ctx.Request.Header.Peek("Upgrade"))
		if !strings.EqualFold(upgrade, "websocket") {
			ctx.SetStatusCode(fasthttp.StatusUpgradeRequired)
			ctx.SetContentType("application/json")
			ctx.SetBodyString(`{"error":"upgrade_required","message":"WebSocket upgrade required"}`)
			return
		}

		clientID := uuid.NewString()
		h := p.service.Hub()
		logger := p.logger

		err := upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
			client := hub.NewClient(clientID, &fasthttpConn{conn}, h, p.cfg.SendBufferSize)
			if err := p.service.Attach(client); err != nil {
				logger.Warn().Err(err).Str("client_id", clientID).Msg("subscriber rejected")
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
					time.Now().Add(time.Second))
				_ = conn.Close()
				return
			}
			go client.WritePump()
			client.ReadPump()
		})
		if err != nil {
			logger.Error().Err(err).Msg("websocket upgrade failed")
		}
	}
}

// fasthttpConn wraps fasthttp/websocket.Conn to satisfy types.Conn.
type fasthttpConn struct {
	conn *websocket.Conn
}

func (f *fasthttpConn) WriteJSON(v any) error { return f.conn.WriteJSON(v) }
func (f *fasthttpConn) ReadJSON(v any) error  { return f.conn.ReadJSON(v) }
func (f *fasthttpConn) Close() error          { return f.conn.Close() }
