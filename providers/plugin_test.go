package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/orchestra-mcp/liveconn/config"
	"github.com/orchestra-mcp/liveconn/src/store"
	"github.com/orchestra-mcp/liveconn/src/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

func newTestPlugin(t *testing.T, signalingURL string) (*LivePlugin, *fiber.App) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.SessionID = "s-test"
	cfg.SignalingURL = signalingURL
	rcfg := &config.RecoveryConfig{
		MaxReconnectAttempts:  3,
		InitialReconnectDelay: time.Hour,
		MaxReconnectDelay:     time.Hour,
		HeartbeatInterval:     time.Hour,
	}
	p := NewLivePluginWithConfig(cfg, rcfg, &store.Config{Backend: store.BackendMemory})
	require.NoError(t, p.Activate(zerolog.Nop()))
	t.Cleanup(func() { _ = p.Deactivate() })

	app := fiber.New()
	p.RegisterRoutes(app)
	return p, app
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var m map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&m))
	return m
}

func TestPluginMetadata(t *testing.T) {
	p := NewLivePlugin()
	assert.Equal(t, "orchestra/live", p.ID())
	assert.Equal(t, "Live Connection", p.Name())
	assert.NotEmpty(t, p.Version())
	assert.False(t, p.IsActive())
	assert.NoError(t, p.Deactivate())
}

func TestActivateDeactivate(t *testing.T) {
	p, _ := newTestPlugin(t, "")
	assert.True(t, p.IsActive())
	assert.Equal(t, "s-test", p.Service().SessionID())
	assert.Equal(t, types.StatusDisconnected, p.Service().State().Status)

	require.NoError(t, p.Deactivate())
	assert.False(t, p.IsActive())
	assert.Zero(t, p.Service().Controller().PendingTimers())
}

func TestActivateUnreachableSignalingRecovers(t *testing.T) {
	p, _ := newTestPlugin(t, "ws://127.0.0.1:1/signal")
	st := p.Service().State()
	assert.Equal(t, types.StatusReconnecting, st.Status)
	assert.Equal(t, 1, st.AttemptCount)
}

func TestUnreachableSignalingExhausts(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.SignalingURL = "ws://127.0.0.1:1/signal"
	rcfg := &config.RecoveryConfig{
		MaxReconnectAttempts:  3,
		InitialReconnectDelay: 10 * time.Millisecond,
		MaxReconnectDelay:     20 * time.Millisecond,
		HeartbeatInterval:     time.Hour,
		ConnectionTimeout:     time.Second,
	}
	p := NewLivePluginWithConfig(cfg, rcfg, &store.Config{Backend: store.BackendMemory})
	require.NoError(t, p.Activate(zerolog.Nop()))
	t.Cleanup(func() { _ = p.Deactivate() })

	var established atomic.Int32
	p.Service().Controller().On(types.EventConnectionEstablished, func(context.Context, types.Event) error {
		established.Add(1)
		return nil
	})

	require.Eventually(t, func() bool {
		return p.Service().State().Status == types.StatusFailed
	}, 5*time.Second, 10*time.Millisecond)
	assert.Zero(t, established.Load())
	assert.Equal(t, 3, p.Service().State().AttemptCount)
	assert.False(t, p.transport.Connected())
}

func TestInfoRoute(t *testing.T) {
	_, app := newTestPlugin(t, "")

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/live/info", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode(t, resp)
	assert.Equal(t, "s-test", body["session_id"])
	assert.Equal(t, "live:s-test", body["channel"])
	assert.Equal(t, EventsPath, body["endpoint"])
	assert.EqualValues(t, 0, body["clients"])
}

func TestStateRoute(t *testing.T) {
	_, app := newTestPlugin(t, "")

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/live/state", nil))
	require.NoError(t, err)
	body := decode(t, resp)
	assert.Equal(t, "disconnected", body["status"])
	assert.Equal(t, "excellent", body["connection_quality"])
	assert.Contains(t, body, "round_trip_time_ms")
}

func TestReconnectRoute(t *testing.T) {
	_, app := newTestPlugin(t, "")

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/live/reconnect", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	body := decode(t, resp)
	assert.Equal(t, "reconnecting", body["status"])
	assert.EqualValues(t, 1, body["attempt_count"])
}

func TestUserStateRoute(t *testing.T) {
	p, app := newTestPlugin(t, "")

	put := func(body string) *http.Response {
		req := httptest.NewRequest(http.MethodPut, "/live/user-state", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp
	}

	resp := put(`{"userId":"u-1","roomId":"r-1","role":"student","mediaState":{"audioEnabled":true}}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	u := p.Service().Controller().UserState()
	require.NotNil(t, u)
	assert.Equal(t, "r-1", u.RoomID)
	assert.True(t, u.MediaState.AudioEnabled)

	assert.Equal(t, http.StatusBadRequest, put(`{not json`).StatusCode)
	assert.Equal(t, http.StatusUnprocessableEntity, put(`{"roomId":"r-1"}`).StatusCode)
}

func TestHandlerRoutesRawPaths(t *testing.T) {
	p, app := newTestPlugin(t, "")
	handler := p.Handler(app.Handler())
	p.Service().ForceReconnect()

	var metrics fasthttp.RequestCtx
	metrics.Request.SetRequestURI(MetricsPath)
	handler(&metrics)
	assert.Equal(t, fasthttp.StatusOK, metrics.Response.StatusCode())
	body := string(metrics.Response.Body())
	assert.Contains(t, body, "liveconn_reconnect_attempts_total 1")
	assert.Contains(t, body, `liveconn_connection_status{status="reconnecting"} 1`)

	var events fasthttp.RequestCtx
	events.Request.SetRequestURI(EventsPath)
	handler(&events)
	assert.Equal(t, fasthttp.StatusUpgradeRequired, events.Response.StatusCode())

	var info fasthttp.RequestCtx
	info.Request.SetRequestURI("/live/info")
	handler(&info)
	assert.Equal(t, fasthttp.StatusOK, info.Response.StatusCode())
	assert.Contains(t, string(info.Response.Body()), "s-test")
}
