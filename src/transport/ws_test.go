package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/orchestra-mcp/liveconn/src/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// signalingServer acks every room command and can push stats or drop the
// connection on demand.
type signalingServer struct {
	*httptest.Server
	mu       sync.Mutex
	received []types.Message
	conns    []*websocket.Conn
	reject   string
}

func newSignalingServer(t *testing.T) *signalingServer {
	t.Helper()
	s := &signalingServer{}
	upgrader := websocket.Upgrader{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		for {
			var msg types.Message
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			s.mu.Lock()
			s.received = append(s.received, msg)
			reject := s.reject
			s.mu.Unlock()

			reply := types.Message{ID: msg.ID, Channel: msg.Channel, Event: msg.Event, Data: map[string]any{}}
			if reject != "" {
				reply.Data["error"] = reject
			}
			if msg.Event == EventScreenShare {
				reply.Data["streamId"] = "screen-abc"
			}
			s.mu.Lock()
			err := conn.WriteJSON(reply)
			s.mu.Unlock()
			if err != nil {
				return
			}
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *signalingServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *signalingServer) push(t *testing.T, msg types.Message) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.conns)
	require.NoError(t, s.conns[len(s.conns)-1].WriteJSON(msg))
}

func (s *signalingServer) drop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		_ = c.Close()
	}
}

func connect(t *testing.T, s *signalingServer) *WS {
	t.Helper()
	tr := New(DefaultConfig(s.wsURL()), zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, tr.Connect(ctx))
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func TestRoomCommands(t *testing.T) {
	s := newSignalingServer(t)
	tr := connect(t, s)
	ctx := context.Background()

	require.NoError(t, tr.Join(ctx, types.JoinConfig{RoomID: "arabic-101", UserID: "u1", Role: "student"}))

	on := true
	v, err := tr.ToggleVideo(ctx, &on)
	require.NoError(t, err)
	assert.True(t, v)

	v, err = tr.ToggleVideo(ctx, nil)
	require.NoError(t, err)
	assert.False(t, v, "nil toggles the current value")

	a, err := tr.ToggleAudio(ctx, nil)
	require.NoError(t, err)
	assert.True(t, a)

	stream, err := tr.StartScreenShare(ctx)
	require.NoError(t, err)
	assert.Equal(t, "screen-abc", stream.ID)

	require.NoError(t, tr.Leave(ctx))

	s.mu.Lock()
	defer s.mu.Unlock()
	require.Len(t, s.received, 6)
	assert.Equal(t, EventJoin, s.received[0].Event)
	assert.Equal(t, "arabic-101", s.received[0].Data["roomId"])
	assert.Equal(t, EventLeave, s.received[5].Event)
}

func TestRejectedCommand(t *testing.T) {
	s := newSignalingServer(t)
	s.reject = "room full"
	tr := connect(t, s)

	err := tr.Join(context.Background(), types.JoinConfig{RoomID: "r"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "room full")
}

func TestProbeMeasuresRoundTrip(t *testing.T) {
	s := newSignalingServer(t)
	tr := connect(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	rtt, err := tr.Probe(ctx)
	require.NoError(t, err)
	assert.Greater(t, rtt, time.Duration(0))

	stats, err := tr.ConnectionStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, rtt, stats.RTT)
}

func TestStatsFromServer(t *testing.T) {
	s := newSignalingServer(t)
	tr := connect(t, s)

	s.push(t, types.Message{Channel: ChannelStats, Event: "sample", Data: map[string]any{"packet_loss": 0.04}})
	require.Eventually(t, func() bool {
		st, err := tr.ConnectionStats(context.Background())
		return err == nil && st.PacketLoss == 0.04
	}, time.Second, 5*time.Millisecond)
}

func TestDropReportsFailure(t *testing.T) {
	s := newSignalingServer(t)
	tr := connect(t, s)

	failed := make(chan error, 1)
	tr.OnFailure(func(err error) { failed <- err })
	s.drop()

	select {
	case err := <-failed:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("expected failure callback")
	}

	_, err := tr.Probe(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestCloseDoesNotReportFailure(t *testing.T) {
	s := newSignalingServer(t)
	tr := connect(t, s)

	failed := make(chan error, 1)
	tr.OnFailure(func(err error) { failed <- err })
	require.NoError(t, tr.Close())

	select {
	case err := <-failed:
		t.Fatalf("unexpected failure: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	assert.ErrorIs(t, tr.Leave(context.Background()), ErrNotConnected)
}
