package signal

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"teamdesk/internal/core/domain"
	"teamdesk/internal/core/services"
	"teamdesk/internal/infrastructure/monitoring"
	"teamdesk/internal/infrastructure/repositories/memory"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testRelay struct {
	server *WebSocketServer
	http   *httptest.Server
	url    string
}

func newTestRelay(t *testing.T, mutate func(*Options)) *testRelay {
	t.Helper()
	log := zap.NewNop().Sugar()

	metrics := monitoring.NewPrometheusCollector(prometheus.NewRegistry())
	hub := NewHub(log)
	relay := services.NewRelayService(memory.NewMemoryRoomRepository(), hub, log, services.WithMetrics(metrics))

	opts := DefaultOptions()
	if mutate != nil {
		mutate(&opts)
	}
	server := NewWebSocketServer(hub, relay, metrics, opts, log)

	ts := httptest.NewServer(http.HandlerFunc(server.HandleWebSocket))
	t.Cleanup(ts.Close)

	return &testRelay{
		server: server,
		http:   ts,
		url:    "ws" + strings.TrimPrefix(ts.URL, "http"),
	}
}

type testClient struct {
	conn *websocket.Conn
	id   domain.EndpointID
}

func (r *testRelay) dial(t *testing.T) *testClient {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(r.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	c := &testClient{conn: conn}
	f := c.read(t)
	require.Equal(t, domain.EventConnected, f.Event)

	var hello domain.ConnectedNotice
	require.NoError(t, json.Unmarshal(f.Data, &hello))
	require.NotEmpty(t, hello.ID)
	c.id = hello.ID
	return c
}

func (c *testClient) send(t *testing.T, event string, data interface{}) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, c.conn.WriteJSON(domain.Frame{Event: event, Data: raw}))
}

func (c *testClient) read(t *testing.T) domain.Frame {
	t.Helper()
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f domain.Frame
	require.NoError(t, c.conn.ReadJSON(&f))
	return f
}

func (c *testClient) readRaw(t *testing.T) string {
	t.Helper()
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := c.conn.ReadMessage()
	require.NoError(t, err)
	return string(raw)
}

func (c *testClient) expectSilence(t *testing.T) {
	t.Helper()
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	_, _, err := c.conn.ReadMessage()
	require.Error(t, err)
	var netErr interface{ Timeout() bool }
	if assert.ErrorAs(t, err, &netErr) {
		assert.True(t, netErr.Timeout())
	}
}

func (c *testClient) join(t *testing.T, room domain.RoomID, alias string) {
	t.Helper()
	c.send(t, domain.EventJoinRoom, domain.JoinRequest{RoomID: room, Alias: alias})
}

func TestWebSocketServer_JoinAndForward(t *testing.T) {
	relay := newTestRelay(t, nil)
	host := relay.dial(t)
	viewer := relay.dial(t)

	host.join(t, "123456789", "host")
	viewer.join(t, "123456789", "")

	f := host.read(t)
	assert.Equal(t, domain.EventUserConnected, f.Event)
	var notice domain.UserConnectedNotice
	require.NoError(t, json.Unmarshal(f.Data, &notice))
	assert.Equal(t, string(viewer.id), notice.ID)
	assert.Equal(t, domain.RoomID("123456789"), notice.RoomID)

	envelope := `{"target":"123456789",  "caller":"` + string(host.id) + `","signal":{"type":"offer","sdp":"v=0\r\n"}}`
	require.NoError(t, host.conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"offer","data":`+envelope+`}`)))

	raw := viewer.readRaw(t)
	assert.Equal(t, `{"event":"offer","data":`+envelope+`}`, raw)

	host.expectSilence(t)
}

func TestWebSocketServer_DirectReplyToEndpointRoom(t *testing.T) {
	relay := newTestRelay(t, nil)
	a := relay.dial(t)
	b := relay.dial(t)

	b.send(t, string(domain.SignalAnswer), domain.Envelope{
		Target: a.id.Room(),
		Caller: b.id,
		Signal: domain.SignalPayload{Type: domain.SignalTypeAnswer, SDP: "v=0"},
	})

	f := a.read(t)
	assert.Equal(t, "answer", f.Event)
	var env domain.Envelope
	require.NoError(t, json.Unmarshal(f.Data, &env))
	assert.Equal(t, b.id, env.Caller)
}

func TestWebSocketServer_RoutingMissIsSilent(t *testing.T) {
	relay := newTestRelay(t, nil)
	a := relay.dial(t)

	a.send(t, string(domain.SignalICECandidate), domain.Envelope{Target: "nobody-here", Caller: a.id})
	a.expectSilence(t)
}

func TestWebSocketServer_ErrorFrames(t *testing.T) {
	relay := newTestRelay(t, nil)
	a := relay.dial(t)

	require.NoError(t, a.conn.WriteMessage(websocket.TextMessage, []byte(`{not json`)))
	f := a.read(t)
	assert.Equal(t, domain.EventError, f.Event)
	assert.Contains(t, string(f.Data), "MALFORMED_FRAME")

	a.send(t, "hello", map[string]string{})
	f = a.read(t)
	assert.Equal(t, domain.EventError, f.Event)
	assert.Contains(t, string(f.Data), "UNKNOWN_EVENT")

	a.send(t, domain.EventJoinRoom, domain.JoinRequest{RoomID: "bad room"})
	f = a.read(t)
	assert.Contains(t, string(f.Data), "INVALID_INPUT")

	a.send(t, string(domain.SignalOffer), map[string]string{"caller": "x"})
	f = a.read(t)
	assert.Contains(t, string(f.Data), "INVALID_INPUT")
}

func TestWebSocketServer_RateLimit(t *testing.T) {
	relay := newTestRelay(t, func(o *Options) {
		o.MessagesPerSecond = 0.001
		o.Burst = 1
	})
	a := relay.dial(t)

	a.join(t, "room", "")
	a.join(t, "room", "")

	f := a.read(t)
	assert.Equal(t, domain.EventError, f.Event)
	assert.Contains(t, string(f.Data), "RATE_LIMIT_EXCEEDED")
}

func TestWebSocketServer_DisconnectCleansUp(t *testing.T) {
	relay := newTestRelay(t, nil)
	a := relay.dial(t)
	b := relay.dial(t)

	a.join(t, "room", "")
	b.join(t, "room", "")
	_ = a.read(t)

	require.NoError(t, b.conn.Close())
	assert.Eventually(t, func() bool {
		return !relay.server.hub.IsConnected(b.id)
	}, 2*time.Second, 10*time.Millisecond)

	a.send(t, string(domain.SignalOffer), domain.Envelope{Target: "room", Caller: a.id})
	a.expectSilence(t)
	assert.Equal(t, 1, relay.server.ConnectionCount())
}

func TestWebSocketServer_LeaveRoom(t *testing.T) {
	relay := newTestRelay(t, nil)
	a := relay.dial(t)
	b := relay.dial(t)

	a.join(t, "room", "")
	b.join(t, "room", "")
	_ = a.read(t)

	b.send(t, domain.EventLeaveRoom, domain.LeaveRequest{RoomID: "room"})
	time.Sleep(50 * time.Millisecond)

	a.send(t, string(domain.SignalOffer), domain.Envelope{Target: "room", Caller: a.id})
	b.expectSilence(t)
}

func TestWebSocketServer_ConnectionLimit(t *testing.T) {
	relay := newTestRelay(t, func(o *Options) { o.MaxConnections = 1 })
	_ = relay.dial(t)

	_, resp, err := websocket.DefaultDialer.Dial(relay.url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 503, resp.StatusCode)
}

func TestEncodeFrame_KeepsDataVerbatim(t *testing.T) {
	data := []byte(`{ "target" : "r" }`)
	assert.Equal(t, `{"event":"offer","data":{ "target" : "r" }}`, string(encodeFrame("offer", data)))
	assert.Equal(t, `{"event":"x","data":null}`, string(encodeFrame("x", nil)))
}
