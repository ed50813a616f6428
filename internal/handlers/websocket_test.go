package handlers

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camlive/signaling-relay/internal/models"
	"github.com/camlive/signaling-relay/internal/relay"
)

func dialSignaling(t *testing.T, core *relay.Relay) *websocket.Conn {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/ws/signal", HandleSignaling(core))

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/signal"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) *models.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	env, err := models.Decode(raw)
	require.NoError(t, err)
	return env
}

func TestWebSocketRegisterRoundTrip(t *testing.T) {
	core := relay.New(`{"iceServers":[]}`, nil)
	conn := dialSignaling(t, core)

	require.NoError(t, conn.WriteJSON(models.Envelope{
		Event: models.EventRegister,
		Data:  models.MessageData{PeerID: "dev-1"},
	}))

	ack := readEnvelope(t, conn)
	assert.Equal(t, models.EventRegistered, ack.Event)
	assert.Equal(t, "dev-1", ack.Data.PeerID)
}

func TestWebSocketSurvivesMalformedFrame(t *testing.T) {
	core := relay.New(`{"iceServers":[]}`, nil)
	conn := dialSignaling(t, core)

	// A bad frame is dropped server-side without closing the connection.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"__call"`)))

	require.NoError(t, conn.WriteJSON(models.Envelope{
		Event: models.EventPing,
		Data:  models.MessageData{Timestamp: time.Now().UnixMilli()},
	}))

	pong := readEnvelope(t, conn)
	assert.Equal(t, models.EventPong, pong.Event)
	assert.NotZero(t, pong.Data.Timestamp)
}

func TestWebSocketLegacyEventNameFrame(t *testing.T) {
	core := relay.New(`{"iceServers":[]}`, nil)
	conn := dialSignaling(t, core)

	frame := `{"eventName":"__connectto","data":{` +
		`"sessionId":"s1","sessionType":"IE","messageId":"m1",` +
		`"from":"viewer-1","to":"dev-1"}}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))

	create := readEnvelope(t, conn)
	assert.Equal(t, models.EventCreate, create.Event)
	assert.Equal(t, "dev-1", create.Data.From)
	assert.Equal(t, "viewer-1", create.Data.To)
	assert.Equal(t, "online", create.Data.State)

	// Closing the socket must cascade into relay cleanup.
	conn.Close()
	require.Eventually(t, func() bool {
		return core.Stats().OnlinePeers == 0
	}, 2*time.Second, 20*time.Millisecond)
}
