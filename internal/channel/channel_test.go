package channel_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphscript/evalserver/internal/channel"
	"github.com/graphscript/evalserver/internal/domain"
)

var testUpgrader = websocket.Upgrader{}

func newChannelPair(t *testing.T) (*channel.WSChannel, *websocket.Conn) {
	t.Helper()
	var serverConn *websocket.Conn
	ready := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		serverConn = conn
		close(ready)
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + srv.URL[len("http"):]
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	<-ready

	return channel.New(serverConn, false, nil), clientConn
}

func TestWSChannel_Write_DeliversFrameToClient(t *testing.T) {
	ch, client := newChannelPair(t)
	defer ch.Close()
	defer client.Close()

	require.NoError(t, ch.Write(domain.Frame{RequestID: "r1", Payload: []byte(`{"requestId":"r1"}`)}))

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, payload, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(payload), "r1")
}

func TestWSChannel_IsWritable_InitiallyTrue(t *testing.T) {
	ch, client := newChannelPair(t)
	defer ch.Close()
	defer client.Close()

	assert.True(t, ch.IsWritable())
}

func TestWSChannel_IsWritable_FalseUnderBackpressure(t *testing.T) {
	ch, client := newChannelPair(t)
	defer ch.Close()
	defer client.Close()

	// The client never reads, so once the connection's own send buffer
	// fills the writer goroutine blocks on conn.WriteMessage and the
	// outbox fills up behind it.
	go func() {
		for i := 0; i < 1000; i++ {
			_ = ch.Write(domain.Frame{RequestID: "flood", Payload: make([]byte, 1024)})
		}
	}()

	require.Eventually(t, func() bool {
		return !ch.IsWritable()
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWSChannel_Close_IsIdempotent(t *testing.T) {
	ch, client := newChannelPair(t)
	defer client.Close()

	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())
}

func TestWSChannel_Write_AfterClose_ReturnsError(t *testing.T) {
	ch, client := newChannelPair(t)
	defer client.Close()

	require.NoError(t, ch.Close())
	err := ch.Write(domain.Frame{RequestID: "r2", Payload: []byte("x")})
	assert.Error(t, err)
}
