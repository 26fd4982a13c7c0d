package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tapwire/tapwire-agent/nfc"
	"github.com/tapwire/tapwire-agent/protocol"
)

func newTestGateway(t *testing.T) (*Hub, chan nfc.Command, *websocket.Conn) {
	t.Helper()

	hub := NewHub()
	commands := make(chan nfc.Command, 8)
	s := New(Config{}, hub, commands, zap.NewNop().Sugar())

	ts := httptest.NewServer(http.HandlerFunc(s.handleWebSocket))
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	t.Cleanup(hub.Close)

	return hub, commands, conn
}

func nextCommand(t *testing.T, commands chan nfc.Command) nfc.Command {
	t.Helper()
	select {
	case cmd := <-commands:
		return cmd
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for command")
		return nfc.Command{}
	}
}

func TestWebSocket_InitialStatusRequest(t *testing.T) {
	_, commands, _ := newTestGateway(t)

	cmd := nextCommand(t, commands)
	assert.Equal(t, nfc.CommandCheckReaderStatus, cmd.Kind)
}

func TestWebSocket_ReceivesBroadcasts(t *testing.T) {
	hub, commands, conn := newTestGateway(t)
	nextCommand(t, commands) // connection handshake status request

	hub.Publish(protocol.CardStatus(true, "Card detected!"))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg protocol.Outgoing
	require.NoError(t, conn.ReadJSON(&msg))

	assert.Equal(t, protocol.TypeCardStatus, msg.Type)
	require.NotNil(t, msg.Success)
	assert.True(t, *msg.Success)
	assert.Equal(t, "Card detected!", msg.Message)
}

func TestWebSocket_WriteDataCommand(t *testing.T) {
	_, commands, conn := newTestGateway(t)
	nextCommand(t, commands)

	payloads := `[{"data_type":"TEXT","content":"hello"}]`
	require.NoError(t, conn.WriteJSON(protocol.Incoming{
		Type:     protocol.TypeWriteData,
		Payloads: payloads,
	}))

	cmd := nextCommand(t, commands)
	assert.Equal(t, nfc.CommandWriteData, cmd.Kind)
	assert.Equal(t, payloads, cmd.Payloads)
}

func TestWebSocket_GetReaderStatusCommand(t *testing.T) {
	_, commands, conn := newTestGateway(t)
	nextCommand(t, commands)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"GET_READER_STATUS"}`)))

	cmd := nextCommand(t, commands)
	assert.Equal(t, nfc.CommandCheckReaderStatus, cmd.Kind)
}

func TestWebSocket_MalformedMessageDropped(t *testing.T) {
	_, commands, conn := newTestGateway(t)
	nextCommand(t, commands)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{not json`)))

	// The connection stays usable after a malformed message.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"GET_READER_STATUS"}`)))
	cmd := nextCommand(t, commands)
	assert.Equal(t, nfc.CommandCheckReaderStatus, cmd.Kind)
}
