package channel

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"askweb/internal/agent"
	"askweb/internal/domain"
)

func dialWS(t *testing.T, srv *httptest.Server, chatID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?chat_id=" + chatID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readWS(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWebSocket_SubmitStreamsUntilDone(t *testing.T) {
	srv, _ := newTestAPI(t, &fakeStages{answer: "Paris.", related: []string{"More?"}})
	conn := dialWS(t, srv, "ws-1")

	hello := readWS(t, conn)
	assert.Equal(t, "status", hello.Type)
	assert.Equal(t, "ws-1", hello.ChatID)

	require.NoError(t, conn.WriteJSON(WSMessage{Type: "submit", Form: domain.Form{"input": "capital of France"}}))

	var updates []agent.Update
	for {
		msg := readWS(t, conn)
		if msg.Type == "done" {
			assert.Empty(t, msg.Error)
			break
		}
		require.Equal(t, "update", msg.Type)
		require.NotNil(t, msg.Update)
		updates = append(updates, *msg.Update)
	}
	require.NotEmpty(t, updates)
	assert.Equal(t, agent.UpdateGenerating, updates[0].Kind)
	assert.True(t, updates[0].Flag)
	last := updates[len(updates)-1]
	assert.Equal(t, agent.UpdateGenerating, last.Kind)
	assert.False(t, last.Flag)

	require.NoError(t, conn.WriteJSON(WSMessage{Type: "ui"}))
	ui := readWS(t, conn)
	assert.Equal(t, "ui", ui.Type)
	nodes, ok := ui.Nodes.([]any)
	require.True(t, ok)
	assert.Len(t, nodes, 4)
}

func TestWebSocket_RejectsBadMessages(t *testing.T) {
	srv, _ := newTestAPI(t, &fakeStages{})
	conn := dialWS(t, srv, "ws-2")
	readWS(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{")))
	assert.Equal(t, "error", readWS(t, conn).Type)

	require.NoError(t, conn.WriteJSON(WSMessage{Type: "submit"}))
	assert.Equal(t, "form is required", readWS(t, conn).Error)

	require.NoError(t, conn.WriteJSON(WSMessage{Type: "dance"}))
	assert.Contains(t, readWS(t, conn).Error, "unknown message type")
}
