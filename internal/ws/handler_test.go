package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskboard-live/backend/internal/model"
	"github.com/taskboard-live/backend/pkg/protocol"
)

func startTestHandler(t *testing.T, origins []string) (*Server, string) {
	t.Helper()
	s := NewServer(Config{}, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	h := NewHandler(s, origins)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.HandleConnection(w, r)
	}))
	t.Cleanup(func() {
		cancel()
		<-done
		srv.Close()
	})
	return s, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) (*websocket.Conn, string) {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	msg := readFrame(t, conn)
	require.Equal(t, protocol.EventConnected, msg.Event)
	var hello protocol.ConnectedPayload
	require.NoError(t, json.Unmarshal(msg.Data, &hello))
	require.NotEmpty(t, hello.ConnectionID)
	return conn, hello.ConnectionID
}

func readFrame(t *testing.T, conn *websocket.Conn) *protocol.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	msg, err := protocol.Decode(data)
	require.NoError(t, err)
	return msg
}

// readUntil reads frames until one carries event.
func readUntil(t *testing.T, conn *websocket.Conn, event protocol.Event) *protocol.Message {
	t.Helper()
	for i := 0; i < 10; i++ {
		msg := readFrame(t, conn)
		if msg.Event == event {
			return msg
		}
	}
	t.Fatalf("no %s frame", event)
	return nil
}

func send(t *testing.T, conn *websocket.Conn, event protocol.Event, data any) {
	t.Helper()
	b, err := protocol.Encode(event, data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, b))
}

func TestHandler_EndToEndRelay(t *testing.T) {
	_, url := startTestHandler(t, nil)

	a, aID := dial(t, url)
	b, bID := dial(t, url)
	assert.NotEqual(t, aID, bID, "every connection gets its own id")

	send(t, a, protocol.EventJoinBoard, protocol.JoinBoardPayload{BoardID: "b1", UserData: &model.UserData{ID: "u1"}})
	readUntil(t, a, protocol.EventActiveUsers)

	send(t, b, protocol.EventJoinBoard, protocol.JoinBoardPayload{BoardID: "b1", UserData: &model.UserData{ID: "u2"}})
	active := readUntil(t, b, protocol.EventActiveUsers)
	var r []model.Participant
	require.NoError(t, json.Unmarshal(active.Data, &r))
	assert.Len(t, r, 2)

	readUntil(t, a, protocol.EventUserJoined)
	readUntil(t, a, protocol.EventActiveUsers)

	send(t, a, protocol.EventTaskMoved, protocol.TaskMovedPayload{
		BoardID:     "b1",
		Source:      protocol.Location{DroppableID: "queue", Index: 0},
		Destination: protocol.Location{DroppableID: "done", Index: 0},
		TaskID:      "t1",
	})
	moved := readUntil(t, b, protocol.EventTaskUpdated)
	var p protocol.TaskMovedPayload
	require.NoError(t, json.Unmarshal(moved.Data, &p))
	assert.Equal(t, "t1", p.TaskID)

	// Dropping a's socket tells b exactly once.
	require.NoError(t, a.Close())
	left := readUntil(t, b, protocol.EventUserLeft)
	var who model.Participant
	require.NoError(t, json.Unmarshal(left.Data, &who))
	assert.Equal(t, aID, who.ConnectionID)
	after := readUntil(t, b, protocol.EventActiveUsers)
	require.NoError(t, json.Unmarshal(after.Data, &r))
	assert.Len(t, r, 1)
}

func TestHandler_MalformedFrameKeepsConnection(t *testing.T) {
	_, url := startTestHandler(t, nil)
	conn, _ := dial(t, url)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{{{")))
	send(t, conn, protocol.EventGetActiveUsers, "b1")

	msg := readFrame(t, conn)
	assert.Equal(t, protocol.EventActiveUsers, msg.Event)
	assert.JSONEq(t, `[]`, string(msg.Data))
}

func TestHandler_RejectsUnknownOrigin(t *testing.T) {
	_, url := startTestHandler(t, []string{"http://localhost:3000"})

	header := http.Header{}
	header.Set("Origin", "http://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", "http://localhost:3000")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	conn.Close()
}

func TestOriginChecker(t *testing.T) {
	req := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	open := originChecker(nil)
	assert.True(t, open(req("http://x")))

	star := originChecker([]string{"*"})
	assert.True(t, star(req("http://x")))

	strict := originChecker([]string{"http://localhost:3000/"})
	assert.True(t, strict(req("http://localhost:3000")))
	assert.True(t, strict(req("")), "non-browser clients send no origin")
	assert.False(t, strict(req("http://other")))
}
