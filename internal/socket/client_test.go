package socket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sociora/sociora-go/internal/logger"
	"github.com/sociora/sociora-go/internal/session"
)

var upgrader = websocket.Upgrader{}

// testServer upgrades each request and hands the connection to serve.
func testServer(t *testing.T, serve func(conn *websocket.Conn, r *http.Request)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		serve(conn, r)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newTestClient(url string) *Client {
	return New(Config{
		URL:      url,
		PongWait: time.Second,
	}, session.StaticToken("tok-9"), logger.Nop())
}

func TestDispatchesFramesToRegisteredHandler(t *testing.T) {
	var gotAuth atomic.Value
	url := testServer(t, func(conn *websocket.Conn, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		err := conn.WriteJSON(frame{
			Event: EventNewMessage,
			Data:  json.RawMessage(`{"conversation_id":"c1"}`),
		})
		require.NoError(t, err)
		// Keep the connection up until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	c := newTestClient(url)
	payloads := make(chan NewMessagePayload, 1)
	c.Handle(EventNewMessage, func(data json.RawMessage) {
		var p NewMessagePayload
		if err := json.Unmarshal(data, &p); err == nil {
			payloads <- p
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case p := <-payloads:
		assert.Equal(t, "c1", p.ConversationID)
	case <-time.After(2 * time.Second):
		t.Fatal("handler never invoked")
	}
	assert.Equal(t, "Bearer tok-9", gotAuth.Load())

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop on cancel")
	}
}

func TestEmitReachesServer(t *testing.T) {
	frames := make(chan frame, 4)
	url := testServer(t, func(conn *websocket.Conn, _ *http.Request) {
		for {
			var f frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			frames <- f
		}
	})

	c := newTestClient(url)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	require.NoError(t, c.JoinRoom("c7"))

	select {
	case f := <-frames:
		assert.Equal(t, EventJoinRoom, f.Event)
		var p RoomPayload
		require.NoError(t, json.Unmarshal(f.Data, &p))
		assert.Equal(t, "c7", p.ConversationID)
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the frame")
	}
}

func TestAuthFailureStopsReconnecting(t *testing.T) {
	var dials int32
	url := testServer(t, func(conn *websocket.Conn, _ *http.Request) {
		atomic.AddInt32(&dials, 1)
		require.NoError(t, conn.WriteJSON(frame{Event: EventAuthFailure}))
		conn.ReadMessage() // wait for the client to drop the connection
	})

	c := newTestClient(url)
	var authFired int32
	c.OnAuthFailure(func() { atomic.AddInt32(&authFired, 1) })

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := c.Run(ctx)

	require.ErrorIs(t, err, errPermanent)
	assert.Equal(t, int32(1), atomic.LoadInt32(&authFired))
	assert.Equal(t, int32(1), atomic.LoadInt32(&dials), "no redial after permanent failure")
}

func TestTerminalEventFiresCallbackWithReason(t *testing.T) {
	url := testServer(t, func(conn *websocket.Conn, _ *http.Request) {
		require.NoError(t, conn.WriteJSON(frame{Event: EventConnectionFailed}))
		conn.ReadMessage()
	})

	c := newTestClient(url)
	reasons := make(chan string, 1)
	c.OnTerminal(func(reason string) { reasons <- reason })

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := c.Run(ctx)

	require.ErrorIs(t, err, errPermanent)
	select {
	case r := <-reasons:
		assert.Equal(t, EventConnectionFailed, r)
	default:
		t.Fatal("terminal callback not fired")
	}
}

func TestReconnectFiresCallbackAndHandlersSurvive(t *testing.T) {
	var conns int32
	url := testServer(t, func(conn *websocket.Conn, _ *http.Request) {
		n := atomic.AddInt32(&conns, 1)
		if n == 1 {
			return // drop the first connection immediately
		}
		require.NoError(t, conn.WriteJSON(frame{
			Event: EventNewMessage,
			Data:  json.RawMessage(`{"conversation_id":"after-reconnect"}`),
		}))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	c := newTestClient(url)
	var mu sync.Mutex
	var seen []string
	c.Handle(EventNewMessage, func(data json.RawMessage) {
		var p NewMessagePayload
		if json.Unmarshal(data, &p) == nil {
			mu.Lock()
			seen = append(seen, p.ConversationID)
			mu.Unlock()
		}
	})
	reconnected := make(chan struct{}, 1)
	c.OnReconnect(func() { reconnected <- struct{}{} })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	select {
	case <-reconnected:
	case <-time.After(5 * time.Second):
		t.Fatal("reconnect callback never fired")
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1 && seen[0] == "after-reconnect"
	}, 5*time.Second, 10*time.Millisecond, "handler registered before the first dial still routes after reconnect")
}

func TestEmitFailsWhenBufferIsFull(t *testing.T) {
	c := New(Config{URL: "ws://unused", SendBuffer: 1}, session.StaticToken("t"), logger.Nop())
	require.NoError(t, c.Emit(EventTyping, TypingPayload{ConversationID: "c1"}))
	assert.Error(t, c.Emit(EventTyping, TypingPayload{ConversationID: "c1"}))
}
