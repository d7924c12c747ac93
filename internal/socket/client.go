// Package socket is the persistent push transport. One dispatch table is
// registered before the client runs and survives every reconnect, so handlers
// are never duplicated or lost across connection churn.
package socket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sociora/sociora-go/internal/metrics"
	"github.com/sociora/sociora-go/internal/session"
)

// Handler consumes one event's raw payload. Handlers run on the read loop
// goroutine; they must hand work off, not block.
type Handler func(data json.RawMessage)

type Config struct {
	URL              string
	HandshakeTimeout time.Duration
	PongWait         time.Duration
	WriteTimeout     time.Duration
	ReconnectMaxWait time.Duration
	ReadLimit        int64
	SendBuffer       int
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// errPermanent ends the reconnect loop for good.
var errPermanent = errors.New("socket terminated permanently")

type Client struct {
	conf   Config
	tokens session.TokenProvider
	log    *zap.SugaredLogger

	handlers      map[string]Handler
	onReconnect   func()
	onAuthFailure func()
	onTerminal    func(reason string)
	running       bool

	send chan frame
}

func New(conf Config, tokens session.TokenProvider, log *zap.SugaredLogger) *Client {
	if conf.HandshakeTimeout == 0 {
		conf.HandshakeTimeout = 10 * time.Second
	}
	if conf.PongWait == 0 {
		conf.PongWait = 60 * time.Second
	}
	if conf.WriteTimeout == 0 {
		conf.WriteTimeout = 10 * time.Second
	}
	if conf.ReconnectMaxWait == 0 {
		conf.ReconnectMaxWait = time.Minute
	}
	if conf.ReadLimit == 0 {
		conf.ReadLimit = 64 * 1024
	}
	if conf.SendBuffer == 0 {
		conf.SendBuffer = 256
	}
	return &Client{
		conf:     conf,
		tokens:   tokens,
		log:      log,
		handlers: make(map[string]Handler),
		send:     make(chan frame, conf.SendBuffer),
	}
}

// Handle registers the handler for an event name. Must be called before Run.
func (c *Client) Handle(event string, h Handler) {
	if c.running {
		c.log.Errorw("handler registered after socket start, ignored", "event", event)
		return
	}
	c.handlers[event] = h
}

// OnReconnect is invoked after every successful re-dial (not the first one).
// The engine uses it to re-join the open room and reconcile the gap.
func (c *Client) OnReconnect(fn func()) { c.onReconnect = fn }

// OnAuthFailure is invoked once when the server reports the session is dead.
// The client stops reconnecting; logout is the auth collaborator's job.
func (c *Client) OnAuthFailure(fn func()) { c.onAuthFailure = fn }

// OnTerminal is invoked when the server tells the client to stop trying.
func (c *Client) OnTerminal(fn func(reason string)) { c.onTerminal = fn }

// Run dials and serves the connection, reconnecting on backoff until ctx is
// cancelled or the server declares the session permanently failed.
func (c *Client) Run(ctx context.Context) error {
	c.running = true
	first := true
	for {
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if !first {
			metrics.Reconnects.Inc()
			if c.onReconnect != nil {
				c.onReconnect()
			}
		}
		first = false

		err = c.serve(ctx, conn)
		if errors.Is(err, errPermanent) || ctx.Err() != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		c.log.Warnw("socket connection lost, reconnecting", "error", err)
	}
}

// dial connects with a fresh token, retrying on backoff.
func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	var conn *websocket.Conn
	operation := func() error {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}
		header := http.Header{}
		header.Set("Authorization", "Bearer "+token)
		dialer := websocket.Dialer{HandshakeTimeout: c.conf.HandshakeTimeout}
		ws, resp, err := dialer.DialContext(ctx, c.conf.URL, header)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			c.log.Warnw("socket dial failed", "url", c.conf.URL, "error", err)
			return err
		}
		conn = ws
		return nil
	}
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = c.conf.ReconnectMaxWait
	b.MaxElapsedTime = 0 // keep trying until cancelled
	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return conn, nil
}

// serve runs the read loop and a write pump for one connection.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) error {
	defer conn.Close()

	writeDone := make(chan struct{})
	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		defer close(writeDone)
		c.writePump(serveCtx, conn)
	}()

	conn.SetReadLimit(c.conf.ReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(c.conf.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.conf.PongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			cancel()
			<-writeDone
			return err
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.log.Warnw("malformed socket frame dropped", "error", err)
			continue
		}
		if done := c.dispatch(f); done != nil {
			cancel()
			<-writeDone
			return done
		}
	}
}

// dispatch routes one frame. Terminal server events end the session; anything
// unrecognized is dropped with a log, at-least-once delivery makes redelivery
// of known events routine.
func (c *Client) dispatch(f frame) error {
	switch f.Event {
	case EventAuthFailure:
		c.log.Errorw("server reported permanent auth failure")
		if c.onAuthFailure != nil {
			c.onAuthFailure()
		}
		return errPermanent
	case EventConnectionFailed:
		c.log.Errorw("server reported permanent connection failure")
		if c.onTerminal != nil {
			c.onTerminal(f.Event)
		}
		return errPermanent
	}
	if h, ok := c.handlers[f.Event]; ok {
		h(f.Data)
	} else {
		c.log.Debugw("unhandled socket event", "event", f.Event)
	}
	return nil
}

func (c *Client) writePump(ctx context.Context, conn *websocket.Conn) {
	interval := c.conf.PongWait / 2
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
			_ = conn.WriteControl(websocket.CloseMessage, nil, time.Now().Add(time.Second))
			return
		case f := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(c.conf.WriteTimeout))
			if err := conn.WriteJSON(f); err != nil {
				c.log.Warnw("socket write failed", "event", f.Event, "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(c.conf.WriteTimeout))
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
				return
			}
		}
	}
}

// Emit queues an event for the server. The queue is drained by the current
// connection's write pump; during a reconnect gap frames wait in the buffer.
func (c *Client) Emit(event string, v any) error {
	var data json.RawMessage
	if v != nil {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		data = b
	}
	select {
	case c.send <- frame{Event: event, Data: data}:
		return nil
	default:
		return errors.New("socket send buffer full")
	}
}

// JoinRoom subscribes to a conversation's events.
func (c *Client) JoinRoom(conversationID string) error {
	return c.Emit(EventJoinRoom, RoomPayload{ConversationID: conversationID})
}

// LeaveRoom unsubscribes from a conversation's events.
func (c *Client) LeaveRoom(conversationID string) error {
	return c.Emit(EventLeaveRoom, RoomPayload{ConversationID: conversationID})
}
