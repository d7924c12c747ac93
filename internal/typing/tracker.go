// Package typing tracks who is typing where. Local state drives outbound
// start/stop emissions on an idle timer; remote state is a per-conversation
// map whose entries expire on a defensive timeout in case the matching
// stopped event is lost.
package typing

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sociora/sociora-go/internal/metrics"
	"github.com/sociora/sociora-go/internal/socket"
)

// restEmitter is the REST half of the redundant typing signal.
type restEmitter interface {
	StartTyping(ctx context.Context, conversationID string) error
	StopTyping(ctx context.Context, conversationID string) error
}

// socketEmitter is the push half.
type socketEmitter interface {
	Emit(event string, v any) error
}

type User struct {
	ID          string
	DisplayName string
}

type localState struct {
	timer *time.Timer
}

type remoteEntry struct {
	name   string
	expiry *time.Timer
}

type Tracker struct {
	rest restEmitter
	sock socketEmitter
	log  *zap.SugaredLogger
	idle time.Duration
	ttl  time.Duration

	mu     sync.Mutex
	local  map[string]*localState
	remote map[string]map[string]*remoteEntry
	closed bool
}

func New(restAPI restEmitter, sock socketEmitter, log *zap.SugaredLogger, idle, ttl time.Duration) *Tracker {
	if idle == 0 {
		idle = 3 * time.Second
	}
	if ttl == 0 {
		ttl = 9 * time.Second
	}
	return &Tracker{
		rest:   restAPI,
		sock:   sock,
		log:    log,
		idle:   idle,
		ttl:    ttl,
		local:  make(map[string]*localState),
		remote: make(map[string]map[string]*remoteEntry),
	}
}

// OnLocalKeystroke marks the viewer as typing. The first keystroke emits the
// start signal on both channels and arms the idle timer; later keystrokes only
// push the timer out.
func (t *Tracker) OnLocalKeystroke(ctx context.Context, conversationID string) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	if st, ok := t.local[conversationID]; ok {
		st.timer.Reset(t.idle)
		t.mu.Unlock()
		return
	}
	st := &localState{}
	st.timer = time.AfterFunc(t.idle, func() {
		t.OnLocalIdle(context.Background(), conversationID)
	})
	t.local[conversationID] = st
	t.mu.Unlock()

	if err := t.sock.Emit(socket.EventTyping, socket.RoomPayload{ConversationID: conversationID}); err != nil {
		t.log.Warnw("socket typing emit failed", "conversation_id", conversationID, "error", err)
	}
	if err := t.rest.StartTyping(ctx, conversationID); err != nil {
		t.log.Warnw("rest typing start failed", "conversation_id", conversationID, "error", err)
	}
}

// OnLocalIdle emits the stop signal exactly once, whether reached by timer
// expiry or an explicit idle notification (blur, send, leaving the view).
func (t *Tracker) OnLocalIdle(ctx context.Context, conversationID string) {
	t.mu.Lock()
	st, ok := t.local[conversationID]
	if ok {
		st.timer.Stop()
		delete(t.local, conversationID)
	}
	t.mu.Unlock()
	if !ok {
		return
	}

	if err := t.sock.Emit(socket.EventStopTyping, socket.RoomPayload{ConversationID: conversationID}); err != nil {
		t.log.Warnw("socket typing stop emit failed", "conversation_id", conversationID, "error", err)
	}
	if err := t.rest.StopTyping(ctx, conversationID); err != nil {
		t.log.Warnw("rest typing stop failed", "conversation_id", conversationID, "error", err)
	}
}

// OnRemoteTyping records a remote user typing. The entry's defensive expiry
// restarts on every repeated typing event.
func (t *Tracker) OnRemoteTyping(conversationID, userID, displayName string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	conv, ok := t.remote[conversationID]
	if !ok {
		conv = make(map[string]*remoteEntry)
		t.remote[conversationID] = conv
	}
	if e, ok := conv[userID]; ok {
		e.name = displayName
		e.expiry.Reset(t.ttl)
		return
	}
	e := &remoteEntry{name: displayName}
	e.expiry = time.AfterFunc(t.ttl, func() {
		t.expireRemote(conversationID, userID)
	})
	conv[userID] = e
}

// OnRemoteStopped removes the entry immediately.
func (t *Tracker) OnRemoteStopped(conversationID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removeRemoteLocked(conversationID, userID)
}

func (t *Tracker) expireRemote(conversationID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.removeRemoteLocked(conversationID, userID) {
		metrics.TypingExpirations.Inc()
		t.log.Debugw("typing entry expired", "conversation_id", conversationID, "user_id", userID)
	}
}

func (t *Tracker) removeRemoteLocked(conversationID, userID string) bool {
	conv, ok := t.remote[conversationID]
	if !ok {
		return false
	}
	e, ok := conv[userID]
	if !ok {
		return false
	}
	e.expiry.Stop()
	delete(conv, userID)
	if len(conv) == 0 {
		delete(t.remote, conversationID)
	}
	return true
}

// Typing returns who is currently typing in a conversation, sorted by name
// for stable rendering.
func (t *Tracker) Typing(conversationID string) []User {
	t.mu.Lock()
	defer t.mu.Unlock()
	conv := t.remote[conversationID]
	out := make([]User, 0, len(conv))
	for id, e := range conv {
		out = append(out, User{ID: id, DisplayName: e.name})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName == out[j].DisplayName {
			return out[i].ID < out[j].ID
		}
		return out[i].DisplayName < out[j].DisplayName
	})
	return out
}

// LeaveConversation flushes a pending local stop emission for the view being
// closed and clears its remote entries.
func (t *Tracker) LeaveConversation(ctx context.Context, conversationID string) {
	t.OnLocalIdle(ctx, conversationID)
	t.mu.Lock()
	for userID := range t.remote[conversationID] {
		t.removeRemoteLocked(conversationID, userID)
	}
	t.mu.Unlock()
}

// Close stops every timer. Pending local typing flags are flushed as stop
// emissions so the backend doesn't show the viewer typing forever.
func (t *Tracker) Close(ctx context.Context) {
	t.mu.Lock()
	t.closed = true
	pending := make([]string, 0, len(t.local))
	for id := range t.local {
		pending = append(pending, id)
	}
	for convID, conv := range t.remote {
		for userID := range conv {
			t.removeRemoteLocked(convID, userID)
		}
	}
	t.mu.Unlock()
	for _, id := range pending {
		t.OnLocalIdle(ctx, id)
	}
}
