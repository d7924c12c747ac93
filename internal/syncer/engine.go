// Package syncer merges REST snapshots and socket deltas into the
// conversation store. All store mutations flow through one apply goroutine;
// transports enqueue work and never touch state directly.
package syncer

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sociora/sociora-go/internal/categorize"
	"github.com/sociora/sociora-go/internal/metrics"
	"github.com/sociora/sociora-go/internal/model"
	"github.com/sociora/sociora-go/internal/rest"
	"github.com/sociora/sociora-go/internal/socket"
	"github.com/sociora/sociora-go/internal/store"
	"github.com/sociora/sociora-go/internal/typing"
)

// API is the slice of the REST client the engine consumes.
type API interface {
	FetchConversations(ctx context.Context, page rest.Page) ([]*model.Conversation, error)
	FetchRequests(ctx context.Context, page rest.Page) ([]*model.Conversation, error)
	FetchFollowing(ctx context.Context) (map[string]struct{}, error)
	FetchMessages(ctx context.Context, conversationID string, page rest.Page) ([]*model.Message, error)
	SendMessage(ctx context.Context, in rest.SendMessageInput) (*model.Message, error)
}

func unmarshal(data json.RawMessage, v any) error {
	return json.Unmarshal(data, v)
}

// Rooms is the slice of the socket client the engine drives.
type Rooms interface {
	JoinRoom(conversationID string) error
	LeaveRoom(conversationID string) error
}

// RemoteReads receives confirmed read acknowledgements.
type RemoteReads interface {
	OnRemoteRead(conversationID, readerID string, messageIDs []string)
}

type Config struct {
	PageSize           int
	QueueSize          int
	RefetchMinInterval time.Duration
}

type Engine struct {
	api       API
	rooms     Rooms
	store     *store.Store
	typing    *typing.Tracker
	receipts  RemoteReads
	decisions categorize.DecisionLookup
	viewerID  string
	log       *zap.SugaredLogger
	conf      Config

	refetch   *rate.Limiter
	queue     chan func()
	following map[string]struct{}
	baseCtx   context.Context
}

func New(api API, rooms Rooms, st *store.Store, ty *typing.Tracker, rr RemoteReads,
	decisions categorize.DecisionLookup, viewerID string, conf Config, log *zap.SugaredLogger) *Engine {
	if conf.PageSize <= 0 {
		conf.PageSize = 50
	}
	if conf.QueueSize <= 0 {
		conf.QueueSize = 512
	}
	if conf.RefetchMinInterval <= 0 {
		conf.RefetchMinInterval = 30 * time.Second
	}
	return &Engine{
		api:       api,
		rooms:     rooms,
		store:     st,
		typing:    ty,
		receipts:  rr,
		decisions: decisions,
		viewerID:  viewerID,
		log:       log,
		conf:      conf,
		refetch:   rate.NewLimiter(rate.Every(conf.RefetchMinInterval), 1),
		queue:     make(chan func(), conf.QueueSize),
		following: make(map[string]struct{}),
		baseCtx:   context.Background(),
	}
}

// Run drains the apply queue until ctx is cancelled. It is the only goroutine
// that mutates the store through the delta path.
func (e *Engine) Run(ctx context.Context) error {
	e.baseCtx = ctx
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-e.queue:
			fn()
		}
	}
}

func (e *Engine) enqueue(fn func()) {
	select {
	case e.queue <- fn:
	default:
		// The queue only backs up if Run is stalled; losing one delta is
		// recovered by the next reconcile, a deadlocked read loop is not.
		e.log.Errorw("apply queue full, delta dropped")
	}
}

// enqueueWait runs fn on the apply goroutine and waits for it.
func (e *Engine) enqueueWait(fn func()) {
	done := make(chan struct{})
	e.queue <- func() {
		fn()
		close(done)
	}
	<-done
}

// BindSocket registers the engine's handlers on the socket dispatch table.
// Called once at construction time, before the socket runs.
func (e *Engine) BindSocket(c *socket.Client) {
	c.Handle(socket.EventNewMessage, func(data json.RawMessage) {
		var p socket.NewMessagePayload
		if err := unmarshal(data, &p); err != nil {
			e.log.Warnw("bad new_message payload", "error", err)
			return
		}
		e.enqueue(func() { e.applyNewMessage(p) })
	})
	c.Handle(socket.EventMessageDeleted, func(data json.RawMessage) {
		var p socket.MessageDeletedPayload
		if err := unmarshal(data, &p); err != nil {
			e.log.Warnw("bad message_deleted payload", "error", err)
			return
		}
		e.enqueue(func() { e.applyMessageDeleted(p) })
	})
	c.Handle(socket.EventMessagesRead, func(data json.RawMessage) {
		var p socket.MessagesReadPayload
		if err := unmarshal(data, &p); err != nil {
			e.log.Warnw("bad messages_read payload", "error", err)
			return
		}
		e.enqueue(func() {
			metrics.DeltasApplied.WithLabelValues(socket.EventMessagesRead).Inc()
			e.receipts.OnRemoteRead(p.ConversationID, p.ReaderID, p.MessageIDs)
		})
	})
	// Typing state is ephemeral and owned by the tracker; it never touches
	// the store, so it bypasses the apply queue.
	c.Handle(socket.EventUserTyping, func(data json.RawMessage) {
		var p socket.TypingPayload
		if err := unmarshal(data, &p); err != nil {
			return
		}
		e.typing.OnRemoteTyping(p.ConversationID, p.UserID, p.DisplayName)
	})
	c.Handle(socket.EventUserStoppedTyping, func(data json.RawMessage) {
		var p socket.StoppedTypingPayload
		if err := unmarshal(data, &p); err != nil {
			return
		}
		e.typing.OnRemoteStopped(p.ConversationID, p.UserID)
	})
	c.OnReconnect(func() {
		go e.reconnectSync()
	})
}

// Reconcile performs the initial load: active and request snapshots plus the
// following set are fetched in parallel, classified, and swapped in as the
// new authoritative lists.
func (e *Engine) Reconcile(ctx context.Context) error {
	var (
		active    []*model.Conversation
		requested []*model.Conversation
		following map[string]struct{}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		active, err = e.fetchAll(gctx, e.api.FetchConversations)
		return err
	})
	g.Go(func() error {
		var err error
		requested, err = e.fetchAll(gctx, e.api.FetchRequests)
		return err
	})
	g.Go(func() error {
		var err error
		following, err = e.api.FetchFollowing(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	direct, groups, reqs := e.classify(append(active, requested...), following)
	e.enqueueWait(func() {
		e.following = following
		e.store.ReplaceLists(direct, groups, reqs)
	})
	e.log.Infow("reconcile complete",
		"direct", len(direct), "groups", len(groups), "requests", len(reqs))
	return nil
}

func (e *Engine) fetchAll(ctx context.Context, fetch func(context.Context, rest.Page) ([]*model.Conversation, error)) ([]*model.Conversation, error) {
	var all []*model.Conversation
	for offset := 0; ; offset += e.conf.PageSize {
		page, err := fetch(ctx, rest.Page{Limit: e.conf.PageSize, Offset: offset})
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < e.conf.PageSize {
			return all, nil
		}
	}
}

// classify buckets conversations, deduplicating ids across the two source
// fetches (the backend can return a thread on both endpoints mid-transition).
func (e *Engine) classify(convs []*model.Conversation, following map[string]struct{}) (direct, groups, reqs []*model.Conversation) {
	seen := make(map[string]struct{}, len(convs))
	for _, conv := range convs {
		if conv == nil || conv.ID == "" {
			continue
		}
		if _, dup := seen[conv.ID]; dup {
			continue
		}
		seen[conv.ID] = struct{}{}
		switch categorize.Classify(conv, e.viewerID, following, e.decisions) {
		case categorize.Suppressed:
		case categorize.IncomingRequest:
			reqs = append(reqs, conv)
		default:
			if conv.Kind == model.KindGroup {
				groups = append(groups, conv)
			} else {
				direct = append(direct, conv)
			}
		}
	}
	return direct, groups, reqs
}

func (e *Engine) applyNewMessage(p socket.NewMessagePayload) {
	msg := p.Message
	if msg == nil || msg.ID == "" {
		e.log.Warnw("new_message without message, dropped", "conversation_id", p.ConversationID)
		return
	}
	convID := p.ConversationID
	if convID == "" {
		convID = msg.ConversationID
	}
	msg.ConversationID = convID
	msg.AddReader(msg.SenderID)

	open := e.store.Open() == convID
	increment := !open && msg.SenderID != e.viewerID
	if !e.store.UpsertLastMessage(convID, msg.Summary(), increment) {
		// Unknown conversation: membership is stale. Refetch instead of
		// inventing a shell record from delta data.
		e.triggerRefetch(convID)
		return
	}
	metrics.DeltasApplied.WithLabelValues(socket.EventNewMessage).Inc()
	if open {
		if !e.store.AppendMessage(msg) {
			metrics.DuplicatesDropped.Inc()
			e.log.Debugw("duplicate message dropped", "conversation_id", convID, "message_id", msg.ID)
		}
	}
}

func (e *Engine) applyMessageDeleted(p socket.MessageDeletedPayload) {
	metrics.DeltasApplied.WithLabelValues(socket.EventMessageDeleted).Inc()
	e.store.RemoveMessage(p.ConversationID, p.MessageID)
}

func (e *Engine) triggerRefetch(conversationID string) {
	if !e.refetch.Allow() {
		metrics.RefetchesSuppressed.Inc()
		e.log.Debugw("refetch suppressed by rate limit", "conversation_id", conversationID)
		return
	}
	metrics.RefetchesTriggered.Inc()
	e.log.Infow("delta for unknown conversation, refetching", "conversation_id", conversationID)
	ctx := e.baseCtx
	go func() {
		if err := e.Reconcile(ctx); err != nil {
			e.log.Warnw("triggered refetch failed", "error", err)
		}
	}()
}

// reconnectSync closes the gap after a socket reconnect: re-join the open
// conversation's room and merge the first page of the active list. It is
// deliberately lighter than a full reload.
func (e *Engine) reconnectSync() {
	ctx, cancel := context.WithTimeout(e.baseCtx, 30*time.Second)
	defer cancel()

	if open := e.store.Open(); open != "" {
		if err := e.rooms.JoinRoom(open); err != nil {
			e.log.Warnw("room rejoin failed", "conversation_id", open, "error", err)
		}
	}
	page, err := e.api.FetchConversations(ctx, rest.Page{Limit: e.conf.PageSize})
	if err != nil {
		e.log.Warnw("reconnect reconciliation failed", "error", err)
		return
	}
	e.enqueueWait(func() {
		for _, conv := range page {
			switch categorize.Classify(conv, e.viewerID, e.following, e.decisions) {
			case categorize.Suppressed:
			case categorize.IncomingRequest:
				e.store.UpsertConversation(conv, store.ListRequests)
			default:
				if conv.Kind == model.KindGroup {
					e.store.UpsertConversation(conv, store.ListGroups)
				} else {
					e.store.UpsertConversation(conv, store.ListDirect)
				}
			}
		}
	})
	e.log.Infow("reconnect reconciliation complete", "merged", len(page))
}

// OpenConversation marks a conversation as the one on screen, joins its
// socket room, and loads its recent history into the buffer.
func (e *Engine) OpenConversation(ctx context.Context, conversationID string) error {
	e.store.SetOpen(conversationID)
	if err := e.rooms.JoinRoom(conversationID); err != nil {
		e.log.Warnw("room join failed", "conversation_id", conversationID, "error", err)
	}
	msgs, err := e.api.FetchMessages(ctx, conversationID, rest.Page{Limit: e.conf.PageSize})
	if err != nil {
		return err
	}
	e.enqueueWait(func() {
		e.store.MergeHistory(conversationID, msgs)
		e.store.ClearUnread(conversationID)
	})
	return nil
}

// CloseConversation tears the open view down: flush any pending stop-typing
// emission, leave the room, release the buffer.
func (e *Engine) CloseConversation(ctx context.Context) {
	open := e.store.Open()
	if open == "" {
		return
	}
	e.typing.LeaveConversation(ctx, open)
	if err := e.rooms.LeaveRoom(open); err != nil {
		e.log.Warnw("room leave failed", "conversation_id", open, "error", err)
	}
	e.store.SetOpen("")
	e.store.DropBuffer(open)
}

// SendMessage appends an optimistic local copy, posts to the backend, and
// replaces the copy with the authoritative message. On failure the optimistic
// mutation is rolled back and the error surfaces to the caller.
func (e *Engine) SendMessage(ctx context.Context, in rest.SendMessageInput) (*model.Message, error) {
	local := model.NewLocalMessage(in.ConversationID, e.viewerID, in.Type, in.Body, in.Media, in.ReplyToID)
	in.ClientRef = local.ID

	e.enqueueWait(func() {
		e.store.AppendMessage(local)
		e.store.UpsertLastMessage(in.ConversationID, local.Summary(), false)
	})

	msg, err := e.api.SendMessage(ctx, in)
	if err != nil {
		e.enqueueWait(func() {
			e.store.RevertMessage(in.ConversationID, local.ID)
		})
		return nil, err
	}

	msg.ConversationID = in.ConversationID
	msg.AddReader(msg.SenderID)
	e.enqueueWait(func() {
		e.store.ConfirmMessage(in.ConversationID, local.ID, msg)
		e.store.UpsertLastMessage(in.ConversationID, msg.Summary(), false)
	})
	return msg.Clone(), nil
}
