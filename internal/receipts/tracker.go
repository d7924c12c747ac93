// Package receipts merges local "mark as read" intents with confirmed remote
// acknowledgements into the store's per-message reader sets. The tracker
// holds no message state of its own; it annotates store entries by key.
package receipts

import (
	"context"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/sociora/sociora-go/internal/apperr"
	"github.com/sociora/sociora-go/internal/model"
	"github.com/sociora/sociora-go/internal/store"
)

type api interface {
	MarkRead(ctx context.Context, conversationID string, messageIDs []string) error
}

type Tracker struct {
	api      api
	store    *store.Store
	viewerID string
	log      *zap.SugaredLogger
	validate *validator.Validate
}

func New(a api, st *store.Store, viewerID string, log *zap.SugaredLogger) *Tracker {
	return &Tracker{api: a, store: st, viewerID: viewerID, log: log, validate: validator.New()}
}

type seenBatch struct {
	ConversationID string   `validate:"required"`
	MessageIDs     []string `validate:"required,min=1,dive,required"`
}

// MarkSeen reports the visible messages as read in one batched call. Only
// messages from other senders that the viewer hasn't read yet are sent; if
// nothing qualifies, no call is made. The local readBy merge happens after
// the server confirms, so a failed call mutates nothing.
func (t *Tracker) MarkSeen(ctx context.Context, conversationID string, visible []*model.Message) error {
	ids := make([]string, 0, len(visible))
	for _, m := range visible {
		if m == nil || m.SenderID == t.viewerID || m.IsReadBy(t.viewerID) {
			continue
		}
		ids = append(ids, m.ID)
	}
	if len(ids) == 0 {
		return nil
	}
	batch := seenBatch{ConversationID: conversationID, MessageIDs: ids}
	if err := t.validate.Struct(batch); err != nil {
		return apperr.Wrapf(apperr.ErrValidation, "mark seen: %v", err)
	}
	if err := t.api.MarkRead(ctx, conversationID, ids); err != nil {
		return err
	}
	t.store.MarkRead(conversationID, t.viewerID, ids)
	t.store.ClearUnread(conversationID)
	return nil
}

// OnRemoteRead applies a confirmed read acknowledgement. Nil messageIDs means
// the reader has seen everything up to now, so every buffered message grows,
// not just the latest one.
func (t *Tracker) OnRemoteRead(conversationID, readerID string, messageIDs []string) {
	if readerID == "" {
		return
	}
	changed := t.store.MarkRead(conversationID, readerID, messageIDs)
	if changed > 0 {
		t.log.Debugw("remote read applied",
			"conversation_id", conversationID, "reader_id", readerID, "messages", changed)
	}
}
