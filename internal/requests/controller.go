// Package requests drives the accept/decline workflow for incoming request
// conversations. Both operations wait for server confirmation before touching
// local state: they are rare, user-initiated, and an accidental follow is
// worse than a slow one.
package requests

import (
	"context"

	"go.uber.org/zap"

	"github.com/sociora/sociora-go/internal/apperr"
	"github.com/sociora/sociora-go/internal/decision"
	"github.com/sociora/sociora-go/internal/store"
)

type api interface {
	AcceptRequest(ctx context.Context, conversationID string) error
	DeclineRequest(ctx context.Context, conversationID string) error
	FollowUser(ctx context.Context, userID string) error
}

type Controller struct {
	api      api
	store    *store.Store
	cache    *decision.Cache
	viewerID string
	log      *zap.SugaredLogger
}

func New(a api, st *store.Store, cache *decision.Cache, viewerID string, log *zap.SugaredLogger) *Controller {
	return &Controller{api: a, store: st, cache: cache, viewerID: viewerID, log: log}
}

// Accept confirms the request server-side, follows the counterpart, records
// the decision durably, and promotes the conversation into the active list.
// Any failure before the record step surfaces to the caller with nothing
// mutated locally.
func (c *Controller) Accept(ctx context.Context, conversationID string) error {
	conv, list := c.store.Conversation(conversationID)
	if conv == nil || list != store.ListRequests {
		return apperr.Wrapf(apperr.ErrNotFound, "accept %s: not in requests", conversationID)
	}

	other, ok := conv.Counterpart(c.viewerID)
	if !ok && conv.LastMessage != nil && conv.LastMessage.SenderID != c.viewerID {
		// Participant list incomplete; the last sender is the requester.
		other = conv.LastMessage.SenderID
		ok = true
	}
	if !ok {
		return apperr.Wrapf(apperr.ErrValidation, "accept %s: cannot resolve counterpart", conversationID)
	}

	if err := c.api.AcceptRequest(ctx, conversationID); err != nil && !apperr.AlreadyApplied(err) {
		return err
	}
	if err := c.api.FollowUser(ctx, other); err != nil && !apperr.AlreadyApplied(err) {
		return err
	}
	if err := c.cache.Record(conversationID, decision.Accepted); err != nil {
		return err
	}
	c.store.PromoteRequest(conversationID)
	c.log.Infow("request accepted", "conversation_id", conversationID, "counterpart", other)
	return nil
}

// Decline declines server-side, records the decision, and drops the
// conversation from the requests list. A not-found from the server means the
// request was already gone and counts as success.
func (c *Controller) Decline(ctx context.Context, conversationID string) error {
	if _, list := c.store.Conversation(conversationID); list != store.ListRequests {
		return apperr.Wrapf(apperr.ErrNotFound, "decline %s: not in requests", conversationID)
	}
	if err := c.api.DeclineRequest(ctx, conversationID); err != nil && !apperr.AlreadyApplied(err) {
		return err
	}
	if err := c.cache.Record(conversationID, decision.Declined); err != nil {
		return err
	}
	c.store.RemoveRequest(conversationID)
	c.log.Infow("request declined", "conversation_id", conversationID)
	return nil
}
