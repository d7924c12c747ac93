package rest

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/sociora/sociora-go/internal/apperr"
	"github.com/sociora/sociora-go/internal/model"
)

// Page selects one slice of a paged collection.
type Page struct {
	Limit  int
	Offset int
}

func (p Page) values() url.Values {
	v := url.Values{}
	if p.Limit > 0 {
		v.Set("limit", strconv.Itoa(p.Limit))
	}
	if p.Offset > 0 {
		v.Set("offset", strconv.Itoa(p.Offset))
	}
	return v
}

type conversationsResponse struct {
	Conversations []*model.Conversation `json:"conversations"`
}

type messagesResponse struct {
	Messages []*model.Message `json:"messages"`
}

type followingResponse struct {
	UserIDs []string `json:"user_ids"`
}

type messageResponse struct {
	Message *model.Message `json:"message"`
}

// FetchConversations returns one page of the viewer's active conversations.
func (c *Client) FetchConversations(ctx context.Context, page Page) ([]*model.Conversation, error) {
	var out conversationsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/chats", page.values(), nil, &out); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

// FetchRequests returns one page of incoming request conversations.
func (c *Client) FetchRequests(ctx context.Context, page Page) ([]*model.Conversation, error) {
	var out conversationsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/chats/requests", page.values(), nil, &out); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

// FetchFollowing returns the set of user ids the viewer follows.
func (c *Client) FetchFollowing(ctx context.Context) (map[string]struct{}, error) {
	var out followingResponse
	if err := c.do(ctx, http.MethodGet, "/v1/users/me/following", nil, nil, &out); err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(out.UserIDs))
	for _, id := range out.UserIDs {
		set[id] = struct{}{}
	}
	return set, nil
}

// FetchMessages returns one page of a conversation's history, oldest first.
func (c *Client) FetchMessages(ctx context.Context, conversationID string, page Page) ([]*model.Message, error) {
	var out messagesResponse
	if err := c.do(ctx, http.MethodGet, "/v1/chats/"+conversationID+"/messages", page.values(), nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// SendMessageInput is the outbound send payload. Either body text or a
// finalized media reference must be present.
type SendMessageInput struct {
	ConversationID string            `json:"-"               validate:"required"`
	Type           model.MessageType `json:"type"            validate:"required"`
	Body           string            `json:"body,omitempty"  validate:"required_without=Media"`
	Media          *model.MediaRef   `json:"media,omitempty"`
	ReplyToID      string            `json:"reply_to_id,omitempty"`
	ClientRef      string            `json:"client_ref,omitempty"`
}

// SendMessage posts a message and returns the authoritative server copy.
func (c *Client) SendMessage(ctx context.Context, in SendMessageInput) (*model.Message, error) {
	if err := c.validate.Struct(in); err != nil {
		return nil, apperr.Wrapf(apperr.ErrValidation, "send message: %v", err)
	}
	var out messageResponse
	if err := c.do(ctx, http.MethodPost, "/v1/chats/"+in.ConversationID+"/messages", nil, in, &out); err != nil {
		return nil, err
	}
	return out.Message, nil
}

type markReadRequest struct {
	// MessageIDs nil means "everything up to now".
	MessageIDs []string `json:"message_ids"`
}

// MarkRead reports the viewer has seen the given messages, batched into one
// call. A nil slice marks the whole conversation.
func (c *Client) MarkRead(ctx context.Context, conversationID string, messageIDs []string) error {
	return c.do(ctx, http.MethodPost, "/v1/chats/"+conversationID+"/read", nil, markReadRequest{MessageIDs: messageIDs}, nil)
}

// StartTyping and StopTyping mirror the socket typing emissions over REST for
// backend redundancy.
func (c *Client) StartTyping(ctx context.Context, conversationID string) error {
	return c.do(ctx, http.MethodPost, "/v1/chats/"+conversationID+"/typing/start", nil, nil, nil)
}

func (c *Client) StopTyping(ctx context.Context, conversationID string) error {
	return c.do(ctx, http.MethodPost, "/v1/chats/"+conversationID+"/typing/stop", nil, nil, nil)
}

// AcceptRequest accepts an incoming request conversation.
func (c *Client) AcceptRequest(ctx context.Context, conversationID string) error {
	return c.do(ctx, http.MethodPost, "/v1/chats/requests/"+conversationID+"/accept", nil, nil, nil)
}

// DeclineRequest declines an incoming request conversation.
func (c *Client) DeclineRequest(ctx context.Context, conversationID string) error {
	return c.do(ctx, http.MethodPost, "/v1/chats/requests/"+conversationID+"/decline", nil, nil, nil)
}

// FollowUser follows the counterpart of an accepted request.
func (c *Client) FollowUser(ctx context.Context, userID string) error {
	return c.do(ctx, http.MethodPost, "/v1/users/"+userID+"/follow", nil, nil, nil)
}
