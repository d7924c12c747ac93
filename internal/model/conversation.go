package model

import "time"

type Kind string

const (
	KindDirect Kind = "direct"
	KindGroup  Kind = "group"
)

// MessageSummary is the last-message preview carried on a conversation.
type MessageSummary struct {
	SenderID  string    `json:"sender_id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// GroupMeta is present only on group conversations.
type GroupMeta struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	ImageURL    string   `json:"image_url,omitempty"`
	AdminIDs    []string `json:"admin_ids,omitempty"`
}

type Conversation struct {
	ID             string          `json:"id"`
	Kind           Kind            `json:"kind"`
	ParticipantIDs []string        `json:"participant_ids"`
	CreatorID      string          `json:"creator_id,omitempty"`
	Group          *GroupMeta      `json:"group,omitempty"`
	LastMessage    *MessageSummary `json:"last_message,omitempty"`
	LastActivityAt time.Time       `json:"last_activity_at"`
	UnreadCount    int             `json:"unread_count"`
	MutedBy        []string        `json:"muted_by,omitempty"`
	PinnedBy       []string        `json:"pinned_by,omitempty"`
	BlockedIDs     []string        `json:"blocked_ids,omitempty"`
}

func (c *Conversation) HasParticipant(userID string) bool {
	for _, id := range c.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// ValidParticipants returns the participant list with empty and duplicate
// entries removed, preserving order.
func (c *Conversation) ValidParticipants() []string {
	seen := make(map[string]struct{}, len(c.ParticipantIDs))
	out := make([]string, 0, len(c.ParticipantIDs))
	for _, id := range c.ParticipantIDs {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Counterpart returns the other party of a direct conversation. The second
// return is false for group conversations or when the participant list does
// not resolve to exactly one other user.
func (c *Conversation) Counterpart(viewerID string) (string, bool) {
	if c.Kind == KindGroup {
		return "", false
	}
	other := ""
	for _, id := range c.ValidParticipants() {
		if id == viewerID {
			continue
		}
		if other != "" {
			return "", false
		}
		other = id
	}
	return other, other != ""
}

func (c *Conversation) MutedFor(userID string) bool {
	for _, id := range c.MutedBy {
		if id == userID {
			return true
		}
	}
	return false
}

func (c *Conversation) PinnedFor(userID string) bool {
	for _, id := range c.PinnedBy {
		if id == userID {
			return true
		}
	}
	return false
}

func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	out.ParticipantIDs = append([]string(nil), c.ParticipantIDs...)
	out.MutedBy = append([]string(nil), c.MutedBy...)
	out.PinnedBy = append([]string(nil), c.PinnedBy...)
	out.BlockedIDs = append([]string(nil), c.BlockedIDs...)
	if c.Group != nil {
		g := *c.Group
		g.AdminIDs = append([]string(nil), c.Group.AdminIDs...)
		out.Group = &g
	}
	if c.LastMessage != nil {
		lm := *c.LastMessage
		out.LastMessage = &lm
	}
	return &out
}
