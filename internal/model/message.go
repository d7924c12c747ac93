package model

import (
	"time"

	"github.com/google/uuid"
)

type MessageType string

const (
	TypeText     MessageType = "text"
	TypeImage    MessageType = "image"
	TypeVideo    MessageType = "video"
	TypeAudio    MessageType = "audio"
	TypeFile     MessageType = "file"
	TypeLocation MessageType = "location"
)

// MediaRef points at media already finalized by the upload collaborator.
// The engine never uploads; it only carries the reference.
type MediaRef struct {
	Type       MessageType `json:"type"`
	URL        string      `json:"url"`
	Width      int         `json:"width,omitempty"`
	Height     int         `json:"height,omitempty"`
	DurationMS int64       `json:"duration_ms,omitempty"`
	SizeBytes  int64       `json:"size_bytes,omitempty"`
	FileName   string      `json:"file_name,omitempty"`
}

type Reaction struct {
	UserID string    `json:"user_id"`
	Emoji  string    `json:"emoji"`
	At     time.Time `json:"at"`
}

type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	SenderID       string      `json:"sender_id"`
	Type           MessageType `json:"type"`
	Body           string      `json:"body,omitempty"`
	Media          *MediaRef   `json:"media,omitempty"`
	ReplyToID      string      `json:"reply_to_id,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	EditedAt       *time.Time  `json:"edited_at,omitempty"`
	DeletedAt      *time.Time  `json:"deleted_at,omitempty"`
	ReadBy         []string    `json:"read_by,omitempty"`
	Reactions      []Reaction  `json:"reactions,omitempty"`
	// Confirmed is false for an optimistic local copy awaiting the server echo.
	Confirmed bool `json:"-"`
}

// NewLocalMessage builds the optimistic, unconfirmed copy appended on send.
// The id is client-generated and replaced by the server-assigned one on
// confirmation. The sender always reads their own message.
func NewLocalMessage(conversationID, senderID string, typ MessageType, body string, media *MediaRef, replyToID string) *Message {
	return &Message{
		ID:             "local-" + uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Type:           typ,
		Body:           body,
		Media:          media,
		ReplyToID:      replyToID,
		CreatedAt:      time.Now().UTC(),
		ReadBy:         []string{senderID},
	}
}

func (m *Message) IsReadBy(userID string) bool {
	for _, id := range m.ReadBy {
		if id == userID {
			return true
		}
	}
	return false
}

// AddReader grows the readBy set. It never removes and reports whether the
// reader was new.
func (m *Message) AddReader(userID string) bool {
	if userID == "" || m.IsReadBy(userID) {
		return false
	}
	m.ReadBy = append(m.ReadBy, userID)
	return true
}

// Summary renders the conversation-list preview for this message.
func (m *Message) Summary() MessageSummary {
	text := m.Body
	if text == "" && m.Media != nil {
		text = string(m.Media.Type)
	}
	return MessageSummary{SenderID: m.SenderID, Text: text, Timestamp: m.CreatedAt}
}

func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	out := *m
	out.ReadBy = append([]string(nil), m.ReadBy...)
	out.Reactions = append([]Reaction(nil), m.Reactions...)
	if m.Media != nil {
		md := *m.Media
		out.Media = &md
	}
	if m.EditedAt != nil {
		t := *m.EditedAt
		out.EditedAt = &t
	}
	if m.DeletedAt != nil {
		t := *m.DeletedAt
		out.DeletedAt = &t
	}
	return &out
}
