package socket

import "github.com/sociora/sociora-go/internal/model"

// Events consumed from the server.
const (
	EventNewMessage        = "new_message"
	EventUserTyping        = "user_typing"
	EventUserStoppedTyping = "user_stopped_typing"
	EventMessageDeleted    = "message_deleted"
	EventMessagesRead      = "messages_read"
	EventAuthFailure       = "auth_failure_permanent"
	EventConnectionFailed  = "connection_failed_permanent"
)

// Events emitted to the server.
const (
	EventJoinRoom   = "join_room"
	EventLeaveRoom  = "leave_room"
	EventTyping     = "typing"
	EventStopTyping = "stop_typing"
)

type NewMessagePayload struct {
	ConversationID string         `json:"conversation_id"`
	Message        *model.Message `json:"message"`
}

type TypingPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	DisplayName    string `json:"display_name"`
}

type StoppedTypingPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}

type MessageDeletedPayload struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
}

type MessagesReadPayload struct {
	ConversationID string `json:"conversation_id"`
	ReaderID       string `json:"reader_id"`
	// MessageIDs nil means every message up to now is read by ReaderID.
	MessageIDs []string `json:"message_ids"`
}

type RoomPayload struct {
	ConversationID string `json:"conversation_id"`
}
