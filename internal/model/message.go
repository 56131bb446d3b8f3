package model

import (
	"time"
)

// Sender identifies who authored a message.
type Sender string

const (
	SenderCustomer Sender = "customer"
	SenderBot      Sender = "bot"
	SenderAdmin    Sender = "admin"
)

// Message is a single chat message. Messages are immutable once created and
// ordered ascending by CreatedAt; the backend owns the ordering and this
// client never re-sorts.
type Message struct {
	ID        int64     `json:"id"`
	SessionID int64     `json:"session_id"`
	Sender    Sender    `json:"sender"`
	Message   string    `json:"message"`
	Intent    string    `json:"intent,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ReplyRequest is the console request to send an agent message.
type ReplyRequest struct {
	Message string `json:"message"`
}

// ListMessagesResponse is the console's envelope for message history.
type ListMessagesResponse struct {
	SessionID int64     `json:"session_id"`
	Messages  []Message `json:"messages"`
}
