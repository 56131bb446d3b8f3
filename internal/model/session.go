// Package model defines data structures for the handoff console.
package model

import (
	"fmt"
	"time"
)

// SessionStatus represents the lifecycle state of a conversation session.
type SessionStatus string

const (
	// StatusBotActive means the bot is serving the session.
	StatusBotActive SessionStatus = "bot_active"
	// StatusHumanPending means escalation was requested and no agent has claimed it yet.
	StatusHumanPending SessionStatus = "human_pending"
	// StatusHumanActive means an agent has claimed the session.
	StatusHumanActive SessionStatus = "human_active"
	// StatusClosed means the session was closed and the customer returned to the bot.
	StatusClosed SessionStatus = "closed"
)

// Valid reports whether s is a known status.
func (s SessionStatus) Valid() bool {
	switch s {
	case StatusBotActive, StatusHumanPending, StatusHumanActive, StatusClosed:
		return true
	}
	return false
}

// CanTransitionTo reports whether the transition from s to next is legal.
// Legal transitions: bot_active→human_pending, human_pending→human_active,
// human_pending→closed (rejection without accept), human_active→closed.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	switch s {
	case StatusBotActive:
		return next == StatusHumanPending
	case StatusHumanPending:
		return next == StatusHumanActive || next == StatusClosed
	case StatusHumanActive:
		return next == StatusClosed
	}
	return false
}

// Customer is the authenticated identity attached to a session.
type Customer struct {
	ID    int64  `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// ConversationSession represents one chat session as reported by the handoff
// backend. Exactly one of Customer or VisitorID is populated.
type ConversationSession struct {
	SessionID          int64         `json:"session_id"`
	Status             SessionStatus `json:"status"`
	Customer           *Customer     `json:"customer,omitempty"`
	VisitorID          string        `json:"visitor_id,omitempty"`
	HandoffReason      string        `json:"handoff_reason,omitempty"`
	HandoffRequestedAt *time.Time    `json:"handoff_requested_at,omitempty"`
	AssignedAdminID    int64         `json:"assigned_admin_id,omitempty"`
	MessageCount       int           `json:"message_count,omitempty"`
}

// Identity returns a display label for the session's counterpart: the
// customer's name or email when known, otherwise the anonymous visitor id.
func (s *ConversationSession) Identity() string {
	if s.Customer != nil {
		if s.Customer.Name != "" {
			return s.Customer.Name
		}
		if s.Customer.Email != "" {
			return s.Customer.Email
		}
		return fmt.Sprintf("customer-%d", s.Customer.ID)
	}
	return s.VisitorID
}

// ListSessionsResponse is the console's envelope for session lists.
type ListSessionsResponse struct {
	Sessions []ConversationSession `json:"sessions"`
	Total    int                   `json:"total"`
}
