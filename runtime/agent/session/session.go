// Package session defines the conversation history contract.
//
// History is bounded and ephemeral: each session keeps at most a configured
// number of recent messages. Appends carrying a RequestID already present in
// the retained window are ignored so retried turns do not duplicate history.
package session

import (
	"context"
	"errors"
	"time"
)

type (
	// Message is one history entry.
	Message struct {
		// Role is "user", "assistant" or "system".
		Role string `json:"role"`
		// Content is the message text.
		Content string `json:"content"`
		// Timestamp records when the message was appended.
		Timestamp time.Time `json:"timestamp"`
		// RequestID identifies the turn that produced the message. Entries
		// sharing a RequestID and Role are deduplicated.
		RequestID string `json:"requestId,omitempty"`
		// Kind distinguishes entries with the same role within a turn, for
		// example a context note appended next to the user message.
		Kind string `json:"kind,omitempty"`
	}

	// Store persists bounded per-session history.
	//
	// Contract:
	// - Append keeps only the most recent limit messages configured on the
	//   store.
	// - Append is idempotent for messages whose (RequestID, Role, Kind) is
	//   already in the retained window.
	// - History returns up to limit most recent messages in append order.
	//   A limit <= 0 returns the whole retained window.
	Store interface {
		Append(ctx context.Context, sessionID string, msg Message) error
		History(ctx context.Context, sessionID string, limit int) ([]Message, error)
		Clear(ctx context.Context, sessionID string) error
	}
)

// Roles used in history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// DefaultLimit is the default number of messages retained per session.
const DefaultLimit = 50

// ErrSessionIDRequired is returned when an operation is given an empty id.
var ErrSessionIDRequired = errors.New("session id is required")

// SameEntry reports whether a and b describe the same turn entry.
func SameEntry(a, b Message) bool {
	return a.RequestID != "" && a.RequestID == b.RequestID && a.Role == b.Role && a.Kind == b.Kind
}
