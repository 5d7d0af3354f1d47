package memory

import (
	"fmt"
	"time"
)

// Role is the conversational role of a message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Valid reports whether the role is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return true
	}
	return false
}

// ParseRole validates an inbound role string.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return Role(s), nil
	default:
		return "", fmt.Errorf("invalid role %q", s)
	}
}

// Message is one conversational turn. Immutable once stored; identity
// is (session id, position in buffer).
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	// Timestamp is epoch seconds.
	Timestamp int64 `json:"timestamp"`
	// TokenCount is computed lazily and cached through the stored form.
	TokenCount int `json:"token_count,omitempty"`
}

// SummaryRecord is one entry of a session's rolling summary history.
// History is append-only; a new compaction always appends a new record.
type SummaryRecord struct {
	ID                 string         `json:"id"`
	SessionID          string         `json:"session_id"`
	Text               string         `json:"text"`
	CreatedAt          time.Time      `json:"created_at"`
	SourceMessageCount int            `json:"source_message_count"`
	Metadata           map[string]any `json:"metadata,omitempty"`
}

// BufferInfo describes the current state of a session buffer.
type BufferInfo struct {
	MessageCount int   `json:"message_count"`
	TokenCount   int   `json:"token_count"`
	TTLRemaining int64 `json:"ttl_remaining"`
}

// SummaryStats describes summary activity for a session.
type SummaryStats struct {
	SummaryCount int       `json:"summary_count"`
	LastUpdated  time.Time `json:"last_updated,omitzero"`
}

// ContextSnapshot is the assembled read view handed to consumers.
type ContextSnapshot struct {
	BufferMessages []Message  `json:"buffer_messages"`
	CurrentSummary string     `json:"current_summary,omitempty"`
	BufferInfo     BufferInfo `json:"buffer_info"`
	TotalTokens    int        `json:"total_tokens"`
	MessageCount   int        `json:"message_count"`
	Available      bool       `json:"available"`
}

// ExternalContext is the richer session-context shape accepted on the
// save-context compatibility path and projected into buffer and
// summary writes.
type ExternalContext struct {
	Messages []Message `json:"messages"`
	Summary  string    `json:"summary,omitempty"`
}

// Event is emitted by the manager for observability consumers.
type Event struct {
	Type      string    `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	At        time.Time `json:"at"`
	Detail    string    `json:"detail,omitempty"`
}

const (
	EventMessageAdded = "message_added"
	EventCompaction   = "compaction"
	EventEviction     = "eviction"
	EventBreaker      = "breaker_state"
	EventCleared      = "session_cleared"
)
