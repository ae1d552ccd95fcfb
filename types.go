package buddyup

import (
	"encoding/json"
	"strconv"
)

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// User describes a message sender.
type User struct {
	ID     int64  `json:"id"`
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

// ============================================================================
// Chat Domain Types
// ============================================================================

// Message is a single chat message. Confirmed messages carry a server-assigned
// integer ID; optimistic (not yet confirmed) messages carry a LocalID of the
// form "temp-<timestamp>-<random>" and have Optimistic set.
//
// Timestamps are ISO 8601 strings as delivered by the server; lexicographic
// order matches chronological order for UTC ISO 8601 timestamps.
type Message struct {
	ID           int64  `json:"id,omitempty"`
	Conversation int64  `json:"conversation"`
	Sender       User   `json:"sender"`
	Text         string `json:"text"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at,omitempty"`

	LocalID    string `json:"-"`
	Optimistic bool   `json:"-"`
}

// Key returns the identity used for deduplication: the server ID for
// confirmed messages, the temporary local ID for optimistic ones.
func (m *Message) Key() string {
	if m.Optimistic {
		return m.LocalID
	}
	return strconv.FormatInt(m.ID, 10)
}

// Conversation is one buddy conversation with display metadata.
type Conversation struct {
	ID            int64    `json:"id"`
	Partnership   int64    `json:"partnership"`
	PartnerName   string   `json:"partner_name,omitempty"`
	PartnerAvatar string   `json:"partner_avatar,omitempty"`
	LastMessage   *Message `json:"last_message,omitempty"`
	UnreadCount   int      `json:"unread_count"`
	CreatedAt     string   `json:"created_at"`
	UpdatedAt     string   `json:"updated_at"`
}

// ============================================================================
// Socket Frames
// ============================================================================

// frame is the superset of all typed inbound frame shapes. Dispatch branches
// on the Type discriminator; a payload without a recognized Type that still
// matches the Message shape is treated as a new chat message.
type frame struct {
	Type string `json:"type"`

	// conversations / conversation_update
	Conversations []Conversation `json:"conversations,omitempty"`
	Conversation  *Conversation  `json:"conversation,omitempty"`

	// history
	Messages []Message `json:"messages,omitempty"`

	// typing
	UserID   int64 `json:"user_id,omitempty"`
	IsTyping bool  `json:"is_typing,omitempty"`

	// presence
	OnlineUserIDs []int64 `json:"online_user_ids,omitempty"`
}

// decodeBareMessage validates that a typeless payload has the Message shape:
// integer id, integer conversation, string text, string created_at.
func decodeBareMessage(data []byte) (Message, bool) {
	var probe struct {
		ID           *int64  `json:"id"`
		Conversation *int64  `json:"conversation"`
		Text         *string `json:"text"`
		CreatedAt    *string `json:"created_at"`
	}
	if json.Unmarshal(data, &probe) != nil {
		return Message{}, false
	}
	if probe.ID == nil || probe.Conversation == nil || probe.Text == nil || probe.CreatedAt == nil {
		return Message{}, false
	}
	var m Message
	if json.Unmarshal(data, &m) != nil {
		return Message{}, false
	}
	return m, true
}

// Outbound frame shapes (chat channel).

type messageFrame struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type typingFrame struct {
	Type     string `json:"type"`
	IsTyping bool   `json:"is_typing"`
}

type readAllFrame struct {
	Type string `json:"type"`
}

type deliveredFrame struct {
	Type      string `json:"type"`
	MessageID int64  `json:"message_id"`
}
