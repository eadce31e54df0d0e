package claw

import "time"

// Version is stamped at build time.
var Version = "dev"

// Adapter names as they appear on the wire.
const (
	AdapterLine = "line"
	AdapterTmux = "tmux"
)

// SendPayload is the body of a send_message action.
type SendPayload struct {
	ConversationHint string `json:"conversation_hint"`
	Text             string `json:"text"`
	EnterToSend      bool   `json:"enter_to_send"`
	TraceID          string `json:"trace_id,omitempty"`
}

// SendStep is one entry of the step log attached to a send result.
type SendStep struct {
	Name       string `json:"name"`
	OK         bool   `json:"ok"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// SendResult is returned by a successful send.
type SendResult struct {
	MessageID string     `json:"message_id"`
	SentAt    time.Time  `json:"sent_at"`
	Steps     []SendStep `json:"steps,omitempty"`
}

// Message is one visible message row as read from a surface.
type Message struct {
	Conversation string    `json:"conversation"`
	Text         string    `json:"text"`
	Direction    string    `json:"direction"` // "inbound" or "outbound"
	ObservedAt   time.Time `json:"observed_at"`
}

// Conversation is one entry of a surface's conversation list.
type Conversation struct {
	Name         string    `json:"name"`
	LastActivity time.Time `json:"last_activity,omitempty"`
}

// SendAdapter executes outbound sends against one external surface.
// Implementations run on the blocking worker; they must not be called
// from the network event loop.
type SendAdapter interface {
	Name() string
	SendMessage(payload SendPayload) (SendResult, error)
}

// ReadAdapter exposes the read side of a surface.
type ReadAdapter interface {
	Name() string
	GetContext() (map[string]any, error)
	GetMessages(conversation string, limit int) ([]Message, error)
	GetConversations(limit int) ([]Conversation, error)
}
