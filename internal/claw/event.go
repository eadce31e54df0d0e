package claw

import "time"

// Event is one entry in the daemon's ordered event stream. The id is
// assigned by the event bus at append time and is the sole ordering key;
// ObservedAt is wall clock, for display only.
type Event struct {
	ID         int64             `json:"id"`
	Type       string            `json:"type"`
	Adapter    string            `json:"adapter"`
	ObservedAt time.Time         `json:"observed_at"`
	Payload    map[string]string `json:"payload"`
}

// Recognized event types. Producers must not emit anything else.
const (
	EventInboundMessage    = "inbound_message"
	EventEchoMessage       = "echo_message"
	EventOutboundMessage   = "outbound_message"
	EventTmuxCompletion    = "tmux.completion"
	EventTmuxQuestion      = "tmux.question"
	EventTmuxProgress      = "tmux.progress"
	EventTmuxSessionMode   = "tmux.session_mode_updated"
	EventAutonomousStalled = "autonomous.stalled"
)

var knownEventTypes = map[string]struct{}{
	EventInboundMessage:    {},
	EventEchoMessage:       {},
	EventOutboundMessage:   {},
	EventTmuxCompletion:    {},
	EventTmuxQuestion:      {},
	EventTmuxProgress:      {},
	EventTmuxSessionMode:   {},
	EventAutonomousStalled: {},
}

// KnownEventType reports whether typ is one of the recognized event types.
func KnownEventType(typ string) bool {
	_, ok := knownEventTypes[typ]
	return ok
}

// Conventional payload keys for inbound_message / echo_message.
const (
	PayloadText            = "text"
	PayloadConversation    = "conversation"
	PayloadSource          = "source"
	PayloadConfidence      = "confidence"
	PayloadScore           = "score"
	PayloadSignals         = "signals"
	PayloadPipelineVersion = "pipeline_version"
)

// Conventional payload keys for the tmux event family.
const (
	PayloadProject          = "project"
	PayloadTraceID          = "trace_id"
	PayloadMode             = "mode"
	PayloadQuestionText     = "question_text"
	PayloadQuestionOptions  = "question_options"
	PayloadQuestionSelected = "question_selected"
	PayloadQuestionID       = "question_id"
)

// EventSink is the producer-side face of the event bus. Adapters and
// watchers emit through it and never see the bus internals.
type EventSink interface {
	Append(eventType, adapter string, payload map[string]string) (Event, error)
}
