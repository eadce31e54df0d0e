package claw

import "fmt"

// Stable error codes. UI text may vary; codes never do.
const (
	// Authz / routing.
	CodeUnauthorized          = "unauthorized"
	CodeBrowserOriginRejected = "browser_origin_rejected"
	CodeMethodNotAllowed      = "method_not_allowed"
	CodeNotFound              = "not_found"

	// Request shape.
	CodeInvalidJSON             = "invalid_json"
	CodeInvalidSessionType      = "invalid_session_type"
	CodeInvalidProject          = "invalid_project"
	CodeInvalidMode             = "invalid_mode"
	CodeInvalidConversationHint = "invalid_conversation_hint"
	CodeInvalidText             = "invalid_text"
	CodeUnsupportedAction       = "unsupported_action"
	CodeAdapterNotFound         = "adapter_not_found"

	// Chat adapter.
	CodeAXPermissionMissing  = "ax_permission_missing"
	CodeLineNotRunning       = "line_not_running"
	CodeLineWindowMissing    = "line_window_missing"
	CodeWindowFrameMissing   = "window_frame_missing"
	CodeSearchFieldNotFound  = "search_field_not_found"
	CodeSearchInputFailed    = "search_input_failed"
	CodeMessageInputNotFound = "message_input_not_found"
	CodeMessageSetFailed     = "message_set_failed"
	CodeRescanTimeout        = "rescan_timeout"
	CodeSendActionFailed     = "send_action_failed"

	// Pane adapter.
	CodeSessionNotFound   = "session_not_found"
	CodeSessionReadOnly   = "session_read_only"
	CodeSessionTypingBusy = "session_typing_busy"
	CodeTmuxTargetMissing = "tmux_target_missing"
	CodeTmuxCommandFailed = "tmux_command_failed"
	CodeForbiddenKey      = "forbidden_key"

	// Federation.
	CodeFederationUnavailable = "federation_unavailable"
	CodeCommandTimeout        = "commandTimeout"
	CodePeerDisconnected      = "peerDisconnected"

	// Infrastructure.
	CodeAXDumpFailed  = "axdump_failed"
	CodeEncodeFailed  = "encode_failed"
	CodeInternalError = "internal_error"
)

// Error is the daemon-wide typed error. FailedStep names the step of a
// multi-step adapter operation that produced the error.
type Error struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Retriable  bool              `json:"retriable"`
	FailedStep string            `json:"failed_step,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
}

func (e *Error) Error() string {
	if e.FailedStep != "" {
		return fmt.Sprintf("%s (step %s): %s", e.Code, e.FailedStep, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError builds a non-retriable error.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewRetriable builds a retriable error.
func NewRetriable(code, message string) *Error {
	return &Error{Code: code, Message: message, Retriable: true}
}

// WithStep returns a copy of e tagged with the failed step name.
func (e *Error) WithStep(step string) *Error {
	out := *e
	out.FailedStep = step
	return &out
}

// WithDetail returns a copy of e with one detail key set.
func (e *Error) WithDetail(key, value string) *Error {
	out := *e
	out.Details = map[string]string{}
	for k, v := range e.Details {
		out.Details[k] = v
	}
	out.Details[key] = value
	return &out
}

// AsError extracts a *Error from err, wrapping unknown errors as
// internal_error so the HTTP layer always has a stable code to report.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	if ce, ok := err.(*Error); ok {
		return ce
	}
	return &Error{Code: CodeInternalError, Message: err.Error()}
}
