// Package federation is the single-peer WebSocket link between two
// nodes. Either side can forward an HTTP request to the other as a
// command frame and wait for the id-correlated response frame.
package federation

import "net/http"

// Command asks the peer to execute one HTTP request locally.
type Command struct {
	ID      string            `json:"id"`
	Method  string            `json:"method"`
	Path    string            `json:"path"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// Response carries the peer's HTTP result back. ID must equal the
// originating command's id.
type Response struct {
	ID      string            `json:"id"`
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body"`
}

// Frame kinds on the wire.
const (
	KindCommand  = "command"
	KindResponse = "response"
)

// Frame is the wire envelope: one frame per logical message, UTF-8
// JSON text frames only.
type Frame struct {
	Kind     string    `json:"kind"`
	Command  *Command  `json:"command,omitempty"`
	Response *Response `json:"response,omitempty"`
}

// TraceHeader is echoed from command to response so forwarded requests
// stay correlated in both ops logs.
const TraceHeader = "X-Trace-Id"

// Executor runs one command against the local HTTP surface.
type Executor func(method, path string, headers map[string]string, body string) (int, map[string]string, string)

// NewHTTPExecutor adapts an http.Handler into an Executor using an
// in-process recorded request, bypassing the network listener.
func NewHTTPExecutor(h http.Handler) Executor {
	return func(method, path string, headers map[string]string, body string) (int, map[string]string, string) {
		return executeAgainst(h, method, path, headers, body)
	}
}
