// Package pane is the terminal-multiplexer surface: a registry of pane
// sessions fed by status-bar frames, a send adapter gated by per-project
// modes, and a watcher that turns pane state transitions into events.
package pane

import (
	"sort"
	"strings"
	"sync"
)

// Pane session statuses as reported by the status bar.
const (
	StatusRunning      = "running"
	StatusWaitingInput = "waiting_input"
	StatusIdle         = "idle"
	StatusDetached     = "detached"
)

// WaitingPermissionPrompt marks a waiting_input caused by a tool
// permission dialog rather than a finished turn.
const WaitingPermissionPrompt = "permission_prompt"

// Target identifies one pane inside the multiplexer.
type Target struct {
	Session string `json:"session"`
	Window  string `json:"window"`
	Pane    string `json:"pane"`
}

// String renders the "session:window.pane" form the CLI expects.
func (t Target) String() string {
	return t.Session + ":" + t.Window + "." + t.Pane
}

// Session is one pane session descriptor from the status bar.
type Session struct {
	SessionID     string `json:"session_id"`
	Project       string `json:"project"`
	SessionType   string `json:"session_type"`
	Status        string `json:"status"`
	WaitingReason string `json:"waiting_reason,omitempty"`
	Attached      bool   `json:"attached"`
	Tmux          Target `json:"tmux"`
}

// StatusFrame is one message of the status-bar stream.
type StatusFrame struct {
	Type      string    `json:"type"`
	Sessions  []Session `json:"sessions,omitempty"`
	Session   *Session  `json:"session,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
}

// Status frame types.
const (
	FrameSessionsList   = "sessions.list"
	FrameSessionAdded   = "session.added"
	FrameSessionUpdated = "session.updated"
	FrameSessionRemoved = "session.removed"
)

// Registry holds the current session set. Detached sessions are kept
// out entirely: they are never send targets and never listed.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]Session)}
}

// ReplaceAll swaps the whole set, as for a sessions.list frame.
func (r *Registry) ReplaceAll(sessions []Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = make(map[string]Session, len(sessions))
	for _, s := range sessions {
		if s.Attached && s.Status != StatusDetached {
			r.sessions[s.SessionID] = s
		}
	}
}

// Upsert stores one session, returning the previous state if any.
func (r *Registry) Upsert(s Session) (prev Session, existed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, existed = r.sessions[s.SessionID]
	if !s.Attached || s.Status == StatusDetached {
		delete(r.sessions, s.SessionID)
		return prev, existed
	}
	r.sessions[s.SessionID] = s
	return prev, existed
}

// Remove drops a session by id.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}

// ByProject finds the session for a project, matching case-insensitively.
func (r *Registry) ByProject(project string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		if strings.EqualFold(s.Project, project) {
			return s, true
		}
	}
	return Session{}, false
}

// All returns the sessions sorted by project for stable listings.
func (r *Registry) All() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Project < out[j].Project })
	return out
}
