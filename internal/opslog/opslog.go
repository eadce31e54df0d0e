// Package opslog is the structured operations log. Entries carry a
// key=value message convention (trace_id=…, stage=…, action=…, status=…,
// latency_ms=…, error_code=…). Appends land in a bounded in-memory tail
// immediately, where the stall detector reads them, and are persisted
// to sqlite off the hot path.
package opslog

import (
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"clawgate/internal/db"
)

// Levels.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Well-known ops events consumed by the stall detector.
const (
	EventTmuxCompletion    = "tmux.completion"
	EventTmuxForward       = "tmux.forward"
	EventLineSendOK        = "line_send_ok"
	EventLineSendFailed    = "line_send_failed"
	EventAutonomousStalled = "autonomous.stalled"
)

const memoryTailCap = 4000

// Entry is one log line.
type Entry struct {
	TS      time.Time `json:"ts"`
	Level   string    `json:"level"`
	Event   string    `json:"event"`
	Role    string    `json:"role"`
	Script  string    `json:"script"`
	Message string    `json:"message"`
}

// Store is the operations log. DB may be nil (memory only, used in tests
// and when persistence is disabled).
type Store struct {
	mu   sync.RWMutex
	tail []Entry

	gdb     *gorm.DB
	persist func(func())
	role    string
	nowFunc func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithDB enables sqlite persistence.
func WithDB(gdb *gorm.DB) Option {
	return func(s *Store) { s.gdb = gdb }
}

// WithPersistExecutor routes durable writes through the utility executor
// so appends never block on disk. Defaults to inline execution.
func WithPersistExecutor(exec func(func())) Option {
	return func(s *Store) { s.persist = exec }
}

// WithRole stamps every entry with the node role.
func WithRole(role string) Option {
	return func(s *Store) { s.role = role }
}

// WithNow overrides the entry clock.
func WithNow(now func() time.Time) Option {
	return func(s *Store) { s.nowFunc = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		persist: func(fn func()) { fn() },
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append records one entry. script names the emitting component.
func (s *Store) Append(level, event, script, message string) Entry {
	entry := Entry{
		TS:      s.nowFunc(),
		Level:   level,
		Event:   event,
		Role:    s.role,
		Script:  script,
		Message: message,
	}

	s.mu.Lock()
	s.tail = append(s.tail, entry)
	if len(s.tail) > memoryTailCap {
		s.tail = s.tail[len(s.tail)-memoryTailCap:]
	}
	s.mu.Unlock()

	if s.gdb != nil {
		row := db.OpsLogEntry{
			TS:      entry.TS.UnixMilli(),
			Level:   entry.Level,
			Event:   entry.Event,
			Role:    entry.Role,
			Script:  entry.Script,
			Message: entry.Message,
		}
		gdb := s.gdb
		s.persist(func() { _ = gdb.Create(&row).Error })
	}
	return entry
}

// Recent returns up to limit entries in reverse chronological order,
// filtered by exact level and by trace id (matched against the
// trace_id=… token in the message) when non-empty.
func (s *Store) Recent(limit int, level, trace string) []Entry {
	if limit <= 0 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, 0, limit)
	for i := len(s.tail) - 1; i >= 0 && len(out) < limit; i-- {
		entry := s.tail[i]
		if level != "" && entry.Level != level {
			continue
		}
		if trace != "" && Value(entry.Message, "trace_id") != trace {
			continue
		}
		out = append(out, entry)
	}
	return out
}

// KV formats pairs as the key=value message convention. Values containing
// spaces are quoted.
func KV(pairs ...string) string {
	var b strings.Builder
	for i := 0; i+1 < len(pairs); i += 2 {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(pairs[i])
		b.WriteByte('=')
		v := pairs[i+1]
		if strings.ContainsAny(v, " \t") {
			b.WriteByte('"')
			b.WriteString(v)
			b.WriteByte('"')
		} else {
			b.WriteString(v)
		}
	}
	return b.String()
}

// Value extracts one key's value from a key=value message, or "".
func Value(message, key string) string {
	for _, tok := range strings.Fields(message) {
		if rest, ok := strings.CutPrefix(tok, key+"="); ok {
			return strings.Trim(rest, `"`)
		}
	}
	return ""
}
