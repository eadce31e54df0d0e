// Package stall detects autonomous turns that finished in a pane but
// never produced the downstream chat delivery that should follow. It is
// a pure reader of the ops log; the only thing it writes back is the
// stalled marker entry.
package stall

import (
	"log/slog"
	"sort"
	"strings"
	"time"

	"clawgate/internal/config"
	"clawgate/internal/opslog"
)

// Stall reasons, in rough order of severity.
const (
	ReasonNoTarget          = "no_target"
	ReasonNone              = "none"
	ReasonNotLocal          = "line_send_not_local"
	ReasonPending           = "pending_line_send"
	ReasonTypingBusy        = "stalled_typing_busy"
	ReasonStalledNoDelivery = "stalled_no_line_send"
)

const (
	// pendingWindow is how long after a completion the delivery may
	// still legitimately be in flight.
	pendingWindow = 120 * time.Second
	// proximityWindow correlates a delivery to a completion when the
	// trace id is missing.
	proximityWindow = 5 * time.Minute

	dedupCap  = 512
	dedupKeep = 256

	scanLimit = 2000
)

// ProjectStatus is the stall verdict for one watched project.
type ProjectStatus struct {
	Project          string    `json:"project"`
	Mode             string    `json:"mode"`
	Reason           string    `json:"reason"`
	ReviewDone       bool      `json:"review_done"`
	TraceID          string    `json:"trace_id,omitempty"`
	LastCompletionAt time.Time `json:"last_completion_at,omitempty"`
	LastTaskSentAt   time.Time `json:"last_task_sent_at,omitempty"`
	LastLineSendAt   time.Time `json:"last_line_send_at,omitempty"`
}

// Detector evaluates stall policy from ops-log entries on demand.
type Detector struct {
	ops     *opslog.Store
	cfg     func() config.Config
	logger  *slog.Logger
	nowFunc func() time.Time

	reported   map[string]struct{}
	reportedAt []string
}

func NewDetector(ops *opslog.Store, cfg func() config.Config, logger *slog.Logger) *Detector {
	return &Detector{
		ops:      ops,
		cfg:      cfg,
		logger:   logger,
		nowFunc:  time.Now,
		reported: make(map[string]struct{}),
	}
}

// Snapshot evaluates every project whose mode allows sends or at least
// observation by an agent. With no watched project at all, a single
// no_target status is returned.
func (d *Detector) Snapshot() []ProjectStatus {
	cfg := d.cfg()
	projects := watchedProjects(cfg)
	if len(projects) == 0 {
		return []ProjectStatus{{Reason: ReasonNoTarget}}
	}

	entries := d.ops.Recent(scanLimit, "", "")
	out := make([]ProjectStatus, 0, len(projects))
	for _, p := range projects {
		out = append(out, d.evaluate(cfg, p.project, p.mode, entries))
	}
	return out
}

type watched struct {
	project string
	mode    string
}

func watchedProjects(cfg config.Config) []watched {
	out := make([]watched, 0, len(cfg.Tmux.SessionModes))
	seen := map[string]struct{}{}
	for key, mode := range cfg.Tmux.SessionModes {
		if mode != config.ModeObserve && mode != config.ModeAuto && mode != config.ModeAutonomous {
			continue
		}
		_, project, ok := strings.Cut(key, ":")
		if !ok || project == "" {
			continue
		}
		if _, dup := seen[project]; dup {
			continue
		}
		seen[project] = struct{}{}
		out = append(out, watched{project: project, mode: mode})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].project < out[j].project })
	return out
}

// evaluate applies the policy for one project over the (reverse
// chronological) entry list.
func (d *Detector) evaluate(cfg config.Config, project, mode string, entries []opslog.Entry) ProjectStatus {
	status := ProjectStatus{Project: project, Mode: mode, Reason: ReasonNone}

	for _, e := range entries {
		if e.Event == opslog.EventTmuxForward && e.Script == project {
			status.LastTaskSentAt = e.TS
			break
		}
	}

	completion, haveCompletion := latestCompletion(entries, project)
	if !haveCompletion {
		return status
	}
	traceID := opslog.Value(completion.Message, "trace_id")
	status.TraceID = traceID
	status.LastCompletionAt = completion.TS

	if send, ok := correlateLineSend(entries, completion.TS, traceID); ok {
		status.LastLineSendAt = send.TS
		return status
	}

	// Observe mode never sends, so there is no delivery to chase.
	if mode == config.ModeObserve {
		return status
	}

	if !cfg.Line.Enabled {
		status.Reason = ReasonNotLocal
		return status
	}

	age := d.nowFunc().Sub(completion.TS)
	if age < pendingWindow {
		status.Reason = ReasonPending
		return status
	}

	if code := latestSendFailureCode(entries, completion.TS); code == "session_typing_busy" {
		status.Reason = ReasonTypingBusy
		return status
	}

	status.Reason = ReasonStalledNoDelivery
	status.ReviewDone = true
	d.reportOnce(project, traceID)
	return status
}

// reportOnce appends the stalled ops entry at most once per trace id.
func (d *Detector) reportOnce(project, traceID string) {
	if traceID == "" {
		return
	}
	if _, done := d.reported[traceID]; done {
		return
	}
	d.reported[traceID] = struct{}{}
	d.reportedAt = append(d.reportedAt, traceID)
	if len(d.reportedAt) > dedupCap {
		drop := d.reportedAt[:len(d.reportedAt)-dedupKeep]
		for _, id := range drop {
			delete(d.reported, id)
		}
		d.reportedAt = append([]string(nil), d.reportedAt[len(d.reportedAt)-dedupKeep:]...)
	}

	d.ops.Append(opslog.LevelWarn, opslog.EventAutonomousStalled, project,
		opslog.KV("trace_id", traceID, "status", "failed", "error_code", ReasonStalledNoDelivery))
	d.logger.Warn("autonomous turn stalled", "project", project, "trace_id", traceID)
}

func latestCompletion(entries []opslog.Entry, project string) (opslog.Entry, bool) {
	for _, e := range entries {
		if e.Event == opslog.EventTmuxCompletion && e.Script == project {
			return e, true
		}
	}
	return opslog.Entry{}, false
}

// correlateLineSend finds the delivery for a completion: same trace id
// first, then any send within the proximity window, then the first send
// at or after the completion.
func correlateLineSend(entries []opslog.Entry, completedAt time.Time, traceID string) (opslog.Entry, bool) {
	if traceID != "" {
		for _, e := range entries {
			if e.Event == opslog.EventLineSendOK && opslog.Value(e.Message, "trace_id") == traceID {
				return e, true
			}
		}
	}
	for _, e := range entries {
		if e.Event != opslog.EventLineSendOK || e.TS.Before(completedAt) {
			continue
		}
		if e.TS.Sub(completedAt) <= proximityWindow {
			return e, true
		}
	}

	// Entries are newest first; the first at-or-after send is the last
	// matching one in iteration order.
	var first opslog.Entry
	found := false
	for _, e := range entries {
		if e.Event == opslog.EventLineSendOK && !e.TS.Before(completedAt) {
			first = e
			found = true
		}
	}
	return first, found
}

func latestSendFailureCode(entries []opslog.Entry, completedAt time.Time) string {
	for _, e := range entries {
		if e.Event == opslog.EventLineSendFailed && !e.TS.Before(completedAt) {
			return opslog.Value(e.Message, "error_code")
		}
	}
	return ""
}
