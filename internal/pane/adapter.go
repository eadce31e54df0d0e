package pane

import (
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"clawgate/internal/claw"
	"clawgate/internal/config"
	"clawgate/internal/tmuxcli"
)

// SelectPrefix marks a send that answers a selector menu instead of
// typing text: "__cc_select:N" picks option N (0-indexed).
const SelectPrefix = "__cc_select:"

const questionCaptureLines = 50

// SendRecorder receives the text of every successful outbound send.
type SendRecorder interface {
	RecordSend(text string)
}

// Adapter is the multiplexer send/read surface. Sends resolve a pane by
// project and are gated by the session's configured mode.
type Adapter struct {
	registry *Registry
	tmux     *tmuxcli.Client
	cfg      func() config.Config
	recorder SendRecorder
	logger   *slog.Logger
}

func NewAdapter(registry *Registry, tmux *tmuxcli.Client, cfg func() config.Config, recorder SendRecorder, logger *slog.Logger) *Adapter {
	return &Adapter{
		registry: registry,
		tmux:     tmux,
		cfg:      cfg,
		recorder: recorder,
		logger:   logger,
	}
}

func (a *Adapter) Name() string { return claw.AdapterTmux }

// resolveWritable finds the pane for a project and checks every send
// precondition.
func (a *Adapter) resolveWritable(project string) (Session, error) {
	if strings.TrimSpace(project) == "" {
		return Session{}, claw.NewError(claw.CodeInvalidConversationHint, "conversation_hint (project) required")
	}
	session, ok := a.registry.ByProject(project)
	if !ok {
		return Session{}, claw.NewError(claw.CodeSessionNotFound, "no attached session for project "+project)
	}
	switch a.cfg().SessionMode(session.SessionType, session.Project) {
	case config.ModeAuto, config.ModeAutonomous:
	default:
		return Session{}, claw.NewError(claw.CodeSessionReadOnly, "session mode does not allow sends")
	}
	if session.Status == StatusRunning {
		return Session{}, claw.NewRetriable(claw.CodeSessionTypingBusy, "session is busy running")
	}
	if !a.tmux.HasTarget(session.Tmux.String()) {
		return Session{}, claw.NewError(claw.CodeTmuxTargetMissing, "pane target gone: "+session.Tmux.String())
	}
	return session, nil
}

// SendMessage types text (or answers a selector menu) into the project's
// pane.
func (a *Adapter) SendMessage(payload claw.SendPayload) (claw.SendResult, error) {
	steps := make([]claw.SendStep, 0, 3)
	step := func(name string, fn func() error) error {
		start := time.Now()
		err := fn()
		entry := claw.SendStep{Name: name, OK: err == nil, DurationMS: time.Since(start).Milliseconds()}
		if err != nil {
			entry.Error = claw.AsError(err).Code
			steps = append(steps, entry)
			return claw.AsError(err).WithStep(name)
		}
		steps = append(steps, entry)
		return nil
	}
	fail := func(err error) (claw.SendResult, error) {
		ce := claw.AsError(err)
		a.logger.Warn("tmux send failed",
			"project", payload.ConversationHint,
			"step", ce.FailedStep,
			"error_code", ce.Code,
		)
		return claw.SendResult{Steps: steps}, err
	}

	var session Session
	if err := step("resolve_session", func() error {
		var err error
		session, err = a.resolveWritable(payload.ConversationHint)
		return err
	}); err != nil {
		return fail(err)
	}
	target := session.Tmux.String()

	if n, ok := parseSelect(payload.Text); ok {
		if err := step("answer_menu", func() error {
			return a.answerMenu(target, n)
		}); err != nil {
			return fail(err)
		}
	} else {
		if err := step("send_text", func() error {
			return a.tmux.SendText(target, payload.Text)
		}); err != nil {
			return fail(err)
		}
		if payload.EnterToSend {
			if err := step("send_enter", func() error {
				return a.tmux.SendEnter(target)
			}); err != nil {
				return fail(err)
			}
		}
	}

	if a.recorder != nil {
		a.recorder.RecordSend(payload.Text)
	}
	a.logger.Info("tmux send ok", "project", session.Project, "target", target)
	return claw.SendResult{
		MessageID: uuid.NewString(),
		SentAt:    time.Now(),
		Steps:     steps,
	}, nil
}

// answerMenu reads the visible selector menu and moves the highlight to
// option n with arrow keys, then confirms with Enter.
func (a *Adapter) answerMenu(target string, n int) error {
	capture, err := a.tmux.CapturePane(target, questionCaptureLines)
	if err != nil {
		return err
	}
	q := DetectQuestion(capture)
	if q == nil {
		return claw.NewRetriable(claw.CodeTmuxCommandFailed, "no selector menu visible in pane")
	}
	if n < 0 || n >= len(q.Options) {
		return claw.NewError(claw.CodeInvalidText, "option index out of range: "+strconv.Itoa(n))
	}

	keys := make([]string, 0, 4)
	for i := q.SelectedIndex; i < n; i++ {
		keys = append(keys, "Down")
	}
	for i := q.SelectedIndex; i > n; i-- {
		keys = append(keys, "Up")
	}
	keys = append(keys, "Enter")
	return a.tmux.SendKeys(target, keys...)
}

func parseSelect(text string) (int, bool) {
	if !strings.HasPrefix(text, SelectPrefix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(text, SelectPrefix))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// GetContext reports the adapter's view of the session set.
func (a *Adapter) GetContext() (map[string]any, error) {
	cfg := a.cfg()
	sessions := a.visibleSessions(cfg)
	return map[string]any{
		"session_count": len(sessions),
		"sessions":      sessions,
	}, nil
}

// GetMessages captures the tail of the project's pane as one message.
func (a *Adapter) GetMessages(conversation string, limit int) ([]claw.Message, error) {
	session, ok := a.registry.ByProject(conversation)
	if !ok {
		return nil, claw.NewError(claw.CodeSessionNotFound, "no attached session for project "+conversation)
	}
	if a.cfg().SessionMode(session.SessionType, session.Project) == config.ModeIgnore {
		return nil, claw.NewError(claw.CodeSessionNotFound, "no attached session for project "+conversation)
	}
	if limit <= 0 || limit > questionCaptureLines {
		limit = questionCaptureLines
	}
	capture, err := a.tmux.CapturePane(session.Tmux.String(), limit)
	if err != nil {
		return nil, err
	}
	text := strings.TrimRight(capture, "\n")
	if text == "" {
		return []claw.Message{}, nil
	}
	return []claw.Message{{
		Conversation: session.Project,
		Text:         text,
		Direction:    "inbound",
		ObservedAt:   time.Now(),
	}}, nil
}

// GetConversations lists projects with non-ignore sessions.
func (a *Adapter) GetConversations(limit int) ([]claw.Conversation, error) {
	sessions := a.visibleSessions(a.cfg())
	out := make([]claw.Conversation, 0, len(sessions))
	for _, s := range sessions {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, claw.Conversation{Name: s.Project})
	}
	return out, nil
}

func (a *Adapter) visibleSessions(cfg config.Config) []Session {
	all := a.registry.All()
	out := make([]Session, 0, len(all))
	for _, s := range all {
		if cfg.SessionMode(s.SessionType, s.Project) == config.ModeIgnore {
			continue
		}
		out = append(out, s)
	}
	return out
}
