package line

import (
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"clawgate/internal/ax"
	"clawgate/internal/claw"
)

const (
	// Tree scan bounds for one window pass.
	windowScanDepth = 8
	windowScanNodes = 500

	launchWait     = 500 * time.Millisecond
	rescanAttempts = 4
	rescanDelay    = 500 * time.Millisecond

	stepRetryAttempts = 2
	stepRetryDelay    = 120 * time.Millisecond
)

// SendRecorder receives the text of every successful outbound send; the
// inbound detector uses it for echo suppression.
type SendRecorder interface {
	RecordSend(text string)
}

// Adapter drives the chat desktop app through the accessibility layer.
// Every method must execute on the serial blocking worker.
type Adapter struct {
	gw       ax.Gateway
	logger   *slog.Logger
	recorder SendRecorder
	bundleID string

	// sleep is swapped in tests.
	sleep func(time.Duration)
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithRecorder wires the echo-suppression recorder.
func WithRecorder(r SendRecorder) Option {
	return func(a *Adapter) { a.recorder = r }
}

// WithBundleID overrides the chat app bundle identifier.
func WithBundleID(id string) Option {
	return func(a *Adapter) { a.bundleID = id }
}

func NewAdapter(gw ax.Gateway, logger *slog.Logger, opts ...Option) *Adapter {
	a := &Adapter{
		gw:       gw,
		logger:   logger,
		bundleID: "jp.naver.line.mac",
		sleep:    time.Sleep,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) Name() string { return claw.AdapterLine }

type stepLog struct {
	steps []claw.SendStep
}

// run executes one named step with the fixed 2-attempt retry. Errors are
// step-tagged; non-retriable errors are not retried.
func (l *stepLog) run(name string, fn func() error) error {
	start := time.Now()
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(stepRetryDelay), stepRetryAttempts-1)
	err := backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if ce := claw.AsError(err); !ce.Retriable {
			return backoff.Permanent(err)
		}
		return err
	}, policy)

	step := claw.SendStep{Name: name, OK: err == nil, DurationMS: time.Since(start).Milliseconds()}
	if err != nil {
		step.Error = claw.AsError(err).Code
		l.steps = append(l.steps, step)
		return claw.AsError(err).WithStep(name)
	}
	l.steps = append(l.steps, step)
	return nil
}

// SendMessage runs the resolve → act → re-resolve send procedure and
// returns the step log alongside the result.
func (a *Adapter) SendMessage(payload claw.SendPayload) (claw.SendResult, error) {
	log := &stepLog{}
	fail := func(err error) (claw.SendResult, error) {
		ce := claw.AsError(err)
		a.logger.Warn("line send failed",
			"step", ce.FailedStep,
			"error_code", ce.Code,
			"retriable", ce.Retriable,
		)
		return claw.SendResult{Steps: log.steps}, err
	}

	if err := log.run("permission_check", func() error {
		if !a.gw.Trusted() {
			return claw.NewError(claw.CodeAXPermissionMissing, "accessibility permission not granted")
		}
		return nil
	}); err != nil {
		return fail(err)
	}

	var pid int
	if err := log.run("ensure_running", func() error {
		p, running := a.gw.AppPID(a.bundleID)
		if !running {
			if err := a.gw.Launch(a.bundleID); err != nil {
				return claw.NewRetriable(claw.CodeLineNotRunning, "launch failed: "+err.Error())
			}
			a.sleep(launchWait)
			p, running = a.gw.AppPID(a.bundleID)
		}
		if !running {
			return claw.NewRetriable(claw.CodeLineNotRunning, "chat app is not running")
		}
		pid = p
		return nil
	}); err != nil {
		return fail(err)
	}

	var window *ax.Node
	if err := log.run("activate", func() error {
		if err := a.gw.Activate(pid); err != nil {
			return claw.NewRetriable(claw.CodeLineWindowMissing, "activate failed: "+err.Error())
		}
		w, err := a.gw.FocusedWindow(pid, windowScanDepth, windowScanNodes)
		if err != nil || w == nil {
			return claw.NewRetriable(claw.CodeLineWindowMissing, "no window available")
		}
		if w.Frame.W <= 0 || w.Frame.H <= 0 {
			return claw.NewRetriable(claw.CodeWindowFrameMissing, "window frame unreadable")
		}
		window = w
		return nil
	}); err != nil {
		return fail(err)
	}

	if err := log.run("search_field", func() error {
		field := searchFieldSelector.Resolve(window, windowScanDepth, windowScanNodes)
		if field == nil {
			return claw.NewRetriable(claw.CodeSearchFieldNotFound, "search field not resolved")
		}
		if err := a.gw.SetValue(field, payload.ConversationHint); err != nil {
			return claw.NewRetriable(claw.CodeSearchInputFailed, "search input rejected: "+err.Error())
		}
		return a.gw.PostKey(pid, ax.KeyReturn)
	}); err != nil {
		return fail(err)
	}

	var input *ax.Node
	if err := log.run("rescan", func() error {
		for attempt := 0; attempt < rescanAttempts; attempt++ {
			w, err := a.gw.FocusedWindow(pid, windowScanDepth, windowScanNodes)
			if err == nil && w != nil {
				window = w
				if node := messageInputSelector.Resolve(window, windowScanDepth, windowScanNodes); node != nil {
					input = node
					return nil
				}
			}
			a.sleep(rescanDelay)
		}
		return claw.NewRetriable(claw.CodeRescanTimeout, "message input did not appear")
	}); err != nil {
		return fail(err)
	}

	if err := log.run("message_input", func() error {
		if input == nil {
			input = messageInputSelector.Resolve(window, windowScanDepth, windowScanNodes)
		}
		if input == nil {
			return claw.NewRetriable(claw.CodeMessageInputNotFound, "message input not resolved")
		}
		if err := a.gw.SetValue(input, payload.Text); err != nil {
			input = nil
			return claw.NewRetriable(claw.CodeMessageSetFailed, "message set rejected: "+err.Error())
		}
		return nil
	}); err != nil {
		return fail(err)
	}

	if err := log.run("send_action", func() error {
		if button := sendButtonSelector.Resolve(window, windowScanDepth, windowScanNodes); button != nil {
			if err := a.gw.PerformAction(button, ActionPress); err == nil {
				return nil
			}
		}
		if payload.EnterToSend {
			return a.gw.PostKey(pid, ax.KeyReturn)
		}
		return claw.NewRetriable(claw.CodeSendActionFailed, "send button unavailable and enter_to_send disabled")
	}); err != nil {
		return fail(err)
	}

	if a.recorder != nil {
		a.recorder.RecordSend(payload.Text)
	}
	return claw.SendResult{
		MessageID: uuid.NewString(),
		SentAt:    time.Now(),
		Steps:     log.steps,
	}, nil
}

// GetContext reports the adapter's view of the chat app.
func (a *Adapter) GetContext() (map[string]any, error) {
	pid, running := a.gw.AppPID(a.bundleID)
	ctx := map[string]any{
		"trusted":   a.gw.Trusted(),
		"running":   running,
		"frontmost": false,
		"bundle_id": a.bundleID,
	}
	if !running {
		return ctx, nil
	}
	ctx["frontmost"] = a.gw.FrontmostPID() == pid
	if window, err := a.gw.FocusedWindow(pid, 2, 16); err == nil && window != nil {
		ctx["window_title"] = window.Title
	}
	return ctx, nil
}

// GetMessages reads the visible transcript rows, newest last.
func (a *Adapter) GetMessages(conversation string, limit int) ([]claw.Message, error) {
	window, err := a.focusedWindow()
	if err != nil {
		return nil, err
	}
	list := FindChatList(window, windowScanDepth, windowScanNodes)
	if list == nil {
		return []claw.Message{}, nil
	}
	rows := Rows(list)
	if limit > 0 && len(rows) > limit {
		rows = rows[len(rows)-limit:]
	}
	out := make([]claw.Message, 0, len(rows))
	for _, row := range rows {
		dir := ClassifyRowByGeometry(row.Frame, list.Frame)
		if dir == RowUnknown {
			dir = ClassifyRowByText(row)
		}
		direction := "inbound"
		if dir == RowOutbound {
			direction = "outbound"
		}
		text := RowText(row)
		if strings.TrimSpace(text) == "" {
			continue
		}
		out = append(out, claw.Message{
			Conversation: conversation,
			Text:         text,
			Direction:    direction,
			ObservedAt:   time.Now(),
		})
	}
	return out, nil
}

// GetConversations lists the sidebar conversations: rows of the lists
// that are not the transcript.
func (a *Adapter) GetConversations(limit int) ([]claw.Conversation, error) {
	window, err := a.focusedWindow()
	if err != nil {
		return nil, err
	}
	chatList := FindChatList(window, windowScanDepth, windowScanNodes)
	out := make([]claw.Conversation, 0)
	window.Walk(windowScanDepth, windowScanNodes, func(node *ax.Node) {
		if node.Role != RoleList || node == chatList {
			return
		}
		for _, row := range Rows(node) {
			if limit > 0 && len(out) >= limit {
				return
			}
			name := strings.TrimSpace(row.Title)
			if name == "" {
				name = strings.SplitN(RowText(row), "\n", 2)[0]
			}
			if name != "" {
				out = append(out, claw.Conversation{Name: name})
			}
		}
	})
	return out, nil
}

// AXDump returns the raw focused-window tree for debugging.
func (a *Adapter) AXDump() (*ax.Node, error) {
	window, err := a.focusedWindow()
	if err != nil {
		return nil, claw.NewError(claw.CodeAXDumpFailed, claw.AsError(err).Message)
	}
	return window, nil
}

func (a *Adapter) focusedWindow() (*ax.Node, error) {
	pid, running := a.gw.AppPID(a.bundleID)
	if !running {
		return nil, claw.NewRetriable(claw.CodeLineNotRunning, "chat app is not running")
	}
	window, err := a.gw.FocusedWindow(pid, windowScanDepth, windowScanNodes)
	if err != nil || window == nil {
		return nil, claw.NewRetriable(claw.CodeLineWindowMissing, "no window available")
	}
	return window, nil
}
