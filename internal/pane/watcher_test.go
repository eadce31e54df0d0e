package pane

import (
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"clawgate/internal/claw"
	"clawgate/internal/config"
	"clawgate/internal/opslog"
	"clawgate/internal/tmuxcli"
	"clawgate/internal/worker"
)

type captureSink struct {
	mu     sync.Mutex
	events []claw.Event
}

func (s *captureSink) Append(eventType, adapter string, payload map[string]string) (claw.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev := claw.Event{ID: int64(len(s.events) + 1), Type: eventType, Adapter: adapter, Payload: payload}
	s.events = append(s.events, ev)
	return ev, nil
}

func (s *captureSink) all() []claw.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]claw.Event(nil), s.events...)
}

func newTestWatcher(exec *fakeExec, mode string) (*Watcher, *captureSink, *opslog.Store) {
	registry := NewRegistry()
	registry.Upsert(demoSession(StatusRunning))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	adapter := NewAdapter(registry, tmuxcli.New(exec, ""), testConfig(mode), &fakeRecorder{}, logger)
	sink := &captureSink{}
	ops := opslog.New()
	w := NewWatcher(registry, adapter, testConfig(mode), worker.NewQueue(8), sink, ops, logger)
	w.sleep = func(time.Duration) {}
	return w, sink, ops
}

func TestHandleFrame_RegistryLifecycle(t *testing.T) {
	w, _, _ := newTestWatcher(&fakeExec{}, config.ModeObserve)

	w.HandleFrame(StatusFrame{Type: FrameSessionsList, Sessions: []Session{
		demoSession(StatusRunning),
		{SessionID: "s2", Project: "other", SessionType: config.SessionCodex, Status: StatusIdle, Attached: false},
	}})
	if _, ok := w.registry.ByProject("demo"); !ok {
		t.Fatal("attached session missing after list")
	}
	if _, ok := w.registry.ByProject("other"); ok {
		t.Fatal("detached session must be excluded")
	}

	w.HandleFrame(StatusFrame{Type: FrameSessionRemoved, SessionID: "s1"})
	if _, ok := w.registry.ByProject("demo"); ok {
		t.Fatal("removed session still present")
	}
}

func TestHandleWaiting_EmitsCompletion(t *testing.T) {
	exec := &fakeExec{panes: "work:0.0\n", capture: "did the thing\nall tests pass\n"}
	w, sink, ops := newTestWatcher(exec, config.ModeObserve)

	session := demoSession(StatusWaitingInput)
	w.handleWaiting(session)

	events := sink.all()
	if len(events) != 1 || events[0].Type != claw.EventTmuxCompletion {
		t.Fatalf("events = %+v", events)
	}
	payload := events[0].Payload
	if payload[claw.PayloadProject] != "demo" || payload[claw.PayloadMode] != config.ModeObserve {
		t.Fatalf("payload = %v", payload)
	}
	if payload[claw.PayloadText] != "did the thing\nall tests pass" {
		t.Fatalf("text = %q", payload[claw.PayloadText])
	}
	if payload[claw.PayloadTraceID] == "" {
		t.Fatal("trace id missing")
	}

	entries := ops.Recent(10, "", "")
	if len(entries) != 1 || entries[0].Event != opslog.EventTmuxCompletion {
		t.Fatalf("ops entries = %+v", entries)
	}
	if opslog.Value(entries[0].Message, "trace_id") != payload[claw.PayloadTraceID] {
		t.Fatal("ops trace id does not match event")
	}
}

func TestHandleWaiting_QuestionInAutoModeIsAnswered(t *testing.T) {
	exec := &fakeExec{
		panes:   "work:0.0\n",
		capture: "Apply the migration?\n❯ Yes (recommended)\n  > No\n",
	}
	w, sink, _ := newTestWatcher(exec, config.ModeAuto)

	session := demoSession(StatusWaitingInput)
	w.registry.Upsert(session)
	w.handleWaiting(session)

	events := sink.all()
	if len(events) != 1 || events[0].Type != claw.EventTmuxQuestion {
		t.Fatalf("events = %+v", events)
	}
	payload := events[0].Payload
	if payload[claw.PayloadQuestionText] != "Apply the migration?" {
		t.Fatalf("question = %q", payload[claw.PayloadQuestionText])
	}
	if payload[claw.PayloadQuestionSelected] != "0" {
		t.Fatalf("selected = %q", payload[claw.PayloadQuestionSelected])
	}
	if !strings.Contains(payload[claw.PayloadQuestionOptions], "Yes (recommended)") {
		t.Fatalf("options = %q", payload[claw.PayloadQuestionOptions])
	}

	// Auto mode answers locally: recommended option is already
	// highlighted, so a single Enter confirms it.
	last := exec.runCalls[len(exec.runCalls)-1]
	if last != "tmux send-keys -t work:0.0 Enter" {
		t.Fatalf("run calls = %v", exec.runCalls)
	}
}

func TestHandleWaiting_QuestionInAutonomousModeIsNotAnswered(t *testing.T) {
	exec := &fakeExec{
		panes:   "work:0.0\n",
		capture: "Apply the migration?\n❯ Yes\n  > No\n",
	}
	w, sink, _ := newTestWatcher(exec, config.ModeAutonomous)

	w.handleWaiting(demoSession(StatusWaitingInput))

	events := sink.all()
	if len(events) != 1 || events[0].Type != claw.EventTmuxQuestion {
		t.Fatalf("events = %+v", events)
	}
	if len(exec.runCalls) != 0 {
		t.Fatalf("autonomous mode must not answer locally, calls = %v", exec.runCalls)
	}
}

func TestHandleWaiting_PermissionPromptAutoApproved(t *testing.T) {
	exec := &fakeExec{panes: "work:0.0\n"}
	w, sink, _ := newTestWatcher(exec, config.ModeAutonomous)

	session := demoSession(StatusWaitingInput)
	session.WaitingReason = WaitingPermissionPrompt
	w.handleWaiting(session)

	if len(sink.all()) != 0 {
		t.Fatalf("permission prompt must never emit completion, got %+v", sink.all())
	}
	want := []string{
		"tmux send-keys -t work:0.0 -- y",
		"tmux send-keys -t work:0.0 Enter",
	}
	if len(exec.runCalls) != 2 || exec.runCalls[0] != want[0] || exec.runCalls[1] != want[1] {
		t.Fatalf("run calls = %v", exec.runCalls)
	}
}

func TestHandleWaiting_IgnoreModeEmitsNothing(t *testing.T) {
	exec := &fakeExec{panes: "work:0.0\n", capture: "output\n"}
	w, sink, _ := newTestWatcher(exec, config.ModeIgnore)

	w.handleWaiting(demoSession(StatusWaitingInput))
	if len(sink.all()) != 0 || len(exec.runCalls) != 0 {
		t.Fatalf("ignore mode acted: events=%v calls=%v", sink.all(), exec.runCalls)
	}
}

func TestSampleOne_EmitsProgressOnTailChange(t *testing.T) {
	exec := &fakeExec{panes: "work:0.0\n", capture: "building...\n"}
	w, sink, _ := newTestWatcher(exec, config.ModeAutonomous)
	session := demoSession(StatusRunning)

	w.sampleOne(session)
	if len(sink.all()) != 0 {
		t.Fatal("first sample is a baseline, must not emit")
	}

	w.sampleOne(session)
	if len(sink.all()) != 0 {
		t.Fatal("unchanged tail must not emit")
	}

	exec.capture = "building...\nlinking...\n"
	w.sampleOne(session)
	events := sink.all()
	if len(events) != 1 || events[0].Type != claw.EventTmuxProgress {
		t.Fatalf("events = %+v", events)
	}
	if events[0].Payload[claw.PayloadText] != "building...\nlinking..." {
		t.Fatalf("text = %q", events[0].Payload[claw.PayloadText])
	}
}

func TestTrimSummary(t *testing.T) {
	lines := make([]string, 0, 40)
	for i := 0; i < 40; i++ {
		lines = append(lines, "line")
	}
	got := TrimSummary(strings.Join(lines, "\n"))
	if n := len(strings.Split(got, "\n")); n != summaryMaxLines {
		t.Fatalf("lines = %d, want %d", n, summaryMaxLines)
	}

	long := strings.Repeat("x", summaryMaxChars+500)
	if got := TrimSummary(long); len(got) != summaryMaxChars {
		t.Fatalf("chars = %d, want %d", len(got), summaryMaxChars)
	}
}
