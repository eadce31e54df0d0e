package tmuxcli

import (
	"errors"
	"strings"
	"testing"

	"clawgate/internal/claw"
)

type FakeExec struct {
	OutputText string
	Err        error
	LastArgs   string
	RunCalls   []string
}

func (f *FakeExec) Output(name string, args ...string) ([]byte, error) {
	f.LastArgs = strings.Join(append([]string{name}, args...), " ")
	return []byte(f.OutputText), f.Err
}

func (f *FakeExec) Run(name string, args ...string) error {
	f.LastArgs = strings.Join(append([]string{name}, args...), " ")
	f.RunCalls = append(f.RunCalls, f.LastArgs)
	return f.Err
}

func TestSendText_UsesLiteralSeparator(t *testing.T) {
	f := &FakeExec{}
	c := New(f, "")
	if err := c.SendText("work:0.0", "-rf please"); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if f.LastArgs != "tmux send-keys -t work:0.0 -- -rf please" {
		t.Fatalf("unexpected command: %s", f.LastArgs)
	}
}

func TestSendEnter_IsSeparateInvocation(t *testing.T) {
	f := &FakeExec{}
	c := New(f, "/opt/homebrew/bin/tmux")
	if err := c.SendText("work:0.0", "ls"); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if err := c.SendEnter("work:0.0"); err != nil {
		t.Fatalf("enter failed: %v", err)
	}
	if len(f.RunCalls) != 2 {
		t.Fatalf("run calls = %d, want 2", len(f.RunCalls))
	}
	if f.RunCalls[1] != "/opt/homebrew/bin/tmux send-keys -t work:0.0 Enter" {
		t.Fatalf("unexpected command: %s", f.RunCalls[1])
	}
}

func TestSendKeys_RefusesControlKeys(t *testing.T) {
	f := &FakeExec{}
	c := New(f, "")
	for _, key := range []string{"C-c", "C-d", "C-z", `C-\`} {
		err := c.SendKeys("work:0.0", "Down", key)
		var ce *claw.Error
		if !errors.As(err, &ce) || ce.Code != claw.CodeForbiddenKey {
			t.Fatalf("key %q: error = %v, want forbidden_key", key, err)
		}
	}
	if len(f.RunCalls) != 0 {
		t.Fatalf("no key may be sent when any is refused, got %d calls", len(f.RunCalls))
	}
}

func TestSendKeys_SendsArrowsOnePerInvocation(t *testing.T) {
	f := &FakeExec{}
	c := New(f, "")
	if err := c.SendKeys("work:0.0", "Down", "Down", "Enter"); err != nil {
		t.Fatalf("send keys failed: %v", err)
	}
	want := []string{
		"tmux send-keys -t work:0.0 Down",
		"tmux send-keys -t work:0.0 Down",
		"tmux send-keys -t work:0.0 Enter",
	}
	if len(f.RunCalls) != len(want) {
		t.Fatalf("run calls = %v", f.RunCalls)
	}
	for i := range want {
		if f.RunCalls[i] != want[i] {
			t.Fatalf("call %d = %s, want %s", i, f.RunCalls[i], want[i])
		}
	}
}

func TestCapturePane_Command(t *testing.T) {
	f := &FakeExec{OutputText: "line1\nline2\n"}
	c := New(f, "")
	out, err := c.CapturePane("work:0.0", 50)
	if err != nil {
		t.Fatalf("capture failed: %v", err)
	}
	if f.LastArgs != "tmux capture-pane -t work:0.0 -p -S -50" {
		t.Fatalf("unexpected command: %s", f.LastArgs)
	}
	if out != "line1\nline2\n" {
		t.Fatalf("out = %q", out)
	}
}

func TestCapturePane_WrapsFailure(t *testing.T) {
	f := &FakeExec{Err: errors.New("no server running")}
	c := New(f, "")
	_, err := c.CapturePane("gone:0.0", 50)
	var ce *claw.Error
	if !errors.As(err, &ce) || ce.Code != claw.CodeTmuxCommandFailed || !ce.Retriable {
		t.Fatalf("error = %v, want retriable tmux_command_failed", err)
	}
}

func TestHasTarget(t *testing.T) {
	f := &FakeExec{OutputText: "work:0.0\nwork:1.0\n"}
	c := New(f, "")
	if !c.HasTarget("work:1.0") {
		t.Fatalf("existing target not found")
	}
	if c.HasTarget("other:0.0") {
		t.Fatalf("missing target reported present")
	}
}
