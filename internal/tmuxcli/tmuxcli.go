// Package tmuxcli wraps the terminal multiplexer CLI. All invocations
// go through the Exec interface so tests can run without tmux.
package tmuxcli

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"clawgate/internal/claw"
)

type Exec interface {
	Output(name string, args ...string) ([]byte, error)
	Run(name string, args ...string) error
}

// RealExec shells out and folds stderr into the returned error.
type RealExec struct{}

func (r *RealExec) Output(name string, args ...string) ([]byte, error) {
	out, err := exec.Command(name, args...).CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg != "" {
			return out, fmt.Errorf("%w: %s", err, msg)
		}
		return out, err
	}
	return out, nil
}

func (r *RealExec) Run(name string, args ...string) error {
	out, err := exec.Command(name, args...).CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}
	return nil
}

// Named keys accepted by SendKeys. Anything outside this set is refused:
// control keys like C-c, C-d, C-z and C-\ would kill or suspend the
// child program.
var allowedKeys = map[string]struct{}{
	"Up":     {},
	"Down":   {},
	"Left":   {},
	"Right":  {},
	"Enter":  {},
	"Escape": {},
	"Tab":    {},
}

// Client invokes the multiplexer binary against pane targets of the
// form "session:window.pane".
type Client struct {
	exec   Exec
	binary string
}

func New(e Exec, binary string) *Client {
	if binary == "" {
		binary = "tmux"
	}
	return &Client{exec: e, binary: binary}
}

// SendText types text literally into the target pane. The "--"
// separator keeps text starting with "-" from being parsed as flags.
// Enter is never implied; see SendEnter.
func (c *Client) SendText(target, text string) error {
	if err := c.exec.Run(c.binary, "send-keys", "-t", target, "--", text); err != nil {
		return claw.NewRetriable(claw.CodeTmuxCommandFailed, "send-keys failed: "+err.Error())
	}
	return nil
}

// SendEnter submits whatever is typed in the target pane.
func (c *Client) SendEnter(target string) error {
	if err := c.exec.Run(c.binary, "send-keys", "-t", target, "Enter"); err != nil {
		return claw.NewRetriable(claw.CodeTmuxCommandFailed, "send-keys Enter failed: "+err.Error())
	}
	return nil
}

// SendKeys sends named keys one invocation each, validating every key
// before sending any.
func (c *Client) SendKeys(target string, keys ...string) error {
	for _, key := range keys {
		if _, ok := allowedKeys[key]; !ok {
			return claw.NewError(claw.CodeForbiddenKey, "key not allowed: "+key)
		}
	}
	for _, key := range keys {
		if err := c.exec.Run(c.binary, "send-keys", "-t", target, key); err != nil {
			return claw.NewRetriable(claw.CodeTmuxCommandFailed, "send-keys "+key+" failed: "+err.Error())
		}
	}
	return nil
}

// CapturePane reads the last lines of the target pane's visible
// history.
func (c *Client) CapturePane(target string, lines int) (string, error) {
	if lines <= 0 {
		lines = 50
	}
	out, err := c.exec.Output(c.binary, "capture-pane", "-t", target, "-p", "-S", "-"+strconv.Itoa(lines))
	if err != nil {
		return "", claw.NewRetriable(claw.CodeTmuxCommandFailed, "capture-pane failed: "+err.Error())
	}
	return string(out), nil
}

// HasTarget reports whether the pane target exists.
func (c *Client) HasTarget(target string) bool {
	out, err := c.exec.Output(c.binary, "list-panes", "-a", "-F", "#{session_name}:#{window_index}.#{pane_index}")
	if err != nil {
		return false
	}
	needle := strings.TrimSpace(target)
	for _, pane := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if strings.TrimSpace(pane) == needle {
			return true
		}
	}
	return false
}
