package pane

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"
	"github.com/google/uuid"

	"clawgate/internal/claw"
	"clawgate/internal/config"
	"clawgate/internal/opslog"
	"clawgate/internal/worker"
)

const (
	// settleDelay lets the pane finish painting before capture.
	settleDelay = 200 * time.Millisecond

	captureLines     = 50
	summaryMaxLines  = 30
	summaryMaxChars  = 2000
	progressInterval = 20 * time.Second
	progressTail     = 10
)

// Watcher consumes status-bar frames, keeps the registry current, and
// emits completion, question, and progress events on pane transitions.
type Watcher struct {
	registry *Registry
	adapter  *Adapter
	cfg      func() config.Config
	queue    *worker.Queue
	sink     claw.EventSink
	ops      *opslog.Store
	logger   *slog.Logger

	// sleep is swapped in tests.
	sleep func(time.Duration)

	mu         sync.Mutex
	tailHashes map[string]uint64
}

func NewWatcher(
	registry *Registry,
	adapter *Adapter,
	cfg func() config.Config,
	queue *worker.Queue,
	sink claw.EventSink,
	ops *opslog.Store,
	logger *slog.Logger,
) *Watcher {
	return &Watcher{
		registry:   registry,
		adapter:    adapter,
		cfg:        cfg,
		queue:      queue,
		sink:       sink,
		ops:        ops,
		logger:     logger,
		sleep:      time.Sleep,
		tailHashes: make(map[string]uint64),
	}
}

// Run dials the status-bar WebSocket and pumps frames until ctx is
// done, reconnecting with exponential backoff. The progress sampler
// runs alongside.
func (w *Watcher) Run(ctx context.Context) error {
	go w.sampleProgress(ctx)

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		url := w.cfg().Tmux.StatusBarURL
		if url == "" {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Second):
			}
			continue
		}
		if err := w.pump(ctx, url); err != nil && ctx.Err() == nil {
			w.logger.Warn("status bar stream lost", "error", err)
		}
		wait := policy.NextBackOff()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (w *Watcher) pump(ctx context.Context, url string) error {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	w.logger.Info("status bar connected", "url", url)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var frame StatusFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			w.logger.Warn("bad status frame", "error", err)
			continue
		}
		w.HandleFrame(frame)
	}
}

// HandleFrame applies one status frame to the registry and reacts to
// state transitions.
func (w *Watcher) HandleFrame(frame StatusFrame) {
	switch frame.Type {
	case FrameSessionsList:
		w.registry.ReplaceAll(frame.Sessions)
	case FrameSessionAdded:
		if frame.Session != nil {
			w.registry.Upsert(*frame.Session)
		}
	case FrameSessionUpdated:
		if frame.Session == nil {
			return
		}
		session := *frame.Session
		prev, existed := w.registry.Upsert(session)
		if existed && prev.Status == StatusRunning && session.Status == StatusWaitingInput {
			// Capture and classification are child-process work; they
			// must not run on the frame pump.
			w.queue.Submit(func() { w.handleWaiting(session) })
		}
	case FrameSessionRemoved:
		w.registry.Remove(frame.SessionID)
		w.mu.Lock()
		delete(w.tailHashes, frame.SessionID)
		w.mu.Unlock()
	}
}

// handleWaiting classifies a running → waiting_input transition as a
// permission prompt, a question, or a completed turn.
func (w *Watcher) handleWaiting(session Session) {
	mode := w.cfg().SessionMode(session.SessionType, session.Project)
	if mode == config.ModeIgnore {
		return
	}

	if session.WaitingReason == WaitingPermissionPrompt {
		if mode == config.ModeAutonomous {
			target := session.Tmux.String()
			if err := w.adapter.tmux.SendText(target, "y"); err == nil {
				_ = w.adapter.tmux.SendEnter(target)
				w.logger.Info("permission prompt auto-approved", "project", session.Project)
			}
		}
		return
	}

	w.sleep(settleDelay)
	capture, err := w.adapter.tmux.CapturePane(session.Tmux.String(), captureLines)
	if err != nil {
		w.logger.Warn("pane capture failed", "project", session.Project, "error", err)
		return
	}

	if q := DetectQuestion(capture); q != nil && (mode == config.ModeAuto || mode == config.ModeAutonomous) {
		w.emitQuestion(session, mode, q)
		if mode == config.ModeAuto {
			answer := SelectPrefix + strconv.Itoa(ChooseOption(q.Options))
			if _, err := w.adapter.SendMessage(claw.SendPayload{
				ConversationHint: session.Project,
				Text:             answer,
			}); err != nil {
				w.logger.Warn("auto answer failed", "project", session.Project, "error", err)
			}
		}
		return
	}

	w.emitCompletion(session, mode, capture)
}

func (w *Watcher) emitQuestion(session Session, mode string, q *Question) {
	payload := map[string]string{
		claw.PayloadProject:          session.Project,
		claw.PayloadMode:             mode,
		claw.PayloadQuestionText:     q.Text,
		claw.PayloadQuestionOptions:  strings.Join(q.Options, "\n"),
		claw.PayloadQuestionSelected: strconv.Itoa(q.SelectedIndex),
		claw.PayloadQuestionID:       q.ID,
	}
	if _, err := w.sink.Append(claw.EventTmuxQuestion, claw.AdapterTmux, payload); err != nil {
		w.logger.Warn("question event append failed", "error", err)
	}
}

func (w *Watcher) emitCompletion(session Session, mode, capture string) {
	traceID := uuid.NewString()
	payload := map[string]string{
		claw.PayloadProject: session.Project,
		claw.PayloadText:    TrimSummary(capture),
		claw.PayloadTraceID: traceID,
		claw.PayloadMode:    mode,
	}
	if _, err := w.sink.Append(claw.EventTmuxCompletion, claw.AdapterTmux, payload); err != nil {
		w.logger.Warn("completion event append failed", "error", err)
		return
	}
	w.ops.Append(opslog.LevelInfo, opslog.EventTmuxCompletion, session.Project,
		opslog.KV("trace_id", traceID, "mode", mode))
}

// sampleProgress periodically captures the tail of every running
// session and emits progress when the tail changed.
func (w *Watcher) sampleProgress(ctx context.Context) {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, session := range w.registry.All() {
				if session.Status != StatusRunning {
					continue
				}
				if w.cfg().SessionMode(session.SessionType, session.Project) == config.ModeIgnore {
					continue
				}
				s := session
				w.queue.Submit(func() { w.sampleOne(s) })
			}
		}
	}
}

func (w *Watcher) sampleOne(session Session) {
	capture, err := w.adapter.tmux.CapturePane(session.Tmux.String(), progressTail)
	if err != nil {
		return
	}
	tail := strings.TrimRight(capture, "\n")
	hash := tailHash(tail)

	w.mu.Lock()
	prev, seen := w.tailHashes[session.SessionID]
	w.tailHashes[session.SessionID] = hash
	w.mu.Unlock()
	if seen && prev == hash {
		return
	}
	if !seen {
		// First sample after the session appears is a baseline.
		return
	}

	payload := map[string]string{
		claw.PayloadProject: session.Project,
		claw.PayloadText:    tail,
	}
	if _, err := w.sink.Append(claw.EventTmuxProgress, claw.AdapterTmux, payload); err != nil {
		w.logger.Warn("progress event append failed", "error", err)
	}
}

// TrimSummary bounds a completion summary to the last lines of output.
func TrimSummary(capture string) string {
	text := strings.TrimRight(capture, "\n")
	lines := strings.Split(text, "\n")
	if len(lines) > summaryMaxLines {
		lines = lines[len(lines)-summaryMaxLines:]
	}
	text = strings.TrimSpace(strings.Join(lines, "\n"))
	if len(text) > summaryMaxChars {
		text = text[len(text)-summaryMaxChars:]
	}
	return text
}

func tailHash(text string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(text))
	return h.Sum64()
}
