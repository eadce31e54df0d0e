package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"clawgate/internal/claw"
)

// pollWait bounds how long a long-poll with no pending events blocks.
const pollWait = 25 * time.Second

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondOK(w, map[string]any{"status": "ok", "version": claw.Version})
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	cfg := s.deps.Config.Snapshot()
	// Secrets never leave the process.
	cfg.BearerToken = ""
	cfg.Federation.Token = ""
	s.respondOK(w, cfg)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 7)
	if days < 1 {
		days = 1
	}
	s.respondOK(w, map[string]any{
		"today": s.deps.Stats.Today(),
		"days":  s.deps.Stats.LastDays(days),
	})
}

func (s *Server) handleOpsLogs(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	entries := s.deps.Ops.Recent(limit, r.URL.Query().Get("level"), r.URL.Query().Get("trace_id"))
	s.respondOK(w, map[string]any{"entries": entries})
}

// handlePoll serves cursor polling. A request with pending events
// returns immediately; otherwise it waits for the next append or the
// long-poll deadline.
func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	since := int64(-1)
	if raw := r.URL.Query().Get("since"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.respondError(w, claw.NewError(claw.CodeInvalidJSON, "since must be an integer"))
			return
		}
		since = n
	}

	result := s.deps.Bus.Poll(since)
	if len(result.Events) > 0 || since < 0 {
		s.respondOK(w, result)
		return
	}

	wake := make(chan struct{}, 1)
	handle := s.deps.Bus.Subscribe(func(claw.Event) {
		select {
		case wake <- struct{}{}:
		default:
		}
	})
	defer s.deps.Bus.Unsubscribe(handle)

	timer := time.NewTimer(pollWait)
	defer timer.Stop()
	select {
	case <-wake:
	case <-timer.C:
	case <-r.Context().Done():
		return
	}
	s.respondOK(w, s.deps.Bus.Poll(since))
}

// handleEvents is the SSE stream. Replays by Last-Event-ID (or the
// last three events), then forwards live appends in id order.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, claw.NewError(claw.CodeInternalError, "streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	var lastSent int64
	feed := make(chan claw.Event, 256)
	handle := s.deps.Bus.Subscribe(func(evt claw.Event) {
		select {
		case feed <- evt:
		default:
			// Slow consumer; it resumes from Last-Event-ID on reconnect.
		}
	})
	defer s.deps.Bus.Unsubscribe(handle)

	var backlog []claw.Event
	if raw := r.Header.Get("Last-Event-ID"); raw != "" {
		if after, err := strconv.ParseInt(raw, 10, 64); err == nil {
			backlog = s.deps.Bus.Replay(after)
		}
	} else {
		backlog = s.deps.Bus.Poll(-1).Events
	}
	for _, evt := range backlog {
		if !writeSSE(w, evt) {
			return
		}
		lastSent = evt.ID
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt := <-feed:
			if evt.ID <= lastSent {
				continue
			}
			if lastSent > 0 && evt.ID > lastSent+1 {
				// The feed overflowed; backfill the gap from the ring.
				for _, missed := range s.deps.Bus.Replay(lastSent) {
					if missed.ID >= evt.ID {
						break
					}
					if !writeSSE(w, missed) {
						return
					}
					lastSent = missed.ID
				}
			}
			if !writeSSE(w, evt) {
				return
			}
			lastSent = evt.ID
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, evt claw.Event) bool {
	data, err := json.Marshal(evt)
	if err != nil {
		return false
	}
	_, err = fmt.Fprintf(w, "id: %d\ndata: %s\n\n", evt.ID, data)
	return err == nil
}

// handleDebugInject appends a synthetic event; useful for exercising
// poll and SSE consumers without driving a real adapter.
func (s *Server) handleDebugInject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type    string            `json:"type"`
		Adapter string            `json:"adapter"`
		Payload map[string]string `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, claw.NewError(claw.CodeInvalidJSON, err.Error()))
		return
	}
	evt, err := s.deps.Bus.Append(req.Type, req.Adapter, req.Payload)
	if err != nil {
		s.respondError(w, claw.NewError(claw.CodeInvalidJSON, err.Error()))
		return
	}
	s.respondOK(w, evt)
}
