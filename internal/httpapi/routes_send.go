package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"clawgate/internal/claw"
	"clawgate/internal/config"
	"clawgate/internal/federation"
	"clawgate/internal/opslog"
)

// sendRequest is the /v1/send body.
type sendRequest struct {
	Adapter string           `json:"adapter"`
	Action  string           `json:"action"`
	Payload claw.SendPayload `json:"payload"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.respondError(w, claw.NewError(claw.CodeInvalidJSON, "unreadable body"))
		return
	}
	var req sendRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.respondError(w, claw.NewError(claw.CodeInvalidJSON, err.Error()))
		return
	}
	if req.Action != "" && req.Action != "send_message" {
		s.respondError(w, claw.NewError(claw.CodeUnsupportedAction, "unsupported action: "+req.Action))
		return
	}
	if strings.TrimSpace(req.Payload.Text) == "" {
		s.respondError(w, claw.NewError(claw.CodeInvalidText, "text must not be empty"))
		return
	}
	if req.Payload.TraceID == "" {
		req.Payload.TraceID = r.Header.Get(federation.TraceHeader)
	}
	if req.Payload.TraceID != "" {
		w.Header().Set(federation.TraceHeader, req.Payload.TraceID)
	}

	adapter, err := s.deps.Registry.Send(req.Adapter)
	if err != nil {
		s.respondError(w, err)
		return
	}

	cfg := s.deps.Config.Snapshot()

	// Preflight: on a server node, pane sends for projects this node
	// does not own go straight to the peer.
	if s.shouldPreflight(cfg, req) {
		if resp, ok := s.forward(r, body); ok {
			proxyResponse(w, resp)
			return
		}
	}

	var result claw.SendResult
	execErr := s.runBlocking(func() {
		result, err = adapter.SendMessage(req.Payload)
	})
	if execErr != nil {
		s.respondError(w, execErr)
		return
	}

	if err != nil {
		ce := claw.AsError(err)
		s.logSendFailure(req, ce)
		if s.shouldFallback(cfg, req, ce) {
			resp, ok := s.forward(r, body)
			if ok {
				proxyResponse(w, resp)
				return
			}
			// The peer was this session's owner; losing it mid-forward
			// is not the local miss the caller started with.
			s.respondError(w, claw.NewRetriable(claw.CodeFederationUnavailable, "peer lost during forward"))
			return
		}
		s.respondError(w, err)
		return
	}

	s.recordSendSuccess(req, result)
	s.respondOK(w, result)
}

// shouldPreflight reports whether a pane send must try the peer before
// any local adapter work.
func (s *Server) shouldPreflight(cfg config.Config, req sendRequest) bool {
	if cfg.NodeRole != config.RoleServer || req.Adapter != claw.AdapterTmux {
		return false
	}
	if s.deps.Hub == nil || !s.deps.Hub.PeerConnected() {
		return false
	}
	mode := cfg.ProjectMode(req.Payload.ConversationHint)
	return mode != config.ModeAuto && mode != config.ModeAutonomous
}

// shouldFallback reports whether a failed local pane send is worth
// retrying on the peer. Only a local miss qualifies; every other error
// surfaces unchanged.
func (s *Server) shouldFallback(cfg config.Config, req sendRequest, ce *claw.Error) bool {
	if req.Adapter != claw.AdapterTmux || s.deps.Hub == nil || !s.deps.Hub.PeerConnected() {
		return false
	}
	_ = cfg
	return ce.Code == claw.CodeSessionNotFound || ce.Code == claw.CodeTmuxTargetMissing
}

// forward ships the original request body to the federation peer. A
// forward-path failure is reported as federation_unavailable by the
// caller falling through to the local result.
func (s *Server) forward(r *http.Request, body []byte) (federation.Response, bool) {
	cmd := federation.Command{
		ID:     uuid.NewString(),
		Method: http.MethodPost,
		Path:   "/v1/send",
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
		Body: string(body),
	}
	if trace := r.Header.Get(federation.TraceHeader); trace != "" {
		cmd.Headers[federation.TraceHeader] = trace
	}

	resp, err := s.deps.Hub.SendCommand(r.Context(), "", cmd)
	if err != nil {
		var ce *claw.Error
		if errors.As(err, &ce) && (ce.Code == claw.CodeCommandTimeout || ce.Code == claw.CodePeerDisconnected) {
			s.deps.Logger.Warn("federation forward failed", "error_code", ce.Code)
		}
		return federation.Response{}, false
	}
	return resp, true
}

func proxyResponse(w http.ResponseWriter, resp federation.Response) {
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(resp.Status)
	_, _ = io.Copy(w, bytes.NewReader([]byte(resp.Body)))
}

// recordSendSuccess emits the outbound event and the ops entry the
// stall detector correlates against.
func (s *Server) recordSendSuccess(req sendRequest, result claw.SendResult) {
	payload := map[string]string{
		claw.PayloadText:         req.Payload.Text,
		claw.PayloadConversation: req.Payload.ConversationHint,
	}
	if req.Payload.TraceID != "" {
		payload[claw.PayloadTraceID] = req.Payload.TraceID
	}
	if _, err := s.deps.Bus.Append(claw.EventOutboundMessage, req.Adapter, payload); err != nil {
		s.deps.Logger.Warn("outbound event append failed", "error", err)
	}

	kv := opslog.KV("trace_id", req.Payload.TraceID, "message_id", result.MessageID, "status", "ok")
	switch req.Adapter {
	case claw.AdapterLine:
		s.deps.Ops.Append(opslog.LevelInfo, opslog.EventLineSendOK, claw.AdapterLine, kv)
	case claw.AdapterTmux:
		s.deps.Ops.Append(opslog.LevelInfo, opslog.EventTmuxForward, req.Payload.ConversationHint, kv)
	}
}

func (s *Server) logSendFailure(req sendRequest, ce *claw.Error) {
	kv := opslog.KV("trace_id", req.Payload.TraceID, "status", "failed",
		"error_code", ce.Code, "step", ce.FailedStep)
	switch req.Adapter {
	case claw.AdapterLine:
		s.deps.Ops.Append(opslog.LevelWarn, opslog.EventLineSendFailed, claw.AdapterLine, kv)
	case claw.AdapterTmux:
		s.deps.Ops.Append(opslog.LevelWarn, opslog.EventTmuxForward, req.Payload.ConversationHint, kv)
	}
}
