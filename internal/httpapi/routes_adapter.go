package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"clawgate/internal/claw"
	"clawgate/internal/config"
)

func adapterParam(r *http.Request) string {
	name := strings.TrimSpace(r.URL.Query().Get("adapter"))
	if name == "" {
		return claw.AdapterLine
	}
	return name
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	adapter, err := s.deps.Registry.Read(adapterParam(r))
	if err != nil {
		s.respondError(w, err)
		return
	}
	var result map[string]any
	if blockErr := s.runBlocking(func() {
		result, err = adapter.GetContext()
	}); blockErr != nil {
		s.respondError(w, blockErr)
		return
	}
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondOK(w, result)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	adapter, err := s.deps.Registry.Read(adapterParam(r))
	if err != nil {
		s.respondError(w, err)
		return
	}
	limit := queryInt(r, "limit", 20)
	conversation := r.URL.Query().Get("conversation")

	var result []claw.Message
	if blockErr := s.runBlocking(func() {
		result, err = adapter.GetMessages(conversation, limit)
	}); blockErr != nil {
		s.respondError(w, blockErr)
		return
	}
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondOK(w, map[string]any{"messages": result})
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	adapter, err := s.deps.Registry.Read(adapterParam(r))
	if err != nil {
		s.respondError(w, err)
		return
	}
	limit := queryInt(r, "limit", 20)

	var result []claw.Conversation
	if blockErr := s.runBlocking(func() {
		result, err = adapter.GetConversations(limit)
	}); blockErr != nil {
		s.respondError(w, blockErr)
		return
	}
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondOK(w, map[string]any{"conversations": result})
}

func (s *Server) handleAXDump(w http.ResponseWriter, r *http.Request) {
	name := adapterParam(r)
	dump, ok := s.deps.AXDump[name]
	if !ok {
		s.respondError(w, claw.NewError(claw.CodeAdapterNotFound, "no tree dump for adapter: "+name))
		return
	}
	var result any
	var err error
	if blockErr := s.runBlocking(func() {
		result, err = dump()
	}); blockErr != nil {
		s.respondError(w, blockErr)
		return
	}
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondOK(w, result)
}

// handleDoctor runs the self-diagnosis on the worker so it reports the
// same view adapter calls would see.
func (s *Server) handleDoctor(w http.ResponseWriter, _ *http.Request) {
	cfg := s.deps.Config.Snapshot()
	report := map[string]any{
		"version":       claw.Version,
		"node_role":     cfg.NodeRole,
		"adapters":      s.deps.Registry.Names(),
		"last_event_id": s.deps.Bus.LastID(),
	}
	if s.deps.Hub != nil {
		report["federation_peer_connected"] = s.deps.Hub.PeerConnected()
	}
	if s.deps.Doctor != nil {
		var extra map[string]any
		if blockErr := s.runBlocking(func() { extra = s.deps.Doctor() }); blockErr != nil {
			s.respondError(w, blockErr)
			return
		}
		for k, v := range extra {
			report[k] = v
		}
	}
	s.respondOK(w, report)
}

func validSessionType(t string) bool {
	return t == config.SessionClaudeCode || t == config.SessionCodex
}

func (s *Server) handleSessionMode(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		sessionType := r.URL.Query().Get("session_type")
		project := r.URL.Query().Get("project")
		if !validSessionType(sessionType) {
			s.respondError(w, claw.NewError(claw.CodeInvalidSessionType, "session_type must be claude_code or codex"))
			return
		}
		if strings.TrimSpace(project) == "" {
			s.respondError(w, claw.NewError(claw.CodeInvalidProject, "project required"))
			return
		}
		mode := s.deps.Config.Snapshot().SessionMode(sessionType, project)
		s.respondOK(w, map[string]any{
			"session_type": sessionType,
			"project":      project,
			"mode":         mode,
		})
		return
	}

	var req struct {
		SessionType string `json:"session_type"`
		Project     string `json:"project"`
		Mode        string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, claw.NewError(claw.CodeInvalidJSON, err.Error()))
		return
	}
	if !validSessionType(req.SessionType) {
		s.respondError(w, claw.NewError(claw.CodeInvalidSessionType, "session_type must be claude_code or codex"))
		return
	}
	if strings.TrimSpace(req.Project) == "" {
		s.respondError(w, claw.NewError(claw.CodeInvalidProject, "project required"))
		return
	}
	switch req.Mode {
	case config.ModeIgnore, config.ModeObserve, config.ModeAuto, config.ModeAutonomous:
	default:
		s.respondError(w, claw.NewError(claw.CodeInvalidMode, "unknown mode: "+req.Mode))
		return
	}

	// The mode write rewrites the TOML file on disk; it runs on the
	// worker like every other blocking operation.
	var saveErr error
	if blockErr := s.runBlocking(func() {
		saveErr = s.deps.Config.SetSessionMode(req.SessionType, req.Project, req.Mode)
	}); blockErr != nil {
		s.respondError(w, blockErr)
		return
	}
	if saveErr != nil {
		s.respondError(w, saveErr)
		return
	}
	if _, err := s.deps.Bus.Append(claw.EventTmuxSessionMode, claw.AdapterTmux, map[string]string{
		claw.PayloadProject: req.Project,
		claw.PayloadMode:    req.Mode,
		"session_type":      req.SessionType,
	}); err != nil {
		s.deps.Logger.Warn("session mode event append failed", "error", err)
	}
	s.respondOK(w, map[string]any{
		"session_type": req.SessionType,
		"project":      req.Project,
		"mode":         req.Mode,
	})
}

func (s *Server) handleAutonomousStatus(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Stall == nil {
		s.respondOK(w, map[string]any{"projects": []any{}})
		return
	}
	var statuses any
	if blockErr := s.runBlocking(func() { statuses = s.deps.Stall.Snapshot() }); blockErr != nil {
		s.respondError(w, blockErr)
		return
	}
	s.respondOK(w, map[string]any{"projects": statuses})
}
