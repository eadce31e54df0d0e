// Package httpapi is the daemon's local HTTP surface: routing, the
// pre-routing pipeline (method check, CSRF guard, bearer auth, request
// counting), the response envelope, and the split between event-loop
// handlers and handlers offloaded to the blocking worker.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"clawgate/internal/adapters"
	"clawgate/internal/claw"
	"clawgate/internal/config"
	"clawgate/internal/eventbus"
	"clawgate/internal/federation"
	"clawgate/internal/opslog"
	"clawgate/internal/stall"
	"clawgate/internal/stats"
	"clawgate/internal/worker"
)

// Deps carries everything the server dispatches to. Hub, Stall, and
// AXDump are optional.
type Deps struct {
	Config   *config.Store
	Bus      *eventbus.Bus
	Stats    *stats.Collector
	Ops      *opslog.Store
	Registry *adapters.Registry
	Queue    *worker.Queue
	Hub      *federation.Hub
	Stall    *stall.Detector
	AXDump   map[string]func() (any, error)
	Doctor   func() map[string]any
	Logger   *slog.Logger
}

type Server struct {
	deps Deps
	mux  *http.ServeMux
}

// allowedMethods is the known route set; it drives the 405-before-404
// ordering of the pre-routing pipeline.
var allowedMethods = map[string][]string{
	"/v1/health":            {http.MethodGet},
	"/v1/config":            {http.MethodGet},
	"/v1/poll":              {http.MethodGet},
	"/v1/events":            {http.MethodGet},
	"/v1/stats":             {http.MethodGet},
	"/v1/ops/logs":          {http.MethodGet},
	"/v1/send":              {http.MethodPost},
	"/v1/context":           {http.MethodGet},
	"/v1/messages":          {http.MethodGet},
	"/v1/conversations":     {http.MethodGet},
	"/v1/axdump":            {http.MethodGet},
	"/v1/doctor":            {http.MethodGet},
	"/v1/tmux/session-mode": {http.MethodGet, http.MethodPut},
	"/v1/autonomous/status": {http.MethodGet},
	"/v1/debug/inject":      {http.MethodPost},
	"/v1/federation":        {http.MethodGet},
}

// uncountedPaths are excluded from the api_requests counter.
var uncountedPaths = map[string]struct{}{
	"/v1/health":     {},
	"/v1/poll":       {},
	"/v1/events":     {},
	"/v1/stats":      {},
	"/v1/ops/logs":   {},
	"/v1/federation": {},
}

func NewServer(deps Deps) *Server {
	s := &Server{deps: deps, mux: http.NewServeMux()}
	s.mux.HandleFunc("/v1/health", s.handleHealth)
	s.mux.HandleFunc("/v1/config", s.handleConfig)
	s.mux.HandleFunc("/v1/poll", s.handlePoll)
	s.mux.HandleFunc("/v1/events", s.handleEvents)
	s.mux.HandleFunc("/v1/stats", s.handleStats)
	s.mux.HandleFunc("/v1/ops/logs", s.handleOpsLogs)
	s.mux.HandleFunc("/v1/send", s.handleSend)
	s.mux.HandleFunc("/v1/context", s.handleContext)
	s.mux.HandleFunc("/v1/messages", s.handleMessages)
	s.mux.HandleFunc("/v1/conversations", s.handleConversations)
	s.mux.HandleFunc("/v1/axdump", s.handleAXDump)
	s.mux.HandleFunc("/v1/doctor", s.handleDoctor)
	s.mux.HandleFunc("/v1/tmux/session-mode", s.handleSessionMode)
	s.mux.HandleFunc("/v1/autonomous/status", s.handleAutonomousStatus)
	s.mux.HandleFunc("/v1/debug/inject", s.handleDebugInject)
	if deps.Hub != nil {
		s.mux.Handle("/v1/federation", deps.Hub)
	}
	return s
}

// Handler returns the full pipeline: pre-routing checks, then the mux.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.serve)
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	methods, known := allowedMethods[r.URL.Path]
	if r.URL.Path == "/v1/federation" && s.deps.Hub == nil {
		known = false
	}
	if !known {
		s.respondError(w, claw.NewError(claw.CodeNotFound, "unknown path: "+r.URL.Path))
		return
	}
	if !methodAllowed(methods, r.Method) {
		s.respondError(w, claw.NewError(claw.CodeMethodNotAllowed, r.Method+" not allowed on "+r.URL.Path))
		return
	}
	if r.Method == http.MethodPost && r.Header.Get("Origin") != "" {
		s.respondError(w, claw.NewError(claw.CodeBrowserOriginRejected, "browser-originated requests are refused"))
		return
	}

	cfg := s.deps.Config.Snapshot()
	if cfg.RemoteAccess && cfg.BearerToken != "" && r.URL.Path != "/v1/health" && r.URL.Path != "/v1/federation" {
		if r.Header.Get("Authorization") != "Bearer "+cfg.BearerToken {
			s.respondError(w, claw.NewError(claw.CodeUnauthorized, "missing or invalid bearer token"))
			return
		}
	}

	if _, skip := uncountedPaths[r.URL.Path]; !skip {
		s.deps.Stats.Increment(stats.KeyAPIRequests)
	}

	s.mux.ServeHTTP(w, r)
}

func methodAllowed(methods []string, method string) bool {
	for _, m := range methods {
		if m == method {
			return true
		}
	}
	return false
}

type envelope struct {
	OK     bool        `json:"ok"`
	Result any         `json:"result,omitempty"`
	Error  *claw.Error `json:"error,omitempty"`
}

func (s *Server) respondOK(w http.ResponseWriter, result any) {
	writeJSON(w, http.StatusOK, envelope{OK: true, Result: result})
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	ce := claw.AsError(err)
	writeJSON(w, statusFor(ce), envelope{OK: false, Error: ce})
}

func statusFor(e *claw.Error) int {
	switch e.Code {
	case claw.CodeUnauthorized:
		return http.StatusUnauthorized
	case claw.CodeBrowserOriginRejected:
		return http.StatusForbidden
	case claw.CodeMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case claw.CodeNotFound:
		return http.StatusNotFound
	case claw.CodeInternalError:
		return http.StatusInternalServerError
	}
	if e.Retriable {
		return http.StatusServiceUnavailable
	}
	return http.StatusBadRequest
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// runBlocking executes fn on the serial worker and waits. All adapter
// work goes through here; event-loop handlers never do.
func (s *Server) runBlocking(fn func()) error {
	if err := s.deps.Queue.Do(fn); err != nil {
		return claw.NewRetriable(claw.CodeInternalError, "worker unavailable")
	}
	return nil
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
