// Package config holds the daemon configuration snapshot and its durable
// TOML store. Consumers take a snapshot at the start of an operation and
// never observe concurrent writes mid-flow.
package config

import (
	"os"
	"strconv"
	"strings"
)

// Detection modes for the chat inbound pipeline.
const (
	DetectionLegacy = "legacy"
	DetectionFusion = "fusion"
)

// Node roles.
const (
	RoleStandalone = "standalone"
	RoleServer     = "server"
	RoleClient     = "client"
)

// Session modes per (sessionType, project).
const (
	ModeIgnore     = "ignore"
	ModeObserve    = "observe"
	ModeAuto       = "auto"
	ModeAutonomous = "autonomous"
)

// Session types recognized by the pane subsystem.
const (
	SessionClaudeCode = "claude_code"
	SessionCodex      = "codex"
)

// ValidMode reports whether mode is a recognized session mode.
func ValidMode(mode string) bool {
	switch mode {
	case ModeIgnore, ModeObserve, ModeAuto, ModeAutonomous:
		return true
	}
	return false
}

// ValidSessionType reports whether st is a recognized session type.
func ValidSessionType(st string) bool {
	return st == SessionClaudeCode || st == SessionCodex
}

// LineConfig configures the chat-surface adapter and inbound detector.
type LineConfig struct {
	Enabled             bool   `json:"enabled" toml:"enabled"`
	DefaultConversation string `json:"default_conversation" toml:"default_conversation"`
	PollIntervalSeconds int    `json:"poll_interval_seconds" toml:"poll_interval_seconds"`
	DetectionMode       string `json:"detection_mode" toml:"detection_mode"`
	FusionThreshold     int    `json:"fusion_threshold" toml:"fusion_threshold"`
	SignalStructural    bool   `json:"signal_structural" toml:"signal_structural"`
	SignalPixel         bool   `json:"signal_pixel" toml:"signal_pixel"`
	SignalNotification  bool   `json:"signal_notification" toml:"signal_notification"`
}

// TmuxConfig configures the pane-surface adapter.
type TmuxConfig struct {
	Enabled      bool   `json:"enabled" toml:"enabled"`
	StatusBarURL string `json:"status_bar_url" toml:"status_bar_url"`
	// SessionModes is keyed "<session_type>:<project>".
	SessionModes map[string]string `json:"session_modes" toml:"session_modes"`
	// LegacyAllowList predates session modes; migrated on load.
	LegacyAllowList []string `json:"-" toml:"autonomous_allow_list,omitempty"`
}

// FederationConfig configures the single-peer federation link.
type FederationConfig struct {
	Enabled bool   `json:"enabled" toml:"enabled"`
	URL     string `json:"url" toml:"url"`
	Token   string `json:"token" toml:"token"`
}

// Config is the flat configuration snapshot. The store replaces it
// atomically; readers copy on read.
type Config struct {
	Debug        bool             `json:"debug" toml:"debug"`
	NodeRole     string           `json:"node_role" toml:"node_role"`
	ListenHost   string           `json:"listen_host" toml:"listen_host"`
	ListenPort   int              `json:"listen_port" toml:"listen_port"`
	RemoteAccess bool             `json:"remote_access" toml:"remote_access"`
	BearerToken  string           `json:"bearer_token" toml:"bearer_token"`
	TmuxBinary   string           `json:"tmux_binary" toml:"tmux_binary"`
	Line         LineConfig       `json:"line" toml:"line"`
	Tmux         TmuxConfig       `json:"tmux" toml:"tmux"`
	Federation   FederationConfig `json:"federation" toml:"federation"`
}

// SessionModeKey builds the session-mode map key.
func SessionModeKey(sessionType, project string) string {
	return sessionType + ":" + project
}

// SessionMode looks up the mode for (sessionType, project), defaulting to
// ignore when unset.
func (c Config) SessionMode(sessionType, project string) string {
	if mode, ok := c.Tmux.SessionModes[SessionModeKey(sessionType, project)]; ok {
		return mode
	}
	return ModeIgnore
}

// ProjectMode returns the strongest configured mode for project across
// session types: autonomous > auto > observe > ignore.
func (c Config) ProjectMode(project string) string {
	rank := map[string]int{ModeIgnore: 0, ModeObserve: 1, ModeAuto: 2, ModeAutonomous: 3}
	best := ModeIgnore
	for key, mode := range c.Tmux.SessionModes {
		if idx := strings.LastIndex(key, ":"); idx >= 0 && key[idx+1:] == project {
			if rank[mode] > rank[best] {
				best = mode
			}
		}
	}
	return best
}

// Clone deep-copies the snapshot so callers can mutate their copy.
func (c Config) Clone() Config {
	out := c
	out.Tmux.SessionModes = make(map[string]string, len(c.Tmux.SessionModes))
	for k, v := range c.Tmux.SessionModes {
		out.Tmux.SessionModes[k] = v
	}
	out.Tmux.LegacyAllowList = append([]string(nil), c.Tmux.LegacyAllowList...)
	return out
}

// Normalize fills defaults, clamps ranges, and migrates the legacy
// allow-list into the session-mode map with mode autonomous.
func Normalize(cfg Config) Config {
	if strings.TrimSpace(cfg.ListenHost) == "" {
		cfg.ListenHost = "127.0.0.1"
	}
	if cfg.RemoteAccess {
		cfg.ListenHost = "0.0.0.0"
	}
	if cfg.ListenPort <= 0 {
		cfg.ListenPort = 8790
	}
	switch cfg.NodeRole {
	case RoleStandalone, RoleServer, RoleClient:
	default:
		cfg.NodeRole = RoleStandalone
	}
	switch cfg.Line.DetectionMode {
	case DetectionLegacy, DetectionFusion:
	default:
		cfg.Line.DetectionMode = DetectionFusion
	}
	if cfg.Line.PollIntervalSeconds < 2 {
		cfg.Line.PollIntervalSeconds = 2
	}
	if cfg.Line.PollIntervalSeconds > 10 {
		cfg.Line.PollIntervalSeconds = 10
	}
	if cfg.Line.FusionThreshold <= 0 {
		cfg.Line.FusionThreshold = 60
	}
	if cfg.Line.FusionThreshold > 100 {
		cfg.Line.FusionThreshold = 100
	}
	if strings.TrimSpace(cfg.TmuxBinary) == "" {
		cfg.TmuxBinary = "tmux"
	}
	if cfg.Tmux.SessionModes == nil {
		cfg.Tmux.SessionModes = map[string]string{}
	}
	for key, mode := range cfg.Tmux.SessionModes {
		if !ValidMode(mode) {
			delete(cfg.Tmux.SessionModes, key)
		}
	}
	for _, project := range cfg.Tmux.LegacyAllowList {
		project = strings.TrimSpace(project)
		if project == "" {
			continue
		}
		key := SessionModeKey(SessionClaudeCode, project)
		if _, ok := cfg.Tmux.SessionModes[key]; !ok {
			cfg.Tmux.SessionModes[key] = ModeAutonomous
		}
	}
	cfg.Tmux.LegacyAllowList = nil
	return cfg
}

// ApplyEnv layers process-environment overrides onto cfg.
func ApplyEnv(cfg Config) Config {
	if v := strings.TrimSpace(os.Getenv("CLAWGATE_LISTEN_HOST")); v != "" {
		cfg.ListenHost = v
	}
	if v := strings.TrimSpace(os.Getenv("CLAWGATE_LISTEN_PORT")); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			cfg.ListenPort = port
		}
	}
	if v := strings.TrimSpace(os.Getenv("CLAWGATE_DEBUG")); v != "" {
		cfg.Debug = v == "1" || strings.EqualFold(v, "true")
	}
	return cfg
}
