package runtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"clawgate/internal/config"
)

type envelope struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code string `json:"code"`
	} `json:"error"`
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startDaemon(t *testing.T, mutate func(*config.Config)) *Daemon {
	t.Helper()
	dir := t.TempDir()
	if mutate != nil {
		store := config.NewStore(dir)
		cfg, err := store.LoadOrInit()
		if err != nil {
			t.Fatalf("config init failed: %v", err)
		}
		mutate(&cfg)
		if err := store.Save(cfg); err != nil {
			t.Fatalf("config save failed: %v", err)
		}
	}

	daemon, err := Start(context.Background(), Options{
		ConfigDir:  dir,
		Logger:     discardLogger(),
		ListenAddr: "127.0.0.1:0",
	})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- daemon.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("daemon exited with error: %v", err)
			}
		case <-time.After(10 * time.Second):
			t.Error("daemon did not shut down")
		}
	})
	return daemon
}

func request(t *testing.T, d *Daemon, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rr := httptest.NewRecorder()
	d.Handler().ServeHTTP(rr, req)
	var env envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("bad envelope %q: %v", rr.Body.String(), err)
	}
	return rr, env
}

func TestDefaultDaemonServesHealthWithoutAdapters(t *testing.T) {
	daemon := startDaemon(t, nil)

	rr, env := request(t, daemon, http.MethodGet, "/v1/health", "")
	if rr.Code != http.StatusOK || !env.OK {
		t.Fatalf("health status %d body %s", rr.Code, rr.Body.String())
	}

	// Neither surface is enabled, so sends resolve no adapter.
	_, env = request(t, daemon, http.MethodPost, "/v1/send", `{"adapter":"tmux","payload":{"text":"hi"}}`)
	if env.OK || env.Error == nil || env.Error.Code != "adapter_not_found" {
		t.Fatalf("error = %+v", env.Error)
	}

	// No hub is built for a standalone node without federation.
	rr, _ = request(t, daemon, http.MethodGet, "/v1/federation", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("federation status = %d", rr.Code)
	}
}

func TestEnabledSurfacesRegisterAdapters(t *testing.T) {
	daemon := startDaemon(t, func(cfg *config.Config) {
		cfg.Line.Enabled = true
		cfg.Tmux.Enabled = true
	})

	// The pane registry is empty, so the send fails past adapter lookup.
	_, env := request(t, daemon, http.MethodPost, "/v1/send", `{"adapter":"tmux","payload":{"conversation_hint":"ghost","text":"hi"}}`)
	if env.OK || env.Error == nil || env.Error.Code != "session_not_found" {
		t.Fatalf("error = %+v", env.Error)
	}

	rr, env := request(t, daemon, http.MethodGet, "/v1/doctor", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("doctor status %d body %s", rr.Code, rr.Body.String())
	}
	var report map[string]any
	if err := json.Unmarshal(env.Result, &report); err != nil {
		t.Fatalf("doctor decode failed: %v", err)
	}
	if trusted, ok := report["ax_trusted"].(bool); !ok || trusted {
		t.Fatalf("ax_trusted = %v", report["ax_trusted"])
	}
	if running, ok := report["line_app_running"].(bool); !ok || running {
		t.Fatalf("line_app_running = %v", report["line_app_running"])
	}
	if _, ok := report["adapters"]; !ok {
		t.Fatalf("report = %v", report)
	}
}

func TestServerRoleMountsFederation(t *testing.T) {
	daemon := startDaemon(t, func(cfg *config.Config) {
		cfg.NodeRole = config.RoleServer
		cfg.Federation.Enabled = true
		cfg.Federation.Token = "fed-token"
	})

	// A plain GET without the upgrade handshake is rejected by the hub,
	// not by the 404 path.
	req := httptest.NewRequest(http.MethodGet, "/v1/federation", nil)
	req.Header.Set("Authorization", "Bearer fed-token")
	rr := httptest.NewRecorder()
	daemon.Handler().ServeHTTP(rr, req)
	if rr.Code == http.StatusNotFound {
		t.Fatalf("federation endpoint not mounted: %d", rr.Code)
	}
}
