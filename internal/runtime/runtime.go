// Package runtime assembles the daemon: stores, event bus, adapters,
// watchers, the HTTP surface, and federation, wired by node role and
// supervised by the lifecycle manager.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"clawgate/internal/adapters"
	"clawgate/internal/ax"
	"clawgate/internal/claw"
	"clawgate/internal/config"
	"clawgate/internal/db"
	"clawgate/internal/eventbus"
	"clawgate/internal/federation"
	"clawgate/internal/httpapi"
	"clawgate/internal/inbound"
	"clawgate/internal/lifecycle"
	"clawgate/internal/line"
	"clawgate/internal/opslog"
	"clawgate/internal/pane"
	"clawgate/internal/stall"
	"clawgate/internal/stats"
	"clawgate/internal/tmuxcli"
	"clawgate/internal/worker"
)

const shutdownGrace = 3 * time.Second

// Platform carries the OS bindings the daemon drives. Any nil field is
// replaced by an unavailable stub, so a node without a chat surface
// still serves the pane and federation features.
type Platform struct {
	Gateway  ax.Gateway
	Capturer ax.ScreenCapturer
	OCR      ax.OCREngine
	Observer ax.NotificationObserver
}

// Options configures Start.
type Options struct {
	ConfigDir string
	// DBPath defaults to <ConfigDir>/clawgate.db.
	DBPath   string
	Logger   *slog.Logger
	Platform Platform

	// Listener overrides for tests; empty means the configured
	// host:port.
	ListenAddr string
}

// Daemon is the assembled process.
type Daemon struct {
	cfgStore *config.Store
	server   *httpapi.Server
	mgr      *lifecycle.Manager
	gdb      *gorm.DB
	utility  *worker.Utility
	addr     string
}

// Start builds the daemon. Nothing runs until Run is called.
func Start(_ context.Context, opts Options) (*Daemon, error) {
	configDir := strings.TrimSpace(opts.ConfigDir)
	if configDir == "" {
		return nil, fmt.Errorf("config dir is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cfgStore := config.NewStore(configDir)
	cfg, err := cfgStore.LoadOrInit()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfgFn := cfgStore.Snapshot

	dbPath := strings.TrimSpace(opts.DBPath)
	if dbPath == "" {
		dbPath = filepath.Join(configDir, "clawgate.db")
	}
	gdb, err := db.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	utility := worker.NewUtility()
	ops := opslog.New(
		opslog.WithDB(gdb),
		opslog.WithPersistExecutor(utility.Go),
		opslog.WithRole(cfg.NodeRole),
	)
	statsCollector := stats.New(
		stats.WithDB(gdb),
		stats.WithPersistExecutor(utility.Go),
	)

	bus := eventbus.New(eventbus.DefaultCapacity)
	bus.Subscribe(statsCollector.HandleEvent)

	queue := worker.NewQueue(64)
	registry := adapters.NewRegistry()
	mgr := lifecycle.NewManager()

	platform := opts.Platform.withDefaults()

	var lineAdapter *line.Adapter
	if cfg.Line.Enabled {
		tracker := inbound.NewRecentSendTracker()
		lineAdapter = line.NewAdapter(platform.Gateway, logger.With("adapter", claw.AdapterLine), line.WithRecorder(tracker))
		registry.Register(claw.AdapterLine, adapters.Entry{Send: lineAdapter, Read: lineAdapter})

		detector := inbound.NewDetector(
			cfgFn,
			platform.Gateway,
			platform.Capturer,
			platform.OCR,
			platform.Observer,
			queue,
			bus,
			tracker,
			logger.With("component", "inbound"),
		)
		mgr.AddRun("line-inbound", detector.Run)
	}

	var paneRegistry *pane.Registry
	if cfg.Tmux.Enabled {
		paneRegistry = pane.NewRegistry()
		tmuxClient := tmuxcli.New(&tmuxcli.RealExec{}, cfg.TmuxBinary)
		paneTracker := inbound.NewRecentSendTracker()
		paneAdapter := pane.NewAdapter(paneRegistry, tmuxClient, cfgFn, paneTracker, logger.With("adapter", claw.AdapterTmux))
		registry.Register(claw.AdapterTmux, adapters.Entry{Send: paneAdapter, Read: paneAdapter})

		watcher := pane.NewWatcher(paneRegistry, paneAdapter, cfgFn, queue, bus, ops, logger.With("component", "pane-watcher"))
		mgr.AddRun("pane-watcher", watcher.Run)
	}

	// The hub's executor is built before the server exists; the
	// deferred handler starts delegating once the server is wired.
	deferred := &deferredHandler{}
	var hub *federation.Hub
	if cfg.Federation.Enabled || cfg.NodeRole != config.RoleStandalone {
		hub = federation.NewHub(cfgFn, federation.NewHTTPExecutor(deferred), logger.With("component", "federation"))
		if cfg.NodeRole == config.RoleClient {
			mgr.AddRun("federation-client", hub.RunClient)
		}
	}

	stallDetector := stall.NewDetector(ops, cfgFn, logger.With("component", "stall"))

	axDump := map[string]func() (any, error){}
	if lineAdapter != nil {
		axDump[claw.AdapterLine] = func() (any, error) { return lineAdapter.AXDump() }
	}

	server := httpapi.NewServer(httpapi.Deps{
		Config:   cfgStore,
		Bus:      bus,
		Stats:    statsCollector,
		Ops:      ops,
		Registry: registry,
		Queue:    queue,
		Hub:      hub,
		Stall:    stallDetector,
		AXDump:   axDump,
		Doctor:   doctorFn(cfgFn, platform, paneRegistry),
		Logger:   logger.With("component", "httpapi"),
	})
	// Incoming federation commands execute against the same mux local
	// clients use.
	deferred.set(server.Handler())

	daemon := &Daemon{
		cfgStore: cfgStore,
		server:   server,
		mgr:      mgr,
		gdb:      gdb,
		utility:  utility,
	}

	mgr.AddRun("worker", func(runCtx context.Context) error {
		queue.Run(runCtx)
		return nil
	})
	mgr.AddRun("config-watch", func(runCtx context.Context) error {
		return cfgStore.Watch(runCtx, logger)
	})

	addr := strings.TrimSpace(opts.ListenAddr)
	if addr == "" {
		addr = fmt.Sprintf("%s:%d", cfg.ListenHost, cfg.ListenPort)
	}
	daemon.addr = addr
	httpServer := &http.Server{
		Addr:    addr,
		Handler: server.Handler(),
	}
	mgr.AddRun("http-server", func(runCtx context.Context) error {
		go func() {
			<-runCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			_ = httpServer.Shutdown(shutdownCtx)
		}()
		logger.Info("listening", "addr", addr, "role", cfg.NodeRole)
		err := httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	mgr.AddShutdown("drain-persists", func(context.Context) error {
		utility.Wait()
		return nil
	})
	mgr.AddShutdown("close-db", func(context.Context) error {
		sqlDB, err := gdb.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})
	return daemon, nil
}

// Run blocks until ctx is done, one of the given signals arrives, or a
// supervised job fails, then executes the shutdown hooks.
func (d *Daemon) Run(ctx context.Context, sig ...os.Signal) error {
	return d.mgr.StartAndWait(ctx, sig...)
}

// Addr returns the listen address.
func (d *Daemon) Addr() string { return d.addr }

// Handler exposes the HTTP surface, used by tests.
func (d *Daemon) Handler() http.Handler { return d.server.Handler() }

// deferredHandler breaks the hub/server construction cycle: the hub's
// executor is built before the server exists and starts delegating once
// the handler is set.
type deferredHandler struct {
	mu sync.RWMutex
	h  http.Handler
}

func (d *deferredHandler) set(h http.Handler) {
	d.mu.Lock()
	d.h = h
	d.mu.Unlock()
}

func (d *deferredHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.mu.RLock()
	h := d.h
	d.mu.RUnlock()
	if h == nil {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	h.ServeHTTP(w, r)
}

func doctorFn(cfgFn func() config.Config, platform Platform, paneRegistry *pane.Registry) func() map[string]any {
	return func() map[string]any {
		cfg := cfgFn()
		report := map[string]any{
			"ax_trusted":       platform.Gateway.Trusted(),
			"line_enabled":     cfg.Line.Enabled,
			"tmux_enabled":     cfg.Tmux.Enabled,
			"auto_answer_list": pane.AutoAnswerMarkers(),
		}
		if cfg.Line.Enabled {
			_, running := platform.Gateway.AppPID("jp.naver.line.mac")
			report["line_app_running"] = running
		}
		if cfg.Tmux.Enabled {
			_, err := exec.LookPath(cfg.TmuxBinary)
			report["tmux_binary_found"] = err == nil
			if paneRegistry != nil {
				report["tmux_sessions"] = len(paneRegistry.All())
			}
		}
		return report
	}
}
