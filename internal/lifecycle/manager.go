// Package lifecycle supervises the daemon's long-running jobs and the
// ordered shutdown hooks that follow them.
package lifecycle

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"

	"golang.org/x/sync/errgroup"
)

type job struct {
	name string
	run  func(context.Context) error
}

// Manager collects run jobs and shutdown jobs. Run jobs execute
// concurrently; the first failure cancels the rest. Shutdown jobs
// execute sequentially, in registration order, after every run job has
// returned.
type Manager struct {
	mu           sync.Mutex
	runJobs      []job
	shutdownJobs []job
}

func NewManager() *Manager {
	return &Manager{}
}

func (m *Manager) AddRun(name string, fn func(context.Context) error) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.runJobs = append(m.runJobs, job{name: name, run: fn})
	m.mu.Unlock()
}

func (m *Manager) AddShutdown(name string, fn func(context.Context) error) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.shutdownJobs = append(m.shutdownJobs, job{name: name, run: fn})
	m.mu.Unlock()
}

// StartAndWait runs every registered run job and blocks until they all
// return, then executes the shutdown jobs. When signals are given, the
// run context is also canceled on the first one received. A run job
// returning context.Canceled counts as a clean stop.
func (m *Manager) StartAndWait(parent context.Context, sig ...os.Signal) error {
	ctx := parent
	stopSignal := func() {}
	if len(sig) > 0 {
		var stop context.CancelFunc
		ctx, stop = signal.NotifyContext(parent, sig...)
		stopSignal = stop
	}
	defer stopSignal()

	m.mu.Lock()
	runJobs := make([]job, len(m.runJobs))
	copy(runJobs, m.runJobs)
	shutdownJobs := make([]job, len(m.shutdownJobs))
	copy(shutdownJobs, m.shutdownJobs)
	m.mu.Unlock()

	group, groupCtx := errgroup.WithContext(ctx)
	for _, j := range runJobs {
		j := j
		group.Go(func() error {
			if err := j.run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	runErr := group.Wait()

	var shutdownErr error
	for _, j := range shutdownJobs {
		if err := j.run(context.Background()); err != nil && !errors.Is(err, context.Canceled) {
			shutdownErr = errors.Join(shutdownErr, err)
		}
	}
	return errors.Join(runErr, shutdownErr)
}
