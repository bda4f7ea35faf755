package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/guardian/internal/config"
	"github.com/loykin/guardian/internal/logger"
	"github.com/loykin/guardian/internal/metrics"
	"github.com/loykin/guardian/internal/probe"
	"github.com/loykin/guardian/internal/proc"
	"github.com/loykin/guardian/internal/registry"
)

var (
	// ErrFailedToBind means the spawned process did not bind its port
	// within the settle window. The service stays unmanaged and the next
	// monitoring cycle retries through the normal restart path.
	ErrFailedToBind = errors.New("service did not bind its port")
	// ErrUnkillable surfaces a managed process that survived both stop
	// windows.
	ErrUnkillable = proc.ErrUnkillable
)

// Process is the slice of proc.Handle the manager needs; tests substitute
// fakes so the policy logic runs without real processes.
type Process interface {
	PID() int
	StartUnix() int64
	Alive() bool
	Stop(grace, kill time.Duration) error
}

// Spawner launches a process for a spec. The default wraps proc.Start.
type Spawner func(spec proc.Spec) (Process, error)

// DefaultSpawner launches real OS processes.
func DefaultSpawner(spec proc.Spec) (Process, error) {
	return proc.Start(spec)
}

// Manager starts, stops, and liveness-checks supervised services, enforcing
// the ownership rule: a process found already bound to a service's port is
// tracked as external and never stopped or restarted.
type Manager struct {
	reg    *registry.Registry
	prober probe.Prober
	spawn  Spawner
	settle time.Duration
	logCfg logger.Config
	log    *slog.Logger

	mu    sync.Mutex
	procs map[string]Process // managed handles only
}

func New(reg *registry.Registry, prober probe.Prober, spawn Spawner, settle time.Duration, logCfg logger.Config, log *slog.Logger) *Manager {
	if spawn == nil {
		spawn = DefaultSpawner
	}
	if settle <= 0 {
		settle = 2 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		reg:    reg,
		prober: prober,
		spawn:  spawn,
		settle: settle,
		logCfg: logCfg,
		log:    log,
		procs:  make(map[string]Process),
	}
}

// Start launches the service unless its port is already bound. A pre-bound
// port is a policy success, not a failure: the current owner is recorded as
// external and left alone. Otherwise the executable is spawned, given the
// settle window to bind, and recorded as managed once the port is bound.
func (m *Manager) Start(ctx context.Context, svc config.Service) error {
	if m.prober.IsBound(svc.Port) {
		pid, ok := m.prober.Owner(svc.Port)
		var startUnix int64
		if ok {
			startUnix = probe.StartUnix(pid)
		}
		m.reg.Update(svc.Name, func(s *registry.State) {
			s.Ownership = registry.OwnExternal
			s.PID = pid
			s.StartUnix = startUnix
			s.StartedAt = time.Now()
		})
		m.log.Warn("port already bound, tracking external process",
			"service", svc.Name, "port", svc.Port, "pid", pid)
		return nil
	}

	h, err := m.spawn(proc.Spec{
		Name:    svc.Name,
		Command: svc.Command,
		WorkDir: svc.WorkDir,
		Env:     svc.Env,
		Log:     m.logCfg,
	})
	if err != nil {
		return fmt.Errorf("spawn %s: %w", svc.Name, err)
	}
	m.log.Info("service spawned", "service", svc.Name, "port", svc.Port, "pid", h.PID())

	// Settle window before verifying the bind; cancellable by shutdown.
	select {
	case <-time.After(m.settle):
	case <-ctx.Done():
	}

	if !m.prober.IsBound(svc.Port) {
		// Reap the stray child so it does not linger half-started.
		_ = h.Stop(time.Second, time.Second)
		m.log.Error("service failed to bind port",
			"service", svc.Name, "port", svc.Port, "pid", h.PID())
		return fmt.Errorf("%s port %d: %w", svc.Name, svc.Port, ErrFailedToBind)
	}

	m.mu.Lock()
	m.procs[svc.Name] = h
	m.mu.Unlock()
	m.reg.Update(svc.Name, func(s *registry.State) {
		s.Ownership = registry.OwnManaged
		s.PID = h.PID()
		s.StartUnix = h.StartUnix()
		s.StartedAt = time.Now()
	})
	metrics.IncStart(svc.Name)
	m.log.Info("service started", "service", svc.Name, "port", svc.Port, "pid", h.PID())
	return nil
}

// Stop terminates a managed service: graceful signal, grace wait, forced
// kill, kill wait. Services the guardian does not own are a successful
// no-op. The recorded identity is cleared on every terminal outcome, even
// an unkillable one.
func (m *Manager) Stop(name string, grace, kill time.Duration) error {
	st, ok := m.reg.Snapshot(name)
	if !ok || st.Ownership != registry.OwnManaged {
		return nil
	}
	m.mu.Lock()
	h := m.procs[name]
	delete(m.procs, name)
	m.mu.Unlock()

	clear := func() {
		m.reg.Update(name, func(s *registry.State) {
			s.Ownership = registry.OwnNone
			s.PID = 0
			s.StartUnix = 0
		})
	}
	if h == nil {
		clear()
		return nil
	}
	m.log.Info("stopping service", "service", name, "pid", h.PID())
	err := h.Stop(grace, kill)
	clear()
	metrics.IncStop(name)
	if err != nil {
		m.log.Error("service did not die", "service", name, "pid", h.PID(), "error", err)
		return fmt.Errorf("stop %s: %w", name, err)
	}
	m.log.Info("service stopped", "service", name)
	return nil
}

// Alive reports OS-level liveness of the service's recorded process. A PID
// the OS has since reused counts as not alive; any inconsistency is treated
// conservatively as dead so monitoring re-launches rather than trusts a
// stranger's process.
func (m *Manager) Alive(svc config.Service) bool {
	st, ok := m.reg.Snapshot(svc.Name)
	if !ok {
		return false
	}
	switch st.Ownership {
	case registry.OwnManaged:
		m.mu.Lock()
		h := m.procs[svc.Name]
		m.mu.Unlock()
		return h != nil && h.Alive()
	case registry.OwnExternal:
		if st.PID <= 0 {
			// Owner was never identified; the port decides.
			return m.prober.IsBound(svc.Port)
		}
		if !probe.PIDAlive(st.PID) {
			return false
		}
		if st.StartUnix > 0 {
			if cur := probe.StartUnix(st.PID); cur > 0 && cur != st.StartUnix {
				return false
			}
		}
		return true
	default:
		return false
	}
}
