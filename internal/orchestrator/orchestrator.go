package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/guardian/internal/backoff"
	"github.com/loykin/guardian/internal/config"
	"github.com/loykin/guardian/internal/health"
	"github.com/loykin/guardian/internal/history"
	"github.com/loykin/guardian/internal/metrics"
	"github.com/loykin/guardian/internal/registry"
)

// Phase is the orchestrator's lifecycle state.
type Phase int32

const (
	PhaseInitializing Phase = iota
	PhaseStarting
	PhaseMonitoring
	PhaseShuttingDown
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseInitializing:
		return "initializing"
	case PhaseStarting:
		return "starting_services"
	case PhaseMonitoring:
		return "monitoring"
	case PhaseShuttingDown:
		return "shutting_down"
	case PhaseStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ServiceManager is the control surface the orchestrator drives; the real
// implementation lives in internal/manager, tests supply fakes.
type ServiceManager interface {
	Start(ctx context.Context, svc config.Service) error
	Stop(name string, grace, kill time.Duration) error
	Alive(svc config.Service) bool
}

// HealthChecker issues one application-level probe.
type HealthChecker interface {
	Check(ctx context.Context, svc config.Service) health.Report
}

// Orchestrator sequences startup across the configured services, runs the
// periodic monitoring cycle, and drives ordered shutdown. Per-service
// failures are isolated: one service's backoff never blocks the others.
type Orchestrator struct {
	cfg   *config.File
	reg   *registry.Registry
	mgr   ServiceManager
	hc    HealthChecker
	pol   backoff.Policy
	log   *slog.Logger
	sinks []history.Sink

	phase atomic.Int32
	wg    sync.WaitGroup // in-flight restart flows
}

func New(cfg *config.File, reg *registry.Registry, mgr ServiceManager, hc HealthChecker, log *slog.Logger, sinks ...history.Sink) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		cfg:   cfg,
		reg:   reg,
		mgr:   mgr,
		hc:    hc,
		pol:   backoff.Default(),
		log:   log,
		sinks: sinks,
	}
}

func (o *Orchestrator) Phase() Phase { return Phase(o.phase.Load()) }

func (o *Orchestrator) setPhase(p Phase) {
	old := Phase(o.phase.Swap(int32(p)))
	if old != p {
		o.log.Info("phase transition", "from", old.String(), "to", p.String())
	}
}

// Run executes the full lifecycle: validate, start in order, monitor until
// ctx is cancelled, then stop managed services in reverse start order. The
// returned error is nil for a clean shutdown; a validation error aborts
// before any service is spawned; unkillable services are joined into the
// shutdown error.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.setPhase(PhaseInitializing)
	if err := o.cfg.Validate(); err != nil {
		o.log.Error("configuration invalid", "error", err)
		return err
	}
	for _, svc := range o.cfg.Services {
		o.reg.Create(svc.Name)
	}

	o.setPhase(PhaseStarting)
	o.startAll(ctx)

	o.setPhase(PhaseMonitoring)
	o.monitor(ctx)

	return o.shutdown()
}

// startAll starts every service in declared order with a fixed spacing
// delay. A single failure is logged and skipped; monitoring recovers it.
func (o *Orchestrator) startAll(ctx context.Context) {
	for i, svc := range o.cfg.Services {
		if ctx.Err() != nil {
			return
		}
		if err := o.mgr.Start(ctx, svc); err != nil {
			o.log.Error("startup failed, monitoring will retry",
				"service", svc.Name, "error", err)
		} else {
			o.recordStartEvent(ctx, svc)
		}
		if i < len(o.cfg.Services)-1 {
			select {
			case <-time.After(o.cfg.Monitor.StartSpacing):
			case <-ctx.Done():
				return
			}
		}
	}
	o.log.Info("startup sequence complete", "services", len(o.cfg.Services))
}

func (o *Orchestrator) recordStartEvent(ctx context.Context, svc config.Service) {
	st, _ := o.reg.Snapshot(svc.Name)
	typ := history.EventStart
	if st.Ownership == registry.OwnExternal {
		typ = history.EventExternal
	}
	o.record(ctx, history.Event{
		Type: typ, Service: svc.Name, PID: st.PID, OccurredAt: time.Now(),
	})
}

func (o *Orchestrator) monitor(ctx context.Context) {
	if d := o.cfg.Monitor.InitialDelay; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return
		}
	}
	ticker := time.NewTicker(o.cfg.Monitor.Interval)
	defer ticker.Stop()
	for {
		o.runCycle(ctx)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// runCycle probes every service concurrently; a slow or unreachable service
// must not delay the verdict of the others.
func (o *Orchestrator) runCycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	var wg sync.WaitGroup
	for _, svc := range o.cfg.Services {
		wg.Add(1)
		go func(svc config.Service) {
			defer wg.Done()
			o.checkService(ctx, svc)
		}(svc)
	}
	wg.Wait()
	metrics.ObserveCycle(time.Since(start).Seconds())
}

func (o *Orchestrator) checkService(ctx context.Context, svc config.Service) {
	if ctx.Err() != nil || o.Phase() == PhaseShuttingDown {
		return
	}
	if !o.mgr.Alive(svc) {
		// Dead process: immediate failure, no point probing HTTP.
		o.handleFailure(ctx, svc, registry.HealthUnreachable, "process not alive")
		return
	}
	rep := o.hc.Check(ctx, svc)
	if rep.Verdict == health.VerdictHealthy {
		o.reg.Update(svc.Name, func(s *registry.State) {
			s.LastHealth = registry.HealthHealthy
			s.ConsecutiveFailures = 0
			s.NextBackoffDelay = 0
		})
		metrics.ObserveHealth(svc.Name, rep.Verdict.String(), true, 0)
		o.log.Debug("health check passed", "service", svc.Name)
		return
	}
	lh := registry.HealthUnhealthy
	if rep.Verdict == health.VerdictUnreachable {
		lh = registry.HealthUnreachable
	}
	cause := rep.Verdict.String()
	if rep.Err != nil {
		cause = rep.Err.Error()
	}
	o.handleFailure(ctx, svc, lh, cause)
}

// handleFailure applies the failure to the service state and, for managed
// services, schedules a restart after the current backoff delay. The delay
// steps once per restart attempt, not per failed cycle: cycles observed
// while a restart is already pending must not inflate the schedule.
func (o *Orchestrator) handleFailure(ctx context.Context, svc config.Service, lh registry.Health, cause string) {
	var st registry.State
	scheduled := false
	o.reg.Update(svc.Name, func(s *registry.State) {
		s.LastHealth = lh
		s.ConsecutiveFailures++
		if s.Ownership != registry.OwnExternal && !s.Restarting {
			s.NextBackoffDelay = o.pol.Next(s.NextBackoffDelay)
			s.Restarting = true
			scheduled = true
		}
		st = *s
	})
	metrics.ObserveHealth(svc.Name, lh.String(), false, st.ConsecutiveFailures)
	o.log.Warn("health check failed",
		"service", svc.Name, "verdict", lh.String(), "cause", cause,
		"consecutive_failures", st.ConsecutiveFailures,
		"backoff", st.NextBackoffDelay)
	o.record(ctx, history.Event{
		Type: history.EventHealth, Service: svc.Name, PID: st.PID,
		Verdict: lh.String(), Detail: cause, OccurredAt: time.Now(),
	})

	if st.Ownership == registry.OwnExternal {
		o.log.Warn("external service failing, guardian will not restart it",
			"service", svc.Name, "pid", st.PID)
		return
	}
	if !scheduled {
		return
	}
	o.wg.Add(1)
	go o.restartFlow(ctx, svc, st.NextBackoffDelay)
}

// restartFlow waits out the backoff delay, then stops and starts the
// service. The wait is preempted by shutdown: once ShuttingDown begins no
// further restart is initiated.
func (o *Orchestrator) restartFlow(ctx context.Context, svc config.Service, delay time.Duration) {
	defer o.wg.Done()
	clearFlag := func() {
		o.reg.Update(svc.Name, func(s *registry.State) { s.Restarting = false })
	}
	o.log.Info("restart scheduled", "service", svc.Name, "backoff", delay)
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		clearFlag()
		return
	}
	if o.Phase() == PhaseShuttingDown {
		clearFlag()
		return
	}
	o.log.Info("restarting service", "service", svc.Name)
	_ = o.mgr.Stop(svc.Name, o.cfg.Monitor.StopGrace, o.cfg.Monitor.StopKill)
	if err := o.mgr.Start(ctx, svc); err != nil {
		o.log.Error("restart failed, will retry next cycle",
			"service", svc.Name, "error", err)
	}
	var pid int
	o.reg.Update(svc.Name, func(s *registry.State) {
		s.RestartCount++
		s.LastRestartAt = time.Now()
		s.Restarting = false
		pid = s.PID
	})
	metrics.IncRestart(svc.Name)
	o.record(ctx, history.Event{
		Type: history.EventRestart, Service: svc.Name, PID: pid,
		Detail: "after backoff " + delay.String(), OccurredAt: time.Now(),
	})
}

// shutdown stops managed services in reverse start order. External services
// are left untouched. Unkillable services are reported but never block the
// remaining stops.
func (o *Orchestrator) shutdown() error {
	o.setPhase(PhaseShuttingDown)
	o.wg.Wait() // let preempted restart flows drain

	var errs []error
	for i := len(o.cfg.Services) - 1; i >= 0; i-- {
		svc := o.cfg.Services[i]
		st, ok := o.reg.Snapshot(svc.Name)
		if !ok {
			continue
		}
		if st.Ownership != registry.OwnManaged {
			if st.Ownership == registry.OwnExternal {
				o.log.Info("leaving external service untouched", "service", svc.Name, "pid", st.PID)
			}
			continue
		}
		if err := o.mgr.Stop(svc.Name, o.cfg.Monitor.StopGrace, o.cfg.Monitor.StopKill); err != nil {
			errs = append(errs, err)
			continue
		}
		o.record(context.Background(), history.Event{
			Type: history.EventStop, Service: svc.Name, PID: st.PID, OccurredAt: time.Now(),
		})
	}
	for _, svc := range o.cfg.Services {
		o.reg.Remove(svc.Name)
	}
	o.setPhase(PhaseStopped)
	return errors.Join(errs...)
}

func (o *Orchestrator) record(ctx context.Context, e history.Event) {
	for _, s := range o.sinks {
		if err := s.Send(ctx, e); err != nil {
			o.log.Debug("history sink write failed", "error", err)
		}
	}
}
