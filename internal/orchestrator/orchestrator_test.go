package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/loykin/guardian/internal/config"
	"github.com/loykin/guardian/internal/health"
	"github.com/loykin/guardian/internal/registry"
)

// fakeManager scripts liveness and records the order of operations.
type fakeManager struct {
	mu       sync.Mutex
	reg      *registry.Registry
	alive    map[string]bool
	external map[string]bool
	starts   []string
	startAt  []time.Time
	stops    []string
	stopErr  map[string]error
}

func newFakeManager(reg *registry.Registry) *fakeManager {
	return &fakeManager{
		reg:      reg,
		alive:    map[string]bool{},
		external: map[string]bool{},
		stopErr:  map[string]error{},
	}
}

func (f *fakeManager) Start(_ context.Context, svc config.Service) error {
	f.mu.Lock()
	f.starts = append(f.starts, svc.Name)
	f.startAt = append(f.startAt, time.Now())
	f.alive[svc.Name] = true
	ext := f.external[svc.Name]
	f.mu.Unlock()
	own := registry.OwnManaged
	if ext {
		own = registry.OwnExternal
	}
	f.reg.Update(svc.Name, func(s *registry.State) {
		s.Ownership = own
		s.PID = 100
	})
	return nil
}

func (f *fakeManager) Stop(name string, _, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, _ := f.reg.Snapshot(name)
	if st.Ownership != registry.OwnManaged {
		return nil
	}
	f.stops = append(f.stops, name)
	f.alive[name] = false
	if err := f.stopErr[name]; err != nil {
		return err
	}
	f.reg.Update(name, func(s *registry.State) {
		s.Ownership = registry.OwnNone
		s.PID = 0
	})
	return nil
}

func (f *fakeManager) Alive(svc config.Service) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive[svc.Name]
}

func (f *fakeManager) setAlive(name string, v bool) {
	f.mu.Lock()
	f.alive[name] = v
	f.mu.Unlock()
}

func (f *fakeManager) startOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.starts...)
}

func (f *fakeManager) startTimes() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.startAt...)
}

func (f *fakeManager) stopOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.stops...)
}

// fakeChecker returns scripted verdicts and counts probes per service.
type fakeChecker struct {
	mu       sync.Mutex
	verdicts map[string]health.Verdict
	probes   map[string]int
}

func newFakeChecker() *fakeChecker {
	return &fakeChecker{verdicts: map[string]health.Verdict{}, probes: map[string]int{}}
}

func (f *fakeChecker) Check(_ context.Context, svc config.Service) health.Report {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probes[svc.Name]++
	return health.Report{Verdict: f.verdicts[svc.Name]}
}

func (f *fakeChecker) probeCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probes[name]
}

func (f *fakeChecker) setVerdict(name string, v health.Verdict) {
	f.mu.Lock()
	f.verdicts[name] = v
	f.mu.Unlock()
}

func testConfig(names ...string) *config.File {
	fc := &config.File{
		Monitor: config.Monitor{
			Interval:      20 * time.Millisecond,
			StartSettle:   time.Millisecond,
			StartSpacing:  time.Millisecond,
			HealthTimeout: 50 * time.Millisecond,
			StopGrace:     10 * time.Millisecond,
			StopKill:      10 * time.Millisecond,
		},
	}
	for i, n := range names {
		fc.Services = append(fc.Services, config.Service{
			Name: n, Port: 9000 + i, Command: "true", HealthPath: "/health",
		})
	}
	return fc
}

func newTestOrchestrator(fc *config.File) (*Orchestrator, *fakeManager, *fakeChecker, *registry.Registry) {
	reg := registry.New()
	fm := newFakeManager(reg)
	hc := newFakeChecker()
	o := New(fc, reg, fm, hc, slog.New(slog.DiscardHandler))
	return o, fm, hc, reg
}

func runFor(t *testing.T, o *Orchestrator, d time.Duration) error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()
	time.Sleep(d)
	cancel()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("orchestrator did not shut down")
		return nil
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	fc := testConfig("a", "b")
	fc.Services[1].Port = fc.Services[0].Port // duplicate
	o, fm, _, _ := newTestOrchestrator(fc)
	err := o.Run(context.Background())
	if !errors.Is(err, config.ErrDuplicatePort) {
		t.Fatalf("want ErrDuplicatePort, got %v", err)
	}
	if len(fm.startOrder()) != 0 {
		t.Fatal("nothing may be spawned on invalid config")
	}
	if o.Phase() != PhaseInitializing {
		t.Fatalf("phase = %v, want initializing", o.Phase())
	}
}

func TestStartupOrderAndReverseShutdown(t *testing.T) {
	fc := testConfig("a", "b", "c")
	o, fm, hc, _ := newTestOrchestrator(fc)
	for _, n := range []string{"a", "b", "c"} {
		hc.setVerdict(n, health.VerdictHealthy)
	}
	if err := runFor(t, o, 100*time.Millisecond); err != nil {
		t.Fatalf("run: %v", err)
	}
	starts := fm.startOrder()
	if len(starts) < 3 || starts[0] != "a" || starts[1] != "b" || starts[2] != "c" {
		t.Fatalf("start order wrong: %v", starts)
	}
	stops := fm.stopOrder()
	if len(stops) != 3 || stops[0] != "c" || stops[1] != "b" || stops[2] != "a" {
		t.Fatalf("shutdown must reverse start order, got %v", stops)
	}
	if o.Phase() != PhaseStopped {
		t.Fatalf("phase = %v, want stopped", o.Phase())
	}
}

func TestDeadServiceRestartsWithoutProbe(t *testing.T) {
	fc := testConfig("a")
	fc.Monitor.Interval = 10 * time.Millisecond
	o, fm, hc, reg := newTestOrchestrator(fc)
	o.pol.Base = 5 * time.Millisecond // keep the test fast

	hc.setVerdict("a", health.VerdictHealthy)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	// Let it start and pass a healthy cycle, then kill the process.
	time.Sleep(30 * time.Millisecond)
	before := hc.probeCount("a")
	fm.setAlive("a", false)
	time.Sleep(60 * time.Millisecond)

	// The dead window must not have issued HTTP probes: the restart went
	// straight through the liveness failure. After restart the service is
	// alive again and probes resume.
	st, _ := reg.Snapshot("a")
	if st.RestartCount < 1 {
		t.Fatalf("expected at least one restart, got %d", st.RestartCount)
	}
	if before == 0 {
		t.Fatal("expected probes while healthy")
	}
	cancel()
	<-done
}

func TestHealthyResetsConsecutiveFailures(t *testing.T) {
	fc := testConfig("a")
	fc.Monitor.Interval = 10 * time.Millisecond
	o, _, hc, reg := newTestOrchestrator(fc)
	o.pol.Base = time.Hour // never actually restart during the test

	hc.setVerdict("a", health.VerdictUnhealthy)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	st, _ := reg.Snapshot("a")
	if st.ConsecutiveFailures == 0 {
		t.Fatal("failures should have accumulated")
	}
	hc.setVerdict("a", health.VerdictHealthy)
	time.Sleep(40 * time.Millisecond)
	st, _ = reg.Snapshot("a")
	if st.ConsecutiveFailures != 0 {
		t.Fatalf("healthy verdict must reset failures, got %d", st.ConsecutiveFailures)
	}
	if st.LastHealth != registry.HealthHealthy {
		t.Fatalf("last health = %v, want healthy", st.LastHealth)
	}
	cancel()
	<-done
}

func TestExternalServiceNeverStoppedOrRestarted(t *testing.T) {
	fc := testConfig("ext")
	fc.Monitor.Interval = 10 * time.Millisecond
	o, fm, hc, _ := newTestOrchestrator(fc)
	o.pol.Base = time.Millisecond
	fm.external["ext"] = true
	hc.setVerdict("ext", health.VerdictUnhealthy)

	if err := runFor(t, o, 80*time.Millisecond); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(fm.stopOrder()) != 0 {
		t.Fatalf("external service must never be stopped, got stops %v", fm.stopOrder())
	}
	// Registry is emptied at final shutdown, so inspect counters via starts:
	// only the initial discovery, no restart cycles.
	if got := fm.startOrder(); len(got) != 1 {
		t.Fatalf("external service must not be restarted, start calls: %v", got)
	}
}

func TestRestartSpacingFollowsBackoffSchedule(t *testing.T) {
	fc := testConfig("a")
	fc.Monitor.Interval = 10 * time.Millisecond
	o, fm, hc, _ := newTestOrchestrator(fc)
	o.pol.Base = 50 * time.Millisecond
	o.pol.Max = 400 * time.Millisecond
	hc.setVerdict("a", health.VerdictUnreachable)

	if err := runFor(t, o, 1200*time.Millisecond); err != nil {
		t.Fatalf("run: %v", err)
	}

	// A permanently unreachable service restarts on the doubling schedule:
	// with base 50ms the gaps run ~50, 100, 200, 400ms, so well over three
	// restarts fit in the window. Failed cycles observed while a restart is
	// pending must not inflate the delay toward the cap.
	times := fm.startTimes()
	if len(times) < 4 {
		t.Fatalf("expected at least 3 restarts in window, got %d starts", len(times)-1)
	}
	var gaps []time.Duration
	for i := 1; i < len(times); i++ {
		gaps = append(gaps, times[i].Sub(times[i-1]))
	}
	for i := 1; i < len(gaps); i++ {
		if gaps[i] <= gaps[i-1] && gaps[i-1] < o.pol.Max {
			t.Fatalf("restart gaps must grow until the cap, got %v", gaps)
		}
	}
	if gaps[1] > 350*time.Millisecond {
		t.Fatalf("second restart gap %v, want ~2x base; delay inflated past schedule (gaps %v)", gaps[1], gaps)
	}
}

func TestShutdownPreemptsBackoffWait(t *testing.T) {
	fc := testConfig("a")
	fc.Monitor.Interval = 10 * time.Millisecond
	o, fm, hc, _ := newTestOrchestrator(fc)
	o.pol.Base = time.Hour // backoff wait far longer than the test
	hc.setVerdict("a", health.VerdictUnreachable)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	// Wait until the failure has been observed and a restart is pending.
	time.Sleep(50 * time.Millisecond)
	start := time.Now()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown blocked behind backoff wait")
	}
	if time.Since(start) > time.Second {
		t.Fatal("shutdown took too long; backoff wait was not preempted")
	}
	// The pending restart must not have fired: only the initial start.
	if got := fm.startOrder(); len(got) != 1 {
		t.Fatalf("no restart may happen after shutdown, start calls: %v", got)
	}
}

func TestUnkillableServiceSurfacesError(t *testing.T) {
	fc := testConfig("a", "b")
	o, fm, hc, _ := newTestOrchestrator(fc)
	hc.setVerdict("a", health.VerdictHealthy)
	hc.setVerdict("b", health.VerdictHealthy)
	sentinel := errors.New("stop a: process survived SIGKILL wait")
	fm.stopErr["a"] = sentinel

	err := runFor(t, o, 50*time.Millisecond)
	if !errors.Is(err, sentinel) {
		t.Fatalf("want unkillable error surfaced, got %v", err)
	}
	// b must still have been stopped despite a's failure.
	stops := fm.stopOrder()
	found := false
	for _, n := range stops {
		if n == "b" {
			found = true
		}
	}
	if !found {
		t.Fatalf("remaining services must still stop, got %v", stops)
	}
}

func TestPhaseStrings(t *testing.T) {
	want := map[Phase]string{
		PhaseInitializing: "initializing",
		PhaseStarting:     "starting_services",
		PhaseMonitoring:   "monitoring",
		PhaseShuttingDown: "shutting_down",
		PhaseStopped:      "stopped",
	}
	for p, s := range want {
		if p.String() != s {
			t.Fatalf("Phase(%d).String() = %q, want %q", p, p.String(), s)
		}
	}
}
